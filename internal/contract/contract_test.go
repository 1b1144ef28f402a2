package contract

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleContract = `
version: "1.0"
repo_id: user-service
role: provider
last_updated: "2026-08-01T10:00:00Z"
endpoints:
  - id: get_user
    path: /api/users/{user_id}
    method: GET
    parameters:
      - name: user_id
        type: int
        required: true
        location: path
    response:
      status: 200
      model: User
  - id: list_users
    path: /api/users
    method: GET
    response:
      status: 200
models:
  User:
    name: User
    fields:
      - name: id
        type: int
      - name: email
        type: str
`

func TestParseValidContract(t *testing.T) {
	c, err := Parse([]byte(sampleContract))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}

	if c.RepoID != "user-service" {
		t.Errorf("expected repo_id user-service, got %s", c.RepoID)
	}
	if len(c.Endpoints) != 2 {
		t.Fatalf("expected 2 endpoints, got %d", len(c.Endpoints))
	}
	if c.Endpoints[0].Parameters[0].Name != "user_id" {
		t.Errorf("expected parameter user_id, got %s", c.Endpoints[0].Parameters[0].Name)
	}
	if c.Models["User"].Fields[1].Type != "str" {
		t.Errorf("expected email field type str, got %s", c.Models["User"].Fields[1].Type)
	}
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	_, err := Parse([]byte("version: [unclosed"))
	if err == nil {
		t.Fatal("expected parse error")
	}
	if _, ok := err.(*ParseError); !ok {
		t.Errorf("expected *ParseError, got %T", err)
	}
}

func TestParseRejectsMissingFields(t *testing.T) {
	_, err := Parse([]byte("role: provider\n"))
	if err == nil {
		t.Fatal("expected validation error")
	}

	verr, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	joined := strings.Join(verr.Problems, "; ")
	for _, want := range []string{"version", "repo_id", "endpoints or models"} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected problem mentioning %q, got %q", want, joined)
		}
	}
}

func TestParseMergesDuplicateEndpoints(t *testing.T) {
	data := `
version: "1.0"
repo_id: user-service
endpoints:
  - id: a
    path: /api/users/{id}
    method: GET
    consumers: [web-app]
  - id: b
    path: /api/users/{user_id}
    method: get
    consumers: [admin-panel, web-app]
`
	c, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(c.Endpoints) != 1 {
		t.Fatalf("expected duplicates merged to 1 endpoint, got %d", len(c.Endpoints))
	}
	ep := c.Endpoints[0]
	if ep.ID != "a" {
		t.Errorf("expected first occurrence kept, got id %s", ep.ID)
	}
	if len(ep.Consumers) != 2 {
		t.Errorf("expected consumers unioned to 2, got %v", ep.Consumers)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	c, err := Parse([]byte(sampleContract))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	path := filepath.Join(t.TempDir(), "contracts", "user-service-api.yaml")
	if err := c.Save(path); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.RepoID != c.RepoID {
		t.Errorf("repo_id mismatch: %s vs %s", loaded.RepoID, c.RepoID)
	}
	if len(loaded.Endpoints) != len(c.Endpoints) {
		t.Errorf("endpoint count mismatch: %d vs %d", len(loaded.Endpoints), len(c.Endpoints))
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	c, err := Parse([]byte(sampleContract))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "cache.yaml")
	if err := c.Save(path); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	// Overwrite to exercise the rename-over path too.
	if err := c.Save(path); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "cache.yaml" {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Errorf("expected only cache.yaml, got %v", names)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadErrorCarriesPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("role: provider\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), path) {
		t.Errorf("expected error to mention %s, got %q", path, err.Error())
	}
}

func TestFindUsesNormalizedKey(t *testing.T) {
	c, err := Parse([]byte(sampleContract))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Placeholder name and method case don't matter for identity.
	ep, ok := c.Find(EndpointKey{Path: "/api/users/{}", Method: "GET"})
	if !ok {
		t.Fatal("expected to find /api/users/{} GET")
	}
	if ep.ID != "get_user" {
		t.Errorf("expected get_user, got %s", ep.ID)
	}
}
