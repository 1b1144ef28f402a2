package expectation

import (
	"path/filepath"
	"testing"
)

func TestAddCreatesAndDeduplicates(t *testing.T) {
	r := &Record{Dependency: "user-service"}

	r.Add("GET /api/users/{id}", "internal/client/users.go:42")
	r.Add("GET /api/users/{id}", "internal/client/users.go:42")
	r.Add("GET /api/users/{id}", "internal/client/users.go:88")
	r.Add("POST /api/users", "internal/client/users.go:120")

	if len(r.Expectations) != 2 {
		t.Fatalf("expected 2 expectations, got %d", len(r.Expectations))
	}
	var get Expectation
	for _, exp := range r.Expectations {
		if exp.Endpoint == "GET /api/users/{id}" {
			get = exp
		}
	}
	if len(get.UsageLocations) != 2 {
		t.Errorf("expected 2 deduplicated locations, got %v", get.UsageLocations)
	}
	if get.Status != StatusUsing {
		t.Errorf("expected status %q, got %q", StatusUsing, get.Status)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	r := &Record{Dependency: "user-service"}
	r.Add("POST /api/users", "cmd/web/signup.go:31")
	r.Add("GET /api/users/{id}", "internal/client/users.go:42")

	path := filepath.Join(t.TempDir(), "records", "user-service-expectations.yaml")
	if err := r.Save(path); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Dependency != "user-service" {
		t.Errorf("expected dependency user-service, got %s", loaded.Dependency)
	}
	if loaded.LastUpdated == "" {
		t.Error("expected last_updated set on save")
	}
	if len(loaded.Expectations) != 2 {
		t.Fatalf("expected 2 expectations, got %d", len(loaded.Expectations))
	}
	// Save sorts by endpoint for stable diffs.
	if loaded.Expectations[0].Endpoint != "GET /api/users/{id}" {
		t.Errorf("expected sorted expectations, got %s first", loaded.Expectations[0].Endpoint)
	}
}

func TestLoadMissingFileIsEmptyRecord(t *testing.T) {
	r, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file should not be an error: %v", err)
	}
	if len(r.Expectations) != 0 {
		t.Errorf("expected empty record, got %d expectations", len(r.Expectations))
	}
}

func TestByConsumer(t *testing.T) {
	bc := make(ByConsumer)

	web := &Record{Dependency: "user-service"}
	web.Add("GET /api/users/{id}", "a.go:1")
	admin := &Record{Dependency: "user-service"}
	admin.Add("GET /api/users/{id}", "b.go:1")
	admin.Add("DELETE /api/users/{id}", "b.go:9")

	bc.Accumulate("web-app", web)
	bc.Accumulate("admin-panel", admin)

	got := bc.ConsumersOf("GET /api/users/{id}")
	if len(got) != 2 || got[0] != "admin-panel" || got[1] != "web-app" {
		t.Errorf("expected sorted consumers [admin-panel web-app], got %v", got)
	}
	if got := bc.ConsumersOf("DELETE /api/users/{id}"); len(got) != 1 || got[0] != "admin-panel" {
		t.Errorf("expected only admin-panel, got %v", got)
	}
}

func TestAccumulateReplacesEarlierSubmission(t *testing.T) {
	bc := make(ByConsumer)

	first := &Record{}
	first.Add("GET /old", "a.go:1")
	bc.Accumulate("web-app", first)

	second := &Record{}
	second.Add("GET /new", "a.go:1")
	bc.Accumulate("web-app", second)

	if got := bc.ConsumersOf("GET /old"); len(got) != 0 {
		t.Errorf("expected stale expectation replaced, got %v", got)
	}
	if got := bc.ConsumersOf("GET /new"); len(got) != 1 {
		t.Errorf("expected new expectation present, got %v", got)
	}
}
