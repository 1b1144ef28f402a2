package contract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Contract describes a provider's API surface: endpoints plus data models.
// Instances are never mutated after construction; a sync replaces the cached
// contract wholesale and diffs always compare two distinct instances.
type Contract struct {
	Version     string           `yaml:"version"`
	RepoID      string           `yaml:"repo_id"`
	Role        string           `yaml:"role"`
	LastUpdated string           `yaml:"last_updated"`
	Endpoints   []Endpoint       `yaml:"endpoints"`
	Models      map[string]Model `yaml:"models,omitempty"`
}

// Endpoint is a single API endpoint within a contract.
type Endpoint struct {
	ID           string       `yaml:"id"`
	Path         string       `yaml:"path"`
	Method       string       `yaml:"method"`
	Status       string       `yaml:"status,omitempty"`
	SourceFile   string       `yaml:"source_file,omitempty"`
	FunctionName string       `yaml:"function_name,omitempty"`
	Parameters   []Parameter  `yaml:"parameters,omitempty"`
	Response     ResponseSpec `yaml:"response,omitempty"`
	Consumers    []string     `yaml:"consumers,omitempty"`
}

// Parameter describes one endpoint parameter.
type Parameter struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Required bool   `yaml:"required"`
	Location string `yaml:"location"` // path, query, body
	Default  string `yaml:"default,omitempty"`
}

// ResponseSpec describes the expected response of an endpoint.
type ResponseSpec struct {
	Status      int    `yaml:"status,omitempty"`
	Model       string `yaml:"model,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// Model is a named data schema referenced by endpoints.
type Model struct {
	Name   string  `yaml:"name"`
	Fields []Field `yaml:"fields,omitempty"`
}

// Field is a single field of a data model.
type Field struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// ParseError indicates a malformed contract file. It is never retried.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("parsing contract %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("parsing contract: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError indicates a contract missing required fields.
type ValidationError struct {
	Path     string
	Problems []string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid contract: %s", strings.Join(e.Problems, "; "))
	if e.Path != "" {
		msg = fmt.Sprintf("invalid contract %s: %s", e.Path, strings.Join(e.Problems, "; "))
	}
	return msg
}

// Parse decodes a contract from YAML and validates required fields.
// Endpoints sharing a (path, method) key are merged, not duplicated.
func Parse(data []byte) (*Contract, error) {
	var c Contract
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, &ParseError{Err: err}
	}

	if problems := c.validate(); len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}

	c.Endpoints = mergeDuplicates(c.Endpoints)
	return &c, nil
}

// Load reads and parses a contract file. Parse and validation errors carry
// the file path.
func Load(path string) (*Contract, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading contract: %w", err)
	}

	c, err := Parse(data)
	if err != nil {
		switch e := err.(type) {
		case *ParseError:
			e.Path = path
		case *ValidationError:
			e.Path = path
		}
		return nil, err
	}
	return c, nil
}

// Save writes the contract atomically: a temp file in the destination
// directory is renamed over the target, so a crash mid-write never corrupts
// the previous cache.
func (c *Contract) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling contract: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".contract-*.yaml")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing contract: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing contract file: %w", err)
	}
	return nil
}

func (c *Contract) validate() []string {
	var problems []string
	if c.Version == "" {
		problems = append(problems, "version is required")
	}
	if c.RepoID == "" {
		problems = append(problems, "repo_id is required")
	}
	if len(c.Endpoints) == 0 && len(c.Models) == 0 {
		problems = append(problems, "at least one of endpoints or models is required")
	}
	return problems
}

// Endpoint lookup by normalized (path, method) key.
func (c *Contract) Find(key EndpointKey) (Endpoint, bool) {
	for _, ep := range c.Endpoints {
		if ep.Key() == key {
			return ep, true
		}
	}
	return Endpoint{}, false
}

// EndpointsByKey builds a key-indexed view of the contract's endpoints.
func (c *Contract) EndpointsByKey() map[EndpointKey]Endpoint {
	m := make(map[EndpointKey]Endpoint, len(c.Endpoints))
	for _, ep := range c.Endpoints {
		m[ep.Key()] = ep
	}
	return m
}

// mergeDuplicates collapses endpoints with the same (path, method) key,
// keeping the first occurrence and unioning consumer lists.
func mergeDuplicates(endpoints []Endpoint) []Endpoint {
	seen := make(map[EndpointKey]int, len(endpoints))
	out := make([]Endpoint, 0, len(endpoints))

	for _, ep := range endpoints {
		key := ep.Key()
		if i, ok := seen[key]; ok {
			out[i].Consumers = unionStrings(out[i].Consumers, ep.Consumers)
			continue
		}
		seen[key] = len(out)
		out = append(out, ep)
	}
	return out
}

func unionStrings(a, b []string) []string {
	set := make(map[string]bool, len(a))
	for _, s := range a {
		set[s] = true
	}
	for _, s := range b {
		if !set[s] {
			a = append(a, s)
			set[s] = true
		}
	}
	return a
}
