// Package expectation persists which provider endpoints a consumer actually
// uses. Records are written next to the cached contract during sync and read
// back by the breaking-change analyzer on the provider side.
package expectation

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// StatusUsing marks an endpoint the consumer has live call sites for.
const StatusUsing = "using"

// Expectation records one endpoint the consumer depends on, with every call
// site that references it.
type Expectation struct {
	Endpoint       string   `yaml:"endpoint"` // "METHOD /path"
	Status         string   `yaml:"status"`
	UsageLocations []string `yaml:"usage_locations"` // "file:line"
}

// Record is the persisted expectation set for one dependency.
type Record struct {
	Dependency   string        `yaml:"dependency"`
	LastUpdated  string        `yaml:"last_updated"`
	Expectations []Expectation `yaml:"expectations"`
}

// Add merges a usage location into the record, creating the expectation
// entry if the endpoint is new. Locations are deduplicated.
func (r *Record) Add(endpoint, location string) {
	for i := range r.Expectations {
		if r.Expectations[i].Endpoint != endpoint {
			continue
		}
		for _, loc := range r.Expectations[i].UsageLocations {
			if loc == location {
				return
			}
		}
		r.Expectations[i].UsageLocations = append(r.Expectations[i].UsageLocations, location)
		return
	}
	r.Expectations = append(r.Expectations, Expectation{
		Endpoint:       endpoint,
		Status:         StatusUsing,
		UsageLocations: []string{location},
	})
}

// Save writes the record, sorted by endpoint for stable diffs.
func (r *Record) Save(path string) error {
	r.LastUpdated = time.Now().UTC().Format(time.RFC3339)
	sort.Slice(r.Expectations, func(i, j int) bool {
		return r.Expectations[i].Endpoint < r.Expectations[j].Endpoint
	})

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating expectations dir: %w", err)
	}
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshaling expectations: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing expectations: %w", err)
	}
	return nil
}

// Load reads an expectation record. A missing file is not an error: it means
// the consumer has recorded nothing yet.
func Load(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading expectations: %w", err)
	}

	var r Record
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing expectations %s: %w", path, err)
	}
	return &r, nil
}

// ByConsumer is the provider-side accumulated view: consumer identity to the
// endpoints that consumer expects.
type ByConsumer map[string][]Expectation

// Accumulate folds one consumer's record into the provider-side view,
// replacing any earlier submission from the same consumer.
func (bc ByConsumer) Accumulate(consumer string, r *Record) {
	bc[consumer] = append([]Expectation(nil), r.Expectations...)
}

// ConsumersOf returns the sorted names of consumers expecting the given
// endpoint key ("METHOD /path").
func (bc ByConsumer) ConsumersOf(endpoint string) []string {
	var names []string
	for consumer, exps := range bc {
		for _, exp := range exps {
			if exp.Endpoint == endpoint {
				names = append(names, consumer)
				break
			}
		}
	}
	sort.Strings(names)
	return names
}
