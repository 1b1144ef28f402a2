package contract

import (
	"fmt"
	"sort"
	"strings"
)

// Diff is the structural difference between two contract versions, keyed by
// (path, method). Endpoint ids are ignored: providers may regenerate them on
// every extraction.
type Diff struct {
	Added    []Endpoint
	Removed  []Endpoint
	Modified []EndpointChange
}

// EndpointChange is an endpoint present in both versions with differing
// content. Fields names what changed (parameters, response, status).
type EndpointChange struct {
	Endpoint Endpoint
	Fields   []string
}

// HasChanges reports whether the diff contains any change at all.
func (d *Diff) HasChanges() bool {
	return len(d.Added) > 0 || len(d.Removed) > 0 || len(d.Modified) > 0
}

// Descriptions renders the diff as human-readable change lines, sorted for
// deterministic output.
func (d *Diff) Descriptions() []string {
	var out []string
	for _, ep := range d.Added {
		out = append(out, fmt.Sprintf("Added: %s %s", strings.ToUpper(ep.Method), ep.Path))
	}
	for _, ep := range d.Removed {
		out = append(out, fmt.Sprintf("Removed: %s %s", strings.ToUpper(ep.Method), ep.Path))
	}
	for _, mc := range d.Modified {
		out = append(out, fmt.Sprintf("Modified: %s %s (%s)",
			strings.ToUpper(mc.Endpoint.Method), mc.Endpoint.Path, strings.Join(mc.Fields, ", ")))
	}
	sort.Strings(out)
	return out
}

// ComputeDiff compares two contracts endpoint by endpoint. A nil old contract
// means first sync: every endpoint in new is reported as added.
func ComputeDiff(old, new *Contract) *Diff {
	d := &Diff{}

	if old == nil {
		d.Added = append(d.Added, new.Endpoints...)
		return d
	}

	oldByKey := old.EndpointsByKey()
	newByKey := new.EndpointsByKey()

	for _, ep := range new.Endpoints {
		if _, ok := oldByKey[ep.Key()]; !ok {
			d.Added = append(d.Added, ep)
		}
	}
	for _, ep := range old.Endpoints {
		if _, ok := newByKey[ep.Key()]; !ok {
			d.Removed = append(d.Removed, ep)
		}
	}
	for _, ep := range new.Endpoints {
		oldEp, ok := oldByKey[ep.Key()]
		if !ok {
			continue
		}
		if fields := changedFields(oldEp, ep); len(fields) > 0 {
			d.Modified = append(d.Modified, EndpointChange{Endpoint: ep, Fields: fields})
		}
	}

	return d
}

// changedFields compares the content of two endpoints sharing a key.
// Consumers, source location, and ids are excluded: they are bookkeeping,
// not API surface.
func changedFields(old, new Endpoint) []string {
	var fields []string
	if !equalParameters(old.Parameters, new.Parameters) {
		fields = append(fields, "parameters")
	}
	if old.Response != new.Response {
		fields = append(fields, "response")
	}
	if old.Status != new.Status {
		fields = append(fields, "status")
	}
	return fields
}

// equalParameters compares parameter lists by name, type, required, and
// location, order-insensitively.
func equalParameters(a, b []Parameter) bool {
	if len(a) != len(b) {
		return false
	}
	index := make(map[string]Parameter, len(a))
	for _, p := range a {
		index[p.Name] = p
	}
	for _, p := range b {
		q, ok := index[p.Name]
		if !ok {
			return false
		}
		if q.Type != p.Type || q.Required != p.Required || q.Location != p.Location {
			return false
		}
	}
	return true
}
