// Package breaking flags provider contract changes that affect recorded
// consumers. It reads accumulated consumer expectations; it never scans
// consumer code itself.
package breaking

import (
	"fmt"
	"sort"
	"strings"

	"github.com/everstacklabs/bridge/internal/contract"
	"github.com/everstacklabs/bridge/internal/expectation"
)

// Change types.
const (
	TypeEndpointRemoved  = "endpoint_removed"
	TypeEndpointModified = "endpoint_modified"
	TypeUnusedEndpoint   = "unused_endpoint"
)

// Severities.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// Change is one breaking-change finding for a provider contract.
type Change struct {
	Type              string
	Severity          string
	Endpoint          string
	Method            string
	Message           string
	AffectedConsumers []string
	Suggestion        string
}

// Detect compares two contract versions against accumulated consumer
// expectations. Removals with consumers are errors, modifications with
// consumers are warnings, and endpoints nobody uses are informational.
func Detect(old, new *contract.Contract, consumers expectation.ByConsumer) []Change {
	var changes []Change

	oldByKey := old.EndpointsByKey()
	newByKey := new.EndpointsByKey()

	oldKeys := sortedKeys(oldByKey)
	for _, key := range oldKeys {
		if _, ok := newByKey[key]; ok {
			continue
		}
		ep := oldByKey[key]
		affected := consumersOf(ep, consumers)
		if len(affected) == 0 {
			continue
		}
		changes = append(changes, Change{
			Type:     TypeEndpointRemoved,
			Severity: SeverityError,
			Endpoint: ep.Path,
			Method:   strings.ToUpper(ep.Method),
			Message: fmt.Sprintf("endpoint %s %s was removed but has active consumers",
				strings.ToUpper(ep.Method), ep.Path),
			AffectedConsumers: affected,
			Suggestion: fmt.Sprintf("consider deprecating instead of removing, or notify consumers: %s",
				strings.Join(affected, ", ")),
		})
	}

	for _, key := range oldKeys {
		newEp, ok := newByKey[key]
		if !ok {
			continue
		}
		oldEp := oldByKey[key]
		if !modified(oldEp, newEp) {
			continue
		}
		affected := consumersOf(oldEp, consumers)
		if len(affected) == 0 {
			continue
		}
		changes = append(changes, Change{
			Type:     TypeEndpointModified,
			Severity: SeverityWarning,
			Endpoint: oldEp.Path,
			Method:   strings.ToUpper(oldEp.Method),
			Message: fmt.Sprintf("endpoint %s %s was modified and has active consumers",
				strings.ToUpper(oldEp.Method), oldEp.Path),
			AffectedConsumers: affected,
			Suggestion: fmt.Sprintf("verify changes are backward compatible, or notify consumers: %s",
				strings.Join(affected, ", ")),
		})
	}

	for _, key := range sortedKeys(newByKey) {
		ep := newByKey[key]
		if len(consumersOf(ep, consumers)) > 0 {
			continue
		}
		changes = append(changes, Change{
			Type:     TypeUnusedEndpoint,
			Severity: SeverityInfo,
			Endpoint: ep.Path,
			Method:   strings.ToUpper(ep.Method),
			Message: fmt.Sprintf("endpoint %s %s has no recorded consumers",
				strings.ToUpper(ep.Method), ep.Path),
			Suggestion: "this endpoint may be safe to remove or deprecate",
		})
	}

	return changes
}

// modified reuses the diff's notion of endpoint change: parameters, response
// spec, or status. Consumers and source metadata never count.
func modified(old, new contract.Endpoint) bool {
	d := contract.ComputeDiff(
		&contract.Contract{Endpoints: []contract.Endpoint{old}},
		&contract.Contract{Endpoints: []contract.Endpoint{new}},
	)
	return len(d.Modified) > 0
}

// consumersOf unions the endpoint's own consumer annotations with the
// accumulated expectation records, matching on the normalized key so
// placeholder naming differences don't hide a consumer.
func consumersOf(ep contract.Endpoint, byConsumer expectation.ByConsumer) []string {
	set := make(map[string]bool)
	for _, c := range ep.Consumers {
		set[c] = true
	}

	key := ep.Key()
	for consumer, exps := range byConsumer {
		for _, exp := range exps {
			if normalizeExpectationKey(exp.Endpoint) == key {
				set[consumer] = true
				break
			}
		}
	}

	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// normalizeExpectationKey parses a recorded "METHOD /path" endpoint string
// into the same key form the contract uses.
func normalizeExpectationKey(s string) contract.EndpointKey {
	method, path, ok := strings.Cut(s, " ")
	if !ok {
		return contract.EndpointKey{}
	}
	return contract.EndpointKey{
		Method: strings.ToUpper(method),
		Path:   contract.NormalizePath(path),
	}
}

func sortedKeys(m map[contract.EndpointKey]contract.Endpoint) []contract.EndpointKey {
	keys := make([]contract.EndpointKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Path != keys[j].Path {
			return keys[i].Path < keys[j].Path
		}
		return keys[i].Method < keys[j].Method
	})
	return keys
}
