package breaking

import (
	"testing"

	"github.com/everstacklabs/bridge/internal/contract"
	"github.com/everstacklabs/bridge/internal/expectation"
)

func consumerRecord(endpoints ...string) *expectation.Record {
	r := &expectation.Record{}
	for _, ep := range endpoints {
		r.Add(ep, "client.go:1")
	}
	return r
}

func changesByType(changes []Change) map[string][]Change {
	m := make(map[string][]Change)
	for _, c := range changes {
		m[c.Type] = append(m[c.Type], c)
	}
	return m
}

func TestDetectRemovedEndpointWithConsumers(t *testing.T) {
	old := &contract.Contract{Endpoints: []contract.Endpoint{
		{Path: "/api/users/{id}", Method: "GET"},
		{Path: "/api/users", Method: "GET"},
	}}
	updated := &contract.Contract{Endpoints: []contract.Endpoint{
		{Path: "/api/users", Method: "GET"},
	}}

	consumers := make(expectation.ByConsumer)
	consumers.Accumulate("admin-panel", consumerRecord("GET /api/users/{id}", "GET /api/users"))
	consumers.Accumulate("web-app", consumerRecord("GET /api/users/{user_id}"))

	changes := changesByType(Detect(old, updated, consumers))

	removed := changes[TypeEndpointRemoved]
	if len(removed) != 1 {
		t.Fatalf("expected 1 removal, got %v", removed)
	}
	if removed[0].Severity != SeverityError {
		t.Errorf("removal with consumers must be an error, got %s", removed[0].Severity)
	}
	// web-app recorded the endpoint under a different placeholder name;
	// normalization must still attribute it.
	got := removed[0].AffectedConsumers
	if len(got) != 2 || got[0] != "admin-panel" || got[1] != "web-app" {
		t.Errorf("expected [admin-panel web-app], got %v", got)
	}
}

func TestDetectRemovedEndpointWithoutConsumersIsSilent(t *testing.T) {
	old := &contract.Contract{Endpoints: []contract.Endpoint{
		{Path: "/api/internal", Method: "GET"},
		{Path: "/api/users", Method: "GET"},
	}}
	updated := &contract.Contract{Endpoints: []contract.Endpoint{
		{Path: "/api/users", Method: "GET"},
	}}

	consumers := make(expectation.ByConsumer)
	consumers.Accumulate("web-app", consumerRecord("GET /api/users"))

	changes := changesByType(Detect(old, updated, consumers))
	if len(changes[TypeEndpointRemoved]) != 0 {
		t.Errorf("removing an unconsumed endpoint is not breaking: %v", changes[TypeEndpointRemoved])
	}
}

func TestDetectModifiedEndpointWithConsumers(t *testing.T) {
	old := &contract.Contract{Endpoints: []contract.Endpoint{{
		Path:   "/api/users",
		Method: "POST",
		Parameters: []contract.Parameter{
			{Name: "email", Type: "str", Required: true, Location: "body"},
		},
	}}}
	updated := &contract.Contract{Endpoints: []contract.Endpoint{{
		Path:   "/api/users",
		Method: "POST",
		Parameters: []contract.Parameter{
			{Name: "email", Type: "str", Required: true, Location: "body"},
			{Name: "age", Type: "int", Required: true, Location: "body"},
		},
	}}}

	consumers := make(expectation.ByConsumer)
	consumers.Accumulate("web-app", consumerRecord("POST /api/users"))

	changes := changesByType(Detect(old, updated, consumers))
	modified := changes[TypeEndpointModified]
	if len(modified) != 1 {
		t.Fatalf("expected 1 modification, got %v", modified)
	}
	if modified[0].Severity != SeverityWarning {
		t.Errorf("modification should be a warning, got %s", modified[0].Severity)
	}
	if len(modified[0].AffectedConsumers) != 1 || modified[0].AffectedConsumers[0] != "web-app" {
		t.Errorf("expected web-app affected, got %v", modified[0].AffectedConsumers)
	}
}

func TestDetectUnusedEndpoint(t *testing.T) {
	old := &contract.Contract{Endpoints: []contract.Endpoint{
		{Path: "/api/users", Method: "GET"},
	}}
	updated := &contract.Contract{Endpoints: []contract.Endpoint{
		{Path: "/api/users", Method: "GET"},
		{Path: "/api/metrics", Method: "GET"},
	}}

	consumers := make(expectation.ByConsumer)
	consumers.Accumulate("web-app", consumerRecord("GET /api/users"))

	changes := changesByType(Detect(old, updated, consumers))
	unused := changes[TypeUnusedEndpoint]
	if len(unused) != 1 || unused[0].Endpoint != "/api/metrics" {
		t.Fatalf("expected /api/metrics flagged unused, got %v", unused)
	}
	if unused[0].Severity != SeverityInfo {
		t.Errorf("unused endpoint is informational, got %s", unused[0].Severity)
	}
}

func TestDetectUsesContractConsumerAnnotations(t *testing.T) {
	old := &contract.Contract{Endpoints: []contract.Endpoint{
		{Path: "/api/reports", Method: "GET", Consumers: []string{"finance-dashboard"}},
	}}
	updated := &contract.Contract{Endpoints: []contract.Endpoint{}}

	changes := changesByType(Detect(old, updated, make(expectation.ByConsumer)))
	removed := changes[TypeEndpointRemoved]
	if len(removed) != 1 {
		t.Fatalf("expected removal flagged via contract annotation, got %v", removed)
	}
	if removed[0].AffectedConsumers[0] != "finance-dashboard" {
		t.Errorf("expected finance-dashboard, got %v", removed[0].AffectedConsumers)
	}
}

func TestDetectNoChanges(t *testing.T) {
	c := &contract.Contract{Endpoints: []contract.Endpoint{
		{Path: "/api/users", Method: "GET"},
	}}
	consumers := make(expectation.ByConsumer)
	consumers.Accumulate("web-app", consumerRecord("GET /api/users"))

	if changes := Detect(c, c, consumers); len(changes) != 0 {
		t.Errorf("identical contracts with consumed endpoints should be quiet: %v", changes)
	}
}
