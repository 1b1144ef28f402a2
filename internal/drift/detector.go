// Package drift validates consumer API calls against cached provider
// contracts and reports mismatches as structured issues.
package drift

import (
	"fmt"
	"os"
	"strings"

	"github.com/everstacklabs/bridge/internal/config"
	"github.com/everstacklabs/bridge/internal/contract"
)

// Issue types.
const (
	TypeMissingEndpoint    = "missing_endpoint"
	TypeParameterMismatch  = "parameter_mismatch"
	TypeMethodMismatch     = "method_mismatch"
	TypeResponseMismatch   = "response_mismatch"
	TypeDeprecatedEndpoint = "deprecated_endpoint"
	TypeNotSynced          = "not_synced"
	TypeConfigurationError = "configuration_error"
	TypeInvalidContract    = "invalid_contract"
)

// Severities.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Issue is one detected mismatch between a consumer call site and the
// provider's contract. Purely a report value.
type Issue struct {
	Type       string
	Severity   string
	Dependency string
	Endpoint   string
	Method     string
	Location   string // file:line
	Message    string
	Suggestion string
}

// Report aggregates the issues for one dependency. OK is set explicitly for
// a checked-and-clean dependency so callers can tell "clean" from "not
// checked"; NotSynced marks a dependency with no cached contract.
type Report struct {
	Dependency string
	OK         bool
	NotSynced  bool
	Issues     []Issue
	Errors     int
	Warnings   int
}

// Detector scans consumer source and matches extracted calls against cached
// contracts. It only ever reads the cache.
type Detector struct {
	cfg  *config.Config
	root string

	// memoized per run: scanning source once serves every dependency
	calls       []APICall
	scanErr     error
	scannedOnce bool
}

// New creates a detector rooted at the consumer repository.
func New(cfg *config.Config, root string) *Detector {
	return &Detector{cfg: cfg, root: root}
}

// Detect checks a single dependency and returns its report.
func (d *Detector) Detect(name string) Report {
	dep, ok := d.cfg.Dependency(name)
	if !ok {
		return reportOf(name, Issue{
			Type:       TypeConfigurationError,
			Severity:   SeverityError,
			Dependency: name,
			Message:    fmt.Sprintf("dependency %q not found in configuration", name),
			Suggestion: "add it with 'bridge add-dependency'",
		})
	}

	cachePath := d.cachePath(dep)
	if _, err := os.Stat(cachePath); err != nil {
		r := reportOf(name, Issue{
			Type:       TypeNotSynced,
			Severity:   SeverityError,
			Dependency: name,
			Message:    fmt.Sprintf("no cached contract at %s", cachePath),
			Suggestion: fmt.Sprintf("run 'bridge sync %s' to fetch the contract", name),
		})
		r.NotSynced = true
		return r
	}

	c, err := contract.Load(cachePath)
	if err != nil {
		return reportOf(name, Issue{
			Type:       TypeInvalidContract,
			Severity:   SeverityError,
			Dependency: name,
			Message:    fmt.Sprintf("failed to load cached contract: %v", err),
			Suggestion: fmt.Sprintf("re-sync with 'bridge sync %s' or fix the cache file", name),
		})
	}

	calls, err := d.scan()
	if err != nil {
		return reportOf(name, Issue{
			Type:       TypeConfigurationError,
			Severity:   SeverityError,
			Dependency: name,
			Message:    fmt.Sprintf("scanning consumer source: %v", err),
			Suggestion: "check scan_patterns in the bridge configuration",
		})
	}

	var issues []Issue
	for _, call := range calls {
		if issue, ok := checkCall(call, name, c); ok {
			issues = append(issues, issue)
		}
	}

	return buildReport(name, issues)
}

// DetectAll checks every configured dependency. Dependencies without a cache
// appear as not_synced reports, never silently skipped.
func (d *Detector) DetectAll() []Report {
	names := d.cfg.DependencyNames()
	reports := make([]Report, 0, len(names))
	for _, name := range names {
		reports = append(reports, d.Detect(name))
	}
	return reports
}

func (d *Detector) scan() ([]APICall, error) {
	if !d.scannedOnce {
		d.calls, d.scanErr = FindAPICalls(d.root, d.cfg.ScanPatterns)
		d.scannedOnce = true
	}
	return d.calls, d.scanErr
}

func (d *Detector) cachePath(dep config.Dependency) string {
	if dep.LocalCache != "" {
		return dep.LocalCache
	}
	return d.cfg.CacheFileFor(dep.Name)
}

type compiledEndpoint struct {
	endpoint contract.Endpoint
	segments []contract.Segment
	method   string
}

// checkCall matches one call site against the contract. Returns the issue
// and true when the call drifts; a clean match returns false.
func checkCall(call APICall, dependency string, c *contract.Contract) (Issue, bool) {
	// Compile per contract; contracts are small enough that doing this per
	// call batch would be premature to cache globally.
	compiled := make([]compiledEndpoint, len(c.Endpoints))
	for i, ep := range c.Endpoints {
		compiled[i] = compiledEndpoint{
			endpoint: ep,
			segments: contract.CompilePath(ep.Path),
			method:   strings.ToUpper(ep.Method),
		}
	}

	var pathMatch *compiledEndpoint
	for i := range compiled {
		ce := &compiled[i]
		if !contract.MatchPath(ce.segments, call.Path) {
			continue
		}
		if ce.method == call.Method {
			return checkMatched(call, dependency, ce.endpoint)
		}
		pathMatch = ce
	}

	if pathMatch != nil {
		return Issue{
			Type:       TypeMethodMismatch,
			Severity:   SeverityError,
			Dependency: dependency,
			Endpoint:   call.Path,
			Method:     call.Method,
			Location:   call.Location(),
			Message: fmt.Sprintf("path %s exists in contract but method is %s, not %s",
				call.Path, pathMatch.method, call.Method),
			Suggestion: fmt.Sprintf("use %s %s", pathMatch.method, pathMatch.endpoint.Path),
		}, true
	}

	suggestion := "sync the latest contract or remove this API call"
	if nearest := c.NearestPaths(call.Path, 3); len(nearest) > 0 {
		suggestion = "did you mean: " + strings.Join(nearest, ", ")
	}
	return Issue{
		Type:       TypeMissingEndpoint,
		Severity:   SeverityError,
		Dependency: dependency,
		Endpoint:   call.Path,
		Method:     call.Method,
		Location:   call.Location(),
		Message: fmt.Sprintf("API call %s %s does not match any endpoint in the contract",
			call.Method, call.Path),
		Suggestion: suggestion,
	}, true
}

// checkMatched inspects a path+method match for deprecation and parameter
// drift.
func checkMatched(call APICall, dependency string, ep contract.Endpoint) (Issue, bool) {
	if strings.EqualFold(ep.Status, "deprecated") {
		return Issue{
			Type:       TypeDeprecatedEndpoint,
			Severity:   SeverityWarning,
			Dependency: dependency,
			Endpoint:   call.Path,
			Method:     call.Method,
			Location:   call.Location(),
			Message:    fmt.Sprintf("endpoint %s %s is deprecated", call.Method, ep.Path),
			Suggestion: "migrate to the endpoint's documented replacement",
		}, true
	}

	known := make(map[string]bool, len(ep.Parameters))
	for _, p := range ep.Parameters {
		known[p.Name] = true
	}
	var unknown []string
	for _, param := range call.QueryParams {
		if !known[param] {
			unknown = append(unknown, param)
		}
	}
	if len(unknown) > 0 {
		return Issue{
			Type:       TypeParameterMismatch,
			Severity:   SeverityWarning,
			Dependency: dependency,
			Endpoint:   call.Path,
			Method:     call.Method,
			Location:   call.Location(),
			Message: fmt.Sprintf("call passes parameters not in the contract: %s",
				strings.Join(unknown, ", ")),
			Suggestion: fmt.Sprintf("check the parameter list for %s %s", call.Method, ep.Path),
		}, true
	}

	return Issue{}, false
}

func reportOf(dependency string, issues ...Issue) Report {
	return buildReport(dependency, issues)
}

func buildReport(dependency string, issues []Issue) Report {
	r := Report{Dependency: dependency, Issues: issues, OK: len(issues) == 0}
	for _, issue := range issues {
		switch issue.Severity {
		case SeverityError:
			r.Errors++
		case SeverityWarning:
			r.Warnings++
		}
	}
	return r
}

// MatchedEndpoints pairs each extracted call with the contract endpoint it
// matches, used by the sync engine to record consumer expectations.
func MatchedEndpoints(calls []APICall, c *contract.Contract) map[string][]APICall {
	matched := make(map[string][]APICall)
	for _, ep := range c.Endpoints {
		segs := contract.CompilePath(ep.Path)
		method := strings.ToUpper(ep.Method)
		key := method + " " + ep.Path
		for _, call := range calls {
			if call.Method == method && contract.MatchPath(segs, call.Path) {
				matched[key] = append(matched[key], call)
			}
		}
	}
	return matched
}
