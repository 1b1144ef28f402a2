package contract

import (
	"strings"
)

// Segment is one element of a compiled path template. A placeholder segment
// ({id}, {user_id}, ...) matches any single non-empty path segment.
type Segment struct {
	Literal     string
	Placeholder bool
}

// EndpointKey identifies an endpoint by normalized path and upper-cased
// method. Placeholder names are erased so /users/{id} and /users/{user_id}
// produce the same key.
type EndpointKey struct {
	Path   string
	Method string
}

func (k EndpointKey) String() string {
	return k.Method + " " + k.Path
}

// Key returns the endpoint's (path, method) identity used for diffing and
// matching. Provider-generated ids are not stable across extractions, so the
// key is derived from path and method only.
func (e Endpoint) Key() EndpointKey {
	return EndpointKey{Path: NormalizePath(e.Path), Method: strings.ToUpper(e.Method)}
}

// CompilePath splits a path template into segments, tagging each as literal
// or placeholder. Compiled once per contract so repeated matching stays cheap.
func CompilePath(path string) []Segment {
	parts := splitPath(path)
	segs := make([]Segment, len(parts))
	for i, p := range parts {
		if strings.HasPrefix(p, "{") && strings.HasSuffix(p, "}") {
			segs[i] = Segment{Placeholder: true}
		} else {
			segs[i] = Segment{Literal: p}
		}
	}
	return segs
}

// MatchPath reports whether a concrete call path matches a compiled template.
// Segment counts must be equal; each template segment either equals the call
// segment literally or is a placeholder matching any non-empty segment.
func MatchPath(template []Segment, callPath string) bool {
	parts := splitPath(callPath)
	if len(parts) != len(template) {
		return false
	}
	for i, seg := range template {
		if seg.Placeholder {
			if parts[i] == "" {
				return false
			}
			continue
		}
		if seg.Literal != parts[i] {
			return false
		}
	}
	return true
}

// NormalizePath rewrites every {name} segment to the anonymous placeholder
// {} so that path identity ignores parameter naming.
func NormalizePath(path string) string {
	parts := splitPath(path)
	for i, p := range parts {
		if strings.HasPrefix(p, "{") && strings.HasSuffix(p, "}") {
			parts[i] = "{}"
		}
	}
	return "/" + strings.Join(parts, "/")
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return []string{}
	}
	return strings.Split(trimmed, "/")
}

// NearestPaths returns up to n endpoint keys from the contract closest to
// path by edit distance, for "did you mean" suggestions.
func (c *Contract) NearestPaths(path string, n int) []string {
	type candidate struct {
		label string
		dist  int
	}

	norm := NormalizePath(path)
	var candidates []candidate
	for _, ep := range c.Endpoints {
		d := editDistance(norm, NormalizePath(ep.Path))
		candidates = append(candidates, candidate{
			label: strings.ToUpper(ep.Method) + " " + ep.Path,
			dist:  d,
		})
	}

	// Selection sort is fine for the handful of endpoints a contract holds.
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			if candidates[j].dist < candidates[i].dist {
				candidates[i], candidates[j] = candidates[j], candidates[i]
			}
		}
	}

	if n > len(candidates) {
		n = len(candidates)
	}
	out := make([]string, 0, n)
	for _, c := range candidates[:n] {
		out = append(out, c.label)
	}
	return out
}

// editDistance is the Levenshtein distance between two strings.
func editDistance(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
