package drift

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// APICall is an outbound HTTP call site found in consumer source. Extracted
// during scanning, never persisted.
type APICall struct {
	Method      string
	Path        string
	FilePath    string
	LineNumber  int // 1-based
	QueryParams []string
}

func (c APICall) String() string {
	return fmt.Sprintf("%s %s at %s:%d", c.Method, c.Path, c.FilePath, c.LineNumber)
}

// Location renders the call site as file:line.
func (c APICall) Location() string {
	return fmt.Sprintf("%s:%d", c.FilePath, c.LineNumber)
}

var httpVerbs = map[string]string{
	"Get":    "GET",
	"Post":   "POST",
	"Put":    "PUT",
	"Delete": "DELETE",
	"Patch":  "PATCH",
	"Head":   "HEAD",
	// net/http convenience helper
	"PostForm": "POST",
}

// FindAPICalls scans source files under root matching the given doublestar
// patterns and extracts HTTP call sites. Files that fail to parse are
// skipped: extraction prefers false negatives over false positives.
func FindAPICalls(root string, patterns []string) ([]APICall, error) {
	if len(patterns) == 0 {
		patterns = []string{"**/*.go"}
	}

	if root == "" {
		root = "."
	}
	seen := make(map[string]bool)
	var files []string
	fsys := os.DirFS(root)
	for _, pattern := range patterns {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, fmt.Errorf("bad scan pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			if seen[m] || skipFile(m) {
				continue
			}
			seen[m] = true
			files = append(files, m)
		}
	}
	sort.Strings(files)

	var calls []APICall
	for _, rel := range files {
		fileCalls, err := extractFromFile(filepath.Join(root, rel), rel)
		if err != nil {
			continue
		}
		calls = append(calls, fileCalls...)
	}
	return calls, nil
}

func skipFile(rel string) bool {
	if !strings.HasSuffix(rel, ".go") || strings.HasSuffix(rel, "_test.go") {
		return true
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		switch part {
		case "vendor", "testdata", ".git":
			return true
		}
	}
	return false
}

// extractFromFile parses one Go source file and walks its AST for HTTP
// client call shapes.
func extractFromFile(path, rel string) ([]APICall, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, 0)
	if err != nil {
		return nil, err
	}

	var calls []APICall
	ast.Inspect(file, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		if extracted, ok := parseCall(call, fset, rel); ok {
			calls = append(calls, extracted)
		}
		return true
	})
	return calls, nil
}

// parseCall recognizes two shapes: a verb-named method call whose first
// argument resolves to a URL (client.Get, http.Post, ...), and
// http.NewRequest / NewRequestWithContext with an explicit method argument.
func parseCall(call *ast.CallExpr, fset *token.FileSet, rel string) (APICall, bool) {
	sel, ok := call.Fun.(*ast.SelectorExpr)
	if !ok {
		return APICall{}, false
	}

	var method string
	var urlArg ast.Expr

	switch sel.Sel.Name {
	case "NewRequest", "NewRequestWithContext":
		args := call.Args
		if sel.Sel.Name == "NewRequestWithContext" {
			if len(args) < 3 {
				return APICall{}, false
			}
			args = args[1:]
		}
		if len(args) < 2 {
			return APICall{}, false
		}
		m, ok := stringLiteral(args[0])
		if !ok {
			return APICall{}, false
		}
		method = strings.ToUpper(m)
		urlArg = args[1]
	default:
		verb, ok := httpVerbs[sel.Sel.Name]
		if !ok || len(call.Args) == 0 {
			return APICall{}, false
		}
		method = verb
		urlArg = call.Args[0]
	}

	url, ok := resolveURL(urlArg)
	if !ok {
		// Runtime-built path; skip rather than misreport.
		return APICall{}, false
	}
	if !looksLikeURL(url) {
		return APICall{}, false
	}

	path, params := splitURL(url)
	return APICall{
		Method:      method,
		Path:        path,
		FilePath:    filepath.ToSlash(rel),
		LineNumber:  fset.Position(call.Pos()).Line,
		QueryParams: params,
	}, true
}

// resolveURL statically evaluates the URL expression. Supported forms:
// string literal, + concatenation of resolvable parts, and fmt.Sprintf with
// a literal format string (format verbs become {} placeholder segments).
func resolveURL(expr ast.Expr) (string, bool) {
	switch e := expr.(type) {
	case *ast.BasicLit:
		return stringLiteral(e)
	case *ast.BinaryExpr:
		if e.Op != token.ADD {
			return "", false
		}
		left, okL := resolveURL(e.X)
		right, okR := resolveURL(e.Y)
		if okL && okR {
			return left + right, true
		}
		// A trailing dynamic component still leaves a usable prefix when it
		// forms its own path segment.
		if okL && strings.HasSuffix(left, "/") {
			return left + "{}", true
		}
		return "", false
	case *ast.CallExpr:
		return resolveSprintf(e)
	}
	return "", false
}

func resolveSprintf(call *ast.CallExpr) (string, bool) {
	sel, ok := call.Fun.(*ast.SelectorExpr)
	if !ok || sel.Sel.Name != "Sprintf" {
		return "", false
	}
	ident, ok := sel.X.(*ast.Ident)
	if !ok || ident.Name != "fmt" || len(call.Args) == 0 {
		return "", false
	}
	format, ok := stringLiteral(call.Args[0])
	if !ok {
		return "", false
	}
	return substituteVerbs(format), true
}

// substituteVerbs replaces printf verbs with the anonymous placeholder so
// "/users/%d/posts" becomes "/users/{}/posts".
func substituteVerbs(format string) string {
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			b.WriteByte(format[i])
			continue
		}
		if i+1 < len(format) && format[i+1] == '%' {
			b.WriteByte('%')
			i++
			continue
		}
		// Consume flags/width up to the verb character.
		j := i + 1
		for j < len(format) && strings.ContainsRune("+-# 0123456789.", rune(format[j])) {
			j++
		}
		if j < len(format) {
			b.WriteString("{}")
			i = j
		}
	}
	return b.String()
}

func stringLiteral(expr ast.Expr) (string, bool) {
	lit, ok := expr.(*ast.BasicLit)
	if !ok || lit.Kind != token.STRING {
		return "", false
	}
	s, err := strconv.Unquote(lit.Value)
	if err != nil {
		return "", false
	}
	return s, true
}

// looksLikeURL filters out non-URL string arguments (cache keys, map keys)
// that happen to be passed to verb-named methods.
func looksLikeURL(s string) bool {
	return strings.HasPrefix(s, "/") || strings.Contains(s, "://")
}

// splitURL reduces a full or partial URL to its path and query keys.
func splitURL(url string) (string, []string) {
	if i := strings.Index(url, "://"); i >= 0 {
		rest := url[i+3:]
		if j := strings.Index(rest, "/"); j >= 0 {
			url = rest[j:]
		} else {
			url = "/"
		}
	}

	url, _, _ = strings.Cut(url, "#")
	var params []string
	var query string
	if url, query, _ = strings.Cut(url, "?"); query != "" {
		for _, pair := range strings.Split(query, "&") {
			key, _, _ := strings.Cut(pair, "=")
			if key != "" && key != "{}" {
				params = append(params, key)
			}
		}
	}

	if !strings.HasPrefix(url, "/") {
		url = "/" + url
	}
	return url, params
}
