// Package fetch retrieves dependency contracts from their declared sources.
// Git is the primary method; http and s3 sources are supported as well.
package fetch

import (
	"context"
	"fmt"

	"github.com/everstacklabs/bridge/internal/config"
	"github.com/everstacklabs/bridge/internal/contract"
)

// Reason classifies a fetch failure. Network failures are transient and
// retried; the rest are deterministic and surface immediately.
type Reason string

const (
	ReasonNetwork     Reason = "network"
	ReasonAuth        Reason = "auth"
	ReasonMissingFile Reason = "missing-file"
	ReasonInvalidURL  Reason = "invalid-url"
)

// Error is a classified fetch failure. Err carries the underlying transport
// error text verbatim so callers can render exactly what failed.
type Error struct {
	Reason     Reason
	Dependency string
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetching %s: %s: %v", e.Dependency, e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether retrying could help.
func (e *Error) Transient() bool { return e.Reason == ReasonNetwork }

// Fetcher retrieves a dependency's contract from its source. Implementations
// own any temporary state they create and release it on every exit path.
type Fetcher interface {
	Fetch(ctx context.Context, dep config.Dependency) (*contract.Contract, error)
}

// Registry maps sync methods to fetcher implementations.
type Registry map[string]Fetcher

// NewRegistry returns the default registry with git, http, and s3 fetchers.
func NewRegistry() Registry {
	return Registry{
		"git":  NewGitFetcher(),
		"http": NewHTTPFetcher(),
		"s3":   NewS3Fetcher(),
	}
}

// For selects the fetcher for a dependency's sync method.
func (r Registry) For(dep config.Dependency) (Fetcher, error) {
	f, ok := r[dep.SyncMethod]
	if !ok {
		return nil, fmt.Errorf("unsupported sync method %q for dependency %s", dep.SyncMethod, dep.Name)
	}
	return f, nil
}
