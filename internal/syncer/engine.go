// Package syncer orchestrates dependency contract synchronization: fetch,
// diff against the previous cache, persist, and report. It is the only
// component that writes the contract cache.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/everstacklabs/bridge/internal/config"
	"github.com/everstacklabs/bridge/internal/contract"
	"github.com/everstacklabs/bridge/internal/drift"
	"github.com/everstacklabs/bridge/internal/expectation"
	"github.com/everstacklabs/bridge/internal/fetch"
)

// MaxConcurrentSyncs caps parallel dependency syncs regardless of how many
// dependencies are configured, bounding git subprocess, file descriptor, and
// network pressure.
const MaxConcurrentSyncs = 5

// Progress statuses passed to the callback.
const (
	StatusStarting  = "starting"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ProgressFunc receives per-dependency sync lifecycle events. Invocations
// are serialized by the engine, so implementations need no locking.
type ProgressFunc func(dependency, status string)

// Result is the outcome of one sync attempt. Produced fresh per attempt.
type Result struct {
	DependencyName string
	Success        bool
	Changes        []string
	Errors         []string
	Hint           string
	EndpointCount  int
	CachedFile     string
	Timestamp      time.Time
}

// Engine synchronizes dependency contracts.
type Engine struct {
	cfg      *config.Config
	fetchers fetch.Registry
	root     string

	progressMu sync.Mutex
	progress   ProgressFunc

	scanOnce sync.Once
	calls    []drift.APICall
}

// Option configures the Engine.
type Option func(*Engine)

// WithProgress installs a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(e *Engine) { e.progress = fn }
}

// WithFetchers overrides the fetcher registry.
func WithFetchers(r fetch.Registry) Option {
	return func(e *Engine) { e.fetchers = r }
}

// WithRoot sets the repository root relative paths resolve against.
func WithRoot(root string) Option {
	return func(e *Engine) { e.root = root }
}

// New creates a sync engine for the given configuration.
func New(cfg *config.Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg,
		fetchers: fetch.NewRegistry(),
		root:     ".",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SyncOne synchronizes a single dependency: fetch, diff against the previous
// cache, persist atomically, and record consumer expectations. A fetch
// failure falls back to the existing cache per the configured offline policy.
func (e *Engine) SyncOne(ctx context.Context, name string) Result {
	dep, ok := e.cfg.Dependency(name)
	if !ok {
		return Result{
			DependencyName: name,
			Errors:         []string{fmt.Sprintf("dependency %q not found in configuration", name)},
			Hint:           "add it with 'bridge add-dependency'",
			Timestamp:      time.Now().UTC(),
		}
	}

	fetcher, err := e.fetchers.For(dep)
	if err != nil {
		return Result{
			DependencyName: name,
			Errors:         []string{err.Error()},
			Hint:           "set sync_method to one of: git, http, s3",
			Timestamp:      time.Now().UTC(),
		}
	}

	fetched, err := fetcher.Fetch(ctx, dep)
	if err != nil {
		return e.offlineFallback(dep, err)
	}

	cachePath := e.resolve(dep.LocalCache)

	// Previous cache is best-effort: a corrupt old file must not block the
	// sync that would repair it.
	var previous *contract.Contract
	if old, err := contract.Load(cachePath); err == nil {
		previous = old
	}

	result := Result{
		DependencyName: name,
		Success:        true,
		EndpointCount:  len(fetched.Endpoints),
		CachedFile:     cachePath,
		Timestamp:      time.Now().UTC(),
	}

	if err := e.recordExpectations(dep, fetched); err != nil {
		slog.Warn("recording consumer expectations failed",
			"dependency", name, "error", err)
		result.Errors = append(result.Errors, fmt.Sprintf("recording expectations: %v", err))
	}

	diff := contract.ComputeDiff(previous, fetched)
	result.Changes = diff.Descriptions()

	if err := fetched.Save(cachePath); err != nil {
		return Result{
			DependencyName: name,
			Errors:         []string{fmt.Sprintf("writing contract cache: %v", err)},
			Hint:           fmt.Sprintf("check permissions on %s", filepath.Dir(cachePath)),
			Timestamp:      time.Now().UTC(),
		}
	}

	return result
}

// SyncAll synchronizes every configured dependency under a bounded worker
// pool. One result per dependency, indexed deterministically; a failure in
// one sync never aborts or delays its siblings.
func (e *Engine) SyncAll(ctx context.Context) []Result {
	names := e.cfg.DependencyNames()
	results := make([]Result, len(names))

	sem := make(chan struct{}, MaxConcurrentSyncs)
	var wg sync.WaitGroup

	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[i] = timeoutResult(name, ctx.Err())
				return
			}
			if ctx.Err() != nil {
				results[i] = timeoutResult(name, ctx.Err())
				return
			}

			results[i] = e.syncWithProgress(ctx, name)
		}(i, name)
	}

	wg.Wait()
	return results
}

// syncWithProgress wraps SyncOne with lifecycle reporting and panic
// isolation so a misbehaving sync can never take down sibling tasks.
func (e *Engine) syncWithProgress(ctx context.Context, name string) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = Result{
				DependencyName: name,
				Errors:         []string{fmt.Sprintf("unexpected error during sync: %v", r)},
				Hint:           fmt.Sprintf("re-run 'bridge sync %s'", name),
				Timestamp:      time.Now().UTC(),
			}
			e.emit(name, StatusFailed)
		}
	}()

	e.emit(name, StatusStarting)
	result = e.SyncOne(ctx, name)
	if result.Success {
		e.emit(name, StatusCompleted)
	} else {
		e.emit(name, StatusFailed)
	}
	return result
}

func (e *Engine) emit(name, status string) {
	if e.progress == nil {
		return
	}
	e.progressMu.Lock()
	defer e.progressMu.Unlock()
	e.progress(name, status)
}

// offlineFallback resolves a fetch failure against the existing cache. With
// a usable cache and the degraded policy the sync still counts as a success,
// with the failure recorded as a warning; strict mode and a missing cache
// both fail.
func (e *Engine) offlineFallback(dep config.Dependency, fetchErr error) Result {
	cachePath := e.resolve(dep.LocalCache)
	result := Result{
		DependencyName: dep.Name,
		Errors:         []string{fetchErr.Error()},
		Timestamp:      time.Now().UTC(),
	}

	cached, err := contract.Load(cachePath)
	if err != nil {
		result.Hint = fmt.Sprintf("no cached contract available; check the source for dependency %s and re-run 'bridge sync %s'", dep.Name, dep.Name)
		return result
	}

	if strings.EqualFold(e.cfg.OfflineFallback, "strict") {
		result.Hint = fmt.Sprintf("a cached contract exists at %s; re-run 'bridge sync %s' once the source is reachable", cachePath, dep.Name)
		return result
	}

	result.Success = true
	result.EndpointCount = len(cached.Endpoints)
	result.CachedFile = cachePath
	result.Changes = []string{fmt.Sprintf("using cached contract (sync failed: %v)", fetchErr)}
	result.Hint = fmt.Sprintf("cache may be stale; re-run 'bridge sync %s' once the source is reachable", dep.Name)
	return result
}

// recordExpectations scans consumer source once per engine and persists
// which contract endpoints this repository actually calls, for provider-side
// breaking-change analysis.
func (e *Engine) recordExpectations(dep config.Dependency, c *contract.Contract) error {
	e.scanOnce.Do(func() {
		calls, err := drift.FindAPICalls(e.root, e.cfg.ScanPatterns)
		if err != nil {
			slog.Warn("consumer source scan failed", "error", err)
			return
		}
		e.calls = calls
	})

	record := &expectation.Record{Dependency: dep.Name}
	for key, calls := range drift.MatchedEndpoints(e.calls, c) {
		for _, call := range calls {
			record.Add(key, call.Location())
		}
	}

	return record.Save(e.resolve(e.cfg.ExpectationsFileFor(dep.Name)))
}

func (e *Engine) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(e.root, path)
}

func timeoutResult(name string, cause error) Result {
	return Result{
		DependencyName: name,
		Errors:         []string{fmt.Sprintf("sync timed out: %v", cause)},
		Hint:           fmt.Sprintf("re-run 'bridge sync %s' or raise the timeout", name),
		Timestamp:      time.Now().UTC(),
	}
}
