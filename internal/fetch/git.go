package fetch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/everstacklabs/bridge/internal/config"
	"github.com/everstacklabs/bridge/internal/contract"
)

// GitFetcher retrieves contracts by shallow-cloning the dependency's
// repository into a process-unique temporary directory.
type GitFetcher struct {
	maxRetries   uint64
	initialDelay time.Duration
}

// NewGitFetcher returns a git fetcher with the default retry policy:
// transient failures are retried up to 3 times with 1s/2s/4s backoff.
func NewGitFetcher() *GitFetcher {
	return &GitFetcher{maxRetries: 3, initialDelay: time.Second}
}

// Fetch clones the dependency repository (depth 1) and parses the configured
// contract path out of the working tree. The temporary clone directory is
// removed on every exit path.
func (f *GitFetcher) Fetch(ctx context.Context, dep config.Dependency) (*contract.Contract, error) {
	if _, err := transport.NewEndpoint(dep.GitURL); err != nil {
		return nil, &Error{Reason: ReasonInvalidURL, Dependency: dep.Name, Err: err}
	}

	tempDir, err := os.MkdirTemp("", "bridge-sync-")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	repoDir := filepath.Join(tempDir, "repo")

	op := func() error {
		if err := cloneOrPull(ctx, dep.GitURL, repoDir); err != nil {
			ferr := classifyGitError(dep.Name, err)
			if !ferr.Transient() {
				return backoff.Permanent(ferr)
			}
			return ferr
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = f.initialDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0

	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, f.maxRetries), ctx)); err != nil {
		return nil, err
	}

	contractFile := filepath.Join(repoDir, filepath.FromSlash(dep.ContractPath))
	if _, err := os.Stat(contractFile); err != nil {
		// Deterministic: the repo is reachable but the file is not there.
		return nil, &Error{
			Reason:     ReasonMissingFile,
			Dependency: dep.Name,
			Err:        fmt.Errorf("contract file not found: %s", dep.ContractPath),
		}
	}

	c, err := contract.Load(contractFile)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// cloneOrPull shallow-clones the repo, or pulls when a usable clone already
// sits at dir (retry attempts reuse the directory).
func cloneOrPull(ctx context.Context, url, dir string) error {
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		repo, err := git.PlainOpen(dir)
		if err == nil {
			wt, err := repo.Worktree()
			if err != nil {
				return err
			}
			err = wt.PullContext(ctx, &git.PullOptions{Depth: 1})
			if err == nil || errors.Is(err, git.NoErrAlreadyUpToDate) {
				return nil
			}
			return err
		}
		// Unusable leftover clone; start over.
		os.RemoveAll(dir)
	}

	_, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:          url,
		Depth:        1,
		SingleBranch: true,
	})
	return err
}

// classifyGitError maps go-git transport errors onto the fetch taxonomy,
// preserving the underlying error text verbatim.
func classifyGitError(dependency string, err error) *Error {
	reason := ReasonNetwork
	switch {
	case errors.Is(err, transport.ErrAuthenticationRequired),
		errors.Is(err, transport.ErrAuthorizationFailed):
		reason = ReasonAuth
	case errors.Is(err, transport.ErrRepositoryNotFound):
		reason = ReasonMissingFile
	}
	return &Error{Reason: reason, Dependency: dependency, Err: err}
}
