package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/everstacklabs/bridge/internal/config"
	"github.com/everstacklabs/bridge/internal/contract"
)

// HTTPFetcher retrieves contracts over plain HTTP(S). The dependency's
// git_url field doubles as the document URL for this method.
type HTTPFetcher struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPFetcher returns an HTTP fetcher with a 30s timeout and a 10 RPS
// rate limit shared across dependencies.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(10), 1),
	}
}

// Fetch GETs the contract document and parses it.
func (f *HTTPFetcher) Fetch(ctx context.Context, dep config.Dependency) (*contract.Contract, error) {
	u, err := url.Parse(dep.GitURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, &Error{
			Reason:     ReasonInvalidURL,
			Dependency: dep.Name,
			Err:        fmt.Errorf("invalid contract URL %q", dep.GitURL),
		}
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, dep.GitURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &Error{Reason: ReasonNetwork, Dependency: dep.Name, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &Error{
			Reason:     ReasonAuth,
			Dependency: dep.Name,
			Err:        fmt.Errorf("HTTP GET %s: status %d", dep.GitURL, resp.StatusCode),
		}
	case resp.StatusCode == http.StatusNotFound:
		return nil, &Error{
			Reason:     ReasonMissingFile,
			Dependency: dep.Name,
			Err:        fmt.Errorf("HTTP GET %s: status 404", dep.GitURL),
		}
	case resp.StatusCode >= 400:
		return nil, &Error{
			Reason:     ReasonNetwork,
			Dependency: dep.Name,
			Err:        fmt.Errorf("HTTP GET %s: status %d", dep.GitURL, resp.StatusCode),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Reason: ReasonNetwork, Dependency: dep.Name, Err: err}
	}

	return contract.Parse(body)
}
