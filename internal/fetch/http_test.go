package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/everstacklabs/bridge/internal/config"
)

const httpContract = `
version: "1.0"
repo_id: user-service
endpoints:
  - path: /api/users
    method: GET
`

func TestHTTPFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(httpContract))
	}))
	defer srv.Close()

	f := NewHTTPFetcher()
	c, err := f.Fetch(context.Background(), config.Dependency{Name: "user-service", GitURL: srv.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.RepoID != "user-service" || len(c.Endpoints) != 1 {
		t.Errorf("unexpected contract: %+v", c)
	}
}

func TestHTTPFetchStatusClassification(t *testing.T) {
	cases := []struct {
		status int
		want   Reason
	}{
		{http.StatusUnauthorized, ReasonAuth},
		{http.StatusForbidden, ReasonAuth},
		{http.StatusNotFound, ReasonMissingFile},
		{http.StatusInternalServerError, ReasonNetwork},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))

		f := NewHTTPFetcher()
		_, err := f.Fetch(context.Background(), config.Dependency{Name: "svc", GitURL: srv.URL})
		srv.Close()

		var ferr *Error
		if !errors.As(err, &ferr) {
			t.Fatalf("status %d: expected *Error, got %v", tc.status, err)
		}
		if ferr.Reason != tc.want {
			t.Errorf("status %d: expected reason %s, got %s", tc.status, tc.want, ferr.Reason)
		}
	}
}

func TestHTTPFetchInvalidURL(t *testing.T) {
	f := NewHTTPFetcher()

	_, err := f.Fetch(context.Background(), config.Dependency{Name: "svc", GitURL: "not-a-url"})
	var ferr *Error
	if !errors.As(err, &ferr) || ferr.Reason != ReasonInvalidURL {
		t.Errorf("expected invalid-url error, got %v", err)
	}
}

func TestHTTPFetchMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("version: [broken"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher()
	if _, err := f.Fetch(context.Background(), config.Dependency{Name: "svc", GitURL: srv.URL}); err == nil {
		t.Error("expected parse error for malformed contract body")
	}
}
