package connector

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/faucetdb/keygate/internal/errs"
)

func newTestConnector(t *testing.T, h http.HandlerFunc, timeout time.Duration) *Connector {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	r := NewRegistry(DefaultServices()...)
	for _, name := range r.Names() {
		if err := r.SetBaseURL(name, srv.URL+"/v1"); err != nil {
			t.Fatal(err)
		}
	}
	return New(r, timeout)
}

func TestDoBearerAuth(t *testing.T) {
	var gotAuth, gotPath, gotClient string
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotClient = r.Header.Get("X-Client-ID")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}, time.Second)

	res, err := c.Do(context.Background(), "disney_parks", Call{
		Path:     "/parks/list",
		Secret:   "s3cret",
		Metadata: map[string]string{"client_id": "cid-1"},
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if res.Status != http.StatusOK || string(res.Body) != `{"ok":true}` {
		t.Errorf("result = %d %s", res.Status, res.Body)
	}
	if gotAuth != "Bearer s3cret" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotPath != "/v1/parks/list" {
		t.Errorf("path = %q", gotPath)
	}
	if gotClient != "cid-1" {
		t.Errorf("X-Client-ID = %q", gotClient)
	}
}

func TestDoQueryAuth(t *testing.T) {
	var gotQuery url.Values
	var gotAuth string
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}, time.Second)

	_, err := c.Do(context.Background(), "weather", Call{
		Path:   "current.json",
		Query:  url.Values{"q": {"Orlando"}},
		Secret: "wk",
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if gotQuery.Get("key") != "wk" || gotQuery.Get("q") != "Orlando" {
		t.Errorf("query = %v", gotQuery)
	}
	if gotAuth != "" {
		t.Errorf("query-auth service should not send Authorization, got %q", gotAuth)
	}
}

func TestDoTimeout(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}, 50*time.Millisecond)

	_, err := c.Do(context.Background(), "weather", Call{Path: "slow", Secret: "hidden-key"})
	if !errors.Is(err, errs.ErrUpstreamTimeout) {
		t.Fatalf("err = %v, want ErrUpstreamTimeout", err)
	}
	if strings.Contains(err.Error(), "hidden-key") {
		t.Errorf("error leaks secret: %v", err)
	}
}

func TestDoUnreachable(t *testing.T) {
	r := NewRegistry(DefaultServices()...)
	r.SetBaseURL("tmdb", "http://127.0.0.1:1")
	c := New(r, time.Second)

	_, err := c.Do(context.Background(), "tmdb", Call{Path: "movie/1", Secret: "x"})
	if !errors.Is(err, errs.ErrUpstream) && !errors.Is(err, errs.ErrUpstreamTimeout) {
		t.Fatalf("err = %v, want upstream error", err)
	}
}

func TestDoUnknownService(t *testing.T) {
	c := New(NewRegistry(DefaultServices()...), 0)
	if c.timeout != DefaultTimeout {
		t.Errorf("timeout = %v, want default", c.timeout)
	}
	_, err := c.Do(context.Background(), "nope", Call{})
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestPing(t *testing.T) {
	var method string
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		w.WriteHeader(http.StatusNotFound)
	}, time.Second)

	// Any HTTP answer counts as reachable.
	if err := c.Ping(context.Background(), "weather"); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if method != http.MethodHead {
		t.Errorf("method = %q, want HEAD", method)
	}
}

func TestPingUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	r := NewRegistry(DefaultServices()...)
	if err := r.SetBaseURL("tmdb", base); err != nil {
		t.Fatal(err)
	}
	err := New(r, time.Second).Ping(context.Background(), "tmdb")
	if !errors.Is(err, errs.ErrUpstream) {
		t.Fatalf("err = %v, want ErrUpstream", err)
	}
}

func TestDoRejectsOversizedBody(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write(make([]byte, maxResponseBytes+1))
	}, 5*time.Second)

	_, err := c.Do(context.Background(), "tmdb", Call{Path: "/movie/1", Secret: "s"})
	if !errors.Is(err, errs.ErrUpstream) {
		t.Fatalf("err = %v, want ErrUpstream", err)
	}
}

func TestDoAcceptsBodyAtLimit(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, maxResponseBytes))
	}, 5*time.Second)

	res, err := c.Do(context.Background(), "tmdb", Call{Path: "/movie/1", Secret: "s"})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if len(res.Body) != maxResponseBytes {
		t.Errorf("body = %d bytes, want %d", len(res.Body), maxResponseBytes)
	}
}
