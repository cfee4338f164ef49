package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/faucetdb/keygate/internal/connector"
	"github.com/faucetdb/keygate/internal/crypto"
	"github.com/faucetdb/keygate/internal/model"
	"github.com/faucetdb/keygate/internal/monitor"
	"github.com/faucetdb/keygate/internal/ratelimit"
	"github.com/faucetdb/keygate/internal/service"
	"github.com/faucetdb/keygate/internal/store"
	"github.com/faucetdb/keygate/internal/telemetry"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

const (
	testPassword   = "correct-horse-battery"
	adminEmail     = "admin@example.com"
	upstreamSecret = "tmdb-secret-value"
)

// upstream is a fake third-party API that records what it was sent.
type upstream struct {
	*httptest.Server
	mu       sync.Mutex
	paths    []string
	auth     []string
	failWith int
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		u.paths = append(u.paths, r.URL.Path)
		u.auth = append(u.auth, r.Header.Get("Authorization"))
		fail := u.failWith
		u.mu.Unlock()
		if fail != 0 {
			w.WriteHeader(fail)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("ETag", `"v1"`)
		fmt.Fprintf(w, `{"path":%q}`, r.URL.Path)
	}))
	t.Cleanup(u.Close)
	return u
}

// testEnv holds all the shared state for integration tests.
type testEnv struct {
	server   *Server
	store    *store.Store
	accounts *service.AccountService
	upstream *upstream
	metrics  *telemetry.Metrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.New("")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	up := newUpstream(t)

	registry := connector.NewRegistry(connector.DefaultServices()...)
	if err := registry.SetBaseURL("tmdb", up.URL); err != nil {
		t.Fatalf("SetBaseURL: %v", err)
	}
	cipher, err := crypto.NewCipher("test-encryption-key")
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}

	metrics := telemetry.New("")
	ledger := service.NewLedger(st)
	limiter := ratelimit.New(st, ratelimit.Options{})
	tokens := service.NewTokenService([]byte("test-signing-secret"), time.Hour)
	accounts := service.NewAccountService(st, tokens, bcrypt.MinCost)
	creds := service.NewCredentialService(st, registry, cipher, ledger, ratelimit.DefaultLimit)

	srv := New(DefaultConfig(), Deps{
		Accounts:    accounts,
		Credentials: creds,
		Ledger:      ledger,
		Limiter:     limiter,
		Connector:   connector.New(registry, 5*time.Second),
		Monitor:     monitor.New(st, registry, limiter, metrics, logger),
		Metrics:     metrics,
		Logger:      logger,
	})

	if _, err := accounts.CreateSuperuser(context.Background(), service.RegisterInput{
		Email: adminEmail, Password: testPassword, FullName: "Admin",
	}); err != nil {
		t.Fatalf("CreateSuperuser: %v", err)
	}

	return &testEnv{server: srv, store: st, accounts: accounts, upstream: up, metrics: metrics}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) doAuth(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, method, path, body, map[string]string{"Authorization": "Bearer " + token})
}

func (e *testEnv) doKey(t *testing.T, method, path, key string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, method, path, nil, map[string]string{"X-API-Key": key})
}

// register creates an account and returns its bearer token.
func (e *testEnv) register(t *testing.T, email string) string {
	t.Helper()
	rr := e.do(t, "POST", "/api/users", map[string]string{"email": email, "password": testPassword}, nil)
	assertStatus(t, rr, http.StatusCreated)
	return e.login(t, email)
}

func (e *testEnv) login(t *testing.T, email string) string {
	t.Helper()
	rr := e.do(t, "POST", "/api/token", map[string]string{"username": email, "password": testPassword}, nil)
	assertStatus(t, rr, http.StatusOK)
	var resp model.TokenResponse
	decodeJSON(t, rr, &resp)
	if resp.AccessToken == "" || resp.TokenType != "bearer" {
		t.Fatalf("token response = %+v", resp)
	}
	return resp.AccessToken
}

// createKey stores a tmdb credential and returns its view.
func (e *testEnv) createKey(t *testing.T, token string, rateLimit int) model.CredentialView {
	t.Helper()
	body := map[string]any{
		"service_name": "tmdb",
		"key_metadata": map[string]string{"api_key": upstreamSecret},
	}
	if rateLimit > 0 {
		body["rate_limit"] = rateLimit
	}
	rr := e.doAuth(t, "POST", "/api/keys", body, token)
	assertStatus(t, rr, http.StatusOK)
	var view model.CredentialView
	decodeJSON(t, rr, &view)
	if view.AccessKey == "" {
		t.Fatal("access key not returned on create")
	}
	return view
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("status = %d, want %d; body: %s", rr.Code, want, rr.Body.String())
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v", rr.Body.String(), err)
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestHealthEndpoints(t *testing.T) {
	e := newTestEnv(t)

	rr := e.do(t, "GET", "/healthz", nil, nil)
	assertStatus(t, rr, http.StatusOK)

	rr = e.do(t, "GET", "/health", nil, nil)
	assertStatus(t, rr, http.StatusOK)
	var report monitor.HealthReport
	decodeJSON(t, rr, &report)
	if report.Status != monitor.StatusHealthy {
		t.Errorf("status = %q, want healthy", report.Status)
	}
	if report.Components.Services["tmdb"] == "" {
		t.Errorf("tmdb missing from services: %+v", report.Components.Services)
	}
}

func TestOpenAPIEndpoint(t *testing.T) {
	e := newTestEnv(t)
	rr := e.do(t, "GET", "/openapi.json", nil, nil)
	assertStatus(t, rr, http.StatusOK)
	if !strings.Contains(rr.Body.String(), "/api/keys") {
		t.Error("openapi document does not describe /api/keys")
	}
}

func TestCatalogIsPublic(t *testing.T) {
	e := newTestEnv(t)
	rr := e.do(t, "GET", "/api/catalog", nil, nil)
	assertStatus(t, rr, http.StatusOK)
	for _, name := range []string{"tmdb", "weather", "disney_parks"} {
		if !strings.Contains(rr.Body.String(), name) {
			t.Errorf("catalog missing %s", name)
		}
	}
}

func TestFormLogin(t *testing.T) {
	e := newTestEnv(t)
	form := url.Values{"username": {adminEmail}, "password": {testPassword}}
	req := httptest.NewRequest("POST", "/api/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	assertStatus(t, rr, http.StatusOK)

	rr = e.do(t, "POST", "/api/token", map[string]string{"email": adminEmail, "password": "wrong-password"}, nil)
	assertStatus(t, rr, http.StatusUnauthorized)
}

func TestManagementRequiresBearer(t *testing.T) {
	e := newTestEnv(t)
	for _, path := range []string{"/api/keys", "/api/users/me", "/api/monitor/usage"} {
		rr := e.do(t, "GET", path, nil, nil)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("GET %s = %d, want 401", path, rr.Code)
		}
	}
}

func TestProxyRateLimitScenario(t *testing.T) {
	e := newTestEnv(t)
	token := e.register(t, "dev@example.com")
	key := e.createKey(t, token, 2)

	for i := range 2 {
		rr := e.doKey(t, "GET", "/api/tmdb/movie/550", key.AccessKey)
		assertStatus(t, rr, http.StatusOK)
		if got := rr.Header().Get("X-RateLimit-Remaining"); got != fmt.Sprint(1-i) {
			t.Errorf("request %d remaining = %q, want %d", i+1, got, 1-i)
		}
		if rr.Header().Get("ETag") != `"v1"` {
			t.Errorf("ETag not relayed: %v", rr.Header())
		}
	}

	rr := e.doKey(t, "GET", "/api/tmdb/movie/550", key.AccessKey)
	assertStatus(t, rr, http.StatusTooManyRequests)
	if rr.Header().Get("Retry-After") == "" {
		t.Error("Retry-After missing on 429")
	}

	e.upstream.mu.Lock()
	calls := len(e.upstream.paths)
	gotAuth := e.upstream.auth[0]
	gotPath := e.upstream.paths[0]
	e.upstream.mu.Unlock()
	if calls != 2 {
		t.Errorf("upstream calls = %d, want 2", calls)
	}
	if gotAuth != "Bearer "+upstreamSecret {
		t.Errorf("upstream Authorization = %q", gotAuth)
	}
	if gotPath != "/movie/550" {
		t.Errorf("upstream path = %q, want /movie/550", gotPath)
	}

	rr = e.doAuth(t, "GET", fmt.Sprintf("/api/keys/%d/usage", key.ID), nil, token)
	assertStatus(t, rr, http.StatusOK)
	var usage model.ListResponse[model.UsageRecord]
	decodeJSON(t, rr, &usage)
	if len(usage.Resource) != 3 {
		t.Fatalf("usage records = %d, want 3", len(usage.Resource))
	}
	newest := usage.Resource[0]
	if newest.Status != http.StatusTooManyRequests {
		t.Errorf("newest status = %d, want 429", newest.Status)
	}
	if newest.Error == nil || *newest.Error != "rate limit exceeded" {
		t.Errorf("newest error = %v", newest.Error)
	}
	for _, rec := range usage.Resource[1:] {
		if rec.Status != http.StatusOK || rec.Error != nil {
			t.Errorf("older record = %+v, want clean 200", rec)
		}
	}

	rr = e.doAuth(t, "GET", fmt.Sprintf("/api/monitor/rate-limits/%d", key.ID), nil, token)
	assertStatus(t, rr, http.StatusOK)
	var status model.RateLimitStatus
	decodeJSON(t, rr, &status)
	if status.Limit != 2 || status.Remaining != 0 {
		t.Errorf("rate limit status = %+v", status)
	}
}

func TestProxyRejections(t *testing.T) {
	e := newTestEnv(t)
	token := e.register(t, "dev@example.com")
	key := e.createKey(t, token, 0)

	tests := []struct {
		name string
		path string
		key  string
		want int
	}{
		{"missing key", "/api/tmdb/movie/1", "", http.StatusUnauthorized},
		{"unknown key", "/api/tmdb/movie/1", "kg_not-a-real-key", http.StatusUnauthorized},
		{"wrong service", "/api/weather/current.json", key.AccessKey, http.StatusForbidden},
		{"unknown service", "/api/nope/x", key.AccessKey, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := e.doKey(t, "GET", tt.path, tt.key)
			assertStatus(t, rr, tt.want)
		})
	}

	admin := e.login(t, adminEmail)
	rr := e.doAuth(t, "GET", "/api/monitor/errors?days=1", nil, admin)
	assertStatus(t, rr, http.StatusOK)
	var report model.ListResponse[model.ErrorEntry]
	decodeJSON(t, rr, &report)
	if len(report.Resource) != len(tests) {
		t.Errorf("error entries = %d, want %d: %+v", len(report.Resource), len(tests), report.Resource)
	}
}

func TestUpstreamFailureIsReported(t *testing.T) {
	e := newTestEnv(t)
	token := e.register(t, "dev@example.com")
	key := e.createKey(t, token, 0)
	e.upstream.mu.Lock()
	e.upstream.failWith = http.StatusServiceUnavailable
	e.upstream.mu.Unlock()

	rr := e.doKey(t, "GET", "/api/tmdb/movie/1", key.AccessKey)
	assertStatus(t, rr, http.StatusServiceUnavailable)

	recs, err := e.store.ListUsage(context.Background(), key.ID, 10)
	if err != nil {
		t.Fatalf("ListUsage: %v", err)
	}
	if len(recs) != 1 || recs[0].Error == nil {
		t.Fatalf("records = %+v, want one with error text", recs)
	}
}

func TestKeyOwnership(t *testing.T) {
	e := newTestEnv(t)
	alice := e.register(t, "alice@example.com")
	bob := e.register(t, "bob@example.com")
	key := e.createKey(t, alice, 0)
	path := fmt.Sprintf("/api/keys/%d", key.ID)

	rr := e.doAuth(t, "GET", path, nil, bob)
	assertStatus(t, rr, http.StatusNotFound)
	rr = e.doAuth(t, "DELETE", path, nil, bob)
	assertStatus(t, rr, http.StatusNotFound)

	rr = e.doAuth(t, "GET", "/api/keys", nil, bob)
	assertStatus(t, rr, http.StatusOK)
	var list model.ListResponse[model.CredentialView]
	decodeJSON(t, rr, &list)
	if len(list.Resource) != 0 {
		t.Errorf("bob sees %d keys, want 0", len(list.Resource))
	}

	rr = e.doAuth(t, "PUT", path, map[string]any{"is_active": false}, alice)
	assertStatus(t, rr, http.StatusOK)
	rr = e.doKey(t, "GET", "/api/tmdb/movie/1", key.AccessKey)
	assertStatus(t, rr, http.StatusUnauthorized)

	rr = e.doAuth(t, "DELETE", path, nil, alice)
	assertStatus(t, rr, http.StatusOK)
	rr = e.doAuth(t, "GET", path, nil, alice)
	assertStatus(t, rr, http.StatusNotFound)
}

func TestSuperuserRoutes(t *testing.T) {
	e := newTestEnv(t)
	user := e.register(t, "dev@example.com")
	admin := e.login(t, adminEmail)

	for _, path := range []string{"/api/users", "/api/monitor/usage", "/api/monitor/errors"} {
		rr := e.doAuth(t, "GET", path, nil, user)
		if rr.Code != http.StatusForbidden {
			t.Errorf("user GET %s = %d, want 403", path, rr.Code)
		}
		rr = e.doAuth(t, "GET", path, nil, admin)
		if rr.Code != http.StatusOK {
			t.Errorf("admin GET %s = %d, want 200", path, rr.Code)
		}
	}

	rr := e.doAuth(t, "GET", "/api/monitor/usage?days=31", nil, admin)
	assertStatus(t, rr, http.StatusBadRequest)

	rr = e.doAuth(t, "GET", "/api/users?skip=0&limit=1", nil, admin)
	assertStatus(t, rr, http.StatusOK)
	var users model.ListResponse[model.Account]
	decodeJSON(t, rr, &users)
	if len(users.Resource) != 1 {
		t.Errorf("users = %d, want 1 (limit)", len(users.Resource))
	}
}

func TestSelfService(t *testing.T) {
	e := newTestEnv(t)
	token := e.register(t, "dev@example.com")

	rr := e.doAuth(t, "PUT", "/api/users/me", map[string]any{"full_name": "Dev Eloper"}, token)
	assertStatus(t, rr, http.StatusOK)

	rr = e.doAuth(t, "GET", "/api/users/me", nil, token)
	assertStatus(t, rr, http.StatusOK)
	var me model.Account
	decodeJSON(t, rr, &me)
	if me.FullName != "Dev Eloper" || me.IsSuperuser {
		t.Errorf("me = %+v", me)
	}

	rr = e.do(t, "POST", "/api/users", map[string]string{"email": "dev@example.com", "password": testPassword}, nil)
	assertStatus(t, rr, http.StatusConflict)
}

func TestMetricsExposition(t *testing.T) {
	e := newTestEnv(t)
	token := e.register(t, "dev@example.com")
	key := e.createKey(t, token, 0)
	e.doKey(t, "GET", "/api/tmdb/movie/1", key.AccessKey)

	rr := e.do(t, "GET", "/metrics", nil, nil)
	assertStatus(t, rr, http.StatusOK)
	if !strings.Contains(rr.Body.String(), "keygate_requests_total") {
		t.Error("requests_total not exposed")
	}
}
