package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/faucetdb/keygate/internal/errs"
	"github.com/faucetdb/keygate/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New("") // in-memory
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createAccount(t *testing.T, s *Store, email string) *model.Account {
	t.Helper()
	a := &model.Account{Email: email, PasswordHash: "x", IsActive: true}
	if err := s.CreateAccount(context.Background(), a); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	return a
}

func createCredential(t *testing.T, s *Store, owner int64, service, hash string) *model.Credential {
	t.Helper()
	c := &model.Credential{
		OwnerID:         owner,
		ServiceName:     service,
		KeyHash:         hash,
		KeyPrefix:       hash[:4],
		EncryptedSecret: "sealed",
		Metadata:        map[string]string{"client_id": "abc"},
		IsActive:        true,
	}
	if err := s.CreateCredential(context.Background(), c); err != nil {
		t.Fatalf("CreateCredential: %v", err)
	}
	return c
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if s.Dialect() != DialectSQLite {
		t.Errorf("dialect = %q, want sqlite", s.Dialect())
	}
}

func TestResolveDSN(t *testing.T) {
	driver, _, dialect, err := resolveDSN("postgres://u:p@localhost/keygate")
	if err != nil {
		t.Fatal(err)
	}
	if driver != "pgx" || dialect != DialectPostgres {
		t.Errorf("got %s/%s, want pgx/postgres", driver, dialect)
	}

	dir := t.TempDir()
	driver, dsn, dialect, err := resolveDSN("sqlite://" + DefaultPath(dir))
	if err != nil {
		t.Fatal(err)
	}
	if driver != "sqlite" || dialect != DialectSQLite {
		t.Errorf("got %s/%s, want sqlite/sqlite", driver, dialect)
	}
	if want := DefaultPath(dir) + "?"; dsn[:len(want)] != want {
		t.Errorf("dsn = %q, want prefix %q", dsn, want)
	}
}

func TestAccountCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := createAccount(t, s, "ada@example.com")
	if a.ID == 0 {
		t.Fatal("expected non-zero ID after create")
	}

	got, err := s.GetAccountByEmail(ctx, "ada@example.com")
	if err != nil {
		t.Fatalf("GetAccountByEmail: %v", err)
	}
	if got.ID != a.ID || !got.IsActive || got.IsSuperuser {
		t.Errorf("unexpected account %+v", got)
	}

	got.FullName = "Ada Lovelace"
	got.IsSuperuser = true
	if err := s.UpdateAccount(ctx, got); err != nil {
		t.Fatalf("UpdateAccount: %v", err)
	}
	again, err := s.GetAccount(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if again.FullName != "Ada Lovelace" || !again.IsSuperuser {
		t.Errorf("update not persisted: %+v", again)
	}

	login := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := s.UpdateAccountLastLogin(ctx, a.ID, login); err != nil {
		t.Fatalf("UpdateAccountLastLogin: %v", err)
	}
	again, _ = s.GetAccount(ctx, a.ID)
	if again.LastLoginAt == nil || !again.LastLoginAt.Equal(login) {
		t.Errorf("last login = %v, want %v", again.LastLoginAt, login)
	}

	if _, err := s.GetAccount(ctx, 9999); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("GetAccount(missing) err = %v, want ErrNotFound", err)
	}
}

func TestDuplicateEmailConflicts(t *testing.T) {
	s := newTestStore(t)
	createAccount(t, s, "dup@example.com")

	err := s.CreateAccount(context.Background(), &model.Account{Email: "dup@example.com", PasswordHash: "y"})
	if !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestListAccountsPaging(t *testing.T) {
	s := newTestStore(t)
	for _, e := range []string{"a@x.io", "b@x.io", "c@x.io"} {
		createAccount(t, s, e)
	}
	page, err := s.ListAccounts(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("ListAccounts: %v", err)
	}
	if len(page) != 1 || page[0].Email != "b@x.io" {
		t.Errorf("page = %+v, want [b@x.io]", page)
	}
	n, _ := s.CountAccounts(context.Background())
	if n != 3 {
		t.Errorf("CountAccounts = %d, want 3", n)
	}
}

func TestCredentialCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := createAccount(t, s, "owner@example.com")

	c := createCredential(t, s, owner.ID, "tmdb", "hash-one")
	createCredential(t, s, owner.ID, "weather", "hash-two")

	got, err := s.GetCredentialByKeyHash(ctx, "hash-one")
	if err != nil {
		t.Fatalf("GetCredentialByKeyHash: %v", err)
	}
	if got.ID != c.ID || got.Metadata["client_id"] != "abc" || got.RateLimit != nil {
		t.Errorf("unexpected credential %+v", got)
	}

	all, err := s.ListCredentials(ctx, owner.ID, "")
	if err != nil || len(all) != 2 {
		t.Fatalf("ListCredentials = %d, %v; want 2", len(all), err)
	}
	filtered, _ := s.ListCredentials(ctx, owner.ID, "weather")
	if len(filtered) != 1 || filtered[0].ServiceName != "weather" {
		t.Errorf("filtered = %+v", filtered)
	}

	limit := 5
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	got.RateLimit = &limit
	got.ExpiresAt = &exp
	got.IsActive = false
	if err := s.UpdateCredential(ctx, got); err != nil {
		t.Fatalf("UpdateCredential: %v", err)
	}
	got, _ = s.GetCredential(ctx, c.ID)
	if got.RateLimit == nil || *got.RateLimit != 5 || got.IsActive || !got.ExpiresAt.Equal(exp) {
		t.Errorf("update not persisted: %+v", got)
	}

	if err := s.DeleteCredential(ctx, c.ID); err != nil {
		t.Fatalf("DeleteCredential: %v", err)
	}
	if _, err := s.GetCredential(ctx, c.ID); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("after delete err = %v, want ErrNotFound", err)
	}
	if err := s.DeleteCredential(ctx, c.ID); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestAppendUsageBumpsCounters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := createAccount(t, s, "o@example.com")
	c := createCredential(t, s, owner.ID, "tmdb", "hash-usage")

	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		rec := &model.UsageRecord{
			CredentialID: &c.ID,
			ServiceName:  "tmdb",
			RequestedAt:  base.Add(time.Duration(i) * time.Second),
			Endpoint:     "/api/tmdb/movie/550",
			Status:       200,
		}
		if err := s.AppendUsage(ctx, rec); err != nil {
			t.Fatalf("AppendUsage: %v", err)
		}
		if rec.ID == 0 {
			t.Fatal("expected record ID")
		}
	}

	got, _ := s.GetCredential(ctx, c.ID)
	if got.UsageCount != 3 {
		t.Errorf("usage_count = %d, want 3", got.UsageCount)
	}
	if got.LastUsedAt == nil || !got.LastUsedAt.Equal(base.Add(2*time.Second)) {
		t.Errorf("last_used_at = %v", got.LastUsedAt)
	}

	records, err := s.ListUsage(ctx, c.ID, 10)
	if err != nil {
		t.Fatalf("ListUsage: %v", err)
	}
	if len(records) != 3 || !records[0].RequestedAt.After(records[2].RequestedAt) {
		t.Errorf("records not newest first: %+v", records)
	}
}

func TestUsageSurvivesCredentialDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := createAccount(t, s, "o@example.com")
	c := createCredential(t, s, owner.ID, "tmdb", "hash-keep")

	rec := &model.UsageRecord{CredentialID: &c.ID, ServiceName: "tmdb", RequestedAt: time.Now(), Endpoint: "/api/tmdb/x", Status: 200}
	if err := s.AppendUsage(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteCredential(ctx, c.ID); err != nil {
		t.Fatal(err)
	}
	records, err := s.ListUsage(ctx, c.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Errorf("got %d records after delete, want 1", len(records))
	}
}

func TestWindowQueries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := createAccount(t, s, "o@example.com")
	c := createCredential(t, s, owner.ID, "weather", "hash-window")

	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	for _, offset := range []time.Duration{-90 * time.Second, -45 * time.Second, -10 * time.Second, 0} {
		rec := &model.UsageRecord{CredentialID: &c.ID, ServiceName: "weather", RequestedAt: now.Add(offset), Endpoint: "/api/weather/current.json", Status: 200}
		if err := s.AppendUsage(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	since := now.Add(-time.Minute)
	n, err := s.CountUsageSince(ctx, c.ID, since)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("CountUsageSince = %d, want 3", n)
	}

	oldest, err := s.OldestUsageSince(ctx, c.ID, since)
	if err != nil {
		t.Fatal(err)
	}
	if oldest == nil || !oldest.Equal(now.Add(-45*time.Second)) {
		t.Errorf("OldestUsageSince = %v, want %v", oldest, now.Add(-45*time.Second))
	}

	none, err := s.OldestUsageSince(ctx, c.ID, now.Add(time.Hour))
	if err != nil || none != nil {
		t.Errorf("OldestUsageSince(future) = %v, %v; want nil, nil", none, err)
	}
}

func TestUsageStatsAndErrors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := createAccount(t, s, "o@example.com")
	a := createCredential(t, s, owner.ID, "tmdb", "hash-a")
	b := createCredential(t, s, owner.ID, "weather", "hash-b")

	now := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	boom := "upstream exploded"
	limited := "rate limit exceeded"
	fixtures := []model.UsageRecord{
		{CredentialID: &a.ID, ServiceName: "tmdb", RequestedAt: now.Add(-1 * time.Hour), Endpoint: "/e1", Status: 200, ResponseTimeMs: 10},
		{CredentialID: &a.ID, ServiceName: "tmdb", RequestedAt: now.Add(-2 * time.Hour), Endpoint: "/e2", Status: 500, ResponseTimeMs: 30, Error: &boom},
		{CredentialID: &b.ID, ServiceName: "weather", RequestedAt: now.Add(-3 * time.Hour), Endpoint: "/e3", Status: 429, ResponseTimeMs: 20, Error: &limited},
		{CredentialID: nil, ServiceName: "weather", RequestedAt: now.Add(-4 * time.Hour), Endpoint: "/e4", Status: 401, ResponseTimeMs: 0, Error: &limited},
		{CredentialID: &b.ID, ServiceName: "weather", RequestedAt: now.Add(-10 * 24 * time.Hour), Endpoint: "/old", Status: 200, ResponseTimeMs: 1000},
	}
	for i := range fixtures {
		if err := s.AppendUsage(ctx, &fixtures[i]); err != nil {
			t.Fatal(err)
		}
	}

	since := now.Add(-7 * 24 * time.Hour)
	stats, err := s.UsageStats(ctx, "", since)
	if err != nil {
		t.Fatalf("UsageStats: %v", err)
	}
	if stats.TotalRequests != 4 || stats.TotalErrors != 3 || stats.ActiveCredentials != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.AvgResponseTimeMs != 15 {
		t.Errorf("avg = %v, want 15", stats.AvgResponseTimeMs)
	}

	tmdb, _ := s.UsageStats(ctx, "tmdb", since)
	if tmdb.TotalRequests != 2 || tmdb.ActiveCredentials != 1 {
		t.Errorf("tmdb stats = %+v", tmdb)
	}

	active, err := s.ActiveCredentialsByService(ctx, since)
	if err != nil {
		t.Fatal(err)
	}
	if active["tmdb"] != 1 || active["weather"] != 1 {
		t.Errorf("active = %v", active)
	}

	report, err := s.ListErrors(ctx, "", since)
	if err != nil {
		t.Fatalf("ListErrors: %v", err)
	}
	if len(report) != 3 {
		t.Fatalf("got %d errors, want 3", len(report))
	}
	if report[0].Endpoint != "/e2" || report[2].Endpoint != "/e4" {
		t.Errorf("errors not newest first: %+v", report)
	}

	weather, _ := s.ListErrors(ctx, "weather", since)
	if len(weather) != 2 {
		t.Errorf("weather errors = %d, want 2", len(weather))
	}
}
