// Package store persists accounts, credentials, and usage records. SQLite
// (modernc, pure Go) is the default backend; a postgres:// URL selects
// PostgreSQL through pgx's database/sql driver.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/faucetdb/keygate/internal/errs"
)

// Dialect names the SQL backend behind a Store.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Store is the single authoritative persistence layer. Rate-limit counts and
// usage totals are computed by queries against it; there is no in-process
// cache.
type Store struct {
	db      *sqlx.DB
	dialect Dialect
}

// DefaultPath returns the SQLite database location inside dataDir.
func DefaultPath(dataDir string) string {
	return filepath.Join(dataDir, "keygate.db")
}

// New opens a store. An empty url gives an in-memory SQLite database,
// postgres:// or postgresql:// selects PostgreSQL, and anything else is
// treated as a SQLite file path (an optional sqlite:// prefix is stripped).
func New(url string) (*Store, error) {
	driver, dsn, dialect, err := resolveDSN(url)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}

	s := &Store{db: db, dialect: dialect}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

func resolveDSN(url string) (driver, dsn string, dialect Dialect, err error) {
	switch {
	case url == "":
		return "sqlite", ":memory:?_time_format=sqlite", DialectSQLite, nil
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return "pgx", url, DialectPostgres, nil
	}

	path := strings.TrimPrefix(url, "sqlite://")
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", "", "", fmt.Errorf("create data dir: %w", err)
		}
	}
	dsn = path + "?_time_format=sqlite&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	return "sqlite", dsn, DialectSQLite, nil
}

// Dialect reports which backend the store is using.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Ping runs a trivial liveness query.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.db.GetContext(ctx, &one, "SELECT 1"); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// isUniqueViolation reports whether err is a unique constraint failure on
// either backend.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// wrapWrite converts unique violations into errs.ErrConflict.
func wrapWrite(op string, err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %w", op, errs.ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}
