package store

import (
	"fmt"
	"strings"
)

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		full_name TEXT NOT NULL DEFAULT '',
		is_active INTEGER NOT NULL DEFAULT 1,
		is_superuser INTEGER NOT NULL DEFAULT 0,
		last_login_at DATETIME,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS credentials (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id INTEGER NOT NULL REFERENCES accounts(id),
		service_name TEXT NOT NULL,
		access_key_hash TEXT UNIQUE NOT NULL,
		access_key_prefix TEXT NOT NULL,
		encrypted_secret TEXT NOT NULL,
		metadata_json TEXT NOT NULL DEFAULT '{}',
		is_active INTEGER NOT NULL DEFAULT 1,
		rate_limit INTEGER,
		usage_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		expires_at DATETIME,
		last_used_at DATETIME
	)`,

	// Usage history is kept after its credential is deleted, so
	// credential_id carries no foreign key.
	`CREATE TABLE IF NOT EXISTS usage_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		credential_id INTEGER,
		service_name TEXT NOT NULL DEFAULT '',
		requested_at DATETIME NOT NULL,
		method TEXT NOT NULL DEFAULT '',
		endpoint TEXT NOT NULL,
		status INTEGER NOT NULL,
		response_time_ms REAL NOT NULL DEFAULT 0,
		client_ip TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		error_message TEXT
	)`,

	`CREATE INDEX IF NOT EXISTS idx_credentials_owner ON credentials(owner_id, service_name)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_credential_time ON usage_records(credential_id, requested_at)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_service_time ON usage_records(service_name, requested_at)`,
}

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id BIGSERIAL PRIMARY KEY,
		email TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		full_name TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		is_superuser BOOLEAN NOT NULL DEFAULT FALSE,
		last_login_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS credentials (
		id BIGSERIAL PRIMARY KEY,
		owner_id BIGINT NOT NULL REFERENCES accounts(id),
		service_name TEXT NOT NULL,
		access_key_hash TEXT UNIQUE NOT NULL,
		access_key_prefix TEXT NOT NULL,
		encrypted_secret TEXT NOT NULL,
		metadata_json TEXT NOT NULL DEFAULT '{}',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		rate_limit INTEGER,
		usage_count BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMPTZ,
		last_used_at TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS usage_records (
		id BIGSERIAL PRIMARY KEY,
		credential_id BIGINT,
		service_name TEXT NOT NULL DEFAULT '',
		requested_at TIMESTAMPTZ NOT NULL,
		method TEXT NOT NULL DEFAULT '',
		endpoint TEXT NOT NULL,
		status INTEGER NOT NULL,
		response_time_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
		client_ip TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		error_message TEXT
	)`,

	`CREATE INDEX IF NOT EXISTS idx_credentials_owner ON credentials(owner_id, service_name)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_credential_time ON usage_records(credential_id, requested_at)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_service_time ON usage_records(service_name, requested_at)`,
}

func (s *Store) migrate() error {
	migrations := sqliteMigrations
	if s.dialect == DialectPostgres {
		migrations = postgresMigrations
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			// ALTER TABLE ADD COLUMN fails if the column already exists;
			// treat that as a no-op so migrations stay idempotent.
			if strings.Contains(err.Error(), "duplicate column") || strings.Contains(err.Error(), "already exists") {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
