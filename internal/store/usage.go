package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/faucetdb/keygate/internal/model"
)

const usageColumns = `id, credential_id, service_name, requested_at, method, endpoint,
	status, response_time_ms, client_ip, user_agent, error_message`

// AppendUsage inserts an immutable usage record and, in the same
// transaction, bumps the owning credential's usage_count and last_used_at.
// Records without a credential are inserted alone.
func (s *Store) AppendUsage(ctx context.Context, rec *model.UsageRecord) error {
	rec.RequestedAt = rec.RequestedAt.UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const insertQ = `INSERT INTO usage_records
		(credential_id, service_name, requested_at, method, endpoint, status,
		 response_time_ms, client_ip, user_agent, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`

	err = tx.QueryRowxContext(ctx, tx.Rebind(insertQ),
		rec.CredentialID, rec.ServiceName, rec.RequestedAt, rec.Method, rec.Endpoint, rec.Status,
		rec.ResponseTimeMs, rec.ClientIP, rec.UserAgent, rec.Error,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}

	if rec.CredentialID != nil {
		const bumpQ = `UPDATE credentials
			SET usage_count = usage_count + 1, last_used_at = ?
			WHERE id = ?`
		if _, err := tx.ExecContext(ctx, tx.Rebind(bumpQ), rec.RequestedAt, *rec.CredentialID); err != nil {
			return fmt.Errorf("update credential usage: %w", err)
		}
	}

	return tx.Commit()
}

// ListUsage returns up to limit usage records for a credential, newest first.
func (s *Store) ListUsage(ctx context.Context, credentialID int64, limit int) ([]model.UsageRecord, error) {
	records := []model.UsageRecord{}
	q := s.db.Rebind("SELECT " + usageColumns + ` FROM usage_records
		WHERE credential_id = ?
		ORDER BY requested_at DESC, id DESC
		LIMIT ?`)
	if err := s.db.SelectContext(ctx, &records, q, credentialID, limit); err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	for i := range records {
		records[i].RequestedAt = records[i].RequestedAt.UTC()
	}
	return records, nil
}

// CountUsageSince counts a credential's usage records at or after since.
func (s *Store) CountUsageSince(ctx context.Context, credentialID int64, since time.Time) (int, error) {
	var count int
	q := s.db.Rebind("SELECT COUNT(*) FROM usage_records WHERE credential_id = ? AND requested_at >= ?")
	if err := s.db.GetContext(ctx, &count, q, credentialID, since.UTC()); err != nil {
		return 0, fmt.Errorf("count usage: %w", err)
	}
	return count, nil
}

// OldestUsageSince returns the timestamp of the credential's earliest usage
// record at or after since, or nil when there is none.
func (s *Store) OldestUsageSince(ctx context.Context, credentialID int64, since time.Time) (*time.Time, error) {
	var at time.Time
	q := s.db.Rebind(`SELECT requested_at FROM usage_records
		WHERE credential_id = ? AND requested_at >= ?
		ORDER BY requested_at ASC, id ASC
		LIMIT 1`)
	if err := s.db.GetContext(ctx, &at, q, credentialID, since.UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("oldest usage: %w", err)
	}
	at = at.UTC()
	return &at, nil
}

type usageStatsRow struct {
	TotalRequests     int64   `db:"total_requests"`
	TotalErrors       int64   `db:"total_errors"`
	AvgResponseTimeMs float64 `db:"avg_response_time_ms"`
	ActiveCredentials int64   `db:"active_credentials"`
}

// UsageStats aggregates usage records at or after since, optionally scoped to
// one service. A record counts as an error when it carries error text.
func (s *Store) UsageStats(ctx context.Context, serviceName string, since time.Time) (model.UsageStats, error) {
	q := `SELECT
		COUNT(*) AS total_requests,
		COALESCE(SUM(CASE WHEN error_message IS NOT NULL THEN 1 ELSE 0 END), 0) AS total_errors,
		COALESCE(AVG(response_time_ms), 0.0) AS avg_response_time_ms,
		COUNT(DISTINCT credential_id) AS active_credentials
		FROM usage_records
		WHERE requested_at >= ?`
	args := []any{since.UTC()}
	if serviceName != "" {
		q += " AND service_name = ?"
		args = append(args, serviceName)
	}

	var row usageStatsRow
	if err := s.db.GetContext(ctx, &row, s.db.Rebind(q), args...); err != nil {
		return model.UsageStats{}, fmt.Errorf("usage stats: %w", err)
	}
	return model.UsageStats{
		ServiceName:       serviceName,
		TotalRequests:     row.TotalRequests,
		TotalErrors:       row.TotalErrors,
		AvgResponseTimeMs: row.AvgResponseTimeMs,
		ActiveCredentials: row.ActiveCredentials,
	}, nil
}

// ActiveCredentialsByService counts distinct credentials with usage at or
// after since, grouped by service.
func (s *Store) ActiveCredentialsByService(ctx context.Context, since time.Time) (map[string]int64, error) {
	var rows []struct {
		ServiceName string `db:"service_name"`
		Active      int64  `db:"active"`
	}
	q := s.db.Rebind(`SELECT service_name, COUNT(DISTINCT credential_id) AS active
		FROM usage_records
		WHERE requested_at >= ? AND credential_id IS NOT NULL
		GROUP BY service_name`)
	if err := s.db.SelectContext(ctx, &rows, q, since.UTC()); err != nil {
		return nil, fmt.Errorf("active credentials: %w", err)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.ServiceName] = r.Active
	}
	return out, nil
}

// ListErrors returns every usage record carrying error text at or after
// since, newest first, optionally scoped to one service.
func (s *Store) ListErrors(ctx context.Context, serviceName string, since time.Time) ([]model.ErrorEntry, error) {
	q := `SELECT requested_at, credential_id, service_name, endpoint, status, error_message
		FROM usage_records
		WHERE requested_at >= ? AND error_message IS NOT NULL`
	args := []any{since.UTC()}
	if serviceName != "" {
		q += " AND service_name = ?"
		args = append(args, serviceName)
	}
	q += " ORDER BY requested_at DESC, id DESC"

	entries := []model.ErrorEntry{}
	if err := s.db.SelectContext(ctx, &entries, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("list errors: %w", err)
	}
	for i := range entries {
		entries[i].Timestamp = entries[i].Timestamp.UTC()
	}
	return entries, nil
}
