package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/faucetdb/keygate/internal/errs"
	"github.com/faucetdb/keygate/internal/model"
)

// credentialRow maps 1:1 to the credentials table. Metadata is stored as a
// JSON object in metadata_json.
type credentialRow struct {
	ID              int64      `db:"id"`
	OwnerID         int64      `db:"owner_id"`
	ServiceName     string     `db:"service_name"`
	KeyHash         string     `db:"access_key_hash"`
	KeyPrefix       string     `db:"access_key_prefix"`
	EncryptedSecret string     `db:"encrypted_secret"`
	MetadataJSON    string     `db:"metadata_json"`
	IsActive        bool       `db:"is_active"`
	RateLimit       *int64     `db:"rate_limit"`
	UsageCount      int64      `db:"usage_count"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
	ExpiresAt       *time.Time `db:"expires_at"`
	LastUsedAt      *time.Time `db:"last_used_at"`
}

const credentialColumns = `id, owner_id, service_name, access_key_hash, access_key_prefix,
	encrypted_secret, metadata_json, is_active, rate_limit, usage_count,
	created_at, updated_at, expires_at, last_used_at`

func credentialRowFromModel(c *model.Credential) (credentialRow, error) {
	meta := c.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return credentialRow{}, fmt.Errorf("marshal metadata: %w", err)
	}
	row := credentialRow{
		ID:              c.ID,
		OwnerID:         c.OwnerID,
		ServiceName:     c.ServiceName,
		KeyHash:         c.KeyHash,
		KeyPrefix:       c.KeyPrefix,
		EncryptedSecret: c.EncryptedSecret,
		MetadataJSON:    string(metaJSON),
		IsActive:        c.IsActive,
		UsageCount:      c.UsageCount,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
		ExpiresAt:       utcPtr(c.ExpiresAt),
		LastUsedAt:      utcPtr(c.LastUsedAt),
	}
	if c.RateLimit != nil {
		v := int64(*c.RateLimit)
		row.RateLimit = &v
	}
	return row, nil
}

func (r credentialRow) toModel() (model.Credential, error) {
	meta := map[string]string{}
	if r.MetadataJSON != "" && r.MetadataJSON != "{}" {
		if err := json.Unmarshal([]byte(r.MetadataJSON), &meta); err != nil {
			return model.Credential{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	c := model.Credential{
		ID:              r.ID,
		OwnerID:         r.OwnerID,
		ServiceName:     r.ServiceName,
		KeyHash:         r.KeyHash,
		KeyPrefix:       r.KeyPrefix,
		EncryptedSecret: r.EncryptedSecret,
		Metadata:        meta,
		IsActive:        r.IsActive,
		UsageCount:      r.UsageCount,
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
		ExpiresAt:       utcPtr(r.ExpiresAt),
		LastUsedAt:      utcPtr(r.LastUsedAt),
	}
	if r.RateLimit != nil {
		v := int(*r.RateLimit)
		c.RateLimit = &v
	}
	return c, nil
}

// CreateCredential inserts a new credential. KeyHash and EncryptedSecret must
// already be set. ID, CreatedAt, and UpdatedAt are populated on success.
func (s *Store) CreateCredential(ctx context.Context, c *model.Credential) error {
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	row, err := credentialRowFromModel(c)
	if err != nil {
		return err
	}

	const q = `INSERT INTO credentials
		(owner_id, service_name, access_key_hash, access_key_prefix, encrypted_secret,
		 metadata_json, is_active, rate_limit, usage_count, created_at, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
		RETURNING id`

	err = s.db.QueryRowxContext(ctx, s.db.Rebind(q),
		row.OwnerID, row.ServiceName, row.KeyHash, row.KeyPrefix, row.EncryptedSecret,
		row.MetadataJSON, row.IsActive, row.RateLimit, row.CreatedAt, row.UpdatedAt, row.ExpiresAt,
	).Scan(&c.ID)
	if err != nil {
		return wrapWrite("insert credential", err)
	}
	return nil
}

// GetCredential returns a credential by ID regardless of owner. Ownership
// is decided by the caller.
func (s *Store) GetCredential(ctx context.Context, id int64) (*model.Credential, error) {
	return s.getCredential(ctx, "id = ?", id)
}

// GetCredentialByKeyHash looks up a credential by the SHA-256 hash of its
// access key.
func (s *Store) GetCredentialByKeyHash(ctx context.Context, hash string) (*model.Credential, error) {
	return s.getCredential(ctx, "access_key_hash = ?", hash)
}

func (s *Store) getCredential(ctx context.Context, where string, arg any) (*model.Credential, error) {
	var row credentialRow
	q := s.db.Rebind("SELECT " + credentialColumns + " FROM credentials WHERE " + where)
	if err := s.db.GetContext(ctx, &row, q, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("get credential: %w", err)
	}
	c, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCredentials returns the credentials owned by ownerID, newest first,
// optionally filtered by service name.
func (s *Store) ListCredentials(ctx context.Context, ownerID int64, serviceName string) ([]model.Credential, error) {
	q := "SELECT " + credentialColumns + " FROM credentials WHERE owner_id = ?"
	args := []any{ownerID}
	if serviceName != "" {
		q += " AND service_name = ?"
		args = append(args, serviceName)
	}
	q += " ORDER BY created_at DESC, id DESC"

	var rows []credentialRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}

	out := make([]model.Credential, 0, len(rows))
	for _, r := range rows {
		c, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// UpdateCredential writes the mutable credential fields. UpdatedAt is
// refreshed automatically. Counters are owned by AppendUsage and are not
// written here.
func (s *Store) UpdateCredential(ctx context.Context, c *model.Credential) error {
	c.UpdatedAt = time.Now().UTC()
	row, err := credentialRowFromModel(c)
	if err != nil {
		return err
	}

	const q = `UPDATE credentials SET
		encrypted_secret = :encrypted_secret, metadata_json = :metadata_json,
		is_active = :is_active, rate_limit = :rate_limit, expires_at = :expires_at,
		updated_at = :updated_at
		WHERE id = :id`

	result, err := s.db.NamedExecContext(ctx, q, row)
	if err != nil {
		return fmt.Errorf("update credential: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update credential rows affected: %w", err)
	}
	if n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// DeleteCredential hard-deletes a credential. Its usage records are kept.
func (s *Store) DeleteCredential(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM credentials WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete credential rows affected: %w", err)
	}
	if n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
