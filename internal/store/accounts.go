package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/faucetdb/keygate/internal/errs"
	"github.com/faucetdb/keygate/internal/model"
)

const accountColumns = `id, email, password_hash, full_name, is_active, is_superuser,
	last_login_at, created_at, updated_at`

// CreateAccount inserts a new account. ID, CreatedAt, and UpdatedAt are
// populated on success. A duplicate email returns errs.ErrConflict.
func (s *Store) CreateAccount(ctx context.Context, a *model.Account) error {
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	const q = `INSERT INTO accounts
		(email, password_hash, full_name, is_active, is_superuser, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id`

	err := s.db.QueryRowxContext(ctx, s.db.Rebind(q),
		a.Email, a.PasswordHash, a.FullName, a.IsActive, a.IsSuperuser, a.CreatedAt, a.UpdatedAt,
	).Scan(&a.ID)
	if err != nil {
		return wrapWrite("insert account", err)
	}
	return nil
}

// GetAccount returns an account by ID.
func (s *Store) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	var a model.Account
	q := s.db.Rebind("SELECT " + accountColumns + " FROM accounts WHERE id = ?")
	if err := s.db.GetContext(ctx, &a, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	normalizeAccount(&a)
	return &a, nil
}

// GetAccountByEmail returns an account by its unique email address.
func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	var a model.Account
	q := s.db.Rebind("SELECT " + accountColumns + " FROM accounts WHERE email = ?")
	if err := s.db.GetContext(ctx, &a, q, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("get account by email: %w", err)
	}
	normalizeAccount(&a)
	return &a, nil
}

// ListAccounts returns accounts ordered by ID.
func (s *Store) ListAccounts(ctx context.Context, offset, limit int) ([]model.Account, error) {
	accounts := []model.Account{}
	q := s.db.Rebind("SELECT " + accountColumns + " FROM accounts ORDER BY id LIMIT ? OFFSET ?")
	if err := s.db.SelectContext(ctx, &accounts, q, limit, offset); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	for i := range accounts {
		normalizeAccount(&accounts[i])
	}
	return accounts, nil
}

// UpdateAccount writes the mutable account fields. UpdatedAt is refreshed
// automatically.
func (s *Store) UpdateAccount(ctx context.Context, a *model.Account) error {
	a.UpdatedAt = time.Now().UTC()

	const q = `UPDATE accounts SET
		email = :email, password_hash = :password_hash, full_name = :full_name,
		is_active = :is_active, is_superuser = :is_superuser, updated_at = :updated_at
		WHERE id = :id`

	result, err := s.db.NamedExecContext(ctx, q, a)
	if err != nil {
		return wrapWrite("update account", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update account rows affected: %w", err)
	}
	if n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// UpdateAccountLastLogin sets the last_login_at timestamp for an account.
func (s *Store) UpdateAccountLastLogin(ctx context.Context, id int64, at time.Time) error {
	at = at.UTC()
	result, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE accounts SET last_login_at = ?, updated_at = ? WHERE id = ?"), at, at, id)
	if err != nil {
		return fmt.Errorf("update account last login: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update account last login rows affected: %w", err)
	}
	if n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// CountAccounts returns the number of accounts. Used for first-run detection.
func (s *Store) CountAccounts(ctx context.Context) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM accounts"); err != nil {
		return 0, fmt.Errorf("count accounts: %w", err)
	}
	return count, nil
}

func normalizeAccount(a *model.Account) {
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	if a.LastLoginAt != nil {
		t := a.LastLoginAt.UTC()
		a.LastLoginAt = &t
	}
}
