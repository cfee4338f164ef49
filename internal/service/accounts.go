package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/faucetdb/keygate/internal/crypto"
	"github.com/faucetdb/keygate/internal/errs"
	"github.com/faucetdb/keygate/internal/model"
	"github.com/faucetdb/keygate/internal/store"
)

const (
	minPasswordLen = 8
	// bcrypt only accepts the first 72 bytes.
	maxPasswordLen = 72

	// DefaultPageSize is the account list page size when none is given.
	DefaultPageSize = 100
)

// RegisterInput is the payload for creating an account.
type RegisterInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

// UpdateAccountInput carries the optional fields of a profile update.
type UpdateAccountInput struct {
	Email    *string `json:"email"`
	FullName *string `json:"full_name"`
	Password *string `json:"password"`
	IsActive *bool   `json:"is_active"`
}

// LoginResult is returned by a successful Authenticate.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	Account   *model.Account
}

// AccountService manages accounts and turns passwords into bearer tokens.
type AccountService struct {
	store  *store.Store
	tokens *TokenService
	cost   int
	now    func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewAccountService creates an AccountService. bcryptCost tunes password
// hashing; non-positive selects the bcrypt default.
func NewAccountService(st *store.Store, tokens *TokenService, bcryptCost int) *AccountService {
	if bcryptCost <= 0 {
		bcryptCost = crypto.DefaultPasswordCost
	}
	return &AccountService{store: st, tokens: tokens, cost: bcryptCost, now: time.Now}
}

// Tokens returns the token service used for logins.
func (s *AccountService) Tokens() *TokenService {
	return s.tokens
}

// Register creates an active, non-privileged account.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (*model.Account, error) {
	return s.create(ctx, in, false)
}

// CreateSuperuser creates an account with elevated privilege. Used by the
// CLI bootstrap.
func (s *AccountService) CreateSuperuser(ctx context.Context, in RegisterInput) (*model.Account, error) {
	return s.create(ctx, in, true)
}

func (s *AccountService) create(ctx context.Context, in RegisterInput, superuser bool) (*model.Account, error) {
	email := normalizeEmail(in.Email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}

	hash, err := crypto.HashPassword(in.Password, s.cost)
	if err != nil {
		return nil, err
	}

	a := &model.Account{
		Email:        email,
		PasswordHash: hash,
		FullName:     strings.TrimSpace(in.FullName),
		IsActive:     true,
		IsSuperuser:  superuser,
	}
	if err := s.store.CreateAccount(ctx, a); err != nil {
		if errors.Is(err, errs.ErrConflict) {
			return nil, fmt.Errorf("%w: email already registered", errs.ErrConflict)
		}
		return nil, err
	}
	return a, nil
}

// Authenticate checks email and password and issues a bearer token. Unknown
// email and wrong password produce the same error.
func (s *AccountService) Authenticate(ctx context.Context, email, password string) (*LoginResult, error) {
	a, err := s.store.GetAccountByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			// Spend the same bcrypt work as a real comparison.
			crypto.VerifyPassword(s.unknownAccountHash(), password)
			return nil, fmt.Errorf("%w: incorrect email or password", errs.ErrAuthentication)
		}
		return nil, err
	}
	if !crypto.VerifyPassword(a.PasswordHash, password) {
		return nil, fmt.Errorf("%w: incorrect email or password", errs.ErrAuthentication)
	}
	if !a.IsActive {
		return nil, fmt.Errorf("%w: inactive account", errs.ErrAuthentication)
	}

	now := s.now().UTC()
	if err := s.store.UpdateAccountLastLogin(ctx, a.ID, now); err != nil {
		return nil, err
	}
	a.LastLoginAt = &now

	token, exp, err := s.tokens.Issue(a.ID)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Token: token, ExpiresAt: exp, Account: a}, nil
}

// Resolve verifies a bearer token and loads its active account.
func (s *AccountService) Resolve(ctx context.Context, token string) (*model.Account, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, err
	}
	a, err := s.store.GetAccount(ctx, claims.AccountID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown account", errs.ErrInvalidToken)
		}
		return nil, err
	}
	if !a.IsActive {
		return nil, fmt.Errorf("%w: inactive account", errs.ErrAuthentication)
	}
	return a, nil
}

// Get returns an account by ID.
func (s *AccountService) Get(ctx context.Context, id int64) (*model.Account, error) {
	return s.store.GetAccount(ctx, id)
}

// GetByEmail returns an account by email.
func (s *AccountService) GetByEmail(ctx context.Context, email string) (*model.Account, error) {
	return s.store.GetAccountByEmail(ctx, normalizeEmail(email))
}

// List pages through accounts. limit is clamped to [1, DefaultPageSize].
func (s *AccountService) List(ctx context.Context, offset, limit int) ([]model.Account, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > DefaultPageSize {
		limit = DefaultPageSize
	}
	return s.store.ListAccounts(ctx, offset, limit)
}

// UpdateSelf applies a profile update to actor's own account.
func (s *AccountService) UpdateSelf(ctx context.Context, actor *model.Account, in UpdateAccountInput) (*model.Account, error) {
	a, err := s.store.GetAccount(ctx, actor.ID)
	if err != nil {
		return nil, err
	}

	if in.Email != nil {
		email := normalizeEmail(*in.Email)
		if err := validateEmail(email); err != nil {
			return nil, err
		}
		a.Email = email
	}
	if in.FullName != nil {
		a.FullName = strings.TrimSpace(*in.FullName)
	}
	if in.Password != nil {
		if err := validatePassword(*in.Password); err != nil {
			return nil, err
		}
		hash, err := crypto.HashPassword(*in.Password, s.cost)
		if err != nil {
			return nil, err
		}
		a.PasswordHash = hash
	}
	if in.IsActive != nil {
		a.IsActive = *in.IsActive
	}

	if err := s.store.UpdateAccount(ctx, a); err != nil {
		if errors.Is(err, errs.ErrConflict) {
			return nil, fmt.Errorf("%w: email already registered", errs.ErrConflict)
		}
		return nil, err
	}
	return a, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 || strings.ContainsAny(email, " \t") {
		return fmt.Errorf("%w: invalid email address", errs.ErrValidation)
	}
	return nil
}

// unknownAccountHash returns a hash at the configured cost that no password
// is expected to match.
func (s *AccountService) unknownAccountHash() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = crypto.HashPassword("keygate-unknown-account", s.cost)
	})
	return s.dummyHash
}

func validatePassword(pw string) error {
	if len(pw) < minPasswordLen || len(pw) > maxPasswordLen {
		return fmt.Errorf("%w: password must be %d to %d bytes", errs.ErrValidation, minPasswordLen, maxPasswordLen)
	}
	return nil
}
