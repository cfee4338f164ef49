package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"maps"
	"time"

	"github.com/faucetdb/keygate/internal/connector"
	"github.com/faucetdb/keygate/internal/crypto"
	"github.com/faucetdb/keygate/internal/errs"
	"github.com/faucetdb/keygate/internal/model"
	"github.com/faucetdb/keygate/internal/store"
)

const (
	accessKeyPrefix    = "kg_"
	accessKeyBytes     = 32
	displayPrefixChars = len(accessKeyPrefix) + 8

	defaultUsageLimit = 100
	maxUsageLimit     = 1000
)

// CreateCredentialInput is the payload for storing a new credential.
type CreateCredentialInput struct {
	ServiceName string            `json:"service_name"`
	Metadata    map[string]string `json:"key_metadata"`
	RateLimit   *int              `json:"rate_limit"`
	ExpiresAt   *time.Time        `json:"expires_at"`
}

// UpdateCredentialInput carries the optional fields of a credential update.
// A non-nil Metadata replaces the stored metadata and secret entirely.
type UpdateCredentialInput struct {
	Metadata  map[string]string `json:"key_metadata"`
	IsActive  *bool             `json:"is_active"`
	RateLimit *int              `json:"rate_limit"`
	ExpiresAt *time.Time        `json:"expires_at"`
}

// CredentialService stores third-party secrets encrypted and issues the
// access keys callers present to use them.
type CredentialService struct {
	store        *store.Store
	registry     *connector.Registry
	cipher       *crypto.Cipher
	ledger       *Ledger
	defaultLimit int
}

// NewCredentialService creates a CredentialService. defaultLimit is the
// per-window request limit applied to credentials without their own.
func NewCredentialService(st *store.Store, registry *connector.Registry, cipher *crypto.Cipher, ledger *Ledger, defaultLimit int) *CredentialService {
	return &CredentialService{
		store:        st,
		registry:     registry,
		cipher:       cipher,
		ledger:       ledger,
		defaultLimit: defaultLimit,
	}
}

// Create validates and stores a credential for owner. The returned access
// key is shown exactly once; only its hash is persisted.
func (s *CredentialService) Create(ctx context.Context, owner *model.Account, in CreateCredentialInput) (*model.Credential, string, error) {
	spec, err := s.registry.Get(in.ServiceName)
	if err != nil {
		return nil, "", err
	}
	if err := spec.Validate(in.Metadata); err != nil {
		return nil, "", err
	}
	if err := validateRateLimit(in.RateLimit); err != nil {
		return nil, "", err
	}

	sealed, meta, err := s.seal(spec, in.Metadata)
	if err != nil {
		return nil, "", err
	}

	rawKey, err := generateAccessKey()
	if err != nil {
		return nil, "", err
	}

	c := &model.Credential{
		OwnerID:         owner.ID,
		ServiceName:     spec.Name,
		KeyHash:         HashAccessKey(rawKey),
		KeyPrefix:       rawKey[:displayPrefixChars],
		EncryptedSecret: sealed,
		Metadata:        meta,
		IsActive:        true,
		RateLimit:       in.RateLimit,
		ExpiresAt:       in.ExpiresAt,
	}
	if err := s.store.CreateCredential(ctx, c); err != nil {
		return nil, "", err
	}
	return c, rawKey, nil
}

// List returns the credentials owned by owner, optionally filtered by
// service.
func (s *CredentialService) List(ctx context.Context, owner *model.Account, serviceName string) ([]model.Credential, error) {
	return s.store.ListCredentials(ctx, owner.ID, serviceName)
}

// Get returns a credential visible to actor for capability c.
func (s *CredentialService) Get(ctx context.Context, actor *model.Account, id int64, c Capability) (*model.Credential, error) {
	cred, err := s.store.GetCredential(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, cred, c); err != nil {
		return nil, err
	}
	return cred, nil
}

// Update applies in to a credential owned by actor.
func (s *CredentialService) Update(ctx context.Context, actor *model.Account, id int64, in UpdateCredentialInput) (*model.Credential, error) {
	cred, err := s.Get(ctx, actor, id, CapUpdate)
	if err != nil {
		return nil, err
	}

	if in.Metadata != nil {
		spec, err := s.registry.Get(cred.ServiceName)
		if err != nil {
			return nil, err
		}
		if err := spec.Validate(in.Metadata); err != nil {
			return nil, err
		}
		sealed, meta, err := s.seal(spec, in.Metadata)
		if err != nil {
			return nil, err
		}
		cred.EncryptedSecret = sealed
		cred.Metadata = meta
	}
	if in.IsActive != nil {
		cred.IsActive = *in.IsActive
	}
	if in.RateLimit != nil {
		if err := validateRateLimit(in.RateLimit); err != nil {
			return nil, err
		}
		cred.RateLimit = in.RateLimit
	}
	if in.ExpiresAt != nil {
		cred.ExpiresAt = in.ExpiresAt
	}

	if err := s.store.UpdateCredential(ctx, cred); err != nil {
		return nil, err
	}
	return cred, nil
}

// Delete hard-deletes a credential owned by actor. Its usage history stays.
func (s *CredentialService) Delete(ctx context.Context, actor *model.Account, id int64) error {
	cred, err := s.Get(ctx, actor, id, CapDelete)
	if err != nil {
		return err
	}
	return s.store.DeleteCredential(ctx, cred.ID)
}

// Usage returns up to limit usage records for a credential owned by actor,
// newest first.
func (s *CredentialService) Usage(ctx context.Context, actor *model.Account, id int64, limit int) ([]model.UsageRecord, error) {
	cred, err := s.Get(ctx, actor, id, CapViewUsage)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultUsageLimit
	}
	if limit > maxUsageLimit {
		limit = maxUsageLimit
	}
	return s.ledger.List(ctx, cred.ID, limit)
}

// Resolve maps a raw access key onto its stored credential.
func (s *CredentialService) Resolve(ctx context.Context, rawKey string) (*model.Credential, error) {
	return s.store.GetCredentialByKeyHash(ctx, HashAccessKey(rawKey))
}

// Secret decrypts the credential's third-party secret.
func (s *CredentialService) Secret(cred *model.Credential) (string, error) {
	return s.cipher.DecryptString(cred.EncryptedSecret)
}

// View builds the API representation of cred.
func (s *CredentialService) View(cred *model.Credential, accessKey string) model.CredentialView {
	return model.CredentialView{
		Credential:         *cred,
		EffectiveRateLimit: cred.EffectiveLimit(s.defaultLimit),
		AccessKey:          accessKey,
	}
}

// seal encrypts the service's secret field and returns the remaining
// non-secret metadata.
func (s *CredentialService) seal(spec connector.ServiceSpec, meta map[string]string) (string, map[string]string, error) {
	rest := maps.Clone(meta)
	secret := rest[spec.SecretField]
	delete(rest, spec.SecretField)

	sealed, err := s.cipher.EncryptString(secret)
	if err != nil {
		return "", nil, fmt.Errorf("encrypt secret: %w", err)
	}
	return sealed, rest, nil
}

func validateRateLimit(limit *int) error {
	if limit != nil && *limit < 1 {
		return fmt.Errorf("%w: rate_limit must be at least 1", errs.ErrValidation)
	}
	return nil
}

func generateAccessKey() (string, error) {
	buf := make([]byte, accessKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate access key: %w", err)
	}
	return accessKeyPrefix + hex.EncodeToString(buf), nil
}

// HashAccessKey returns the hex-encoded SHA-256 hash of a raw access key.
func HashAccessKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}
