package model

import "time"

// Credential is a stored third-party secret owned by one Account. The secret
// itself lives only in EncryptedSecret; callers present the raw access key,
// which is never stored. Only its SHA-256 hash and a short display prefix
// are persisted.
type Credential struct {
	ID              int64             `json:"id"`
	OwnerID         int64             `json:"owner_id"`
	ServiceName     string            `json:"service_name"`
	KeyHash         string            `json:"-"`
	KeyPrefix       string            `json:"key_prefix"`
	EncryptedSecret string            `json:"-"`
	Metadata        map[string]string `json:"key_metadata"` // non-secret fields only
	IsActive        bool              `json:"is_active"`
	RateLimit       *int              `json:"rate_limit,omitempty"`
	UsageCount      int64             `json:"usage_count"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	ExpiresAt       *time.Time        `json:"expires_at,omitempty"`
	LastUsedAt      *time.Time        `json:"last_used_at,omitempty"`
}

// EffectiveLimit returns the credential's per-window request limit, or def
// when none is configured.
func (c *Credential) EffectiveLimit(def int) int {
	if c.RateLimit != nil && *c.RateLimit > 0 {
		return *c.RateLimit
	}
	return def
}

// Expired reports whether the credential has an expiry at or before now.
func (c *Credential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !c.ExpiresAt.After(now)
}

// CredentialView is the JSON shape returned by the management API. It
// carries the effective rate limit and, only on creation, the raw access key.
type CredentialView struct {
	Credential
	EffectiveRateLimit int    `json:"effective_rate_limit"`
	AccessKey          string `json:"access_key,omitempty"`
}
