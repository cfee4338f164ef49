// Package ratelimit decides whether a credential may be used right now by
// recounting its usage records in a trailing window.
//
// The check and the subsequent usage write are not atomic: two requests
// evaluated concurrently can both observe count < limit and both be
// admitted. The overrun is bounded by the request concurrency for one
// credential and is accepted in exchange for keeping all state in the
// store.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/faucetdb/keygate/internal/model"
)

const (
	// DefaultWindow is the trailing window length.
	DefaultWindow = time.Minute
	// DefaultLimit is the per-window limit for credentials without their own.
	DefaultLimit = 60
)

// WindowCounter answers window queries over the usage ledger.
type WindowCounter interface {
	CountUsageSince(ctx context.Context, credentialID int64, since time.Time) (int, error)
	OldestUsageSince(ctx context.Context, credentialID int64, since time.Time) (*time.Time, error)
}

// Options configures a Limiter. Zero values select the defaults.
type Options struct {
	Window       time.Duration
	DefaultLimit int
	Now          func() time.Time
}

// Status is the limiter's view of one credential.
type Status struct {
	Limit     int       `json:"limit"`
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Limiter is a sliding-window-by-recount rate limiter.
type Limiter struct {
	counter      WindowCounter
	window       time.Duration
	defaultLimit int
	now          func() time.Time
}

// New creates a Limiter backed by counter.
func New(counter WindowCounter, opts Options) *Limiter {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = DefaultLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Limiter{
		counter:      counter,
		window:       opts.Window,
		defaultLimit: opts.DefaultLimit,
		now:          opts.Now,
	}
}

// Window returns the trailing window length.
func (l *Limiter) Window() time.Duration { return l.window }

// DefaultLimit returns the fallback per-window limit.
func (l *Limiter) DefaultLimit() int { return l.defaultLimit }

// Allow reports whether cred has fewer usage records in the trailing window
// than its limit.
func (l *Limiter) Allow(ctx context.Context, cred *model.Credential) (bool, error) {
	since := l.now().Add(-l.window)
	used, err := l.counter.CountUsageSince(ctx, cred.ID, since)
	if err != nil {
		return false, fmt.Errorf("rate limit count: %w", err)
	}
	return used < cred.EffectiveLimit(l.defaultLimit), nil
}

// Check is Allow plus the Status it was decided from, for callers that
// surface limit headers.
func (l *Limiter) Check(ctx context.Context, cred *model.Credential) (bool, Status, error) {
	st, err := l.Status(ctx, cred)
	if err != nil {
		return false, Status{}, err
	}
	return st.Used < st.Limit, st, nil
}

// Status reports limit, usage, and when the oldest in-window record leaves
// the window. With an empty window ResetAt is now.
func (l *Limiter) Status(ctx context.Context, cred *model.Credential) (Status, error) {
	now := l.now()
	since := now.Add(-l.window)

	used, err := l.counter.CountUsageSince(ctx, cred.ID, since)
	if err != nil {
		return Status{}, fmt.Errorf("rate limit count: %w", err)
	}
	limit := cred.EffectiveLimit(l.defaultLimit)

	st := Status{
		Limit:     limit,
		Used:      used,
		Remaining: max(0, limit-used),
		ResetAt:   now.UTC(),
	}
	if used > 0 {
		oldest, err := l.counter.OldestUsageSince(ctx, cred.ID, since)
		if err != nil {
			return Status{}, fmt.Errorf("rate limit oldest: %w", err)
		}
		if oldest != nil {
			st.ResetAt = oldest.Add(l.window).UTC()
		}
	}
	return st, nil
}
