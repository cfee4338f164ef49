// Package monitor aggregates the usage ledger into health, usage, rate-limit
// and error reports.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/faucetdb/keygate/internal/connector"
	"github.com/faucetdb/keygate/internal/errs"
	"github.com/faucetdb/keygate/internal/model"
	"github.com/faucetdb/keygate/internal/ratelimit"
	"github.com/faucetdb/keygate/internal/service"
	"github.com/faucetdb/keygate/internal/store"
	"github.com/faucetdb/keygate/internal/telemetry"
)

// Health statuses.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Report window bounds, in days.
const (
	MinDays     = 1
	MaxDays     = 30
	DefaultDays = 7
)

// HealthReport is the result of Health.
type HealthReport struct {
	Status     string           `json:"status"`
	Timestamp  time.Time        `json:"timestamp"`
	Components HealthComponents `json:"components"`
}

// HealthComponents lists per-component results.
type HealthComponents struct {
	Database CheckResult       `json:"database"`
	Services map[string]string `json:"services"`
}

// Service answers monitoring queries.
type Service struct {
	store    *store.Store
	registry *connector.Registry
	limiter  *ratelimit.Limiter
	metrics  *telemetry.Metrics
	checker  *Checker
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a monitoring Service. metrics may be nil.
func New(st *store.Store, registry *connector.Registry, limiter *ratelimit.Limiter, metrics *telemetry.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	checker := NewChecker(5 * time.Second)
	checker.Register("database", st.Ping)
	return &Service{
		store:    st,
		registry: registry,
		limiter:  limiter,
		metrics:  metrics,
		checker:  checker,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Checker exposes the underlying checker so callers can register extra checks.
func (s *Service) Checker() *Checker {
	return s.checker
}

// Health checks the store. It never returns an error; failures surface as an
// unhealthy component.
func (s *Service) Health(ctx context.Context) HealthReport {
	results, healthy := s.checker.Run(ctx)

	report := HealthReport{
		Status:    StatusHealthy,
		Timestamp: s.now().UTC(),
		Components: HealthComponents{
			Database: results["database"],
			Services: make(map[string]string),
		},
	}
	if !healthy {
		report.Status = StatusUnhealthy
		s.logger.Warn("health check failed", "database", report.Components.Database.Message)
	}
	for _, name := range s.registry.Names() {
		report.Components.Services[name] = "available"
	}
	return report
}

// ClampDays bounds days to the supported report window.
func ClampDays(days int) int {
	return min(max(days, MinDays), MaxDays)
}

// ValidDays reports whether days is inside the supported report window.
func ValidDays(days int) bool {
	return days >= MinDays && days <= MaxDays
}

// UsageStatistics aggregates usage over the trailing window, optionally for
// one service. It also refreshes the active-credential gauge.
func (s *Service) UsageStatistics(ctx context.Context, serviceName string, days int) (model.UsageStats, error) {
	days = ClampDays(days)
	since := s.now().Add(-time.Duration(days) * 24 * time.Hour)

	stats, err := s.store.UsageStats(ctx, serviceName, since)
	if err != nil {
		return model.UsageStats{}, err
	}
	stats.PeriodDays = days
	stats.ServiceName = serviceName

	if s.metrics != nil {
		active, err := s.store.ActiveCredentialsByService(ctx, since)
		if err != nil {
			s.logger.Warn("active credential gauge refresh failed", "error", err)
		} else {
			s.metrics.SetActiveCredentials(active, s.registry.Names())
		}
	}
	return stats, nil
}

// RateLimitStatus reports the limiter's view of a credential the actor may
// inspect.
func (s *Service) RateLimitStatus(ctx context.Context, actor *model.Account, credentialID int64) (model.RateLimitStatus, error) {
	cred, err := s.store.GetCredential(ctx, credentialID)
	if err != nil {
		return model.RateLimitStatus{}, err
	}
	if err := service.Authorize(actor, cred, service.CapViewRateLimit); err != nil {
		return model.RateLimitStatus{}, err
	}

	st, err := s.limiter.Status(ctx, cred)
	if err != nil {
		return model.RateLimitStatus{}, err
	}
	return model.RateLimitStatus{
		CredentialID: cred.ID,
		ServiceName:  cred.ServiceName,
		Limit:        st.Limit,
		Used:         st.Used,
		Remaining:    st.Remaining,
		ResetAt:      st.ResetAt,
	}, nil
}

// ErrorReport lists records carrying error text in the trailing window,
// newest first.
func (s *Service) ErrorReport(ctx context.Context, serviceName string, days int) ([]model.ErrorEntry, error) {
	days = ClampDays(days)
	since := s.now().Add(-time.Duration(days) * 24 * time.Hour)
	return s.store.ListErrors(ctx, serviceName, since)
}

// CredentialUsage lists recent usage for any credential. It is an operator
// view and performs no ownership check.
func (s *Service) CredentialUsage(ctx context.Context, credentialID int64, limit int) ([]model.UsageRecord, error) {
	if _, err := s.store.GetCredential(ctx, credentialID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		return nil, fmt.Errorf("%w: limit must be between 1 and 1000", errs.ErrValidation)
	}
	return s.store.ListUsage(ctx, credentialID, limit)
}
