package handler

import (
	"fmt"
	"net/http"

	"github.com/faucetdb/keygate/internal/errs"
	"github.com/faucetdb/keygate/internal/model"
	"github.com/faucetdb/keygate/internal/monitor"
	"github.com/faucetdb/keygate/internal/server/middleware"
)

// MonitorHandler serves health and usage reporting.
type MonitorHandler struct {
	monitor *monitor.Service
}

// NewMonitorHandler creates a MonitorHandler.
func NewMonitorHandler(mon *monitor.Service) *MonitorHandler {
	return &MonitorHandler{monitor: mon}
}

// Health reports store reachability. Unhealthy responses use 503.
// GET /health
func (h *MonitorHandler) Health(w http.ResponseWriter, r *http.Request) {
	report := h.monitor.Health(r.Context())
	status := http.StatusOK
	if report.Status != monitor.StatusHealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

// Usage aggregates usage statistics. Superuser only.
// GET /api/monitor/usage?service_name=&days=
func (h *MonitorHandler) Usage(w http.ResponseWriter, r *http.Request) {
	days, err := reportDays(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	stats, err := h.monitor.UsageStatistics(r.Context(), r.URL.Query().Get("service_name"), days)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Errors lists failed requests, newest first. Superuser only.
// GET /api/monitor/errors?service_name=&days=
func (h *MonitorHandler) Errors(w http.ResponseWriter, r *http.Request) {
	days, err := reportDays(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	entries, err := h.monitor.ErrorReport(r.Context(), r.URL.Query().Get("service_name"), days)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse[model.ErrorEntry]{
		Resource: entries,
		Meta:     &model.ResponseMeta{Count: len(entries)},
	})
}

// RateLimit reports the limiter's view of a credential. Owners and
// superusers only.
// GET /api/monitor/rate-limits/{credentialId}
func (h *MonitorHandler) RateLimit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "credentialId")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	st, err := h.monitor.RateLimitStatus(r.Context(), middleware.AccountFromContext(r.Context()), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func reportDays(r *http.Request) (int, error) {
	days, err := queryInt(r, "days", monitor.DefaultDays)
	if err != nil {
		return 0, err
	}
	if !monitor.ValidDays(days) {
		return 0, fmt.Errorf("%w: days must be between %d and %d", errs.ErrValidation, monitor.MinDays, monitor.MaxDays)
	}
	return days, nil
}
