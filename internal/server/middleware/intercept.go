package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/faucetdb/keygate/internal/errs"
	"github.com/faucetdb/keygate/internal/model"
	"github.com/faucetdb/keygate/internal/ratelimit"
	"github.com/faucetdb/keygate/internal/telemetry"
)

// Interceptor defaults.
const (
	DefaultProtectedPrefix = "/api"
	DefaultAPIKeyHeader    = "X-API-Key"
)

// DefaultExemptPrefixes are the management routes under the protected
// prefix. They authenticate with bearer tokens instead of access keys.
var DefaultExemptPrefixes = []string{
	"/api/keys",
	"/api/token",
	"/api/users",
	"/api/monitor",
	"/api/catalog",
}

// Rejection messages returned to callers and stored on the usage record.
const (
	msgCredentialRequired = "credential required"
	msgInvalidCredential  = "invalid credential"
	msgExpired            = "credential expired"
)

// unknownService labels requests whose path names no registered service.
const unknownService = "unknown"

// CredentialKey is the context key for the credential admitted by the
// interceptor.
const CredentialKey contextKey = "credential"

const errorSlotKey contextKey = "error_slot"

// CredentialResolver maps a raw access key onto its stored credential.
type CredentialResolver interface {
	Resolve(ctx context.Context, rawKey string) (*model.Credential, error)
}

// Admission decides whether a credential may be used now.
type Admission interface {
	Check(ctx context.Context, cred *model.Credential) (bool, ratelimit.Status, error)
}

// UsageRecorder appends usage records.
type UsageRecorder interface {
	Record(ctx context.Context, rec *model.UsageRecord) error
}

// InterceptorConfig configures an Interceptor. Zero values select defaults.
type InterceptorConfig struct {
	ProtectedPrefix string
	ExemptPrefixes  []string
	Header          string
	// KnownService reports whether a path segment names a registered
	// service. Unregistered names are recorded as "unknown". Nil treats
	// every name as unregistered.
	KnownService func(name string) bool
	Logger       *slog.Logger
	Metrics      *telemetry.Metrics
	Now          func() time.Time
}

// Interceptor guards access-key routes. Every request it does not bypass
// yields exactly one usage record, whatever the outcome.
type Interceptor struct {
	prefix  string
	exempt  []string
	header  string
	known   func(string) bool
	logger  *slog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time

	creds   CredentialResolver
	limiter Admission
	ledger  UsageRecorder
}

// NewInterceptor creates an Interceptor.
func NewInterceptor(cfg InterceptorConfig, creds CredentialResolver, limiter Admission, ledger UsageRecorder) *Interceptor {
	if cfg.ProtectedPrefix == "" {
		cfg.ProtectedPrefix = DefaultProtectedPrefix
	}
	if cfg.ExemptPrefixes == nil {
		cfg.ExemptPrefixes = DefaultExemptPrefixes
	}
	if cfg.Header == "" {
		cfg.Header = DefaultAPIKeyHeader
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.KnownService == nil {
		cfg.KnownService = func(string) bool { return false }
	}
	return &Interceptor{
		prefix:  strings.TrimSuffix(cfg.ProtectedPrefix, "/"),
		exempt:  cfg.ExemptPrefixes,
		header:  cfg.Header,
		known:   cfg.KnownService,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		now:     cfg.Now,
		creds:   creds,
		limiter: limiter,
		ledger:  ledger,
	}
}

// Bypass reports whether path skips interception: it is outside the
// protected prefix or under a management route.
func (ic *Interceptor) Bypass(path string) bool {
	if !hasPathPrefix(path, ic.prefix) {
		return true
	}
	for _, p := range ic.exempt {
		if hasPathPrefix(path, p) {
			return true
		}
	}
	return false
}

// Handler wraps next with interception.
func (ic *Interceptor) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ic.Bypass(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		ic.intercept(w, r, next)
	})
}

// outcome accumulates what the record step needs.
type outcome struct {
	cred   *model.Credential
	status int
	errMsg string
}

func (ic *Interceptor) intercept(w http.ResponseWriter, r *http.Request, next http.Handler) {
	start := ic.now()
	out := &outcome{}
	slot := &errorSlot{}
	ctx := context.WithValue(r.Context(), errorSlotKey, slot)

	defer func() {
		// A disconnected caller must not cancel the audit write.
		ic.record(context.WithoutCancel(ctx), r, out, ic.now().Sub(start))
	}()

	rawKey := strings.TrimSpace(r.Header.Get(ic.header))
	if rawKey == "" {
		ic.reject(w, out, http.StatusUnauthorized, msgCredentialRequired, msgCredentialRequired)
		return
	}

	cred, err := ic.creds.Resolve(ctx, rawKey)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		ic.reject(w, out, http.StatusUnauthorized, msgInvalidCredential, msgInvalidCredential)
		return
	case err != nil:
		ic.reject(w, out, errs.Status(err), errs.PublicMessage(err), err.Error())
		return
	}
	if !cred.IsActive {
		ic.reject(w, out, http.StatusUnauthorized, msgInvalidCredential, msgInvalidCredential)
		return
	}
	out.cred = cred
	if cred.Expired(ic.now()) {
		ic.reject(w, out, http.StatusUnauthorized, msgExpired, msgExpired)
		return
	}

	allowed, st, err := ic.limiter.Check(ctx, cred)
	if err != nil {
		ic.reject(w, out, errs.Status(err), errs.PublicMessage(err), err.Error())
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(st.Limit))
	if !allowed {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter(st.ResetAt, ic.now())))
		limited := errs.ErrRateLimited
		ic.reject(w, out, errs.Status(limited), errs.PublicMessage(limited), limited.Error())
		return
	}
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(0, st.Remaining-1)))

	ic.dispatch(w, r.WithContext(context.WithValue(ctx, CredentialKey, cred)), next, out, slot)
}

// dispatch runs next, capturing its status and converting a panic into a
// 500 whose text is kept for the usage record.
func (ic *Interceptor) dispatch(w http.ResponseWriter, r *http.Request, next http.Handler, out *outcome, slot *errorSlot) {
	ww := wrapWriter(w)
	defer func() {
		rec := recover()
		if rec == http.ErrAbortHandler {
			out.status = ww.status
			out.errMsg = "handler aborted"
			panic(rec)
		}
		if rec != nil {
			ic.logger.Error("panic in intercepted handler",
				"panic", rec,
				"path", r.URL.Path,
				"request_id", GetRequestID(r.Context()),
			)
			if !ww.wroteHeader {
				writeError(ww, http.StatusInternalServerError, "internal server error")
			}
			out.status = http.StatusInternalServerError
			out.errMsg = fmt.Sprint(rec)
			return
		}
		out.status = ww.status
		if slot.err != nil {
			out.errMsg = slot.err.Error()
		}
	}()
	next.ServeHTTP(ww, r)
}

func (ic *Interceptor) reject(w http.ResponseWriter, out *outcome, status int, public, detail string) {
	writeError(w, status, public)
	out.status = status
	out.errMsg = detail
}

func (ic *Interceptor) record(ctx context.Context, r *http.Request, out *outcome, elapsed time.Duration) {
	svc := ic.serviceFromPath(r.URL.Path)
	if out.cred != nil {
		svc = out.cred.ServiceName
	}
	rec := &model.UsageRecord{
		ServiceName:    svc,
		RequestedAt:    ic.now().UTC(),
		Method:         r.Method,
		Endpoint:       r.URL.Path,
		Status:         out.status,
		ResponseTimeMs: float64(elapsed.Microseconds()) / 1000.0,
		ClientIP:       clientIP(r.RemoteAddr),
		UserAgent:      r.UserAgent(),
	}
	if out.cred != nil {
		rec.CredentialID = &out.cred.ID
	}
	if out.errMsg != "" {
		msg := out.errMsg
		rec.Error = &msg
	}

	if err := ic.ledger.Record(ctx, rec); err != nil {
		ic.logger.Error("usage record failed",
			"error", err,
			"path", r.URL.Path,
			"status", out.status,
			"request_id", GetRequestID(r.Context()),
		)
	}

	endpoint := ic.prefix + "/*"
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			endpoint = p
		}
	}
	ic.metrics.ObserveRequest(svc, endpoint, out.status, elapsed)
}

// serviceFromPath returns the first path segment under the protected prefix
// when it names a registered service, else "unknown". Caller-chosen names
// never reach the ledger or metric labels.
func (ic *Interceptor) serviceFromPath(path string) string {
	rest := strings.TrimPrefix(strings.TrimPrefix(path, ic.prefix), "/")
	svc, _, _ := strings.Cut(rest, "/")
	if svc == "" || !ic.known(svc) {
		return unknownService
	}
	return svc
}

// CredentialFromContext returns the credential admitted by the interceptor,
// or nil.
func CredentialFromContext(ctx context.Context) *model.Credential {
	if c, ok := ctx.Value(CredentialKey).(*model.Credential); ok {
		return c
	}
	return nil
}

type errorSlot struct {
	err error
}

// ReportError attaches diagnostic text to the current intercepted request's
// usage record. It is a no-op outside the interceptor.
func ReportError(ctx context.Context, err error) {
	if slot, ok := ctx.Value(errorSlotKey).(*errorSlot); ok && err != nil {
		slot.err = err
	}
}

func hasPathPrefix(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func retryAfter(resetAt, now time.Time) int {
	secs := int(math.Ceil(resetAt.Sub(now).Seconds()))
	return max(1, secs)
}

func clientIP(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}
