package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// LoginThrottle limits token requests per client IP. It guards password
// guessing and is independent of per-credential rate limits.
func LoginThrottle(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, "too many login attempts")
		}),
	)
}
