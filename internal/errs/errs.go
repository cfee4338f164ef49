// Package errs holds the sentinel errors shared by the store, service, and
// transport layers, plus their mapping onto HTTP status codes.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrValidation indicates malformed or incomplete input.
	ErrValidation = errors.New("validation failed")

	// ErrAuthentication indicates missing or wrong credentials.
	ErrAuthentication = errors.New("authentication failed")

	// ErrInvalidToken indicates a bearer token with a bad signature, bad
	// structure, or an expiry in the past. It wraps ErrAuthentication.
	ErrInvalidToken = fmt.Errorf("%w: invalid token", ErrAuthentication)

	// ErrAuthorization indicates the caller lacks the required privilege.
	ErrAuthorization = errors.New("not authorized")

	// ErrNotFound indicates the resource does not exist or is not visible to
	// the caller.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a unique constraint violation (e.g. email taken).
	ErrConflict = errors.New("already exists")

	// ErrRateLimited indicates the credential exhausted its window quota.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrDecryption indicates a ciphertext that is malformed or was sealed
	// under a different key.
	ErrDecryption = errors.New("decryption failed")

	// ErrUpstreamTimeout indicates the third-party call exceeded its deadline.
	ErrUpstreamTimeout = errors.New("upstream timeout")

	// ErrUpstream indicates the third-party call failed at the transport level.
	ErrUpstream = errors.New("upstream unavailable")
)

// Status maps an error onto the HTTP status code returned to callers.
// Unrecognised errors map to 500.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrUpstreamTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the caller-safe text for err. Client errors carry
// their wrapped detail; server errors never do.
func PublicMessage(err error) string {
	status := Status(err)
	switch {
	case status == http.StatusInternalServerError:
		return "internal server error"
	case status == http.StatusGatewayTimeout:
		return "upstream service timed out"
	case status == http.StatusBadGateway:
		return "upstream service unavailable"
	default:
		return err.Error()
	}
}
