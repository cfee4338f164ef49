package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{fmt.Errorf("%w: missing field api_key", ErrValidation), http.StatusBadRequest},
		{ErrAuthentication, http.StatusUnauthorized},
		{fmt.Errorf("%w: expired", ErrInvalidToken), http.StatusUnauthorized},
		{ErrAuthorization, http.StatusForbidden},
		{fmt.Errorf("credential 4: %w", ErrNotFound), http.StatusNotFound},
		{ErrConflict, http.StatusConflict},
		{ErrRateLimited, http.StatusTooManyRequests},
		{ErrDecryption, http.StatusInternalServerError},
		{ErrUpstreamTimeout, http.StatusGatewayTimeout},
		{ErrUpstream, http.StatusBadGateway},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Status(tt.err), "error %v", tt.err)
	}
}

func TestPublicMessageHidesInternalDetail(t *testing.T) {
	err := fmt.Errorf("insert usage: %w", errors.New("database is locked"))
	require.Equal(t, "internal server error", PublicMessage(err))

	err = fmt.Errorf("%w: sealed under another key", ErrDecryption)
	require.Equal(t, "internal server error", PublicMessage(err))

	err = fmt.Errorf("%w: missing required field client_id", ErrValidation)
	require.Equal(t, "validation failed: missing required field client_id", PublicMessage(err))
}

func TestInvalidTokenIsAuthentication(t *testing.T) {
	err := fmt.Errorf("%w: token is expired", ErrInvalidToken)
	require.ErrorIs(t, err, ErrAuthentication)
	require.NotErrorIs(t, ErrAuthentication, ErrInvalidToken)
}

func TestRateLimitedIsPublic(t *testing.T) {
	require.Equal(t, "rate limit exceeded", PublicMessage(ErrRateLimited))
}
