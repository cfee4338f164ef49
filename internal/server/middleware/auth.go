package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/faucetdb/keygate/internal/errs"
	"github.com/faucetdb/keygate/internal/model"
)

// AccountKey is the context key for the authenticated account.
const AccountKey contextKey = "account"

// AccountResolver turns a bearer token into an active account.
type AccountResolver interface {
	Resolve(ctx context.Context, token string) (*model.Account, error)
}

// Authenticate requires an "Authorization: Bearer <token>" header and
// attaches the resolved account to the request context.
func Authenticate(resolver AccountResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="keygate"`)
				writeError(w, http.StatusUnauthorized, "bearer token required")
				return
			}

			account, err := resolver.Resolve(r.Context(), token)
			if err != nil {
				if errors.Is(err, errs.ErrAuthentication) {
					w.Header().Set("WWW-Authenticate", `Bearer realm="keygate", error="invalid_token"`)
				}
				writeError(w, errs.Status(err), errs.PublicMessage(err))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), account)))
		})
	}
}

// RequireSuperuser rejects requests whose account lacks elevated privilege.
// It must run after Authenticate.
func RequireSuperuser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a := AccountFromContext(r.Context())
		if a == nil || !a.IsSuperuser {
			writeError(w, http.StatusForbidden, "superuser required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WithAccount stores a in ctx.
func WithAccount(ctx context.Context, a *model.Account) context.Context {
	return context.WithValue(ctx, AccountKey, a)
}

// AccountFromContext returns the authenticated account, or nil.
func AccountFromContext(ctx context.Context) *model.Account {
	if a, ok := ctx.Value(AccountKey).(*model.Account); ok {
		return a
	}
	return nil
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
