package auth

import (
	"errors"
	"net/http"

	"github.com/noah-isme/backend-voucher/internal/common"
)

// Middleware gates HTTP handlers behind bearer-token verification.
type Middleware struct {
	Verifier *Verifier
}

// RequireAuth enforces a valid bearer token and attaches the caller identity
// to the request context.
func (m Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := m.verify(r)
		if err != nil {
			renderAuthError(w, err)
			return
		}
		ctx := common.WithIdentity(r.Context(), common.Identity{
			AuthID:    claims.AuthID,
			Admin:     claims.Admin,
			RawHeader: claims.RawHeader,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin enforces a valid bearer token carrying the admin claim.
func (m Middleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := m.verify(r)
		if err != nil {
			renderAuthError(w, err)
			return
		}
		if err := claims.RequireAdmin(); err != nil {
			renderAuthError(w, err)
			return
		}
		ctx := common.WithIdentity(r.Context(), common.Identity{
			AuthID:    claims.AuthID,
			Admin:     true,
			RawHeader: claims.RawHeader,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m Middleware) verify(r *http.Request) (Claims, error) {
	if m.Verifier == nil {
		return Claims{}, errors.New("auth: verifier not configured")
	}
	return m.Verifier.VerifyHeader(r.Header.Get("Authorization"))
}

func renderAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrForbidden):
		common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "admin privileges required", nil)
	case errors.Is(err, ErrMalformedHeader):
		common.JSONError(w, http.StatusUnauthorized, "MALFORMED_HEADER", "authorization header must be 'Bearer <token>'", nil)
	case errors.Is(err, ErrExpired):
		common.JSONError(w, http.StatusUnauthorized, "TOKEN_EXPIRED", "token has expired", nil)
	case errors.Is(err, ErrMissingClaim):
		common.JSONError(w, http.StatusUnauthorized, "MISSING_CLAIM", "token missing required claim", nil)
	default:
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
	}
}
