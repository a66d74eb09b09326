package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/synrgscaling/federation-gateway/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", auth.ErrMissingCredential
	}
	if !strings.HasPrefix(header, bearer) {
		return "", auth.ErrMalformedCredential
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, bearer))
	if token == "" {
		return "", auth.ErrMissingCredential
	}
	return token, nil
}

// withAuth verifies the bearer credential and attaches the claim set to the
// request context. Routes mounted behind it never see an anonymous request.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			respondError(w, http.StatusUnauthorized, CodeUnauthenticated, err.Error())
			return
		}

		claims, err := a.gate.Verify(token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrExpiredCredential):
				respondError(w, http.StatusUnauthorized, CodeUnauthenticated, "credential expired")
			default:
				respondError(w, http.StatusUnauthorized, CodeUnauthenticated, "invalid credential")
			}
			a.limiter.RecordIssuanceFailure(r.Context(), a.clientIP(r))
			return
		}

		ctx := auth.ContextWithClaims(r.Context(), claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin gates the grant-management and audit surfaces.
func (a *API) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.ClaimsFromContext(r.Context())
		if !ok {
			respondError(w, http.StatusUnauthorized, CodeUnauthenticated, "missing credential")
			return
		}
		if !claims.IsAdmin() {
			respondError(w, http.StatusForbidden, CodeForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
