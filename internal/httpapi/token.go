package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/synrgscaling/federation-gateway/internal/auth"
)

type tokenRequest struct {
	SubjectID       string   `json:"subjectId" validate:"required"`
	Tenant          string   `json:"tenant" validate:"required"`
	Role            string   `json:"role" validate:"required,oneof=user admin"`
	Scope           []string `json:"scope"`
	BootstrapSecret string   `json:"bootstrapSecret" validate:"required"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"tokenType"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// handleIssueToken exchanges the deployment bootstrap secret for a signed
// credential. Failed attempts consume the per-IP issuance budget; the check
// runs first so a locked-out origin cannot keep probing the secret.
func (a *API) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	origin := a.clientIP(r)
	if d := a.limiter.CheckIssuance(r.Context(), origin); !d.Allowed {
		respondRateLimited(w, d)
		return
	}

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid JSON body")
		return
	}
	if err := a.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, "subjectId, tenant, role and bootstrapSecret are required")
		return
	}

	if subtle.ConstantTimeCompare([]byte(req.BootstrapSecret), []byte(a.opts.BootstrapSecret)) != 1 {
		a.limiter.RecordIssuanceFailure(r.Context(), origin)
		a.log.Warn().Str("ip", origin).Str("subject", req.SubjectID).Msg("token issuance rejected")
		respondError(w, http.StatusUnauthorized, CodeUnauthenticated, "invalid bootstrap secret")
		return
	}

	token, err := a.gate.Issue(req.SubjectID, req.Tenant, req.Role, req.Scope, a.opts.TokenTTL)
	if err != nil {
		a.limiter.RecordIssuanceFailure(r.Context(), origin)
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: time.Now().UTC().Add(a.opts.TokenTTL),
	})
}

// handleRefresh re-issues the presented credential with a fresh expiry.
// An expired or malformed credential is never refreshed.
func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	origin := a.clientIP(r)
	if d := a.limiter.CheckIssuance(r.Context(), origin); !d.Allowed {
		respondRateLimited(w, d)
		return
	}

	credential, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		respondError(w, http.StatusUnauthorized, CodeUnauthenticated, err.Error())
		return
	}

	token, err := a.gate.Refresh(credential, a.opts.TokenTTL)
	if err != nil {
		a.limiter.RecordIssuanceFailure(r.Context(), origin)
		if errors.Is(err, auth.ErrExpiredCredential) {
			respondError(w, http.StatusUnauthorized, CodeUnauthenticated, "credential expired, request a new token")
		} else {
			respondError(w, http.StatusUnauthorized, CodeUnauthenticated, "invalid credential")
		}
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: time.Now().UTC().Add(a.opts.TokenTTL),
	})
}
