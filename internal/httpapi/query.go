package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/synrgscaling/federation-gateway/internal/audit"
	"github.com/synrgscaling/federation-gateway/internal/auth"
	"github.com/synrgscaling/federation-gateway/internal/executor"
	"github.com/synrgscaling/federation-gateway/internal/obs"
	"github.com/synrgscaling/federation-gateway/internal/permission"
	"github.com/synrgscaling/federation-gateway/internal/sqlcheck"
)

type queryRequest struct {
	TargetTenant string `json:"targetTenant" validate:"required"`
	Query        string `json:"query" validate:"required"`
	Reason       string `json:"reason" validate:"required"`
	ResourceType string `json:"resourceType"`
}

type queryResponse struct {
	TargetTenant    string           `json:"targetTenant"`
	Count           int              `json:"count"`
	ExecutionTimeMs int64            `json:"executionTimeMs"`
	Results         []map[string]any `json:"results"`
	AuditID         string           `json:"auditId"`
}

// handleQuery runs the gates in fixed order: identity (middleware), general
// rate tier, permission, cross-tenant rate tier, statement validation,
// scoped execution. The first failing gate short-circuits. Every attempt,
// allowed or denied, produces exactly one audit record; capture is
// asynchronous so audit latency never shows up in the caller's clock.
func (a *API) handleQuery(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, CodeUnauthenticated, "missing credential")
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid JSON body")
		return
	}
	if err := a.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, "targetTenant, query and reason are required")
		return
	}

	rec := audit.Record{
		SourceDept: claims.Tenant,
		TargetDept: req.TargetTenant,
		SubjectID:  claims.SubjectID,
		QueryText:  req.Query,
		Reason:     req.Reason,
		ClientIP:   a.clientIP(r),
		UserAgent:  r.UserAgent(),
	}

	deny := func(status int, code, message string) {
		respondError(w, status, code, message)
		obs.ObserveDenial(code)
		rec.Allowed = false
		rec.DenyCode = code
		a.recorder.Record(rec)
	}

	if req.TargetTenant == claims.Tenant {
		deny(http.StatusBadRequest, CodeInvalidQuery, "target tenant must differ from your own; query your own schema directly")
		return
	}

	if d := a.limiter.CheckGeneral(r.Context(), claims.Tenant); !d.Allowed {
		respondRateLimited(w, d)
		obs.ObserveDenial(CodeRateLimited)
		rec.Allowed = false
		rec.DenyCode = CodeRateLimited
		a.recorder.Record(rec)
		return
	}

	if _, err := a.checker.Check(r.Context(), claims.Tenant, req.TargetTenant, req.ResourceType); err != nil {
		switch {
		case errors.Is(err, permission.ErrNoGrant):
			deny(http.StatusForbidden, CodeForbidden, "no active grant for this target department")
		case errors.Is(err, permission.ErrGrantExpired):
			deny(http.StatusForbidden, CodeForbidden, "grant has expired")
		default:
			a.log.Error().Err(err).Msg("permission lookup failed")
			deny(http.StatusInternalServerError, CodeInternal, "permission lookup failed")
		}
		return
	}

	if d := a.limiter.CheckCrossTenant(r.Context(), claims.Tenant, req.TargetTenant); !d.Allowed {
		respondRateLimited(w, d)
		obs.ObserveDenial(CodeRateLimited)
		rec.Allowed = false
		rec.DenyCode = CodeRateLimited
		a.recorder.Record(rec)
		return
	}

	if err := sqlcheck.Validate(req.Query); err != nil {
		var verr *sqlcheck.ValidationError
		msg := "query rejected"
		if errors.As(err, &verr) {
			msg = verr.Reason
		}
		deny(http.StatusBadRequest, CodeInvalidQuery, msg)
		return
	}

	result, err := a.exec.Execute(r.Context(), req.TargetTenant, req.Query)
	if err != nil {
		switch {
		case errors.Is(err, executor.ErrTimeout):
			deny(http.StatusGatewayTimeout, CodeExecutionTimeout, "query exceeded the execution time limit")
		case errors.Is(err, executor.ErrInvalidTenant):
			deny(http.StatusBadRequest, CodeInvalidRequest, "unknown target tenant")
		default:
			deny(http.StatusInternalServerError, CodeExecutionError, a.executionMessage(err))
		}
		return
	}

	obs.ObserveQueryDuration(result.Duration)

	rec.Allowed = true
	rec.ResultCount = result.RowCount
	rec.DurationMs = result.Duration.Milliseconds()

	resp := queryResponse{
		TargetTenant:    req.TargetTenant,
		Count:           result.RowCount,
		ExecutionTimeMs: result.Duration.Milliseconds(),
		Results:         result.Rows,
	}
	if resp.Results == nil {
		resp.Results = []map[string]any{}
	}
	resp.AuditID = a.recorder.Record(rec)
	writeJSON(w, http.StatusOK, resp)
}

// executionMessage hides driver internals outside development environments.
func (a *API) executionMessage(err error) string {
	if a.opts.Production {
		return "query execution failed"
	}
	var execErr *executor.ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Cause()
	}
	return err.Error()
}
