package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/synrgscaling/federation-gateway/internal/audit"
	"github.com/synrgscaling/federation-gateway/internal/auth"
	"github.com/synrgscaling/federation-gateway/internal/permission"
)

type grantRequest struct {
	SourceDept     string     `json:"sourceDept" validate:"required"`
	TargetDept     string     `json:"targetDept" validate:"required"`
	PermissionType string     `json:"permissionType" validate:"required"`
	ResourceType   string     `json:"resourceType"`
	ExpiresAt      *time.Time `json:"expiresAt"`
}

type grantResponse struct {
	ID             string     `json:"id"`
	SourceDept     string     `json:"sourceDept"`
	TargetDept     string     `json:"targetDept"`
	PermissionType string     `json:"permissionType"`
	ResourceType   string     `json:"resourceType"`
	Enabled        bool       `json:"enabled"`
	GrantedBy      string     `json:"grantedBy"`
	GrantedAt      time.Time  `json:"grantedAt"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
}

func toGrantResponse(g permission.Grant) grantResponse {
	return grantResponse{
		ID:             g.ID,
		SourceDept:     g.SourceDept,
		TargetDept:     g.TargetDept,
		PermissionType: g.PermissionType,
		ResourceType:   g.ResourceType,
		Enabled:        g.Enabled,
		GrantedBy:      g.GrantedBy,
		GrantedAt:      g.GrantedAt,
		ExpiresAt:      g.ExpiresAt,
	}
}

func (a *API) handleGrantPermission(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())

	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid JSON body")
		return
	}
	if err := a.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, "sourceDept, targetDept and permissionType are required")
		return
	}
	if req.SourceDept == req.TargetDept {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, "source and target department must differ")
		return
	}

	grant := permission.Grant{
		SourceDept:     req.SourceDept,
		TargetDept:     req.TargetDept,
		PermissionType: req.PermissionType,
		ResourceType:   req.ResourceType,
		Enabled:        true,
		GrantedBy:      claims.SubjectID,
		GrantedAt:      time.Now().UTC(),
		ExpiresAt:      req.ExpiresAt,
	}
	if err := a.grants.Upsert(r.Context(), &grant); err != nil {
		if errors.Is(err, permission.ErrInvalidInput) {
			respondError(w, http.StatusBadRequest, CodeInvalidRequest, "unknown permission type")
			return
		}
		a.log.Error().Err(err).Msg("grant upsert failed")
		respondError(w, http.StatusInternalServerError, CodeInternal, "failed to store grant")
		return
	}
	writeJSON(w, http.StatusCreated, toGrantResponse(grant))
}

func (a *API) handleRevokePermission(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	source, target := q.Get("sourceDept"), q.Get("targetDept")
	permType := q.Get("permissionType")
	if source == "" || target == "" || permType == "" {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, "sourceDept, targetDept and permissionType query params are required")
		return
	}

	err := a.grants.Revoke(r.Context(), source, target, permType, q.Get("resourceType"))
	if err != nil {
		if errors.Is(err, permission.ErrNoGrant) {
			respondError(w, http.StatusNotFound, CodeNotFound, "no active grant matches")
			return
		}
		a.log.Error().Err(err).Msg("grant revoke failed")
		respondError(w, http.StatusInternalServerError, CodeInternal, "failed to revoke grant")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (a *API) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("sourceDept")
	if source == "" {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, "sourceDept query param is required")
		return
	}
	grants, err := a.grants.ListBySource(r.Context(), source)
	if err != nil {
		a.log.Error().Err(err).Msg("grant list failed")
		respondError(w, http.StatusInternalServerError, CodeInternal, "failed to list grants")
		return
	}
	out := make([]grantResponse, 0, len(grants))
	for _, g := range grants {
		out = append(out, toGrantResponse(g))
	}
	writeJSON(w, http.StatusOK, map[string]any{"grants": out})
}

func (a *API) handleAccessibleTables(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	tables, err := a.exec.AccessibleTables(r.Context(), tenant)
	if err != nil {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, "unknown tenant")
		return
	}
	if tables == nil {
		tables = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenant": tenant, "tables": tables})
}

func (a *API) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	rec, err := a.audits.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, audit.ErrNotFound) {
			respondError(w, http.StatusNotFound, CodeNotFound, "audit record not found")
			return
		}
		a.log.Error().Err(err).Msg("audit lookup failed")
		respondError(w, http.StatusInternalServerError, CodeInternal, "failed to load audit record")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	source := q.Get("sourceDept")
	if source == "" {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, "sourceDept query param is required")
		return
	}

	filter := audit.Filter{SubjectID: q.Get("subjectId")}
	var err error
	if filter.From, err = parseTimeParam(q.Get("from")); err != nil {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, "from must be RFC 3339")
		return
	}
	if filter.To, err = parseTimeParam(q.Get("to")); err != nil {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, "to must be RFC 3339")
		return
	}
	if v := q.Get("allowed"); v != "" {
		allowed, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, CodeInvalidRequest, "allowed must be a boolean")
			return
		}
		filter.Allowed = &allowed
	}
	if v := q.Get("limit"); v != "" {
		if filter.Limit, err = strconv.Atoi(v); err != nil || filter.Limit < 0 {
			respondError(w, http.StatusBadRequest, CodeInvalidRequest, "limit must be a non-negative integer")
			return
		}
	}

	records, err := a.audits.List(r.Context(), source, filter)
	if err != nil {
		a.log.Error().Err(err).Msg("audit list failed")
		respondError(w, http.StatusInternalServerError, CodeInternal, "failed to list audit records")
		return
	}
	if records == nil {
		records = []audit.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (a *API) handleAuditStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	source := q.Get("sourceDept")
	if source == "" {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, "sourceDept query param is required")
		return
	}

	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)
	var err error
	if v := q.Get("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			respondError(w, http.StatusBadRequest, CodeInvalidRequest, "from must be RFC 3339")
			return
		}
	}
	if v := q.Get("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			respondError(w, http.StatusBadRequest, CodeInvalidRequest, "to must be RFC 3339")
			return
		}
	}

	stats, err := a.audits.Stats(r.Context(), source, from, to)
	if err != nil {
		a.log.Error().Err(err).Msg("audit stats failed")
		respondError(w, http.StatusInternalServerError, CodeInternal, "failed to compute audit stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func parseTimeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}
