// Package httpapi exposes the gateway over HTTP/JSON and hosts the query
// pipeline orchestrator. Every denial carries a stable machine-readable
// code; every query attempt leaves exactly one audit record.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/synrgscaling/federation-gateway/internal/audit"
	"github.com/synrgscaling/federation-gateway/internal/auth"
	"github.com/synrgscaling/federation-gateway/internal/executor"
	"github.com/synrgscaling/federation-gateway/internal/obs"
	"github.com/synrgscaling/federation-gateway/internal/permission"
	"github.com/synrgscaling/federation-gateway/internal/ratelimit"
)

// QueryExecutor runs a validated statement inside the target tenant's scope.
type QueryExecutor interface {
	Execute(ctx context.Context, targetTenant, query string) (executor.Result, error)
	AccessibleTables(ctx context.Context, tenant string) ([]string, error)
}

// PermissionChecker resolves the effective grant for a source/target pair.
type PermissionChecker interface {
	Check(ctx context.Context, source, target, resourceType string) (permission.Grant, error)
}

// AuditSink accepts one record per query attempt without blocking.
type AuditSink interface {
	Record(rec audit.Record) string
}

// Gate is the credential surface the API needs from the identity layer.
type Gate interface {
	Issue(subjectID, tenant, role string, scope []string, ttl time.Duration) (string, error)
	Refresh(credential string, ttl time.Duration) (string, error)
	Verify(credential string) (auth.ClaimSet, error)
}

// Options carries the static API configuration.
type Options struct {
	BootstrapSecret string
	TokenTTL        time.Duration
	Production      bool
	MaxBodyBytes    int64
	// EdgeRPS/EdgeBurst bound per-IP request volume ahead of the tenant
	// tiers; zero disables the throttle.
	EdgeRPS   int
	EdgeBurst int
	// TrustedProxy enables X-Forwarded-For resolution. Leave off when
	// callers reach the gateway directly.
	TrustedProxy bool
}

// Deps bundles everything the API composes over.
type Deps struct {
	Log      zerolog.Logger
	Gate     Gate
	Limiter  *ratelimit.Limiter
	Checker  PermissionChecker
	Executor QueryExecutor
	Recorder AuditSink
	Grants   permission.Store
	Audits   audit.Store
	Ready    func(ctx context.Context) error
	Opts     Options
}

// API is the HTTP surface.
type API struct {
	r        chi.Router
	log      zerolog.Logger
	gate     Gate
	limiter  *ratelimit.Limiter
	checker  PermissionChecker
	exec     QueryExecutor
	recorder AuditSink
	grants   permission.Store
	audits   audit.Store
	ready    func(ctx context.Context) error
	validate *validator.Validate
	opts     Options
}

func New(deps Deps) *API {
	a := &API{
		log:      deps.Log,
		gate:     deps.Gate,
		limiter:  deps.Limiter,
		checker:  deps.Checker,
		exec:     deps.Executor,
		recorder: deps.Recorder,
		grants:   deps.Grants,
		audits:   deps.Audits,
		ready:    deps.Ready,
		validate: validator.New(),
		opts:     deps.Opts,
	}
	a.routes()
	return a
}

func (a *API) Handler() http.Handler { return a.r }

func (a *API) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(a.log, a.opts.TrustedProxy))
	r.Use(obs.Instrument)
	if a.opts.MaxBodyBytes > 0 {
		r.Use(maxBodyBytes(a.opts.MaxBodyBytes))
	}

	r.Get("/healthz", a.handleHealthz)
	r.Get("/readyz", a.handleReadyz)
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	r.Route("/v1", func(r chi.Router) {
		// Probes and /metrics stay outside the throttle.
		if a.opts.EdgeRPS > 0 {
			r.Use(newEdgeThrottle(a.opts.EdgeRPS, a.opts.EdgeBurst, a.opts.TrustedProxy).middleware)
		}

		r.Post("/auth/token", a.handleIssueToken)
		r.Post("/auth/refresh", a.handleRefresh)

		r.Group(func(r chi.Router) {
			r.Use(a.withAuth)
			r.Post("/query", a.handleQuery)

			r.Route("/admin", func(r chi.Router) {
				r.Use(a.requireAdmin)
				r.Post("/permissions", a.handleGrantPermission)
				r.Delete("/permissions", a.handleRevokePermission)
				r.Get("/permissions", a.handleListPermissions)
				r.Get("/tenants/{tenant}/tables", a.handleAccessibleTables)
				r.Get("/audit", a.handleListAudit)
				r.Get("/audit/stats", a.handleAuditStats)
				r.Get("/audit/{id}", a.handleGetAudit)
			})
		})
	})

	a.r = r
}

func (a *API) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if a.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.ready(ctx); err != nil {
			a.log.Warn().Err(err).Msg("readiness probe failed")
			respondError(w, http.StatusServiceUnavailable, CodeInternal, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
