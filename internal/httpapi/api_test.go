package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/synrgscaling/federation-gateway/internal/audit"
	"github.com/synrgscaling/federation-gateway/internal/auth"
	"github.com/synrgscaling/federation-gateway/internal/executor"
	"github.com/synrgscaling/federation-gateway/internal/permission"
	"github.com/synrgscaling/federation-gateway/internal/ratelimit"
)

const (
	testSecret    = "0123456789abcdef0123456789abcdef"
	testBootstrap = "bootstrap-0123456789abcdef012345"
)

type fakeChecker struct {
	grants map[string]permission.Grant
	err    error
}

func (f *fakeChecker) Check(_ context.Context, source, target, _ string) (permission.Grant, error) {
	if f.err != nil {
		return permission.Grant{}, f.err
	}
	g, ok := f.grants[source+"|"+target]
	if !ok {
		return permission.Grant{}, permission.ErrNoGrant
	}
	return g, nil
}

type fakeExecutor struct {
	mu     sync.Mutex
	calls  int
	result executor.Result
	err    error
}

func (f *fakeExecutor) Execute(context.Context, string, string) (executor.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return executor.Result{}, f.err
	}
	return f.result, nil
}

func (f *fakeExecutor) AccessibleTables(context.Context, string) ([]string, error) {
	return []string{"employees", "departments"}, nil
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type captureSink struct {
	mu      sync.Mutex
	records []audit.Record
}

func (s *captureSink) Record(rec audit.Record) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ID = fmt.Sprintf("rec-%d", len(s.records)+1)
	s.records = append(s.records, rec)
	return rec.ID
}

func (s *captureSink) all() []audit.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.Record, len(s.records))
	copy(out, s.records)
	return out
}

type testHarness struct {
	api     *API
	gate    *auth.Gate
	checker *fakeChecker
	exec    *fakeExecutor
	sink    *captureSink
}

func newTestAPI(t *testing.T, mutate ...func(*Options)) *testHarness {
	t.Helper()
	gate, err := auth.NewGate(testSecret)
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}

	limiter := ratelimit.New(ratelimit.NewMemoryStore(),
		ratelimit.TierLimits{Window: 15 * time.Minute, Limit: 100},
		ratelimit.TierLimits{Window: time.Hour, Limit: 10},
		ratelimit.TierLimits{Window: 15 * time.Minute, Limit: 5},
		zerolog.Nop())

	checker := &fakeChecker{grants: map[string]permission.Grant{}}
	exec := &fakeExecutor{result: executor.Result{
		Rows: []map[string]any{
			{"id": 1}, {"id": 2}, {"id": 3}, {"id": 4}, {"id": 5},
		},
		RowCount: 5,
		Duration: 42 * time.Millisecond,
	}}
	sink := &captureSink{}

	opts := Options{
		BootstrapSecret: testBootstrap,
		TokenTTL:        time.Hour,
		MaxBodyBytes:    1 << 20,
		EdgeRPS:         1000,
		EdgeBurst:       1000,
	}
	for _, m := range mutate {
		m(&opts)
	}

	api := New(Deps{
		Log:      zerolog.Nop(),
		Gate:     gate,
		Limiter:  limiter,
		Checker:  checker,
		Executor: exec,
		Recorder: sink,
		Opts:     opts,
	})
	return &testHarness{api: api, gate: gate, checker: checker, exec: exec, sink: sink}
}

func (h *testHarness) token(t *testing.T, tenant, role string) string {
	t.Helper()
	tok, err := h.gate.Issue("svc-1", tenant, role, nil, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return tok
}

func (h *testHarness) grant(source, target string) {
	h.checker.grants[source+"|"+target] = permission.Grant{
		SourceDept:     source,
		TargetDept:     target,
		PermissionType: permission.TypeRead,
		ResourceType:   permission.ResourceWildcard,
		Enabled:        true,
	}
}

func (h *testHarness) postQuery(t *testing.T, token string, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/v1/query", bytes.NewReader(raw))
	req.RemoteAddr = "198.51.100.7:4411"
	if token != "" {
		req.Header.Set(authHeader, bearer+token)
	}
	rr := httptest.NewRecorder()
	h.api.Handler().ServeHTTP(rr, req)
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, rr.Body.String())
	}
	return env.Error.Code
}

func TestQueryAllowedEndToEnd(t *testing.T) {
	h := newTestAPI(t)
	h.grant("hr", "sales")
	tok := h.token(t, "hr", auth.RoleUser)

	rr := h.postQuery(t, tok, map[string]any{
		"targetTenant": "sales",
		"query":        "SELECT id FROM orders LIMIT 5",
		"reason":       "quarterly reconciliation",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp queryResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Count != 5 || len(resp.Results) != 5 {
		t.Fatalf("expected 5 rows, got count=%d len=%d", resp.Count, len(resp.Results))
	}
	if resp.TargetTenant != "sales" || resp.AuditID == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	records := h.sink.all()
	if len(records) != 1 {
		t.Fatalf("expected exactly 1 audit record, got %d", len(records))
	}
	rec := records[0]
	if !rec.Allowed || rec.ResultCount != 5 || rec.SourceDept != "hr" || rec.TargetDept != "sales" {
		t.Fatalf("unexpected audit record: %+v", rec)
	}
	if rec.SubjectID != "svc-1" || rec.Reason != "quarterly reconciliation" {
		t.Fatalf("identity not captured: %+v", rec)
	}
}

func TestQueryDeniedWithoutGrant(t *testing.T) {
	h := newTestAPI(t)
	tok := h.token(t, "hr", auth.RoleUser)

	rr := h.postQuery(t, tok, map[string]any{
		"targetTenant": "sales",
		"query":        "SELECT 1",
		"reason":       "probe",
	})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rr.Code, rr.Body.String())
	}
	if code := errorCode(t, rr); code != CodeForbidden {
		t.Fatalf("expected %s, got %s", CodeForbidden, code)
	}
	if h.exec.callCount() != 0 {
		t.Fatal("executor must not run without a grant")
	}

	records := h.sink.all()
	if len(records) != 1 {
		t.Fatalf("expected exactly 1 audit record, got %d", len(records))
	}
	if records[0].Allowed || records[0].ResultCount != 0 || records[0].DenyCode != CodeForbidden {
		t.Fatalf("unexpected audit record: %+v", records[0])
	}
}

func TestQueryCrossTenantTierExhausted(t *testing.T) {
	h := newTestAPI(t)
	h.grant("hr", "sales")
	tok := h.token(t, "hr", auth.RoleUser)

	body := map[string]any{
		"targetTenant": "sales",
		"query":        "SELECT id FROM orders",
		"reason":       "sync",
	}
	for i := 0; i < 10; i++ {
		if rr := h.postQuery(t, tok, body); rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d: %s", i+1, rr.Code, rr.Body.String())
		}
	}

	rr := h.postQuery(t, tok, body)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on 11th request, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != CodeRateLimited {
		t.Fatalf("expected %s, got %s", CodeRateLimited, code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
	if h.exec.callCount() != 10 {
		t.Fatalf("11th request must not execute, got %d calls", h.exec.callCount())
	}
	if got := len(h.sink.all()); got != 11 {
		t.Fatalf("expected one audit record per attempt, got %d", got)
	}
}

func TestQueryRejectsNonSelect(t *testing.T) {
	h := newTestAPI(t)
	h.grant("hr", "sales")
	tok := h.token(t, "hr", auth.RoleUser)

	rr := h.postQuery(t, tok, map[string]any{
		"targetTenant": "sales",
		"query":        "DELETE FROM orders",
		"reason":       "cleanup",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != CodeInvalidQuery {
		t.Fatalf("expected %s, got %s", CodeInvalidQuery, code)
	}
	if h.exec.callCount() != 0 {
		t.Fatal("rejected statement must not execute")
	}
	records := h.sink.all()
	if len(records) != 1 || records[0].DenyCode != CodeInvalidQuery {
		t.Fatalf("unexpected audit records: %+v", records)
	}
}

func TestQueryRejectsSelfTarget(t *testing.T) {
	h := newTestAPI(t)
	tok := h.token(t, "hr", auth.RoleUser)

	rr := h.postQuery(t, tok, map[string]any{
		"targetTenant": "hr",
		"query":        "SELECT 1",
		"reason":       "loopback",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != CodeInvalidQuery {
		t.Fatalf("expected %s, got %s", CodeInvalidQuery, code)
	}
}

func TestQueryTimeoutCode(t *testing.T) {
	h := newTestAPI(t)
	h.grant("hr", "sales")
	h.exec.err = executor.ErrTimeout
	tok := h.token(t, "hr", auth.RoleUser)

	rr := h.postQuery(t, tok, map[string]any{
		"targetTenant": "sales",
		"query":        "SELECT pg FROM t",
		"reason":       "slow",
	})
	if rr.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != CodeExecutionTimeout {
		t.Fatalf("expected %s, got %s", CodeExecutionTimeout, code)
	}
}

func TestQueryRequiresCredential(t *testing.T) {
	h := newTestAPI(t)

	rr := h.postQuery(t, "", map[string]any{
		"targetTenant": "sales",
		"query":        "SELECT 1",
		"reason":       "anon",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != CodeUnauthenticated {
		t.Fatalf("expected %s, got %s", CodeUnauthenticated, code)
	}
	if got := len(h.sink.all()); got != 0 {
		t.Fatalf("anonymous request must not be audited as an attempt, got %d", got)
	}
}

func TestTokenIssuanceLocksOutAfterFailures(t *testing.T) {
	h := newTestAPI(t)

	body := func(secret string) *bytes.Reader {
		raw, _ := json.Marshal(map[string]any{
			"subjectId":       "svc-1",
			"tenant":          "hr",
			"role":            "user",
			"bootstrapSecret": secret,
		})
		return bytes.NewReader(raw)
	}
	post := func(secret string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/auth/token", body(secret))
		req.RemoteAddr = "203.0.113.9:5500"
		rr := httptest.NewRecorder()
		h.api.Handler().ServeHTTP(rr, req)
		return rr
	}

	for i := 0; i < 5; i++ {
		if rr := post("wrong-secret"); rr.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, rr.Code)
		}
	}

	// Budget is exhausted; even the correct secret is refused now.
	rr := post(testBootstrap)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after lockout, got %d", rr.Code)
	}

	// A different origin is unaffected.
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/token", body(testBootstrap))
	req.RemoteAddr = "198.51.100.20:6000"
	other := httptest.NewRecorder()
	h.api.Handler().ServeHTTP(other, req)
	if other.Code != http.StatusOK {
		t.Fatalf("expected 200 for clean origin, got %d: %s", other.Code, other.Body.String())
	}

	var resp tokenResponse
	if err := json.Unmarshal(other.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode token response: %v", err)
	}
	if resp.Token == "" || resp.TokenType != "Bearer" {
		t.Fatalf("unexpected token response: %+v", resp)
	}
	if _, err := h.gate.Verify(resp.Token); err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
}

func TestRefreshRejectsExpiredCredential(t *testing.T) {
	h := newTestAPI(t)

	past := time.Now().Add(-2 * time.Hour)
	backdated, err := auth.NewGate(testSecret, auth.WithClock(func() time.Time { return past }))
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	stale, err := backdated.Issue("svc-1", "hr", auth.RoleUser, nil, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/refresh", nil)
	req.RemoteAddr = "203.0.113.9:5500"
	req.Header.Set(authHeader, bearer+stale)
	rr := httptest.NewRecorder()
	h.api.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rr.Code, rr.Body.String())
	}
	if code := errorCode(t, rr); code != CodeUnauthenticated {
		t.Fatalf("expected %s, got %s", CodeUnauthenticated, code)
	}
}

func TestAdminSurfaceRequiresAdminRole(t *testing.T) {
	h := newTestAPI(t)
	tok := h.token(t, "hr", auth.RoleUser)

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/tenants/sales/tables", nil)
	req.RemoteAddr = "198.51.100.7:4411"
	req.Header.Set(authHeader, bearer+tok)
	rr := httptest.NewRecorder()
	h.api.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for user role, got %d", rr.Code)
	}

	admin := h.token(t, "hr", auth.RoleAdmin)
	req = httptest.NewRequest(http.MethodGet, "/v1/admin/tenants/sales/tables", nil)
	req.RemoteAddr = "198.51.100.7:4411"
	req.Header.Set(authHeader, bearer+admin)
	rr = httptest.NewRecorder()
	h.api.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin role, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Tenant string   `json:"tenant"`
		Tables []string `json:"tables"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Tenant != "sales" || len(resp.Tables) != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestEdgeThrottleLimitsBurst(t *testing.T) {
	h := newTestAPI(t, func(o *Options) {
		o.EdgeRPS = 1
		o.EdgeBurst = 3
	})

	body := map[string]any{"targetTenant": "sales", "query": "SELECT 1", "reason": "burst"}
	for i := 0; i < 3; i++ {
		if rr := h.postQuery(t, "", body); rr.Code != http.StatusUnauthorized {
			t.Fatalf("request %d: expected 401 before throttle, got %d", i+1, rr.Code)
		}
	}

	rr := h.postQuery(t, "", body)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 once the burst is spent, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != CodeRateLimited {
		t.Fatalf("expected %s, got %s", CodeRateLimited, code)
	}

	// Another address has its own bucket.
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/v1/query", bytes.NewReader(raw))
	req.RemoteAddr = "203.0.113.77:2200"
	other := httptest.NewRecorder()
	h.api.Handler().ServeHTTP(other, req)
	if other.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a fresh address, got %d", other.Code)
	}
}

func TestIssuanceLockoutIgnoresForwardedHeader(t *testing.T) {
	h := newTestAPI(t)

	post := func(secret, forwarded string) *httptest.ResponseRecorder {
		raw, _ := json.Marshal(map[string]any{
			"subjectId":       "svc-1",
			"tenant":          "hr",
			"role":            "user",
			"bootstrapSecret": secret,
		})
		req := httptest.NewRequest(http.MethodPost, "/v1/auth/token", bytes.NewReader(raw))
		req.RemoteAddr = "203.0.113.9:5500"
		req.Header.Set("X-Forwarded-For", forwarded)
		rr := httptest.NewRecorder()
		h.api.Handler().ServeHTTP(rr, req)
		return rr
	}

	// Rotating the header must not mint fresh issuance keys; the budget
	// tracks the transport address.
	for i := 0; i < 5; i++ {
		forwarded := fmt.Sprintf("198.51.100.%d", i+1)
		if rr := post("wrong-secret", forwarded); rr.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, rr.Code)
		}
	}

	rr := post(testBootstrap, "198.51.100.99")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 despite rotated header, got %d", rr.Code)
	}
}

func TestHealthz(t *testing.T) {
	h := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	h.api.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}
