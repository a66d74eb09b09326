package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestGate(t *testing.T, opts ...GateOption) *Gate {
	t.Helper()
	g, err := NewGate(testSecret, opts...)
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	return g
}

func TestIssueAndVerify(t *testing.T) {
	g := newTestGate(t)

	token, err := g.Issue("svc-hr-1", "hr", RoleAdmin, []string{"Query", "query", "grants"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := g.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.SubjectID != "svc-hr-1" || claims.Tenant != "hr" || claims.Role != RoleAdmin {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if len(claims.Scope) != 2 {
		t.Fatalf("expected deduplicated scope, got %v", claims.Scope)
	}
	if !claims.HasScope("grants") || claims.HasScope("other") {
		t.Fatalf("scope lookup broken: %v", claims.Scope)
	}
	if time.Until(claims.ExpiresAt) <= 0 {
		t.Fatalf("expected future expiry, got %v", claims.ExpiresAt)
	}
}

func TestVerifyRejectsMissing(t *testing.T) {
	g := newTestGate(t)
	if _, err := g.Verify("   "); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}
}

func TestVerifyRejectsMalformed(t *testing.T) {
	g := newTestGate(t)
	if _, err := g.Verify("not-a-jwt"); !errors.Is(err, ErrMalformedCredential) {
		t.Fatalf("expected ErrMalformedCredential, got %v", err)
	}

	// Validly signed with a different secret.
	other, err := NewGate("ffffffffffffffffffffffffffffffff")
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	token, err := other.Issue("svc-1", "hr", RoleUser, nil, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := g.Verify(token); !errors.Is(err, ErrMalformedCredential) {
		t.Fatalf("expected ErrMalformedCredential for wrong secret, got %v", err)
	}
}

func TestVerifyRejectsExpiredRegardlessOfSignature(t *testing.T) {
	past := time.Now().Add(-2 * time.Hour)
	issuerGate := newTestGate(t, WithClock(func() time.Time { return past }))

	// Signed with the correct secret but expired an hour ago.
	token, err := issuerGate.Issue("svc-1", "hr", RoleUser, nil, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	g := newTestGate(t)
	if _, err := g.Verify(token); !errors.Is(err, ErrExpiredCredential) {
		t.Fatalf("expected ErrExpiredCredential, got %v", err)
	}
}

func TestVerifyRejectsIncompleteClaims(t *testing.T) {
	g := newTestGate(t)

	// Hand-build a token that verifies but misses the tenant claim.
	now := time.Now().UTC()
	claims := tokenClaims{
		Role: RoleUser,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   "svc-1",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := g.Verify(signed); !errors.Is(err, ErrIncompleteCredential) {
		t.Fatalf("expected ErrIncompleteCredential, got %v", err)
	}
}

func TestRefreshFailsClosed(t *testing.T) {
	g := newTestGate(t)
	if _, err := g.Refresh("garbage", time.Hour); !errors.Is(err, ErrMalformedCredential) {
		t.Fatalf("expected ErrMalformedCredential, got %v", err)
	}

	past := time.Now().Add(-2 * time.Hour)
	issuerGate := newTestGate(t, WithClock(func() time.Time { return past }))
	expired, err := issuerGate.Issue("svc-1", "hr", RoleUser, nil, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := g.Refresh(expired, time.Hour); !errors.Is(err, ErrExpiredCredential) {
		t.Fatalf("expected ErrExpiredCredential, got %v", err)
	}
}

func TestRefreshKeepsIdentity(t *testing.T) {
	g := newTestGate(t)
	token, err := g.Issue("svc-1", "sales", RoleUser, []string{"query"}, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	refreshed, err := g.Refresh(token, time.Hour)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	claims, err := g.Verify(refreshed)
	if err != nil {
		t.Fatalf("Verify refreshed: %v", err)
	}
	if claims.SubjectID != "svc-1" || claims.Tenant != "sales" || claims.Role != RoleUser {
		t.Fatalf("identity not preserved: %+v", claims)
	}
	if !claims.HasScope("query") {
		t.Fatalf("scope not preserved: %v", claims.Scope)
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if _, ok := ClaimsFromContext(ctx); ok {
		t.Fatal("expected no claims in empty context")
	}
	claims := ClaimSet{SubjectID: "svc-1", Tenant: "hr", Role: RoleUser}
	ctx = ContextWithClaims(ctx, claims)
	got, ok := ClaimsFromContext(ctx)
	if !ok || got.Tenant != "hr" {
		t.Fatalf("unexpected claims from context: %+v ok=%v", got, ok)
	}
}
