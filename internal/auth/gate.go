package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	issuer          = "federation-gateway"
	minSecretLength = 32
)

// Gate verifies and issues bearer credentials. It is stateless: claim sets
// are never persisted server-side.
type Gate struct {
	secret []byte
	now    func() time.Time
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithClock overrides the time source (test use).
func WithClock(fn func() time.Time) GateOption {
	return func(g *Gate) {
		if fn != nil {
			g.now = fn
		}
	}
}

// NewGate constructs a Gate with the shared HS256 signing secret.
func NewGate(secret string, opts ...GateOption) (*Gate, error) {
	secret = strings.TrimSpace(secret)
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("auth: signing secret must be at least %d characters", minSecretLength)
	}
	g := &Gate{secret: []byte(secret), now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Issue signs a credential for the subject acting within a department.
func (g *Gate) Issue(subjectID, tenant, role string, scope []string, ttl time.Duration) (string, error) {
	subjectID = strings.TrimSpace(subjectID)
	tenant = strings.TrimSpace(tenant)
	if subjectID == "" || tenant == "" {
		return "", errors.New("auth: subject and tenant are required")
	}
	if role != RoleUser && role != RoleAdmin {
		return "", fmt.Errorf("auth: unknown role %q", role)
	}
	if ttl <= 0 {
		return "", errors.New("auth: ttl must be greater than zero")
	}

	now := g.now().UTC()
	claims := tokenClaims{
		Tenant: tenant,
		Role:   role,
		Scope:  dedupeScope(scope),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(g.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign credential: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and required claims and returns the claim set.
func (g *Gate) Verify(credential string) (ClaimSet, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return ClaimSet{}, ErrMissingCredential
	}

	parsed, err := jwt.ParseWithClaims(credential, &tokenClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrMalformedCredential
		}
		return g.secret, nil
	}, jwt.WithTimeFunc(g.now), jwt.WithIssuer(issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ClaimSet{}, ErrExpiredCredential
		}
		return ClaimSet{}, ErrMalformedCredential
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return ClaimSet{}, ErrMalformedCredential
	}

	// Expiry is re-checked here rather than trusting the library alone.
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return ClaimSet{}, ErrIncompleteCredential
	}
	if g.now().UTC().After(claims.ExpiresAt.Time) {
		return ClaimSet{}, ErrExpiredCredential
	}

	if strings.TrimSpace(claims.Subject) == "" ||
		strings.TrimSpace(claims.Tenant) == "" ||
		(claims.Role != RoleUser && claims.Role != RoleAdmin) {
		return ClaimSet{}, ErrIncompleteCredential
	}

	return ClaimSet{
		SubjectID: claims.Subject,
		Tenant:    claims.Tenant,
		Role:      claims.Role,
		Scope:     dedupeScope(claims.Scope),
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Refresh re-issues a credential with a fresh expiry, keeping subject,
// tenant, role and scope. It fails closed: an invalid input credential
// returns the verify error, never a new token.
func (g *Gate) Refresh(credential string, ttl time.Duration) (string, error) {
	claims, err := g.Verify(credential)
	if err != nil {
		return "", err
	}
	return g.Issue(claims.SubjectID, claims.Tenant, claims.Role, claims.Scope, ttl)
}

func dedupeScope(scope []string) []string {
	if len(scope) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(scope))
	var normalized []string
	for _, s := range scope {
		s = strings.TrimSpace(strings.ToLower(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		normalized = append(normalized, s)
	}
	return normalized
}
