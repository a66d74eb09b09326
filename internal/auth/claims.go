package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Department roles. Admin unlocks the grant/revoke and audit surfaces.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// ClaimSet is the decoded, verified contents of a bearer credential.
// It is immutable once issued; a changed role or scope requires re-issuance.
type ClaimSet struct {
	SubjectID string
	Tenant    string
	Role      string
	Scope     []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// HasScope reports whether the credential carries the named scope.
func (c ClaimSet) HasScope(scope string) bool {
	for _, s := range c.Scope {
		if s == scope {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the credential carries the admin role.
func (c ClaimSet) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// tokenClaims is the JWT wire form of a ClaimSet.
type tokenClaims struct {
	Tenant string   `json:"tenant"`
	Role   string   `json:"role"`
	Scope  []string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}
