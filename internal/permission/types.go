package permission

import (
	"errors"
	"time"
)

// Permission types a grant can carry. The query pipeline only ever checks
// read; search and aggregate exist for the admin surface.
const (
	TypeRead      = "read"
	TypeSearch    = "search"
	TypeAggregate = "aggregate"
)

// ResourceWildcard matches any resource type in the target tenant.
const ResourceWildcard = "*"

var (
	// ErrNoGrant means no enabled grant covers the (source, target,
	// resource) triple. Absence is never implicit allow.
	ErrNoGrant = errors.New("permission: no grant configured")
	// ErrGrantExpired means the best-matching grant exists but its expiry
	// has passed.
	ErrGrantExpired = errors.New("permission: grant expired")
	// ErrInvalidInput flags empty or malformed grant fields.
	ErrInvalidInput = errors.New("permission: invalid input")
)

// Grant authorizes one tenant to run queries of a permission type against
// a resource type in another tenant. Grants are soft-deleted via Enabled
// so the audit trail keeps referencing them.
type Grant struct {
	ID             string
	SourceDept     string
	TargetDept     string
	PermissionType string
	ResourceType   string
	Enabled        bool
	GrantedBy      string
	GrantedAt      time.Time
	ExpiresAt      *time.Time
}

// ValidType reports whether t is a known permission type.
func ValidType(t string) bool {
	return t == TypeRead || t == TypeSearch || t == TypeAggregate
}
