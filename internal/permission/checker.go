package permission

import (
	"context"
	"time"
)

// Checker answers "may source run read queries against resourceType in
// target". Default posture is deny: no matching grant means no access.
type Checker struct {
	store Store
	now   func() time.Time
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithClock overrides the time source (test use).
func WithClock(fn func() time.Time) CheckerOption {
	return func(c *Checker) {
		if fn != nil {
			c.now = fn
		}
	}
}

func NewChecker(store Store, opts ...CheckerOption) *Checker {
	c := &Checker{store: store, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check returns the effective grant or a typed denial. Self-queries never
// reach this point; the orchestrator rejects them first.
func (c *Checker) Check(ctx context.Context, source, target, resourceType string) (Grant, error) {
	if resourceType == "" {
		resourceType = ResourceWildcard
	}
	grant, err := c.store.BestMatch(ctx, source, target, TypeRead, resourceType)
	if err != nil {
		return Grant{}, err
	}
	if grant.ExpiresAt != nil && c.now().After(*grant.ExpiresAt) {
		return Grant{}, ErrGrantExpired
	}
	return grant, nil
}
