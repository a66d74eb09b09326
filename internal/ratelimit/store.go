// Package ratelimit enforces the gateway's three sliding-window request
// tiers on top of a process-external counter store. Counters expire on the
// store side; application code only ever increments and reads.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable wraps any counter-store round-trip failure so tiers
// can apply their fail-open/fail-closed policy explicitly.
var ErrStoreUnavailable = errors.New("ratelimit: counter store unavailable")

// CounterStore is the narrow contract every tier shares: atomic increment
// with a window-scoped TTL set on first touch. Implementations must never
// extend the TTL on subsequent increments.
type CounterStore interface {
	// Incr bumps the counter under key, starting the window if the key is
	// new, and returns the new count plus the remaining window.
	Incr(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
	// Get reads the counter without touching it. A missing key reads as 0
	// with a zero TTL.
	Get(ctx context.Context, key string) (count int64, ttl time.Duration, err error)
	// Ping verifies the store is reachable (readiness probe).
	Ping(ctx context.Context) error
}
