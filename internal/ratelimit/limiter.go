package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Tier names used in keys and logs.
const (
	TierGeneral     = "general"
	TierCrossTenant = "cross_tenant"
	TierIssuance    = "issuance"
)

// TierLimits configures one tier's sliding window.
type TierLimits struct {
	Window time.Duration
	Limit  int
}

// Decision is the outcome of a tier check, carrying everything a caller
// needs to back off correctly.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
}

// Limiter enforces the three request tiers. Outage policy differs by tier:
// the cross-tenant tier fails closed because unmetered cross-tenant access
// is the highest-risk failure mode; general and issuance fail open with a
// warning, trading availability on the lower-risk paths.
type Limiter struct {
	store       CounterStore
	log         zerolog.Logger
	general     TierLimits
	crossTenant TierLimits
	issuance    TierLimits
	now         func() time.Time
}

func New(store CounterStore, general, crossTenant, issuance TierLimits, log zerolog.Logger) *Limiter {
	return &Limiter{
		store:       store,
		log:         log,
		general:     general,
		crossTenant: crossTenant,
		issuance:    issuance,
		now:         time.Now,
	}
}

// CheckGeneral meters every authenticated request for a tenant.
func (l *Limiter) CheckGeneral(ctx context.Context, tenant string) Decision {
	return l.check(ctx, TierGeneral, "rl:general:"+tenant, l.general, false)
}

// CheckCrossTenant meters the (source, target) pair on the query endpoint,
// in addition to the general tier.
func (l *Limiter) CheckCrossTenant(ctx context.Context, source, target string) Decision {
	key := fmt.Sprintf("rl:xtenant:%s:%s", source, target)
	return l.check(ctx, TierCrossTenant, key, l.crossTenant, true)
}

// CheckIssuance reads the failed-issuance counter for a caller origin
// without consuming budget; only RecordIssuanceFailure increments it.
func (l *Limiter) CheckIssuance(ctx context.Context, origin string) Decision {
	tier := l.issuance
	count, ttl, err := l.store.Get(ctx, "rl:issue:"+origin)
	if err != nil {
		l.log.Warn().Err(err).Str("tier", TierIssuance).Msg("counter store unreachable, failing open")
		return l.allowAll(tier)
	}
	if ttl <= 0 {
		ttl = tier.Window
	}
	if count >= int64(tier.Limit) {
		return l.denied(tier, ttl)
	}
	return Decision{
		Allowed:   true,
		Limit:     tier.Limit,
		Remaining: tier.Limit - int(count),
		ResetAt:   l.now().Add(ttl),
	}
}

// RecordIssuanceFailure consumes one unit of the issuance tier after a
// failed authentication or token-issuance attempt.
func (l *Limiter) RecordIssuanceFailure(ctx context.Context, origin string) {
	if _, _, err := l.store.Incr(ctx, "rl:issue:"+origin, l.issuance.Window); err != nil {
		l.log.Warn().Err(err).Str("tier", TierIssuance).Msg("failed to record issuance failure")
	}
}

func (l *Limiter) check(ctx context.Context, tierName, key string, tier TierLimits, failClosed bool) Decision {
	count, ttl, err := l.store.Incr(ctx, key, tier.Window)
	if err != nil {
		if failClosed {
			l.log.Error().Err(err).Str("tier", tierName).Msg("counter store unreachable, failing closed")
			return l.denied(tier, tier.Window)
		}
		l.log.Warn().Err(err).Str("tier", tierName).Msg("counter store unreachable, failing open")
		return l.allowAll(tier)
	}
	if ttl <= 0 {
		ttl = tier.Window
	}
	if count > int64(tier.Limit) {
		return l.denied(tier, ttl)
	}
	return Decision{
		Allowed:   true,
		Limit:     tier.Limit,
		Remaining: tier.Limit - int(count),
		ResetAt:   l.now().Add(ttl),
	}
}

func (l *Limiter) denied(tier TierLimits, retryAfter time.Duration) Decision {
	return Decision{
		Allowed:    false,
		Limit:      tier.Limit,
		Remaining:  0,
		RetryAfter: retryAfter,
		ResetAt:    l.now().Add(retryAfter),
	}
}

func (l *Limiter) allowAll(tier TierLimits) Decision {
	return Decision{
		Allowed:   true,
		Limit:     tier.Limit,
		Remaining: tier.Limit,
		ResetAt:   l.now().Add(tier.Window),
	}
}
