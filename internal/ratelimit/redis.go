package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs counters with Redis so limits hold across gateway
// instances. In-process counters would under-count as soon as a second
// replica comes up.
type RedisStore struct {
	client *redis.Client
}

var _ CounterStore = (*RedisStore)(nil)

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	// NX: the TTL is set once when the counter is created and never
	// refreshed, which is what makes the window slide per key.
	pipe.ExpireNX(ctx, key, window)
	ttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return incr.Val(), normalizeTTL(ttl.Val(), window), nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (int64, time.Duration, error) {
	pipe := s.client.TxPipeline()
	get := pipe.Get(ctx, key)
	ttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	count, err := get.Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return count, normalizeTTL(ttl.Val(), 0), nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// normalizeTTL maps the PTTL sentinel values (-1 no expiry, -2 missing key)
// onto a usable duration.
func normalizeTTL(ttl, fallback time.Duration) time.Duration {
	if ttl < 0 {
		return fallback
	}
	return ttl
}
