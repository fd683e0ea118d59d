// Package ratelimit throttles code issuance per user and purpose.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"leadflow/backend/internal/otp"
	"leadflow/backend/internal/otp/domain"
)

const namespace = "otp_rate"

// Store is the counter/flag storage the limiter needs.
type Store interface {
	TTL(ctx context.Context, key string) (time.Duration, error)
	Set(ctx context.Context, key string, ttl time.Duration) error
	IncrWithExpire(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Limiter enforces a cooldown between requests and a maximum number of requests per window.
// Exceeding the maximum blocks the pair for three windows.
type Limiter struct {
	store       Store
	window      time.Duration
	maxInWindow int
	cooldown    time.Duration
}

// NewLimiter returns a limiter over store.
func NewLimiter(store Store, window time.Duration, max int, cooldown time.Duration) *Limiter {
	return &Limiter{store: store, window: window, maxInWindow: max, cooldown: cooldown}
}

// Allow records a request for (userID, purpose) or returns an *otp.RateLimitError.
func (l *Limiter) Allow(ctx context.Context, userID string, purpose domain.Purpose) error {
	blockKey := fmt.Sprintf("%s:block:%s:%s", namespace, userID, purpose)
	lastKey := fmt.Sprintf("%s:last:%s:%s", namespace, userID, purpose)
	countKey := fmt.Sprintf("%s:count:%s:%s", namespace, userID, purpose)

	if ttl, _ := l.store.TTL(ctx, blockKey); ttl > 0 {
		return &otp.RateLimitError{RetryAfter: ttl, Reason: "too many code requests"}
	}
	if l.cooldown > 0 {
		if ttl, _ := l.store.TTL(ctx, lastKey); ttl > 0 {
			return &otp.RateLimitError{RetryAfter: ttl, Reason: "please wait before requesting another code"}
		}
	}
	if l.maxInWindow > 0 && l.window > 0 {
		cnt, err := l.store.IncrWithExpire(ctx, countKey, l.window)
		if err != nil {
			return fmt.Errorf("ratelimit: %w", err)
		}
		if int(cnt) > l.maxInWindow {
			block := l.window * 3
			_ = l.store.Set(ctx, blockKey, block)
			return &otp.RateLimitError{RetryAfter: block, Reason: "too many code requests"}
		}
	}
	if l.cooldown > 0 {
		_ = l.store.Set(ctx, lastKey, l.cooldown)
	}
	return nil
}

// RedisStore implements Store on a Redis client.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	return s.client.TTL(ctx, key).Result()
}

func (s *RedisStore) Set(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Set(ctx, key, "1", ttl).Err()
}

// IncrWithExpire increments key and sets its expiry on first increment.
func (s *RedisStore) IncrWithExpire(ctx context.Context, key string, window time.Duration) (int64, error) {
	cnt, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if cnt == 1 {
		_ = s.client.Expire(ctx, key, window).Err()
	}
	return cnt, nil
}
