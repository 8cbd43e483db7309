package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter is a fixed-window rate limiter backed by Redis, shared across
// instances. Keys are scoped per action so shout and megaphone budgets count
// independently.
type Limiter struct {
	client *redis.Client
	max    int
	window time.Duration
}

// New creates a limiter allowing max operations per window.
func New(client *redis.Client, max int, window time.Duration) *Limiter {
	return &Limiter{client: client, max: max, window: window}
}

// Allow consumes one slot for (action, userID) and reports whether the caller
// is within budget. On a Redis error the request is denied; an open limiter
// is worse than a stalled one.
func (l *Limiter) Allow(ctx context.Context, action, userID string) (bool, error) {
	key := fmt.Sprintf("ratelimit:%s:%s", action, userID)

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("incrementing rate limit %s: %w", key, err)
	}

	// First hit in this window starts the clock.
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return false, fmt.Errorf("expiring rate limit %s: %w", key, err)
		}
	}

	return count <= int64(l.max), nil
}

// Remaining reports the unconsumed budget for (action, userID) without
// consuming a slot.
func (l *Limiter) Remaining(ctx context.Context, action, userID string) (int, error) {
	key := fmt.Sprintf("ratelimit:%s:%s", action, userID)

	count, err := l.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return l.max, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading rate limit %s: %w", key, err)
	}

	remaining := l.max - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
