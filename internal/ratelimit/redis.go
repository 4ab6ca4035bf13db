package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a fixed-window limiter backed by a shared Redis instance, the
// swap-in implementation for deployments running more than one service
// instance. INCR on first hit sets the window TTL; the counter and the
// window expire together.
type Redis struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
}

// NewRedis constructs a limiter over the given client.
func NewRedis(client *redis.Client, limit int, window time.Duration) *Redis {
	return &Redis{client: client, limit: limit, window: window, prefix: "rl:"}
}

var _ Limiter = (*Redis)(nil)

// Allow increments the client's windowed counter. Redis errors surface to
// the caller; the middleware decides whether to fail open or closed.
func (r *Redis) Allow(ctx context.Context, key string) (Decision, error) {
	fullKey := r.prefix + key

	count, err := r.client.Incr(ctx, fullKey).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: incr: %w", err)
	}
	if count == 1 {
		if err := r.client.Expire(ctx, fullKey, r.window).Err(); err != nil {
			return Decision{}, fmt.Errorf("ratelimit: expire: %w", err)
		}
	}

	if count > int64(r.limit) {
		ttl, err := r.client.TTL(ctx, fullKey).Result()
		if err != nil || ttl < 0 {
			ttl = r.window
		}
		return Decision{Allowed: false, Remaining: 0, RetryAfter: ttl}, nil
	}
	return Decision{Allowed: true, Remaining: r.limit - int(count)}, nil
}
