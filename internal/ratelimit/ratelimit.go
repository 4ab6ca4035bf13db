// Package ratelimit bounds request volume per client identity within a fixed
// time window. The limiter sits behind an interface so single-instance
// deployments use the in-memory implementation while multi-instance
// deployments swap in the Redis-backed one; per-process counters under-count
// across instances.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RetryAfterSeconds returns the Retry-After hint, rounded up, never below 1
// for a rejected request.
func (d Decision) RetryAfterSeconds() int {
	if d.Allowed {
		return 0
	}
	secs := int((d.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Limiter admits or rejects requests for a client key.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}
