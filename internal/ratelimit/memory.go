package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 16

// Memory is a fixed-window limiter keeping per-client counters in process
// memory. Buckets are created lazily on first request and recycled inline
// when their window expires; no background sweeper runs.
type Memory struct {
	limit  int
	window time.Duration
	now    func() time.Time

	shards [shardCount]shard
}

type shard struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	count   int
	resetAt time.Time
}

// MemoryOption configures a Memory limiter.
type MemoryOption func(*Memory)

// WithClock overrides the time source, for tests.
func WithClock(fn func() time.Time) MemoryOption {
	return func(m *Memory) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewMemory constructs a limiter admitting at most limit requests per window
// for each client key.
func NewMemory(limit int, window time.Duration, opts ...MemoryOption) *Memory {
	m := &Memory{limit: limit, window: window, now: time.Now}
	for i := range m.shards {
		m.shards[i].buckets = make(map[string]*bucket)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var _ Limiter = (*Memory)(nil)

// Allow increments the client's counter for the current window, starting a
// fresh window when the previous one has elapsed. Concurrent bursts against
// one key serialize on the key's shard so no request goes uncounted.
func (m *Memory) Allow(_ context.Context, key string) (Decision, error) {
	sh := &m.shards[shardIndex(key)]
	now := m.now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	b, ok := sh.buckets[key]
	if !ok || !now.Before(b.resetAt) {
		b = &bucket{count: 0, resetAt: now.Add(m.window)}
		sh.buckets[key] = b
	}
	b.count++

	if b.count > m.limit {
		return Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: b.resetAt.Sub(now),
		}, nil
	}
	return Decision{Allowed: true, Remaining: m.limit - b.count}, nil
}

func shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % shardCount)
}
