package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryAdmitsUpToLimit(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	lim := NewMemory(5, time.Minute, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d, err := lim.Allow(ctx, "ip:10.0.0.1")
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("request %d should be admitted", i+1)
		}
		if d.Remaining != 5-(i+1) {
			t.Fatalf("request %d: remaining %d, want %d", i+1, d.Remaining, 5-(i+1))
		}
	}

	d, err := lim.Allow(ctx, "ip:10.0.0.1")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if d.Allowed {
		t.Fatal("6th request in the window must be rejected")
	}
	if secs := d.RetryAfterSeconds(); secs < 1 || secs > 60 {
		t.Fatalf("Retry-After %d out of range", secs)
	}
}

func TestMemoryWindowReset(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	lim := NewMemory(2, time.Minute, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if d, _ := lim.Allow(ctx, "ip:10.0.0.1"); !d.Allowed {
			t.Fatalf("request %d should be admitted", i+1)
		}
	}
	if d, _ := lim.Allow(ctx, "ip:10.0.0.1"); d.Allowed {
		t.Fatal("over-limit request admitted")
	}

	now = now.Add(61 * time.Second)
	d, _ := lim.Allow(ctx, "ip:10.0.0.1")
	if !d.Allowed {
		t.Fatal("new window should admit again")
	}
	if d.Remaining != 1 {
		t.Fatalf("fresh window remaining %d, want 1", d.Remaining)
	}
}

func TestMemoryKeysAreIndependent(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	lim := NewMemory(1, time.Minute, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	if d, _ := lim.Allow(ctx, "ip:10.0.0.1"); !d.Allowed {
		t.Fatal("first client's first request rejected")
	}
	if d, _ := lim.Allow(ctx, "ip:10.0.0.1"); d.Allowed {
		t.Fatal("first client's second request admitted")
	}
	if d, _ := lim.Allow(ctx, "ip:10.0.0.2"); !d.Allowed {
		t.Fatal("a saturated neighbor must not affect another key")
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	cases := []struct {
		d    Decision
		want int
	}{
		{Decision{Allowed: true}, 0},
		{Decision{Allowed: false, RetryAfter: 0}, 1},
		{Decision{Allowed: false, RetryAfter: 300 * time.Millisecond}, 1},
		{Decision{Allowed: false, RetryAfter: 1500 * time.Millisecond}, 2},
		{Decision{Allowed: false, RetryAfter: 30 * time.Second}, 30},
	}
	for _, tc := range cases {
		if got := tc.d.RetryAfterSeconds(); got != tc.want {
			t.Errorf("RetryAfterSeconds(%v) = %d, want %d", tc.d.RetryAfter, got, tc.want)
		}
	}
}
