package remote

import (
	"context"
	"sync"
	"time"
)

// DefaultMinInterval is the minimum spacing between remote calls.
const DefaultMinInterval = 5 * time.Second

// RateLimiter throttles gateway calls to a minimum inter-call interval. It is
// a single shared gate across all endpoints, not per-endpoint.
type RateLimiter struct {
	mu          sync.Mutex
	minInterval time.Duration
	nextGrant   time.Time

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewRateLimiter returns a limiter with the given minimum interval.
// A non-positive interval disables throttling.
func NewRateLimiter(minInterval time.Duration) *RateLimiter {
	return &RateLimiter{
		minInterval: minInterval,
		now:         time.Now,
		sleep:       sleepContext,
	}
}

// Acquire blocks the caller until at least minInterval has elapsed since the
// previous call was granted. Grant slots are reserved under the mutex so
// concurrent callers queue atomically; each then waits out its own slot.
func (l *RateLimiter) Acquire(ctx context.Context) error {
	if l == nil || l.minInterval <= 0 {
		return ctx.Err()
	}

	l.mu.Lock()
	now := l.now()
	grant := l.nextGrant
	if grant.Before(now) {
		grant = now
	}
	l.nextGrant = grant.Add(l.minInterval)
	l.mu.Unlock()

	return l.sleep(ctx, grant.Sub(now))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
