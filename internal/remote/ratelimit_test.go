package remote

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterSpacing(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	var slept []time.Duration

	l := NewRateLimiter(5 * time.Second)
	l.now = func() time.Time { return clock }
	l.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		clock = clock.Add(d)
		return nil
	}

	ctx := context.Background()

	// first call goes through immediately
	require.NoError(t, l.Acquire(ctx))
	// second call waits out the full interval
	require.NoError(t, l.Acquire(ctx))
	// plenty of idle time passes; third call goes through immediately
	clock = clock.Add(time.Minute)
	require.NoError(t, l.Acquire(ctx))

	require.Len(t, slept, 3)
	assert.Equal(t, time.Duration(0), slept[0])
	assert.Equal(t, 5*time.Second, slept[1])
	assert.Equal(t, time.Duration(0), slept[2])
}

func TestRateLimiterReservesSlotsInOrder(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	var slept []time.Duration

	l := NewRateLimiter(5 * time.Second)
	l.now = func() time.Time { return clock }
	l.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	// three back-to-back acquisitions with no wall-clock movement: each
	// reserves the next slot, so waits grow by one interval apiece
	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx))
	require.NoError(t, l.Acquire(ctx))
	require.NoError(t, l.Acquire(ctx))

	assert.Equal(t, []time.Duration{0, 5 * time.Second, 10 * time.Second}, slept)
}

func TestRateLimiterDisabled(t *testing.T) {
	l := NewRateLimiter(0)
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Acquire(context.Background()))
	}
	assert.Less(t, time.Since(start), time.Second)
}

func TestRateLimiterNil(t *testing.T) {
	var l *RateLimiter
	assert.NoError(t, l.Acquire(context.Background()))
}

func TestRateLimiterCancelledContext(t *testing.T) {
	l := NewRateLimiter(time.Hour)
	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx)) // first is free

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, l.Acquire(cancelled), context.Canceled)
}
