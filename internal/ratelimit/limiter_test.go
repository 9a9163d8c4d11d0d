package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterNeverExceedsCapacityBurst(t *testing.T) {
	l := New(10, time.Second)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, l.Acquire(ctx))
	}

	l.mu.Lock()
	tokens := l.tokens
	l.mu.Unlock()
	require.Less(t, tokens, 1.0, "bucket should be drained after 10 acquisitions of capacity 10")
}

func TestLimiterPacesBeyondCapacity(t *testing.T) {
	l := New(10, time.Second)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 25; i++ {
		require.NoError(t, l.Acquire(ctx))
	}
	elapsed := time.Since(start)

	require.GreaterOrEqual(t, elapsed, 1500*time.Millisecond, "25 requests at 10/s should take at least 1.5s")
}

func TestLimiterRespectsContextCancellation(t *testing.T) {
	l := New(1, time.Hour)
	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx))

	cancelCtx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.Acquire(cancelCtx)
	require.Error(t, err)
}
