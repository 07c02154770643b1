package snipe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterBurstIsImmediate(t *testing.T) {
	clock := newFakeClock(testEpoch)
	l := NewLimiter(2, 3, clock)

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(context.Background()))
	}
	assert.Empty(t, clock.sleeps(), "burst capacity must not block")
}

func TestLimiterBlocksWhenDrained(t *testing.T) {
	clock := newFakeClock(testEpoch)
	l := NewLimiter(2, 1, clock)

	require.NoError(t, l.Acquire(context.Background()))
	require.NoError(t, l.Acquire(context.Background()))

	sleeps := clock.sleeps()
	require.NotEmpty(t, sleeps, "second acquire must wait for a refill")
	// One token at 2/sec takes about half a second.
	assert.InDelta(t, float64(500*time.Millisecond), float64(sleeps[0]), float64(5*time.Millisecond))
}

func TestLimiterTokenBucketConformance(t *testing.T) {
	clock := newFakeClock(testEpoch)
	start := clock.Now()
	const rate, burst = 5.0, 2.0
	l := NewLimiter(rate, burst, clock)

	const n = 12
	for i := 0; i < n; i++ {
		require.NoError(t, l.Acquire(context.Background()))
	}
	elapsed := clock.Now().Sub(start).Seconds()
	assert.LessOrEqual(t, float64(n), burst+elapsed*rate+0.01,
		"consumptions must never exceed capacity plus refill over the window")
}

func TestLimiterTokensNeverExceedCapacity(t *testing.T) {
	clock := newFakeClock(testEpoch)
	l := NewLimiter(10, 2, clock)

	// A long idle period must not bank more than the burst capacity.
	clock.advance(time.Hour)
	assert.InDelta(t, 2.0, l.Tokens(), 0.01)

	require.NoError(t, l.Acquire(context.Background()))
	require.NoError(t, l.Acquire(context.Background()))
	assert.Empty(t, clock.sleeps())

	require.NoError(t, l.Acquire(context.Background()))
	assert.NotEmpty(t, clock.sleeps(), "third acquire after idle must block")
}

func TestLimiterAcquireHonorsCancellation(t *testing.T) {
	clock := newFakeClock(testEpoch)
	l := NewLimiter(0.1, 1, clock)
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Acquire(ctx), context.Canceled)
}
