package snipe

import (
	"context"
	"time"
)

// Granularity bands for the progressive wait. While lots of time remains we
// sleep in coarse chunks and re-read the clock (guards against drift and NTP
// adjustments); as the target approaches the chunks shrink, and inside the
// last few milliseconds we spin on the clock because OS wake latency exceeds
// the remaining budget.
const (
	coarseBand   = 30 * time.Second
	coarseChunk  = 5 * time.Second
	coarseMargin = 500 * time.Millisecond

	secondBand  = time.Second
	secondChunk = time.Second

	centiBand  = 100 * time.Millisecond
	centiChunk = 100 * time.Millisecond

	spinBand  = 10 * time.Millisecond
	fineChunk = 10 * time.Millisecond
)

// Waiter suspends execution until a target instant with sub-10ms accuracy.
type Waiter struct {
	clock Clock
}

// NewWaiter returns a Waiter on the given clock. A nil clock means the system
// clock.
func NewWaiter(clock Clock) *Waiter {
	if clock == nil {
		clock = SystemClock()
	}
	return &Waiter{clock: clock}
}

// WaitUntil blocks until the wall clock reaches target+earlyOffset and
// returns the instant it actually woke at, so callers can record overshoot.
// A negative earlyOffset wakes before the target to compensate for the
// caller's own submission latency. Targets already in the past return
// immediately with the current instant. Cancellation returns ctx.Err().
func (w *Waiter) WaitUntil(ctx context.Context, target time.Time, earlyOffset time.Duration) (time.Time, error) {
	effective := target.Add(earlyOffset)
	for {
		if err := ctx.Err(); err != nil {
			return time.Time{}, err
		}
		now := w.clock.Now()
		remaining := effective.Sub(now)
		if remaining <= 0 {
			return now, nil
		}

		var chunk time.Duration
		switch {
		case remaining > coarseBand:
			chunk = remaining - coarseMargin
			if chunk > coarseChunk {
				chunk = coarseChunk
			}
		case remaining > secondBand:
			chunk = secondChunk
		case remaining > centiBand:
			chunk = centiChunk
		case remaining > spinBand:
			chunk = fineChunk
		default:
			return w.spin(ctx, effective)
		}

		if err := w.clock.Sleep(ctx, chunk); err != nil {
			return time.Time{}, err
		}
	}
}

// spin busy-polls the clock for the final stretch. Bounded by spinBand.
func (w *Waiter) spin(ctx context.Context, effective time.Time) (time.Time, error) {
	for {
		select {
		case <-ctx.Done():
			return time.Time{}, ctx.Err()
		default:
		}
		now := w.clock.Now()
		if !now.Before(effective) {
			return now, nil
		}
	}
}
