package snipe

import (
	"context"
	"sync"
	"time"
)

// fakeClock is a deterministic clock for timing tests. Sleep advances the
// clock by the full requested duration; Now advances it by a small tick to
// model clock-read latency, which also guarantees the waiter's busy-poll
// phase terminates.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	tick  time.Duration
	slept []time.Duration

	// onSleep, when set, runs after each Sleep with the number of sleeps so
	// far. Tests use it to cancel contexts mid-wait.
	onSleep func(n int)
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start, tick: 10 * time.Microsecond}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.tick)
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	if d > 0 {
		c.now = c.now.Add(d)
	}
	c.slept = append(c.slept, d)
	n := len(c.slept)
	hook := c.onSleep
	c.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return nil
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.slept))
	copy(out, c.slept)
	return out
}
