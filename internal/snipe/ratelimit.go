package snipe

import (
	"context"
	"sync"
	"time"
)

// Limiter is a token-bucket gate shared by all outbound attempts in the
// process. Tokens accumulate at Rate per second up to Burst; Acquire blocks
// until a full token is available and consumes it.
type Limiter struct {
	rate  float64
	burst float64
	clock Clock

	mu     sync.Mutex
	tokens float64
	last   time.Time
}

// NewLimiter builds a Limiter allowing rate requests/second with bursts up to
// burst. The bucket starts full. A nil clock means the system clock.
func NewLimiter(rate, burst float64, clock Clock) *Limiter {
	if clock == nil {
		clock = SystemClock()
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		rate:   rate,
		burst:  burst,
		clock:  clock,
		tokens: burst,
		last:   clock.Now(),
	}
}

// Acquire blocks until a token is available, then consumes one. The
// refill-and-consume step is a single critical section so concurrent runs
// never overdraw the bucket.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.clock.Now()
		elapsed := now.Sub(l.last).Seconds()
		if elapsed > 0 {
			l.tokens += elapsed * l.rate
			if l.tokens > l.burst {
				l.tokens = l.burst
			}
			l.last = now
		}
		if l.tokens >= 1 {
			l.tokens--
			l.mu.Unlock()
			return nil
		}
		wait := time.Duration((1 - l.tokens) / l.rate * float64(time.Second))
		l.mu.Unlock()

		if err := l.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Tokens reports the current token count after refill. Intended for tests
// and telemetry.
func (l *Limiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	tokens := l.tokens + now.Sub(l.last).Seconds()*l.rate
	if tokens > l.burst {
		tokens = l.burst
	}
	return tokens
}
