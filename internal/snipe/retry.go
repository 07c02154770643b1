package snipe

import (
	"math"
	"math/rand"
	"time"
)

const defaultRateLimitPenalty = 2.0

// Decision is the retry policy's verdict for one attempt outcome.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// Policy decides whether an attempt should be retried and how long to wait
// first. Each decision is a pure function of (attempt number, outcome) and
// the immutable parameters below.
type Policy struct {
	// MaxAttempts is the per-candidate attempt budget, including the first
	// attempt.
	MaxAttempts int
	BaseDelay   time.Duration
	// Multiplier grows the delay exponentially per attempt. Values <= 1 mean
	// a flat delay.
	Multiplier float64
	// MaxDelay caps the backoff curve before jitter. Zero means no cap.
	MaxDelay time.Duration
	// Jitter is the width of the uniform random addition in [0, Jitter],
	// breaking up synchronized resubmission storms.
	Jitter time.Duration
	// RateLimitPenalty scales the delay after a RateLimited outcome to shed
	// load faster than the standard curve. Values below 2 are raised to 2.
	RateLimitPenalty float64

	// Rand supplies uniform values in [0, 1) for jitter. Nil means the
	// global math/rand source; tests inject a deterministic one.
	Rand func() float64
}

// Decide returns whether attempt number attempt (1-based) should be followed
// by another try of the same candidate, and the delay to wait first.
func (p Policy) Decide(attempt int, outcome Outcome) Decision {
	if !outcome.Kind.Retryable() {
		return Decision{}
	}
	if attempt >= p.MaxAttempts {
		return Decision{}
	}

	delay := float64(p.BaseDelay)
	if p.Multiplier > 1 && attempt > 1 {
		delay *= math.Pow(p.Multiplier, float64(attempt-1))
	}
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if outcome.Kind == RateLimited {
		delay *= p.penalty()
	}
	if p.Jitter > 0 {
		delay += p.randFloat() * float64(p.Jitter)
	}
	return Decision{Retry: true, Delay: time.Duration(delay)}
}

func (p Policy) penalty() float64 {
	if p.RateLimitPenalty < defaultRateLimitPenalty {
		return defaultRateLimitPenalty
	}
	return p.RateLimitPenalty
}

func (p Policy) randFloat() float64 {
	if p.Rand != nil {
		return p.Rand()
	}
	return rand.Float64()
}
