package snipe

// OutcomeKind classifies the result of one submission attempt. The transport
// maps its own failures onto these variants; nothing transport-specific
// crosses into the engine.
type OutcomeKind int

const (
	// Success: the candidate was secured. Terminal for the run.
	Success OutcomeKind = iota
	// Unavailable: the resource is not currently available; worth retrying
	// or falling back to the next candidate.
	Unavailable
	// RateLimited: the server is shedding load; back off harder than the
	// standard curve.
	RateLimited
	// Transient: network error or timeout; retryable.
	Transient
	// Fatal: auth or validation failure; aborts the run.
	Fatal
	// Captcha: an anti-automation challenge needs a human; the run suspends
	// rather than fails.
	Captcha
)

func (k OutcomeKind) String() string {
	switch k {
	case Success:
		return "success"
	case Unavailable:
		return "unavailable"
	case RateLimited:
		return "rate_limited"
	case Transient:
		return "transient"
	case Fatal:
		return "fatal"
	case Captcha:
		return "captcha"
	default:
		return "unknown"
	}
}

// Retryable reports whether the retry policy may schedule another attempt
// after this outcome.
func (k OutcomeKind) Retryable() bool {
	switch k {
	case Unavailable, RateLimited, Transient:
		return true
	}
	return false
}

// Outcome is the classified result of one submission, with the originating
// error detail preserved verbatim for failed outcomes.
type Outcome struct {
	Kind OutcomeKind
	Err  error
}
