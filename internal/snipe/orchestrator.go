package snipe

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/example/recgov-sniper/internal/logger"
)

// Submitter performs one acquisition attempt against the remote service and
// classifies the result. Implementations must never leak transport-specific
// error types except as Outcome.Err detail.
type Submitter interface {
	Submit(ctx context.Context, c Candidate) Outcome
}

// Poller is an optional cheap availability check used to skip candidates the
// service already reports as gone.
type Poller interface {
	Poll(ctx context.Context) ([]string, error)
}

// CaptchaResolver blocks until a human resolves an anti-automation challenge
// or a timeout elapses. A nil return resumes the run.
type CaptchaResolver interface {
	Resolve(ctx context.Context, detail error) error
}

// Sink receives the terminal result exactly once per run. Delivery failures
// are the sink's problem, not the run's.
type Sink interface {
	Deliver(ctx context.Context, r Result)
}

// Plan configures one run: when to fire and what to fire at.
type Plan struct {
	// Target is the instant the reservation window opens.
	Target time.Time
	// EarlyOffset shifts the wake instant (negative = wake early) to cover
	// the caller's own submission latency.
	EarlyOffset time.Duration
	// Candidates in priority order. The first entry is the most desirable;
	// its retry budget is exhausted before the next is touched.
	Candidates []Candidate
	// MaxTotalAttempts optionally caps submissions across the whole run,
	// on top of the per-candidate budgets. Zero disables the cap.
	MaxTotalAttempts int
}

var (
	// ErrNoSubmitter is returned when a Runner is started without a transport.
	ErrNoSubmitter = errors.New("snipe: no submitter configured")
	// ErrNoCandidates is returned for a plan with an empty candidate list.
	ErrNoCandidates = errors.New("snipe: no candidates to attempt")
	// ErrCaptchaUnresolved aborts a run whose Captcha outcome has no resolver.
	ErrCaptchaUnresolved = errors.New("snipe: captcha encountered with no resolver configured")
)

// Runner drives one run end to end: precision wait, optional availability
// poll, then rate-limited, backing-off submissions in candidate priority
// order until one succeeds or every budget is spent. Attempts are strictly
// serialized; concurrent runs only share the Limiter.
type Runner struct {
	Clock   Clock
	Limiter *Limiter
	Policy  Policy

	Submitter Submitter
	Poller    Poller          // optional
	Captcha   CaptchaResolver // optional; Captcha aborts the run without one
	Sink      Sink            // optional
	Log       logger.Logger   // optional
}

// Run executes the plan and always returns a definitive Result. The error is
// non-nil only for configuration mistakes and cancellation; domain failures
// (fatal outcome, exhaustion) are expressed through Result.Phase.
func (r *Runner) Run(ctx context.Context, plan Plan) (Result, error) {
	if r.Submitter == nil {
		return Result{Phase: PhaseAborted, Err: ErrNoSubmitter}, ErrNoSubmitter
	}
	if len(plan.Candidates) == 0 {
		return Result{Phase: PhaseAborted, Err: ErrNoCandidates}, ErrNoCandidates
	}

	clock := r.Clock
	if clock == nil {
		clock = SystemClock()
	}
	log := r.Log
	if log == nil {
		log = logger.Nop()
	}

	started := clock.Now()
	run := &runState{
		phase:  PhaseWaiting,
		counts: make(map[string]*CandidateOutcome, len(plan.Candidates)),
	}
	for _, c := range plan.Candidates {
		run.counts[c.ID] = &CandidateOutcome{Candidate: c}
	}

	log.Info("run starting",
		zap.Time("target", plan.Target),
		zap.Duration("early_offset", plan.EarlyOffset),
		zap.Int("candidates", len(plan.Candidates)))

	// Waiting
	woke, err := NewWaiter(clock).WaitUntil(ctx, plan.Target, plan.EarlyOffset)
	if err != nil {
		log.Warn("run cancelled while waiting", zap.Error(err))
		res := r.finish(ctx, run, Result{Phase: PhaseAborted, Err: err}, started, clock)
		return res, err
	}
	overshoot := woke.Sub(plan.Target.Add(plan.EarlyOffset))
	if overshoot < 0 {
		overshoot = 0
	}
	log.Info("woke for window", zap.Time("woke_at", woke), zap.Duration("overshoot", overshoot))

	// Polling
	run.phase = PhasePolling
	queue := plan.Candidates
	if r.Poller != nil {
		queue = r.rankAvailable(ctx, plan.Candidates, log)
	}

	// Submitting
	run.phase = PhaseSubmitting
	res, runErr := r.submitAll(ctx, run, plan, queue, clock, log)
	res.WokeAt = woke
	res.Overshoot = overshoot
	return r.finish(ctx, run, res, started, clock), runErr
}

// rankAvailable filters the candidate list down to what the service reports
// as currently available, preserving rank order. An empty or failed poll
// keeps the full list: availability often lags the window opening, so an
// empty signal is not proof the candidates are gone.
func (r *Runner) rankAvailable(ctx context.Context, candidates []Candidate, log logger.Logger) []Candidate {
	ids, err := r.Poller.Poll(ctx)
	if err != nil {
		log.Warn("availability poll failed, keeping full candidate list", zap.Error(err))
		return candidates
	}
	available := make(map[string]bool, len(ids))
	for _, id := range ids {
		available[id] = true
	}
	var out []Candidate
	for _, c := range candidates {
		if available[c.ID] {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		log.Warn("availability poll returned no candidates, keeping full list")
		return candidates
	}
	log.Info("availability poll narrowed candidates",
		zap.Int("before", len(candidates)), zap.Int("after", len(out)))
	return out
}

// submitAll iterates candidates in rank order, spending each one's retry
// budget before advancing. The returned error is non-nil only when the run
// was cancelled rather than finished.
func (r *Runner) submitAll(ctx context.Context, run *runState, plan Plan, queue []Candidate, clock Clock, log logger.Logger) (Result, error) {
	total := 0

candidates:
	for _, cand := range queue {
		summary := run.counts[cand.ID]
		attempt := 0

		for {
			if plan.MaxTotalAttempts > 0 && total >= plan.MaxTotalAttempts {
				log.Warn("run-wide attempt cap reached", zap.Int("cap", plan.MaxTotalAttempts))
				return Result{Phase: PhaseExhausted}, nil
			}
			if r.Limiter != nil {
				if err := r.Limiter.Acquire(ctx); err != nil {
					return Result{Phase: PhaseAborted, Err: err}, err
				}
			}

			attempt++
			rec := AttemptRecord{
				Seq:       run.nextSeq(),
				Candidate: cand,
				StartedAt: clock.Now(),
			}
			outcome := r.Submitter.Submit(ctx, cand)
			rec.EndedAt = clock.Now()
			rec.Outcome = outcome.Kind
			rec.Err = outcome.Err
			run.records = append(run.records, rec)
			total++

			summary.Attempts = attempt
			summary.Last = outcome.Kind

			log.Info("attempt finished",
				zap.Int("seq", rec.Seq),
				zap.String("candidate", cand.ID),
				zap.Int("attempt", attempt),
				zap.String("outcome", outcome.Kind.String()),
				zap.Error(outcome.Err))

			switch outcome.Kind {
			case Success:
				winner := cand
				return Result{Phase: PhaseSucceeded, Winner: &winner}, nil

			case Fatal:
				return Result{Phase: PhaseAborted, Err: outcome.Err}, nil

			case Captcha:
				if r.Captcha == nil {
					return Result{Phase: PhaseAborted, Err: ErrCaptchaUnresolved}, nil
				}
				run.phase = PhaseSuspended
				log.Warn("captcha challenge, suspending for human resolution")
				if err := r.Captcha.Resolve(ctx, outcome.Err); err != nil {
					return Result{Phase: PhaseAborted, Err: err}, ctx.Err()
				}
				run.phase = PhaseSubmitting
				// The challenged submission does not consume budget; resume
				// the same candidate at the same attempt count.
				attempt--
				summary.Attempts = attempt

			default:
				d := r.Policy.Decide(attempt, outcome)
				if !d.Retry {
					// Budget spent; fall back to the next candidate.
					continue candidates
				}
				if d.Delay > 0 {
					if err := clock.Sleep(ctx, d.Delay); err != nil {
						return Result{Phase: PhaseAborted, Err: err}, err
					}
				}
			}
		}
	}
	return Result{Phase: PhaseExhausted}, nil
}

// finish stamps the terminal fields and hands the result to the sink.
func (r *Runner) finish(ctx context.Context, run *runState, res Result, started time.Time, clock Clock) Result {
	run.phase = res.Phase
	res.Attempts = run.records
	res.Candidates = run.summaries()
	res.Elapsed = clock.Now().Sub(started)
	if r.Sink != nil {
		r.Sink.Deliver(ctx, res)
	}
	return res
}

// runState is owned exclusively by one run and discarded afterward; it needs
// no locking.
type runState struct {
	phase   Phase
	seq     int
	records []AttemptRecord
	counts  map[string]*CandidateOutcome
}

func (s *runState) nextSeq() int {
	s.seq++
	return s.seq
}

func (s *runState) summaries() []CandidateOutcome {
	out := make([]CandidateOutcome, 0, len(s.counts))
	for _, c := range s.counts {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Candidate.Rank < out[j].Candidate.Rank
	})
	return out
}
