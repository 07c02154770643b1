package snipe

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSubmitter pops scripted outcomes per candidate and falls back to a
// default outcome once a script is spent.
type fakeSubmitter struct {
	mu       sync.Mutex
	scripted map[string][]Outcome
	fallback Outcome
	calls    []string
}

func (f *fakeSubmitter) Submit(_ context.Context, c Candidate) Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c.ID)
	if q := f.scripted[c.ID]; len(q) > 0 {
		f.scripted[c.ID] = q[1:]
		return q[0]
	}
	return f.fallback
}

type fakePoller struct {
	ids []string
	err error
}

func (f *fakePoller) Poll(context.Context) ([]string, error) { return f.ids, f.err }

type fakeResolver struct {
	calls int
	err   error
}

func (f *fakeResolver) Resolve(context.Context, error) error {
	f.calls++
	return f.err
}

type recordingSink struct {
	mu      sync.Mutex
	results []Result
}

func (s *recordingSink) Deliver(_ context.Context, r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
}

func testRunner(clock Clock, sub Submitter) *Runner {
	return &Runner{
		Clock:     clock,
		Limiter:   NewLimiter(1000, 10, clock),
		Policy:    Policy{MaxAttempts: 2, BaseDelay: 10 * time.Millisecond, Multiplier: 2, Rand: func() float64 { return 0 }},
		Submitter: sub,
	}
}

func pastPlan(clock Clock, ids ...string) Plan {
	return Plan{
		Target:     clock.Now().Add(-time.Second),
		Candidates: Candidates(ids...),
	}
}

func TestRunExhaustsAllCandidatesInPriorityOrder(t *testing.T) {
	clock := newFakeClock(testEpoch)
	sub := &fakeSubmitter{fallback: Outcome{Kind: Unavailable}}
	r := testRunner(clock, sub)

	res, err := r.Run(context.Background(), pastPlan(clock, "a", "b", "c"))
	require.NoError(t, err)
	assert.Equal(t, PhaseExhausted, res.Phase)
	assert.Nil(t, res.Winner)

	// N candidates x 2 attempts each, strictly in priority order.
	assert.Equal(t, []string{"a", "a", "b", "b", "c", "c"}, sub.calls)
	require.Len(t, res.Attempts, 6)
	for i, rec := range res.Attempts {
		assert.Equal(t, i+1, rec.Seq, "sequence numbers must be strictly increasing")
		assert.False(t, rec.EndedAt.Before(rec.StartedAt))
	}
	require.Len(t, res.Candidates, 3)
	for _, c := range res.Candidates {
		assert.Equal(t, 2, c.Attempts)
		assert.Equal(t, Unavailable, c.Last)
	}
}

func TestRunStopsAtFirstSuccess(t *testing.T) {
	clock := newFakeClock(testEpoch)
	sub := &fakeSubmitter{
		scripted: map[string][]Outcome{"c": {{Kind: Success}}},
		fallback: Outcome{Kind: Unavailable},
	}
	r := testRunner(clock, sub)

	res, err := r.Run(context.Background(), pastPlan(clock, "a", "b", "c", "d"))
	require.NoError(t, err)
	assert.Equal(t, PhaseSucceeded, res.Phase)
	require.NotNil(t, res.Winner)
	assert.Equal(t, "c", res.Winner.ID)

	// Two attempts each on a and b, then the winning attempt; nothing after.
	assert.Equal(t, []string{"a", "a", "b", "b", "c"}, sub.calls)
	assert.Len(t, res.Attempts, 5)
}

func TestRunFatalAbortsImmediately(t *testing.T) {
	clock := newFakeClock(testEpoch)
	detail := errors.New("session expired")
	sub := &fakeSubmitter{
		scripted: map[string][]Outcome{"a": {{Kind: Fatal, Err: detail}}},
		fallback: Outcome{Kind: Unavailable},
	}
	r := testRunner(clock, sub)

	res, err := r.Run(context.Background(), pastPlan(clock, "a", "b"))
	require.NoError(t, err)
	assert.Equal(t, PhaseAborted, res.Phase)
	assert.ErrorIs(t, res.Err, detail, "fatal detail must be preserved verbatim")
	assert.Equal(t, []string{"a"}, sub.calls, "no candidate may be attempted after a fatal error")
	assert.Len(t, res.Attempts, 1)
}

func TestRunCaptchaSuspendsAndResumesSameCandidate(t *testing.T) {
	clock := newFakeClock(testEpoch)
	sub := &fakeSubmitter{
		scripted: map[string][]Outcome{"a": {{Kind: Captcha}, {Kind: Success}}},
		fallback: Outcome{Kind: Unavailable},
	}
	resolver := &fakeResolver{}
	r := testRunner(clock, sub)
	r.Captcha = resolver

	res, err := r.Run(context.Background(), pastPlan(clock, "a", "b"))
	require.NoError(t, err)
	assert.Equal(t, PhaseSucceeded, res.Phase)
	assert.Equal(t, 1, resolver.calls)
	assert.Equal(t, []string{"a", "a"}, sub.calls, "resolution must resume the same candidate")

	// The challenged submission is audited but does not consume budget.
	assert.Len(t, res.Attempts, 2)
	require.NotEmpty(t, res.Candidates)
	assert.Equal(t, 1, res.Candidates[0].Attempts, "captcha must not double-count the attempt")
}

func TestRunCaptchaWithoutResolverAborts(t *testing.T) {
	clock := newFakeClock(testEpoch)
	sub := &fakeSubmitter{scripted: map[string][]Outcome{"a": {{Kind: Captcha}}}}
	r := testRunner(clock, sub)

	res, err := r.Run(context.Background(), pastPlan(clock, "a"))
	require.NoError(t, err)
	assert.Equal(t, PhaseAborted, res.Phase)
	assert.ErrorIs(t, res.Err, ErrCaptchaUnresolved)
}

func TestRunCaptchaResolutionTimeoutAborts(t *testing.T) {
	clock := newFakeClock(testEpoch)
	timeout := errors.New("captcha unresolved after 5m")
	sub := &fakeSubmitter{scripted: map[string][]Outcome{"a": {{Kind: Captcha}}}}
	r := testRunner(clock, sub)
	r.Captcha = &fakeResolver{err: timeout}

	res, err := r.Run(context.Background(), pastPlan(clock, "a"))
	require.NoError(t, err)
	assert.Equal(t, PhaseAborted, res.Phase)
	assert.ErrorIs(t, res.Err, timeout)
}

func TestRunCancelledWhileWaiting(t *testing.T) {
	clock := newFakeClock(testEpoch)
	ctx, cancel := context.WithCancel(context.Background())
	clock.onSleep = func(int) { cancel() }

	sub := &fakeSubmitter{fallback: Outcome{Kind: Success}}
	sink := &recordingSink{}
	r := testRunner(clock, sub)
	r.Sink = sink

	plan := Plan{Target: clock.Now().Add(time.Hour), Candidates: Candidates("a")}
	res, err := r.Run(ctx, plan)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, PhaseAborted, res.Phase)
	assert.Empty(t, res.Attempts, "cancellation during the wait must not submit anything")
	assert.Empty(t, sub.calls)
	require.Len(t, sink.results, 1, "the sink still receives the terminal result")
}

func TestRunPollerNarrowsCandidates(t *testing.T) {
	clock := newFakeClock(testEpoch)
	sub := &fakeSubmitter{fallback: Outcome{Kind: Success}}
	r := testRunner(clock, sub)
	r.Poller = &fakePoller{ids: []string{"b"}}

	res, err := r.Run(context.Background(), pastPlan(clock, "a", "b", "c"))
	require.NoError(t, err)
	assert.Equal(t, PhaseSucceeded, res.Phase)
	assert.Equal(t, []string{"b"}, sub.calls, "unavailable candidates must be skipped")
}

func TestRunEmptyPollKeepsFullList(t *testing.T) {
	clock := newFakeClock(testEpoch)
	sub := &fakeSubmitter{fallback: Outcome{Kind: Success}}
	r := testRunner(clock, sub)
	r.Poller = &fakePoller{ids: nil}

	res, err := r.Run(context.Background(), pastPlan(clock, "a", "b"))
	require.NoError(t, err)
	assert.Equal(t, PhaseSucceeded, res.Phase)
	assert.Equal(t, []string{"a"}, sub.calls, "an empty poll keeps the priority list intact")
}

func TestRunTotalAttemptCap(t *testing.T) {
	clock := newFakeClock(testEpoch)
	sub := &fakeSubmitter{fallback: Outcome{Kind: Unavailable}}
	r := testRunner(clock, sub)
	r.Policy.MaxAttempts = 5

	plan := pastPlan(clock, "a", "b")
	plan.MaxTotalAttempts = 3
	res, err := r.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, PhaseExhausted, res.Phase)
	assert.Len(t, res.Attempts, 3)
}

func TestRunDeliversResultToSinkOnce(t *testing.T) {
	clock := newFakeClock(testEpoch)
	sub := &fakeSubmitter{fallback: Outcome{Kind: Success}}
	sink := &recordingSink{}
	r := testRunner(clock, sub)
	r.Sink = sink

	res, err := r.Run(context.Background(), pastPlan(clock, "a"))
	require.NoError(t, err)
	require.Len(t, sink.results, 1)
	assert.Equal(t, res.Phase, sink.results[0].Phase)
}

func TestRunValidation(t *testing.T) {
	clock := newFakeClock(testEpoch)

	r := &Runner{Clock: clock}
	_, err := r.Run(context.Background(), pastPlan(clock, "a"))
	assert.ErrorIs(t, err, ErrNoSubmitter)

	r = testRunner(clock, &fakeSubmitter{})
	_, err = r.Run(context.Background(), Plan{Target: clock.Now()})
	assert.ErrorIs(t, err, ErrNoCandidates)
}

func TestRunReportsWakeTelemetry(t *testing.T) {
	clock := newFakeClock(testEpoch)
	sub := &fakeSubmitter{fallback: Outcome{Kind: Success}}
	r := testRunner(clock, sub)

	target := clock.Now().Add(45 * time.Second)
	res, err := r.Run(context.Background(), Plan{Target: target, EarlyOffset: -100 * time.Millisecond, Candidates: Candidates("a")})
	require.NoError(t, err)
	assert.False(t, res.WokeAt.Before(target.Add(-100*time.Millisecond)))
	assert.Less(t, res.Overshoot, 5*time.Millisecond)
	assert.Greater(t, res.Elapsed, time.Duration(0))
}
