// Package scheduler is the daemon loop: it claims due snipe jobs from the
// database and drives a full run for each one.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/recgov-sniper/internal/jobs"
	"github.com/example/recgov-sniper/internal/logger"
	"github.com/example/recgov-sniper/internal/notify"
	"github.com/example/recgov-sniper/internal/recgov"
	"github.com/example/recgov-sniper/internal/snipe"
)

const claimBatch = 10

// Scheduler polls for due jobs and runs each in its own goroutine. Jobs share
// one Limiter so concurrent runs respect the API budget together.
type Scheduler struct {
	Repo    *jobs.Repo
	Client  *recgov.Client
	Limiter *snipe.Limiter
	Policy  snipe.Policy
	Notify  *notify.Manager
	Log     logger.Logger

	// Interval between claim sweeps. Lead is how far before the window a job
	// is claimed; the precision waiter covers the remainder.
	Interval    time.Duration
	Lead        time.Duration
	EarlyOffset time.Duration
	MaxTotal    int

	// EnsureSession refreshes auth before a run. Optional.
	EnsureSession func(ctx context.Context) error

	wg sync.WaitGroup
}

// Run loops until the context is cancelled, then waits for in-flight jobs.
func (s *Scheduler) Run(ctx context.Context) error {
	t := time.NewTicker(s.Interval)
	defer t.Stop()

	// kick immediately
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return ctx.Err()
		case <-t.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	claimed, err := s.Repo.Claim(ctx, s.Lead, claimBatch)
	if err != nil {
		s.Log.Error("claim sweep failed", zap.Error(err))
		return
	}
	for _, j := range claimed {
		j := j
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runJob(ctx, j)
		}()
	}
}

func (s *Scheduler) runJob(ctx context.Context, j jobs.Job) {
	log := s.Log.With(zap.Int64("job_id", j.ID), zap.String("job", j.Name))
	log.Info("job claimed",
		zap.Time("window_opens_at", j.WindowOpensAt),
		zap.String("campground", j.CampgroundID))

	if s.EnsureSession != nil {
		if err := s.EnsureSession(ctx); err != nil {
			log.Error("session prep failed", zap.Error(err))
			s.persist(j.ID, snipe.Result{Phase: snipe.PhaseAborted, Err: err})
			return
		}
	}

	target := recgov.Target{
		CampgroundID: j.CampgroundID,
		SiteIDs:      j.CampsiteIDs,
		Arrival:      j.ArrivalDate,
		Departure:    j.DepartureDate,
	}
	booker := s.Client.Booker(target)

	ids := j.CampsiteIDs
	if len(ids) == 0 {
		// No preference configured; every site in the campground is a
		// candidate. Availability at the window is still checked by the
		// runner's poll.
		all, err := s.Client.AllSiteIDs(ctx, target)
		if err != nil {
			log.Error("candidate discovery failed", zap.Error(err))
			s.persist(j.ID, snipe.Result{Phase: snipe.PhaseAborted, Err: err})
			return
		}
		ids = all
	}

	sink := notify.NewResultSink(s.Notify, j.CampgroundID, j.ArrivalDate, j.DepartureDate, s.Client.CartURL())
	runner := &snipe.Runner{
		Limiter:   s.Limiter,
		Policy:    s.Policy,
		Submitter: booker,
		Poller:    booker,
		Captcha:   &captchaPause{sink: sink, link: s.Client.CartURL(), wait: 2 * time.Minute},
		Sink:      sink,
		Log:       log,
	}

	res, err := runner.Run(ctx, snipe.Plan{
		Target:           j.WindowOpensAt,
		EarlyOffset:      s.EarlyOffset,
		Candidates:       snipe.Candidates(ids...),
		MaxTotalAttempts: s.MaxTotal,
	})
	if err != nil {
		log.Warn("run stopped early", zap.Error(err))
	}
	log.Info("job finished",
		zap.String("phase", res.Phase.String()),
		zap.Int("attempts", len(res.Attempts)),
		zap.Duration("overshoot", res.Overshoot))

	s.persist(j.ID, res)
}

// persist uses a fresh context so results survive daemon shutdown.
func (s *Scheduler) persist(jobID int64, res snipe.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Repo.Finish(ctx, jobID, res); err != nil {
		s.Log.Error("persisting result failed", zap.Int64("job_id", jobID), zap.Error(err))
	}
}

// captchaPause alerts the operator and gives them a fixed window to solve
// the challenge in a browser before the run resumes.
type captchaPause struct {
	sink *notify.ResultSink
	link string
	wait time.Duration
}

func (p *captchaPause) Resolve(ctx context.Context, _ error) error {
	p.sink.CaptchaAlert(ctx, p.link)
	t := time.NewTimer(p.wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
