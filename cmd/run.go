package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/recgov-sniper/internal/config"
	"github.com/example/recgov-sniper/internal/notify"
	"github.com/example/recgov-sniper/internal/recgov"
	"github.com/example/recgov-sniper/internal/session"
	"github.com/example/recgov-sniper/internal/snipe"
)

func newRunCmd() *cobra.Command {
	var now bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Wait for the reservation window and snipe the configured target",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			client, store, err := openClient(cfg)
			if err != nil {
				return err
			}
			if err := ensureSession(ctx, cfg, client, store); err != nil {
				return err
			}

			target, err := buildTarget(cfg)
			if err != nil {
				return err
			}

			window := time.Now()
			if !now {
				if cfg.Schedule.WindowOpens == "" {
					return fmt.Errorf("schedule.window_opens not set; use --now to fire immediately")
				}
				window, err = cfg.WindowTime()
				if err != nil {
					return err
				}
			}

			ids := cfg.Target.CampsiteIDs
			if len(ids) == 0 {
				ids, err = client.AllSiteIDs(ctx, target)
				if err != nil {
					return err
				}
			}
			if len(ids) == 0 {
				return fmt.Errorf("campground %s has no campsites to attempt", target.CampgroundID)
			}

			booker := client.Booker(target)
			manager := notify.NewManager(cfg.Notifications, os.Stdout, log)
			sink := notify.NewResultSink(manager, target.CampgroundID, target.Arrival, target.Departure, client.CartURL())

			runner := &snipe.Runner{
				Limiter:   snipe.NewLimiter(cfg.API.RequestsPerSecond, cfg.API.Burst, snipe.SystemClock()),
				Policy:    cfg.Policy(),
				Submitter: booker,
				Poller:    booker,
				Captcha:   &promptResolver{sink: sink, link: client.CartURL()},
				Sink:      sink,
				Log:       log,
			}

			res, err := runner.Run(ctx, snipe.Plan{
				Target:           window,
				EarlyOffset:      -cfg.Schedule.EarlyOffset.Std(),
				Candidates:       snipe.Candidates(ids...),
				MaxTotalAttempts: cfg.Retry.MaxTotalAttempts,
			})
			printResult(res)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&now, "now", false, "skip the wait and attempt immediately")
	return cmd
}

func buildTarget(cfg config.Config) (recgov.Target, error) {
	arrival, err := cfg.ArrivalDay()
	if err != nil {
		return recgov.Target{}, err
	}
	departure, err := cfg.DepartureDay()
	if err != nil {
		return recgov.Target{}, err
	}
	return recgov.Target{
		CampgroundID: cfg.Target.CampgroundID,
		SiteIDs:      cfg.Target.CampsiteIDs,
		Arrival:      arrival,
		Departure:    departure,
	}, nil
}

// ensureSession refreshes authentication before the run so no time is lost
// on a 401 at the window.
func ensureSession(ctx context.Context, cfg config.Config, client *recgov.Client, store *session.Store) error {
	if !client.Session().IsExpired(session.DefaultMaxAge) {
		if err := client.Ping(ctx); err == nil {
			return nil
		}
	}
	if cfg.Credentials.Email == "" || cfg.Credentials.Password == "" {
		return fmt.Errorf("session is stale and no credentials configured; run 'recsnipe login'")
	}
	if err := client.Login(ctx, cfg.Credentials.Email, cfg.Credentials.Password); err != nil {
		return fmt.Errorf("refresh login: %w", err)
	}
	if err := store.Save(client.Session()); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func printResult(res snipe.Result) {
	fmt.Printf("\nresult: %s", res.Phase)
	if res.Winner != nil {
		fmt.Printf(" (site %s)", res.Winner.ID)
	}
	fmt.Printf("\nwoke at %s, overshoot %s, %d attempt(s) in %s\n",
		res.WokeAt.Format("15:04:05.000"), res.Overshoot, len(res.Attempts), res.Elapsed)
	for _, rec := range res.Attempts {
		detail := ""
		if rec.Err != nil {
			detail = " " + rec.Err.Error()
		}
		fmt.Printf("  #%d site=%s %s%s\n", rec.Seq, rec.Candidate.ID, rec.Outcome, detail)
	}
	if res.Err != nil {
		fmt.Printf("error: %v\n", res.Err)
	}
}

// promptResolver suspends the run until the operator confirms the challenge
// is solved (or the run is cancelled).
type promptResolver struct {
	sink *notify.ResultSink
	link string
}

func (p *promptResolver) Resolve(ctx context.Context, _ error) error {
	p.sink.CaptchaAlert(ctx, p.link)
	fmt.Println("\nsolve the captcha in your browser, then press Enter to resume")

	done := make(chan struct{})
	go func() {
		_, _ = bufio.NewReader(os.Stdin).ReadString('\n')
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
