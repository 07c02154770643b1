package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/recgov-sniper/internal/db"
	"github.com/example/recgov-sniper/internal/jobs"
	"github.com/example/recgov-sniper/internal/migrate"
	"github.com/example/recgov-sniper/internal/notify"
	"github.com/example/recgov-sniper/internal/scheduler"
	"github.com/example/recgov-sniper/internal/snipe"
)

func newDaemonCmd() *cobra.Command {
	var (
		migrateUp bool
		interval  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the job scheduler: claim due jobs and snipe them as their windows open",
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

			if cfg.DatabaseURL == "" {
				return fmt.Errorf("database_url not configured; the daemon needs postgres")
			}
			d, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer d.Close()
			if err := d.Ping(ctx); err != nil {
				return fmt.Errorf("db ping: %w", err)
			}
			if migrateUp {
				if err := migrate.Up(ctx, d); err != nil {
					return err
				}
			}

			client, store, err := openClient(cfg)
			if err != nil {
				return err
			}

			s := &scheduler.Scheduler{
				Repo:        jobs.NewRepo(d),
				Client:      client,
				Limiter:     snipe.NewLimiter(cfg.API.RequestsPerSecond, cfg.API.Burst, snipe.SystemClock()),
				Policy:      cfg.Policy(),
				Notify:      notify.NewManager(cfg.Notifications, os.Stdout, log),
				Log:         log,
				Interval:    interval,
				Lead:        cfg.Schedule.PrepLead.Std(),
				EarlyOffset: -cfg.Schedule.EarlyOffset.Std(),
				MaxTotal:    cfg.Retry.MaxTotalAttempts,
				EnsureSession: func(ctx context.Context) error {
					return ensureSession(ctx, cfg, client, store)
				},
			}

			log.Info("daemon starting")
			if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup")
	cmd.Flags().DurationVar(&interval, "interval", 15*time.Second, "claim sweep interval")

	cmd.Flags().Lookup("migrate").NoOptDefVal = "true"
	return cmd
}
