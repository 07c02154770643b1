package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/recgov-sniper/internal/config"
	"github.com/example/recgov-sniper/internal/db"
	"github.com/example/recgov-sniper/internal/jobs"
	"github.com/example/recgov-sniper/internal/migrate"
)

func newJobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Manage scheduled snipe jobs",
	}
	cmd.AddCommand(newJobCreateCmd())
	cmd.AddCommand(newJobListCmd())
	cmd.AddCommand(newJobCancelCmd())
	cmd.AddCommand(newJobAttemptsCmd())
	return cmd
}

func openRepo(ctx context.Context, cfg config.Config, migrateUp bool) (*jobs.Repo, func(), error) {
	if cfg.DatabaseURL == "" {
		return nil, nil, fmt.Errorf("database_url not configured; job scheduling needs postgres")
	}
	d, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if migrateUp {
		if err := migrate.Up(ctx, d); err != nil {
			d.Close()
			return nil, nil, err
		}
	}
	return jobs.NewRepo(d), d.Close, nil
}

func newJobCreateCmd() *cobra.Command {
	var (
		name        string
		campground  string
		campsites   string
		arrival     string
		departure   string
		windowOpens string
		timezone    string
	)

	c := &cobra.Command{
		Use:   "create",
		Short: "Schedule a snipe for a future reservation window",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			repo, closeDB, err := openRepo(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer closeDB()

			arr, err := time.Parse("2006-01-02", arrival)
			if err != nil {
				return fmt.Errorf("invalid --arrival (want YYYY-MM-DD)")
			}
			dep, err := time.Parse("2006-01-02", departure)
			if err != nil {
				return fmt.Errorf("invalid --departure (want YYYY-MM-DD)")
			}
			if timezone == "" {
				timezone = cfg.Schedule.Timezone
			}
			loc, err := time.LoadLocation(timezone)
			if err != nil {
				return fmt.Errorf("invalid --timezone: %w", err)
			}
			opens, err := time.ParseInLocation("2006-01-02 15:04:05", windowOpens, loc)
			if err != nil {
				opens, err = time.ParseInLocation("2006-01-02 15:04", windowOpens, loc)
				if err != nil {
					return fmt.Errorf("invalid --window-opens (want 'YYYY-MM-DD HH:MM[:SS]')")
				}
			}

			j := jobs.Job{
				Name:          name,
				CampgroundID:  campground,
				CampsiteIDs:   splitCSV(campsites),
				ArrivalDate:   arr,
				DepartureDate: dep,
				WindowOpensAt: opens.UTC(),
			}
			id, err := repo.Create(ctx, j)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "created job id=%d window_opens_utc=%s\n", id, opens.UTC().Format(time.RFC3339))
			return nil
		},
	}

	c.Flags().StringVar(&name, "name", "", "job name")
	c.Flags().StringVar(&campground, "campground", "", "recreation.gov campground id")
	c.Flags().StringVar(&campsites, "campsites", "", "preferred campsite ids in priority order (comma-separated)")
	c.Flags().StringVar(&arrival, "arrival", "", "arrival date YYYY-MM-DD")
	c.Flags().StringVar(&departure, "departure", "", "departure date YYYY-MM-DD (exclusive)")
	c.Flags().StringVar(&windowOpens, "window-opens", "", "local instant the booking window opens 'YYYY-MM-DD HH:MM:SS'")
	c.Flags().StringVar(&timezone, "timezone", "", "timezone for --window-opens (defaults to schedule.timezone)")

	_ = c.MarkFlagRequired("name")
	_ = c.MarkFlagRequired("campground")
	_ = c.MarkFlagRequired("arrival")
	_ = c.MarkFlagRequired("departure")
	_ = c.MarkFlagRequired("window-opens")
	return c
}

func newJobListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			repo, closeDB, err := openRepo(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer closeDB()

			js, err := repo.List(ctx)
			if err != nil {
				return err
			}
			for _, j := range js {
				winner := ""
				if j.WinnerSiteID != nil {
					winner = " site=" + *j.WinnerSiteID
				}
				fmt.Fprintf(os.Stdout, "id=%d name=%q status=%s%s campground=%s stay=%s..%s opens=%s\n",
					j.ID, j.Name, j.Status, winner, j.CampgroundID,
					j.ArrivalDate.Format("2006-01-02"), j.DepartureDate.Format("2006-01-02"),
					j.WindowOpensAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newJobCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a pending job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			repo, closeDB, err := openRepo(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer closeDB()

			if err := repo.Cancel(ctx, id); err != nil {
				if db.IsNotFound(err) {
					return fmt.Errorf("job %d is not pending (already running or finished?)", id)
				}
				return err
			}
			fmt.Fprintf(os.Stdout, "cancelled job id=%d\n", id)
			return nil
		},
	}
}

func newJobAttemptsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attempts <id>",
		Short: "Show the attempt audit trail for a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			repo, closeDB, err := openRepo(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer closeDB()

			recs, err := repo.Attempts(ctx, id)
			if err != nil {
				return err
			}
			for _, a := range recs {
				detail := ""
				if a.Error != nil {
					detail = " " + *a.Error
				}
				fmt.Fprintf(os.Stdout, "#%d site=%s rank=%d %s latency=%s%s\n",
					a.Seq, a.CandidateID, a.Rank, a.Outcome, a.EndedAt.Sub(a.StartedAt), detail)
			}
			return nil
		},
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
