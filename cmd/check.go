package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/recgov-sniper/internal/recgov"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check current availability for the configured target",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client, _, err := openClient(cfg)
			if err != nil {
				return err
			}

			arrival, _ := cfg.ArrivalDay()
			departure, _ := cfg.DepartureDay()
			target := recgov.Target{
				CampgroundID: cfg.Target.CampgroundID,
				SiteIDs:      cfg.Target.CampsiteIDs,
				Arrival:      arrival,
				Departure:    departure,
			}

			ids, err := client.AvailableSites(context.Background(), target)
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				fmt.Fprintf(os.Stdout, "no sites available in campground %s for %s to %s\n",
					target.CampgroundID, cfg.Target.ArrivalDate, cfg.Target.DepartureDate)
				return nil
			}
			fmt.Fprintf(os.Stdout, "sites available in campground %s for %s to %s:\n",
				target.CampgroundID, cfg.Target.ArrivalDate, cfg.Target.DepartureDate)
			for i, id := range ids {
				fmt.Fprintf(os.Stdout, "  %2d. %s\n", i+1, id)
			}
			return nil
		},
	}
}
