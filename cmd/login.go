package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authenticate with Recreation.gov and save the encrypted session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Credentials.Email == "" || cfg.Credentials.Password == "" {
				return fmt.Errorf("credentials missing; set credentials in %s or RECGOV_EMAIL/RECGOV_PASSWORD", configPath)
			}

			client, store, err := openClient(cfg)
			if err != nil {
				return err
			}

			ctx := context.Background()
			if err := client.Login(ctx, cfg.Credentials.Email, cfg.Credentials.Password); err != nil {
				return err
			}
			if err := store.Save(client.Session()); err != nil {
				return fmt.Errorf("save session: %w", err)
			}
			fmt.Fprintf(os.Stdout, "logged in as %s, session saved to %s\n", cfg.Credentials.Email, cfg.Session.File)
			return nil
		},
	}
}
