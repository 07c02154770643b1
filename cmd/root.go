package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/recgov-sniper/internal/config"
	"github.com/example/recgov-sniper/internal/logger"
	"github.com/example/recgov-sniper/internal/recgov"
	"github.com/example/recgov-sniper/internal/session"
)

var (
	Version   = "dev"
	CommitSHA = "none"
	BuildDate = "unknown"
)

var configPath string

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "recsnipe",
		Short: "Precision sniper that books Recreation.gov campsites the instant a reservation window opens",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newKeysCmd())
	root.AddCommand(newLoginCmd())
	root.AddCommand(newCheckCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newJobCmd())
	root.AddCommand(newDaemonCmd())

	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	return config.Load(configPath)
}

func newLogger(cfg config.Config) (logger.Logger, error) {
	return logger.New(cfg.Logging.Level, cfg.Logging.Development)
}

// openClient builds a Recreation.gov client, restoring the saved session if
// one exists.
func openClient(cfg config.Config) (*recgov.Client, *session.Store, error) {
	if cfg.Session.Passphrase == "" {
		return nil, nil, fmt.Errorf("session passphrase missing; run 'recsnipe keys' and export RECGOV_SESSION_KEY")
	}
	store := session.NewStore(cfg.Session.File, cfg.Session.Passphrase)
	state, err := store.Load()
	if err != nil && !errors.Is(err, session.ErrNoSession) {
		return nil, nil, fmt.Errorf("load session: %w", err)
	}
	return recgov.New(cfg.API.BaseURL, state), store, nil
}
