package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/dsvault/cmd/dsvault/commands"
	"github.com/systmms/dsvault/internal/config"
	dserrors "github.com/systmms/dsvault/internal/errors"
	"github.com/systmms/dsvault/internal/logging"
	"github.com/systmms/dsvault/internal/metrics"
	"github.com/systmms/dsvault/pkg/secure"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	secure.CatchInterrupt()

	err := run()
	secure.Purge()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(dserrors.ExitCode(err))
	}
}

func run() error {
	// Global flags
	var (
		configFile  string
		noColor     bool
		debug       bool
		metricsAddr string
	)

	cfg := &config.Config{}
	var metricsServer *metrics.Server

	rootCmd := &cobra.Command{
		Use:   "dsvault",
		Short: "Fetch secrets from pluggable vault backends",
		Long: `dsvault validates vault backend configurations and fetches secrets
from them, keeping values in locked, zeroizing memory.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg.Path = configFile
			cfg.Logger = logging.New(debug, noColor)

			if metricsAddr == "" {
				return nil
			}
			serverCfg := metrics.DefaultServerConfig()
			serverCfg.Addr = metricsAddr
			metricsServer = metrics.NewServer(serverCfg, cfg.Logger)
			return metricsServer.Start()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if metricsServer == nil {
				return nil
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Stop(ctx)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", config.DefaultPath, "Config file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while the command runs")

	rootCmd.AddCommand(
		commands.NewBackendsCommand(cfg),
		commands.NewValidateCommand(cfg),
		commands.NewGetCommand(cfg),
		commands.NewDoctorCommand(cfg),
	)

	return rootCmd.ExecuteContext(context.Background())
}
