// Package cmd defines the CLI commands for the ticketwatch executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ticketwatch/ticketwatch/internal/config"
	"github.com/ticketwatch/ticketwatch/internal/logging"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ticketwatch",
		Short: "Watches ticketing sites and announces newly opened sales",
		Long: `ticketwatch polls configured ticketing sites on a schedule, keeps a
durable record of every sale it has already announced, and posts each
newly discovered ticket-open notice to a chat webhook exactly once.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "path to the configuration file")

	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newPruneCmd())

	return cmd
}

// setup loads configuration and builds the logger shared by all commands.
func setup() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, logger, nil
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
