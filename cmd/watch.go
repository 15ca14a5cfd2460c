package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ticketwatch/ticketwatch/internal/app"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Runs the periodic watcher service",
		Long: `Starts the scheduler and HTTP API and keeps crawling on the configured
interval until interrupted. This is the normal long-running mode.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() {
				_ = logger.Sync()
			}()

			a, err := app.New(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			return a.Run(cmd.Context())
		},
	}
}
