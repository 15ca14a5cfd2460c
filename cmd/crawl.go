package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ticketwatch/ticketwatch/internal/app"
)

func newCrawlCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs a single crawl cycle and exits",
		Long: `Executes one crawl cycle against every enabled source, delivers any
newly discovered tickets, and exits. Useful for cron-style operation
and for testing source configuration.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() {
				_ = logger.Sync()
			}()

			if dryRun {
				cfg.Notify.Enabled = false
			}
			cfg.API.Enabled = false

			a, err := app.New(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			defer a.Close()

			result := a.RunOnce(cmd.Context())
			logger.Info("cycle summary",
				zap.String("cycle_id", result.ID),
				zap.Int("new", len(result.NewTickets)),
				zap.Int("notified", result.Notified),
				zap.Int("deferred", result.Deferred),
				zap.Int("failed", result.Failed))

			failures := 0
			for _, outcome := range result.Outcomes {
				if !outcome.OK {
					failures++
				}
			}
			if failures == len(result.Outcomes) && failures > 0 {
				return fmt.Errorf("all %d sources failed", failures)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "crawl without sending notifications")
	return cmd
}
