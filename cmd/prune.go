package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ticketwatch/ticketwatch/internal/clock/system"
	"github.com/ticketwatch/ticketwatch/internal/store/dedup"
)

func newPruneCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Removes old records from the notified-fingerprint store",
		Long: `Drops dedup records whose notification is older than the given age.
Pruned listings would be announced again if a site ever re-publishes
them, so keep the window comfortably longer than any sale lifecycle.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() {
				_ = logger.Sync()
			}()

			clk := system.New()
			store, err := dedup.Open(cfg.Dedup.Path, clk)
			if err != nil {
				return fmt.Errorf("open dedup store: %w", err)
			}
			defer store.Close()

			cutoff := clk.Now().Add(-olderThan)
			removed, err := store.PruneOlderThan(cutoff)
			if err != nil {
				return fmt.Errorf("prune dedup store: %w", err)
			}
			logger.Info("pruned dedup store",
				zap.Int("removed", removed),
				zap.Int("remaining", store.Len()),
				zap.Time("cutoff", cutoff))
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 90*24*time.Hour, "minimum age of records to remove")
	return cmd
}
