package main

import (
	"fmt"

	"github.com/mixaill76/key_rotator/internal/ledger"
	"github.com/mixaill76/key_rotator/internal/monitoring"
	"github.com/mixaill76/key_rotator/internal/storage"
	"github.com/spf13/cobra"
)

func newSweepCmd(configPath *string) *cobra.Command {
	var maxAgeHours int

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one usage retention pass and exit",
		Long: `Deletes usage records older than the retention window. The newest record of
every API key is always kept so its last-used time survives.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(*configPath, true)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("max-age-hours") {
				cfg.Retention.MaxAgeHours = maxAgeHours
			}

			loc, err := cfg.Quota.Location()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			backend, err := storage.Open(ctx, cfg.Storage, ledger.NewClock(loc), log)
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			defer backend.Close()

			sweeper := ledger.NewSweeper(backend.Ledger, cfg.Retention.MaxAgeHours, cfg.Retention.Schedule, monitoring.New(false), log)
			if !sweeper.Enabled() {
				log.Warn("Retention is disabled, nothing to sweep")
				return nil
			}

			deleted, err := sweeper.RunOnce(ctx)
			if err != nil {
				return fmt.Errorf("sweep retention: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d usage records older than %dh\n", deleted, cfg.Retention.MaxAgeHours)
			return nil
		},
	}
	cmd.Flags().IntVar(&maxAgeHours, "max-age-hours", 0, "Override retention.max_age_hours")
	return cmd
}
