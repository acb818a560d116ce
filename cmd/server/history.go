package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/mixaill76/key_rotator/internal/ledger"
	"github.com/mixaill76/key_rotator/internal/models"
	"github.com/mixaill76/key_rotator/internal/storage"
	"github.com/spf13/cobra"
)

func newHistoryCmd(configPath *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:     "history",
		Aliases: []string{"hist"},
		Short:   "Print the most recent usage records",
		Example: `  # Last 20 calls
  key_rotator history --limit 20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(*configPath, true)
			if err != nil {
				return err
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

			rows, err := backend.Ledger.History(ctx, limit)
			if err != nil {
				return err
			}
			return printHistory(cmd.OutOrStdout(), rows, loc)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of records (max 1000)")
	return cmd
}

// printHistory renders rows as an aligned table with times in loc.
func printHistory(out io.Writer, rows []models.UsageRecord, loc *time.Location) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tKEY\tMODEL\tSTATUS\tLATENCY\tTOKENS\tERROR")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%dms\t%s\t%s\n",
			r.Timestamp.In(loc).Format(time.DateTime),
			r.CredentialID,
			r.ModelID,
			r.Status,
			r.LatencyMs,
			optionalInt(r.TotalTokens),
			optionalString(r.ErrorCode),
		)
	}
	return w.Flush()
}

func optionalInt(v *int) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v)
}

func optionalString(v *string) string {
	if v == nil {
		return "-"
	}
	return *v
}
