package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mixaill76/key_rotator/internal/config"
	"github.com/mixaill76/key_rotator/internal/logger"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the CLI. Without a subcommand it runs the server.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "key_rotator",
		Short: "Gemini reverse proxy that rotates API keys under a daily quota",
		Long: `key_rotator accepts Gemini generateContent and streamGenerateContent calls,
forwards each one with the next API key of the active group that still has
quota for the day, and records every call in a usage ledger.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (defaults plus KEY_ROTATOR_* env when empty)")

	root.AddCommand(
		newServeCmd(&configPath),
		newSweepCmd(&configPath),
		newHistoryCmd(&configPath),
	)
	return root
}

// loadConfig reads the configuration and builds the process logger.
// CLI subcommands log to stderr so stdout stays machine readable.
func loadConfig(path string, toStderr bool) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	var log *slog.Logger
	switch {
	case toStderr:
		log = logger.NewWithWriter(os.Stderr, cfg.Server.LoggingLevel)
	case cfg.Server.LogFormat == "json":
		log = logger.NewJSON(cfg.Server.LoggingLevel)
	default:
		log = logger.New(cfg.Server.LoggingLevel)
	}
	return cfg, log, nil
}
