package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/mixaill76/key_rotator/internal/config"
	"github.com/mixaill76/key_rotator/internal/cooldown"
	"github.com/mixaill76/key_rotator/internal/dispatcher"
	"github.com/mixaill76/key_rotator/internal/gemini"
	"github.com/mixaill76/key_rotator/internal/health"
	"github.com/mixaill76/key_rotator/internal/keypool"
	"github.com/mixaill76/key_rotator/internal/ledger"
	"github.com/mixaill76/key_rotator/internal/monitoring"
	"github.com/mixaill76/key_rotator/internal/router"
	"github.com/mixaill76/key_rotator/internal/startup"
	"github.com/mixaill76/key_rotator/internal/stats"
	"github.com/mixaill76/key_rotator/internal/statushub"
	"github.com/mixaill76/key_rotator/internal/storage"
	"github.com/mixaill76/key_rotator/internal/worker"
	"github.com/spf13/cobra"
)

const (
	statsQueueSize    = 64
	readHeaderTimeout = 10 * time.Second
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the proxy and admin API",
		Example: `  # Run with a config file
  key_rotator serve --config config.yaml

  # Run on the in-memory store, configured from the environment
  KEY_ROTATOR_STORAGE_DRIVER=memory key_rotator serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, *configPath)
		},
	}
}

func runServe(cmd *cobra.Command, configPath string) error {
	cfg, log, err := loadConfig(configPath, false)
	if err != nil {
		return err
	}

	log.Info("Starting key_rotator",
		"logging_level", cfg.Server.LoggingLevel,
		"port", cfg.Server.Port,
		"storage_driver", cfg.Storage.Driver,
	)
	config.PrintConfig(log, cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Quota.Location()
	if err != nil {
		return err
	}
	clock := ledger.NewClock(loc)
	metrics := monitoring.New(cfg.Monitoring.PrometheusEnabled)

	backend, err := storage.Open(ctx, cfg.Storage, clock, log)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Error("Failed to close storage", "error", err)
		}
	}()

	cool := cooldown.New(cfg.Quota.ExhaustedCooldown, clock, metrics)

	pool := keypool.New(backend.Ledger, cfg.Quota.DefaultDailyQuota)
	pool.SetLogger(log)
	pool.SetMetrics(metrics)
	pool.SetSuppressor(cool)
	if err := startup.LoadPool(ctx, backend.Admin, pool); err != nil {
		return fmt.Errorf("load credential pool: %w", err)
	}
	startup.LogPoolDiagnostics(pool, log)

	hub, err := statushub.New(cfg.Status.SubscriberBuffer, cfg.Status.StateCacheSize, metrics, log)
	if err != nil {
		return err
	}
	defer hub.Close()

	svc := stats.NewService(backend.Ledger, pool, hub, clock, cfg.Status.StatsWindowHours)

	// Stats recomputation runs on one worker so updates go out in order.
	statsQueue := worker.NewQueue(context.Background(), 1, statsQueueSize, log)
	defer func() {
		statsQueue.Close()
		counts := statsQueue.Counts()
		log.Info("Stats queue drained",
			"done", counts.Done,
			"failed", counts.Failed,
			"rejected", counts.Rejected,
		)
	}()

	d := dispatcher.New(dispatcher.Options{
		Selector:       pool,
		Upstream:       gemini.NewClient(cfg.Upstream, log),
		Ledger:         backend.Ledger,
		Publisher:      hub,
		Suppressor:     cool,
		Stats:          svc,
		StatsQueue:     statsQueue,
		Clock:          clock,
		RequestTimeout: cfg.Server.RequestTimeout,
		Metrics:        metrics,
		Logger:         log,
	})

	checker := health.NewStorageChecker()
	monitor := health.NewMonitor(health.MonitorConfig{Logger: log}, checker, backend.Admin)
	go monitor.Start(ctx)

	sweeper := ledger.NewSweeper(backend.Ledger, cfg.Retention.MaxAgeHours, cfg.Retention.Schedule, metrics, log)
	if err := sweeper.Start(ctx); err != nil {
		return err
	}
	defer sweeper.Stop()

	rtr := router.New(router.Deps{
		Dispatcher: d,
		Pool:       pool,
		Admin:      backend.Admin,
		Ledger:     backend.Ledger,
		Hub:        hub,
		Stats:      svc,
		Cooldown:   cool,
		Health:     checker,
		Config:     cfg,
		Logger:     log,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           rtr,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	// Status streams only end when the hub closes.
	server.RegisterOnShutdown(hub.Close)

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Server starting", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("Server shutdown complete")
	return nil
}
