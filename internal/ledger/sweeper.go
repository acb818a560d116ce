package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mixaill76/key_rotator/internal/monitoring"
	"github.com/robfig/cron/v3"
)

// sweepTimeout bounds a single retention pass.
const sweepTimeout = 2 * time.Minute

// Sweeper runs SweepRetention once at start and then on a cron schedule.
type Sweeper struct {
	ledger      Ledger
	maxAgeHours int
	schedule    string
	metrics     *monitoring.Metrics
	logger      *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewSweeper creates a sweeper. A non-positive maxAgeHours disables it.
func NewSweeper(l Ledger, maxAgeHours int, schedule string, metrics *monitoring.Metrics, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		ledger:      l,
		maxAgeHours: maxAgeHours,
		schedule:    schedule,
		metrics:     metrics,
		logger:      logger,
	}
}

// Enabled reports whether the sweeper does anything.
func (s *Sweeper) Enabled() bool {
	return s.maxAgeHours > 0
}

// Start performs the initial sweep and registers the recurring one.
// The schedule keeps running until Stop is called or ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	if !s.Enabled() {
		s.logger.Info("Retention sweep disabled")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return fmt.Errorf("retention sweeper already started")
	}

	cl := cronLogger{logger: s.logger}
	c := cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	if _, err := c.AddFunc(s.schedule, func() { s.sweep(ctx) }); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", s.schedule, err)
	}

	s.sweep(ctx)

	c.Start()
	s.cron = c

	s.logger.Info("Retention sweep scheduled",
		"schedule", s.schedule,
		"max_age_hours", s.maxAgeHours,
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// RunOnce performs a single sweep and returns the number of deleted rows.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	if !s.Enabled() {
		return 0, nil
	}
	sweepCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	deleted, err := s.ledger.SweepRetention(sweepCtx, s.maxAgeHours)
	if err != nil {
		return 0, err
	}
	s.metrics.RecordRetentionSweep(deleted)
	return deleted, nil
}

// Stop unregisters the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.logger.Info("Retention sweep stopped")
}

func (s *Sweeper) sweep(ctx context.Context) {
	start := time.Now()
	deleted, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Error("Retention sweep failed", "error", err)
		return
	}
	if deleted > 0 {
		s.logger.Info("Retention sweep completed",
			"deleted_rows", deleted,
			"max_age_hours", s.maxAgeHours,
			"duration", time.Since(start).String(),
		)
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
