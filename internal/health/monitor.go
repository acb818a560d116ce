package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultCheckInterval    = 30 * time.Second
	defaultFailureThreshold = 3
	defaultPingTimeout      = 5 * time.Second
)

// Pinger is a storage backend that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

type MonitorConfig struct {
	// Interval between pings
	CheckInterval time.Duration
	// Consecutive failures before the storage is reported unhealthy
	FailureThreshold int
	PingTimeout      time.Duration
	Logger           *slog.Logger
}

type MonitorStats struct {
	LastCheckTime       time.Time `json:"lastCheckTime"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	IsHealthy           bool      `json:"healthy"`
	LastError           string    `json:"lastError,omitempty"`
}

// Monitor pings storage periodically and flips a StorageChecker after
// FailureThreshold consecutive failures. One success restores it.
type Monitor struct {
	config  MonitorConfig
	checker *StorageChecker
	store   Pinger

	mu                  sync.RWMutex
	consecutiveFailures int
	lastCheckTime       time.Time
	lastError           string
}

func NewMonitor(cfg MonitorConfig, checker *StorageChecker, store Pinger) *Monitor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = defaultCheckInterval
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = defaultPingTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Monitor{
		config:  cfg,
		checker: checker,
		store:   store,
	}
}

// Start runs the check loop until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	m.config.Logger.Info("Storage health monitor started",
		"check_interval", m.config.CheckInterval,
		"failure_threshold", m.config.FailureThreshold,
	)

	for {
		select {
		case <-ctx.Done():
			m.config.Logger.Info("Storage health monitor stopped")
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check pings the store once and updates the checker.
func (m *Monitor) Check(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, m.config.PingTimeout)
	err := m.store.Ping(pingCtx)
	cancel()

	now := time.Now().UTC()
	wasHealthy := m.checker.IsHealthy()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCheckTime = now

	if err == nil {
		m.consecutiveFailures = 0
		m.lastError = ""
		if !wasHealthy {
			m.config.Logger.Warn("Storage recovered (state: unhealthy -> healthy)")
		}
		m.checker.SetHealthy(true)
		return
	}

	m.consecutiveFailures++
	m.lastError = err.Error()

	if m.consecutiveFailures == 1 {
		m.config.Logger.Warn("Storage health check failed",
			"error", err,
			"threshold", m.config.FailureThreshold,
		)
	}

	if m.consecutiveFailures >= m.config.FailureThreshold && wasHealthy {
		m.config.Logger.Error("Storage marked unhealthy (state: healthy -> unhealthy)",
			"consecutive_failures", m.consecutiveFailures,
			"recovery", fmt.Sprintf("retrying every %s", m.config.CheckInterval),
		)
		m.checker.SetHealthy(false)
	}
}

func (m *Monitor) Stats() MonitorStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return MonitorStats{
		LastCheckTime:       m.lastCheckTime,
		ConsecutiveFailures: m.consecutiveFailures,
		IsHealthy:           m.checker.IsHealthy(),
		LastError:           m.lastError,
	}
}
