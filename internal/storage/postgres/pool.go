// Package postgres implements the usage ledger and admin store on PostgreSQL
// through a pgx connection pool with a background health check.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mixaill76/key_rotator/internal/security"
)

//go:embed schema.sql
var schemaSQL string

const queryHealthCheck = `SELECT 1`

// ErrConnectionFailed is returned while the pool is closed or unhealthy.
var ErrConnectionFailed = errors.New("postgres: connection unavailable")

// PoolConfig configures the connection pool.
type PoolConfig struct {
	DatabaseURL         string
	MaxConns            int32
	MinConns            int32
	HealthCheckInterval time.Duration
	ConnectTimeout      time.Duration
	Logger              *slog.Logger
}

// ApplyDefaults fills unset fields.
func (c *PoolConfig) ApplyDefaults() {
	if c.MaxConns <= 0 {
		c.MaxConns = 10
	}
	if c.MinConns < 0 {
		c.MinConns = 0
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = 10 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Validate checks the configuration after ApplyDefaults.
func (c *PoolConfig) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("postgres: database URL is required")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("postgres: min_conns (%d) exceeds max_conns (%d)", c.MinConns, c.MaxConns)
	}
	return nil
}

// Pool manages PostgreSQL connections with auto-reconnect.
type Pool struct {
	pool   *pgxpool.Pool
	config PoolConfig
	logger *slog.Logger

	healthy atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	reconnectMu    sync.Mutex
	lastReconnect  time.Time
	reconnectDelay time.Duration
}

// NewPool connects, pings and starts the health check loop.
func NewPool(cfg PoolConfig) (*Pool, error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		config:         cfg,
		logger:         cfg.Logger,
		ctx:            ctx,
		cancel:         cancel,
		reconnectDelay: time.Second,
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("postgres: invalid database URL: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.HealthCheckPeriod = cfg.HealthCheckInterval
	poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	poolConfig.ConnConfig.OnNotice = func(c *pgconn.PgConn, n *pgconn.Notice) {
		p.logger.Debug("PostgreSQL notice",
			"severity", n.Severity,
			"message", n.Message,
		)
	}

	connectCtx, connectCancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer connectCancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("postgres: failed to connect: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		cancel()
		return nil, fmt.Errorf("postgres: ping failed: %w", err)
	}

	p.pool = pool
	p.healthy.Store(true)

	p.wg.Add(1)
	go p.healthCheckLoop()

	p.logger.Info("PostgreSQL connection pool initialized",
		"max_conns", cfg.MaxConns,
		"min_conns", cfg.MinConns,
		"database", security.MaskDatabaseURL(cfg.DatabaseURL),
	)

	return p, nil
}

// EnsureSchema creates the tables and seeds the default group. Safe to run on every start.
func (p *Pool) EnsureSchema(ctx context.Context) error {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("postgres: apply schema: %w", err)
	}
	return nil
}

// Acquire gets a connection from the pool.
func (p *Pool) Acquire(ctx context.Context) (*pgxpool.Conn, error) {
	if p.closed.Load() || !p.healthy.Load() {
		return nil, ErrConnectionFailed
	}
	return p.pool.Acquire(ctx)
}

// Ping reports whether the database answers a trivial query.
func (p *Pool) Ping(ctx context.Context) error {
	if p.closed.Load() || p.pool == nil {
		return ErrConnectionFailed
	}
	return p.pool.Ping(ctx)
}

// IsHealthy returns connection health status.
func (p *Pool) IsHealthy() bool {
	return p.healthy.Load()
}

// Stats returns pool statistics.
func (p *Pool) Stats() *pgxpool.Stat {
	if p.pool == nil {
		return nil
	}
	return p.pool.Stat()
}

// Close stops the health check and closes the pool. Safe to call twice.
func (p *Pool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}

	p.cancel()

	doneChan := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(doneChan)
	}()

	select {
	case <-doneChan:
	case <-time.After(10 * time.Second):
		p.logger.Warn("Health check goroutine did not stop within timeout")
	}

	if p.pool != nil {
		p.pool.Close()
	}

	p.logger.Info("PostgreSQL connection pool closed")
}

func (p *Pool) healthCheckLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.performHealthCheck()
		}
	}
}

func (p *Pool) performHealthCheck() {
	ctx, cancel := context.WithTimeout(p.ctx, 5*time.Second)
	defer cancel()

	var result int
	err := p.pool.QueryRow(ctx, queryHealthCheck).Scan(&result)

	if err != nil {
		if p.healthy.Swap(false) {
			p.logger.Error("PostgreSQL health check failed", "error", err)
		}
		p.tryReconnect()
		return
	}

	if !p.healthy.Swap(true) {
		p.logger.Info("PostgreSQL connection restored")
		p.reconnectMu.Lock()
		p.reconnectDelay = time.Second
		p.reconnectMu.Unlock()
	}
}

// tryReconnect pings with exponential backoff capped at 30s.
func (p *Pool) tryReconnect() {
	p.reconnectMu.Lock()
	defer p.reconnectMu.Unlock()

	if time.Since(p.lastReconnect) < p.reconnectDelay {
		return
	}

	p.logger.Info("Attempting to reconnect to PostgreSQL", "delay", p.reconnectDelay)

	ctx, cancel := context.WithTimeout(p.ctx, p.config.ConnectTimeout)
	defer cancel()

	err := p.pool.Ping(ctx)
	p.lastReconnect = time.Now().UTC()

	if err != nil {
		p.reconnectDelay = min(p.reconnectDelay*2, 30*time.Second)
		p.logger.Error("Reconnection failed",
			"error", err,
			"next_delay", p.reconnectDelay,
		)
		return
	}

	p.healthy.Store(true)
	p.reconnectDelay = time.Second
	p.logger.Info("Reconnection successful")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
