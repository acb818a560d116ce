// Package storage opens the configured persistence backend.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mixaill76/key_rotator/internal/config"
	"github.com/mixaill76/key_rotator/internal/ledger"
	"github.com/mixaill76/key_rotator/internal/models"
	"github.com/mixaill76/key_rotator/internal/storage/memory"
	"github.com/mixaill76/key_rotator/internal/storage/postgres"
	"github.com/mixaill76/key_rotator/internal/storage/sqlite"
)

// AdminStore persists credentials, groups and settings.
type AdminStore interface {
	Ping(ctx context.Context) error

	ListCredentials(ctx context.Context) ([]models.Credential, error)
	CredentialsByGroup(ctx context.Context, groupID string) ([]models.Credential, error)
	GetCredential(ctx context.Context, id string) (models.Credential, error)
	CreateCredential(ctx context.Context, c models.Credential) (models.Credential, error)
	UpdateCredential(ctx context.Context, id string, in models.CredentialInput) (models.Credential, error)
	DeleteCredential(ctx context.Context, id string) error

	ListGroups(ctx context.Context) ([]models.Group, error)
	GetGroup(ctx context.Context, id string) (models.Group, error)
	CreateGroup(ctx context.Context, g models.Group) (models.Group, error)
	RenameGroup(ctx context.Context, id, name string) (models.Group, error)
	DeleteGroup(ctx context.Context, id string) error

	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	ActiveGroupID(ctx context.Context) (string, error)
	SetActiveGroup(ctx context.Context, groupID string) error
}

var (
	_ AdminStore = (*sqlite.Store)(nil)
	_ AdminStore = (*postgres.Store)(nil)
	_ AdminStore = (*memory.Store)(nil)
)

// Backend bundles the ledger and admin store of one driver.
type Backend struct {
	Driver string
	Ledger ledger.Ledger
	Admin  AdminStore
	close  func() error
}

// Close releases the backend's connections.
func (b *Backend) Close() error {
	if b == nil || b.close == nil {
		return nil
	}
	return b.close()
}

// Open connects to the driver named in cfg, applying migrations where the driver has them.
func Open(ctx context.Context, cfg config.StorageConfig, clock *ledger.Clock, logger *slog.Logger) (*Backend, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		db, err := sqlite.NewDB(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := sqlite.RunMigrations(db.Writer); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		logger.Info("Storage opened", "driver", cfg.Driver, "path", cfg.SQLitePath)
		return &Backend{
			Driver: cfg.Driver,
			Ledger: sqlite.NewLedger(db, clock),
			Admin:  sqlite.NewStore(db),
			close:  db.Close,
		}, nil

	case config.DriverPostgres:
		pool, err := postgres.NewPool(postgres.PoolConfig{
			DatabaseURL: cfg.DatabaseURL,
			MaxConns:    cfg.MaxConns,
			MinConns:    cfg.MinConns,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		if err := pool.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return &Backend{
			Driver: cfg.Driver,
			Ledger: postgres.NewLedger(pool, clock),
			Admin:  postgres.NewStore(pool),
			close: func() error {
				pool.Close()
				return nil
			},
		}, nil

	case config.DriverMemory:
		logger.Warn("Storage driver is memory; usage history is lost on restart")
		return &Backend{
			Driver: cfg.Driver,
			Ledger: ledger.NewMemoryLedger(clock),
			Admin:  memory.NewStore(),
		}, nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
