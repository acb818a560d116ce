package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/mixaill76/key_rotator/internal/models"
	"github.com/mixaill76/key_rotator/internal/utils"
)

const credentialColumns = `id, name, api_key, group_id, rpd, is_enabled, created_at`

// Store is the PostgreSQL implementation of the admin store.
type Store struct {
	pool *Pool
}

// NewStore creates an admin store over pool.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) ListCredentials(ctx context.Context) ([]models.Credential, error) {
	return s.queryCredentials(ctx, `SELECT `+credentialColumns+` FROM api_keys ORDER BY created_at, seq`)
}

func (s *Store) CredentialsByGroup(ctx context.Context, groupID string) ([]models.Credential, error) {
	return s.queryCredentials(ctx,
		`SELECT `+credentialColumns+` FROM api_keys WHERE group_id = $1 ORDER BY created_at, seq`, groupID)
}

func (s *Store) GetCredential(ctx context.Context, id string) (models.Credential, error) {
	creds, err := s.queryCredentials(ctx, `SELECT `+credentialColumns+` FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return models.Credential{}, err
	}
	if len(creds) == 0 {
		return models.Credential{}, fmt.Errorf("credential %q: %w", id, models.ErrNotFound)
	}
	return creds[0], nil
}

func (s *Store) CreateCredential(ctx context.Context, c models.Credential) (models.Credential, error) {
	if err := c.Validate(); err != nil {
		return models.Credential{}, err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = utils.NowUTC()
	}
	if err := s.requireGroup(ctx, c.GroupID); err != nil {
		return models.Credential{}, err
	}

	err := s.exec(ctx, `INSERT INTO api_keys (`+credentialColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.Name, c.Secret, c.GroupID, c.DailyQuota, c.Enabled, c.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Credential{}, fmt.Errorf("credential %q: %w", c.ID, models.ErrDuplicate)
		}
		return models.Credential{}, fmt.Errorf("insert credential: %w", err)
	}
	return c, nil
}

func (s *Store) UpdateCredential(ctx context.Context, id string, in models.CredentialInput) (models.Credential, error) {
	c, err := s.GetCredential(ctx, id)
	if err != nil {
		return models.Credential{}, err
	}

	in.Apply(&c)
	if err := c.Validate(); err != nil {
		return models.Credential{}, err
	}
	if in.GroupID != nil {
		if err := s.requireGroup(ctx, c.GroupID); err != nil {
			return models.Credential{}, err
		}
	}

	err = s.exec(ctx, `UPDATE api_keys SET name = $1, api_key = $2, group_id = $3, rpd = $4, is_enabled = $5 WHERE id = $6`,
		c.Name, c.Secret, c.GroupID, c.DailyQuota, c.Enabled, c.ID,
	)
	if err != nil {
		return models.Credential{}, fmt.Errorf("update credential %q: %w", id, err)
	}
	return c, nil
}

func (s *Store) DeleteCredential(ctx context.Context, id string) error {
	n, err := s.execAffected(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete credential %q: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("credential %q: %w", id, models.ErrNotFound)
	}
	return nil
}

func (s *Store) ListGroups(ctx context.Context) ([]models.Group, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `SELECT id, name, created_at FROM key_groups ORDER BY created_at, seq`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return pgx.CollectRows(rows, scanGroup)
}

func (s *Store) GetGroup(ctx context.Context, id string) (models.Group, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return models.Group{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var g models.Group
	err = conn.QueryRow(ctx, `SELECT id, name, created_at FROM key_groups WHERE id = $1`, id).
		Scan(&g.ID, &g.Name, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Group{}, fmt.Errorf("group %q: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return models.Group{}, fmt.Errorf("get group %q: %w", id, err)
	}
	g.CreatedAt = g.CreatedAt.UTC()
	return g, nil
}

func (s *Store) CreateGroup(ctx context.Context, g models.Group) (models.Group, error) {
	g.Name = strings.TrimSpace(g.Name)
	if err := g.Validate(); err != nil {
		return models.Group{}, err
	}
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = utils.NowUTC()
	}

	err := s.exec(ctx, `INSERT INTO key_groups (id, name, created_at) VALUES ($1, $2, $3)`, g.ID, g.Name, g.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Group{}, fmt.Errorf("group %q: %w", g.Name, models.ErrDuplicate)
		}
		return models.Group{}, fmt.Errorf("insert group: %w", err)
	}
	return g, nil
}

func (s *Store) RenameGroup(ctx context.Context, id, name string) (models.Group, error) {
	g, err := s.GetGroup(ctx, id)
	if err != nil {
		return models.Group{}, err
	}
	g.Name = strings.TrimSpace(name)
	if err := g.Validate(); err != nil {
		return models.Group{}, err
	}

	if err := s.exec(ctx, `UPDATE key_groups SET name = $1 WHERE id = $2`, g.Name, id); err != nil {
		if isUniqueViolation(err) {
			return models.Group{}, fmt.Errorf("group %q: %w", g.Name, models.ErrDuplicate)
		}
		return models.Group{}, fmt.Errorf("rename group %q: %w", id, err)
	}
	return g, nil
}

func (s *Store) DeleteGroup(ctx context.Context, id string) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete group: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var members int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM api_keys WHERE group_id = $1`, id).Scan(&members); err != nil {
		return fmt.Errorf("count group members: %w", err)
	}
	if members > 0 {
		return fmt.Errorf("group %q has %d credentials: %w", id, members, models.ErrGroupNotEmpty)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM key_groups WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete group %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("group %q: %w", id, models.ErrNotFound)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM settings WHERE key = $1 AND value = $2`, models.SettingActiveGroup, id); err != nil {
		return fmt.Errorf("clear active group: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delete group: %w", err)
	}
	return nil
}

func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return "", fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var value string
	err = conn.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("setting %q: %w", key, models.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get setting %q: %w", key, err)
	}
	return value, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	err := s.exec(ctx, `INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

// ActiveGroupID resolves the active group the same way the SQLite store does.
func (s *Store) ActiveGroupID(ctx context.Context) (string, error) {
	id, err := s.GetSetting(ctx, models.SettingActiveGroup)
	if errors.Is(err, models.ErrNotFound) {
		id = models.DefaultGroupID
	} else if err != nil {
		return "", err
	}

	if _, err := s.GetGroup(ctx, id); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return id, nil
}

func (s *Store) SetActiveGroup(ctx context.Context, groupID string) error {
	if err := s.requireGroup(ctx, groupID); err != nil {
		return err
	}
	return s.SetSetting(ctx, models.SettingActiveGroup, groupID)
}

func (s *Store) requireGroup(ctx context.Context, groupID string) error {
	if _, err := s.GetGroup(ctx, groupID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("%w: group %q does not exist", models.ErrInvalidInput, groupID)
		}
		return err
	}
	return nil
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	_, err := s.execAffected(ctx, query, args...)
	return err
}

func (s *Store) execAffected(ctx context.Context, query string, args ...any) (int64, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) queryCredentials(ctx context.Context, query string, args ...any) ([]models.Credential, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query credentials: %w", err)
	}
	return pgx.CollectRows(rows, scanCredential)
}

func scanCredential(row pgx.CollectableRow) (models.Credential, error) {
	var c models.Credential
	if err := row.Scan(&c.ID, &c.Name, &c.Secret, &c.GroupID, &c.DailyQuota, &c.Enabled, &c.CreatedAt); err != nil {
		return models.Credential{}, fmt.Errorf("scan credential: %w", err)
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

func scanGroup(row pgx.CollectableRow) (models.Group, error) {
	var g models.Group
	if err := row.Scan(&g.ID, &g.Name, &g.CreatedAt); err != nil {
		return models.Group{}, fmt.Errorf("scan group: %w", err)
	}
	g.CreatedAt = g.CreatedAt.UTC()
	return g, nil
}
