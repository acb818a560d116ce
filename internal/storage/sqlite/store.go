package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mixaill76/key_rotator/internal/models"
	"github.com/mixaill76/key_rotator/internal/utils"
)

const credentialColumns = `id, name, api_key, group_id, rpd, is_enabled, created_at`

// Store is the SQLite implementation of the credential/group/settings admin store.
type Store struct {
	db *DB
}

// NewStore creates an admin store over db.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// ListCredentials returns every credential in insertion order.
func (s *Store) ListCredentials(ctx context.Context) ([]models.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM api_keys ORDER BY created_at, rowid`

	rows, err := s.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	return scanCredentials(rows)
}

// CredentialsByGroup returns the credentials of groupID in insertion order.
func (s *Store) CredentialsByGroup(ctx context.Context, groupID string) ([]models.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM api_keys WHERE group_id = ? ORDER BY created_at, rowid`

	rows, err := s.db.Reader.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("list credentials of group %q: %w", groupID, err)
	}
	defer rows.Close()

	return scanCredentials(rows)
}

// GetCredential returns the credential with id, or models.ErrNotFound.
func (s *Store) GetCredential(ctx context.Context, id string) (models.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM api_keys WHERE id = ?`

	rows, err := s.db.Reader.QueryContext(ctx, query, id)
	if err != nil {
		return models.Credential{}, fmt.Errorf("get credential %q: %w", id, err)
	}
	defer rows.Close()

	creds, err := scanCredentials(rows)
	if err != nil {
		return models.Credential{}, err
	}
	if len(creds) == 0 {
		return models.Credential{}, fmt.Errorf("credential %q: %w", id, models.ErrNotFound)
	}
	return creds[0], nil
}

// CreateCredential inserts c, assigning an id and creation time when unset.
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

	query := `INSERT INTO api_keys (` + credentialColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.Writer.ExecContext(ctx, query,
		c.ID, c.Name, c.Secret, c.GroupID, c.DailyQuota, boolToInt(c.Enabled), utils.FormatTimestamp(c.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Credential{}, fmt.Errorf("credential %q: %w", c.ID, models.ErrDuplicate)
		}
		return models.Credential{}, fmt.Errorf("insert credential: %w", err)
	}
	return c, nil
}

// UpdateCredential applies the set fields of in to the credential with id.
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

	const query = `UPDATE api_keys SET name = ?, api_key = ?, group_id = ?, rpd = ?, is_enabled = ? WHERE id = ?`
	if _, err := s.db.Writer.ExecContext(ctx, query,
		c.Name, c.Secret, c.GroupID, c.DailyQuota, boolToInt(c.Enabled), c.ID,
	); err != nil {
		return models.Credential{}, fmt.Errorf("update credential %q: %w", id, err)
	}
	return c, nil
}

// DeleteCredential removes the credential. Its ledger rows are kept.
func (s *Store) DeleteCredential(ctx context.Context, id string) error {
	res, err := s.db.Writer.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete credential %q: %w", id, err)
	}
	return requireAffected(res, "credential", id)
}

// ListGroups returns every group ordered by creation time.
func (s *Store) ListGroups(ctx context.Context) ([]models.Group, error) {
	rows, err := s.db.Reader.QueryContext(ctx, `SELECT id, name, created_at FROM key_groups ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var out []models.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}
	return out, nil
}

// GetGroup returns the group with id, or models.ErrNotFound.
func (s *Store) GetGroup(ctx context.Context, id string) (models.Group, error) {
	row := s.db.Reader.QueryRowContext(ctx, `SELECT id, name, created_at FROM key_groups WHERE id = ?`, id)
	g, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Group{}, fmt.Errorf("group %q: %w", id, models.ErrNotFound)
	}
	return g, err
}

// CreateGroup inserts g. Group names are unique.
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

	_, err := s.db.Writer.ExecContext(ctx,
		`INSERT INTO key_groups (id, name, created_at) VALUES (?, ?, ?)`,
		g.ID, g.Name, utils.FormatTimestamp(g.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Group{}, fmt.Errorf("group %q: %w", g.Name, models.ErrDuplicate)
		}
		return models.Group{}, fmt.Errorf("insert group: %w", err)
	}
	return g, nil
}

// RenameGroup changes the display name of a group.
func (s *Store) RenameGroup(ctx context.Context, id, name string) (models.Group, error) {
	g, err := s.GetGroup(ctx, id)
	if err != nil {
		return models.Group{}, err
	}
	g.Name = strings.TrimSpace(name)
	if err := g.Validate(); err != nil {
		return models.Group{}, err
	}

	if _, err := s.db.Writer.ExecContext(ctx, `UPDATE key_groups SET name = ? WHERE id = ?`, g.Name, id); err != nil {
		if isUniqueViolation(err) {
			return models.Group{}, fmt.Errorf("group %q: %w", g.Name, models.ErrDuplicate)
		}
		return models.Group{}, fmt.Errorf("rename group %q: %w", id, err)
	}
	return g, nil
}

// DeleteGroup removes an empty group and clears the active-group setting if it pointed at it.
func (s *Store) DeleteGroup(ctx context.Context, id string) error {
	tx, err := s.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete group: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var members int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM api_keys WHERE group_id = ?`, id).Scan(&members); err != nil {
		return fmt.Errorf("count group members: %w", err)
	}
	if members > 0 {
		return fmt.Errorf("group %q has %d credentials: %w", id, members, models.ErrGroupNotEmpty)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM key_groups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete group %q: %w", id, err)
	}
	if err := requireAffected(res, "group", id); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM settings WHERE key = ? AND value = ?`, models.SettingActiveGroup, id); err != nil {
		return fmt.Errorf("clear active group: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete group: %w", err)
	}
	return nil
}

// GetSetting returns the value stored under key, or models.ErrNotFound.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.Reader.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("setting %q: %w", key, models.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get setting %q: %w", key, err)
	}
	return value, nil
}

// SetSetting upserts a settings row.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	const query = `INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := s.db.Writer.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

// ActiveGroupID resolves the active group. It returns "" when the setting is
// unset and no default group exists, or when it names a group that is gone.
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

// SetActiveGroup persists groupID as the active group; the group must exist.
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGroup(row rowScanner) (models.Group, error) {
	var (
		g       models.Group
		created string
	)
	if err := row.Scan(&g.ID, &g.Name, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Group{}, err
		}
		return models.Group{}, fmt.Errorf("scan group: %w", err)
	}
	ts, err := utils.ParseTimestamp(created)
	if err != nil {
		return models.Group{}, fmt.Errorf("parse created_at of group %q: %w", g.ID, err)
	}
	g.CreatedAt = ts
	return g, nil
}

func scanCredentials(rows *sql.Rows) ([]models.Credential, error) {
	var out []models.Credential
	for rows.Next() {
		var (
			c       models.Credential
			enabled int
			created string
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.Secret, &c.GroupID, &c.DailyQuota, &enabled, &created); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		ts, err := utils.ParseTimestamp(created)
		if err != nil {
			return nil, fmt.Errorf("parse created_at of credential %q: %w", c.ID, err)
		}
		c.Enabled = enabled != 0
		c.CreatedAt = ts
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}
	return out, nil
}

func requireAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %q rows affected: %w", kind, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %q: %w", kind, id, models.ErrNotFound)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
