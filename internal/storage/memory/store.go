// Package memory is an in-process admin store for the "memory" storage driver and tests.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/mixaill76/key_rotator/internal/models"
	"github.com/mixaill76/key_rotator/internal/utils"
)

// Store keeps credentials, groups and settings in maps guarded by one mutex.
// Slices preserve insertion order.
type Store struct {
	mu       sync.RWMutex
	creds    []models.Credential
	groups   []models.Group
	settings map[string]string
}

// NewStore returns a store seeded with the default group.
func NewStore() *Store {
	return &Store{
		groups: []models.Group{{
			ID:        models.DefaultGroupID,
			Name:      "Default",
			CreatedAt: utils.NowUTC(),
		}},
		settings: make(map[string]string),
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) ListCredentials(context.Context) ([]models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Credential, len(s.creds))
	copy(out, s.creds)
	return out, nil
}

func (s *Store) CredentialsByGroup(_ context.Context, groupID string) ([]models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Credential
	for _, c := range s.creds {
		if c.GroupID == groupID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) GetCredential(_ context.Context, id string) (models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := s.credIndex(id); i >= 0 {
		return s.creds[i], nil
	}
	return models.Credential{}, fmt.Errorf("credential %q: %w", id, models.ErrNotFound)
}

func (s *Store) CreateCredential(_ context.Context, c models.Credential) (models.Credential, error) {
	if err := c.Validate(); err != nil {
		return models.Credential{}, err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = utils.NowUTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.groupIndex(c.GroupID) < 0 {
		return models.Credential{}, fmt.Errorf("%w: group %q does not exist", models.ErrInvalidInput, c.GroupID)
	}
	if s.credIndex(c.ID) >= 0 {
		return models.Credential{}, fmt.Errorf("credential %q: %w", c.ID, models.ErrDuplicate)
	}
	s.creds = append(s.creds, c)
	return c, nil
}

func (s *Store) UpdateCredential(_ context.Context, id string, in models.CredentialInput) (models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.credIndex(id)
	if i < 0 {
		return models.Credential{}, fmt.Errorf("credential %q: %w", id, models.ErrNotFound)
	}

	c := s.creds[i]
	in.Apply(&c)
	if err := c.Validate(); err != nil {
		return models.Credential{}, err
	}
	if s.groupIndex(c.GroupID) < 0 {
		return models.Credential{}, fmt.Errorf("%w: group %q does not exist", models.ErrInvalidInput, c.GroupID)
	}
	s.creds[i] = c
	return c, nil
}

func (s *Store) DeleteCredential(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.credIndex(id)
	if i < 0 {
		return fmt.Errorf("credential %q: %w", id, models.ErrNotFound)
	}
	s.creds = append(s.creds[:i], s.creds[i+1:]...)
	return nil
}

func (s *Store) ListGroups(context.Context) ([]models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Group, len(s.groups))
	copy(out, s.groups)
	return out, nil
}

func (s *Store) GetGroup(_ context.Context, id string) (models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := s.groupIndex(id); i >= 0 {
		return s.groups[i], nil
	}
	return models.Group{}, fmt.Errorf("group %q: %w", id, models.ErrNotFound)
}

func (s *Store) CreateGroup(_ context.Context, g models.Group) (models.Group, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.groupIndex(g.ID) >= 0 || s.nameTaken(g.Name, "") {
		return models.Group{}, fmt.Errorf("group %q: %w", g.Name, models.ErrDuplicate)
	}
	s.groups = append(s.groups, g)
	return g, nil
}

func (s *Store) RenameGroup(_ context.Context, id, name string) (models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.groupIndex(id)
	if i < 0 {
		return models.Group{}, fmt.Errorf("group %q: %w", id, models.ErrNotFound)
	}

	g := s.groups[i]
	g.Name = strings.TrimSpace(name)
	if err := g.Validate(); err != nil {
		return models.Group{}, err
	}
	if s.nameTaken(g.Name, id) {
		return models.Group{}, fmt.Errorf("group %q: %w", g.Name, models.ErrDuplicate)
	}
	s.groups[i] = g
	return g, nil
}

func (s *Store) DeleteGroup(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.groupIndex(id)
	if i < 0 {
		return fmt.Errorf("group %q: %w", id, models.ErrNotFound)
	}
	for _, c := range s.creds {
		if c.GroupID == id {
			return fmt.Errorf("group %q: %w", id, models.ErrGroupNotEmpty)
		}
	}

	s.groups = append(s.groups[:i], s.groups[i+1:]...)
	if s.settings[models.SettingActiveGroup] == id {
		delete(s.settings, models.SettingActiveGroup)
	}
	return nil
}

func (s *Store) GetSetting(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.settings[key]
	if !ok {
		return "", fmt.Errorf("setting %q: %w", key, models.ErrNotFound)
	}
	return v, nil
}

func (s *Store) SetSetting(_ context.Context, key, value string) error {
	s.mu.Lock()
	s.settings[key] = value
	s.mu.Unlock()
	return nil
}

func (s *Store) ActiveGroupID(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.settings[models.SettingActiveGroup]
	if !ok {
		id = models.DefaultGroupID
	}
	if s.groupIndex(id) < 0 {
		return "", nil
	}
	return id, nil
}

func (s *Store) SetActiveGroup(_ context.Context, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.groupIndex(groupID) < 0 {
		return fmt.Errorf("%w: group %q does not exist", models.ErrInvalidInput, groupID)
	}
	s.settings[models.SettingActiveGroup] = groupID
	return nil
}

func (s *Store) credIndex(id string) int {
	for i := range s.creds {
		if s.creds[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) groupIndex(id string) int {
	for i := range s.groups {
		if s.groups[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) nameTaken(name, exceptID string) bool {
	for _, g := range s.groups {
		if g.Name == name && g.ID != exceptID {
			return true
		}
	}
	return false
}
