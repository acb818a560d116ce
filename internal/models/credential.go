package models

import (
	"log/slog"
	"time"

	"github.com/mixaill76/key_rotator/internal/security"
)

// DefaultDailyQuota is the fallback requests-per-day quota for credentials
// that don't set one.
const DefaultDailyQuota = 1000

// Credential is a single upstream API key with its own daily quota.
// Secret is never serialized; use View for API responses.
type Credential struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Secret     string    `json:"-"`
	GroupID    string    `json:"groupId"`
	DailyQuota int       `json:"dailyQuota"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"createdAt"`
}

// EffectiveQuota resolves a zero or negative DailyQuota to fallback.
func (c *Credential) EffectiveQuota(fallback int) int {
	if c.DailyQuota > 0 {
		return c.DailyQuota
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultDailyQuota
}

// MaskedSecret returns the secret with only its edges visible.
func (c *Credential) MaskedSecret() string {
	return security.MaskAPIKey(c.Secret)
}

// LogValue keeps the secret out of structured logs even when the whole
// credential is passed as an attribute.
func (c *Credential) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", c.ID),
		slog.String("name", c.Name),
		slog.String("group_id", c.GroupID),
	)
}

// CredentialView is the admin-facing representation of a credential.
type CredentialView struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	MaskedSecret string     `json:"apiKey"`
	GroupID      string     `json:"groupId"`
	DailyQuota   int        `json:"dailyQuota"`
	Enabled      bool       `json:"enabled"`
	CreatedAt    time.Time  `json:"createdAt"`
	UsageToday   int        `json:"usageToday"`
	Status       KeyStatus  `json:"status,omitempty"`
	LastUsedAt   *time.Time `json:"lastUsedAt,omitempty"`
	LastStatus   string     `json:"lastStatus,omitempty"`
}

// View builds the masked admin representation.
func (c *Credential) View() CredentialView {
	return CredentialView{
		ID:           c.ID,
		Name:         c.Name,
		MaskedSecret: c.MaskedSecret(),
		GroupID:      c.GroupID,
		DailyQuota:   c.DailyQuota,
		Enabled:      c.Enabled,
		CreatedAt:    c.CreatedAt,
	}
}

// CredentialInput carries admin create/update fields. Nil pointers are left unchanged on update.
type CredentialInput struct {
	Name       *string `json:"name"`
	Secret     *string `json:"apiKey"`
	GroupID    *string `json:"groupId"`
	DailyQuota *int    `json:"dailyQuota"`
	Enabled    *bool   `json:"enabled"`
}

// Apply copies the set fields of in onto c.
func (in CredentialInput) Apply(c *Credential) {
	if in.Name != nil {
		c.Name = *in.Name
	}
	if in.Secret != nil {
		c.Secret = *in.Secret
	}
	if in.GroupID != nil {
		c.GroupID = *in.GroupID
	}
	if in.DailyQuota != nil {
		c.DailyQuota = *in.DailyQuota
	}
	if in.Enabled != nil {
		c.Enabled = *in.Enabled
	}
}

// Group is a named, ordered set of credentials.
type Group struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// SettingActiveGroup is the settings key holding the active group id.
const SettingActiveGroup = "active_key_group_id"

// DefaultGroupID is used as the active group when the setting was never written.
const DefaultGroupID = "default"
