package testhelpers

import (
	"time"

	"github.com/mixaill76/key_rotator/internal/config"
	"github.com/mixaill76/key_rotator/internal/models"
)

// NewTestConfig returns a validated default configuration pointing the
// upstream at baseURL. Useful for router and dispatcher tests.
func NewTestConfig(baseURL string) *config.Config {
	cfg := config.Default()
	cfg.Upstream.BaseURL = baseURL
	cfg.Server.RequestTimeout = 5 * time.Second
	cfg.Monitoring.PrometheusEnabled = false
	cfg.Retention.MaxAgeHours = 0
	return cfg
}

// NewTestCredential builds an enabled credential in groupID.
func NewTestCredential(id, groupID string, quota int) models.Credential {
	return models.Credential{
		ID:         id,
		Name:       "test-" + id,
		Secret:     "AIzaTest" + id + "SecretValue",
		GroupID:    groupID,
		DailyQuota: quota,
		Enabled:    true,
		CreatedAt:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}
