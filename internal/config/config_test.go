package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  max_body_size_mb: 10
  request_timeout: 45s
  logging_level: debug
  log_format: json

upstream:
  base_url: "https://generativelanguage.googleapis.com/"
  api_version: "/v1beta/"

storage:
  driver: sqlite
  sqlite_path: "/tmp/rotator.db"

quota:
  default_daily_quota: 250
  timezone: "America/Los_Angeles"
  exhausted_cooldown: 2m

retention:
  max_age_hours: 48
  schedule: "0 * * * *"

monitoring:
  prometheus_enabled: false
  health_check_path: "healthz"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Server.MaxBodySizeMB)
	assert.Equal(t, 45*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, "debug", cfg.Server.LoggingLevel)
	assert.Equal(t, "json", cfg.Server.LogFormat)

	assert.Equal(t, "https://generativelanguage.googleapis.com", cfg.Upstream.BaseURL)
	assert.Equal(t, "v1beta", cfg.Upstream.APIVersion)

	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, "/tmp/rotator.db", cfg.Storage.SQLitePath)

	assert.Equal(t, 250, cfg.Quota.DefaultDailyQuota)
	assert.Equal(t, 2*time.Minute, cfg.Quota.ExhaustedCooldown)

	assert.Equal(t, 48, cfg.Retention.MaxAgeHours)
	assert.Equal(t, "0 * * * *", cfg.Retention.Schedule)

	assert.False(t, cfg.Monitoring.PrometheusEnabled)
	assert.Equal(t, "/healthz", cfg.Monitoring.HealthCheckPath)

	// untouched sections keep their defaults
	assert.Equal(t, 64, cfg.Status.SubscriberBuffer)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 1000, cfg.Quota.DefaultDailyQuota)
	assert.Equal(t, DefaultQuotaTimezone, cfg.Quota.Timezone)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, "@every 1h", cfg.Retention.Schedule)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [unclosed")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("KEY_ROTATOR_PORT", "7000")
	t.Setenv("KEY_ROTATOR_STORAGE_DRIVER", "postgres")
	t.Setenv("KEY_ROTATOR_DATABASE_URL", "postgres://u:p@localhost:5432/rotator")
	t.Setenv("KEY_ROTATOR_EXHAUSTED_COOLDOWN", "0s")
	t.Setenv("KEY_ROTATOR_PROMETHEUS_ENABLED", "false")

	path := writeConfig(t, "server:\n  port: 9090\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, DriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, "postgres://u:p@localhost:5432/rotator", cfg.Storage.DatabaseURL)
	assert.Equal(t, time.Duration(0), cfg.Quota.ExhaustedCooldown)
	assert.False(t, cfg.Monitoring.PrometheusEnabled)
}

func TestLoad_EnvOverrideInvalid(t *testing.T) {
	t.Setenv("KEY_ROTATOR_PORT", "not-a-number")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "environment overrides")
}

func TestNormalize_ResolvesDatabaseURLFromEnv(t *testing.T) {
	t.Setenv("ROTATOR_TEST_DSN", "postgres://a:b@db/x")

	cfg := Default()
	cfg.Storage.DatabaseURL = "os.environ/ROTATOR_TEST_DSN"
	cfg.Normalize()

	assert.Equal(t, "postgres://a:b@db/x", cfg.Storage.DatabaseURL)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }, "invalid port"},
		{"body_size", func(c *Config) { c.Server.MaxBodySizeMB = 0 }, "invalid max_body_size_mb"},
		{"timeout", func(c *Config) { c.Server.RequestTimeout = 0 }, "invalid request_timeout"},
		{"logging_level", func(c *Config) { c.Server.LoggingLevel = "trace" }, "invalid logging_level"},
		{"log_format", func(c *Config) { c.Server.LogFormat = "xml" }, "invalid log_format"},
		{"base_url_scheme", func(c *Config) { c.Upstream.BaseURL = "ftp://example.com" }, "http or https"},
		{"base_url_empty", func(c *Config) { c.Upstream.BaseURL = "" }, "base_url is required"},
		{"driver", func(c *Config) { c.Storage.Driver = "mysql" }, "unknown driver"},
		{"sqlite_path", func(c *Config) { c.Storage.SQLitePath = "" }, "sqlite_path is required"},
		{"postgres_url", func(c *Config) { c.Storage.Driver = DriverPostgres }, "database_url is required"},
		{"postgres_conns", func(c *Config) {
			c.Storage.Driver = DriverPostgres
			c.Storage.DatabaseURL = "postgres://localhost/x"
			c.Storage.MinConns = 20
		}, "exceeds max_conns"},
		{"quota", func(c *Config) { c.Quota.DefaultDailyQuota = 0 }, "default_daily_quota"},
		{"timezone", func(c *Config) { c.Quota.Timezone = "Mars/Olympus_Mons" }, "invalid quota.timezone"},
		{"cooldown", func(c *Config) { c.Quota.ExhaustedCooldown = -time.Second }, "exhausted_cooldown"},
		{"schedule", func(c *Config) { c.Retention.Schedule = "every now and then" }, "invalid retention.schedule"},
		{"subscriber_buffer", func(c *Config) { c.Status.SubscriberBuffer = 0 }, "subscriber_buffer"},
		{"state_cache", func(c *Config) { c.Status.StateCacheSize = 0 }, "state_cache_size"},
		{"stats_window", func(c *Config) { c.Status.StatsWindowHours = 0 }, "stats_window_hours"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestValidate_RetentionDisabledSkipsSchedule(t *testing.T) {
	cfg := Default()
	cfg.Retention.MaxAgeHours = 0
	cfg.Retention.Schedule = "garbage"

	assert.NoError(t, cfg.Validate())
}

func TestValidate_FillsDefaults(t *testing.T) {
	cfg := Default()
	cfg.Server.LoggingLevel = ""
	cfg.Server.LogFormat = ""
	cfg.Monitoring.HealthCheckPath = ""

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "info", cfg.Server.LoggingLevel)
	assert.Equal(t, "text", cfg.Server.LogFormat)
	assert.Equal(t, "/health", cfg.Monitoring.HealthCheckPath)
}

func TestQuotaConfig_Location(t *testing.T) {
	loc, err := QuotaConfig{}.Location()
	require.NoError(t, err)
	assert.Equal(t, DefaultQuotaTimezone, loc.String())
}
