package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	DefaultUpstreamBaseURL = "https://generativelanguage.googleapis.com"
	DefaultQuotaTimezone   = "America/Los_Angeles"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Upstream   UpstreamConfig   `yaml:"upstream"`
	Storage    StorageConfig    `yaml:"storage"`
	Quota      QuotaConfig      `yaml:"quota"`
	Retention  RetentionConfig  `yaml:"retention"`
	Status     StatusConfig     `yaml:"status"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	MaxBodySizeMB   int           `yaml:"max_body_size_mb"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LoggingLevel    string        `yaml:"logging_level"`
	LogFormat       string        `yaml:"log_format"`
}

type UpstreamConfig struct {
	BaseURL               string        `yaml:"base_url"`
	APIVersion            string        `yaml:"api_version"`
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout"`
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host"`
}

type StorageConfig struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	DatabaseURL string `yaml:"database_url"`
	MaxConns    int32  `yaml:"max_conns"`
	MinConns    int32  `yaml:"min_conns"`
}

type QuotaConfig struct {
	DefaultDailyQuota int           `yaml:"default_daily_quota"`
	Timezone          string        `yaml:"timezone"`
	ExhaustedCooldown time.Duration `yaml:"exhausted_cooldown"`
}

type RetentionConfig struct {
	MaxAgeHours int    `yaml:"max_age_hours"`
	Schedule    string `yaml:"schedule"`
}

type StatusConfig struct {
	SubscriberBuffer int `yaml:"subscriber_buffer"`
	StateCacheSize   int `yaml:"state_cache_size"`
	StatsWindowHours int `yaml:"stats_window_hours"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	HealthCheckPath   string `yaml:"health_check_path"`
}

// Default returns a configuration that runs out of the box against a local SQLite file.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			MaxBodySizeMB:   20,
			RequestTimeout:  120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			LoggingLevel:    "info",
			LogFormat:       "text",
		},
		Upstream: UpstreamConfig{
			BaseURL:               DefaultUpstreamBaseURL,
			APIVersion:            "v1beta",
			ResponseHeaderTimeout: 60 * time.Second,
			MaxIdleConnsPerHost:   10,
		},
		Storage: StorageConfig{
			Driver:     DriverSQLite,
			SQLitePath: "data/key_rotator.db",
			MaxConns:   10,
			MinConns:   2,
		},
		Quota: QuotaConfig{
			DefaultDailyQuota: 1000,
			Timezone:          DefaultQuotaTimezone,
			ExhaustedCooldown: 60 * time.Second,
		},
		Retention: RetentionConfig{
			MaxAgeHours: 24,
			Schedule:    "@every 1h",
		},
		Status: StatusConfig{
			SubscriberBuffer: 64,
			StateCacheSize:   4096,
			StatsWindowHours: 24,
		},
		Monitoring: MonitoringConfig{
			PrometheusEnabled: true,
			HealthCheckPath:   "/health",
		},
	}
}

// Load reads the YAML file at path over Default(), applies KEY_ROTATOR_*
// environment overrides, then normalizes and validates the result.
// A missing file is only accepted when path is empty.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Normalize cleans up configuration values
func (c *Config) Normalize() {
	c.Upstream.BaseURL = strings.TrimRight(c.Upstream.BaseURL, "/")
	c.Upstream.APIVersion = strings.Trim(c.Upstream.APIVersion, "/")
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	c.Storage.DatabaseURL = resolveEnvString(c.Storage.DatabaseURL)
	c.Server.LoggingLevel = strings.ToLower(c.Server.LoggingLevel)
	c.Server.LogFormat = strings.ToLower(c.Server.LogFormat)

	if c.Monitoring.HealthCheckPath != "" && !strings.HasPrefix(c.Monitoring.HealthCheckPath, "/") {
		c.Monitoring.HealthCheckPath = "/" + c.Monitoring.HealthCheckPath
	}
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if c.Server.MaxBodySizeMB <= 0 {
		return fmt.Errorf("invalid max_body_size_mb: %d", c.Server.MaxBodySizeMB)
	}

	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("invalid request_timeout: %v", c.Server.RequestTimeout)
	}

	if c.Server.LoggingLevel != "" {
		validLevels := map[string]bool{"info": true, "debug": true, "warn": true, "error": true}
		if !validLevels[c.Server.LoggingLevel] {
			return fmt.Errorf("invalid logging_level: %s (must be info, debug, warn, or error)", c.Server.LoggingLevel)
		}
	} else {
		c.Server.LoggingLevel = "info"
	}

	switch c.Server.LogFormat {
	case "":
		c.Server.LogFormat = "text"
	case "text", "json":
	default:
		return fmt.Errorf("invalid log_format: %s (must be text or json)", c.Server.LogFormat)
	}

	if err := validateBaseURL("upstream", c.Upstream.BaseURL); err != nil {
		return err
	}
	if c.Upstream.APIVersion == "" {
		return errors.New("upstream: api_version is required")
	}

	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("storage: sqlite_path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			return errors.New("storage: database_url is required for the postgres driver")
		}
		if c.Storage.MinConns > c.Storage.MaxConns {
			return fmt.Errorf("storage: min_conns (%d) exceeds max_conns (%d)", c.Storage.MinConns, c.Storage.MaxConns)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("storage: unknown driver %q (must be sqlite, postgres or memory)", c.Storage.Driver)
	}

	if c.Quota.DefaultDailyQuota <= 0 {
		return fmt.Errorf("invalid quota.default_daily_quota: %d", c.Quota.DefaultDailyQuota)
	}
	if _, err := c.Quota.Location(); err != nil {
		return fmt.Errorf("invalid quota.timezone: %w", err)
	}
	if c.Quota.ExhaustedCooldown < 0 {
		return fmt.Errorf("invalid quota.exhausted_cooldown: %v", c.Quota.ExhaustedCooldown)
	}

	if c.Retention.MaxAgeHours > 0 {
		if _, err := cron.ParseStandard(c.Retention.Schedule); err != nil {
			return fmt.Errorf("invalid retention.schedule %q: %w", c.Retention.Schedule, err)
		}
	}

	if c.Status.SubscriberBuffer <= 0 {
		return fmt.Errorf("invalid status.subscriber_buffer: %d", c.Status.SubscriberBuffer)
	}
	if c.Status.StateCacheSize <= 0 {
		return fmt.Errorf("invalid status.state_cache_size: %d", c.Status.StateCacheSize)
	}
	if c.Status.StatsWindowHours <= 0 {
		return fmt.Errorf("invalid status.stats_window_hours: %d", c.Status.StatsWindowHours)
	}

	if c.Monitoring.HealthCheckPath == "" {
		c.Monitoring.HealthCheckPath = "/health"
	}

	return nil
}

// Location resolves the fixed zone that defines the quota day.
func (q QuotaConfig) Location() (*time.Location, error) {
	name := q.Timezone
	if name == "" {
		name = DefaultQuotaTimezone
	}
	return time.LoadLocation(name)
}
