package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/mixaill76/key_rotator/internal/security"
)

// resolveEnvString resolves environment variable if value is in format "os.environ/VAR_NAME"
func resolveEnvString(value string) string {
	const prefix = "os.environ/"
	if strings.HasPrefix(value, prefix) {
		envVar := strings.TrimPrefix(value, prefix)
		if envValue := os.Getenv(envVar); envValue != "" {
			return envValue
		}
		slog.Warn("environment variable not set, returning empty string",
			"env_var", envVar,
			"pattern", value,
		)
		return ""
	}
	return value
}

// validateBaseURL validates that a URL is properly formed with http/https scheme
func validateBaseURL(section, baseURL string) error {
	if baseURL == "" {
		return fmt.Errorf("%s: base_url is required", section)
	}
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("%s: invalid base_url: %w", section, err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("%s: base_url must use http or https scheme, got: %s", section, parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("%s: base_url must have a host", section)
	}
	return nil
}

// PrintConfig outputs the configuration in a structured, readable format to the logger
func PrintConfig(logger *slog.Logger, cfg *Config) {
	logger.Info("=== Configuration Loaded ===")

	logger.Info("server",
		"port", cfg.Server.Port,
		"max_body_size_mb", cfg.Server.MaxBodySizeMB,
		"request_timeout", cfg.Server.RequestTimeout.String(),
		"shutdown_timeout", cfg.Server.ShutdownTimeout.String(),
		"logging_level", cfg.Server.LoggingLevel,
		"log_format", cfg.Server.LogFormat,
	)

	logger.Info("upstream",
		"base_url", cfg.Upstream.BaseURL,
		"api_version", cfg.Upstream.APIVersion,
		"response_header_timeout", cfg.Upstream.ResponseHeaderTimeout.String(),
	)

	if cfg.Storage.Driver == DriverPostgres {
		logger.Info("storage",
			"driver", cfg.Storage.Driver,
			"database", security.MaskDatabaseURL(cfg.Storage.DatabaseURL),
			"max_conns", cfg.Storage.MaxConns,
			"min_conns", cfg.Storage.MinConns,
		)
	} else {
		logger.Info("storage",
			"driver", cfg.Storage.Driver,
			"sqlite_path", cfg.Storage.SQLitePath,
		)
	}

	logger.Info("quota",
		"default_daily_quota", cfg.Quota.DefaultDailyQuota,
		"timezone", cfg.Quota.Timezone,
		"exhausted_cooldown", cooldownToString(cfg.Quota.ExhaustedCooldown),
	)

	if cfg.Retention.MaxAgeHours > 0 {
		logger.Info("retention",
			"max_age_hours", cfg.Retention.MaxAgeHours,
			"schedule", cfg.Retention.Schedule,
		)
	} else {
		logger.Info("retention", "status", "DISABLED")
	}

	logger.Info("monitoring",
		"prometheus_enabled", cfg.Monitoring.PrometheusEnabled,
		"health_check_path", cfg.Monitoring.HealthCheckPath,
	)

	logger.Info("=== Configuration Ready ===")
}

// cooldownToString converts the cooldown to a readable string, showing "disabled" for 0
func cooldownToString(d time.Duration) string {
	if d == 0 {
		return "disabled"
	}
	return d.String()
}
