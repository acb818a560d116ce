package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix of every environment override, e.g. KEY_ROTATOR_PORT.
const EnvPrefix = "KEY_ROTATOR"

// envOverrides lists the settings that may be changed from the environment.
// Unset variables leave the pointer nil so the file value is kept.
type envOverrides struct {
	Port              *int           `envconfig:"PORT"`
	LoggingLevel      *string        `envconfig:"LOGGING_LEVEL"`
	LogFormat         *string        `envconfig:"LOG_FORMAT"`
	RequestTimeout    *time.Duration `envconfig:"REQUEST_TIMEOUT"`
	UpstreamBaseURL   *string        `envconfig:"UPSTREAM_BASE_URL"`
	StorageDriver     *string        `envconfig:"STORAGE_DRIVER"`
	SQLitePath        *string        `envconfig:"SQLITE_PATH"`
	DatabaseURL       *string        `envconfig:"DATABASE_URL"`
	DefaultDailyQuota *int           `envconfig:"DEFAULT_DAILY_QUOTA"`
	QuotaTimezone     *string        `envconfig:"QUOTA_TIMEZONE"`
	ExhaustedCooldown *time.Duration `envconfig:"EXHAUSTED_COOLDOWN"`
	RetentionMaxAge   *int           `envconfig:"RETENTION_MAX_AGE_HOURS"`
	RetentionSchedule *string        `envconfig:"RETENTION_SCHEDULE"`
	PrometheusEnabled *bool          `envconfig:"PROMETHEUS_ENABLED"`
}

func applyEnvOverrides(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return err
	}

	setIf(&cfg.Server.Port, env.Port)
	setIf(&cfg.Server.LoggingLevel, env.LoggingLevel)
	setIf(&cfg.Server.LogFormat, env.LogFormat)
	setIf(&cfg.Server.RequestTimeout, env.RequestTimeout)
	setIf(&cfg.Upstream.BaseURL, env.UpstreamBaseURL)
	setIf(&cfg.Storage.Driver, env.StorageDriver)
	setIf(&cfg.Storage.SQLitePath, env.SQLitePath)
	setIf(&cfg.Storage.DatabaseURL, env.DatabaseURL)
	setIf(&cfg.Quota.DefaultDailyQuota, env.DefaultDailyQuota)
	setIf(&cfg.Quota.Timezone, env.QuotaTimezone)
	setIf(&cfg.Quota.ExhaustedCooldown, env.ExhaustedCooldown)
	setIf(&cfg.Retention.MaxAgeHours, env.RetentionMaxAge)
	setIf(&cfg.Retention.Schedule, env.RetentionSchedule)
	setIf(&cfg.Monitoring.PrometheusEnabled, env.PrometheusEnabled)

	return nil
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
