// Package config provides Strata's viper-backed configuration: TOML file,
// STRATA_-prefixed environment overrides, hot reload via fsnotify.
package config

// Config represents the core Strata configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Enhance   EnhanceConfig   `mapstructure:"enhance"`
	Migration MigrationConfig `mapstructure:"migration"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// EnhanceConfig configures the auto-enhancement pipeline.
// Values <= 0 fall back to the defaults set in SetDefaults.
type EnhanceConfig struct {
	// FrequencyThreshold is the minimum accumulated fragment frequency
	// before a field becomes an enhancement candidate (default: 5).
	FrequencyThreshold int `mapstructure:"frequency_threshold"`

	// ConfidenceThreshold is the minimum confidence score for auto-apply
	// (default: 0.7).
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`

	// MinDistinctSources guards against overfitting to one noisy source
	// (default: 2).
	MinDistinctSources int `mapstructure:"min_distinct_sources"`

	// FieldNameBlacklist holds wildcard patterns (prefix*/*suffix) for field
	// names that must never be promoted.
	FieldNameBlacklist []string `mapstructure:"field_name_blacklist"`

	// Workers is the number of concurrent queue processors (default: 1).
	Workers int `mapstructure:"workers"`

	// PollIntervalSeconds is how often the queue processor checks for
	// pending items (default: 5).
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`

	// MaxRetries bounds attempts per queue item before it stays failed
	// (default: 3).
	MaxRetries int `mapstructure:"max_retries"`

	// RetentionDays is how long completed/skipped queue items are kept
	// before cleanup (default: 7).
	RetentionDays int `mapstructure:"retention_days"`

	// RatePerSecond caps how fast enhancements are applied (default: 2).
	RatePerSecond float64 `mapstructure:"rate_per_second"`
}

// MigrationConfig configures raw-fragment promotion.
type MigrationConfig struct {
	// BatchSize is the fragment page size per migration step (default: 100).
	BatchSize int `mapstructure:"batch_size"`

	// MaxRowsPerRun is the hard safety cap per invocation; remaining rows
	// wait for the next scheduled pass (default: 10000).
	MaxRowsPerRun int `mapstructure:"max_rows_per_run"`
}
