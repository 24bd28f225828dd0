package config

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "strata.db")

	// Auto-enhancement defaults
	v.SetDefault("enhance.frequency_threshold", 5)
	v.SetDefault("enhance.confidence_threshold", 0.7)
	v.SetDefault("enhance.min_distinct_sources", 2)
	v.SetDefault("enhance.field_name_blacklist", []string{
		"tmp_*", "temp_*", "debug_*", "test_*", "*_raw", "*_tmp",
	})
	v.SetDefault("enhance.workers", 1)
	v.SetDefault("enhance.poll_interval_seconds", 5)
	v.SetDefault("enhance.max_retries", 3)
	v.SetDefault("enhance.retention_days", 7)
	v.SetDefault("enhance.rate_per_second", 2.0)

	// Fragment migration defaults
	v.SetDefault("migration.batch_size", 100)
	v.SetDefault("migration.max_rows_per_run", 10000)
}
