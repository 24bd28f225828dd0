package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))

	assert.Equal(t, "strata.db", cfg.Database.Path)
	assert.Equal(t, 5, cfg.Enhance.FrequencyThreshold)
	assert.Equal(t, 0.7, cfg.Enhance.ConfidenceThreshold)
	assert.Equal(t, 2, cfg.Enhance.MinDistinctSources)
	assert.Contains(t, cfg.Enhance.FieldNameBlacklist, "tmp_*")
	assert.Equal(t, 1, cfg.Enhance.Workers)
	assert.Equal(t, 3, cfg.Enhance.MaxRetries)
	assert.Equal(t, 7, cfg.Enhance.RetentionDays)
	assert.Equal(t, 2.0, cfg.Enhance.RatePerSecond)
	assert.Equal(t, 100, cfg.Migration.BatchSize)
	assert.Equal(t, 10000, cfg.Migration.MaxRowsPerRun)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "strata.toml")
	content := `
[database]
path = "/var/lib/strata/strata.db"

[enhance]
frequency_threshold = 10
confidence_threshold = 0.9

[migration]
batch_size = 250
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/strata/strata.db", cfg.Database.Path)
	assert.Equal(t, 10, cfg.Enhance.FrequencyThreshold)
	assert.Equal(t, 0.9, cfg.Enhance.ConfidenceThreshold)
	assert.Equal(t, 250, cfg.Migration.BatchSize)

	// Unset keys still carry defaults.
	assert.Equal(t, 2, cfg.Enhance.MinDistinctSources)
	assert.Equal(t, 10000, cfg.Migration.MaxRowsPerRun)
}

func TestLoadFromFile_MissingFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "strata.toml")

	v := viper.New()
	SetDefaults(v)
	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	cfg.Enhance.FrequencyThreshold = 12

	require.NoError(t, Save(&cfg, path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 12, loaded.Enhance.FrequencyThreshold)
	assert.Equal(t, cfg.Database.Path, loaded.Database.Path)
}

func TestSaveRotatesBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "strata.toml")

	v := viper.New()
	SetDefaults(v)
	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))

	// First save: no previous file, no backup.
	require.NoError(t, Save(&cfg, path))
	_, err := os.Stat(path + ".back1")
	assert.True(t, os.IsNotExist(err))

	// Second save snapshots the first into .back1.
	cfg.Enhance.Workers = 4
	require.NoError(t, Save(&cfg, path))
	_, err = os.Stat(path + ".back1")
	assert.NoError(t, err)

	// Third save rotates .back1 to .back2.
	cfg.Enhance.Workers = 8
	require.NoError(t, Save(&cfg, path))
	_, err = os.Stat(path + ".back2")
	assert.NoError(t, err)
}
