package config

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/stratahq/strata/errors"
)

// Save writes the configuration to the given path as TOML, keeping rotating
// backups (.back1, .back2, .back3) of the previous contents.
func Save(cfg *Config, configPath string) error {
	if err := createBackup(configPath); err != nil {
		return errors.Wrap(err, "backup config before save")
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return errors.Wrap(err, "create config directory")
	}

	// Write to a temp file first so a crash mid-write never truncates the
	// live config.
	tmpPath := configPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return errors.Wrap(err, "write config")
	}
	if err := os.Rename(tmpPath, configPath); err != nil {
		return errors.Wrap(err, "replace config")
	}
	return nil
}

// createBackup creates rotating backups (.back1, .back2, .back3) before
// modifying config
func createBackup(configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil // No file to backup
	}

	back3 := configPath + ".back3"
	back2 := configPath + ".back2"
	back1 := configPath + ".back1"

	// Rotate: .back3 -> delete, .back2 -> .back3, .back1 -> .back2, current -> .back1
	if err := os.Remove(back3); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to delete oldest backup")
	}
	if _, err := os.Stat(back2); err == nil {
		if err := os.Rename(back2, back3); err != nil {
			return errors.Wrap(err, "failed to rotate .back2 to .back3")
		}
	}
	if _, err := os.Stat(back1); err == nil {
		if err := os.Rename(back1, back2); err != nil {
			return errors.Wrap(err, "failed to rotate .back1 to .back2")
		}
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}
	if err := os.WriteFile(back1, content, 0o644); err != nil {
		return errors.Wrap(err, "failed to write backup")
	}
	return nil
}
