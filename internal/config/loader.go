package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global
// config, defaults. Missing files are not errors; malformed JSON
// returns an error.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: $XDG_CONFIG_HOME/goalflow/config.json
// Project: .goalflow/config.json (relative to cwd)
func LoadDefault() (*Config, error) {
	globalPath := filepath.Join(xdg.ConfigHome, "goalflow", "config.json")
	projectPath := filepath.Join(".goalflow", "config.json")

	return Load(globalPath, projectPath)
}

// DefaultStorePath returns the database location used when the config
// names none.
func DefaultStorePath() string {
	return filepath.Join(xdg.DataHome, "goalflow", "goalflow.db")
}

// mergeConfigFile overlays a JSON config file onto the base config.
// Unmarshalling into the existing struct only touches keys present in
// the file, so scalars override and the workers map merges per key.
// Missing files are silently skipped.
func mergeConfigFile(base *Config, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	if err := json.Unmarshal(data, base); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	return nil
}
