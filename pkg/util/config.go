// Package util provides utility functions for hass-watchdog.
package util

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/supporttools/hass-watchdog/pkg/types"
	"gopkg.in/yaml.v3"
)

// EnvLookup resolves environment variables. os.LookupEnv in production,
// a map in tests.
type EnvLookup func(string) (string, bool)

// LoadConfig loads configuration from a file (YAML or JSON).
// The file format is determined by extension (.yaml, .yml, .json).
// ${VAR} references are expanded, the legacy environment overrides are applied,
// then defaults and validation.
func LoadConfig(path string) (*types.WatchdogConfig, error) {
	return LoadConfigWithEnv(path, os.LookupEnv)
}

// LoadConfigWithEnv is LoadConfig with an explicit environment lookup.
func LoadConfigWithEnv(path string, lookup EnvLookup) (*types.WatchdogConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	// Substitute environment variables in raw data BEFORE parsing
	// so they also work in non-string fields (e.g., port: ${PORT}).
	data = []byte(os.ExpandEnv(string(data)))

	var config types.WatchdogConfig

	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &config)
	case ".json":
		err = json.Unmarshal(data, &config)
	default:
		// Try YAML first, then JSON
		err = yaml.Unmarshal(data, &config)
		if err != nil {
			err = json.Unmarshal(data, &config)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.SubstituteEnvVars()

	if err := finalize(&config, lookup); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoadConfigOrDefault loads configuration from a file, or returns default if file doesn't exist.
func LoadConfigOrDefault(path string) (*types.WatchdogConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig()
	}
	return LoadConfig(path)
}

// DefaultConfig returns a configuration built only from defaults and the
// environment. It fails validation unless HASS_URL, WATCHDOG_WEBHOOK and
// SHELLY_RELAY_ID are set.
func DefaultConfig() (*types.WatchdogConfig, error) {
	return DefaultConfigWithEnv(os.LookupEnv)
}

// DefaultConfigWithEnv is DefaultConfig with an explicit environment lookup.
func DefaultConfigWithEnv(lookup EnvLookup) (*types.WatchdogConfig, error) {
	config := &types.WatchdogConfig{
		APIVersion: "hass-watchdog.io/v1alpha1",
		Kind:       "WatchdogConfig",
		Status: types.StatusConfig{
			Enabled: true,
		},
		Metrics: types.MetricsConfig{
			Enabled: true,
		},
	}

	if err := finalize(config, lookup); err != nil {
		return nil, fmt.Errorf("default config: %w", err)
	}
	return config, nil
}

// SaveConfig saves configuration to a file (YAML or JSON based on extension).
func SaveConfig(config *types.WatchdogConfig, path string) error {
	var data []byte
	var err error

	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(config)
	case ".json":
		data, err = json.MarshalIndent(config, "", "  ")
	default:
		return fmt.Errorf("unsupported file extension: %s (use .yaml, .yml, or .json)", ext)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ValidateConfigFile validates a configuration file by loading it.
func ValidateConfigFile(path string) error {
	_, err := LoadConfig(path)
	return err
}

func finalize(config *types.WatchdogConfig, lookup EnvLookup) error {
	if err := config.ApplyEnvOverrides(lookup); err != nil {
		return fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	if err := config.ApplyDefaults(); err != nil {
		return fmt.Errorf("failed to apply defaults: %w", err)
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}
