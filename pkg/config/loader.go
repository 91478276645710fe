package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Resolve the state directory (MERLYA_HOME or ~/.merlya)
//  2. Read config.yaml if present, expand environment variables
//  3. Merge user values over built-in defaults
//  4. Apply persisted model selections (config.json)
//  5. Validate the merged configuration
func Initialize() (*Config, error) {
	paths, err := DefaultPaths()
	if err != nil {
		return nil, err
	}
	return InitializeFrom(paths)
}

// InitializeFrom loads configuration rooted at an explicit state directory.
// Used by tests and by the --home CLI flag.
func InitializeFrom(paths *Paths) (*Config, error) {
	log := slog.With("home", paths.Home)
	log.Info("Initializing configuration")

	cfg := DefaultConfig()
	cfg.Paths = paths

	user, err := loadYAMLFile(paths.ConfigFile())
	if err != nil {
		return nil, err
	}
	if user != nil {
		// User values win over defaults field by field.
		if err := mergo.Merge(cfg, user, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge configuration: %w", err)
		}
		cfg.Paths = paths
		log.Info("Merged user configuration", "file", paths.ConfigFile())
	}

	// Model selections persisted by a model switch win over the YAML file.
	sel, err := LoadSelections(paths.SelectionsFile())
	if err != nil {
		return nil, err
	}
	if sel != nil {
		sel.Apply(cfg)
		log.Info("Applied persisted model selections",
			"provider", cfg.LLM.Provider, "file", paths.SelectionsFile())
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	log.Info("Configuration initialized",
		"sentinel_enabled", cfg.Sentinel.Enabled,
		"conversation_backend", cfg.Conversation.Backend,
		"api_enabled", cfg.API.Enabled)
	return cfg, nil
}

// loadYAMLFile reads and parses one YAML config file with env expansion.
// A missing file is not an error; it returns (nil, nil).
func loadYAMLFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, NewLoadError(path, err)
	}

	expanded := ExpandEnv(data)

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %w", ErrInvalidYAML, err))
	}
	return &cfg, nil
}
