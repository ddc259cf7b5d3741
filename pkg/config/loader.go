package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the expected file name inside the config directory.
const ConfigFileName = "autoqa.yaml"

// Initialize loads, merges, and validates the configuration from dir.
// A missing autoqa.yaml is not an error: the built-in defaults apply.
// Unknown YAML keys are rejected.
func Initialize(_ context.Context, dir string) (*Config, error) {
	cfg := Default()
	cfg.configDir = dir

	path := filepath.Join(dir, ConfigFileName)
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Info("No configuration file found, using defaults", "path", path)
	case err != nil:
		return nil, fmt.Errorf("reading %s: %w", path, err)
	default:
		loaded, err := parse(ExpandEnv(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidYAML, path, err)
		}
		if err := merge(cfg, loaded); err != nil {
			return nil, fmt.Errorf("merging %s over defaults: %w", path, err)
		}
		slog.Info("Loaded configuration", "path", path)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}
	return cfg, nil
}

// parse decodes YAML strictly: unknown keys are an error.
func parse(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// merge overlays the loaded file onto the defaults. File values win; unset
// sections and fields keep their defaults.
func merge(base, overlay *Config) error {
	return mergo.Merge(base, overlay, mergo.WithOverride)
}
