// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads ~/.livegraph/livegraph.yaml, creating it with
// defaults on first run, and watches it for changes.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when the file parses but fails validation.
var ErrInvalidConfig = errors.New("invalid config")

var validate = validator.New()

// DefaultPath returns ~/.livegraph/livegraph.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".livegraph", "livegraph.yaml"), nil
}

// Load reads the config at path, or at DefaultPath when path is empty. A
// missing file is created with defaults; created reports whether that
// happened. Fields absent from the file keep their defaults.
func Load(path string) (cfg LivegraphConfig, created bool, err error) {
	if path == "" {
		if path, err = DefaultPath(); err != nil {
			return cfg, false, err
		}
	}
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		if err := createDefault(path); err != nil {
			return cfg, false, err
		}
		created = true
	}
	cfg, err = read(path)
	return cfg, created, err
}

func read(path string) (LivegraphConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return LivegraphConfig{}, fmt.Errorf("failed to read the config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return LivegraphConfig{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return LivegraphConfig{}, err
	}
	return cfg, nil
}

// Validate checks the struct tags of every section.
func Validate(cfg LivegraphConfig) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
