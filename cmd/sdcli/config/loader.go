// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	// EnvHome overrides cache_root.
	EnvHome = "SDCLI_HOME"

	// EnvLogLevel overrides logging.level.
	EnvLogLevel = "SDCLI_LOG_LEVEL"

	// FileName is the config file inside <home>/.sdcli.
	FileName = "sdcli.yaml"
)

// ErrInvalidConfig is returned when the loaded configuration fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

var (
	// Global is a singleton instance
	Global SdcliConfig
	once   sync.Once

	validate *validator.Validate
)

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("abspath", func(fl validator.FieldLevel) bool {
		return filepath.IsAbs(fl.Field().String())
	})
}

// Load ensures the config is loaded into the Global variable
func Load() error {
	var err error
	once.Do(func() {
		err = loadInternal()
	})
	return err
}

func loadInternal() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("could not find the user's home directory: %w", err)
	}
	cfg, err := LoadFile(filepath.Join(home, ".sdcli", FileName), os.Stderr)
	if err != nil {
		return err
	}
	Global = *cfg
	return nil
}

// LoadFile reads path, creating it with defaults on first run, then applies
// environment overrides and validates the result. The first-run notice is
// written to notice when it is non-nil.
func LoadFile(path string, notice io.Writer) (*SdcliConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if notice != nil {
			fmt.Fprintf(notice, "First run detected, creating the config at %s\n", path)
		}
		if err := createDefault(path); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read the config file: %w", err)
	}

	// unset keys keep their defaults
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse the config file %s: %w", path, err)
	}

	applyEnv(&cfg, os.Getenv)
	cfg.CacheRoot = expandHome(cfg.CacheRoot)
	cfg.S3.SSHPublicKey = expandHome(cfg.S3.SSHPublicKey)
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cfg against its struct tags.
func Validate(cfg *SdcliConfig) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func applyEnv(cfg *SdcliConfig, getenv func(string) string) {
	if v := getenv(EnvHome); v != "" {
		cfg.CacheRoot = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory %w", err)
	}
	defaultCfg := DefaultConfig()
	data, err := yaml.Marshal(defaultCfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
