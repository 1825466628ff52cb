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
	"os"
	"path/filepath"
	"time"
)

// Probe names how running services are detected.
const (
	ProbeCLI    = "cli"
	ProbeEngine = "engine"
)

type SdcliConfig struct {
	// CacheRoot holds every fingerprint directory. Must be absolute.
	CacheRoot string `yaml:"cache_root" validate:"required,abspath"`

	// Runtime: how the container runtime is invoked
	Runtime RuntimeConfig `yaml:"runtime"`

	// S3: defaults for S3 bridges
	S3 S3Config `yaml:"s3"`

	Logging LoggingConfig `yaml:"logging"`
}

type RuntimeConfig struct {
	// Binary is the runtime CLI, e.g. docker
	Binary string `yaml:"binary" validate:"required"`

	// Compose is the compose argv prefix, e.g. [docker-compose] or [docker, compose]
	Compose []string `yaml:"compose" validate:"min=1,dive,required"`

	// Probe selects running detection: cli uses `docker ps`, engine the Docker API
	Probe string `yaml:"probe" validate:"oneof=cli engine"`

	// Timeout bounds each runtime command
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

type S3Config struct {
	// SSHPublicKey is mounted into new bridges for SFTP access.
	SSHPublicKey string `yaml:"ssh_pubkey"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	Dir   string `yaml:"dir,omitempty"`
	JSON  bool   `yaml:"json"`
}

func DefaultConfig() SdcliConfig {
	root := ".sdcli"
	pubkey := filepath.Join(".ssh", "id_ed25519.pub")
	if home, err := os.UserHomeDir(); err == nil {
		root = filepath.Join(home, root)
		pubkey = filepath.Join(home, pubkey)
	}
	return SdcliConfig{
		CacheRoot: root,
		Runtime: RuntimeConfig{
			Binary:  "docker",
			Compose: []string{"docker-compose"},
			Probe:   ProbeCLI,
			Timeout: 5 * time.Minute,
		},
		S3: S3Config{SSHPublicKey: pubkey},
		Logging: LoggingConfig{
			Level: "warn",
		},
	}
}
