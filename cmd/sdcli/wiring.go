// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/metabronx/sdcli/cmd/sdcli/config"
	"github.com/metabronx/sdcli/cmd/sdcli/internal/fingerprint"
	"github.com/metabronx/sdcli/cmd/sdcli/internal/infra/compose"
	"github.com/metabronx/sdcli/cmd/sdcli/internal/infra/engine"
	"github.com/metabronx/sdcli/cmd/sdcli/internal/infra/process"
	"github.com/metabronx/sdcli/cmd/sdcli/internal/lifecycle"
	"github.com/metabronx/sdcli/cmd/sdcli/internal/store"
	"github.com/metabronx/sdcli/pkg/logging"
	"github.com/metabronx/sdcli/pkg/ux"
)

// env carries the process-level collaborators so tests can replace them.
type env struct {
	stdout io.Writer
	stderr io.Writer

	loadConfig func() (*config.SdcliConfig, error)
	newProcess func() process.Manager
	newRepo    func() store.Repository
}

func defaultEnv() env {
	return env{
		stdout: os.Stdout,
		stderr: os.Stderr,
		loadConfig: func() (*config.SdcliConfig, error) {
			if err := config.Load(); err != nil {
				return nil, err
			}
			return &config.Global, nil
		},
		newProcess: func() process.Manager { return process.NewDefaultManager() },
		newRepo:    func() store.Repository { return store.NewOSRepository() },
	}
}

// app is built once per invocation by the root pre-run hook.
type app struct {
	cfg     *config.SdcliConfig
	logger  *logging.Logger
	printer *ux.Printer

	runtime compose.Executor
	ctrl    *lifecycle.Controller

	closers []func() error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.logger != nil {
			a.logger.Warn("cleanup failed", "error", err)
		}
	}
	a.closers = nil
}

// setup loads configuration and builds the logger. It never touches the
// container runtime.
func (a *app) setup(e env, logLevel string) error {
	cfg, err := e.loadConfig()
	if err != nil {
		return err
	}
	a.cfg = cfg

	if logLevel == "" {
		logLevel = cfg.Logging.Level
	}
	level, err := logging.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "sdcli",
		JSON:    cfg.Logging.JSON,
		Output:  e.stderr,
	})
	a.closers = append(a.closers, logger.Close)
	a.logger = logger.With("invocation", uuid.NewString())
	return nil
}

// connect builds the runtime stack and checks the prerequisites.
func (a *app) connect(ctx context.Context, e env) error {
	rt, err := compose.NewDefaultExecutor(compose.Config{
		ComposeCommand: a.cfg.Runtime.Compose,
		RuntimeBinary:  a.cfg.Runtime.Binary,
		DefaultTimeout: a.cfg.Runtime.Timeout,
	}, e.newProcess(), a.logger)
	if err != nil {
		return err
	}
	if err := rt.CheckAvailable(ctx); err != nil {
		return err
	}

	var lister lifecycle.Lister
	if a.cfg.Runtime.Probe == config.ProbeEngine {
		l, err := engine.New()
		if err != nil {
			return err
		}
		a.closers = append(a.closers, l.Close)
		lister = l
	}

	st, err := store.New(a.cfg.CacheRoot, e.newRepo())
	if err != nil {
		return err
	}

	a.runtime = rt
	a.ctrl = lifecycle.New(st, rt, lister, a.logger, a.progress)
	return nil
}

// progress prints the user-facing line for a lifecycle event.
func (a *app) progress(ev lifecycle.Event) {
	if msg := progressMessage(ev); msg != "" {
		a.printer.Info(msg)
	}
}

func progressMessage(ev lifecycle.Event) string {
	switch ev.Kind {
	case fingerprint.KindS3Bridge:
		switch ev.Stage {
		case lifecycle.StageConfiguringNew:
			return "New bucket information provided. Configuring a new bridge..."
		case lifecycle.StageExistingFound:
			return "Existing S3 bridge configuration found."
		case lifecycle.StageStarting:
			return "Your S3 bridge is starting. This may take a few seconds."
		case lifecycle.StageRestarting:
			return "Your S3 bridge is restarting. This may take a few seconds."
		case lifecycle.StageStopping:
			return "Shutting down your S3 bridge..."
		case lifecycle.StageRemoving:
			return "Removing your S3 bridge..."
		}
	case fingerprint.KindVPNServer:
		switch ev.Stage {
		case lifecycle.StageStarting:
			return "The VPN server is starting. This may take a few seconds."
		case lifecycle.StageRestarting:
			return "The VPN server is restarting. This might take a few seconds."
		case lifecycle.StageAddingPeer:
			return "Configuring a new client..."
		case lifecycle.StageStopping:
			return "Shutting down the VPN server..."
		case lifecycle.StageRemoving:
			return "Removing the VPN server..."
		}
	case fingerprint.KindVPNClient:
		switch ev.Stage {
		case lifecycle.StageConfiguringNew:
			return "No existing VPN profile found. A new one will be created."
		case lifecycle.StageInstallingClient:
			return "Configuring the VPN profile. This might take a few seconds."
		case lifecycle.StageStarting, lifecycle.StageRestarting:
			return "Starting the VPN client. This might take a few more seconds."
		case lifecycle.StageMounting:
			return "Connecting filesystems..."
		case lifecycle.StageStopping:
			return "Shutting down the VPN client..."
		case lifecycle.StageRemoving:
			return "Removing the VPN client..."
		}
	}
	return ""
}

// report prints err for the user, naming the service as noun.
func report(p *ux.Printer, noun string, err error) {
	if noun == "" {
		noun = "service"
	}
	switch {
	case errors.Is(err, lifecycle.ErrAlreadyRunning):
		p.Warning(fmt.Sprintf("Your %s is already running! "+
			"If you intended to force a restart, you must specify the --force-restart option.", noun))
	case errors.Is(err, lifecycle.ErrNotRunning):
		p.Error(fmt.Sprintf("Your %s is not running.", noun))
	case errors.Is(err, lifecycle.ErrRunningWithMissingManifest):
		target := "its containers"
		var orphan *lifecycle.OrphanError
		if errors.As(err, &orphan) {
			target = "the container '" + orphan.Container + "'"
		}
		p.Error(fmt.Sprintf("Your %s is running, but its underlying configuration file is missing. "+
			"Stop %s with the container runtime directly, then delete the fingerprint.", noun, target))
	case errors.Is(err, compose.ErrRuntimeUnavailable):
		p.Error("Docker Compose is not available but is required. " +
			"Ensure Docker and Docker Compose 2 are installed and running before continuing.")
	default:
		p.Error(capitalize(err.Error()))
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func fingerprintNote(fp string) string {
	return fmt.Sprintf("The service has the fingerprint '%s'. You can use it to manage this service "+
		"again without having to provide the same parameters.", fp)
}
