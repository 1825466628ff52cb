// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package compose

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/metabronx/sdcli/cmd/sdcli/internal/infra/process"
	"github.com/metabronx/sdcli/cmd/sdcli/internal/util"
	"github.com/metabronx/sdcli/pkg/logging"
)

// =============================================================================
// Error Definitions
// =============================================================================

var (
	// ErrRuntimeUnavailable is returned when docker or the compose binary is
	// missing or the docker daemon does not answer.
	ErrRuntimeUnavailable = errors.New("container runtime unavailable")

	// ErrInvalidConfig is returned when Config is invalid.
	ErrInvalidConfig = errors.New("invalid compose configuration")

	// ErrManifestRequired is returned when an operation is called without a manifest path.
	ErrManifestRequired = errors.New("manifest path is required")
)

// =============================================================================
// Interface Definition
// =============================================================================

// Executor drives the external container-compose runtime.
//
// # Description
//
// Each method maps to exactly one synchronous runtime invocation against a
// single manifest file:
//
//	Up       <compose> -f <manifest> up [-d] [--wait] [--force-recreate]
//	Down     <compose> -f <manifest> down [--volumes]
//	Stop     <compose> -f <manifest> stop
//	Config   <compose> -f <manifest> config -o <output>
//	Exec     <compose> -f <manifest> exec [--workdir d] <service> <cmd...>
//	Run      <compose> -f <manifest> run --quiet-pull --rm ... <service> <cmd...>
//
// and RunningNames queries `<runtime> ps --format {{.Names}}`.
//
// A non-zero exit is returned as a *util.CommandError carrying the trimmed
// stderr. The Result is returned alongside the error whenever the process ran.
//
// # Limitations
//
//   - No retries. Runtime flakiness is surfaced, not masked.
type Executor interface {
	Up(ctx context.Context, manifest string, opts UpOptions) (*Result, error)
	Down(ctx context.Context, manifest string, opts DownOptions) (*Result, error)
	Stop(ctx context.Context, manifest string) (*Result, error)
	Config(ctx context.Context, manifest, output string) (*Result, error)
	Exec(ctx context.Context, manifest string, opts ExecOptions) (*Result, error)
	Run(ctx context.Context, manifest string, opts RunOptions) (*Result, error)
	RunningNames(ctx context.Context, nameFilter string) ([]string, error)
	CheckAvailable(ctx context.Context) error
}

// =============================================================================
// Supporting Types
// =============================================================================

// Config configures the executor.
type Config struct {
	// ComposeCommand is the argv prefix used to invoke compose.
	// Default: ["docker-compose"]. ["docker", "compose"] selects the plugin.
	ComposeCommand []string

	// RuntimeBinary is the container runtime CLI used for ps/version.
	// Default: "docker"
	RuntimeBinary string

	// DefaultTimeout bounds every invocation.
	// Default: 5 minutes
	DefaultTimeout time.Duration
}

// UpOptions configures Up.
type UpOptions struct {
	// Wait maps to --wait (implies detached in compose v2).
	Wait bool

	// ForceRecreate maps to --force-recreate.
	ForceRecreate bool
}

// DownOptions configures Down.
type DownOptions struct {
	// RemoveVolumes maps to --volumes.
	RemoveVolumes bool
}

// ExecOptions configures Exec.
type ExecOptions struct {
	Service string
	Workdir string
	Command []string
}

// RunOptions configures a one-off Run.
type RunOptions struct {
	Service    string
	Workdir    string
	Entrypoint *string
	Command    []string

	// RedactCommand hides Command from debug logs (one-time codes).
	RedactCommand bool
}

// Result captures one runtime invocation.
type Result struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// =============================================================================
// Default Implementation
// =============================================================================

// DefaultExecutor implements Executor on top of a process.Manager.
type DefaultExecutor struct {
	config Config
	proc   process.Manager
	logger *logging.Logger
}

// NewDefaultExecutor creates an Executor, applying defaults to cfg.
func NewDefaultExecutor(cfg Config, proc process.Manager, logger *logging.Logger) (*DefaultExecutor, error) {
	if proc == nil {
		return nil, fmt.Errorf("%w: process manager is required", ErrInvalidConfig)
	}
	applyDefaults(&cfg)
	if strings.TrimSpace(cfg.ComposeCommand[0]) == "" {
		return nil, fmt.Errorf("%w: compose command is empty", ErrInvalidConfig)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &DefaultExecutor{config: cfg, proc: proc, logger: logger}, nil
}

func applyDefaults(cfg *Config) {
	if len(cfg.ComposeCommand) == 0 {
		cfg.ComposeCommand = []string{"docker-compose"}
	}
	if cfg.RuntimeBinary == "" {
		cfg.RuntimeBinary = "docker"
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 5 * time.Minute
	}
}

// Up implements Executor.
func (e *DefaultExecutor) Up(ctx context.Context, manifest string, opts UpOptions) (*Result, error) {
	args := []string{"up"}
	if opts.Wait {
		args = append(args, "--wait")
	}
	if opts.ForceRecreate {
		args = append(args, "--force-recreate")
	}
	return e.runCompose(ctx, manifest, args, false)
}

// Down implements Executor.
func (e *DefaultExecutor) Down(ctx context.Context, manifest string, opts DownOptions) (*Result, error) {
	args := []string{"down"}
	if opts.RemoveVolumes {
		args = append(args, "--volumes")
	}
	return e.runCompose(ctx, manifest, args, false)
}

// Stop implements Executor.
func (e *DefaultExecutor) Stop(ctx context.Context, manifest string) (*Result, error) {
	return e.runCompose(ctx, manifest, []string{"stop"}, false)
}

// Config implements Executor. The normalized manifest is written to output,
// which may be the manifest itself. An empty output only checks the manifest
// (--quiet) and leaves every file untouched.
func (e *DefaultExecutor) Config(ctx context.Context, manifest, output string) (*Result, error) {
	if output == "" {
		return e.runCompose(ctx, manifest, []string{"config", "--quiet"}, false)
	}
	return e.runCompose(ctx, manifest, []string{"config", "-o", output}, false)
}

// Exec implements Executor.
func (e *DefaultExecutor) Exec(ctx context.Context, manifest string, opts ExecOptions) (*Result, error) {
	if opts.Service == "" {
		return nil, fmt.Errorf("%w: exec requires a service", ErrInvalidConfig)
	}
	args := []string{"exec"}
	if opts.Workdir != "" {
		args = append(args, "--workdir", opts.Workdir)
	}
	args = append(args, opts.Service)
	args = append(args, opts.Command...)
	return e.runCompose(ctx, manifest, args, false)
}

// Run implements Executor.
func (e *DefaultExecutor) Run(ctx context.Context, manifest string, opts RunOptions) (*Result, error) {
	if opts.Service == "" {
		return nil, fmt.Errorf("%w: run requires a service", ErrInvalidConfig)
	}
	args := []string{"run", "--quiet-pull", "--rm"}
	if opts.Entrypoint != nil {
		args = append(args, "--entrypoint="+*opts.Entrypoint)
	}
	if opts.Workdir != "" {
		args = append(args, "--workdir", opts.Workdir)
	}
	args = append(args, opts.Service)
	args = append(args, opts.Command...)
	return e.runCompose(ctx, manifest, args, opts.RedactCommand)
}

// RunningNames implements Executor.
//
// Returns the names of running containers as reported by the runtime,
// optionally narrowed by the runtime's own name filter (substring match).
func (e *DefaultExecutor) RunningNames(ctx context.Context, nameFilter string) ([]string, error) {
	args := []string{"ps", "--format", "{{.Names}}"}
	if nameFilter != "" {
		args = append(args, "--filter", "name="+nameFilter)
	}

	result, err := e.run(ctx, e.config.RuntimeBinary, args, false)
	if err != nil {
		return nil, err
	}
	return parseLines(result.Stdout), nil
}

// CheckAvailable verifies the runtime daemon answers and the compose binary
// is installed. Both probes run concurrently.
func (e *DefaultExecutor) CheckAvailable(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		_, err := e.run(gctx, e.config.RuntimeBinary, []string{"version"}, false)
		return err
	})
	g.Go(func() error {
		name, prefix := e.composeArgv()
		_, err := e.run(gctx, name, append(prefix, "version"), false)
		return err
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	}
	return nil
}

// =============================================================================
// Internals
// =============================================================================

func (e *DefaultExecutor) composeArgv() (string, []string) {
	prefix := append([]string(nil), e.config.ComposeCommand[1:]...)
	return e.config.ComposeCommand[0], prefix
}

func (e *DefaultExecutor) runCompose(ctx context.Context, manifest string, args []string, redact bool) (*Result, error) {
	if manifest == "" {
		return nil, ErrManifestRequired
	}
	name, prefix := e.composeArgv()
	full := append(prefix, "-f", manifest)
	full = append(full, args...)
	return e.run(ctx, name, full, redact)
}

func (e *DefaultExecutor) run(ctx context.Context, name string, args []string, redact bool) (*Result, error) {
	start := time.Now()
	cmdStr := strings.TrimSpace(name + " " + strings.Join(args, " "))

	logged := cmdStr
	if redact {
		logged = name + " [REDACTED ARGS]"
	}
	e.logger.Debug("executing runtime command", "command", logged)

	execCtx, cancel := context.WithTimeout(ctx, e.config.DefaultTimeout)
	defer cancel()

	stdout, stderr, exitCode, err := e.proc.RunInDir(execCtx, "", nil, name, args...)

	result := &Result{
		Command:  cmdStr,
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
		Duration: time.Since(start),
	}
	if redact {
		result.Command = logged
	}

	if err != nil {
		if errors.Is(err, process.ErrExecutableNotFound) {
			return result, fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
		}
		return result, util.NewCommandError(result.Command, exitCode, stderr, err)
	}
	if exitCode != 0 {
		e.logger.Debug("runtime command failed", "command", logged, "exit_code", exitCode)
		return result, util.NewCommandError(result.Command, exitCode, stderr, nil)
	}
	return result, nil
}

// parseLines splits output into trimmed, non-empty lines.
func parseLines(output string) []string {
	lines := []string{}
	for _, line := range strings.Split(output, "\n") {
		line = strings.Trim(strings.TrimSpace(line), `"`)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

var _ Executor = (*DefaultExecutor)(nil)
