// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// ErrExecutableNotFound is returned when the named binary is not on PATH.
var ErrExecutableNotFound = errors.New("executable not found")

// -----------------------------------------------------------------------------
// Interface Definition
// -----------------------------------------------------------------------------

// Manager runs external processes.
//
// # Description
//
// RunInDir executes name with args, optionally in dir and with extra
// environment entries appended to the current environment. It returns the
// captured stdout, the captured stderr and the exit code.
//
// # Outputs
//
//   - stdout, stderr: Captured output (always populated when the process ran)
//   - exitCode: Process exit code, -1 if the process could not be started
//   - error: Non-nil only when the process could not be started or was
//     killed (context cancellation). A non-zero exit is NOT an error here;
//     callers inspect exitCode.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Manager interface {
	RunInDir(ctx context.Context, dir string, env []string, name string, args ...string) (stdout, stderr string, exitCode int, err error)
}

// -----------------------------------------------------------------------------
// Implementation
// -----------------------------------------------------------------------------

// DefaultManager implements Manager using os/exec.
type DefaultManager struct {
	lookPath func(string) (string, error)
}

// NewDefaultManager creates a Manager that executes real processes.
func NewDefaultManager() *DefaultManager {
	return &DefaultManager{lookPath: exec.LookPath}
}

// RunInDir implements Manager.
func (pm *DefaultManager) RunInDir(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error) {
	if _, err := pm.lookPath(name); err != nil {
		return "", "", -1, fmt.Errorf("%w: %s", ErrExecutableNotFound, name)
	}

	cmd := exec.CommandContext(ctx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.String(), stderr.String(), 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		return stdout.String(), stderr.String(), exitErr.ExitCode(), nil
	}
	if ctx.Err() != nil {
		return stdout.String(), stderr.String(), -1, fmt.Errorf("%s interrupted: %w", name, ctx.Err())
	}
	return stdout.String(), stderr.String(), -1, fmt.Errorf("failed to run %s: %w", name, err)
}

var _ Manager = (*DefaultManager)(nil)
