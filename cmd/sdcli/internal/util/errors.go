// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package util

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCommandFailed is the sentinel every CommandError matches with errors.Is.
var ErrCommandFailed = errors.New("external command failed")

// =============================================================================
// Command Error Type
// =============================================================================

// CommandError wraps a failed external runtime call with its captured stderr.
//
// # Description
//
// Every non-zero exit from docker or the compose binary surfaces as a
// CommandError. The stderr text is trimmed of progress and warning noise
// before it is stored, so Error() can be shown to the user as-is.
//
// # Example
//
//	err := NewCommandError("docker-compose -f x.yaml up --wait", 1, "no such image", nil)
//	fmt.Println(err.Error()) // "docker-compose -f x.yaml up --wait (exit 1): no such image"
//
//	var cmdErr *CommandError
//	if errors.As(err, &cmdErr) {
//	    fmt.Println(cmdErr.Stderr)
//	}
type CommandError struct {
	// Command is the command line that was executed.
	Command string

	// ExitCode is the process exit code (-1 if the process never ran).
	ExitCode int

	// Stderr contains the trimmed standard error output.
	Stderr string

	// Wrapped is the underlying error (may be nil).
	Wrapped error
}

// Error returns a formatted error message.
func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s (exit %d): %s", e.Command, e.ExitCode, e.Stderr)
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("%s (exit %d): %v", e.Command, e.ExitCode, e.Wrapped)
	}
	return fmt.Sprintf("%s (exit %d)", e.Command, e.ExitCode)
}

// Unwrap returns the underlying error.
func (e *CommandError) Unwrap() error {
	return e.Wrapped
}

// Is reports whether target is ErrCommandFailed.
func (e *CommandError) Is(target error) bool {
	return target == ErrCommandFailed
}

var _ error = (*CommandError)(nil)

// =============================================================================
// Constructors
// =============================================================================

// NewCommandError creates a CommandError, trimming noise from stderr.
func NewCommandError(cmd string, exitCode int, stderr string, wrapped error) *CommandError {
	return &CommandError{
		Command:  cmd,
		ExitCode: exitCode,
		Stderr:   TrimNoise(stderr),
		Wrapped:  wrapped,
	}
}

// =============================================================================
// Stderr Noise Trimming
// =============================================================================

// noisePrefixes are line prefixes compose and docker print for progress or
// deprecation chatter that never explains a failure.
var noisePrefixes = []string{
	"WARN[",
	"time=",
	"#",
	"Pulling",
	"Creating",
	"Starting",
	"Network ",
	"Container ",
}

// TrimNoise removes blank lines, progress output and warning chatter from
// captured stderr.
//
// If every line is considered noise the whitespace-trimmed input is returned
// unchanged, so a failure is never reported with an empty explanation.
func TrimNoise(stderr string) string {
	trimmed := strings.TrimSpace(stderr)
	if trimmed == "" {
		return ""
	}

	var kept []string
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimRight(line, " \r\t")
		if strings.TrimSpace(line) == "" || isNoise(line) {
			continue
		}
		kept = append(kept, line)
	}
	if len(kept) == 0 {
		return trimmed
	}
	return strings.Join(kept, "\n")
}

func isNoise(line string) bool {
	l := strings.TrimSpace(line)
	if strings.Contains(l, "level=warning") {
		return true
	}
	for _, p := range noisePrefixes {
		if strings.HasPrefix(l, p) {
			return true
		}
	}
	return false
}
