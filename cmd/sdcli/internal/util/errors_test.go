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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// CommandError Tests
// =============================================================================

func TestCommandError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *CommandError
		want string
	}{
		{
			name: "with stderr",
			err:  &CommandError{Command: "docker-compose up", ExitCode: 1, Stderr: "disk full"},
			want: "docker-compose up (exit 1): disk full",
		},
		{
			name: "with wrapped error only",
			err:  &CommandError{Command: "docker ps", ExitCode: -1, Wrapped: errors.New("executable not found")},
			want: "docker ps (exit -1): executable not found",
		},
		{
			name: "bare",
			err:  &CommandError{Command: "docker-compose stop", ExitCode: 2},
			want: "docker-compose stop (exit 2)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestCommandError_IsCommandFailed(t *testing.T) {
	err := fmt.Errorf("bridge start: %w", NewCommandError("docker-compose up", 1, "boom", nil))

	assert.True(t, errors.Is(err, ErrCommandFailed))

	var cmdErr *CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, 1, cmdErr.ExitCode)
}

func TestCommandError_Unwrap(t *testing.T) {
	inner := errors.New("signal: killed")
	err := NewCommandError("docker-compose up", -1, "", inner)

	assert.True(t, errors.Is(err, inner))
}

// =============================================================================
// TrimNoise Tests
// =============================================================================

func TestTrimNoise(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "   \n", ""},
		{"single line", "service \"bridge\" has neither an image nor a build context\n", "service \"bridge\" has neither an image nor a build context"},
		{
			"drops warnings and progress",
			"WARN[0000] the attribute `version` is obsolete\n Container blackstrap_bridge_x  Creating\n\nError response from daemon: port is already allocated\n",
			"Error response from daemon: port is already allocated",
		},
		{
			"logfmt warnings",
			"time=\"2024\" level=warning msg=\"x\"\nyaml: line 3: mapping values are not allowed",
			"yaml: line 3: mapping values are not allowed",
		},
		{"all noise keeps original", "WARN[0000] only a warning", "WARN[0000] only a warning"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TrimNoise(tt.input))
		})
	}
}
