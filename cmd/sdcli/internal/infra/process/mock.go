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
	"context"
	"strings"
	"sync"
)

// -----------------------------------------------------------------------------
// Mock Implementation for Testing
// -----------------------------------------------------------------------------

// Result is a scripted process outcome.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

// Call records a single RunInDir invocation.
type Call struct {
	Dir  string
	Env  []string
	Name string
	Args []string
}

// Line returns the call as a space-joined command line.
func (c Call) Line() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

type rule struct {
	prefix string
	result Result
}

// MockManager is a scripted test double for Manager.
//
// Responses are matched by command-line prefix; the most recently
// registered matching rule wins. Unmatched commands succeed with empty
// output, mirroring a runtime that does nothing observable.
//
// # Example
//
//	mock := NewMockManager()
//	mock.On("docker ps", Result{Stdout: "blackstrap_bridge_abc\n"})
//	mock.On("docker-compose -f /x.yaml up", Result{ExitCode: 1, Stderr: "boom"})
type MockManager struct {
	mu    sync.Mutex
	rules []rule
	calls []Call
}

// NewMockManager creates an empty MockManager.
func NewMockManager() *MockManager {
	return &MockManager{}
}

// On registers a scripted result for commands starting with prefix.
func (m *MockManager) On(prefix string, result Result) *MockManager {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, rule{prefix: prefix, result: result})
	return m
}

// RunInDir implements Manager.
func (m *MockManager) RunInDir(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	call := Call{Dir: dir, Env: env, Name: name, Args: append([]string(nil), args...)}
	m.calls = append(m.calls, call)

	line := call.Line()
	for i := len(m.rules) - 1; i >= 0; i-- {
		if strings.HasPrefix(line, m.rules[i].prefix) {
			r := m.rules[i].result
			return r.Stdout, r.Stderr, r.ExitCode, r.Err
		}
	}
	return "", "", 0, nil
}

// Calls returns a copy of all recorded calls.
func (m *MockManager) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// Lines returns every recorded call as a command line.
func (m *MockManager) Lines() []string {
	calls := m.Calls()
	lines := make([]string, len(calls))
	for i, c := range calls {
		lines[i] = c.Line()
	}
	return lines
}

// Called reports whether a call with exactly this command line was made.
func (m *MockManager) Called(line string) bool {
	for _, l := range m.Lines() {
		if l == line {
			return true
		}
	}
	return false
}

// CalledPrefix reports whether any call starts with prefix.
func (m *MockManager) CalledPrefix(prefix string) bool {
	for _, l := range m.Lines() {
		if strings.HasPrefix(l, prefix) {
			return true
		}
	}
	return false
}

// Reset clears recorded calls, keeping the scripted rules.
func (m *MockManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

var _ Manager = (*MockManager)(nil)
