// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.level.String(); got != tt.want {
				t.Errorf("Level.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{" warn ", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"loud", LevelWarn, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLevel_toSlogLevel(t *testing.T) {
	if LevelWarn.toSlogLevel() != slog.LevelWarn {
		t.Error("LevelWarn should map to slog.LevelWarn")
	}
	if Level(99).toSlogLevel() != slog.LevelInfo {
		t.Error("unknown level should map to slog.LevelInfo")
	}
}

// =============================================================================
// Logger Tests
// =============================================================================

func TestLogger_WritesToOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Output: &buf, Service: "sdcli"})
	defer logger.Close()

	logger.Info("bridge started", "fingerprint", "abc")

	out := buf.String()
	for _, want := range []string{"bridge started", "fingerprint=abc", "service=sdcli"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelWarn, Output: &buf})

	logger.Debug("hidden debug")
	logger.Info("hidden info")
	logger.Warn("shown warn")
	logger.Error("shown error")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("messages below Warn leaked: %q", out)
	}
	if !strings.Contains(out, "shown warn") || !strings.Contains(out, "shown error") {
		t.Errorf("expected warn and error in %q", out)
	}
}

func TestLogger_JSONConsole(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Output: &buf, JSON: true})

	logger.Info("hello", "k", "v")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("console output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["msg"] != "hello" || entry["k"] != "v" {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Output: &buf})

	child := logger.With("invocation_id", "inv-1")
	child.Info("child message")
	logger.Info("parent message")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "invocation_id=inv-1") {
		t.Errorf("child line missing attribute: %q", lines[0])
	}
	if strings.Contains(lines[1], "invocation_id") {
		t.Errorf("parent line should not carry child attribute: %q", lines[1])
	}
}

func TestLogger_ConcurrentUse(t *testing.T) {
	var mu sync.Mutex
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Output: writerFunc(func(p []byte) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		return buf.Write(p)
	})})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			logger.Info("concurrent", "i", i)
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if got := strings.Count(buf.String(), "concurrent"); got != 20 {
		t.Errorf("expected 20 entries, got %d", got)
	}
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	if logger == nil || logger.slog == nil {
		t.Fatal("Discard() returned an unusable logger")
	}
	logger.Error("dropped")
	if err := logger.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

// =============================================================================
// File Logging Tests
// =============================================================================

func TestLogger_FileContent(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{Level: LevelDebug, LogDir: dir, Quiet: true})

	logger.Debug("compose command", "argv", "docker-compose -f x up -d")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	path := filepath.Join(dir, "sdcli_"+time.Now().Format("2006-01-02")+".log")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
		t.Fatalf("file entry is not JSON: %v", err)
	}
	if entry["msg"] != "compose command" {
		t.Errorf("msg = %v", entry["msg"])
	}
}

func TestLogger_FileAndConsole(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, LogDir: dir, Output: &buf, Service: "svc"})
	defer logger.Close()

	logger.Info("both")
	if !strings.Contains(buf.String(), "both") {
		t.Error("console missing entry")
	}
	if _, err := os.Stat(filepath.Join(dir, "svc_"+time.Now().Format("2006-01-02")+".log")); err != nil {
		t.Errorf("file missing: %v", err)
	}
}

func TestLogger_InvalidLogDirFallsBack(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(file, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, LogDir: filepath.Join(file, "logs"), Output: &buf})
	defer logger.Close()

	if logger.file != nil {
		t.Error("file should be nil when the directory cannot be created")
	}
	logger.Info("still works")
	if !strings.Contains(buf.String(), "still works") {
		t.Error("console logging should continue")
	}
}

func TestLogger_Close_Twice(t *testing.T) {
	logger := New(Config{LogDir: t.TempDir(), Quiet: true})
	if err := logger.Close(); err != nil {
		t.Fatalf("first Close() = %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}

// =============================================================================
// Multi-Handler Tests
// =============================================================================

func TestMultiHandler_Enabled(t *testing.T) {
	var a, b bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&a, &slog.HandlerOptions{Level: slog.LevelError}),
		slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelDebug}),
	}}

	if !h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("should be enabled when any handler is")
	}

	slog.New(h).Debug("only b")
	if a.Len() != 0 {
		t.Error("error-level handler received debug record")
	}
	if !strings.Contains(b.String(), "only b") {
		t.Error("debug handler missed record")
	}
}

func TestMultiHandler_WithAttrsAndGroup(t *testing.T) {
	var a bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{slog.NewTextHandler(&a, nil)}}

	slog.New(h.WithAttrs([]slog.Attr{slog.String("k", "v")}).WithGroup("g")).Info("m", "x", 1)

	if !strings.Contains(a.String(), "k=v") || !strings.Contains(a.String(), "g.x=1") {
		t.Errorf("unexpected output %q", a.String())
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandPath("~/.sdcli/logs"); got != filepath.Join(home, ".sdcli/logs") {
		t.Errorf("expandPath = %q", got)
	}
	if got := expandPath("/var/log"); got != "/var/log" {
		t.Errorf("absolute path changed: %q", got)
	}
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
