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
		if got := tt.level.String(); got != tt.want {
			t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
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
		{"", LevelInfo, false},
		{" Warning ", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// =============================================================================
// Logger Tests
// =============================================================================

func TestNew_WritesServiceAttribute(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Service: "relay", JSON: true, Output: &buf})

	logger.Info("request started", "request_id", "abc")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["service"] != "relay" {
		t.Errorf("service = %v, want relay", entry["service"])
	}
	if entry["request_id"] != "abc" {
		t.Errorf("request_id = %v, want abc", entry["request_id"])
	}
	if entry["msg"] != "request started" {
		t.Errorf("msg = %v, want request started", entry["msg"])
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelWarn, Output: &buf})

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("messages below Warn leaked: %q", out)
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Errorf("Warn/Error messages missing: %q", out)
	}
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf}).With("request_id", "r-1")

	logger.Info("relay finished")

	if !strings.Contains(buf.String(), "request_id=r-1") {
		t.Errorf("child attributes missing: %q", buf.String())
	}
}

func TestNew_WithLogDir(t *testing.T) {
	tmpDir := t.TempDir()
	logger := New(Config{LogDir: tmpDir, Service: "relay", Quiet: true})
	defer logger.Close()

	logger.Info("to file")

	files, err := os.ReadDir(tmpDir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(files) != 1 || !strings.HasPrefix(files[0].Name(), "relay_") {
		t.Fatalf("expected one relay_*.log file, got %v", files)
	}

	data, err := os.ReadFile(filepath.Join(tmpDir, files[0].Name()))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"to file"`) {
		t.Errorf("file log missing entry: %q", data)
	}
}

func TestNew_WithLogDir_InvalidPath(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	logger := New(Config{LogDir: filepath.Join(blocker, "logs"), Quiet: true})
	if logger.file != nil {
		t.Error("file handle should be nil when LogDir cannot be created")
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Close() = %v, want nil", err)
	}
}

func TestLogger_Close_Twice(t *testing.T) {
	logger := New(Config{LogDir: t.TempDir(), Quiet: true})

	if err := logger.Close(); err != nil {
		t.Fatalf("first Close() = %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}
}

func TestLogger_ConcurrentUse(t *testing.T) {
	var buf syncBuffer
	logger := New(Config{Output: &buf})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			logger.Info("fragment", "n", n)
		}(i)
	}
	wg.Wait()

	if got := strings.Count(buf.String(), "fragment"); got != 20 {
		t.Errorf("got %d entries, want 20", got)
	}
}

// =============================================================================
// multiHandler Tests
// =============================================================================

func TestMultiHandler_FansOut(t *testing.T) {
	var a, b bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&a, nil),
		slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelError}),
	}}
	logger := slog.New(h)

	logger.Info("only first")
	logger.Error("both")

	if !strings.Contains(a.String(), "only first") || !strings.Contains(a.String(), "both") {
		t.Errorf("first handler output = %q", a.String())
	}
	if strings.Contains(b.String(), "only first") || !strings.Contains(b.String(), "both") {
		t.Errorf("second handler output = %q", b.String())
	}
	if h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Enabled(Debug) = true, want false")
	}
}

func TestDefault_InfoLevelWithoutFile(t *testing.T) {
	logger := Default()
	defer logger.Close()

	if logger.file != nil {
		t.Error("Default() opened a log file, want console only")
	}
	if logger.Slog().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Default() enables Debug, want Info and above")
	}
	if !logger.Slog().Enabled(context.Background(), slog.LevelInfo) {
		t.Error("Default() disables Info")
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandPath("~/logs"); got != filepath.Join(home, "logs") {
		t.Errorf("expandPath(~/logs) = %q", got)
	}
	if got := expandPath("/var/log"); got != "/var/log" {
		t.Errorf("expandPath(/var/log) = %q", got)
	}
}

// syncBuffer is a bytes.Buffer safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}
