// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
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
			t.Errorf("Level(%d).String() = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestLevel_toSlogLevel(t *testing.T) {
	tests := []struct {
		level Level
		want  slog.Level
	}{
		{LevelDebug, slog.LevelDebug},
		{LevelInfo, slog.LevelInfo},
		{LevelWarn, slog.LevelWarn},
		{LevelError, slog.LevelError},
		{Level(99), slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := tt.level.toSlogLevel(); got != tt.want {
			t.Errorf("Level(%d).toSlogLevel() = %v, want %v", tt.level, got, tt.want)
		}
	}
}

// =============================================================================
// Constructor Tests
// =============================================================================

func TestNew_DefaultConfig(t *testing.T) {
	logger := New(Config{})
	if logger == nil {
		t.Fatal("New returned nil")
	}
	if logger.Slog() == nil {
		t.Fatal("underlying slog.Logger is nil")
	}
	if logger.file != nil {
		t.Error("file handle should be nil without LogDir")
	}
}

func TestNew_QuietWithoutFileStillLogs(t *testing.T) {
	// With Quiet and no LogDir there are no handlers; the fallback
	// stderr handler keeps the logger functional.
	logger := New(Config{Quiet: true})
	logger.Info("should not panic")
}

func TestNew_WithLogDir(t *testing.T) {
	dir := t.TempDir()

	logger := New(Config{
		LogDir:  dir,
		Service: "realtime",
		Quiet:   true,
	})

	logger.Info("file entry", "job_id", "job-1")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	files, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 log file, found %d", len(files))
	}
	if !strings.HasPrefix(files[0].Name(), "realtime_") {
		t.Errorf("log file %q should carry the service prefix", files[0].Name())
	}

	// File logs are JSON with the service attribute attached.
	data, err := os.ReadFile(filepath.Join(dir, files[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	var entry map[string]any
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("file entry is not JSON: %v", err)
	}
	if entry["msg"] != "file entry" {
		t.Errorf("msg = %v, want 'file entry'", entry["msg"])
	}
	if entry["service"] != "realtime" {
		t.Errorf("service = %v, want realtime", entry["service"])
	}
	if entry["job_id"] != "job-1" {
		t.Errorf("job_id = %v, want job-1", entry["job_id"])
	}
}

func TestNew_WithLogDir_NoServiceUsesDefaultName(t *testing.T) {
	dir := t.TempDir()

	logger := New(Config{LogDir: dir, Quiet: true})
	logger.Info("hello")
	logger.Close()

	files, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, f := range files {
		if strings.HasPrefix(f.Name(), "stackstage_") {
			found = true
		}
	}
	if !found {
		t.Error("expected log file with 'stackstage_' prefix")
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	dir := t.TempDir()

	logger := New(Config{
		Level:   LevelWarn,
		LogDir:  dir,
		Service: "realtime",
		Quiet:   true,
	})
	logger.Debug("drop me")
	logger.Info("drop me too")
	logger.Warn("keep me")
	logger.Close()

	files, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, files[0].Name()))
	if err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 entry above the Warn threshold, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "keep me") {
		t.Errorf("surviving entry should be the warning, got %q", lines[0])
	}
}

func TestDefault(t *testing.T) {
	logger := Default()
	if logger == nil {
		t.Fatal("Default returned nil")
	}
	if logger.config.Service != "stackstage" {
		t.Errorf("Default service = %v, want stackstage", logger.config.Service)
	}
	if logger.config.Level != LevelInfo {
		t.Errorf("Default level = %v, want LevelInfo", logger.config.Level)
	}
}

// =============================================================================
// Logger Behavior Tests
// =============================================================================

func TestLogger_WithAddsAttributes(t *testing.T) {
	dir := t.TempDir()

	logger := New(Config{LogDir: dir, Service: "realtime", Quiet: true})
	child := logger.With("request_id", "req-7")
	child.Info("scoped entry")
	logger.Close()

	files, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, files[0].Name()))
	if err != nil {
		t.Fatal(err)
	}

	var entry map[string]any
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatal(err)
	}
	if entry["request_id"] != "req-7" {
		t.Errorf("request_id = %v, want req-7", entry["request_id"])
	}
}

func TestLogger_CloseIdempotentWithoutFile(t *testing.T) {
	logger := New(Config{})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close without a file should be a no-op, got %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("second Close should also be a no-op, got %v", err)
	}
}

// =============================================================================
// Helper Tests
// =============================================================================

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory available")
	}

	tests := []struct {
		in   string
		want string
	}{
		{"~/logs", filepath.Join(home, "logs")},
		{"/var/log", "/var/log"},
		{"relative/path", "relative/path"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := expandPath(tt.in); got != tt.want {
			t.Errorf("expandPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
