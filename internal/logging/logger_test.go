// Package logging includes tests for the zap logger helpers.
package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/JakeFAU/glossifier-terms/internal/config"
)

// TestNewAppendsPlainTextLines confirms entries land in the log file as single lines.
func TestNewAppendsPlainTextLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "glossifier.log")
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("previous line\n"), 0o600); err != nil {
		t.Fatalf("seed log file: %v", err)
	}

	logger, err := New(config.LoggingConfig{File: path})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Info("loaded glossifier terms", zap.Int("length_bytes", 42))
	_ = logger.Sync() //nolint:errcheck // best-effort flush

	data, err := os.ReadFile(path) // #nosec G304 -- test reads from the controlled temp directory.
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines (append mode), got %d: %q", len(lines), data)
	}
	if lines[0] != "previous line" {
		t.Fatalf("expected existing content to be preserved, got %q", lines[0])
	}
	if !strings.Contains(lines[1], "INFO") ||
		!strings.Contains(lines[1], "loaded glossifier terms") ||
		!strings.Contains(lines[1], `"length_bytes": 42`) {
		t.Fatalf("unexpected log line %q", lines[1])
	}
}

// TestNewCreatesLogDirectory ensures a missing log directory is created.
func TestNewCreatesLogDirectory(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "dir", "glossifier.log")
	logger, err := New(config.LoggingConfig{File: path, Development: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Info("development logger ready")
	_ = logger.Sync() //nolint:errcheck // best-effort flush

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected log file to exist: %v", err)
	}
}

// TestNewRejectsBadLevel checks invalid levels surface as errors.
func TestNewRejectsBadLevel(t *testing.T) {
	t.Parallel()

	_, err := New(config.LoggingConfig{File: filepath.Join(t.TempDir(), "x.log"), Level: "loud"})
	if err == nil {
		t.Fatal("expected error for invalid level")
	}
}
