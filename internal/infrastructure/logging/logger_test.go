package logging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/velux-bridge/internal/infrastructure/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"DEBUG", slog.LevelDebug},
		{"nonsense", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetLevel(t *testing.T) {
	logger := New(config.LoggingConfig{Level: "info"}, "test")

	if got := logger.Level(); got != slog.LevelInfo {
		t.Errorf("initial level = %v, want info", got)
	}

	logger.SetLevel("debug")
	if got := logger.Level(); got != slog.LevelDebug {
		t.Errorf("level after SetLevel = %v, want debug", got)
	}
}

func TestWithSharesLevel(t *testing.T) {
	logger := New(config.LoggingConfig{Level: "info"}, "test")
	child := logger.With("component", "mqtt")

	logger.SetLevel("error")
	if got := child.Level(); got != slog.LevelError {
		t.Errorf("child level = %v, want error after parent SetLevel", got)
	}
}

func TestDefault(t *testing.T) {
	logger := Default()
	if logger == nil || logger.Logger == nil {
		t.Fatal("Default() returned unusable logger")
	}
	if got := logger.Level(); got != slog.LevelInfo {
		t.Errorf("Default() level = %v, want info", got)
	}
}

func TestWatcherAppliesLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	base := `{"klf200": {"host": "h", "password": "p"}, "logging": {"level": "%s"}}`

	if err := os.WriteFile(path, []byte(fmt.Sprintf(base, "info")), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	logger := New(config.LoggingConfig{Level: "info"}, "test")
	w, err := NewWatcher(path, logger)
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}
	defer w.Close()
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	if err := os.WriteFile(path, []byte(fmt.Sprintf(base, "debug")), 0o600); err != nil {
		t.Fatalf("rewriting config: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if logger.Level() == slog.LevelDebug {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("level not applied after config rewrite")
}
