package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestManagerStatus(t *testing.T) {
	path := writeConfigFile(t, "server:\n  port: 8080\n")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr, err := NewManager(path, logger)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	status := mgr.Status()
	if status.Path != path {
		t.Fatalf("Status().Path = %q, want %q", status.Path, path)
	}
	if status.Checksum == "" {
		t.Fatal("Status().Checksum is empty")
	}
	if status.LoadedAt.IsZero() {
		t.Fatal("Status().LoadedAt is zero")
	}
	if status.ReloadCount == 0 {
		t.Fatal("Status().ReloadCount should be > 0")
	}
}

func TestManagerReloadUpdatesChecksum(t *testing.T) {
	path := writeConfigFile(t, "server:\n  port: 8080\n")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr, err := NewManager(path, logger)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	var notified atomic.Int32
	mgr.OnChange(func(cfg *Config) {
		notified.Add(1)
	})

	before := mgr.Status()

	if err := os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if err := mgr.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	after := mgr.Status()
	if after.Checksum == before.Checksum {
		t.Fatal("expected checksum to change after reload")
	}
	if after.ReloadCount != before.ReloadCount+1 {
		t.Fatalf("expected reload count %d, got %d", before.ReloadCount+1, after.ReloadCount)
	}
	if mgr.Get().Server.Port != 9090 {
		t.Fatalf("expected server port 9090, got %d", mgr.Get().Server.Port)
	}
	if notified.Load() != 1 {
		t.Fatalf("expected 1 change notification, got %d", notified.Load())
	}

	// Unchanged content reloads without notifying.
	if err := mgr.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if notified.Load() != 1 {
		t.Fatalf("unchanged reload notified listeners")
	}
}

func TestManagerReloadKeepsConfigOnError(t *testing.T) {
	path := writeConfigFile(t, "server:\n  port: 8080\n")
	mgr, err := NewManager(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	before := mgr.Status()

	if err := os.WriteFile(path, []byte("server:\n  port: 0\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := mgr.Reload(); err == nil {
		t.Fatal("expected validation error")
	}

	if mgr.Get().Server.Port != 8080 {
		t.Fatalf("config replaced by invalid reload: port %d", mgr.Get().Server.Port)
	}
	if mgr.Status() != before {
		t.Fatal("status changed on failed reload")
	}
}

func TestManagerWithoutFile(t *testing.T) {
	mgr, err := NewManager("", nil)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	if mgr.Get().Server.Port != 8000 {
		t.Fatalf("expected default port, got %d", mgr.Get().Server.Port)
	}
	if err := mgr.Watch(context.Background()); err == nil {
		t.Fatal("Watch() should fail without a file")
	}
}

func TestManagerWatchReloads(t *testing.T) {
	path := writeConfigFile(t, "logging:\n  level: info\n")
	mgr, err := NewManager(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	changed := make(chan *Config, 1)
	mgr.OnChange(func(cfg *Config) {
		select {
		case changed <- cfg:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := mgr.Watch(ctx); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	if err := os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	select {
	case cfg := <-changed:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("reloaded level = %q, want debug", cfg.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
