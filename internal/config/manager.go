package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Status describes the configuration currently in effect.
type Status struct {
	Path        string
	Checksum    string
	LoadedAt    time.Time
	ReloadCount int64
}

// Manager handles configuration loading and hot-reload.
// It uses atomic pointer swaps to ensure thread-safe config updates.
type Manager struct {
	config  atomic.Pointer[Config]
	status  atomic.Pointer[Status]
	path    string
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	mu       sync.Mutex // serializes reloads and guards onChange
	onChange []func(*Config)
}

// NewManager creates a new configuration manager. An empty path serves the
// defaults plus environment overrides and cannot be watched.
func NewManager(path string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		path:   path,
		logger: logger,
	}
	if _, err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

// Get returns the current configuration.
// This is safe to call concurrently from multiple goroutines.
func (m *Manager) Get() *Config {
	return m.config.Load()
}

// Status returns metadata about the loaded configuration.
func (m *Manager) Status() Status {
	return *m.status.Load()
}

// OnChange registers a callback to be invoked when configuration changes.
func (m *Manager) OnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// Reload re-reads the configuration file. On error the current configuration
// stays in effect. Listeners run only when the content changed.
func (m *Manager) Reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	before := m.Status().Checksum
	cfg, err := m.load()
	if err != nil {
		return err
	}
	if m.Status().Checksum == before {
		return nil
	}
	for _, fn := range m.onChange {
		fn(cfg)
	}
	return nil
}

func (m *Manager) load() (*Config, error) {
	var data []byte
	if m.path != "" {
		var err error
		data, err = os.ReadFile(m.path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	cfg, err := Parse(data, os.LookupEnv)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(data)
	var count int64 = 1
	if prev := m.status.Load(); prev != nil {
		count = prev.ReloadCount + 1
	}

	m.config.Store(cfg)
	m.status.Store(&Status{
		Path:        m.path,
		Checksum:    hex.EncodeToString(sum[:]),
		LoadedAt:    time.Now(),
		ReloadCount: count,
	})
	return cfg, nil
}

// Watch starts watching the configuration file for changes.
// It debounces rapid changes and reloads configuration atomically.
func (m *Manager) Watch(ctx context.Context) error {
	if m.path == "" {
		return errors.New("no config file to watch")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	m.watcher = watcher

	if err := watcher.Add(m.path); err != nil {
		_ = watcher.Close()
		return err
	}

	go m.watchLoop(ctx)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context) {
	// Debounce timer to avoid rapid reloads
	const debounceDelay = 500 * time.Millisecond
	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			_ = m.watcher.Close()
			return

		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDelay, m.reload)
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("config watcher error", "error", err)
		}
	}
}

func (m *Manager) reload() {
	if err := m.Reload(); err != nil {
		m.logger.Error("failed to reload config, keeping current", "error", err)
		return
	}
	status := m.Status()
	m.logger.Info("configuration reloaded",
		"checksum", status.Checksum[:12],
		"reload_count", status.ReloadCount,
	)
}

// Close stops the configuration watcher.
func (m *Manager) Close() error {
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}
