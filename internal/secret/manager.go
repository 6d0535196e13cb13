package secret

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/blueberrycongee/abgate/internal/secret/env"
	"github.com/blueberrycongee/abgate/internal/secret/vault"
)

// Manager routes references to providers by URI scheme.
type Manager struct {
	providers map[string]Provider
	mu        sync.RWMutex
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{
		providers: make(map[string]Provider),
	}
}

// Config selects the providers built by NewDefaultManager.
type Config struct {
	// CacheTTL caches resolved secrets. Zero disables caching.
	CacheTTL time.Duration
	// Vault is optional; an empty Address leaves the vault scheme unregistered.
	Vault vault.Config
}

// NewDefaultManager registers the env provider and, when configured, Vault.
func NewDefaultManager(cfg Config, logger *slog.Logger) (*Manager, error) {
	m := NewManager()
	m.Register("env", maybeCached(env.New(), cfg.CacheTTL))

	if cfg.Vault.Address != "" {
		vp, err := vault.New(cfg.Vault, logger)
		if err != nil {
			return nil, fmt.Errorf("init vault provider: %w", err)
		}
		m.Register("vault", maybeCached(vp, cfg.CacheTTL))
	}
	return m, nil
}

func maybeCached(p Provider, ttl time.Duration) Provider {
	if ttl <= 0 {
		return p
	}
	return NewCachedProvider(p, ttl)
}

// Register registers a provider for scheme, replacing any previous one.
func (m *Manager) Register(scheme string, provider Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[scheme] = provider
}

// IsReference reports whether s names a provider rather than a literal value.
func IsReference(s string) bool {
	scheme, _, ok := strings.Cut(s, "://")
	return ok && scheme != "" && !strings.ContainsAny(scheme, " /")
}

// Get resolves ref. Values without a scheme are returned as-is.
func (m *Manager) Get(ctx context.Context, ref string) (string, error) {
	if !IsReference(ref) {
		return ref, nil
	}
	scheme, path, _ := strings.Cut(ref, "://")

	m.mu.RLock()
	provider, ok := m.providers[scheme]
	m.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("no secret provider registered for scheme %q", scheme)
	}

	val, err := provider.Get(ctx, path)
	if err != nil {
		return "", fmt.Errorf("resolve %s secret: %w", scheme, err)
	}
	return val, nil
}

// Close closes all registered providers.
func (m *Manager) Close() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for scheme, p := range m.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", scheme, err))
		}
	}
	return errors.Join(errs...)
}
