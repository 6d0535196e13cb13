// Package vault implements a secret provider that reads from HashiCorp Vault.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	vault "github.com/hashicorp/vault/api"
)

// Provider reads KV secrets from Vault. Renewable login tokens are kept
// alive in the background until Close.
type Provider struct {
	client *vault.Client
	logger *slog.Logger
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// Config holds configuration for the Vault provider.
type Config struct {
	Address    string
	AuthMethod string // "token", "approle" or "cert"
	Token      string
	RoleID     string
	SecretID   string
	Namespace  string
	CACert     string
	ClientCert string
	ClientKey  string
}

// New logs in to Vault and returns a provider.
func New(cfg Config, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	vConfig := vault.DefaultConfig()
	vConfig.Address = cfg.Address

	if cfg.ClientCert != "" || cfg.ClientKey != "" || cfg.CACert != "" {
		tlsConfig := &vault.TLSConfig{
			ClientCert: cfg.ClientCert,
			ClientKey:  cfg.ClientKey,
			CACert:     cfg.CACert,
		}
		if err := vConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("configure tls: %w", err)
		}
	}

	client, err := vault.NewClient(vConfig)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	p := &Provider{
		client: client,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	method := cfg.AuthMethod
	if method == "" {
		switch {
		case cfg.Token != "":
			method = "token"
		case cfg.RoleID != "":
			method = "approle"
		}
	}

	var secret *vault.Secret
	switch method {
	case "token":
		if cfg.Token == "" {
			return nil, errors.New("vault token auth requires a token")
		}
		client.SetToken(cfg.Token)
		return p, nil
	case "cert":
		secret, err = client.Logical().Write("auth/cert/login", nil)
	case "approle":
		secret, err = client.Logical().Write("auth/approle/login", map[string]any{
			"role_id":   cfg.RoleID,
			"secret_id": cfg.SecretID,
		})
	default:
		return nil, fmt.Errorf("unknown or missing auth method: %q", cfg.AuthMethod)
	}
	if err != nil {
		return nil, fmt.Errorf("vault login (%s): %w", method, err)
	}
	if secret == nil || secret.Auth == nil {
		return nil, errors.New("vault login returned no auth info")
	}

	client.SetToken(secret.Auth.ClientToken)

	p.wg.Add(1)
	go p.renewToken(secret.Auth)
	return p, nil
}

// Get reads "path/to/secret#key". The key defaults to "value". KV v2 "data"
// wrappers are unwrapped.
func (p *Provider) Get(ctx context.Context, path string) (string, error) {
	secretPath, key := path, "value"
	if idx := strings.LastIndex(path, "#"); idx != -1 {
		secretPath, key = path[:idx], path[idx+1:]
	}

	secret, err := p.client.Logical().ReadWithContext(ctx, secretPath)
	if err != nil {
		return "", fmt.Errorf("read vault secret %q: %w", secretPath, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("secret %q not found", secretPath)
	}

	data := secret.Data
	if v, ok := data["data"]; ok {
		if nested, ok := v.(map[string]any); ok {
			data = nested
		}
	}

	val, ok := data[key]
	if !ok {
		return "", fmt.Errorf("key %q not found in secret %q", key, secretPath)
	}
	return fmt.Sprintf("%v", val), nil
}

// Close stops the token renewer.
func (p *Provider) Close() error {
	p.once.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	return nil
}

func (p *Provider) renewToken(auth *vault.SecretAuth) {
	defer p.wg.Done()

	if !auth.Renewable {
		return
	}

	watcher, err := p.client.NewLifetimeWatcher(&vault.LifetimeWatcherInput{
		Secret: &vault.Secret{Auth: auth},
	})
	if err != nil {
		p.logger.Error("vault lifetime watcher failed", "error", err)
		return
	}

	go watcher.Start()
	defer watcher.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case err := <-watcher.DoneCh():
			if err != nil {
				p.logger.Warn("vault token renewal stopped", "error", err)
			}
			return
		case <-watcher.RenewCh():
			p.logger.Debug("vault token renewed")
		}
	}
}
