// Package env implements a secret provider that reads environment variables.
package env

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Provider reads secrets from the process environment.
type Provider struct {
	lookup func(string) (string, bool)
}

// New creates a provider over os.LookupEnv.
func New() *Provider {
	return &Provider{lookup: os.LookupEnv}
}

// NewWithLookup creates a provider over a custom lookup, for tests.
func NewWithLookup(lookup func(string) (string, bool)) *Provider {
	return &Provider{lookup: lookup}
}

// Get returns the trimmed value of the variable named path. Unset and
// blank variables are errors.
func (p *Provider) Get(ctx context.Context, path string) (string, error) {
	val, ok := p.lookup(path)
	if !ok {
		return "", fmt.Errorf("environment variable %q not set", path)
	}
	val = strings.TrimSpace(val)
	if val == "" {
		return "", fmt.Errorf("environment variable %q is empty", path)
	}
	return val, nil
}

// Close is a no-op.
func (p *Provider) Close() error {
	return nil
}
