// Package secret resolves credentials referenced from configuration.
//
// A reference is either a literal value or a URI whose scheme selects a
// Provider, for example "env://VENICE_API_KEY" or
// "vault://secret/data/abgate#venice_api_key".
package secret

import "context"

// Provider retrieves secrets from one backing source.
type Provider interface {
	// Get retrieves the secret at path. path excludes the scheme prefix.
	Get(ctx context.Context, path string) (string, error)

	// Close releases any resources held by the provider.
	Close() error
}
