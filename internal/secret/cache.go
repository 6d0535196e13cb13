package secret

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// CachedProvider remembers resolved secrets so repeated lookups of the
// upstream key or the database password skip the backend. Failed lookups
// are never remembered.
type CachedProvider struct {
	inner    Provider
	resolved *cache.Cache
}

// NewCachedProvider wraps inner; each resolved path is kept for ttl.
func NewCachedProvider(inner Provider, ttl time.Duration) *CachedProvider {
	return &CachedProvider{
		inner:    inner,
		resolved: cache.New(ttl, ttl*2),
	}
}

func (p *CachedProvider) Get(ctx context.Context, path string) (string, error) {
	if v, ok := p.lookup(path); ok {
		return v, nil
	}
	v, err := p.inner.Get(ctx, path)
	if err != nil {
		return "", err
	}
	p.resolved.SetDefault(path, v)
	return v, nil
}

// Invalidate forgets path, typically after the backend value was rotated.
func (p *CachedProvider) Invalidate(path string) {
	p.resolved.Delete(path)
}

func (p *CachedProvider) Close() error {
	p.resolved.Flush()
	return p.inner.Close()
}

func (p *CachedProvider) lookup(path string) (string, bool) {
	v, ok := p.resolved.Get(path)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
