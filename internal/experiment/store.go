// Package experiment assigns inbound requests to A/B experiment variants.
//
// The variant pool lives in an external Store (a Redis list in production).
// The Assigner draws one entry uniformly at random per request; duplicate pool
// entries are kept, so a variant listed twice is twice as likely to be drawn.
// When the pool is empty or unreadable the configured FallbackPolicy decides
// between an explicit "unavailable" result and a fixed default variant.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// DefaultKey is the Redis list key holding the variant pool.
const DefaultKey = "experiments"

// SeedMode controls how Seed combines new variants with the existing pool.
type SeedMode string

const (
	// SeedReplace atomically replaces the pool.
	SeedReplace SeedMode = "replace"
	// SeedAppend appends to the pool.
	SeedAppend SeedMode = "append"
	// SeedIfEmpty seeds only when the pool is currently empty.
	SeedIfEmpty SeedMode = "if-empty"
)

// ErrInvalidSeedMode is returned for an unknown SeedMode.
var ErrInvalidSeedMode = errors.New("invalid seed mode")

// ParseSeedMode validates a seed mode string. Empty means SeedReplace.
func ParseSeedMode(s string) (SeedMode, error) {
	switch SeedMode(s) {
	case "", SeedReplace:
		return SeedReplace, nil
	case SeedAppend, SeedIfEmpty:
		return SeedMode(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSeedMode, s)
	}
}

// Store is the narrow read/write contract over the externally owned pool.
// Request handling only ever calls List.
type Store interface {
	// List returns the current variant identifiers in pool order, or an empty slice if none are seeded.
	List(ctx context.Context) ([]string, error)
	// Seed writes variants into the pool according to mode.
	Seed(ctx context.Context, variants []string, mode SeedMode) error
}

// MemoryStore is an in-process Store for tests and local development.
type MemoryStore struct {
	mu       sync.RWMutex
	variants []string
	err      error
}

// NewMemoryStore creates a MemoryStore holding variants.
func NewMemoryStore(variants ...string) *MemoryStore {
	return &MemoryStore{variants: append([]string(nil), variants...)}
}

// List returns a copy of the pool.
func (s *MemoryStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]string{}, s.variants...), nil
}

// Seed writes variants according to mode.
func (s *MemoryStore) Seed(ctx context.Context, variants []string, mode SeedMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch mode {
	case SeedReplace, "":
		s.variants = append([]string(nil), variants...)
	case SeedAppend:
		s.variants = append(s.variants, variants...)
	case SeedIfEmpty:
		if len(s.variants) == 0 {
			s.variants = append([]string(nil), variants...)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSeedMode, mode)
	}
	return nil
}

// SetError makes subsequent List calls fail with err. Pass nil to recover.
func (s *MemoryStore) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}
