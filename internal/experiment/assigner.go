package experiment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Outcome describes how an Assignment was produced.
type Outcome int

const (
	// OutcomeAssigned means the variant was drawn from the pool.
	OutcomeAssigned Outcome = iota
	// OutcomeFallback means the pool was empty or unreadable and the default variant was used.
	OutcomeFallback
	// OutcomeUnavailable means no variant could be assigned.
	OutcomeUnavailable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAssigned:
		return "assigned"
	case OutcomeFallback:
		return "fallback"
	case OutcomeUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Assignment is the result of drawing a variant for one request.
type Assignment struct {
	Variant  string
	Outcome  Outcome
	PoolSize int
	// Err explains why the pool was not used. It is nil for OutcomeAssigned.
	Err error
}

// Ok reports whether the assignment carries a usable variant.
func (a Assignment) Ok() bool {
	return a.Outcome != OutcomeUnavailable && a.Variant != ""
}

// ErrEmptyPool is reported when the store holds no variants.
var ErrEmptyPool = errors.New("experiment pool is empty")

// EmptyPoolMode selects the behavior when no variant can be drawn.
type EmptyPoolMode string

const (
	// EmptyPoolReject fails closed: the assignment is unavailable.
	EmptyPoolReject EmptyPoolMode = "reject"
	// EmptyPoolDefault fails open to FallbackPolicy.DefaultVariant.
	EmptyPoolDefault EmptyPoolMode = "default"
)

// FallbackPolicy decides what happens when the pool is empty or the store is unreachable.
type FallbackPolicy struct {
	Mode           EmptyPoolMode
	DefaultVariant string
}

// Validate checks the policy for errors.
func (p FallbackPolicy) Validate() error {
	switch p.Mode {
	case EmptyPoolReject:
		return nil
	case EmptyPoolDefault:
		if p.DefaultVariant == "" {
			return fmt.Errorf("empty pool mode %q requires a default variant", p.Mode)
		}
		return nil
	default:
		return fmt.Errorf("unknown empty pool mode %q", p.Mode)
	}
}

// Assigner draws variants from a Store. It is safe for concurrent use.
type Assigner struct {
	store    Store
	logger   *slog.Logger
	observer func(Assignment)

	mu  sync.Mutex
	rng *rand.Rand

	policy atomic.Pointer[FallbackPolicy]
}

// AssignerOption configures an Assigner.
type AssignerOption func(*Assigner)

// WithRand sets the random source. Useful for deterministic tests.
func WithRand(rng *rand.Rand) AssignerOption {
	return func(a *Assigner) {
		a.rng = rng
	}
}

// WithLogger sets the logger used to report store failures.
func WithLogger(logger *slog.Logger) AssignerOption {
	return func(a *Assigner) {
		a.logger = logger
	}
}

// WithObserver registers a callback invoked with every assignment.
func WithObserver(fn func(Assignment)) AssignerOption {
	return func(a *Assigner) {
		a.observer = fn
	}
}

// NewAssigner creates an Assigner reading from store.
func NewAssigner(store Store, policy FallbackPolicy, opts ...AssignerOption) (*Assigner, error) {
	if store == nil {
		return nil, errors.New("experiment store is required")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	a := &Assigner{
		store:  store,
		logger: slog.Default(),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.policy.Store(&policy)
	return a, nil
}

// Policy returns the current fallback policy.
func (a *Assigner) Policy() FallbackPolicy {
	return *a.policy.Load()
}

// SetPolicy swaps the fallback policy. In-flight assignments keep the old one.
func (a *Assigner) SetPolicy(policy FallbackPolicy) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	a.policy.Store(&policy)
	return nil
}

// Assign reads the full pool and draws one variant uniformly at random.
func (a *Assigner) Assign(ctx context.Context) Assignment {
	pool, err := a.store.List(ctx)
	pool = compactPool(pool)
	var assignment Assignment
	switch {
	case err != nil:
		a.logger.Warn("experiment store read failed", "error", err)
		assignment = a.fallback(fmt.Errorf("read experiment pool: %w", err))
	case len(pool) == 0:
		assignment = a.fallback(ErrEmptyPool)
	default:
		assignment = Assignment{
			Variant:  a.Pick(pool),
			Outcome:  OutcomeAssigned,
			PoolSize: len(pool),
		}
	}

	if a.observer != nil {
		a.observer(assignment)
	}
	return assignment
}

// Pick returns a uniformly random element of pool. Repeated entries are not
// collapsed, so they weight the draw. pool must be non-empty.
func (a *Assigner) Pick(pool []string) string {
	a.mu.Lock()
	i := a.rng.Intn(len(pool))
	a.mu.Unlock()
	return pool[i]
}

// compactPool drops blank entries, which can never name a variant.
func compactPool(pool []string) []string {
	out := pool[:0:0]
	for _, v := range pool {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

func (a *Assigner) fallback(reason error) Assignment {
	policy := a.Policy()
	if policy.Mode == EmptyPoolDefault {
		return Assignment{
			Variant: policy.DefaultVariant,
			Outcome: OutcomeFallback,
			Err:     reason,
		}
	}
	return Assignment{
		Outcome: OutcomeUnavailable,
		Err:     reason,
	}
}
