package experiment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var rejectPolicy = FallbackPolicy{Mode: EmptyPoolReject}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAssigner(t *testing.T, store Store, policy FallbackPolicy, opts ...AssignerOption) *Assigner {
	t.Helper()
	opts = append([]AssignerOption{WithLogger(quietLogger()), WithRand(rand.New(rand.NewSource(1)))}, opts...)
	a, err := NewAssigner(store, policy, opts...)
	require.NoError(t, err)
	return a
}

func TestAssigner_VariantAlwaysFromPool(t *testing.T) {
	pool := []string{"llama-3.3-70b", "mistral-31-24b", "qwen-2.5-qwq-32b"}
	a := newTestAssigner(t, NewMemoryStore(pool...), rejectPolicy)

	seen := make(map[string]int)
	for i := 0; i < 1000; i++ {
		got := a.Assign(context.Background())
		require.Equal(t, OutcomeAssigned, got.Outcome)
		require.True(t, got.Ok())
		require.Contains(t, pool, got.Variant)
		assert.Equal(t, len(pool), got.PoolSize)
		assert.NoError(t, got.Err)
		seen[got.Variant]++
	}
	assert.Len(t, seen, len(pool), "every variant is eventually drawn")
}

func TestAssigner_SingleVariant(t *testing.T) {
	a := newTestAssigner(t, NewMemoryStore("llama-3.3-70b"), rejectPolicy)
	for i := 0; i < 50; i++ {
		assert.Equal(t, "llama-3.3-70b", a.Assign(context.Background()).Variant)
	}
}

func TestAssigner_DuplicatesWeightTheDraw(t *testing.T) {
	a := newTestAssigner(t, NewMemoryStore("a", "a", "b"), rejectPolicy)

	const draws = 30000
	var countA int
	for i := 0; i < draws; i++ {
		if a.Assign(context.Background()).Variant == "a" {
			countA++
		}
	}
	assert.InDelta(t, 2.0/3.0, float64(countA)/draws, 0.02)
}

func TestAssigner_EmptyPoolReject(t *testing.T) {
	a := newTestAssigner(t, NewMemoryStore(), rejectPolicy)

	got := a.Assign(context.Background())
	assert.Equal(t, OutcomeUnavailable, got.Outcome)
	assert.False(t, got.Ok())
	assert.Empty(t, got.Variant)
	assert.ErrorIs(t, got.Err, ErrEmptyPool)
}

func TestAssigner_EmptyPoolDefault(t *testing.T) {
	policy := FallbackPolicy{Mode: EmptyPoolDefault, DefaultVariant: "llama-3.3-70b"}
	a := newTestAssigner(t, NewMemoryStore(), policy)

	got := a.Assign(context.Background())
	assert.Equal(t, OutcomeFallback, got.Outcome)
	assert.True(t, got.Ok())
	assert.Equal(t, "llama-3.3-70b", got.Variant)
	assert.ErrorIs(t, got.Err, ErrEmptyPool)
}

func TestAssigner_BlankEntriesAreIgnored(t *testing.T) {
	t.Run("only blanks reject", func(t *testing.T) {
		a := newTestAssigner(t, NewMemoryStore("", "  "), rejectPolicy)

		got := a.Assign(context.Background())
		assert.Equal(t, OutcomeUnavailable, got.Outcome)
		assert.False(t, got.Ok())
		assert.ErrorIs(t, got.Err, ErrEmptyPool)
	})

	t.Run("only blanks use default", func(t *testing.T) {
		policy := FallbackPolicy{Mode: EmptyPoolDefault, DefaultVariant: "d"}
		a := newTestAssigner(t, NewMemoryStore(""), policy)

		got := a.Assign(context.Background())
		assert.Equal(t, OutcomeFallback, got.Outcome)
		assert.True(t, got.Ok())
		assert.Equal(t, "d", got.Variant)
		assert.ErrorIs(t, got.Err, ErrEmptyPool)
	})

	t.Run("mixed pool never draws a blank", func(t *testing.T) {
		a := newTestAssigner(t, NewMemoryStore("", "a", ""), rejectPolicy)
		for i := 0; i < 200; i++ {
			got := a.Assign(context.Background())
			require.Equal(t, OutcomeAssigned, got.Outcome)
			require.Equal(t, "a", got.Variant)
			assert.Equal(t, 1, got.PoolSize)
		}
	})
}

func TestAssigner_StoreErrorFallsBack(t *testing.T) {
	store := NewMemoryStore("a")
	boom := errors.New("connection refused")
	store.SetError(boom)

	a := newTestAssigner(t, store, rejectPolicy)
	got := a.Assign(context.Background())
	assert.Equal(t, OutcomeUnavailable, got.Outcome)
	assert.ErrorIs(t, got.Err, boom)

	require.NoError(t, a.SetPolicy(FallbackPolicy{Mode: EmptyPoolDefault, DefaultVariant: "b"}))
	got = a.Assign(context.Background())
	assert.Equal(t, OutcomeFallback, got.Outcome)
	assert.Equal(t, "b", got.Variant)

	store.SetError(nil)
	got = a.Assign(context.Background())
	assert.Equal(t, OutcomeAssigned, got.Outcome)
	assert.Equal(t, "a", got.Variant)
}

func TestAssigner_PoolChangesAreSeenImmediately(t *testing.T) {
	store := NewMemoryStore("a")
	a := newTestAssigner(t, store, rejectPolicy)
	assert.Equal(t, "a", a.Assign(context.Background()).Variant)

	require.NoError(t, store.Seed(context.Background(), []string{"b"}, SeedReplace))
	assert.Equal(t, "b", a.Assign(context.Background()).Variant)
}

func TestAssigner_Observer(t *testing.T) {
	var (
		mu       sync.Mutex
		observed []Outcome
	)
	store := NewMemoryStore("a")
	a := newTestAssigner(t, store, rejectPolicy, WithObserver(func(got Assignment) {
		mu.Lock()
		observed = append(observed, got.Outcome)
		mu.Unlock()
	}))

	a.Assign(context.Background())
	require.NoError(t, store.Seed(context.Background(), nil, SeedReplace))
	store.SetError(errors.New("down"))
	a.Assign(context.Background())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Outcome{OutcomeAssigned, OutcomeUnavailable}, observed)
}

func TestAssigner_ConcurrentAssign(t *testing.T) {
	a := newTestAssigner(t, NewMemoryStore("a", "b", "c"), rejectPolicy)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if got := a.Assign(context.Background()); !got.Ok() {
					t.Errorf("unexpected outcome %s", got.Outcome)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestNewAssigner_Validation(t *testing.T) {
	_, err := NewAssigner(nil, rejectPolicy)
	assert.Error(t, err)

	_, err = NewAssigner(NewMemoryStore(), FallbackPolicy{Mode: EmptyPoolDefault})
	assert.Error(t, err, "default mode needs a variant")

	_, err = NewAssigner(NewMemoryStore(), FallbackPolicy{Mode: "maybe"})
	assert.Error(t, err)

	a, err := NewAssigner(NewMemoryStore(), rejectPolicy)
	require.NoError(t, err)
	assert.Error(t, a.SetPolicy(FallbackPolicy{Mode: EmptyPoolDefault}))
	assert.Equal(t, rejectPolicy, a.Policy(), "invalid policy is not applied")
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "assigned", OutcomeAssigned.String())
	assert.Equal(t, "fallback", OutcomeFallback.String())
	assert.Equal(t, "unavailable", OutcomeUnavailable.String())
	assert.Equal(t, "unknown", Outcome(42).String())
}
