package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reflexgg/lightsout/internal/testutil"
)

type counter struct {
	Count int `json:"count"`
}

func TestGetSetRoundtrip(t *testing.T) {
	s, err := New(NewMemory(), instantOptions())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, Set(ctx, s, "counter:a", counter{Count: 7}, 0))

	got, ok, err := Get[counter](ctx, s, "counter:a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 7, got.Count)

	_, ok, err = Get[counter](ctx, s, "counter:missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetCorruptValue(t *testing.T) {
	backend := NewMemory()
	s, err := New(backend, instantOptions())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, backend.Put(ctx, "counter:a", []byte("not json"), 0))

	_, _, err = Get[counter](ctx, s, "counter:a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}

func TestGetRetriesTransientFailures(t *testing.T) {
	flaky := newFlakyBackend()
	s, err := New(flaky, instantOptions())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, Set(ctx, s, "counter:a", counter{Count: 1}, 0))

	flaky.script(2, 0, 0)
	got, ok, err := Get[counter](ctx, s, "counter:a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, got.Count)

	gets, _, _ := flaky.counts()
	assert.Equal(t, 3, gets, "two failures then one success")
}

func TestGetExhaustionWithoutFallback(t *testing.T) {
	flaky := newFlakyBackend()
	opts := instantOptions()
	opts.BreakerThreshold = 10
	s, err := New(flaky, opts)
	require.NoError(t, err)

	flaky.script(3, 0, 0)
	_, _, err = Get[counter](context.Background(), s, "counter:never-seen")
	require.True(t, IsStorageError(err))

	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 3, se.Attempts)
}

func TestGetServesStaleWhenBackendDown(t *testing.T) {
	flaky := newFlakyBackend()
	opts := instantOptions()
	opts.BreakerThreshold = 3
	s, err := New(flaky, opts)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, Set(ctx, s, "counter:a", counter{Count: 42}, 0))

	// All three attempts fail, opening the breaker, but the write above
	// left a fallback copy to serve.
	flaky.script(3, 0, 0)
	got, ok, err := Get[counter](ctx, s, "counter:a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 42, got.Count)

	// A key with no cached copy fails fast while the breaker is open.
	_, _, err = Get[counter](ctx, s, "counter:ghost")
	require.True(t, IsBreakerOpen(err))

	var boe *BreakerOpenError
	require.ErrorAs(t, err, &boe)
	assert.Greater(t, boe.RetryAfter, time.Duration(0))

	gets, _, _ := flaky.counts()
	assert.Equal(t, 3, gets, "open breaker must not touch the backend")
}

func TestBreakerRecoversAfterCooldown(t *testing.T) {
	clock := testutil.NewClock(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
	flaky := newFlakyBackend()
	opts := instantOptions()
	opts.MaxAttempts = 1
	opts.BreakerThreshold = 1
	opts.Now = clock.Now
	s, err := New(flaky, opts)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, flaky.Memory.Put(ctx, "counter:a", []byte(`{"count":7}`), 0))

	flaky.script(1, 0, 0)
	_, _, err = Get[counter](ctx, s, "counter:a")
	require.True(t, IsStorageError(err))
	assert.Equal(t, BreakerOpen, s.BreakerStates()["get"])

	_, _, err = Get[counter](ctx, s, "counter:a")
	require.True(t, IsBreakerOpen(err))

	clock.Advance(30 * time.Second)

	got, ok, err := Get[counter](ctx, s, "counter:a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 7, got.Count)
	assert.Equal(t, BreakerClosed, s.BreakerStates()["get"])
}

func TestSetRefusedByQuota(t *testing.T) {
	flaky := newFlakyBackend()
	opts := instantOptions()
	opts.ValueLimit = 64
	s, err := New(flaky, opts)
	require.NoError(t, err)

	big := strings.Repeat("x", 100)
	err = Set(context.Background(), s, "counter:big", big, 0)
	require.True(t, IsQuotaError(err))

	_, puts, _ := flaky.counts()
	assert.Zero(t, puts, "refused writes must not reach the backend")
}

func TestUpdateCreatesMissingKey(t *testing.T) {
	s, err := New(NewMemory(), instantOptions())
	require.NoError(t, err)
	ctx := context.Background()

	got, err := Update(ctx, s, "counter:a", 0, func(current counter, exists bool) (counter, error) {
		require.False(t, exists)
		return counter{Count: 1}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, got.Count)

	got, err = Update(ctx, s, "counter:a", 0, func(current counter, exists bool) (counter, error) {
		require.True(t, exists)
		current.Count++
		return current, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, got.Count)
}

func TestUpdateConflictRerunsWholeCycle(t *testing.T) {
	flaky := newFlakyBackend()
	s, err := New(flaky, instantOptions())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, Set(ctx, s, "counter:a", counter{Count: 1}, 0))

	transforms := 0
	flaky.script(0, 0, 1)
	got, err := Update(ctx, s, "counter:a", 0, func(current counter, exists bool) (counter, error) {
		transforms++
		current.Count++
		return current, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, got.Count)
	assert.Equal(t, 2, transforms, "conflict must re-read and re-transform")

	gets, _, cas := flaky.counts()
	assert.Equal(t, 2, gets)
	assert.Equal(t, 2, cas)

	// Contention is not a backend failure.
	assert.Equal(t, BreakerClosed, s.BreakerStates()["update"])
}

func TestUpdateTransformErrorNotRetried(t *testing.T) {
	flaky := newFlakyBackend()
	s, err := New(flaky, instantOptions())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, Set(ctx, s, "counter:a", counter{Count: 1}, 0))

	wantErr := errors.New("score below record")
	_, err = Update(ctx, s, "counter:a", 0, func(current counter, exists bool) (counter, error) {
		return current, wantErr
	})
	require.ErrorIs(t, err, wantErr)
	assert.False(t, IsStorageError(err))

	gets, _, cas := flaky.counts()
	assert.Equal(t, 1, gets, "transform errors must not trigger another cycle")
	assert.Zero(t, cas)
}

func TestUpdateQuotaRefusalNotRetried(t *testing.T) {
	flaky := newFlakyBackend()
	opts := instantOptions()
	opts.ValueLimit = 64
	s, err := New(flaky, opts)
	require.NoError(t, err)

	_, err = Update(context.Background(), s, "counter:big", 0, func(current string, exists bool) (string, error) {
		return strings.Repeat("x", 100), nil
	})
	require.True(t, IsQuotaError(err))

	gets, _, cas := flaky.counts()
	assert.Equal(t, 1, gets)
	assert.Zero(t, cas, "refused writes must not reach the backend")
}

func TestUpdateExhaustionSurfacesConflict(t *testing.T) {
	flaky := newFlakyBackend()
	s, err := New(flaky, instantOptions())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, Set(ctx, s, "counter:a", counter{Count: 1}, 0))

	flaky.script(0, 0, 3)
	_, err = Update(ctx, s, "counter:a", 0, func(current counter, exists bool) (counter, error) {
		current.Count++
		return current, nil
	})
	require.True(t, IsStorageError(err))
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestUpdateConcurrentIncrements(t *testing.T) {
	opts := instantOptions()
	opts.MaxAttempts = 50
	s, err := New(NewMemory(), opts)
	require.NoError(t, err)
	ctx := context.Background()

	const workers = 8
	const perWorker = 5

	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := Update(ctx, s, "counter:shared", 0, func(current counter, exists bool) (counter, error) {
					current.Count++
					return current, nil
				})
				if err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent update: %v", err)
	}

	got, ok, err := Get[counter](ctx, s, "counter:shared")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, workers*perWorker, got.Count, "every increment must survive contention")
}

func TestDeleteDropsFallbackCopy(t *testing.T) {
	flaky := newFlakyBackend()
	opts := instantOptions()
	opts.BreakerThreshold = 10
	s, err := New(flaky, opts)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, Set(ctx, s, "counter:a", counter{Count: 1}, 0))
	require.NoError(t, s.Delete(ctx, "counter:a"))

	// With the fallback copy gone, a dead backend means a real error,
	// not a resurrected value.
	flaky.script(3, 0, 0)
	_, _, err = Get[counter](ctx, s, "counter:a")
	require.True(t, IsStorageError(err))
}

func TestSweepThroughEnvelope(t *testing.T) {
	clock := testutil.NewClock(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
	backend := NewMemory(WithMemoryClock(clock.Now))
	opts := instantOptions()
	opts.Now = clock.Now
	s, err := New(backend, opts)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, Set(ctx, s, "session:a", counter{Count: 1}, time.Minute))
	require.NoError(t, Set(ctx, s, "session:b", counter{Count: 2}, time.Hour))

	clock.Advance(10 * time.Minute)

	removed, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestBackoffSchedule(t *testing.T) {
	var waits []time.Duration
	opts := Options{
		Sleep: func(_ context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		},
		Rand:             func() float64 { return 0.5 },
		BreakerThreshold: 10,
	}
	flaky := newFlakyBackend()
	s, err := New(flaky, opts)
	require.NoError(t, err)

	flaky.script(3, 0, 0)
	_, _, err = Get[counter](context.Background(), s, "counter:a")
	require.True(t, IsStorageError(err))

	// Rand pinned to the midpoint makes the jitter factor exactly 1.
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, waits)
}

func TestBreakerStatesSnapshot(t *testing.T) {
	s, err := New(NewMemory(), instantOptions())
	require.NoError(t, err)

	assert.Empty(t, s.BreakerStates())

	_, _, err = Get[counter](context.Background(), s, "counter:a")
	require.NoError(t, err)
	assert.Equal(t, map[string]BreakerState{"get": BreakerClosed}, s.BreakerStates())
}
