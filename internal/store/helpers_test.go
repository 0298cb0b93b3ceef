package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// flakyBackend wraps Memory with scripted failures so the retry and
// breaker envelopes can be driven deterministically.
type flakyBackend struct {
	*Memory

	mu       sync.Mutex
	failGets int // fail this many upcoming Gets
	failPuts int
	failCAS  int // synthetic version conflicts

	getCalls int
	putCalls int
	casCalls int
}

func newFlakyBackend() *flakyBackend {
	return &flakyBackend{Memory: NewMemory()}
}

func (f *flakyBackend) Get(ctx context.Context, key string) ([]byte, int64, bool, error) {
	f.mu.Lock()
	f.getCalls++
	if f.failGets > 0 {
		f.failGets--
		f.mu.Unlock()
		return nil, 0, false, fmt.Errorf("backend unavailable")
	}
	f.mu.Unlock()
	return f.Memory.Get(ctx, key)
}

func (f *flakyBackend) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	f.putCalls++
	if f.failPuts > 0 {
		f.failPuts--
		f.mu.Unlock()
		return fmt.Errorf("backend unavailable")
	}
	f.mu.Unlock()
	return f.Memory.Put(ctx, key, value, ttl)
}

func (f *flakyBackend) PutIfVersion(ctx context.Context, key string, value []byte, ttl time.Duration, expect int64) error {
	f.mu.Lock()
	f.casCalls++
	if f.failCAS > 0 {
		f.failCAS--
		f.mu.Unlock()
		return fmt.Errorf("scripted: %w", ErrVersionConflict)
	}
	f.mu.Unlock()
	return f.Memory.PutIfVersion(ctx, key, value, ttl, expect)
}

func (f *flakyBackend) counts() (gets, puts, cas int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getCalls, f.putCalls, f.casCalls
}

func (f *flakyBackend) script(gets, puts, cas int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failGets, f.failPuts, f.failCAS = gets, puts, cas
}

// instantOptions disables real waiting: sleeps return immediately and
// jitter is pinned to its midpoint.
func instantOptions() Options {
	return Options{
		Sleep: func(context.Context, time.Duration) error { return nil },
		Rand:  func() float64 { return 0.5 },
	}
}
