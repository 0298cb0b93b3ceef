package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
)

// Options configures the engine. Zero values take the defaults below.
type Options struct {
	// Retry envelope.
	MaxAttempts    int           // whole-cycle attempts, default 3
	BackoffBase    time.Duration // first backoff, default 100ms
	BackoffFactor  float64       // exponential factor, default 2
	JitterFraction float64       // ± spread around the backoff, default 0.5

	// Circuit breakers, one per operation class.
	BreakerThreshold int           // consecutive failures to open, default 5
	BreakerCooldown  time.Duration // open hold before half-open, default 30s

	// Quota guard.
	ValueLimit         int64 // per-value ceiling, default 256 KiB
	UsageSoftLimit     int64 // warn watermark, default 400 MiB
	UsageCriticalLimit int64 // refuse watermark, default 475 MiB

	// Local fallback cache entries, default 512.
	FallbackSize int

	Logger     *slog.Logger
	Registerer prometheus.Registerer

	// Cleanup runs once when a write pushes usage past the critical
	// watermark, before the write is refused.
	Cleanup func(context.Context)

	// Injection points for tests.
	Now   func() time.Time
	Sleep func(context.Context, time.Duration) error
	Rand  func() float64
}

func (o *Options) applyDefaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 100 * time.Millisecond
	}
	if o.BackoffFactor <= 0 {
		o.BackoffFactor = 2
	}
	if o.JitterFraction < 0 {
		o.JitterFraction = 0
	} else if o.JitterFraction == 0 {
		o.JitterFraction = 0.5
	}
	if o.BreakerThreshold <= 0 {
		o.BreakerThreshold = 5
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = 30 * time.Second
	}
	if o.ValueLimit == 0 {
		o.ValueLimit = 256 * 1024
	}
	if o.UsageSoftLimit == 0 {
		o.UsageSoftLimit = 400 * 1024 * 1024
	}
	if o.UsageCriticalLimit == 0 {
		o.UsageCriticalLimit = 475 * 1024 * 1024
	}
	if o.FallbackSize <= 0 {
		o.FallbackSize = 512
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Sleep == nil {
		o.Sleep = sleepContext
	}
	if o.Rand == nil {
		o.Rand = rand.Float64
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Store is the engine: a Backend wrapped in retry, breaker, quota, and
// fallback discipline. Construct one per process and share it; all
// methods are safe for concurrent use.
type Store struct {
	backend Backend
	opts    Options
	quota   *QuotaGuard
	metrics *Metrics
	log     *slog.Logger

	mu       sync.Mutex
	breakers map[string]*breaker

	fallback *lru.Cache[string, []byte]
}

// New wires an engine over a backend.
func New(backend Backend, opts Options) (*Store, error) {
	opts.applyDefaults()

	fallback, err := lru.New[string, []byte](opts.FallbackSize)
	if err != nil {
		return nil, fmt.Errorf("fallback cache: %w", err)
	}

	s := &Store{
		backend:  backend,
		opts:     opts,
		metrics:  NewMetrics(opts.Registerer),
		log:      opts.Logger,
		breakers: make(map[string]*breaker),
		fallback: fallback,
	}
	s.quota = NewQuotaGuard(
		opts.ValueLimit, opts.UsageSoftLimit, opts.UsageCriticalLimit,
		backend.Usage, opts.Cleanup, opts.Logger,
	)
	return s, nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// BreakerStates snapshots every breaker for health reporting.
func (s *Store) BreakerStates() map[string]BreakerState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]BreakerState, len(s.breakers))
	for op, br := range s.breakers {
		out[op] = br.snapshot()
	}
	return out
}

func (s *Store) breakerFor(op string) *breaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	br, exists := s.breakers[op]
	if !exists {
		br = newBreaker(s.opts.BreakerThreshold, s.opts.BreakerCooldown, s.opts.Now)
		s.breakers[op] = br
	}
	return br
}

// backoff computes the wait before retry n+1, jittered so concurrent
// contenders decorrelate.
func (s *Store) backoff(failed int) time.Duration {
	d := float64(s.opts.BackoffBase) * math.Pow(s.opts.BackoffFactor, float64(failed-1))
	d *= 1 + s.opts.JitterFraction*(2*s.opts.Rand()-1)
	return time.Duration(d)
}

// Get reads and decodes the value under key. ok is false for missing or
// expired keys. When the breaker is open or retries exhaust, a stale
// copy from the fallback cache is served instead of failing.
func Get[T any](ctx context.Context, s *Store, key string) (T, bool, error) {
	var zero T

	raw, ok, err := s.getRaw(ctx, key)
	if err != nil || !ok {
		return zero, false, err
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, false, fmt.Errorf("get %q: decode: %w", key, err)
	}
	return out, true, nil
}

// Set encodes and writes value under key. Writes have no fallback; an
// open breaker or exhausted retries surface as typed errors.
func Set[T any](ctx context.Context, s *Store, key string, value T, ttl time.Duration) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("set %q: encode: %w", key, err)
	}
	return s.putRaw(ctx, key, encoded, ttl)
}

// Update is the atomic read-transform-write cycle and the only
// sanctioned mutation path for shared aggregates. The transform runs
// against the freshest read each attempt; a version conflict on write
// re-runs the whole cycle. Transform errors are the caller's own
// validation failures: they are returned immediately and never retried.
func Update[T any](ctx context.Context, s *Store, key string, ttl time.Duration, transform func(current T, exists bool) (T, error)) (T, error) {
	var zero T
	const op = "update"
	br := s.breakerFor(op)

	var lastErr error
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			s.metrics.Retries.WithLabelValues(op).Inc()
			if err := s.opts.Sleep(ctx, s.backoff(attempt-1)); err != nil {
				return zero, err
			}
		}

		allowed, wait := br.allow()
		if !allowed {
			s.metrics.Operations.WithLabelValues(op, "breaker_open").Inc()
			return zero, &BreakerOpenError{Op: op, RetryAfter: wait}
		}

		raw, version, exists, err := s.backend.Get(ctx, key)
		if err != nil {
			br.failure()
			s.metrics.observeBreaker(op, br.snapshot())
			lastErr = err
			s.log.Warn("update read failed", "key", key, "attempt", attempt, "error", err)
			continue
		}

		var current T
		if exists {
			if err := json.Unmarshal(raw, &current); err != nil {
				// Corrupt stored data is not transient; retrying cannot fix it.
				return zero, fmt.Errorf("update %q: decode: %w", key, err)
			}
		}

		next, err := transform(current, exists)
		if err != nil {
			return zero, err
		}

		encoded, err := json.Marshal(next)
		if err != nil {
			return zero, fmt.Errorf("update %q: encode: %w", key, err)
		}

		if err := s.quota.Check(ctx, key, int64(len(encoded))); err != nil {
			s.metrics.QuotaRefused.Inc()
			return zero, err
		}

		err = s.backend.PutIfVersion(ctx, key, encoded, ttl, version)
		if err == nil {
			// Only the write closes the breaker: a backend that reads
			// fine but cannot write must still trip it.
			br.success()
			s.metrics.observeBreaker(op, BreakerClosed)
			s.metrics.Operations.WithLabelValues(op, "ok").Inc()
			s.fallback.Add(key, encoded)
			return next, nil
		}
		if errors.Is(err, ErrVersionConflict) {
			// Contention, not failure: the breaker does not move, but
			// the attempt is spent and the next cycle reads fresh state.
			lastErr = err
			s.log.Debug("update contention", "key", key, "attempt", attempt)
			continue
		}

		br.failure()
		s.metrics.observeBreaker(op, br.snapshot())
		lastErr = err
		s.log.Warn("update write failed", "key", key, "attempt", attempt, "error", err)
	}

	s.metrics.Operations.WithLabelValues(op, "error").Inc()
	return zero, &StorageError{Op: op, Key: key, Attempts: s.opts.MaxAttempts, Err: lastErr}
}

// Delete removes a key and its fallback copy.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.withRetry(ctx, "delete", key, func(ctx context.Context) error {
		return s.backend.Delete(ctx, key)
	})
	if err == nil {
		s.fallback.Remove(key)
	}
	return err
}

// Sweep bulk-reclaims expired keys.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	var removed int
	err := s.withRetry(ctx, "sweep", "", func(ctx context.Context) error {
		n, err := s.backend.Sweep(ctx)
		removed = n
		return err
	})
	return removed, err
}

func (s *Store) getRaw(ctx context.Context, key string) ([]byte, bool, error) {
	const op = "get"
	br := s.breakerFor(op)

	var (
		lastErr     error
		breakerWait time.Duration
		breakerOpen bool
		attempts    int
	)

	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		attempts = attempt
		if attempt > 1 {
			s.metrics.Retries.WithLabelValues(op).Inc()
			if err := s.opts.Sleep(ctx, s.backoff(attempt-1)); err != nil {
				return nil, false, err
			}
		}

		allowed, wait := br.allow()
		if !allowed {
			breakerOpen, breakerWait = true, wait
			break
		}

		value, _, ok, err := s.backend.Get(ctx, key)
		if err == nil {
			br.success()
			s.metrics.observeBreaker(op, BreakerClosed)
			s.metrics.Operations.WithLabelValues(op, "ok").Inc()
			if ok {
				s.fallback.Add(key, value)
			}
			return value, ok, nil
		}

		br.failure()
		s.metrics.observeBreaker(op, br.snapshot())
		lastErr = err
		s.log.Warn("get failed", "key", key, "attempt", attempt, "error", err)
	}

	// Degraded mode: a stale read beats no read.
	if cached, ok := s.fallback.Get(key); ok {
		s.metrics.FallbackHits.Inc()
		s.metrics.Operations.WithLabelValues(op, "fallback").Inc()
		s.log.Warn("serving stale read", "key", key, "breaker_open", breakerOpen)
		return cached, true, nil
	}

	if breakerOpen {
		s.metrics.Operations.WithLabelValues(op, "breaker_open").Inc()
		return nil, false, &BreakerOpenError{Op: op, RetryAfter: breakerWait}
	}
	s.metrics.Operations.WithLabelValues(op, "error").Inc()
	return nil, false, &StorageError{Op: op, Key: key, Attempts: attempts, Err: lastErr}
}

func (s *Store) putRaw(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.quota.Check(ctx, key, int64(len(value))); err != nil {
		s.metrics.QuotaRefused.Inc()
		return err
	}

	err := s.withRetry(ctx, "put", key, func(ctx context.Context) error {
		return s.backend.Put(ctx, key, value, ttl)
	})
	if err == nil {
		s.fallback.Add(key, value)
	}
	return err
}

// withRetry runs one backend call under the breaker and retry envelope.
func (s *Store) withRetry(ctx context.Context, op, key string, call func(context.Context) error) error {
	br := s.breakerFor(op)

	var lastErr error
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			s.metrics.Retries.WithLabelValues(op).Inc()
			if err := s.opts.Sleep(ctx, s.backoff(attempt-1)); err != nil {
				return err
			}
		}

		allowed, wait := br.allow()
		if !allowed {
			s.metrics.Operations.WithLabelValues(op, "breaker_open").Inc()
			return &BreakerOpenError{Op: op, RetryAfter: wait}
		}

		err := call(ctx)
		if err == nil {
			br.success()
			s.metrics.observeBreaker(op, BreakerClosed)
			s.metrics.Operations.WithLabelValues(op, "ok").Inc()
			return nil
		}

		br.failure()
		s.metrics.observeBreaker(op, br.snapshot())
		lastErr = err
		s.log.Warn("storage call failed", "op", op, "key", key, "attempt", attempt, "error", err)
	}

	s.metrics.Operations.WithLabelValues(op, "error").Inc()
	return &StorageError{Op: op, Key: key, Attempts: s.opts.MaxAttempts, Err: lastErr}
}
