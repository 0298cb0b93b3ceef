package store

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker position for one operation class.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// breaker is the explicit state machine guarding one operation class.
// Closed counts consecutive failures; at the threshold it opens and
// callers fail fast. After the cooldown it half-opens to let probes
// through: one success closes it, one failure re-opens it. Any success
// in any state resets the failure count.
//
// Breaker state is process-local and never persisted.
type breaker struct {
	mu          sync.Mutex
	state       BreakerState
	failures    int
	lastFailure time.Time

	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

func newBreaker(threshold int, cooldown time.Duration, now func() time.Time) *breaker {
	return &breaker{
		state:     BreakerClosed,
		threshold: threshold,
		cooldown:  cooldown,
		now:       now,
	}
}

// allow reports whether a call may proceed. When the breaker is open
// and the cooldown has not elapsed, it returns false with the remaining
// wait; once the cooldown passes it transitions to half-open and lets
// the probe through.
func (b *breaker) allow() (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != BreakerOpen {
		return true, 0
	}

	elapsed := b.now().Sub(b.lastFailure)
	if elapsed >= b.cooldown {
		b.state = BreakerHalfOpen
		return true, 0
	}
	return false, b.cooldown - elapsed
}

// success resets the breaker to closed from any state.
func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
}

// failure records a backend failure. A half-open probe failing re-opens
// immediately; in closed state the threshold applies.
func (b *breaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()

	if b.state == BreakerHalfOpen || b.failures >= b.threshold {
		b.state = BreakerOpen
	}
}

// snapshot returns the current state without transitions.
func (b *breaker) snapshot() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
