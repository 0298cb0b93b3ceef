// Package store is the atomic storage engine under the challenge and
// leaderboard aggregates. It wraps a pluggable key-value Backend with
// the failure discipline those shared aggregates depend on:
//
//   - bounded retry with exponential backoff and jitter, re-running the
//     whole read-transform-write cycle, never just the write
//   - a circuit breaker per operation class, so a dead backend fails
//     fast instead of absorbing retry storms
//   - a local LRU fallback cache serving stale reads in degraded mode
//   - a quota guard that sizes every payload before it is written
//
// Update is the only sanctioned way to mutate a shared aggregate. It is
// compare-and-set underneath: each write carries the version the
// transform was computed against, and a version conflict re-runs the
// cycle on a fresh read. Transforms must be pure and tolerate
// re-application against a newer base state.
//
// Failure taxonomy: transient backend errors are retried; quota errors
// are immediate and never retried; an open breaker is its own typed
// error so callers can degrade at once instead of waiting out retries
// that cannot succeed.
package store
