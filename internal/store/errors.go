package store

import (
	"errors"
	"fmt"
	"time"
)

// ErrVersionConflict is returned by Backend.PutIfVersion when the key's
// current version does not match the expected one. Update treats it as
// contention and re-runs the cycle; it never reaches callers directly.
var ErrVersionConflict = errors.New("version conflict")

// StorageError wraps a transient backend failure that survived the full
// retry budget. The last underlying error is kept for diagnostics.
type StorageError struct {
	Op       string
	Key      string
	Attempts int
	Err      error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %q failed after %d attempts: %v", e.Op, e.Key, e.Attempts, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err is a StorageError.
// Uses errors.As to handle wrapped errors.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// QuotaError refuses a write that would exceed the storage budget.
// Never retried: the same write against the same budget fails the same
// way every time.
type QuotaError struct {
	Key      string
	Size     int64
	Limit    int64
	Critical bool
}

func (e *QuotaError) Error() string {
	if e.Critical {
		return fmt.Sprintf("quota critical: write %q of %d bytes refused, usage past %d", e.Key, e.Size, e.Limit)
	}
	return fmt.Sprintf("quota exceeded: write %q of %d bytes over limit %d", e.Key, e.Size, e.Limit)
}

// IsQuotaError reports whether err is a QuotaError.
// Uses errors.As to handle wrapped errors.
func IsQuotaError(err error) bool {
	var qe *QuotaError
	return errors.As(err, &qe)
}

// BreakerOpenError is returned when the circuit breaker for an
// operation class is open and no fallback could serve the call. It is a
// distinct state, not a timeout: the backend was not contacted at all.
type BreakerOpenError struct {
	Op         string
	RetryAfter time.Duration
}

func (e *BreakerOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for %s, retry after %s", e.Op, e.RetryAfter)
}

// IsBreakerOpen reports whether err is a BreakerOpenError.
// Uses errors.As to handle wrapped errors.
func IsBreakerOpen(err error) bool {
	var be *BreakerOpenError
	return errors.As(err, &be)
}
