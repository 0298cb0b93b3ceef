package challenge

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/reflexgg/lightsout/internal/anticheat"
)

// NotFoundError reports a challenge id with no live record.
type NotFoundError struct {
	ChallengeID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("challenge %q not found", e.ChallengeID)
}

// IsNotFound reports whether err is a missing-challenge error.
func IsNotFound(err error) bool {
	var nfe *NotFoundError
	return errors.As(err, &nfe)
}

// ExpiredError reports a challenge that still resolves but is past its
// expiry, for example through a stale fallback read.
type ExpiredError struct {
	ChallengeID string
	ExpiredAt   time.Time
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("challenge %q expired at %s", e.ChallengeID, e.ExpiredAt.Format(time.RFC3339))
}

// IsExpired reports whether err is an expired-challenge error.
func IsExpired(err error) bool {
	var ee *ExpiredError
	return errors.As(err, &ee)
}

// NoSessionError reports a replay validation with no accepted session
// to validate against.
type NoSessionError struct {
	ChallengeID string
	UserID      string
}

func (e *NoSessionError) Error() string {
	return fmt.Sprintf("no active session for challenge %q and user %q", e.ChallengeID, e.UserID)
}

// IsNoSession reports whether err is a missing-session error.
func IsNoSession(err error) bool {
	var nse *NoSessionError
	return errors.As(err, &nse)
}

// InputError reports malformed or out-of-bounds request input. Never
// retried: the same input always fails the same way.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsInputError reports whether err is a request-validation error.
func IsInputError(err error) bool {
	var ie *InputError
	return errors.As(err, &ie)
}

// RejectedError carries the plausibility verdict that blocked a
// submission.
type RejectedError struct {
	Result anticheat.Result
}

func (e *RejectedError) Error() string {
	return "submission rejected: " + strings.Join(e.Result.Flags, ", ")
}

// IsRejected reports whether err is a plausibility rejection.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}

// RapidSubmissionError reports a duplicate score arriving inside the
// double-submit window.
type RapidSubmissionError struct {
	UserID    string
	SinceLast time.Duration
}

func (e *RapidSubmissionError) Error() string {
	return fmt.Sprintf("Submissions too rapid: identical score %s after the last", e.SinceLast)
}

// IsRapidSubmission reports whether err is a double-submit rejection.
func IsRapidSubmission(err error) bool {
	var rse *RapidSubmissionError
	return errors.As(err, &rse)
}
