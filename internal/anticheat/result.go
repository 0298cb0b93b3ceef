package anticheat

import "sort"

// Action is the decision a check (or the combined pipeline) requests.
type Action string

const (
	ActionAccept Action = "accept"
	ActionFlag   Action = "flag"
	ActionReject Action = "reject"
)

// Flags raised by the individual checks.
const (
	FlagPhysicallyImpossible = "PHYSICALLY_IMPOSSIBLE"
	FlagSuperhuman           = "SUPERHUMAN"
	FlagSuspicious           = "SUSPICIOUS"
	FlagUnusuallySlow        = "UNUSUALLY_SLOW"
	FlagRoundNumber          = "ROUND_NUMBER"
	FlagRepeatedDigits       = "REPEATED_DIGITS"
	FlagInstantSubmission    = "INSTANT_SUBMISSION"
	FlagSkippedSequence      = "SKIPPED_LIGHT_SEQUENCE_SUSPECTED"
	FlagRateExceeded         = "RATE_EXCEEDED"
	FlagTimerPrecision       = "TIMER_PRECISION_MISSING"
	FlagPerformanceAPI       = "PERFORMANCE_API_MISSING"
	FlagMobileImplausible    = "MOBILE_IMPLAUSIBLE_TIME"
	FlagBrowserQuirk         = "BROWSER_TIMING_QUIRK"
	FlagStatisticalOutlier   = "STATISTICAL_OUTLIER"
)

// criticalFlags alone are enough to raise a security event.
var criticalFlags = map[string]bool{
	FlagPhysicallyImpossible: true,
	FlagInstantSubmission:    true,
}

// Result is the outcome of one check or of the combined pipeline.
// Confidence is in [0,1]; Flags is kept sorted and deduplicated by
// Combine. Valid is false only for rejects.
type Result struct {
	Valid      bool     `json:"is_valid"`
	Confidence float64  `json:"confidence"`
	Flags      []string `json:"flags,omitempty"`
	Action     Action   `json:"action"`
}

func accept() Result {
	return Result{Valid: true, Confidence: 1, Action: ActionAccept}
}

func reject(flag string) Result {
	return Result{Valid: false, Confidence: 0, Flags: []string{flag}, Action: ActionReject}
}

// cap lowers the confidence ceiling and records why.
func (r *Result) cap(ceiling float64, flag string) {
	if r.Confidence > ceiling {
		r.Confidence = ceiling
	}
	r.Flags = append(r.Flags, flag)
}

// scale multiplies the confidence and records why.
func (r *Result) scale(factor float64, flag string) {
	r.Confidence *= factor
	r.Flags = append(r.Flags, flag)
}

// Combine reduces independent check results to one decision: the
// minimum confidence, the union of flags, and the strictest action.
// Anything below the acceptThreshold is sent to review even when no
// individual check asked for it.
func Combine(results ...Result) Result {
	const acceptThreshold = 0.8

	out := accept()
	seen := make(map[string]bool)
	for _, r := range results {
		if r.Confidence < out.Confidence {
			out.Confidence = r.Confidence
		}
		for _, f := range r.Flags {
			if !seen[f] {
				seen[f] = true
				out.Flags = append(out.Flags, f)
			}
		}
		switch r.Action {
		case ActionReject:
			out.Action = ActionReject
		case ActionFlag:
			if out.Action != ActionReject {
				out.Action = ActionFlag
			}
		}
	}

	if out.Action == ActionAccept && out.Confidence < acceptThreshold {
		out.Action = ActionFlag
	}
	out.Valid = out.Action != ActionReject
	sort.Strings(out.Flags)
	return out
}

// autoFlag reports whether a result warrants a security event: a
// reject, a zero-confidence pass, or any critical flag.
func autoFlag(r Result) bool {
	if r.Action == ActionReject || r.Confidence == 0 {
		return true
	}
	for _, f := range r.Flags {
		if criticalFlags[f] {
			return true
		}
	}
	return false
}

// severity buckets a result for the audit log.
func severity(r Result) string {
	switch {
	case r.Action == ActionReject || r.Confidence == 0:
		return "critical"
	case r.Action == ActionFlag:
		return "warning"
	default:
		return "info"
	}
}
