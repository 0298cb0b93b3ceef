package replay

import (
	"fmt"
	"math"

	"github.com/reflexgg/lightsout/internal/sequence"
)

// Validation tolerances. The interval and duration windows absorb
// client scheduler jitter; the seed, trace, and hash checks stay exact.
const (
	TraceEpsilon        = 1e-10
	IntervalToleranceMS = 50
	DurationToleranceMS = 20
)

// Mismatch describes one failed validation check. Expected and Actual
// are preformatted for display; Field names the hashed or compared
// field, Detail narrows it.
type Mismatch struct {
	Field    string `json:"field"`
	Detail   string `json:"detail"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s (%s): expected %s, got %s", m.Field, m.Detail, m.Expected, m.Actual)
}

// Outcome is the full validation verdict. Every violated check is
// collected; one failure anywhere makes the outcome invalid.
type Outcome struct {
	Valid      bool       `json:"is_valid"`
	Mismatches []Mismatch `json:"mismatches,omitempty"`
}

// Errors renders the mismatch list for transport.
func (o Outcome) Errors() []string {
	if len(o.Mismatches) == 0 {
		return nil
	}
	out := make([]string, len(o.Mismatches))
	for i, m := range o.Mismatches {
		out[i] = m.String()
	}
	return out
}

// Confidence folds an outcome into a [0,1] score. Categorical failures
// (seed, trace, hash) mean the run cannot be genuine. Tolerance failures
// degrade the score without zeroing it.
func (o Outcome) Confidence() float64 {
	if o.Valid {
		return 1.0
	}
	c := 1.0
	for _, m := range o.Mismatches {
		switch m.Field {
		case "seed", "trace", "sequence_hash":
			return 0.0
		default:
			c -= 0.35
		}
	}
	if c < 0 {
		c = 0
	}
	return c
}

// Validate checks a candidate run against the reference envelope. Order:
// seed, trace, light-timing count, per-interval tolerance, total
// duration, and finally the candidate's own hash integrity. All failures
// are collected so the caller can explain exactly why a replay was
// rejected.
//
// The hash check recomputes the candidate's hash from its own fields and
// compares with the stored value. Two players' observed timings never
// coincide, so the reference hash is no basis for comparison.
func Validate(candidate, reference Data, cfg sequence.Config) Outcome {
	var mismatches []Mismatch

	if candidate.Seed != reference.Seed {
		mismatches = append(mismatches, Mismatch{
			Field:    "seed",
			Detail:   "seed must match the challenge exactly",
			Expected: fmt.Sprintf("%d", reference.Seed),
			Actual:   fmt.Sprintf("%d", candidate.Seed),
		})
	}

	mismatches = append(mismatches, compareTraces(candidate.Trace, reference.Trace)...)

	if len(candidate.LightTimingsMS) != cfg.LightCount {
		mismatches = append(mismatches, Mismatch{
			Field:    "light_timings",
			Detail:   "light count",
			Expected: fmt.Sprintf("%d", cfg.LightCount),
			Actual:   fmt.Sprintf("%d", len(candidate.LightTimingsMS)),
		})
	} else {
		mismatches = append(mismatches, checkIntervals(candidate.LightTimingsMS, cfg)...)
	}

	if d := candidate.TotalDurationMS - reference.TotalDurationMS; d > DurationToleranceMS || d < -DurationToleranceMS {
		mismatches = append(mismatches, Mismatch{
			Field:    "total_duration",
			Detail:   fmt.Sprintf("outside ±%dms", DurationToleranceMS),
			Expected: fmt.Sprintf("%dms", reference.TotalDurationMS),
			Actual:   fmt.Sprintf("%dms", candidate.TotalDurationMS),
		})
	}

	if hash, err := Rehash(candidate, cfg); err != nil {
		mismatches = append(mismatches, Mismatch{
			Field:    "sequence_hash",
			Detail:   "rehash failed",
			Expected: candidate.SequenceHash,
			Actual:   err.Error(),
		})
	} else if hash != candidate.SequenceHash {
		mismatches = append(mismatches, Mismatch{
			Field:    "sequence_hash",
			Detail:   "stored hash does not match record contents",
			Expected: hash,
			Actual:   candidate.SequenceHash,
		})
	}

	return Outcome{Valid: len(mismatches) == 0, Mismatches: mismatches}
}

func compareTraces(candidate, reference []float64) []Mismatch {
	var mismatches []Mismatch

	if len(candidate) != len(reference) {
		mismatches = append(mismatches, Mismatch{
			Field:    "trace",
			Detail:   "length",
			Expected: fmt.Sprintf("%d", len(reference)),
			Actual:   fmt.Sprintf("%d", len(candidate)),
		})
	}

	n := len(candidate)
	if len(reference) < n {
		n = len(reference)
	}
	for i := 0; i < n; i++ {
		if math.Abs(candidate[i]-reference[i]) > TraceEpsilon {
			mismatches = append(mismatches, Mismatch{
				Field:    "trace",
				Detail:   fmt.Sprintf("element %d beyond epsilon", i),
				Expected: fmt.Sprintf("%.6f", reference[i]),
				Actual:   fmt.Sprintf("%.6f", candidate[i]),
			})
		}
	}
	return mismatches
}

// checkIntervals verifies each light illuminated one configured interval
// after the previous, within the jitter window. The first timing is
// measured from sequence start.
func checkIntervals(timingsMS []int64, cfg sequence.Config) []Mismatch {
	var mismatches []Mismatch

	prev := int64(0)
	for i, ts := range timingsMS {
		gap := ts - prev
		if diff := gap - cfg.IntervalMS; diff > IntervalToleranceMS || diff < -IntervalToleranceMS {
			mismatches = append(mismatches, Mismatch{
				Field:    "light_interval",
				Detail:   fmt.Sprintf("light %d outside ±%dms", i+1, IntervalToleranceMS),
				Expected: fmt.Sprintf("%dms", cfg.IntervalMS),
				Actual:   fmt.Sprintf("%dms", gap),
			})
		}
		prev = ts
	}
	return mismatches
}
