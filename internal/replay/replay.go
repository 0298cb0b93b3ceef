// Package replay binds a completed light-sequence run to a verifiable
// artifact and later checks a second run against it. Two players never
// share a clock, so validation distinguishes "different because of
// scheduler jitter" from "different because the sequence was tampered
// with" via per-field tolerances instead of one equality test.
package replay

import (
	"fmt"
	"math"

	"github.com/reflexgg/lightsout/internal/canonical"
	"github.com/reflexgg/lightsout/internal/sequence"
)

// Rounding happens once, here, before hashing and before any comparison:
// the trace keeps six decimal digits, everything else whole milliseconds.
const traceScale = 1e6

// Data is the immutable record of one sequence run. Produced once per
// completed run and only ever compared, never mutated.
type Data struct {
	Seed            int32     `json:"seed"`
	Trace           []float64 `json:"random_sequence_trace"`
	LightTimingsMS  []int64   `json:"light_timings_ms"`
	TotalDurationMS int64     `json:"total_duration_ms"`
	SequenceHash    string    `json:"sequence_hash"`
}

// Build rounds the raw generator trace and observed light timings, then
// seals them under a domain-separated hash. The lights-out delay is not
// a parameter: it is re-derived from the first trace draw and the
// config, which keeps the hash material self-consistent with the seed.
func Build(seed int32, trace []float64, lightTimingsMS []int64, totalDurationMS int64, cfg sequence.Config) (Data, error) {
	if len(trace) == 0 {
		return Data{}, fmt.Errorf("replay trace is empty")
	}

	rounded := make([]float64, len(trace))
	micros := make([]int64, len(trace))
	for i, v := range trace {
		m := int64(math.Round(v * traceScale))
		micros[i] = m
		rounded[i] = float64(m) / traceScale
	}

	// Derive the delay from the rounded trace, not the raw one, so that
	// sealing a record and resealing its stored form agree even when the
	// raw draw sat on a rounding boundary.
	delayMS := DelayFromTrace(rounded, cfg)

	hash, err := canonical.Hash(canonical.DomainReplay, canonical.Object{
		"seed":             canonical.Int(seed),
		"trace":            canonical.Ints(micros...),
		"light_timings_ms": canonical.Ints(lightTimingsMS...),
		"delay_ms":         canonical.Int(delayMS),
		"light_count":      canonical.Int(int64(cfg.LightCount)),
		"interval_ms":      canonical.Int(cfg.IntervalMS),
	})
	if err != nil {
		return Data{}, fmt.Errorf("seal replay: %w", err)
	}

	timings := make([]int64, len(lightTimingsMS))
	copy(timings, lightTimingsMS)

	return Data{
		Seed:            seed,
		Trace:           rounded,
		LightTimingsMS:  timings,
		TotalDurationMS: totalDurationMS,
		SequenceHash:    hash,
	}, nil
}

// Rehash recomputes the integrity hash from a record's own fields. A
// record whose stored hash disagrees was modified after sealing.
func Rehash(d Data, cfg sequence.Config) (string, error) {
	fresh, err := Build(d.Seed, d.Trace, d.LightTimingsMS, d.TotalDurationMS, cfg)
	if err != nil {
		return "", err
	}
	return fresh.SequenceHash, nil
}

// DelayFromTrace derives the lights-out hold from the first draw, the
// same way the schedule did when the run executed.
func DelayFromTrace(trace []float64, cfg sequence.Config) int64 {
	if len(trace) == 0 {
		return cfg.MinDelayMS
	}
	span := float64(cfg.MaxDelayMS - cfg.MinDelayMS)
	if span <= 0 {
		return cfg.MinDelayMS
	}
	return int64(math.Round(float64(cfg.MinDelayMS) + trace[0]*span))
}
