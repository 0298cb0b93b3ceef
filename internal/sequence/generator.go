// Package sequence produces the deterministic light-sequence timing for a
// challenge. Two machines constructing a Generator from the same seed draw
// byte-identical values, which is the property the asynchronous challenge
// mode is built on.
package sequence

import (
	"math/rand"
)

// Linear congruential constants (Numerical Recipes). Fixed forever: any
// change breaks every stored challenge seed.
const (
	lcgMultiplier uint32 = 1664525
	lcgIncrement  uint32 = 1013904223
)

// Generator yields pseudo-random floats in [0,1). Seeded generators are
// reproducible; unseeded ones draw from a non-deterministic source for
// ordinary solo play. Every draw is recorded in the trace so a completed
// run can be serialized for replay comparison.
//
// A Generator is not safe for concurrent use. Each sequence run owns its
// own instance.
type Generator struct {
	seed   int32
	state  uint32
	seeded bool
	trace  []float64
}

// NewGenerator returns a deterministic generator. The same seed yields
// the identical draw sequence on any platform.
func NewGenerator(seed int32) *Generator {
	return &Generator{seed: seed, state: uint32(seed), seeded: true}
}

// NewUnseededGenerator returns a generator backed by math/rand. Draws
// are still traced, so even a casual run can produce replay data.
func NewUnseededGenerator() *Generator {
	return &Generator{}
}

// Next returns the next value in [0,1) and appends it to the trace.
func (g *Generator) Next() float64 {
	var f float64
	if g.seeded {
		// uint32 arithmetic wraps, which is exactly mod 2^32.
		g.state = g.state*lcgMultiplier + lcgIncrement
		f = float64(g.state) / (1 << 32)
	} else {
		f = rand.Float64()
	}
	g.trace = append(g.trace, f)
	return f
}

// Delay returns min + Next()*(max-min), the seeded lights-out hold in
// milliseconds. Degenerate ranges collapse to min.
func (g *Generator) Delay(min, max float64) float64 {
	if max <= min {
		return min
	}
	return min + g.Next()*(max-min)
}

// Reset rewinds a seeded generator to its initial state and clears the
// trace; the next draws reproduce the original run exactly. On an
// unseeded generator only the trace is cleared.
func (g *Generator) Reset() {
	if g.seeded {
		g.state = uint32(g.seed)
	}
	g.trace = g.trace[:0]
}

// Seeded reports whether this generator is reproducible.
func (g *Generator) Seeded() bool {
	return g.seeded
}

// State is a point-in-time snapshot of a generator.
type State struct {
	Seed   int32     `json:"seed"`
	Cursor int       `json:"cursor"`
	Trace  []float64 `json:"trace"`
}

// State snapshots the generator. The trace is copied; the internal
// buffer is never shared.
func (g *Generator) State() State {
	trace := make([]float64, len(g.trace))
	copy(trace, g.trace)
	return State{Seed: g.seed, Cursor: len(g.trace), Trace: trace}
}
