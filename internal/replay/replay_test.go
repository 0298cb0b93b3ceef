package replay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reflexgg/lightsout/internal/sequence"
)

// sealedRun drives a real generator through a schedule and seals the
// resulting run, the same way the challenge service builds a reference.
func sealedRun(t *testing.T, seed int32) (Data, sequence.Config) {
	t.Helper()
	cfg := sequence.DefaultConfig()
	gen := sequence.NewGenerator(seed)
	sched := sequence.BuildSchedule(gen, cfg)

	d, err := Build(seed, gen.State().Trace, sched.LightOffsetsMS, sched.LightsOutMS, cfg)
	require.NoError(t, err)
	return d, cfg
}

func TestBuildDeterministicAcrossRuns(t *testing.T) {
	a, _ := sealedRun(t, 42)
	b, _ := sealedRun(t, 42)

	assert.Equal(t, a.SequenceHash, b.SequenceHash)
	assert.Equal(t, a.Trace, b.Trace)
	assert.Equal(t, a.LightTimingsMS, b.LightTimingsMS)
}

func TestBuildRoundsTraceToSixDecimals(t *testing.T) {
	cfg := sequence.DefaultConfig()
	d, err := Build(42, []float64{0.2523451747838408}, []int64{1000, 2000, 3000, 4000, 5000}, 6131, cfg)
	require.NoError(t, err)

	assert.Equal(t, []float64{0.252345}, d.Trace)
}

func TestBuildEmptyTraceRejected(t *testing.T) {
	_, err := Build(1, nil, []int64{1000}, 5000, sequence.DefaultConfig())
	require.Error(t, err)
}

func TestBuildHashSensitivity(t *testing.T) {
	cfg := sequence.DefaultConfig()
	timings := []int64{1000, 2000, 3000, 4000, 5000}

	base, err := Build(42, []float64{0.25}, timings, 6131, cfg)
	require.NoError(t, err)

	otherSeed, err := Build(43, []float64{0.25}, timings, 6131, cfg)
	require.NoError(t, err)
	assert.NotEqual(t, base.SequenceHash, otherSeed.SequenceHash)

	otherTrace, err := Build(42, []float64{0.26}, timings, 6131, cfg)
	require.NoError(t, err)
	assert.NotEqual(t, base.SequenceHash, otherTrace.SequenceHash)

	otherTimings, err := Build(42, []float64{0.25}, []int64{1000, 2000, 3000, 4000, 5100}, 6131, cfg)
	require.NoError(t, err)
	assert.NotEqual(t, base.SequenceHash, otherTimings.SequenceHash)
}

func TestBuildSealingIdempotent(t *testing.T) {
	// Sealing a record's stored form must reproduce its own hash, even
	// though the stored trace has already been rounded.
	d, cfg := sealedRun(t, 42)

	hash, err := Rehash(d, cfg)
	require.NoError(t, err)
	assert.Equal(t, d.SequenceHash, hash)
}

func TestBuildSubMicroPerturbationVanishes(t *testing.T) {
	cfg := sequence.DefaultConfig()
	timings := []int64{1000, 2000, 3000, 4000, 5000}

	a, err := Build(42, []float64{0.252345}, timings, 6131, cfg)
	require.NoError(t, err)
	b, err := Build(42, []float64{0.252345 + 1e-12}, timings, 6131, cfg)
	require.NoError(t, err)

	assert.Equal(t, a.SequenceHash, b.SequenceHash)
}

func TestDelayFromTrace(t *testing.T) {
	cfg := sequence.DefaultConfig()

	assert.Equal(t, int64(1131), DelayFromTrace([]float64{0.252345}, cfg))
	assert.Equal(t, cfg.MinDelayMS, DelayFromTrace(nil, cfg))
	assert.Equal(t, int64(500), DelayFromTrace([]float64{0.9}, sequence.Config{
		LightCount: 5, IntervalMS: 1000, MinDelayMS: 500, MaxDelayMS: 500,
	}))
}
