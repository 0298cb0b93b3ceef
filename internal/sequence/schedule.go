package sequence

import "math"

// Config is the timing envelope of one light sequence. It crosses the
// API boundary inside challenge records, so the JSON tags are part of
// the persisted format.
type Config struct {
	LightCount int   `json:"light_count" yaml:"light_count"`
	IntervalMS int64 `json:"light_interval_ms" yaml:"light_interval_ms"`
	MinDelayMS int64 `json:"min_delay_ms" yaml:"min_delay_ms"`
	MaxDelayMS int64 `json:"max_delay_ms" yaml:"max_delay_ms"`
}

// DefaultConfig is the standard five-light envelope.
func DefaultConfig() Config {
	return Config{
		LightCount: 5,
		IntervalMS: 1000,
		MinDelayMS: 500,
		MaxDelayMS: 3000,
	}
}

// MinSequenceMS is the shortest possible run under this config: every
// light interval plus the minimum lights-out hold. Game durations below
// this are physically impossible and treated as skipped sequences.
func (c Config) MinSequenceMS() int64 {
	return int64(c.LightCount)*c.IntervalMS + c.MinDelayMS
}

// Schedule is the derived timing plan both players' clients execute.
// All offsets are milliseconds from sequence start.
type Schedule struct {
	LightOffsetsMS []int64 `json:"light_offsets_ms"`
	DelayMS        int64   `json:"delay_ms"`
	LightsOutMS    int64   `json:"lights_out_ms"`
	MinPossibleMS  int64   `json:"min_possible_ms"`
}

// BuildSchedule draws the lights-out delay from gen and derives the full
// plan: light i illuminates at i*interval, the lights extinguish at
// lightCount*interval + delay. Rounding to whole milliseconds happens
// here, once, so every later consumer sees the same integers.
func BuildSchedule(gen *Generator, cfg Config) Schedule {
	delay := gen.Delay(float64(cfg.MinDelayMS), float64(cfg.MaxDelayMS))
	delayMS := int64(math.Round(delay))

	offsets := make([]int64, cfg.LightCount)
	for i := range offsets {
		offsets[i] = int64(i+1) * cfg.IntervalMS
	}

	return Schedule{
		LightOffsetsMS: offsets,
		DelayMS:        delayMS,
		LightsOutMS:    int64(cfg.LightCount)*cfg.IntervalMS + delayMS,
		MinPossibleMS:  cfg.MinSequenceMS(),
	}
}
