package anticheat

import (
	"math"
	"strconv"
	"strings"

	"github.com/reflexgg/lightsout/internal/sequence"
)

// Reaction-time bands in milliseconds. Sub-50ms is below documented
// human visual reaction limits; 100-120ms is elite but reachable.
const (
	impossibleBelowMS = 50
	superhumanBelowMS = 100
	suspiciousBelowMS = 120
	slowAboveMS       = 1000

	instantSessionMS = 500
	fastDeviceMS     = 150
)

// Submission is everything the pipeline knows about one reaction-time
// claim. History carries the player's own prior accepted times.
// MinSequenceMS, when set, overrides the configured minimum for games
// played under a custom timing envelope.
type Submission struct {
	UserID              string
	ReactionTimeMS      int64
	SessionAgeMS        int64
	GameDurationMS      int64
	MinSequenceMS       int64
	SubmissionsLastHour int
	Capabilities        *DeviceCapabilities
	History             []int64
}

// DeviceCapabilities is optional client metadata. Absence of the whole
// struct skips the device check; absence of individual capabilities
// narrows the confidence ceiling for fast times.
type DeviceCapabilities struct {
	HighResTimer   bool   `json:"high_res_timer"`
	PerformanceAPI bool   `json:"performance_api"`
	Mobile         bool   `json:"mobile"`
	Browser        string `json:"browser,omitempty"`
}

// Config tunes the session and history checks. Zero values take the
// defaults below.
type Config struct {
	// MinSequenceMS is the shortest possible full light sequence; a
	// game that finished faster skipped lights.
	MinSequenceMS int64
	// HourlyCeiling is the submission rate above which confidence is
	// capped, default 30.
	HourlyCeiling int
	// MinHistory is the sample count required before the statistical
	// check applies, default 5.
	MinHistory int
	// OutlierSigma is the z-score beyond which an improvement is
	// flagged, default 3.
	OutlierSigma float64
}

func (c *Config) applyDefaults() {
	if c.MinSequenceMS <= 0 {
		c.MinSequenceMS = sequence.DefaultConfig().MinSequenceMS()
	}
	if c.HourlyCeiling <= 0 {
		c.HourlyCeiling = 30
	}
	if c.MinHistory <= 0 {
		c.MinHistory = 5
	}
	if c.OutlierSigma <= 0 {
		c.OutlierSigma = 3
	}
}

// CheckBounds classifies the raw reaction time. Mechanically clean
// values (round numbers, repeated digits) scale confidence down on top
// of the band score, since synthetic input tends to produce them.
func CheckBounds(sub Submission) Result {
	t := sub.ReactionTimeMS
	if t < impossibleBelowMS {
		return reject(FlagPhysicallyImpossible)
	}

	r := accept()
	switch {
	case t < superhumanBelowMS:
		r.cap(0.1, FlagSuperhuman)
	case t < suspiciousBelowMS:
		r.cap(0.3, FlagSuspicious)
	case t > slowAboveMS:
		r.cap(0.8, FlagUnusuallySlow)
	}

	switch {
	case repeatedDigits(t):
		r.scale(0.5, FlagRepeatedDigits)
	case t%100 == 0:
		r.scale(0.85, FlagRoundNumber)
	case t%50 == 0:
		r.scale(0.9, FlagRoundNumber)
	}
	return r
}

func repeatedDigits(t int64) bool {
	if t < 10 {
		return false
	}
	s := strconv.FormatInt(t, 10)
	for i := 1; i < len(s); i++ {
		if s[i] != s[0] {
			return false
		}
	}
	return true
}

// CheckSession validates the claim against how the session behaved: a
// submission milliseconds after session start cannot have played a
// game, and a game shorter than the minimum possible sequence skipped
// lights.
func CheckSession(sub Submission, cfg Config) Result {
	cfg.applyDefaults()

	if sub.SessionAgeMS < instantSessionMS {
		return reject(FlagInstantSubmission)
	}

	minSeq := cfg.MinSequenceMS
	if sub.MinSequenceMS > 0 {
		minSeq = sub.MinSequenceMS
	}

	r := accept()
	if sub.GameDurationMS < minSeq {
		r.cap(0.3, FlagSkippedSequence)
	}
	if sub.SubmissionsLastHour > cfg.HourlyCeiling {
		r.cap(0.4, FlagRateExceeded)
	}
	return r
}

// Coarsened-timer browsers round event timestamps, so crisp sub-150ms
// readings carry less signal there.
var browserQuirks = map[string]float64{
	"firefox": 0.9,
	"safari":  0.95,
}

// CheckDevice cross-checks fast times against what the client hardware
// claims it can measure. It never rejects: missing metadata only
// narrows the ceiling.
func CheckDevice(sub Submission) Result {
	r := accept()
	caps := sub.Capabilities
	if caps == nil {
		return r
	}

	t := sub.ReactionTimeMS
	if t < fastDeviceMS {
		if !caps.HighResTimer {
			r.cap(0.5, FlagTimerPrecision)
		}
		if !caps.PerformanceAPI {
			r.cap(0.6, FlagPerformanceAPI)
		}
		if q, known := browserQuirks[strings.ToLower(caps.Browser)]; known {
			r.scale(q, FlagBrowserQuirk)
		}
	}
	// Touch latency alone exceeds 50ms on most hardware, so mobile
	// sub-100s are penalized below the desktop band.
	if caps.Mobile && t < superhumanBelowMS {
		r.cap(0.05, FlagMobileImplausible)
	}
	return r
}

// CheckHistory compares the claim against the player's own prior
// distribution. A time more than OutlierSigma standard deviations
// better than their mean goes to review.
func CheckHistory(sub Submission, cfg Config) Result {
	cfg.applyDefaults()

	r := accept()
	if len(sub.History) < cfg.MinHistory {
		return r
	}

	mean, stddev := meanStddev(sub.History)
	if stddev == 0 {
		return r
	}

	z := (mean - float64(sub.ReactionTimeMS)) / stddev
	if z > cfg.OutlierSigma {
		r.Confidence = 0.3
		r.Flags = []string{FlagStatisticalOutlier}
		r.Action = ActionFlag
	}
	return r
}

func meanStddev(samples []int64) (float64, float64) {
	var sum float64
	for _, s := range samples {
		sum += float64(s)
	}
	mean := sum / float64(len(samples))

	var sq float64
	for _, s := range samples {
		d := float64(s) - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(samples)))
}
