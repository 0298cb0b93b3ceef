package challenge

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts the orchestration operations.
type Metrics struct {
	Operations *prometheus.CounterVec
	Scores     *prometheus.CounterVec
}

// NewMetrics builds and registers the collectors. reg may be nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lightsout_challenge_operations_total",
			Help: "Challenge operations by kind.",
		}, []string{"op"}),
		Scores: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lightsout_leaderboard_scores_total",
			Help: "Leaderboard submissions by outcome.",
		}, []string{"outcome"}),
	}

	if reg != nil {
		reg.MustRegister(m.Operations, m.Scores)
	}
	return m
}
