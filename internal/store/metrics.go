package store

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes the engine's operational counters. One instance per
// Store, registered against the process registry by the serve command.
type Metrics struct {
	Operations   *prometheus.CounterVec
	Retries      *prometheus.CounterVec
	BreakerState *prometheus.GaugeVec
	FallbackHits prometheus.Counter
	QuotaRefused prometheus.Counter
}

// NewMetrics builds and registers the collectors. reg may be nil, in
// which case the collectors exist but are not exported anywhere.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lightsout_store_operations_total",
			Help: "Storage operations by class and outcome.",
		}, []string{"op", "outcome"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lightsout_store_retries_total",
			Help: "Retry attempts by operation class.",
		}, []string{"op"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lightsout_store_breaker_state",
			Help: "Circuit breaker position per operation class (0 closed, 1 half-open, 2 open).",
		}, []string{"op"}),
		FallbackHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lightsout_store_fallback_hits_total",
			Help: "Reads served from the local fallback cache.",
		}),
		QuotaRefused: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lightsout_store_quota_refused_total",
			Help: "Writes refused by the quota guard.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.Operations, m.Retries, m.BreakerState, m.FallbackHits, m.QuotaRefused)
	}
	return m
}

func (m *Metrics) observeBreaker(op string, state BreakerState) {
	var v float64
	switch state {
	case BreakerHalfOpen:
		v = 1
	case BreakerOpen:
		v = 2
	}
	m.BreakerState.WithLabelValues(op).Set(v)
}
