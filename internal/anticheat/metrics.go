package anticheat

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics mirrors the pipeline's decisions for monitoring.
type Metrics struct {
	Validations    *prometheus.CounterVec
	SecurityEvents prometheus.Counter
	AuditFailures  prometheus.Counter
}

// NewMetrics builds and registers the collectors. reg may be nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lightsout_validations_total",
			Help: "Plausibility validations by final action.",
		}, []string{"action"}),
		SecurityEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lightsout_security_events_total",
			Help: "Validations that raised a security event.",
		}),
		AuditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lightsout_validation_audit_failures_total",
			Help: "Audit log or aggregate writes that failed.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.Validations, m.SecurityEvents, m.AuditFailures)
	}
	return m
}
