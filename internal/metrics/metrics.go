// Package metrics exposes the prometheus instrumentation for the decision
// core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the decision-core collectors behind one scrape endpoint.
type Registry struct {
	reg *prometheus.Registry

	DirectivesTotal  *prometheus.CounterVec
	DenialsTotal     *prometheus.CounterVec
	EmergencyStops   prometheus.Counter
	SignalsRejected  prometheus.Counter
	WorkerRestarts   prometheus.Counter
	DecisionDuration prometheus.Histogram
}

// NewRegistry creates the collectors on a private registry so tests can
// instantiate it repeatedly without duplicate-registration panics.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		DirectivesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_directives_total",
			Help: "Trade directives emitted, partitioned by verdict.",
		}, []string{"verdict"}),
		DenialsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_denials_total",
			Help: "Denied directives, partitioned by reason.",
		}, []string{"reason"}),
		EmergencyStops: factory.NewCounter(prometheus.CounterOpts{
			Name: "guardian_emergency_stops_total",
			Help: "Emergency stop messages emitted.",
		}),
		SignalsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "guardian_signals_rejected_total",
			Help: "Signal readings rejected at validation.",
		}),
		WorkerRestarts: factory.NewCounter(prometheus.CounterOpts{
			Name: "guardian_worker_restarts_total",
			Help: "Instrument workers restarted after a panic.",
		}),
		DecisionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "guardian_decision_duration_seconds",
			Help:    "Latency of the full signal-to-directive pipeline.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
	}
}

// Handler returns the scrape handler for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
