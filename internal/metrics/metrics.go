// Package metrics collects the daemon's Prometheus series: dispatcher
// connection counts, reconcile durations and sampler tick outcomes,
// served at GET /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every series the daemon exports.
type Metrics struct {
	DispatcherAccepted prometheus.Counter
	DispatcherRejected prometheus.Counter
	DispatcherActive   prometheus.Gauge

	ReconcileDuration prometheus.Histogram
	ReconcileErrors   *prometheus.CounterVec

	SamplerTicks  prometheus.Counter
	SamplerErrors prometheus.Counter
}

// New builds and registers the daemon's metrics against reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		DispatcherAccepted: f.NewCounter(prometheus.CounterOpts{
			Name: "gatewayd_dispatcher_connections_accepted_total",
			Help: "Total TCP connections accepted by the SNI dispatcher.",
		}),
		DispatcherRejected: f.NewCounter(prometheus.CounterOpts{
			Name: "gatewayd_dispatcher_connections_rejected_total",
			Help: "Total connections rejected (unknown SNI, parse failure, all upstreams down).",
		}),
		DispatcherActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "gatewayd_dispatcher_connections_active",
			Help: "Currently spliced dispatcher connections.",
		}),
		ReconcileDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gatewayd_reconcile_duration_seconds",
			Help:    "Time to run one Apply call end to end.",
			Buckets: prometheus.DefBuckets,
		}),
		ReconcileErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gatewayd_reconcile_port_errors_total",
			Help: "Per-port reconcile failures, labeled by the failing step.",
		}, []string{"step"}),
		SamplerTicks: f.NewCounter(prometheus.CounterOpts{
			Name: "gatewayd_sampler_ticks_total",
			Help: "Total traffic sampler ticks completed.",
		}),
		SamplerErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "gatewayd_sampler_errors_total",
			Help: "Total traffic sampler ticks that failed to read or store counters.",
		}),
	}
}
