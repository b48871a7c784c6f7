package tasks

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the counters the sync loops report. Gauges over the
// state store are registered separately by the status server.
type Metrics struct {
	PassesTotal     prometheus.Counter
	PassErrorsTotal prometheus.Counter
	PassDuration    prometheus.Histogram
	PushesTotal     *prometheus.CounterVec
	PushErrorsTotal *prometheus.CounterVec
}

// NewMetrics registers the task metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PassesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "abx_sync_passes_total",
			Help: "Completed sync passes.",
		}),
		PassErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "abx_sync_pass_errors_total",
			Help: "Sync passes that ended with an error.",
		}),
		PassDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "abx_sync_pass_duration_seconds",
			Help:    "Wall time of a sync pass.",
			Buckets: prometheus.DefBuckets,
		}),
		PushesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "abx_position_pushes_total",
			Help: "Position updates pushed, by destination side.",
		}, []string{"side"}),
		PushErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "abx_position_push_errors_total",
			Help: "Failed position pushes, by destination side.",
		}, []string{"side"}),
	}
}
