package dispatch

import (
	"time"

	"caller-rpc/outcome"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the dispatch counters. A nil Registerer keeps them unregistered,
// which is what a Caller uses unless WithMetrics is given.
type Metrics struct {
	calls    *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	inflight prometheus.Gauge
	orphans  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		calls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "callerrpc",
			Subsystem: "dispatch",
			Name:      "calls_total",
			Help:      "Calls by method and outcome.",
		}, []string{"method", "outcome"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "callerrpc",
			Subsystem: "dispatch",
			Name:      "call_duration_seconds",
			Help:      "Time from dispatch to classified outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"outcome"}),
		inflight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "callerrpc",
			Subsystem: "dispatch",
			Name:      "inflight_calls",
			Help:      "Calls waiting for a reply.",
		}),
		orphans: f.NewCounter(prometheus.CounterOpts{
			Namespace: "callerrpc",
			Subsystem: "dispatch",
			Name:      "orphaned_replies_total",
			Help:      "Replies discarded because no call was waiting for them.",
		}),
	}
}

func (m *Metrics) observe(method string, kind outcome.Kind, elapsed time.Duration) {
	m.calls.WithLabelValues(method, kind.String()).Inc()
	m.latency.WithLabelValues(kind.String()).Observe(elapsed.Seconds())
}
