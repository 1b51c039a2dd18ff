package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the reconciliation service.
type Metrics struct {
	EventsTotal     *prometheus.CounterVec
	IntentsTotal    *prometheus.CounterVec
	RetriesTotal    prometheus.Counter
	SupersededTotal prometheus.Counter
	DiscardedTotal  *prometheus.CounterVec
	ClientOpSeconds *prometheus.HistogramVec
	ResyncDiffs     prometheus.Gauge
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		EventsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "groupsync_events_total",
			Help: "Lifecycle events handled by the engine, by kind.",
		}, []string{"kind"}),
		IntentsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "groupsync_intents_total",
			Help: "Membership intents processed, by direction and result status.",
		}, []string{"direction", "status"}),
		RetriesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "groupsync_retries_total",
			Help: "Client call retries after transient backend failures.",
		}),
		SupersededTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "groupsync_superseded_events_total",
			Help: "Events dropped because a newer sequence was already processed for the key.",
		}),
		DiscardedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "groupsync_discarded_notifications_total",
			Help: "Host notifications discarded by the dispatch adapter, by reason.",
		}, []string{"reason"}),
		ClientOpSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "groupsync_client_op_duration_seconds",
			Help:    "Latency of membership backend operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		ResyncDiffs: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "groupsync_resync_differences",
			Help: "Membership differences found by the last resync sweep.",
		}),
	}
}

// ObserveClientOp records one backend call. Nil-safe so callers can skip
// metrics wiring in tests.
func (m *Metrics) ObserveClientOp(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.ClientOpSeconds.WithLabelValues(op).Observe(d.Seconds())
}
