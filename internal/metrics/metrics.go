package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "alert_relay"

// Metrics holds the Prometheus collectors for the relay.
type Metrics struct {
	// Connectivity.
	Online              prometheus.Gauge
	ConnectivityChanges *prometheus.CounterVec // labels: state={online,offline}

	// Queue.
	QueueEnqueued *prometheus.CounterVec // labels: reason={offline,fallback}
	QueueDepth    prometheus.Gauge
	QueueFailed   prometheus.Counter

	// Dispatch.
	DispatchOutcomes *prometheus.CounterVec   // labels: channel, outcome={success,transport-error}
	DispatchDuration *prometheus.HistogramVec // labels: channel

	// Reconciliation.
	ReconcilePasses    prometheus.Counter
	ReconcileDelivered prometheus.Counter
	ReconcileFailed    prometheus.Counter
	ReconcileDuration  prometheus.Histogram

	// Risk cache.
	RiskLookups *prometheus.CounterVec // labels: result={live,stale,overlay,unavailable}
}

func build() *Metrics {
	return &Metrics{
		Online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online",
			Help:      "1 when the relay considers itself online, 0 otherwise.",
		}),
		ConnectivityChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connectivity_transitions_total",
			Help:      "Connectivity transitions by target state.",
		}, []string{"state"}),
		QueueEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_enqueued_total",
			Help:      "Emergency records queued, by reason.",
		}, []string{"reason"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Retry-eligible records currently queued.",
		}),
		QueueFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_failed_permanent_total",
			Help:      "Records moved to failed-permanent after reaching the retry ceiling.",
		}),
		DispatchOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_outcomes_total",
			Help:      "Channel send outcomes.",
		}, []string{"channel", "outcome"}),
		DispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Channel send duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"channel"}),
		ReconcilePasses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_passes_total",
			Help:      "Completed reconciliation passes.",
		}),
		ReconcileDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_delivered_total",
			Help:      "Queued records delivered by reconciliation.",
		}),
		ReconcileFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_failed_total",
			Help:      "Queued records whose retry failed on every channel.",
		}),
		ReconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_pass_duration_seconds",
			Help:      "Duration of a reconciliation pass.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60},
		}),
		RiskLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_lookups_total",
			Help:      "Risk read-path results.",
		}, []string{"result"}),
	}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := build()
	prometheus.MustRegister(
		m.Online,
		m.ConnectivityChanges,
		m.QueueEnqueued,
		m.QueueDepth,
		m.QueueFailed,
		m.DispatchOutcomes,
		m.DispatchDuration,
		m.ReconcilePasses,
		m.ReconcileDelivered,
		m.ReconcileFailed,
		m.ReconcileDuration,
		m.RiskLookups,
	)
	return m
}

// NewMetricsForTesting returns unregistered collectors so tests can build as many as they like.
func NewMetricsForTesting() *Metrics {
	return build()
}
