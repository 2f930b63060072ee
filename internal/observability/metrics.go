package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "riverlevel"

// Metrics holds the Prometheus counters, histograms, and gauges for the sync pipeline.
type Metrics struct {
	// Cycle metrics, labelled by sync kind.
	SyncCycles       *prometheus.CounterVec   // labels: kind, outcome={success,partial,failed,skipped}
	SyncDuration     *prometheus.HistogramVec // labels: kind
	SyncRunning      *prometheus.GaugeVec     // labels: kind
	DistrictFailures *prometheus.CounterVec   // labels: kind

	// Write-path metrics.
	RecordsUpserted   *prometheus.CounterVec // labels: entity={district,station,current_level,camera,summary}
	HistoryAppended   prometheus.Counter
	HistoryDeleted    prometheus.Counter
	PersistenceErrors *prometheus.CounterVec // labels: op
	OverallStatus     prometheus.Gauge

	// Upstream metrics.
	UpstreamRequests *prometheus.CounterVec   // labels: endpoint, outcome={success,error,malformed}
	UpstreamDuration *prometheus.HistogramVec // labels: endpoint
	BreakerState     *prometheus.GaugeVec     // labels: name; 0=closed 1=half-open 2=open

	EventsPublished *prometheus.CounterVec // labels: type={summary,alert}
}

func newMetrics() *Metrics {
	return &Metrics{
		SyncCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_cycles_total",
			Help:      "Sync cycles by kind and outcome.",
		}, []string{"kind", "outcome"}),
		SyncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of a complete sync cycle.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"kind"}),
		SyncRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_running",
			Help:      "1 while a cycle of the given kind is in progress.",
		}, []string{"kind"}),
		DistrictFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "district_failures_total",
			Help:      "Per-district fetches that failed and were skipped.",
		}, []string{"kind"}),
		RecordsUpserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_upserted_total",
			Help:      "Records written by entity.",
		}, []string{"entity"}),
		HistoryAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_points_appended_total",
			Help:      "History points appended.",
		}),
		HistoryDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_points_deleted_total",
			Help:      "History points purged by retention cleanup.",
		}),
		PersistenceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_errors_total",
			Help:      "Repository writes rejected by the store.",
		}, []string{"op"}),
		OverallStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "overall_alert_level",
			Help:      "Worst alert level across all districts (0=normal .. 3=danger).",
		}),
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Upstream API requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Upstream API request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}, []string{"endpoint"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upstream_breaker_state",
			Help:      "Circuit breaker state: 0 closed, 1 half-open, 2 open.",
		}, []string{"name"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events written to the sink topic.",
		}, []string{"type"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.SyncCycles,
		m.SyncDuration,
		m.SyncRunning,
		m.DistrictFailures,
		m.RecordsUpserted,
		m.HistoryAppended,
		m.HistoryDeleted,
		m.PersistenceErrors,
		m.OverallStatus,
		m.UpstreamRequests,
		m.UpstreamDuration,
		m.BreakerState,
		m.EventsPublished,
	}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
