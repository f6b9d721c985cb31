// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Engine metrics
	ComputeRunsTotal *prometheus.CounterVec
	ComputeDuration  *prometheus.HistogramVec
	RowsEmitted      *prometheus.CounterVec
	PartsEvaluated   *prometheus.CounterVec
	GuardRejections  *prometheus.CounterVec

	// Store metrics
	StoreMutations *prometheus.CounterVec
	StoredRows     *prometheus.GaugeVec

	// Pipeline metrics
	PipelineRunsTotal *prometheus.CounterVec
	PipelineDuration  *prometheus.HistogramVec
	ICMean            *prometheus.GaugeVec
	ReportsGenerated  prometheus.Counter

	// Feed metrics
	FeedClients         prometheus.Gauge
	FeedEventsBroadcast prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulCompute prometheus.Gauge
}

// NewMetrics creates a new Metrics instance registered on the default registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

// NewMetricsWith creates a new Metrics instance registered on reg.
func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "factor_lab"
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Engine metrics
		ComputeRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "runs_total",
			Help:      "Total number of engine computations by mode and status",
		}, []string{"mode", "status"}),
		ComputeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "duration_seconds",
			Help:      "Engine computation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
		RowsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "rows_emitted_total",
			Help:      "Total number of factor rows emitted by mode",
		}, []string{"mode"}),
		PartsEvaluated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "parts_evaluated_total",
			Help:      "Total number of date chunks or entity batches evaluated",
		}, []string{"mode"}),
		GuardRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "guard_rejections_total",
			Help:      "Total number of specs rejected as unsafe to partition",
		}, []string{"mode"}),

		// Store metrics
		StoreMutations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "mutations_total",
			Help:      "Total number of store writes and overwrites",
		}, []string{"op"}),
		StoredRows: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "rows",
			Help:      "Rows written by the last mutation per factor",
		}, []string{"factor"}),

		// Pipeline metrics
		PipelineRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs by status",
		}, []string{"phase", "status"}),
		PipelineDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "duration_seconds",
			Help:      "Pipeline execution duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"phase"}),
		ICMean: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "ic_mean",
			Help:      "Mean information coefficient of the last run per factor",
		}, []string{"factor"}),
		ReportsGenerated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "reports_generated_total",
			Help:      "Total number of reports generated",
		}),

		// Feed metrics
		FeedClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "clients",
			Help:      "Number of connected websocket clients",
		}),
		FeedEventsBroadcast: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "events_broadcast_total",
			Help:      "Total number of store events broadcast",
		}),

		// Database metrics
		DBQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulCompute: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_compute_timestamp",
			Help:      "Unix timestamp of last successful engine computation",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordCompute records one engine computation.
func (m *Metrics) RecordCompute(mode string, rows int, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ComputeRunsTotal.WithLabelValues(mode, status).Inc()
	m.ComputeDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
	if err == nil {
		m.RowsEmitted.WithLabelValues(mode).Add(float64(rows))
		m.LastSuccessfulCompute.SetToCurrentTime()
	}
}

// RecordParts records evaluated chunks or batches.
func (m *Metrics) RecordParts(mode string, n int) {
	m.PartsEvaluated.WithLabelValues(mode).Add(float64(n))
}

// RecordGuardRejection records a spec refused by the chunking guard.
func (m *Metrics) RecordGuardRejection(mode string) {
	m.GuardRejections.WithLabelValues(mode).Inc()
}

// RecordStoreMutation records a store write or overwrite.
func (m *Metrics) RecordStoreMutation(op, factor string, rows int) {
	m.StoreMutations.WithLabelValues(op).Inc()
	m.StoredRows.WithLabelValues(factor).Set(float64(rows))
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordPipelineRun records a pipeline run.
func RecordPipelineRun(phase, status string, durationSeconds float64) {
	DefaultMetrics.PipelineRunsTotal.WithLabelValues(phase, status).Inc()
	DefaultMetrics.PipelineDuration.WithLabelValues(phase).Observe(durationSeconds)
}

// RecordIC records the mean information coefficient of a factor.
func RecordIC(factor string, mean float64) {
	DefaultMetrics.ICMean.WithLabelValues(factor).Set(mean)
}

// RecordReportGenerated increments the reports counter.
func RecordReportGenerated() {
	DefaultMetrics.ReportsGenerated.Inc()
}

// UpdateFeedClients sets the connected client gauge.
func UpdateFeedClients(n int) {
	DefaultMetrics.FeedClients.Set(float64(n))
}

// RecordFeedBroadcast increments the broadcast counter.
func RecordFeedBroadcast() {
	DefaultMetrics.FeedEventsBroadcast.Inc()
}
