package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "importoor"

// Metrics contains all Prometheus metrics for importoor.
type Metrics struct {
	// Items.
	ItemsTotal    *prometheus.CounterVec
	ItemsInFlight prometheus.Gauge
	ItemDuration  prometheus.Histogram

	// Attempts.
	ImportAttemptsTotal prometheus.Counter
	ImportRetriesTotal  prometheus.Counter

	// Version sets.
	VersionSetsCreated prometheus.Counter

	// Gateway API.
	GatewayRequestsTotal *prometheus.CounterVec
	GatewayErrorsTotal   *prometheus.CounterVec

	// Artifacts.
	ArtifactUploadsTotal  prometheus.Counter
	ArtifactUploadsFailed prometheus.Counter

	// Build info.
	BuildInfo *prometheus.GaugeVec
}

// New creates a new Metrics instance and registers all metrics.
func New() *Metrics {
	m := &Metrics{
		// Items.
		ItemsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_total",
				Help:      "Total number of items processed, by outcome status",
			},
			[]string{"status"},
		),
		ItemsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "items_in_flight",
				Help:      "Number of items currently inside the import pipeline",
			},
		),
		ItemDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "item_duration_seconds",
				Help:      "Wall-clock duration of one item's full pipeline",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
			},
		),

		// Attempts.
		ImportAttemptsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "import_attempts_total",
				Help:      "Total number of import attempts",
			},
		),
		ImportRetriesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "import_retries_total",
				Help:      "Total number of import retries after a failed attempt",
			},
		),

		// Version sets.
		VersionSetsCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "version_sets_created_total",
				Help:      "Total number of version sets created",
			},
		),

		// Gateway API.
		GatewayRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_requests_total",
				Help:      "Total number of gateway management API requests",
			},
			[]string{"operation"},
		),
		GatewayErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_errors_total",
				Help:      "Total number of gateway management API errors",
			},
			[]string{"operation"},
		),

		// Artifacts.
		ArtifactUploadsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "artifact_uploads_total",
				Help:      "Total number of spec artifacts uploaded to blob storage",
			},
		),
		ArtifactUploadsFailed: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "artifact_uploads_failed_total",
				Help:      "Total number of failed artifact uploads",
			},
		),

		// Build info.
		BuildInfo: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "build_info",
				Help:      "Build information",
			},
			[]string{"version", "commit", "date"},
		),
	}

	return m
}

// SetBuildInfo sets the build info metric.
func (m *Metrics) SetBuildInfo(version, commit, date string) {
	m.BuildInfo.WithLabelValues(version, commit, date).Set(1)
}

// RecordItem records a completed item with its outcome status.
func (m *Metrics) RecordItem(status string, duration float64) {
	m.ItemsTotal.WithLabelValues(status).Inc()
	m.ItemDuration.Observe(duration)
}

// ItemStarted increments the in-flight gauge.
func (m *Metrics) ItemStarted() {
	m.ItemsInFlight.Inc()
}

// ItemFinished decrements the in-flight gauge.
func (m *Metrics) ItemFinished() {
	m.ItemsInFlight.Dec()
}

// RecordImportAttempt increments the attempt counter.
func (m *Metrics) RecordImportAttempt() {
	m.ImportAttemptsTotal.Inc()
}

// RecordImportRetry increments the retry counter.
func (m *Metrics) RecordImportRetry() {
	m.ImportRetriesTotal.Inc()
}

// RecordVersionSetCreated increments the version set creation counter.
func (m *Metrics) RecordVersionSetCreated() {
	m.VersionSetsCreated.Inc()
}

// RecordGatewayRequest records a gateway management API request.
func (m *Metrics) RecordGatewayRequest(operation string) {
	m.GatewayRequestsTotal.WithLabelValues(operation).Inc()
}

// RecordGatewayError records a gateway management API error.
func (m *Metrics) RecordGatewayError(operation string) {
	m.GatewayErrorsTotal.WithLabelValues(operation).Inc()
}

// RecordArtifactUpload records an artifact upload outcome.
func (m *Metrics) RecordArtifactUpload(success bool) {
	if success {
		m.ArtifactUploadsTotal.Inc()
	} else {
		m.ArtifactUploadsFailed.Inc()
	}
}
