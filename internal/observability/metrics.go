package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the book request service.
// Metrics are organized by subsystem: ingestion, queue batches, enrichment,
// catalog calls and persistence. All counters and histograms are registered via
// promauto for automatic registration with the default Prometheus registry.
type Metrics struct {
	// RequestsAccepted counts book requests that passed validation and were queued.
	RequestsAccepted prometheus.Counter

	// RequestsRejected counts book requests rejected with field errors.
	RequestsRejected prometheus.Counter

	// ValidationErrors counts individual field errors, labeled by field.
	ValidationErrors *prometheus.CounterVec

	// EnqueueFailures counts requests that validated but could not be queued.
	EnqueueFailures prometheus.Counter

	// BatchesProcessed counts queue batches committed after full success.
	BatchesProcessed prometheus.Counter

	// BatchesFailed counts queue batches left uncommitted for redelivery.
	BatchesFailed prometheus.Counter

	// BatchSize observes the number of messages per batch.
	BatchSize prometheus.Histogram

	// MessagesProcessed counts persisted messages, labeled by enrichment outcome.
	MessagesProcessed *prometheus.CounterVec

	// MessagesFailed counts messages that failed their batch, labeled by reason.
	MessagesFailed *prometheus.CounterVec

	// MessageDuration observes per-message processing time in seconds.
	MessageDuration prometheus.Histogram

	// CatalogRequestsTotal counts catalog calls, labeled by endpoint and result status.
	CatalogRequestsTotal *prometheus.CounterVec

	// CatalogRequestDuration observes catalog call duration in seconds, labeled by endpoint.
	CatalogRequestDuration *prometheus.HistogramVec

	// RecordsPersisted counts successful upserts, labeled by store backend.
	RecordsPersisted *prometheus.CounterVec

	// PersistFailures counts failed upserts, labeled by store backend.
	PersistFailures *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Ingestion
		RequestsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_accepted_total",
			Help:      "Total number of book requests accepted and queued",
		}),
		RequestsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_rejected_total",
			Help:      "Total number of book requests rejected by validation",
		}),
		ValidationErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_errors_total",
			Help:      "Total number of field validation errors by field",
		}, []string{"field"}),
		EnqueueFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enqueue_failures_total",
			Help:      "Total number of valid requests that could not be queued",
		}),

		// Batches
		BatchesProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_processed_total",
			Help:      "Total number of queue batches processed and committed",
		}),
		BatchesFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_failed_total",
			Help:      "Total number of queue batches failed and left for redelivery",
		}),
		BatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of messages per queue batch",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100},
		}),

		// Messages
		MessagesProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_processed_total",
			Help:      "Total number of messages persisted by enrichment outcome",
		}, []string{"outcome"}),
		MessagesFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_failed_total",
			Help:      "Total number of messages that failed by reason",
		}, []string{"reason"}),
		MessageDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_duration_seconds",
			Help:      "Duration of message processing in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		// Catalog
		CatalogRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_requests_total",
			Help:      "Total number of catalog requests by endpoint and status",
		}, []string{"endpoint", "status"}),
		CatalogRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "catalog_request_duration_seconds",
			Help:      "Duration of catalog requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"endpoint"}),

		// Persistence
		RecordsPersisted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_persisted_total",
			Help:      "Total number of book records upserted by backend",
		}, []string{"backend"}),
		PersistFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Total number of failed book record upserts by backend",
		}, []string{"backend"}),
	}
}

// RecordRequestAccepted records that a request was validated and queued.
func (m *Metrics) RecordRequestAccepted() {
	m.RequestsAccepted.Inc()
}

// RecordRequestRejected records a validation rejection and its failing fields.
func (m *Metrics) RecordRequestRejected(fields []string) {
	m.RequestsRejected.Inc()
	for _, f := range fields {
		m.ValidationErrors.WithLabelValues(f).Inc()
	}
}

// RecordEnqueueFailed records that a valid request could not be queued.
func (m *Metrics) RecordEnqueueFailed() {
	m.EnqueueFailures.Inc()
}

// RecordBatchProcessed records a committed batch.
func (m *Metrics) RecordBatchProcessed(size int) {
	m.BatchesProcessed.Inc()
	m.BatchSize.Observe(float64(size))
}

// RecordBatchFailed records a batch left for redelivery.
func (m *Metrics) RecordBatchFailed(size int) {
	m.BatchesFailed.Inc()
	m.BatchSize.Observe(float64(size))
}

// RecordMessageProcessed records a persisted message.
func (m *Metrics) RecordMessageProcessed(outcome string, durationSeconds float64) {
	m.MessagesProcessed.WithLabelValues(outcome).Inc()
	m.MessageDuration.Observe(durationSeconds)
}

// RecordMessageFailed records a message that failed its batch.
func (m *Metrics) RecordMessageFailed(reason string, durationSeconds float64) {
	m.MessagesFailed.WithLabelValues(reason).Inc()
	m.MessageDuration.Observe(durationSeconds)
}

// RecordCatalogRequest records a catalog call and its result status.
func (m *Metrics) RecordCatalogRequest(endpoint, status string, durationSeconds float64) {
	m.CatalogRequestsTotal.WithLabelValues(endpoint, status).Inc()
	m.CatalogRequestDuration.WithLabelValues(endpoint).Observe(durationSeconds)
}

// RecordPersisted records a successful upsert.
func (m *Metrics) RecordPersisted(backend string) {
	m.RecordsPersisted.WithLabelValues(backend).Inc()
}

// RecordPersistFailed records a failed upsert.
func (m *Metrics) RecordPersistFailed(backend string) {
	m.PersistFailures.WithLabelValues(backend).Inc()
}
