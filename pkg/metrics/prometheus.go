// Package metrics provides Prometheus metrics for the coachboard service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values for store operations.
const (
	OutcomeOK       = "ok"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
	OutcomeDropped  = "dropped"
)

// Manager owns every collector exposed by the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	errorsByType        *prometheus.CounterVec

	// Storage
	storeOperations *prometheus.CounterVec
	storeLatency    *prometheus.HistogramVec

	// Domain
	evaluationsByBadge *prometheus.CounterVec
	athleteRenames     prometheus.Counter

	// Rename propagation
	propagatedRecords   prometheus.Counter
	propagationFailures prometheus.Counter
	propagationRetries  prometheus.Counter
	propagationDropped  prometheus.Counter
	propagationQueue    prometheus.Gauge

	// Change feed
	changesPublished *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// customRegistry keeps default Go collectors out of /metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "coachboard",
		subsystem:        "api",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		constLabels:      prometheus.Labels{},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) histogramOpts(name, help string) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
		Buckets:     m.histogramBuckets,
	}
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.httpRequests = auto.NewCounterVec(
		m.counterOpts("http_requests_total", "HTTP requests by endpoint, method and status code"),
		[]string{"endpoint", "method", "status_code"},
	)
	m.httpRequestDuration = auto.NewHistogramVec(
		m.histogramOpts("http_request_duration_milliseconds", "HTTP request duration in milliseconds"),
		[]string{"endpoint", "method", "status_code"},
	)
	m.errorsByType = auto.NewCounterVec(
		m.counterOpts("errors_total", "Errors by type and severity"),
		[]string{"error_type", "severity"},
	)

	m.storeOperations = auto.NewCounterVec(
		m.counterOpts("store_operations_total", "Document store operations by collection, operation and outcome"),
		[]string{"collection", "operation", "outcome"},
	)
	m.storeLatency = auto.NewHistogramVec(
		m.histogramOpts("store_operation_latency_milliseconds", "Document store operation latency in milliseconds"),
		[]string{"collection", "operation"},
	)

	m.evaluationsByBadge = auto.NewCounterVec(
		m.counterOpts("evaluations_created_total", "Evaluations created, by stored badge tone"),
		[]string{"tone"},
	)
	m.athleteRenames = auto.NewCounter(
		m.counterOpts("athlete_renames_total", "Athlete profile updates that changed the athlete name"),
	)

	m.propagatedRecords = auto.NewCounter(
		m.counterOpts("propagation_records_total", "Evaluation records rewritten by rename propagation"),
	)
	m.propagationFailures = auto.NewCounter(
		m.counterOpts("propagation_failures_total", "Failed rename propagation attempts"),
	)
	m.propagationRetries = auto.NewCounter(
		m.counterOpts("propagation_retries_total", "Rename propagation tasks scheduled for retry"),
	)
	m.propagationDropped = auto.NewCounter(
		m.counterOpts("propagation_dropped_total", "Rename propagation tasks abandoned after the last attempt or on a full queue"),
	)
	m.propagationQueue = auto.NewGauge(
		m.gaugeOpts("propagation_queue_size", "Rename propagation tasks waiting for a worker"),
	)

	m.changesPublished = auto.NewCounterVec(
		m.counterOpts("changes_published_total", "Change events handed to the change feed, by kind and outcome"),
		[]string{"kind", "outcome"},
	)

	m.systemMemoryUsage = auto.NewGauge(
		m.gaugeOpts("system_memory_bytes", "Heap bytes allocated"),
	)
	m.systemGoroutineCount = auto.NewGauge(
		m.gaugeOpts("system_goroutines", "Number of goroutines"),
	)
}

// RecordHTTPRequest increments the request counter.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration observes request latency in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorsByType.WithLabelValues(errorType, severity).Inc()
}

// RecordStoreOperation counts a store call and observes its latency.
func RecordStoreOperation(collection, operation, outcome string, latencyMs float64) {
	globalManager.storeOperations.WithLabelValues(collection, operation, outcome).Inc()
	globalManager.storeLatency.WithLabelValues(collection, operation).Observe(latencyMs)
}

// RecordEvaluationCreated counts a stored evaluation by its badge tone.
func RecordEvaluationCreated(tone string) {
	globalManager.evaluationsByBadge.WithLabelValues(tone).Inc()
}

// RecordAthleteRename counts a profile update that changed the athlete name.
func RecordAthleteRename() {
	globalManager.athleteRenames.Inc()
}

// RecordPropagatedRecords adds n rewritten evaluation records.
func RecordPropagatedRecords(n int64) {
	if n > 0 {
		globalManager.propagatedRecords.Add(float64(n))
	}
}

// RecordPropagationFailure counts a failed propagation attempt.
func RecordPropagationFailure() {
	globalManager.propagationFailures.Inc()
}

// RecordPropagationRetry counts a task scheduled for another attempt.
func RecordPropagationRetry() {
	globalManager.propagationRetries.Inc()
}

// RecordPropagationDropped counts an abandoned task.
func RecordPropagationDropped() {
	globalManager.propagationDropped.Inc()
}

// UpdatePropagationQueueSize sets the number of waiting tasks.
func UpdatePropagationQueueSize(size int) {
	globalManager.propagationQueue.Set(float64(size))
}

// RecordChangePublished counts a change event by kind and outcome.
func RecordChangePublished(kind, outcome string) {
	globalManager.changesPublished.WithLabelValues(kind, outcome).Inc()
}

// UpdateSystemMemoryUsage sets allocated heap bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// GetRegistry returns the registry served on /metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
