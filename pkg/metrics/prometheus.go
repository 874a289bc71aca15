// Package metrics provides Prometheus metrics for the claimgate service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the claimgate service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Admission and accounting
	decisions        *prometheus.CounterVec
	disbursedTokens  *prometheus.CounterVec
	transferLatency  *prometheus.HistogramVec
	ledgerReplays    prometheus.Counter
	pendingTransfers prometheus.Gauge
	inflightClaims   prometheus.Gauge

	// Period resets
	periodResets        prometheus.Counter
	periodResetDuration prometheus.Histogram
	claimantsTracked    prometheus.Gauge
	originsTracked      prometheus.Gauge

	// Durable store
	storeWriteLatency *prometheus.HistogramVec
	storeErrors       *prometheus.CounterVec
	eventLogErrors    prometheus.Counter

	// Event publication queue and workers
	queueCapacity      prometheus.Gauge
	queueSize          prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueueRate   prometheus.Counter
	queueDequeueRate   prometheus.Counter
	queueEnqueueErrors prometheus.Counter
	workerActiveCount  prometheus.Gauge
	publishResults     *prometheus.CounterVec
	publishLatency     prometheus.Histogram

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec
	errorLatency         *prometheus.HistogramVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "claimgate",
		subsystem:        "disbursement",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 15000, 30000, 60000},
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		metricPrefix:     "",
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)
	constLabels := prometheus.Labels(m.customLabels)

	counter := func(name, help string) prometheus.Counter {
		return auto.NewCounter(prometheus.CounterOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: constLabels,
		})
	}
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: constLabels,
		}, labels)
	}
	gauge := func(name, help string) prometheus.Gauge {
		return auto.NewGauge(prometheus.GaugeOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: constLabels,
		})
	}
	histogram := func(name, help string, buckets []float64) prometheus.Histogram {
		return auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: constLabels, Buckets: buckets,
		})
	}
	histogramVec := func(name, help string, labels ...string) *prometheus.HistogramVec {
		return auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: constLabels, Buckets: m.histogramBuckets,
		}, labels)
	}

	m.decisions = counterVec("decisions_total", "Disbursement requests by profile, terminal state and reason", "profile", "state", "reason")
	m.disbursedTokens = counterVec("disbursed_tokens_total", "Tokens disbursed and settled, by profile", "profile")
	m.transferLatency = histogramVec("transfer_latency_milliseconds", "Transmitter call latency by result", "result")
	m.ledgerReplays = counter("ledger_replays_total", "Commits skipped because the external reference was already applied")
	m.pendingTransfers = gauge("pending_transfers", "Transfers with unknown outcome awaiting operator reconciliation")
	m.inflightClaims = gauge("inflight_claims", "Requests currently holding a claimant lock")

	m.periodResets = counter("period_resets_total", "Number of period reset sweeps")
	m.periodResetDuration = histogram("period_reset_duration_milliseconds", "Duration of period reset sweeps", m.histogramBuckets)
	m.claimantsTracked = gauge("claimants_tracked", "Number of claimant records in the store")
	m.originsTracked = gauge("origins_tracked", "Number of origin throttle records in the store")

	m.storeWriteLatency = histogramVec("store_write_latency_milliseconds", "Durable store write latency by operation", "op")
	m.storeErrors = counterVec("store_errors_total", "Durable store failures by operation", "op")
	m.eventLogErrors = counter("event_log_errors_total", "Failures appending to the disbursement event log")

	m.queueCapacity = gauge("queue_capacity", "Maximum publication queue capacity")
	m.queueSize = gauge("queue_size", "Current size of the publication queue")
	m.queueUtilization = gauge("queue_utilization_ratio", "Publication queue utilization ratio (current size / capacity)")
	m.queueEnqueueRate = counter("queue_enqueue_total", "Total number of events enqueued for publication")
	m.queueDequeueRate = counter("queue_dequeue_total", "Total number of events dequeued for publication")
	m.queueEnqueueErrors = counter("queue_enqueue_errors_total", "Total number of events dropped at enqueue")
	m.workerActiveCount = gauge("worker_active_count", "Number of active publication workers")
	m.publishResults = counterVec("publish_total", "Event publication attempts by result", "result")
	m.publishLatency = histogram("publish_latency_milliseconds", "Event publication latency in milliseconds", m.histogramBuckets)

	m.httpRequests = counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", "endpoint", "method", "status_code")

	m.errorRateByComponent = counterVec("errors_by_component_total", "Total number of errors by component", "component", "error_type")
	m.errorRateByType = counterVec("errors_by_type_total", "Total number of errors by type", "error_type", "severity")
	m.errorRateByEndpoint = counterVec("errors_by_endpoint_total", "Total number of errors by endpoint", "endpoint", "method", "error_type")
	m.errorLatency = histogramVec("error_latency_milliseconds", "Latency of operations that resulted in errors", "component", "error_type")

	m.systemMemoryUsage = gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// RecordDecision counts a terminal request outcome.
func (m *Manager) RecordDecision(profile, state, reason string) {
	if !m.enabled {
		return
	}
	m.decisions.WithLabelValues(profile, state, reason).Inc()
}

// RecordDisbursed adds a settled amount for a profile.
func (m *Manager) RecordDisbursed(profile string, amount float64) {
	if !m.enabled || amount < 0 {
		return
	}
	m.disbursedTokens.WithLabelValues(profile).Add(amount)
}

// RecordTransferLatency records a transmitter call.
func (m *Manager) RecordTransferLatency(result string, latencyMs float64) {
	if !m.enabled {
		return
	}
	m.transferLatency.WithLabelValues(result).Observe(latencyMs)
}

// RecordLedgerReplay counts an idempotent no-op commit.
func (m *Manager) RecordLedgerReplay() {
	if !m.enabled {
		return
	}
	m.ledgerReplays.Inc()
}

// UpdatePendingTransfers sets the number of unreconciled transfers.
func (m *Manager) UpdatePendingTransfers(n int) {
	if !m.enabled {
		return
	}
	m.pendingTransfers.Set(float64(n))
}

// AddInflightClaims moves the in-flight gauge by delta.
func (m *Manager) AddInflightClaims(delta int) {
	if !m.enabled {
		return
	}
	m.inflightClaims.Add(float64(delta))
}

// RecordPeriodReset records one reset sweep.
func (m *Manager) RecordPeriodReset(duration time.Duration) {
	if !m.enabled {
		return
	}
	m.periodResets.Inc()
	m.periodResetDuration.Observe(float64(duration.Milliseconds()))
}

// UpdateRecordCounts sets the claimant and origin record gauges.
func (m *Manager) UpdateRecordCounts(claimants, origins int) {
	if !m.enabled {
		return
	}
	m.claimantsTracked.Set(float64(claimants))
	m.originsTracked.Set(float64(origins))
}

// RecordStoreWrite records a durable write latency for op.
func (m *Manager) RecordStoreWrite(op string, latencyMs float64) {
	if !m.enabled {
		return
	}
	m.storeWriteLatency.WithLabelValues(op).Observe(latencyMs)
}

// RecordStoreError counts a durable store failure for op.
func (m *Manager) RecordStoreError(op string) {
	if !m.enabled {
		return
	}
	m.storeErrors.WithLabelValues(op).Inc()
}

// RecordEventLogError counts a failed event log append.
func (m *Manager) RecordEventLogError() {
	if !m.enabled {
		return
	}
	m.eventLogErrors.Inc()
}

// RecordPublish records one publication attempt.
func (m *Manager) RecordPublish(result string, latencyMs float64) {
	if !m.enabled {
		return
	}
	m.publishResults.WithLabelValues(result).Inc()
	m.publishLatency.Observe(latencyMs)
}

// Package-level helpers over the global manager.

// RecordDecision counts a terminal request outcome.
func RecordDecision(profile, state, reason string) {
	globalManager.RecordDecision(profile, state, reason)
}

// RecordDisbursed adds a settled amount for a profile.
func RecordDisbursed(profile string, amount float64) { globalManager.RecordDisbursed(profile, amount) }

// RecordTransferLatency records a transmitter call.
func RecordTransferLatency(result string, latencyMs float64) {
	globalManager.RecordTransferLatency(result, latencyMs)
}

// RecordLedgerReplay counts an idempotent no-op commit.
func RecordLedgerReplay() { globalManager.RecordLedgerReplay() }

// UpdatePendingTransfers sets the number of unreconciled transfers.
func UpdatePendingTransfers(n int) { globalManager.UpdatePendingTransfers(n) }

// AddInflightClaims moves the in-flight gauge by delta.
func AddInflightClaims(delta int) { globalManager.AddInflightClaims(delta) }

// RecordPeriodReset records one reset sweep.
func RecordPeriodReset(duration time.Duration) { globalManager.RecordPeriodReset(duration) }

// UpdateRecordCounts sets the claimant and origin record gauges.
func UpdateRecordCounts(claimants, origins int) { globalManager.UpdateRecordCounts(claimants, origins) }

// RecordStoreWrite records a durable write latency for op.
func RecordStoreWrite(op string, latencyMs float64) { globalManager.RecordStoreWrite(op, latencyMs) }

// RecordStoreError counts a durable store failure for op.
func RecordStoreError(op string) { globalManager.RecordStoreError(op) }

// RecordEventLogError counts a failed event log append.
func RecordEventLogError() { globalManager.RecordEventLogError() }

// RecordPublish records one publication attempt.
func RecordPublish(result string, latencyMs float64) { globalManager.RecordPublish(result, latencyMs) }

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// UpdateWorkerActiveCount sets the number of active workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorLatency records the latency of an operation that resulted in an error.
func RecordErrorLatency(component, errorType string, latencyMs float64) {
	globalManager.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
}

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
