// Package metrics provides Prometheus metrics for the rumble service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the rumble service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Match engine
	commands          *prometheus.CounterVec
	commandDuration   *prometheus.HistogramVec
	awardsRecorded    *prometheus.CounterVec
	awardsDuplicate   *prometheus.CounterVec
	pointsGranted     *prometheus.CounterVec
	pointsNet         prometheus.Gauge
	payoutsDuplicate  prometheus.Counter
	reconcileRuns     *prometheus.CounterVec
	slotConflicts     *prometheus.CounterVec
	commandReplays    *prometheus.CounterVec
	duplicateRequests prometheus.Counter
	playersTotal      prometheus.Gauge

	// Notifications
	notificationsPublished *prometheus.CounterVec
	notificationsDropped   *prometheus.CounterVec
	websocketSubscribers   prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Repository
	repositoryUpdateLatency prometheus.Histogram
	repositoryQueryLatency  prometheus.Histogram

	// Queue
	queueSize              prometheus.Gauge
	queueCapacity          prometheus.Gauge
	queueUtilization       prometheus.Gauge
	queueEnqueued          prometheus.Counter
	queueDequeued          prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueProcessingLatency prometheus.Histogram

	// Workers
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter
	workerRetries           prometheus.Counter

	// Errors
	errorsByComponent *prometheus.CounterVec
	errorsByType      *prometheus.CounterVec
	errorsByEndpoint  *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "rumble",
		subsystem:        "engine",
		histogramBuckets: []float64{0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
		Buckets:   m.histogramBuckets,
	}, labels)
}

func (m *Manager) initializeMetrics() {
	m.commands = m.counterVec("commands_total", "Match commands by command and result", "command", "result")
	m.commandDuration = m.histogramVec("command_duration_milliseconds", "Match command latency in milliseconds", "command")
	m.awardsRecorded = m.counterVec("awards_recorded_total", "Outcomes recorded for the first time", "kind")
	m.awardsDuplicate = m.counterVec("awards_duplicate_total", "Outcome records rejected because the key already existed", "kind")
	m.pointsGranted = m.counterVec("points_granted_total", "Point deltas applied by role", "role")
	m.pointsNet = m.gauge("points_net", "Sum of every applied point delta")
	m.payoutsDuplicate = m.counter("payouts_duplicate_total", "Payouts skipped because their marker already existed")
	m.reconcileRuns = m.counterVec("reconcile_runs_total", "Reconciler passes by result", "result")
	m.slotConflicts = m.counterVec("slot_write_conflicts_total", "Slot writes retried because the division changed after it was loaded", "division")
	m.commandReplays = m.counterVec("command_replays_total", "Slot commands that repeated an already stored change", "command")
	m.duplicateRequests = m.counter("duplicate_requests_total", "Requests short-circuited by their idempotency key")
	m.playersTotal = m.gauge("players_total", "Players known to the store")

	m.notificationsPublished = m.counterVec("notifications_published_total", "Notifications delivered by sink", "sink")
	m.notificationsDropped = m.counterVec("notifications_dropped_total", "Notifications dropped by reason", "reason")
	m.websocketSubscribers = m.gauge("websocket_subscribers", "Connected websocket viewers")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint, method and status", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", "endpoint", "method", "status_code")

	m.repositoryUpdateLatency = m.histogram("repository_update_latency_milliseconds", "Store write latency in milliseconds", m.histogramBuckets)
	m.repositoryQueryLatency = m.histogram("repository_query_latency_milliseconds", "Store read latency in milliseconds", m.histogramBuckets)

	m.queueSize = m.gauge("queue_size", "Notifications waiting for delivery")
	m.queueCapacity = m.gauge("queue_capacity", "Notification queue capacity")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Notification queue fill ratio")
	m.queueEnqueued = m.counter("queue_enqueued_total", "Notifications enqueued")
	m.queueDequeued = m.counter("queue_dequeued_total", "Notifications dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Notifications rejected by the queue")
	m.queueProcessingLatency = m.histogram("queue_processing_latency_milliseconds", "Enqueue latency in milliseconds", m.histogramBuckets)

	m.workerActiveCount = m.gauge("worker_active_count", "Delivery workers running")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds", "Per-notification delivery latency in milliseconds", m.histogramBuckets)
	m.workerErrors = m.counter("worker_errors_total", "Deliveries that failed after retries")
	m.workerRetries = m.counter("worker_retries_total", "Delivery retries")

	m.errorsByComponent = m.counterVec("errors_by_component_total", "Errors by component and type", "component", "error_type")
	m.errorsByType = m.counterVec("errors_by_type_total", "Errors by type and severity", "error_type", "severity")
	m.errorsByEndpoint = m.counterVec("errors_by_endpoint_total", "HTTP errors by endpoint, method and type", "endpoint", "method", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Heap memory in use")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "Last GC pause in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// Match engine.

// RecordCommand counts a match command by result ("ok" or an error kind).
func RecordCommand(command, result string) {
	globalManager.commands.WithLabelValues(command, result).Inc()
}

// RecordCommandDuration records a command's latency in milliseconds.
func RecordCommandDuration(command string, latencyMs float64) {
	globalManager.commandDuration.WithLabelValues(command).Observe(latencyMs)
}

// RecordAwardRecorded counts an outcome recorded for the first time.
func RecordAwardRecorded(kind string) {
	globalManager.awardsRecorded.WithLabelValues(kind).Inc()
}

// RecordAwardDuplicate counts an outcome that was already recorded.
func RecordAwardDuplicate(kind string) {
	globalManager.awardsDuplicate.WithLabelValues(kind).Inc()
}

// RecordPointsGranted counts an applied delta.
func RecordPointsGranted(role string, delta int) {
	globalManager.pointsGranted.WithLabelValues(role).Inc()
	globalManager.pointsNet.Add(float64(delta))
}

// RecordPayoutDuplicate counts a payout whose marker already existed.
func RecordPayoutDuplicate() {
	globalManager.payoutsDuplicate.Inc()
}

// RecordReconcileRun counts a reconciler pass.
func RecordReconcileRun(result string) {
	globalManager.reconcileRuns.WithLabelValues(result).Inc()
}

// RecordSlotConflict counts a slot write that lost its division version.
func RecordSlotConflict(division string) {
	globalManager.slotConflicts.WithLabelValues(division).Inc()
}

// RecordCommandReplay counts a command that matched what was already stored.
func RecordCommandReplay(command string) {
	globalManager.commandReplays.WithLabelValues(command).Inc()
}

// RecordDuplicateRequest counts a request rejected by its idempotency key.
func RecordDuplicateRequest() {
	globalManager.duplicateRequests.Inc()
}

// UpdatePlayersTotal sets the number of known players.
func UpdatePlayersTotal(count int) {
	globalManager.playersTotal.Set(float64(count))
}

// Notifications.

// RecordNotificationPublished counts a delivered notification.
func RecordNotificationPublished(sink string) {
	globalManager.notificationsPublished.WithLabelValues(sink).Inc()
}

// RecordNotificationDropped counts a notification that was not delivered.
func RecordNotificationDropped(reason string) {
	globalManager.notificationsDropped.WithLabelValues(reason).Inc()
}

// UpdateWebsocketSubscribers sets the number of connected viewers.
func UpdateWebsocketSubscribers(count int) {
	globalManager.websocketSubscribers.Set(float64(count))
}

// HTTP.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Repository.

// RecordRepositoryUpdateLatency records store write latency.
func RecordRepositoryUpdateLatency(latencyMs float64) {
	globalManager.repositoryUpdateLatency.Observe(latencyMs)
}

// RecordRepositoryQueryLatency records store read latency.
func RecordRepositoryQueryLatency(latencyMs float64) {
	globalManager.repositoryQueryLatency.Observe(latencyMs)
}

// Queue.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueued.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeued.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// RecordQueueProcessingLatency records enqueue latency.
func RecordQueueProcessingLatency(latencyMs float64) {
	globalManager.queueProcessingLatency.Observe(latencyMs)
}

// Workers.

// UpdateWorkerActiveCount sets the number of running workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records delivery latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// RecordWorkerRetry increments the worker retry counter.
func RecordWorkerRetry() {
	globalManager.workerRetries.Inc()
}

// Errors.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorsByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorsByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// System.

// UpdateSystemMemoryUsage sets the heap memory in use.
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
