package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the dispatchd router.
type Metrics struct {
	config MetricsConfig

	// Webhook metrics
	webhookEvents   *prometheus.CounterVec
	webhookDuration *prometheus.HistogramVec

	// Dispatch metrics
	dispatchesEnqueued  *prometheus.CounterVec
	dispatchesCompleted *prometheus.CounterVec
	dispatchDuration    *prometheus.HistogramVec

	// Validation metrics
	validationFailures *prometheus.CounterVec

	// Instance metrics
	activeInstances   *prometheus.GaugeVec
	portSlotsReserved *prometheus.GaugeVec

	// Queue metrics
	queuedTasks  prometheus.Gauge
	runningTasks prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		// Webhook metrics
		webhookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_events_total",
				Help:      "Total number of webhook events received",
			},
			[]string{"event", "outcome"},
		),
		webhookDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "webhook_handle_duration_seconds",
				Help:      "Duration of webhook handling in seconds",
				Buckets:   buckets,
			},
			[]string{"outcome"},
		),

		// Dispatch metrics
		dispatchesEnqueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatches_enqueued_total",
				Help:      "Total number of phase dispatches enqueued",
			},
			[]string{"family", "phase"},
		),
		dispatchesCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatches_completed_total",
				Help:      "Total number of phase dispatches completed",
			},
			[]string{"family", "phase", "status"},
		),
		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_seconds",
				Help:      "Duration of phase process execution in seconds",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"family", "phase"},
		),

		// Validation metrics
		validationFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validation_failures_total",
				Help:      "Total number of dependent-phase validation failures",
			},
			[]string{"family", "phase", "reason"},
		),

		// Instance metrics
		activeInstances: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_instances",
				Help:      "Current number of non-archived workflow instances",
			},
			[]string{"family"},
		),
		portSlotsReserved: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "port_slots_reserved",
				Help:      "Current number of reserved port slots",
			},
			[]string{"family"},
		),

		// Queue metrics
		queuedTasks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queued_tasks",
				Help:      "Current number of pending dispatch tasks",
			},
		),
		runningTasks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "running_tasks",
				Help:      "Current number of running dispatch tasks",
			},
		),
	}

	registry.MustRegister(
		m.webhookEvents,
		m.webhookDuration,
		m.dispatchesEnqueued,
		m.dispatchesCompleted,
		m.dispatchDuration,
		m.validationFailures,
		m.activeInstances,
		m.portSlotsReserved,
		m.queuedTasks,
		m.runningTasks,
	)

	return m, nil
}

// Webhook Metrics

// RecordWebhookEvent records a webhook event with its routing outcome.
func (m *Metrics) RecordWebhookEvent(event, outcome string, duration time.Duration) {
	if m.webhookEvents == nil {
		return
	}
	m.webhookEvents.WithLabelValues(event, outcome).Inc()
	m.webhookDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// Dispatch Metrics

// RecordDispatchEnqueued records a dispatch accepted into the queue.
func (m *Metrics) RecordDispatchEnqueued(family, phase string) {
	if m.dispatchesEnqueued == nil {
		return
	}
	m.dispatchesEnqueued.WithLabelValues(family, phase).Inc()
	m.queuedTasks.Inc()
}

// RecordDispatchStarted records a task moving from pending to running.
func (m *Metrics) RecordDispatchStarted() {
	if m.queuedTasks == nil {
		return
	}
	m.queuedTasks.Dec()
	m.runningTasks.Inc()
}

// RecordDispatchCompleted records a finished dispatch with status and duration.
func (m *Metrics) RecordDispatchCompleted(family, phase, status string, duration time.Duration) {
	if m.dispatchesCompleted == nil {
		return
	}
	m.dispatchesCompleted.WithLabelValues(family, phase, status).Inc()
	m.dispatchDuration.WithLabelValues(family, phase).Observe(duration.Seconds())
	m.runningTasks.Dec()
}

// Validation Metrics

// RecordValidationFailure records a dependent-phase precondition failure.
func (m *Metrics) RecordValidationFailure(family, phase, reason string) {
	if m.validationFailures == nil {
		return
	}
	m.validationFailures.WithLabelValues(family, phase, reason).Inc()
}

// Instance Metrics

// SetActiveInstances sets the current count of non-archived instances per family.
func (m *Metrics) SetActiveInstances(family string, count float64) {
	if m.activeInstances == nil {
		return
	}
	m.activeInstances.WithLabelValues(family).Set(count)
}

// SetPortSlotsReserved sets the current count of reserved port slots per family.
func (m *Metrics) SetPortSlotsReserved(family string, count float64) {
	if m.portSlotsReserved == nil {
		return
	}
	m.portSlotsReserved.WithLabelValues(family).Set(count)
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
