package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for CacheDeck.
type Metrics struct {
	config MetricsConfig

	// Operation metrics
	operationsTotal   *prometheus.CounterVec
	operationAttempts *prometheus.HistogramVec
	operationDuration *prometheus.HistogramVec

	// Workflow metrics
	workflowRuns  *prometheus.CounterVec
	workflowSteps *prometheus.CounterVec
	workflowItems *prometheus.HistogramVec

	// Governance metrics
	governanceDenials *prometheus.CounterVec

	// Export job metrics
	exportJobs       *prometheus.CounterVec
	activeExportJobs prometheus.Gauge

	// Alerting and retention metrics
	alertsRaised        *prometheus.CounterVec
	retentionPurgedRows *prometheus.CounterVec

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

		operationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of cache operations by engine, action, and status",
			},
			[]string{"engine", "action", "status"},
		),
		operationAttempts: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_attempts",
				Help:      "Number of attempts consumed per operation",
				Buckets:   []float64{1, 2, 3, 5, 8, 13},
			},
			[]string{"action"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Operation duration in seconds",
				Buckets:   buckets,
			},
			[]string{"engine", "action"},
		),
		workflowRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflow_runs_total",
				Help:      "Total number of workflow executions by kind and final status",
			},
			[]string{"kind", "status"},
		),
		workflowSteps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflow_steps_total",
				Help:      "Total number of workflow steps by action and status",
			},
			[]string{"action", "status"},
		),
		workflowItems: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "workflow_items",
				Help:      "Preview items processed per workflow run",
				Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500},
			},
			[]string{"kind"},
		),
		governanceDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "governance_denials_total",
				Help:      "Total number of governance denials by reason",
			},
			[]string{"reason"},
		),
		exportJobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "export_jobs_total",
				Help:      "Total number of incident export jobs by terminal status",
			},
			[]string{"status"},
		),
		activeExportJobs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_export_jobs",
				Help:      "Number of export jobs currently executing",
			},
		),
		alertsRaised: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_raised_total",
				Help:      "Total number of alerts raised by source and severity",
			},
			[]string{"source", "severity"},
		),
		retentionPurgedRows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retention_purged_rows_total",
				Help:      "Total number of rows purged by retention enforcement",
			},
			[]string{"dataset"},
		),
	}

	registry.MustRegister(
		m.operationsTotal,
		m.operationAttempts,
		m.operationDuration,
		m.workflowRuns,
		m.workflowSteps,
		m.workflowItems,
		m.governanceDenials,
		m.exportJobs,
		m.activeExportJobs,
		m.alertsRaised,
		m.retentionPurgedRows,
	)

	return m, nil
}

// Operation Metrics

// RecordOperation records a completed cache operation.
func (m *Metrics) RecordOperation(engine, action, status string, attempts int, duration time.Duration) {
	if m.operationsTotal == nil {
		return
	}
	m.operationsTotal.WithLabelValues(engine, action, status).Inc()
	m.operationAttempts.WithLabelValues(action).Observe(float64(attempts))
	m.operationDuration.WithLabelValues(engine, action).Observe(duration.Seconds())
}

// Workflow Metrics

// RecordWorkflowRun records a workflow execution reaching a terminal status.
func (m *Metrics) RecordWorkflowRun(kind, status string, items int) {
	if m.workflowRuns == nil {
		return
	}
	m.workflowRuns.WithLabelValues(kind, status).Inc()
	m.workflowItems.WithLabelValues(kind).Observe(float64(items))
}

// RecordWorkflowStep records one processed workflow step.
func (m *Metrics) RecordWorkflowStep(action, status string) {
	if m.workflowSteps == nil {
		return
	}
	m.workflowSteps.WithLabelValues(action, status).Inc()
}

// Governance Metrics

// RecordGovernanceDenial records a governance denial by reason.
func (m *Metrics) RecordGovernanceDenial(reason string) {
	if m.governanceDenials == nil {
		return
	}
	m.governanceDenials.WithLabelValues(reason).Inc()
}

// Export Job Metrics

// RecordExportJobStarted marks an export job as executing.
func (m *Metrics) RecordExportJobStarted() {
	if m.activeExportJobs == nil {
		return
	}
	m.activeExportJobs.Inc()
}

// RecordExportJobFinished records an export job reaching a terminal status.
func (m *Metrics) RecordExportJobFinished(status string) {
	if m.exportJobs == nil {
		return
	}
	m.exportJobs.WithLabelValues(status).Inc()
	m.activeExportJobs.Dec()
}

// Alerting and Retention Metrics

// RecordAlert records a raised alert.
func (m *Metrics) RecordAlert(source, severity string) {
	if m.alertsRaised == nil {
		return
	}
	m.alertsRaised.WithLabelValues(source, severity).Inc()
}

// RecordRetentionPurge records rows removed by retention enforcement.
func (m *Metrics) RecordRetentionPurge(dataset string, rows int64) {
	if m.retentionPurgedRows == nil {
		return
	}
	m.retentionPurgedRows.WithLabelValues(dataset).Add(float64(rows))
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time in a Prometheus observer.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartMetricsServer starts the metrics HTTP server on the configured
// listen address. It returns immediately; the server runs until the
// process exits.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}
	if m.config.ListenAddress == "" {
		return fmt.Errorf("metrics listen address is required")
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	go func() {
		_ = http.ListenAndServe(m.config.ListenAddress, mux)
	}()

	return nil
}
