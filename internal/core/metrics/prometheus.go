package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Exporter publishes engine state as Prometheus metrics. A nil *Exporter is
// valid and records nothing.
type Exporter struct {
	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Metric registry
	metricValue *prometheus.GaugeVec

	// Monitoring loop
	tickDuration prometheus.Histogram
	ticksSkipped prometheus.Counter

	// Alert metrics
	alertsTotal  *prometheus.CounterVec
	alertsActive prometheus.Gauge

	// Automation metrics
	decisionExecutions *prometheus.CounterVec
	workflowRuns       *prometheus.CounterVec

	// Notification metrics
	notifications *prometheus.CounterVec
}

// NewExporter registers the engine collectors on reg under the given prefix
func NewExporter(reg prometheus.Registerer, prefix string) *Exporter {
	if prefix == "" {
		prefix = "pma"
	}
	factory := promauto.With(reg)

	return &Exporter{
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    prefix + "_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		metricValue: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: prefix + "_metric_value",
				Help: "Current value of each monitored metric",
			},
			[]string{"metric", "category"},
		),
		tickDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    prefix + "_monitoring_tick_duration_seconds",
				Help:    "Duration of monitoring ticks in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
			},
		),
		ticksSkipped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: prefix + "_monitoring_ticks_skipped_total",
				Help: "Monitoring ticks skipped because the previous tick was still running",
			},
		),
		alertsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_alerts_total",
				Help: "Total number of alerts created",
			},
			[]string{"severity", "type"},
		),
		alertsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: prefix + "_alerts_active",
				Help: "Number of open alerts",
			},
		),
		decisionExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_decision_executions_total",
				Help: "Total number of decision rule executions",
			},
			[]string{"outcome"},
		),
		workflowRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_workflow_runs_total",
				Help: "Total number of finished workflow instances",
			},
			[]string{"workflow", "status"},
		),
		notifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_notifications_total",
				Help: "Total number of notification deliveries",
			},
			[]string{"channel", "success"},
		),
	}
}

// RecordHTTPRequest records an HTTP request
func (e *Exporter) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if e == nil {
		return
	}
	e.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	e.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ObserveMetric exports the current value of a metric
func (e *Exporter) ObserveMetric(m Metric) {
	if e == nil {
		return
	}
	e.metricValue.WithLabelValues(m.ID, string(m.Category)).Set(m.Value)
}

// ObserveTick records how long a monitoring tick took
func (e *Exporter) ObserveTick(duration time.Duration) {
	if e == nil {
		return
	}
	e.tickDuration.Observe(duration.Seconds())
}

// RecordSkippedTick counts a tick skipped because one was in flight
func (e *Exporter) RecordSkippedTick() {
	if e == nil {
		return
	}
	e.ticksSkipped.Inc()
}

// RecordAlert counts a newly created alert
func (e *Exporter) RecordAlert(severity, alertType string) {
	if e == nil {
		return
	}
	e.alertsTotal.WithLabelValues(severity, alertType).Inc()
}

// SetOpenAlerts sets the open alert gauge
func (e *Exporter) SetOpenAlerts(n int) {
	if e == nil {
		return
	}
	e.alertsActive.Set(float64(n))
}

// RecordExecution counts a decision execution by outcome
func (e *Exporter) RecordExecution(outcome string) {
	if e == nil {
		return
	}
	e.decisionExecutions.WithLabelValues(outcome).Inc()
}

// RecordWorkflowRun counts a terminated workflow instance
func (e *Exporter) RecordWorkflowRun(workflowID, status string) {
	if e == nil {
		return
	}
	e.workflowRuns.WithLabelValues(workflowID, status).Inc()
}

// RecordNotification counts a delivery attempt on a channel
func (e *Exporter) RecordNotification(channelID string, success bool) {
	if e == nil {
		return
	}
	e.notifications.WithLabelValues(channelID, strconv.FormatBool(success)).Inc()
}
