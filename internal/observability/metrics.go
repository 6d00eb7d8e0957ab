package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jkaninda/amri/internal/signals"
)

// MetricsCollector holds all Prometheus metrics for Amri.
// Uses a custom registry — no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Execution metrics.
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	TimeoutsTotal     *prometheus.CounterVec
	KillsTotal        *prometheus.CounterVec
	OutputBytesTotal  *prometheus.CounterVec

	// HTTP gateway metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// System metrics.
	ActiveRequests prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amri",
			Subsystem: "exec",
			Name:      "executions_total",
			Help:      "Total shell command executions.",
		}, []string{"mode", "status"}),

		ExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "amri",
			Subsystem: "exec",
			Name:      "execution_duration_seconds",
			Help:      "Shell command execution duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"mode"}),

		TimeoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amri",
			Subsystem: "exec",
			Name:      "timeouts_total",
			Help:      "Total executions that hit their deadline.",
		}, []string{"mode"}),

		KillsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amri",
			Subsystem: "exec",
			Name:      "kills_total",
			Help:      "Total kill signals delivered to shell process groups.",
		}, []string{"signal"}),

		OutputBytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amri",
			Subsystem: "exec",
			Name:      "output_bytes_total",
			Help:      "Total merged output bytes collected from shells.",
		}, []string{"mode"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amri",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "amri",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "amri",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),
	}

	// Register all collectors.
	reg.MustRegister(
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.TimeoutsTotal,
		m.KillsTotal,
		m.OutputBytesTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveRequests,
	)

	return m
}

// ObserveKill counts one kill signal delivered to a shell process group.
// Wired into the executors as their executor.KillObserver.
func (m *MetricsCollector) ObserveKill(sig signals.Signal) {
	m.KillsTotal.WithLabelValues(sig.Name()).Inc()
}
