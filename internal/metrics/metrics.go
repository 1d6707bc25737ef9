// Package metrics exposes Prometheus counters for tracking and delivery.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Dispatch results
const (
	ResultSuccess   = "success"
	ResultTemporary = "temporary"
	ResultPermanent = "permanent"
)

// Metrics holds all Prometheus metrics for mailtrack
type Metrics struct {
	// Tracking counters
	EventsTotal           *prometheus.CounterVec
	LogWriteFailuresTotal *prometheus.CounterVec

	// Delivery
	DispatchTotal *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal          *prometheus.CounterVec
	HTTPRequestDurationSeconds *prometheus.HistogramVec
	HTTPErrorsTotal            *prometheus.CounterVec

	// System metrics
	UptimeSeconds  prometheus.Gauge
	Goroutines     prometheus.Gauge
	LogFileBytes   *prometheus.GaugeVec
	StateFileBytes prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailtrack_events_total",
				Help: "Total number of tracking events written to the logs",
			},
			[]string{"kind"},
		),
		LogWriteFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailtrack_log_write_failures_total",
				Help: "Total number of tracking events that could not be written",
			},
			[]string{"log"},
		),

		DispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailtrack_dispatch_total",
				Help: "Total number of outbound emails by driver and result",
			},
			[]string{"driver", "result"},
		),

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailtrack_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailtrack_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailtrack_http_errors_total",
				Help: "Total number of HTTP responses with an error status",
			},
			[]string{"error_type"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailtrack_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailtrack_goroutines",
				Help: "Number of active goroutines",
			},
		),
		LogFileBytes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mailtrack_log_file_bytes",
				Help: "Size of each tracking log file in bytes",
			},
			[]string{"log"},
		),
		StateFileBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailtrack_state_file_bytes",
				Help: "BoltDB counter state file size in bytes",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.EventsTotal,
		m.LogWriteFailuresTotal,
		m.DispatchTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDurationSeconds,
		m.HTTPErrorsTotal,
		m.UptimeSeconds,
		m.Goroutines,
		m.LogFileBytes,
		m.StateFileBytes,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
