// Package metrics exposes Prometheus metrics for the dispatcher.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Dispatch counters
	EmailsSentTotal     prometheus.Counter
	EmailsFailedTotal   *prometheus.CounterVec
	BatchesStartedTotal prometheus.Counter

	// Tracking counters
	PixelsCreatedTotal     prometheus.Counter
	PixelCreateFailedTotal prometheus.Counter
	TrackingRefreshesTotal prometheus.Counter

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec

	// System metrics
	UptimeSeconds prometheus.Gauge
	Goroutines    prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a Metrics instance with all metrics registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		EmailsSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bulkmail_emails_sent_total",
				Help: "Total number of successfully delivered emails",
			},
		),
		EmailsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bulkmail_emails_failed_total",
				Help: "Total number of failed email deliveries",
			},
			[]string{"class"},
		),
		BatchesStartedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bulkmail_batches_started_total",
				Help: "Total number of batch send runs started",
			},
		),

		PixelsCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bulkmail_pixels_created_total",
				Help: "Total number of tracking pixels created",
			},
		),
		PixelCreateFailedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bulkmail_pixel_create_failed_total",
				Help: "Total number of failed tracking pixel creations",
			},
		),
		TrackingRefreshesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bulkmail_tracking_refreshes_total",
				Help: "Total number of tracking refresh sweeps",
			},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bulkmail_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bulkmail_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bulkmail_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bulkmail_goroutines",
				Help: "Number of active goroutines",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.EmailsSentTotal,
		m.EmailsFailedTotal,
		m.BatchesStartedTotal,
		m.PixelsCreatedTotal,
		m.PixelCreateFailedTotal,
		m.TrackingRefreshesTotal,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.UptimeSeconds,
		m.Goroutines,
	)

	return m
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance.
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance.
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// IncEmailsSent increments the delivered email counter.
func IncEmailsSent() {
	m := Global()
	if m != nil {
		m.EmailsSentTotal.Inc()
	}
}

// IncEmailsFailed increments the failed email counter.
func IncEmailsFailed(class string) {
	m := Global()
	if m != nil {
		m.EmailsFailedTotal.WithLabelValues(class).Inc()
	}
}

// IncBatchesStarted increments the batch run counter.
func IncBatchesStarted() {
	m := Global()
	if m != nil {
		m.BatchesStartedTotal.Inc()
	}
}

// IncPixelsCreated increments the created pixel counter.
func IncPixelsCreated() {
	m := Global()
	if m != nil {
		m.PixelsCreatedTotal.Inc()
	}
}

// IncPixelCreateFailed increments the failed pixel creation counter.
func IncPixelCreateFailed() {
	m := Global()
	if m != nil {
		m.PixelCreateFailedTotal.Inc()
	}
}

// IncTrackingRefreshes increments the refresh sweep counter.
func IncTrackingRefreshes() {
	m := Global()
	if m != nil {
		m.TrackingRefreshesTotal.Inc()
	}
}
