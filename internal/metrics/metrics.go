// Package metrics centralizes every Prometheus instrument the platform
// emits. Status-change counters are recorded from exactly one call
// site — the StatusTransitionStore decorator in recorder.go — so a
// status transition is never counted twice across service boundaries.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups every instrument registered against a single
// prometheus.Registerer. A custom registerer (rather than the global
// DefaultRegisterer) keeps repeated construction — e.g. across table
// tests — from panicking on duplicate registration.
type Metrics struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	statusTransitionsTotal *prometheus.CounterVec
	retryAttempt           *prometheus.HistogramVec
	consumerLag            *prometheus.GaugeVec
}

// New registers all instruments against reg and returns the populated
// Metrics.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),

		statusTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "message_status_transitions_total",
			Help: "Count of appended message status history rows, the single source of delivery metrics.",
		}, []string{"status", "source"}),

		retryAttempt: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "message_retry_count",
			Help:    "Observed retry_count at the moment a message moves to RETRYING.",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 8, 13},
		}, []string{"source"}),

		consumerLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dispatch_bus_consumer_lag",
			Help: "Pending message count on a channel's Dispatch Bus consumer.",
		}, []string{"channel"}),
	}

	reg.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.statusTransitionsTotal,
		m.retryAttempt,
		m.consumerLag,
	)

	return m
}

// RecordRequest records one completed HTTP request.
func (m *Metrics) RecordRequest(method, path, status string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SetConsumerLag reports a channel's current Dispatch Bus backlog, used
// by the realtime metrics endpoint.
func (m *Metrics) SetConsumerLag(channel string, lag float64) {
	m.consumerLag.WithLabelValues(channel).Set(lag)
}
