// Package metrics exposes Prometheus instrumentation for the gateway.
// There is no connection pool in this design (spec.md §5: one backend
// session per client session, no global pool), so the metric surface is
// shaped around sessions and commands rather than pool occupancy.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds all Prometheus metrics for the gateway.
type Collector struct {
	Registry *prometheus.Registry

	sessionsActive  prometheus.Gauge
	sessionsTotal   *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	commandErrors   *prometheus.CounterVec
	backendHealth   prometheus.Gauge

	healthCheckDuration *prometheus.HistogramVec
	healthCheckErrors   *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics using a custom registry.
// Safe to call multiple times (e.g., in tests) — each call creates an
// independent registry that doesn't conflict with others.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		sessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dbgateway_sessions_active",
				Help: "Number of live client sessions",
			},
		),
		sessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbgateway_sessions_total",
				Help: "Total client sessions accepted, by protocol",
			},
			[]string{"protocol"},
		),
		commandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dbgateway_command_duration_seconds",
				Help:    "Duration of a single command forwarded to the backend",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
			},
			[]string{"protocol"},
		),
		commandErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbgateway_command_errors_total",
				Help: "Commands that returned a backend error without closing the session",
			},
			[]string{"protocol"},
		),
		backendHealth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dbgateway_backend_health",
				Help: "Health status of the configured backend target (1=healthy, 0=unhealthy)",
			},
		),
		healthCheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dbgateway_health_check_duration_seconds",
				Help:    "Duration of health check probes",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{"status"},
		),
		healthCheckErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbgateway_health_check_errors_total",
				Help: "Health check errors by type",
			},
			[]string{"error_type"},
		),
	}

	reg.MustRegister(
		c.sessionsActive,
		c.sessionsTotal,
		c.commandDuration,
		c.commandErrors,
		c.backendHealth,
		c.healthCheckDuration,
		c.healthCheckErrors,
	)

	return c
}

// SessionOpened increments the active gauge and the lifetime session counter.
func (c *Collector) SessionOpened(protocol string) {
	c.sessionsActive.Inc()
	c.sessionsTotal.WithLabelValues(protocol).Inc()
}

// SessionClosed decrements the active session gauge.
func (c *Collector) SessionClosed() {
	c.sessionsActive.Dec()
}

// CommandDuration observes how long a single forwarded command took.
func (c *Collector) CommandDuration(protocol string, d time.Duration) {
	c.commandDuration.WithLabelValues(protocol).Observe(d.Seconds())
}

// CommandError increments the command error counter (spec.md §4.5 error
// isolation: a failing command stays counted without tearing the session
// down).
func (c *Collector) CommandError(protocol string) {
	c.commandErrors.WithLabelValues(protocol).Inc()
}

// SetBackendHealth sets the backend health gauge.
func (c *Collector) SetBackendHealth(healthy bool) {
	val := 0.0
	if healthy {
		val = 1.0
	}
	c.backendHealth.Set(val)
}

// HealthCheckCompleted records a health check probe duration and result.
func (c *Collector) HealthCheckCompleted(d time.Duration, healthy bool) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	c.healthCheckDuration.WithLabelValues(status).Observe(d.Seconds())
}

// HealthCheckError records a health check error by type.
func (c *Collector) HealthCheckError(errorType string) {
	c.healthCheckErrors.WithLabelValues(errorType).Inc()
}
