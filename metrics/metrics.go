// Package metrics exposes prometheus instrumentation for the settlement
// service: settlement outcomes by method and error code, and HTTP request
// metrics for the API surface.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	settlementsTotal   *prometheus.CounterVec
	settlementDuration *prometheus.HistogramVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpErrorsTotal     *prometheus.CounterVec
}

// New creates and registers the service collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		settlementsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "settlement",
				Subsystem: "engine",
				Name:      "settlements_total",
				Help:      "Total number of settlement calls by method and outcome",
			},
			[]string{"method", "code"},
		),
		settlementDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "settlement",
				Subsystem: "engine",
				Name:      "settlement_duration_seconds",
				Help:      "Settlement call latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "settlement",
				Subsystem: "server",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "settlement",
				Subsystem: "server",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		httpErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "settlement",
				Subsystem: "server",
				Name:      "http_errors_total",
				Help:      "Total number of HTTP errors (status >= 500)",
			},
			[]string{"method", "path", "status"},
		),
	}
	m.registry.MustRegister(
		m.settlementsTotal,
		m.settlementDuration,
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.httpErrorsTotal,
	)
	return m
}

// ObserveSettlement records one settlement call outcome. An empty code means
// success.
func (m *Metrics) ObserveSettlement(method string, code string, duration time.Duration) {
	if code == "" {
		code = "ok"
	}
	m.settlementsTotal.WithLabelValues(method, code).Inc()
	m.settlementDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// Handler serves the /metrics endpoint for this registry.
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// GinMiddleware collects HTTP request metrics. Route templates keep the
// path label's cardinality bounded.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		m.httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
		if c.Writer.Status() >= 500 {
			m.httpErrorsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		}
	}
}
