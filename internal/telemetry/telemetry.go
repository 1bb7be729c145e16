// Package telemetry exposes Prometheus collectors for the API server and the
// evaluation pipeline.
package telemetry

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kpitrack"

// Metrics owns a private registry so that several servers (and tests) can
// coexist in one process.
type Metrics struct {
	registry           *prometheus.Registry
	requestCounter     *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	evaluationFailures *prometheus.CounterVec
	jobsProcessed      *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"method", "endpoint"},
		),
		evaluationFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluation_failures_total",
				Help:      "Entries excluded from an aggregate because their formula failed to evaluate",
			},
			[]string{"kpi_id"},
		),
		jobsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "daemon_jobs_total",
				Help:      "Background jobs finished by the daemon",
			},
			[]string{"type", "status"},
		),
	}
	m.registry.MustRegister(m.requestCounter, m.requestDuration, m.evaluationFailures, m.jobsProcessed)
	return m
}

// ObserveEvaluationFailure counts one excluded entry for kpiID.
func (m *Metrics) ObserveEvaluationFailure(kpiID string) {
	if m == nil {
		return
	}
	m.evaluationFailures.WithLabelValues(kpiID).Inc()
}

// ObserveJob counts one finished daemon job.
func (m *Metrics) ObserveJob(jobType, status string) {
	if m == nil {
		return
	}
	m.jobsProcessed.WithLabelValues(jobType, status).Inc()
}

// Middleware records request counts and latencies by route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		m.requestCounter.WithLabelValues(
			c.Request.Method,
			endpoint,
			strconv.Itoa(c.Writer.Status()),
		).Inc()
		m.requestDuration.WithLabelValues(
			c.Request.Method,
			endpoint,
		).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
