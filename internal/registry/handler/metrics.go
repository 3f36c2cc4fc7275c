package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	entitiesTotal = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "toolgate_entities_total",
		Help: "Registered entities by kind and enabled state.",
	}, []string{"kind", "state"})

	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "toolgate_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "toolgate_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	healthChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "toolgate_health_checks_total",
		Help: "Total health check probes by result.",
	}, []string{"result"})

	scansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "toolgate_scans_total",
		Help: "Total security scans by kind and verdict.",
	}, []string{"kind", "verdict"})

	scanDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "toolgate_scan_duration_seconds",
		Help:    "Security scan duration in seconds.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
	}, []string{"kind"})

	searchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "toolgate_searches_total",
		Help: "Total hybrid search queries served.",
	})

	indexSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "toolgate_index_size",
		Help: "Entries currently held in the vector index.",
	})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		requestsTotal.WithLabelValues(method, path, status).Inc()
		requestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordHealthCheck records a health check probe result.
func RecordHealthCheck(success bool) {
	if success {
		healthChecksTotal.WithLabelValues("success").Inc()
	} else {
		healthChecksTotal.WithLabelValues("failure").Inc()
	}
}

// RecordScan records one finished security scan.
func RecordScan(kind string, safe bool, elapsed time.Duration) {
	verdict := "unsafe"
	if safe {
		verdict = "safe"
	}
	scansTotal.WithLabelValues(kind, verdict).Inc()
	scanDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// RecordSearch records one hybrid search query.
func RecordSearch() {
	searchesTotal.Inc()
}

// SetEntitiesGauge sets the entity count gauge for a kind and state.
func SetEntitiesGauge(kind, state string, count float64) {
	entitiesTotal.WithLabelValues(kind, state).Set(count)
}

// SetIndexSize sets the vector index size gauge.
func SetIndexSize(n int) {
	indexSize.Set(float64(n))
}
