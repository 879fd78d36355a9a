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
	clawHTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clawcierge_http_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	clawHTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clawcierge_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	clawAgentsRegisteredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clawcierge_agents_registered_total",
		Help: "Total agents registered since process start.",
	})

	clawRequestsDispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clawcierge_requests_dispatched_total",
		Help: "Total requests dispatched to agents, by action.",
	}, []string{"action"})

	clawPipelineRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clawcierge_pipeline_rejections_total",
		Help: "Total submissions rejected by the enforcement pipeline, by stage.",
	}, []string{"stage"})

	clawConnectedAgents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clawcierge_connected_agents",
		Help: "Number of agents with a live channel.",
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

		clawHTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		clawHTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordAgentRegistered counts a successful registration.
func RecordAgentRegistered() {
	clawAgentsRegisteredTotal.Inc()
}

// RecordRequestDispatched counts a request handed to an agent channel.
func RecordRequestDispatched(action string) {
	clawRequestsDispatchedTotal.WithLabelValues(action).Inc()
}

// RecordPipelineRejection counts a pipeline refusal by stage.
func RecordPipelineRejection(stage string) {
	clawPipelineRejectionsTotal.WithLabelValues(stage).Inc()
}

// SetConnectedAgents sets the live-channel gauge.
func SetConnectedAgents(n int) {
	clawConnectedAgents.Set(float64(n))
}
