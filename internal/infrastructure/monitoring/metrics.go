// Package monitoring exposes Prometheus metrics for the daemon.
package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	// Pipeline metrics
	PipelinesActive  prometheus.Gauge
	PipelinesCreated prometheus.Counter
	PipelinesRemoved prometheus.Counter
	PipelineErrors   prometheus.Counter

	// RPC metrics
	RPCRequests *prometheus.CounterVec
	RPCDuration *prometheus.HistogramVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec
	EventsDropped prometheus.Counter

	// Bridge HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New creates a metrics collector registered on reg. Pass a fresh
// prometheus.NewRegistry() in tests to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PipelinesActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "streamd_pipelines_active",
			Help: "Number of registered pipelines",
		}),
		PipelinesCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamd_pipelines_created_total",
			Help: "Total pipelines created",
		}),
		PipelinesRemoved: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamd_pipelines_removed_total",
			Help: "Total pipelines removed",
		}),
		PipelineErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamd_pipeline_errors_total",
			Help: "Total engine error notifications",
		}),
		RPCRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "streamd_rpc_requests_total",
			Help: "RPC requests by method and outcome",
		}, []string{"method", "status"}),
		RPCDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "streamd_rpc_duration_seconds",
			Help:    "RPC dispatch duration by method",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "streamd_ws_connections",
			Help: "Connected control clients",
		}),
		WSMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "streamd_ws_messages_total",
			Help: "WebSocket messages by direction",
		}, []string{"direction"}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamd_events_dropped_total",
			Help: "Events dropped because a client queue was full",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "streamd_http_requests_total",
			Help: "Bridge HTTP requests by method, path and status",
		}, []string{"method", "path", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "streamd_http_duration_seconds",
			Help:    "Bridge HTTP request duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// ObserveRPC records one dispatched RPC request.
func (m *Metrics) ObserveRPC(method, status string, elapsed time.Duration) {
	m.RPCRequests.WithLabelValues(method, status).Inc()
	m.RPCDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// Middleware returns a gin middleware recording bridge HTTP metrics.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.HTTPRequests.WithLabelValues(c.Request.Method, path, status).Inc()
		m.HTTPDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
