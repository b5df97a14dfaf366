// Package monitoring wires github.com/prometheus/client_golang into the
// gin server: per-route request counters/latency histograms and the
// registry/gate gauges dashboards scrape alongside the WebSocket feed.
package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/llmlb/llmlb/internal/domain/entity"
	"github.com/llmlb/llmlb/internal/infrastructure/gate"
	"github.com/llmlb/llmlb/internal/infrastructure/registry"
)

// Metrics holds the process's prometheus collectors.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inFlight        prometheus.GaugeFunc
	endpointsOnline prometheus.GaugeFunc
}

// New registers every collector against the default registerer. Calling
// it more than once per process would panic on duplicate registration, so
// the caller must construct exactly one Metrics.
func New(reg *registry.Registry, g *gate.Gate) *Metrics {
	m := &Metrics{
		requestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "llmlb_http_requests_total",
			Help: "Total HTTP requests handled, by route and status code.",
		}, []string{"route", "status"}),
		requestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llmlb_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds, by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
	m.inFlight = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "llmlb_inference_in_flight",
		Help: "Number of inference requests currently admitted by the gate.",
	}, func() float64 { return float64(g.InFlight()) })
	m.endpointsOnline = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "llmlb_endpoints_online",
		Help: "Number of registered endpoints currently Online.",
	}, func() float64 { return float64(countOnline(reg)) })
	return m
}

func countOnline(reg *registry.Registry) int {
	count := 0
	for _, e := range reg.List() {
		if e.Status == entity.EndpointStatusOnline {
			count++
		}
	}
	return count
}

// Middleware records request count and latency per route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// Handler returns the gin handler for GET /metrics.
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) { h.ServeHTTP(c.Writer, c.Request) }
}
