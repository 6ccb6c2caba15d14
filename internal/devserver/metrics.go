package devserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "campuspilot"

// Metrics holds the development backend's Prometheus collectors on a private registry.
type Metrics struct {
	registry     *prometheus.Registry
	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	authFailures *prometheus.CounterVec
	mirrors      prometheus.Counter
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	metrics := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "devserver",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "devserver",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		authFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "devserver",
				Name:      "auth_failures_total",
				Help:      "Total number of rejected requests by reason",
			},
			[]string{"reason"},
		),
		mirrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "devserver",
				Name:      "user_mirrors_total",
				Help:      "Total number of user record upserts",
			},
		),
	}
	metrics.registry.MustRegister(metrics.requests, metrics.duration, metrics.authFailures, metrics.mirrors)
	return metrics
}

// Handler serves the registry in the Prometheus exposition format.
func (metrics *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency by route template.
func (metrics *Metrics) Middleware() gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		route := contextGin.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := contextGin.Request.Method
		metrics.requests.WithLabelValues(method, route, strconv.Itoa(contextGin.Writer.Status())).Inc()
		metrics.duration.WithLabelValues(method, route).Observe(time.Since(startTime).Seconds())
	}
}

func (metrics *Metrics) recordAuthFailure(reason string) {
	metrics.authFailures.WithLabelValues(reason).Inc()
}

func (metrics *Metrics) recordMirror() {
	metrics.mirrors.Inc()
}
