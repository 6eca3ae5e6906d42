package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric the gateway exports.
const DefaultNamespace = "gateway"

// Metrics holds the HTTP-level Prometheus metrics and the registry that
// component metrics (jwt, identity, proxy) register on.
type Metrics struct {
	namespace       string
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	activeRequests  prometheus.Gauge
	rateLimitHits   *prometheus.CounterVec
	panicsTotal     prometheus.Counter
	buildInfo       *prometheus.GaugeVec
}

// NewMetrics creates a Metrics instance with its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	m := &Metrics{
		namespace: namespace,
		registry:  prometheus.NewRegistry(),
	}

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "route"},
	)
	m.activeRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_requests",
		Help:      "Number of in-flight HTTP requests",
	})
	m.rateLimitHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Requests rejected by the rate limiter",
		},
		[]string{"route"},
	)
	m.panicsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "panics_recovered_total",
		Help:      "Panics recovered by the HTTP middleware",
	})
	m.buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "commit"},
	)

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.activeRequests,
		m.rateLimitHits,
		m.panicsTotal,
		m.buildInfo,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Namespace returns the metric namespace.
func (m *Metrics) Namespace() string { return m.namespace }

// Registry returns the registry used by the gateway.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns the Prometheus exposition handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordRequest records a completed HTTP request.
func (m *Metrics) RecordRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// IncActive increments the in-flight request gauge.
func (m *Metrics) IncActive() {
	if m != nil {
		m.activeRequests.Inc()
	}
}

// DecActive decrements the in-flight request gauge.
func (m *Metrics) DecActive() {
	if m != nil {
		m.activeRequests.Dec()
	}
}

// RecordRateLimited counts a request rejected by the rate limiter.
func (m *Metrics) RecordRateLimited(route string) {
	if m != nil {
		m.rateLimitHits.WithLabelValues(route).Inc()
	}
}

// RecordPanic counts a recovered panic.
func (m *Metrics) RecordPanic() {
	if m != nil {
		m.panicsTotal.Inc()
	}
}

// SetBuildInfo publishes version metadata.
func (m *Metrics) SetBuildInfo(version, commit string) {
	if m != nil {
		m.buildInfo.WithLabelValues(version, commit).Set(1)
	}
}
