package proxy

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds proxy metrics.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	breakerState     *prometheus.GaugeVec
}

// NewMetrics registers proxy metrics with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "requests_total",
				Help:      "Total number of proxied requests by terminal state",
			},
			[]string{"service", "state"},
		),
		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "upstream_duration_seconds",
				Help:      "Duration of proxied requests from receipt to terminal state",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"service"},
		),
		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state per service (0=closed, 1=half-open, 2=open)",
			},
			[]string{"service"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.requestsTotal, m.upstreamDuration, m.breakerState)
	}
	return m
}

func (m *Metrics) record(service string, state State, d time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(service, state.String()).Inc()
	m.upstreamDuration.WithLabelValues(service).Observe(d.Seconds())
}

func (m *Metrics) setBreakerState(service string, v float64) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(service).Set(v)
}
