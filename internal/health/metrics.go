package health

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds readiness check collectors.
type Metrics struct {
	checkStatus   *prometheus.GaugeVec
	checkDuration *prometheus.HistogramVec
	ready         prometheus.Gauge
}

// NewMetrics registers the health collectors on reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		checkStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "health",
				Name:      "check_status",
				Help:      "Current readiness check status (1=up, 0=down)",
			},
			[]string{"check"},
		),
		checkDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "health",
				Name:      "check_duration_seconds",
				Help:      "Duration of readiness checks",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 3},
			},
			[]string{"check"},
		),
		ready: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "health",
				Name:      "ready",
				Help:      "Whether the gateway reports ready (1) or not (0)",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.checkStatus, m.checkDuration, m.ready)
	}
	return m
}

func (m *Metrics) recordCheck(name string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	v := 0.0
	if ok {
		v = 1
	}
	m.checkStatus.WithLabelValues(name).Set(v)
	m.checkDuration.WithLabelValues(name).Observe(d.Seconds())
}

func (m *Metrics) recordOverall(s Status) {
	if m == nil {
		return
	}
	if s == StatusDown {
		m.ready.Set(0)
		return
	}
	m.ready.Set(1)
}
