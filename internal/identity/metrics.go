package identity

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for identity hydration.
type Metrics struct {
	hitsTotal      prometheus.Counter
	missesTotal    prometheus.Counter
	evictionsTotal prometheus.Counter
	size           prometheus.Gauge
	lookupsTotal   *prometheus.CounterVec
	sharedTotal    *prometheus.CounterVec
}

// NewMetrics creates identity metrics and registers them on reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		hitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "identity_cache",
			Name:      "hits_total",
			Help:      "Identity cache hits",
		}),
		missesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "identity_cache",
			Name:      "misses_total",
			Help:      "Identity cache misses, stale entries included",
		}),
		evictionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "identity_cache",
			Name:      "evictions_total",
			Help:      "Entries evicted to stay within capacity",
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "identity_cache",
			Name:      "entries",
			Help:      "Current number of cached identities",
		}),
		lookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "identity",
				Name:      "store_lookups_total",
				Help:      "User datastore lookups by result",
			},
			[]string{"result"},
		),
		sharedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "identity",
				Name:      "shared_cache_total",
				Help:      "Shared (redis) identity tier operations by result",
			},
			[]string{"result"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.hitsTotal, m.missesTotal, m.evictionsTotal, m.size, m.lookupsTotal, m.sharedTotal)
	}
	return m
}

func (m *Metrics) recordHit() {
	if m != nil {
		m.hitsTotal.Inc()
	}
}

func (m *Metrics) recordMiss() {
	if m != nil {
		m.missesTotal.Inc()
	}
}

func (m *Metrics) recordEviction() {
	if m != nil {
		m.evictionsTotal.Inc()
	}
}

func (m *Metrics) setSize(n int) {
	if m != nil {
		m.size.Set(float64(n))
	}
}

func (m *Metrics) recordLookup(result string) {
	if m != nil {
		m.lookupsTotal.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) recordShared(result string) {
	if m != nil {
		m.sharedTotal.WithLabelValues(result).Inc()
	}
}
