package jwt

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for token verification.
type Metrics struct {
	validationTotal    *prometheus.CounterVec
	validationDuration prometheus.Histogram
}

// NewMetrics creates verification metrics and registers them on reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		validationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "jwt",
				Name:      "validation_total",
				Help:      "Total number of token validations",
			},
			[]string{"result", "reason"},
		),
		validationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jwt",
			Name:      "validation_duration_seconds",
			Help:      "Token validation duration in seconds",
			Buckets:   []float64{.00005, .0001, .00025, .0005, .001, .0025, .005},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.validationTotal, m.validationDuration)
	}
	return m
}

// RecordValidation records a validation outcome.
func (m *Metrics) RecordValidation(err error, d time.Duration) {
	if m == nil {
		return
	}
	m.validationDuration.Observe(d.Seconds())
	if err == nil {
		m.validationTotal.WithLabelValues("success", "").Inc()
		return
	}
	m.validationTotal.WithLabelValues("error", reason(err)).Inc()
}

func reason(err error) string {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrTokenMalformed):
		return "malformed"
	case errors.Is(err, ErrTokenInvalidSignature):
		return "signature"
	case errors.Is(err, ErrTokenInvalidIssuer):
		return "issuer"
	case errors.Is(err, ErrTokenInvalidAudience):
		return "audience"
	case errors.Is(err, ErrMissingSubject):
		return "subject"
	default:
		return "other"
	}
}
