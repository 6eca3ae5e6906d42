// Package secrets loads the gateway's signing keys.
//
// Two keys matter: the JWT secret shared with the auth service and the
// internal key that signs identity headers for downstream services. They
// come from the environment by default or from a Vault KV v2 secret.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ProviderType names a secrets backend.
type ProviderType string

// Provider types.
const (
	ProviderTypeEnv   ProviderType = "env"
	ProviderTypeVault ProviderType = "vault"
)

// Errors returned by providers.
var (
	ErrSecretNotFound        = errors.New("secret not found")
	ErrProviderNotConfigured = errors.New("provider not configured")
	ErrInvalidProviderType   = errors.New("invalid provider type")
)

// SigningKeys are the secrets the gateway signs and verifies with.
type SigningKeys struct {
	JWTSecret   string
	InternalKey string
}

// Merge returns k with empty fields filled from fallback.
func (k SigningKeys) Merge(fallback SigningKeys) SigningKeys {
	if k.JWTSecret == "" {
		k.JWTSecret = fallback.JWTSecret
	}
	if k.InternalKey == "" {
		k.InternalKey = fallback.InternalKey
	}
	return k
}

// Provider fetches signing keys from a backend.
type Provider interface {
	Type() ProviderType
	// Keys returns the current keys. Missing keys are empty, not errors.
	Keys(ctx context.Context) (SigningKeys, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

// ValidateProviderType validates that the given string is a valid provider type.
func ValidateProviderType(providerType string) (ProviderType, error) {
	switch ProviderType(providerType) {
	case "":
		return ProviderTypeEnv, nil
	case ProviderTypeEnv, ProviderTypeVault:
		return ProviderType(providerType), nil
	default:
		return "", fmt.Errorf("%w: %s, must be one of: env, vault", ErrInvalidProviderType, providerType)
	}
}

// Metrics records provider operations.
type Metrics struct {
	duration *prometheus.HistogramVec
	total    *prometheus.CounterVec
}

// NewMetrics registers secrets metrics on reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "secrets",
			Name:      "operation_duration_seconds",
			Help:      "Duration of secrets provider operations in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "operation", "result"}),
		total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "secrets",
			Name:      "operation_total",
			Help:      "Total number of secrets provider operations",
		}, []string{"provider", "operation", "result"}),
	}
	if reg != nil {
		reg.MustRegister(m.duration, m.total)
	}
	return m
}

func (m *Metrics) record(provider ProviderType, operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.duration.WithLabelValues(string(provider), operation, result).Observe(d.Seconds())
	m.total.WithLabelValues(string(provider), operation, result).Inc()
}
