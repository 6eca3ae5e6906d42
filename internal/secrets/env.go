package secrets

import (
	"context"
	"os"
	"strings"
	"time"
)

// Default environment variable names.
const (
	DefaultJWTSecretEnv   = "JWT_SECRET"
	DefaultInternalKeyEnv = "INTERNAL_API_KEY"
)

// EnvProvider reads signing keys from environment variables.
type EnvProvider struct {
	jwtVar      string
	internalVar string
	lookup      func(string) (string, bool)
	metrics     *Metrics
}

// EnvOption configures an EnvProvider.
type EnvOption func(*EnvProvider)

// WithEnvLookup replaces os.LookupEnv.
func WithEnvLookup(fn func(string) (string, bool)) EnvOption {
	return func(p *EnvProvider) {
		p.lookup = fn
	}
}

// WithEnvNames overrides the variable names.
func WithEnvNames(jwtVar, internalVar string) EnvOption {
	return func(p *EnvProvider) {
		if jwtVar != "" {
			p.jwtVar = jwtVar
		}
		if internalVar != "" {
			p.internalVar = internalVar
		}
	}
}

// WithEnvMetrics records reads.
func WithEnvMetrics(m *Metrics) EnvOption {
	return func(p *EnvProvider) {
		p.metrics = m
	}
}

// NewEnvProvider creates an environment provider.
func NewEnvProvider(opts ...EnvOption) *EnvProvider {
	p := &EnvProvider{
		jwtVar:      DefaultJWTSecretEnv,
		internalVar: DefaultInternalKeyEnv,
		lookup:      os.LookupEnv,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Type returns ProviderTypeEnv.
func (p *EnvProvider) Type() ProviderType { return ProviderTypeEnv }

// Keys reads the variables; surrounding whitespace is trimmed.
func (p *EnvProvider) Keys(_ context.Context) (SigningKeys, error) {
	start := time.Now()
	keys := SigningKeys{
		JWTSecret:   p.get(p.jwtVar),
		InternalKey: p.get(p.internalVar),
	}
	p.metrics.record(p.Type(), "keys", time.Since(start), nil)
	return keys, nil
}

func (p *EnvProvider) get(name string) string {
	v, _ := p.lookup(name)
	return strings.TrimSpace(v)
}

// HealthCheck always succeeds.
func (p *EnvProvider) HealthCheck(context.Context) error { return nil }

// Close is a no-op.
func (p *EnvProvider) Close() error { return nil }
