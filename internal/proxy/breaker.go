package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/kelmah/apigateway/internal/observability"
)

// Breaker defaults.
const (
	DefaultBreakerFailures = 5
	DefaultBreakerTimeout  = 30 * time.Second
)

// BreakerConfig configures per-service circuit breakers.
type BreakerConfig struct {
	// ConsecutiveFailures opens the breaker after that many transport
	// failures in a row.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before a probe.
	OpenTimeout time.Duration
	// HalfOpenRequests bounds concurrent probes while half-open.
	HalfOpenRequests uint32
}

// DefaultBreakerConfig returns the default breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: DefaultBreakerFailures,
		OpenTimeout:         DefaultBreakerTimeout,
		HalfOpenRequests:    1,
	}
}

// BreakerTransport wraps a RoundTripper with one circuit breaker per
// backend service. Only transport errors count as failures; upstream 5xx
// responses are passed through untouched.
type BreakerTransport struct {
	next    http.RoundTripper
	cfg     BreakerConfig
	logger  observability.Logger
	metrics *Metrics

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakerTransport wraps next. A nil next uses http.DefaultTransport.
func NewBreakerTransport(next http.RoundTripper, cfg BreakerConfig, logger observability.Logger, metrics *Metrics) *BreakerTransport {
	if next == nil {
		next = http.DefaultTransport
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = DefaultBreakerFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultBreakerTimeout
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = 1
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &BreakerTransport{
		next:     next,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// RoundTrip implements http.RoundTripper.
func (t *BreakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	name := serviceFromContext(req.Context())
	if name == "" {
		name = req.URL.Host
	}

	result, err := t.breaker(name).Execute(func() (interface{}, error) {
		return t.next.RoundTrip(req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, name)
	}
	if err != nil {
		return nil, err
	}
	return result.(*http.Response), nil
}

// State returns the breaker state of a service.
func (t *BreakerTransport) State(service string) gobreaker.State {
	return t.breaker(service).State()
}

func (t *BreakerTransport) breaker(name string) *gobreaker.CircuitBreaker {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cb, ok := t.breakers[name]; ok {
		return cb
	}

	threshold := t.cfg.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: t.cfg.HalfOpenRequests,
		Timeout:     t.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			t.logger.Warn("circuit breaker state change",
				observability.String("service", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
			t.metrics.setBreakerState(name, float64(to))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	t.breakers[name] = cb
	t.metrics.setBreakerState(name, float64(gobreaker.StateClosed))
	return cb
}

type serviceKey struct{}

// ContextWithService names the backend for the breaker transport on
// requests that do not go through Forward.
func ContextWithService(ctx context.Context, service string) context.Context {
	return context.WithValue(ctx, serviceKey{}, service)
}

func serviceFromContext(ctx context.Context) string {
	s, _ := ctx.Value(serviceKey{}).(string)
	return s
}
