package discovery

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/kelmah/apigateway/internal/observability"
)

// Prober defaults.
const (
	DefaultProbeInterval      = 15 * time.Second
	DefaultProbeTimeout       = 3 * time.Second
	DefaultUnhealthyThreshold = 3
	DefaultHealthPath         = "/health"
)

// ProbeTarget is what a Prober needs from a registry.
type ProbeTarget interface {
	Resolver
	Services() []string
}

// HealthStatusFunc is called when a service changes health.
type HealthStatusFunc func(service string, healthy bool)

// Prober polls each service's health endpoint. A service is unhealthy
// after a run of consecutive failures and healthy again after one success.
// The prober only reports; it never removes services from resolution.
type Prober struct {
	target    ProbeTarget
	client    *http.Client
	interval  time.Duration
	threshold int
	path      string
	logger    observability.Logger
	onChange  HealthStatusFunc

	mu       sync.RWMutex
	healthy  map[string]bool
	failures map[string]int

	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

// ProberOption configures a Prober.
type ProberOption func(*Prober)

// WithProbeInterval sets the polling interval.
func WithProbeInterval(d time.Duration) ProberOption {
	return func(p *Prober) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithProbeClient sets the HTTP client.
func WithProbeClient(c *http.Client) ProberOption {
	return func(p *Prober) {
		p.client = c
	}
}

// WithUnhealthyThreshold sets the failures needed to mark a service down.
func WithUnhealthyThreshold(n int) ProberOption {
	return func(p *Prober) {
		if n > 0 {
			p.threshold = n
		}
	}
}

// WithProbeLogger sets the logger.
func WithProbeLogger(logger observability.Logger) ProberOption {
	return func(p *Prober) {
		p.logger = logger
	}
}

// WithHealthStatusCallback registers a health transition callback.
func WithHealthStatusCallback(fn HealthStatusFunc) ProberOption {
	return func(p *Prober) {
		p.onChange = fn
	}
}

// NewProber creates a Prober for target.
func NewProber(target ProbeTarget, opts ...ProberOption) *Prober {
	p := &Prober{
		target:    target,
		client:    &http.Client{Timeout: DefaultProbeTimeout},
		interval:  DefaultProbeInterval,
		threshold: DefaultUnhealthyThreshold,
		path:      DefaultHealthPath,
		logger:    observability.NopLogger(),
		healthy:   make(map[string]bool),
		failures:  make(map[string]int),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start begins polling in the background.
func (p *Prober) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go p.run(ctx)
}

// Stop halts polling and waits for the loop to exit.
func (p *Prober) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()

	close(p.stopCh)
	<-p.doneCh
}

// Snapshot returns the last known health of every probed service.
func (p *Prober) Snapshot() map[string]bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]bool, len(p.healthy))
	for k, v := range p.healthy {
		out[k] = v
	}
	return out
}

func (p *Prober) run(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.ProbeAll(ctx)
	for {
		select {
		case <-ticker.C:
			p.ProbeAll(ctx)
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// ProbeAll checks every service once.
func (p *Prober) ProbeAll(ctx context.Context) {
	for _, name := range p.target.Services() {
		p.record(name, p.probe(ctx, name))
	}
}

func (p *Prober) probe(ctx context.Context, service string) bool {
	base, err := p.target.Resolve(ctx, service)
	if err != nil {
		return false
	}
	base.Path = singleJoin(base.Path, p.path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.String(), http.NoBody)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

func (p *Prober) record(service string, ok bool) {
	p.mu.Lock()
	prev, known := p.healthy[service]
	if ok {
		p.failures[service] = 0
		p.healthy[service] = true
	} else {
		p.failures[service]++
		if p.failures[service] >= p.threshold || !known {
			p.healthy[service] = false
		}
	}
	now := p.healthy[service]
	p.mu.Unlock()

	if known && prev == now {
		return
	}
	if !now {
		p.logger.Warn("backend service unhealthy", observability.String("service", service))
	} else if known {
		p.logger.Info("backend service recovered", observability.String("service", service))
	}
	if p.onChange != nil {
		p.onChange(service, now)
	}
}

func singleJoin(a, b string) string {
	switch {
	case a == "":
		return b
	case a[len(a)-1] == '/':
		return a + b[1:]
	default:
		return a + b
	}
}
