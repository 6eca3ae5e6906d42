package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kelmah/apigateway/internal/observability"
)

// Status is the state reported for the gateway or a single check.
type Status string

const (
	// StatusUp means the component is serving.
	StatusUp Status = "UP"
	// StatusDegraded means a non-critical dependency is failing.
	StatusDegraded Status = "DEGRADED"
	// StatusDown means the gateway cannot serve traffic.
	StatusDown Status = "DOWN"
)

// DefaultCheckTimeout bounds each readiness check.
const DefaultCheckTimeout = 3 * time.Second

const healthMessage = "API Gateway is running"

// HealthResponse is the body of /health.
type HealthResponse struct {
	Status    Status    `json:"status"`
	Message   string    `json:"message"`
	Version   string    `json:"version,omitempty"`
	Uptime    string    `json:"uptime,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadinessResponse is the body of /health/ready.
type ReadinessResponse struct {
	Status    Status           `json:"status"`
	Draining  bool             `json:"draining,omitempty"`
	Checks    map[string]Check `json:"checks,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Check is the result of one dependency check.
type Check struct {
	Status   Status `json:"status"`
	Critical bool   `json:"critical"`
	Message  string `json:"message,omitempty"`
	Latency  string `json:"latency,omitempty"`
}

// CheckFunc reports a dependency failure as an error.
type CheckFunc func(ctx context.Context) error

type registered struct {
	fn       CheckFunc
	critical bool
}

// Checker aggregates dependency checks.
type Checker struct {
	version   string
	startTime time.Time
	timeout   time.Duration
	logger    observability.Logger
	metrics   *Metrics
	now       func() time.Time

	mu       sync.RWMutex
	checks   map[string]registered
	draining atomic.Bool
}

// Option configures a Checker.
type Option func(*Checker)

// WithCheckTimeout sets the per-check deadline.
func WithCheckTimeout(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger used for failing checks.
func WithLogger(logger observability.Logger) Option {
	return func(c *Checker) {
		c.logger = logger
	}
}

// WithMetrics records check outcomes.
func WithMetrics(m *Metrics) Option {
	return func(c *Checker) {
		c.metrics = m
	}
}

// NewChecker creates a new health checker.
func NewChecker(version string, opts ...Option) *Checker {
	c := &Checker{
		version:   version,
		startTime: time.Now(),
		timeout:   DefaultCheckTimeout,
		logger:    observability.NopLogger(),
		now:       time.Now,
		checks:    make(map[string]registered),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterCheck adds or replaces a named check. A failing critical check
// makes the gateway not ready; a failing non-critical one only degrades it.
func (c *Checker) RegisterCheck(name string, critical bool, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = registered{fn: fn, critical: critical}
}

// UnregisterCheck removes a check.
func (c *Checker) UnregisterCheck(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.checks, name)
}

// CheckNames returns the registered check names in sorted order.
func (c *Checker) CheckNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetDraining marks the gateway as shutting down. Readiness fails from then
// on so load balancers stop sending traffic before the listener closes.
func (c *Checker) SetDraining(draining bool) {
	c.draining.Store(draining)
}

// IsDraining reports whether SetDraining(true) was called.
func (c *Checker) IsDraining() bool {
	return c.draining.Load()
}

// Health returns the liveness view.
func (c *Checker) Health() HealthResponse {
	return HealthResponse{
		Status:    StatusUp,
		Message:   healthMessage,
		Version:   c.version,
		Uptime:    c.now().Sub(c.startTime).Round(time.Second).String(),
		Timestamp: c.now(),
	}
}

// Readiness runs every check concurrently and aggregates the results.
func (c *Checker) Readiness(ctx context.Context) ReadinessResponse {
	c.mu.RLock()
	checks := make(map[string]registered, len(c.checks))
	for name, r := range c.checks {
		checks[name] = r
	}
	c.mu.RUnlock()

	resp := ReadinessResponse{
		Status:    StatusUp,
		Checks:    make(map[string]Check, len(checks)),
		Timestamp: c.now(),
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for name, r := range checks {
		wg.Add(1)
		go func(name string, r registered) {
			defer wg.Done()
			result := c.run(ctx, name, r)
			mu.Lock()
			resp.Checks[name] = result
			mu.Unlock()
		}(name, r)
	}
	wg.Wait()

	for _, check := range resp.Checks {
		switch {
		case check.Status == StatusDown && check.Critical:
			resp.Status = StatusDown
		case check.Status == StatusDown && resp.Status == StatusUp:
			resp.Status = StatusDegraded
		}
	}

	if c.IsDraining() {
		resp.Draining = true
		resp.Status = StatusDown
	}

	c.metrics.recordOverall(resp.Status)
	return resp
}

func (c *Checker) run(ctx context.Context, name string, r registered) Check {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := c.now()
	err := r.fn(ctx)
	elapsed := c.now().Sub(start)

	c.metrics.recordCheck(name, err == nil, elapsed)

	check := Check{
		Status:   StatusUp,
		Critical: r.critical,
		Latency:  elapsed.Round(time.Millisecond).String(),
	}
	if err != nil {
		check.Status = StatusDown
		check.Message = err.Error()
		c.logger.Warn("readiness check failed",
			observability.String("check", name),
			observability.Bool("critical", r.critical),
			observability.Error(err),
		)
	}
	return check
}

// HealthHandler serves /health.
func (c *Checker) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, c.Health())
	}
}

// ReadinessHandler serves /health/ready.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := c.Readiness(r.Context())
		status := http.StatusOK
		if resp.Status == StatusDown {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	}
}

// LivenessHandler serves /health/live.
func (c *Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]Status{"status": StatusUp})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
