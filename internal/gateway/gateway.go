package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/kelmah/apigateway/internal/config"
	"github.com/kelmah/apigateway/internal/discovery"
	"github.com/kelmah/apigateway/internal/health"
	"github.com/kelmah/apigateway/internal/identity"
	"github.com/kelmah/apigateway/internal/middleware"
	"github.com/kelmah/apigateway/internal/observability"
	"github.com/kelmah/apigateway/internal/router"
	"github.com/kelmah/apigateway/internal/secrets"
)

// State represents the gateway state.
type State int32

const (
	// StateStopped indicates the gateway is stopped.
	StateStopped State = iota
	// StateStarting indicates the gateway is starting.
	StateStarting
	// StateRunning indicates the gateway is running.
	StateRunning
	// StateStopping indicates the gateway is stopping.
	StateStopping
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Gateway owns every long-lived component of the process.
type Gateway struct {
	config    *config.GatewayConfig
	logger    observability.Logger
	version   string
	startTime time.Time
	state     atomic.Int32
	closed    atomic.Bool
	mu        sync.RWMutex

	// injected by options
	transport  http.RoundTripper
	store      identity.Store
	secretsSrc secrets.Provider
	configPath string

	metrics  *observability.Metrics
	tracer   *observability.Tracer
	cache    *identity.Cache
	pool     *pgxpool.Pool
	redis    *redis.Client
	registry *discovery.StaticRegistry
	prober   *discovery.Prober
	router   *router.Router
	limiter  *middleware.RateLimiter
	checker  *health.Checker
	watcher  *config.Watcher
	engine   *gin.Engine
	handler  http.Handler
	listener *Listener

	shutdownTimeout time.Duration
	drainDelay      time.Duration
}

// Option is a functional option for configuring the gateway.
type Option func(*Gateway)

// WithLogger sets the logger for the gateway.
func WithLogger(logger observability.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithVersion sets the version reported by /health and the banner.
func WithVersion(version string) Option {
	return func(g *Gateway) {
		g.version = version
	}
}

// WithTransport replaces the outbound transport below the circuit
// breakers.
func WithTransport(rt http.RoundTripper) Option {
	return func(g *Gateway) {
		g.transport = rt
	}
}

// WithIdentityStore replaces the datastore-backed user store.
func WithIdentityStore(s identity.Store) Option {
	return func(g *Gateway) {
		g.store = s
	}
}

// WithSecretsProvider replaces the provider selected by configuration.
func WithSecretsProvider(p secrets.Provider) Option {
	return func(g *Gateway) {
		g.secretsSrc = p
	}
}

// WithDrainDelay keeps serving for d after readiness starts failing on
// Stop, so load balancers stop routing before the listener closes.
func WithDrainDelay(d time.Duration) Option {
	return func(g *Gateway) {
		g.drainDelay = d
	}
}

// WithConfigPath enables hot reload of the file at path.
func WithConfigPath(path string) Option {
	return func(g *Gateway) {
		g.configPath = path
	}
}

// New builds a gateway from cfg. Connections to the datastore and Redis
// are opened lazily by their drivers, so New succeeds while they are down
// and readiness reports the failure.
func New(ctx context.Context, cfg *config.GatewayConfig, opts ...Option) (*Gateway, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	g := &Gateway{
		config:          cfg,
		logger:          observability.NopLogger(),
		version:         "dev",
		shutdownTimeout: cfg.Server.ShutdownTimeout.Duration(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.shutdownTimeout <= 0 {
		g.shutdownTimeout = config.DefaultShutdownTimeout
	}
	g.state.Store(int32(StateStopped))

	if err := g.build(ctx); err != nil {
		g.release(ctx)
		return nil, err
	}
	return g, nil
}

// Start opens the listener and starts background workers. A gateway that
// was stopped or closed cannot be started again.
func (g *Gateway) Start(ctx context.Context) error {
	if g.closed.Load() {
		return ErrGatewayClosed
	}
	if !g.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return ErrGatewayNotStopped
	}

	g.logger.Info("starting gateway",
		observability.String("address", g.config.Server.Address),
		observability.String("mode", string(g.registry.Mode())),
		observability.String("version", g.version),
	)

	g.listener = NewListener(g.config.Server, g.handler, WithListenerLogger(g.logger))
	if err := g.listener.Start(ctx); err != nil {
		g.state.Store(int32(StateStopped))
		return fmt.Errorf("failed to start listener: %w", err)
	}

	if g.prober != nil {
		g.prober.Start(context.WithoutCancel(ctx))
	}
	if g.limiter != nil {
		g.limiter.StartAutoCleanup()
	}
	if g.watcher != nil {
		if err := g.watcher.Start(context.WithoutCancel(ctx)); err != nil {
			g.logger.Error("config watcher failed to start, hot reload disabled",
				observability.Error(err),
			)
			g.watcher = nil
		}
	}

	g.checker.SetDraining(false)
	g.startTime = time.Now()
	g.state.Store(int32(StateRunning))

	g.logger.Info("gateway started",
		observability.String("address", g.listener.Address()),
		observability.Int("routes", len(g.router.Routes())),
	)

	return nil
}

// Stop marks the gateway as draining, shuts the listener down and
// releases every owned resource.
func (g *Gateway) Stop(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return ErrGatewayNotRunning
	}

	g.logger.Info("stopping gateway")
	g.checker.SetDraining(true)

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.shutdownTimeout)
		defer cancel()
	}

	if g.drainDelay > 0 {
		timer := time.NewTimer(g.drainDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	var stopErr error
	if err := g.listener.Stop(ctx); err != nil {
		g.logger.Error("failed to stop listener", observability.Error(err))
		stopErr = err
	}

	g.release(ctx)
	g.state.Store(int32(StateStopped))

	g.logger.Info("gateway stopped")

	return stopErr
}

// Close releases resources of a gateway that was never started.
func (g *Gateway) Close(ctx context.Context) {
	if g.State() == StateStopped {
		g.release(ctx)
	}
}

// release stops workers and closes clients. Every step tolerates a
// component that was never built.
func (g *Gateway) release(ctx context.Context) {
	if !g.closed.CompareAndSwap(false, true) {
		return
	}
	if g.watcher != nil {
		if err := g.watcher.Stop(); err != nil {
			g.logger.Warn("failed to stop config watcher", observability.Error(err))
		}
		g.watcher = nil
	}
	if g.prober != nil {
		g.prober.Stop()
	}
	if g.limiter != nil {
		g.limiter.Stop()
	}
	if g.cache != nil {
		if err := g.cache.Close(); err != nil {
			g.logger.Warn("failed to close identity cache", observability.Error(err))
		}
	}
	if g.redis != nil {
		if err := g.redis.Close(); err != nil {
			g.logger.Warn("failed to close redis client", observability.Error(err))
		}
		g.redis = nil
	}
	if g.pool != nil {
		g.pool.Close()
		g.pool = nil
	}
	if g.secretsSrc != nil {
		if err := g.secretsSrc.Close(); err != nil {
			g.logger.Warn("failed to close secrets provider", observability.Error(err))
		}
	}
	if g.tracer != nil {
		if err := g.tracer.Shutdown(ctx); err != nil {
			g.logger.Warn("failed to shut down tracer", observability.Error(err))
		}
		g.tracer = nil
	}
}

// Reload applies the reloadable parts of cfg: service URLs, discovery
// mode and the route table. Other sections need a restart.
func (g *Gateway) Reload(cfg *config.GatewayConfig) error {
	if err := config.ValidateConfig(cfg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.logger.Info("reloading gateway configuration")

	if err := g.registry.Update(discovery.Mode(cfg.Discovery.Mode), discoveryServices(cfg.Discovery.Services)); err != nil {
		return fmt.Errorf("failed to update service registry: %w", err)
	}
	if err := g.router.Load(routeTable(cfg.Routes)); err != nil {
		return fmt.Errorf("failed to load routes: %w", err)
	}
	g.config = cfg

	g.logger.Info("gateway configuration reloaded",
		observability.String("mode", string(g.registry.Mode())),
		observability.Int("routes", len(g.router.Routes())),
	)

	return nil
}

// State returns the current gateway state.
func (g *Gateway) State() State {
	return State(g.state.Load())
}

// IsRunning returns true if the gateway is running.
func (g *Gateway) IsRunning() bool {
	return g.State() == StateRunning
}

// Uptime returns the gateway uptime.
func (g *Gateway) Uptime() time.Duration {
	if g.startTime.IsZero() {
		return 0
	}
	return time.Since(g.startTime)
}

// Config returns the current configuration.
func (g *Gateway) Config() *config.GatewayConfig {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.config
}

// Handler returns the fully wrapped HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// Engine returns the gin engine below the middleware chain.
func (g *Gateway) Engine() *gin.Engine {
	return g.engine
}

// Address returns the listener address once started.
func (g *Gateway) Address() string {
	if g.listener == nil {
		return g.config.Server.Address
	}
	return g.listener.Address()
}

// IdentityCache returns the gateway-owned identity cache.
func (g *Gateway) IdentityCache() *identity.Cache {
	return g.cache
}
