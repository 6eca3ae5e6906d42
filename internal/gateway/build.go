package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kelmah/apigateway/internal/auth"
	"github.com/kelmah/apigateway/internal/auth/jwt"
	"github.com/kelmah/apigateway/internal/authz"
	"github.com/kelmah/apigateway/internal/config"
	"github.com/kelmah/apigateway/internal/discovery"
	"github.com/kelmah/apigateway/internal/health"
	"github.com/kelmah/apigateway/internal/identity"
	"github.com/kelmah/apigateway/internal/middleware"
	"github.com/kelmah/apigateway/internal/observability"
	"github.com/kelmah/apigateway/internal/proxy"
	"github.com/kelmah/apigateway/internal/router"
	"github.com/kelmah/apigateway/internal/secrets"
	"github.com/kelmah/apigateway/internal/trust"
)

// build wires every component. On error the caller releases whatever was
// already created.
func (g *Gateway) build(ctx context.Context) error {
	cfg := g.config
	ns := cfg.Metrics.Namespace
	if ns == "" {
		ns = config.DefaultMetricsNamespace
	}

	g.metrics = observability.NewMetrics(ns)
	g.metrics.SetBuildInfo(g.version, "")
	reg := g.metrics.Registry()

	tracer, err := observability.NewTracer(ctx, observability.TracerConfig{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SamplingRate: cfg.Tracing.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	g.tracer = tracer

	keys, err := g.signingKeys(ctx, secrets.NewMetrics(ns, reg))
	if err != nil {
		return err
	}

	verifier, err := jwt.NewVerifier(jwt.Config{
		Secret:     keys.JWTSecret,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		Algorithms: cfg.Auth.Algorithms,
		ClockSkew:  cfg.Auth.ClockSkew.Duration(),
	}, jwt.WithMetrics(jwt.NewMetrics(ns, reg)))
	if err != nil {
		return fmt.Errorf("failed to create token verifier: %w", err)
	}

	identityMetrics := identity.NewMetrics(ns, reg)
	g.cache = identity.NewCache(
		identity.WithCapacity(cfg.Cache.Capacity),
		identity.WithTTL(cfg.Cache.TTL.Duration()),
		identity.WithCacheLogger(g.logger),
		identity.WithCacheMetrics(identityMetrics),
	)

	g.checker = health.NewChecker(g.version,
		health.WithLogger(g.logger),
		health.WithMetrics(health.NewMetrics(ns, reg)),
	)

	store, err := g.identityStore(ctx, identityMetrics)
	if err != nil {
		return err
	}
	resolver := identity.NewResolver(g.cache, store,
		identity.WithResolverLogger(g.logger),
		identity.WithResolverMetrics(identityMetrics),
	)

	authn := auth.NewAuthenticator(verifier, resolver,
		auth.WithLogger(g.logger),
		auth.WithAccountChecks(cfg.Auth.AccountChecks),
		auth.WithRegisterer(ns, reg),
	)
	authorizer := authz.New(
		authz.WithLogger(g.logger),
		authz.WithRegisterer(ns, reg),
	)

	g.registry, err = discovery.NewStaticRegistry(
		discovery.Mode(cfg.Discovery.Mode),
		discoveryServices(cfg.Discovery.Services),
	)
	if err != nil {
		return fmt.Errorf("failed to create service registry: %w", err)
	}
	if cfg.Discovery.Probe.Enabled {
		g.prober = discovery.NewProber(g.registry,
			discovery.WithProbeInterval(cfg.Discovery.Probe.Interval.Duration()),
			discovery.WithUnhealthyThreshold(cfg.Discovery.Probe.UnhealthyThreshold),
			discovery.WithProbeLogger(g.logger),
		)
		g.checker.RegisterCheck("services", false, health.ServicesCheck(g.prober.Snapshot))
	}

	g.router = router.New()
	if err := g.router.Load(routeTable(cfg.Routes)); err != nil {
		return fmt.Errorf("failed to load routes: %w", err)
	}

	proxyMetrics := proxy.NewMetrics(ns, reg)
	transport := g.outboundTransport(proxyMetrics)
	forwarder := proxy.New(trust.NewSigner(keys.InternalKey, keys.JWTSecret),
		proxy.WithTransport(transport),
		proxy.WithLogger(g.logger),
		proxy.WithMetrics(proxyMetrics),
		proxy.WithDefaultTimeout(cfg.Proxy.Timeout.Duration()),
	)

	routed := router.NewHandler(g.router, g.registry, authn, authorizer, forwarder,
		router.WithHandlerLogger(g.logger),
	)
	direct := &directAuth{
		services:  g.registry,
		transport: transport,
		timeout:   cfg.Proxy.DirectAuthTimeout.Duration(),
		logger:    g.logger,
	}

	g.engine, err = g.newEngine(direct, routed)
	if err != nil {
		return err
	}
	g.handler = g.wrap(g.engine)

	if g.configPath != "" {
		g.watcher, err = config.NewWatcher(g.configPath, g.onConfigChange,
			config.WithLogger(g.logger),
			config.WithInitialConfig(cfg),
		)
		if err != nil {
			return fmt.Errorf("failed to create config watcher: %w", err)
		}
	}

	return nil
}

// signingKeys loads the JWT and internal keys. A failing provider falls
// back to the configured values so the gateway still starts.
func (g *Gateway) signingKeys(ctx context.Context, metrics *secrets.Metrics) (secrets.SigningKeys, error) {
	if g.secretsSrc == nil {
		p, err := secrets.NewProvider(g.config.Secrets, g.logger, metrics)
		if err != nil {
			return secrets.SigningKeys{}, fmt.Errorf("failed to create secrets provider: %w", err)
		}
		g.secretsSrc = p
	}

	fallback := secrets.SigningKeys{
		JWTSecret:   g.config.Auth.JWTSecret,
		InternalKey: g.config.Auth.InternalKey,
	}
	keys, err := secrets.Resolve(ctx, g.secretsSrc, fallback)
	if err != nil {
		g.logger.Error("signing keys unavailable from provider, using configured values",
			observability.String("provider", string(g.secretsSrc.Type())),
			observability.Error(err),
		)
	}
	if keys.JWTSecret == "" {
		g.logger.Warn("JWT secret is not configured; every token will be rejected")
	}
	if keys.InternalKey == "" {
		g.logger.Warn("internal key is not configured; identity headers are signed with the JWT secret")
	}
	return keys, nil
}

// identityStore builds the user store chain: Postgres, optionally behind
// the shared Redis tier. Without a datastore every lookup fails with a
// datastore error, which surfaces as AUTH_DB_ERROR.
func (g *Gateway) identityStore(ctx context.Context, metrics *identity.Metrics) (identity.Store, error) {
	cfg := g.config
	store := g.store

	if store == nil && cfg.Datastore.URL != "" {
		pool, err := identity.NewPool(ctx, cfg.Datastore.URL, cfg.Datastore.MaxConns)
		if err != nil {
			return nil, err
		}
		g.pool = pool
		pg := identity.NewPostgresStore(pool,
			identity.WithPostgresLogger(g.logger),
			identity.WithUUIDKeys(cfg.Datastore.UUIDKeys),
		)
		g.checker.RegisterCheck("datastore", true, health.PingCheck(pg))
		store = pg
	}
	if store == nil {
		g.logger.Warn("no user datastore configured; authenticated routes will fail")
		store = identity.StoreFunc(func(context.Context, string) (identity.Identity, error) {
			return identity.Identity{}, fmt.Errorf("%w: no datastore configured", identity.ErrDatastore)
		})
	}

	if cfg.Redis.URL != "" {
		client, err := identity.NewRedisClient(cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		g.redis = client
		rs := identity.NewRedisStore(client, store,
			identity.WithRedisKeyPrefix(cfg.Redis.KeyPrefix),
			identity.WithRedisTTL(cfg.Redis.TTL.Duration()),
			identity.WithRedisLogger(g.logger),
			identity.WithRedisMetrics(metrics),
		)
		g.checker.RegisterCheck("redis", false, health.PingCheck(rs))
		store = rs
	}
	return store, nil
}

// outboundTransport puts the per-service circuit breakers in front of the
// base transport.
func (g *Gateway) outboundTransport(metrics *proxy.Metrics) http.RoundTripper {
	base := g.transport
	if base == nil {
		base = proxy.NewTransport()
	}
	cb := g.config.Proxy.CircuitBreaker
	if !cb.Enabled {
		return base
	}
	return proxy.NewBreakerTransport(base, proxy.BreakerConfig{
		ConsecutiveFailures: cb.ConsecutiveFailures,
		OpenTimeout:         cb.OpenTimeout.Duration(),
		HalfOpenRequests:    cb.HalfOpenRequests,
	}, g.logger, metrics)
}

// wrap applies the HTTP middleware chain around the engine. Order is
// outermost first.
func (g *Gateway) wrap(h http.Handler) http.Handler {
	cfg := g.config
	ips := middleware.NewClientIPExtractor(cfg.Server.TrustedProxies)

	var rateLimit middleware.Middleware
	if cfg.RateLimit.Enabled {
		g.limiter = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst,
			middleware.WithRateLimiterLogger(g.logger),
			middleware.WithRateLimiterMetrics(g.metrics),
			middleware.WithClientIPExtractor(ips),
		)
		rateLimit = g.limiter.Middleware()
	}

	return middleware.Chain(h,
		middleware.RequestID(),
		observability.TracingMiddleware(g.tracer),
		middleware.Logging(g.logger, g.metrics, ips),
		middleware.Recovery(g.logger, g.metrics),
		middleware.SecurityHeaders(cfg.Security),
		middleware.CORS(middleware.CORSFromConfig(cfg.CORS)),
		rateLimit,
		middleware.BodyLimit(cfg.Server.BodyLimit, g.logger),
	)
}

// onConfigChange applies a reloaded configuration from the watcher.
func (g *Gateway) onConfigChange(_, next *config.GatewayConfig) {
	if err := g.Reload(next); err != nil {
		g.logger.Error("failed to apply reloaded configuration", observability.Error(err))
	}
}

// newEngine registers the gateway's own endpoints. Everything else falls
// through to the routed pipeline.
func (g *Gateway) newEngine(direct *directAuth, routed http.Handler) (*gin.Engine, error) {
	engine := gin.New()
	if err := engine.SetTrustedProxies(g.config.Server.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}
	engine.Use(routeTag())

	engine.GET("/", g.banner)
	engine.GET("/health", gin.WrapF(g.checker.HealthHandler()))
	engine.GET("/health/ready", gin.WrapF(g.checker.ReadinessHandler()))
	engine.GET("/health/live", gin.WrapF(g.checker.LivenessHandler()))
	if g.config.Metrics.Enabled {
		path := g.config.Metrics.Path
		if path == "" {
			path = config.DefaultMetricsPath
		}
		engine.GET(path, gin.WrapH(g.metrics.Handler()))
	}

	engine.POST("/api/auth/login", direct.handle)
	engine.POST("/api/auth/register", direct.handle)

	engine.NoRoute(gin.WrapH(routed))
	return engine, nil
}
