package config

import "time"

// Default values.
const (
	DefaultListenAddress     = ":5000"
	DefaultReadTimeout       = 30 * time.Second
	DefaultWriteTimeout      = 60 * time.Second
	DefaultIdleTimeout       = 120 * time.Second
	DefaultShutdownTimeout   = 30 * time.Second
	DefaultProxyTimeout      = 30 * time.Second
	DefaultDirectAuthTimeout = 15 * time.Second
	DefaultBodyLimit         = 10 << 20
	DefaultRateLimitRPS      = 100
	DefaultRateLimitBurst    = 200
	DefaultCacheCapacity     = 500
	DefaultCacheTTL          = 300 * time.Second
	DefaultIssuer            = "kelmah-auth-service"
	DefaultAudience          = "kelmah-platform"
	DefaultMetricsPath       = "/metrics"
	DefaultMetricsNamespace  = "gateway"
)

// GatewayConfig is the root configuration of the gateway.
type GatewayConfig struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Auth      AuthConfig      `yaml:"auth" json:"auth"`
	Secrets   SecretsConfig   `yaml:"secrets" json:"secrets"`
	Datastore DatastoreConfig `yaml:"datastore" json:"datastore"`
	Redis     RedisConfig     `yaml:"redis" json:"redis"`
	Cache     CacheConfig     `yaml:"cache" json:"cache"`
	Discovery DiscoveryConfig `yaml:"discovery" json:"discovery"`
	Routes    []RouteConfig   `yaml:"routes,omitempty" json:"routes,omitempty"`
	Proxy     ProxyConfig     `yaml:"proxy" json:"proxy"`
	RateLimit RateLimitConfig `yaml:"rateLimit" json:"rateLimit"`
	CORS      CORSConfig      `yaml:"cors" json:"cors"`
	Security  SecurityConfig  `yaml:"security" json:"security"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing" json:"tracing"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address         string   `yaml:"address" json:"address"`
	ReadTimeout     Duration `yaml:"readTimeout" json:"readTimeout"`
	WriteTimeout    Duration `yaml:"writeTimeout" json:"writeTimeout"`
	IdleTimeout     Duration `yaml:"idleTimeout" json:"idleTimeout"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout" json:"shutdownTimeout"`
	// BodyLimit caps request bodies in bytes. Zero disables the limit.
	BodyLimit int64 `yaml:"bodyLimit" json:"bodyLimit"`
	// TrustedProxies lists CIDRs whose X-Forwarded-For is believed when
	// deriving the client IP.
	TrustedProxies []string `yaml:"trustedProxies" json:"trustedProxies"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// AuthConfig configures token verification and identity signing.
type AuthConfig struct {
	// JWTSecret verifies access tokens.
	JWTSecret string `yaml:"jwtSecret" json:"-"`
	// InternalKey signs identity headers. Falls back to JWTSecret.
	InternalKey   string   `yaml:"internalKey" json:"-"`
	Issuer        string   `yaml:"issuer" json:"issuer"`
	Audience      string   `yaml:"audience" json:"audience"`
	Algorithms    []string `yaml:"algorithms" json:"algorithms"`
	ClockSkew     Duration `yaml:"clockSkew" json:"clockSkew"`
	AccountChecks bool     `yaml:"accountChecks" json:"accountChecks"`
}

// SecretsConfig selects where signing secrets come from.
type SecretsConfig struct {
	// Provider is "env" (the default) or "vault".
	Provider string      `yaml:"provider" json:"provider"`
	Vault    VaultConfig `yaml:"vault" json:"vault"`
}

// VaultConfig configures the Vault KV v2 secrets provider.
type VaultConfig struct {
	Address string   `yaml:"address" json:"address"`
	Token   string   `yaml:"token" json:"-"`
	Mount   string   `yaml:"mount" json:"mount"`
	Path    string   `yaml:"path" json:"path"`
	Timeout Duration `yaml:"timeout" json:"timeout"`
}

// DatastoreConfig configures the user datastore.
type DatastoreConfig struct {
	URL      string `yaml:"url" json:"-"`
	MaxConns int32  `yaml:"maxConns" json:"maxConns"`
	// UUIDKeys rejects non-UUID user ids without querying.
	UUIDKeys bool `yaml:"uuidKeys" json:"uuidKeys"`
}

// RedisConfig configures the optional shared identity tier.
type RedisConfig struct {
	URL       string   `yaml:"url" json:"-"`
	KeyPrefix string   `yaml:"keyPrefix" json:"keyPrefix"`
	TTL       Duration `yaml:"ttl" json:"ttl"`
}

// CacheConfig configures the in-process identity cache.
type CacheConfig struct {
	Capacity int      `yaml:"capacity" json:"capacity"`
	TTL      Duration `yaml:"ttl" json:"ttl"`
}

// DiscoveryConfig configures backend service resolution.
type DiscoveryConfig struct {
	// Mode is "local" or "cloud".
	Mode     string          `yaml:"mode" json:"mode"`
	Services []ServiceConfig `yaml:"services" json:"services"`
	Probe    ProbeConfig     `yaml:"probe" json:"probe"`
}

// ServiceConfig is one backend service.
type ServiceConfig struct {
	Name     string `yaml:"name" json:"name"`
	LocalURL string `yaml:"localURL" json:"localURL"`
	CloudURL string `yaml:"cloudURL" json:"cloudURL"`
}

// ProbeConfig configures backend health probing.
type ProbeConfig struct {
	Enabled            bool     `yaml:"enabled" json:"enabled"`
	Interval           Duration `yaml:"interval" json:"interval"`
	UnhealthyThreshold int      `yaml:"unhealthyThreshold" json:"unhealthyThreshold"`
}

// RouteConfig is one entry of the route table.
type RouteConfig struct {
	Name                 string              `yaml:"name" json:"name"`
	Exact                string              `yaml:"exact,omitempty" json:"exact,omitempty"`
	Prefix               string              `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Regex                string              `yaml:"regex,omitempty" json:"regex,omitempty"`
	Methods              []string            `yaml:"methods,omitempty" json:"methods,omitempty"`
	Service              string              `yaml:"service" json:"service"`
	Auth                 string              `yaml:"auth,omitempty" json:"auth,omitempty"`
	Roles                []string            `yaml:"roles,omitempty" json:"roles,omitempty"`
	MethodRoles          map[string][]string `yaml:"methodRoles,omitempty" json:"methodRoles,omitempty"`
	RequireEmailVerified bool                `yaml:"requireEmailVerified,omitempty" json:"requireEmailVerified,omitempty"`
	Rewrite              []RewriteConfig     `yaml:"rewrite,omitempty" json:"rewrite,omitempty"`
	NoSlashBeforeQuery   bool                `yaml:"noSlashBeforeQuery,omitempty" json:"noSlashBeforeQuery,omitempty"`
	Timeout              Duration            `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// RewriteConfig is a regex rewrite applied to the forwarded URI.
type RewriteConfig struct {
	Pattern     string `yaml:"pattern" json:"pattern"`
	Replacement string `yaml:"replacement" json:"replacement"`
}

// ProxyConfig configures forwarding.
type ProxyConfig struct {
	Timeout           Duration      `yaml:"timeout" json:"timeout"`
	DirectAuthTimeout Duration      `yaml:"directAuthTimeout" json:"directAuthTimeout"`
	CircuitBreaker    BreakerConfig `yaml:"circuitBreaker" json:"circuitBreaker"`
}

// BreakerConfig configures per-service circuit breakers.
type BreakerConfig struct {
	Enabled             bool     `yaml:"enabled" json:"enabled"`
	ConsecutiveFailures uint32   `yaml:"consecutiveFailures" json:"consecutiveFailures"`
	OpenTimeout         Duration `yaml:"openTimeout" json:"openTimeout"`
	HalfOpenRequests    uint32   `yaml:"halfOpenRequests" json:"halfOpenRequests"`
}

// RateLimitConfig configures per-client rate limiting.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" json:"enabled"`
	RequestsPerSecond int  `yaml:"requestsPerSecond" json:"requestsPerSecond"`
	Burst             int  `yaml:"burst" json:"burst"`
}

// CORSConfig configures cross-origin requests.
type CORSConfig struct {
	AllowOrigins     []string `yaml:"allowOrigins" json:"allowOrigins"`
	AllowMethods     []string `yaml:"allowMethods" json:"allowMethods"`
	AllowHeaders     []string `yaml:"allowHeaders" json:"allowHeaders"`
	ExposeHeaders    []string `yaml:"exposeHeaders" json:"exposeHeaders"`
	AllowCredentials bool     `yaml:"allowCredentials" json:"allowCredentials"`
	MaxAge           int      `yaml:"maxAge" json:"maxAge"`
}

// SecurityConfig controls the security headers added to every response.
type SecurityConfig struct {
	Enabled                   bool   `yaml:"enabled" json:"enabled"`
	FrameOptions              string `yaml:"frameOptions" json:"frameOptions"`
	ReferrerPolicy            string `yaml:"referrerPolicy" json:"referrerPolicy"`
	ContentSecurityPolicy     string `yaml:"contentSecurityPolicy" json:"contentSecurityPolicy"`
	CrossOriginResourcePolicy string `yaml:"crossOriginResourcePolicy" json:"crossOriginResourcePolicy"`
	HSTSMaxAge                int    `yaml:"hstsMaxAge" json:"hstsMaxAge"`
	HSTSIncludeSubDomains     bool   `yaml:"hstsIncludeSubDomains" json:"hstsIncludeSubDomains"`

	// RemoveHeaders are stripped from every response, upstream ones included.
	RemoveHeaders []string `yaml:"removeHeaders" json:"removeHeaders"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Path      string `yaml:"path" json:"path"`
	Namespace string `yaml:"namespace" json:"namespace"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	ServiceName  string  `yaml:"serviceName" json:"serviceName"`
	OTLPEndpoint string  `yaml:"otlpEndpoint" json:"otlpEndpoint"`
	SamplingRate float64 `yaml:"samplingRate" json:"samplingRate"`
}

// DefaultServices returns the platform services with their local and
// hosted URLs.
func DefaultServices() []ServiceConfig {
	return []ServiceConfig{
		{Name: "auth", LocalURL: "http://localhost:5001", CloudURL: "https://kelmah-auth-service.onrender.com"},
		{Name: "user", LocalURL: "http://localhost:5002", CloudURL: "https://kelmah-user-service.onrender.com"},
		{Name: "job", LocalURL: "http://localhost:5003", CloudURL: "https://kelmah-job-service.onrender.com"},
		{Name: "messaging", LocalURL: "http://localhost:5004", CloudURL: "https://kelmah-messaging-service.onrender.com"},
		{Name: "payment", LocalURL: "http://localhost:5005", CloudURL: "https://kelmah-payment-service.onrender.com"},
		{Name: "review", LocalURL: "http://localhost:5006", CloudURL: "https://kelmah-review-service.onrender.com"},
	}
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *GatewayConfig {
	return &GatewayConfig{
		Server: ServerConfig{
			Address:         DefaultListenAddress,
			ReadTimeout:     Duration(DefaultReadTimeout),
			WriteTimeout:    Duration(DefaultWriteTimeout),
			IdleTimeout:     Duration(DefaultIdleTimeout),
			ShutdownTimeout: Duration(DefaultShutdownTimeout),
			BodyLimit:       DefaultBodyLimit,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Auth: AuthConfig{
			Issuer:        DefaultIssuer,
			Audience:      DefaultAudience,
			Algorithms:    []string{"HS256"},
			AccountChecks: true,
		},
		Secrets:   SecretsConfig{Provider: "env", Vault: VaultConfig{Mount: "secret", Path: "kelmah/gateway"}},
		Datastore: DatastoreConfig{MaxConns: 10, UUIDKeys: true},
		Redis:     RedisConfig{KeyPrefix: "gateway:identity:", TTL: Duration(DefaultCacheTTL)},
		Cache:     CacheConfig{Capacity: DefaultCacheCapacity, TTL: Duration(DefaultCacheTTL)},
		Discovery: DiscoveryConfig{
			Mode:     "local",
			Services: DefaultServices(),
			Probe:    ProbeConfig{Interval: Duration(15 * time.Second), UnhealthyThreshold: 3},
		},
		Proxy: ProxyConfig{
			Timeout:           Duration(DefaultProxyTimeout),
			DirectAuthTimeout: Duration(DefaultDirectAuthTimeout),
			CircuitBreaker: BreakerConfig{
				Enabled:             true,
				ConsecutiveFailures: 5,
				OpenTimeout:         Duration(30 * time.Second),
				HalfOpenRequests:    1,
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: DefaultRateLimitRPS,
			Burst:             DefaultRateLimitBurst,
		},
		CORS: CORSConfig{
			AllowOrigins: []string{
				"http://localhost:3000",
				"http://localhost:5173",
				"http://127.0.0.1:5173",
				"https://kelmah-frontend-cyan.vercel.app",
				"https://kelmah-frontend-mu.vercel.app",
			},
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", "Authorization", "X-Request-ID"},
			ExposeHeaders:    []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           86400,
		},
		Security: SecurityConfig{
			Enabled:                   true,
			FrameOptions:              "SAMEORIGIN",
			ReferrerPolicy:            "no-referrer",
			ContentSecurityPolicy:     "default-src 'self'",
			CrossOriginResourcePolicy: "same-origin",
			HSTSMaxAge:                15552000,
			HSTSIncludeSubDomains:     true,
			RemoveHeaders:             []string{"X-Powered-By", "Server"},
		},
		Metrics: MetricsConfig{Enabled: true, Path: DefaultMetricsPath, Namespace: DefaultMetricsNamespace},
		Tracing: TracingConfig{ServiceName: "kelmah-api-gateway", SamplingRate: 1.0},
	}
}

// Service returns the named service entry.
func (c *GatewayConfig) Service(name string) (ServiceConfig, bool) {
	for _, s := range c.Discovery.Services {
		if s.Name == name {
			return s, true
		}
	}
	return ServiceConfig{}, false
}
