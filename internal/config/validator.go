package config

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap/zapcore"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// HasErrors returns true if there are validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates gateway configuration.
type Validator struct {
	errors   ValidationErrors
	warnings []string
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// ValidateConfig validates a gateway configuration.
func ValidateConfig(config *GatewayConfig) error {
	v := NewValidator()
	return v.Validate(config)
}

// Validate validates the configuration and returns any errors.
func (v *Validator) Validate(config *GatewayConfig) error {
	v.errors = make(ValidationErrors, 0)
	v.warnings = nil

	if config == nil {
		v.addError("", "configuration is nil")
		return v.errors
	}

	v.validateServer(&config.Server)
	v.validateLogging(&config.Logging)
	v.validateAuth(&config.Auth)
	v.validateSecrets(&config.Secrets)
	v.validateCache(&config.Cache)
	v.validateDiscovery(&config.Discovery)
	v.validateRoutes(config.Routes, config.Discovery.Services)
	v.validateProxy(&config.Proxy)
	v.validateRateLimit(&config.RateLimit)
	v.validateSecurity(&config.Security)
	v.validateTracing(&config.Tracing)

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

// Warnings returns non-fatal findings of the last Validate call.
func (v *Validator) Warnings() []string {
	return v.warnings
}

func (v *Validator) validateServer(s *ServerConfig) {
	if s.Address == "" {
		v.addError("server.address", "address is required")
	} else if _, _, err := net.SplitHostPort(s.Address); err != nil {
		v.addError("server.address", fmt.Sprintf("invalid address: %v", err))
	}
	if s.ReadTimeout < 0 || s.WriteTimeout < 0 || s.IdleTimeout < 0 || s.ShutdownTimeout < 0 {
		v.addError("server", "timeouts must not be negative")
	}
	if s.BodyLimit < 0 {
		v.addError("server.bodyLimit", "bodyLimit must not be negative")
	}
	for i, p := range s.TrustedProxies {
		if _, _, err := net.ParseCIDR(p); err != nil && net.ParseIP(p) == nil {
			v.addError(fmt.Sprintf("server.trustedProxies[%d]", i), fmt.Sprintf("invalid CIDR or IP %q", p))
		}
	}
}

func (v *Validator) validateLogging(l *LoggingConfig) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		v.addError("logging.level", fmt.Sprintf("invalid level %q", l.Level))
	}
	switch l.Format {
	case "", "json", "console":
	default:
		v.addError("logging.format", "format must be json or console")
	}
}

// validateAuth never fails on a missing secret; the gateway still starts
// and rejects every token.
func (v *Validator) validateAuth(a *AuthConfig) {
	if a.JWTSecret == "" {
		v.warnings = append(v.warnings, "auth.jwtSecret is empty; all tokens will be rejected")
	}
	if a.InternalKey == "" {
		v.warnings = append(v.warnings, "auth.internalKey is empty; identity headers are signed with the JWT secret")
	}
	for i, alg := range a.Algorithms {
		switch alg {
		case "HS256", "HS384", "HS512":
		default:
			v.addError(fmt.Sprintf("auth.algorithms[%d]", i), fmt.Sprintf("unsupported algorithm %q", alg))
		}
	}
	if a.ClockSkew < 0 {
		v.addError("auth.clockSkew", "clockSkew must not be negative")
	}
}

func (v *Validator) validateSecrets(s *SecretsConfig) {
	switch s.Provider {
	case "", "env":
	case "vault":
		if s.Vault.Address == "" {
			v.addError("secrets.vault.address", "address is required for the vault provider")
		}
		if s.Vault.Path == "" {
			v.addError("secrets.vault.path", "path is required for the vault provider")
		}
	default:
		v.addError("secrets.provider", "provider must be env or vault")
	}
}

func (v *Validator) validateCache(c *CacheConfig) {
	if c.Capacity <= 0 {
		v.addError("cache.capacity", "capacity must be positive")
	}
	if c.TTL <= 0 {
		v.addError("cache.ttl", "ttl must be positive")
	}
}

func (v *Validator) validateDiscovery(d *DiscoveryConfig) {
	switch d.Mode {
	case "", "local", "cloud":
	default:
		v.addError("discovery.mode", "mode must be local or cloud")
	}

	names := make(map[string]bool)
	for i, s := range d.Services {
		path := fmt.Sprintf("discovery.services[%d]", i)
		switch {
		case s.Name == "":
			v.addError(path+".name", "service name is required")
		case names[s.Name]:
			v.addError(path+".name", fmt.Sprintf("duplicate service name: %s", s.Name))
		default:
			names[s.Name] = true
		}
		if s.LocalURL == "" && s.CloudURL == "" {
			v.addError(path, "at least one of localURL or cloudURL is required")
		}
		v.validateURL(path+".localURL", s.LocalURL)
		v.validateURL(path+".cloudURL", s.CloudURL)
	}

	if d.Probe.Enabled && d.Probe.Interval <= 0 {
		v.addError("discovery.probe.interval", "interval must be positive when probing is enabled")
	}
}

func (v *Validator) validateURL(path, raw string) {
	if raw == "" {
		return
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		v.addError(path, fmt.Sprintf("invalid service url %q", raw))
	}
}

func (v *Validator) validateRoutes(routes []RouteConfig, services []ServiceConfig) {
	known := make(map[string]bool, len(services))
	for _, s := range services {
		known[s.Name] = true
	}

	names := make(map[string]bool)
	for i, r := range routes {
		path := fmt.Sprintf("routes[%d]", i)
		switch {
		case r.Name == "":
			v.addError(path+".name", "route name is required")
		case names[r.Name]:
			v.addError(path+".name", fmt.Sprintf("duplicate route name: %s", r.Name))
		default:
			names[r.Name] = true
		}

		set := 0
		for _, s := range []string{r.Exact, r.Prefix, r.Regex} {
			if s != "" {
				set++
			}
		}
		if set != 1 {
			v.addError(path, "exactly one of exact, prefix or regex is required")
		}
		if r.Regex != "" {
			if _, err := regexp.Compile(r.Regex); err != nil {
				v.addError(path+".regex", fmt.Sprintf("invalid regex: %v", err))
			}
		}

		if r.Service == "" {
			v.addError(path+".service", "service is required")
		} else if !known[r.Service] {
			v.addError(path+".service", fmt.Sprintf("unknown service %q", r.Service))
		}

		switch r.Auth {
		case "", "required", "optional", "none":
		default:
			v.addError(path+".auth", "auth must be required, optional or none")
		}

		for j, rw := range r.Rewrite {
			if _, err := regexp.Compile(rw.Pattern); err != nil {
				v.addError(fmt.Sprintf("%s.rewrite[%d].pattern", path, j), fmt.Sprintf("invalid regex: %v", err))
			}
		}
		if r.Timeout < 0 {
			v.addError(path+".timeout", "timeout must not be negative")
		}
	}
}

func (v *Validator) validateProxy(p *ProxyConfig) {
	if p.Timeout <= 0 {
		v.addError("proxy.timeout", "timeout must be positive")
	}
	if p.DirectAuthTimeout <= 0 {
		v.addError("proxy.directAuthTimeout", "directAuthTimeout must be positive")
	}
	cb := p.CircuitBreaker
	if cb.Enabled {
		if cb.ConsecutiveFailures == 0 {
			v.addError("proxy.circuitBreaker.consecutiveFailures", "consecutiveFailures must be positive")
		}
		if cb.OpenTimeout <= 0 {
			v.addError("proxy.circuitBreaker.openTimeout", "openTimeout must be positive")
		}
	}
}

func (v *Validator) validateRateLimit(rl *RateLimitConfig) {
	if !rl.Enabled {
		return
	}
	if rl.RequestsPerSecond <= 0 {
		v.addError("rateLimit.requestsPerSecond", "requestsPerSecond must be positive")
	}
	if rl.Burst <= 0 {
		v.addError("rateLimit.burst", "burst must be positive")
	}
}

func (v *Validator) validateSecurity(s *SecurityConfig) {
	if s.HSTSMaxAge < 0 {
		v.addError("security.hstsMaxAge", "hstsMaxAge must not be negative")
	}
	switch strings.ToUpper(s.FrameOptions) {
	case "", "DENY", "SAMEORIGIN":
	default:
		v.addError("security.frameOptions", "frameOptions must be DENY or SAMEORIGIN")
	}
}

func (v *Validator) validateTracing(t *TracingConfig) {
	if t.SamplingRate < 0 || t.SamplingRate > 1 {
		v.addError("tracing.samplingRate", "samplingRate must be between 0 and 1")
	}
	if t.Enabled && t.ServiceName == "" {
		v.addError("tracing.serviceName", "serviceName is required when tracing is enabled")
	}
}

func (v *Validator) addError(path, message string) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: message})
}
