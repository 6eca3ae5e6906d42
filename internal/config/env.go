package config

import "strings"

// Environment variables injected by the deployment.
const (
	EnvJWTSecret   = "JWT_SECRET"
	EnvInternalKey = "INTERNAL_API_KEY"
	EnvDatabaseURL = "DATABASE_URL"
	EnvRedisURL    = "REDIS_URL"
	EnvServiceMode = "SERVICE_MODE"
	EnvFrontendURL = "FRONTEND_URL"
)

// serviceEnv maps service names to the variable holding their URL.
var serviceEnv = map[string]string{
	"auth":      "AUTH_SERVICE_URL",
	"user":      "USER_SERVICE_URL",
	"job":       "JOB_SERVICE_URL",
	"messaging": "MESSAGING_SERVICE_URL",
	"payment":   "PAYMENT_SERVICE_URL",
	"review":    "REVIEW_SERVICE_URL",
}

// ServiceURLEnv returns the environment variable that overrides the URL of
// service, or "" for services without one.
func ServiceURLEnv(service string) string {
	return serviceEnv[service]
}

// ApplyEnvOverrides applies deployment environment variables to cfg. A
// service URL variable overrides the URL of the active mode.
func ApplyEnvOverrides(cfg *GatewayConfig, lookup func(string) (string, bool)) {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		if !ok {
			return "", false
		}
		v = strings.TrimSpace(v)
		return v, v != ""
	}

	if v, ok := get(EnvJWTSecret); ok {
		cfg.Auth.JWTSecret = v
	}
	if v, ok := get(EnvInternalKey); ok {
		cfg.Auth.InternalKey = v
	}
	if v, ok := get(EnvDatabaseURL); ok {
		cfg.Datastore.URL = v
	}
	if v, ok := get(EnvRedisURL); ok {
		cfg.Redis.URL = v
	}
	if v, ok := get(EnvServiceMode); ok {
		cfg.Discovery.Mode = strings.ToLower(v)
	}
	if v, ok := get(EnvFrontendURL); ok && !contains(cfg.CORS.AllowOrigins, v) {
		cfg.CORS.AllowOrigins = append(cfg.CORS.AllowOrigins, v)
	}

	cloud := cfg.Discovery.Mode == "cloud"
	for i := range cfg.Discovery.Services {
		svc := &cfg.Discovery.Services[i]
		key, known := serviceEnv[svc.Name]
		if !known {
			continue
		}
		v, ok := get(key)
		if !ok {
			continue
		}
		if cloud {
			svc.CloudURL = v
		} else {
			svc.LocalURL = v
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
