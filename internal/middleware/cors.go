package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/kelmah/apigateway/internal/config"
)

// CORSConfig contains CORS configuration.
type CORSConfig struct {
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	ExposeHeaders    []string
	AllowCredentials bool
	MaxAge           int
}

// CORSFromConfig converts the gateway configuration.
func CORSFromConfig(cfg config.CORSConfig) CORSConfig {
	return CORSConfig{
		AllowOrigins:     cfg.AllowOrigins,
		AllowMethods:     cfg.AllowMethods,
		AllowHeaders:     cfg.AllowHeaders,
		ExposeHeaders:    cfg.ExposeHeaders,
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           cfg.MaxAge,
	}
}

type corsPolicy struct {
	origins     map[string]bool
	wildcards   []string
	allowAll    bool
	methods     string
	headers     string
	expose      string
	maxAge      string
	credentials bool
}

func newCORSPolicy(cfg CORSConfig) *corsPolicy {
	p := &corsPolicy{
		origins:     make(map[string]bool, len(cfg.AllowOrigins)),
		methods:     strings.Join(cfg.AllowMethods, ", "),
		headers:     strings.Join(cfg.AllowHeaders, ", "),
		expose:      strings.Join(cfg.ExposeHeaders, ", "),
		credentials: cfg.AllowCredentials,
	}
	if cfg.MaxAge > 0 {
		p.maxAge = strconv.Itoa(cfg.MaxAge)
	}
	for _, o := range cfg.AllowOrigins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		switch {
		case o == "":
		case o == "*":
			p.allowAll = true
		case strings.Contains(o, "://*."):
			p.wildcards = append(p.wildcards, o)
		default:
			p.origins[o] = true
		}
	}
	return p
}

func (p *corsPolicy) allowed(origin string) bool {
	if p.allowAll || p.origins[origin] {
		return true
	}
	for _, w := range p.wildcards {
		// "https://*.example.com" matches "https://app.example.com".
		i := strings.Index(w, "*")
		prefix, suffix := w[:i], w[i+1:]
		if strings.HasPrefix(origin, prefix) && strings.HasSuffix(origin, suffix) &&
			len(origin) > len(prefix)+len(suffix) {
			return true
		}
	}
	return false
}

// CORS applies an origin allow-list. Requests without an Origin header
// pass untouched. Allowed origins are echoed back, never "*", so
// credentialed requests work. Preflights are answered here.
func CORS(cfg CORSConfig) Middleware {
	p := newCORSPolicy(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Add("Vary", "Origin")
			ok := p.allowed(origin)
			if ok {
				h.Set("Access-Control-Allow-Origin", origin)
				if p.credentials {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
				if p.expose != "" {
					h.Set("Access-Control-Expose-Headers", p.expose)
				}
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				if ok {
					if p.methods != "" {
						h.Set("Access-Control-Allow-Methods", p.methods)
					}
					if p.headers != "" {
						h.Set("Access-Control-Allow-Headers", p.headers)
					}
					if p.maxAge != "" {
						h.Set("Access-Control-Max-Age", p.maxAge)
					}
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
