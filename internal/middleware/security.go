package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/kelmah/apigateway/internal/config"
)

// SecurityHeaders sets the browser hardening headers on every response
// and strips cfg.RemoveHeaders, including ones copied from upstream
// services. Strict-Transport-Security is only sent over TLS or when a
// trusted proxy reports https.
func SecurityHeaders(cfg config.SecurityConfig) Middleware {
	return func(next http.Handler) http.Handler {
		if !cfg.Enabled {
			return next
		}
		static := staticSecurityHeaders(cfg)
		hsts := hstsValue(cfg)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for name, value := range static {
				h.Set(name, value)
			}
			if hsts != "" && isSecureRequest(r) {
				h.Set("Strict-Transport-Security", hsts)
			}

			if len(cfg.RemoveHeaders) > 0 {
				w = &headerStripWriter{ResponseWriter: w, remove: cfg.RemoveHeaders}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func staticSecurityHeaders(cfg config.SecurityConfig) map[string]string {
	headers := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-DNS-Prefetch-Control": "off",
	}
	set := func(name, value string) {
		if value != "" {
			headers[name] = value
		}
	}
	set("X-Frame-Options", cfg.FrameOptions)
	set("Referrer-Policy", cfg.ReferrerPolicy)
	set("Content-Security-Policy", cfg.ContentSecurityPolicy)
	set("Cross-Origin-Resource-Policy", cfg.CrossOriginResourcePolicy)
	return headers
}

func hstsValue(cfg config.SecurityConfig) string {
	if cfg.HSTSMaxAge <= 0 {
		return ""
	}
	v := "max-age=" + strconv.Itoa(cfg.HSTSMaxAge)
	if cfg.HSTSIncludeSubDomains {
		v += "; includeSubDomains"
	}
	return v
}

func isSecureRequest(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// headerStripWriter deletes headers right before the status line is sent.
type headerStripWriter struct {
	http.ResponseWriter
	remove      []string
	wroteHeader bool
}

func (w *headerStripWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		for _, name := range w.remove {
			w.ResponseWriter.Header().Del(name)
		}
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *headerStripWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *headerStripWriter) Flush() {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *headerStripWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
