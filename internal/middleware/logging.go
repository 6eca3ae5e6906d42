package middleware

import (
	"net/http"
	"time"

	"github.com/kelmah/apigateway/internal/observability"
)

// Logging writes one "http request" line per inbound request and records
// request metrics. The route label is filled in by the router through the
// RouteTag placed in the context here.
func Logging(logger observability.Logger, metrics *observability.Metrics, ips *ClientIPExtractor) Middleware {
	if ips == nil {
		ips = NewClientIPExtractor(nil)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx, tag := observability.ContextWithRouteTag(r.Context())
			rw := newResponseWriter(w)

			metrics.IncActive()
			defer metrics.DecActive()

			next.ServeHTTP(rw, r.WithContext(ctx))

			duration := time.Since(start)
			metrics.RecordRequest(r.Method, tag.Name, rw.status, duration)

			logger.WithContext(ctx).Info("http request",
				observability.String("method", r.Method),
				observability.String("path", r.URL.Path),
				observability.String("route", tag.Name),
				observability.Int("status", rw.status),
				observability.Int("bytes", rw.size),
				observability.Duration("duration", duration),
				observability.String("client_ip", ips.Extract(r)),
				observability.String("user_agent", r.UserAgent()),
			)
		})
	}
}
