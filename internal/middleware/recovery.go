package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/kelmah/apigateway/internal/apierr"
	"github.com/kelmah/apigateway/internal/observability"
)

// Recovery turns a panic into a 500 INTERNAL_ERROR response.
// http.ErrAbortHandler is re-raised so net/http can abort the connection.
func Recovery(logger observability.Logger, metrics *observability.Metrics) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler { //nolint:errorlint // sentinel compared by identity
					panic(rec)
				}

				logger.WithContext(r.Context()).Error("panic recovered",
					observability.String("method", r.Method),
					observability.String("path", r.URL.Path),
					observability.Any("panic", rec),
					observability.String("stack", string(debug.Stack())),
				)
				metrics.RecordPanic()

				apierr.Write(w, fmt.Errorf("panic: %v", rec))
			}()

			next.ServeHTTP(w, r)
		})
	}
}
