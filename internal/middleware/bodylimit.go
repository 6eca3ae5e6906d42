package middleware

import (
	"net/http"

	"github.com/kelmah/apigateway/internal/apierr"
	"github.com/kelmah/apigateway/internal/observability"
)

// BodyLimit rejects requests whose declared length exceeds maxSize with
// 413 PAYLOAD_TOO_LARGE and caps the rest with http.MaxBytesReader, so a
// later read past the limit fails with *http.MaxBytesError. A maxSize of
// zero or less disables the limit.
func BodyLimit(maxSize int64, logger observability.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		if maxSize <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxSize {
				logger.WithContext(r.Context()).Warn("request body too large",
					observability.Int64("content_length", r.ContentLength),
					observability.Int64("max_size", maxSize),
					observability.String("path", r.URL.Path),
				)
				apierr.Write(w, apierr.PayloadTooLarge())
				return
			}

			if r.Body != nil && r.Body != http.NoBody {
				r.Body = http.MaxBytesReader(w, r.Body, maxSize)
			}
			next.ServeHTTP(w, r)
		})
	}
}
