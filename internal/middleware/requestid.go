package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/kelmah/apigateway/internal/observability"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLength = 128

// RequestID reuses a well-formed incoming X-Request-ID or generates a UUID,
// stores it in the context and echoes it on the response.
func RequestID() Middleware {
	return RequestIDWithGenerator(func() string { return uuid.New().String() })
}

// RequestIDWithGenerator is RequestID with a custom ID source.
func RequestIDWithGenerator(generator func() string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(RequestIDHeader)
			if !validRequestID(requestID) {
				requestID = generator()
				r.Header.Set(RequestIDHeader, requestID)
			}

			ctx := observability.ContextWithRequestID(r.Context(), requestID)
			w.Header().Set(RequestIDHeader, requestID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// validRequestID accepts printable ASCII up to maxRequestIDLength so a
// caller cannot inject control characters into logs.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}
