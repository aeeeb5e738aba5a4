package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/orderflow/orderflow/pkg/logger"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const requestIDKey contextKey = "request_id"

// RequestID returns a middleware that generates or extracts request IDs.
func RequestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Try to get request ID from header
			requestID := r.Header.Get("X-Request-ID")

			// Generate new ID if not present
			if requestID == "" {
				requestID = uuid.New().String()
			}

			// Add to context; the id doubles as the saga correlation id.
			ctx := context.WithValue(r.Context(), requestIDKey, requestID)
			ctx = logger.WithCorrelationID(ctx, requestID)
			r = r.WithContext(ctx)

			// Add to response header
			w.Header().Set("X-Request-ID", requestID)

			next.ServeHTTP(w, r)
		})
	}
}

// GetRequestID extracts the request ID from context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}
