package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// CorrelationHeader carries the correlation ID of a request.
const CorrelationHeader = "X-Correlation-ID"

const maxCorrelationIDLength = 128

// correlationIDKey is the context key for correlation ID.
type correlationIDKey struct{}

// CorrelationID creates a middleware that adds a correlation ID to each request.
// A caller supplied X-Correlation-ID is kept when it is short enough; otherwise a new
// UUID is generated.
func CorrelationID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			correlationID := r.Header.Get(CorrelationHeader)
			if correlationID == "" || len(correlationID) > maxCorrelationIDLength {
				correlationID = uuid.NewString()
			}

			w.Header().Set(CorrelationHeader, correlationID)

			ctx := WithCorrelationIDContext(r.Context(), correlationID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithCorrelationIDContext stores a correlation ID in ctx.
func WithCorrelationIDContext(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, correlationID)
}

// GetCorrelationID extracts the correlation ID from the request context.
func GetCorrelationID(ctx context.Context) string {
	if correlationID, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return correlationID
	}

	return "unknown"
}
