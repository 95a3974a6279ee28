package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

const CorrelationContextKey = contextKey("correlationId")

const correlationHeader = "X-Correlation-Id"

// Correlation tags every request with a correlation ID, honoring one
// supplied by the caller and minting a fresh UUID otherwise. The ID is
// echoed back on the response so clients can quote it in bug reports.
func Correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(correlationHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(correlationHeader, id)
		ctx := context.WithValue(r.Context(), CorrelationContextKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CorrelationID returns the request's correlation ID, or "" when the
// request did not pass through the Correlation middleware.
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationContextKey).(string); ok {
		return id
	}
	return ""
}
