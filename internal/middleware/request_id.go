// Package middleware provides the HTTP middleware chain: request
// identification, panic recovery, request timeouts, and circuit breaking.
package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	sharedContext "deckforge-backend/internal/context"
)

// RequestID generates or extracts a request ID, stores it on the request
// context, and echoes it in the X-Request-ID response header. The shared
// context key is the same one the logger reads, so the ID follows the
// request into every log line.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := sharedContext.WithRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID extracts the request ID from context.
func GetRequestID(ctx context.Context) string {
	requestID, _ := sharedContext.GetRequestIDFromContext(ctx)
	return requestID
}

// GetRequestIDFromRequest extracts the request ID from the request context.
func GetRequestIDFromRequest(r *http.Request) string {
	return GetRequestID(r.Context())
}
