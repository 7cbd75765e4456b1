package middleware

import (
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"deckforge-backend/pkg/api"
)

// Recovery converts handler panics into 500 responses. The panic is logged
// with its stack trace and the request ID for correlation.
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered in http handler",
						zap.Any("panic", err),
						zap.String("request_id", GetRequestIDFromRequest(r)),
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
						zap.ByteString("stack", debug.Stack()),
					)

					// If headers already went out the connection is beyond
					// saving; the server closes it.
					if w.Header().Get("Content-Type") == "" {
						api.Error(w, http.StatusInternalServerError, "Internal server error")
					}
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
