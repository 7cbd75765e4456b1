package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	sharedContext "deckforge-backend/internal/context"
)

// TracingMiddleware adds distributed tracing to HTTP requests: it extracts
// incoming trace context, opens a server span per request, and propagates
// the context in response headers.
func TracingMiddleware(serviceName string) func(http.Handler) http.Handler {
	tracer := otel.Tracer(serviceName)
	propagator := otel.GetTextMapPropagator()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			routePattern := chi.RouteContext(r.Context()).RoutePattern()
			if routePattern == "" {
				routePattern = r.URL.Path
			}

			spanName := fmt.Sprintf("%s %s", r.Method, routePattern)

			ctx, span := tracer.Start(
				ctx,
				spanName,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.method", r.Method),
					attribute.String("http.target", r.URL.Path),
					attribute.String("http.host", r.Host),
					attribute.String("http.route", routePattern),
					attribute.String("http.user_agent", r.UserAgent()),
					attribute.String("http.remote_addr", r.RemoteAddr),
					attribute.String("http.request_id", r.Header.Get("X-Request-ID")),
				),
			)
			defer span.End()

			if userID, ok := sharedContext.GetUserIDFromContext(ctx); ok {
				span.SetAttributes(attribute.String("user.id", userID))
			}

			ww := &tracedResponseWriter{
				ResponseWriter: w,
				status:         http.StatusOK,
				startTime:      time.Now(),
			}

			propagator.Inject(ctx, propagation.HeaderCarrier(w.Header()))
			if spanCtx := span.SpanContext(); spanCtx.HasTraceID() {
				w.Header().Set("X-Trace-ID", spanCtx.TraceID().String())
			}

			next.ServeHTTP(ww, r.WithContext(ctx))

			duration := time.Since(ww.startTime)
			span.SetAttributes(
				attribute.Int("http.status_code", ww.status),
				attribute.Int64("http.response_size", ww.bytesWritten),
				attribute.Float64("http.duration_ms", float64(duration.Milliseconds())),
			)

			if ww.status >= 400 {
				span.SetStatus(codes.Error, http.StatusText(ww.status))
				span.RecordError(fmt.Errorf("HTTP %d: %s", ww.status, http.StatusText(ww.status)))
			} else {
				span.SetStatus(codes.Ok, "")
			}
		})
	}
}

// MetricsMiddleware records request counts and latencies per route.
func MetricsMiddleware(collector *Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := &tracedResponseWriter{ResponseWriter: w, status: http.StatusOK, startTime: start}
			next.ServeHTTP(ww, r)

			routePattern := chi.RouteContext(r.Context()).RoutePattern()
			if routePattern == "" {
				routePattern = "unknown"
			}

			collector.IncrementCounter("http_requests_total", map[string]string{
				"method": r.Method,
				"route":  routePattern,
				"status": strconv.Itoa(ww.status),
			})
			collector.RecordDuration("http_request_duration_seconds", time.Since(start), map[string]string{
				"method": r.Method,
				"route":  routePattern,
			})
		})
	}
}

// tracedResponseWriter captures response status and size for spans and
// metrics.
type tracedResponseWriter struct {
	http.ResponseWriter
	status        int
	bytesWritten  int64
	startTime     time.Time
	headerWritten bool
}

func (w *tracedResponseWriter) WriteHeader(status int) {
	if !w.headerWritten {
		w.status = status
		w.headerWritten = true
		w.ResponseWriter.WriteHeader(status)
	}
}

func (w *tracedResponseWriter) Write(b []byte) (int, error) {
	if !w.headerWritten {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytesWritten += int64(n)
	return n, err
}
