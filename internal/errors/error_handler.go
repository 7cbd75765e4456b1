// Package errors provides centralized error handling for the core runtime.
package errors

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ============================================================================
// ERROR CONTEXT
// ============================================================================

// ErrorContext is the value object threaded through error handling calls.
// Metadata is a closed string map so handled errors stay serializable and
// free of loosely typed payloads.
type ErrorContext struct {
	Service   string
	Operation string
	UserID    string
	RequestID string
	Metadata  map[string]string
}

// ============================================================================
// ERROR HANDLER
// ============================================================================

// HandlerFunc reacts to a handled error of a particular kind. Handlers are
// observers only: they cannot alter the error or the caller's control flow.
type HandlerFunc func(ctx context.Context, err *UnifiedError, errCtx ErrorContext)

// MetricsClient defines the interface for error metrics collection.
type MetricsClient interface {
	IncrementCounter(name string, tags map[string]string)
}

// ErrorHandler dispatches handled errors to kind-keyed handler functions
// and independently logs every error and increments the errors_total
// counter. Dispatch is keyed by the closed ErrorType enum, never by
// inspecting concrete runtime types.
type ErrorHandler struct {
	mu             sync.RWMutex
	handlers       map[ErrorType]HandlerFunc
	defaultHandler HandlerFunc

	logger        *zap.Logger
	metricsClient MetricsClient
	enableDebug   bool
}

// ErrorHandlerConfig contains configuration for the error handler.
type ErrorHandlerConfig struct {
	Logger        *zap.Logger
	MetricsClient MetricsClient
	EnableDebug   bool // Include call-site information in logs
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(config ErrorHandlerConfig) *ErrorHandler {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ErrorHandler{
		handlers:      make(map[ErrorType]HandlerFunc),
		logger:        logger,
		metricsClient: config.MetricsClient,
		enableDebug:   config.EnableDebug,
	}
}

// RegisterHandler installs fn as the handler for errors of the given kind,
// replacing any previous handler for that kind.
func (h *ErrorHandler) RegisterHandler(errType ErrorType, fn HandlerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[errType] = fn
}

// SetDefaultHandler installs the fallback handler invoked for kinds with
// no registered handler.
func (h *ErrorHandler) SetDefaultHandler(fn HandlerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.defaultHandler = fn
}

// Handle processes an error: it normalizes it to a UnifiedError, logs it at
// a severity-mapped level, increments the errors_total counter, and invokes
// the registered handler for its kind (or the default handler). Handle
// never returns an error and never panics; a handler that panics is caught
// and logged. Callers keep the original error and decide recovery
// themselves.
func (h *ErrorHandler) Handle(ctx context.Context, err error, errCtx ErrorContext) {
	if err == nil {
		return
	}

	ue := Normalize(err)
	if ue.Service == "" {
		ue.Service = errCtx.Service
	}
	if ue.Operation == "" {
		ue.Operation = errCtx.Operation
	}
	if ue.UserID == "" {
		ue.UserID = errCtx.UserID
	}
	if ue.RequestID == "" {
		ue.RequestID = errCtx.RequestID
	}

	h.logError(ue, errCtx)
	h.collectMetrics(ue, errCtx)
	h.dispatch(ctx, ue, errCtx)
}

// WithErrorHandling runs fn and routes any error through Handle. The
// original error is returned unchanged so the caller can still propagate
// or inspect it.
func (h *ErrorHandler) WithErrorHandling(ctx context.Context, errCtx ErrorContext, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	if err != nil {
		h.Handle(ctx, err, errCtx)
	}
	return err
}

// dispatch invokes the most specific handler for the error's kind,
// containing any panic the handler raises.
func (h *ErrorHandler) dispatch(ctx context.Context, err *UnifiedError, errCtx ErrorContext) {
	h.mu.RLock()
	fn, ok := h.handlers[err.Type]
	if !ok {
		fn = h.defaultHandler
	}
	h.mu.RUnlock()

	if fn == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("error handler panicked",
				zap.String("error_type", string(err.Type)),
				zap.String("error_code", err.Code.String()),
				zap.Any("panic", r),
			)
		}
	}()

	fn(ctx, err, errCtx)
}

// logError logs the error with appropriate level and context.
func (h *ErrorHandler) logError(err *UnifiedError, errCtx ErrorContext) {
	fields := []zap.Field{
		zap.String("error_type", string(err.Type)),
		zap.String("error_code", err.Code.String()),
		zap.String("error_message", err.Message),
		zap.String("severity", string(err.Severity)),
		zap.Bool("retryable", err.Retryable),
	}

	if err.Service != "" {
		fields = append(fields, zap.String("service", err.Service))
	}
	if err.Operation != "" {
		fields = append(fields, zap.String("operation", err.Operation))
	}
	if err.Resource != "" {
		fields = append(fields, zap.String("resource", err.Resource))
	}
	if err.Field != "" {
		fields = append(fields, zap.String("field", err.Field))
	}
	if err.JobType != "" {
		fields = append(fields, zap.String("job_type", err.JobType))
		fields = append(fields, zap.String("job_id", err.JobID))
	}
	if err.UserID != "" {
		fields = append(fields, zap.String("user_id", err.UserID))
	}
	if err.RequestID != "" {
		fields = append(fields, zap.String("request_id", err.RequestID))
	}
	if err.RetryAfter > 0 {
		fields = append(fields, zap.Duration("retry_after", err.RetryAfter))
	}
	if err.Cause != nil {
		fields = append(fields, zap.NamedError("cause", err.Cause))
	}
	for k, v := range errCtx.Metadata {
		fields = append(fields, zap.String("meta_"+k, v))
	}

	if h.enableDebug && err.File != "" && err.Line > 0 {
		fields = append(fields, zap.String("file", err.File))
		fields = append(fields, zap.Int("line", err.Line))
	}

	message := "error handled"
	switch err.Severity {
	case SeverityLow:
		h.logger.Info(message, fields...)
	case SeverityMedium:
		h.logger.Warn(message, fields...)
	case SeverityHigh, SeverityCritical:
		h.logger.Error(message, fields...)
	default:
		h.logger.Warn(message, fields...)
	}
}

// collectMetrics increments the errors_total counter tagged by error kind
// and originating service/operation.
func (h *ErrorHandler) collectMetrics(err *UnifiedError, errCtx ErrorContext) {
	if h.metricsClient == nil {
		return
	}

	tags := map[string]string{
		"error_type": string(err.Type),
		"error_code": err.Code.String(),
		"severity":   string(err.Severity),
		"retryable":  fmt.Sprintf("%t", err.Retryable),
	}
	if errCtx.Service != "" {
		tags["service"] = errCtx.Service
	}
	if errCtx.Operation != "" {
		tags["operation"] = errCtx.Operation
	}

	h.metricsClient.IncrementCounter("errors_total", tags)
}
