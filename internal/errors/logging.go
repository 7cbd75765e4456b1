// Package errors provides structured logging utilities for error handling.
package errors

import (
	"context"
	"errors"
	"sort"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	sharedContext "deckforge-backend/internal/context"
)

// StructuredLogger wraps a zap logger with merged-context composition.
// Child loggers carry the union of their ancestors' context fields; on key
// collision the child's value wins, and each key is emitted exactly once.
type StructuredLogger struct {
	*zap.Logger
	root    *zap.Logger
	context map[string]any
}

// LoggerOptions selects the output profile for a new logger.
type LoggerOptions struct {
	Environment string // development, staging, production
	Level       string // debug, info, warn, error
	Format      string // json or console
	Color       bool   // colorized levels, console format only
	Destination string // output path: stdout, stderr, or a file path
}

// NewStructuredLogger creates a new structured logger with proper configuration.
func NewStructuredLogger(opts LoggerOptions) (*StructuredLogger, error) {
	var config zap.Config

	if opts.Environment == "production" {
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)

		// Sampling prevents log flooding under sustained error rates.
		config.Sampling = &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		}
	} else {
		config = zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	if opts.Level != "" {
		level, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, err
		}
		config.Level = zap.NewAtomicLevelAt(level)
	}

	switch opts.Format {
	case "json":
		config.Encoding = "json"
		config.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	case "console", "text":
		config.Encoding = "console"
		if opts.Color {
			config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		}
	}

	destination := opts.Destination
	if destination == "" {
		destination = "stdout"
	}
	config.OutputPaths = []string{destination}
	config.ErrorOutputPaths = []string{"stderr"}

	logger, err := config.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zap.ErrorLevel),
	)
	if err != nil {
		return nil, err
	}

	return &StructuredLogger{Logger: logger, root: logger}, nil
}

// NewNopStructuredLogger returns a logger that discards everything. Used in
// tests and as a safe zero-configuration fallback.
func NewNopStructuredLogger() *StructuredLogger {
	logger := zap.NewNop()
	return &StructuredLogger{Logger: logger, root: logger}
}

// Child derives a logger whose entries carry the merged context of this
// logger and the given fields. Child keys win on collision.
func (l *StructuredLogger) Child(fields map[string]any) *StructuredLogger {
	merged := make(map[string]any, len(l.context)+len(fields))
	for k, v := range l.context {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}

	return &StructuredLogger{
		Logger:  l.root.With(contextFields(merged)...),
		root:    l.root,
		context: merged,
	}
}

// WithContext derives a child logger carrying request-scoped identifiers
// found in ctx: the request ID, the user ID, and the active trace span.
func (l *StructuredLogger) WithContext(ctx context.Context) *StructuredLogger {
	fields := make(map[string]any)

	if requestID, ok := sharedContext.GetRequestIDFromContext(ctx); ok {
		fields["request_id"] = requestID
	}
	if userID, ok := sharedContext.GetUserIDFromContext(ctx); ok {
		fields["user_id"] = userID
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields["trace_id"] = sc.TraceID().String()
		fields["span_id"] = sc.SpanID().String()
	}

	if len(fields) == 0 {
		return l
	}
	return l.Child(fields)
}

// Context returns a copy of the logger's accumulated context fields.
func (l *StructuredLogger) Context() map[string]any {
	out := make(map[string]any, len(l.context))
	for k, v := range l.context {
		out[k] = v
	}
	return out
}

// LogError logs an error with severity-mapped level and unified error context.
func (l *StructuredLogger) LogError(err error, message string, fields ...zap.Field) {
	if err == nil {
		return
	}

	var ue *UnifiedError
	if errors.As(err, &ue) {
		fields = append(fields,
			zap.String("error_type", string(ue.Type)),
			zap.String("error_code", ue.Code.String()),
			zap.String("error_message", ue.Message),
			zap.String("error_severity", string(ue.Severity)),
			zap.Bool("retryable", ue.Retryable),
		)
		if ue.Operation != "" {
			fields = append(fields, zap.String("failed_operation", ue.Operation))
		}
		if ue.Resource != "" {
			fields = append(fields, zap.String("resource", ue.Resource))
		}
		if ue.JobType != "" {
			fields = append(fields, zap.String("job_type", ue.JobType), zap.String("job_id", ue.JobID))
		}
		if ue.Cause != nil {
			fields = append(fields, zap.NamedError("cause", ue.Cause))
		}

		switch ue.Severity {
		case SeverityLow:
			l.Info(message, fields...)
		case SeverityMedium:
			l.Warn(message, fields...)
		default:
			l.Error(message, fields...)
		}
		return
	}

	fields = append(fields, zap.Error(err))
	l.Error(message, fields...)
}

// contextFields converts the merged context map into zap fields in a
// deterministic order so repeated runs produce identical log shapes.
func contextFields(context map[string]any) []zap.Field {
	keys := make([]string, 0, len(context))
	for k := range context {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, zap.Any(k, context[k]))
	}
	return fields
}
