// Package errors provides the unified error system for the DeckForge core
// runtime. Every component (container, job processor, cache, and the
// services built on top of them) reports failures through the single
// UnifiedError type so that error kind, code, severity, and retryability
// are consistent across all layers.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"
)

// ============================================================================
// ERROR TYPES AND CLASSIFICATION
// ============================================================================

// ErrorType is the closed set of error kinds. Handlers are dispatched by
// kind (see ErrorHandler), never by inspecting concrete runtime types.
type ErrorType string

const (
	// Business errors
	ErrorTypeValidation   ErrorType = "VALIDATION"
	ErrorTypeNotFound     ErrorType = "NOT_FOUND"
	ErrorTypeConflict     ErrorType = "CONFLICT"
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"
	ErrorTypeForbidden    ErrorType = "FORBIDDEN"
	ErrorTypeRateLimit    ErrorType = "RATE_LIMIT"

	// Runtime errors produced by the service container
	ErrorTypeRegistration       ErrorType = "REGISTRATION"
	ErrorTypeCircularDependency ErrorType = "CIRCULAR_DEPENDENCY"

	// Subsystem errors
	ErrorTypeCache         ErrorType = "CACHE"
	ErrorTypeJobProcessing ErrorType = "JOB_PROCESSING"
	ErrorTypePersistence   ErrorType = "PERSISTENCE"
	ErrorTypeExternal      ErrorType = "EXTERNAL_SERVICE"

	// Infrastructure errors
	ErrorTypeTimeout  ErrorType = "TIMEOUT"
	ErrorTypeInternal ErrorType = "INTERNAL"
)

// HTTPStatus maps an error kind to the status code surfaced at the API
// boundary. The mapping is total over the closed enum.
func (t ErrorType) HTTPStatus() int {
	switch t {
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeUnauthorized:
		return http.StatusUnauthorized
	case ErrorTypeForbidden:
		return http.StatusForbidden
	case ErrorTypeConflict:
		return http.StatusConflict
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeTimeout:
		return http.StatusRequestTimeout
	case ErrorTypeExternal:
		return http.StatusBadGateway
	case ErrorTypeRegistration, ErrorTypeCircularDependency,
		ErrorTypeCache, ErrorTypeJobProcessing, ErrorTypePersistence,
		ErrorTypeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ErrorSeverity drives the log level chosen when an error is handled.
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "LOW"
	SeverityMedium   ErrorSeverity = "MEDIUM"
	SeverityHigh     ErrorSeverity = "HIGH"
	SeverityCritical ErrorSeverity = "CRITICAL"
)

// ============================================================================
// UNIFIED ERROR STRUCTURE
// ============================================================================

// UnifiedError is the one error type carried across all runtime layers.
// It pairs a kind (Type) with a machine-readable Code and keeps enough
// context for logging, metrics tagging, and API surfacing.
type UnifiedError struct {
	Type    ErrorType `json:"type"`
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`

	// Field references the offending input field for validation errors.
	Field string `json:"field,omitempty"`

	// Error context
	Service   string `json:"service,omitempty"`
	Operation string `json:"operation,omitempty"`
	Resource  string `json:"resource,omitempty"`
	UserID    string `json:"userId,omitempty"`
	RequestID string `json:"requestId,omitempty"`

	// Job context for JOB_PROCESSING errors.
	JobType string `json:"jobType,omitempty"`
	JobID   string `json:"jobId,omitempty"`

	// Error metadata
	Severity   ErrorSeverity `json:"severity"`
	Retryable  bool          `json:"retryable"`
	RetryAfter time.Duration `json:"retryAfter,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
	Cause      error         `json:"-"`

	// Call site information for debugging.
	File       string   `json:"file,omitempty"`
	Line       int      `json:"line,omitempty"`
	StackTrace []string `json:"stackTrace,omitempty"`
}

// Error implements the error interface.
func (e *UnifiedError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s:%s] %s: %s", e.Type, e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
}

// Unwrap allows errors.Is and errors.As to walk the underlying cause.
func (e *UnifiedError) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the status code an API boundary should surface.
func (e *UnifiedError) HTTPStatus() int {
	return e.Type.HTTPStatus()
}

// String provides a multi-line representation for diagnostics.
func (e *UnifiedError) String() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("Error: %s\n", e.Error()))
	if e.Service != "" {
		b.WriteString(fmt.Sprintf("Service: %s\n", e.Service))
	}
	if e.Operation != "" {
		b.WriteString(fmt.Sprintf("Operation: %s\n", e.Operation))
	}
	if e.Resource != "" {
		b.WriteString(fmt.Sprintf("Resource: %s\n", e.Resource))
	}
	if e.JobType != "" {
		b.WriteString(fmt.Sprintf("Job: %s (%s)\n", e.JobType, e.JobID))
	}
	b.WriteString(fmt.Sprintf("Severity: %s\n", e.Severity))
	b.WriteString(fmt.Sprintf("Retryable: %t\n", e.Retryable))
	if e.Cause != nil {
		b.WriteString(fmt.Sprintf("Cause: %v\n", e.Cause))
	}
	if e.File != "" && e.Line > 0 {
		b.WriteString(fmt.Sprintf("Location: %s:%d\n", e.File, e.Line))
	}

	return b.String()
}

// ============================================================================
// ERROR BUILDER
// ============================================================================

// ErrorBuilder provides a fluent interface for constructing UnifiedError
// instances with optional context.
type ErrorBuilder struct {
	err *UnifiedError
}

// NewError starts a builder for the given kind, code, and message.
func NewError(errType ErrorType, code ErrorCode, message string) *ErrorBuilder {
	_, file, line, _ := runtime.Caller(1)

	return &ErrorBuilder{
		err: &UnifiedError{
			Type:       errType,
			Code:       code,
			Message:    message,
			Severity:   code.Severity(),
			Retryable:  code.IsRetryable(),
			Timestamp:  time.Now().UTC(),
			File:       file,
			Line:       line,
			StackTrace: captureStackTrace(),
		},
	}
}

// WithDetails adds free-form detail text.
func (b *ErrorBuilder) WithDetails(details string) *ErrorBuilder {
	b.err.Details = details
	return b
}

// WithField references the input field that failed validation.
func (b *ErrorBuilder) WithField(field string) *ErrorBuilder {
	b.err.Field = field
	return b
}

// WithService names the service reporting the error.
func (b *ErrorBuilder) WithService(service string) *ErrorBuilder {
	b.err.Service = service
	return b
}

// WithOperation names the operation that failed.
func (b *ErrorBuilder) WithOperation(operation string) *ErrorBuilder {
	b.err.Operation = operation
	return b
}

// WithResource names the resource being operated on.
func (b *ErrorBuilder) WithResource(resource string) *ErrorBuilder {
	b.err.Resource = resource
	return b
}

// WithUserID attaches user context.
func (b *ErrorBuilder) WithUserID(userID string) *ErrorBuilder {
	b.err.UserID = userID
	return b
}

// WithRequestID attaches request tracing context.
func (b *ErrorBuilder) WithRequestID(requestID string) *ErrorBuilder {
	b.err.RequestID = requestID
	return b
}

// WithJob attaches the job type and id for job-processing failures.
func (b *ErrorBuilder) WithJob(jobType, jobID string) *ErrorBuilder {
	b.err.JobType = jobType
	b.err.JobID = jobID
	return b
}

// WithSeverity overrides the code's default severity.
func (b *ErrorBuilder) WithSeverity(severity ErrorSeverity) *ErrorBuilder {
	b.err.Severity = severity
	return b
}

// WithRetryable overrides the code's default retryability.
func (b *ErrorBuilder) WithRetryable(retryable bool) *ErrorBuilder {
	b.err.Retryable = retryable
	return b
}

// WithRetryAfter sets the retry-after hint and marks the error retryable.
func (b *ErrorBuilder) WithRetryAfter(d time.Duration) *ErrorBuilder {
	b.err.RetryAfter = d
	b.err.Retryable = true
	return b
}

// WithCause records the underlying error.
func (b *ErrorBuilder) WithCause(cause error) *ErrorBuilder {
	b.err.Cause = cause
	return b
}

// Build returns the constructed UnifiedError.
func (b *ErrorBuilder) Build() *UnifiedError {
	return b.err
}

// ============================================================================
// CONVENIENCE CONSTRUCTORS
// ============================================================================

// Validation creates a validation error builder.
func Validation(code ErrorCode, message string) *ErrorBuilder {
	return NewError(ErrorTypeValidation, code, message)
}

// NotFound creates a not-found error builder.
func NotFound(code ErrorCode, message string) *ErrorBuilder {
	return NewError(ErrorTypeNotFound, code, message)
}

// Conflict creates a conflict error builder.
func Conflict(code ErrorCode, message string) *ErrorBuilder {
	return NewError(ErrorTypeConflict, code, message)
}

// Unauthorized creates an unauthorized error builder.
func Unauthorized(code ErrorCode, message string) *ErrorBuilder {
	return NewError(ErrorTypeUnauthorized, code, message)
}

// Forbidden creates a forbidden error builder.
func Forbidden(code ErrorCode, message string) *ErrorBuilder {
	return NewError(ErrorTypeForbidden, code, message)
}

// RateLimit creates a rate-limit error carrying a retry-after hint.
func RateLimit(code ErrorCode, message string, retryAfter time.Duration) *ErrorBuilder {
	return NewError(ErrorTypeRateLimit, code, message).WithRetryAfter(retryAfter)
}

// External creates an error wrapping an upstream service failure.
func External(code ErrorCode, message string, cause error) *ErrorBuilder {
	return NewError(ErrorTypeExternal, code, message).WithCause(cause)
}

// Persistence creates an error wrapping a storage-layer failure.
func Persistence(code ErrorCode, message string, cause error) *ErrorBuilder {
	return NewError(ErrorTypePersistence, code, message).WithCause(cause)
}

// CacheFailure creates an error wrapping a cache-operation failure.
func CacheFailure(code ErrorCode, message string) *ErrorBuilder {
	return NewError(ErrorTypeCache, code, message)
}

// JobProcessing creates an error wrapping a job-handler failure.
func JobProcessing(code ErrorCode, message string, jobType, jobID string) *ErrorBuilder {
	return NewError(ErrorTypeJobProcessing, code, message).WithJob(jobType, jobID)
}

// Timeout creates a timeout error builder.
func Timeout(code ErrorCode, message string) *ErrorBuilder {
	return NewError(ErrorTypeTimeout, code, message)
}

// Internal creates an internal error builder.
func Internal(code ErrorCode, message string) *ErrorBuilder {
	return NewError(ErrorTypeInternal, code, message)
}

// UnregisteredToken is the error returned when the container is asked to
// resolve a token with no registration. The token name is always included
// so callers can identify the missing service.
func UnregisteredToken(tokenName string) *UnifiedError {
	return NewError(ErrorTypeRegistration, CodeServiceNotRegistered,
		fmt.Sprintf("no registration found for service token %q", tokenName)).
		WithResource(tokenName).
		Build()
}

// CircularDependency is the error returned when the container detects a
// dependency cycle. The path lists the tokens along the cycle in order.
func CircularDependency(path []string) *UnifiedError {
	return NewError(ErrorTypeCircularDependency, CodeCircularDependency,
		fmt.Sprintf("circular dependency detected: %s", strings.Join(path, " -> "))).
		WithDetails(strings.Join(path, " -> ")).
		Build()
}

// ============================================================================
// ERROR CLASSIFICATION AND CHECKING
// ============================================================================

// IsType reports whether err is a UnifiedError of the given kind.
func IsType(err error, errType ErrorType) bool {
	var ue *UnifiedError
	if errors.As(err, &ue) {
		return ue.Type == errType
	}
	return false
}

// GetType returns the kind of err, or ErrorTypeInternal for foreign errors.
func GetType(err error) ErrorType {
	var ue *UnifiedError
	if errors.As(err, &ue) {
		return ue.Type
	}
	return ErrorTypeInternal
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	return IsType(err, ErrorTypeValidation)
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return IsType(err, ErrorTypeNotFound)
}

// IsConflict reports whether err is a conflict error.
func IsConflict(err error) bool {
	return IsType(err, ErrorTypeConflict)
}

// IsRegistration reports whether err is an unregistered-token error.
func IsRegistration(err error) bool {
	return IsType(err, ErrorTypeRegistration)
}

// IsCircularDependency reports whether err is a dependency-cycle error.
func IsCircularDependency(err error) bool {
	return IsType(err, ErrorTypeCircularDependency)
}

// IsCacheFailure reports whether err is a cache error.
func IsCacheFailure(err error) bool {
	return IsType(err, ErrorTypeCache)
}

// IsJobProcessing reports whether err is a job-processing error.
func IsJobProcessing(err error) bool {
	return IsType(err, ErrorTypeJobProcessing)
}

// IsTimeout reports whether err is a timeout error.
func IsTimeout(err error) bool {
	return IsType(err, ErrorTypeTimeout)
}

// IsRetryable reports whether the failed operation may be retried.
func IsRetryable(err error) bool {
	var ue *UnifiedError
	if errors.As(err, &ue) {
		return ue.Retryable
	}
	return false
}

// GetSeverity returns the severity of err, defaulting to medium for
// foreign errors.
func GetSeverity(err error) ErrorSeverity {
	var ue *UnifiedError
	if errors.As(err, &ue) {
		return ue.Severity
	}
	return SeverityMedium
}

// ============================================================================
// ERROR WRAPPING AND NORMALIZATION
// ============================================================================

// Wrap adds operation context to an error while preserving its kind and
// the original chain. Foreign errors become INTERNAL.
func Wrap(err error, operation, message string) *UnifiedError {
	if err == nil {
		return nil
	}

	var existing *UnifiedError
	if errors.As(err, &existing) {
		return &UnifiedError{
			Type:       existing.Type,
			Code:       existing.Code,
			Message:    message,
			Details:    existing.Message,
			Field:      existing.Field,
			Service:    existing.Service,
			Operation:  operation,
			Resource:   existing.Resource,
			UserID:     existing.UserID,
			RequestID:  existing.RequestID,
			JobType:    existing.JobType,
			JobID:      existing.JobID,
			Severity:   existing.Severity,
			Retryable:  existing.Retryable,
			RetryAfter: existing.RetryAfter,
			Timestamp:  time.Now().UTC(),
			Cause:      err,
			File:       existing.File,
			Line:       existing.Line,
			StackTrace: existing.StackTrace,
		}
	}

	_, file, line, _ := runtime.Caller(1)
	return &UnifiedError{
		Type:       ErrorTypeInternal,
		Code:       CodeInternalError,
		Message:    message,
		Details:    err.Error(),
		Operation:  operation,
		Severity:   SeverityMedium,
		Timestamp:  time.Now().UTC(),
		Cause:      err,
		File:       file,
		Line:       line,
		StackTrace: captureStackTrace(),
	}
}

// Normalize converts any error to a UnifiedError without losing an
// existing classification. Context cancellation and deadline errors map
// to the TIMEOUT kind; everything else foreign becomes INTERNAL.
func Normalize(err error) *UnifiedError {
	if err == nil {
		return nil
	}

	var ue *UnifiedError
	if errors.As(err, &ue) {
		return ue
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Timeout(CodeOperationTimeout, err.Error()).WithCause(err).Build()
	}

	return Internal(CodeInternalError, err.Error()).WithCause(err).Build()
}

// ============================================================================
// UTILITY FUNCTIONS
// ============================================================================

// captureStackTrace captures the current stack for debugging.
func captureStackTrace() []string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])

	frames := runtime.CallersFrames(pcs[:n])
	var stack []string

	for {
		frame, more := frames.Next()
		stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		if !more {
			break
		}
	}

	return stack
}
