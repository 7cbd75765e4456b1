package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnifiedError_Creation(t *testing.T) {
	tests := []struct {
		name     string
		builder  func() *UnifiedError
		expected *UnifiedError
	}{
		{
			name: "validation error",
			builder: func() *UnifiedError {
				return Validation(CodeInvalidInput, "input validation failed").
					WithField("deck_list").
					WithDetails("deck list must not be empty").
					Build()
			},
			expected: &UnifiedError{
				Type:      ErrorTypeValidation,
				Code:      CodeInvalidInput,
				Message:   "input validation failed",
				Details:   "deck list must not be empty",
				Field:     "deck_list",
				Severity:  SeverityLow,
				Retryable: false,
			},
		},
		{
			name: "not found error",
			builder: func() *UnifiedError {
				return NotFound(CodeDeckNotFound, "deck not found").
					WithResource("deck").
					Build()
			},
			expected: &UnifiedError{
				Type:      ErrorTypeNotFound,
				Code:      CodeDeckNotFound,
				Message:   "deck not found",
				Resource:  "deck",
				Severity:  SeverityLow,
				Retryable: false,
			},
		},
		{
			name: "rate limit error carries retry-after",
			builder: func() *UnifiedError {
				return RateLimit(CodeRateLimitExceeded, "too many imports", 5*time.Second).
					Build()
			},
			expected: &UnifiedError{
				Type:       ErrorTypeRateLimit,
				Code:       CodeRateLimitExceeded,
				Message:    "too many imports",
				Severity:   SeverityMedium,
				Retryable:  true,
				RetryAfter: 5 * time.Second,
			},
		},
		{
			name: "job processing error carries job context",
			builder: func() *UnifiedError {
				return JobProcessing(CodeJobHandlerFailed, "handler failed", "deck-import", "job-42").
					Build()
			},
			expected: &UnifiedError{
				Type:     ErrorTypeJobProcessing,
				Code:     CodeJobHandlerFailed,
				Message:  "handler failed",
				JobType:  "deck-import",
				JobID:    "job-42",
				Severity: SeverityMedium,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.builder()

			assert.Equal(t, tt.expected.Type, err.Type)
			assert.Equal(t, tt.expected.Code, err.Code)
			assert.Equal(t, tt.expected.Message, err.Message)
			assert.Equal(t, tt.expected.Details, err.Details)
			assert.Equal(t, tt.expected.Field, err.Field)
			assert.Equal(t, tt.expected.Resource, err.Resource)
			assert.Equal(t, tt.expected.JobType, err.JobType)
			assert.Equal(t, tt.expected.JobID, err.JobID)
			assert.Equal(t, tt.expected.Severity, err.Severity)
			assert.Equal(t, tt.expected.Retryable, err.Retryable)
			assert.Equal(t, tt.expected.RetryAfter, err.RetryAfter)
			assert.False(t, err.Timestamp.IsZero())
		})
	}
}

func TestUnifiedError_ErrorInterface(t *testing.T) {
	err := Validation(CodeValidationFailed, "bad deck").
		WithDetails("sideboard exceeds 15 cards").
		Build()
	assert.Equal(t, "[VALIDATION:VALIDATION_FAILED] bad deck: sideboard exceeds 15 cards", err.Error())

	bare := NotFound(CodeDeckNotFound, "deck missing").Build()
	assert.Equal(t, "[NOT_FOUND:DECK_NOT_FOUND] deck missing", bare.Error())
}

func TestUnifiedError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := External(CodeExternalServiceError, "card catalog unreachable", cause).Build()

	assert.Equal(t, cause, err.Unwrap())
	assert.True(t, errors.Is(err, cause))
}

func TestErrorType_Checking(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		checkFn  func(error) bool
		expected bool
	}{
		{
			name:     "IsValidation - true",
			err:      Validation(CodeInvalidInput, "msg").Build(),
			checkFn:  IsValidation,
			expected: true,
		},
		{
			name:     "IsValidation - false",
			err:      NotFound(CodeResourceNotFound, "msg").Build(),
			checkFn:  IsValidation,
			expected: false,
		},
		{
			name:     "IsNotFound - true",
			err:      NotFound(CodeResourceNotFound, "msg").Build(),
			checkFn:  IsNotFound,
			expected: true,
		},
		{
			name:     "IsConflict - true",
			err:      Conflict(CodeResourceExists, "msg").Build(),
			checkFn:  IsConflict,
			expected: true,
		},
		{
			name:     "IsCacheFailure - true",
			err:      CacheFailure(CodeCacheEntryTooLarge, "msg").Build(),
			checkFn:  IsCacheFailure,
			expected: true,
		},
		{
			name:     "IsJobProcessing - true",
			err:      JobProcessing(CodeJobTimeout, "msg", "deck-import", "id").Build(),
			checkFn:  IsJobProcessing,
			expected: true,
		},
		{
			name:     "IsRegistration - true",
			err:      UnregisteredToken("cache-service"),
			checkFn:  IsRegistration,
			expected: true,
		},
		{
			name:     "IsCircularDependency - true",
			err:      CircularDependency([]string{"a", "b", "a"}),
			checkFn:  IsCircularDependency,
			expected: true,
		},
		{
			name:     "IsTimeout - true",
			err:      Timeout(CodeOperationTimeout, "msg").Build(),
			checkFn:  IsTimeout,
			expected: true,
		},
		{
			name:     "IsRetryable - timeout code",
			err:      Timeout(CodeOperationTimeout, "msg").Build(),
			checkFn:  IsRetryable,
			expected: true,
		},
		{
			name:     "IsRetryable - validation code",
			err:      Validation(CodeInvalidInput, "msg").Build(),
			checkFn:  IsRetryable,
			expected: false,
		},
		{
			name:     "foreign error matches nothing",
			err:      errors.New("plain"),
			checkFn:  IsValidation,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.checkFn(tt.err))
		})
	}
}

func TestErrorType_ChecksWrappedChains(t *testing.T) {
	inner := NotFound(CodeDeckNotFound, "deck gone").Build()
	outer := fmt.Errorf("loading deck: %w", inner)

	assert.True(t, IsNotFound(outer))
	assert.Equal(t, ErrorTypeNotFound, GetType(outer))
}

func TestErrorType_HTTPStatus(t *testing.T) {
	tests := []struct {
		errType  ErrorType
		expected int
	}{
		{ErrorTypeValidation, http.StatusBadRequest},
		{ErrorTypeUnauthorized, http.StatusUnauthorized},
		{ErrorTypeForbidden, http.StatusForbidden},
		{ErrorTypeNotFound, http.StatusNotFound},
		{ErrorTypeConflict, http.StatusConflict},
		{ErrorTypeRateLimit, http.StatusTooManyRequests},
		{ErrorTypeTimeout, http.StatusRequestTimeout},
		{ErrorTypeExternal, http.StatusBadGateway},
		{ErrorTypeCache, http.StatusInternalServerError},
		{ErrorTypeJobProcessing, http.StatusInternalServerError},
		{ErrorTypeRegistration, http.StatusInternalServerError},
		{ErrorTypeCircularDependency, http.StatusInternalServerError},
		{ErrorTypeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.errType), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.errType.HTTPStatus())
		})
	}

	err := RateLimit(CodeRateLimitExceeded, "slow down", time.Second).Build()
	assert.Equal(t, http.StatusTooManyRequests, err.HTTPStatus())
}

func TestErrorCodes_IsRetryable(t *testing.T) {
	tests := []struct {
		code     ErrorCode
		expected bool
	}{
		{CodeOperationTimeout, true},
		{CodeServiceUnavailable, true},
		{CodeExternalServiceError, true},
		{CodePersistenceError, true},
		{CodeRateLimitExceeded, true},
		{CodeJobTimeout, true},
		{CodeCardDataUnavailable, true},
		{CodeValidationFailed, false},
		{CodeDeckNotFound, false},
		{CodeCircularDependency, false},
		{CodeCacheEntryTooLarge, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.code.IsRetryable())
		})
	}
}

func TestErrorCodes_Severity(t *testing.T) {
	tests := []struct {
		code     ErrorCode
		expected ErrorSeverity
	}{
		{CodeInternalError, SeverityCritical},
		{CodeContainerStartFailed, SeverityCritical},
		{CodeCircularDependency, SeverityCritical},
		{CodeServiceInitFailed, SeverityHigh},
		{CodeJobRetriesExhausted, SeverityHigh},
		{CodeFactoryFailed, SeverityHigh},
		{CodeJobTimeout, SeverityMedium},
		{CodeCacheEntryTooLarge, SeverityMedium},
		{CodeServiceNotRegistered, SeverityMedium},
		{CodeInvalidInput, SeverityLow},
		{CodeDeckNotFound, SeverityLow},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.code.Severity())
		})
	}
}

func TestErrorBuilder_FluentInterface(t *testing.T) {
	err := NewError(ErrorTypeJobProcessing, CodeJobHandlerFailed, "import blew up").
		WithDetails("line 14: unknown card").
		WithField("deck_list").
		WithService("deck-import").
		WithOperation("ImportDeck").
		WithResource("deck").
		WithUserID("user-123").
		WithRequestID("req-456").
		WithJob("deck-import", "job-789").
		WithSeverity(SeverityHigh).
		WithRetryable(true).
		WithRetryAfter(10 * time.Second).
		WithCause(errors.New("parse failure")).
		Build()

	assert.Equal(t, ErrorTypeJobProcessing, err.Type)
	assert.Equal(t, CodeJobHandlerFailed, err.Code)
	assert.Equal(t, "import blew up", err.Message)
	assert.Equal(t, "line 14: unknown card", err.Details)
	assert.Equal(t, "deck_list", err.Field)
	assert.Equal(t, "deck-import", err.Service)
	assert.Equal(t, "ImportDeck", err.Operation)
	assert.Equal(t, "deck", err.Resource)
	assert.Equal(t, "user-123", err.UserID)
	assert.Equal(t, "req-456", err.RequestID)
	assert.Equal(t, "deck-import", err.JobType)
	assert.Equal(t, "job-789", err.JobID)
	assert.Equal(t, SeverityHigh, err.Severity)
	assert.True(t, err.Retryable)
	assert.Equal(t, 10*time.Second, err.RetryAfter)
	require.NotNil(t, err.Cause)
	assert.Equal(t, "parse failure", err.Cause.Error())
}

func TestWrap(t *testing.T) {
	t.Run("foreign errors become internal", func(t *testing.T) {
		cause := errors.New("disk full")

		wrapped := Wrap(cause, "ExportDeck", "failed to write export")

		assert.Equal(t, ErrorTypeInternal, wrapped.Type)
		assert.Equal(t, CodeInternalError, wrapped.Code)
		assert.Equal(t, "failed to write export", wrapped.Message)
		assert.Equal(t, "disk full", wrapped.Details)
		assert.Equal(t, "ExportDeck", wrapped.Operation)
		assert.True(t, errors.Is(wrapped, cause))
	})

	t.Run("unified errors keep their classification", func(t *testing.T) {
		inner := Validation(CodeInvalidInput, "bad card name").
			WithField("cards[3]").
			WithResource("deck").
			Build()

		wrapped := Wrap(inner, "ImportDeck", "import rejected")

		assert.Equal(t, ErrorTypeValidation, wrapped.Type)
		assert.Equal(t, CodeInvalidInput, wrapped.Code)
		assert.Equal(t, "import rejected", wrapped.Message)
		assert.Equal(t, "bad card name", wrapped.Details, "inner message becomes detail text")
		assert.Equal(t, "ImportDeck", wrapped.Operation)
		assert.Equal(t, "cards[3]", wrapped.Field)
		assert.Equal(t, "deck", wrapped.Resource)
		assert.True(t, IsValidation(wrapped))
		assert.True(t, errors.Is(wrapped, inner))
	})

	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, Wrap(nil, "AnyOp", "never happens"))
	})
}

func TestNormalize(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, Normalize(nil))
	})

	t.Run("unified errors pass through unchanged", func(t *testing.T) {
		original := Conflict(CodeResourceExists, "duplicate deck").Build()
		assert.Same(t, original, Normalize(original))
	})

	t.Run("context deadline maps to timeout", func(t *testing.T) {
		err := Normalize(context.DeadlineExceeded)
		assert.Equal(t, ErrorTypeTimeout, err.Type)
		assert.Equal(t, CodeOperationTimeout, err.Code)
		assert.True(t, err.Retryable)
	})

	t.Run("context cancellation maps to timeout", func(t *testing.T) {
		err := Normalize(fmt.Errorf("fetch: %w", context.Canceled))
		assert.Equal(t, ErrorTypeTimeout, err.Type)
	})

	t.Run("foreign errors map to internal", func(t *testing.T) {
		err := Normalize(errors.New("who knows"))
		assert.Equal(t, ErrorTypeInternal, err.Type)
		assert.Equal(t, CodeInternalError, err.Code)
		assert.Equal(t, "who knows", err.Message)
	})
}

func TestUnregisteredToken(t *testing.T) {
	err := UnregisteredToken("deck-cache")

	assert.True(t, IsRegistration(err))
	assert.Equal(t, CodeServiceNotRegistered, err.Code)
	assert.Contains(t, err.Error(), `"deck-cache"`, "the missing token must be identifiable")
	assert.Equal(t, "deck-cache", err.Resource)
}

func TestCircularDependency(t *testing.T) {
	err := CircularDependency([]string{"jobs", "cache", "jobs"})

	assert.True(t, IsCircularDependency(err))
	assert.Equal(t, CodeCircularDependency, err.Code)
	assert.Contains(t, err.Error(), "jobs -> cache -> jobs")
	assert.Equal(t, SeverityCritical, err.Severity)
}

func TestForeignErrorDefaults(t *testing.T) {
	foreign := errors.New("opaque failure")

	assert.Equal(t, ErrorTypeInternal, GetType(foreign))
	assert.Equal(t, SeverityMedium, GetSeverity(foreign))
	assert.False(t, IsRetryable(foreign))
}

func TestStackTrace(t *testing.T) {
	err := Internal(CodeInternalError, "boom").Build()

	assert.NotEmpty(t, err.StackTrace)
	assert.NotEmpty(t, err.File)
	assert.Greater(t, err.Line, 0)
}
