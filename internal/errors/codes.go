// Package errors provides standardized error codes for consistent error handling.
package errors

// ErrorCode represents a unique error code for specific error scenarios
type ErrorCode string

// Runtime error codes
const (
	// Service container errors
	CodeServiceNotRegistered     ErrorCode = "SERVICE_NOT_REGISTERED"
	CodeServiceAlreadyRegistered ErrorCode = "SERVICE_ALREADY_REGISTERED"
	CodeCircularDependency       ErrorCode = "CIRCULAR_DEPENDENCY"
	CodeContainerStartFailed     ErrorCode = "CONTAINER_START_FAILED"
	CodeContainerStopped         ErrorCode = "CONTAINER_STOPPED"
	CodeServiceInitFailed        ErrorCode = "SERVICE_INIT_FAILED"
	CodeServiceTypeMismatch      ErrorCode = "SERVICE_TYPE_MISMATCH"
	CodeFactoryFailed            ErrorCode = "FACTORY_FAILED"

	// Cache errors
	CodeCacheKeyInvalid           ErrorCode = "CACHE_KEY_INVALID"
	CodeCacheSerializationFailed  ErrorCode = "CACHE_SERIALIZATION_FAILED"
	CodeCacheCompressionFailed    ErrorCode = "CACHE_COMPRESSION_FAILED"
	CodeCacheEntryTooLarge        ErrorCode = "CACHE_ENTRY_TOO_LARGE"
	CodeCacheValueNotSerializable ErrorCode = "CACHE_VALUE_NOT_SERIALIZABLE"

	// Job processing errors
	CodeJobHandlerFailed    ErrorCode = "JOB_HANDLER_FAILED"
	CodeJobTimeout          ErrorCode = "JOB_TIMEOUT"
	CodeJobCancelled        ErrorCode = "JOB_CANCELLED"
	CodeJobRetriesExhausted ErrorCode = "JOB_RETRIES_EXHAUSTED"
	CodeJobInvalidPayload   ErrorCode = "JOB_INVALID_PAYLOAD"
	CodeJobInvalidProgress  ErrorCode = "JOB_INVALID_PROGRESS"
	CodeJobScheduleInvalid  ErrorCode = "JOB_SCHEDULE_INVALID"

	// Deck platform errors (reported by job handlers and feature services)
	CodeDeckNotFound         ErrorCode = "DECK_NOT_FOUND"
	CodeDeckValidationFailed ErrorCode = "DECK_VALIDATION_FAILED"
	CodeDeckImportFailed     ErrorCode = "DECK_IMPORT_FAILED"
	CodeDeckExportFailed     ErrorCode = "DECK_EXPORT_FAILED"
	CodeCardDataUnavailable  ErrorCode = "CARD_DATA_UNAVAILABLE"

	// Validation errors
	CodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	CodeInvalidInput     ErrorCode = "INVALID_INPUT"
	CodeMissingField     ErrorCode = "MISSING_FIELD"
	CodeInvalidFormat    ErrorCode = "INVALID_FORMAT"

	// Access errors
	CodeAccessDenied      ErrorCode = "ACCESS_DENIED"
	CodeActionForbidden   ErrorCode = "ACTION_FORBIDDEN"
	CodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Resource errors
	CodeResourceNotFound ErrorCode = "RESOURCE_NOT_FOUND"
	CodeResourceExists   ErrorCode = "RESOURCE_EXISTS"

	// Infrastructure errors
	CodeInternalError        ErrorCode = "INTERNAL_ERROR"
	CodeOperationTimeout     ErrorCode = "OPERATION_TIMEOUT"
	CodeServiceUnavailable   ErrorCode = "SERVICE_UNAVAILABLE"
	CodePersistenceError     ErrorCode = "PERSISTENCE_ERROR"
	CodeExternalServiceError ErrorCode = "EXTERNAL_SERVICE_ERROR"
	CodeConfigInvalid        ErrorCode = "CONFIG_INVALID"
)

// String returns the string representation of the error code
func (c ErrorCode) String() string {
	return string(c)
}

// IsRetryable returns whether an error with this code should be retried
func (c ErrorCode) IsRetryable() bool {
	switch c {
	case CodeOperationTimeout, CodeServiceUnavailable, CodeExternalServiceError,
		CodePersistenceError, CodeRateLimitExceeded, CodeJobTimeout,
		CodeCardDataUnavailable:
		return true
	default:
		return false
	}
}

// Severity returns the severity level for the error code
func (c ErrorCode) Severity() ErrorSeverity {
	switch c {
	// Critical - runtime integrity failures
	case CodeInternalError, CodeContainerStartFailed, CodeCircularDependency:
		return SeverityCritical

	// High - service disruptions
	case CodeServiceUnavailable, CodeServiceInitFailed, CodeFactoryFailed,
		CodePersistenceError, CodeJobRetriesExhausted, CodeConfigInvalid:
		return SeverityHigh

	// Medium - degraded operations
	case CodeOperationTimeout, CodeJobTimeout, CodeJobHandlerFailed,
		CodeRateLimitExceeded, CodeExternalServiceError,
		CodeCacheCompressionFailed, CodeCacheEntryTooLarge,
		CodeServiceNotRegistered, CodeServiceTypeMismatch,
		CodeDeckImportFailed, CodeDeckExportFailed:
		return SeverityMedium

	// Low - caller errors
	default:
		return SeverityLow
	}
}
