package errors

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// recordingMetrics captures counter increments for assertions.
type recordingMetrics struct {
	mu    sync.Mutex
	calls []metricCall
}

type metricCall struct {
	name string
	tags map[string]string
}

func (m *recordingMetrics) IncrementCounter(name string, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := make(map[string]string, len(tags))
	for k, v := range tags {
		copied[k] = v
	}
	m.calls = append(m.calls, metricCall{name: name, tags: copied})
}

func (m *recordingMetrics) last() (metricCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return metricCall{}, false
	}
	return m.calls[len(m.calls)-1], true
}

func newObservedHandler(metrics MetricsClient) (*ErrorHandler, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	handler := NewErrorHandler(ErrorHandlerConfig{
		Logger:        zap.New(core),
		MetricsClient: metrics,
	})
	return handler, logs
}

func TestErrorHandler_DispatchByKind(t *testing.T) {
	handler, _ := newObservedHandler(nil)
	ctx := context.Background()

	var (
		mu        sync.Mutex
		cacheHits []*UnifiedError
		defaults  []*UnifiedError
	)
	handler.RegisterHandler(ErrorTypeCache, func(_ context.Context, err *UnifiedError, _ ErrorContext) {
		mu.Lock()
		cacheHits = append(cacheHits, err)
		mu.Unlock()
	})
	handler.SetDefaultHandler(func(_ context.Context, err *UnifiedError, _ ErrorContext) {
		mu.Lock()
		defaults = append(defaults, err)
		mu.Unlock()
	})

	handler.Handle(ctx, CacheFailure(CodeCacheEntryTooLarge, "too big").Build(), ErrorContext{})
	handler.Handle(ctx, Validation(CodeInvalidInput, "bad input").Build(), ErrorContext{})

	require.Len(t, cacheHits, 1, "cache errors go to the cache handler")
	assert.Equal(t, CodeCacheEntryTooLarge, cacheHits[0].Code)

	require.Len(t, defaults, 1, "kinds without a handler fall back to the default")
	assert.Equal(t, ErrorTypeValidation, defaults[0].Type)
}

func TestErrorHandler_ReplacesHandlerForKind(t *testing.T) {
	handler, _ := newObservedHandler(nil)

	var first, second int
	handler.RegisterHandler(ErrorTypeTimeout, func(context.Context, *UnifiedError, ErrorContext) { first++ })
	handler.RegisterHandler(ErrorTypeTimeout, func(context.Context, *UnifiedError, ErrorContext) { second++ })

	handler.Handle(context.Background(), Timeout(CodeOperationTimeout, "slow").Build(), ErrorContext{})

	assert.Zero(t, first)
	assert.Equal(t, 1, second)
}

func TestErrorHandler_NilErrorIsIgnored(t *testing.T) {
	metrics := &recordingMetrics{}
	handler, logs := newObservedHandler(metrics)

	invoked := false
	handler.SetDefaultHandler(func(context.Context, *UnifiedError, ErrorContext) { invoked = true })

	handler.Handle(context.Background(), nil, ErrorContext{Service: "decks"})

	assert.False(t, invoked)
	assert.Zero(t, logs.Len())
	_, recorded := metrics.last()
	assert.False(t, recorded)
}

func TestErrorHandler_NormalizesForeignErrors(t *testing.T) {
	handler, _ := newObservedHandler(nil)

	var seen *UnifiedError
	handler.RegisterHandler(ErrorTypeInternal, func(_ context.Context, err *UnifiedError, _ ErrorContext) {
		seen = err
	})

	handler.Handle(context.Background(), errors.New("plain failure"), ErrorContext{})

	require.NotNil(t, seen)
	assert.Equal(t, ErrorTypeInternal, seen.Type)
	assert.Equal(t, CodeInternalError, seen.Code)
	assert.Equal(t, "plain failure", seen.Message)
}

func TestErrorHandler_FillsMissingContext(t *testing.T) {
	handler, _ := newObservedHandler(nil)

	var seen *UnifiedError
	handler.SetDefaultHandler(func(_ context.Context, err *UnifiedError, _ ErrorContext) {
		seen = err
	})

	errCtx := ErrorContext{
		Service:   "deck-import",
		Operation: "ImportDeck",
		UserID:    "user-1",
		RequestID: "req-1",
	}
	handler.Handle(context.Background(), Validation(CodeInvalidInput, "bad").Build(), errCtx)

	require.NotNil(t, seen)
	assert.Equal(t, "deck-import", seen.Service)
	assert.Equal(t, "ImportDeck", seen.Operation)
	assert.Equal(t, "user-1", seen.UserID)
	assert.Equal(t, "req-1", seen.RequestID)

	// Values already on the error win over the call context.
	preset := Validation(CodeInvalidInput, "bad").
		WithService("original-service").
		Build()
	handler.Handle(context.Background(), preset, errCtx)
	assert.Equal(t, "original-service", seen.Service)
}

func TestErrorHandler_MetricsTags(t *testing.T) {
	metrics := &recordingMetrics{}
	handler, _ := newObservedHandler(metrics)

	handler.Handle(context.Background(),
		Timeout(CodeOperationTimeout, "slow upstream").Build(),
		ErrorContext{Service: "card-sync", Operation: "FetchCards"},
	)

	call, ok := metrics.last()
	require.True(t, ok)
	assert.Equal(t, "errors_total", call.name)
	assert.Equal(t, "TIMEOUT", call.tags["error_type"])
	assert.Equal(t, "OPERATION_TIMEOUT", call.tags["error_code"])
	assert.Equal(t, "MEDIUM", call.tags["severity"])
	assert.Equal(t, "true", call.tags["retryable"])
	assert.Equal(t, "card-sync", call.tags["service"])
	assert.Equal(t, "FetchCards", call.tags["operation"])
}

func TestErrorHandler_LogLevelTracksSeverity(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected zapcore.Level
	}{
		{
			name:     "low severity logs at info",
			err:      Validation(CodeInvalidInput, "low").Build(),
			expected: zapcore.InfoLevel,
		},
		{
			name:     "medium severity logs at warn",
			err:      Timeout(CodeOperationTimeout, "medium").Build(),
			expected: zapcore.WarnLevel,
		},
		{
			name:     "high severity logs at error",
			err:      Internal(CodeServiceInitFailed, "high").Build(),
			expected: zapcore.ErrorLevel,
		},
		{
			name:     "critical severity logs at error",
			err:      Internal(CodeInternalError, "critical").Build(),
			expected: zapcore.ErrorLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, logs := newObservedHandler(nil)

			handler.Handle(context.Background(), tt.err, ErrorContext{})

			entries := logs.All()
			require.Len(t, entries, 1)
			assert.Equal(t, tt.expected, entries[0].Level)
			assert.Equal(t, "error handled", entries[0].Message)

			fields := entries[0].ContextMap()
			assert.NotEmpty(t, fields["error_type"])
			assert.NotEmpty(t, fields["error_code"])
		})
	}
}

func TestErrorHandler_MetadataReachesLogs(t *testing.T) {
	handler, logs := newObservedHandler(nil)

	handler.Handle(context.Background(),
		JobProcessing(CodeJobHandlerFailed, "import failed", "deck-import", "job-7").Build(),
		ErrorContext{Metadata: map[string]string{"attempt": "2"}},
	)

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "deck-import", fields["job_type"])
	assert.Equal(t, "job-7", fields["job_id"])
	assert.Equal(t, "2", fields["meta_attempt"])
}

func TestErrorHandler_PanickingHandlerIsContained(t *testing.T) {
	handler, logs := newObservedHandler(nil)

	handler.RegisterHandler(ErrorTypeCache, func(context.Context, *UnifiedError, ErrorContext) {
		panic("handler exploded")
	})

	assert.NotPanics(t, func() {
		handler.Handle(context.Background(), CacheFailure(CodeCacheKeyInvalid, "bad key").Build(), ErrorContext{})
	})

	found := logs.FilterMessage("error handler panicked")
	assert.Equal(t, 1, found.Len())
}

func TestWithErrorHandling(t *testing.T) {
	handler, _ := newObservedHandler(nil)
	ctx := context.Background()

	var handled *UnifiedError
	handler.SetDefaultHandler(func(_ context.Context, err *UnifiedError, _ ErrorContext) {
		handled = err
	})

	t.Run("returns the original error unchanged", func(t *testing.T) {
		original := NotFound(CodeDeckNotFound, "gone").Build()

		err := handler.WithErrorHandling(ctx, ErrorContext{Operation: "GetDeck"}, func(context.Context) error {
			return original
		})

		assert.Same(t, original, err.(*UnifiedError))
		require.NotNil(t, handled)
		assert.Equal(t, CodeDeckNotFound, handled.Code)
	})

	t.Run("success skips handling", func(t *testing.T) {
		handled = nil

		err := handler.WithErrorHandling(ctx, ErrorContext{}, func(context.Context) error {
			return nil
		})

		assert.NoError(t, err)
		assert.Nil(t, handled)
	})
}
