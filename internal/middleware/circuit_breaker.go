package middleware

import (
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"deckforge-backend/internal/infrastructure/observability"
	"deckforge-backend/pkg/api"
)

// CircuitBreakerConfig holds configuration for the circuit breaker.
type CircuitBreakerConfig struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	// ConsecutiveFailures is how many failures in a row trip the breaker.
	ConsecutiveFailures uint32
}

// DefaultCircuitBreakerConfig returns a default configuration.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:                name,
		MaxRequests:         5,
		Interval:            30 * time.Second,
		Timeout:             60 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// CircuitBreaker rejects requests once the route group has failed too many
// times in a row, giving the backend room to recover. 5xx responses count
// as failures. The metrics collector is optional.
func CircuitBreaker(config CircuitBreakerConfig, logger *zap.Logger, metrics *observability.Collector) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ConsecutiveFailures < 1 {
		config.ConsecutiveFailures = DefaultCircuitBreakerConfig(config.Name).ConsecutiveFailures
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.ConsecutiveFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			if metrics != nil {
				metrics.IncrementCounter("circuit_breaker_transitions_total",
					map[string]string{"breaker": name, "to": to.String()})
			}
		},
	})

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, err := cb.Execute(func() (any, error) {
				wrapper := &responseWrapper{
					ResponseWriter: w,
					statusCode:     http.StatusOK,
				}

				next.ServeHTTP(wrapper, r)

				// 5xx responses count as failures toward tripping.
				if wrapper.statusCode >= 500 {
					return nil, http.ErrAbortHandler
				}
				return nil, nil
			})

			switch err {
			case nil, http.ErrAbortHandler:
				// Handler ran; its own response stands.
			case gobreaker.ErrOpenState, gobreaker.ErrTooManyRequests:
				logger.Warn("circuit breaker rejected request",
					zap.String("breaker", config.Name),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Error(err),
				)
				if metrics != nil {
					metrics.IncrementCounter("circuit_breaker_rejections_total",
						map[string]string{"breaker": config.Name})
				}
				api.Error(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
			default:
				logger.Error("circuit breaker execution failed",
					zap.String("breaker", config.Name),
					zap.Error(err),
				)
				api.Error(w, http.StatusInternalServerError, "Service error")
			}
		})
	}
}

// responseWrapper wraps http.ResponseWriter to capture the status code.
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
