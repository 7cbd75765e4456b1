// Package di provides the service container: token-keyed registrations,
// lazy singleton construction, dependency-aware lifecycle management, and
// aggregated health reporting.
package di

import (
	"context"
	"time"
)

// Factory constructs a service instance. Factories may resolve their own
// dependencies through the container they receive.
type Factory func(ctx context.Context, c *Container) (any, error)

// Options controls how a registration behaves. The zero value gives the
// defaults: a lazily created singleton with no declared dependencies.
type Options struct {
	// Transient makes every Resolve call invoke the factory instead of
	// caching a single instance.
	Transient bool
	// Eager creates the singleton during Start instead of on first Resolve.
	// Ignored for transient registrations.
	Eager bool
	// Dependencies declares the tokens this service needs. The container
	// resolves them before the factory runs and uses them for cycle
	// detection and Validate.
	Dependencies []Token
}

// Initializer is implemented by services that need a startup hook. The
// container invokes it once the instance is created in a started container,
// or during Start for instances that already exist.
type Initializer interface {
	Initialize(ctx context.Context) error
}

// Shutdowner is implemented by services that need teardown. The container
// invokes it during Stop in reverse creation order.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// HealthChecker is implemented by services that report health. Services
// without it are reported healthy by default.
type HealthChecker interface {
	HealthCheck(ctx context.Context) HealthStatus
}

// HealthState classifies a service's operational condition.
type HealthState string

const (
	StateHealthy   HealthState = "healthy"
	StateDegraded  HealthState = "degraded"
	StateUnhealthy HealthState = "unhealthy"
)

// HealthStatus is one service's health report.
type HealthStatus struct {
	Status    HealthState        `json:"status"`
	Message   string             `json:"message,omitempty"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// IsHealthy reports whether the service considers itself fully operational.
func (s HealthStatus) IsHealthy() bool {
	return s.Status == StateHealthy
}

// Healthy builds a healthy status stamped with the current time.
func Healthy(message string) HealthStatus {
	return HealthStatus{Status: StateHealthy, Message: message, Timestamp: time.Now()}
}

// Degraded builds a degraded status stamped with the current time.
func Degraded(message string) HealthStatus {
	return HealthStatus{Status: StateDegraded, Message: message, Timestamp: time.Now()}
}

// Unhealthy builds an unhealthy status stamped with the current time.
func Unhealthy(message string) HealthStatus {
	return HealthStatus{Status: StateUnhealthy, Message: message, Timestamp: time.Now()}
}
