// Package bootstrap assembles the service container: it defines the
// runtime's service tokens, registers the factories that build the core
// services from configuration, and validates the dependency graph. Both
// binaries (api and worker) build their container here so the wiring only
// exists in one place.
package bootstrap

import (
	"context"

	"deckforge-backend/internal/config"
	"deckforge-backend/internal/di"
	"deckforge-backend/internal/errors"
	"deckforge-backend/internal/infrastructure/cache"
	"deckforge-backend/internal/infrastructure/observability"
	"deckforge-backend/internal/jobs"
)

// Service tokens. Everything else in the codebase resolves the core
// services through these.
var (
	LoggerToken       = di.TokenFor[*errors.StructuredLogger]("logger")
	MetricsToken      = di.TokenFor[*observability.Collector]("metrics")
	ErrorHandlerToken = di.TokenFor[*errors.ErrorHandler]("error-handler")
	CacheToken        = di.TokenFor[*cache.MemoryCache]("cache")
	JobsToken         = di.TokenFor[*jobs.Processor]("job-processor")
	TracingToken      = di.TokenFor[*observability.TracerProvider]("tracing")
	PerformanceToken  = di.TokenFor[*observability.PerformanceMonitor]("performance-monitor")
)

// BuildContainer wires the core services into a new container. All core
// services are eager singletons so Start constructs and initializes the
// full graph; the logger and metrics collector are built ahead of the
// container because the container itself logs and publishes gauges.
func BuildContainer(cfg *config.Config, logger *errors.StructuredLogger) (*di.Container, error) {
	collector := observability.NewCollector(cfg.Metrics.Namespace)

	container := di.NewContainer(
		di.WithLogger(logger.Logger),
		di.WithMetrics(collector),
	)

	err := container.Register(LoggerToken, func(ctx context.Context, c *di.Container) (any, error) {
		return logger, nil
	}, di.Options{Eager: true})
	if err != nil {
		return nil, err
	}

	err = container.Register(MetricsToken, func(ctx context.Context, c *di.Container) (any, error) {
		return collector, nil
	}, di.Options{Eager: true, Dependencies: []di.Token{LoggerToken}})
	if err != nil {
		return nil, err
	}

	err = container.Register(ErrorHandlerToken, func(ctx context.Context, c *di.Container) (any, error) {
		log, err := di.Resolve[*errors.StructuredLogger](ctx, c, LoggerToken)
		if err != nil {
			return nil, err
		}
		metrics, err := di.Resolve[*observability.Collector](ctx, c, MetricsToken)
		if err != nil {
			return nil, err
		}
		return errors.NewErrorHandler(errors.ErrorHandlerConfig{
			Logger:        log.Logger,
			MetricsClient: metrics,
			EnableDebug:   cfg.IsDevelopment(),
		}), nil
	}, di.Options{Eager: true, Dependencies: []di.Token{LoggerToken, MetricsToken}})
	if err != nil {
		return nil, err
	}

	err = container.Register(CacheToken, func(ctx context.Context, c *di.Container) (any, error) {
		log, err := di.Resolve[*errors.StructuredLogger](ctx, c, LoggerToken)
		if err != nil {
			return nil, err
		}
		metrics, err := di.Resolve[*observability.Collector](ctx, c, MetricsToken)
		if err != nil {
			return nil, err
		}
		return cache.NewMemoryCache(CacheConfig(cfg), log.Logger, metrics), nil
	}, di.Options{Eager: true, Dependencies: []di.Token{LoggerToken, MetricsToken}})
	if err != nil {
		return nil, err
	}

	err = container.Register(JobsToken, func(ctx context.Context, c *di.Container) (any, error) {
		log, err := di.Resolve[*errors.StructuredLogger](ctx, c, LoggerToken)
		if err != nil {
			return nil, err
		}
		metrics, err := di.Resolve[*observability.Collector](ctx, c, MetricsToken)
		if err != nil {
			return nil, err
		}
		return jobs.NewProcessor(jobs.Config{
			PollInterval:    cfg.Jobs.PollInterval.Std(),
			DefaultAttempts: cfg.Jobs.DefaultAttempts,
			DefaultTimeout:  cfg.Jobs.DefaultTimeout.Std(),
			BackoffInitial:  cfg.Jobs.BackoffInitial.Std(),
			BackoffMax:      cfg.Jobs.BackoffMax.Std(),
			ShutdownGrace:   cfg.Jobs.ShutdownGrace.Std(),
		}, log.Logger, metrics), nil
	}, di.Options{Eager: true, Dependencies: []di.Token{LoggerToken, MetricsToken}})
	if err != nil {
		return nil, err
	}

	err = container.Register(PerformanceToken, func(ctx context.Context, c *di.Container) (any, error) {
		log, err := di.Resolve[*errors.StructuredLogger](ctx, c, LoggerToken)
		if err != nil {
			return nil, err
		}
		metrics, err := di.Resolve[*observability.Collector](ctx, c, MetricsToken)
		if err != nil {
			return nil, err
		}
		return observability.NewPerformanceMonitor(log.Logger, metrics), nil
	}, di.Options{Eager: true, Dependencies: []di.Token{LoggerToken, MetricsToken}})
	if err != nil {
		return nil, err
	}

	if cfg.Tracing.Enabled {
		err = container.Register(TracingToken, func(ctx context.Context, c *di.Container) (any, error) {
			return observability.InitTracing(observability.TracingConfig{
				ServiceName: "deckforge-backend",
				Environment: string(cfg.Environment),
				Endpoint:    cfg.Tracing.Endpoint,
				SampleRate:  cfg.Tracing.SampleRate,
				EnableDebug: cfg.IsDevelopment(),
			})
		}, di.Options{Eager: true, Dependencies: []di.Token{LoggerToken}})
		if err != nil {
			return nil, err
		}
	}

	if err := container.Validate(); err != nil {
		return nil, err
	}
	return container, nil
}

// CacheConfig maps file configuration onto the cache's runtime limits. The
// hot-reload path in cmd/api reuses it so reloaded limits and initial
// limits cannot drift.
func CacheConfig(cfg *config.Config) cache.Config {
	return cache.Config{
		MaxMemoryBytes:       cfg.Cache.MaxMemoryBytes,
		MaxEntries:           cfg.Cache.MaxEntries,
		DefaultTTL:           cfg.Cache.DefaultTTL.Std(),
		CleanupInterval:      cfg.Cache.CleanupInterval.Std(),
		CompressionThreshold: cfg.Cache.CompressionThreshold,
		CompressionEnabled:   cfg.Cache.CompressionEnabled,
		MaxKeyLength:         cfg.Cache.MaxKeyLength,
	}
}

// Logger resolves the shared structured logger.
func Logger(ctx context.Context, c *di.Container) (*errors.StructuredLogger, error) {
	return di.Resolve[*errors.StructuredLogger](ctx, c, LoggerToken)
}

// Metrics resolves the metrics collector.
func Metrics(ctx context.Context, c *di.Container) (*observability.Collector, error) {
	return di.Resolve[*observability.Collector](ctx, c, MetricsToken)
}

// ErrorHandler resolves the central error handler.
func ErrorHandler(ctx context.Context, c *di.Container) (*errors.ErrorHandler, error) {
	return di.Resolve[*errors.ErrorHandler](ctx, c, ErrorHandlerToken)
}

// Cache resolves the in-memory cache.
func Cache(ctx context.Context, c *di.Container) (*cache.MemoryCache, error) {
	return di.Resolve[*cache.MemoryCache](ctx, c, CacheToken)
}

// Jobs resolves the background job processor.
func Jobs(ctx context.Context, c *di.Container) (*jobs.Processor, error) {
	return di.Resolve[*jobs.Processor](ctx, c, JobsToken)
}

// Performance resolves the runtime performance monitor.
func Performance(ctx context.Context, c *di.Container) (*observability.PerformanceMonitor, error) {
	return di.Resolve[*observability.PerformanceMonitor](ctx, c, PerformanceToken)
}
