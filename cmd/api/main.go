package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"deckforge-backend/internal/bootstrap"
	"deckforge-backend/internal/config"
	"deckforge-backend/internal/di"
	"deckforge-backend/internal/errors"
	"deckforge-backend/internal/infrastructure/cache"
	"deckforge-backend/internal/infrastructure/observability"
	"deckforge-backend/internal/jobs"
	"deckforge-backend/internal/middleware"
	"deckforge-backend/pkg/api"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := errors.NewStructuredLogger(errors.LoggerOptions{
		Environment: string(cfg.Environment),
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Color:       cfg.Logging.Color,
		Destination: cfg.Logging.Destination,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	// Build and start the service container
	container, err := bootstrap.BuildContainer(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to build container: %v", err)
	}
	if err := container.Start(ctx); err != nil {
		log.Fatalf("Failed to start container: %v", err)
	}

	collector, err := bootstrap.Metrics(ctx, container)
	if err != nil {
		log.Fatalf("Failed to resolve metrics collector: %v", err)
	}
	memCache, err := bootstrap.Cache(ctx, container)
	if err != nil {
		log.Fatalf("Failed to resolve cache: %v", err)
	}
	processor, err := bootstrap.Jobs(ctx, container)
	if err != nil {
		log.Fatalf("Failed to resolve job processor: %v", err)
	}

	// Hot-reload of cache limits, development only
	if cfg.IsDevelopment() {
		manager, err := config.NewConfigManager(cfg, "config", logger.Logger)
		if err != nil {
			logger.Warn("Config hot-reload unavailable", zap.Error(err))
		} else {
			manager.RegisterComponent("cache", func(next *config.Config) error {
				memCache.Reconfigure(bootstrap.CacheConfig(next))
				return nil
			})
			defer manager.Stop()
		}
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      buildRouter(cfg, logger, collector, container, memCache, processor),
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
		IdleTimeout:  cfg.Server.IdleTimeout.Std(),
	}

	// Start server in goroutine
	go func() {
		logger.Info("Starting server",
			zap.String("address", srv.Addr),
			zap.String("environment", string(cfg.Environment)),
		)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	// Graceful shutdown
	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}
	if err := container.Stop(shutdownCtx); err != nil {
		logger.Error("Container stop error", zap.Error(err))
	}

	// Clean up resources
	if err := logger.Sync(); err != nil {
		log.Printf("Failed to sync logger: %v", err)
	}

	log.Println("Server stopped")
}

func buildRouter(
	cfg *config.Config,
	logger *errors.StructuredLogger,
	collector *observability.Collector,
	container *di.Container,
	memCache *cache.MemoryCache,
	processor *jobs.Processor,
) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(logger.Logger))
	r.Use(middleware.Timeout(cfg.Server.RequestTimeout.Std(), logger.Logger))
	r.Use(observability.MetricsMiddleware(collector))
	if cfg.Tracing.Enabled {
		r.Use(observability.TracingMiddleware("deckforge-backend"))
	}

	r.Group(func(r chi.Router) {
		if cfg.CircuitBreaker.Enabled {
			r.Use(middleware.CircuitBreaker(middleware.CircuitBreakerConfig{
				Name:                "api",
				MaxRequests:         cfg.CircuitBreaker.MaxRequests,
				Interval:            cfg.CircuitBreaker.Interval.Std(),
				Timeout:             cfg.CircuitBreaker.Timeout.Std(),
				ConsecutiveFailures: cfg.CircuitBreaker.ConsecutiveFailures,
			}, logger.Logger, collector))
		}

		r.Get("/health", healthHandler(container))
		r.Get("/stats", statsHandler(memCache, processor))
	})
	r.Method(http.MethodGet, "/metrics",
		promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{}))

	return r
}

type healthResponse struct {
	Healthy  bool                       `json:"healthy"`
	Services map[string]di.HealthStatus `json:"services"`
}

type statsResponse struct {
	Cache cache.Stats                `json:"cache"`
	Jobs  map[string]jobs.QueueStats `json:"jobs"`
}

// healthHandler aggregates per-service health. Anything short of healthy,
// degraded included, turns the response into a 503.
func healthHandler(container *di.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		services := container.Health(r.Context())

		healthy := true
		for _, status := range services {
			if !status.IsHealthy() {
				healthy = false
				break
			}
		}

		code := http.StatusOK
		if !healthy {
			code = http.StatusServiceUnavailable
		}
		api.Success(w, code, healthResponse{Healthy: healthy, Services: services})
	}
}

func statsHandler(memCache *cache.MemoryCache, processor *jobs.Processor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, statsResponse{
			Cache: memCache.Stats(),
			Jobs:  processor.Stats(),
		})
	}
}
