package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"deckforge-backend/internal/bootstrap"
	"deckforge-backend/internal/config"
	"deckforge-backend/internal/decks"
	"deckforge-backend/internal/errors"
	"deckforge-backend/internal/jobs"
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

	processor, err := bootstrap.Jobs(ctx, container)
	if err != nil {
		log.Fatalf("Failed to resolve job processor: %v", err)
	}
	memCache, err := bootstrap.Cache(ctx, container)
	if err != nil {
		log.Fatalf("Failed to resolve cache: %v", err)
	}
	errorHandler, err := bootstrap.ErrorHandler(ctx, container)
	if err != nil {
		log.Fatalf("Failed to resolve error handler: %v", err)
	}

	// Register the deck pipeline handlers
	deckService := decks.NewService(memCache, errorHandler, logger.Logger)
	if err := deckService.Register(processor, cfg.Jobs.ConcurrencyFor); err != nil {
		log.Fatalf("Failed to register job handlers: %v", err)
	}

	// Card data refreshes on a fixed cadence; the immediate enqueue warms
	// the cache so the first deck import does not wait six hours.
	if _, err := processor.ScheduleRecurring("@every 6h", decks.JobTypeCardSync, nil); err != nil {
		log.Fatalf("Failed to schedule card sync: %v", err)
	}
	if _, err := processor.Enqueue(ctx, decks.JobTypeCardSync, nil, jobs.WithPriority(10)); err != nil {
		logger.Warn("Initial card sync enqueue failed", zap.Error(err))
	}

	logger.Info("Starting worker",
		zap.String("environment", string(cfg.Environment)),
		zap.Strings("job_types", []string{decks.JobTypeImport, decks.JobTypeExport, decks.JobTypeCardSync}),
	)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	// Graceful shutdown: stopping the container drains active jobs within
	// the configured grace period.
	logger.Info("Shutting down worker...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Jobs.ShutdownGrace.Std())
	defer shutdownCancel()

	if err := container.Stop(shutdownCtx); err != nil {
		logger.Error("Container stop error", zap.Error(err))
	}

	for jobType, stats := range processor.Stats() {
		logger.Info("Final queue state",
			zap.String("job_type", jobType),
			zap.Int("waiting", stats.Waiting),
			zap.Int("active", stats.Active),
			zap.Int64("completed", stats.Completed),
			zap.Int64("failed", stats.Failed),
		)
	}

	if err := logger.Sync(); err != nil {
		log.Printf("Failed to sync logger: %v", err)
	}

	log.Println("Worker stopped")
}
