// Package config provides configuration management for the DeckForge backend.
//
// Configuration combines multiple sources with validation, environment
// awareness, and hot reloading for development.
//
// # Configuration Hierarchy
//
// Configuration is loaded from multiple sources in priority order (highest wins):
//  1. Default values in code (lowest priority)
//  2. base.yaml - Common configuration for all environments
//  3. {environment}.yaml - Environment-specific overrides
//  4. local.yaml - Local developer overrides (gitignored)
//  5. Environment variables (highest priority)
//
// # File Structure
//
//	config/
//	├── base.yaml           # Base configuration for all environments
//	├── development.yaml    # Development environment overrides
//	├── staging.yaml        # Staging environment overrides
//	├── production.yaml     # Production environment overrides
//	└── local.yaml          # Local overrides (gitignored)
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal("Failed to load configuration:", err)
//	}
//	fmt.Printf("Configuration loaded from: %v\n", cfg.LoadedFrom)
//
// Using configuration in your application:
//
//	server := &http.Server{
//	    Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
//	    ReadTimeout:  cfg.Server.ReadTimeout.Std(),
//	    WriteTimeout: cfg.Server.WriteTimeout.Std(),
//	}
//
// # Environment Variables
//
// Configuration values can be overridden via environment variables. The
// naming convention is SECTION_KEY (uppercase, underscore-separated).
//
// Examples:
//   - SERVER_PORT=8080
//   - CACHE_MAX_MEMORY_BYTES=209715200
//   - JOBS_POLL_INTERVAL=500ms
//   - TRACING_ENABLED=true
//
// The deployment environment itself comes from ENVIRONMENT or APP_ENV.
//
// # Validation
//
// Configuration validation happens at two levels: struct tags using
// go-playground/validator, and cross-field business rules in Validate().
// Invalid configuration causes immediate startup failure.
//
// # Configuration Hot Reload (Development Only)
//
// In development, configuration can be reloaded without restart:
//
//	watcher, err := config.NewConfigWatcher(cfg, "config", logger)
//	watcher.OnChange(func(newCfg *config.Config) {
//	    // Update application with new configuration
//	})
//	defer watcher.Stop()
//
// Reloads go through the full loader hierarchy and are validated before
// being applied; invalid configurations keep the previous one active.
//
// # Testing
//
// Load test-specific configuration from a directory:
//
//	loader := config.NewLoader("testdata/config", config.Development)
//	cfg, err := loader.Load()
package config
