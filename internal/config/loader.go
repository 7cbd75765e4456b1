package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ============================================================================
// CONFIGURATION LOADER
// ============================================================================

// Loader loads configuration from a hierarchy of sources: defaults in code,
// layered files, and environment variables.
type Loader struct {
	// basePath is the root directory for configuration files
	basePath string

	// environment is the current deployment environment
	environment Environment

	// sources tracks where configuration was loaded from
	sources []string

	// fileLoaders maps file extensions to their loaders
	fileLoaders map[string]FileLoader
}

// FileLoader decodes one configuration file format.
type FileLoader interface {
	Load(reader io.Reader, target interface{}) error
	Extension() string
}

// NewLoader creates a configuration loader rooted at basePath.
func NewLoader(basePath string, env Environment) *Loader {
	if basePath == "" {
		basePath = "config"
	}

	loader := &Loader{
		basePath:    basePath,
		environment: env,
		sources:     make([]string, 0),
		fileLoaders: make(map[string]FileLoader),
	}

	loader.RegisterLoader(&YAMLLoader{})
	loader.RegisterLoader(&JSONLoader{})

	return loader
}

// RegisterLoader registers a file loader for its extension.
func (l *Loader) RegisterLoader(loader FileLoader) {
	l.fileLoaders[loader.Extension()] = loader
}

// Load loads configuration using a hierarchy of sources.
// The loading order (from lowest to highest priority):
//  1. Default values (in code)
//  2. Base configuration file (base.yaml)
//  3. Environment-specific file (e.g., production.yaml)
//  4. Local overrides file (local.yaml - for development)
//  5. Environment variables (highest priority)
func (l *Loader) Load() (*Config, error) {
	cfg := l.defaultConfig()
	l.sources = append(l.sources, "defaults")

	if err := l.loadFile("base", cfg); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load base config: %w", err)
	}

	envFile := strings.ToLower(string(l.environment))
	if err := l.loadFile(envFile, cfg); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load %s config: %w", envFile, err)
	}

	// Local overrides only apply in development.
	if l.environment == Development {
		if err := l.loadFile("local", cfg); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load local config: %v\n", err)
		}
	}

	l.loadEnvironmentVariables(cfg)
	l.sources = append(l.sources, "environment")

	cfg.LoadedFrom = l.sources
	cfg.Version = "1.0.0"

	cfg.applyEnvironmentDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads one named configuration file, trying each registered format.
func (l *Loader) loadFile(name string, cfg *Config) error {
	for ext, loader := range l.fileLoaders {
		filename := fmt.Sprintf("%s.%s", name, ext)
		path := filepath.Join(l.basePath, filename)

		file, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		defer file.Close()

		if err := loader.Load(file, cfg); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}

		l.sources = append(l.sources, path)
		return nil
	}

	return os.ErrNotExist
}

// loadEnvironmentVariables overlays SECTION_KEY environment variables on the
// configuration. This is the highest priority source.
func (l *Loader) loadEnvironmentVariables(cfg *Config) {
	if val := os.Getenv("SERVER_HOST"); val != "" {
		cfg.Server.Host = val
	}
	if val := os.Getenv("SERVER_PORT"); val != "" {
		if port := parseInt(val); port > 0 {
			cfg.Server.Port = port
		}
	}

	if val := os.Getenv("CACHE_MAX_MEMORY_BYTES"); val != "" {
		if limit := parseInt64(val); limit > 0 {
			cfg.Cache.MaxMemoryBytes = limit
		}
	}
	if val := os.Getenv("CACHE_MAX_ENTRIES"); val != "" {
		if n := parseInt(val); n > 0 {
			cfg.Cache.MaxEntries = n
		}
	}
	if val := os.Getenv("CACHE_DEFAULT_TTL"); val != "" {
		if d, ok := parseDuration(val); ok {
			cfg.Cache.DefaultTTL = d
		}
	}
	if val := os.Getenv("CACHE_COMPRESSION_ENABLED"); val != "" {
		cfg.Cache.CompressionEnabled = parseBool(val)
	}

	if val := os.Getenv("JOBS_POLL_INTERVAL"); val != "" {
		if d, ok := parseDuration(val); ok {
			cfg.Jobs.PollInterval = d
		}
	}
	if val := os.Getenv("JOBS_DEFAULT_ATTEMPTS"); val != "" {
		if n := parseInt(val); n > 0 {
			cfg.Jobs.DefaultAttempts = n
		}
	}
	if val := os.Getenv("JOBS_DEFAULT_TIMEOUT"); val != "" {
		if d, ok := parseDuration(val); ok {
			cfg.Jobs.DefaultTimeout = d
		}
	}

	if val := os.Getenv("LOGGING_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("LOGGING_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}
	if val := os.Getenv("LOGGING_DESTINATION"); val != "" {
		cfg.Logging.Destination = val
	}

	if val := os.Getenv("METRICS_ENABLED"); val != "" {
		cfg.Metrics.Enabled = parseBool(val)
	}
	if val := os.Getenv("METRICS_NAMESPACE"); val != "" {
		cfg.Metrics.Namespace = val
	}

	if val := os.Getenv("TRACING_ENABLED"); val != "" {
		cfg.Tracing.Enabled = parseBool(val)
	}
	if val := os.Getenv("TRACING_ENDPOINT"); val != "" {
		cfg.Tracing.Endpoint = val
	}
	if val := os.Getenv("TRACING_SAMPLE_RATE"); val != "" {
		if rate, err := strconv.ParseFloat(val, 64); err == nil && rate >= 0 && rate <= 1 {
			cfg.Tracing.SampleRate = rate
		}
	}
}

// defaultConfig returns a configuration with defaults that let the
// application run without any configuration files.
func (l *Loader) defaultConfig() *Config {
	return &Config{
		Environment: l.environment,
		Server: Server{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			IdleTimeout:     Duration(60 * time.Second),
			RequestTimeout:  Duration(30 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Cache: Cache{
			MaxMemoryBytes:       100 * 1024 * 1024,
			MaxEntries:           10000,
			DefaultTTL:           Duration(1 * time.Hour),
			CleanupInterval:      Duration(60 * time.Second),
			CompressionThreshold: 1024,
			CompressionEnabled:   true,
			MaxKeyLength:         250,
		},
		Jobs: Jobs{
			PollInterval:    Duration(1 * time.Second),
			DefaultAttempts: 3,
			DefaultTimeout:  Duration(30 * time.Second),
			BackoffInitial:  Duration(1 * time.Second),
			BackoffMax:      Duration(30 * time.Second),
			ShutdownGrace:   Duration(30 * time.Second),
			Concurrency:     map[string]int{},
		},
		Logging: Logging{
			// Level and Format are filled in by applyEnvironmentDefaults.
			Color: l.environment == Development,
		},
		Metrics: Metrics{
			Enabled:   true,
			Namespace: "deckforge",
			Path:      "/metrics",
		},
		Tracing: Tracing{
			Enabled:    false,
			Endpoint:   "localhost:4317",
			SampleRate: 1.0,
		},
		CircuitBreaker: CircuitBreaker{
			Enabled:             true,
			MaxRequests:         3,
			Interval:            Duration(60 * time.Second),
			Timeout:             Duration(30 * time.Second),
			ConsecutiveFailures: 5,
		},
	}
}

// ============================================================================
// FILE LOADERS
// ============================================================================

// YAMLLoader loads configuration from YAML files.
type YAMLLoader struct{}

func (y *YAMLLoader) Load(reader io.Reader, target interface{}) error {
	decoder := yaml.NewDecoder(reader)
	return decoder.Decode(target)
}

func (y *YAMLLoader) Extension() string {
	return "yaml"
}

// JSONLoader loads configuration from JSON files.
type JSONLoader struct{}

func (j *JSONLoader) Load(reader io.Reader, target interface{}) error {
	decoder := json.NewDecoder(reader)
	return decoder.Decode(target)
}

func (j *JSONLoader) Extension() string {
	return "json"
}

// ============================================================================
// HELPER FUNCTIONS
// ============================================================================

func parseInt(s string) int {
	val, _ := strconv.Atoi(s)
	return val
}

func parseInt64(s string) int64 {
	val, _ := strconv.ParseInt(s, 10, 64)
	return val
}

func parseBool(s string) bool {
	val, _ := strconv.ParseBool(s)
	return val
}

func parseDuration(s string) (Duration, bool) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, false
	}
	return Duration(d), true
}

// Load loads configuration for the environment resolved from ENVIRONMENT or
// APP_ENV, reading files from the config directory.
func Load() (*Config, error) {
	env := getEnvironment()
	loader := NewLoader("config", env)
	return loader.Load()
}

// MustLoad loads configuration and panics on error. Use this only in main().
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}
