package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Environment is the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Duration wraps time.Duration so YAML files can use readable values like
// "30s" or "1h".
type Duration time.Duration

// UnmarshalYAML accepts duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration in its string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full application configuration.
type Config struct {
	Environment Environment `yaml:"environment" validate:"required,oneof=development staging production"`

	Server         Server         `yaml:"server"`
	Cache          Cache          `yaml:"cache"`
	Jobs           Jobs           `yaml:"jobs"`
	Logging        Logging        `yaml:"logging"`
	Metrics        Metrics        `yaml:"metrics"`
	Tracing        Tracing        `yaml:"tracing"`
	CircuitBreaker CircuitBreaker `yaml:"circuit_breaker"`

	// LoadedFrom records the sources that contributed to this config.
	LoadedFrom []string `yaml:"-"`
	// Version is the configuration schema version.
	Version string `yaml:"-"`
}

// Server holds HTTP server settings.
type Server struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port" validate:"min=1,max=65535"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	IdleTimeout     Duration `yaml:"idle_timeout"`
	RequestTimeout  Duration `yaml:"request_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// Cache holds cache sizing settings.
type Cache struct {
	MaxMemoryBytes       int64    `yaml:"max_memory_bytes" validate:"min=1"`
	MaxEntries           int      `yaml:"max_entries" validate:"min=0"`
	DefaultTTL           Duration `yaml:"default_ttl"`
	CleanupInterval      Duration `yaml:"cleanup_interval"`
	CompressionThreshold int      `yaml:"compression_threshold" validate:"min=0"`
	CompressionEnabled   bool     `yaml:"compression_enabled"`
	MaxKeyLength         int      `yaml:"max_key_length" validate:"min=1"`
}

// Jobs holds job processor settings. Concurrency maps job types to their
// worker limits; unlisted types default to 1.
type Jobs struct {
	PollInterval    Duration       `yaml:"poll_interval"`
	DefaultAttempts int            `yaml:"default_attempts" validate:"min=1"`
	DefaultTimeout  Duration       `yaml:"default_timeout"`
	BackoffInitial  Duration       `yaml:"backoff_initial"`
	BackoffMax      Duration       `yaml:"backoff_max"`
	ShutdownGrace   Duration       `yaml:"shutdown_grace"`
	Concurrency     map[string]int `yaml:"concurrency"`
}

// ConcurrencyFor returns the configured worker limit for a job type,
// defaulting to 1.
func (j Jobs) ConcurrencyFor(jobType string) int {
	if n, ok := j.Concurrency[jobType]; ok && n > 0 {
		return n
	}
	return 1
}

// Logging holds logger settings.
type Logging struct {
	Level       string `yaml:"level" validate:"oneof=debug info warn error"`
	Format      string `yaml:"format" validate:"oneof=json console text"`
	Color       bool   `yaml:"color"`
	Destination string `yaml:"destination"`
}

// Metrics holds metrics exposition settings.
type Metrics struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Path      string `yaml:"path"`
}

// Tracing holds distributed tracing settings.
type Tracing struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sample_rate" validate:"min=0,max=1"`
}

// CircuitBreaker holds the HTTP circuit breaker settings.
type CircuitBreaker struct {
	Enabled             bool     `yaml:"enabled"`
	MaxRequests         uint32   `yaml:"max_requests"`
	Interval            Duration `yaml:"interval"`
	Timeout             Duration `yaml:"timeout"`
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"`
}

// Validate checks structural constraints plus the cross-field rules the
// tags cannot express.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if c.Jobs.BackoffInitial.Std() > c.Jobs.BackoffMax.Std() {
		return fmt.Errorf("jobs.backoff_initial (%s) must not exceed jobs.backoff_max (%s)",
			c.Jobs.BackoffInitial.Std(), c.Jobs.BackoffMax.Std())
	}
	if int64(c.Cache.CompressionThreshold) > c.Cache.MaxMemoryBytes {
		return fmt.Errorf("cache.compression_threshold (%d) must not exceed cache.max_memory_bytes (%d)",
			c.Cache.CompressionThreshold, c.Cache.MaxMemoryBytes)
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" && c.Environment == Production {
		return fmt.Errorf("tracing.endpoint is required when tracing is enabled in production")
	}
	return nil
}

// applyEnvironmentDefaults adjusts settings that depend on the environment
// and were not explicitly configured.
func (c *Config) applyEnvironmentDefaults() {
	switch c.Environment {
	case Production:
		if c.Logging.Format == "" {
			c.Logging.Format = "json"
		}
		if c.Logging.Level == "" {
			c.Logging.Level = "info"
		}
		c.Logging.Color = false
	default:
		if c.Logging.Format == "" {
			c.Logging.Format = "console"
		}
		if c.Logging.Level == "" {
			c.Logging.Level = "debug"
		}
	}
	if c.Logging.Destination == "" {
		c.Logging.Destination = "stdout"
	}
}

// IsProduction reports whether this is the production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// IsDevelopment reports whether this is the development environment.
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// getEnvironment resolves the environment from ENVIRONMENT or APP_ENV,
// defaulting to development.
func getEnvironment() Environment {
	raw := os.Getenv("ENVIRONMENT")
	if raw == "" {
		raw = os.Getenv("APP_ENV")
	}
	switch strings.ToLower(raw) {
	case "production", "prod":
		return Production
	case "staging", "stage":
		return Staging
	default:
		return Development
	}
}
