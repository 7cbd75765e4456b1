package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"deckforge-backend/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// validConfig returns a configuration that passes validation. Tests mutate
// single fields to probe individual rules.
func validConfig(t *testing.T) *config.Config {
	t.Helper()
	loader := config.NewLoader(t.TempDir(), config.Development)
	cfg, err := loader.Load()
	require.NoError(t, err)
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	loader := config.NewLoader(t.TempDir(), config.Development)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, config.Development, cfg.Environment)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, int64(100*1024*1024), cfg.Cache.MaxMemoryBytes)
	assert.Equal(t, 10000, cfg.Cache.MaxEntries)
	assert.Equal(t, time.Hour, cfg.Cache.DefaultTTL.Std())
	assert.Equal(t, 1024, cfg.Cache.CompressionThreshold)
	assert.Equal(t, 250, cfg.Cache.MaxKeyLength)
	assert.Equal(t, time.Second, cfg.Jobs.PollInterval.Std())
	assert.Equal(t, 3, cfg.Jobs.DefaultAttempts)
	assert.Equal(t, 30*time.Second, cfg.Jobs.DefaultTimeout.Std())
	assert.Equal(t, time.Second, cfg.Jobs.BackoffInitial.Std())
	assert.Equal(t, 30*time.Second, cfg.Jobs.BackoffMax.Std())
	assert.Contains(t, cfg.LoadedFrom, "defaults")
}

func TestLoad_FileHierarchy(t *testing.T) {
	dir := t.TempDir()

	writeFile := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	writeFile("base.yaml", `
server:
  port: 9000
cache:
  max_entries: 500
logging:
  level: warn
  format: json
`)
	writeFile("development.yaml", `
server:
  port: 9100
`)
	writeFile("local.yaml", `
server:
  port: 9200
`)

	loader := config.NewLoader(dir, config.Development)
	cfg, err := loader.Load()
	require.NoError(t, err)

	// local.yaml wins over development.yaml wins over base.yaml.
	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, 500, cfg.Cache.MaxEntries)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Len(t, cfg.LoadedFrom, 5) // defaults + three files + environment
}

func TestLoad_LocalIgnoredOutsideDevelopment(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "local.yaml"), []byte("server:\n  port: 9200\n"), 0o644))

	loader := config.NewLoader(dir, config.Production)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	os.Setenv("SERVER_PORT", "7777")
	os.Setenv("CACHE_DEFAULT_TTL", "90s")
	os.Setenv("JOBS_DEFAULT_ATTEMPTS", "5")
	os.Setenv("TRACING_SAMPLE_RATE", "0.25")
	defer func() {
		os.Unsetenv("SERVER_PORT")
		os.Unsetenv("CACHE_DEFAULT_TTL")
		os.Unsetenv("JOBS_DEFAULT_ATTEMPTS")
		os.Unsetenv("TRACING_SAMPLE_RATE")
	}()

	loader := config.NewLoader(t.TempDir(), config.Development)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, 90*time.Second, cfg.Cache.DefaultTTL.Std())
	assert.Equal(t, 5, cfg.Jobs.DefaultAttempts)
	assert.Equal(t, 0.25, cfg.Tracing.SampleRate)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *config.Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid config",
			mutate:  func(cfg *config.Config) {},
			wantErr: false,
		},
		{
			name:    "unknown environment",
			mutate:  func(cfg *config.Config) { cfg.Environment = "qa" },
			wantErr: true,
			errMsg:  "Environment",
		},
		{
			name:    "port out of range",
			mutate:  func(cfg *config.Config) { cfg.Server.Port = 0 },
			wantErr: true,
			errMsg:  "Port",
		},
		{
			name: "backoff initial exceeds max",
			mutate: func(cfg *config.Config) {
				cfg.Jobs.BackoffInitial = config.Duration(time.Minute)
			},
			wantErr: true,
			errMsg:  "backoff_initial",
		},
		{
			name: "compression threshold above memory limit",
			mutate: func(cfg *config.Config) {
				cfg.Cache.MaxMemoryBytes = 512
			},
			wantErr: true,
			errMsg:  "compression_threshold",
		},
		{
			name: "tracing enabled in production without endpoint",
			mutate: func(cfg *config.Config) {
				cfg.Environment = config.Production
				cfg.Tracing.Enabled = true
				cfg.Tracing.Endpoint = ""
			},
			wantErr: true,
			errMsg:  "tracing.endpoint",
		},
		{
			name:    "unknown logging level",
			mutate:  func(cfg *config.Config) { cfg.Logging.Level = "trace" },
			wantErr: true,
			errMsg:  "Level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestEnvironmentDefaults(t *testing.T) {
	tests := []struct {
		env      config.Environment
		expected func(t *testing.T, cfg *config.Config)
	}{
		{
			env: config.Development,
			expected: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, "debug", cfg.Logging.Level)
				assert.Equal(t, "console", cfg.Logging.Format)
			},
		},
		{
			env: config.Production,
			expected: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, "info", cfg.Logging.Level)
				assert.Equal(t, "json", cfg.Logging.Format)
				assert.False(t, cfg.Logging.Color)
				assert.Equal(t, "stdout", cfg.Logging.Destination)
			},
		},
		{
			env: config.Staging,
			expected: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, "debug", cfg.Logging.Level)
				assert.Equal(t, "console", cfg.Logging.Format)
			},
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.env), func(t *testing.T) {
			loader := config.NewLoader(t.TempDir(), tt.env)
			cfg, err := loader.Load()
			require.NoError(t, err)

			assert.Equal(t, tt.env, cfg.Environment)
			tt.expected(t, cfg)
		})
	}
}

func TestDurationUnmarshalYAML(t *testing.T) {
	var target struct {
		Timeout config.Duration `yaml:"timeout"`
	}

	require.NoError(t, yaml.Unmarshal([]byte("timeout: 2m30s"), &target))
	assert.Equal(t, 150*time.Second, target.Timeout.Std())

	err := yaml.Unmarshal([]byte("timeout: bogus"), &target)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestConfigWatcher_DisabledOutsideDevelopment(t *testing.T) {
	cfg := validConfig(t)
	cfg.Environment = config.Production

	watcher, err := config.NewConfigWatcher(cfg, t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	defer watcher.Stop()

	assert.Equal(t, cfg, watcher.GetConfig())
}

func TestConfigWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "base.yaml")
	require.NoError(t, os.WriteFile(basePath, []byte("server:\n  port: 9000\n"), 0o644))

	loader := config.NewLoader(dir, config.Development)
	cfg, err := loader.Load()
	require.NoError(t, err)
	require.Equal(t, 9000, cfg.Server.Port)

	watcher, err := config.NewConfigWatcher(cfg, dir, zap.NewNop())
	require.NoError(t, err)
	defer watcher.Stop()

	changed := make(chan *config.Config, 1)
	watcher.OnChange(func(updated *config.Config) {
		changed <- updated
	})

	require.NoError(t, os.WriteFile(basePath, []byte("server:\n  port: 9001\n"), 0o644))

	select {
	case updated := <-changed:
		assert.Equal(t, 9001, updated.Server.Port)
		assert.Equal(t, 9001, watcher.GetConfig().Server.Port)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for configuration reload")
	}
}

func TestConfigManager_RegisterComponent(t *testing.T) {
	cfg := validConfig(t)
	cfg.Environment = config.Production // watcher disabled, deterministic

	manager, err := config.NewConfigManager(cfg, t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	defer manager.Stop()

	manager.RegisterComponent("cache", func(*config.Config) error { return nil })
	assert.Equal(t, cfg, manager.GetConfig())
}
