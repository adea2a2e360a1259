package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"SERVICE_NAME", "REDIS_ADDR", "HTTP_LISTEN_ADDR", "LOG_LEVEL",
		"WORKER_CONCURRENCY", "EVENT_RATE_LIMIT", "EVENT_RATE_LIMIT_WINDOW_SECONDS",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "relay", cfg.ServiceName)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, ":8030", cfg.HTTPListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10, cfg.WorkerConcurrency)
	assert.Equal(t, 1000, cfg.EventRateLimit)
	assert.Equal(t, 60, cfg.EventRateLimitWindow)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/relay")
	t.Setenv("WORKER_CONCURRENCY", "25")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/relay", cfg.DatabaseURL)
	assert.Equal(t, 25, cfg.WorkerConcurrency)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadIgnoresMalformedInt(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY", "many")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.WorkerConcurrency)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		component string
		mutate    func(*Config)
		wantErr   bool
	}{
		{"api ok", "api", func(c *Config) {}, false},
		{"worker ok", "worker", func(c *Config) {}, false},
		{"missing database url", "api", func(c *Config) { c.DatabaseURL = "" }, true},
		{"api missing listen addr", "api", func(c *Config) { c.HTTPListenAddr = "" }, true},
		{"worker missing redis", "worker", func(c *Config) { c.RedisAddr = "" }, true},
		{"worker zero concurrency", "worker", func(c *Config) { c.WorkerConcurrency = 0 }, true},
		{"worker ignores listen addr", "worker", func(c *Config) { c.HTTPListenAddr = "" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				DatabaseURL:       "postgres://localhost/relay",
				RedisAddr:         "localhost:6379",
				HTTPListenAddr:    ":8030",
				WorkerConcurrency: 10,
			}
			tt.mutate(cfg)

			err := cfg.Validate(tt.component)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
