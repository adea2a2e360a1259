package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	ServiceName    string
	DatabaseURL    string
	RedisAddr      string
	HTTPListenAddr string
	MetricsAddr    string
	LogLevel       string
	// WorkerConcurrency bounds parallel job handling in the worker binary.
	WorkerConcurrency int
	// EventRateLimit is the per-organization sliding-window cap on event
	// delivery scheduling.
	EventRateLimit       int
	EventRateLimitWindow int
}

func Load() (*Config, error) {
	cfg := &Config{
		ServiceName:          getEnv("SERVICE_NAME", "relay"),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		RedisAddr:            getEnv("REDIS_ADDR", "localhost:6379"),
		HTTPListenAddr:       getEnv("HTTP_LISTEN_ADDR", ":8030"),
		MetricsAddr:          getEnv("METRICS_ADDR", ""),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		WorkerConcurrency:    getEnvInt("WORKER_CONCURRENCY", 10),
		EventRateLimit:       getEnvInt("EVENT_RATE_LIMIT", 1000),
		EventRateLimitWindow: getEnvInt("EVENT_RATE_LIMIT_WINDOW_SECONDS", 60),
	}

	return cfg, nil
}

// Validate checks the settings the given component cannot run without.
func (c *Config) Validate(component string) error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s requires DATABASE_URL", component)
	}
	switch component {
	case "worker":
		if c.RedisAddr == "" {
			return fmt.Errorf("worker requires REDIS_ADDR")
		}
		if c.WorkerConcurrency <= 0 {
			return fmt.Errorf("worker requires WORKER_CONCURRENCY > 0")
		}
	case "api":
		if c.HTTPListenAddr == "" {
			return fmt.Errorf("api requires HTTP_LISTEN_ADDR")
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
