package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env         string // "local", "dev", "prod"
	ServiceName string
	Port        string

	// Infrastructure
	DatabaseURL string // postgres://... or sqlite://...
	RedisAddr   string // empty disables the follow cache
	NatsURL     string // empty falls back to the store poller

	// Security
	JWTSecret  string
	TokenTTL   time.Duration
	AdminToken string
	CORSOrigin string

	// Media
	MediaRoot string

	// Telemetry
	OtelEndpoint string // empty disables tracing

	// Write rate limiting, per client IP
	RateLimitRPS   float64
	RateLimitBurst int

	// Deferred publication
	PollInterval  time.Duration
	SweepInterval time.Duration // queue-backed workers still sweep the table this often
	InlineWorker  bool
}

// Load reads the configuration from the environment, falling back to local defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Env:            getEnv("APP_ENV", "local"),
		ServiceName:    getEnv("SERVICE_NAME", "murmur"),
		Port:           getEnv("PORT", "8080"),
		DatabaseURL:    getEnv("DATABASE_URL", "sqlite://murmur.db"),
		RedisAddr:      getEnv("REDIS_ADDR", ""),
		NatsURL:        getEnv("NATS_URL", ""),
		JWTSecret:      getEnv("JWT_SECRET", ""),
		TokenTTL:       getEnvDuration("TOKEN_TTL", 24*time.Hour),
		AdminToken:     getEnv("X_ADMIN_TOKEN", ""),
		CORSOrigin:     getEnv("CORS_ORIGIN", "*"),
		MediaRoot:      getEnv("MEDIA_ROOT", "./media"),
		OtelEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 1.0/3.0),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 5),
		PollInterval:   getEnvDuration("SCHEDULER_POLL_INTERVAL", 5*time.Second),
		SweepInterval:  getEnvDuration("SCHEDULER_SWEEP_INTERVAL", time.Minute),
	}
	cfg.InlineWorker = getEnvBool("INLINE_WORKER", cfg.Env == "local")

	if cfg.JWTSecret == "" {
		if cfg.Env != "local" {
			return nil, fmt.Errorf("JWT_SECRET is required outside local")
		}
		cfg.JWTSecret = "local-development-secret"
	}
	if !strings.HasPrefix(cfg.DatabaseURL, "postgres://") && !strings.HasPrefix(cfg.DatabaseURL, "sqlite://") {
		return nil, fmt.Errorf("DATABASE_URL must start with postgres:// or sqlite://")
	}
	if cfg.RateLimitBurst < 1 {
		return nil, fmt.Errorf("RATE_LIMIT_BURST must be at least 1")
	}

	return cfg, nil
}

func (c *Config) IsLocal() bool {
	return c.Env == "local"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(value)
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
