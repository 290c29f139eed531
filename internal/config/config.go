package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries every tunable for the collaboration server. Values come
// from the environment (optionally seeded from a .env file) with
// sensible defaults; the CLI may override the few it exposes.
type Config struct {
	ServerHost string
	ServerPort string

	// Session lifecycle
	MaxSessions        int
	SessionIdleTimeout time.Duration
	SessionMaxAge      time.Duration
	CleanupInterval    time.Duration

	// Per-client rate limiting
	RateLimitWindow time.Duration
	RateLimitMax    int

	// External analysis collaborator
	AnalysisEndpoint string
	AnalysisTimeout  time.Duration

	// Health gating
	MaxHealthySessions int
	MaxRecentErrors    int
	MemoryCeilingMB    int

	// Observability
	JaegerEndpoint string
	LogLevel       string
}

// Load reads configuration from the environment, loading envFile first
// when it exists. An empty envFile falls back to ".env".
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	_ = godotenv.Load(envFile)

	cfg := &Config{
		ServerHost: getEnv("SERVER_HOST", "0.0.0.0"),
		ServerPort: getEnv("SERVER_PORT", "8080"),

		MaxSessions:        getEnvInt("MAX_SESSIONS", 100),
		SessionIdleTimeout: getEnvDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
		SessionMaxAge:      getEnvDuration("SESSION_MAX_AGE", 24*time.Hour),
		CleanupInterval:    getEnvDuration("CLEANUP_INTERVAL", time.Minute),

		RateLimitWindow: getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		RateLimitMax:    getEnvInt("RATE_LIMIT_MAX", 100),

		AnalysisEndpoint: getEnv("ANALYSIS_ENDPOINT", "http://localhost:9090"),
		AnalysisTimeout:  getEnvDuration("ANALYSIS_TIMEOUT", 30*time.Second),

		MaxHealthySessions: getEnvInt("MAX_HEALTHY_SESSIONS", 200),
		MaxRecentErrors:    getEnvInt("MAX_RECENT_ERRORS", 50),
		MemoryCeilingMB:    getEnvInt("MEMORY_CEILING_MB", 1024),

		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}
	return cfg, nil
}

// Addr returns the host:port the HTTP server binds to.
func (c *Config) Addr() string {
	return c.ServerHost + ":" + c.ServerPort
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
