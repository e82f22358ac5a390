// Package config loads service configuration from environment
// variables with working defaults for local development.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all service settings.
type Config struct {
	ListenAddr string

	RedisAddr     string
	RedisPassword string

	// NATSURL is optional; empty disables lifecycle events.
	NATSURL string

	// DatabaseURL is optional; empty disables the cleanup audit log.
	DatabaseURL string

	// CronSecret is the static bearer token for the cleanup endpoints.
	CronSecret string

	// DefaultTTLMinutes is the session TTL applied when the client does
	// not request one.
	DefaultTTLMinutes int

	// StoreTimeout bounds each key-value store call on the request path.
	StoreTimeout time.Duration

	// SweepInterval is the period of the standalone sweeper binary.
	SweepInterval time.Duration
}

// Load reads configuration from the environment.
func Load() Config {
	cfg := Config{
		ListenAddr:        getEnv("LISTEN_ADDR", ":8080"),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		NATSURL:           os.Getenv("NATS_URL"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		CronSecret:        os.Getenv("CRON_SECRET"),
		DefaultTTLMinutes: getEnvInt("SESSION_DEFAULT_TTL_MINUTES", 30),
		StoreTimeout:      getEnvDuration("STORE_TIMEOUT", 5*time.Second),
		SweepInterval:     getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
