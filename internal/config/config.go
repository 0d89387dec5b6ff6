// Package config loads engine configuration from the environment. A .env
// file is honored in development via godotenv; real deployments inject
// variables directly.
package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the pool engine.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Funding  FundingConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string
	Env  string
}

// DatabaseConfig holds PostgreSQL configuration. An empty URL selects the
// in-memory store.
type DatabaseConfig struct {
	URL string
}

// RedisConfig holds the cache layer configuration. An empty URL disables
// caching.
type RedisConfig struct {
	URL      string
	CacheTTL time.Duration
}

// FundingConfig drives the funding accrual scheduler.
type FundingConfig struct {
	// CronSpec is a standard 5-field cron expression. The default fires at
	// the top of every hour, matching the funding interval.
	CronSpec string
}

// Load reads configuration from the environment, first loading .env if
// present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Env:  getEnv("GO_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", ""),
			CacheTTL: getDuration("REDIS_CACHE_TTL", 30*time.Second),
		},
		Funding: FundingConfig{
			CronSpec: getEnv("FUNDING_CRON", "0 * * * *"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if dur, err := time.ParseDuration(value); err == nil {
			return dur
		}
	}
	return defaultValue
}
