// Package config loads application configuration from environment variables
// with sensible defaults and validates it before the application starts.
//
// Environment Variables:
//
// Application Settings:
//   - LOG_LEVEL: Logging level (default: info)
//   - STEP_TIMEOUT: Per-step execution deadline (default: 30s)
//   - AUDIT_ENABLED: Whether audit rows are written (default: true)
//
// Database Configuration:
//   - DATABASE_TYPE: "sqlite" or "postgres" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./agent_platform.db)
//   - POSTGRES_HOST: PostgreSQL host (required if using PostgreSQL)
//   - POSTGRES_PORT: PostgreSQL port (default: 5432)
//   - POSTGRES_DB: PostgreSQL database name (required if using PostgreSQL)
//   - POSTGRES_USER: PostgreSQL username (required if using PostgreSQL)
//   - POSTGRES_PASSWORD: PostgreSQL password
//   - POSTGRES_SSL_MODE: PostgreSQL SSL mode (default: disable)
//
// Dedup Cache:
//   - REDIS_ADDRESS: Redis server address (default: localhost:6379)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//   - DEDUP_TTL: Processed-marker expiry (default: 24h)
//
// Transport:
//   - TRANSPORT_TYPE: "rabbitmq" or "memory" (default: memory)
//   - RABBITMQ_URL: RabbitMQ connection URL (required for rabbitmq)
//   - EVENT_EXCHANGE: Topic exchange name (default: interface_agent_events)
//   - EVENT_PREFETCH: In-flight delivery bound per consumer (default: 10)
//
// Reconciler:
//   - RECONCILE_SCHEDULE: Cron spec for the stale-event sweep (default: @every 1m)
//   - RECONCILE_MIN_AGE: Age before a PENDING event is republished (default: 1m)
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for the agent platform.
type Config struct {
	LogLevel     string
	StepTimeout  time.Duration
	AuditEnabled bool

	// Database configuration
	DatabaseType     string
	DatabasePath     string
	PostgresHost     string
	PostgresPort     string
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string

	// Dedup cache configuration
	RedisAddress  string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int
	DedupTTL      time.Duration

	// Transport configuration
	TransportType string
	RabbitMQURL   string
	EventExchange string
	EventPrefetch int

	// Reconciler configuration
	ReconcileSchedule string
	ReconcileMinAge   time.Duration
}

// Load creates a Config from environment variables. Call Validate before use.
func Load() *Config {
	return &Config{
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		StepTimeout:  getDurationEnv("STEP_TIMEOUT", 30*time.Second),
		AuditEnabled: getBoolEnv("AUDIT_ENABLED", true),

		DatabaseType:     getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath:     getEnv("DATABASE_PATH", "./agent_platform.db"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", "agent_platform"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		RedisAddress:  getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		RedisPoolSize: getIntEnv("REDIS_POOL_SIZE", 10),
		DedupTTL:      getDurationEnv("DEDUP_TTL", 24*time.Hour),

		TransportType: getEnv("TRANSPORT_TYPE", "memory"),
		RabbitMQURL:   getEnv("RABBITMQ_URL", ""),
		EventExchange: getEnv("EVENT_EXCHANGE", "interface_agent_events"),
		EventPrefetch: getIntEnv("EVENT_PREFETCH", 10),

		ReconcileSchedule: getEnv("RECONCILE_SCHEDULE", "@every 1m"),
		ReconcileMinAge:   getDurationEnv("RECONCILE_MIN_AGE", time.Minute),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Validate checks required fields, value ranges and cross-field dependencies.
func (c *Config) Validate() error {
	switch c.DatabaseType {
	case "sqlite":
		if c.DatabasePath == "" {
			return fmt.Errorf("DATABASE_PATH is required when using SQLite")
		}
	case "postgres", "postgresql":
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required when using PostgreSQL")
		}
		if c.PostgresDB == "" {
			return fmt.Errorf("POSTGRES_DB is required when using PostgreSQL")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required when using PostgreSQL")
		}
		if port, err := strconv.Atoi(c.PostgresPort); err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("POSTGRES_PORT must be a valid port number")
		}
	default:
		return fmt.Errorf("DATABASE_TYPE must be 'sqlite' or 'postgres'")
	}

	switch c.TransportType {
	case "memory":
	case "rabbitmq":
		if c.RabbitMQURL == "" {
			return fmt.Errorf("RABBITMQ_URL is required when using the RabbitMQ transport")
		}
	default:
		return fmt.Errorf("TRANSPORT_TYPE must be 'rabbitmq' or 'memory'")
	}

	if c.RedisDB < 0 || c.RedisDB > 15 {
		return fmt.Errorf("REDIS_DB must be between 0 and 15")
	}
	if c.EventPrefetch < 1 {
		return fmt.Errorf("EVENT_PREFETCH must be at least 1")
	}
	if c.StepTimeout <= 0 {
		return fmt.Errorf("STEP_TIMEOUT must be positive")
	}
	if c.DedupTTL <= 0 {
		return fmt.Errorf("DEDUP_TTL must be positive")
	}
	return nil
}
