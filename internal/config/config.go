// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Observability
	OTLPEndpoint string

	// HTTP
	AllowedOrigins []string
	RateLimitRPM   int

	// Delegation
	MaxDelegationDepth int

	// Cache TTLs
	CoreScoreTTL  time.Duration
	FraudScoreTTL time.Duration
	AssessmentTTL time.Duration
	CompositeTTL  time.Duration

	// Gaming detection thresholds
	RapidChangeThreshold    float64 // mean absolute score change considered rapid
	RapidChangeHighSeverity float64 // mean change at which severity escalates to high
	ActivityWindow          time.Duration
	ActivityThreshold       int // updates inside ActivityWindow considered unusual

	// Score streaming
	StreamInterval  time.Duration
	StreamKeepalive time.Duration
}

const (
	DefaultPort     = "8080"
	DefaultEnv      = "development"
	DefaultLogLevel = "info"
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:          getEnv("LOG_FORMAT", "json"),
		DatabaseURL:        os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		AllowedOrigins:     getEnvList("ALLOWED_ORIGINS"),
		RateLimitRPM:       getEnvInt("RATE_LIMIT_RPM", 120),
		MaxDelegationDepth: getEnvInt("MAX_DELEGATION_DEPTH", 5),

		CoreScoreTTL:  getEnvDuration("CORE_SCORE_TTL", 5*time.Minute),
		FraudScoreTTL: getEnvDuration("FRAUD_SCORE_TTL", 30*time.Minute),
		AssessmentTTL: getEnvDuration("ASSESSMENT_TTL", time.Hour),
		CompositeTTL:  getEnvDuration("COMPOSITE_TTL", time.Minute),

		RapidChangeThreshold:    getEnvFloat("RAPID_CHANGE_THRESHOLD", 0.10),
		RapidChangeHighSeverity: getEnvFloat("RAPID_CHANGE_HIGH_SEVERITY", 0.30),
		ActivityWindow:          getEnvDuration("ACTIVITY_WINDOW", 7*24*time.Hour),
		ActivityThreshold:       getEnvInt("ACTIVITY_THRESHOLD", 100),

		StreamInterval:  getEnvDuration("STREAM_INTERVAL", 5*time.Second),
		StreamKeepalive: getEnvDuration("STREAM_KEEPALIVE", 30*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that configuration values are usable
func (c *Config) Validate() error {
	if c.MaxDelegationDepth < 1 {
		return fmt.Errorf("MAX_DELEGATION_DEPTH must be at least 1")
	}
	if c.RapidChangeThreshold <= 0 || c.RapidChangeThreshold > 1 {
		return fmt.Errorf("RAPID_CHANGE_THRESHOLD must be in (0, 1]")
	}
	if c.RapidChangeHighSeverity < c.RapidChangeThreshold {
		return fmt.Errorf("RAPID_CHANGE_HIGH_SEVERITY must be >= RAPID_CHANGE_THRESHOLD")
	}
	if c.ActivityThreshold < 1 {
		return fmt.Errorf("ACTIVITY_THRESHOLD must be at least 1")
	}
	if c.StreamInterval <= 0 {
		return fmt.Errorf("STREAM_INTERVAL must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
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

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
