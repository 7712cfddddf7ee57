// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/mbd888/scoreguard/internal/risk"
)

// Config holds all application configuration
type Config struct {
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// OpsAddr is the listen address for health and metrics. Empty disables it.
	OpsAddr string

	// OTLPEndpoint enables tracing when set.
	OTLPEndpoint string

	// Session housekeeping
	SessionIdleTimeout   time.Duration
	SessionSweepInterval time.Duration

	// Heuristic thresholds, see risk.Thresholds
	FirstTryScore          float64
	MaxScorePerSecond      float64
	MinTimingVariation     float64
	RoboticTolerance       time.Duration
	SuspiciousPatternCount int
	MaxSessionDuration     time.Duration
	MaxScorePerLevel       float64
	ImpossibleJumpScore    float64
	ImpossibleJumpWindow   time.Duration
}

const (
	DefaultEnv                  = "development"
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
	DefaultSessionIdleTimeout   = 30 * time.Minute
	DefaultSessionSweepInterval = time.Minute
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	def := risk.DefaultThresholds()
	cfg := &Config{
		Env:                    getEnv("ENV", DefaultEnv),
		LogLevel:               getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:              getEnv("LOG_FORMAT", DefaultLogFormat),
		OpsAddr:                os.Getenv("OPS_ADDR"), // Optional, ops server disabled if not set
		OTLPEndpoint:           os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		SessionIdleTimeout:     getEnvDuration("SESSION_IDLE_TIMEOUT", DefaultSessionIdleTimeout),
		SessionSweepInterval:   getEnvDuration("SESSION_SWEEP_INTERVAL", DefaultSessionSweepInterval),
		FirstTryScore:          getEnvFloat("RISK_FIRST_TRY_SCORE", def.FirstTryScore),
		MaxScorePerSecond:      getEnvFloat("RISK_MAX_SCORE_PER_SECOND", def.MaxScorePerSecond),
		MinTimingVariation:     getEnvFloat("RISK_MIN_TIMING_VARIATION", def.MinTimingVariation),
		RoboticTolerance:       getEnvDuration("RISK_ROBOTIC_TOLERANCE", def.RoboticTolerance),
		SuspiciousPatternCount: int(getEnvInt64("RISK_SUSPICIOUS_PATTERN_COUNT", int64(def.SuspiciousPatternCount))),
		MaxSessionDuration:     getEnvDuration("RISK_MAX_SESSION_DURATION", def.MaxSessionDuration),
		MaxScorePerLevel:       getEnvFloat("RISK_MAX_SCORE_PER_LEVEL", def.MaxScorePerLevel),
		ImpossibleJumpScore:    getEnvFloat("RISK_IMPOSSIBLE_JUMP_SCORE", def.ImpossibleJumpScore),
		ImpossibleJumpWindow:   getEnvDuration("RISK_IMPOSSIBLE_JUMP_WINDOW", def.ImpossibleJumpWindow),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}

	if c.SessionIdleTimeout <= 0 {
		return fmt.Errorf("SESSION_IDLE_TIMEOUT must be positive")
	}
	if c.SessionSweepInterval <= 0 {
		return fmt.Errorf("SESSION_SWEEP_INTERVAL must be positive")
	}

	if err := c.Thresholds().Validate(); err != nil {
		return fmt.Errorf("invalid risk thresholds: %w", err)
	}

	return nil
}

// Thresholds maps the configured values onto the engine's thresholds.
func (c *Config) Thresholds() risk.Thresholds {
	return risk.Thresholds{
		FirstTryScore:          c.FirstTryScore,
		MaxScorePerSecond:      c.MaxScorePerSecond,
		MinTimingVariation:     c.MinTimingVariation,
		RoboticTolerance:       c.RoboticTolerance,
		SuspiciousPatternCount: c.SuspiciousPatternCount,
		MaxSessionDuration:     c.MaxSessionDuration,
		MaxScorePerLevel:       c.MaxScorePerLevel,
		ImpossibleJumpScore:    c.ImpossibleJumpScore,
		ImpossibleJumpWindow:   c.ImpossibleJumpWindow,
	}
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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
