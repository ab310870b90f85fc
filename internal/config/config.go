// Package config loads and validates environment variables at startup.
// Fail-fast: if a required variable is missing, the process exits with an error.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the workforce service.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string

	// RequirementHours is the default annual CEU requirement applied to
	// employees without a per-employee override.
	RequirementHours float64

	// SweepIntervalHours is how often the compliance sweep runs.
	SweepIntervalHours int
}

// Load reads environment variables and returns a validated Config.
// A .env file is honoured when present (local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	port := os.Getenv("WORKFORCE_PORT")
	if port == "" {
		port = "8083"
	}

	requirement := 20.0
	if raw := os.Getenv("CE_REQUIREMENT_HOURS"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("CE_REQUIREMENT_HOURS must be a non-negative number, got %q", raw)
		}
		requirement = v
	}

	sweepInterval := 24
	if raw := os.Getenv("SWEEP_INTERVAL_HOURS"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			return nil, fmt.Errorf("SWEEP_INTERVAL_HOURS must be a positive integer, got %q", raw)
		}
		sweepInterval = v
	}

	return &Config{
		Port:               port,
		DatabaseURL:        dbURL,
		RedisURL:           redisURL,
		RequirementHours:   requirement,
		SweepIntervalHours: sweepInterval,
	}, nil
}
