package main

import (
	"os"
	"strconv"
	"time"

	"playproof/pkg/decision"
	"playproof/pkg/pipeline"
	"playproof/pkg/session"
)

// Config is the full service configuration, read from environment
// variables with production-safe defaults.
type Config struct {
	Port     string
	Pipeline pipeline.Config
	Session  session.Config
	PoolSize int
}

func loadConfig() Config {
	return Config{
		Port: getEnv("PORT", "5003"),
		Pipeline: pipeline.Config{
			Decision: decision.Config{
				PassThreshold:       envFloat("PASS_THRESHOLD", 0.90),
				FailThreshold:       envFloat("FAIL_THRESHOLD", 0.20),
				RegenerateThreshold: envFloat("REGENERATE_THRESHOLD", 0.60),
				MaxRegenerate:       envInt("MAX_REGENERATE", 2),
			},
			SkewTolerance:   envFloat("CLOCK_SKEW_TOLERANCE", 0.05),
			RequestDeadline: envDuration("REQUEST_DEADLINE", 2*time.Second),
			MinEvents:       envInt("MIN_EVENTS", 2),
		},
		Session: session.Config{
			RetentionCap: envInt("RETENTION_CAP", 256),
			TTL:          envDuration("SESSION_TTL", 15*time.Minute),
		},
		PoolSize: envInt("INFER_POOL_SIZE", 0),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func envInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func envDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
