package reliability

import (
	"os"
	"strconv"
	"time"
)

// ReliabilityConfig holds configuration for reliability testing
type ReliabilityConfig struct {
	Level            string        // "basic" or "stress"
	Duration         time.Duration // Test duration for stress tests
	MaxGoroutines    int           // Maximum goroutines for concurrent tests
	FailureThreshold float64       // Tolerated fraction of failed reports (0.0-1.0)
}

// getReliabilityConfig reads configuration from environment variables
func getReliabilityConfig() ReliabilityConfig {
	return ReliabilityConfig{
		Level:            getEnv("ZIPKINZ_RELIABILITY_LEVEL", ""),
		Duration:         parseDuration(getEnv("ZIPKINZ_RELIABILITY_DURATION", "10s")),
		MaxGoroutines:    parseInt(getEnv("ZIPKINZ_RELIABILITY_MAX_GOROUTINES", "100")),
		FailureThreshold: parseFloat(getEnv("ZIPKINZ_RELIABILITY_FAILURE_THRESHOLD", "0.05")),
	}
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(s string) int {
	if value, err := strconv.Atoi(s); err == nil {
		return value
	}
	return 0
}

func parseFloat(s string) float64 {
	if value, err := strconv.ParseFloat(s, 64); err == nil {
		return value
	}
	return 0.0
}

func parseDuration(s string) time.Duration {
	if duration, err := time.ParseDuration(s); err == nil {
		return duration
	}
	return 10 * time.Second
}
