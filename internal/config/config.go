// Package config loads systask CLI settings from the environment.
// A .env file in the working directory is read first when present.
package config

import (
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the CLI configuration
type Config struct {
	Pool    PoolConfig
	Metrics MetricsConfig
	Log     LogConfig
}

type PoolConfig struct {
	Name    string
	Workers int
}

type MetricsConfig struct {
	Addr          string
	ProbeInterval time.Duration
}

type LogConfig struct {
	Level string
	File  string
	JSON  bool
}

// Load reads configuration from environment variables, falling back to
// defaults. Variables already set in the environment win over .env entries.
func Load(envFiles ...string) *Config {
	// A missing .env is not an error.
	_ = godotenv.Load(envFiles...)

	return &Config{
		Pool: PoolConfig{
			Name:    getEnv("SYSTASK_POOL_NAME", "systask"),
			Workers: getEnvInt("SYSTASK_WORKERS", runtime.NumCPU()),
		},
		Metrics: MetricsConfig{
			Addr:          getEnv("SYSTASK_METRICS_ADDR", ":9090"),
			ProbeInterval: getEnvDuration("SYSTASK_PROBE_INTERVAL", 5*time.Second),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
			File:  getEnv("LOG_FILE", ""),
			JSON:  getEnvBool("LOG_JSON", false),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
