// Package config loads the runtime configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// generateWorkerID creates a unique consumer name from hostname and PID.
func generateWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string

	// Stores
	DatabaseURL string
	MongoDBURL  string
	MongoDBName string
	RedisURL    string

	// OpenAI
	OpenAIAPIKey   string
	LLMModel       string
	LLMMaxTokens   int
	LLMTemperature float64

	// Pipeline policy
	ClassifyConfidenceThreshold float64
	ParseConfidenceThreshold    float64
	MaxBodyChars                int
	MergeMaxAttempts            int

	// Retailer directory cache
	RetailerCacheTTLSec int

	// Worker pool
	WorkerID        string
	WorkerMax       int
	WorkerQueueSize int
	WorkerRatePerSec int

	// Consumer (Redis Streams)
	ConsumerGroup           string
	ConsumerMaxRetries      int
	ConsumerPendingCheckSec int
	ConsumerPendingIdleSec  int

	// Body retention
	BodyTTLDays int
}

func Load() (*Config, error) {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		MongoDBURL:  getEnv("MONGODB_URL", ""),
		MongoDBName: getEnv("MONGODB_DATABASE", "ordersight"),
		RedisURL:    getEnv("REDIS_URL", ""),

		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		LLMModel:       getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMMaxTokens:   getEnvInt("LLM_MAX_TOKENS", 2048),
		LLMTemperature: getEnvFloat("LLM_TEMPERATURE", 0),

		ClassifyConfidenceThreshold: getEnvFloat("CLASSIFY_CONFIDENCE_THRESHOLD", 0.70),
		ParseConfidenceThreshold:    getEnvFloat("PARSE_CONFIDENCE_THRESHOLD", 0.70),
		MaxBodyChars:                getEnvInt("MAX_BODY_CHARS", 8000),
		MergeMaxAttempts:            getEnvInt("MERGE_MAX_ATTEMPTS", 3),

		RetailerCacheTTLSec: getEnvInt("RETAILER_CACHE_TTL_SEC", 300),

		WorkerID:         getEnv("WORKER_ID", generateWorkerID()),
		WorkerMax:        getEnvInt("WORKER_MAX", 10),
		WorkerQueueSize:  getEnvInt("WORKER_QUEUE_SIZE", 1000),
		WorkerRatePerSec: getEnvInt("WORKER_RATE_PER_SEC", 100),

		ConsumerGroup:           getEnv("CONSUMER_GROUP", "ordersight-workers"),
		ConsumerMaxRetries:      getEnvInt("CONSUMER_MAX_RETRIES", 3),
		ConsumerPendingCheckSec: getEnvInt("CONSUMER_PENDING_CHECK_SEC", 30),
		ConsumerPendingIdleSec:  getEnvInt("CONSUMER_PENDING_IDLE_SEC", 120),

		BodyTTLDays: getEnvInt("BODY_TTL_DAYS", 90),
	}, nil
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// IsDevelopment reports whether the process runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction reports whether the process runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
