package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Config struct {
	// Server
	Env         string
	MetricsPort int

	// Event log
	Brokers     []string
	ClientID    string
	GroupID     string
	InputTopic  string
	OutputTopic string

	// Store
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// CDN purge
	PurgeURL      string
	PurgeKey      string
	PurgeProvider string

	// Replay detection
	EmptyBatchThreshold int
	IdleTimeout         time.Duration
	PollInterval        time.Duration
}

// Load loads configuration from environment variables.
// It returns an error if critical configuration is missing.
func Load() (*Config, error) {
	cfg := &Config{
		Env:         getEnv("ENV", "development"),
		MetricsPort: getEnvInt("METRICS_PORT", 9090),

		ClientID:    getEnv("KAFKA_CLIENT_ID", "leaderboard-updater-"+shortInstanceID()),
		GroupID:     getEnv("KAFKA_GROUP_ID", "leaderboard-updater"),
		InputTopic:  getEnv("KAFKA_INPUT_TOPIC", "score-submitted"),
		OutputTopic: getEnv("KAFKA_OUTPUT_TOPIC", "leaderboard-updated"),

		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		PurgeURL:      getEnv("CACHE_PURGE_URL", ""),
		PurgeKey:      getEnv("CACHE_PURGE_KEY", ""),
		PurgeProvider: getEnv("CACHE_PURGE_PROVIDER", "cloudflare"),

		EmptyBatchThreshold: getEnvInt("EMPTY_BATCH_THRESHOLD", 3),
		IdleTimeout:         getEnvDuration("REPLAY_IDLE_TIMEOUT", 5*time.Second),
		PollInterval:        getEnvDuration("POLL_INTERVAL", 1*time.Second),
	}

	// Brokers
	brokers := getEnv("KAFKA_BROKERS", "")
	for _, b := range strings.Split(brokers, ",") {
		if trimmed := strings.TrimSpace(b); trimmed != "" {
			cfg.Brokers = append(cfg.Brokers, trimmed)
		}
	}

	// Critical configuration - fail if missing
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("missing required environment variable: KAFKA_BROKERS")
	}
	var err error
	if cfg.RedisAddr, err = getEnvRequired("REDIS_ADDR"); err != nil {
		return nil, err
	}

	return cfg, nil
}

// shortInstanceID distinguishes concurrently running instances in broker logs.
func shortInstanceID() string {
	return uuid.NewString()[:8]
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvRequired(key string) (string, error) {
	if value := os.Getenv(key); value != "" {
		return value, nil
	}
	return "", fmt.Errorf("missing required environment variable: %s", key)
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
