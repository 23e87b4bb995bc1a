package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Initialize loads configuration from the environment (optionally seeded by
// a .env file in the working directory), applies defaults, and validates
// the result. This is the primary entry point, mirroring the teacher's
// Initialize(...) convention in its agent/chain registry loader.
func Initialize() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env file", "error", err)
	}

	pingMs, err := envInt("WS_PING_INTERVAL_MS", 30000)
	if err != nil {
		return nil, err
	}
	pongMs, err := envInt("WS_PONG_TIMEOUT_MS", 10000)
	if err != nil {
		return nil, err
	}
	maxConcurrency, err := envInt("PIPELINE_MAX_CONCURRENCY", 4)
	if err != nil {
		return nil, err
	}
	queueCapacity, err := envInt("PIPELINE_QUEUE_CAPACITY", 256)
	if err != nil {
		return nil, err
	}
	summaryEnabled, err := envBool("SUMMARY_ENABLED", false)
	if err != nil {
		return nil, err
	}
	summaryTemp, err := envFloat("SUMMARY_TEMPERATURE", 0.2)
	if err != nil {
		return nil, err
	}
	summaryMaxTokens, err := envInt("SUMMARY_MAX_OUTPUT_TOKENS", 512)
	if err != nil {
		return nil, err
	}
	forcePathStyle, err := envBool("S3_FORCE_PATH_STYLE", false)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    envOrDefault("REDIS_URL", "redis://localhost:6379/0"),
		APIKey:      os.Getenv("API_KEY"),
		S3: S3Config{
			Bucket:         os.Getenv("S3_BUCKET"),
			Region:         envOrDefault("S3_REGION", "us-east-1"),
			Endpoint:       os.Getenv("S3_ENDPOINT"),
			ForcePathStyle: forcePathStyle,
		},
		Summary: SummaryConfig{
			Enabled:         summaryEnabled,
			Endpoint:        os.Getenv("SUMMARY_ENDPOINT"),
			Model:           envOrDefault("SUMMARY_MODEL", "claude-3-5-haiku-latest"),
			Temperature:     summaryTemp,
			MaxOutputTokens: summaryMaxTokens,
			APIKey:          os.Getenv("SUMMARY_API_KEY"),
		},
		WS: WSConfig{
			PingInterval: durationMs(pingMs),
			PongTimeout:  durationMs(pongMs),
		},
		Pipeline: PipelineConfig{
			MaxConcurrency: maxConcurrency,
			QueueCapacity:  queueCapacity,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that required fields are present and numeric fields are
// within sane ranges.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return &ValidationError{Field: "database_url", Err: ErrMissingRequiredField}
	}
	if c.RedisURL == "" {
		return &ValidationError{Field: "redis_url", Err: ErrMissingRequiredField}
	}
	if c.APIKey == "" {
		return &ValidationError{Field: "api_key", Err: ErrMissingRequiredField}
	}
	if c.S3.Bucket == "" {
		return &ValidationError{Field: "s3.bucket", Err: ErrMissingRequiredField}
	}
	if c.Pipeline.MaxConcurrency < 1 {
		return &ValidationError{Field: "pipeline.max_concurrency", Err: ErrInvalidValue}
	}
	if c.Pipeline.QueueCapacity < 1 {
		return &ValidationError{Field: "pipeline.queue_capacity", Err: ErrInvalidValue}
	}
	if c.Summary.Enabled && c.Summary.APIKey == "" {
		return &ValidationError{Field: "summary.api_key", Err: ErrMissingRequiredField}
	}
	if c.Summary.Enabled && c.Summary.Endpoint == "" {
		return &ValidationError{Field: "summary.endpoint", Err: ErrMissingRequiredField}
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return f, nil
}

func durationMs(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s: %w", key, err)
	}
	return b, nil
}
