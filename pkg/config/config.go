// Package config loads and validates the backend's runtime configuration
// from environment variables (spec.md §6's recognized keys), following the
// teacher's env-first pattern from pkg/database/config.go.
package config

import "time"

// Config is the umbrella configuration object returned by Initialize and
// threaded through server wiring.
type Config struct {
	DatabaseURL string
	RedisURL    string
	APIKey      string

	S3      S3Config
	Summary SummaryConfig
	WS      WSConfig
	Pipeline PipelineConfig
}

// S3Config configures the object store backing transcript and tool-result
// blob storage.
type S3Config struct {
	Bucket         string
	Region         string
	Endpoint       string // optional; set for S3-compatible stores (minio, etc)
	ForcePathStyle bool
}

// SummaryConfig configures the optional post-session summary generator.
// Enabled, Endpoint and APIKey select and build the generator client.
// Model, Temperature and MaxOutputTokens are loaded but not read by the
// pipeline, which sends the session's own model, temperature 0.2 and at
// most 512 output tokens.
type SummaryConfig struct {
	Enabled         bool
	Endpoint        string
	Model           string
	Temperature     float64
	MaxOutputTokens int
	APIKey          string
}

// WSConfig configures the WebSocket broadcaster's keepalive behavior.
type WSConfig struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
}

// PipelineConfig configures the post-processing worker pool.
type PipelineConfig struct {
	MaxConcurrency int
	QueueCapacity  int
}
