package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DATABASE_URL", "REDIS_URL", "API_KEY", "S3_BUCKET", "S3_REGION",
		"S3_ENDPOINT", "S3_FORCE_PATH_STYLE", "SUMMARY_ENABLED", "SUMMARY_ENDPOINT", "SUMMARY_MODEL",
		"SUMMARY_TEMPERATURE", "SUMMARY_MAX_OUTPUT_TOKENS", "SUMMARY_API_KEY",
		"WS_PING_INTERVAL_MS", "WS_PONG_TIMEOUT_MS", "PIPELINE_MAX_CONCURRENCY",
		"PIPELINE_QUEUE_CAPACITY",
	} {
		t.Setenv(key, "")
	}
}

func TestInitializeRequiresDatabaseURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("API_KEY", "secret")
	t.Setenv("S3_BUCKET", "bucket")

	_, err := Initialize()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingRequiredField)
}

func TestInitializeAppliesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/db")
	t.Setenv("API_KEY", "secret")
	t.Setenv("S3_BUCKET", "bucket")

	cfg, err := Initialize()
	require.NoError(t, err)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, 4, cfg.Pipeline.MaxConcurrency)
	assert.Equal(t, 256, cfg.Pipeline.QueueCapacity)
	assert.False(t, cfg.Summary.Enabled)
}

func TestInitializeRequiresSummaryAPIKeyWhenEnabled(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/db")
	t.Setenv("API_KEY", "secret")
	t.Setenv("S3_BUCKET", "bucket")
	t.Setenv("SUMMARY_ENABLED", "true")

	_, err := Initialize()
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "summary.api_key", ve.Field)
}
