package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"KRONOS_API_ADDR", "POSTGRES_DSN", "WEBHOOK_TIMEOUT", "RATE_LIMIT_ENABLED", "LOG_LEVEL", "QUEUE_MAX_RETRY", "QUEUE_RETENTION"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, ":8080", cfg.API.Addr)
	assert.Empty(t, cfg.Database.DSN, "empty DSN selects the in-memory store")
	assert.Equal(t, 10*time.Second, cfg.Webhook.Timeout)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.GreaterOrEqual(t, cfg.Worker.MaxActiveJobs, 1)
	assert.Equal(t, 3, cfg.Queue.MaxRetry)
	assert.Equal(t, 24*time.Hour, cfg.Queue.Retention)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KRONOS_API_ADDR", ":9999")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("WEBHOOK_MAX_BACKOFF", "not-a-duration")
	t.Setenv("TRACE_SAMPLE_RATIO", "0.25")

	cfg := Load()

	assert.Equal(t, ":9999", cfg.API.Addr)
	assert.Equal(t, 3, cfg.Queue.RedisDB)
	assert.True(t, cfg.Storage.UseSSL)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, 30*time.Second, cfg.Webhook.MaxBackoff, "invalid durations fall back to the default")
	assert.Equal(t, 0.25, cfg.Tracing.SampleRatio)
	assert.Equal(t, "localhost:6379", cfg.Queue.RedisClientOpt().Addr)
}

func TestEnvRatioRejectsOutOfRange(t *testing.T) {
	t.Setenv("TRACE_SAMPLE_RATIO", "1.5")
	assert.Equal(t, 1.0, Load().Tracing.SampleRatio)
}
