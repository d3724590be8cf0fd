package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("DB_DSN", "")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("HUB_SEND_BUFFER", "")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "")
	t.Setenv("OUTBOX_RETENTION_SECONDS", "")

	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.Equal(t, 16, cfg.HubSendBuffer)
	assert.Equal(t, 30*time.Second, cfg.IdempotencyTTL)
	assert.Equal(t, "waitlist.events", cfg.AMQPQueue)
	assert.Equal(t, 1.0, cfg.TraceSampleRatio)
	assert.Equal(t, 24*time.Hour, cfg.OutboxRetention)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DB_DSN", "postgres://localhost/qwait")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("WS_PING_SECONDS", "5")
	t.Setenv("OUTBOX_BATCH_SIZE", "oops")

	cfg := Load()
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Equal(t, 5*time.Second, cfg.WSPingInterval)
	assert.Equal(t, 100, cfg.OutboxBatchSize)
}

func TestReadHelpers(t *testing.T) {
	t.Setenv("X_BOOL", "true")
	t.Setenv("X_DUR", "0")
	t.Setenv("X_RATIO", "0.25")
	t.Setenv("X_BAD_RATIO", "half")
	assert.True(t, readBool("X_BOOL", false))
	assert.Equal(t, 0.25, readFloat("X_RATIO", 1))
	assert.Equal(t, 1.0, readFloat("X_BAD_RATIO", 1))
	assert.False(t, readBool("X_MISSING", false))
	assert.Zero(t, readDurationSeconds("X_DUR", 10))
}

func TestNewRedisClientWithoutAddr(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("REDIS_HOST", "")
	assert.Nil(t, NewRedisClient())
}
