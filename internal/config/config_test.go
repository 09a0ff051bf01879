package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, int32(8190), cfg.HTTP.Port)
	assert.Equal(t, DefaultDatabasePath, cfg.Database.Path)
	assert.Equal(t, 20, cfg.Workers.GlobalConcurrency)
	assert.Equal(t, 4, cfg.Workers.TenantConcurrency)
	assert.Equal(t, 5*time.Second, cfg.Workers.PollInterval)
	assert.Equal(t, 6*time.Hour, cfg.Workers.MaxAge)
	assert.Equal(t, 30, cfg.Sync.FetchFanOut)
	assert.Equal(t, 500, cfg.Sync.EnrichBatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.Sync.StepBackoff)
	assert.Equal(t, 2*time.Minute, cfg.Sync.LeaseDuration)
	assert.Equal(t, "0 */4 * * *", cfg.ScheduledSync.Schedule)
	assert.Equal(t, []string{"ebay", "etsy"}, cfg.Marketplace.Codes)
	assert.Equal(t, 10.0, cfg.Marketplace.RateLimit)
	assert.Equal(t, 4*time.Hour, cfg.Tasks.ReleaseAfter)
	assert.Empty(t, cfg.Notify.RedisAddr)
	assert.Equal(t, DefaultRedisChannel, cfg.Notify.RedisChannel)
}

func TestNewConfig_FromEnv(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("WORKER_GLOBAL_CONCURRENCY", "7")
	t.Setenv("SYNC_STEP_MAX_BACKOFF", "1m")
	t.Setenv("SCHEDULED_SYNC_ENABLED", "true")
	t.Setenv("SCHEDULED_SYNC_TARGETS", "t1:ebay")
	t.Setenv("MARKETPLACES", " ebay , amazon ,")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg := NewConfig()

	assert.Equal(t, int32(9000), cfg.HTTP.Port)
	assert.Equal(t, 7, cfg.Workers.GlobalConcurrency)
	assert.Equal(t, time.Minute, cfg.Sync.StepMaxBackoff)
	assert.True(t, cfg.ScheduledSync.Enabled)
	assert.Equal(t, "t1:ebay", cfg.ScheduledSync.Targets)
	assert.Equal(t, []string{"ebay", "amazon"}, cfg.Marketplace.Codes)
	assert.Equal(t, "localhost:6379", cfg.Notify.RedisAddr)
}
