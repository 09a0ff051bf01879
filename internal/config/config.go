package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type (
	Config struct {
		HTTP
		Global
		Database
		Workers
		Sync
		ScheduledSync
		Marketplace
		Tasks
		Notify
	}

	HTTP struct {
		Port int32
		Host string
	}
	Global struct {
		ShutdownTimeoutInSeconds int
	}
	Database struct {
		Path string
	}
	Workers struct {
		GlobalConcurrency int           // Tokens shared by all tenants
		TenantConcurrency int           // Tokens per tenant worker
		PollInterval      time.Duration // Fallback poll when no wake-up arrives
		IdleTimeout       time.Duration // A worker with no activity for this long is idle
		MaxAge            time.Duration // A worker older than this is recycled
		DefaultMaxRetries int           // MaxRetries for jobs created by batches
		StopTimeout       time.Duration // How long shutdown waits for in-flight jobs
	}
	Sync struct {
		PageSize         int
		FetchFanOut      int
		EnrichBatchSize  int
		EnrichFanOut     int
		CleanupBatchSize int
		CleanupFanOut    int
		StepAttempts     int
		StepBackoff      time.Duration
		StepMaxBackoff   time.Duration
		LeaseDuration    time.Duration // How long a sync execution owns its run between renewals
	}
	ScheduledSync struct {
		Enabled  bool
		Schedule string // Cron format: "0 */4 * * *" = every 4 hours
		Targets  string // "tenant:marketplace,..."
	}
	Marketplace struct {
		Codes     []string // Marketplaces to register
		RateLimit float64  // Requests per second per marketplace, 0 = unlimited
		Burst     int
	}
	Tasks struct {
		Enabled           bool
		Workers           int
		ReleaseAfter      time.Duration
		CleanupInterval   time.Duration
		RetentionDuration time.Duration // How long finished sync runs are kept
	}
	Notify struct {
		RedisAddr     string // Empty disables cross-process wake-ups
		RedisPassword string
		RedisChannel  string
	}
)

func NewConfig() *Config {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("port", 8190)
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("shutdown_timeout_in_seconds", 5)
	v.SetDefault("database_path", DefaultDatabasePath)

	// Worker defaults
	v.SetDefault("worker_global_concurrency", 20)
	v.SetDefault("worker_tenant_concurrency", 4)
	v.SetDefault("worker_poll_interval", "5s")
	v.SetDefault("worker_idle_timeout", "10m")
	v.SetDefault("worker_max_age", "6h")
	v.SetDefault("worker_default_max_retries", 3)
	v.SetDefault("worker_stop_timeout", "30s")

	// Sync pipeline defaults
	v.SetDefault("sync_page_size", 100)
	v.SetDefault("sync_fetch_fan_out", 30)
	v.SetDefault("sync_enrich_batch_size", 500)
	v.SetDefault("sync_enrich_fan_out", 20)
	v.SetDefault("sync_cleanup_batch_size", 500)
	v.SetDefault("sync_cleanup_fan_out", 20)
	v.SetDefault("sync_step_attempts", 3)
	v.SetDefault("sync_step_backoff", "500ms")
	v.SetDefault("sync_step_max_backoff", "10s")
	v.SetDefault("sync_lease_duration", "2m")

	v.SetDefault("scheduled_sync_enabled", false)
	v.SetDefault("scheduled_sync_schedule", "0 */4 * * *")
	v.SetDefault("scheduled_sync_targets", "")

	v.SetDefault("marketplaces", "ebay,etsy")
	v.SetDefault("marketplace_rate_limit", 10)
	v.SetDefault("marketplace_burst", 5)

	// Task queue defaults
	v.SetDefault("tasks_enabled", true)
	v.SetDefault("task_workers", 2)
	v.SetDefault("task_release_after", "4h")
	v.SetDefault("task_cleanup_interval", "1h")
	v.SetDefault("task_retention_duration", "720h")

	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_channel", DefaultRedisChannel)

	return &Config{
		HTTP: HTTP{
			Port: v.GetInt32("PORT"),
			Host: v.GetString("HOST"),
		},
		Global: Global{
			ShutdownTimeoutInSeconds: v.GetInt("SHUTDOWN_TIMEOUT_IN_SECONDS"),
		},
		Database: Database{
			Path: v.GetString("DATABASE_PATH"),
		},
		Workers: Workers{
			GlobalConcurrency: v.GetInt("WORKER_GLOBAL_CONCURRENCY"),
			TenantConcurrency: v.GetInt("WORKER_TENANT_CONCURRENCY"),
			PollInterval:      v.GetDuration("WORKER_POLL_INTERVAL"),
			IdleTimeout:       v.GetDuration("WORKER_IDLE_TIMEOUT"),
			MaxAge:            v.GetDuration("WORKER_MAX_AGE"),
			DefaultMaxRetries: v.GetInt("WORKER_DEFAULT_MAX_RETRIES"),
			StopTimeout:       v.GetDuration("WORKER_STOP_TIMEOUT"),
		},
		Sync: Sync{
			PageSize:         v.GetInt("SYNC_PAGE_SIZE"),
			FetchFanOut:      v.GetInt("SYNC_FETCH_FAN_OUT"),
			EnrichBatchSize:  v.GetInt("SYNC_ENRICH_BATCH_SIZE"),
			EnrichFanOut:     v.GetInt("SYNC_ENRICH_FAN_OUT"),
			CleanupBatchSize: v.GetInt("SYNC_CLEANUP_BATCH_SIZE"),
			CleanupFanOut:    v.GetInt("SYNC_CLEANUP_FAN_OUT"),
			StepAttempts:     v.GetInt("SYNC_STEP_ATTEMPTS"),
			StepBackoff:      v.GetDuration("SYNC_STEP_BACKOFF"),
			StepMaxBackoff:   v.GetDuration("SYNC_STEP_MAX_BACKOFF"),
			LeaseDuration:    v.GetDuration("SYNC_LEASE_DURATION"),
		},
		ScheduledSync: ScheduledSync{
			Enabled:  v.GetBool("SCHEDULED_SYNC_ENABLED"),
			Schedule: v.GetString("SCHEDULED_SYNC_SCHEDULE"),
			Targets:  v.GetString("SCHEDULED_SYNC_TARGETS"),
		},
		Marketplace: Marketplace{
			Codes:     splitList(v.GetString("MARKETPLACES")),
			RateLimit: v.GetFloat64("MARKETPLACE_RATE_LIMIT"),
			Burst:     v.GetInt("MARKETPLACE_BURST"),
		},
		Tasks: Tasks{
			Enabled:           v.GetBool("TASKS_ENABLED"),
			Workers:           v.GetInt("TASK_WORKERS"),
			ReleaseAfter:      v.GetDuration("TASK_RELEASE_AFTER"),
			CleanupInterval:   v.GetDuration("TASK_CLEANUP_INTERVAL"),
			RetentionDuration: v.GetDuration("TASK_RETENTION_DURATION"),
		},
		Notify: Notify{
			RedisAddr:     v.GetString("REDIS_ADDR"),
			RedisPassword: v.GetString("REDIS_PASSWORD"),
			RedisChannel:  v.GetString("REDIS_CHANNEL"),
		},
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
