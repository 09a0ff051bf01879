package entrypoint

import (
	"log"

	"github.com/mrlokans/marketsync/internal/batch"
	"github.com/mrlokans/marketsync/internal/config"
	"github.com/mrlokans/marketsync/internal/marketplace"
	"github.com/mrlokans/marketsync/internal/pipeline"
	"github.com/mrlokans/marketsync/internal/worker"
)

// NewMarketplaces registers a client for every configured marketplace code,
// rate limited when a limit is set.
func NewMarketplaces(cfg config.Marketplace) *marketplace.Directory {
	dir := marketplace.NewDirectory()
	for _, code := range cfg.Codes {
		var client marketplace.Client = marketplace.NewMemoryClient(code)
		if cfg.RateLimit > 0 {
			client = marketplace.NewRateLimited(client, cfg.RateLimit, cfg.Burst)
		}
		dir.Register(code, client)
		log.Printf("Registered marketplace %s (rate limit %.1f/s)", code, cfg.RateLimit)
	}
	return dir
}

func PipelineConfig(cfg config.Sync) pipeline.Config {
	return pipeline.Config{
		PageSize:         cfg.PageSize,
		FetchFanOut:      cfg.FetchFanOut,
		EnrichBatchSize:  cfg.EnrichBatchSize,
		EnrichFanOut:     cfg.EnrichFanOut,
		CleanupBatchSize: cfg.CleanupBatchSize,
		CleanupFanOut:    cfg.CleanupFanOut,
		StepAttempts:     cfg.StepAttempts,
		StepBackoff:      cfg.StepBackoff,
		StepMaxBackoff:   cfg.StepMaxBackoff,
		LeaseDuration:    cfg.LeaseDuration,
	}
}

func WorkerConfig(cfg config.Workers) worker.Config {
	return worker.Config{
		Concurrency:  cfg.TenantConcurrency,
		PollInterval: cfg.PollInterval,
		IdleTimeout:  cfg.IdleTimeout,
		MaxAge:       cfg.MaxAge,
	}
}

// wakeups fans a tenant wake-up out to every registered notifier. The batch
// service is built before the dispatcher it notifies, so targets are added
// afterwards.
type wakeups struct {
	targets []batch.Notifier
}

func (w *wakeups) add(n batch.Notifier) {
	w.targets = append(w.targets, n)
}

func (w *wakeups) NotifyTenant(tenantID string) {
	for _, n := range w.targets {
		n.NotifyTenant(tenantID)
	}
}
