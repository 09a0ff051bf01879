package interfaces

// This file contains compile-time interface implementation checks.
// These ensure that concrete types satisfy their interfaces at compile time,
// catching missing methods before runtime.
//
// To verify all checks pass: go build ./internal/interfaces/...

import (
	"github.com/mrlokans/marketsync/internal/actions"
	"github.com/mrlokans/marketsync/internal/batch"
	"github.com/mrlokans/marketsync/internal/database/jobs"
	"github.com/mrlokans/marketsync/internal/database/listings"
	syncstore "github.com/mrlokans/marketsync/internal/database/sync"
	"github.com/mrlokans/marketsync/internal/http"
	"github.com/mrlokans/marketsync/internal/marketplace"
	"github.com/mrlokans/marketsync/internal/notify"
	"github.com/mrlokans/marketsync/internal/pipeline"
	"github.com/mrlokans/marketsync/internal/scheduler"
	"github.com/mrlokans/marketsync/internal/tasks"
	"github.com/mrlokans/marketsync/internal/worker"
)

// =============================================================================
// Data Access Layer
// =============================================================================

var _ batch.Store = (*jobs.Repository)(nil)
var _ worker.JobStore = (*jobs.Repository)(nil)
var _ worker.PendingLister = (*jobs.Repository)(nil)

var _ pipeline.RunStore = (*syncstore.Repository)(nil)
var _ pipeline.Catalog = (*listings.Repository)(nil)
var _ tasks.SyncRunCleaner = (*syncstore.Repository)(nil)

// =============================================================================
// Marketplace Boundary
// =============================================================================

var _ marketplace.Client = (*marketplace.MemoryClient)(nil)
var _ marketplace.Client = (*marketplace.RateLimited)(nil)

var _ batch.ActionResolver = (*actions.Registry)(nil)
var _ worker.Executor = (*actions.Registry)(nil)

// =============================================================================
// Orchestration
// =============================================================================

var _ worker.JobObserver = (*batch.Service)(nil)
var _ batch.Notifier = (*worker.Dispatcher)(nil)
var _ batch.Notifier = (*notify.RedisNotifier)(nil)

var _ pipeline.Enqueuer = (*tasks.Client)(nil)
var _ pipeline.Enqueuer = (*pipeline.InlineRunner)(nil)
var _ tasks.SyncRunner = (*pipeline.Pipeline)(nil)
var _ scheduler.SyncStarter = (*pipeline.Service)(nil)

// =============================================================================
// HTTP Surface
// =============================================================================

var _ http.BatchService = (*batch.Service)(nil)
var _ http.SyncService = (*pipeline.Service)(nil)
var _ http.WorkerLister = (*worker.Dispatcher)(nil)
var _ http.TaskStatusReader = (*tasks.Client)(nil)
