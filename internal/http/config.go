package http

import (
	"github.com/mrlokans/marketsync/internal/admission"
	"github.com/mrlokans/marketsync/internal/database"
)

// RouterConfig contains all dependencies and configuration needed
// to create the HTTP router.
type RouterConfig struct {
	Database *database.Database
	Batches  BatchService
	Syncs    SyncService
	Workers  WorkerLister

	// Admission is the process-wide token pool shown on /health.
	Admission *admission.Limiter

	// TaskClient is nil when the durable task queue is disabled.
	TaskClient TaskStatusReader

	// Application info
	Version string
}
