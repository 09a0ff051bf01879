package http

import (
	"context"

	"github.com/mrlokans/marketsync/internal/batch"
	"github.com/mrlokans/marketsync/internal/entities"
	"github.com/mrlokans/marketsync/internal/pipeline"
	"github.com/mrlokans/marketsync/internal/worker"
)

// Each controller depends on the narrow interface below rather than on the
// concrete services, so tests can pass fakes.

// BatchService creates, cancels and reports on batches.
type BatchService interface {
	CreateBatch(ctx context.Context, req batch.CreateBatchRequest) (*entities.Batch, error)
	CancelBatch(ctx context.Context, batchID string) (int, error)
	GetBatchSummary(ctx context.Context, batchID string) (*batch.Summary, error)
	ListBatches(ctx context.Context, tenantID string, limit int) ([]entities.Batch, error)
}

// SyncService starts, cancels and reports on sync runs.
type SyncService interface {
	StartSyncRun(ctx context.Context, tenantID, marketplace string) (string, error)
	CancelSyncRun(ctx context.Context, runID string) (bool, error)
	GetSyncProgress(ctx context.Context, runID string) (*pipeline.Progress, error)
	ResumeSyncRun(ctx context.Context, runID string) error
}

// WorkerLister reports the tenant workers of this process.
type WorkerLister interface {
	Statuses() []worker.Status
}

// TaskStatusReader reports durable task status by id.
type TaskStatusReader interface {
	Status(ctx context.Context, taskID string) (string, error)
}
