package tasks

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mikestefanello/backlite"
)

// SyncRunCleaner deletes finished sync runs.
type SyncRunCleaner interface {
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupSyncRunsTask removes finished sync runs older than the retention period.
type CleanupSyncRunsTask struct {
	RetentionDays int `json:"retention_days"`
}

// Config returns the queue configuration for sync run cleanup tasks.
func (t CleanupSyncRunsTask) Config() backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        "cleanup_sync_runs",
		MaxAttempts: 3,
		Backoff:     5 * time.Minute,
		Timeout:     2 * time.Minute,
		Retention: &backlite.Retention{
			Duration:   24 * time.Hour,
			OnlyFailed: false,
			Data:       &backlite.RetainData{OnlyFailed: true},
		},
	}
}

// CleanupSyncRunsProcessor creates a processor function for CleanupSyncRunsTask.
func CleanupSyncRunsProcessor(cleaner SyncRunCleaner) backlite.QueueProcessor[CleanupSyncRunsTask] {
	return func(ctx context.Context, task CleanupSyncRunsTask) error {
		if cleaner == nil {
			return fmt.Errorf("sync run cleaner not configured")
		}

		retentionDays := task.RetentionDays
		if retentionDays <= 0 {
			retentionDays = 30
		}
		cutoff := time.Now().Add(-time.Duration(retentionDays) * 24 * time.Hour)

		deleted, err := cleaner.DeleteFinishedBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("cleanup sync runs: %w", err)
		}

		log.Printf("[TASK] Cleaned up %d sync runs older than %d days", deleted, retentionDays)
		return nil
	}
}

// NewCleanupSyncRunsQueue creates a backlite queue for sync run cleanup tasks.
func NewCleanupSyncRunsQueue(cleaner SyncRunCleaner) backlite.Queue {
	return backlite.NewQueue(CleanupSyncRunsProcessor(cleaner))
}
