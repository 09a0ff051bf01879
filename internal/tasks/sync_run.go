package tasks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mikestefanello/backlite"
	"github.com/mrlokans/marketsync/internal/pipeline"
)

// SyncRunner executes or resumes a sync run by id.
type SyncRunner interface {
	Run(ctx context.Context, runID string) error
}

// SyncRunTask drives one marketplace sync run. A run interrupted by a crash
// or shutdown is released back to the queue by backlite and resumed from its
// saved phase on the next attempt.
type SyncRunTask struct {
	RunID string `json:"run_id"`
}

// Config returns the queue configuration for sync run tasks.
func (t SyncRunTask) Config() backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        "sync_run",
		MaxAttempts: 5,
		Backoff:     time.Minute,
		Timeout:     3 * time.Hour,
		Retention: &backlite.Retention{
			Duration:   7 * 24 * time.Hour,
			OnlyFailed: false,
			Data:       &backlite.RetainData{OnlyFailed: true},
		},
	}
}

// SyncRunProcessor creates a processor function for SyncRunTask.
func SyncRunProcessor(runner SyncRunner) backlite.QueueProcessor[SyncRunTask] {
	return func(ctx context.Context, task SyncRunTask) error {
		if runner == nil {
			return fmt.Errorf("sync runner not configured")
		}

		err := runner.Run(ctx, task.RunID)
		if errors.Is(err, pipeline.ErrRunNotFound) {
			log.Printf("[TASK] Sync run %s no longer exists, dropping task", task.RunID)
			return nil
		}
		if errors.Is(err, pipeline.ErrSyncInProgress) {
			log.Printf("[TASK] Sync run %s is owned by another execution, dropping task", task.RunID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("sync run %s: %w", task.RunID, err)
		}
		return nil
	}
}

// NewSyncRunQueue creates a backlite queue for sync run tasks.
func NewSyncRunQueue(runner SyncRunner) backlite.Queue {
	return backlite.NewQueue(SyncRunProcessor(runner))
}

// EnqueueSyncRun adds a sync_run task and returns its id.
func (c *Client) EnqueueSyncRun(_ context.Context, runID string) (string, error) {
	ids, err := c.Add(SyncRunTask{RunID: runID}).Save()
	if err != nil {
		return "", fmt.Errorf("add sync run task: %w", err)
	}
	if len(ids) == 0 {
		return "", fmt.Errorf("add sync run task: no id returned")
	}
	return ids[0], nil
}
