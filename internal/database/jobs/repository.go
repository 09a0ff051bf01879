// Package jobs provides database operations for marketplace jobs and batches.
//
// Every status change is a conditional UPDATE guarded by the set of statuses
// the job may leave, so a job that is already terminal is never overwritten
// by a late executor result or a concurrent cancel.
//
// # Usage
//
//	repo := jobs.NewRepository(db)
//	job, err := repo.ClaimNextJob(ctx, "tenant-1")
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mrlokans/marketsync/internal/entities"
	"gorm.io/gorm"
)

var (
	// ErrJobNotFound is returned when a job id does not exist.
	ErrJobNotFound = errors.New("job not found")

	// ErrBatchNotFound is returned when a batch id does not exist.
	ErrBatchNotFound = errors.New("batch not found")
)

// claimAttempts bounds how often ClaimNextJob retries after losing a race
// for the same row to another claimer.
const claimAttempts = 5

// FailOutcome describes what RecordFailure did to a job.
type FailOutcome int

const (
	// FailNoop means the job was already terminal and was left untouched.
	FailNoop FailOutcome = iota
	// FailRetried means the job went back to pending with its retry count incremented.
	FailRetried
	// FailFinal means the job is now failed.
	FailFinal
)

// DeriveBatchFunc computes a batch's new counters and status from its member counts.
type DeriveBatchFunc func(current entities.Batch, counts entities.JobStatusCounts) entities.Batch

// Repository handles job and batch rows.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new jobs repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// CreateJob inserts a single job.
func (r *Repository) CreateJob(ctx context.Context, job *entities.Job) error {
	if job.Status == "" {
		job.Status = entities.JobStatusPending
	}
	return r.db.WithContext(ctx).Create(job).Error
}

// CreateBatch inserts a batch and all of its jobs in one transaction.
func (r *Repository) CreateBatch(ctx context.Context, batch *entities.Batch, jobs []entities.Job) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(batch).Error; err != nil {
			return fmt.Errorf("insert batch: %w", err)
		}
		if len(jobs) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(jobs, 200).Error; err != nil {
			return fmt.Errorf("insert batch jobs: %w", err)
		}
		return nil
	})
}

// GetJob loads a job by id.
func (r *Repository) GetJob(ctx context.Context, id uint) (*entities.Job, error) {
	var job entities.Job
	err := r.db.WithContext(ctx).First(&job, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ClaimNextJob moves the most urgent eligible job of the tenant to running and
// returns it. Eligible means pending and not cancel-requested; lower priority
// values win, then older jobs. Returns nil when nothing is eligible.
func (r *Repository) ClaimNextJob(ctx context.Context, tenantID string) (*entities.Job, error) {
	db := r.db.WithContext(ctx)

	for attempt := 0; attempt < claimAttempts; attempt++ {
		var job entities.Job
		err := db.
			Where("tenant_id = ? AND status = ? AND cancel_requested = ?", tenantID, entities.JobStatusPending, false).
			Order("priority ASC, created_at ASC, id ASC").
			First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("select next job: %w", err)
		}

		now := time.Now()
		result := db.Model(&entities.Job{}).
			Where("id = ? AND status = ? AND cancel_requested = ?", job.ID, entities.JobStatusPending, false).
			Updates(map[string]any{
				"status":     entities.JobStatusRunning,
				"started_at": now,
				"updated_at": now,
			})
		if result.Error != nil {
			return nil, fmt.Errorf("claim job %d: %w", job.ID, result.Error)
		}
		if result.RowsAffected == 1 {
			job.Status = entities.JobStatusRunning
			job.StartedAt = &now
			job.UpdatedAt = now
			return &job, nil
		}
		// Someone else moved the row first; look again.
	}
	return nil, nil
}

// TenantsWithPendingJobs lists tenants that have claimable work.
func (r *Repository) TenantsWithPendingJobs(ctx context.Context) ([]string, error) {
	var tenants []string
	err := r.db.WithContext(ctx).Model(&entities.Job{}).
		Where("status = ? AND cancel_requested = ?", entities.JobStatusPending, false).
		Distinct("tenant_id").
		Order("tenant_id").
		Pluck("tenant_id", &tenants).Error
	return tenants, err
}

// ResetRunningJobs returns jobs left running by a previous process to
// pending so they are claimed again. Returns the number of jobs reset.
func (r *Repository) ResetRunningJobs(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Model(&entities.Job{}).
		Where("status = ?", entities.JobStatusRunning).
		Updates(map[string]any{"status": entities.JobStatusPending, "updated_at": time.Now()})
	return res.RowsAffected, res.Error
}

// ReleaseJob returns a running job that never started executing to pending.
// Its retry count is left as is. Returns false when the job was no longer running.
func (r *Repository) ReleaseJob(ctx context.Context, id uint) (bool, error) {
	res := r.db.WithContext(ctx).Model(&entities.Job{}).
		Where("id = ? AND status = ?", id, entities.JobStatusRunning).
		Updates(map[string]any{
			"status":     entities.JobStatusPending,
			"started_at": nil,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("release job %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// CompleteJob marks a pending or running job completed with its result payload.
// Returns false when the job was already terminal.
func (r *Repository) CompleteJob(ctx context.Context, id uint, result []byte) (bool, error) {
	now := time.Now()
	updates := map[string]any{
		"status":       entities.JobStatusCompleted,
		"error":        "",
		"completed_at": now,
		"updated_at":   now,
	}
	if len(result) > 0 {
		updates["result"] = result
	}
	res := r.db.WithContext(ctx).Model(&entities.Job{}).
		Where("id = ? AND status IN ?", id, entities.ActiveJobStatuses).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("complete job %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// RecordFailure handles a failed attempt. A job with retries left (and no
// cancel request) returns to pending; otherwise it becomes failed.
func (r *Repository) RecordFailure(ctx context.Context, id uint, errMsg string) (FailOutcome, error) {
	db := r.db.WithContext(ctx)
	now := time.Now()

	retried := db.Model(&entities.Job{}).
		Where("id = ? AND status IN ? AND retry_count < max_retries AND cancel_requested = ?",
			id, entities.ActiveJobStatuses, false).
		Updates(map[string]any{
			"status":      entities.JobStatusPending,
			"retry_count": gorm.Expr("retry_count + 1"),
			"error":       errMsg,
			"updated_at":  now,
		})
	if retried.Error != nil {
		return FailNoop, fmt.Errorf("retry job %d: %w", id, retried.Error)
	}
	if retried.RowsAffected == 1 {
		return FailRetried, nil
	}

	failed := db.Model(&entities.Job{}).
		Where("id = ? AND status IN ?", id, entities.ActiveJobStatuses).
		Updates(map[string]any{
			"status":       entities.JobStatusFailed,
			"error":        errMsg,
			"completed_at": now,
			"updated_at":   now,
		})
	if failed.Error != nil {
		return FailNoop, fmt.Errorf("fail job %d: %w", id, failed.Error)
	}
	if failed.RowsAffected == 1 {
		return FailFinal, nil
	}
	return FailNoop, nil
}

// CancelJob requests cancellation of a single job. A pending job is cancelled
// immediately; a running job only gets the flag and finishes its attempt.
// Returns true when the job moved to cancelled.
func (r *Repository) CancelJob(ctx context.Context, id uint) (bool, error) {
	db := r.db.WithContext(ctx)
	now := time.Now()

	var cancelled bool
	err := db.Transaction(func(tx *gorm.DB) error {
		var job entities.Job
		if err := tx.First(&job, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrJobNotFound
			}
			return err
		}
		if err := tx.Model(&entities.Job{}).
			Where("id = ? AND status IN ?", id, entities.ActiveJobStatuses).
			Updates(map[string]any{"cancel_requested": true, "updated_at": now}).Error; err != nil {
			return err
		}
		res := tx.Model(&entities.Job{}).
			Where("id = ? AND status = ?", id, entities.JobStatusPending).
			Updates(map[string]any{
				"status":       entities.JobStatusCancelled,
				"completed_at": now,
				"updated_at":   now,
			})
		if res.Error != nil {
			return res.Error
		}
		cancelled = res.RowsAffected == 1
		return nil
	})
	return cancelled, err
}

// ListBatchJobs returns every job of a batch in creation order.
func (r *Repository) ListBatchJobs(ctx context.Context, batchID string) ([]entities.Job, error) {
	var jobs []entities.Job
	err := r.db.WithContext(ctx).Where("batch_id = ?", batchID).Order("id ASC").Find(&jobs).Error
	return jobs, err
}

// GetBatch loads a batch by id.
func (r *Repository) GetBatch(ctx context.Context, id string) (*entities.Batch, error) {
	return getBatch(r.db.WithContext(ctx), id)
}

// ListBatches returns the tenant's most recent batches.
func (r *Repository) ListBatches(ctx context.Context, tenantID string, limit int) ([]entities.Batch, error) {
	var batches []entities.Batch
	query := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&batches).Error
	return batches, err
}

// RecomputeBatch recounts the batch's jobs and stores whatever derive returns,
// all inside one transaction so readers never see half-updated counters.
func (r *Repository) RecomputeBatch(ctx context.Context, id string, derive DeriveBatchFunc) (*entities.Batch, error) {
	var updated entities.Batch
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch, err := getBatch(tx, id)
		if err != nil {
			return err
		}
		counts, err := countBatchJobs(tx, id)
		if err != nil {
			return err
		}
		updated = derive(*batch, counts)
		return saveBatchProgress(tx, &updated)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// CancelBatch cancels every pending or running job of the batch as one set,
// marks the batch cancelled and stores the recomputed counters. Returns the
// number of jobs that were actually cancelled.
func (r *Repository) CancelBatch(ctx context.Context, id string, derive DeriveBatchFunc) (int, *entities.Batch, error) {
	var (
		cancelled int
		updated   entities.Batch
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch, err := getBatch(tx, id)
		if err != nil {
			return err
		}

		now := time.Now()
		res := tx.Model(&entities.Job{}).
			Where("batch_id = ? AND status IN ?", id, entities.ActiveJobStatuses).
			Updates(map[string]any{
				"status":           entities.JobStatusCancelled,
				"cancel_requested": true,
				"completed_at":     now,
				"updated_at":       now,
			})
		if res.Error != nil {
			return fmt.Errorf("cancel batch jobs: %w", res.Error)
		}
		cancelled = int(res.RowsAffected)

		counts, err := countBatchJobs(tx, id)
		if err != nil {
			return err
		}
		batch.Status = entities.BatchStatusCancelled
		updated = derive(*batch, counts)
		return saveBatchProgress(tx, &updated)
	})
	if err != nil {
		return 0, nil, err
	}
	return cancelled, &updated, nil
}

// CountBatchJobs tallies the batch's jobs by status.
func (r *Repository) CountBatchJobs(ctx context.Context, batchID string) (entities.JobStatusCounts, error) {
	return countBatchJobs(r.db.WithContext(ctx), batchID)
}

func getBatch(db *gorm.DB, id string) (*entities.Batch, error) {
	var batch entities.Batch
	err := db.Where("id = ?", id).First(&batch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBatchNotFound
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

func countBatchJobs(db *gorm.DB, batchID string) (entities.JobStatusCounts, error) {
	var rows []struct {
		Status entities.JobStatus
		Count  int
	}
	err := db.Model(&entities.Job{}).
		Select("status, COUNT(*) AS count").
		Where("batch_id = ?", batchID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return entities.JobStatusCounts{}, fmt.Errorf("count batch jobs: %w", err)
	}

	var counts entities.JobStatusCounts
	for _, row := range rows {
		switch row.Status {
		case entities.JobStatusPending:
			counts.Pending = row.Count
		case entities.JobStatusRunning:
			counts.Running = row.Count
		case entities.JobStatusCompleted:
			counts.Completed = row.Count
		case entities.JobStatusFailed:
			counts.Failed = row.Count
		case entities.JobStatusCancelled:
			counts.Cancelled = row.Count
		}
	}
	return counts, nil
}

func saveBatchProgress(db *gorm.DB, batch *entities.Batch) error {
	batch.UpdatedAt = time.Now()
	return db.Model(&entities.Batch{}).
		Where("id = ?", batch.ID).
		Updates(map[string]any{
			"completed_count": batch.CompletedCount,
			"failed_count":    batch.FailedCount,
			"cancelled_count": batch.CancelledCount,
			"status":          batch.Status,
			"completed_at":    batch.CompletedAt,
			"updated_at":      batch.UpdatedAt,
		}).Error
}
