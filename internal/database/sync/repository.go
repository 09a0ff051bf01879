// Package sync provides database operations for marketplace sync runs.
//
// The repository is both the durable state store the pipeline resumes from
// and the progress sink it reports to.
//
// # Interface Implementation
//
//	var _ pipeline.RunStore = (*Repository)(nil)
//
// # Usage
//
//	repo := sync.NewRepository(db)
//	run, err := repo.CreateRun(ctx, "tenant-1", "ebay")
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mrlokans/marketsync/internal/entities"
	"gorm.io/gorm"
)

var (
	// ErrRunNotFound is returned when a run id does not exist.
	ErrRunNotFound = errors.New("sync run not found")

	// ErrLeaseLost is returned when a write comes from an execution that no
	// longer owns the run.
	ErrLeaseLost = errors.New("sync run lease lost")
)

var activeSyncStatuses = []entities.SyncStatus{entities.SyncStatusPending, entities.SyncStatusRunning}

// Repository handles all sync run database operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new sync repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// CreateRun inserts a pending run starting at the fetch phase.
func (r *Repository) CreateRun(ctx context.Context, tenantID, marketplace string) (*entities.SyncRun, error) {
	run := &entities.SyncRun{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		Marketplace: marketplace,
		Status:      entities.SyncStatusPending,
		Phase:       entities.SyncPhaseFetch,
	}
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, fmt.Errorf("create sync run: %w", err)
	}
	return run, nil
}

// GetRun loads a run by id.
func (r *Repository) GetRun(ctx context.Context, id string) (*entities.SyncRun, error) {
	var run entities.SyncRun
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// FindActiveRun returns the non-terminal run for the tenant and marketplace, or nil.
func (r *Repository) FindActiveRun(ctx context.Context, tenantID, marketplace string) (*entities.SyncRun, error) {
	var run entities.SyncRun
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND marketplace = ? AND status IN ?", tenantID, marketplace, activeSyncStatuses).
		Order("created_at DESC").
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListActiveRuns returns every non-terminal run, oldest first.
func (r *Repository) ListActiveRuns(ctx context.Context) ([]entities.SyncRun, error) {
	var runs []entities.SyncRun
	err := r.db.WithContext(ctx).
		Where("status IN ?", activeSyncStatuses).
		Order("created_at ASC").
		Find(&runs).Error
	return runs, err
}

// SaveState persists the pipeline-owned fields of a run: phase, cursor,
// run start, counters and progress. CancelRequested is never written here
// so a concurrent cancel request is not lost. The write only applies while
// run.LeaseOwner still owns the row; otherwise it returns ErrLeaseLost.
func (r *Repository) SaveState(ctx context.Context, run *entities.SyncRun) error {
	run.UpdatedAt = time.Now()
	res := r.db.WithContext(ctx).Model(&entities.SyncRun{}).
		Where("id = ? AND lease_owner = ?", run.ID, run.LeaseOwner).
		Updates(map[string]any{
			"status":                 run.Status,
			"phase":                  run.Phase,
			"run_started_at":         run.RunStartedAt,
			"cursor_offset":          run.Offset,
			"total":                  run.Total,
			"current":                run.Current,
			"label":                  run.Label,
			"synced":                 run.Synced,
			"enriched":               run.Enriched,
			"deleted":                run.Deleted,
			"sold":                   run.Sold,
			"sold_elsewhere_deleted": run.SoldElsewhereDeleted,
			"errors":                 run.Errors,
			"fetch_failures":         run.FetchFailures,
			"updated_at":             run.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrLeaseLost, run.ID)
	}
	return nil
}

// ClaimLease makes owner the only execution of a non-terminal run until
// expiresAt. It returns false while another owner holds an unexpired lease.
func (r *Repository) ClaimLease(ctx context.Context, id, owner string, now, expiresAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&entities.SyncRun{}).
		Where("id = ? AND status IN ?", id, activeSyncStatuses).
		Where("(lease_owner = '' OR lease_owner = ? OR lease_expires_at IS NULL OR lease_expires_at < ?)", owner, now).
		Updates(map[string]any{"lease_owner": owner, "lease_expires_at": expiresAt})
	if res.Error != nil {
		return false, fmt.Errorf("claim sync run %s: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// RenewLease extends a lease owner still holds. Returns false once the
// lease was taken over or the run finished.
func (r *Repository) RenewLease(ctx context.Context, id, owner string, expiresAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&entities.SyncRun{}).
		Where("id = ? AND lease_owner = ? AND status IN ?", id, owner, activeSyncStatuses).
		Update("lease_expires_at", expiresAt)
	if res.Error != nil {
		return false, fmt.Errorf("renew sync run lease %s: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ReleaseLease gives up owner's lease so the run can be resumed right away.
func (r *Repository) ReleaseLease(ctx context.Context, id, owner string) error {
	return r.db.WithContext(ctx).Model(&entities.SyncRun{}).
		Where("id = ? AND lease_owner = ?", id, owner).
		Updates(map[string]any{"lease_owner": "", "lease_expires_at": nil}).Error
}

// ReleaseAllLeases drops every lease. Only safe when no execution of any run
// can still be alive, such as at startup of the single executing process.
func (r *Repository) ReleaseAllLeases(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Model(&entities.SyncRun{}).
		Where("lease_owner <> ''").
		Updates(map[string]any{"lease_owner": "", "lease_expires_at": nil})
	return res.RowsAffected, res.Error
}

// SetTaskID records the durable task that drives the run.
func (r *Repository) SetTaskID(ctx context.Context, id, taskID string) error {
	return r.db.WithContext(ctx).Model(&entities.SyncRun{}).
		Where("id = ?", id).
		Updates(map[string]any{"task_id": taskID, "updated_at": time.Now()}).Error
}

// UpdateProgress updates the human-readable progress of a run.
func (r *Repository) UpdateProgress(ctx context.Context, id string, current, total int, label string) error {
	return r.db.WithContext(ctx).Model(&entities.SyncRun{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"current":    current,
			"total":      total,
			"label":      label,
			"updated_at": time.Now(),
		}).Error
}

// MarkCompleted finishes a run successfully.
func (r *Repository) MarkCompleted(ctx context.Context, id string) error {
	return r.finish(ctx, id, entities.SyncStatusCompleted, "")
}

// MarkFailed finishes a run with the given error message.
func (r *Repository) MarkFailed(ctx context.Context, id string, errMsg string) error {
	return r.finish(ctx, id, entities.SyncStatusFailed, errMsg)
}

// MarkCancelled finishes a run that observed its cancel request.
func (r *Repository) MarkCancelled(ctx context.Context, id string) error {
	return r.finish(ctx, id, entities.SyncStatusCancelled, "")
}

func (r *Repository) finish(ctx context.Context, id string, status entities.SyncStatus, errMsg string) error {
	now := time.Now()
	updates := map[string]any{
		"status":           status,
		"updated_at":       now,
		"completed_at":     now,
		"lease_owner":      "",
		"lease_expires_at": nil,
	}
	if status == entities.SyncStatusCompleted {
		updates["phase"] = entities.SyncPhaseDone
	}
	if errMsg != "" {
		updates["error"] = errMsg
	}
	return r.db.WithContext(ctx).Model(&entities.SyncRun{}).
		Where("id = ? AND status IN ?", id, activeSyncStatuses).
		Updates(updates).Error
}

// RequestCancel flags a non-terminal run for cancellation. The pipeline
// observes the flag between waves and phases. Returns false when the run
// was already terminal.
func (r *Repository) RequestCancel(ctx context.Context, id string) (bool, error) {
	if _, err := r.GetRun(ctx, id); err != nil {
		return false, err
	}
	res := r.db.WithContext(ctx).Model(&entities.SyncRun{}).
		Where("id = ? AND status IN ?", id, activeSyncStatuses).
		Updates(map[string]any{"cancel_requested": true, "updated_at": time.Now()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// IsCancelRequested reads only the cancel flag of a run.
func (r *Repository) IsCancelRequested(ctx context.Context, id string) (bool, error) {
	var run entities.SyncRun
	err := r.db.WithContext(ctx).Select("cancel_requested").Where("id = ?", id).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, ErrRunNotFound
	}
	if err != nil {
		return false, err
	}
	return run.CancelRequested, nil
}

// DeleteFinishedBefore removes terminal runs completed before the cutoff.
func (r *Repository) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status NOT IN ? AND completed_at IS NOT NULL AND completed_at < ?", activeSyncStatuses, cutoff).
		Delete(&entities.SyncRun{})
	return res.RowsAffected, res.Error
}
