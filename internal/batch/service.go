// Package batch groups marketplace jobs created together and keeps the
// group's counters and status in line with its member jobs.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/mrlokans/marketsync/internal/actions"
	"github.com/mrlokans/marketsync/internal/database/jobs"
	"github.com/mrlokans/marketsync/internal/entities"
)

var (
	ErrUnknownAction = errors.New("action is not registered for marketplace")
	ErrNoTargets     = errors.New("batch has no targets")
	ErrBatchNotFound = errors.New("batch not found")
)

// Store is the persistence the orchestrator needs.
type Store interface {
	CreateBatch(ctx context.Context, batch *entities.Batch, jobs []entities.Job) error
	GetBatch(ctx context.Context, id string) (*entities.Batch, error)
	ListBatches(ctx context.Context, tenantID string, limit int) ([]entities.Batch, error)
	CountBatchJobs(ctx context.Context, batchID string) (entities.JobStatusCounts, error)
	RecomputeBatch(ctx context.Context, id string, derive jobs.DeriveBatchFunc) (*entities.Batch, error)
	CancelBatch(ctx context.Context, id string, derive jobs.DeriveBatchFunc) (int, *entities.Batch, error)
}

// ActionResolver tells whether an action exists for a marketplace.
type ActionResolver interface {
	ResolveActionType(marketplace, code string) (actions.Descriptor, bool)
}

// Notifier is told that a tenant has new work.
type Notifier interface {
	NotifyTenant(tenantID string)
}

type CreateBatchRequest struct {
	TenantID    string   `json:"tenant_id" binding:"required"`
	Marketplace string   `json:"marketplace" binding:"required"`
	ActionCode  string   `json:"action_code" binding:"required"`
	TargetIDs   []string `json:"target_ids"`
	Priority    int      `json:"priority"`
	CreatedBy   string   `json:"created_by"`
}

// Summary is a batch with live per-status counts.
type Summary struct {
	Batch           entities.Batch           `json:"batch"`
	Counts          entities.JobStatusCounts `json:"counts"`
	PercentComplete float64                  `json:"percent_complete"`
	PendingCount    int                      `json:"pending_count"`
}

type Service struct {
	store      Store
	resolver   ActionResolver
	notifiers  []Notifier
	maxRetries int
}

func NewService(store Store, resolver ActionResolver, maxRetries int, notifiers ...Notifier) *Service {
	return &Service{
		store:      store,
		resolver:   resolver,
		notifiers:  notifiers,
		maxRetries: maxRetries,
	}
}

// CreateBatch validates the request, stores one job per target together with
// the batch, and wakes the tenant's worker.
func (s *Service) CreateBatch(ctx context.Context, req CreateBatchRequest) (*entities.Batch, error) {
	if _, ok := s.resolver.ResolveActionType(req.Marketplace, req.ActionCode); !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownAction, req.Marketplace, req.ActionCode)
	}
	if len(req.TargetIDs) == 0 {
		return nil, ErrNoTargets
	}

	batch := &entities.Batch{
		ID:          uuid.NewString(),
		TenantID:    req.TenantID,
		Marketplace: req.Marketplace,
		ActionCode:  req.ActionCode,
		TotalCount:  len(req.TargetIDs),
		Status:      entities.BatchStatusPending,
		Priority:    req.Priority,
		CreatedBy:   req.CreatedBy,
	}

	members := make([]entities.Job, 0, len(req.TargetIDs))
	for _, target := range req.TargetIDs {
		members = append(members, entities.Job{
			TenantID:    req.TenantID,
			Marketplace: req.Marketplace,
			ActionCode:  req.ActionCode,
			TargetID:    &target,
			Status:      entities.JobStatusPending,
			Priority:    req.Priority,
			MaxRetries:  s.maxRetries,
			BatchID:     &batch.ID,
		})
	}

	if err := s.store.CreateBatch(ctx, batch, members); err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}

	log.Printf("[BATCH] Created batch %s: %d %s jobs on %s for tenant %s",
		batch.ID, batch.TotalCount, batch.ActionCode, batch.Marketplace, batch.TenantID)

	for _, n := range s.notifiers {
		n.NotifyTenant(req.TenantID)
	}
	return batch, nil
}

// UpdateBatchProgress recounts the batch's jobs and stores the derived status.
func (s *Service) UpdateBatchProgress(ctx context.Context, batchID string) (*entities.Batch, error) {
	updated, err := s.store.RecomputeBatch(ctx, batchID, deriveBatch)
	if err != nil {
		return nil, translate(err, batchID)
	}
	if updated.Status.IsTerminal() {
		log.Printf("[BATCH] Batch %s is %s (%d completed, %d failed, %d cancelled of %d)",
			updated.ID, updated.Status, updated.CompletedCount, updated.FailedCount, updated.CancelledCount, updated.TotalCount)
	}
	return updated, nil
}

// CancelBatch cancels every job of the batch that has not finished and
// returns how many were cancelled.
func (s *Service) CancelBatch(ctx context.Context, batchID string) (int, error) {
	n, updated, err := s.store.CancelBatch(ctx, batchID, deriveBatch)
	if err != nil {
		return 0, translate(err, batchID)
	}
	log.Printf("[BATCH] Cancelled batch %s: %d jobs cancelled, %d already completed",
		batchID, n, updated.CompletedCount)
	return n, nil
}

func (s *Service) GetBatchSummary(ctx context.Context, batchID string) (*Summary, error) {
	b, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, translate(err, batchID)
	}
	counts, err := s.store.CountBatchJobs(ctx, batchID)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		Batch:        *b,
		Counts:       counts,
		PendingCount: b.TotalCount - counts.Completed - counts.Failed - counts.Cancelled,
	}
	if b.TotalCount > 0 {
		summary.PercentComplete = float64(counts.Completed) / float64(b.TotalCount) * 100
	}
	return summary, nil
}

func (s *Service) ListBatches(ctx context.Context, tenantID string, limit int) ([]entities.Batch, error) {
	return s.store.ListBatches(ctx, tenantID, limit)
}

// OnJobFinished keeps the parent batch current as member jobs finish.
func (s *Service) OnJobFinished(ctx context.Context, job *entities.Job) {
	if job.BatchID == nil {
		return
	}
	if _, err := s.UpdateBatchProgress(ctx, *job.BatchID); err != nil {
		log.Printf("[BATCH] Failed to update batch %s after job %d: %v", *job.BatchID, job.ID, err)
	}
}

// deriveBatch copies the counts onto the batch and works out its status.
// A terminal status is kept as is.
func deriveBatch(current entities.Batch, counts entities.JobStatusCounts) entities.Batch {
	b := current
	b.CompletedCount = counts.Completed
	b.FailedCount = counts.Failed
	b.CancelledCount = counts.Cancelled

	total := counts.Total()
	if !b.Status.IsTerminal() && total > 0 {
		switch {
		case counts.Completed == total:
			b.Status = entities.BatchStatusCompleted
		case counts.Active() == 0 && counts.Cancelled == total:
			b.Status = entities.BatchStatusCancelled
		case counts.Active() == 0:
			b.Status = entities.BatchStatusPartiallyFailed
		case b.Status == entities.BatchStatusPending && counts.Pending == total:
			// nothing has started yet
		default:
			b.Status = entities.BatchStatusRunning
		}
	}

	if b.Status.IsTerminal() && b.CompletedAt == nil {
		now := time.Now()
		b.CompletedAt = &now
	}
	return b
}

func translate(err error, batchID string) error {
	if errors.Is(err, jobs.ErrBatchNotFound) {
		return fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
	}
	return err
}
