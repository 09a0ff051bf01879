package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	syncstore "github.com/mrlokans/marketsync/internal/database/sync"
	"github.com/mrlokans/marketsync/internal/entities"
	"github.com/mrlokans/marketsync/internal/marketplace"
)

// Enqueuer hands a run to whatever executes it durably and returns the id
// of the task driving it.
type Enqueuer interface {
	EnqueueSyncRun(ctx context.Context, runID string) (string, error)
}

// Progress is the caller-facing view of a sync run.
type Progress struct {
	RunID       string              `json:"run_id"`
	TenantID    string              `json:"tenant_id"`
	Marketplace string              `json:"marketplace"`
	Status      entities.SyncStatus `json:"status"`
	Phase       entities.SyncPhase  `json:"phase"`
	Current     int                 `json:"current"`
	Total       int                 `json:"total"`
	Label       string              `json:"label,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// Service exposes starting, cancelling and observing sync runs.
type Service struct {
	runs     RunStore
	clients  *marketplace.Directory
	enqueuer Enqueuer
}

func NewService(runs RunStore, clients *marketplace.Directory, enqueuer Enqueuer) *Service {
	return &Service{runs: runs, clients: clients, enqueuer: enqueuer}
}

// SetEnqueuer replaces the runner new runs are handed to.
func (s *Service) SetEnqueuer(enqueuer Enqueuer) {
	s.enqueuer = enqueuer
}

// StartSyncRun creates a run for the tenant and marketplace and hands it to
// the durable runner. Only one non-terminal run per pair is allowed.
func (s *Service) StartSyncRun(ctx context.Context, tenantID, marketplaceCode string) (string, error) {
	if _, ok := s.clients.Get(marketplaceCode); !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownMarketplace, marketplaceCode)
	}

	active, err := s.runs.FindActiveRun(ctx, tenantID, marketplaceCode)
	if err != nil {
		return "", fmt.Errorf("check active sync run: %w", err)
	}
	if active != nil {
		return "", fmt.Errorf("%w: run %s", ErrSyncInProgress, active.ID)
	}

	run, err := s.runs.CreateRun(ctx, tenantID, marketplaceCode)
	if err != nil {
		return "", err
	}

	if err := s.enqueue(ctx, run.ID); err != nil {
		if markErr := s.runs.MarkFailed(ctx, run.ID, err.Error()); markErr != nil {
			log.Printf("[SYNC] Failed to mark run %s failed: %v", run.ID, markErr)
		}
		return "", err
	}

	log.Printf("[SYNC] Queued run %s for tenant %s on %s", run.ID, tenantID, marketplaceCode)
	return run.ID, nil
}

// ResumeSyncRun hands a non-terminal run to the runner again. A run that an
// execution currently owns is refused with ErrSyncInProgress.
func (s *Service) ResumeSyncRun(ctx context.Context, runID string) error {
	run, err := s.getRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.IsTerminal() {
		return nil
	}
	if run.LeaseHeld(time.Now()) {
		return fmt.Errorf("%w: run %s is executing", ErrSyncInProgress, run.ID)
	}
	log.Printf("[SYNC] Resuming run %s at phase %s", run.ID, run.Phase)
	return s.enqueue(ctx, run.ID)
}

// CancelSyncRun requests cancellation. The run stops at its next wave or
// phase boundary. Returns false when the run had already finished.
func (s *Service) CancelSyncRun(ctx context.Context, runID string) (bool, error) {
	ok, err := s.runs.RequestCancel(ctx, runID)
	if errors.Is(err, syncstore.ErrRunNotFound) {
		return false, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return false, fmt.Errorf("request cancel: %w", err)
	}
	if ok {
		log.Printf("[SYNC] Cancel requested for run %s", runID)
	}
	return ok, nil
}

func (s *Service) GetSyncProgress(ctx context.Context, runID string) (*Progress, error) {
	run, err := s.getRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &Progress{
		RunID:       run.ID,
		TenantID:    run.TenantID,
		Marketplace: run.Marketplace,
		Status:      run.Status,
		Phase:       run.Phase,
		Current:     run.Current,
		Total:       run.Total,
		Label:       run.Label,
		Error:       run.Error,
	}, nil
}

func (s *Service) getRun(ctx context.Context, runID string) (*entities.SyncRun, error) {
	run, err := s.runs.GetRun(ctx, runID)
	if errors.Is(err, syncstore.ErrRunNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (s *Service) enqueue(ctx context.Context, runID string) error {
	if s.enqueuer == nil {
		return fmt.Errorf("enqueue sync run: no runner configured")
	}
	taskID, err := s.enqueuer.EnqueueSyncRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("enqueue sync run: %w", err)
	}
	if taskID != "" {
		if err := s.runs.SetTaskID(ctx, runID, taskID); err != nil {
			return fmt.Errorf("record sync task: %w", err)
		}
	}
	return nil
}
