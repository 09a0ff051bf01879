// Package pipeline synchronises a tenant's local listing mirror with a
// marketplace in five ordered phases: fetch, enrich, cleanup, reconcile and
// sold_elsewhere.
//
// All run state lives in the sync run row. The phase, its cursor and the run
// start time are saved after every wave, so a run interrupted by a crash or
// shutdown continues from the last saved wave when it is executed again.
// Cancellation is observed between waves and between phases.
//
// An execution first claims a lease on the row and renews it while it runs.
// A second execution of the same run is refused until the lease is released
// or expires, and state writes from an execution that lost its lease fail.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mrlokans/marketsync/internal/actions"
	"github.com/mrlokans/marketsync/internal/admission"
	"github.com/mrlokans/marketsync/internal/database/listings"
	syncstore "github.com/mrlokans/marketsync/internal/database/sync"
	"github.com/mrlokans/marketsync/internal/entities"
	"github.com/mrlokans/marketsync/internal/marketplace"
	"gorm.io/gorm"
)

var (
	ErrRunNotFound        = errors.New("sync run not found")
	ErrUnknownMarketplace = errors.New("unknown marketplace")
	ErrSyncInProgress     = errors.New("sync already in progress")

	errCancelled = errors.New("sync run cancelled")
)

// RunStore is the durable state store and progress sink of sync runs.
type RunStore interface {
	CreateRun(ctx context.Context, tenantID, marketplace string) (*entities.SyncRun, error)
	GetRun(ctx context.Context, id string) (*entities.SyncRun, error)
	FindActiveRun(ctx context.Context, tenantID, marketplace string) (*entities.SyncRun, error)
	SaveState(ctx context.Context, run *entities.SyncRun) error
	ClaimLease(ctx context.Context, id, owner string, now, expiresAt time.Time) (bool, error)
	RenewLease(ctx context.Context, id, owner string, expiresAt time.Time) (bool, error)
	ReleaseLease(ctx context.Context, id, owner string) error
	SetTaskID(ctx context.Context, id, taskID string) error
	UpdateProgress(ctx context.Context, id string, current, total int, label string) error
	MarkCompleted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
	MarkCancelled(ctx context.Context, id string) error
	RequestCancel(ctx context.Context, id string) (bool, error)
	IsCancelRequested(ctx context.Context, id string) (bool, error)
}

// Catalog is the local listing mirror the phases read and write.
type Catalog interface {
	UpsertListings(ctx context.Context, rows []entities.Listing, seenAt time.Time) error
	CountListings(ctx context.Context, tenantID, marketplace string) (int64, error)
	FetchBatchToEnrich(ctx context.Context, tenantID, marketplace string, runStart time.Time, size int) ([]string, error)
	MarkEnriched(ctx context.Context, tenantID, marketplace, remoteID string, attributes []byte, at time.Time) error
	MarkEnrichAttempted(ctx context.Context, tenantID, marketplace, remoteID string, at time.Time) error
	FetchOrphanBatch(ctx context.Context, tenantID, marketplace string, runStart time.Time, size int) ([]string, error)
	FetchSoldElsewhereBatch(ctx context.Context, tenantID, marketplace string, runStart time.Time, size int) ([]string, error)
	MarkCleanupAttempted(ctx context.Context, tenantID, marketplace, remoteID string, at time.Time) error
	DeleteListing(ctx context.Context, tenantID, marketplace, remoteID string) error
	MarkSoldFromRemote(ctx context.Context, tenantID, marketplace string) (int, error)
}

var phaseOrder = []entities.SyncPhase{
	entities.SyncPhaseFetch,
	entities.SyncPhaseEnrich,
	entities.SyncPhaseCleanup,
	entities.SyncPhaseReconcile,
	entities.SyncPhaseSoldElsewhere,
	entities.SyncPhaseDone,
}

func nextPhase(p entities.SyncPhase) entities.SyncPhase {
	for i, ph := range phaseOrder {
		if ph == p && i+1 < len(phaseOrder) {
			return phaseOrder[i+1]
		}
	}
	return entities.SyncPhaseDone
}

// Pipeline executes sync runs.
type Pipeline struct {
	db      *gorm.DB
	runs    RunStore
	clients *marketplace.Directory
	global  *admission.Limiter
	cfg     Config
	now     func() time.Time
}

func New(db *gorm.DB, runs RunStore, clients *marketplace.Directory, global *admission.Limiter, cfg Config) *Pipeline {
	return &Pipeline{
		db:      db,
		runs:    runs,
		clients: clients,
		global:  global,
		cfg:     cfg.withDefaults(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// catalog returns a catalog on a fresh DB session.
func (p *Pipeline) catalog(ctx context.Context) Catalog {
	return listings.NewRepository(p.db.Session(&gorm.Session{NewDB: true, Context: ctx}))
}

// Run executes or resumes a run until it completes, is cancelled or fails.
// A terminal run is left alone. If ctx ends first the run stays running
// with its last saved wave, ready to be resumed. Run returns
// ErrSyncInProgress without touching the run while another execution
// holds it.
func (p *Pipeline) Run(ctx context.Context, runID string) error {
	run, err := p.runs.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, syncstore.ErrRunNotFound) {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return fmt.Errorf("load sync run: %w", err)
	}
	if run.Status.IsTerminal() {
		log.Printf("[SYNC] Run %s is already %s, nothing to do", run.ID, run.Status)
		return nil
	}

	owner := uuid.NewString()
	now := p.now()
	claimed, err := p.runs.ClaimLease(ctx, run.ID, owner, now, now.Add(p.cfg.LeaseDuration))
	if err != nil {
		return err
	}
	if !claimed {
		log.Printf("[SYNC] Run %s is executing elsewhere, not starting a second execution", run.ID)
		return fmt.Errorf("%w: run %s", ErrSyncInProgress, run.ID)
	}
	run.LeaseOwner = owner
	defer func() {
		if err := p.runs.ReleaseLease(context.WithoutCancel(ctx), run.ID, owner); err != nil {
			log.Printf("[SYNC] Failed to release run %s: %v", run.ID, err)
		}
	}()

	client, ok := p.clients.Get(run.Marketplace)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownMarketplace, run.Marketplace)
		p.finishFailed(ctx, run, err)
		return err
	}

	resumed := run.RunStartedAt != nil
	if !resumed {
		started := p.now()
		run.RunStartedAt = &started
	}
	run.Status = entities.SyncStatusRunning
	if err := p.runs.SaveState(ctx, run); err != nil {
		return fmt.Errorf("save sync run: %w", err)
	}

	if resumed {
		log.Printf("[SYNC] Resuming run %s for tenant %s on %s at phase %s (offset %d)",
			run.ID, run.TenantID, run.Marketplace, run.Phase, run.Offset)
	} else {
		log.Printf("[SYNC] Starting run %s for tenant %s on %s", run.ID, run.TenantID, run.Marketplace)
	}

	execCtx, stopLease := p.holdLease(ctx, run.ID, owner)
	r := &runner{p: p, run: run, client: client}
	err = r.execute(execCtx)
	stopLease()

	switch {
	case errors.Is(err, syncstore.ErrLeaseLost) || errors.Is(context.Cause(execCtx), syncstore.ErrLeaseLost):
		log.Printf("[SYNC] Run %s was taken over by another execution in phase %s, stopping", run.ID, run.Phase)
		return fmt.Errorf("%w: %s", syncstore.ErrLeaseLost, run.ID)
	case errors.Is(err, errCancelled):
		if markErr := p.runs.MarkCancelled(context.WithoutCancel(ctx), run.ID); markErr != nil {
			return fmt.Errorf("mark sync run cancelled: %w", markErr)
		}
		log.Printf("[SYNC] Run %s cancelled in phase %s", run.ID, run.Phase)
		return nil
	case err != nil && ctx.Err() != nil:
		log.Printf("[SYNC] Run %s interrupted in phase %s, will resume: %v", run.ID, run.Phase, err)
		return err
	case err != nil:
		p.finishFailed(ctx, run, err)
		return err
	}

	if err := p.runs.MarkCompleted(ctx, run.ID); err != nil {
		return fmt.Errorf("mark sync run completed: %w", err)
	}
	log.Printf("[SYNC] Run %s completed: %d synced, %d enriched, %d deleted, %d sold, %d sold elsewhere, %d errors",
		run.ID, run.Synced, run.Enriched, run.Deleted, run.Sold, run.SoldElsewhereDeleted, run.Errors)
	return nil
}

// holdLease renews the lease in the background. The returned context is
// cancelled with ErrLeaseLost if the lease is taken over; stop ends renewal.
func (p *Pipeline) holdLease(ctx context.Context, runID, owner string) (context.Context, func()) {
	leaseCtx, cancel := context.WithCancelCause(ctx)

	go func() {
		ticker := time.NewTicker(p.cfg.LeaseDuration / 3)
		defer ticker.Stop()
		for {
			select {
			case <-leaseCtx.Done():
				return
			case <-ticker.C:
				ok, err := p.runs.RenewLease(leaseCtx, runID, owner, p.now().Add(p.cfg.LeaseDuration))
				if err != nil {
					log.Printf("[SYNC] Failed to renew run %s: %v", runID, err)
					continue
				}
				if !ok {
					cancel(syncstore.ErrLeaseLost)
					return
				}
			}
		}
	}()

	return leaseCtx, func() { cancel(nil) }
}

func (p *Pipeline) finishFailed(ctx context.Context, run *entities.SyncRun, cause error) {
	log.Printf("[SYNC] Run %s failed in phase %s: %v", run.ID, run.Phase, cause)
	if err := p.runs.MarkFailed(context.WithoutCancel(ctx), run.ID, cause.Error()); err != nil {
		log.Printf("[SYNC] Failed to mark run %s failed: %v", run.ID, err)
	}
}

// runner carries the state of one execution of a run.
type runner struct {
	p      *Pipeline
	run    *entities.SyncRun
	client marketplace.Client
}

func (r *runner) execute(ctx context.Context) error {
	for r.run.Phase != entities.SyncPhaseDone {
		if err := r.checkpoint(ctx); err != nil {
			return err
		}
		if r.run.Current == 0 {
			r.run.Label = fmt.Sprintf("Starting %s", r.run.Phase)
			if err := r.p.runs.UpdateProgress(ctx, r.run.ID, 0, r.run.Total, r.run.Label); err != nil {
				return fmt.Errorf("report progress: %w", err)
			}
		}

		var err error
		switch r.run.Phase {
		case entities.SyncPhaseFetch:
			err = r.fetch(ctx)
		case entities.SyncPhaseEnrich:
			err = r.enrich(ctx)
		case entities.SyncPhaseCleanup:
			err = r.cleanup(ctx)
		case entities.SyncPhaseReconcile:
			err = r.reconcile(ctx)
		case entities.SyncPhaseSoldElsewhere:
			err = r.soldElsewhere(ctx)
		default:
			err = fmt.Errorf("unknown phase %q", r.run.Phase)
		}
		if err != nil {
			return err
		}

		r.run.Phase = nextPhase(r.run.Phase)
		r.run.Offset = 0
		r.run.Current = 0
		r.run.Total = 0
		if err := r.save(ctx); err != nil {
			return err
		}
	}
	return nil
}

// checkpoint stops the run when ctx is done or a cancel was requested.
func (r *runner) checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cancelled, err := r.p.runs.IsCancelRequested(ctx, r.run.ID)
	if err != nil {
		return fmt.Errorf("read cancel flag: %w", err)
	}
	if cancelled {
		return errCancelled
	}
	return nil
}

func (r *runner) save(ctx context.Context) error {
	if err := r.p.runs.SaveState(ctx, r.run); err != nil {
		return fmt.Errorf("save sync run: %w", err)
	}
	return nil
}

func (r *runner) runStart() time.Time {
	return *r.run.RunStartedAt
}

// fetch pulls every page of the remote inventory. The first page gives the
// total; the rest are fetched in waves of FetchFanOut pages.
func (r *runner) fetch(ctx context.Context) error {
	cfg := r.p.cfg
	tenant, mkt := r.run.TenantID, r.run.Marketplace

	if r.run.Offset == 0 {
		page, err := retryStep(ctx, cfg, func() (marketplace.Page, error) {
			return r.client.FetchPage(ctx, tenant, cfg.PageSize, 0)
		})
		if err != nil {
			return fmt.Errorf("fetch first page: %w", err)
		}
		if err := r.p.catalog(ctx).UpsertListings(ctx, actions.ToListings(tenant, mkt, page.Items), r.p.now()); err != nil {
			return fmt.Errorf("store first page: %w", err)
		}
		r.run.Total = page.Total
		r.run.Synced += len(page.Items)
		r.run.Offset = cfg.PageSize
		r.fetchProgress()
		if err := r.save(ctx); err != nil {
			return err
		}
	}

	for r.run.Offset < r.run.Total {
		if err := r.checkpoint(ctx); err != nil {
			return err
		}

		var offsets []int
		for off := r.run.Offset; off < r.run.Total && len(offsets) < cfg.FetchFanOut; off += cfg.PageSize {
			offsets = append(offsets, off)
		}

		var synced atomic.Int64
		res, err := r.p.runWave(ctx, len(offsets), cfg.FetchFanOut, func(ctx context.Context, i int) error {
			page, err := retryStep(ctx, cfg, func() (marketplace.Page, error) {
				return r.client.FetchPage(ctx, tenant, cfg.PageSize, offsets[i])
			})
			if err != nil {
				log.Printf("[SYNC] Run %s: page at offset %d failed: %v", r.run.ID, offsets[i], err)
				return err
			}
			rows := actions.ToListings(tenant, mkt, page.Items)
			if err := r.p.catalog(ctx).UpsertListings(ctx, rows, r.p.now()); err != nil {
				return err
			}
			synced.Add(int64(len(rows)))
			return nil
		})
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		r.run.Synced += int(synced.Load())
		r.run.Errors += res.failed
		r.run.FetchFailures += res.failed
		r.run.Offset = offsets[len(offsets)-1] + cfg.PageSize
		r.fetchProgress()
		if err := r.save(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (r *runner) fetchProgress() {
	r.run.Current = min(r.run.Offset, r.run.Total)
	r.run.Label = fmt.Sprintf("Fetched %d of %d listings", r.run.Current, r.run.Total)
}

// enrich fetches details for every listing not yet attempted in this run.
func (r *runner) enrich(ctx context.Context) error {
	cfg := r.p.cfg
	tenant, mkt := r.run.TenantID, r.run.Marketplace

	if r.run.Total == 0 {
		count, err := r.p.catalog(ctx).CountListings(ctx, tenant, mkt)
		if err != nil {
			return fmt.Errorf("count listings: %w", err)
		}
		r.run.Total = int(count)
	}

	for {
		if err := r.checkpoint(ctx); err != nil {
			return err
		}

		ids, err := r.p.catalog(ctx).FetchBatchToEnrich(ctx, tenant, mkt, r.runStart(), cfg.EnrichBatchSize)
		if err != nil {
			return fmt.Errorf("fetch enrich batch: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		var marked atomic.Int64
		res, err := r.p.runWave(ctx, len(ids), cfg.EnrichFanOut, func(ctx context.Context, i int) error {
			cat := r.p.catalog(ctx)
			attrs, fetchErr := retryStep(ctx, cfg, func() (map[string]string, error) {
				return r.client.FetchDetails(ctx, tenant, ids[i])
			})
			at := r.p.now()
			if fetchErr != nil {
				if err := cat.MarkEnrichAttempted(ctx, tenant, mkt, ids[i], at); err == nil {
					marked.Add(1)
				}
				return fetchErr
			}
			payload, err := json.Marshal(attrs)
			if err != nil {
				return err
			}
			if err := cat.MarkEnriched(ctx, tenant, mkt, ids[i], payload, at); err != nil {
				return err
			}
			marked.Add(1)
			return nil
		})
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if marked.Load() == 0 {
			return fmt.Errorf("enrich made no progress on %d listings", len(ids))
		}

		r.run.Enriched += res.succeeded
		r.run.Errors += res.failed
		r.run.Current += len(ids)
		r.run.Label = fmt.Sprintf("Enriched %d listings", r.run.Enriched)
		if err := r.save(ctx); err != nil {
			return err
		}
	}
}

// cleanup deletes local listings the fetch phase of this run did not see.
// It is skipped when any fetch page failed: listings on a failed page were
// not seen either, and nothing tells them apart from real orphans.
func (r *runner) cleanup(ctx context.Context) error {
	if r.run.FetchFailures > 0 {
		log.Printf("[SYNC] Run %s: skipping cleanup, %d fetch pages failed", r.run.ID, r.run.FetchFailures)
		r.run.Label = fmt.Sprintf("Skipped cleanup, %d fetch pages failed", r.run.FetchFailures)
		return nil
	}

	tenant, mkt := r.run.TenantID, r.run.Marketplace
	return r.drain(ctx, "cleanup",
		func(ctx context.Context, cat Catalog) ([]string, error) {
			return cat.FetchOrphanBatch(ctx, tenant, mkt, r.runStart(), r.p.cfg.CleanupBatchSize)
		},
		func(ctx context.Context, cat Catalog, remoteID string) error {
			_, err := retryStep(ctx, r.p.cfg, func() (struct{}, error) {
				return struct{}{}, cat.DeleteListing(ctx, tenant, mkt, remoteID)
			})
			return err
		},
		func(deleted int) {
			r.run.Deleted += deleted
			r.run.Label = fmt.Sprintf("Removed %d stale listings", r.run.Deleted)
		},
	)
}

// reconcile marks local listings sold where the marketplace reports a sale.
func (r *runner) reconcile(ctx context.Context) error {
	sold, err := retryStep(ctx, r.p.cfg, func() (int, error) {
		return r.p.catalog(ctx).MarkSoldFromRemote(ctx, r.run.TenantID, r.run.Marketplace)
	})
	if err != nil {
		return fmt.Errorf("reconcile sold listings: %w", err)
	}
	r.run.Sold += sold
	r.run.Current = sold
	r.run.Total = sold
	r.run.Label = fmt.Sprintf("Marked %d listings sold", sold)
	return nil
}

// soldElsewhere removes listings whose product sold on another channel,
// first from the marketplace and then locally.
func (r *runner) soldElsewhere(ctx context.Context) error {
	tenant, mkt := r.run.TenantID, r.run.Marketplace
	return r.drain(ctx, "sold elsewhere",
		func(ctx context.Context, cat Catalog) ([]string, error) {
			return cat.FetchSoldElsewhereBatch(ctx, tenant, mkt, r.runStart(), r.p.cfg.CleanupBatchSize)
		},
		func(ctx context.Context, cat Catalog, remoteID string) error {
			_, err := retryStep(ctx, r.p.cfg, func() (struct{}, error) {
				if err := r.client.DeleteListing(ctx, tenant, remoteID); err != nil && !errors.Is(err, marketplace.ErrItemNotFound) {
					return struct{}{}, err
				}
				return struct{}{}, cat.DeleteListing(ctx, tenant, mkt, remoteID)
			})
			return err
		},
		func(deleted int) {
			r.run.SoldElsewhereDeleted += deleted
			r.run.Label = fmt.Sprintf("Removed %d listings sold elsewhere", r.run.SoldElsewhereDeleted)
		},
	)
}

// drain repeatedly fetches a batch of listing ids and removes each one in
// a wave until a batch comes back empty. A listing whose removal fails is
// stamped as attempted so the next batch moves past it.
func (r *runner) drain(
	ctx context.Context,
	name string,
	next func(ctx context.Context, cat Catalog) ([]string, error),
	remove func(ctx context.Context, cat Catalog, remoteID string) error,
	progress func(deleted int),
) error {
	tenant, mkt := r.run.TenantID, r.run.Marketplace

	for {
		if err := r.checkpoint(ctx); err != nil {
			return err
		}

		ids, err := next(ctx, r.p.catalog(ctx))
		if err != nil {
			return fmt.Errorf("fetch %s batch: %w", name, err)
		}
		if len(ids) == 0 {
			return nil
		}

		var marked atomic.Int64
		res, err := r.p.runWave(ctx, len(ids), r.p.cfg.CleanupFanOut, func(ctx context.Context, i int) error {
			cat := r.p.catalog(ctx)
			if err := remove(ctx, cat, ids[i]); err != nil {
				log.Printf("[SYNC] Run %s: %s of %s failed: %v", r.run.ID, name, ids[i], err)
				if markErr := cat.MarkCleanupAttempted(ctx, tenant, mkt, ids[i], r.p.now()); markErr == nil {
					marked.Add(1)
				}
				return err
			}
			marked.Add(1)
			return nil
		})
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if marked.Load() == 0 {
			return fmt.Errorf("%s made no progress on %d listings", name, len(ids))
		}

		r.run.Errors += res.failed
		r.run.Current += len(ids)
		r.run.Total = r.run.Current
		progress(res.succeeded)
		if err := r.save(ctx); err != nil {
			return err
		}
	}
}
