// Package worker runs marketplace jobs for one tenant at a time.
//
// Each TenantWorker owns a single dispatch loop that claims the tenant's
// next eligible job whenever it is woken or its poll interval elapses, up to
// the tenant concurrency cap. Every claimed job runs in its own goroutine
// under admission control: a Global token first, then the worker's Local
// token, released in reverse order whatever the outcome.
package worker

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mrlokans/marketsync/internal/actions"
	"github.com/mrlokans/marketsync/internal/admission"
	"github.com/mrlokans/marketsync/internal/database/jobs"
	"github.com/mrlokans/marketsync/internal/entities"
	"gorm.io/gorm"
)

// resultWriteTimeout bounds the store write that records a job outcome.
const resultWriteTimeout = 10 * time.Second

// JobStore is the persistence the worker needs.
type JobStore interface {
	CreateJob(ctx context.Context, job *entities.Job) error
	ClaimNextJob(ctx context.Context, tenantID string) (*entities.Job, error)
	CompleteJob(ctx context.Context, id uint, result []byte) (bool, error)
	RecordFailure(ctx context.Context, id uint, errMsg string) (jobs.FailOutcome, error)
	ReleaseJob(ctx context.Context, id uint) (bool, error)
}

// Executor performs a claimed job using the given DB session.
type Executor interface {
	ExecuteJob(ctx context.Context, db *gorm.DB, job *entities.Job) actions.Result
}

// JobObserver is told when a job leaves the active statuses for good.
type JobObserver interface {
	OnJobFinished(ctx context.Context, job *entities.Job)
}

// Config holds the per-worker tuning knobs.
type Config struct {
	Concurrency  int
	PollInterval time.Duration
	IdleTimeout  time.Duration
	MaxAge       time.Duration
}

// Deps are the collaborators shared by every tenant worker of a process.
type Deps struct {
	DB       *gorm.DB
	Store    JobStore
	Executor Executor
	Global   *admission.Limiter
	Observer JobObserver
}

// Status is a point-in-time snapshot of a worker.
type Status struct {
	TenantID    string
	Schema      string
	Running     bool
	ActiveJobs  int
	Concurrency int
	Idle        bool
	Old         bool
	Age         time.Duration
	IdleFor     time.Duration
}

type TenantWorker struct {
	tenantID string
	schema   string
	deps     Deps
	cfg      Config
	local    *admission.Limiter

	wake chan struct{}

	mu          sync.Mutex
	running     bool
	stopCh      chan struct{}
	loopDone    chan struct{}
	cancelAdmit context.CancelFunc
	inflight    sync.WaitGroup

	active       atomic.Int32
	createdAt    time.Time
	lastActivity atomic.Int64 // unix nanos
	now          func() time.Time
}

// NewTenantWorker creates a stopped worker for the tenant.
func NewTenantWorker(tenantID, schema string, deps Deps, cfg Config) *TenantWorker {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	w := &TenantWorker{
		tenantID: tenantID,
		schema:   schema,
		deps:     deps,
		cfg:      cfg,
		local:    admission.NewLocal(cfg.Concurrency),
		wake:     make(chan struct{}, 1),
		now:      time.Now,
	}
	w.createdAt = w.now()
	w.touch()
	return w
}

func (w *TenantWorker) TenantID() string { return w.tenantID }

// Start launches the dispatch loop. Calling it on a running worker does nothing.
func (w *TenantWorker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}

	// Executors outlive Stop; only jobs still waiting for admission give up.
	taskCtx := context.WithoutCancel(ctx)
	admitCtx, cancel := context.WithCancel(taskCtx)
	w.running = true
	w.stopCh = make(chan struct{})
	w.loopDone = make(chan struct{})
	w.cancelAdmit = cancel

	log.Printf("[WORKER] Starting worker for tenant %s (concurrency %d)", w.tenantID, w.cfg.Concurrency)
	go w.loop(ctx, runCtx{task: taskCtx, admit: admitCtx}, w.stopCh, w.loopDone)
}

// Stop halts the loop and waits up to timeout for in-flight jobs. At the
// deadline, jobs still waiting for an admission token go back to pending;
// jobs already executing keep running and are no longer waited on.
// Returns true if everything finished in time. Stopping a stopped worker
// returns true.
func (w *TenantWorker) Stop(timeout time.Duration) bool {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return true
	}
	w.running = false
	close(w.stopCh)
	loopDone := w.loopDone
	cancel := w.cancelAdmit
	w.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		<-loopDone
		w.inflight.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		cancel()
		log.Printf("[WORKER] Stopped worker for tenant %s", w.tenantID)
		return true
	case <-time.After(timeout):
		cancel()
		log.Printf("[WORKER] Worker for tenant %s did not stop within %s, %d jobs still running",
			w.tenantID, timeout, w.ActiveJobCount())
		return false
	}
}

// NotifyJobAvailable wakes the dispatch loop. Multiple signals before the
// loop runs collapse into one.
func (w *TenantWorker) NotifyJobAvailable() {
	w.touch()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Submit persists a job for this worker's tenant and wakes the loop.
func (w *TenantWorker) Submit(ctx context.Context, job *entities.Job) error {
	job.TenantID = w.tenantID
	job.Status = entities.JobStatusPending
	if err := w.deps.Store.CreateJob(ctx, job); err != nil {
		return fmt.Errorf("submit job: %w", err)
	}
	w.NotifyJobAvailable()
	return nil
}

func (w *TenantWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// ActiveJobCount returns the number of claimed jobs not yet finished.
func (w *TenantWorker) ActiveJobCount() int {
	return int(w.active.Load())
}

// IsIdle reports whether the worker has had nothing to do, and no wake-up,
// for longer than IdleTimeout.
func (w *TenantWorker) IsIdle() bool {
	if w.ActiveJobCount() > 0 || w.cfg.IdleTimeout <= 0 {
		return false
	}
	return w.idleFor() > w.cfg.IdleTimeout
}

// IsOld reports whether the worker has existed for longer than MaxAge.
func (w *TenantWorker) IsOld() bool {
	if w.cfg.MaxAge <= 0 {
		return false
	}
	return w.now().Sub(w.createdAt) > w.cfg.MaxAge
}

func (w *TenantWorker) GetStatus() Status {
	return Status{
		TenantID:    w.tenantID,
		Schema:      w.schema,
		Running:     w.IsRunning(),
		ActiveJobs:  w.ActiveJobCount(),
		Concurrency: w.cfg.Concurrency,
		Idle:        w.IsIdle(),
		Old:         w.IsOld(),
		Age:         w.now().Sub(w.createdAt),
		IdleFor:     w.idleFor(),
	}
}

func (w *TenantWorker) touch() {
	w.lastActivity.Store(w.now().UnixNano())
}

func (w *TenantWorker) idleFor() time.Duration {
	if w.ActiveJobCount() > 0 {
		return 0
	}
	return w.now().Sub(time.Unix(0, w.lastActivity.Load()))
}

// runCtx carries the contexts claimed jobs run under.
type runCtx struct {
	task  context.Context
	admit context.Context
}

func (w *TenantWorker) loop(ctx context.Context, rc runCtx, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		w.dispatch(ctx, rc, stopCh)

		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-w.wake:
		case <-ticker.C:
		}
	}
}

// dispatch claims jobs until the tenant cap is reached or nothing is eligible.
func (w *TenantWorker) dispatch(ctx context.Context, rc runCtx, stopCh <-chan struct{}) {
	for w.ActiveJobCount() < w.cfg.Concurrency {
		select {
		case <-stopCh:
			return
		default:
		}

		job, err := w.deps.Store.ClaimNextJob(ctx, w.tenantID)
		if err != nil {
			log.Printf("[WORKER] Failed to claim job for tenant %s: %v", w.tenantID, err)
			return
		}
		if job == nil {
			return
		}

		w.active.Add(1)
		w.touch()
		w.inflight.Add(1)
		go w.process(rc, job)
	}
}

func (w *TenantWorker) process(rc runCtx, job *entities.Job) {
	defer w.inflight.Done()
	defer func() {
		w.active.Add(-1)
		// a slot is free again
		w.NotifyJobAvailable()
	}()

	release, err := admission.Admit(rc.admit, w.deps.Global, w.local)
	if err != nil {
		if rc.admit.Err() != nil {
			w.release(rc.task, job)
			return
		}
		w.record(rc.task, job, actions.Result{Err: err})
		return
	}

	res := func() actions.Result {
		defer release()
		return w.execute(rc.task, job)
	}()
	w.record(rc.task, job, res)
}

// release hands a job that never ran back to pending after the worker
// stopped waiting for its admission.
func (w *TenantWorker) release(ctx context.Context, job *entities.Job) {
	writeCtx, cancel := context.WithTimeout(ctx, resultWriteTimeout)
	defer cancel()

	if _, err := w.deps.Store.ReleaseJob(writeCtx, job.ID); err != nil {
		log.Printf("[WORKER] Failed to release job %d: %v", job.ID, err)
		return
	}
	log.Printf("[WORKER] Job %d (%s/%s) returned to pending, worker stopped before admission",
		job.ID, job.Marketplace, job.ActionCode)
}

// execute runs the executor with a fresh DB session and turns a panic into
// a failed result.
func (w *TenantWorker) execute(ctx context.Context, job *entities.Job) (res actions.Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[WORKER] Job %d (%s/%s) panicked: %v\n%s",
				job.ID, job.Marketplace, job.ActionCode, r, debug.Stack())
			res = actions.Result{
				Err:      fmt.Errorf("job panicked: %v", r),
				Duration: time.Since(start),
			}
		}
	}()

	session := w.deps.DB.Session(&gorm.Session{NewDB: true}).WithContext(ctx)
	return w.deps.Executor.ExecuteJob(ctx, session, job)
}

// record stores the job outcome and tells the observer about terminal jobs.
func (w *TenantWorker) record(ctx context.Context, job *entities.Job, res actions.Result) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resultWriteTimeout)
	defer cancel()

	if res.Success {
		ok, err := w.deps.Store.CompleteJob(writeCtx, job.ID, res.Payload)
		if err != nil {
			log.Printf("[WORKER] Failed to record completion of job %d: %v", job.ID, err)
			return
		}
		if ok {
			job.Status = entities.JobStatusCompleted
		}
		w.notifyObserver(writeCtx, job)
		return
	}

	errMsg := "unknown error"
	if res.Err != nil {
		errMsg = res.Err.Error()
	}
	outcome, err := w.deps.Store.RecordFailure(writeCtx, job.ID, errMsg)
	if err != nil {
		log.Printf("[WORKER] Failed to record failure of job %d: %v", job.ID, err)
		return
	}

	switch outcome {
	case jobs.FailRetried:
		log.Printf("[WORKER] Job %d (%s/%s) failed, will retry: %s",
			job.ID, job.Marketplace, job.ActionCode, errMsg)
	case jobs.FailFinal:
		log.Printf("[WORKER] Job %d (%s/%s) failed: %s", job.ID, job.Marketplace, job.ActionCode, errMsg)
		job.Status = entities.JobStatusFailed
		w.notifyObserver(writeCtx, job)
	default:
		// already terminal, most likely cancelled while running
		w.notifyObserver(writeCtx, job)
	}
}

func (w *TenantWorker) notifyObserver(ctx context.Context, job *entities.Job) {
	if w.deps.Observer == nil || job.BatchID == nil {
		return
	}
	w.deps.Observer.OnJobFinished(ctx, job)
}
