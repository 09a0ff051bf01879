package worker

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/mrlokans/marketsync/internal/entities"
	"github.com/sourcegraph/conc"
)

// PendingLister finds tenants with claimable work, used to restart their
// workers after a process restart.
type PendingLister interface {
	TenantsWithPendingJobs(ctx context.Context) ([]string, error)
}

// Dispatcher lazily starts one TenantWorker per tenant and routes
// submissions and wake-ups to it. It never evicts workers.
type Dispatcher struct {
	ctx  context.Context
	deps Deps
	cfg  Config

	mu      sync.Mutex
	workers map[string]*TenantWorker
	stopped bool
}

// NewDispatcher creates a dispatcher. Workers it starts live until ctx is
// done or StopAll is called.
func NewDispatcher(ctx context.Context, deps Deps, cfg Config) *Dispatcher {
	return &Dispatcher{
		ctx:     ctx,
		deps:    deps,
		cfg:     cfg,
		workers: make(map[string]*TenantWorker),
	}
}

// SchemaFor returns the namespace a tenant's data lives in.
func SchemaFor(tenantID string) string {
	return "tenant_" + tenantID
}

// Worker returns the running worker of the tenant, starting one if needed.
// After StopAll it still returns the worker but never starts it.
func (d *Dispatcher) Worker(tenantID string) *TenantWorker {
	d.mu.Lock()
	defer d.mu.Unlock()

	w, ok := d.workers[tenantID]
	if !ok {
		w = NewTenantWorker(tenantID, SchemaFor(tenantID), d.deps, d.cfg)
		d.workers[tenantID] = w
	}
	if !d.stopped {
		w.Start(d.ctx)
	}
	return w
}

// Submit persists a job and wakes the owning tenant's worker.
func (d *Dispatcher) Submit(ctx context.Context, job *entities.Job) error {
	return d.Worker(job.TenantID).Submit(ctx, job)
}

// NotifyTenant wakes the tenant's worker, starting it if needed.
func (d *Dispatcher) NotifyTenant(tenantID string) {
	d.Worker(tenantID).NotifyJobAvailable()
}

// ResumePending starts a worker for every tenant that has pending jobs.
func (d *Dispatcher) ResumePending(ctx context.Context, lister PendingLister) error {
	tenants, err := lister.TenantsWithPendingJobs(ctx)
	if err != nil {
		return err
	}
	for _, tenantID := range tenants {
		d.NotifyTenant(tenantID)
	}
	if len(tenants) > 0 {
		log.Printf("[WORKER] Resumed workers for %d tenants with pending jobs", len(tenants))
	}
	return nil
}

// Statuses returns a snapshot of every worker, ordered by tenant.
func (d *Dispatcher) Statuses() []Status {
	d.mu.Lock()
	workers := make([]*TenantWorker, 0, len(d.workers))
	for _, w := range d.workers {
		workers = append(workers, w)
	}
	d.mu.Unlock()

	statuses := make([]Status, 0, len(workers))
	for _, w := range workers {
		statuses = append(statuses, w.GetStatus())
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].TenantID < statuses[j].TenantID })
	return statuses
}

// StopAll stops every worker concurrently, each bounded by timeout, and
// keeps later wake-ups from restarting them. Returns false if any worker
// did not finish in time.
func (d *Dispatcher) StopAll(timeout time.Duration) bool {
	d.mu.Lock()
	d.stopped = true
	workers := make([]*TenantWorker, 0, len(d.workers))
	for _, w := range d.workers {
		workers = append(workers, w)
	}
	d.mu.Unlock()

	var (
		wg    conc.WaitGroup
		mu    sync.Mutex
		clean = true
	)
	for _, w := range workers {
		wg.Go(func() {
			if !w.Stop(timeout) {
				mu.Lock()
				clean = false
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	return clean
}
