package marketplace

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mrlokans/marketsync/internal/entities"
)

// MemoryClient keeps remote inventories in process memory. It backs local
// runs and tests and does not make network calls.
type MemoryClient struct {
	code    string
	latency time.Duration

	mu        sync.Mutex
	inventory map[string]map[string]Item // tenant -> remote id -> item
	failures  map[string]int             // operation key -> remaining failures
	panics    map[string]bool
	nextID    atomic.Int64

	calls sync.Map // operation name -> *atomic.Int64
}

// NewMemoryClient creates an empty client for the marketplace code.
func NewMemoryClient(code string) *MemoryClient {
	return &MemoryClient{
		code:      code,
		inventory: make(map[string]map[string]Item),
		failures:  make(map[string]int),
		panics:    make(map[string]bool),
	}
}

// WithLatency makes every call sleep for d before answering.
func (m *MemoryClient) WithLatency(d time.Duration) *MemoryClient {
	m.latency = d
	return m
}

// Seed adds items to a tenant's inventory.
func (m *MemoryClient) Seed(tenantID string, items ...Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv := m.tenant(tenantID)
	for _, it := range items {
		if it.Status == "" {
			it.Status = entities.RemoteStatusActive
		}
		inv[it.RemoteID] = it
	}
}

// Remove deletes items from a tenant's inventory without counting as a call.
func (m *MemoryClient) Remove(tenantID string, remoteIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv := m.tenant(tenantID)
	for _, id := range remoteIDs {
		delete(inv, id)
	}
}

// Has reports whether the tenant still has the remote listing.
func (m *MemoryClient) Has(tenantID, remoteID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tenant(tenantID)[remoteID]
	return ok
}

// FailNext makes the next n calls of op for key fail. Keys are
// "page:<offset>" for FetchPage and the remote or product id otherwise.
func (m *MemoryClient) FailNext(op, key string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op+"|"+key] = n
}

// PanicOn makes every call of op for key panic.
func (m *MemoryClient) PanicOn(op, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panics[op+"|"+key] = true
}

// Calls returns how often op was called.
func (m *MemoryClient) Calls(op string) int {
	v, ok := m.calls.Load(op)
	if !ok {
		return 0
	}
	return int(v.(*atomic.Int64).Load())
}

func (m *MemoryClient) tenant(tenantID string) map[string]Item {
	inv, ok := m.inventory[tenantID]
	if !ok {
		inv = make(map[string]Item)
		m.inventory[tenantID] = inv
	}
	return inv
}

// enter records the call, applies latency and injected faults.
func (m *MemoryClient) enter(ctx context.Context, op, key string) error {
	v, _ := m.calls.LoadOrStore(op, new(atomic.Int64))
	v.(*atomic.Int64).Add(1)

	if m.latency > 0 {
		select {
		case <-time.After(m.latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	k := op + "|" + key
	if m.panics[k] {
		panic(fmt.Sprintf("%s: injected panic for %s", m.code, k))
	}
	if n := m.failures[k]; n > 0 {
		m.failures[k] = n - 1
		return fmt.Errorf("%s: injected failure for %s", m.code, k)
	}
	return nil
}

func (m *MemoryClient) FetchPage(ctx context.Context, tenantID string, limit, offset int) (Page, error) {
	if err := m.enter(ctx, "FetchPage", fmt.Sprintf("page:%d", offset)); err != nil {
		return Page{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	inv := m.tenant(tenantID)
	ids := make([]string, 0, len(inv))
	for id := range inv {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	page := Page{Total: len(ids)}
	for i := offset; i < len(ids) && i < offset+limit; i++ {
		page.Items = append(page.Items, inv[ids[i]])
	}
	return page, nil
}

func (m *MemoryClient) FetchDetails(ctx context.Context, tenantID, remoteID string) (map[string]string, error) {
	if err := m.enter(ctx, "FetchDetails", remoteID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.tenant(tenantID)[remoteID]
	if !ok {
		return nil, ErrItemNotFound
	}
	return map[string]string{
		"marketplace": m.code,
		"title":       it.Title,
		"quantity":    fmt.Sprint(it.Quantity),
	}, nil
}

func (m *MemoryClient) PublishListing(ctx context.Context, tenantID, productID string) (string, error) {
	if err := m.enter(ctx, "PublishListing", productID); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	remoteID := fmt.Sprintf("%s-%d", m.code, m.nextID.Add(1))
	m.tenant(tenantID)[remoteID] = Item{
		RemoteID:  remoteID,
		ProductID: productID,
		Title:     productID,
		Quantity:  1,
		Status:    entities.RemoteStatusActive,
	}
	return remoteID, nil
}

func (m *MemoryClient) UpdateListing(ctx context.Context, tenantID, remoteID string) error {
	if err := m.enter(ctx, "UpdateListing", remoteID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenant(tenantID)[remoteID]; !ok {
		return ErrItemNotFound
	}
	return nil
}

func (m *MemoryClient) DeleteListing(ctx context.Context, tenantID, remoteID string) error {
	if err := m.enter(ctx, "DeleteListing", remoteID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tenant(tenantID), remoteID)
	return nil
}
