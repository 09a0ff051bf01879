// Package marketplace is the boundary to third-party marketplaces.
//
// Connectors implement Client. Wire formats, authentication and endpoint
// details live behind that interface; the scheduler only sees pages of
// items and single-item operations.
package marketplace

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/mrlokans/marketsync/internal/entities"
)

var (
	// ErrItemNotFound is returned when a remote listing does not exist.
	ErrItemNotFound = errors.New("remote listing not found")
)

// Item is one remote listing as reported by a marketplace.
type Item struct {
	RemoteID    string                `json:"remote_id"`
	ProductID   string                `json:"product_id,omitempty"`
	Title       string                `json:"title"`
	Price       int64                 `json:"price"`
	Quantity    int                   `json:"quantity"`
	Status      entities.RemoteStatus `json:"status"`
	SoldChannel string                `json:"sold_channel,omitempty"`
}

// Page is one offset/limit slice of a tenant's remote inventory.
type Page struct {
	Items []Item
	Total int
}

// Client abstracts all marketplace-specific logic.
type Client interface {
	// FetchPage returns up to limit items starting at offset along with the
	// total number of items the tenant has on the marketplace.
	FetchPage(ctx context.Context, tenantID string, limit, offset int) (Page, error)

	// FetchDetails returns the extended attributes of one listing.
	FetchDetails(ctx context.Context, tenantID, remoteID string) (map[string]string, error)

	// PublishListing creates a listing for a product and returns its remote id.
	PublishListing(ctx context.Context, tenantID, productID string) (string, error)

	// UpdateListing pushes local changes of an existing listing.
	UpdateListing(ctx context.Context, tenantID, remoteID string) error

	// DeleteListing removes a listing from the marketplace.
	DeleteListing(ctx context.Context, tenantID, remoteID string) error
}

// Directory maps marketplace codes to their clients.
type Directory struct {
	mu      sync.RWMutex
	clients map[string]Client
}

func NewDirectory() *Directory {
	return &Directory{clients: make(map[string]Client)}
}

// Register adds or replaces the client for a marketplace code.
func (d *Directory) Register(code string, client Client) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clients[code] = client
}

// Get returns the client for a marketplace code.
func (d *Directory) Get(code string) (Client, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.clients[code]
	return c, ok
}

// Codes returns the registered marketplace codes in sorted order.
func (d *Directory) Codes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	codes := make([]string, 0, len(d.clients))
	for code := range d.clients {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
