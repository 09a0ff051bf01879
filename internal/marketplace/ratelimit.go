package marketplace

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited wraps a Client so every call waits for a token first.
// One limiter is shared by all tenants of the marketplace.
type RateLimited struct {
	next Client
	lim  *rate.Limiter
}

// NewRateLimited allows perSecond calls per second with the given burst.
// A non-positive perSecond disables limiting.
func NewRateLimited(next Client, perSecond float64, burst int) *RateLimited {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{next: next, lim: rate.NewLimiter(limit, burst)}
}

func (r *RateLimited) FetchPage(ctx context.Context, tenantID string, limit, offset int) (Page, error) {
	if err := r.lim.Wait(ctx); err != nil {
		return Page{}, err
	}
	return r.next.FetchPage(ctx, tenantID, limit, offset)
}

func (r *RateLimited) FetchDetails(ctx context.Context, tenantID, remoteID string) (map[string]string, error) {
	if err := r.lim.Wait(ctx); err != nil {
		return nil, err
	}
	return r.next.FetchDetails(ctx, tenantID, remoteID)
}

func (r *RateLimited) PublishListing(ctx context.Context, tenantID, productID string) (string, error) {
	if err := r.lim.Wait(ctx); err != nil {
		return "", err
	}
	return r.next.PublishListing(ctx, tenantID, productID)
}

func (r *RateLimited) UpdateListing(ctx context.Context, tenantID, remoteID string) error {
	if err := r.lim.Wait(ctx); err != nil {
		return err
	}
	return r.next.UpdateListing(ctx, tenantID, remoteID)
}

func (r *RateLimited) DeleteListing(ctx context.Context, tenantID, remoteID string) error {
	if err := r.lim.Wait(ctx); err != nil {
		return err
	}
	return r.next.DeleteListing(ctx, tenantID, remoteID)
}
