package actions

import (
	"context"
	"time"

	"github.com/mrlokans/marketsync/internal/entities"
	"github.com/mrlokans/marketsync/internal/marketplace"
)

const (
	ActionPublish  = "publish"
	ActionUpdate   = "update"
	ActionDelete   = "delete"
	ActionMarkSold = "mark_sold"
	ActionRefresh  = "refresh"
)

// refreshPageSize bounds the listings pulled by a single refresh job.
const refreshPageSize = 100

// RegisterDefaults registers the standard listing actions for a marketplace.
func RegisterDefaults(r *Registry, marketplaceCode string) {
	r.Register(marketplaceCode, Descriptor{Code: ActionPublish, Name: "Publish listing", RequiresTarget: true, Handler: publish})
	r.Register(marketplaceCode, Descriptor{Code: ActionUpdate, Name: "Update listing", RequiresTarget: true, Handler: update})
	r.Register(marketplaceCode, Descriptor{Code: ActionDelete, Name: "Delete listing", RequiresTarget: true, Handler: remove})
	r.Register(marketplaceCode, Descriptor{Code: ActionMarkSold, Name: "Record sale", RequiresTarget: true, Handler: markSold})
	r.Register(marketplaceCode, Descriptor{Code: ActionRefresh, Name: "Refresh listings", Handler: refresh})
}

// publish creates a listing for the product in TargetID.
func publish(ctx context.Context, env Env, job *entities.Job) (any, error) {
	productID := *job.TargetID
	remoteID, err := env.Client.PublishListing(ctx, job.TenantID, productID)
	if err != nil {
		return nil, err
	}
	err = env.Listings.UpsertListings(ctx, []entities.Listing{{
		TenantID:     job.TenantID,
		Marketplace:  job.Marketplace,
		RemoteID:     remoteID,
		ProductID:    productID,
		Title:        productID,
		Quantity:     1,
		RemoteStatus: entities.RemoteStatusActive,
	}}, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return map[string]string{"remote_id": remoteID}, nil
}

func update(ctx context.Context, env Env, job *entities.Job) (any, error) {
	if err := env.Client.UpdateListing(ctx, job.TenantID, *job.TargetID); err != nil {
		return nil, err
	}
	return map[string]string{"remote_id": *job.TargetID}, nil
}

func remove(ctx context.Context, env Env, job *entities.Job) (any, error) {
	remoteID := *job.TargetID
	if err := env.Client.DeleteListing(ctx, job.TenantID, remoteID); err != nil {
		return nil, err
	}
	if err := env.Listings.DeleteListing(ctx, job.TenantID, job.Marketplace, remoteID); err != nil {
		return nil, err
	}
	return map[string]string{"deleted": remoteID}, nil
}

// markSold records that the product in TargetID sold on this job's
// marketplace. Listings of the product on other marketplaces are removed by
// their next sync.
func markSold(ctx context.Context, env Env, job *entities.Job) (any, error) {
	n, err := env.Listings.MarkSoldOnChannel(ctx, job.TenantID, *job.TargetID, job.Marketplace)
	if err != nil {
		return nil, err
	}
	return map[string]int{"listings": n}, nil
}

// refresh pulls the first page of the tenant's listings into the local mirror.
func refresh(ctx context.Context, env Env, job *entities.Job) (any, error) {
	page, err := env.Client.FetchPage(ctx, job.TenantID, refreshPageSize, 0)
	if err != nil {
		return nil, err
	}
	rows := ToListings(job.TenantID, job.Marketplace, page.Items)
	if err := env.Listings.UpsertListings(ctx, rows, time.Now().UTC()); err != nil {
		return nil, err
	}
	return map[string]int{"refreshed": len(rows), "total": page.Total}, nil
}

// ToListings converts remote items into local listing rows.
func ToListings(tenantID, marketplaceCode string, items []marketplace.Item) []entities.Listing {
	rows := make([]entities.Listing, 0, len(items))
	for _, it := range items {
		rows = append(rows, entities.Listing{
			TenantID:     tenantID,
			Marketplace:  marketplaceCode,
			RemoteID:     it.RemoteID,
			ProductID:    it.ProductID,
			Title:        it.Title,
			Price:        it.Price,
			Quantity:     it.Quantity,
			RemoteStatus: it.Status,
			SoldChannel:  it.SoldChannel,
		})
	}
	return rows
}
