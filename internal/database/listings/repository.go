// Package listings provides database operations for the local mirror of a
// tenant's marketplace listings.
//
// The batch queries take the run start time rather than keeping state of
// their own: an item is "done" for a run once its attempt timestamp is at or
// after the run start. Asking twice without marking anything returns the
// same ids, which is what lets an interrupted run pick up where it stopped.
package listings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mrlokans/marketsync/internal/entities"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrListingNotFound is returned when a remote id is not mirrored locally.
var ErrListingNotFound = errors.New("listing not found")

// Repository handles listing rows.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new listings repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) scoped(ctx context.Context, tenantID, marketplace string) *gorm.DB {
	return r.db.WithContext(ctx).Model(&entities.Listing{}).
		Where("tenant_id = ? AND marketplace = ?", tenantID, marketplace)
}

// UpsertListings inserts or refreshes listings by remote id and stamps them
// as seen at seenAt. Enrichment attributes and bookkeeping are left intact.
func (r *Repository) UpsertListings(ctx context.Context, listings []entities.Listing, seenAt time.Time) error {
	if len(listings) == 0 {
		return nil
	}
	for i := range listings {
		listings[i].LastSeenAt = seenAt
		if listings[i].LocalStatus == "" {
			listings[i].LocalStatus = entities.LocalStatusAvailable
		}
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}, {Name: "marketplace"}, {Name: "remote_id"}},
		DoUpdates: append(clause.AssignmentColumns([]string{
			"product_id", "title", "price", "quantity", "remote_status",
			"last_seen_at", "updated_at",
		}), clause.Assignment{
			// a sale recorded locally on another channel survives a refresh
			Column: clause.Column{Name: "sold_channel"},
			Value:  gorm.Expr("CASE WHEN excluded.sold_channel <> '' THEN excluded.sold_channel ELSE marketplace_listings.sold_channel END"),
		}),
	}).Create(&listings).Error
	if err != nil {
		return fmt.Errorf("upsert listings: %w", err)
	}
	return nil
}

// GetListing loads a listing by its remote id.
func (r *Repository) GetListing(ctx context.Context, tenantID, marketplace, remoteID string) (*entities.Listing, error) {
	var listing entities.Listing
	err := r.scoped(ctx, tenantID, marketplace).Where("remote_id = ?", remoteID).First(&listing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrListingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &listing, nil
}

// CountListings returns how many listings the tenant mirrors for the marketplace.
func (r *Repository) CountListings(ctx context.Context, tenantID, marketplace string) (int64, error) {
	var count int64
	err := r.scoped(ctx, tenantID, marketplace).Count(&count).Error
	return count, err
}

// FetchBatchToEnrich returns up to size remote ids not yet enrich-attempted in this run.
func (r *Repository) FetchBatchToEnrich(ctx context.Context, tenantID, marketplace string, runStart time.Time, size int) ([]string, error) {
	var ids []string
	err := r.scoped(ctx, tenantID, marketplace).
		Where("(enrich_attempted_at IS NULL OR enrich_attempted_at < ?)", runStart).
		Order("id ASC").
		Limit(size).
		Pluck("remote_id", &ids).Error
	return ids, err
}

// MarkEnriched stores enrichment attributes and stamps both enrichment timestamps.
func (r *Repository) MarkEnriched(ctx context.Context, tenantID, marketplace, remoteID string, attributes []byte, at time.Time) error {
	updates := map[string]any{
		"enriched_at":         at,
		"enrich_attempted_at": at,
		"updated_at":          at,
	}
	if len(attributes) > 0 {
		updates["attributes"] = attributes
	}
	return r.scoped(ctx, tenantID, marketplace).Where("remote_id = ?", remoteID).Updates(updates).Error
}

// MarkEnrichAttempted records a failed enrichment so the run moves past it.
func (r *Repository) MarkEnrichAttempted(ctx context.Context, tenantID, marketplace, remoteID string, at time.Time) error {
	return r.scoped(ctx, tenantID, marketplace).Where("remote_id = ?", remoteID).
		Updates(map[string]any{"enrich_attempted_at": at, "updated_at": at}).Error
}

// FetchOrphanBatch returns up to size listings not seen by this run's fetch
// and not yet cleanup-attempted in this run.
func (r *Repository) FetchOrphanBatch(ctx context.Context, tenantID, marketplace string, runStart time.Time, size int) ([]string, error) {
	var ids []string
	err := r.scoped(ctx, tenantID, marketplace).
		Where("last_seen_at < ?", runStart).
		Where("(cleanup_attempted_at IS NULL OR cleanup_attempted_at < ?)", runStart).
		Order("id ASC").
		Limit(size).
		Pluck("remote_id", &ids).Error
	return ids, err
}

// FetchSoldElsewhereBatch returns up to size listings whose product sold on
// another channel and that were not yet cleanup-attempted in this run.
func (r *Repository) FetchSoldElsewhereBatch(ctx context.Context, tenantID, marketplace string, runStart time.Time, size int) ([]string, error) {
	var ids []string
	err := r.scoped(ctx, tenantID, marketplace).
		Where("sold_channel <> '' AND sold_channel <> ?", marketplace).
		Where("(cleanup_attempted_at IS NULL OR cleanup_attempted_at < ?)", runStart).
		Order("id ASC").
		Limit(size).
		Pluck("remote_id", &ids).Error
	return ids, err
}

// MarkCleanupAttempted stamps a listing whose removal failed.
func (r *Repository) MarkCleanupAttempted(ctx context.Context, tenantID, marketplace, remoteID string, at time.Time) error {
	return r.scoped(ctx, tenantID, marketplace).Where("remote_id = ?", remoteID).
		Updates(map[string]any{"cleanup_attempted_at": at, "updated_at": at}).Error
}

// DeleteListing removes the local row. Deleting a missing row is not an error.
func (r *Repository) DeleteListing(ctx context.Context, tenantID, marketplace, remoteID string) error {
	return r.db.WithContext(ctx).
		Where("tenant_id = ? AND marketplace = ? AND remote_id = ?", tenantID, marketplace, remoteID).
		Delete(&entities.Listing{}).Error
}

// MarkSoldFromRemote sets the local status to sold for every listing the
// marketplace reports as sold. Returns the number of rows changed.
func (r *Repository) MarkSoldFromRemote(ctx context.Context, tenantID, marketplace string) (int, error) {
	res := r.scoped(ctx, tenantID, marketplace).
		Where("remote_status = ? AND local_status <> ?", entities.RemoteStatusSold, entities.LocalStatusSold).
		Updates(map[string]any{"local_status": entities.LocalStatusSold, "updated_at": time.Now()})
	if res.Error != nil {
		return 0, fmt.Errorf("reconcile sold listings: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

// MarkSoldOnChannel records that the product behind a listing sold on channel.
func (r *Repository) MarkSoldOnChannel(ctx context.Context, tenantID, productID, channel string) (int, error) {
	res := r.db.WithContext(ctx).Model(&entities.Listing{}).
		Where("tenant_id = ? AND product_id = ?", tenantID, productID).
		Updates(map[string]any{"sold_channel": channel, "updated_at": time.Now()})
	return int(res.RowsAffected), res.Error
}
