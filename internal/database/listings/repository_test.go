package listings

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mrlokans/marketsync/internal/database"
	"github.com/mrlokans/marketsync/internal/entities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) (*Repository, func()) {
	dbPath := filepath.Join(t.TempDir(), "listings.db")

	db, err := database.NewDatabaseWithLogLevel(dbPath, logger.Silent)
	require.NoError(t, err)

	cleanup := func() {
		db.Close()
	}
	return NewRepository(db.DB), cleanup
}

func listing(remoteID string) entities.Listing {
	return entities.Listing{
		TenantID:     "t1",
		Marketplace:  "ebay",
		RemoteID:     remoteID,
		ProductID:    "p-" + remoteID,
		Title:        "Item " + remoteID,
		RemoteStatus: entities.RemoteStatusActive,
	}
}

func seed(t *testing.T, repo *Repository, seenAt time.Time, ids ...string) {
	t.Helper()
	items := make([]entities.Listing, 0, len(ids))
	for _, id := range ids {
		items = append(items, listing(id))
	}
	require.NoError(t, repo.UpsertListings(context.Background(), items, seenAt))
}

func TestRepository_UpsertListings(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	first := time.Now().UTC().Add(-time.Hour)
	seed(t, repo, first, "a", "b")

	attempted := time.Now().UTC().Add(-30 * time.Minute)
	require.NoError(t, repo.MarkEnrichAttempted(ctx, "t1", "ebay", "a", attempted))

	updated := listing("a")
	updated.Title = "Renamed"
	second := time.Now().UTC()
	require.NoError(t, repo.UpsertListings(ctx, []entities.Listing{updated}, second))

	count, err := repo.CountListings(ctx, "t1", "ebay")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	stored, err := repo.GetListing(ctx, "t1", "ebay", "a")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", stored.Title)
	assert.True(t, second.Equal(stored.LastSeenAt))
	require.NotNil(t, stored.EnrichAttemptedAt, "upsert keeps enrichment bookkeeping")
	assert.Equal(t, entities.LocalStatusAvailable, stored.LocalStatus)

	_, err = repo.GetListing(ctx, "t1", "ebay", "zzz")
	assert.ErrorIs(t, err, ErrListingNotFound)
}

func TestRepository_FetchBatchToEnrich(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	seed(t, repo, time.Now().UTC(), "a", "b", "c")
	runStart := time.Now().UTC().Add(-time.Minute)

	first, err := repo.FetchBatchToEnrich(ctx, "t1", "ebay", runStart, 10)
	require.NoError(t, err)
	again, err := repo.FetchBatchToEnrich(ctx, "t1", "ebay", runStart, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, first)
	assert.Equal(t, first, again, "asking twice without marking returns the same set")

	limited, err := repo.FetchBatchToEnrich(ctx, "t1", "ebay", runStart, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, limited)

	now := time.Now().UTC()
	require.NoError(t, repo.MarkEnriched(ctx, "t1", "ebay", "a", []byte(`{"color":"red"}`), now))
	require.NoError(t, repo.MarkEnrichAttempted(ctx, "t1", "ebay", "b", now))

	rest, err := repo.FetchBatchToEnrich(ctx, "t1", "ebay", runStart, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, rest)

	enriched, err := repo.GetListing(ctx, "t1", "ebay", "a")
	require.NoError(t, err)
	assert.NotNil(t, enriched.EnrichedAt)
	assert.JSONEq(t, `{"color":"red"}`, string(enriched.Attributes))

	failed, err := repo.GetListing(ctx, "t1", "ebay", "b")
	require.NoError(t, err)
	assert.Nil(t, failed.EnrichedAt)
	assert.NotNil(t, failed.EnrichAttemptedAt)

	t.Run("a later run sees attempted items again", func(t *testing.T) {
		nextRun := time.Now().UTC().Add(time.Minute)
		ids, err := repo.FetchBatchToEnrich(ctx, "t1", "ebay", nextRun, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, ids)
	})
}

func TestRepository_FetchOrphanBatch(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	stale := time.Now().UTC().Add(-2 * time.Hour)
	seed(t, repo, stale, "old-1", "old-2")
	runStart := time.Now().UTC().Add(-time.Minute)
	seed(t, repo, time.Now().UTC(), "fresh")

	orphans, err := repo.FetchOrphanBatch(ctx, "t1", "ebay", runStart, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"old-1", "old-2"}, orphans)

	require.NoError(t, repo.DeleteListing(ctx, "t1", "ebay", "old-1"))
	require.NoError(t, repo.MarkCleanupAttempted(ctx, "t1", "ebay", "old-2", time.Now().UTC()))

	orphans, err = repo.FetchOrphanBatch(ctx, "t1", "ebay", runStart, 10)
	require.NoError(t, err)
	assert.Empty(t, orphans)

	require.NoError(t, repo.DeleteListing(ctx, "t1", "ebay", "does-not-exist"))
}

func TestRepository_FetchSoldElsewhereBatch(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().UTC()
	seed(t, repo, now, "a", "b", "c")

	n, err := repo.MarkSoldOnChannel(ctx, "t1", "p-a", "etsy")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = repo.MarkSoldOnChannel(ctx, "t1", "p-b", "ebay")
	require.NoError(t, err)

	runStart := now.Add(-time.Minute)
	ids, err := repo.FetchSoldElsewhereBatch(ctx, "t1", "ebay", runStart, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids, "sales on this marketplace are not sold elsewhere")

	require.NoError(t, repo.MarkCleanupAttempted(ctx, "t1", "ebay", "a", time.Now().UTC()))
	ids, err = repo.FetchSoldElsewhereBatch(ctx, "t1", "ebay", runStart, 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRepository_MarkSoldFromRemote(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	sold := listing("s")
	sold.RemoteStatus = entities.RemoteStatusSold
	require.NoError(t, repo.UpsertListings(ctx, []entities.Listing{sold, listing("a")}, time.Now().UTC()))

	n, err := repo.MarkSoldFromRemote(ctx, "t1", "ebay")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := repo.GetListing(ctx, "t1", "ebay", "s")
	require.NoError(t, err)
	assert.Equal(t, entities.LocalStatusSold, stored.LocalStatus)

	n, err = repo.MarkSoldFromRemote(ctx, "t1", "ebay")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRepository_UpsertKeepsLocalSale(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	seed(t, repo, time.Now().UTC().Add(-time.Hour), "a", "b")
	_, err := repo.MarkSoldOnChannel(ctx, "t1", "p-a", "etsy")
	require.NoError(t, err)

	remoteSale := listing("b")
	remoteSale.SoldChannel = "amazon"
	require.NoError(t, repo.UpsertListings(ctx, []entities.Listing{listing("a"), remoteSale}, time.Now().UTC()))

	a, err := repo.GetListing(ctx, "t1", "ebay", "a")
	require.NoError(t, err)
	assert.Equal(t, "etsy", a.SoldChannel)

	b, err := repo.GetListing(ctx, "t1", "ebay", "b")
	require.NoError(t, err)
	assert.Equal(t, "amazon", b.SoldChannel)
}
