package actions

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/mrlokans/marketsync/internal/database"
	"github.com/mrlokans/marketsync/internal/database/listings"
	"github.com/mrlokans/marketsync/internal/entities"
	"github.com/mrlokans/marketsync/internal/marketplace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) (*gorm.DB, func()) {
	db, err := database.NewDatabaseWithLogLevel(filepath.Join(t.TempDir(), "actions.db"), logger.Silent)
	require.NoError(t, err)
	return db.DB, func() { db.Close() }
}

func newRegistry() (*Registry, *marketplace.MemoryClient) {
	client := marketplace.NewMemoryClient("ebay")
	dir := marketplace.NewDirectory()
	dir.Register("ebay", client)
	reg := NewRegistry(dir)
	RegisterDefaults(reg, "ebay")
	return reg, client
}

func target(s string) *string { return &s }

func TestRegistry_ResolveActionType(t *testing.T) {
	reg, _ := newRegistry()

	d, ok := reg.ResolveActionType("ebay", ActionPublish)
	require.True(t, ok)
	assert.True(t, d.RequiresTarget)

	_, ok = reg.ResolveActionType("ebay", "teleport")
	assert.False(t, ok)
	_, ok = reg.ResolveActionType("etsy", ActionPublish)
	assert.False(t, ok)
}

func TestRegistry_ExecuteJob_Publish(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	reg, client := newRegistry()
	ctx := context.Background()

	job := &entities.Job{TenantID: "t1", Marketplace: "ebay", ActionCode: ActionPublish, TargetID: target("prod-1")}
	res := reg.ExecuteJob(ctx, db, job)
	require.NoError(t, res.Err)
	assert.True(t, res.Success)
	assert.Contains(t, string(res.Payload), "remote_id")
	assert.Equal(t, 1, client.Calls("PublishListing"))

	count, err := listings.NewRepository(db).CountListings(ctx, "t1", "ebay")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRegistry_ExecuteJob_Errors(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	reg, client := newRegistry()
	ctx := context.Background()

	t.Run("unknown action", func(t *testing.T) {
		res := reg.ExecuteJob(ctx, db, &entities.Job{TenantID: "t1", Marketplace: "ebay", ActionCode: "nope"})
		assert.False(t, res.Success)
		assert.ErrorIs(t, res.Err, ErrUnknownAction)
	})

	t.Run("missing target", func(t *testing.T) {
		res := reg.ExecuteJob(ctx, db, &entities.Job{TenantID: "t1", Marketplace: "ebay", ActionCode: ActionDelete})
		assert.ErrorIs(t, res.Err, ErrTargetRequired)
	})

	t.Run("no client", func(t *testing.T) {
		reg.Register("etsy", Descriptor{Code: "noop", Handler: func(context.Context, Env, *entities.Job) (any, error) { return nil, nil }})
		res := reg.ExecuteJob(ctx, db, &entities.Job{TenantID: "t1", Marketplace: "etsy", ActionCode: "noop"})
		assert.ErrorIs(t, res.Err, ErrNoClient)
	})

	t.Run("marketplace failure", func(t *testing.T) {
		client.FailNext("UpdateListing", "r-1", 1)
		res := reg.ExecuteJob(ctx, db, &entities.Job{TenantID: "t1", Marketplace: "ebay", ActionCode: ActionUpdate, TargetID: target("r-1")})
		assert.False(t, res.Success)
		assert.Error(t, res.Err)
		assert.Nil(t, res.Payload)
	})
}

func TestRegistry_ExecuteJob_RefreshAndDelete(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	reg, client := newRegistry()
	ctx := context.Background()
	client.Seed("t1",
		marketplace.Item{RemoteID: "r-1", ProductID: "p-1", Title: "One"},
		marketplace.Item{RemoteID: "r-2", ProductID: "p-2", Title: "Two"},
	)

	res := reg.ExecuteJob(ctx, db, &entities.Job{TenantID: "t1", Marketplace: "ebay", ActionCode: ActionRefresh})
	require.NoError(t, res.Err)
	assert.JSONEq(t, `{"refreshed":2,"total":2}`, string(res.Payload))

	res = reg.ExecuteJob(ctx, db, &entities.Job{TenantID: "t1", Marketplace: "ebay", ActionCode: ActionDelete, TargetID: target("r-1")})
	require.NoError(t, res.Err)
	assert.False(t, client.Has("t1", "r-1"))

	_, err := listings.NewRepository(db).GetListing(ctx, "t1", "ebay", "r-1")
	assert.True(t, errors.Is(err, listings.ErrListingNotFound))

	res = reg.ExecuteJob(ctx, db, &entities.Job{TenantID: "t1", Marketplace: "ebay", ActionCode: ActionMarkSold, TargetID: target("p-2")})
	require.NoError(t, res.Err)
	assert.JSONEq(t, `{"listings":1}`, string(res.Payload))
}
