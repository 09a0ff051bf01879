package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mrlokans/marketsync/internal/actions"
	"github.com/mrlokans/marketsync/internal/batch"
	"github.com/mrlokans/marketsync/internal/config"
	"github.com/mrlokans/marketsync/internal/database"
	"github.com/mrlokans/marketsync/internal/database/jobs"
	"github.com/mrlokans/marketsync/internal/database/listings"
	"github.com/mrlokans/marketsync/internal/marketplace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

func TestSyncCommand_ParseFlags(t *testing.T) {
	cmd := NewSyncCommand()
	assert.Error(t, cmd.ParseFlags([]string{"-tenant", "acme"}))

	cmd = NewSyncCommand()
	require.NoError(t, cmd.ParseFlags([]string{"-tenant", "acme", "-marketplace", "ebay", "-seed", "5"}))
	assert.Equal(t, "acme", cmd.TenantID)
	assert.Equal(t, 5, cmd.Seed)

	cmd = NewSyncCommand()
	require.NoError(t, cmd.ParseFlags([]string{"-resume", "run-1"}))
	assert.Equal(t, "run-1", cmd.Resume)
}

func TestSyncCommand_RunSeeded(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cli.db")

	cmd := &SyncCommand{
		DatabasePath: dbPath,
		TenantID:     "acme",
		Marketplace:  "ebay",
		Seed:         25,
		PollInterval: 10 * time.Millisecond,
		GlobalTokens: 4,
		syncConfig:   config.Sync{PageSize: 10, FetchFanOut: 2, StepAttempts: 1},
		marketsConfig: config.Marketplace{
			Codes: []string{"ebay", "etsy"},
		},
	}
	require.NoError(t, cmd.Run())

	db, err := database.NewDatabaseWithLogLevel(dbPath, logger.Silent)
	require.NoError(t, err)
	defer db.Close()

	count, err := listings.NewRepository(db.DB).CountListings(context.Background(), "acme", "ebay")
	require.NoError(t, err)
	assert.EqualValues(t, 25, count)
}

func TestSyncCommand_UnknownMarketplace(t *testing.T) {
	cmd := &SyncCommand{
		DatabasePath:  filepath.Join(t.TempDir(), "cli.db"),
		TenantID:      "acme",
		Marketplace:   "amazon",
		PollInterval:  10 * time.Millisecond,
		GlobalTokens:  1,
		marketsConfig: config.Marketplace{Codes: []string{"ebay"}},
	}
	assert.Error(t, cmd.Run())
}

func TestBatchStatusCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cli.db")

	db, err := database.NewDatabaseWithLogLevel(dbPath, logger.Silent)
	require.NoError(t, err)

	registry := actions.NewRegistry(marketplace.NewDirectory())
	actions.RegisterDefaults(registry, "ebay")
	created, err := batch.NewService(jobs.NewRepository(db.DB), registry, 3).CreateBatch(context.Background(), batch.CreateBatchRequest{
		TenantID:    "acme",
		Marketplace: "ebay",
		ActionCode:  actions.ActionPublish,
		TargetIDs:   []string{"p1", "p2", "p3"},
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	var out bytes.Buffer
	cmd := &BatchStatusCommand{DatabasePath: dbPath, BatchID: created.ID, out: &out}
	require.NoError(t, cmd.Run())
	assert.Contains(t, out.String(), created.ID)
	assert.Contains(t, out.String(), "3 pending of 3")

	out.Reset()
	cmd.JSON = true
	require.NoError(t, cmd.Run())
	assert.Contains(t, out.String(), `"percent_complete": 0`)

	cmd.BatchID = "missing"
	assert.ErrorIs(t, cmd.Run(), batch.ErrBatchNotFound)
}

func TestSeedItems(t *testing.T) {
	items := SeedItems(3)
	require.Len(t, items, 3)
	assert.Equal(t, "seed-00000", items[0].RemoteID)
	assert.Equal(t, "prod-00002", items[2].ProductID)
}
