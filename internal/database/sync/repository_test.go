package sync

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
	dbPath := filepath.Join(t.TempDir(), "sync.db")

	db, err := database.NewDatabaseWithLogLevel(dbPath, logger.Silent)
	require.NoError(t, err)

	cleanup := func() {
		db.Close()
	}
	return NewRepository(db.DB), cleanup
}

func TestRepository_CreateRun(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	run, err := repo.CreateRun(ctx, "t1", "ebay")
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)

	stored, err := repo.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.SyncStatusPending, stored.Status)
	assert.Equal(t, entities.SyncPhaseFetch, stored.Phase)
	assert.Nil(t, stored.RunStartedAt)
}

func TestRepository_GetRun_NotFound(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := repo.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestRepository_SaveState(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	run, err := repo.CreateRun(ctx, "t1", "ebay")
	require.NoError(t, err)

	started := time.Now().Add(-time.Minute).Truncate(time.Second)
	run.Status = entities.SyncStatusRunning
	run.Phase = entities.SyncPhaseEnrich
	run.RunStartedAt = &started
	run.Offset = 300
	run.Synced = 290
	run.Errors = 10
	run.Label = "enriching"
	require.NoError(t, repo.SaveState(ctx, run))

	stored, err := repo.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.SyncPhaseEnrich, stored.Phase)
	assert.Equal(t, 300, stored.Offset)
	assert.Equal(t, 290, stored.Synced)
	assert.Equal(t, 10, stored.Errors)
	require.NotNil(t, stored.RunStartedAt)
	assert.True(t, started.Equal(*stored.RunStartedAt))

	t.Run("save does not clear a cancel request", func(t *testing.T) {
		ok, err := repo.RequestCancel(ctx, run.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		run.Offset = 400
		require.NoError(t, repo.SaveState(ctx, run))

		cancelled, err := repo.IsCancelRequested(ctx, run.ID)
		require.NoError(t, err)
		assert.True(t, cancelled)
	})
}

func TestRepository_Lease(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	run, err := repo.CreateRun(ctx, "t1", "ebay")
	require.NoError(t, err)
	now := time.Now().UTC()

	ok, err := repo.ClaimLease(ctx, run.ID, "exec-a", now, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ClaimLease(ctx, run.ID, "exec-b", now, now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "a live lease cannot be taken over")

	stored, err := repo.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "exec-a", stored.LeaseOwner)
	assert.True(t, stored.LeaseHeld(now))

	t.Run("only the owner saves state", func(t *testing.T) {
		stale := *stored
		stale.LeaseOwner = "exec-b"
		stale.Offset = 99
		assert.ErrorIs(t, repo.SaveState(ctx, &stale), ErrLeaseLost)

		stored.Offset = 10
		require.NoError(t, repo.SaveState(ctx, stored))
	})

	t.Run("renew", func(t *testing.T) {
		ok, err := repo.RenewLease(ctx, run.ID, "exec-a", now.Add(2*time.Minute))
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.RenewLease(ctx, run.ID, "exec-b", now.Add(2*time.Minute))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("expired lease can be claimed", func(t *testing.T) {
		later := now.Add(3 * time.Minute)
		ok, err := repo.ClaimLease(ctx, run.ID, "exec-b", later, later.Add(time.Minute))
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.RenewLease(ctx, run.ID, "exec-a", later.Add(time.Minute))
		require.NoError(t, err)
		assert.False(t, ok, "the previous owner lost the run")
	})

	t.Run("release", func(t *testing.T) {
		require.NoError(t, repo.ReleaseLease(ctx, run.ID, "exec-a"))
		stored, err := repo.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, "exec-b", stored.LeaseOwner, "only the owner releases")

		require.NoError(t, repo.ReleaseLease(ctx, run.ID, "exec-b"))
		stored, err = repo.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Empty(t, stored.LeaseOwner)
		assert.False(t, stored.LeaseHeld(now))
	})

	t.Run("release all and finish", func(t *testing.T) {
		ok, err := repo.ClaimLease(ctx, run.ID, "exec-c", now, now.Add(time.Hour))
		require.NoError(t, err)
		require.True(t, ok)

		n, err := repo.ReleaseAllLeases(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		ok, err = repo.ClaimLease(ctx, run.ID, "exec-d", now, now.Add(time.Hour))
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, repo.MarkCompleted(ctx, run.ID))

		stored, err := repo.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Empty(t, stored.LeaseOwner)

		ok, err = repo.ClaimLease(ctx, run.ID, "exec-e", now, now.Add(time.Hour))
		require.NoError(t, err)
		assert.False(t, ok, "finished runs are not claimed")
	})
}

func TestRepository_UpdateProgress(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	run, err := repo.CreateRun(ctx, "t1", "ebay")
	require.NoError(t, err)

	require.NoError(t, repo.UpdateProgress(ctx, run.ID, 50, 200, "fetching listings"))

	stored, err := repo.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, stored.Current)
	assert.Equal(t, 200, stored.Total)
	assert.Equal(t, "fetching listings", stored.Label)
}

func TestRepository_Finish(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	t.Run("completed", func(t *testing.T) {
		run, err := repo.CreateRun(ctx, "t1", "ebay")
		require.NoError(t, err)
		require.NoError(t, repo.MarkCompleted(ctx, run.ID))

		stored, err := repo.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, entities.SyncStatusCompleted, stored.Status)
		assert.Equal(t, entities.SyncPhaseDone, stored.Phase)
		assert.NotNil(t, stored.CompletedAt)
	})

	t.Run("failed keeps message", func(t *testing.T) {
		run, err := repo.CreateRun(ctx, "t1", "etsy")
		require.NoError(t, err)
		require.NoError(t, repo.MarkFailed(ctx, run.ID, "first page: timeout"))

		stored, err := repo.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, entities.SyncStatusFailed, stored.Status)
		assert.Equal(t, "first page: timeout", stored.Error)
	})

	t.Run("terminal run is not overwritten", func(t *testing.T) {
		run, err := repo.CreateRun(ctx, "t2", "ebay")
		require.NoError(t, err)
		require.NoError(t, repo.MarkCancelled(ctx, run.ID))
		require.NoError(t, repo.MarkCompleted(ctx, run.ID))

		stored, err := repo.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, entities.SyncStatusCancelled, stored.Status)

		ok, err := repo.RequestCancel(ctx, run.ID)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestRepository_FindActiveRun(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	none, err := repo.FindActiveRun(ctx, "t1", "ebay")
	require.NoError(t, err)
	assert.Nil(t, none)

	run, err := repo.CreateRun(ctx, "t1", "ebay")
	require.NoError(t, err)

	active, err := repo.FindActiveRun(ctx, "t1", "ebay")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, run.ID, active.ID)

	other, err := repo.FindActiveRun(ctx, "t1", "etsy")
	require.NoError(t, err)
	assert.Nil(t, other)

	runs, err := repo.ListActiveRuns(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	require.NoError(t, repo.MarkCompleted(ctx, run.ID))
	done, err := repo.FindActiveRun(ctx, "t1", "ebay")
	require.NoError(t, err)
	assert.Nil(t, done)
}

func TestRepository_DeleteFinishedBefore(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	finished, err := repo.CreateRun(ctx, "t1", "ebay")
	require.NoError(t, err)
	require.NoError(t, repo.MarkCompleted(ctx, finished.ID))

	active, err := repo.CreateRun(ctx, "t1", "etsy")
	require.NoError(t, err)

	deleted, err := repo.DeleteFinishedBefore(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = repo.GetRun(ctx, finished.ID)
	assert.ErrorIs(t, err, ErrRunNotFound)
	_, err = repo.GetRun(ctx, active.ID)
	assert.NoError(t, err)
}
