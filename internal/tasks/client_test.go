package tasks

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mikestefanello/backlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "marketsync.db")

	cfg := DefaultConfig()
	cfg.Workers = 1

	client, err := NewClient(dbPath, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client, dbPath
}

// flakyTask fails on every attempt.
type flakyTask struct {
	Reason string `json:"reason"`
}

func (flakyTask) Config() backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        "flaky",
		MaxAttempts: 1,
		Backoff:     time.Millisecond,
		Timeout:     time.Second,
		Retention:   &backlite.Retention{Duration: time.Hour},
	}
}

func TestClient_Lifecycle(t *testing.T) {
	client, dbPath := newTestClient(t)

	_, err := os.Stat(DBPath(dbPath))
	assert.NoError(t, err, "tasks database lives next to the main one")

	assert.True(t, client.Stop(context.Background()), "stopping a client that never started is a no-op")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Start(ctx)
	time.Sleep(50 * time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	assert.True(t, client.Stop(stopCtx))
}

func TestClient_FailedTaskStatus(t *testing.T) {
	client, _ := newTestClient(t)

	attempted := make(chan struct{}, 1)
	client.Register(backlite.NewQueue(func(ctx context.Context, task flakyTask) error {
		attempted <- struct{}{}
		return errors.New(task.Reason)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Start(ctx)

	ids, err := client.Add(flakyTask{Reason: "marketplace down"}).Save()
	require.NoError(t, err)
	require.Len(t, ids, 1)

	select {
	case <-attempted:
	case <-time.After(5 * time.Second):
		t.Fatal("task was not attempted within timeout")
	}

	require.Eventually(t, func() bool {
		status, err := client.Status(ctx, ids[0])
		return err == nil && status == "failure"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestStatusName(t *testing.T) {
	assert.Equal(t, "pending", StatusName(backlite.TaskStatusPending))
	assert.Equal(t, "success", StatusName(backlite.TaskStatusSuccess))
	assert.Equal(t, "not_found", StatusName(backlite.TaskStatusNotFound))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 4*time.Hour, cfg.ReleaseAfter)
	assert.Equal(t, time.Hour, cfg.CleanupInterval)
	assert.Equal(t, 30, cfg.RetentionDays())
	assert.Greater(t, cfg.ReleaseAfter, SyncRunTask{}.Config().Timeout)

	cfg.RetentionDuration = 36 * time.Hour
	assert.Equal(t, 2, cfg.RetentionDays())
	cfg.RetentionDuration = 0
	assert.Equal(t, 1, cfg.RetentionDays())
}

func TestFormatParams(t *testing.T) {
	assert.Equal(t, " queue=sync_run id=42", formatParams([]any{"queue", "sync_run", "id", 42}))
	assert.Equal(t, " dangling", formatParams([]any{"dangling"}))
	assert.Empty(t, formatParams(nil))
}
