package marketplace

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded(n int) *MemoryClient {
	m := NewMemoryClient("ebay")
	for i := 0; i < n; i++ {
		m.Seed("t1", Item{RemoteID: fmt.Sprintf("r-%03d", i), Title: fmt.Sprintf("Item %d", i)})
	}
	return m
}

func TestMemoryClient_FetchPage(t *testing.T) {
	m := seeded(5)
	ctx := context.Background()

	page, err := m.FetchPage(ctx, "t1", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "r-000", page.Items[0].RemoteID)

	last, err := m.FetchPage(ctx, "t1", 2, 4)
	require.NoError(t, err)
	require.Len(t, last.Items, 1)
	assert.Equal(t, "r-004", last.Items[0].RemoteID)

	empty, err := m.FetchPage(ctx, "other", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Total)
	assert.Equal(t, 3, m.Calls("FetchPage"))
}

func TestMemoryClient_InjectedFailures(t *testing.T) {
	m := seeded(1)
	ctx := context.Background()

	m.FailNext("FetchDetails", "r-000", 2)
	_, err := m.FetchDetails(ctx, "t1", "r-000")
	assert.Error(t, err)
	_, err = m.FetchDetails(ctx, "t1", "r-000")
	assert.Error(t, err)
	attrs, err := m.FetchDetails(ctx, "t1", "r-000")
	require.NoError(t, err)
	assert.Equal(t, "ebay", attrs["marketplace"])

	m.PanicOn("DeleteListing", "r-000")
	assert.Panics(t, func() { _ = m.DeleteListing(ctx, "t1", "r-000") })
	assert.True(t, m.Has("t1", "r-000"))
}

func TestMemoryClient_PublishAndDelete(t *testing.T) {
	m := NewMemoryClient("etsy")
	ctx := context.Background()

	id, err := m.PublishListing(ctx, "t1", "prod-1")
	require.NoError(t, err)
	assert.True(t, m.Has("t1", id))
	require.NoError(t, m.UpdateListing(ctx, "t1", id))

	require.NoError(t, m.DeleteListing(ctx, "t1", id))
	assert.False(t, m.Has("t1", id))
	assert.ErrorIs(t, m.UpdateListing(ctx, "t1", id), ErrItemNotFound)
}

func TestRateLimited_WaitsForTokens(t *testing.T) {
	m := seeded(1)
	limited := NewRateLimited(m, 20, 1)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := limited.FetchPage(ctx, "t1", 10, 0)
		require.NoError(t, err)
	}
	// burst of 1 at 20/s: the 2nd and 3rd calls wait ~50ms each
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.Equal(t, 3, m.Calls("FetchPage"))
}

func TestRateLimited_ContextCancelled(t *testing.T) {
	m := seeded(1)
	limited := NewRateLimited(m, 0.1, 1)

	_, err := limited.FetchPage(context.Background(), "t1", 10, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = limited.DeleteListing(ctx, "t1", "r-000")
	assert.Error(t, err)
	assert.Equal(t, 0, m.Calls("DeleteListing"))
}

func TestDirectory(t *testing.T) {
	d := NewDirectory()
	d.Register("etsy", NewMemoryClient("etsy"))
	d.Register("ebay", NewMemoryClient("ebay"))

	_, ok := d.Get("ebay")
	assert.True(t, ok)
	_, ok = d.Get("amazon")
	assert.False(t, ok)
	assert.Equal(t, []string{"ebay", "etsy"}, d.Codes())
}
