package entrypoint

import (
	"testing"
	"time"

	"github.com/mrlokans/marketsync/internal/config"
	"github.com/mrlokans/marketsync/internal/marketplace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	tenants []string
}

func (r *recordingNotifier) NotifyTenant(tenantID string) {
	r.tenants = append(r.tenants, tenantID)
}

func TestNewMarketplaces(t *testing.T) {
	dir := NewMarketplaces(config.Marketplace{Codes: []string{"ebay", "etsy"}, RateLimit: 5, Burst: 2})
	assert.ElementsMatch(t, []string{"ebay", "etsy"}, dir.Codes())

	client, ok := dir.Get("ebay")
	require.True(t, ok)
	assert.IsType(t, &marketplace.RateLimited{}, client)

	dir = NewMarketplaces(config.Marketplace{Codes: []string{"ebay"}})
	client, ok = dir.Get("ebay")
	require.True(t, ok)
	assert.IsType(t, &marketplace.MemoryClient{}, client)
}

func TestConfigMapping(t *testing.T) {
	pc := PipelineConfig(config.Sync{PageSize: 50, FetchFanOut: 7, StepBackoff: time.Second, LeaseDuration: time.Minute})
	assert.Equal(t, 50, pc.PageSize)
	assert.Equal(t, time.Minute, pc.LeaseDuration)
	assert.Equal(t, 7, pc.FetchFanOut)
	assert.Equal(t, time.Second, pc.StepBackoff)

	wc := WorkerConfig(config.Workers{TenantConcurrency: 3, IdleTimeout: time.Minute})
	assert.Equal(t, 3, wc.Concurrency)
	assert.Equal(t, time.Minute, wc.IdleTimeout)
}

func TestWakeups(t *testing.T) {
	w := &wakeups{}
	w.NotifyTenant("nobody listening")

	a, b := &recordingNotifier{}, &recordingNotifier{}
	w.add(a)
	w.add(b)
	w.NotifyTenant("t1")

	assert.Equal(t, []string{"t1"}, a.tenants)
	assert.Equal(t, []string{"t1"}, b.tenants)
}
