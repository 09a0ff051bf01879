package notify

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupNotifier(t *testing.T) (*RedisNotifier, func()) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	n, err := NewRedisNotifier(context.Background(), addr, os.Getenv("REDIS_PASSWORD"), "test:"+uuid.NewString())
	require.NoError(t, err)
	return n, func() { n.Close() }
}

func TestRedisNotifier_RoundTrip(t *testing.T) {
	n, cleanup := setupNotifier(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- n.Listen(ctx, func(tenantID string) {
			select {
			case got <- tenantID:
			default:
			}
		})
	}()

	// publish until the subscriber is attached
	deadline := time.After(5 * time.Second)
	for {
		n.NotifyTenant("t1")
		select {
		case tenant := <-got:
			assert.Equal(t, "t1", tenant)
			cancel()
			assert.NoError(t, <-done)
			return
		case <-deadline:
			t.Fatal("wake-up was not delivered")
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestNewRedisNotifier_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewRedisNotifier(ctx, "127.0.0.1:1", "", "test")
	assert.Error(t, err)
}
