// Package notify carries "work available" wake-ups for tenants between
// processes sharing one database. A wake-up is only a hint: workers still
// poll, so a lost message delays work but never loses it.
package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	r "github.com/redis/go-redis/v9"
)

const publishTimeout = 2 * time.Second

// RedisNotifier publishes tenant wake-ups on a Redis pub/sub channel.
type RedisNotifier struct {
	rdb     *r.Client
	channel string
}

// NewRedisNotifier connects to Redis and checks the connection.
func NewRedisNotifier(ctx context.Context, addr, password, channel string) (*RedisNotifier, error) {
	rdb := r.NewClient(&r.Options{Addr: addr, Password: password})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	return &RedisNotifier{rdb: rdb, channel: channel}, nil
}

// NotifyTenant publishes a wake-up for the tenant. Failures are logged.
func (n *RedisNotifier) NotifyTenant(tenantID string) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := n.rdb.Publish(ctx, n.channel, tenantID).Err(); err != nil {
		log.Printf("[NOTIFY] Failed to publish wake-up for tenant %s: %v", tenantID, err)
	}
}

// Listen calls handle with the tenant id of every wake-up until ctx is done.
func (n *RedisNotifier) Listen(ctx context.Context, handle func(tenantID string)) error {
	sub := n.rdb.Subscribe(ctx, n.channel)
	defer sub.Close()

	// wait for the subscription to be confirmed
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to %s: %w", n.channel, err)
	}
	log.Printf("[NOTIFY] Listening for tenant wake-ups on %s", n.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if msg.Payload != "" {
				handle(msg.Payload)
			}
		}
	}
}

func (n *RedisNotifier) Close() error {
	return n.rdb.Close()
}
