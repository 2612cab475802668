package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Bus is the Redis pub/sub backed server.FanoutBus. Delivery is at
// most once: a subscriber that is down when a payload is published
// never sees it, and there is no replay.
type Bus struct {
	client *redis.Client
}

func NewBus(client *redis.Client) *Bus {
	return &Bus{client: client}
}

func (b *Bus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, keyPrefix+channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe delivers payloads on a channel to handler in publish order
// per publisher. The handler runs on a dedicated goroutine that lives
// until ctx ends.
func (b *Bus) Subscribe(ctx context.Context, channel string, handler func(payload []byte)) error {
	sub := b.client.Subscribe(ctx, keyPrefix+channel)

	// confirm the subscription before returning
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}

	ch := sub.Channel()

	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler([]byte(msg.Payload))
			}
		}
	}()

	return nil
}
