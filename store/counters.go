package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	seenKey    = keyPrefix + "users:seen"
	allTimeKey = keyPrefix + "users:alltime"
	mpmKey     = keyPrefix + "stats:mpm"

	// mpmWindow is reset on every increment: a TTL based sliding
	// window approximation, intentionally not an exact window
	mpmWindow = 60 * time.Second
)

// Counters is the Redis backed server.StatsStore
type Counters struct {
	client *redis.Client
}

func NewCounters(client *redis.Client) *Counters {
	return &Counters{client: client}
}

// RegisterUser counts a fingerprint once. At-least-once semantics: a
// fingerprint colliding after truncation double counts, which is fine
// for an approximate metric.
func (c *Counters) RegisterUser(ctx context.Context, fingerprint string) error {
	added, err := c.client.SAdd(ctx, seenKey, fingerprint).Result()
	if err != nil {
		return fmt.Errorf("register user: %w", err)
	}
	if added == 0 {
		return nil
	}
	if err := c.client.Incr(ctx, allTimeKey).Err(); err != nil {
		return fmt.Errorf("register user: %w", err)
	}
	return nil
}

func (c *Counters) AllTimeUsers(ctx context.Context) (int64, error) {
	n, err := c.client.Get(ctx, allTimeKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("alltime users: %w", err)
	}
	return n, nil
}

func (c *Counters) IncrMessages(ctx context.Context) error {
	if err := c.client.Incr(ctx, mpmKey).Err(); err != nil {
		return fmt.Errorf("message counter: %w", err)
	}
	if err := c.client.Expire(ctx, mpmKey, mpmWindow).Err(); err != nil {
		return fmt.Errorf("message counter: %w", err)
	}
	return nil
}

func (c *Counters) MessagesPerMinute(ctx context.Context) (int64, error) {
	n, err := c.client.Get(ctx, mpmKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("messages per minute: %w", err)
	}
	return n, nil
}
