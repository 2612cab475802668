// Package store implements the shared cross-instance state on Redis:
// self-expiring presence records, per-instance online counts, activity
// counters, the city leaderboard and the fan-out bus. Every mutating
// operation is either a pure increment or an overwrite keyed by an id
// this instance owns, so instances never conflict on writes.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pangea.chat/config"
)

const keyPrefix = "pangea:"

// NewClient connects to Redis and verifies the connection
func NewClient(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("store: failed to connect: %w", err)
	}

	return client, nil
}
