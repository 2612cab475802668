package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"pangea.chat/server"
)

const leaderboardKey = keyPrefix + "leaderboard"

// Leaderboard is the Redis backed server.LeaderboardStore: a single
// sorted set keyed by "city|country", only ever incremented
type Leaderboard struct {
	client *redis.Client
}

func NewLeaderboard(client *redis.Client) *Leaderboard {
	return &Leaderboard{client: client}
}

func (l *Leaderboard) Increment(ctx context.Context, city, country string) error {
	member := city + "|" + country
	if err := l.client.ZIncrBy(ctx, leaderboardKey, 1, member).Err(); err != nil {
		return fmt.Errorf("leaderboard increment: %w", err)
	}
	return nil
}

func (l *Leaderboard) TopK(ctx context.Context, k int) ([]server.LeaderboardEntry, error) {
	if k <= 0 {
		return nil, nil
	}

	zs, err := l.client.ZRevRangeWithScores(ctx, leaderboardKey, 0, int64(k-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("leaderboard top: %w", err)
	}

	entries := make([]server.LeaderboardEntry, 0, len(zs))
	for _, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		city, country, _ := strings.Cut(member, "|")
		entries = append(entries, server.LeaderboardEntry{
			City:    city,
			Country: country,
			Count:   int64(z.Score),
		})
	}

	return entries, nil
}
