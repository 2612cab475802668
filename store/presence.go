package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"pangea.chat/server"
)

const (
	presencePrefix = keyPrefix + "presence:"
	onlinePrefix   = keyPrefix + "online:"

	// PresenceTTL reclaims records of crashed instances: the owner must
	// refresh every heartbeat or the record silently disappears
	PresenceTTL = 30 * time.Second

	// OnlineTTL expires an instance's connection count. Summing live
	// records avoids distributed decrement-on-disconnect, at the cost
	// of up to one heartbeat of staleness.
	OnlineTTL = 60 * time.Second

	scanPageSize = 100
)

// Presence is the Redis backed server.PresenceStore
type Presence struct {
	client *redis.Client
}

func NewPresence(client *redis.Client) *Presence {
	return &Presence{client: client}
}

func (p *Presence) Upsert(ctx context.Context, rec *server.PresenceRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := p.client.Set(ctx, presencePrefix+rec.ID, b, PresenceTTL).Err(); err != nil {
		return fmt.Errorf("presence upsert: %w", err)
	}
	return nil
}

func (p *Presence) Refresh(ctx context.Context, id string) error {
	if err := p.client.Expire(ctx, presencePrefix+id, PresenceTTL).Err(); err != nil {
		return fmt.Errorf("presence refresh: %w", err)
	}
	return nil
}

func (p *Presence) Remove(ctx context.Context, id string) error {
	if err := p.client.Del(ctx, presencePrefix+id).Err(); err != nil {
		return fmt.Errorf("presence remove: %w", err)
	}
	return nil
}

// ListAll scans in pages, so records appearing or expiring mid-scan may
// be observed or missed. Callers treat the result as eventually
// consistent, never transactional.
func (p *Presence) ListAll(ctx context.Context) ([]*server.PresenceRecord, error) {
	keys, err := p.scan(ctx, presencePrefix+"*")
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	vals, err := p.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("presence list: %w", err)
	}

	records := make([]*server.PresenceRecord, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// expired between scan and fetch
			continue
		}
		var rec server.PresenceRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		records = append(records, &rec)
	}

	return records, nil
}

func (p *Presence) SetInstanceOnline(ctx context.Context, instance string, n int) error {
	if err := p.client.Set(ctx, onlinePrefix+instance, n, OnlineTTL).Err(); err != nil {
		return fmt.Errorf("online count: %w", err)
	}
	return nil
}

// TotalOnline sums the unexpired per-instance counts
func (p *Presence) TotalOnline(ctx context.Context) (int64, error) {
	keys, err := p.scan(ctx, onlinePrefix+"*")
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	vals, err := p.client.MGet(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("online total: %w", err)
	}

	var total int64
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		total += n
	}

	return total, nil
}

func (p *Presence) scan(ctx context.Context, match string) ([]string, error) {
	var keys []string
	var cursor uint64

	for {
		page, next, err := p.client.Scan(ctx, cursor, match, scanPageSize).Result()
		if err != nil {
			return nil, fmt.Errorf("presence scan: %w", err)
		}
		keys = append(keys, page...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}
