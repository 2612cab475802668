package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"pangea.chat/server"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func record(id, instance string) *server.PresenceRecord {
	return &server.PresenceRecord{
		ID:          id,
		Fingerprint: "fp-" + id,
		Lat:         51.5,
		Lng:         -0.12,
		City:        "London",
		Country:     "GB",
		Instance:    instance,
	}
}

func TestPresenceUpsertListRemove(t *testing.T) {
	_, client := newTestRedis(t)
	p := NewPresence(client)
	ctx := context.Background()

	if err := p.Upsert(ctx, record("c1", "i1")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := p.Upsert(ctx, record("c2", "i2")); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	records, err := p.ListAll(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	// overwrite, not duplicate
	if err := p.Upsert(ctx, record("c1", "i1")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	records, _ = p.ListAll(ctx)
	if len(records) != 2 {
		t.Fatalf("upsert duplicated a record: %d", len(records))
	}

	if err := p.Remove(ctx, "c1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	records, _ = p.ListAll(ctx)
	if len(records) != 1 || records[0].ID != "c2" {
		t.Errorf("unexpected records after remove: %+v", records)
	}
}

func TestPresenceExpiresWithoutRefresh(t *testing.T) {
	mr, client := newTestRedis(t)
	p := NewPresence(client)
	ctx := context.Background()

	p.Upsert(ctx, record("c1", "i1"))

	mr.FastForward(PresenceTTL + time.Second)

	records, err := p.ListAll(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected expiry, got %d records", len(records))
	}
}

func TestPresenceRefreshKeepsAlive(t *testing.T) {
	mr, client := newTestRedis(t)
	p := NewPresence(client)
	ctx := context.Background()

	p.Upsert(ctx, record("c1", "i1"))

	mr.FastForward(20 * time.Second)
	if err := p.Refresh(ctx, "c1"); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	mr.FastForward(20 * time.Second)

	records, _ := p.ListAll(ctx)
	if len(records) != 1 {
		t.Errorf("refreshed record should still be live, got %d", len(records))
	}
}

func TestTotalOnline(t *testing.T) {
	mr, client := newTestRedis(t)
	p := NewPresence(client)
	ctx := context.Background()

	p.SetInstanceOnline(ctx, "i1", 2)
	p.SetInstanceOnline(ctx, "i2", 3)

	total, err := p.TotalOnline(ctx)
	if err != nil {
		t.Fatalf("total: %v", err)
	}
	if total != 5 {
		t.Errorf("expected 5, got %d", total)
	}

	// overwrite with own data, no distributed decrement
	p.SetInstanceOnline(ctx, "i1", 0)
	total, _ = p.TotalOnline(ctx)
	if total != 3 {
		t.Errorf("expected 3, got %d", total)
	}

	mr.FastForward(OnlineTTL + time.Second)
	total, _ = p.TotalOnline(ctx)
	if total != 0 {
		t.Errorf("expected 0 after expiry, got %d", total)
	}
}
