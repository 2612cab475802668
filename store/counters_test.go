package store

import (
	"context"
	"testing"
	"time"
)

func TestRegisterUserCountsOnce(t *testing.T) {
	_, client := newTestRedis(t)
	c := NewCounters(client)
	ctx := context.Background()

	c.RegisterUser(ctx, "fp1")
	c.RegisterUser(ctx, "fp1")
	c.RegisterUser(ctx, "fp2")

	n, err := c.AllTimeUsers(ctx)
	if err != nil {
		t.Fatalf("alltime: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 users, got %d", n)
	}
}

func TestAllTimeUsersEmpty(t *testing.T) {
	_, client := newTestRedis(t)
	c := NewCounters(client)

	n, err := c.AllTimeUsers(context.Background())
	if err != nil {
		t.Fatalf("alltime: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0, got %d", n)
	}
}

func TestMessagesPerMinute(t *testing.T) {
	mr, client := newTestRedis(t)
	c := NewCounters(client)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if err := c.IncrMessages(ctx); err != nil {
			t.Fatalf("incr: %v", err)
		}
	}

	n, err := c.MessagesPerMinute(ctx)
	if err != nil {
		t.Fatalf("mpm: %v", err)
	}
	if n != 4 {
		t.Errorf("expected 4, got %d", n)
	}

	// the window resets on every increment
	mr.FastForward(30 * time.Second)
	c.IncrMessages(ctx)
	mr.FastForward(45 * time.Second)

	n, _ = c.MessagesPerMinute(ctx)
	if n != 5 {
		t.Errorf("refreshed window should survive, got %d", n)
	}

	mr.FastForward(mpmWindow + time.Second)
	n, _ = c.MessagesPerMinute(ctx)
	if n != 0 {
		t.Errorf("expected 0 after the window, got %d", n)
	}
}
