package server

import (
	"testing"
	"time"
)

func newTestLimiter() (*RateLimiter, *time.Time) {
	now := time.Now()
	l := NewRateLimiter()
	l.now = func() time.Time { return now }
	return l, &now
}

func TestRateLimitCeiling(t *testing.T) {
	l, _ := newTestLimiter()

	for i := 0; i < RateLimit; i++ {
		if !l.Allow("a", ClassMessage) {
			t.Fatalf("action %d should be allowed", i+1)
		}
	}

	if l.Allow("a", ClassMessage) {
		t.Errorf("action %d should be denied", RateLimit+1)
	}
}

func TestRateLimitWindowSlides(t *testing.T) {
	l, now := newTestLimiter()

	for i := 0; i < RateLimit; i++ {
		l.Allow("a", ClassMessage)
	}
	if l.Allow("a", ClassMessage) {
		t.Fatal("ceiling should be hit")
	}

	// denied attempts are not recorded, so once the window passes the
	// full budget is back
	*now = now.Add(RateWindow + time.Second)
	if !l.Allow("a", ClassMessage) {
		t.Error("budget should reset after the window")
	}
}

func TestRateLimitClassesIndependent(t *testing.T) {
	l, _ := newTestLimiter()

	for i := 0; i < RateLimit; i++ {
		l.Allow("a", ClassMessage)
	}

	if !l.Allow("a", ClassTyping) {
		t.Error("typing budget should be untouched by messages")
	}
}

func TestRateLimitIdentitiesIndependent(t *testing.T) {
	l, _ := newTestLimiter()

	for i := 0; i < RateLimit; i++ {
		l.Allow("a", ClassMessage)
	}

	if !l.Allow("b", ClassMessage) {
		t.Error("identities must not share budgets")
	}
}

func TestRateLimitForget(t *testing.T) {
	l, _ := newTestLimiter()

	for i := 0; i < RateLimit; i++ {
		l.Allow("a", ClassMessage)
	}
	l.Allow("a", ClassTyping)

	l.Forget("a")

	if len(l.buckets) != 0 {
		t.Errorf("expected empty buckets, got %d", len(l.buckets))
	}
	if !l.Allow("a", ClassMessage) {
		t.Error("forgotten identity should have a fresh budget")
	}
}
