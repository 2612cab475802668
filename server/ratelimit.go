package server

import (
	"sync"
	"time"
)

const (
	// RateWindow is the sliding window for per-identity action counting
	RateWindow = 60 * time.Second

	// RateLimit is the maximum accepted actions per class per window
	RateLimit = 120
)

// ActionClass separates the budgets for messages and typing signals
type ActionClass int

const (
	ClassMessage ActionClass = iota
	ClassTyping
)

type rateKey struct {
	id    string
	class ActionClass
}

// RateLimiter keeps per identity sliding window counters. Memory is
// bounded by connected identities: Forget must be called on close.
type RateLimiter struct {
	mtx     sync.Mutex
	window  time.Duration
	limit   int
	now     func() time.Time
	buckets map[rateKey][]time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		window:  RateWindow,
		limit:   RateLimit,
		now:     time.Now,
		buckets: make(map[rateKey][]time.Time),
	}
}

// Allow records and accepts an action unless the identity already hit
// the ceiling within the window. Denied actions are not recorded.
func (l *RateLimiter) Allow(id string, class ActionClass) bool {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	key := rateKey{id: id, class: class}

	kept := l.buckets[key][:0]
	for _, ts := range l.buckets[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= l.limit {
		l.buckets[key] = kept
		return false
	}

	l.buckets[key] = append(kept, now)
	return true
}

// Forget drops all counters for an identity
func (l *RateLimiter) Forget(id string) {
	l.mtx.Lock()
	delete(l.buckets, rateKey{id: id, class: ClassMessage})
	delete(l.buckets, rateKey{id: id, class: ClassTyping})
	l.mtx.Unlock()
}
