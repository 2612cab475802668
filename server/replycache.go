package server

import (
	"sync"
	"time"
)

// ReplyTTL bounds how long a message can be quoted in a reply
const ReplyTTL = 35 * time.Second

// CachedMessage is the minimum kept to resolve a reply reference
type CachedMessage struct {
	ID      string
	Text    string
	Lat     float64
	Lng     float64
	Created time.Time
}

// ReplyCache is an instance local store of recent messages. Replies to
// messages cached on another instance simply lose their quoted context.
type ReplyCache struct {
	mtx     sync.RWMutex
	ttl     time.Duration
	entries map[string]*CachedMessage
}

func NewReplyCache(ttl time.Duration) *ReplyCache {
	return &ReplyCache{
		ttl:     ttl,
		entries: make(map[string]*CachedMessage),
	}
}

func (c *ReplyCache) Put(m *CachedMessage) {
	c.mtx.Lock()
	c.entries[m.ID] = m
	c.mtx.Unlock()
}

func (c *ReplyCache) Get(id string) (*CachedMessage, bool) {
	c.mtx.RLock()
	m, ok := c.entries[id]
	c.mtx.RUnlock()

	if !ok || time.Since(m.Created) > c.ttl {
		return nil, false
	}
	return m, true
}

// Sweep removes expired entries, called from the engine heartbeat
func (c *ReplyCache) Sweep() {
	now := time.Now()

	c.mtx.Lock()
	for id, m := range c.entries {
		if now.Sub(m.Created) > c.ttl {
			delete(c.entries, id)
		}
	}
	c.mtx.Unlock()
}
