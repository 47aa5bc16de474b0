package resolver

import (
	"sync"
	"time"
)

type cacheEntry struct {
	answer    *Answer
	expiresAt time.Time
}

// cache holds resolved answers keyed by domain and record type.
type cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

func newCache(ttl time.Duration, now func() time.Time) *cache {
	return &cache{entries: make(map[string]cacheEntry), ttl: ttl, now: now}
}

func cacheKey(domain, recordType string) string {
	return domain + "|" + recordType
}

func (c *cache) get(domain, recordType string) (*Answer, bool) {
	c.mu.RLock()
	e, ok := c.entries[cacheKey(domain, recordType)]
	c.mu.RUnlock()
	if !ok || !c.now().Before(e.expiresAt) {
		return nil, false
	}
	a := e.answer.clone()
	a.FromCache = true
	return a, true
}

func (c *cache) put(a *Answer) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	// Drop expired entries while holding the lock.
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.entries[cacheKey(a.Domain, a.Type)] = cacheEntry{answer: a.clone(), expiresAt: now.Add(c.ttl)}
}
