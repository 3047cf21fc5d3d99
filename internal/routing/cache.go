package routing

import (
	"context"
	"sync"
	"time"
)

const defaultCacheEntries = 10000

type cacheEntry struct {
	pref    *Preference
	expires time.Time
}

// CachedPreferences decorates a PreferenceStore with a bounded TTL cache.
// Only hits are cached, so a newly provisioned contact is visible at once.
type CachedPreferences struct {
	inner      PreferenceStore
	ttl        time.Duration
	maxEntries int
	observe    func(hit bool)
	now        func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// NewCachedPreferences wraps inner. observe may be nil.
func NewCachedPreferences(inner PreferenceStore, ttl time.Duration, observe func(hit bool)) *CachedPreferences {
	return &CachedPreferences{
		inner:      inner,
		ttl:        ttl,
		maxEntries: defaultCacheEntries,
		observe:    observe,
		now:        time.Now,
		entries:    make(map[string]cacheEntry),
	}
}

// Resolve returns a cached copy when fresh, otherwise reads through.
func (c *CachedPreferences) Resolve(ctx context.Context, contactID string) (*Preference, bool, error) {
	now := c.now()

	c.mu.RLock()
	e, ok := c.entries[contactID]
	c.mu.RUnlock()

	if ok && now.Before(e.expires) {
		c.hit(true)
		return e.pref.Clone(), true, nil
	}
	c.hit(false)

	p, found, err := c.inner.Resolve(ctx, contactID)
	if err != nil || !found {
		return p, found, err
	}

	c.mu.Lock()
	if len(c.entries) >= c.maxEntries {
		c.evictLocked(now)
	}
	c.entries[contactID] = cacheEntry{pref: p.Clone(), expires: now.Add(c.ttl)}
	c.mu.Unlock()

	return p, true, nil
}

// Invalidate drops a contact from the cache.
func (c *CachedPreferences) Invalidate(contactID string) {
	c.mu.Lock()
	delete(c.entries, contactID)
	c.mu.Unlock()
}

func (c *CachedPreferences) evictLocked(now time.Time) {
	for id, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, id)
		}
	}
	if len(c.entries) >= c.maxEntries {
		c.entries = make(map[string]cacheEntry)
	}
}

func (c *CachedPreferences) hit(hit bool) {
	if c.observe != nil {
		c.observe(hit)
	}
}
