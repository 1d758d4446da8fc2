package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache holds payloads in process memory for the length of a run.
type MemoryCache struct {
	cache *gocache.Cache
}

// NewMemoryCache creates a memory cache.
func NewMemoryCache(defaultTTL time.Duration, cleanupInterval time.Duration) *MemoryCache {
	return &MemoryCache{
		cache: gocache.New(defaultTTL, cleanupInterval),
	}
}

// Get retrieves an entry.
func (c *MemoryCache) Get(key string) (*Entry, bool) {
	if val, found := c.cache.Get(key); found {
		return val.(*Entry), true
	}
	return nil, false
}

// Set stores an entry. A zero ttl uses the cache default.
func (c *MemoryCache) Set(key string, entry *Entry, ttl time.Duration) error {
	if ttl == 0 {
		ttl = gocache.DefaultExpiration
	}
	c.cache.Set(key, entry, ttl)
	return nil
}

// Delete removes an entry.
func (c *MemoryCache) Delete(key string) error {
	c.cache.Delete(key)
	return nil
}

// Clear removes every entry.
func (c *MemoryCache) Clear() error {
	c.cache.Flush()
	return nil
}
