package cache

import "time"

// LayeredCache checks memory first, then disk.
type LayeredCache struct {
	memory *MemoryCache
	disk   *DiskCache
}

// NewLayeredCache creates a memory + disk cache.
func NewLayeredCache(memoryTTL time.Duration, diskDir string, diskTTL time.Duration) *LayeredCache {
	return &LayeredCache{
		memory: NewMemoryCache(memoryTTL, 10*time.Minute),
		disk:   NewDiskCache(diskDir, diskTTL),
	}
}

// Get returns a fresh entry, promoting disk hits into memory.
func (c *LayeredCache) Get(key string) (*Entry, bool) {
	if entry, found := c.memory.Get(key); found {
		return entry, true
	}

	if entry, found := c.disk.Get(key); found {
		_ = c.memory.Set(key, entry, 0)
		return entry, true
	}

	return nil, false
}

// GetStale returns any entry on disk, fresh or not. Used by offline runs.
func (c *LayeredCache) GetStale(key string) (*Entry, bool) {
	if entry, found := c.memory.Get(key); found {
		return entry, true
	}
	return c.disk.GetStale(key)
}

// Set stores an entry in both layers. The disk write is what makes the payload
// survive the run, so its error is returned.
func (c *LayeredCache) Set(key string, entry *Entry, ttl time.Duration) error {
	_ = c.memory.Set(key, entry, ttl)
	return c.disk.Set(key, entry, ttl)
}

// Delete removes an entry from both layers.
func (c *LayeredCache) Delete(key string) error {
	_ = c.memory.Delete(key)
	return c.disk.Delete(key)
}

// Clear removes every entry from both layers.
func (c *LayeredCache) Clear() error {
	_ = c.memory.Clear()
	return c.disk.Clear()
}
