package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	payloadExt = ".payload"
	metaExt    = ".meta.json"
)

// DiskCache persists payloads as <dir>/<key>.payload with a <key>.meta.json sidecar.
// Expired entries are kept on disk so offline runs can still read them.
type DiskCache struct {
	dir string
	ttl time.Duration
	now func() time.Time
}

// NewDiskCache creates a disk cache rooted at dir.
func NewDiskCache(dir string, ttl time.Duration) *DiskCache {
	return &DiskCache{
		dir: dir,
		ttl: ttl,
		now: time.Now,
	}
}

// Dir returns the cache directory.
func (c *DiskCache) Dir() string {
	return c.dir
}

// Get returns a fresh entry.
func (c *DiskCache) Get(key string) (*Entry, bool) {
	entry, ok := c.GetStale(key)
	if !ok || entry.Expired(c.now()) {
		return nil, false
	}
	return entry, true
}

// GetStale returns an entry regardless of its TTL. Entries whose payload does
// not match the recorded checksum are treated as missing.
func (c *DiskCache) GetStale(key string) (*Entry, bool) {
	metaData, err := os.ReadFile(c.metaPath(key))
	if err != nil {
		return nil, false
	}

	var meta Meta
	if err := json.Unmarshal(metaData, &meta); err != nil {
		return nil, false
	}

	data, err := os.ReadFile(c.payloadPath(key))
	if err != nil {
		return nil, false
	}
	if meta.SHA256 != "" && meta.SHA256 != Checksum(data) {
		return nil, false
	}

	return &Entry{Data: data, Meta: meta}, true
}

// Set writes the payload and its sidecar. A zero ttl uses the cache default.
func (c *DiskCache) Set(key string, entry *Entry, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.ttl
	}

	meta := entry.Meta
	meta.Size = len(entry.Data)
	meta.SHA256 = Checksum(entry.Data)
	if ttl > 0 {
		meta.ExpiresAt = c.now().Add(ttl).UTC()
	}

	metaData, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}

	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	if err := writeFileAtomic(c.payloadPath(key), entry.Data); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	if err := writeFileAtomic(c.metaPath(key), metaData); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}

	entry.Meta = meta
	return nil
}

// Delete removes an entry.
func (c *DiskCache) Delete(key string) error {
	for _, path := range []string{c.payloadPath(key), c.metaPath(key)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Clear removes every cached payload in the directory.
func (c *DiskCache) Clear() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, payloadExt) || strings.HasSuffix(name, metaExt) {
			if err := os.Remove(filepath.Join(c.dir, name)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *DiskCache) payloadPath(key string) string {
	return filepath.Join(c.dir, key+payloadExt)
}

func (c *DiskCache) metaPath(key string) string {
	return filepath.Join(c.dir, key+metaExt)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
