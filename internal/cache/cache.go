// Package cache keeps raw source payloads so a run can be repeated offline.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Meta describes a cached payload. It is persisted next to the payload.
type Meta struct {
	SourceID    string    `json:"source_id"`
	URL         string    `json:"url,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	RetrievedAt time.Time `json:"retrieved_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Size        int       `json:"size"`
	SHA256      string    `json:"sha256"`
}

// Entry is a payload with its metadata.
type Entry struct {
	Data []byte
	Meta Meta
}

// Expired reports whether the entry is past its TTL at now.
func (e *Entry) Expired(now time.Time) bool {
	return !e.Meta.ExpiresAt.IsZero() && now.After(e.Meta.ExpiresAt)
}

// Cache stores payload entries by key.
type Cache interface {
	Get(key string) (*Entry, bool)
	Set(key string, entry *Entry, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// Key turns a source ID into a key safe for use as a file name.
func Key(sourceID string) string {
	var b strings.Builder
	for _, r := range sourceID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	key := strings.Trim(b.String(), ".")
	if key == "" {
		return "source"
	}
	return key
}

// Checksum returns the hex SHA-256 of data.
func Checksum(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
