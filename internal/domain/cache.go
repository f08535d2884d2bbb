package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrCacheMiss is returned by a tier or store when the key is absent or expired.
var ErrCacheMiss = errors.New("cache: key not found")

// CacheEntry is the unit stored in every tier. Timestamp and TTLMs are in
// milliseconds so entries written by one tier can be read back by another.
type CacheEntry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	TTLMs     int64           `json:"ttl"`
	Tags      []string        `json:"tags,omitempty"`
}

// NewCacheEntry stamps data with now and ttl.
func NewCacheEntry(data json.RawMessage, ttl time.Duration, tags []string, now time.Time) CacheEntry {
	return CacheEntry{
		Data:      data,
		Timestamp: now.UnixMilli(),
		TTLMs:     ttl.Milliseconds(),
		Tags:      append([]string(nil), tags...),
	}
}

// ExpiresAt is the absolute expiry instant.
func (e CacheEntry) ExpiresAt() time.Time {
	return time.UnixMilli(e.Timestamp + e.TTLMs)
}

// Expired reports whether the entry is past its lifetime at now.
func (e CacheEntry) Expired(now time.Time) bool {
	return now.UnixMilli() > e.Timestamp+e.TTLMs
}

// Remaining is the lifetime left at now, never negative.
func (e CacheEntry) Remaining(now time.Time) time.Duration {
	left := time.Duration(e.Timestamp+e.TTLMs-now.UnixMilli()) * time.Millisecond
	if left < 0 {
		return 0
	}
	return left
}

// HasAnyTag reports whether the entry carries at least one of tags.
func (e CacheEntry) HasAnyTag(tags []string) bool {
	for _, have := range e.Tags {
		for _, want := range tags {
			if have == want {
				return true
			}
		}
	}
	return false
}

// CacheTier is one storage level of the multi-tier cache. Keys arrive already namespaced.
type CacheTier interface {
	Name() string
	// Get returns ErrCacheMiss when the key is absent. Expiry is judged by the caller.
	Get(ctx context.Context, key string) (*CacheEntry, error)
	Set(ctx context.Context, key string, entry CacheEntry) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// EvictionCounter is implemented by bounded tiers that drop entries when full.
type EvictionCounter interface {
	Evictions() uint64
}

// TagInvalidator is implemented by tiers that can drop entries by tag.
type TagInvalidator interface {
	InvalidateByTags(ctx context.Context, tags []string) (int, error)
}

// CacheStats is a per-tier snapshot of counters.
type CacheStats struct {
	Tier      string `json:"tier"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Sets      uint64 `json:"sets"`
	Deletes   uint64 `json:"deletes"`
	Evictions uint64 `json:"evictions"`
	Errors    uint64 `json:"errors"`
}

// KeyValueStore is the durable slot that holds the client session.
type KeyValueStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetMany(ctx context.Context, values map[string][]byte) error
	Delete(ctx context.Context, keys ...string) error
}
