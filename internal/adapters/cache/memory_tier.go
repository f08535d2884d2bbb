package cache

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"gitlab.com/timkado/api/storefront-edge/internal/adapters/metrics"
	"gitlab.com/timkado/api/storefront-edge/internal/domain"
	"gitlab.com/timkado/api/storefront-edge/pkg/safego"
)

const memoryTierName = "memory"

// MemoryTier is the fastest cache tier: a bounded, mutex-guarded map.
// When full it evicts the oldest tenth of its entries by write time.
type MemoryTier struct {
	mu      sync.RWMutex
	entries map[string]domain.CacheEntry
	maxSize int
	now     func() time.Time

	evictions atomic.Uint64
}

// NewMemoryTier creates a tier holding at most maxSize entries.
func NewMemoryTier(maxSize int) *MemoryTier {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &MemoryTier{
		entries: make(map[string]domain.CacheEntry),
		maxSize: maxSize,
		now:     time.Now,
	}
}

func (m *MemoryTier) Name() string { return memoryTierName }

func (m *MemoryTier) Get(_ context.Context, key string) (*domain.CacheEntry, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	cp := cloneEntry(entry)
	return &cp, nil
}

func (m *MemoryTier) Set(_ context.Context, key string, entry domain.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[key]; !exists && len(m.entries) >= m.maxSize {
		m.evictOldestLocked()
	}
	m.entries[key] = cloneEntry(entry)
	return nil
}

func (m *MemoryTier) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryTier) Clear(_ context.Context) error {
	m.mu.Lock()
	m.entries = make(map[string]domain.CacheEntry)
	m.mu.Unlock()
	return nil
}

// InvalidateByTags drops every entry carrying one of tags. It is a linear scan.
func (m *MemoryTier) InvalidateByTags(_ context.Context, tags []string) (int, error) {
	if len(tags) == 0 {
		return 0, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, e := range m.entries {
		if e.HasAnyTag(tags) {
			delete(m.entries, k)
			removed++
		}
	}
	return removed, nil
}

// Evictions returns how many entries were dropped to make room.
func (m *MemoryTier) Evictions() uint64 { return m.evictions.Load() }

// Len returns the number of stored entries, expired ones included.
func (m *MemoryTier) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// SweepExpired removes entries that are past their lifetime at now.
func (m *MemoryTier) SweepExpired(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, e := range m.entries {
		if e.Expired(now) {
			delete(m.entries, k)
			removed++
		}
	}
	return removed
}

// StartJanitor sweeps expired entries every interval until ctx is done.
func (m *MemoryTier) StartJanitor(ctx context.Context, logger domain.Logger, interval time.Duration) {
	safego.Every(ctx, logger, "MemoryTierJanitor", interval, func() {
		if n := m.SweepExpired(m.now()); n > 0 {
			logger.Debug(ctx, "Swept expired memory cache entries", "removed", n)
		}
	})
}

// evictOldestLocked drops the oldest 10% of entries, at least one.
func (m *MemoryTier) evictOldestLocked() {
	type aged struct {
		key string
		ts  int64
	}
	all := make([]aged, 0, len(m.entries))
	for k, e := range m.entries {
		all = append(all, aged{k, e.Timestamp})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ts < all[j].ts })

	n := max(1, len(all)/10)
	for _, a := range all[:n] {
		delete(m.entries, a.key)
		metrics.IncrementCacheOperation(memoryTierName, "eviction")
	}
	m.evictions.Add(uint64(n))
}

func cloneEntry(e domain.CacheEntry) domain.CacheEntry {
	out := e
	out.Data = append([]byte(nil), e.Data...)
	out.Tags = append([]string(nil), e.Tags...)
	return out
}
