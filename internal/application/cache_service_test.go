package application

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/storefront-edge/internal/adapters/cache"
	"gitlab.com/timkado/api/storefront-edge/internal/domain"
)

type product struct {
	ID    string  `json:"id"`
	Price float64 `json:"price"`
}

func newTwoTierCache(t *testing.T) (*CacheService, *cache.MemoryTier, *cache.DiskTier) {
	t.Helper()
	mem := cache.NewMemoryTier(100)
	disk, err := cache.NewDiskTier(afero.NewMemMapFs(), "/cache")
	require.NoError(t, err)
	svc := NewCacheService(nopLogger{}, CacheOptions{KeyPrefix: "ecommerce:", DefaultTTL: time.Minute}, mem, disk)
	return svc, mem, disk
}

func TestCacheServiceTTLBoundary(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTwoTierCache(t)
	start := time.UnixMilli(1_700_000_000_000)
	svc.now = func() time.Time { return start }

	require.NoError(t, svc.Set(ctx, "p1", product{ID: "p1", Price: 9.5}, time.Second))

	svc.now = func() time.Time { return start.Add(999 * time.Millisecond) }
	got, ok := CacheGet[product](ctx, svc, "p1")
	require.True(t, ok)
	assert.Equal(t, 9.5, got.Price)

	svc.now = func() time.Time { return start.Add(1000 * time.Millisecond) }
	_, ok = svc.Get(ctx, "p1")
	assert.True(t, ok, "an entry is still live at exactly timestamp+ttl")

	svc.now = func() time.Time { return start.Add(1001 * time.Millisecond) }
	_, ok = svc.Get(ctx, "p1")
	assert.False(t, ok)
	assert.False(t, svc.Exists(ctx, "p1"))
}

func TestCacheServicePromotesHitsToFasterTiers(t *testing.T) {
	ctx := context.Background()
	svc, mem, disk := newTwoTierCache(t)
	now := time.Now()
	svc.now = func() time.Time { return now }

	written := domain.NewCacheEntry(json.RawMessage(`{"id":"p9","price":1}`), time.Minute, []string{"products"}, now.Add(-20*time.Second))
	require.NoError(t, disk.Set(ctx, "ecommerce:p9", written))

	_, ok := svc.Get(ctx, "p9")
	require.True(t, ok)
	memStats, _ := svc.TierStats("memory")
	diskStats, _ := svc.TierStats("disk")
	assert.EqualValues(t, 0, memStats.Hits)
	assert.EqualValues(t, 1, memStats.Misses)
	assert.EqualValues(t, 1, diskStats.Hits)

	promoted, err := mem.Get(ctx, "ecommerce:p9")
	require.NoError(t, err)
	assert.Equal(t, 40*time.Second, promoted.Remaining(now), "backfill carries the remaining lifetime")
	assert.Equal(t, []string{"products"}, promoted.Tags)

	_, ok = svc.Get(ctx, "p9")
	require.True(t, ok)
	memStats, _ = svc.TierStats("memory")
	diskStats, _ = svc.TierStats("disk")
	assert.EqualValues(t, 1, memStats.Hits)
	assert.EqualValues(t, 1, diskStats.Hits)
}

func TestCacheServiceDeletesExpiredLazily(t *testing.T) {
	ctx := context.Background()
	svc, _, disk := newTwoTierCache(t)
	now := time.Now()
	svc.now = func() time.Time { return now }

	require.NoError(t, disk.Set(ctx, "ecommerce:old", domain.NewCacheEntry(json.RawMessage(`1`), time.Second, nil, now.Add(-time.Minute))))
	_, ok := svc.Get(ctx, "old")
	assert.False(t, ok)

	_, err := disk.Get(ctx, "ecommerce:old")
	assert.ErrorIs(t, err, domain.ErrCacheMiss)
}

func TestCacheServiceSwallowsSingleTierFailure(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewMemoryTier(10)
	svc := NewCacheService(nopLogger{}, CacheOptions{KeyPrefix: "ecommerce:"}, failingTier{name: "redis"}, mem)

	require.NoError(t, svc.Set(ctx, "k", "v", 0))
	raw, ok := svc.Get(ctx, "k")
	require.True(t, ok)
	assert.JSONEq(t, `"v"`, string(raw))

	redisStats, _ := svc.TierStats("redis")
	assert.EqualValues(t, 2, redisStats.Errors, "one failed write and one failed read")
	assert.Error(t, svc.Delete(ctx, "k"))
}

func TestCacheServiceStatsReportEvictions(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewMemoryTier(2)
	svc := NewCacheService(nopLogger{}, CacheOptions{KeyPrefix: "ecommerce:"}, mem, failingTier{name: "redis"})

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, svc.Set(ctx, k, k, time.Minute))
	}
	memStats, ok := svc.TierStats("memory")
	require.True(t, ok)
	assert.EqualValues(t, 1, memStats.Evictions)
	redisStats, _ := svc.TierStats("redis")
	assert.Zero(t, redisStats.Evictions)
}

func TestCacheServiceAllTiersFailing(t *testing.T) {
	svc := NewCacheService(nopLogger{}, CacheOptions{}, failingTier{name: "a"}, failingTier{name: "b"})
	err := svc.Set(context.Background(), "k", 1, time.Minute)
	assert.ErrorIs(t, err, ErrAllTiersFailed)
}

func TestCacheServiceInvalidateByTagsAcrossTiers(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTwoTierCache(t)

	require.NoError(t, svc.Set(ctx, "catalog:products:/products", []product{{ID: "1"}}, time.Minute, "products"))
	require.NoError(t, svc.Set(ctx, "catalog:brands:/brands", []string{"acme"}, time.Minute, "brands"))

	assert.Equal(t, 2, svc.InvalidateByTags(ctx, "products"), "one entry in each tier")
	assert.False(t, svc.Exists(ctx, "catalog:products:/products"))
	assert.True(t, svc.Exists(ctx, "catalog:brands:/brands"))

	require.NoError(t, svc.Clear(ctx))
	assert.False(t, svc.Exists(ctx, "catalog:brands:/brands"))
}

func TestCacheGetDropsUndecodableEntries(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTwoTierCache(t)
	require.NoError(t, svc.Set(ctx, "p", "not a product", time.Minute))

	_, ok := CacheGet[product](ctx, svc, "p")
	assert.False(t, ok)
	assert.False(t, svc.Exists(ctx, "p"))
}

func TestCacheServiceRawJSONIsStoredVerbatim(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTwoTierCache(t)
	require.NoError(t, svc.Set(ctx, "raw", json.RawMessage(`{"a":1}`), time.Minute))
	raw, ok := svc.Get(ctx, "raw")
	require.True(t, ok)
	assert.JSONEq(t, `{"a":1}`, string(raw))

	assert.Error(t, svc.Set(ctx, "bad", json.RawMessage(`{`), time.Minute))
}
