package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/storefront-edge/internal/domain"
)

func entryAt(ts time.Time, ttl time.Duration, tags ...string) domain.CacheEntry {
	return domain.NewCacheEntry(json.RawMessage(`{"v":1}`), ttl, tags, ts)
}

func TestMemoryTierGetSetDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryTier(10)

	_, err := m.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrCacheMiss)

	require.NoError(t, m.Set(ctx, "k", entryAt(time.Now(), time.Minute)))
	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, string(got.Data))

	got.Data[0] = 'X'
	again, _ := m.Get(ctx, "k")
	assert.JSONEq(t, `{"v":1}`, string(again.Data), "callers get copies")

	require.NoError(t, m.Delete(ctx, "k"))
	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, domain.ErrCacheMiss)
}

func TestMemoryTierEvictsOldestTenth(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryTier(20)
	base := time.Now()
	for i := 0; i < 20; i++ {
		require.NoError(t, m.Set(ctx, fmt.Sprintf("k%02d", i), entryAt(base.Add(time.Duration(i)*time.Second), time.Hour)))
	}

	require.NoError(t, m.Set(ctx, "new", entryAt(base.Add(time.Minute), time.Hour)))
	assert.Equal(t, 19, m.Len())
	assert.EqualValues(t, 2, m.Evictions())
	for _, gone := range []string{"k00", "k01"} {
		_, err := m.Get(ctx, gone)
		assert.ErrorIs(t, err, domain.ErrCacheMiss, gone)
	}
	_, err := m.Get(ctx, "k02")
	assert.NoError(t, err)

	// overwriting an existing key never evicts
	require.NoError(t, m.Set(ctx, "k05", entryAt(base, time.Hour)))
	assert.Equal(t, 19, m.Len())
	assert.EqualValues(t, 2, m.Evictions())
}

func TestMemoryTierEvictsAtLeastOne(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryTier(3)
	base := time.Now()
	for i := 0; i < 4; i++ {
		require.NoError(t, m.Set(ctx, fmt.Sprint(i), entryAt(base.Add(time.Duration(i)*time.Second), time.Hour)))
	}
	assert.Equal(t, 3, m.Len())
	_, err := m.Get(ctx, "0")
	assert.ErrorIs(t, err, domain.ErrCacheMiss)
	assert.EqualValues(t, 1, m.Evictions())
}

func TestMemoryTierInvalidateByTagsAndSweep(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryTier(10)
	now := time.Now()
	require.NoError(t, m.Set(ctx, "p1", entryAt(now, time.Hour, "products")))
	require.NoError(t, m.Set(ctx, "p2", entryAt(now, time.Hour, "products", "featured")))
	require.NoError(t, m.Set(ctx, "c1", entryAt(now, time.Hour, "categories")))
	require.NoError(t, m.Set(ctx, "old", entryAt(now.Add(-2*time.Hour), time.Hour)))

	n, err := m.InvalidateByTags(ctx, []string{"products"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, 1, m.SweepExpired(now))
	assert.Equal(t, 1, m.Len())

	require.NoError(t, m.Clear(ctx))
	assert.Zero(t, m.Len())
}
