package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/storefront-edge/internal/adapters/cache"
	"gitlab.com/timkado/api/storefront-edge/internal/domain"
	"gitlab.com/timkado/api/storefront-edge/pkg/cachekeys"
)

func newVerifier(t *testing.T, ttl time.Duration) (*TokenVerifier, *fakeAuthAPI, *CacheService) {
	t.Helper()
	api := newFakeAuthAPI(t)
	svc := NewCacheService(nopLogger{}, CacheOptions{KeyPrefix: "test:"}, cache.NewMemoryTier(100))
	return NewTokenVerifier(nopLogger{}, svc, api, ttl), api, svc
}

func TestVerifyCachesBackendResult(t *testing.T) {
	ctx := context.Background()
	v, api, svc := newVerifier(t, time.Minute)
	token := signedToken(t, "u-1", time.Now().Add(time.Hour))

	first, err := v.Verify(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", first.ID)

	second, err := v.Verify(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, first.Email, second.Email)
	assert.EqualValues(t, 1, api.meCalls.Load())
	assert.True(t, svc.Exists(ctx, cachekeys.TokenCacheKey(token)))

	v.Forget(ctx, token)
	_, err = v.Verify(ctx, token)
	require.NoError(t, err)
	assert.EqualValues(t, 2, api.meCalls.Load())
}

func TestVerifyRejectsLocally(t *testing.T) {
	ctx := context.Background()
	v, api, _ := newVerifier(t, time.Minute)

	_, err := v.Verify(ctx, "")
	assert.True(t, domain.IsKind(err, domain.KindUnauthorized))

	_, err = v.Verify(ctx, "not.a.jwt")
	assert.True(t, domain.IsKind(err, domain.KindUnauthorized))

	_, err = v.Verify(ctx, signedToken(t, "u-1", time.Now().Add(-time.Second)))
	assert.True(t, domain.IsKind(err, domain.KindTokenExpired))

	assert.Zero(t, api.meCalls.Load())
}

func TestVerifyPropagatesBackendRejection(t *testing.T) {
	ctx := context.Background()
	v, api, svc := newVerifier(t, time.Minute)
	api.meErr = domain.ErrorFromResponse(401, []byte(`{"message":"revoked"}`))
	token := signedToken(t, "u-1", time.Now().Add(time.Hour))

	_, err := v.Verify(ctx, token)
	assert.True(t, domain.IsKind(err, domain.KindUnauthorized))
	assert.False(t, svc.Exists(ctx, cachekeys.TokenCacheKey(token)), "rejections are not cached")
}

func TestVerifyCacheNeverOutlivesToken(t *testing.T) {
	ctx := context.Background()
	v, _, svc := newVerifier(t, time.Hour)
	start := time.Now()
	token := signedToken(t, "u-1", start.Add(10*time.Second))

	_, err := v.Verify(ctx, token)
	require.NoError(t, err)

	svc.now = func() time.Time { return start.Add(15 * time.Second) }
	assert.False(t, svc.Exists(ctx, cachekeys.TokenCacheKey(token)))
}
