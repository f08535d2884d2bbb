package application

import (
	"context"
	"errors"
	"time"

	"gitlab.com/timkado/api/storefront-edge/internal/adapters/metrics"
	"gitlab.com/timkado/api/storefront-edge/internal/domain"
	"gitlab.com/timkado/api/storefront-edge/pkg/cachekeys"
	"gitlab.com/timkado/api/storefront-edge/pkg/tokens"
)

// UserFetcher resolves the user behind a bearer token.
type UserFetcher interface {
	Me(ctx context.Context, accessToken string) (*domain.User, error)
}

// TokenVerifier resolves bearer tokens on the edge. Verified users are cached
// under the token's hash for the configured TTL, never past the token's expiry.
type TokenVerifier struct {
	logger   domain.Logger
	cache    *CacheService
	fetcher  UserFetcher
	cacheTTL time.Duration
	now      func() time.Time
}

func NewTokenVerifier(logger domain.Logger, cache *CacheService, fetcher UserFetcher, cacheTTL time.Duration) *TokenVerifier {
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &TokenVerifier{logger: logger, cache: cache, fetcher: fetcher, cacheTTL: cacheTTL, now: time.Now}
}

// Verify returns the user for rawToken. Malformed or expired tokens are rejected
// without a backend call; a backend 401 becomes Unauthorized.
func (v *TokenVerifier) Verify(ctx context.Context, rawToken string) (*domain.User, error) {
	if rawToken == "" {
		return nil, domain.NewError(domain.KindUnauthorized, "missing bearer token")
	}
	exp, err := tokens.ExpiresAt(rawToken)
	if err != nil {
		metrics.IncrementTokenVerification("local", "malformed")
		return nil, domain.NewError(domain.KindUnauthorized, "malformed bearer token", domain.WithCause(err))
	}
	now := v.now()
	if !now.Before(exp) {
		metrics.IncrementTokenVerification("local", "expired")
		return nil, domain.NewError(domain.KindTokenExpired, "bearer token expired")
	}

	cacheKey := cachekeys.TokenCacheKey(rawToken)
	if user, ok := CacheGet[domain.User](ctx, v.cache, cacheKey); ok && user.ID != "" {
		metrics.IncrementTokenVerification("cache", "ok")
		v.logger.Debug(ctx, "Token found in cache", "cache_key", cacheKey)
		return &user, nil
	}

	user, err := v.fetcher.Me(ctx, rawToken)
	if err != nil {
		metrics.IncrementTokenVerification("backend", "rejected")
		var appErr *domain.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, Normalize(err)
	}
	if user == nil || user.ID == "" {
		metrics.IncrementTokenVerification("backend", "rejected")
		return nil, domain.NewError(domain.KindUnauthorized, "backend returned no user for token")
	}
	metrics.IncrementTokenVerification("backend", "ok")

	ttl := min(v.cacheTTL, exp.Sub(now))
	if err := v.cache.Set(ctx, cacheKey, user, ttl); err != nil {
		v.logger.Warn(ctx, "Failed to cache verified token", "cache_key", cacheKey, "error", err.Error())
	}
	return user, nil
}

// Forget drops the cached verification of rawToken, e.g. on logout.
func (v *TokenVerifier) Forget(ctx context.Context, rawToken string) {
	if err := v.cache.Delete(ctx, cachekeys.TokenCacheKey(rawToken)); err != nil {
		v.logger.Warn(ctx, "Failed to drop cached token", "error", err.Error())
	}
}
