package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/storefront-edge/internal/adapters/cache"
	"gitlab.com/timkado/api/storefront-edge/internal/application"
	"gitlab.com/timkado/api/storefront-edge/internal/domain"
	"gitlab.com/timkado/api/storefront-edge/pkg/contextkeys"
)

type staticFetcher struct{ user *domain.User }

func (f staticFetcher) Me(context.Context, string) (*domain.User, error) {
	u := *f.user
	return &u, nil
}

func bearer(t *testing.T) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u-1", "exp": time.Now().Add(time.Hour).Unix()}).SignedString([]byte("k"))
	require.NoError(t, err)
	return raw
}

func TestAuthenticate(t *testing.T) {
	svc := application.NewCacheService(nopLogger{}, application.CacheOptions{}, cache.NewMemoryTier(10))
	verifier := application.NewTokenVerifier(nopLogger{}, svc, staticFetcher{&domain.User{ID: "u-1", Role: domain.RoleCustomer}}, time.Minute)

	_, appErr := Authenticate(httptest.NewRequest(http.MethodGet, "/", nil), verifier, false, domain.RoleCustomer)
	require.NotNil(t, appErr)
	assert.Equal(t, http.StatusUnauthorized, appErr.HTTPStatus())
	assert.True(t, appErr.IsAuthentication())

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+bearer(t))
	authed, appErr := Authenticate(r, verifier, false, domain.RoleCustomer)
	require.Nil(t, appErr)
	gotUser, _ := authed.Context().Value(contextkeys.UserIDKey).(string)
	assert.Equal(t, "u-1", gotUser)
	u, ok := UserFromContext(authed.Context())
	require.True(t, ok)
	assert.Equal(t, domain.RoleCustomer, u.Role)

	_, appErr = Authenticate(r, verifier, false, domain.RoleAdmin)
	require.NotNil(t, appErr)
	assert.Equal(t, http.StatusForbidden, appErr.HTTPStatus())
	assert.False(t, appErr.IsAuthentication())

	_, ok = UserFromContext(context.Background())
	assert.False(t, ok)
}

func TestBearerTokenQueryFallback(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/stream?access_token=abc", nil)
	assert.Equal(t, "", BearerToken(r, false))
	assert.Equal(t, "abc", BearerToken(r, true))
	r.Header.Set("Authorization", "bearer xyz")
	assert.Equal(t, "xyz", BearerToken(r, true))
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value(contextkeys.RequestIDKey).(string)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(XRequestIDHeader, "req-1")
	rec := serve(h, r)
	assert.Equal(t, "req-1", seen)
	assert.Equal(t, "req-1", rec.Header().Get(XRequestIDHeader))

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, seen, 36)
	assert.Equal(t, seen, rec.Header().Get(XRequestIDHeader))
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "10.0.0.1", ClientIP(r, false))
	assert.Equal(t, "203.0.113.9", ClientIP(r, true))
}
