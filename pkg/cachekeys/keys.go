package cachekeys

import (
	"fmt"
	"strings"

	"gitlab.com/timkado/api/storefront-edge/pkg/crypto"
)

// DefaultPrefix namespaces every cache entry written by the cache service.
const DefaultPrefix = "ecommerce:"

// Session slot keys. The three keys together form the persisted client session.
const (
	AuthTokenKey    = "auth_token"
	RefreshTokenKey = "refresh_token"
	UserDataKey     = "user_data"
)

// SessionKeys lists every key owned by the client session.
var SessionKeys = []string{AuthTokenKey, RefreshTokenKey, UserDataKey}

// Namespaced prefixes key with prefix unless it already carries it.
func Namespaced(prefix, key string) string {
	if prefix == "" || strings.HasPrefix(key, prefix) {
		return key
	}
	return prefix + key
}

// TokenCacheKey generates the cache key for a verified bearer token.
// The raw token is hashed so it never lands in a cache backend in clear.
func TokenCacheKey(rawToken string) string {
	return fmt.Sprintf("token_cache:%s", crypto.Sha256Hex(rawToken))
}

// CatalogKey generates the cache key for a proxied catalog read.
func CatalogKey(resource, pathAndQuery string) string {
	return fmt.Sprintf("catalog:%s:%s", resource, pathAndQuery)
}

// BroadcastChannel carries notifications meant for every connected user.
const BroadcastChannel = "notifications:broadcast"

// NotificationChannel is the pub/sub channel carrying notifications for one user.
func NotificationChannel(userID string) string {
	return fmt.Sprintf("notifications:user:%s", userID)
}
