package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"gitlab.com/timkado/api/storefront-edge/internal/domain"
)

const cacheTierName = "redis"

// CacheTier is the optional remote tier shared by every edge replica. Entries
// are stored as JSON with a Redis TTL equal to their remaining lifetime; tags are
// tracked in one set per tag so invalidation does not need a keyspace scan.
type CacheTier struct {
	redisClient *redis.Client
	logger      domain.Logger
	prefix      string
	now         func() time.Time
}

// NewCacheTier creates the Redis tier. prefix scopes Clear and the tag sets.
func NewCacheTier(redisClient *redis.Client, logger domain.Logger, prefix string) *CacheTier {
	if redisClient == nil {
		panic("redisClient cannot be nil in NewCacheTier")
	}
	return &CacheTier{redisClient: redisClient, logger: logger, prefix: prefix, now: time.Now}
}

func (t *CacheTier) Name() string { return cacheTierName }

func (t *CacheTier) tagKey(tag string) string {
	return t.prefix + "tags:" + tag
}

func (t *CacheTier) Get(ctx context.Context, key string) (*domain.CacheEntry, error) {
	val, err := t.redisClient.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET for cache key '%s' failed: %w", key, err)
	}

	var entry domain.CacheEntry
	if err := json.Unmarshal(val, &entry); err != nil {
		t.logger.Warn(ctx, "Dropping undecodable Redis cache entry", "key", key, "error", err.Error())
		_ = t.redisClient.Del(ctx, key).Err()
		return nil, domain.ErrCacheMiss
	}
	return &entry, nil
}

func (t *CacheTier) Set(ctx context.Context, key string, entry domain.CacheEntry) error {
	ttl := entry.Remaining(t.now())
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry for key '%s': %w", key, err)
	}

	// A tag set lives at least as long as its longest member. EXPIRE works in
	// whole seconds, hence the extra second.
	tagTTL := ttl + time.Second
	pipe := t.redisClient.TxPipeline()
	pipe.Set(ctx, key, payload, ttl)
	for _, tag := range entry.Tags {
		tagKey := t.tagKey(tag)
		pipe.SAdd(ctx, tagKey, key)
		pipe.ExpireNX(ctx, tagKey, tagTTL)
		pipe.ExpireGT(ctx, tagKey, tagTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis SET for cache key '%s' failed: %w", key, err)
	}
	return nil
}

func (t *CacheTier) Delete(ctx context.Context, key string) error {
	if err := t.redisClient.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis DEL for cache key '%s' failed: %w", key, err)
	}
	return nil
}

// Clear removes every key under the tier prefix.
func (t *CacheTier) Clear(ctx context.Context) error {
	iter := t.redisClient.Scan(ctx, 0, t.prefix+"*", 200).Iterator()
	batch := make([]string, 0, 200)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := t.redisClient.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis DEL during clear failed: %w", err)
		}
		batch = batch[:0]
		return nil
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis SCAN during clear failed: %w", err)
	}
	return flush()
}

// InvalidateByTags deletes every key recorded under tags and the tag sets themselves.
func (t *CacheTier) InvalidateByTags(ctx context.Context, tags []string) (int, error) {
	removed := 0
	for _, tag := range tags {
		members, err := t.redisClient.SMembers(ctx, t.tagKey(tag)).Result()
		if err != nil {
			return removed, fmt.Errorf("redis SMEMBERS for tag '%s' failed: %w", tag, err)
		}
		if len(members) > 0 {
			n, err := t.redisClient.Del(ctx, members...).Result()
			if err != nil {
				return removed, fmt.Errorf("redis DEL for tag '%s' failed: %w", tag, err)
			}
			removed += int(n)
		}
		if err := t.redisClient.Del(ctx, t.tagKey(tag)).Err(); err != nil {
			return removed, fmt.Errorf("redis DEL of tag set '%s' failed: %w", tag, err)
		}
	}
	return removed, nil
}
