package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"gitlab.com/timkado/api/storefront-edge/internal/adapters/metrics"
	"gitlab.com/timkado/api/storefront-edge/internal/domain"
	"gitlab.com/timkado/api/storefront-edge/pkg/cachekeys"
)

// ErrAllTiersFailed is returned by Set when no tier accepted the write.
var ErrAllTiersFailed = errors.New("cache: every tier failed")

type tierCounters struct {
	hits, misses, sets, deletes, errors atomic.Uint64
}

// CacheOptions configures a CacheService.
type CacheOptions struct {
	KeyPrefix  string
	DefaultTTL time.Duration
}

// CacheService is the multi-tier cache. Tiers are ordered fastest first; reads
// probe them in order and promote hits into the faster tiers.
type CacheService struct {
	logger     domain.Logger
	tiers      []domain.CacheTier
	counters   []*tierCounters
	prefix     string
	defaultTTL time.Duration
	now        func() time.Time
}

// NewCacheService builds a cache over tiers. With no tiers every read misses.
func NewCacheService(logger domain.Logger, opts CacheOptions, tiers ...domain.CacheTier) *CacheService {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 5 * time.Minute
	}
	counters := make([]*tierCounters, len(tiers))
	for i := range counters {
		counters[i] = &tierCounters{}
	}
	return &CacheService{
		logger:     logger,
		tiers:      tiers,
		counters:   counters,
		prefix:     opts.KeyPrefix,
		defaultTTL: opts.DefaultTTL,
		now:        time.Now,
	}
}

func (s *CacheService) key(k string) string {
	return cachekeys.Namespaced(s.prefix, k)
}

// Get returns the first unexpired value found, backfilling faster tiers with the
// entry's remaining lifetime. Tier failures degrade to a miss.
func (s *CacheService) Get(ctx context.Context, key string) ([]byte, bool) {
	entry, ok := s.lookup(ctx, s.key(key))
	if !ok {
		return nil, false
	}
	return entry.Data, true
}

func (s *CacheService) lookup(ctx context.Context, key string) (*domain.CacheEntry, bool) {
	now := s.now()
	for i, tier := range s.tiers {
		entry, err := tier.Get(ctx, key)
		if err != nil {
			if !errors.Is(err, domain.ErrCacheMiss) {
				s.countError(i)
				s.logger.Warn(ctx, "Cache tier read failed, treating as miss", "tier", tier.Name(), "key", key, "error", err.Error())
			}
			s.countMiss(i)
			continue
		}
		if entry.Expired(now) {
			s.countMiss(i)
			if err := tier.Delete(ctx, key); err != nil {
				s.countError(i)
			}
			continue
		}

		s.counters[i].hits.Add(1)
		metrics.IncrementCacheOperation(tier.Name(), "hit")
		if i > 0 {
			s.promote(ctx, key, *entry, i, now)
		}
		return entry, true
	}
	return nil, false
}

// promote copies entry into every tier faster than hitIndex.
func (s *CacheService) promote(ctx context.Context, key string, entry domain.CacheEntry, hitIndex int, now time.Time) {
	backfill := domain.NewCacheEntry(entry.Data, entry.Remaining(now), entry.Tags, now)
	for i := 0; i < hitIndex; i++ {
		if err := s.tiers[i].Set(ctx, key, backfill); err != nil {
			s.countError(i)
			s.logger.Warn(ctx, "Cache backfill failed", "tier", s.tiers[i].Name(), "key", key, "error", err.Error())
			continue
		}
		s.counters[i].sets.Add(1)
	}
}

// Set marshals value to JSON and writes it to every tier concurrently. A tier
// failure is logged and swallowed; an error is returned only when all tiers fail.
// A non-positive ttl uses the default.
func (s *CacheService) Set(ctx context.Context, key string, value any, ttl time.Duration, tags ...string) error {
	data, err := marshalValue(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value for key '%s': %w", key, err)
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	if len(s.tiers) == 0 {
		return nil
	}

	full := s.key(key)
	entry := domain.NewCacheEntry(data, ttl, tags, s.now())
	var failed atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	for i, tier := range s.tiers {
		g.Go(func() error {
			if err := tier.Set(gctx, full, entry); err != nil {
				failed.Add(1)
				s.countError(i)
				s.logger.Warn(ctx, "Cache tier write failed", "tier", tier.Name(), "key", full, "error", err.Error())
				return nil
			}
			s.counters[i].sets.Add(1)
			metrics.IncrementCacheOperation(tier.Name(), "set")
			return nil
		})
	}
	_ = g.Wait()

	if int(failed.Load()) == len(s.tiers) {
		return fmt.Errorf("%w: key '%s'", ErrAllTiersFailed, key)
	}
	return nil
}

// Delete removes key from every tier.
func (s *CacheService) Delete(ctx context.Context, key string) error {
	full := s.key(key)
	var errs []error
	for i, tier := range s.tiers {
		if err := tier.Delete(ctx, full); err != nil {
			s.countError(i)
			errs = append(errs, fmt.Errorf("%s: %w", tier.Name(), err))
			continue
		}
		s.counters[i].deletes.Add(1)
		metrics.IncrementCacheOperation(tier.Name(), "delete")
	}
	return errors.Join(errs...)
}

// Clear empties every tier.
func (s *CacheService) Clear(ctx context.Context) error {
	var errs []error
	for i, tier := range s.tiers {
		if err := tier.Clear(ctx); err != nil {
			s.countError(i)
			errs = append(errs, fmt.Errorf("%s: %w", tier.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Exists reports whether an unexpired entry for key is present in any tier.
func (s *CacheService) Exists(ctx context.Context, key string) bool {
	_, ok := s.lookup(ctx, s.key(key))
	return ok
}

// InvalidateByTags removes entries carrying any of tags from every tier that
// supports tag invalidation and returns how many entries were removed.
func (s *CacheService) InvalidateByTags(ctx context.Context, tags ...string) int {
	total := 0
	for i, tier := range s.tiers {
		inv, ok := tier.(domain.TagInvalidator)
		if !ok {
			continue
		}
		n, err := inv.InvalidateByTags(ctx, tags)
		if err != nil {
			s.countError(i)
			s.logger.Warn(ctx, "Tag invalidation failed", "tier", tier.Name(), "tags", tags, "error", err.Error())
		}
		total += n
	}
	s.logger.Info(ctx, "Cache entries invalidated by tag", "tags", tags, "removed", total)
	return total
}

// Stats returns a snapshot of per-tier counters in tier order.
func (s *CacheService) Stats() []domain.CacheStats {
	out := make([]domain.CacheStats, len(s.tiers))
	for i, tier := range s.tiers {
		c := s.counters[i]
		out[i] = domain.CacheStats{
			Tier:    tier.Name(),
			Hits:    c.hits.Load(),
			Misses:  c.misses.Load(),
			Sets:    c.sets.Load(),
			Deletes: c.deletes.Load(),
			Errors:  c.errors.Load(),
		}
		if ec, ok := tier.(domain.EvictionCounter); ok {
			out[i].Evictions = ec.Evictions()
		}
	}
	return out
}

// TierStats returns the counters of the named tier.
func (s *CacheService) TierStats(name string) (domain.CacheStats, bool) {
	for _, st := range s.Stats() {
		if st.Tier == name {
			return st, true
		}
	}
	return domain.CacheStats{}, false
}

func (s *CacheService) countMiss(i int) {
	s.counters[i].misses.Add(1)
	metrics.IncrementCacheOperation(s.tiers[i].Name(), "miss")
}

func (s *CacheService) countError(i int) {
	s.counters[i].errors.Add(1)
	metrics.IncrementCacheOperation(s.tiers[i].Name(), "error")
}

// CacheGet reads key and decodes it into T. Undecodable entries are deleted and
// reported as a miss.
func CacheGet[T any](ctx context.Context, s *CacheService, key string) (T, bool) {
	var out T
	raw, ok := s.Get(ctx, key)
	if !ok {
		return out, false
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		s.logger.Warn(ctx, "Dropping undecodable cache entry", "key", key, "error", err.Error())
		_ = s.Delete(ctx, key)
		var zero T
		return zero, false
	}
	return out, true
}

func marshalValue(v any) ([]byte, error) {
	switch t := v.(type) {
	case json.RawMessage:
		if !json.Valid(t) {
			return nil, errors.New("invalid raw JSON")
		}
		return append([]byte(nil), t...), nil
	case []byte:
		if json.Valid(t) {
			return append([]byte(nil), t...), nil
		}
		return json.Marshal(t)
	default:
		return json.Marshal(v)
	}
}
