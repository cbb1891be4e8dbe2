package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wonny/aegis/weightgov/internal/contracts"
	"github.com/wonny/aegis/weightgov/pkg/logger"
	"github.com/wonny/aegis/weightgov/pkg/redis"
)

// Source fetches a fresh snapshot from the upstream indicator pipeline
type Source interface {
	Fetch(ctx context.Context) (*contracts.MarketIndicatorSnapshot, error)
}

// Cached implements contracts.IndicatorCollector over a Source with a TTL.
// Snapshots served from the cache are flagged Cached=true.
// ⭐ SSOT: 시장 지표 캐시 TTL은 이 수집기가 소유
type Cached struct {
	source Source
	ttl    time.Duration
	cache  *redis.Cache
	logger *logger.Logger
	now    func() time.Time

	mu        sync.Mutex
	last      *contracts.MarketIndicatorSnapshot
	fetchedAt time.Time
}

// NewCached creates a collector. cache may be nil (in-memory only).
func NewCached(source Source, ttl time.Duration, cache *redis.Cache, log *logger.Logger) *Cached {
	if ttl <= 0 {
		ttl = redis.TTLMedium
	}
	return &Cached{
		source: source,
		ttl:    ttl,
		cache:  cache,
		logger: log.WithComponent("collector"),
		now:    time.Now,
	}
}

// SetClock overrides the time source (tests)
func (c *Cached) SetClock(now func() time.Time) {
	c.now = now
}

// Collect returns the cached snapshot while it is younger than the TTL,
// otherwise reads through the Redis mirror to the source. When the
// upstream fails, a stale snapshot is preferred over an error.
func (c *Cached) Collect(ctx context.Context, forceRefresh bool) (*contracts.MarketIndicatorSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !forceRefresh && c.last != nil && now.Sub(c.fetchedAt) < c.ttl {
		return cachedCopy(c.last), nil
	}

	snap, hit, err := c.load(ctx, forceRefresh)
	if err != nil {
		if c.last != nil {
			c.logger.WithError(err).Warn("Indicator fetch failed, serving stale snapshot")
			return cachedCopy(c.last), nil
		}
		return nil, fmt.Errorf("fetch indicators: %w", err)
	}

	c.last, c.fetchedAt = snap, now
	if hit {
		return cachedCopy(snap), nil
	}

	c.logger.WithField("snapshot_at", snap.Timestamp).Debug("Indicator snapshot fetched")
	out := *snap
	return &out, nil
}

// load returns a snapshot and whether it came from the Redis mirror.
// forceRefresh skips the mirror read but still refreshes it.
func (c *Cached) load(ctx context.Context, forceRefresh bool) (*contracts.MarketIndicatorSnapshot, bool, error) {
	if c.cache == nil || forceRefresh {
		fresh, err := c.fetch(ctx)
		if err != nil {
			return nil, false, err
		}
		if c.cache != nil {
			if err := c.cache.Set(ctx, redis.IndicatorSnapshotKey(), fresh, c.ttl); err != nil {
				c.logger.WithError(err).Warn("Failed to mirror indicator snapshot to Redis")
			}
		}
		return fresh, false, nil
	}

	var snap contracts.MarketIndicatorSnapshot
	hit, err := c.cache.GetOrSet(ctx, redis.IndicatorSnapshotKey(), &snap, c.ttl, func(ctx context.Context) (interface{}, error) {
		return c.fetch(ctx)
	})
	if errors.Is(err, redis.ErrCacheWrite) {
		c.logger.WithError(err).Warn("Failed to mirror indicator snapshot to Redis")
		err = nil
	}
	if err != nil {
		return nil, false, err
	}
	snap.Cached = false
	return &snap, hit, nil
}

// fetch reads the source
func (c *Cached) fetch(ctx context.Context) (*contracts.MarketIndicatorSnapshot, error) {
	snap, err := c.source.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, fmt.Errorf("empty snapshot: %w", contracts.ErrInsufficientData)
	}
	fresh := *snap
	fresh.Cached = false
	return &fresh, nil
}

func cachedCopy(s *contracts.MarketIndicatorSnapshot) *contracts.MarketIndicatorSnapshot {
	out := *s
	out.Cached = true
	return &out
}
