package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Cache provides typed caching utilities
// ⭐ SSOT: 캐시 헬퍼는 여기서만
type Cache struct {
	client *Client
	prefix string
}

// NewCache creates a new cache helper
func NewCache(client *Client, prefix string) *Cache {
	return &Cache{
		client: client,
		prefix: prefix,
	}
}

// Get retrieves a cached value
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !c.client.Enabled() {
		return false, nil
	}

	fullKey := fmt.Sprintf("%s:cache:%s", c.prefix, key)
	data, err := c.client.Redis().Get(ctx, fullKey).Bytes()
	if err != nil {
		// Key not found is not an error
		return false, nil
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("cache unmarshal failed: %w", err)
	}

	return true, nil
}

// Set stores a value in cache with TTL
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !c.client.Enabled() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal failed: %w", err)
	}

	fullKey := fmt.Sprintf("%s:cache:%s", c.prefix, key)
	return c.client.Redis().Set(ctx, fullKey, data, ttl).Err()
}

// Delete removes a cached value
func (c *Cache) Delete(ctx context.Context, key string) error {
	if !c.client.Enabled() {
		return nil
	}

	fullKey := fmt.Sprintf("%s:cache:%s", c.prefix, key)
	return c.client.Redis().Del(ctx, fullKey).Err()
}

// ErrCacheWrite marks a GetOrSet whose fill value was returned but could
// not be stored
var ErrCacheWrite = errors.New("cache write failed")

// GetOrSet reads key into dest. On a miss (or an undecodable entry) it
// calls fill, stores the value with ttl and decodes it into dest.
// hit reports whether dest came from the cache.
func (c *Cache) GetOrSet(ctx context.Context, key string, dest interface{}, ttl time.Duration, fill func(ctx context.Context) (interface{}, error)) (hit bool, err error) {
	found, err := c.Get(ctx, key, dest)
	if err == nil && found {
		return true, nil
	}

	value, err := fill(ctx)
	if err != nil {
		return false, err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("cache marshal failed: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("cache unmarshal failed: %w", err)
	}

	// 값은 dest에 채워진 상태로 반환, 저장 실패만 표시
	if err := c.Set(ctx, key, value, ttl); err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrCacheWrite, key, err)
	}
	return false, nil
}

// Predefined TTLs
const (
	TTLShort  = 1 * time.Minute  // 가중치 스냅샷
	TTLMedium = 10 * time.Minute // 시장 지표 스냅샷
	TTLLong   = 1 * time.Hour
	TTLDaily  = 24 * time.Hour
)

// Common cache key generators
func IndicatorSnapshotKey() string {
	return "indicators:latest"
}

func CurrentWeightsKey() string {
	return "weights:current"
}

// ChannelKey returns the pub/sub channel name for a topic
func (c *Cache) ChannelKey(topic string) string {
	return fmt.Sprintf("%s:events:%s", c.prefix, topic)
}

// Publish sends a JSON encoded event on the topic channel
func (c *Cache) Publish(ctx context.Context, topic string, value interface{}) error {
	if !c.client.Enabled() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("publish marshal failed: %w", err)
	}
	return c.client.Redis().Publish(ctx, c.ChannelKey(topic), data).Err()
}
