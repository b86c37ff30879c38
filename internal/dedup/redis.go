package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"studypal/pkg/domain"
)

type redisEntry struct {
	Result   domain.SubmissionResult `json:"result"`
	StoredAt time.Time               `json:"storedAt"`
}

// RedisCache is a Redis-backed ResultCache shared across processes.
// Retention is enforced by key TTL; the short lookup window is enforced by
// comparing the stored timestamp at read time.
type RedisCache struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
}

// NewRedisCache builds a Redis-backed cache.
func NewRedisCache(addr, password, prefix string, retention time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "studypal:dedup"
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisCache{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		prefix:    prefix,
		retention: retention,
	}
}

// Lookup returns the entry under key when younger than maxAge.
func (c *RedisCache) Lookup(ctx context.Context, key string, maxAge time.Duration) (domain.SubmissionResult, bool, error) {
	if maxAge <= 0 {
		maxAge = c.retention
	}
	raw, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err == redis.Nil {
		return domain.SubmissionResult{}, false, nil
	}
	if err != nil {
		return domain.SubmissionResult{}, false, fmt.Errorf("dedup lookup: %w", err)
	}
	var entry redisEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return domain.SubmissionResult{}, false, fmt.Errorf("dedup decode: %w", err)
	}
	if time.Since(entry.StoredAt) >= maxAge {
		return domain.SubmissionResult{}, false, nil
	}
	return entry.Result, true, nil
}

// Store records the result with the retention TTL.
func (c *RedisCache) Store(ctx context.Context, key string, result domain.SubmissionResult) error {
	raw, err := json.Marshal(redisEntry{Result: result, StoredAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.key(key), raw, c.retention).Err(); err != nil {
		return fmt.Errorf("dedup store: %w", err)
	}
	return nil
}

// EvictExpired is a no-op for Redis; key TTLs handle retention.
func (c *RedisCache) EvictExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}

func (c *RedisCache) key(key string) string {
	return c.prefix + ":" + key
}
