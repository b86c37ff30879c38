package dedup

import (
	"context"
	"sync"
	"time"

	"studypal/pkg/domain"
)

type memoryEntry struct {
	result   domain.SubmissionResult
	storedAt time.Time
}

// MemoryCache is a mutex-protected in-process ResultCache. Each Store
// opportunistically sweeps entries older than retention, so memory stays
// bounded even without the periodic janitor.
type MemoryCache struct {
	mu        sync.Mutex
	entries   map[string]memoryEntry
	retention time.Duration
	now       func() time.Time
}

// NewMemoryCache builds an in-process cache with the given retention.
func NewMemoryCache(retention time.Duration) *MemoryCache {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &MemoryCache{
		entries:   make(map[string]memoryEntry),
		retention: retention,
		now:       time.Now,
	}
}

// Lookup returns the entry under key when younger than maxAge.
func (c *MemoryCache) Lookup(_ context.Context, key string, maxAge time.Duration) (domain.SubmissionResult, bool, error) {
	if maxAge <= 0 {
		maxAge = c.retention
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return domain.SubmissionResult{}, false, nil
	}
	if c.now().Sub(entry.storedAt) >= maxAge {
		return domain.SubmissionResult{}, false, nil
	}
	return entry.result, true, nil
}

// Store records the result and sweeps expired entries.
func (c *MemoryCache) Store(_ context.Context, key string, result domain.SubmissionResult) error {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{result: result, storedAt: now}
	cutoff := now.Add(-c.retention)
	for k, entry := range c.entries {
		if entry.storedAt.Before(cutoff) {
			delete(c.entries, k)
		}
	}
	return nil
}

// EvictExpired removes entries older than retention.
func (c *MemoryCache) EvictExpired(_ context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-c.retention)
	c.mu.Lock()
	defer c.mu.Unlock()
	dropped := 0
	for k, entry := range c.entries {
		if entry.storedAt.Before(cutoff) {
			delete(c.entries, k)
			dropped++
		}
	}
	return dropped, nil
}

// SetClock overrides the time source. Tests only.
func (c *MemoryCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}
