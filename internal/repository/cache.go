package repository

import (
	"context"
	"sync"
	"time"

	"github.com/CodexShaper-Devs/license-sub000/internal/clock"
	"github.com/CodexShaper-Devs/license-sub000/internal/models"
)

// LicenseCache caches license rows by license key.
type LicenseCache interface {
	Get(ctx context.Context, key string) (*models.License, bool)
	Set(ctx context.Context, key string, lic *models.License)
	Invalidate(ctx context.Context, keys ...string)
}

// NoopCache never stores anything.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string) (*models.License, bool) { return nil, false }
func (NoopCache) Set(context.Context, string, *models.License)        {}
func (NoopCache) Invalidate(context.Context, ...string)               {}

// cacheEntry represents a cached license
type cacheEntry struct {
	license   models.License
	cachedAt  time.Time
	expiresAt time.Time
	hitCount  int
}

// MemoryCache is a bounded in-process TTL cache.
type MemoryCache struct {
	entries   map[string]cacheEntry
	mutex     sync.RWMutex
	ttl       time.Duration
	maxSize   int
	hitCount  int64
	missCount int64
	clock     clock.Clock
}

// NewMemoryCache creates a new license cache
func NewMemoryCache(ttl time.Duration, maxSize int, clk clock.Clock) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		maxSize: maxSize,
		clock:   clk,
	}
}

// Get retrieves a copy of a license from cache
func (c *MemoryCache) Get(_ context.Context, key string) (*models.License, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, exists := c.entries[key]
	if !exists || !c.clock.Now().Before(entry.expiresAt) {
		if exists {
			delete(c.entries, key)
		}
		c.missCount++
		return nil, false
	}

	entry.hitCount++
	c.entries[key] = entry
	c.hitCount++

	lic := entry.license
	return &lic, true
}

// Set stores a license in cache
func (c *MemoryCache) Set(_ context.Context, key string, lic *models.License) {
	if lic == nil || c.ttl <= 0 {
		return
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.maxSize <= 0 {
		return
	}
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	now := c.clock.Now()
	c.entries[key] = cacheEntry{
		license:   *lic,
		cachedAt:  now,
		expiresAt: now.Add(c.ttl),
	}
}

// Invalidate removes licenses from cache
func (c *MemoryCache) Invalidate(_ context.Context, keys ...string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for _, key := range keys {
		delete(c.entries, key)
	}
}

// Stats returns cache statistics
func (c *MemoryCache) Stats() map[string]any {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	total := c.hitCount + c.missCount
	hitRatio := float64(0)
	if total > 0 {
		hitRatio = float64(c.hitCount) / float64(total)
	}

	return map[string]any{
		"entries":     len(c.entries),
		"max_size":    c.maxSize,
		"hit_count":   c.hitCount,
		"miss_count":  c.missCount,
		"hit_ratio":   hitRatio,
		"ttl_seconds": c.ttl.Seconds(),
	}
}

func (c *MemoryCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range c.entries {
		if oldestKey == "" || entry.cachedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.cachedAt
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
