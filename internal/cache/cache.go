package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kjstillabower/black-ice-route-service/internal/models"
	"github.com/kjstillabower/black-ice-route-service/internal/observability"
)

// DefaultKeyPrecision is the number of decimal places kept in cache keys
// (about 1.1 km of latitude).
const DefaultKeyPrecision = 2

// Cache stores recent observations keyed by rounded coordinates.
// Get returns (obs, true, nil) on a live hit and (zero, false, nil) on a miss or expiry.
type Cache interface {
	Get(ctx context.Context, key string) (models.WeatherObservation, bool, error)
	Set(ctx context.Context, key string, value models.WeatherObservation, ttl time.Duration) error
	Ping() error
}

// Key returns the cache key for (lat, lon) rounded to precision decimal places.
// Negative precision uses DefaultKeyPrecision.
func Key(lat, lon float64, precision int) string {
	if precision < 0 {
		precision = DefaultKeyPrecision
	}
	return keyPart(lat, precision) + "," + keyPart(lon, precision)
}

// keyPart formats v, dropping the sign of values that round to zero so both
// sides of the equator and prime meridian land in the same cell.
func keyPart(v float64, precision int) string {
	s := fmt.Sprintf("%.*f", precision, v)
	if strings.HasPrefix(s, "-") && strings.Trim(s[1:], "0.") == "" {
		return s[1:]
	}
	return s
}

// InMemoryCache is a process-local Cache. It is safe for concurrent use.
// When maxEntries is positive, Set evicts expired entries first and then the
// oldest entries to stay within the bound.
type InMemoryCache struct {
	mu         sync.RWMutex
	data       map[string]cacheEntry
	maxEntries int
	now        func() time.Time
}

type cacheEntry struct {
	value     models.WeatherObservation
	storedAt  time.Time
	expiresAt time.Time
}

// NewInMemoryCache creates an in-memory cache holding at most maxEntries
// entries (0 means unbounded).
func NewInMemoryCache(maxEntries int) *InMemoryCache {
	return &InMemoryCache{
		data:       make(map[string]cacheEntry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func (c *InMemoryCache) Get(ctx context.Context, key string) (models.WeatherObservation, bool, error) {
	c.mu.RLock()
	entry, ok := c.data[key]
	c.mu.RUnlock()
	if !ok {
		return models.WeatherObservation{}, false, nil
	}

	if !c.now().Before(entry.expiresAt) {
		c.mu.Lock()
		// Re-check: a concurrent Set may have refreshed the entry.
		if cur, ok := c.data[key]; ok && !c.now().Before(cur.expiresAt) {
			delete(c.data, key)
		}
		c.mu.Unlock()
		return models.WeatherObservation{}, false, nil
	}

	return entry.value, true, nil
}

func (c *InMemoryCache) Set(ctx context.Context, key string, value models.WeatherObservation, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("cache set %s: ttl must be positive, got %v", key, ttl)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.data[key]; !exists && c.maxEntries > 0 && len(c.data) >= c.maxEntries {
		c.evictLocked(now)
	}
	c.data[key] = cacheEntry{
		value:     value,
		storedAt:  now,
		expiresAt: now.Add(ttl),
	}
	return nil
}

// evictLocked drops expired entries, then the oldest entries until there is
// room for one more.
func (c *InMemoryCache) evictLocked(now time.Time) {
	for k, e := range c.data {
		if !now.Before(e.expiresAt) {
			delete(c.data, k)
			observability.CacheEvictionsTotal.Inc()
		}
	}
	for len(c.data) >= c.maxEntries {
		var oldestKey string
		var oldest time.Time
		for k, e := range c.data {
			if oldestKey == "" || e.storedAt.Before(oldest) {
				oldestKey, oldest = k, e.storedAt
			}
		}
		delete(c.data, oldestKey)
		observability.CacheEvictionsTotal.Inc()
	}
}

// Len returns the number of stored entries, including expired ones not yet removed.
func (c *InMemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Ping always succeeds for the in-memory backend.
func (c *InMemoryCache) Ping() error {
	return nil
}
