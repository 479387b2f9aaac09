package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/kjstillabower/plant-output-forecaster/internal/models"
)

// ForecastCache defines the interface for forecast-series caching implementations.
// Get returns cached data if present and not expired, Set stores data with TTL.
type ForecastCache interface {
	Get(ctx context.Context, key string) ([]models.ForecastSample, bool, error)
	Set(ctx context.Context, key string, value []models.ForecastSample, ttl time.Duration) error
}

// ForecastKey returns the cache key for a forecast of days at a coordinate.
func ForecastKey(lat, lon float64, days int) string {
	return Key(lat, lon) + ":" + strconv.Itoa(days)
}

// InMemoryCache implements ForecastCache using a map with TTL-based expiration.
// Expired entries are removed on access.
type InMemoryCache struct {
	mu   sync.Mutex
	data map[string]cacheEntry
}

// cacheEntry stores a cached forecast series with expiration timestamp.
type cacheEntry struct {
	value     []models.ForecastSample
	expiresAt time.Time
}

// NewInMemoryCache creates a new in-memory cache instance.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]cacheEntry),
	}
}

// Get retrieves the cached series for key if present and not expired.
// Returns (data, true, nil) on cache hit, (nil, false, nil) on miss or expiration.
func (c *InMemoryCache) Get(ctx context.Context, key string) ([]models.ForecastSample, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return nil, false, nil
	}

	if time.Now().After(entry.expiresAt) {
		delete(c.data, key)
		return nil, false, nil
	}

	out := make([]models.ForecastSample, len(entry.value))
	copy(out, entry.value)
	return out, true, nil
}

// Set stores the series in cache with the specified TTL duration.
func (c *InMemoryCache) Set(ctx context.Context, key string, value []models.ForecastSample, ttl time.Duration) error {
	stored := make([]models.ForecastSample, len(value))
	copy(stored, value)

	c.mu.Lock()
	c.data[key] = cacheEntry{
		value:     stored,
		expiresAt: time.Now().Add(ttl),
	}
	c.mu.Unlock()
	return nil
}
