// Package cache provides an in-process TTL cache backed by ristretto, used
// to spare the remote service repeated account and app metadata lookups.
package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Cache stores JSON-encoded values keyed by string.
type Cache struct {
	c *ristretto.Cache[string, []byte]
}

// New creates a cache bounded to maxCostBytes of stored values.
func New(maxCostBytes int64) (*Cache, error) {
	if maxCostBytes <= 0 {
		return nil, fmt.Errorf("cache size must be positive, got %d", maxCostBytes)
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: max(maxCostBytes/100*10, 1000),
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ristretto cache: %w", err)
	}
	return &Cache{c: c}, nil
}

// GetJSON decodes the cached value for key into v. It reports false on a
// miss or when the cached bytes no longer decode.
func (c *Cache) GetJSON(key string, v any) bool {
	data, found := c.c.Get(key)
	if !found {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

// SetJSON stores v under key for ttl. The write is visible to the next Get.
func (c *Cache) SetJSON(key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode cache value for %s: %w", key, err)
	}
	c.c.SetWithTTL(key, data, int64(len(data)), ttl)
	c.c.Wait()
	return nil
}

// Delete removes key.
func (c *Cache) Delete(key string) {
	c.c.Del(key)
}

// Close releases the cache's background goroutines.
func (c *Cache) Close() {
	c.c.Close()
}
