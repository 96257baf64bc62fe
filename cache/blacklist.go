package cache

import (
	"context"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/blockvault/hub/driver"
)

const blacklistTTL = 15 * time.Minute

// BlacklistCache implements spec.md §4.4: `isBlacklisted(addr, performType)`
// derived from a small-integer blacklist "type" read through to the driver.
type BlacklistCache struct {
	lru       *lru.LRU[string, int]
	drv       driver.Driver
	evictions atomic.Int64
}

// NewBlacklistCache builds a cache with the given LRU capacity
// (config.BlacklistCacheSize).
func NewBlacklistCache(capacity int, drv driver.Driver) *BlacklistCache {
	c := &BlacklistCache{drv: drv}
	c.lru = lru.NewLRU[string, int](capacity, c.onEvict, blacklistTTL)
	return c
}

func (c *BlacklistCache) onEvict(key string, value int) {
	c.evictions.Add(1)
}

// EvictionCount returns the number of entries evicted since startup.
func (c *BlacklistCache) EvictionCount() int64 { return c.evictions.Load() }

// Type returns the raw blacklist type for addr, read-through to the driver.
func (c *BlacklistCache) Type(ctx context.Context, addr string) (int, error) {
	if v, ok := c.lru.Get(addr); ok {
		return v, nil
	}
	t, err := c.drv.PerformReadBlacklistType(ctx, addr)
	if err != nil {
		return 0, herrWrap(err)
	}
	c.lru.Add(addr, t)
	return t, nil
}

// IsBlacklisted implements spec.md §4.4's truth table:
//   - false if type == 0
//   - true  if type == 1
//   - true  if type == 2 and performType == PUT
//   - false otherwise
func (c *BlacklistCache) IsBlacklisted(ctx context.Context, addr string, performType driver.PerformType) (bool, error) {
	t, err := c.Type(ctx, addr)
	if err != nil {
		return false, err
	}
	switch t {
	case 0:
		return false, nil
	case 1:
		return true, nil
	case 2:
		return performType == driver.PerformPut, nil
	default:
		return false, nil
	}
}
