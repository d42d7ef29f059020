package router

import (
	"sync"

	"overseer/internal/capability"
)

// cacheCapacity bounds the result cache. When full, the oldest entry by
// insertion order is evicted.
const cacheCapacity = 200

// ResultCache memoizes successful capability results keyed by capability
// name plus canonical arguments. Eviction is FIFO on insertion order, not
// recency of access.
type ResultCache struct {
	mu      sync.Mutex
	entries map[string]*capability.Result
	order   []string
	hits    int64
	misses  int64
}

func NewResultCache() *ResultCache {
	return &ResultCache{entries: make(map[string]*capability.Result)}
}

func cacheKey(capName string, args capability.Args) string {
	return capName + "\x00" + args.Canonical()
}

// Get returns the cached result for the key, counting a hit or miss.
func (c *ResultCache) Get(key string) (*capability.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, ok := c.entries[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return res, ok
}

// Put stores a result, evicting the earliest-inserted entry when the cache
// is at capacity. Re-inserting an existing key does not refresh its
// insertion position.
func (c *ResultCache) Put(key string, res *capability.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; exists {
		c.entries[key] = res
		return
	}
	if len(c.order) >= cacheCapacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = res
	c.order = append(c.order, key)
}

// Len reports the number of cached entries.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats reports lifetime hit and miss counts.
func (c *ResultCache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
