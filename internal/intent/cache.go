package intent

import (
	"strings"
	"sync"
	"time"

	"overseer/pkg/models"
)

// cacheTTL is how long a classification stays valid.
const cacheTTL = 5 * time.Minute

type cacheEntry struct {
	intent  models.Intent
	savedAt time.Time
}

// Cache stores classified intents keyed by normalized instruction text.
// Entries expire lazily after the TTL.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	now     func() time.Time
}

// NewCache creates an empty intent cache.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// Get returns the cached intent for the instruction, if present and fresh.
func (c *Cache) Get(instruction string) (models.Intent, bool) {
	key := Normalize(instruction)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return models.Intent{}, false
	}
	if c.now().Sub(entry.savedAt) > cacheTTL {
		delete(c.entries, key)
		return models.Intent{}, false
	}
	return entry.intent, true
}

// Put stores an intent for the instruction.
func (c *Cache) Put(instruction string, in models.Intent) {
	key := Normalize(instruction)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{intent: in, savedAt: c.now()}
}

// Len returns the number of live entries, expiring stale ones.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-cacheTTL)
	for key, entry := range c.entries {
		if entry.savedAt.Before(cutoff) {
			delete(c.entries, key)
		}
	}
	return len(c.entries)
}

// Normalize canonicalizes instruction text for cache keying: lowercase with
// collapsed whitespace.
func Normalize(instruction string) string {
	return strings.Join(strings.Fields(strings.ToLower(instruction)), " ")
}
