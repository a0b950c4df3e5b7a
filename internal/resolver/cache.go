package resolver

import (
	"sync"
	"sync/atomic"
)

// Cache maps unresolved input URLs to their resolution. Entries are never
// replaced or expired; the first write for a key wins.
type Cache struct {
	entries sync.Map
	size    atomic.Int64
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{}
}

// Get returns the resolution recorded for rawURL.
func (c *Cache) Get(rawURL string) (string, bool) {
	v, ok := c.entries.Load(rawURL)
	if !ok {
		return "", false
	}
	resolved, ok := v.(string)
	return resolved, ok
}

// Store records resolved under rawURL unless an entry already exists, and
// returns the value the cache holds afterwards.
func (c *Cache) Store(rawURL, resolved string) string {
	actual, loaded := c.entries.LoadOrStore(rawURL, resolved)
	if !loaded {
		c.size.Add(1)
	}
	held, ok := actual.(string)
	if !ok {
		return resolved
	}
	return held
}

// Len reports the number of entries.
func (c *Cache) Len() int {
	return int(c.size.Load())
}

// Snapshot copies the cache contents.
func (c *Cache) Snapshot() map[string]string {
	out := make(map[string]string, c.Len())
	c.entries.Range(func(k, v any) bool {
		key, _ := k.(string)
		val, _ := v.(string)
		out[key] = val
		return true
	})
	return out
}
