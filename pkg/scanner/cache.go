package scanner

import (
	"sync"
	"time"

	"github.com/merlya/merlya/pkg/config"
)

// DefaultTTL applies to scan types missing from the configured TTL map.
const DefaultTTL = 5 * time.Minute

type cacheKey struct {
	host string
	kind config.ScanType
}

type cacheEntry struct {
	result    Result
	expiresAt time.Time
}

// resultCache holds successful scan results keyed by (host, scan type).
// Expired entries are dropped on lookup; failures are never stored.
type resultCache struct {
	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
}

func newResultCache() *resultCache {
	return &resultCache{entries: make(map[cacheKey]cacheEntry)}
}

func (c *resultCache) get(host string, kind config.ScanType, now time.Time) (Result, bool) {
	key := cacheKey{host: host, kind: kind}

	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return Result{}, false
	}
	if now.After(entry.expiresAt) {
		delete(c.entries, key)
		return Result{}, false
	}
	return entry.result, true
}

func (c *resultCache) put(result Result, ttl time.Duration, now time.Time) {
	if !result.Success || ttl <= 0 {
		return
	}
	key := cacheKey{host: result.Hostname, kind: result.Type}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{result: result, expiresAt: now.Add(ttl)}
}

// invalidate drops every cached result for a host, across scan types.
func (c *resultCache) invalidate(host string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if key.host == host {
			delete(c.entries, key)
		}
	}
}

func (c *resultCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
