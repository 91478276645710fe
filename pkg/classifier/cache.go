package classifier

import "sync"

// DefaultCacheCapacity bounds the classification cache.
const DefaultCacheCapacity = 128

// fifoCache maps normalized requests to classifications. Eviction is FIFO:
// when full, the oldest inserted key goes, regardless of recent hits.
type fifoCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]Classification
	order    []string
}

func newFIFOCache(capacity int) *fifoCache {
	if capacity < 1 {
		capacity = DefaultCacheCapacity
	}
	return &fifoCache{
		capacity: capacity,
		entries:  make(map[string]Classification),
	}
}

func (c *fifoCache) get(key string) (Classification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok
}

func (c *fifoCache) put(key string, value Classification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		// Refresh the value without disturbing insertion order.
		c.entries[key] = value
		return
	}
	if len(c.order) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = value
	c.order = append(c.order, key)
}

func (c *fifoCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
