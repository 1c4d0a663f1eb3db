package executor

import (
	"container/list"
	"sync"
	"time"
)

type cacheEntry struct {
	jobID     string
	timestamp time.Time
}

// CompletionCache is a bounded, process-local set of recently
// completed job IDs. It is a pure latency optimization — the durable
// dedup check is JobStore.HasCompletedExecution — so losing its
// contents changes nothing but how many redundant lookups happen
// next.
//
// Eviction: when full, the entry with the smallest timestamp is
// evicted, approximating LRU without needing a full access-order
// list; container/list here only tracks insertion order for O(1)
// removal, the eviction candidate is found by linear scan since the
// capacity (~1000) makes that cheap relative to a DB round trip.
type CompletionCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List
}

func NewCompletionCache(capacity int) *CompletionCache {
	if capacity <= 0 {
		capacity = 1000
	}
	return &CompletionCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

func (c *CompletionCache) Contains(jobID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[jobID]
	return ok
}

func (c *CompletionCache) Add(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[jobID]; ok {
		el.Value.(*cacheEntry).timestamp = time.Now()
		return
	}

	if len(c.entries) >= c.capacity {
		c.evictOldestLocked()
	}

	el := c.order.PushBack(&cacheEntry{jobID: jobID, timestamp: time.Now()})
	c.entries[jobID] = el
}

func (c *CompletionCache) evictOldestLocked() {
	var oldest *list.Element
	for el := c.order.Front(); el != nil; el = el.Next() {
		if oldest == nil || el.Value.(*cacheEntry).timestamp.Before(oldest.Value.(*cacheEntry).timestamp) {
			oldest = el
		}
	}
	if oldest == nil {
		return
	}
	c.order.Remove(oldest)
	delete(c.entries, oldest.Value.(*cacheEntry).jobID)
}

func (c *CompletionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
