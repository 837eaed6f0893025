package btree

import (
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2/simplelru"
)

// DefaultPageCache is the default LRU page capacity.
const DefaultPageCache = 1024

// cachedPage is a shared handle to an in-memory page. Readers take the inner
// read lock; a writer taking the inner write lock must not also hold the
// cache mutex.
type cachedPage struct {
	mu    sync.RWMutex
	page  *page
	dirty bool
}

// pageCache is a bounded LRU of cached pages. A dirty page evicted by
// capacity pressure is serialized and written before its handle is dropped.
type pageCache struct {
	mu        sync.Mutex
	lru       *lru.LRU[uint64, *cachedPage]
	writeBack func(*cachedPage) error
	evictErr  error

	hits   atomic.Uint64
	misses atomic.Uint64
}

func newPageCache(capacity int, writeBack func(*cachedPage) error) *pageCache {
	if capacity <= 0 {
		capacity = DefaultPageCache
	}
	// A single insert can pin a root-to-leaf path plus split pages; keep the
	// cache comfortably larger than any one operation's working set.
	if capacity < 64 {
		capacity = 64
	}
	c := &pageCache{writeBack: writeBack}
	inner, err := lru.NewLRU[uint64, *cachedPage](capacity, c.onEvict)
	if err != nil {
		// Capacity is validated above; NewLRU only fails on size <= 0.
		panic(err)
	}
	c.lru = inner
	return c
}

func (c *pageCache) onEvict(_ uint64, cp *cachedPage) {
	cp.mu.Lock()
	dirty := cp.dirty
	cp.dirty = false
	cp.mu.Unlock()
	if !dirty {
		return
	}
	if err := c.writeBack(cp); err != nil && c.evictErr == nil {
		c.evictErr = err
	}
}

// get returns the cached handle for pid, if present.
func (c *pageCache) get(pid uint64) (*cachedPage, bool) {
	c.mu.Lock()
	cp, ok := c.lru.Get(pid)
	c.mu.Unlock()
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return cp, ok
}

// put installs a handle, evicting as needed, and surfaces any write-back
// failure from the eviction it triggered.
func (c *pageCache) put(pid uint64, cp *cachedPage) error {
	c.mu.Lock()
	c.lru.Add(pid, cp)
	err := c.evictErr
	c.evictErr = nil
	c.mu.Unlock()
	return err
}

// remove drops a handle without write-back.
func (c *pageCache) remove(pid uint64) {
	c.mu.Lock()
	c.lru.Remove(pid)
	c.mu.Unlock()
}

// snapshot returns every cached handle, for flush.
func (c *pageCache) snapshot() []*cachedPage {
	c.mu.Lock()
	keys := c.lru.Keys()
	pages := make([]*cachedPage, 0, len(keys))
	for _, k := range keys {
		if cp, ok := c.lru.Peek(k); ok {
			pages = append(pages, cp)
		}
	}
	c.mu.Unlock()
	return pages
}

// purge drops every handle without write-back. Call only after all dirty
// pages have been written.
func (c *pageCache) purge() {
	c.mu.Lock()
	// Mark clean first so onEvict does not rewrite flushed pages.
	for _, k := range c.lru.Keys() {
		if cp, ok := c.lru.Peek(k); ok {
			cp.mu.Lock()
			cp.dirty = false
			cp.mu.Unlock()
		}
	}
	c.lru.Purge()
	c.mu.Unlock()
}

// stats returns cumulative hit and miss counts.
func (c *pageCache) stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}
