package gbtree

import (
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2/simplelru"
)

// DefaultPageCache is the default LRU page capacity.
const DefaultPageCache = 1024

// cachedPage is a shared handle to an in-memory page with interior
// mutability. Readers take the inner read lock; writers must not hold the
// cache mutex while taking the inner write lock.
type cachedPage[K any] struct {
	mu    sync.RWMutex
	page  *page[K]
	dirty bool
}

// pageCache is a bounded LRU of page handles. Dirty pages are written back
// before eviction drops them.
type pageCache[K any] struct {
	mu        sync.Mutex
	lru       *lru.LRU[uint64, *cachedPage[K]]
	writeBack func(*cachedPage[K]) error
	evictErr  error

	hits   atomic.Uint64
	misses atomic.Uint64
}

func newPageCache[K any](capacity int, writeBack func(*cachedPage[K]) error) *pageCache[K] {
	if capacity <= 0 {
		capacity = DefaultPageCache
	}
	// A single insert can pin a root-to-leaf path plus split pages; keep the
	// cache comfortably larger than any one operation's working set.
	if capacity < 64 {
		capacity = 64
	}
	c := &pageCache[K]{writeBack: writeBack}
	inner, err := lru.NewLRU[uint64, *cachedPage[K]](capacity, c.onEvict)
	if err != nil {
		panic(err) // capacity validated above
	}
	c.lru = inner
	return c
}

func (c *pageCache[K]) onEvict(_ uint64, cp *cachedPage[K]) {
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

func (c *pageCache[K]) get(pid uint64) (*cachedPage[K], bool) {
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

func (c *pageCache[K]) put(pid uint64, cp *cachedPage[K]) error {
	c.mu.Lock()
	c.lru.Add(pid, cp)
	err := c.evictErr
	c.evictErr = nil
	c.mu.Unlock()
	return err
}

func (c *pageCache[K]) snapshot() []*cachedPage[K] {
	c.mu.Lock()
	keys := c.lru.Keys()
	pages := make([]*cachedPage[K], 0, len(keys))
	for _, k := range keys {
		if cp, ok := c.lru.Peek(k); ok {
			pages = append(pages, cp)
		}
	}
	c.mu.Unlock()
	return pages
}

func (c *pageCache[K]) purge() {
	c.mu.Lock()
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

func (c *pageCache[K]) stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}
