// Package textdict implements the chunked token dictionary: token → term id,
// split across independently persisted chunk files with a bounded LRU of
// loaded chunks. Term ids are allocated monotonically and never reused.
package textdict

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/zap"

	"github.com/fenilsonani/motedb/internal/index"
)

const (
	// DefaultNumChunks is the fixed chunk fan-out. Routing is stable for the
	// dictionary's lifetime: hash(token) mod the chunk count.
	DefaultNumChunks = 16

	// DefaultChunkCache bounds the number of chunks held in memory.
	DefaultChunkCache = 8

	metaFile     = "dict_meta.bin"
	chunkPattern = "dict_chunk_%04d.bin"
)

// Config tunes a dictionary.
type Config struct {
	// NumChunks is the chunk fan-out for a fresh dictionary. Zero means
	// DefaultNumChunks. An existing dictionary keeps its persisted fan-out.
	NumChunks int
	// ChunkCacheSize bounds the loaded-chunk LRU. Zero means
	// DefaultChunkCache.
	ChunkCacheSize int
	// Logger is optional; nil means zap.NewNop(). The dictionary writes no
	// log events.
	Logger *zap.Logger
}

// chunk is one hash bucket of the dictionary.
type chunk struct {
	id      uint32
	entries map[string]index.TermID
	dirty   bool
}

// Dictionary maps tokens to term ids across persisted chunks.
type Dictionary struct {
	dir string

	// metaMu guards the rarely changing metadata.
	metaMu     sync.RWMutex
	nextTermID index.TermID
	numChunks  uint32
	totalTerms uint64
	prefixHint map[string]uint32 // first two characters → chunk id

	// cacheMu guards the chunk LRU; chunk maps are only touched while it is
	// held.
	cacheMu  sync.Mutex
	cache    *lru.LRU[uint32, *chunk]
	evictErr error

	hits   atomic.Uint64
	misses atomic.Uint64
	log    *zap.Logger
}

// Open opens or creates a dictionary rooted at dir.
func Open(dir string, cfg Config) (*Dictionary, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, index.IoError("create dictionary directory", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	numChunks := uint32(cfg.NumChunks)
	if numChunks == 0 {
		numChunks = DefaultNumChunks
	}
	d := &Dictionary{
		dir:        dir,
		nextTermID: 1,
		numChunks:  numChunks,
		prefixHint: make(map[string]uint32),
		log:        logger.Named("textdict"),
	}
	cacheSize := cfg.ChunkCacheSize
	if cacheSize <= 0 {
		cacheSize = DefaultChunkCache
	}
	cache, err := lru.NewLRU[uint32, *chunk](cacheSize, d.onEvict)
	if err != nil {
		return nil, index.Indexf("chunk cache: %v", err)
	}
	d.cache = cache

	if err := d.loadMeta(); err != nil {
		return nil, err
	}
	return d, nil
}

// onEvict persists a dirty chunk before its memory is dropped.
func (d *Dictionary) onEvict(_ uint32, c *chunk) {
	if !c.dirty {
		return
	}
	if err := d.writeChunk(c); err != nil && d.evictErr == nil {
		d.evictErr = err
	}
	c.dirty = false
}

// routeChunk picks the chunk for token: the prefix hint when recorded,
// otherwise the hash route. The hint is populated at insert time, so a token
// stays in the chunk it was first routed to.
func (d *Dictionary) routeChunk(token string) uint32 {
	d.metaMu.RLock()
	defer d.metaMu.RUnlock()
	if cid, ok := d.prefixHint[prefixOf(token)]; ok {
		return cid
	}
	return d.hashRoute(token)
}

func (d *Dictionary) hashRoute(token string) uint32 {
	n := d.numChunks
	if n == 0 {
		n = 1
	}
	return uint32(xxhash.Sum64String(token) % uint64(n))
}

func prefixOf(token string) string {
	if len(token) < 2 {
		return token
	}
	return token[:2]
}

// Lookup resolves token to its term id.
func (d *Dictionary) Lookup(token string) (index.TermID, bool, error) {
	cid := d.routeChunk(token)
	c, err := d.loadChunk(cid)
	if err != nil {
		return 0, false, err
	}
	d.cacheMu.Lock()
	tid, ok := c.entries[token]
	d.cacheMu.Unlock()
	if ok {
		return tid, true, nil
	}
	// The hint may point away from the hash route; fall back once.
	if hashed := func() uint32 {
		d.metaMu.RLock()
		defer d.metaMu.RUnlock()
		return d.hashRoute(token)
	}(); hashed != cid {
		c, err = d.loadChunk(hashed)
		if err != nil {
			return 0, false, err
		}
		d.cacheMu.Lock()
		tid, ok = c.entries[token]
		d.cacheMu.Unlock()
		if ok {
			return tid, true, nil
		}
	}
	return 0, false, nil
}

// GetOrInsert resolves token, allocating a fresh term id if it is new.
func (d *Dictionary) GetOrInsert(token string) (index.TermID, bool, error) {
	if tid, ok, err := d.Lookup(token); err != nil || ok {
		return tid, false, err
	}

	// Allocate under the metadata lock, record the prefix hint, release.
	d.metaMu.Lock()
	cid := d.hashRoute(token)
	tid := d.nextTermID
	d.nextTermID++
	d.totalTerms++
	d.prefixHint[prefixOf(token)] = cid
	d.metaMu.Unlock()

	// Load outside any lock, then insert under the cache lock.
	c, err := d.loadChunk(cid)
	if err != nil {
		return 0, false, err
	}
	d.cacheMu.Lock()
	if existing, ok := c.entries[token]; ok {
		// A concurrent insert won; the allocated id is simply skipped.
		d.cacheMu.Unlock()
		d.metaMu.Lock()
		d.totalTerms--
		d.metaMu.Unlock()
		return existing, false, nil
	}
	c.entries[token] = tid
	c.dirty = true
	err = d.evictErr
	d.evictErr = nil
	d.cacheMu.Unlock()
	if err != nil {
		return 0, false, err
	}
	return tid, true, nil
}

// ReverseLookup scans every chunk for the token owning term id tid. Rare:
// there is no persistent reverse index.
func (d *Dictionary) ReverseLookup(tid index.TermID) (string, bool, error) {
	d.metaMu.RLock()
	n := d.numChunks
	d.metaMu.RUnlock()
	for cid := uint32(0); cid < n; cid++ {
		c, err := d.loadChunk(cid)
		if err != nil {
			return "", false, err
		}
		d.cacheMu.Lock()
		for token, id := range c.entries {
			if id == tid {
				d.cacheMu.Unlock()
				return token, true, nil
			}
		}
		d.cacheMu.Unlock()
	}
	return "", false, nil
}

// Len returns the number of distinct tokens.
func (d *Dictionary) Len() uint64 {
	d.metaMu.RLock()
	defer d.metaMu.RUnlock()
	return d.totalTerms
}

// NextTermID returns the next id the allocator would hand out.
func (d *Dictionary) NextTermID() index.TermID {
	d.metaMu.RLock()
	defer d.metaMu.RUnlock()
	return d.nextTermID
}

// CacheStats returns cumulative chunk-cache hit and miss counts.
func (d *Dictionary) CacheStats() (hits, misses uint64) {
	return d.hits.Load(), d.misses.Load()
}

// Flush persists every dirty chunk and the metadata. Flushed chunks stay in
// the cache: eviction here would cost a disk reload on the next lookup. The
// cache lock is held across the writes so no insert can race a chunk's
// serialization.
func (d *Dictionary) Flush() error {
	d.cacheMu.Lock()
	for _, cid := range d.cache.Keys() {
		c, ok := d.cache.Peek(cid)
		if !ok || !c.dirty {
			continue
		}
		if err := d.writeChunk(c); err != nil {
			d.cacheMu.Unlock()
			return err
		}
		c.dirty = false
	}
	d.cacheMu.Unlock()
	return d.writeMeta()
}

// Close flushes and drops the cache.
func (d *Dictionary) Close() error {
	if err := d.Flush(); err != nil {
		return err
	}
	d.cacheMu.Lock()
	d.cache.Purge()
	d.cacheMu.Unlock()
	return nil
}

// loadChunk returns the chunk with id cid, reading it from disk on miss. A
// chunk with no file yet starts empty.
func (d *Dictionary) loadChunk(cid uint32) (*chunk, error) {
	d.cacheMu.Lock()
	if c, ok := d.cache.Get(cid); ok {
		d.cacheMu.Unlock()
		d.hits.Add(1)
		return c, nil
	}
	d.cacheMu.Unlock()
	d.misses.Add(1)

	c, err := d.readChunk(cid)
	if err != nil {
		return nil, err
	}

	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	// Double-check: a concurrent loader may have installed it already.
	if winner, ok := d.cache.Get(cid); ok {
		return winner, nil
	}
	d.cache.Add(cid, c)
	if err := d.evictErr; err != nil {
		d.evictErr = nil
		return nil, err
	}
	return c, nil
}

func (d *Dictionary) chunkPath(cid uint32) string {
	return filepath.Join(d.dir, fmt.Sprintf(chunkPattern, cid))
}
