// Package btree implements a page-oriented persistent B+Tree mapping 8-byte
// keys to 8-byte values. Page 0 is a superblock holding the root pointer and
// allocator cursor; data pages start at 1 and leaves are chained for range
// scans. A bounded LRU caches pages; dirty pages are written back on
// eviction and at flush.
package btree

import (
	"errors"
	"io"
	"math"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/fenilsonani/motedb/internal/index"
)

// Config tunes a tree instance.
type Config struct {
	// CacheSize is the LRU page capacity. Zero means DefaultPageCache.
	CacheSize int
	// Logger is optional; nil means zap.NewNop(). The tree writes no log
	// events.
	Logger *zap.Logger
}

// Entry is one key/value pair returned by scans.
type Entry struct {
	Key   uint64
	Value uint64
}

// RangeProfile reports the work a range scan performed.
type RangeProfile struct {
	LeavesScanned int
	PagesLoaded   int
}

// BTree is a persistent ordered map from uint64 to uint64.
//
// Concurrency: one writer, many readers. The file mutex is held for the
// duration of each positioned read or write so concurrent flushes cannot
// interleave their syscalls.
type BTree struct {
	path string
	file *os.File

	// fileMu serializes positioned I/O on the backing file.
	fileMu sync.Mutex

	// mu guards the tree structure and superblock fields.
	mu sync.RWMutex
	sb superblock

	cache *pageCache
	log   *zap.Logger
}

// Open opens or creates the tree at path. A zero-byte file is initialized
// with a fresh superblock and yields an empty index.
func Open(path string, cfg Config) (*BTree, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, index.IoError("open btree file", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &BTree{
		path: path,
		file: file,
		log:  logger.Named("btree"),
	}
	t.cache = newPageCache(cfg.CacheSize, t.writeBack)

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, index.IoError("stat btree file", err)
	}

	if info.Size() == 0 {
		t.sb = superblock{rootPID: 0, nextPID: 1, nextAuto: 1}
		if err := t.writeSuperblock(); err != nil {
			file.Close()
			return nil, err
		}
		if err := t.syncFile(); err != nil {
			file.Close()
			return nil, err
		}
		return t, nil
	}

	buf := make([]byte, PageSize)
	if err := t.readAt(buf, 0); err != nil {
		file.Close()
		return nil, err
	}
	sb, err := deserializeSuperblock(buf)
	if err != nil {
		file.Close()
		return nil, err
	}
	if want := int64(sb.nextPID) * PageSize; info.Size() < want {
		file.Close()
		return nil, index.Corruptionf("btree file truncated: %d bytes, superblock expects at least %d", info.Size(), want)
	}
	t.sb = *sb
	return t, nil
}

// Close flushes and releases the backing file.
func (t *BTree) Close() error {
	if err := t.Flush(); err != nil {
		t.file.Close()
		return err
	}
	if err := t.file.Close(); err != nil {
		return index.IoError("close btree file", err)
	}
	return nil
}

// Len returns the number of live entries.
func (t *BTree) Len() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sb.numKeys
}

// AllocateAuto returns the next auto-increment key and advances the cursor.
func (t *BTree) AllocateAuto() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.sb.nextAuto
	t.sb.nextAuto++
	return id
}

// EnsureAuto raises the auto-increment cursor to at least min.
func (t *BTree) EnsureAuto(min uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sb.nextAuto < min {
		t.sb.nextAuto = min
	}
}

// Insert puts (key, value), returning the previous value if the key was
// already present.
func (t *BTree) Insert(key, value uint64) (prev uint64, existed bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sb.rootPID == 0 {
		root := newLeaf(t.allocPID())
		root.keys = []uint64{key}
		root.vals = []uint64{value}
		if err := t.installPage(root, true); err != nil {
			return 0, false, err
		}
		t.sb.rootPID = root.id
		t.sb.numKeys = 1
		if err := t.writeSuperblock(); err != nil {
			return 0, false, err
		}
		return 0, false, nil
	}

	res, err := t.insertRec(t.sb.rootPID, key, value)
	if err != nil {
		return 0, false, err
	}
	if res.split {
		newRoot := newInternal(t.allocPID())
		newRoot.keys = []uint64{res.splitKey}
		newRoot.children = []uint64{t.sb.rootPID, res.newPID}
		if err := t.installPage(newRoot, true); err != nil {
			return 0, false, err
		}
		t.sb.rootPID = newRoot.id
		if err := t.writeSuperblock(); err != nil {
			return 0, false, err
		}
	}
	if !res.existed {
		t.sb.numKeys++
	}
	return res.prev, res.existed, nil
}

type insertResult struct {
	split    bool
	splitKey uint64
	newPID   uint64
	prev     uint64
	existed  bool
}

// insertRec descends recursively and splits full nodes on the way back up.
func (t *BTree) insertRec(pid uint64, key, value uint64) (insertResult, error) {
	cp, err := t.loadPage(pid)
	if err != nil {
		return insertResult{}, err
	}

	cp.mu.Lock()
	p := cp.page
	if p.leaf {
		idx, found := p.find(key)
		if found {
			res := insertResult{prev: p.vals[idx], existed: true}
			p.vals[idx] = value
			cp.dirty = true
			cp.mu.Unlock()
			return res, nil
		}
		p.keys = insertAt(p.keys, idx, key)
		p.vals = insertAt(p.vals, idx, value)
		cp.dirty = true
		if len(p.keys) <= Order {
			cp.mu.Unlock()
			return insertResult{}, nil
		}
		res, err := t.splitLeaf(p)
		cp.mu.Unlock()
		return res, err
	}

	if len(p.children) != len(p.keys)+1 {
		cp.mu.Unlock()
		return insertResult{}, index.Corruptionf("page %d: %d keys with %d children", p.id, len(p.keys), len(p.children))
	}
	ci := p.childIndex(key)
	child := p.children[ci]
	cp.mu.Unlock()

	res, err := t.insertRec(child, key, value)
	if err != nil || !res.split {
		return res, err
	}

	cp.mu.Lock()
	defer cp.mu.Unlock()
	p = cp.page
	p.keys = insertAt(p.keys, ci, res.splitKey)
	p.children = insertAt(p.children, ci+1, res.newPID)
	cp.dirty = true
	out := insertResult{prev: res.prev, existed: res.existed}
	if len(p.keys) <= Order {
		return out, nil
	}
	sp, err := t.splitInternal(p)
	if err != nil {
		return insertResult{}, err
	}
	sp.prev, sp.existed = out.prev, out.existed
	return sp, nil
}

// splitLeaf moves the upper half of p into a fresh page, links it into the
// leaf chain, and promotes the new page's first key.
func (t *BTree) splitLeaf(p *page) (insertResult, error) {
	mid := len(p.keys) / 2
	right := newLeaf(t.allocPID())
	right.keys = append(right.keys, p.keys[mid:]...)
	right.vals = append(right.vals, p.vals[mid:]...)
	right.nextLeaf = p.nextLeaf
	p.keys = p.keys[:mid]
	p.vals = p.vals[:mid]
	p.nextLeaf = right.id
	if err := t.installPage(right, true); err != nil {
		return insertResult{}, err
	}
	return insertResult{split: true, splitKey: right.keys[0], newPID: right.id}, nil
}

// splitInternal pops the middle key out of p, moving everything above it to
// a fresh page, and promotes the popped key.
func (t *BTree) splitInternal(p *page) (insertResult, error) {
	mid := len(p.keys) / 2
	splitKey := p.keys[mid]
	right := newInternal(t.allocPID())
	right.keys = append(right.keys, p.keys[mid+1:]...)
	right.children = append(right.children, p.children[mid+1:]...)
	p.keys = p.keys[:mid]
	p.children = p.children[:mid+1]
	if err := t.installPage(right, true); err != nil {
		return insertResult{}, err
	}
	return insertResult{split: true, splitKey: splitKey, newPID: right.id}, nil
}

// Get returns the value stored under key.
func (t *BTree) Get(key uint64) (uint64, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	pid := t.sb.rootPID
	if pid == 0 {
		return 0, false, nil
	}
	for {
		cp, err := t.loadPage(pid)
		if err != nil {
			return 0, false, err
		}
		cp.mu.RLock()
		p := cp.page
		if p.leaf {
			idx, found := p.find(key)
			if !found {
				cp.mu.RUnlock()
				return 0, false, nil
			}
			v := p.vals[idx]
			cp.mu.RUnlock()
			return v, true, nil
		}
		if len(p.children) != len(p.keys)+1 {
			cp.mu.RUnlock()
			return 0, false, index.Corruptionf("page %d: %d keys with %d children", p.id, len(p.keys), len(p.children))
		}
		next := p.children[p.childIndex(key)]
		cp.mu.RUnlock()
		pid = next
	}
}

// Remove deletes key from its leaf. Rebalancing is deliberately omitted:
// repeated deletes may leave sparse or empty leaves, which stay linked so
// scans remain correct.
func (t *BTree) Remove(key uint64) (uint64, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pid := t.sb.rootPID
	if pid == 0 {
		return 0, false, nil
	}
	for {
		cp, err := t.loadPage(pid)
		if err != nil {
			return 0, false, err
		}
		cp.mu.Lock()
		p := cp.page
		if p.leaf {
			idx, found := p.find(key)
			if !found {
				cp.mu.Unlock()
				return 0, false, nil
			}
			prev := p.vals[idx]
			p.keys = removeAt(p.keys, idx)
			p.vals = removeAt(p.vals, idx)
			cp.dirty = true
			cp.mu.Unlock()
			t.sb.numKeys--
			return prev, true, nil
		}
		if len(p.children) != len(p.keys)+1 {
			cp.mu.Unlock()
			return 0, false, index.Corruptionf("page %d: %d keys with %d children", p.id, len(p.keys), len(p.children))
		}
		next := p.children[p.childIndex(key)]
		cp.mu.Unlock()
		pid = next
	}
}

// Range returns every entry with key in [start, end], ascending.
func (t *BTree) Range(start, end uint64) ([]Entry, error) {
	entries, _, err := t.RangeWithProfile(start, end)
	return entries, err
}

// RangeWithProfile is Range plus a report of the scan's work: the leaf is
// located by descent, then the leaf chain is walked.
func (t *BTree) RangeWithProfile(start, end uint64) ([]Entry, RangeProfile, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var prof RangeProfile
	if t.sb.rootPID == 0 || start > end {
		return nil, prof, nil
	}

	pid := t.sb.rootPID
	for {
		cp, err := t.loadPage(pid)
		if err != nil {
			return nil, prof, err
		}
		prof.PagesLoaded++
		cp.mu.RLock()
		p := cp.page
		if p.leaf {
			cp.mu.RUnlock()
			break
		}
		if len(p.children) != len(p.keys)+1 {
			cp.mu.RUnlock()
			return nil, prof, index.Corruptionf("page %d: %d keys with %d children", p.id, len(p.keys), len(p.children))
		}
		next := p.children[p.childIndex(start)]
		cp.mu.RUnlock()
		pid = next
	}

	var out []Entry
	for pid != 0 {
		cp, err := t.loadPage(pid)
		if err != nil {
			return nil, prof, err
		}
		prof.LeavesScanned++
		cp.mu.RLock()
		p := cp.page
		idx, _ := p.find(start)
		for ; idx < len(p.keys); idx++ {
			if p.keys[idx] > end {
				cp.mu.RUnlock()
				return out, prof, nil
			}
			out = append(out, Entry{Key: p.keys[idx], Value: p.vals[idx]})
		}
		next := p.nextLeaf
		cp.mu.RUnlock()
		pid = next
	}
	return out, prof, nil
}

// Scan returns every entry in ascending key order.
func (t *BTree) Scan() ([]Entry, error) {
	return t.Range(0, math.MaxUint64)
}

// MinKey returns the smallest key, if any.
func (t *BTree) MinKey() (uint64, bool, error) {
	entries, err := t.Range(0, math.MaxUint64)
	if err != nil || len(entries) == 0 {
		return 0, false, err
	}
	return entries[0].Key, true, nil
}

// MaxKey returns the largest key, if any.
func (t *BTree) MaxKey() (uint64, bool, error) {
	// Lazy deletion can leave the rightmost leaves empty, so a rightmost
	// descent is not sufficient; scan the chain instead.
	entries, err := t.Range(0, math.MaxUint64)
	if err != nil || len(entries) == 0 {
		return 0, false, err
	}
	return entries[len(entries)-1].Key, true, nil
}

// Height returns the number of internal levels above the leaves.
func (t *BTree) Height() (int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.sb.rootPID == 0 {
		return 0, nil
	}
	h := 0
	pid := t.sb.rootPID
	for {
		cp, err := t.loadPage(pid)
		if err != nil {
			return 0, err
		}
		cp.mu.RLock()
		p := cp.page
		if p.leaf {
			cp.mu.RUnlock()
			return h, nil
		}
		if len(p.children) == 0 {
			cp.mu.RUnlock()
			return 0, index.Corruptionf("page %d: internal node with no children", p.id)
		}
		next := p.children[0]
		cp.mu.RUnlock()
		pid = next
		h++
	}
}

// NumPages returns the number of allocated pages, superblock included.
func (t *BTree) NumPages() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sb.nextPID
}

// CacheStats returns cumulative page-cache hit and miss counts.
func (t *BTree) CacheStats() (hits, misses uint64) {
	return t.cache.stats()
}

// Flush writes every dirty cached page, syncs the file, rewrites the
// superblock, and drops the page cache to reclaim memory. The next touch of
// a cold page re-reads it from disk.
func (t *BTree) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, cp := range t.cache.snapshot() {
		cp.mu.Lock()
		dirty := cp.dirty
		cp.dirty = false
		cp.mu.Unlock()
		if !dirty {
			continue
		}
		if err := t.writeBack(cp); err != nil {
			cp.mu.Lock()
			cp.dirty = true
			cp.mu.Unlock()
			return err
		}
	}
	if err := t.syncFile(); err != nil {
		return err
	}
	if err := t.writeSuperblock(); err != nil {
		return err
	}
	if err := t.syncFile(); err != nil {
		return err
	}
	t.cache.purge()
	return nil
}

// allocPID hands out the next page id.
func (t *BTree) allocPID() uint64 {
	pid := t.sb.nextPID
	t.sb.nextPID++
	return pid
}

// installPage caches a freshly created page as dirty.
func (t *BTree) installPage(p *page, dirty bool) error {
	return t.cache.put(p.id, &cachedPage{page: p, dirty: dirty})
}

// loadPage returns the cached handle for pid, reading from disk on miss.
func (t *BTree) loadPage(pid uint64) (*cachedPage, error) {
	if pid == 0 {
		return nil, index.Corruptionf("page pointer 0 references the superblock")
	}
	if cp, ok := t.cache.get(pid); ok {
		return cp, nil
	}
	buf := make([]byte, PageSize)
	if err := t.readAt(buf, int64(pid)*PageSize); err != nil {
		return nil, err
	}
	p, err := deserializePage(pid, buf)
	if err != nil {
		return nil, err
	}
	cp := &cachedPage{page: p}
	if err := t.cache.put(pid, cp); err != nil {
		return nil, err
	}
	return cp, nil
}

// writeBack serializes and writes one cached page.
func (t *BTree) writeBack(cp *cachedPage) error {
	cp.mu.RLock()
	p := cp.page
	buf, err := p.serialize()
	cp.mu.RUnlock()
	if err != nil {
		return err
	}
	return t.writeAt(buf, int64(p.id)*PageSize)
}

func (t *BTree) writeSuperblock() error {
	return t.writeAt(t.sb.serialize(), 0)
}

func (t *BTree) readAt(buf []byte, off int64) error {
	t.fileMu.Lock()
	defer t.fileMu.Unlock()
	n, err := t.file.ReadAt(buf, off)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return index.Corruptionf("short read at offset %d: got %d of %d bytes", off, n, len(buf))
		}
		return index.IoError("read page", err)
	}
	return nil
}

func (t *BTree) writeAt(buf []byte, off int64) error {
	t.fileMu.Lock()
	defer t.fileMu.Unlock()
	if _, err := t.file.WriteAt(buf, off); err != nil {
		return index.IoError("write page", err)
	}
	return nil
}

func (t *BTree) syncFile() error {
	t.fileMu.Lock()
	defer t.fileMu.Unlock()
	if err := t.file.Sync(); err != nil {
		return index.IoError("sync btree file", err)
	}
	return nil
}

func insertAt(s []uint64, idx int, v uint64) []uint64 {
	s = append(s, 0)
	copy(s[idx+1:], s[idx:])
	s[idx] = v
	return s
}

func removeAt(s []uint64, idx int) []uint64 {
	copy(s[idx:], s[idx+1:])
	return s[:len(s)-1]
}
