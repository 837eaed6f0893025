// Package gbtree implements a page-oriented persistent B+Tree over
// fixed-width generic keys and variable-size byte-blob values. Values larger
// than a threshold are spilled to singly-linked overflow page chains; leaf
// splits are chosen by cumulative byte size rather than key count; inserts
// run iteratively with an explicit path stack, so the call stack does not
// grow with tree height.
package gbtree

import (
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/fenilsonani/motedb/internal/index"
)

// Config tunes a tree instance.
type Config struct {
	// CacheSize is the LRU page capacity. Zero means DefaultPageCache.
	CacheSize int
	// OverflowThreshold is the inline value size limit in bytes. Zero means
	// DefaultOverflowThreshold.
	OverflowThreshold int
	// Logger is optional; nil means zap.NewNop(). The tree writes no log
	// events.
	Logger *zap.Logger
}

// Entry is one key/value pair returned by scans.
type Entry[K any] struct {
	Key   K
	Value []byte
}

// Tree is a persistent ordered map from K to []byte.
type Tree[K any] struct {
	path  string
	file  *os.File
	codec KeyCodec[K]

	// fileMu serializes positioned I/O on the backing file.
	fileMu sync.Mutex

	// mu guards the tree structure: root pointer and entry count.
	mu      sync.RWMutex
	rootPID uint64
	numKeys uint64

	// nextPID is atomic because overflow spills allocate pages during
	// eviction write-back, which can run under a read lock.
	nextPID atomic.Uint64

	maxKeys           int
	overflowThreshold int
	cache             *pageCache[K]
	log               *zap.Logger
}

// Open opens or creates a tree at path using codec for keys. A zero-byte
// file is initialized empty; an existing file must match the codec's key
// width.
func Open[K any](path string, codec KeyCodec[K], cfg Config) (*Tree[K], error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, index.IoError("open gbtree file", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	threshold := cfg.OverflowThreshold
	if threshold <= 0 {
		threshold = DefaultOverflowThreshold
	}
	t := &Tree[K]{
		path:              path,
		file:              file,
		codec:             codec,
		maxKeys:           maxKeysFor(codec.Size()),
		overflowThreshold: threshold,
		log:               logger.Named("gbtree"),
	}
	t.cache = newPageCache[K](cfg.CacheSize, t.writeBack)

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, index.IoError("stat gbtree file", err)
	}

	if info.Size() == 0 {
		t.nextPID.Store(1)
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

	buf := make([]byte, superblockSize)
	if err := t.readAt(buf, 0); err != nil {
		file.Close()
		return nil, err
	}
	sb, err := deserializeSuperblock(buf)
	if err != nil {
		file.Close()
		return nil, err
	}
	if int(sb.keySize) != codec.Size() {
		file.Close()
		return nil, index.InvalidDataf("gbtree key size mismatch: file has %d, codec has %d", sb.keySize, codec.Size())
	}
	if want := t.pageOffset(sb.nextPID); info.Size() < want {
		file.Close()
		return nil, index.Corruptionf("gbtree file truncated: %d bytes, superblock expects at least %d", info.Size(), want)
	}
	t.rootPID = sb.rootPID
	t.numKeys = sb.numKeys
	t.nextPID.Store(sb.nextPID)
	return t, nil
}

// Close flushes and releases the backing file.
func (t *Tree[K]) Close() error {
	if err := t.Flush(); err != nil {
		t.file.Close()
		return err
	}
	if err := t.file.Close(); err != nil {
		return index.IoError("close gbtree file", err)
	}
	return nil
}

// Len returns the number of live entries.
func (t *Tree[K]) Len() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.numKeys
}

// CacheStats returns cumulative page-cache hit and miss counts.
func (t *Tree[K]) CacheStats() (hits, misses uint64) {
	return t.cache.stats()
}

// pathFrame records one descent step for the iterative insert.
type pathFrame struct {
	pid      uint64
	childIdx int
}

// Insert puts (key, val), returning the previous value if the key existed.
func (t *Tree[K]) Insert(key K, val []byte) (prev []byte, existed bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rootPID == 0 {
		root := &page[K]{id: t.allocPID(), leaf: true}
		root.keys = []K{key}
		root.vals = []*value{{inline: cloneBytes(val)}}
		if err := t.installPage(root); err != nil {
			return nil, false, err
		}
		t.rootPID = root.id
		t.numKeys = 1
		if err := t.writeSuperblock(); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}

	// Descend with an explicit path stack instead of recursion.
	var stack []pathFrame
	pid := t.rootPID
	var leafCP *cachedPage[K]
	for {
		cp, err := t.loadPage(pid)
		if err != nil {
			return nil, false, err
		}
		cp.mu.RLock()
		p := cp.page
		if p.leaf {
			cp.mu.RUnlock()
			leafCP = cp
			break
		}
		if len(p.children) != len(p.keys)+1 {
			cp.mu.RUnlock()
			return nil, false, index.Corruptionf("page %d: %d keys with %d children", p.id, len(p.keys), len(p.children))
		}
		ci := p.childIndex(t.codec, key)
		next := p.children[ci]
		cp.mu.RUnlock()
		stack = append(stack, pathFrame{pid: pid, childIdx: ci})
		pid = next
	}

	leafCP.mu.Lock()
	leaf := leafCP.page
	idx, found := leaf.findLeaf(t.codec, key)
	if found {
		old := leaf.vals[idx]
		prevBytes, err := t.materialize(old)
		if err != nil {
			leafCP.mu.Unlock()
			return nil, false, err
		}
		leaf.vals[idx] = &value{inline: cloneBytes(val)}
		leafCP.dirty = true
		prev, existed = prevBytes, true
	} else {
		leaf.keys = insertKeyAt(leaf.keys, idx, key)
		leaf.vals = insertValAt(leaf.vals, idx, &value{inline: cloneBytes(val)})
		leafCP.dirty = true
		t.numKeys++
	}

	splitKey, newPID, didSplit, err := t.maybeSplitLeaf(leaf)
	leafCP.mu.Unlock()
	if err != nil {
		return nil, false, err
	}

	// Walk the stack back up, inserting promoted keys and splitting full
	// internal nodes.
	for i := len(stack) - 1; i >= 0 && didSplit; i-- {
		cp, err := t.loadPage(stack[i].pid)
		if err != nil {
			return nil, false, err
		}
		cp.mu.Lock()
		p := cp.page
		ci := stack[i].childIdx
		p.keys = insertKeyAt(p.keys, ci, splitKey)
		p.children = insertPIDAt(p.children, ci+1, newPID)
		cp.dirty = true
		if len(p.keys) <= t.maxKeys {
			didSplit = false
			cp.mu.Unlock()
			break
		}
		splitKey, newPID, err = t.splitInternal(p)
		cp.mu.Unlock()
		if err != nil {
			return nil, false, err
		}
	}

	if didSplit {
		newRoot := &page[K]{id: t.allocPID()}
		newRoot.keys = []K{splitKey}
		newRoot.children = []uint64{t.rootPID, newPID}
		if err := t.installPage(newRoot); err != nil {
			return nil, false, err
		}
		t.rootPID = newRoot.id
		if err := t.writeSuperblock(); err != nil {
			return nil, false, err
		}
	}
	return prev, existed, nil
}

// maybeSplitLeaf splits the leaf when its key count or byte size overflows.
// The split point targets ~40% of the page size on the left, clamped so
// neither side keeps fewer than a quarter of the keys.
func (t *Tree[K]) maybeSplitLeaf(p *page[K]) (K, uint64, bool, error) {
	var zero K
	if len(p.keys) <= t.maxKeys && p.byteSize(t.codec.Size(), t.overflowThreshold) <= PageSize {
		return zero, 0, false, nil
	}
	if len(p.keys) < 2 {
		return zero, 0, false, index.Serializationf("page %d: single entry exceeds page size", p.id)
	}

	split := t.leafSplitPoint(p)
	right := &page[K]{id: t.allocPID(), leaf: true}
	right.keys = append(right.keys, p.keys[split:]...)
	right.vals = append(right.vals, p.vals[split:]...)
	right.nextLeaf = p.nextLeaf
	p.keys = p.keys[:split]
	p.vals = p.vals[:split]
	p.nextLeaf = right.id
	if err := t.installPage(right); err != nil {
		return zero, 0, false, err
	}
	return right.keys[0], right.id, true, nil
}

// leafSplitPoint picks the first index where the cumulative byte size
// reaches the 40% target, clamped to [n/4, 3n/4].
func (t *Tree[K]) leafSplitPoint(p *page[K]) int {
	n := len(p.keys)
	keySize := t.codec.Size()
	target := PageSize * 2 / 5

	split := n / 2
	cum := pageHeaderSize
	for i := 0; i < n; i++ {
		v := p.vals[i]
		if v.overflow || len(v.inline) > t.overflowThreshold {
			cum += keySize + overflowRefSize
		} else {
			cum += keySize + 4 + len(v.inline)
		}
		if cum >= target {
			split = i + 1
			break
		}
	}

	lo, hi := n/4, n*3/4
	if lo < 1 {
		lo = 1
	}
	if hi > n-1 {
		hi = n - 1
	}
	if hi < lo {
		hi = lo
	}
	if split < lo {
		split = lo
	}
	if split > hi {
		split = hi
	}
	return split
}

// splitInternal pops the middle key and promotes it.
func (t *Tree[K]) splitInternal(p *page[K]) (K, uint64, error) {
	mid := len(p.keys) / 2
	splitKey := p.keys[mid]
	right := &page[K]{id: t.allocPID()}
	right.keys = append(right.keys, p.keys[mid+1:]...)
	right.children = append(right.children, p.children[mid+1:]...)
	p.keys = p.keys[:mid]
	p.children = p.children[:mid+1]
	if err := t.installPage(right); err != nil {
		var zero K
		return zero, 0, err
	}
	return splitKey, right.id, nil
}

// Get returns the value stored under key, resolving overflow chains.
func (t *Tree[K]) Get(key K) ([]byte, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cp, err := t.descendToLeaf(key)
	if err != nil || cp == nil {
		return nil, false, err
	}
	cp.mu.RLock()
	p := cp.page
	idx, found := p.findLeaf(t.codec, key)
	if !found {
		cp.mu.RUnlock()
		return nil, false, nil
	}
	v := p.vals[idx]
	cp.mu.RUnlock()
	out, err := t.materialize(v)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// Delete removes key from its leaf and returns the removed value. There is
// no underflow rebalancing; empty leaves stay linked. Overflow pages of a
// deleted value are orphaned until an external rebuild.
func (t *Tree[K]) Delete(key K) ([]byte, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cp, err := t.descendToLeaf(key)
	if err != nil || cp == nil {
		return nil, false, err
	}
	cp.mu.Lock()
	p := cp.page
	idx, found := p.findLeaf(t.codec, key)
	if !found {
		cp.mu.Unlock()
		return nil, false, nil
	}
	old := p.vals[idx]
	p.keys = removeKeyAt(p.keys, idx)
	p.vals = removeValAt(p.vals, idx)
	cp.dirty = true
	cp.mu.Unlock()

	t.numKeys--
	out, err := t.materialize(old)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// Range returns every entry with key in [lo, hi], ascending.
func (t *Tree[K]) Range(lo, hi K) ([]Entry[K], error) {
	return t.RangeWithLimit(lo, hi, 0)
}

// RangeWithLimit is Range capped at limit entries; limit <= 0 means no cap.
func (t *Tree[K]) RangeWithLimit(lo, hi K, limit int) ([]Entry[K], error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.codec.Compare(lo, hi) > 0 {
		return nil, nil
	}
	cp, err := t.descendToLeaf(lo)
	if err != nil || cp == nil {
		return nil, err
	}

	var out []Entry[K]
	for cp != nil {
		cp.mu.RLock()
		p := cp.page
		idx, _ := p.findLeaf(t.codec, lo)
		type pending struct {
			key K
			val *value
		}
		var batch []pending
		done := false
		for ; idx < len(p.keys); idx++ {
			if t.codec.Compare(p.keys[idx], hi) > 0 {
				done = true
				break
			}
			batch = append(batch, pending{key: p.keys[idx], val: p.vals[idx]})
		}
		next := p.nextLeaf
		cp.mu.RUnlock()

		for _, b := range batch {
			data, err := t.materialize(b.val)
			if err != nil {
				return nil, err
			}
			out = append(out, Entry[K]{Key: b.key, Value: data})
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
		if done || next == 0 {
			break
		}
		cp, err = t.loadPage(next)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// RangeKeys returns only the keys in [lo, hi], skipping value
// materialization entirely.
func (t *Tree[K]) RangeKeys(lo, hi K, limit int) ([]K, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.codec.Compare(lo, hi) > 0 {
		return nil, nil
	}
	cp, err := t.descendToLeaf(lo)
	if err != nil || cp == nil {
		return nil, err
	}

	var out []K
	for cp != nil {
		cp.mu.RLock()
		p := cp.page
		idx, _ := p.findLeaf(t.codec, lo)
		done := false
		for ; idx < len(p.keys); idx++ {
			if t.codec.Compare(p.keys[idx], hi) > 0 {
				done = true
				break
			}
			out = append(out, p.keys[idx])
			if limit > 0 && len(out) >= limit {
				done = true
				break
			}
		}
		next := p.nextLeaf
		cp.mu.RUnlock()
		if done || next == 0 {
			break
		}
		cp, err = t.loadPage(next)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// descendToLeaf returns the leaf page that would hold key, or nil for an
// empty tree. Callers hold t.mu.
func (t *Tree[K]) descendToLeaf(key K) (*cachedPage[K], error) {
	pid := t.rootPID
	if pid == 0 {
		return nil, nil
	}
	for {
		cp, err := t.loadPage(pid)
		if err != nil {
			return nil, err
		}
		cp.mu.RLock()
		p := cp.page
		if p.leaf {
			cp.mu.RUnlock()
			return cp, nil
		}
		if len(p.children) != len(p.keys)+1 {
			cp.mu.RUnlock()
			return nil, index.Corruptionf("page %d: %d keys with %d children", p.id, len(p.keys), len(p.children))
		}
		next := p.children[p.childIndex(t.codec, key)]
		cp.mu.RUnlock()
		pid = next
	}
}

// Flush writes every dirty cached page (spilling oversized values first),
// syncs, rewrites the superblock, and drops the page cache.
func (t *Tree[K]) Flush() error {
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

func (t *Tree[K]) allocPID() uint64 {
	return t.nextPID.Add(1) - 1
}

func (t *Tree[K]) installPage(p *page[K]) error {
	return t.cache.put(p.id, &cachedPage[K]{page: p, dirty: true})
}

func (t *Tree[K]) loadPage(pid uint64) (*cachedPage[K], error) {
	if pid == 0 {
		return nil, index.Corruptionf("page pointer 0 references the superblock")
	}
	if cp, ok := t.cache.get(pid); ok {
		return cp, nil
	}
	buf := make([]byte, PageSize)
	if err := t.readAt(buf, t.pageOffset(pid)); err != nil {
		return nil, err
	}
	p, err := deserializePage(t.codec, pid, buf, t.maxKeys)
	if err != nil {
		return nil, err
	}
	cp := &cachedPage[K]{page: p}
	if err := t.cache.put(pid, cp); err != nil {
		return nil, err
	}
	return cp, nil
}

// writeBack spills oversized values, serializes, and writes one page.
func (t *Tree[K]) writeBack(cp *cachedPage[K]) error {
	cp.mu.Lock()
	if err := t.spill(cp.page); err != nil {
		cp.mu.Unlock()
		return err
	}
	buf, err := cp.page.serialize(t.codec)
	pid := cp.page.id
	cp.mu.Unlock()
	if err != nil {
		return err
	}
	return t.writeAt(buf, t.pageOffset(pid))
}

// pageOffset maps a page id to its file offset past the superblock.
func (t *Tree[K]) pageOffset(pid uint64) int64 {
	return superblockSize + int64(pid-1)*PageSize
}

func (t *Tree[K]) writeSuperblock() error {
	sb := superblock{
		rootPID: t.rootPID,
		nextPID: t.nextPID.Load(),
		keySize: uint32(t.codec.Size()),
		numKeys: t.numKeys,
	}
	return t.writeAt(sb.serialize(), 0)
}

func (t *Tree[K]) readAt(buf []byte, off int64) error {
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

func (t *Tree[K]) writeAt(buf []byte, off int64) error {
	t.fileMu.Lock()
	defer t.fileMu.Unlock()
	if _, err := t.file.WriteAt(buf, off); err != nil {
		return index.IoError("write page", err)
	}
	return nil
}

func (t *Tree[K]) syncFile() error {
	t.fileMu.Lock()
	defer t.fileMu.Unlock()
	if err := t.file.Sync(); err != nil {
		return index.IoError("sync gbtree file", err)
	}
	return nil
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func insertKeyAt[K any](s []K, idx int, k K) []K {
	var zero K
	s = append(s, zero)
	copy(s[idx+1:], s[idx:])
	s[idx] = k
	return s
}

func insertValAt(s []*value, idx int, v *value) []*value {
	s = append(s, nil)
	copy(s[idx+1:], s[idx:])
	s[idx] = v
	return s
}

func insertPIDAt(s []uint64, idx int, pid uint64) []uint64 {
	s = append(s, 0)
	copy(s[idx+1:], s[idx:])
	s[idx] = pid
	return s
}

func removeKeyAt[K any](s []K, idx int) []K {
	copy(s[idx:], s[idx+1:])
	return s[:len(s)-1]
}

func removeValAt(s []*value, idx int) []*value {
	copy(s[idx:], s[idx+1:])
	s[len(s)-1] = nil
	return s[:len(s)-1]
}
