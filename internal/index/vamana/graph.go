package vamana

import (
	"encoding/binary"
	"errors"
	"io"
	"os"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/fenilsonani/motedb/internal/index"
)

// Graph file identity. The magic spells "GRPH".
const (
	graphMagic   = 0x47525048
	graphVersion = 1

	graphHeaderSize = 16

	// tombstoneDegree marks a node-removal record.
	tombstoneDegree = 0xFFFFFFFF

	// DefaultGraphCache is the default neighbor-list LRU capacity.
	DefaultGraphCache = 4096
)

// DiskGraph stores per-node neighbor lists in an append-only file. Edits
// always write a fresh record and repoint the in-memory index; dead bytes
// are reclaimed by Compact.
type DiskGraph struct {
	path      string
	file      *os.File
	maxDegree int

	fileMu sync.Mutex

	mu         sync.RWMutex
	offsets    map[uint64]int64
	nextOffset int64

	// hot is the pinned set (medoid, hubs) that bypasses LRU eviction.
	cacheMu sync.Mutex
	hot     map[uint64][]uint64
	cache   *lru.LRU[uint64, []uint64]
}

// OpenDiskGraph opens or creates the graph file.
func OpenDiskGraph(path string, maxDegree, cacheSize int) (*DiskGraph, error) {
	if maxDegree <= 0 {
		return nil, index.InvalidDataf("graph max degree %d", maxDegree)
	}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, index.IoError("open graph file", err)
	}
	if cacheSize <= 0 {
		cacheSize = DefaultGraphCache
	}
	g := &DiskGraph{
		path:      path,
		file:      file,
		maxDegree: maxDegree,
		offsets:   make(map[uint64]int64),
		hot:       make(map[uint64][]uint64),
	}
	g.cache, err = lru.NewLRU[uint64, []uint64](cacheSize, nil)
	if err != nil {
		file.Close()
		return nil, index.Indexf("graph cache: %v", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, index.IoError("stat graph file", err)
	}
	if info.Size() == 0 {
		g.nextOffset = graphHeaderSize
		if err := g.writeHeader(); err != nil {
			file.Close()
			return nil, err
		}
		return g, nil
	}

	var header [graphHeaderSize]byte
	if err := g.readAt(header[:], 0); err != nil {
		file.Close()
		return nil, err
	}
	if m := binary.LittleEndian.Uint32(header[0:4]); m != graphMagic {
		file.Close()
		return nil, index.Corruptionf("graph file: bad magic 0x%08x", m)
	}
	if v := binary.LittleEndian.Uint32(header[4:8]); v != graphVersion {
		file.Close()
		return nil, index.Corruptionf("graph file: unsupported version %d", v)
	}
	if d := int(binary.LittleEndian.Uint32(header[8:12])); d != maxDegree {
		file.Close()
		return nil, index.InvalidDataf("graph file built with max degree %d, caller expects %d", d, maxDegree)
	}

	// Replay records; later writes for a node win.
	off := int64(graphHeaderSize)
	var rec [12]byte
	for off < info.Size() {
		if err := g.readAt(rec[:], off); err != nil {
			file.Close()
			return nil, err
		}
		rid := binary.LittleEndian.Uint64(rec[0:8])
		degree := binary.LittleEndian.Uint32(rec[8:12])
		if degree == tombstoneDegree {
			delete(g.offsets, rid)
			off += 12
			continue
		}
		if int(degree) > maxDegree {
			file.Close()
			return nil, index.Corruptionf("graph record at offset %d: degree %d exceeds max %d", off, degree, maxDegree)
		}
		g.offsets[rid] = off
		off += 12 + int64(degree)*8
	}
	g.nextOffset = off
	return g, nil
}

// Len returns the number of live nodes.
func (g *DiskGraph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.offsets)
}

// Nodes returns every live node id.
func (g *DiskGraph) Nodes() []uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]uint64, 0, len(g.offsets))
	for rid := range g.offsets {
		out = append(out, rid)
	}
	return out
}

// Contains reports whether node exists.
func (g *DiskGraph) Contains(rid uint64) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.offsets[rid]
	return ok
}

// sanitize enforces the write invariants: no self-loops, sorted, deduped,
// truncated to max degree.
func (g *DiskGraph) sanitize(rid uint64, neighbors []uint64) []uint64 {
	out := make([]uint64, 0, len(neighbors))
	for _, n := range neighbors {
		if n != rid {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	dedup := out[:0]
	var prev uint64
	for i, n := range out {
		if i > 0 && n == prev {
			continue
		}
		dedup = append(dedup, n)
		prev = n
	}
	if len(dedup) > g.maxDegree {
		dedup = dedup[:g.maxDegree]
	}
	return dedup
}

// SetNeighbors replaces node's list, appending a fresh record.
func (g *DiskGraph) SetNeighbors(rid uint64, neighbors []uint64) error {
	clean := g.sanitize(rid, neighbors)

	buf := make([]byte, 12+len(clean)*8)
	binary.LittleEndian.PutUint64(buf[0:8], rid)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(clean)))
	for i, n := range clean {
		binary.LittleEndian.PutUint64(buf[12+i*8:], n)
	}

	g.mu.Lock()
	off := g.nextOffset
	if err := g.writeAt(buf, off); err != nil {
		g.mu.Unlock()
		return err
	}
	g.offsets[rid] = off
	g.nextOffset += int64(len(buf))
	g.mu.Unlock()

	g.cacheMu.Lock()
	if _, pinned := g.hot[rid]; pinned {
		g.hot[rid] = clean
	} else {
		g.cache.Add(rid, clean)
	}
	g.cacheMu.Unlock()
	return nil
}

// Neighbors returns node's list: pinned set first, then LRU, then disk. The
// returned slice is shared and must not be mutated.
func (g *DiskGraph) Neighbors(rid uint64) ([]uint64, bool, error) {
	g.cacheMu.Lock()
	if ns, ok := g.hot[rid]; ok {
		g.cacheMu.Unlock()
		return ns, true, nil
	}
	if ns, ok := g.cache.Get(rid); ok {
		g.cacheMu.Unlock()
		return ns, true, nil
	}
	g.cacheMu.Unlock()

	g.mu.RLock()
	off, ok := g.offsets[rid]
	g.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	ns, got, err := g.readRecord(off)
	if err != nil {
		return nil, false, err
	}
	if got != rid {
		return nil, false, index.Corruptionf("graph record at offset %d belongs to node %d, index says %d", off, got, rid)
	}
	g.cacheMu.Lock()
	g.cache.Add(rid, ns)
	g.cacheMu.Unlock()
	return ns, true, nil
}

// Pin adds node to the hot set that bypasses LRU eviction.
func (g *DiskGraph) Pin(rid uint64) error {
	ns, ok, err := g.Neighbors(rid)
	if err != nil {
		return err
	}
	if !ok {
		ns = nil
	}
	g.cacheMu.Lock()
	g.hot[rid] = ns
	g.cache.Remove(rid)
	g.cacheMu.Unlock()
	return nil
}

// Unpin demotes node back to LRU management.
func (g *DiskGraph) Unpin(rid uint64) {
	g.cacheMu.Lock()
	delete(g.hot, rid)
	g.cacheMu.Unlock()
}

// RemoveNode deletes node, appending a tombstone record.
func (g *DiskGraph) RemoveNode(rid uint64) (bool, error) {
	g.mu.Lock()
	_, ok := g.offsets[rid]
	if !ok {
		g.mu.Unlock()
		return false, nil
	}
	delete(g.offsets, rid)

	var buf [12]byte
	binary.LittleEndian.PutUint64(buf[0:8], rid)
	binary.LittleEndian.PutUint32(buf[8:12], tombstoneDegree)
	off := g.nextOffset
	if err := g.writeAt(buf[:], off); err != nil {
		g.mu.Unlock()
		return false, err
	}
	g.nextOffset += 12
	g.mu.Unlock()

	g.cacheMu.Lock()
	delete(g.hot, rid)
	g.cache.Remove(rid)
	g.cacheMu.Unlock()
	return true, nil
}

// Compact rewrites the file with only live records, in index order,
// reclaiming the bytes dead records and tombstones hold.
func (g *DiskGraph) Compact() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	rids := make([]uint64, 0, len(g.offsets))
	for rid := range g.offsets {
		rids = append(rids, rid)
	}
	sort.Slice(rids, func(i, j int) bool { return rids[i] < rids[j] })

	tmpPath := g.path + ".compact"
	tmp, err := os.Create(tmpPath)
	if err != nil {
		return index.IoError("create graph compaction file", err)
	}
	defer os.Remove(tmpPath)

	var header [graphHeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:4], graphMagic)
	binary.LittleEndian.PutUint32(header[4:8], graphVersion)
	binary.LittleEndian.PutUint32(header[8:12], uint32(g.maxDegree))
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(rids)))
	if _, err := tmp.WriteAt(header[:], 0); err != nil {
		tmp.Close()
		return index.IoError("write graph compaction header", err)
	}

	newOffsets := make(map[uint64]int64, len(rids))
	off := int64(graphHeaderSize)
	for _, rid := range rids {
		ns, got, err := g.readRecord(g.offsets[rid])
		if err != nil {
			tmp.Close()
			return err
		}
		if got != rid {
			tmp.Close()
			return index.Corruptionf("graph compaction: record for %d resolves to %d", rid, got)
		}
		buf := make([]byte, 12+len(ns)*8)
		binary.LittleEndian.PutUint64(buf[0:8], rid)
		binary.LittleEndian.PutUint32(buf[8:12], uint32(len(ns)))
		for i, n := range ns {
			binary.LittleEndian.PutUint64(buf[12+i*8:], n)
		}
		if _, err := tmp.WriteAt(buf, off); err != nil {
			tmp.Close()
			return index.IoError("write graph compaction record", err)
		}
		newOffsets[rid] = off
		off += int64(len(buf))
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return index.IoError("sync graph compaction file", err)
	}
	if err := tmp.Close(); err != nil {
		return index.IoError("close graph compaction file", err)
	}

	g.fileMu.Lock()
	g.file.Close()
	if err := os.Rename(tmpPath, g.path); err != nil {
		g.fileMu.Unlock()
		return index.IoError("swap compacted graph", err)
	}
	file, err := os.OpenFile(g.path, os.O_RDWR, 0644)
	if err != nil {
		g.fileMu.Unlock()
		return index.IoError("reopen graph file", err)
	}
	g.file = file
	g.fileMu.Unlock()

	g.offsets = newOffsets
	g.nextOffset = off
	return nil
}

// Flush rewrites the header (node count) and syncs.
func (g *DiskGraph) Flush() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if err := g.writeHeader(); err != nil {
		return err
	}
	g.fileMu.Lock()
	defer g.fileMu.Unlock()
	if err := g.file.Sync(); err != nil {
		return index.IoError("sync graph file", err)
	}
	return nil
}

// Close flushes and releases the file.
func (g *DiskGraph) Close() error {
	if err := g.Flush(); err != nil {
		g.file.Close()
		return err
	}
	if err := g.file.Close(); err != nil {
		return index.IoError("close graph file", err)
	}
	return nil
}

func (g *DiskGraph) readRecord(off int64) ([]uint64, uint64, error) {
	var rec [12]byte
	if err := g.readAt(rec[:], off); err != nil {
		return nil, 0, err
	}
	rid := binary.LittleEndian.Uint64(rec[0:8])
	degree := binary.LittleEndian.Uint32(rec[8:12])
	if int(degree) > g.maxDegree {
		return nil, 0, index.Corruptionf("graph record at offset %d: degree %d exceeds max %d", off, degree, g.maxDegree)
	}
	buf := make([]byte, int(degree)*8)
	if len(buf) > 0 {
		if err := g.readAt(buf, off+12); err != nil {
			return nil, 0, err
		}
	}
	ns := make([]uint64, degree)
	for i := range ns {
		ns[i] = binary.LittleEndian.Uint64(buf[i*8:])
	}
	return ns, rid, nil
}

func (g *DiskGraph) writeHeader() error {
	var header [graphHeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:4], graphMagic)
	binary.LittleEndian.PutUint32(header[4:8], graphVersion)
	binary.LittleEndian.PutUint32(header[8:12], uint32(g.maxDegree))
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(g.offsets)))
	return g.writeAt(header[:], 0)
}

func (g *DiskGraph) readAt(buf []byte, off int64) error {
	g.fileMu.Lock()
	defer g.fileMu.Unlock()
	n, err := g.file.ReadAt(buf, off)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return index.Corruptionf("graph file: short read at offset %d: got %d of %d bytes", off, n, len(buf))
		}
		return index.IoError("read graph record", err)
	}
	return nil
}

func (g *DiskGraph) writeAt(buf []byte, off int64) error {
	g.fileMu.Lock()
	defer g.fileMu.Unlock()
	if _, err := g.file.WriteAt(buf, off); err != nil {
		return index.IoError("write graph record", err)
	}
	return nil
}
