package spatial

import (
	"encoding/binary"
	"math"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
	"github.com/golang/snappy"
	lru "github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/fenilsonani/motedb/internal/index"
)

// DefaultHotCells is the default hot-cell LRU capacity.
const DefaultHotCells = 128

// mmapGrowth is the increment the cold file grows by when it fills.
const mmapGrowth = 16 * 1024 * 1024

// coldRef locates a serialized cell in the cold store.
type coldRef struct {
	offset uint64
	length uint32
}

// tieredStore keeps hot cells in a bounded LRU and evicted cells serialized
// (optionally snappy-compressed) in a memory-mapped append-only file. Reads
// promote a cell back into the LRU.
type tieredStore struct {
	mu sync.Mutex

	hot      *lru.LRU[CellID, *miniRTree]
	cold     map[CellID]coldRef
	evictErr error

	useMmap    bool
	compress   bool
	path       string
	file       *os.File
	mm         mmap.MMap
	mapped     int64
	nextOffset int64

	// heap fallback when the mmap tier is disabled
	coldData map[CellID][]byte
}

func newTieredStore(path string, hotSize int, useMmap, compress bool) (*tieredStore, error) {
	if hotSize <= 0 {
		hotSize = DefaultHotCells
	}
	s := &tieredStore{
		cold:     make(map[CellID]coldRef),
		coldData: make(map[CellID][]byte),
		useMmap:  useMmap,
		compress: compress,
		path:     path,
	}
	hot, err := lru.NewLRU[CellID, *miniRTree](hotSize, s.onEvict)
	if err != nil {
		return nil, index.Indexf("hot cell cache: %v", err)
	}
	s.hot = hot

	if useMmap {
		if err := s.openMmap(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *tieredStore) openMmap() error {
	file, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return index.IoError("open spatial cold store", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return index.IoError("stat spatial cold store", err)
	}
	size := info.Size()
	if size < mmapGrowth {
		size = mmapGrowth
		if err := file.Truncate(size); err != nil {
			file.Close()
			return index.IoError("grow spatial cold store", err)
		}
	}
	mm, err := mmap.Map(file, mmap.RDWR, 0)
	if err != nil {
		file.Close()
		return index.IoError("map spatial cold store", err)
	}
	s.file = file
	s.mm = mm
	s.mapped = size
	return nil
}

// ensureCapacity grows and remaps the cold file so n more bytes fit.
func (s *tieredStore) ensureCapacity(n int64) error {
	if s.nextOffset+n <= s.mapped {
		return nil
	}
	newSize := s.mapped
	for s.nextOffset+n > newSize {
		newSize += mmapGrowth
	}
	if err := s.mm.Unmap(); err != nil {
		return index.IoError("unmap spatial cold store", err)
	}
	if err := s.file.Truncate(newSize); err != nil {
		return index.IoError("grow spatial cold store", err)
	}
	mm, err := mmap.Map(s.file, mmap.RDWR, 0)
	if err != nil {
		return index.IoError("remap spatial cold store", err)
	}
	s.mm = mm
	s.mapped = newSize
	return nil
}

// onEvict demotes a victim cell to the cold tier. Runs under s.mu via the
// LRU's Add path.
func (s *tieredStore) onEvict(id CellID, rt *miniRTree) {
	if err := s.writeCold(id, rt); err != nil && s.evictErr == nil {
		s.evictErr = err
	}
}

// writeCold serializes, compresses, and appends one cell, recording its
// (offset, length). Old bytes for the cell are orphaned.
func (s *tieredStore) writeCold(id CellID, rt *miniRTree) error {
	blob := serializeCell(rt)
	if s.compress {
		blob = snappy.Encode(nil, blob)
	}
	if !s.useMmap {
		s.coldData[id] = blob
		s.cold[id] = coldRef{length: uint32(len(blob))}
		return nil
	}
	if err := s.ensureCapacity(int64(len(blob))); err != nil {
		return err
	}
	copy(s.mm[s.nextOffset:], blob)
	s.cold[id] = coldRef{offset: uint64(s.nextOffset), length: uint32(len(blob))}
	s.nextOffset += int64(len(blob))
	return nil
}

// readCold loads a demoted cell back from its tier.
func (s *tieredStore) readCold(id CellID) (*miniRTree, error) {
	ref, ok := s.cold[id]
	if !ok {
		return nil, nil
	}
	var blob []byte
	if s.useMmap {
		if int64(ref.offset)+int64(ref.length) > s.mapped {
			return nil, index.Corruptionf("spatial cell %d: cold ref (%d, %d) beyond mapped %d bytes", id, ref.offset, ref.length, s.mapped)
		}
		blob = s.mm[ref.offset : ref.offset+uint64(ref.length)]
	} else {
		blob = s.coldData[id]
	}
	if s.compress {
		decoded, err := snappy.Decode(nil, blob)
		if err != nil {
			return nil, index.Corruptionf("spatial cell %d: snappy: %v", id, err)
		}
		blob = decoded
	}
	return deserializeCell(blob)
}

// cell returns the mini R-tree for id, promoting it from the cold tier or
// creating it when create is set.
func (s *tieredStore) cell(id CellID, create bool) (*miniRTree, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rt, ok := s.hot.Get(id); ok {
		return rt, nil
	}
	rt, err := s.readCold(id)
	if err != nil {
		return nil, err
	}
	if rt == nil {
		if !create {
			return nil, nil
		}
		rt = &miniRTree{}
	}
	s.hot.Add(id, rt)
	if err := s.evictErr; err != nil {
		s.evictErr = nil
		return nil, err
	}
	return rt, nil
}

// flush demotes every hot cell to the cold tier without dropping it from
// the LRU, then syncs the mapping.
func (s *tieredStore) flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.hot.Keys() {
		rt, ok := s.hot.Peek(id)
		if !ok {
			continue
		}
		if err := s.writeCold(id, rt); err != nil {
			return err
		}
	}
	if s.useMmap {
		if err := s.mm.Flush(); err != nil {
			return index.IoError("flush spatial cold store", err)
		}
	}
	return nil
}

// occupiedCells counts cells present in either tier.
func (s *tieredStore) occupiedCells() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[CellID]struct{}, len(s.cold)+s.hot.Len())
	for _, id := range s.hot.Keys() {
		seen[id] = struct{}{}
	}
	for id := range s.cold {
		seen[id] = struct{}{}
	}
	return len(seen)
}

// reset drops every cell from both tiers; the cold file space is reused
// from its current append point.
func (s *tieredStore) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hot.Purge()
	s.evictErr = nil
	s.cold = make(map[CellID]coldRef)
	s.coldData = make(map[CellID][]byte)
}

func (s *tieredStore) close() error {
	if !s.useMmap {
		return nil
	}
	if err := s.mm.Unmap(); err != nil {
		s.file.Close()
		return index.IoError("unmap spatial cold store", err)
	}
	if err := s.file.Close(); err != nil {
		return index.IoError("close spatial cold store", err)
	}
	return nil
}

// serializeCell encodes a cell: entry count then fixed 24-byte entries.
func serializeCell(rt *miniRTree) []byte {
	buf := make([]byte, 0, 4+len(rt.entries)*24)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(rt.entries)))
	for _, e := range rt.entries {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(e.BBox.MinX))
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(e.BBox.MinY))
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(e.BBox.MaxX))
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(e.BBox.MaxY))
		buf = binary.LittleEndian.AppendUint64(buf, e.RowID)
	}
	return buf
}

func deserializeCell(blob []byte) (*miniRTree, error) {
	if len(blob) < 4 {
		return nil, index.Corruptionf("spatial cell: short blob, %d bytes", len(blob))
	}
	count := int(binary.LittleEndian.Uint32(blob[0:4]))
	if 4+count*24 > len(blob) {
		return nil, index.Corruptionf("spatial cell: %d entries exceed %d-byte blob", count, len(blob))
	}
	rt := &miniRTree{entries: make([]Entry, count)}
	off := 4
	for i := 0; i < count; i++ {
		rt.entries[i] = Entry{
			BBox: BBox32{
				MinX: math.Float32frombits(binary.LittleEndian.Uint32(blob[off : off+4])),
				MinY: math.Float32frombits(binary.LittleEndian.Uint32(blob[off+4 : off+8])),
				MaxX: math.Float32frombits(binary.LittleEndian.Uint32(blob[off+8 : off+12])),
				MaxY: math.Float32frombits(binary.LittleEndian.Uint32(blob[off+12 : off+16])),
			},
			RowID: binary.LittleEndian.Uint64(blob[off+16 : off+24]),
		}
		off += 24
	}
	return rt, nil
}
