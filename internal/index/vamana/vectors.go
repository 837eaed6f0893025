package vamana

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/fenilsonani/motedb/internal/index"
)

// DefaultVectorCache is the default decoded-vector LRU capacity; the
// quantized cache holds twice as many because codes are cheaper.
const DefaultVectorCache = 1024

// vectorHeaderSize is the record count header at offset 0.
const vectorHeaderSize = 8

// VectorStore is the SQ8 vector file: a count header followed by
// fixed-size records {row_id, min, max, codes[dim]}. Writes append; updates
// and deletes orphan old bytes until compaction.
type VectorStore struct {
	path string
	file *os.File
	dim  int

	// fileMu serializes positioned I/O.
	fileMu sync.Mutex

	// mu guards the offset index and counters.
	mu         sync.RWMutex
	offsets    map[uint64]int64
	count      uint64 // records written, tombstones included
	nextOffset int64

	// cacheMu guards both LRUs.
	cacheMu   sync.Mutex
	decoded   *lru.LRU[uint64, []float32]
	quantized *lru.LRU[uint64, *QuantizedVector]
}

// recordSize is the on-disk size of one vector record.
func (s *VectorStore) recordSize() int64 { return int64(16 + s.dim) }

// OpenVectorStore opens or creates the store for dim-dimensional vectors,
// scanning existing records to build the row → offset index. A record whose
// min is NaN is a tombstone and removes the row.
func OpenVectorStore(path string, dim, cacheSize int) (*VectorStore, error) {
	if dim <= 0 {
		return nil, index.InvalidDataf("vector dimension %d", dim)
	}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, index.IoError("open vector store", err)
	}
	if cacheSize <= 0 {
		cacheSize = DefaultVectorCache
	}
	s := &VectorStore{
		path:    path,
		file:    file,
		dim:     dim,
		offsets: make(map[uint64]int64),
	}
	s.decoded, err = lru.NewLRU[uint64, []float32](cacheSize, nil)
	if err != nil {
		file.Close()
		return nil, index.Indexf("vector cache: %v", err)
	}
	s.quantized, err = lru.NewLRU[uint64, *QuantizedVector](cacheSize*2, nil)
	if err != nil {
		file.Close()
		return nil, index.Indexf("quantized cache: %v", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, index.IoError("stat vector store", err)
	}
	if info.Size() == 0 {
		s.nextOffset = vectorHeaderSize
		if err := s.writeHeader(); err != nil {
			file.Close()
			return nil, err
		}
		return s, nil
	}

	var header [vectorHeaderSize]byte
	if err := s.readAt(header[:], 0); err != nil {
		file.Close()
		return nil, err
	}
	s.count = binary.LittleEndian.Uint64(header[:])
	if want := vectorHeaderSize + int64(s.count)*s.recordSize(); info.Size() < want {
		file.Close()
		return nil, index.Corruptionf("vector store truncated: %d bytes, header expects %d", info.Size(), want)
	}

	// Later records override earlier ones: the file is append-only.
	buf := make([]byte, s.recordSize())
	off := int64(vectorHeaderSize)
	for i := uint64(0); i < s.count; i++ {
		if err := s.readAt(buf, off); err != nil {
			file.Close()
			return nil, err
		}
		rid := binary.LittleEndian.Uint64(buf[0:8])
		min := math.Float32frombits(binary.LittleEndian.Uint32(buf[8:12]))
		if math.IsNaN(float64(min)) {
			delete(s.offsets, rid)
		} else {
			s.offsets[rid] = off
		}
		off += s.recordSize()
	}
	s.nextOffset = off
	return s, nil
}

// Dim returns the configured dimensionality.
func (s *VectorStore) Dim() int { return s.dim }

// Len returns the number of live vectors.
func (s *VectorStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.offsets)
}

// Contains reports whether rid has a live vector.
func (s *VectorStore) Contains(rid uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.offsets[rid]
	return ok
}

// IDs returns every live row id.
func (s *VectorStore) IDs() []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]uint64, 0, len(s.offsets))
	for rid := range s.offsets {
		out = append(out, rid)
	}
	return out
}

// Insert quantizes and appends vec under rid.
func (s *VectorStore) Insert(rid uint64, vec []float32) error {
	if len(vec) != s.dim {
		return index.InvalidDataf("vector for row %d has dimension %d, store expects %d", rid, len(vec), s.dim)
	}
	q := Quantize(vec)
	if err := s.appendRecord(rid, &q); err != nil {
		return err
	}
	s.cacheMu.Lock()
	s.decoded.Add(rid, append([]float32(nil), vec...))
	s.quantized.Add(rid, &q)
	s.cacheMu.Unlock()
	return nil
}

// BatchInsert appends many vectors.
func (s *VectorStore) BatchInsert(rids []uint64, vecs [][]float32) error {
	if len(rids) != len(vecs) {
		return index.InvalidDataf("batch insert: %d ids for %d vectors", len(rids), len(vecs))
	}
	for i, rid := range rids {
		if err := s.Insert(rid, vecs[i]); err != nil {
			return err
		}
	}
	return nil
}

// Update rewrites rid's vector; the previous record's bytes are orphaned
// until compaction.
func (s *VectorStore) Update(rid uint64, vec []float32) error {
	if !s.Contains(rid) {
		return index.InvalidDataf("update of missing vector row %d", rid)
	}
	return s.Insert(rid, vec)
}

// Delete removes rid, appending a tombstone record so the removal survives
// a reload, and invalidates exactly rid's cache entries.
func (s *VectorStore) Delete(rid uint64) (bool, error) {
	s.mu.Lock()
	_, ok := s.offsets[rid]
	if !ok {
		s.mu.Unlock()
		return false, nil
	}
	delete(s.offsets, rid)
	s.mu.Unlock()

	tomb := QuantizedVector{Codes: make([]uint8, s.dim), Min: float32(math.NaN()), Max: float32(math.NaN())}
	if err := s.appendTombstone(rid, &tomb); err != nil {
		return false, err
	}
	s.cacheMu.Lock()
	s.decoded.Remove(rid)
	s.quantized.Remove(rid)
	s.cacheMu.Unlock()
	return true, nil
}

// Get returns the dequantized vector for rid.
func (s *VectorStore) Get(rid uint64) ([]float32, bool, error) {
	s.cacheMu.Lock()
	if v, ok := s.decoded.Get(rid); ok {
		s.cacheMu.Unlock()
		return v, true, nil
	}
	s.cacheMu.Unlock()

	q, ok, err := s.GetQuantized(rid)
	if err != nil || !ok {
		return nil, false, err
	}
	v := q.Dequantize()
	s.cacheMu.Lock()
	s.decoded.Add(rid, v)
	s.cacheMu.Unlock()
	return v, true, nil
}

// GetQuantized returns the stored quantized form of rid.
func (s *VectorStore) GetQuantized(rid uint64) (*QuantizedVector, bool, error) {
	s.cacheMu.Lock()
	if q, ok := s.quantized.Get(rid); ok {
		s.cacheMu.Unlock()
		return q, true, nil
	}
	s.cacheMu.Unlock()

	s.mu.RLock()
	off, ok := s.offsets[rid]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	q, got, err := s.readRecord(off)
	if err != nil {
		return nil, false, err
	}
	if got != rid {
		return nil, false, index.Corruptionf("vector record at offset %d belongs to row %d, index says %d", off, got, rid)
	}
	s.cacheMu.Lock()
	s.quantized.Add(rid, q)
	s.cacheMu.Unlock()
	return q, true, nil
}

// BatchGetQuantized prefetches the quantized forms of many rows, skipping
// missing ones. Graph search uses it to warm neighbor vectors.
func (s *VectorStore) BatchGetQuantized(rids []uint64) (map[uint64]*QuantizedVector, error) {
	out := make(map[uint64]*QuantizedVector, len(rids))
	for _, rid := range rids {
		q, ok, err := s.GetQuantized(rid)
		if err != nil {
			return nil, err
		}
		if ok {
			out[rid] = q
		}
	}
	return out, nil
}

// Compact rewrites the file keeping only live records, in the given order
// (rows absent from order follow in arbitrary order). Caches survive.
func (s *VectorStore) Compact(order []uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	written := make(map[uint64]bool, len(s.offsets))
	sequence := make([]uint64, 0, len(s.offsets))
	for _, rid := range order {
		if _, ok := s.offsets[rid]; ok && !written[rid] {
			written[rid] = true
			sequence = append(sequence, rid)
		}
	}
	for rid := range s.offsets {
		if !written[rid] {
			sequence = append(sequence, rid)
		}
	}

	tmpPath := s.path + ".compact"
	tmp, err := os.Create(tmpPath)
	if err != nil {
		return index.IoError("create compaction file", err)
	}
	defer os.Remove(tmpPath)

	newOffsets := make(map[uint64]int64, len(sequence))
	off := int64(vectorHeaderSize)
	buf := make([]byte, s.recordSize())
	var header [vectorHeaderSize]byte
	binary.LittleEndian.PutUint64(header[:], uint64(len(sequence)))
	if _, err := tmp.WriteAt(header[:], 0); err != nil {
		tmp.Close()
		return index.IoError("write compaction header", err)
	}
	for _, rid := range sequence {
		if err := s.readAt(buf, s.offsets[rid]); err != nil {
			tmp.Close()
			return err
		}
		if _, err := tmp.WriteAt(buf, off); err != nil {
			tmp.Close()
			return index.IoError("write compaction record", err)
		}
		newOffsets[rid] = off
		off += s.recordSize()
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return index.IoError("sync compaction file", err)
	}
	if err := tmp.Close(); err != nil {
		return index.IoError("close compaction file", err)
	}

	s.fileMu.Lock()
	s.file.Close()
	if err := os.Rename(tmpPath, s.path); err != nil {
		s.fileMu.Unlock()
		return index.IoError("swap compacted vector store", err)
	}
	file, err := os.OpenFile(s.path, os.O_RDWR, 0644)
	if err != nil {
		s.fileMu.Unlock()
		return index.IoError("reopen vector store", err)
	}
	s.file = file
	s.fileMu.Unlock()

	s.offsets = newOffsets
	s.count = uint64(len(sequence))
	s.nextOffset = off
	return nil
}

// Flush rewrites the count header and syncs.
func (s *VectorStore) Flush() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.writeHeader(); err != nil {
		return err
	}
	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	if err := s.file.Sync(); err != nil {
		return index.IoError("sync vector store", err)
	}
	return nil
}

// Close flushes and releases the file.
func (s *VectorStore) Close() error {
	if err := s.Flush(); err != nil {
		s.file.Close()
		return err
	}
	if err := s.file.Close(); err != nil {
		return index.IoError("close vector store", err)
	}
	return nil
}

func (s *VectorStore) appendRecord(rid uint64, q *QuantizedVector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	off := s.nextOffset
	if err := s.writeRecord(off, rid, q); err != nil {
		return err
	}
	s.offsets[rid] = off
	s.count++
	s.nextOffset += s.recordSize()
	return nil
}

func (s *VectorStore) appendTombstone(rid uint64, q *QuantizedVector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	off := s.nextOffset
	if err := s.writeRecord(off, rid, q); err != nil {
		return err
	}
	s.count++
	s.nextOffset += s.recordSize()
	return nil
}

func (s *VectorStore) writeRecord(off int64, rid uint64, q *QuantizedVector) error {
	buf := make([]byte, s.recordSize())
	binary.LittleEndian.PutUint64(buf[0:8], rid)
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(q.Min))
	binary.LittleEndian.PutUint32(buf[12:16], math.Float32bits(q.Max))
	copy(buf[16:], q.Codes)
	return s.writeAt(buf, off)
}

func (s *VectorStore) readRecord(off int64) (*QuantizedVector, uint64, error) {
	buf := make([]byte, s.recordSize())
	if err := s.readAt(buf, off); err != nil {
		return nil, 0, err
	}
	rid := binary.LittleEndian.Uint64(buf[0:8])
	q := &QuantizedVector{
		Min:   math.Float32frombits(binary.LittleEndian.Uint32(buf[8:12])),
		Max:   math.Float32frombits(binary.LittleEndian.Uint32(buf[12:16])),
		Codes: append([]uint8(nil), buf[16:]...),
	}
	return q, rid, nil
}

func (s *VectorStore) writeHeader() error {
	var header [vectorHeaderSize]byte
	binary.LittleEndian.PutUint64(header[:], s.count)
	return s.writeAt(header[:], 0)
}

func (s *VectorStore) readAt(buf []byte, off int64) error {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	n, err := s.file.ReadAt(buf, off)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return index.Corruptionf("vector store: short read at offset %d: got %d of %d bytes", off, n, len(buf))
		}
		return index.IoError("read vector record", err)
	}
	return nil
}

func (s *VectorStore) writeAt(buf []byte, off int64) error {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	if _, err := s.file.WriteAt(buf, off); err != nil {
		return index.IoError("write vector record", err)
	}
	return nil
}
