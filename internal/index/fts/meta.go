package fts

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/google/renameio"

	"github.com/fenilsonani/motedb/internal/index"
)

// writeMeta persists the index-wide counters and tombstone sets. Callers
// hold ix.mu.
func (ix *Index) writeMeta() error {
	deleted, err := ix.deletedDocs.MarshalBinary()
	if err != nil {
		return index.Serializationf("deleted-doc set: %v", err)
	}

	buf := make([]byte, 0, 64+len(deleted))
	buf = binary.LittleEndian.AppendUint64(buf, ix.totalDocs)
	buf = binary.LittleEndian.AppendUint64(buf, ix.totalTokens)
	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(ix.avgDocLength()))
	if ix.positions {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(deleted)))
	buf = append(buf, deleted...)

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(ix.deletedTermDocs)))
	for tid, set := range ix.deletedTermDocs {
		blob, err := set.MarshalBinary()
		if err != nil {
			return index.Serializationf("deleted (term, doc) set for term %d: %v", tid, err)
		}
		buf = binary.LittleEndian.AppendUint32(buf, tid)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(blob)))
		buf = append(buf, blob...)
	}

	if err := renameio.WriteFile(filepath.Join(ix.dir, metaFile), buf, 0644); err != nil {
		return index.IoError("write fts metadata", err)
	}
	return nil
}

// loadMeta restores counters and tombstones from a prior run.
func (ix *Index) loadMeta() error {
	data, err := os.ReadFile(filepath.Join(ix.dir, metaFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return index.IoError("read fts metadata", err)
	}
	if len(data) < 29 {
		return index.Corruptionf("fts metadata: short file, %d bytes", len(data))
	}
	ix.totalDocs = binary.LittleEndian.Uint64(data[0:8])
	ix.totalTokens = binary.LittleEndian.Uint64(data[8:16])
	// Average doc length at offset 16 is derived; the counters are
	// authoritative on load.
	persistedPositions := data[24] == 1
	if persistedPositions != ix.positions && ix.totalDocs > 0 {
		return index.InvalidDataf("fts index was built with enable_positions=%v", persistedPositions)
	}

	off := 25
	dlen := int(binary.LittleEndian.Uint32(data[off : off+4]))
	off += 4
	if off+dlen > len(data) {
		return index.Corruptionf("fts metadata: truncated deleted-doc set")
	}
	if dlen > 0 {
		if err := ix.deletedDocs.UnmarshalBinary(data[off : off+dlen]); err != nil {
			return index.Corruptionf("fts metadata: deleted-doc set: %v", err)
		}
	}
	off += dlen

	if off+4 > len(data) {
		return index.Corruptionf("fts metadata: truncated term tombstones")
	}
	count := int(binary.LittleEndian.Uint32(data[off : off+4]))
	off += 4
	for i := 0; i < count; i++ {
		if off+8 > len(data) {
			return index.Corruptionf("fts metadata: truncated term tombstone %d", i)
		}
		tid := binary.LittleEndian.Uint32(data[off : off+4])
		blen := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		off += 8
		if off+blen > len(data) {
			return index.Corruptionf("fts metadata: truncated term tombstone %d", i)
		}
		set := roaring64.New()
		if err := set.UnmarshalBinary(data[off : off+blen]); err != nil {
			return index.Corruptionf("fts metadata: term tombstone %d: %v", i, err)
		}
		ix.deletedTermDocs[tid] = set
		off += blen
	}
	return nil
}

// Doc-length files hold (doc id, length) pairs. New lengths append to the
// incremental file each flush; once it passes the merge threshold it is
// folded into the main file to bound its size.

func encodeDocLengths(m map[index.DocID]uint32) []byte {
	buf := make([]byte, 0, 4+len(m)*12)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(m)))
	for doc, dl := range m {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(doc))
		buf = binary.LittleEndian.AppendUint32(buf, dl)
	}
	return buf
}

func decodeDocLengths(data []byte, into map[index.DocID]uint32) error {
	if len(data) < 4 {
		return index.Corruptionf("doc-length file: short file, %d bytes", len(data))
	}
	count := int(binary.LittleEndian.Uint32(data[0:4]))
	off := 4
	for i := 0; i < count; i++ {
		if off+12 > len(data) {
			return index.Corruptionf("doc-length file: truncated at entry %d", i)
		}
		doc := index.DocID(binary.LittleEndian.Uint64(data[off : off+8]))
		into[doc] = binary.LittleEndian.Uint32(data[off+8 : off+12])
		off += 12
	}
	return nil
}

// appendDocLengths folds the flush's new lengths into the incremental file,
// merging into the main file when it has grown enough. Callers hold ix.mu.
func (ix *Index) appendDocLengths() error {
	if len(ix.pendingDocLens) == 0 {
		return nil
	}
	incrPath := filepath.Join(ix.dir, docLenIncr)
	incr := make(map[index.DocID]uint32)
	if data, err := os.ReadFile(incrPath); err == nil {
		if err := decodeDocLengths(data, incr); err != nil {
			return err
		}
	} else if !os.IsNotExist(err) {
		return index.IoError("read incremental doc lengths", err)
	}
	for doc, dl := range ix.pendingDocLens {
		incr[doc] = dl
	}
	ix.pendingDocLens = make(map[index.DocID]uint32)

	if len(incr) >= docLengthMergeThreshold {
		main := make(map[index.DocID]uint32)
		mainPath := filepath.Join(ix.dir, docLenFile)
		if data, err := os.ReadFile(mainPath); err == nil {
			if err := decodeDocLengths(data, main); err != nil {
				return err
			}
		} else if !os.IsNotExist(err) {
			return index.IoError("read doc lengths", err)
		}
		for doc, dl := range incr {
			main[doc] = dl
		}
		if err := renameio.WriteFile(mainPath, encodeDocLengths(main), 0644); err != nil {
			return index.IoError("write doc lengths", err)
		}
		if err := renameio.WriteFile(incrPath, encodeDocLengths(map[index.DocID]uint32{}), 0644); err != nil {
			return index.IoError("reset incremental doc lengths", err)
		}
		ix.incrementalLens = 0
		return nil
	}

	if err := renameio.WriteFile(incrPath, encodeDocLengths(incr), 0644); err != nil {
		return index.IoError("write incremental doc lengths", err)
	}
	ix.incrementalLens = len(incr)
	return nil
}

// loadDocLengths restores the in-memory length map: main file first, then
// the incremental overlay.
func (ix *Index) loadDocLengths() error {
	for _, name := range []string{docLenFile, docLenIncr} {
		data, err := os.ReadFile(filepath.Join(ix.dir, name))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return index.IoError("read doc lengths", err)
		}
		if err := decodeDocLengths(data, ix.docLens); err != nil {
			return err
		}
		if name == docLenIncr {
			ix.incrementalLens = int(binary.LittleEndian.Uint32(data[0:4]))
		}
	}
	// Tombstoned documents do not contribute lengths.
	it := ix.deletedDocs.Iterator()
	for it.HasNext() {
		delete(ix.docLens, index.DocID(it.Next()))
	}
	return nil
}
