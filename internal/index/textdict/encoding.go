package textdict

import (
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/google/renameio"

	"github.com/fenilsonani/motedb/internal/index"
)

// Chunk file layout: chunk id, entry count, then (token length, token bytes,
// term id) triples. Little-endian throughout.

func (d *Dictionary) writeChunk(c *chunk) error {
	size := 8
	for token := range c.entries {
		size += 2 + len(token) + 4
	}
	buf := make([]byte, 0, size)
	buf = binary.LittleEndian.AppendUint32(buf, c.id)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(c.entries)))
	for token, tid := range c.entries {
		if len(token) > 0xFFFF {
			return index.InvalidDataf("token of %d bytes exceeds the dictionary limit", len(token))
		}
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(token)))
		buf = append(buf, token...)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(tid))
	}
	if err := renameio.WriteFile(d.chunkPath(c.id), buf, 0644); err != nil {
		return index.IoError("write dictionary chunk", err)
	}
	return nil
}

func (d *Dictionary) readChunk(cid uint32) (*chunk, error) {
	data, err := os.ReadFile(d.chunkPath(cid))
	if os.IsNotExist(err) {
		return &chunk{id: cid, entries: make(map[string]index.TermID)}, nil
	}
	if err != nil {
		return nil, index.IoError("read dictionary chunk", err)
	}
	if len(data) < 8 {
		return nil, index.Corruptionf("dictionary chunk %d: short file, %d bytes", cid, len(data))
	}
	if got := binary.LittleEndian.Uint32(data[0:4]); got != cid {
		return nil, index.Corruptionf("dictionary chunk %d: file claims chunk id %d", cid, got)
	}
	count := binary.LittleEndian.Uint32(data[4:8])
	entries := make(map[string]index.TermID, count)
	off := 8
	for i := uint32(0); i < count; i++ {
		if off+2 > len(data) {
			return nil, index.Corruptionf("dictionary chunk %d: truncated at entry %d", cid, i)
		}
		tokenLen := int(binary.LittleEndian.Uint16(data[off : off+2]))
		off += 2
		if off+tokenLen+4 > len(data) {
			return nil, index.Corruptionf("dictionary chunk %d: truncated token at entry %d", cid, i)
		}
		token := string(data[off : off+tokenLen])
		off += tokenLen
		entries[token] = index.TermID(binary.LittleEndian.Uint32(data[off : off+4]))
		off += 4
	}
	return &chunk{id: cid, entries: entries}, nil
}

// Metadata layout: total terms, chunk fan-out, next term id, then the
// prefix → chunk hint table.

func (d *Dictionary) writeMeta() error {
	d.metaMu.RLock()
	buf := make([]byte, 0, 24+len(d.prefixHint)*8)
	buf = binary.LittleEndian.AppendUint64(buf, d.totalTerms)
	buf = binary.LittleEndian.AppendUint32(buf, d.numChunks)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(d.nextTermID))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(d.prefixHint)))
	for prefix, cid := range d.prefixHint {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(prefix)))
		buf = append(buf, prefix...)
		buf = binary.LittleEndian.AppendUint32(buf, cid)
	}
	d.metaMu.RUnlock()

	if err := renameio.WriteFile(filepath.Join(d.dir, metaFile), buf, 0644); err != nil {
		return index.IoError("write dictionary metadata", err)
	}
	return nil
}

func (d *Dictionary) loadMeta() error {
	data, err := os.ReadFile(filepath.Join(d.dir, metaFile))
	if os.IsNotExist(err) {
		return nil // fresh dictionary
	}
	if err != nil {
		return index.IoError("read dictionary metadata", err)
	}
	if len(data) < 20 {
		return index.Corruptionf("dictionary metadata: short file, %d bytes", len(data))
	}
	d.metaMu.Lock()
	defer d.metaMu.Unlock()
	d.totalTerms = binary.LittleEndian.Uint64(data[0:8])
	d.numChunks = binary.LittleEndian.Uint32(data[8:12])
	d.nextTermID = index.TermID(binary.LittleEndian.Uint32(data[12:16]))
	hints := binary.LittleEndian.Uint32(data[16:20])
	d.prefixHint = make(map[string]uint32, hints)
	off := 20
	for i := uint32(0); i < hints; i++ {
		if off+2 > len(data) {
			return index.Corruptionf("dictionary metadata: truncated hint %d", i)
		}
		plen := int(binary.LittleEndian.Uint16(data[off : off+2]))
		off += 2
		if off+plen+4 > len(data) {
			return index.Corruptionf("dictionary metadata: truncated hint %d", i)
		}
		prefix := string(data[off : off+plen])
		off += plen
		d.prefixHint[prefix] = binary.LittleEndian.Uint32(data[off : off+4])
		off += 4
	}
	if d.numChunks == 0 {
		return index.Corruptionf("dictionary metadata: zero chunk fan-out")
	}
	return nil
}
