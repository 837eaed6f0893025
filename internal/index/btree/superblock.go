package btree

import (
	"encoding/binary"

	"github.com/fenilsonani/motedb/internal/index"
)

// Superblock identity. The magic spells "BTRE".
const (
	superMagic   = 0x42545245
	superVersion = 1
)

// superblock is page 0: the root pointer, the page allocator cursor, and the
// per-family statistics that must survive a reopen.
type superblock struct {
	rootPID  uint64
	nextPID  uint64
	numKeys  uint64 // live entries
	nextAuto uint64 // auto-increment cursor for the primary-key wrapper
}

func (sb *superblock) serialize() []byte {
	buf := make([]byte, PageSize)
	binary.LittleEndian.PutUint32(buf[0:4], superMagic)
	binary.LittleEndian.PutUint32(buf[4:8], superVersion)
	binary.LittleEndian.PutUint64(buf[8:16], sb.rootPID)
	binary.LittleEndian.PutUint64(buf[16:24], sb.nextPID)
	binary.LittleEndian.PutUint64(buf[24:32], sb.numKeys)
	binary.LittleEndian.PutUint64(buf[32:40], sb.nextAuto)
	return buf
}

func deserializeSuperblock(buf []byte) (*superblock, error) {
	if len(buf) < 40 {
		return nil, index.Corruptionf("superblock: short read, %d bytes", len(buf))
	}
	if m := binary.LittleEndian.Uint32(buf[0:4]); m != superMagic {
		return nil, index.Corruptionf("superblock: bad magic 0x%08x", m)
	}
	if v := binary.LittleEndian.Uint32(buf[4:8]); v != superVersion {
		return nil, index.Corruptionf("superblock: unsupported version %d", v)
	}
	sb := &superblock{
		rootPID:  binary.LittleEndian.Uint64(buf[8:16]),
		nextPID:  binary.LittleEndian.Uint64(buf[16:24]),
		numKeys:  binary.LittleEndian.Uint64(buf[24:32]),
		nextAuto: binary.LittleEndian.Uint64(buf[32:40]),
	}
	if sb.nextPID == 0 {
		return nil, index.Corruptionf("superblock: next_pid is 0")
	}
	return sb, nil
}
