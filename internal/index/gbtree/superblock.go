package gbtree

import (
	"encoding/binary"

	"github.com/fenilsonani/motedb/internal/index"
)

// Superblock identity. The magic spells "GBTR".
const (
	superMagic   = 0x47425452
	superVersion = 2
)

// superblockSize is the fixed header length; page pid lives at byte offset
// superblockSize + (pid-1)*PageSize.
const superblockSize = 256

// superblock heads the file: root pointer, allocator cursor, the key width
// the tree was built with, and entry statistics.
type superblock struct {
	rootPID uint64
	nextPID uint64
	keySize uint32
	numKeys uint64
}

func (sb *superblock) serialize() []byte {
	buf := make([]byte, superblockSize)
	binary.LittleEndian.PutUint32(buf[0:4], superMagic)
	binary.LittleEndian.PutUint32(buf[4:8], superVersion)
	binary.LittleEndian.PutUint64(buf[8:16], sb.rootPID)
	binary.LittleEndian.PutUint64(buf[16:24], sb.nextPID)
	binary.LittleEndian.PutUint32(buf[24:28], sb.keySize)
	binary.LittleEndian.PutUint64(buf[28:36], sb.numKeys)
	return buf
}

func deserializeSuperblock(buf []byte) (*superblock, error) {
	if len(buf) < superblockSize {
		return nil, index.Corruptionf("superblock: short read, %d bytes", len(buf))
	}
	if m := binary.LittleEndian.Uint32(buf[0:4]); m != superMagic {
		return nil, index.Corruptionf("superblock: bad magic 0x%08x", m)
	}
	if v := binary.LittleEndian.Uint32(buf[4:8]); v != superVersion {
		return nil, index.Corruptionf("superblock: unsupported version %d", v)
	}
	sb := &superblock{
		rootPID: binary.LittleEndian.Uint64(buf[8:16]),
		nextPID: binary.LittleEndian.Uint64(buf[16:24]),
		keySize: binary.LittleEndian.Uint32(buf[24:28]),
		numKeys: binary.LittleEndian.Uint64(buf[28:36]),
	}
	if sb.nextPID == 0 {
		return nil, index.Corruptionf("superblock: next_pid is 0")
	}
	return sb, nil
}
