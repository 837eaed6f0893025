package gbtree

import (
	"encoding/binary"

	"github.com/fenilsonani/motedb/internal/index"
)

// overflowHeaderSize covers the next-page pointer and chunk length.
const overflowHeaderSize = 8 + 4

// overflowCapacity is the data payload per overflow page.
const overflowCapacity = PageSize - overflowHeaderSize

// maxOverflowPages bounds chain walks; a longer chain is corruption.
const maxOverflowPages = 1000

// writeOverflowChain spills data to a freshly allocated singly-linked chain
// of pages and returns the head page id. Pages are written immediately,
// bypassing the page cache.
func (t *Tree[K]) writeOverflowChain(data []byte) (uint64, error) {
	numPages := (len(data) + overflowCapacity - 1) / overflowCapacity
	if numPages == 0 {
		numPages = 1
	}
	pids := make([]uint64, numPages)
	for i := range pids {
		pids[i] = t.allocPID()
	}

	for i := 0; i < numPages; i++ {
		start := i * overflowCapacity
		end := start + overflowCapacity
		if end > len(data) {
			end = len(data)
		}
		chunk := data[start:end]

		buf := make([]byte, PageSize)
		next := uint64(0)
		if i+1 < numPages {
			next = pids[i+1]
		}
		binary.LittleEndian.PutUint64(buf[0:8], next)
		binary.LittleEndian.PutUint32(buf[8:12], uint32(len(chunk)))
		copy(buf[overflowHeaderSize:], chunk)

		if err := t.writeAt(buf, t.pageOffset(pids[i])); err != nil {
			return 0, err
		}
	}
	return pids[0], nil
}

// readOverflowChain walks the chain from headPID, concatenating chunks. The
// reconstructed length must match totalSize.
func (t *Tree[K]) readOverflowChain(headPID, totalSize uint64) ([]byte, error) {
	out := make([]byte, 0, totalSize)
	pid := headPID
	for hops := 0; pid != 0; hops++ {
		if hops >= maxOverflowPages {
			return nil, index.Corruptionf("overflow chain from page %d exceeds %d pages", headPID, maxOverflowPages)
		}
		buf := make([]byte, PageSize)
		if err := t.readAt(buf, t.pageOffset(pid)); err != nil {
			return nil, err
		}
		next := binary.LittleEndian.Uint64(buf[0:8])
		chunkLen := binary.LittleEndian.Uint32(buf[8:12])
		if int(chunkLen) > overflowCapacity {
			return nil, index.Corruptionf("overflow page %d: chunk length %d exceeds capacity %d", pid, chunkLen, overflowCapacity)
		}
		out = append(out, buf[overflowHeaderSize:overflowHeaderSize+int(chunkLen)]...)
		pid = next
	}
	if uint64(len(out)) != totalSize {
		return nil, index.Corruptionf("overflow chain from page %d reconstructed %d bytes, expected %d", headPID, len(out), totalSize)
	}
	return out, nil
}

// materialize returns the full bytes of a leaf value, walking its overflow
// chain if it was spilled.
func (t *Tree[K]) materialize(v *value) ([]byte, error) {
	if v.overflow {
		return t.readOverflowChain(v.headPID, v.totalSize)
	}
	out := make([]byte, len(v.inline))
	copy(out, v.inline)
	return out, nil
}

// spill converts every oversized inline value in the page into an overflow
// reference. Called with the page write lock held, before serialization.
func (t *Tree[K]) spill(p *page[K]) error {
	if !p.leaf {
		return nil
	}
	for _, v := range p.vals {
		if v.overflow || len(v.inline) <= t.overflowThreshold {
			continue
		}
		head, err := t.writeOverflowChain(v.inline)
		if err != nil {
			return err
		}
		v.headPID = head
		v.totalSize = uint64(len(v.inline))
		v.overflow = true
		v.inline = nil
	}
	return nil
}
