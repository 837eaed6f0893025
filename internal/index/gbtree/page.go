package gbtree

import (
	"encoding/binary"

	"github.com/fenilsonani/motedb/internal/index"
)

// PageSize is the fixed on-disk page payload size.
const PageSize = 16 * 1024

// pageHeaderSize covers the leaf flag, padding, key count, and next-leaf
// pointer.
const pageHeaderSize = 1 + 3 + 4 + 8

// overflowMarker in the length slot means the next 16 bytes are an overflow
// head pointer and total size instead of inline data.
const overflowMarker = 0xFFFFFFFF

// overflowRefSize is the full serialized size of an overflow reference.
const overflowRefSize = 4 + 8 + 8

// DefaultOverflowThreshold is the inline-value size limit; larger values go
// to an overflow chain.
const DefaultOverflowThreshold = 1024

// value is a leaf value: inline bytes, or a reference to an overflow chain
// once spilled.
type value struct {
	inline    []byte
	overflow  bool
	headPID   uint64
	totalSize uint64
}

// worstSize returns the footprint assuming the value will spill: used by the
// conservative max-keys bound.
func worstSize(keySize int) int { return keySize + 4 + 20 }

// maxKeysFor computes the per-page key bound for a key width, conservatively
// assuming every value is an overflow reference. Floored at 4 so tiny pages
// still branch.
func maxKeysFor(keySize int) int {
	n := (PageSize - pageHeaderSize) / worstSize(keySize)
	if n < 4 {
		n = 4
	}
	return n
}

// page is one node. Leaves hold parallel keys/values; internal nodes hold
// keys plus one extra child pointer.
type page[K any] struct {
	id       uint64
	leaf     bool
	nextLeaf uint64
	keys     []K
	vals     []*value // leaf only
	children []uint64 // internal only
}

// byteSize returns the serialized size of the page as it stands, counting
// unspilled large values at their post-spill footprint.
func (p *page[K]) byteSize(keySize, overflowThreshold int) int {
	size := pageHeaderSize
	if p.leaf {
		for _, v := range p.vals {
			size += keySize
			if v.overflow || len(v.inline) > overflowThreshold {
				size += overflowRefSize
			} else {
				size += 4 + len(v.inline)
			}
		}
	} else {
		size += len(p.keys)*keySize + len(p.children)*8
	}
	return size
}

// serialize encodes the page. Every value must already fit: the caller
// spills oversized values to overflow chains first. A computed size beyond
// PageSize indicates a bug in split selection and fails.
func (p *page[K]) serialize(codec KeyCodec[K]) ([]byte, error) {
	keySize := codec.Size()
	buf := make([]byte, PageSize)
	if p.leaf {
		buf[0] = 1
	}
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(p.keys)))
	binary.LittleEndian.PutUint64(buf[8:16], p.nextLeaf)

	off := pageHeaderSize
	write := func(b []byte) error {
		if off+len(b) > PageSize {
			return index.Serializationf("page %d overflows page size at offset %d", p.id, off)
		}
		copy(buf[off:], b)
		off += len(b)
		return nil
	}

	for _, k := range p.keys {
		enc := codec.Encode(k)
		if len(enc) != keySize {
			return nil, index.Serializationf("page %d: key encoded to %d bytes, codec size is %d", p.id, len(enc), keySize)
		}
		if err := write(enc); err != nil {
			return nil, err
		}
	}

	if p.leaf {
		if len(p.vals) != len(p.keys) {
			return nil, index.Serializationf("leaf page %d: %d keys but %d values", p.id, len(p.keys), len(p.vals))
		}
		var scratch [overflowRefSize]byte
		for _, v := range p.vals {
			if v.overflow {
				binary.LittleEndian.PutUint32(scratch[0:4], overflowMarker)
				binary.LittleEndian.PutUint64(scratch[4:12], v.headPID)
				binary.LittleEndian.PutUint64(scratch[12:20], v.totalSize)
				if err := write(scratch[:]); err != nil {
					return nil, err
				}
				continue
			}
			if uint64(len(v.inline)) >= overflowMarker {
				return nil, index.Serializationf("page %d: inline value of %d bytes collides with the overflow marker", p.id, len(v.inline))
			}
			binary.LittleEndian.PutUint32(scratch[0:4], uint32(len(v.inline)))
			if err := write(scratch[:4]); err != nil {
				return nil, err
			}
			if err := write(v.inline); err != nil {
				return nil, err
			}
		}
	} else {
		if len(p.keys) > 0 && len(p.children) != len(p.keys)+1 {
			return nil, index.Serializationf("internal page %d: %d keys but %d children", p.id, len(p.keys), len(p.children))
		}
		var scratch [8]byte
		for _, c := range p.children {
			binary.LittleEndian.PutUint64(scratch[:], c)
			if err := write(scratch[:]); err != nil {
				return nil, err
			}
		}
	}
	return buf, nil
}

// deserializePage decodes and validates one page.
func deserializePage[K any](codec KeyCodec[K], id uint64, buf []byte, maxKeys int) (*page[K], error) {
	if len(buf) < PageSize {
		return nil, index.Corruptionf("page %d: short page, %d bytes", id, len(buf))
	}
	p := &page[K]{id: id, leaf: buf[0] == 1}
	n := int(binary.LittleEndian.Uint32(buf[4:8]))
	p.nextLeaf = binary.LittleEndian.Uint64(buf[8:16])
	if n > maxKeys {
		return nil, index.Corruptionf("page %d: num_keys %d exceeds maximum %d", id, n, maxKeys)
	}

	keySize := codec.Size()
	off := pageHeaderSize
	need := func(want int) error {
		if off+want > len(buf) {
			return index.Corruptionf("page %d: truncated at offset %d", id, off)
		}
		return nil
	}

	p.keys = make([]K, n)
	for i := 0; i < n; i++ {
		if err := need(keySize); err != nil {
			return nil, err
		}
		k, err := codec.Decode(buf[off : off+keySize])
		if err != nil {
			return nil, err
		}
		p.keys[i] = k
		off += keySize
	}

	if p.leaf {
		p.vals = make([]*value, n)
		for i := 0; i < n; i++ {
			if err := need(4); err != nil {
				return nil, err
			}
			length := binary.LittleEndian.Uint32(buf[off : off+4])
			off += 4
			if length == overflowMarker {
				if err := need(16); err != nil {
					return nil, err
				}
				p.vals[i] = &value{
					overflow:  true,
					headPID:   binary.LittleEndian.Uint64(buf[off : off+8]),
					totalSize: binary.LittleEndian.Uint64(buf[off+8 : off+16]),
				}
				off += 16
				continue
			}
			if err := need(int(length)); err != nil {
				return nil, err
			}
			data := make([]byte, length)
			copy(data, buf[off:off+int(length)])
			p.vals[i] = &value{inline: data}
			off += int(length)
		}
	} else if n > 0 {
		p.children = make([]uint64, n+1)
		for i := 0; i <= n; i++ {
			if err := need(8); err != nil {
				return nil, err
			}
			c := binary.LittleEndian.Uint64(buf[off : off+8])
			if c == 0 {
				return nil, index.Corruptionf("page %d: child %d points at the superblock", id, i)
			}
			p.children[i] = c
			off += 8
		}
	}
	return p, nil
}

// findLeaf locates key in a leaf; returns the lower-bound slot and presence.
func (p *page[K]) findLeaf(codec KeyCodec[K], key K) (int, bool) {
	lo, hi := 0, len(p.keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if codec.Compare(p.keys[mid], key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, lo < len(p.keys) && codec.Compare(p.keys[lo], key) == 0
}

// childIndex returns the child slot to descend into: equal-or-greater
// routes right.
func (p *page[K]) childIndex(codec KeyCodec[K], key K) int {
	lo, hi := 0, len(p.keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if codec.Compare(p.keys[mid], key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}
