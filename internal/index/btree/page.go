package btree

import (
	"encoding/binary"

	"github.com/fenilsonani/motedb/internal/index"
)

// PageSize is the fixed on-disk page payload size.
const PageSize = 16 * 1024

// Order is the maximum number of keys a page may hold.
const Order = 255

// pageHeaderSize is the serialized header length: leaf flag, padding,
// key count, next-leaf pointer.
const pageHeaderSize = 1 + 3 + 4 + 8

// page is one node of the tree. Leaves carry parallel key/value arrays and a
// next-leaf pointer forming the scan chain; internal nodes carry keys plus
// one extra child pointer.
type page struct {
	id       uint64
	leaf     bool
	nextLeaf uint64
	keys     []uint64
	vals     []uint64 // leaf only, len == len(keys)
	children []uint64 // internal only, len == len(keys)+1 when non-empty
}

func newLeaf(id uint64) *page {
	return &page{id: id, leaf: true}
}

func newInternal(id uint64) *page {
	return &page{id: id}
}

// serialize encodes the page into a PageSize buffer. All integers are
// little-endian.
func (p *page) serialize() ([]byte, error) {
	n := len(p.keys)
	if n > Order {
		return nil, index.Serializationf("page %d has %d keys, order is %d", p.id, n, Order)
	}
	if p.leaf {
		if len(p.vals) != n {
			return nil, index.Serializationf("leaf page %d has %d keys but %d values", p.id, n, len(p.vals))
		}
	} else if n > 0 && len(p.children) != n+1 {
		return nil, index.Serializationf("internal page %d has %d keys but %d children", p.id, n, len(p.children))
	}

	buf := make([]byte, PageSize)
	if p.leaf {
		buf[0] = 1
	}
	binary.LittleEndian.PutUint32(buf[4:8], uint32(n))
	binary.LittleEndian.PutUint64(buf[8:16], p.nextLeaf)

	off := pageHeaderSize
	for _, k := range p.keys {
		binary.LittleEndian.PutUint64(buf[off:], k)
		off += 8
	}
	if p.leaf {
		for _, v := range p.vals {
			binary.LittleEndian.PutUint64(buf[off:], v)
			off += 8
		}
	} else {
		for _, c := range p.children {
			binary.LittleEndian.PutUint64(buf[off:], c)
			off += 8
		}
	}
	return buf, nil
}

// deserializePage decodes a page, validating every structural invariant the
// reader depends on. Violations are corruption: the caller must not retry.
func deserializePage(id uint64, buf []byte) (*page, error) {
	if len(buf) < PageSize {
		return nil, index.Corruptionf("page %d: short page, %d bytes", id, len(buf))
	}
	p := &page{id: id, leaf: buf[0] == 1}
	n := int(binary.LittleEndian.Uint32(buf[4:8]))
	p.nextLeaf = binary.LittleEndian.Uint64(buf[8:16])
	if n > Order {
		return nil, index.Corruptionf("page %d: num_keys %d exceeds order %d", id, n, Order)
	}

	off := pageHeaderSize
	p.keys = make([]uint64, n)
	for i := 0; i < n; i++ {
		p.keys[i] = binary.LittleEndian.Uint64(buf[off:])
		off += 8
	}
	if p.leaf {
		p.vals = make([]uint64, n)
		for i := 0; i < n; i++ {
			p.vals[i] = binary.LittleEndian.Uint64(buf[off:])
			off += 8
		}
	} else if n > 0 {
		p.children = make([]uint64, n+1)
		for i := 0; i <= n; i++ {
			c := binary.LittleEndian.Uint64(buf[off:])
			off += 8
			if c == 0 {
				return nil, index.Corruptionf("page %d: child %d points at the superblock", id, i)
			}
			p.children[i] = c
		}
	}
	return p, nil
}

// childIndex returns the child slot to descend into for key:
// equal-or-greater routes right.
func (p *page) childIndex(key uint64) int {
	lo, hi := 0, len(p.keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if p.keys[mid] <= key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// find returns the position of key in a leaf and whether it is present.
func (p *page) find(key uint64) (int, bool) {
	lo, hi := 0, len(p.keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if p.keys[mid] < key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, lo < len(p.keys) && p.keys[lo] == key
}
