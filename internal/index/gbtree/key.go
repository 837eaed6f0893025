package gbtree

import (
	"encoding/binary"

	"github.com/fenilsonani/motedb/internal/index"
)

// KeyCodec is the capability set a key type needs: a fixed-width
// serialization and a total order. The tree stores the width at
// construction and never inspects keys beyond this interface.
type KeyCodec[K any] interface {
	// Size returns the fixed encoded width in bytes.
	Size() int
	// Encode serializes k into exactly Size() bytes.
	Encode(k K) []byte
	// Decode parses Size() bytes back into a key.
	Decode(buf []byte) (K, error)
	// Compare orders two keys.
	Compare(a, b K) int
}

// Uint32Codec encodes uint32 keys big-endian so byte order matches numeric
// order.
type Uint32Codec struct{}

// Size implements KeyCodec.
func (Uint32Codec) Size() int { return 4 }

// Encode implements KeyCodec.
func (Uint32Codec) Encode(k uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, k)
	return buf
}

// Decode implements KeyCodec.
func (Uint32Codec) Decode(buf []byte) (uint32, error) {
	if len(buf) < 4 {
		return 0, index.Serializationf("uint32 key: short buffer, %d bytes", len(buf))
	}
	return binary.BigEndian.Uint32(buf), nil
}

// Compare implements KeyCodec.
func (Uint32Codec) Compare(a, b uint32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Uint64Codec encodes uint64 keys big-endian.
type Uint64Codec struct{}

// Size implements KeyCodec.
func (Uint64Codec) Size() int { return 8 }

// Encode implements KeyCodec.
func (Uint64Codec) Encode(k uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, k)
	return buf
}

// Decode implements KeyCodec.
func (Uint64Codec) Decode(buf []byte) (uint64, error) {
	if len(buf) < 8 {
		return 0, index.Serializationf("uint64 key: short buffer, %d bytes", len(buf))
	}
	return binary.BigEndian.Uint64(buf), nil
}

// Compare implements KeyCodec.
func (Uint64Codec) Compare(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
