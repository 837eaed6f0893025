package column

import (
	"bytes"
	"encoding/binary"

	"github.com/fenilsonani/motedb/internal/index"
)

// keySize is the fixed composite key width in the generic B+Tree.
const keySize = 64

// valueCap is the room left for encoded value bytes after the 2-byte length
// prefix and the 8-byte row id.
const valueCap = keySize - 2 - 8

// compositeKey is (value_bytes, row_id): sorted first by value so that all
// row ids sharing a value form a contiguous key range, which serves both
// equality and value-range queries.
//
// Encoded values longer than valueCap are truncated for key purposes;
// equality over such values degrades to prefix equality.
type compositeKey struct {
	valueBytes []byte
	rowID      uint64
}

// compositeCodec implements gbtree.KeyCodec for compositeKey.
type compositeCodec struct{}

// Size implements KeyCodec.
func (compositeCodec) Size() int { return keySize }

// Encode implements KeyCodec: 2-byte big-endian length, value bytes,
// zero padding, 8-byte big-endian row id.
func (compositeCodec) Encode(k compositeKey) []byte {
	buf := make([]byte, keySize)
	vb := k.valueBytes
	if len(vb) > valueCap {
		vb = vb[:valueCap]
	}
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(vb)))
	copy(buf[2:], vb)
	binary.BigEndian.PutUint64(buf[keySize-8:], k.rowID)
	return buf
}

// Decode implements KeyCodec.
func (compositeCodec) Decode(buf []byte) (compositeKey, error) {
	if len(buf) < keySize {
		return compositeKey{}, index.Serializationf("composite key: short buffer, %d bytes", len(buf))
	}
	length := int(binary.BigEndian.Uint16(buf[0:2]))
	if length > valueCap {
		return compositeKey{}, index.Corruptionf("composite key: value length %d exceeds capacity %d", length, valueCap)
	}
	vb := make([]byte, length)
	copy(vb, buf[2:2+length])
	return compositeKey{
		valueBytes: vb,
		rowID:      binary.BigEndian.Uint64(buf[keySize-8:]),
	}, nil
}

// Compare implements KeyCodec: value bytes first, row id second.
func (compositeCodec) Compare(a, b compositeKey) int {
	if c := bytes.Compare(a.valueBytes, b.valueBytes); c != 0 {
		return c
	}
	switch {
	case a.rowID < b.rowID:
		return -1
	case a.rowID > b.rowID:
		return 1
	default:
		return 0
	}
}

// encodeValue serializes a typed value for key use, truncating to the key
// slot. Unsupported value kinds surface as invalid-data errors.
func encodeValue(v index.Value) ([]byte, error) {
	vb, err := v.Encode()
	if err != nil {
		return nil, err
	}
	if len(vb) > valueCap {
		vb = vb[:valueCap]
	}
	return vb, nil
}

// maxValueBytes is an upper bound beyond any encoded value in the key slot.
func maxValueBytes() []byte {
	return bytes.Repeat([]byte{0xFF}, valueCap)
}
