package index

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// RowID identifies a row, stable across a table's lifetime.
type RowID uint64

// DocID identifies a full-text document; it reuses the row identifier space.
type DocID = RowID

// TermID identifies a token in the text dictionary. Allocated monotonically,
// never reused.
type TermID uint32

// ValueKind tags the Value union.
type ValueKind uint8

// Value kinds, in encoding-tag order. The tag byte leads every encoded value,
// so values of different kinds never interleave in a sorted index.
const (
	KindBool ValueKind = iota + 1
	KindInteger
	KindFloat
	KindTimestamp
	KindText
	KindVector
	KindSpatial
)

// String returns the kind name.
func (k ValueKind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindTimestamp:
		return "timestamp"
	case KindText:
		return "text"
	case KindVector:
		return "vector"
	case KindSpatial:
		return "spatial"
	default:
		return "unknown"
	}
}

// Value is the tagged union of types usable as index keys.
type Value struct {
	Kind  ValueKind
	Int   int64 // Integer, Timestamp (µs since epoch), Bool (0 or 1)
	Float float64
	Text  string
	Vec   []float32
	Geom  Geometry
}

// Bool returns a boolean value.
func Bool(b bool) Value {
	v := Value{Kind: KindBool}
	if b {
		v.Int = 1
	}
	return v
}

// Integer returns a 64-bit integer value.
func Integer(i int64) Value { return Value{Kind: KindInteger, Int: i} }

// Float returns an IEEE-754 double value.
func Float(f float64) Value { return Value{Kind: KindFloat, Float: f} }

// Timestamp returns a timestamp value in microseconds since the epoch.
func Timestamp(us int64) Value { return Value{Kind: KindTimestamp, Int: us} }

// Text returns a UTF-8 string value.
func Text(s string) Value { return Value{Kind: KindText, Text: s} }

// Vector returns a float32 vector value.
func Vector(v []float32) Value { return Value{Kind: KindVector, Vec: v} }

// Spatial returns a geometry value.
func Spatial(g Geometry) Value { return Value{Kind: KindSpatial, Geom: g} }

// String renders the value for diagnostics.
func (v Value) String() string {
	switch v.Kind {
	case KindBool:
		return fmt.Sprintf("bool(%v)", v.Int != 0)
	case KindInteger:
		return fmt.Sprintf("int(%d)", v.Int)
	case KindFloat:
		return fmt.Sprintf("float(%g)", v.Float)
	case KindTimestamp:
		return fmt.Sprintf("ts(%d)", v.Int)
	case KindText:
		return fmt.Sprintf("text(%q)", v.Text)
	case KindVector:
		return fmt.Sprintf("vector(dim=%d)", len(v.Vec))
	case KindSpatial:
		return fmt.Sprintf("spatial(%v)", v.Geom)
	default:
		return "value(?)"
	}
}

// Encode serializes the value to a lexicographically comparable byte string:
// bytes.Compare over two encodings of the same kind matches the natural
// ordering of the values. Vector and spatial values are not orderable and
// return an invalid-data error.
//
// Integers and timestamps flip the sign bit of their big-endian form; floats
// use the IEEE-754 total-order transformation so negative values sort before
// positive ones.
func (v Value) Encode() ([]byte, error) {
	switch v.Kind {
	case KindBool:
		b := byte(0)
		if v.Int != 0 {
			b = 1
		}
		return []byte{byte(KindBool), b}, nil
	case KindInteger, KindTimestamp:
		out := make([]byte, 9)
		out[0] = byte(v.Kind)
		binary.BigEndian.PutUint64(out[1:], uint64(v.Int)^(1<<63))
		return out, nil
	case KindFloat:
		out := make([]byte, 9)
		out[0] = byte(KindFloat)
		binary.BigEndian.PutUint64(out[1:], floatSortBits(v.Float))
		return out, nil
	case KindText:
		out := make([]byte, 1+len(v.Text))
		out[0] = byte(KindText)
		copy(out[1:], v.Text)
		return out, nil
	default:
		return nil, InvalidDataf("value kind %s is not indexable as a sort key", v.Kind)
	}
}

// Compare orders two values by their encodings.
func (v Value) Compare(other Value) (int, error) {
	a, err := v.Encode()
	if err != nil {
		return 0, err
	}
	b, err := other.Encode()
	if err != nil {
		return 0, err
	}
	return bytes.Compare(a, b), nil
}

// floatSortBits maps a float64 onto a uint64 whose unsigned ordering equals
// the IEEE-754 total order: non-negative values get the sign bit set,
// negative values are fully inverted.
func floatSortBits(f float64) uint64 {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		return ^bits
	}
	return bits | (1 << 63)
}

// Geometry is an axis-aligned shape indexed by the spatial family. Points
// are rectangles with zero extent.
type Geometry struct {
	MinX, MinY, MaxX, MaxY float64
}

// Point returns a degenerate rectangle at (x, y).
func Point(x, y float64) Geometry {
	return Geometry{MinX: x, MinY: y, MaxX: x, MaxY: y}
}

// Rect returns a rectangle spanning the two corners.
func Rect(minX, minY, maxX, maxY float64) Geometry {
	return Geometry{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY}
}

// Valid reports whether the geometry is a well-formed rectangle.
func (g Geometry) Valid() bool {
	return g.MinX <= g.MaxX && g.MinY <= g.MaxY &&
		!math.IsNaN(g.MinX) && !math.IsNaN(g.MinY) &&
		!math.IsNaN(g.MaxX) && !math.IsNaN(g.MaxY)
}
