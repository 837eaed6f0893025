package index

import (
	"bytes"
	"math"
	"testing"
)

func TestEncodeOrderPreserving(t *testing.T) {
	tests := []struct {
		name   string
		lesser Value
		bigger Value
	}{
		{"integers", Integer(1), Integer(2)},
		{"negative integers", Integer(-5), Integer(-1)},
		{"across zero", Integer(-1), Integer(0)},
		{"extremes", Integer(math.MinInt64), Integer(math.MaxInt64)},
		{"floats", Float(1.5), Float(2.5)},
		{"negative floats", Float(-2.5), Float(-1.5)},
		{"floats across zero", Float(-0.1), Float(0.1)},
		{"float extremes", Float(math.Inf(-1)), Float(math.Inf(1))},
		{"timestamps", Timestamp(1000), Timestamp(2000)},
		{"text", Text("abc"), Text("abd")},
		{"text prefix", Text("ab"), Text("abc")},
		{"bool", Bool(false), Bool(true)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := tt.lesser.Encode()
			if err != nil {
				t.Fatalf("Encode(%v) error = %v", tt.lesser, err)
			}
			b, err := tt.bigger.Encode()
			if err != nil {
				t.Fatalf("Encode(%v) error = %v", tt.bigger, err)
			}
			if bytes.Compare(a, b) >= 0 {
				t.Errorf("Encode(%v) >= Encode(%v), want strictly less", tt.lesser, tt.bigger)
			}
		})
	}
}

func TestEncodeUnsupportedKinds(t *testing.T) {
	for _, v := range []Value{Vector([]float32{1}), Spatial(Point(1, 2))} {
		if _, err := v.Encode(); !IsKind(err, KindInvalidData) {
			t.Errorf("Encode(%v) error = %v, want invalid data", v, err)
		}
	}
}

func TestCompare(t *testing.T) {
	c, err := Integer(1).Compare(Integer(2))
	if err != nil || c != -1 {
		t.Errorf("Compare(1, 2) = (%d, %v), want (-1, nil)", c, err)
	}
	c, _ = Text("x").Compare(Text("x"))
	if c != 0 {
		t.Errorf("Compare(x, x) = %d, want 0", c)
	}
}

func TestGeometry(t *testing.T) {
	p := Point(3, 4)
	if p.MinX != 3 || p.MaxX != 3 || p.MinY != 4 || p.MaxY != 4 {
		t.Errorf("Point(3,4) = %+v", p)
	}
	if !Rect(0, 0, 1, 1).Valid() {
		t.Error("Rect(0,0,1,1) not valid")
	}
	if Rect(1, 0, 0, 1).Valid() {
		t.Error("inverted rect reported valid")
	}
}

func TestErrorKinds(t *testing.T) {
	err := Corruptionf("page %d broken", 7)
	if !IsKind(err, KindCorruption) || IsKind(err, KindIo) {
		t.Errorf("kind matching failed for %v", err)
	}
	wrapped := IoError("read", err)
	if wrapped.Unwrap() == nil {
		t.Error("IoError did not wrap cause")
	}
}
