package vamana

import (
	"encoding/binary"
	"math"
	"os"

	"github.com/google/renameio"

	"github.com/fenilsonani/motedb/internal/index"
)

// QuantizedVector is a per-vector uniform 8-bit quantization: each code
// maps back into [Min, Max].
type QuantizedVector struct {
	Codes []uint8
	Min   float32
	Max   float32
}

// Quantize encodes v with per-vector min/max scaling. A constant vector
// yields all-zero codes.
func Quantize(v []float32) QuantizedVector {
	min, max := v[0], v[0]
	for _, x := range v[1:] {
		if x < min {
			min = x
		}
		if x > max {
			max = x
		}
	}
	codes := make([]uint8, len(v))
	if max > min {
		scale := 255 / (max - min)
		for i, x := range v {
			c := math.Round(float64((x - min) * scale))
			if c < 0 {
				c = 0
			}
			if c > 255 {
				c = 255
			}
			codes[i] = uint8(c)
		}
	}
	return QuantizedVector{Codes: codes, Min: min, Max: max}
}

// Dequantize reconstructs the approximate vector.
func (q *QuantizedVector) Dequantize() []float32 {
	out := make([]float32, len(q.Codes))
	scale := (q.Max - q.Min) / 255
	for i, c := range q.Codes {
		out[i] = float32(c)*scale + q.Min
	}
	return out
}

// AsymmetricCosineDistance computes 1 − cos(q, d̂) keeping the query at full
// precision and decoding the data side on the fly in a single fused pass.
// Degenerate norms return the conservative distance 1.
func AsymmetricCosineDistance(query []float32, data *QuantizedVector) float32 {
	scale := (data.Max - data.Min) / 255
	min := data.Min

	var dot, qNorm, dNorm float32
	for i, qx := range query {
		dx := float32(data.Codes[i])*scale + min
		dot += qx * dx
		qNorm += qx * qx
		dNorm += dx * dx
	}
	if qNorm < 1e-8 || dNorm < 1e-8 {
		return 1
	}
	cos := dot / (float32(math.Sqrt(float64(qNorm))) * float32(math.Sqrt(float64(dNorm))))
	if cos > 1 {
		cos = 1
	}
	if cos < -1 {
		cos = -1
	}
	return 1 - cos
}

// Quantizer file identity: "SQ8\0" then the dimension.
var quantizerMagic = [4]byte{'S', 'Q', '8', 0}

// writeQuantizerFile persists the quantizer parameters.
func writeQuantizerFile(path string, dimension int) error {
	buf := make([]byte, 12)
	copy(buf[0:4], quantizerMagic[:])
	binary.LittleEndian.PutUint64(buf[4:12], uint64(dimension))
	if err := renameio.WriteFile(path, buf, 0644); err != nil {
		return index.IoError("write quantizer file", err)
	}
	return nil
}

// readQuantizerFile validates and returns the persisted dimension, or zero
// when the file does not exist yet.
func readQuantizerFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, index.IoError("read quantizer file", err)
	}
	if len(data) < 12 {
		return 0, index.Corruptionf("quantizer file: short file, %d bytes", len(data))
	}
	if data[0] != 'S' || data[1] != 'Q' || data[2] != '8' || data[3] != 0 {
		return 0, index.Corruptionf("quantizer file: bad magic %q", data[0:4])
	}
	return int(binary.LittleEndian.Uint64(data[4:12])), nil
}
