package knowledge

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	blobHeaderSize = 4
	floatSize      = 4
)

// packVector stores a dimension header followed by little-endian float32s.
func packVector(v []float32) ([]byte, error) {
	if len(v) == 0 {
		return nil, fmt.Errorf("pack vector: empty vector")
	}
	blob := make([]byte, blobHeaderSize+len(v)*floatSize)
	binary.LittleEndian.PutUint32(blob[:blobHeaderSize], uint32(len(v)))
	for i, x := range v {
		if !finite(x) {
			return nil, fmt.Errorf("pack vector: invalid value at index %d", i)
		}
		off := blobHeaderSize + i*floatSize
		binary.LittleEndian.PutUint32(blob[off:off+floatSize], math.Float32bits(x))
	}
	return blob, nil
}

func unpackVector(blob []byte) ([]float32, error) {
	if len(blob) < blobHeaderSize {
		return nil, fmt.Errorf("unpack vector: blob too short: %d", len(blob))
	}
	dim := int(binary.LittleEndian.Uint32(blob[:blobHeaderSize]))
	if dim <= 0 || len(blob) != blobHeaderSize+dim*floatSize {
		return nil, fmt.Errorf("unpack vector: dimension mismatch: dim=%d payload=%d", dim, len(blob)-blobHeaderSize)
	}
	v := make([]float32, dim)
	for i := range v {
		off := blobHeaderSize + i*floatSize
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[off : off+floatSize]))
	}
	return v, nil
}

// cosine returns the cosine similarity of a and b, clamped to [-1, 1].
func cosine(a, b []float32) (float64, error) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, fmt.Errorf("cosine: dimension mismatch: %d vs %d", len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, fmt.Errorf("cosine: zero norm")
	}
	score := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return math.Max(-1, math.Min(1, score)), nil
}

func finite(x float32) bool {
	f := float64(x)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
