package vector

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Float32SliceToBytes encodes an embedding as a length-prefixed
// little-endian byte sequence, the form stored in a record's embedding
// column.
func Float32SliceToBytes(floats []float32) ([]byte, error) {
	buf := new(bytes.Buffer)

	if err := binary.Write(buf, binary.LittleEndian, int32(len(floats))); err != nil {
		return nil, fmt.Errorf("failed to write vector length: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, floats); err != nil {
		return nil, fmt.Errorf("failed to write vector values: %w", err)
	}

	return buf.Bytes(), nil
}

// BytesToFloat32Slice decodes an embedding produced by
// Float32SliceToBytes. A truncated or short payload is an error.
func BytesToFloat32Slice(data []byte) ([]float32, error) {
	buf := bytes.NewReader(data)

	var length int32
	if err := binary.Read(buf, binary.LittleEndian, &length); err != nil {
		return nil, fmt.Errorf("failed to read vector length: %w", err)
	}

	floats := make([]float32, length)
	if err := binary.Read(buf, binary.LittleEndian, floats); err != nil {
		return nil, fmt.Errorf("failed to read vector values: %w", err)
	}

	return floats, nil
}

// CosineSimilarity returns the cosine of the angle between two vectors,
// in [-1, 1]. Mismatched dimensions and zero-magnitude vectors are
// errors rather than a zero score, so callers can tell "unrelated"
// apart from "not comparable".
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same dimension: %d != %d", len(a), len(b))
	}

	var dot, normA, normB float32
	for i := 0; i < len(a); i++ {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0, fmt.Errorf("one or both vectors have zero magnitude")
	}

	return float64(dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))), nil
}
