package memory

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Embedding blob layout: a 4-byte little-endian dimension header followed by
// the float32 values, little-endian. Stored as-is in the memories table.
const (
	blobHeaderSize = 4
	valueByteSize  = 4
)

func encodeVector(vec []float32) ([]byte, error) {
	if len(vec) == 0 {
		return nil, fmt.Errorf("encode vector: empty vector")
	}

	blob := make([]byte, blobHeaderSize+len(vec)*valueByteSize)
	binary.LittleEndian.PutUint32(blob[:blobHeaderSize], uint32(len(vec)))
	for i, v := range vec {
		if !finite(float64(v)) {
			return nil, fmt.Errorf("encode vector: invalid value at index %d", i)
		}
		binary.LittleEndian.PutUint32(blob[blobHeaderSize+i*valueByteSize:], math.Float32bits(v))
	}
	return blob, nil
}

func decodeVector(blob []byte) ([]float32, error) {
	if len(blob) < blobHeaderSize {
		return nil, fmt.Errorf("decode vector: blob too short: %d", len(blob))
	}
	dim := int(binary.LittleEndian.Uint32(blob[:blobHeaderSize]))
	if dim <= 0 || len(blob) != blobHeaderSize+dim*valueByteSize {
		return nil, fmt.Errorf("decode vector: dimension mismatch: dim=%d len=%d", dim, len(blob))
	}

	vec := make([]float32, dim)
	for i := range vec {
		v := math.Float32frombits(binary.LittleEndian.Uint32(blob[blobHeaderSize+i*valueByteSize:]))
		if !finite(float64(v)) {
			return nil, fmt.Errorf("decode vector: invalid value at index %d", i)
		}
		vec[i] = v
	}
	return vec, nil
}

// cosineSimilarity returns the similarity of a and b in [-1, 1].
func cosineSimilarity(a, b []float32) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, fmt.Errorf("cosine similarity: empty vector")
	}
	if len(a) != len(b) {
		return 0, fmt.Errorf("cosine similarity: dimension mismatch: %d vs %d", len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		normA += ai * ai
		normB += bi * bi
	}
	if normA == 0 || normB == 0 {
		return 0, fmt.Errorf("cosine similarity: zero vector norm")
	}

	score := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if score > 1 {
		score = 1
	} else if score < -1 {
		score = -1
	}
	return score, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
