// Package vector holds embedding math shared by the stores.
package vector

import (
	"fmt"
	"math"

	"github.com/arturoeanton/go-git-rag/internal/port"
)

// CosineSimilarity returns dot(a,b)/(|a||b|).
// Vectors of different length fail with port.ErrDimensionMismatch.
// If either vector has zero norm the similarity is 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", port.ErrDimensionMismatch, len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// CosineDistance is 1 - CosineSimilarity.
func CosineDistance(a, b []float32) (float64, error) {
	sim, err := CosineSimilarity(a, b)
	if err != nil {
		return 0, err
	}
	return 1 - sim, nil
}
