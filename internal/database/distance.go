package database

import (
	"fmt"
	"math"
)

// DistanceFunc measures how far apart two embeddings are. Smaller is closer.
type DistanceFunc func(a, b []float32) float64

// MaxDistance is returned for vectors that cannot be compared.
const MaxDistance = math.MaxFloat64

// CosineDistance computes the cosine distance between two vectors
// Returns a value between 0 (identical) and 2 (opposite)
// Cosine distance = 1 - cosine similarity
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2.0 // Maximum distance for invalid input
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 2.0
	}

	similarity := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to handle floating point errors
	similarity = max(-1, min(1, similarity))

	return 1 - similarity
}

// EuclideanDistance computes the L2 distance between two vectors, the metric
// dlib-style 128-d face encodings are tuned for (0.6 being the usual tolerance).
// Mismatched or empty vectors are infinitely far apart.
func EuclideanDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return MaxDistance
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// DistanceByName resolves a configured metric name.
func DistanceByName(name string) (DistanceFunc, error) {
	switch name {
	case "", "euclidean":
		return EuclideanDistance, nil
	case "cosine":
		return CosineDistance, nil
	default:
		return nil, fmt.Errorf("unknown distance metric %q", name)
	}
}
