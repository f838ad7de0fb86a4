package embedding

import "math"

// Distance values outside the embedder's empirical range: similar texts
// cluster near distanceNear, unrelated texts near distanceFar. The
// similarity normalization below maps this range linearly onto [0, 1].
const (
	distanceNear = 0.8
	distanceFar  = 1.5
	// MaxDistance is returned for missing or mismatched vectors.
	MaxDistance = 2.0
)

// CosineDistance computes 1 - cosine similarity between two vectors.
// Missing or mismatched vectors score MaxDistance so they never pass a
// similarity threshold.
func CosineDistance(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return MaxDistance
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return MaxDistance
	}

	return 1.0 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}

// SimilarityScore normalizes a cosine distance into a [0, 1] similarity
// using a fixed linear mapping over the embedder's empirical range.
func SimilarityScore(dist float64) float64 {
	score := (distanceFar - dist) / (distanceFar - distanceNear)
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
