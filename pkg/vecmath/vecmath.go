// Package vecmath implements the numeric primitives the hybrid search
// engine needs: cosine similarity between embedding vectors and min/max
// score normalization.
package vecmath

import "math"

// CosineSimilarity returns the cosine similarity of a and b in [-1, 1].
// Mismatched lengths and all-zero vectors both score 0 rather than NaN or
// a panic.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		av, bv := float64(a[i]), float64(b[i])
		dot += av * bv
		normA += av * av
		normB += bv * bv
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// NormalizeMinMax rescales scores to [0, 1] using the min and max present in
// the slice. A single-element or all-equal slice normalizes every score to
// 1, since every candidate is equally the best match within its set.
// Normalizing an already-normalized set (min=0, max=1) is a no-op.
func NormalizeMinMax(scores []float64) []float64 {
	out := make([]float64, len(scores))
	if len(scores) == 0 {
		return out
	}

	min, max := scores[0], scores[0]
	for _, s := range scores[1:] {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}

	if max == min {
		for i := range out {
			out[i] = 1
		}
		return out
	}

	for i, s := range scores {
		out[i] = (s - min) / (max - min)
	}
	return out
}
