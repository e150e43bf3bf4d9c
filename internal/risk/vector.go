package risk

import "math"

// align truncates both vectors to the length of the shorter one. Every
// pairwise vector comparison aligns first, so phrase-length differences
// degrade gracefully instead of failing.
func align(a, b []float64) ([]float64, []float64) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	return a[:n], b[:n]
}

// euclideanDistance computes the Euclidean distance between two timing
// vectors after alignment. Empty input yields 0, the identity value for
// distance metrics.
func euclideanDistance(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	a, b = align(a, b)

	sq := 0.0
	for i := range a {
		d := a[i] - b[i]
		sq += d * d
	}
	return math.Sqrt(sq)
}

// cosineSimilarity computes the cosine similarity between two timing
// vectors after alignment, in [-1, 1]. Empty input or two zero-norm
// vectors yield 1.0 ("no deviation"); exactly one zero-norm vector yields
// 0.0, since a direction cannot be compared against none.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 1.0
	}
	a, b = align(a, b)

	dot, normA, normB := 0.0, 0.0, 0.0
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	normA = math.Sqrt(normA)
	normB = math.Sqrt(normB)

	if normA == 0 || normB == 0 {
		if normA == normB {
			return 1.0
		}
		return 0.0
	}
	return dot / (normA * normB)
}

// mean returns the arithmetic mean. Callers guarantee a non-empty slice.
func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
