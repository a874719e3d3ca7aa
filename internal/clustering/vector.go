package clustering

import (
	"gonum.org/v1/gonum/floats"
)

// CosineSimilarity returns the cosine of the angle between a and b, clamped to
// [-1, 1]. Zero vectors have similarity 0 with everything.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	sim := floats.Dot(a, b) / (na * nb)
	if sim > 1 {
		sim = 1
	} else if sim < -1 {
		sim = -1
	}
	return sim
}

// CosineDistance is 1 - cosine similarity, in [0, 2].
func CosineDistance(a, b []float64) float64 {
	return 1 - CosineSimilarity(a, b)
}

// Centroid returns the element-wise mean of vectors, which must share a dimension.
func Centroid(vectors [][]float64) []float64 {
	if len(vectors) == 0 {
		return nil
	}
	c := make([]float64, len(vectors[0]))
	for _, v := range vectors {
		floats.Add(c, v)
	}
	floats.Scale(1/float64(len(vectors)), c)
	return c
}
