package clustering

import (
	"math"

	"polibrief/internal/core"
)

// Coherence summarizes how well a clustering separates its items.
type Coherence struct {
	Clusters       int     `json:"clusters"`
	Items          int     `json:"items"`
	AvgSilhouette  float64 `json:"avg_silhouette"`   // -1 (misplaced) to 1 (tight and separated)
	AvgCohesion    float64 `json:"avg_cohesion"`     // Mean pairwise similarity inside clusters
	AvgSeparation  float64 `json:"avg_separation"`   // Mean cosine distance between centroids
	MultiItemRatio float64 `json:"multi_item_ratio"` // Share of clusters with more than one member
}

// Evaluate scores clusters against the vectors they were built from.
// vectors maps item ID to embedding; members without a vector are ignored.
func Evaluate(clusters []core.TopicCluster, vectors map[string][]float64) Coherence {
	c := Coherence{Clusters: len(clusters)}
	if len(clusters) == 0 {
		return c
	}

	multi := 0
	for i, cl := range clusters {
		c.Items += len(cl.ItemIDs)
		if len(cl.ItemIDs) > 1 {
			multi++
		}
		c.AvgCohesion += cohesion(cl, vectors)
		c.AvgSilhouette += silhouette(i, clusters, vectors)
	}
	n := float64(len(clusters))
	c.AvgCohesion /= n
	c.AvgSilhouette /= n
	c.MultiItemRatio = float64(multi) / n
	c.AvgSeparation = separation(clusters)
	return c
}

// cohesion is the mean pairwise similarity of a cluster's members.
// Singletons are perfectly cohesive.
func cohesion(cl core.TopicCluster, vectors map[string][]float64) float64 {
	vs := memberVectors(cl, vectors)
	if len(vs) <= 1 {
		return 1
	}
	total, pairs := 0.0, 0
	for i := range vs {
		for j := i + 1; j < len(vs); j++ {
			total += CosineSimilarity(vs[i], vs[j])
			pairs++
		}
	}
	return total / float64(pairs)
}

// silhouette averages s(i) = (b-a)/max(a,b) over the members of clusters[idx].
func silhouette(idx int, clusters []core.TopicCluster, vectors map[string][]float64) float64 {
	own := clusters[idx]
	total, counted := 0.0, 0
	for _, id := range own.ItemIDs {
		v, ok := vectors[id]
		if !ok {
			continue
		}
		counted++
		a, ok := meanDistance(v, own, vectors, id)
		if !ok {
			// a singleton scores 0
			continue
		}
		b := math.MaxFloat64
		for j, other := range clusters {
			if j == idx {
				continue
			}
			if d, ok := meanDistance(v, other, vectors, ""); ok && d < b {
				b = d
			}
		}
		if b == math.MaxFloat64 {
			// single cluster: nothing to be separated from
			b = 1
		}
		if m := math.Max(a, b); m > 0 {
			total += (b - a) / m
		}
	}
	if counted == 0 {
		return 0
	}
	return total / float64(counted)
}

// meanDistance is the mean cosine distance from v to the members of cl other
// than skip. It reports false when no member has a vector.
func meanDistance(v []float64, cl core.TopicCluster, vectors map[string][]float64, skip string) (float64, bool) {
	total, n := 0.0, 0
	for _, id := range cl.ItemIDs {
		if id == skip {
			continue
		}
		if o, ok := vectors[id]; ok {
			total += CosineDistance(v, o)
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return total / float64(n), true
}

func separation(clusters []core.TopicCluster) float64 {
	if len(clusters) <= 1 {
		return 1
	}
	total, pairs := 0.0, 0
	for i := range clusters {
		for j := i + 1; j < len(clusters); j++ {
			if len(clusters[i].Centroid) == 0 || len(clusters[j].Centroid) == 0 {
				continue
			}
			total += CosineDistance(clusters[i].Centroid, clusters[j].Centroid)
			pairs++
		}
	}
	if pairs == 0 {
		return 0
	}
	return total / float64(pairs)
}

func memberVectors(cl core.TopicCluster, vectors map[string][]float64) [][]float64 {
	out := make([][]float64, 0, len(cl.ItemIDs))
	for _, id := range cl.ItemIDs {
		if v, ok := vectors[id]; ok {
			out = append(out, v)
		}
	}
	return out
}
