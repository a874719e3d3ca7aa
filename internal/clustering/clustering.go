// Package clustering groups analyzed items into topic clusters with DBSCAN
// over cosine distance.
package clustering

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"polibrief/internal/core"
)

// Config holds DBSCAN and cluster-count band settings
type Config struct {
	Epsilon        float64 // Neighborhood radius in cosine distance
	MinPoints      int     // Neighbors (self included) needed for a core point
	TargetMin      int     // Lower bound of the soft cluster-count band
	TargetMax      int     // Upper bound of the soft cluster-count band
	EpsilonStep    float64 // Epsilon change per adjustment
	MaxAdjustments int     // Adjustment iterations before accepting the result
	MaxLabelChars  int
}

// DefaultConfig returns sensible defaults for DBSCAN clustering
func DefaultConfig() Config {
	return Config{
		Epsilon:        0.35,
		MinPoints:      2,
		TargetMin:      3,
		TargetMax:      5,
		EpsilonStep:    0.05,
		MaxAdjustments: 4,
		MaxLabelChars:  90,
	}
}

// Input is one item to cluster.
type Input struct {
	ItemID           string
	Vector           []float64
	Quality          int
	ExecutiveSummary string
	Title            string
}

// Result is the outcome of a clustering run.
type Result struct {
	Clusters    []core.TopicCluster
	Epsilon     float64 // Epsilon that produced Clusters
	Adjustments int     // Band adjustments performed
	Coherence   Coherence
}

// Engine clusters item vectors.
type Engine struct {
	cfg Config
	log zerolog.Logger
}

// New creates an Engine. Zero fields of cfg take their defaults.
func New(cfg Config, log zerolog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.Epsilon <= 0 || cfg.Epsilon > 2 {
		cfg.Epsilon = def.Epsilon
	}
	if cfg.MinPoints <= 0 {
		cfg.MinPoints = def.MinPoints
	}
	if cfg.TargetMin <= 0 {
		cfg.TargetMin = def.TargetMin
	}
	if cfg.TargetMax < cfg.TargetMin {
		cfg.TargetMax = cfg.TargetMin
	}
	if cfg.EpsilonStep <= 0 {
		cfg.EpsilonStep = def.EpsilonStep
	}
	if cfg.MaxAdjustments < 0 {
		cfg.MaxAdjustments = 0
	}
	if cfg.MaxLabelChars <= 0 {
		cfg.MaxLabelChars = def.MaxLabelChars
	}
	return &Engine{cfg: cfg, log: log.With().Str("component", "clustering").Logger()}
}

// Cluster groups inputs into topic clusters. Every input ends up in exactly one
// cluster; points DBSCAN marks as noise become singleton clusters. The output
// depends only on the set of inputs and the configuration, not on their order.
func (e *Engine) Cluster(inputs []Input) (*Result, error) {
	if len(inputs) == 0 {
		return &Result{Epsilon: e.cfg.Epsilon}, nil
	}

	items := make([]Input, len(inputs))
	copy(items, inputs)
	sort.Slice(items, func(i, j int) bool { return items[i].ItemID < items[j].ItemID })

	if err := validate(items); err != nil {
		return nil, err
	}

	dist := distanceMatrix(items)

	eps := e.cfg.Epsilon
	labels := dbscan(dist, eps, e.cfg.MinPoints)
	count := countClusters(labels)
	adjustments := 0

	// no band adjustment when there are fewer items than the band minimum
	if len(items) >= e.cfg.TargetMin {
		for adjustments < e.cfg.MaxAdjustments {
			next := eps
			switch {
			case count < e.cfg.TargetMin:
				next = eps - e.cfg.EpsilonStep
			case count > e.cfg.TargetMax:
				next = eps + e.cfg.EpsilonStep
			}
			if next == eps || next <= 0 || next > 2 {
				break
			}
			eps = next
			adjustments++
			labels = dbscan(dist, eps, e.cfg.MinPoints)
			count = countClusters(labels)

			e.log.Debug().
				Float64("epsilon", eps).
				Int("clusters", count).
				Int("adjustment", adjustments).
				Msg("adjusted epsilon")
		}
	}

	clusters := e.build(items, labels)

	vectors := make(map[string][]float64, len(items))
	for _, it := range items {
		vectors[it.ItemID] = it.Vector
	}
	coherence := Evaluate(clusters, vectors)

	e.log.Info().
		Int("items", len(items)).
		Int("clusters", len(clusters)).
		Float64("epsilon", eps).
		Int("adjustments", adjustments).
		Float64("silhouette", coherence.AvgSilhouette).
		Float64("cohesion", coherence.AvgCohesion).
		Msg("clustering complete")

	return &Result{Clusters: clusters, Epsilon: eps, Adjustments: adjustments, Coherence: coherence}, nil
}

func validate(items []Input) error {
	dim := len(items[0].Vector)
	for i, it := range items {
		if it.ItemID == "" {
			return core.NewInvalidRequest("clustering input %d has no item id", i)
		}
		if i > 0 && items[i-1].ItemID == it.ItemID {
			return core.NewInvalidRequest("duplicate clustering input %s", it.ItemID)
		}
		if len(it.Vector) == 0 {
			return core.NewInvalidRequest("item %s has no embedding", it.ItemID)
		}
		if len(it.Vector) != dim {
			return core.NewInvalidRequest("item %s has a %d-dimensional embedding, want %d", it.ItemID, len(it.Vector), dim)
		}
	}
	return nil
}

func distanceMatrix(items []Input) [][]float64 {
	n := len(items)
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := CosineDistance(items[i].Vector, items[j].Vector)
			dist[i][j], dist[j][i] = d, d
		}
	}
	return dist
}

const noise = -1

// dbscan labels each point with a cluster number starting at 1, or noise.
// Points are visited in index order so border points go to the first cluster
// that reaches them.
func dbscan(dist [][]float64, eps float64, minPoints int) []int {
	n := len(dist)
	labels := make([]int, n)
	cluster := 0

	for i := 0; i < n; i++ {
		if labels[i] != 0 {
			continue
		}
		seeds := neighbors(dist, i, eps)
		if len(seeds) < minPoints {
			labels[i] = noise
			continue
		}

		cluster++
		labels[i] = cluster
		for k := 0; k < len(seeds); k++ {
			j := seeds[k]
			if labels[j] == noise {
				labels[j] = cluster
			}
			if labels[j] != 0 {
				continue
			}
			labels[j] = cluster
			if nb := neighbors(dist, j, eps); len(nb) >= minPoints {
				seeds = append(seeds, nb...)
			}
		}
	}
	return labels
}

// neighbors returns the points within eps of i, including i.
func neighbors(dist [][]float64, i int, eps float64) []int {
	var out []int
	for j, d := range dist[i] {
		if j == i || d <= eps {
			out = append(out, j)
		}
	}
	return out
}

// countClusters counts dense clusters plus one per noise point.
func countClusters(labels []int) int {
	seen := map[int]bool{}
	count := 0
	for _, l := range labels {
		if l == noise {
			count++
			continue
		}
		if !seen[l] {
			seen[l] = true
			count++
		}
	}
	return count
}

// build turns labels into clusters ordered by their smallest member ID. items
// is sorted by ID, so members collected in index order are already sorted.
func (e *Engine) build(items []Input, labels []int) []core.TopicCluster {
	var groups [][]int
	byLabel := map[int]int{}
	for i, l := range labels {
		if l == noise {
			groups = append(groups, []int{i})
			continue
		}
		idx, ok := byLabel[l]
		if !ok {
			idx = len(groups)
			byLabel[l] = idx
			groups = append(groups, nil)
		}
		groups[idx] = append(groups[idx], i)
	}
	sort.SliceStable(groups, func(a, b int) bool { return groups[a][0] < groups[b][0] })

	clusters := make([]core.TopicCluster, 0, len(groups))
	for n, members := range groups {
		ids := make([]string, len(members))
		vectors := make([][]float64, len(members))
		for k, m := range members {
			ids[k] = items[m].ItemID
			vectors[k] = items[m].Vector
		}
		rep := representative(items, members)
		clusters = append(clusters, core.TopicCluster{
			ID:               fmt.Sprintf("cluster-%d", n+1),
			Label:            e.label(rep),
			ItemIDs:          ids,
			Centroid:         Centroid(vectors),
			RepresentativeID: rep.ItemID,
		})
	}
	return clusters
}

// representative picks the highest quality member, then the longest
// executive summary, then the lowest ID.
func representative(items []Input, members []int) Input {
	best := items[members[0]]
	for _, m := range members[1:] {
		it := items[m]
		switch {
		case it.Quality > best.Quality:
			best = it
		case it.Quality == best.Quality:
			if utf8.RuneCountInString(it.ExecutiveSummary) > utf8.RuneCountInString(best.ExecutiveSummary) {
				best = it
			}
		}
	}
	return best
}

// label is the first sentence of the representative summary, falling back to
// its title.
func (e *Engine) label(rep Input) string {
	text := firstSentence(rep.ExecutiveSummary)
	if text == "" {
		text = strings.TrimSpace(rep.Title)
	}
	if text == "" {
		return "Untitled topic"
	}
	return truncateLabel(text, e.cfg.MaxLabelChars)
}

func firstSentence(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	for i, r := range s {
		if r == '.' || r == '!' || r == '?' {
			// a sentence ends at punctuation followed by a space or the end
			rest := s[i+1:]
			if rest == "" || strings.HasPrefix(rest, " ") {
				return strings.TrimSpace(s[:i+1])
			}
		}
	}
	return s
}

func truncateLabel(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)[:max]
	cut := string(runes)
	if sp := strings.LastIndex(cut, " "); sp > max/2 {
		cut = cut[:sp]
	}
	return strings.TrimRight(cut, " ,;:") + "…"
}
