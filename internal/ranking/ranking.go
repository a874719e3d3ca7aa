// Package ranking scores items and topic clusters by quality, freshness and
// engagement potential.
package ranking

import (
	"math"
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"polibrief/internal/core"
)

// Aggregation selects how member importances combine into a cluster score.
type Aggregation string

const (
	AggregateMean Aggregation = "mean"
	AggregateMax  Aggregation = "max"
)

// Config holds ranking settings
type Config struct {
	HalfLife         time.Duration // Freshness half-life
	Aggregation      Aggregation
	MinQualityWeight float64 // Boost per unit of the best member's normalized quality
	LengthTarget     int     // Word count that earns the full length credit
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		HalfLife:         24 * time.Hour,
		Aggregation:      AggregateMean,
		MinQualityWeight: 0.5,
		LengthTarget:     800,
	}
}

// Item is the ranking view of an analyzed item.
type Item struct {
	ID          string
	Quality     int     // 1..10
	Credibility float64 // 1..10
	Words       int
	CapturedAt  time.Time
}

// ItemFromAnalyzed builds the ranking view of an analyzed item.
func ItemFromAnalyzed(a core.AnalyzedItem) Item {
	return Item{
		ID:          a.Item.ID,
		Quality:     a.Analysis.QualityScore,
		Credibility: a.Analysis.CredibilityScore,
		Words:       len(strings.Fields(a.Item.RawText)),
		CapturedAt:  a.Item.CapturedAt,
	}
}

// Scored is an item with its computed importance.
type Scored struct {
	Item
	Importance float64
}

// Ranker computes importance relative to a reference time.
type Ranker struct {
	cfg Config
	now time.Time
}

// New creates a Ranker that measures age against now.
func New(cfg Config, now time.Time) *Ranker {
	def := DefaultConfig()
	if cfg.HalfLife <= 0 {
		cfg.HalfLife = def.HalfLife
	}
	if cfg.Aggregation != AggregateMax {
		cfg.Aggregation = AggregateMean
	}
	if cfg.MinQualityWeight < 0 {
		cfg.MinQualityWeight = 0
	}
	if cfg.LengthTarget <= 0 {
		cfg.LengthTarget = def.LengthTarget
	}
	return &Ranker{cfg: cfg, now: now}
}

// Freshness decays exponentially with age. Items captured after the reference
// time count as brand new.
func (r *Ranker) Freshness(capturedAt time.Time) float64 {
	age := r.now.Sub(capturedAt).Hours()
	if age < 0 {
		age = 0
	}
	return math.Exp(-age / r.cfg.HalfLife.Hours())
}

// Engagement estimates engagement potential from credibility and length, in [0,1].
func (r *Ranker) Engagement(it Item) float64 {
	length := math.Min(float64(it.Words)/float64(r.cfg.LengthTarget), 1)
	return clamp(0.6*it.Credibility/10+0.4*length, 0, 1)
}

// ItemImportance is normalized quality times freshness times engagement.
func (r *Ranker) ItemImportance(it Item) float64 {
	quality := clamp(float64(it.Quality)/10, 0, 1)
	return quality * r.Freshness(it.CapturedAt) * r.Engagement(it)
}

// RankItems scores items and returns them in rank order.
func (r *Ranker) RankItems(items []Item) []Scored {
	out := make([]Scored, len(items))
	for i, it := range items {
		out[i] = Scored{Item: it, Importance: r.ItemImportance(it)}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return less(out[i].Importance, out[j].Importance, out[i].CapturedAt, out[j].CapturedAt, out[i].ID, out[j].ID)
	})
	return out
}

// ClusterImportance aggregates member importances and boosts the result by the
// best member's quality, so one strong item lifts a weak cluster. It never
// decreases when a member's quality increases.
func (r *Ranker) ClusterImportance(members []Item) float64 {
	if len(members) == 0 {
		return 0
	}
	scores := make([]float64, len(members))
	maxQuality := 0
	for i, m := range members {
		scores[i] = r.ItemImportance(m)
		if m.Quality > maxQuality {
			maxQuality = m.Quality
		}
	}

	var agg float64
	switch r.cfg.Aggregation {
	case AggregateMax:
		agg = floats.Max(scores)
	default:
		agg = stat.Mean(scores, nil)
	}
	return agg * (1 + r.cfg.MinQualityWeight*clamp(float64(maxQuality)/10, 0, 1))
}

// RankClusters sets the importance of each cluster from its members in items
// and returns the clusters in rank order: importance descending, then most
// recent member capture, then smallest member ID. Members missing from items
// are ignored.
func (r *Ranker) RankClusters(clusters []core.TopicCluster, items map[string]Item) []core.TopicCluster {
	type keyed struct {
		cluster core.TopicCluster
		latest  time.Time
		firstID string
	}

	ranked := make([]keyed, len(clusters))
	for i, c := range clusters {
		k := keyed{cluster: c}
		var members []Item
		for _, id := range c.ItemIDs {
			it, ok := items[id]
			if !ok {
				continue
			}
			members = append(members, it)
			if it.CapturedAt.After(k.latest) {
				k.latest = it.CapturedAt
			}
			if k.firstID == "" || id < k.firstID {
				k.firstID = id
			}
		}
		k.cluster.Importance = r.ClusterImportance(members)
		ranked[i] = k
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		return less(a.cluster.Importance, b.cluster.Importance, a.latest, b.latest, a.firstID, b.firstID)
	})

	out := make([]core.TopicCluster, len(ranked))
	for i, k := range ranked {
		out[i] = k.cluster
	}
	return out
}

// less orders by importance descending, capture time descending, then ID ascending.
func less(ia, ib float64, ta, tb time.Time, ida, idb string) bool {
	if ia != ib {
		return ia > ib
	}
	if !ta.Equal(tb) {
		return ta.After(tb)
	}
	return ida < idb
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
