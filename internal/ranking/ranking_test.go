package ranking

import (
	"math"
	"testing"
	"time"

	"polibrief/internal/core"
)

var ref = time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)

func item(id string, quality int, age time.Duration) Item {
	return Item{ID: id, Quality: quality, Credibility: 7, Words: 600, CapturedAt: ref.Add(-age)}
}

func TestFreshness(t *testing.T) {
	r := New(DefaultConfig(), ref)

	tests := []struct {
		age  time.Duration
		want float64
	}{
		{0, 1},
		{24 * time.Hour, math.Exp(-1)},
		{48 * time.Hour, math.Exp(-2)},
		{-time.Hour, 1}, // captured after the reference time
	}
	for _, tt := range tests {
		if got := r.Freshness(ref.Add(-tt.age)); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("Freshness(age %v) = %v, want %v", tt.age, got, tt.want)
		}
	}
}

func TestEngagement(t *testing.T) {
	r := New(DefaultConfig(), ref)

	tests := []struct {
		name        string
		credibility float64
		words       int
		want        float64
	}{
		{"full credit", 10, 800, 1},
		{"long text capped", 10, 5000, 1},
		{"half length", 5, 400, 0.5},
		{"empty", 0, 0, 0},
		{"credibility out of range clamped", 20, 800, 1},
	}
	for _, tt := range tests {
		got := r.Engagement(Item{Credibility: tt.credibility, Words: tt.words})
		if math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("%s: Engagement = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestItemImportanceMonotoneInQuality(t *testing.T) {
	r := New(DefaultConfig(), ref)
	prev := -1.0
	for q := 1; q <= 10; q++ {
		got := r.ItemImportance(item("a", q, 5*time.Hour))
		if got < prev {
			t.Fatalf("importance decreased from %v to %v at quality %d", prev, got, q)
		}
		prev = got
	}
}

func TestClusterImportanceMonotoneInQuality(t *testing.T) {
	for _, agg := range []Aggregation{AggregateMean, AggregateMax} {
		t.Run(string(agg), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Aggregation = agg
			r := New(cfg, ref)

			members := []Item{item("a", 4, time.Hour), item("b", 6, 3*time.Hour), item("c", 2, 10*time.Hour)}
			for idx := range members {
				prev := -1.0
				for q := 1; q <= 10; q++ {
					trial := append([]Item(nil), members...)
					trial[idx].Quality = q
					got := r.ClusterImportance(trial)
					if got < prev {
						t.Fatalf("member %d: importance decreased from %v to %v at quality %d", idx, prev, got, q)
					}
					prev = got
				}
			}
		})
	}
}

func TestClusterImportanceStrongMemberLiftsCluster(t *testing.T) {
	r := New(DefaultConfig(), ref)

	weak := r.ClusterImportance([]Item{item("a", 3, 0), item("b", 3, 0)})
	lifted := r.ClusterImportance([]Item{item("a", 3, 0), item("b", 9, 0)})
	if lifted <= weak {
		t.Errorf("strong member should lift cluster: weak %v, lifted %v", weak, lifted)
	}
	if got := r.ClusterImportance(nil); got != 0 {
		t.Errorf("empty cluster importance = %v, want 0", got)
	}
}

func TestRankClusters(t *testing.T) {
	r := New(DefaultConfig(), ref)
	items := map[string]Item{
		"a": item("a", 9, 2*time.Hour),
		"b": item("b", 7, 2*time.Hour),
		"c": item("c", 8, 2*time.Hour),
		"d": item("d", 3, 2*time.Hour),
	}
	clusters := []core.TopicCluster{
		{ID: "cluster-1", ItemIDs: []string{"d"}},
		{ID: "cluster-2", ItemIDs: []string{"a", "b", "c"}},
	}

	got := r.RankClusters(clusters, items)
	if got[0].ID != "cluster-2" || got[1].ID != "cluster-1" {
		t.Fatalf("order = %s, %s; want cluster-2 first", got[0].ID, got[1].ID)
	}
	if got[0].Importance <= got[1].Importance {
		t.Errorf("importances not descending: %v, %v", got[0].Importance, got[1].Importance)
	}
	if clusters[0].Importance != 0 {
		t.Error("input clusters must not be modified")
	}
}

func TestRankTieBreaks(t *testing.T) {
	r := New(DefaultConfig(), ref)

	// identical scores: the more recent capture wins, then the lower ID
	z := Item{ID: "z", Quality: 5, Credibility: 5, Words: 100, CapturedAt: ref.Add(time.Hour)}
	latest := Item{ID: "y", Quality: 5, Credibility: 5, Words: 100, CapturedAt: ref.Add(2 * time.Hour)}
	b := Item{ID: "b", Quality: 5, Credibility: 5, Words: 100, CapturedAt: ref.Add(time.Hour)}

	got := r.RankItems([]Item{z, b, latest})
	want := []string{"y", "b", "z"}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("rank %d = %s, want %s (got %v)", i, got[i].ID, id, got)
		}
	}
}

func TestItemFromAnalyzed(t *testing.T) {
	it := ItemFromAnalyzed(core.AnalyzedItem{
		Item:     core.ContentItem{ID: "x", RawText: "one two  three", CapturedAt: ref},
		Analysis: core.PoliticalAnalysis{QualityScore: 6, CredibilityScore: 7.5},
	})
	if it.ID != "x" || it.Quality != 6 || it.Credibility != 7.5 || it.Words != 3 || !it.CapturedAt.Equal(ref) {
		t.Errorf("unexpected item %+v", it)
	}
}
