package digest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polibrief/internal/core"
)

func cluster(id string, centroid []float64, members ...string) core.TopicCluster {
	return core.TopicCluster{ID: id, Label: "Label " + id, ItemIDs: members, Centroid: centroid, RepresentativeID: members[0]}
}

func ids(cs []core.TopicCluster) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}

func TestSelect_Diversity(t *testing.T) {
	ranked := []core.TopicCluster{
		cluster("c1", []float64{1, 0}, "a"),
		cluster("c2", []float64{0.99, 0.05}, "b"), // same topic as c1
		cluster("c3", []float64{0, 1}, "c"),
		cluster("c4", []float64{-1, 0}, "d"),
	}

	tests := []struct {
		name string
		max  int
		want []string
	}{
		{"similar cluster skipped", 3, []string{"c1", "c3", "c4"}},
		{"back-filled when groups run out", 5, []string{"c1", "c2", "c3", "c4"}},
		{"capped", 2, []string{"c1", "c3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New(Config{MaxClusters: tt.max, DiversityThreshold: 0.85}).Select(ranked)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestSelect_GroupKeys(t *testing.T) {
	ranked := []core.TopicCluster{
		cluster("c1", []float64{1, 0}, "a"),
		cluster("c2", []float64{0.99, 0.05}, "b"),
		cluster("c3", []float64{0, 1}, "c"),
	}
	got := New(Config{MaxClusters: 5}).Select(ranked)
	require.Len(t, got, 3)
	assert.Equal(t, "c1", got[0].GroupKey)
	assert.Equal(t, "c1", got[1].GroupKey)
	assert.Equal(t, "c3", got[2].GroupKey)
	assert.Empty(t, ranked[0].GroupKey, "input must not be modified")
}

func analyzed(id string, quality int, bias core.BiasLabel, summary string) core.AnalyzedItem {
	return core.AnalyzedItem{
		Item:     core.ContentItem{ID: id, Title: "Title " + id, URL: "https://news.example/" + id},
		Analysis: core.PoliticalAnalysis{ContentID: id, QualityScore: quality, BiasLabel: bias, ExecutiveSummary: summary},
	}
}

func TestAssemble(t *testing.T) {
	items := []core.AnalyzedItem{
		analyzed("a", 9, core.BiasLeft, "Summary of a."),
		analyzed("b", 7, core.BiasCenter, "Summary of b."),
		analyzed("c", 8, core.BiasLeft, "Summary of c."),
		analyzed("d", 3, core.BiasRight, ""),
	}
	big := cluster("cluster-1", []float64{1, 0}, "a", "b", "c")
	big.Importance = 0.8
	small := cluster("cluster-2", []float64{0, 1}, "d")
	small.Importance = 0.1

	doc := New(DefaultConfig()).Assemble(Input{
		Date:            "2026-03-10",
		ItemsConsidered: 10,
		Items:           items,
		Ranked:          []core.TopicCluster{big, small},
	})

	assert.Equal(t, 10, doc.ItemsConsidered)
	assert.Equal(t, 4, doc.PoliticalItems)
	require.Len(t, doc.Sections, 2)

	first := doc.Sections[0]
	assert.Equal(t, 1, first.Rank)
	assert.Equal(t, "cluster-1", first.ClusterID)
	assert.Equal(t, "Summary of a.", first.Summary)
	assert.Equal(t, map[string]int{"left": 2, "center": 1}, first.BiasMix)
	require.Len(t, first.References, 3)
	assert.Equal(t, []string{"a", "c", "b"}, []string{first.References[0].ID, first.References[1].ID, first.References[2].ID}, "references by quality")

	assert.Equal(t, "Title d", doc.Sections[1].Summary, "falls back to the title")

	summaries := doc.Summaries()
	require.Len(t, summaries, 2)
	assert.Equal(t, 0.8, summaries[0].Importance)
	assert.Equal(t, "cluster-2", summaries[1].ClusterID)
}

func TestAssemble_CountsOnlySelectedItems(t *testing.T) {
	items := []core.AnalyzedItem{
		analyzed("a", 9, core.BiasLeft, ""),
		analyzed("b", 7, core.BiasCenter, ""),
		analyzed("c", 5, core.BiasRight, ""),
	}
	first := cluster("cluster-1", []float64{1, 0}, "a", "b")
	first.Importance = 0.9
	second := cluster("cluster-2", []float64{0, 1}, "c")
	second.Importance = 0.2

	cfg := DefaultConfig()
	cfg.MaxClusters = 1
	doc := New(cfg).Assemble(Input{Date: "2026-03-10", ItemsConsidered: 8, Items: items, Ranked: []core.TopicCluster{first, second}})

	require.Len(t, doc.Sections, 1)
	assert.Equal(t, 2, doc.PoliticalItems)
	assert.Contains(t, doc.Markdown(), "8 items considered, 2 political items included")
}

func TestAssemble_Empty(t *testing.T) {
	doc := New(DefaultConfig()).Assemble(Input{Date: "2026-03-10", ItemsConsidered: 6})

	assert.Empty(t, doc.Sections)
	assert.Equal(t, 0, doc.PoliticalItems)
	assert.Empty(t, doc.Summaries())

	md := doc.Markdown()
	assert.Contains(t, md, "No political content")
	assert.Contains(t, md, "6 items considered, 0 political items")
}

func TestMarkdownAndHTML(t *testing.T) {
	doc := &Document{
		Title: "Political Digest",
		Date:  "2026-03-10",
		Sections: []Section{{
			Rank:    1,
			Label:   "Budget [draft] passes",
			Summary: "The budget passed.",
			BiasMix: map[string]int{"right": 1, "left": 2},
			References: []core.ItemReference{
				{ID: "a", Title: "Budget passes", URL: "https://news.example/a", BiasLabel: core.BiasLeft, Quality: 9},
				{ID: "b", Title: "No link", BiasLabel: core.BiasRight, Quality: 4},
			},
		}},
	}

	md := doc.Markdown()
	assert.True(t, strings.HasPrefix(md, "# Political Digest - 2026-03-10"))
	assert.Contains(t, md, `## 1. Budget \[draft\] passes`)
	assert.Contains(t, md, "**Bias mix:** left 2, right 1")
	assert.Contains(t, md, "- [Budget passes](https://news.example/a) (left, quality 9/10)")
	assert.Contains(t, md, "- No link (right, quality 4/10)")

	out := RenderHTML(md)
	assert.Contains(t, out, "<h1>Political Digest - 2026-03-10</h1>")
	assert.Contains(t, out, `<a href="https://news.example/a">Budget passes</a>`)
	assert.Contains(t, out, "<h2>1. Budget [draft] passes</h2>")
}
