// Package digest selects ranked topic clusters and renders them into a digest
// document. Nothing in this package performs I/O.
package digest

import (
	"sort"
	"strings"
	"time"

	"polibrief/internal/clustering"
	"polibrief/internal/core"
)

// Config holds digest assembly settings
type Config struct {
	Title              string
	MaxClusters        int
	DiversityThreshold float64 // Centroid cosine similarity at which clusters share a topic group
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Title:              "Political Digest",
		MaxClusters:        5,
		DiversityThreshold: 0.85,
	}
}

// Input is everything needed to assemble one digest.
type Input struct {
	Date            string
	WindowStart     time.Time
	WindowEnd       time.Time
	ItemsConsidered int
	Items           []core.AnalyzedItem
	Ranked          []core.TopicCluster // Clusters in rank order, importance set
}

// Section is one selected cluster in the digest.
type Section struct {
	Rank       int
	ClusterID  string
	Label      string
	Summary    string
	Importance float64
	BiasMix    map[string]int
	References []core.ItemReference
}

// Document is an assembled digest.
type Document struct {
	Title           string
	Date            string
	WindowStart     time.Time
	WindowEnd       time.Time
	ItemsConsidered int
	PoliticalItems  int // Flagged items in the selected sections
	Sections        []Section
}

// Assembler builds digest documents.
type Assembler struct {
	cfg Config
}

// New creates an Assembler. Zero fields of cfg take their defaults.
func New(cfg Config) *Assembler {
	def := DefaultConfig()
	if cfg.Title == "" {
		cfg.Title = def.Title
	}
	if cfg.MaxClusters <= 0 {
		cfg.MaxClusters = def.MaxClusters
	}
	if cfg.DiversityThreshold <= 0 || cfg.DiversityThreshold > 1 {
		cfg.DiversityThreshold = def.DiversityThreshold
	}
	return &Assembler{cfg: cfg}
}

// Assemble selects clusters from in.Ranked and builds the document.
func (a *Assembler) Assemble(in Input) *Document {
	byID := make(map[string]core.AnalyzedItem, len(in.Items))
	for _, it := range in.Items {
		byID[it.Item.ID] = it
	}

	doc := &Document{
		Title:           a.cfg.Title,
		Date:            in.Date,
		WindowStart:     in.WindowStart,
		WindowEnd:       in.WindowEnd,
		ItemsConsidered: in.ItemsConsidered,
	}

	included := make(map[string]bool)
	for i, c := range a.Select(in.Ranked) {
		doc.Sections = append(doc.Sections, buildSection(i+1, c, byID))
		for _, id := range c.ItemIDs {
			included[id] = true
		}
	}
	doc.PoliticalItems = len(included)
	return doc
}

// Select picks up to MaxClusters clusters from ranked. Clusters whose
// centroids are at least DiversityThreshold similar form one topic group and
// only the best of each group is taken first; remaining slots are back-filled
// from the skipped clusters. The result keeps rank order and has GroupKey set.
func (a *Assembler) Select(ranked []core.TopicCluster) []core.TopicCluster {
	groups := a.groupKeys(ranked)

	picked := make([]bool, len(ranked))
	usedGroup := map[string]bool{}
	n := 0
	for i := range ranked {
		if n == a.cfg.MaxClusters {
			break
		}
		if usedGroup[groups[i]] {
			continue
		}
		usedGroup[groups[i]] = true
		picked[i] = true
		n++
	}
	for i := range ranked {
		if n == a.cfg.MaxClusters {
			break
		}
		if !picked[i] {
			picked[i] = true
			n++
		}
	}

	out := make([]core.TopicCluster, 0, n)
	for i, c := range ranked {
		if picked[i] {
			c.GroupKey = groups[i]
			out = append(out, c)
		}
	}
	return out
}

// groupKeys assigns each cluster to the first earlier group whose leader is
// similar enough, else starts a new group keyed by the cluster's ID.
func (a *Assembler) groupKeys(ranked []core.TopicCluster) []string {
	keys := make([]string, len(ranked))
	var leaders []int
	for i, c := range ranked {
		keys[i] = c.ID
		for _, l := range leaders {
			if len(c.Centroid) > 0 && clustering.CosineSimilarity(c.Centroid, ranked[l].Centroid) >= a.cfg.DiversityThreshold {
				keys[i] = keys[l]
				break
			}
		}
		if keys[i] == c.ID {
			leaders = append(leaders, i)
		}
	}
	return keys
}

func buildSection(rank int, c core.TopicCluster, items map[string]core.AnalyzedItem) Section {
	s := Section{
		Rank:       rank,
		ClusterID:  c.ID,
		Label:      c.Label,
		Importance: c.Importance,
		BiasMix:    map[string]int{},
	}

	members := make([]core.AnalyzedItem, 0, len(c.ItemIDs))
	for _, id := range c.ItemIDs {
		if it, ok := items[id]; ok {
			members = append(members, it)
		}
	}
	sort.SliceStable(members, func(i, j int) bool {
		qi, qj := members[i].Analysis.QualityScore, members[j].Analysis.QualityScore
		if qi != qj {
			return qi > qj
		}
		return members[i].Item.ID < members[j].Item.ID
	})

	for _, m := range members {
		s.BiasMix[string(m.Analysis.BiasLabel)]++
		s.References = append(s.References, core.ItemReference{
			ID:        m.Item.ID,
			Title:     m.Item.Title,
			URL:       m.Item.URL,
			BiasLabel: m.Analysis.BiasLabel,
			Quality:   m.Analysis.QualityScore,
		})
	}

	if rep, ok := items[c.RepresentativeID]; ok {
		s.Summary = strings.TrimSpace(rep.Analysis.ExecutiveSummary)
		if s.Summary == "" {
			s.Summary = rep.Item.Title
		}
	}
	return s
}

// Summaries converts the sections to their persisted form.
func (d *Document) Summaries() []core.ClusterSummary {
	out := make([]core.ClusterSummary, 0, len(d.Sections))
	for _, s := range d.Sections {
		out = append(out, core.ClusterSummary{
			Rank:       s.Rank,
			ClusterID:  s.ClusterID,
			Label:      s.Label,
			Summary:    s.Summary,
			Importance: s.Importance,
			BiasMix:    s.BiasMix,
			References: s.References,
		})
	}
	return out
}
