// Package analysis produces the structured political analysis of flagged items.
package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"polibrief/internal/core"
	"polibrief/internal/fallback"
	"polibrief/internal/llm"
)

// Config holds analyzer settings
type Config struct {
	FlaggedCategory string
	MaxInputChars   int

	ExecutiveMaxWords int
	ExecutiveMinWords int
	DetailedMaxWords  int
	DetailedMinWords  int
	MaxPhrases        int
	MaxKeyPoints      int
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		FlaggedCategory:   "political",
		MaxInputChars:     20000,
		ExecutiveMaxWords: 100,
		ExecutiveMinWords: 50,
		DetailedMaxWords:  300,
		DetailedMinWords:  200,
		MaxPhrases:        20,
		MaxKeyPoints:      10,
	}
}

// Runner executes an analysis with provider fallback.
type Runner interface {
	Analyze(ctx context.Context, req llm.AnalyzeRequest) (fallback.Result[llm.AnalysisResult], error)
}

// Store persists analyses keyed by content ID.
type Store interface {
	UpsertAnalysis(ctx context.Context, a *core.PoliticalAnalysis) error
}

// Analyzer runs political analysis for completed flagged items.
type Analyzer struct {
	cfg    Config
	runner Runner
	store  Store
	log    zerolog.Logger
	now    func() time.Time
}

// New creates an Analyzer. Zero fields of cfg take their defaults.
func New(cfg Config, runner Runner, store Store, log zerolog.Logger) *Analyzer {
	def := DefaultConfig()
	if cfg.FlaggedCategory == "" {
		cfg.FlaggedCategory = def.FlaggedCategory
	}
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = def.MaxInputChars
	}
	if cfg.ExecutiveMaxWords <= 0 {
		cfg.ExecutiveMaxWords = def.ExecutiveMaxWords
	}
	if cfg.ExecutiveMinWords <= 0 {
		cfg.ExecutiveMinWords = def.ExecutiveMinWords
	}
	if cfg.DetailedMaxWords <= 0 {
		cfg.DetailedMaxWords = def.DetailedMaxWords
	}
	if cfg.DetailedMinWords <= 0 {
		cfg.DetailedMinWords = def.DetailedMinWords
	}
	if cfg.MaxPhrases <= 0 {
		cfg.MaxPhrases = def.MaxPhrases
	}
	if cfg.MaxKeyPoints <= 0 {
		cfg.MaxKeyPoints = def.MaxKeyPoints
	}
	return &Analyzer{
		cfg:    cfg,
		runner: runner,
		store:  store,
		log:    log.With().Str("component", "analyzer").Logger(),
		now:    time.Now,
	}
}

// Eligible reports whether item may be analyzed.
func (a *Analyzer) Eligible(item core.ContentItem) bool {
	return item.Status == core.StatusCompleted && item.Category == a.cfg.FlaggedCategory
}

// Analyze runs the analysis for item and upserts it. Calling it twice for the
// same item leaves one record holding the second result.
func (a *Analyzer) Analyze(ctx context.Context, item core.ContentItem) (*core.PoliticalAnalysis, error) {
	if !a.Eligible(item) {
		return nil, core.NewNotEligible(item.ID,
			fmt.Sprintf("analysis needs status completed and category %s, got %s/%s", a.cfg.FlaggedCategory, item.Status, item.Category))
	}

	res, err := a.runner.Analyze(ctx, llm.AnalyzeRequest{
		Title: item.Title,
		Body:  truncateRunes(item.RawText, a.cfg.MaxInputChars),
	})
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", item.ID, err)
	}

	analysis := a.normalize(item.ID, res)
	if err := a.store.UpsertAnalysis(ctx, analysis); err != nil {
		return nil, fmt.Errorf("store analysis for %s: %w", item.ID, err)
	}

	a.log.Info().
		Str("item_id", item.ID).
		Str("provider", res.Provider).
		Int("quality", analysis.QualityScore).
		Str("bias", string(analysis.BiasLabel)).
		Msg("item analyzed")
	return analysis, nil
}

// normalize clamps and cleans the non-score fields of a validated result.
func (a *Analyzer) normalize(contentID string, res fallback.Result[llm.AnalysisResult]) *core.PoliticalAnalysis {
	v := res.Value

	label := core.BiasLabel(strings.ToLower(strings.TrimSpace(v.BiasLabel)))
	if !label.Valid() {
		label = core.BiasLabelForScore(v.BiasScore)
	}

	exec := strings.TrimSpace(v.ExecutiveSummary)
	if n := wordCount(exec); n < a.cfg.ExecutiveMinWords {
		a.log.Debug().Str("item_id", contentID).Int("words", n).Msg("executive summary shorter than target")
	}
	detailed := strings.TrimSpace(v.DetailedSummary)
	if n := wordCount(detailed); n < a.cfg.DetailedMinWords {
		a.log.Debug().Str("item_id", contentID).Int("words", n).Msg("detailed summary shorter than target")
	}

	model := res.Provider
	if v.Model != "" {
		model = res.Provider + "/" + v.Model
	}

	return &core.PoliticalAnalysis{
		ContentID:        contentID,
		BiasScore:        v.BiasScore,
		BiasConfidence:   v.BiasConfidence,
		BiasLabel:        label,
		QualityScore:     v.QualityScore,
		CredibilityScore: v.CredibilityScore,
		LoadedLanguage:   dedupe(v.LoadedLanguage, a.cfg.MaxPhrases),
		ExecutiveSummary: truncateWords(exec, a.cfg.ExecutiveMaxWords),
		DetailedSummary:  truncateWords(detailed, a.cfg.DetailedMaxWords),
		KeyPoints:        dedupe(v.KeyPoints, a.cfg.MaxKeyPoints),
		ModelUsed:        model,
		SchemaVersion:    core.SchemaVersion,
		UpdatedAt:        a.now().UTC(),
	}
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

func truncateWords(s string, max int) string {
	words := strings.Fields(s)
	if len(words) <= max {
		return s
	}
	out := strings.Join(words[:max], " ")
	return strings.TrimRight(out, ",;:") + "…"
}

// dedupe trims entries and drops empty and case-insensitive duplicates, keeping order.
func dedupe(in []string, max int) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
		if len(out) == max {
			break
		}
	}
	return out
}

func truncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
