// Package pipeline moves captured items through classification and, for
// flagged categories, political analysis.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"polibrief/internal/classify"
	"polibrief/internal/core"
)

// Pipeline processes content items. Items are independent; the steps of a
// single item run sequentially.
type Pipeline struct {
	store      ItemStore
	classifier ItemClassifier
	analyzer   ItemAnalyzer
	config     Config
	log        zerolog.Logger
}

// Config holds pipeline configuration
type Config struct {
	Concurrency int // Items processed at once
	BatchSize   int // Items loaded per ProcessPending call when no limit is given
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Concurrency: 4,
		BatchSize:   100,
	}
}

// NewPipeline creates a new pipeline with all dependencies
func NewPipeline(store ItemStore, classifier ItemClassifier, analyzer ItemAnalyzer, config Config, log zerolog.Logger) *Pipeline {
	def := DefaultConfig()
	if config.Concurrency <= 0 {
		config.Concurrency = def.Concurrency
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	return &Pipeline{
		store:      store,
		classifier: classifier,
		analyzer:   analyzer,
		config:     config,
		log:        log.With().Str("component", "pipeline").Logger(),
	}
}

// Outcome is the result of processing one item
type Outcome struct {
	ItemID   string
	Decision classify.Decision
	Category string
	Analysis *core.PoliticalAnalysis // Set when the item was analyzed
}

// ProcessingStats tracks pipeline execution metrics
type ProcessingStats struct {
	Total          int
	Accepted       int
	ManualReview   int
	Failed         int
	Skipped        int
	Analyzed       int
	AnalysisFailed int
	Errors         int
	ProcessingTime time.Duration
	StartTime      time.Time
	EndTime        time.Time
}

func (s *ProcessingStats) record(out Outcome, err error) {
	switch out.Decision {
	case classify.DecisionAccepted:
		s.Accepted++
	case classify.DecisionLowConfidence:
		s.ManualReview++
	case classify.DecisionFailed:
		s.Failed++
	case classify.DecisionSkipped:
		s.Skipped++
	}
	switch {
	case out.Analysis != nil:
		s.Analyzed++
	case err != nil && out.Decision == classify.DecisionAccepted:
		s.AnalysisFailed++
	case err != nil:
		s.Errors++
	}
}

// ProcessPending classifies up to limit pending items, plus items left in
// processing by an interrupted run, and analyzes the accepted flagged ones.
// A failing item never stops the batch. The returned error is non-nil only
// when the items could not be loaded or ctx was cancelled.
func (p *Pipeline) ProcessPending(ctx context.Context, limit int) (ProcessingStats, error) {
	stats := ProcessingStats{StartTime: time.Now()}
	if limit <= 0 {
		limit = p.config.BatchSize
	}

	items, err := p.store.ListContentByStatus(ctx, []core.ItemStatus{core.StatusPending, core.StatusProcessing}, limit)
	if err != nil {
		return stats, fmt.Errorf("load pending items: %w", err)
	}
	stats.Total = len(items)
	if len(items) == 0 {
		p.log.Debug().Msg("no pending items")
		return p.finish(stats), nil
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(p.config.Concurrency)

	for i := range items {
		if ctx.Err() != nil {
			break
		}
		item := items[i]
		g.Go(func() error {
			out, err := p.ProcessItem(ctx, &item, classify.Options{})
			if err != nil {
				p.log.Warn().Err(err).Str("item_id", item.ID).Msg("item processing failed")
			}
			mu.Lock()
			stats.record(out, err)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	stats = p.finish(stats)
	p.log.Info().
		Int("total", stats.Total).
		Int("accepted", stats.Accepted).
		Int("manual_review", stats.ManualReview).
		Int("failed", stats.Failed).
		Int("analyzed", stats.Analyzed).
		Int("errors", stats.Errors+stats.AnalysisFailed).
		Dur("duration", stats.ProcessingTime).
		Msg("batch processed")

	return stats, ctx.Err()
}

// Run processes pending items every interval until ctx is cancelled. A failed
// batch is logged and retried on the next tick.
func (p *Pipeline) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %v", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := p.ProcessPending(ctx, 0); err != nil && ctx.Err() == nil {
			p.log.Error().Err(err).Msg("pending batch failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (p *Pipeline) finish(stats ProcessingStats) ProcessingStats {
	stats.EndTime = time.Now()
	stats.ProcessingTime = stats.EndTime.Sub(stats.StartTime)
	return stats
}

// ProcessItem classifies item and, when the category is accepted and
// flagged, analyzes it. The item is updated in place. An analysis failure
// is returned alongside the classification outcome.
func (p *Pipeline) ProcessItem(ctx context.Context, item *core.ContentItem, opts classify.Options) (Outcome, error) {
	out := Outcome{ItemID: item.ID}

	_, decision, err := p.classifier.Classify(ctx, item, opts)
	if err != nil {
		return out, err
	}
	out.Decision = decision
	out.Category = item.Category

	if decision != classify.DecisionAccepted || !p.classifier.Flagged(item.Category) {
		return out, nil
	}

	analysis, err := p.analyzer.Analyze(ctx, *item)
	if err != nil {
		return out, err
	}
	out.Analysis = analysis
	return out, nil
}

// Reprocess classifies item id again regardless of its status or manual
// override, then analyzes it when flagged.
func (p *Pipeline) Reprocess(ctx context.Context, id string) (Outcome, error) {
	item, err := p.store.GetContent(ctx, id)
	if err != nil {
		return Outcome{ItemID: id}, err
	}
	p.log.Info().Str("item_id", id).Str("status", string(item.Status)).Msg("reprocessing item")
	return p.ProcessItem(ctx, item, classify.Options{Force: true})
}

// ManualProvider is the provider name recorded for human category overrides.
const ManualProvider = "manual"

// Override records a human-chosen category for item id, typically one held
// in manual review, and analyzes it when the category is flagged. Moving a
// flagged item to another category drops its analysis.
func (p *Pipeline) Override(ctx context.Context, id, category string) (Outcome, error) {
	out := Outcome{ItemID: id, Category: category}
	if category == "" {
		return out, core.NewInvalidRequest("category is required")
	}
	if !p.classifier.Known(category) {
		return out, core.NewInvalidRequest("unknown category %q", category)
	}
	if err := p.store.SetManualCategory(ctx, id, category); err != nil {
		return out, err
	}
	out.Decision = classify.DecisionAccepted

	audit := &core.ClassificationResult{
		ID:         uuid.NewString(),
		ContentID:  id,
		Category:   category,
		Confidence: 1,
		Provider:   ManualProvider,
		CreatedAt:  time.Now().UTC(),
	}
	if err := p.store.AppendClassification(ctx, audit); err != nil {
		return out, err
	}
	p.log.Info().Str("item_id", id).Str("category", category).Msg("category overridden")

	if !p.classifier.Flagged(category) {
		return out, nil
	}
	item, err := p.store.GetContent(ctx, id)
	if err != nil {
		return out, err
	}
	analysis, err := p.analyzer.Analyze(ctx, *item)
	if err != nil {
		return out, err
	}
	out.Analysis = analysis
	return out, nil
}
