// Package classify assigns categories to captured content through the
// provider fallback chain.
package classify

import (
	"context"
	"fmt"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"polibrief/internal/core"
	"polibrief/internal/fallback"
	"polibrief/internal/llm"
)

// Decision is the outcome of a classification attempt.
type Decision string

const (
	// DecisionAccepted means the category was accepted and the item completed.
	DecisionAccepted Decision = "accepted"
	// DecisionLowConfidence means the item was routed to manual review.
	DecisionLowConfidence Decision = "low_confidence"
	// DecisionFailed means every provider failed and the item was marked failed.
	DecisionFailed Decision = "failed"
	// DecisionSkipped means the item carries a manual override and was left alone.
	DecisionSkipped Decision = "skipped"
)

// Config holds classifier settings
type Config struct {
	Threshold       float64
	FlaggedCategory string
	Categories      []string
	MaxInputChars   int
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Threshold:       0.7,
		FlaggedCategory: "political",
		Categories:      []string{"political", "technology", "business", "science", "health", "culture", "sports", "other"},
		MaxInputChars:   4000,
	}
}

// Runner executes a classification with provider fallback.
type Runner interface {
	Classify(ctx context.Context, req llm.ClassifyRequest) (fallback.Result[llm.CategoryResult], error)
}

// Store persists status changes and the classification audit log.
type Store interface {
	UpdateContentStatus(ctx context.Context, id string, update core.StatusUpdate) error
	AppendClassification(ctx context.Context, result *core.ClassificationResult) error
}

// Options alter a single classification.
type Options struct {
	// Force re-enters items already in a terminal status, including overridden ones
	Force bool
}

// Classifier classifies content items and records the outcome.
type Classifier struct {
	cfg    Config
	runner Runner
	store  Store
	log    zerolog.Logger
	now    func() time.Time
}

// New creates a Classifier.
func New(cfg Config, runner Runner, store Store, log zerolog.Logger) *Classifier {
	def := DefaultConfig()
	if len(cfg.Categories) == 0 {
		cfg.Categories = def.Categories
	}
	if cfg.FlaggedCategory == "" {
		cfg.FlaggedCategory = def.FlaggedCategory
	}
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = def.MaxInputChars
	}
	return &Classifier{
		cfg:    cfg,
		runner: runner,
		store:  store,
		log:    log.With().Str("component", "classifier").Logger(),
		now:    time.Now,
	}
}

// Flagged reports whether category is the category that triggers analysis.
func (c *Classifier) Flagged(category string) bool {
	return category == c.cfg.FlaggedCategory
}

// Known reports whether category is one of the configured categories.
func (c *Classifier) Known(category string) bool {
	return slices.Contains(c.cfg.Categories, category)
}

// Classify determines item's category and moves it to its next status:
// completed when confidence meets the threshold, manual_review below it,
// failed when every provider failed. The item is updated in place.
//
// The returned error is non-nil when the outcome could not be recorded or the
// context was cancelled; in the cancelled case the item stays in processing.
// ALL_PROVIDERS_FAILED is reported through DecisionFailed with a nil error.
func (c *Classifier) Classify(ctx context.Context, item *core.ContentItem, opts Options) (*core.ClassificationResult, Decision, error) {
	log := c.log.With().Str("item_id", item.ID).Logger()

	if item.ManualOverride && !opts.Force {
		log.Debug().Msg("skipping manually overridden item")
		return nil, DecisionSkipped, nil
	}
	if !item.Status.CanTransition(core.StatusProcessing, opts.Force) {
		return nil, "", core.NewNotEligible(item.ID, fmt.Sprintf("status %s cannot be reclassified without force", item.Status))
	}

	if err := c.store.UpdateContentStatus(ctx, item.ID, core.StatusUpdate{
		From: core.TransitionSources(core.StatusProcessing, opts.Force),
		To:   core.StatusProcessing,
	}); err != nil {
		return nil, "", fmt.Errorf("mark %s processing: %w", item.ID, err)
	}
	item.Status = core.StatusProcessing

	req := llm.ClassifyRequest{
		Title:      item.Title,
		Body:       truncateRunes(item.RawText, c.cfg.MaxInputChars),
		Categories: c.cfg.Categories,
	}

	res, err := c.runner.Classify(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			log.Warn().Err(err).Msg("classification interrupted, item left in processing")
			return nil, "", err
		}
		if !core.Is(err, core.ErrAllProvidersFailed) {
			return nil, "", fmt.Errorf("classify %s: %w", item.ID, err)
		}

		log.Error().Err(err).Msg("all providers failed, marking item failed")
		if uerr := c.store.UpdateContentStatus(ctx, item.ID, core.StatusUpdate{
			From: core.TransitionSources(core.StatusFailed, false),
			To:   core.StatusFailed,
		}); uerr != nil {
			return nil, DecisionFailed, fmt.Errorf("mark %s failed: %w", item.ID, uerr)
		}
		item.Status = core.StatusFailed
		return nil, DecisionFailed, nil
	}

	result := &core.ClassificationResult{
		ID:          uuid.NewString(),
		ContentID:   item.ID,
		Category:    res.Value.Category,
		Confidence:  res.Value.Confidence,
		Provider:    res.Provider,
		Model:       res.Value.Model,
		RawResponse: res.Value.Raw,
		CreatedAt:   c.now().UTC(),
	}
	if err := c.store.AppendClassification(ctx, result); err != nil {
		return nil, "", fmt.Errorf("record classification for %s: %w", item.ID, err)
	}

	decision, next := DecisionAccepted, core.StatusCompleted
	if result.Confidence < c.cfg.Threshold {
		decision, next = DecisionLowConfidence, core.StatusManualReview
	}

	if err := c.store.UpdateContentStatus(ctx, item.ID, core.StatusUpdate{
		From:       core.TransitionSources(next, false),
		To:         next,
		Category:   result.Category,
		Confidence: result.Confidence,
	}); err != nil {
		return result, "", fmt.Errorf("mark %s %s: %w", item.ID, next, err)
	}

	item.Status = next
	item.Category = result.Category
	item.Confidence = result.Confidence

	log.Info().
		Str("category", result.Category).
		Float64("confidence", result.Confidence).
		Str("provider", result.Provider).
		Str("decision", string(decision)).
		Msg("item classified")

	return result, decision, nil
}

func truncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
