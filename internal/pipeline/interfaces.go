package pipeline

import (
	"context"

	"polibrief/internal/classify"
	"polibrief/internal/core"
)

// ItemStore loads the items the pipeline works on
type ItemStore interface {
	// GetContent retrieves an item by ID
	GetContent(ctx context.Context, id string) (*core.ContentItem, error)

	// ListContentByStatus lists items in any of statuses, oldest capture first
	ListContentByStatus(ctx context.Context, statuses []core.ItemStatus, limit int) ([]core.ContentItem, error)

	// SetManualCategory records a human-chosen category and completes the item
	SetManualCategory(ctx context.Context, id, category string) error

	// AppendClassification adds an entry to the item's classification history
	AppendClassification(ctx context.Context, r *core.ClassificationResult) error
}

// ItemClassifier assigns a category and moves the item to its next status
type ItemClassifier interface {
	// Classify classifies item in place and records the outcome
	Classify(ctx context.Context, item *core.ContentItem, opts classify.Options) (*core.ClassificationResult, classify.Decision, error)

	// Flagged reports whether category triggers political analysis
	Flagged(category string) bool

	// Known reports whether category is one of the configured categories
	Known(category string) bool
}

// ItemAnalyzer produces and stores the political analysis of a flagged item
type ItemAnalyzer interface {
	Analyze(ctx context.Context, item core.ContentItem) (*core.PoliticalAnalysis, error)
}
