// Package persistence stores content items, classification history, analyses
// and digests in Postgres or SQLite.
package persistence

import (
	"context"
	"time"

	"polibrief/internal/core"
)

// ContentRepository handles captured content and its status
type ContentRepository interface {
	// CreateContent inserts a new item. An item with the same content hash
	// yields a DUPLICATE_CONTENT error naming the existing item.
	CreateContent(ctx context.Context, item *core.ContentItem) error

	// GetContent retrieves an item by ID
	GetContent(ctx context.Context, id string) (*core.ContentItem, error)

	// GetContentByHash retrieves an item by its content hash
	GetContentByHash(ctx context.Context, hash string) (*core.ContentItem, error)

	// ListContentByStatus lists items in any of statuses, oldest capture first
	ListContentByStatus(ctx context.Context, statuses []core.ItemStatus, limit int) ([]core.ContentItem, error)

	// CountContentInWindow counts items captured in [start, end)
	CountContentInWindow(ctx context.Context, start, end time.Time) (int, error)

	// UpdateContentStatus applies update only while the item is in one of
	// update.From. Leaving completed drops the item's analysis.
	UpdateContentStatus(ctx context.Context, id string, update core.StatusUpdate) error

	// SetManualCategory records a human-chosen category and completes the
	// item, dropping an analysis made under another category
	SetManualCategory(ctx context.Context, id, category string) error
}

// ClassificationRepository handles the append-only classification log
type ClassificationRepository interface {
	AppendClassification(ctx context.Context, result *core.ClassificationResult) error
	ListClassifications(ctx context.Context, contentID string) ([]core.ClassificationResult, error)
}

// AnalysisRepository handles political analyses, one per item
type AnalysisRepository interface {
	// UpsertAnalysis inserts or replaces the analysis for a.ContentID
	UpsertAnalysis(ctx context.Context, a *core.PoliticalAnalysis) error
	GetAnalysis(ctx context.Context, contentID string) (*core.PoliticalAnalysis, error)

	// DeleteAnalysis removes the analysis of contentID; a missing row is not an error
	DeleteAnalysis(ctx context.Context, contentID string) error

	// ListAnalyzedInWindow returns completed items of category captured in
	// [start, end) that have an analysis, ordered by capture time then ID
	ListAnalyzedInWindow(ctx context.Context, category string, start, end time.Time) ([]core.AnalyzedItem, error)
}

// DigestRepository handles digest records, unique per date
type DigestRepository interface {
	// CreateDigest inserts rec. Without replace an existing record for the
	// same date yields DIGEST_ALREADY_EXISTS; with replace it is overwritten.
	CreateDigest(ctx context.Context, rec *core.DigestRecord, replace bool) error
	GetDigest(ctx context.Context, date string) (*core.DigestRecord, error)

	// LatestDigestBefore returns the most recent digest dated before date
	LatestDigestBefore(ctx context.Context, date string) (*core.DigestRecord, error)
	ListDigests(ctx context.Context, limit int) ([]core.DigestRecord, error)
	UpdateDeliveryStatus(ctx context.Context, date, status, detail string) error
}

// Store is the full storage contract
type Store interface {
	ContentRepository
	ClassificationRepository
	AnalysisRepository
	DigestRepository

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
