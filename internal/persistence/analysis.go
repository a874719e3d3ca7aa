package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"polibrief/internal/core"
)

var analysisColumns = []string{
	"content_id", "bias_score", "bias_confidence", "bias_label", "quality_score",
	"credibility_score", "loaded_language", "executive_summary", "detailed_summary",
	"key_points", "model_used", "schema_version", "updated_at",
}

// UpsertAnalysis requires the parent item to be completed.
func (s *SQLStore) UpsertAnalysis(ctx context.Context, a *core.PoliticalAnalysis) error {
	item, err := s.GetContent(ctx, a.ContentID)
	if err != nil {
		return err
	}
	if item.Status != core.StatusCompleted {
		return core.NewNotEligible(a.ContentID, fmt.Sprintf("analysis needs a completed item, status is %s", item.Status))
	}

	loaded, err := encodeList(a.LoadedLanguage)
	if err != nil {
		return fmt.Errorf("encode loaded language: %w", err)
	}
	keyPoints, err := encodeList(a.KeyPoints)
	if err != nil {
		return fmt.Errorf("encode key points: %w", err)
	}
	if a.SchemaVersion == 0 {
		a.SchemaVersion = core.SchemaVersion
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = s.now().UTC()
	}

	_, err = s.exec(ctx, s.sb.Insert("political_analyses").
		Columns(analysisColumns...).
		Values(
			a.ContentID, a.BiasScore, a.BiasConfidence, string(a.BiasLabel), a.QualityScore,
			a.CredibilityScore, loaded, a.ExecutiveSummary, a.DetailedSummary,
			keyPoints, a.ModelUsed, a.SchemaVersion, toMillis(a.UpdatedAt),
		).
		Suffix("ON CONFLICT (content_id) DO UPDATE SET " + excludedSet(analysisColumns[1:])))
	if err != nil {
		return fmt.Errorf("upsert analysis for %s: %w", a.ContentID, err)
	}
	return nil
}

func scanAnalysis(dest *core.PoliticalAnalysis, loaded, keyPoints string, label string, updated int64) error {
	var err error
	dest.BiasLabel = core.BiasLabel(label)
	dest.UpdatedAt = fromMillis(updated)
	if dest.LoadedLanguage, err = decodeList[string](loaded); err != nil {
		return fmt.Errorf("decode loaded language: %w", err)
	}
	if dest.KeyPoints, err = decodeList[string](keyPoints); err != nil {
		return fmt.Errorf("decode key points: %w", err)
	}
	return nil
}

func (s *SQLStore) GetAnalysis(ctx context.Context, contentID string) (*core.PoliticalAnalysis, error) {
	row, err := s.queryRow(ctx, s.sb.Select(analysisColumns...).
		From("political_analyses").
		Where(sq.Eq{"content_id": contentID}))
	if err != nil {
		return nil, err
	}

	var a core.PoliticalAnalysis
	var label, loaded, keyPoints string
	var updated int64
	err = row.Scan(
		&a.ContentID, &a.BiasScore, &a.BiasConfidence, &label, &a.QualityScore,
		&a.CredibilityScore, &loaded, &a.ExecutiveSummary, &a.DetailedSummary,
		&keyPoints, &a.ModelUsed, &a.SchemaVersion, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NewNotFound("analysis", contentID)
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis %s: %w", contentID, err)
	}
	if err := scanAnalysis(&a, loaded, keyPoints, label, updated); err != nil {
		return nil, err
	}
	return &a, nil
}

// DeleteAnalysis removes the analysis of contentID if there is one.
func (s *SQLStore) DeleteAnalysis(ctx context.Context, contentID string) error {
	return s.deleteAnalysis(ctx, s.db, contentID)
}

func (s *SQLStore) deleteAnalysis(ctx context.Context, r runner, contentID string) error {
	if _, err := execOn(ctx, r, s.sb.Delete("political_analyses").Where(sq.Eq{"content_id": contentID})); err != nil {
		return fmt.Errorf("delete analysis for %s: %w", contentID, err)
	}
	return nil
}

func prefixed(prefix string, columns []string) []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = prefix + "." + c
	}
	return out
}

func (s *SQLStore) ListAnalyzedInWindow(ctx context.Context, category string, start, end time.Time) ([]core.AnalyzedItem, error) {
	columns := append(prefixed("c", contentColumns), prefixed("a", analysisColumns)...)
	rows, err := s.query(ctx, s.sb.Select(strings.Join(columns, ", ")).
		From("content_items c").
		Join("political_analyses a ON a.content_id = c.id").
		Where(sq.Eq{"c.category": category, "c.status": string(core.StatusCompleted)}).
		Where(sq.GtOrEq{"c.captured_at": toMillis(start)}).
		Where(sq.Lt{"c.captured_at": toMillis(end)}).
		OrderBy("c.captured_at", "c.id"))
	if err != nil {
		return nil, fmt.Errorf("list analyzed items: %w", err)
	}
	defer rows.Close()

	var out []core.AnalyzedItem
	for rows.Next() {
		var ai core.AnalyzedItem
		var status, label, loaded, keyPoints string
		var captured, itemUpdated, analysisUpdated int64
		it, a := &ai.Item, &ai.Analysis
		if err := rows.Scan(
			&it.ID, &it.URL, &it.Title, &it.RawText, &captured, &it.ContentHash,
			&it.Category, &status, &it.Confidence, &it.ManualOverride, &itemUpdated,
			&a.ContentID, &a.BiasScore, &a.BiasConfidence, &label, &a.QualityScore,
			&a.CredibilityScore, &loaded, &a.ExecutiveSummary, &a.DetailedSummary,
			&keyPoints, &a.ModelUsed, &a.SchemaVersion, &analysisUpdated,
		); err != nil {
			return nil, err
		}
		it.Status = core.ItemStatus(status)
		it.CapturedAt = fromMillis(captured)
		it.UpdatedAt = fromMillis(itemUpdated)
		if err := scanAnalysis(a, loaded, keyPoints, label, analysisUpdated); err != nil {
			return nil, err
		}
		out = append(out, ai)
	}
	return out, rows.Err()
}
