package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"polibrief/internal/core"
)

var contentColumns = []string{
	"id", "url", "title", "raw_text", "captured_at", "content_hash",
	"category", "status", "confidence", "manual_override", "updated_at",
}

func scanContent(row scanner) (*core.ContentItem, error) {
	var item core.ContentItem
	var status string
	var captured, updated int64
	if err := row.Scan(
		&item.ID,
		&item.URL,
		&item.Title,
		&item.RawText,
		&captured,
		&item.ContentHash,
		&item.Category,
		&status,
		&item.Confidence,
		&item.ManualOverride,
		&updated,
	); err != nil {
		return nil, err
	}
	item.Status = core.ItemStatus(status)
	item.CapturedAt = fromMillis(captured)
	item.UpdatedAt = fromMillis(updated)
	return &item, nil
}

func (s *SQLStore) CreateContent(ctx context.Context, item *core.ContentItem) error {
	if item.Status == "" {
		item.Status = core.StatusPending
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = s.now().UTC()
	}

	_, err := s.exec(ctx, s.sb.Insert("content_items").
		Columns(contentColumns...).
		Values(
			item.ID, item.URL, item.Title, item.RawText, toMillis(item.CapturedAt), item.ContentHash,
			item.Category, string(item.Status), item.Confidence, item.ManualOverride, toMillis(item.UpdatedAt),
		))
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		if existing, gerr := s.GetContentByHash(ctx, item.ContentHash); gerr == nil {
			return core.NewDuplicateContent(item.ContentHash, existing.ID)
		}
	}
	return fmt.Errorf("insert content %s: %w", item.ID, err)
}

func (s *SQLStore) GetContent(ctx context.Context, id string) (*core.ContentItem, error) {
	return s.getContent(ctx, sq.Eq{"id": id}, "content", id)
}

func (s *SQLStore) GetContentByHash(ctx context.Context, hash string) (*core.ContentItem, error) {
	return s.getContent(ctx, sq.Eq{"content_hash": hash}, "content hash", hash)
}

func (s *SQLStore) getContent(ctx context.Context, where sq.Eq, kind, key string) (*core.ContentItem, error) {
	row, err := s.queryRow(ctx, s.sb.Select(contentColumns...).From("content_items").Where(where))
	if err != nil {
		return nil, err
	}
	item, err := scanContent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NewNotFound(kind, key)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", kind, key, err)
	}
	return item, nil
}

func (s *SQLStore) ListContentByStatus(ctx context.Context, statuses []core.ItemStatus, limit int) ([]core.ContentItem, error) {
	b := s.sb.Select(contentColumns...).
		From("content_items").
		Where(sq.Eq{"status": statusStrings(statuses)}).
		OrderBy("captured_at", "id")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}

	rows, err := s.query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("list content: %w", err)
	}
	defer rows.Close()

	var items []core.ContentItem
	for rows.Next() {
		item, err := scanContent(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func (s *SQLStore) CountContentInWindow(ctx context.Context, start, end time.Time) (int, error) {
	row, err := s.queryRow(ctx, s.sb.Select("COUNT(*)").
		From("content_items").
		Where(sq.GtOrEq{"captured_at": toMillis(start)}).
		Where(sq.Lt{"captured_at": toMillis(end)}))
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count content: %w", err)
	}
	return n, nil
}

// UpdateContentStatus drops the item's analysis when the item leaves
// completed, so an analysis never outlives the classification it was made for.
func (s *SQLStore) UpdateContentStatus(ctx context.Context, id string, update core.StatusUpdate) error {
	if len(update.From) == 0 {
		return core.NewNotEligible(id, fmt.Sprintf("no status may move to %s", update.To))
	}

	b := s.sb.Update("content_items").
		Set("status", string(update.To)).
		Set("updated_at", toMillis(s.now())).
		Where(sq.Eq{"id": id, "status": statusStrings(update.From)})
	if update.Category != "" {
		b = b.Set("category", update.Category).Set("confidence", update.Confidence)
	}

	var updated bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := execOn(ctx, tx, b)
		if err != nil {
			return fmt.Errorf("update status of %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		updated = n > 0
		if updated && update.To != core.StatusCompleted {
			return s.deleteAnalysis(ctx, tx, id)
		}
		return nil
	})
	if err != nil || updated {
		return err
	}

	current, err := s.GetContent(ctx, id)
	if err != nil {
		return err
	}
	return core.NewNotEligible(id, fmt.Sprintf("status %s cannot move to %s", current.Status, update.To))
}

// SetManualCategory completes the item under category. An analysis made for
// a different category is dropped.
func (s *SQLStore) SetManualCategory(ctx context.Context, id, category string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		row, err := queryRowOn(ctx, tx, s.sb.Select("category", "status").
			From("content_items").
			Where(sq.Eq{"id": id}))
		if err != nil {
			return err
		}
		var prevCategory, prevStatus string
		if err := row.Scan(&prevCategory, &prevStatus); errors.Is(err, sql.ErrNoRows) {
			return core.NewNotFound("content", id)
		} else if err != nil {
			return fmt.Errorf("get content %s: %w", id, err)
		}

		_, err = execOn(ctx, tx, s.sb.Update("content_items").
			Set("category", category).
			Set("status", string(core.StatusCompleted)).
			Set("confidence", 1.0).
			Set("manual_override", true).
			Set("updated_at", toMillis(s.now())).
			Where(sq.Eq{"id": id}))
		if err != nil {
			return fmt.Errorf("set category of %s: %w", id, err)
		}
		if prevCategory != category || core.ItemStatus(prevStatus) != core.StatusCompleted {
			return s.deleteAnalysis(ctx, tx, id)
		}
		return nil
	})
}

func (s *SQLStore) AppendClassification(ctx context.Context, r *core.ClassificationResult) error {
	_, err := s.exec(ctx, s.sb.Insert("classification_results").
		Columns("id", "content_id", "category", "confidence", "provider", "model", "raw_response", "created_at").
		Values(r.ID, r.ContentID, r.Category, r.Confidence, r.Provider, r.Model, r.RawResponse, toMillis(r.CreatedAt)))
	if err != nil {
		return fmt.Errorf("append classification for %s: %w", r.ContentID, err)
	}
	return nil
}

func (s *SQLStore) ListClassifications(ctx context.Context, contentID string) ([]core.ClassificationResult, error) {
	rows, err := s.query(ctx, s.sb.Select("id", "content_id", "category", "confidence", "provider", "model", "raw_response", "created_at").
		From("classification_results").
		Where(sq.Eq{"content_id": contentID}).
		OrderBy("created_at", "id"))
	if err != nil {
		return nil, fmt.Errorf("list classifications: %w", err)
	}
	defer rows.Close()

	var out []core.ClassificationResult
	for rows.Next() {
		var r core.ClassificationResult
		var created int64
		if err := rows.Scan(&r.ID, &r.ContentID, &r.Category, &r.Confidence, &r.Provider, &r.Model, &r.RawResponse, &created); err != nil {
			return nil, err
		}
		r.CreatedAt = fromMillis(created)
		out = append(out, r)
	}
	return out, rows.Err()
}
