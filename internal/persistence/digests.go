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

var digestColumns = []string{
	"id", "digest_date", "window_start", "window_end", "items_considered",
	"political_items_count", "clusters", "schema_version", "body", "html_body",
	"generation_ms", "created_at", "delivery_status",
}

func scanDigest(row scanner) (*core.DigestRecord, error) {
	var d core.DigestRecord
	var start, end, genMS, created int64
	var clusters string
	if err := row.Scan(
		&d.ID, &d.DigestDate, &start, &end, &d.ItemsConsidered,
		&d.PoliticalItemsCount, &clusters, &d.SchemaVersion, &d.Body, &d.HTMLBody,
		&genMS, &created, &d.DeliveryStatus,
	); err != nil {
		return nil, err
	}
	d.WindowStart = fromMillis(start)
	d.WindowEnd = fromMillis(end)
	d.GenerationDuration = time.Duration(genMS) * time.Millisecond
	d.CreatedAt = fromMillis(created)

	var err error
	if d.Clusters, err = decodeList[core.ClusterSummary](clusters); err != nil {
		return nil, fmt.Errorf("decode clusters of %s: %w", d.DigestDate, err)
	}
	return &d, nil
}

func (s *SQLStore) CreateDigest(ctx context.Context, rec *core.DigestRecord, replace bool) error {
	clusters, err := encodeList(rec.Clusters)
	if err != nil {
		return fmt.Errorf("encode clusters: %w", err)
	}
	if rec.SchemaVersion == 0 {
		rec.SchemaVersion = core.SchemaVersion
	}
	if rec.DeliveryStatus == "" {
		rec.DeliveryStatus = core.DeliveryPending
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}

	b := s.sb.Insert("digests").
		Columns(digestColumns...).
		Values(
			rec.ID, rec.DigestDate, toMillis(rec.WindowStart), toMillis(rec.WindowEnd), rec.ItemsConsidered,
			rec.PoliticalItemsCount, clusters, rec.SchemaVersion, rec.Body, rec.HTMLBody,
			rec.GenerationDuration.Milliseconds(), toMillis(rec.CreatedAt), rec.DeliveryStatus,
		)
	if replace {
		// delivery_error is reset along with the record
		b = b.Suffix("ON CONFLICT (digest_date) DO UPDATE SET " + excludedSet(digestColumns[2:]) + ", id = excluded.id, delivery_error = ''")
	}

	if _, err := s.exec(ctx, b); err != nil {
		if !replace && isUniqueViolation(err) {
			return core.NewDigestAlreadyExists(rec.DigestDate)
		}
		return fmt.Errorf("store digest %s: %w", rec.DigestDate, err)
	}
	return nil
}

func (s *SQLStore) GetDigest(ctx context.Context, date string) (*core.DigestRecord, error) {
	return s.oneDigest(ctx, s.sb.Select(digestColumns...).From("digests").Where(sq.Eq{"digest_date": date}), date)
}

func (s *SQLStore) LatestDigestBefore(ctx context.Context, date string) (*core.DigestRecord, error) {
	return s.oneDigest(ctx, s.sb.Select(digestColumns...).
		From("digests").
		Where(sq.Lt{"digest_date": date}).
		OrderBy("digest_date DESC").
		Limit(1), "before "+date)
}

func (s *SQLStore) oneDigest(ctx context.Context, b sq.SelectBuilder, key string) (*core.DigestRecord, error) {
	row, err := s.queryRow(ctx, b)
	if err != nil {
		return nil, err
	}
	d, err := scanDigest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NewNotFound("digest", key)
	}
	if err != nil {
		return nil, fmt.Errorf("get digest %s: %w", key, err)
	}
	return d, nil
}

func (s *SQLStore) ListDigests(ctx context.Context, limit int) ([]core.DigestRecord, error) {
	b := s.sb.Select(digestColumns...).From("digests").OrderBy("digest_date DESC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	rows, err := s.query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("list digests: %w", err)
	}
	defer rows.Close()

	var out []core.DigestRecord
	for rows.Next() {
		d, err := scanDigest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateDeliveryStatus(ctx context.Context, date, status, detail string) error {
	res, err := s.exec(ctx, s.sb.Update("digests").
		Set("delivery_status", status).
		Set("delivery_error", detail).
		Where(sq.Eq{"digest_date": date}))
	if err != nil {
		return fmt.Errorf("update delivery status of %s: %w", date, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.NewNotFound("digest", date)
	}
	return nil
}
