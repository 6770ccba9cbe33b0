package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/hoshu-ai/hoshu/internal/model"
)

// AddSnapshotDelta folds a delta into the (bucket_start, bucket_width) row.
// The merge is additive in every field, matching the tracker's in-memory
// fold, so concurrent writers and repeated partial flushes converge to the
// same aggregate. Serialization conflicts are retried with backoff.
func (db *DB) AddSnapshotDelta(ctx context.Context, s model.MetricsSnapshot) error {
	return WithRetry(ctx, 3, 50*time.Millisecond, func() error {
		return db.addSnapshotDelta(ctx, s)
	})
}

func (db *DB) addSnapshotDelta(ctx context.Context, s model.MetricsSnapshot) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin snapshot delta: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`INSERT INTO metrics_snapshots (bucket_start, bucket_width, count, sum, sum_squares, histogram)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT DO NOTHING`,
		s.BucketStart.UTC(), string(s.BucketWidth), s.Count, s.Sum, s.SumSquares, s.Histogram,
	)
	if err != nil {
		return fmt.Errorf("storage: insert snapshot: %w", err)
	}

	if tag.RowsAffected() == 0 {
		// Existing bucket: add the delta cell-by-cell.
		if _, err := tx.Exec(ctx,
			`UPDATE metrics_snapshots
			 SET count = count + $3,
			     sum = sum + $4,
			     sum_squares = sum_squares + $5,
			     histogram = (
			         SELECT array_agg(h.a + h.b ORDER BY h.ord)
			         FROM unnest(histogram, $6::bigint[]) WITH ORDINALITY AS h(a, b, ord)
			     )
			 WHERE bucket_start = $1 AND bucket_width = $2`,
			s.BucketStart.UTC(), string(s.BucketWidth), s.Count, s.Sum, s.SumSquares, s.Histogram,
		); err != nil {
			return fmt.Errorf("storage: merge snapshot delta: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit snapshot delta: %w", err)
	}
	return nil
}

// ListSnapshots returns folded buckets of the given width inside the range,
// ordered by bucket start.
func (db *DB) ListSnapshots(ctx context.Context, r model.MetricsRange, width model.BucketWidth) ([]model.MetricsSnapshot, error) {
	q := `SELECT bucket_start, bucket_width, count, sum, sum_squares, histogram
	      FROM metrics_snapshots WHERE bucket_width = $1`
	args := []any{string(width)}
	if !r.Start.IsZero() {
		args = append(args, r.Start.UTC())
		q += fmt.Sprintf(" AND bucket_start >= $%d", len(args))
	}
	if !r.End.IsZero() {
		args = append(args, r.End.UTC())
		q += fmt.Sprintf(" AND bucket_start <= $%d", len(args))
	}
	q += " ORDER BY bucket_start"

	rows, err := db.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list snapshots: %w", err)
	}
	defer rows.Close()

	var out []model.MetricsSnapshot
	for rows.Next() {
		var s model.MetricsSnapshot
		var width string
		if err := rows.Scan(&s.BucketStart, &width, &s.Count, &s.Sum, &s.SumSquares, &s.Histogram); err != nil {
			return nil, fmt.Errorf("storage: scan snapshot: %w", err)
		}
		s.BucketWidth = model.BucketWidth(width)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: read snapshots: %w", err)
	}
	return out, nil
}
