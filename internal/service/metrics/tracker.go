// Package metrics maintains time-bucketed rolling statistics over reward
// records.
//
// Ingestion folds each record into its bucket's count/sum/sum-of-squares and
// score histogram. Folds are commutative and associative, so ingest order
// never affects the final aggregate and concurrent writers are safe behind
// the tracker mutex. Summaries and timeseries are derived from the folded
// state, never by rescanning raw records.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hoshu-ai/hoshu/internal/model"
	"github.com/hoshu-ai/hoshu/internal/prom"
	"github.com/hoshu-ai/hoshu/internal/storage"
)

// summaryPercentiles are the quantiles reported by Summary, read back out of
// the folded histogram.
var summaryPercentiles = map[string]float64{
	"p25": 0.25,
	"p50": 0.50,
	"p75": 0.75,
	"p95": 0.95,
}

// SnapshotStore persists folded bucket deltas. AddSnapshotDelta must be
// additive (fold-merge on conflict), which keeps concurrent flushers and
// partial recomputation consistent.
type SnapshotStore interface {
	AddSnapshotDelta(ctx context.Context, s model.MetricsSnapshot) error
	ListSnapshots(ctx context.Context, r model.MetricsRange, width model.BucketWidth) ([]model.MetricsSnapshot, error)
}

// Tracker incrementally folds reward records into per-bucket aggregates and
// flushes the deltas to the snapshot store.
type Tracker struct {
	width  model.BucketWidth
	store  SnapshotStore
	stats  *prom.Stats
	logger *slog.Logger

	mu sync.Mutex
	// pending holds folded-but-unflushed deltas keyed by bucket start.
	pending map[int64]*model.MetricsSnapshot
}

// NewTracker creates a Tracker folding at the given bucket width.
// store may be nil in tests; Summary and Timeseries then see only
// unflushed in-memory state.
func NewTracker(width model.BucketWidth, store SnapshotStore, stats *prom.Stats, logger *slog.Logger) *Tracker {
	return &Tracker{
		width:   width,
		store:   store,
		stats:   stats,
		logger:  logger,
		pending: make(map[int64]*model.MetricsSnapshot),
	}
}

// Width returns the tracker's fold resolution.
func (t *Tracker) Width() model.BucketWidth {
	return t.width
}

// Ingest folds one reward record into the bucket containing its ComputedAt.
// Safe for concurrent callers.
func (t *Tracker) Ingest(rec model.RewardRecord) {
	bucket := t.width.Truncate(rec.ComputedAt)
	key := bucket.Unix()

	t.mu.Lock()
	s, ok := t.pending[key]
	if !ok {
		snap := model.NewMetricsSnapshot(bucket, t.width)
		s = &snap
		t.pending[key] = s
	}
	s.Fold(rec.CompositeScore)
	t.mu.Unlock()

	if t.stats != nil {
		t.stats.SnapshotsFolded.Inc()
	}
}

// IngestAll folds a batch of records.
func (t *Tracker) IngestAll(records []model.RewardRecord) {
	for _, r := range records {
		t.Ingest(r)
	}
}

// Flush persists pending deltas via additive upsert. A failed write is
// retried once with the identical delta (safe because merge is additive and
// the delta is only discarded after a successful write); a second failure
// surfaces as a persistence error with the delta retained for the next flush.
func (t *Tracker) Flush(ctx context.Context) error {
	t.mu.Lock()
	deltas := t.pending
	t.pending = make(map[int64]*model.MetricsSnapshot)
	t.mu.Unlock()

	if t.store == nil || len(deltas) == 0 {
		return nil
	}

	var firstErr error
	for key, s := range deltas {
		err := t.store.AddSnapshotDelta(ctx, *s)
		if err != nil {
			if t.stats != nil {
				t.stats.PersistenceRetry.Inc()
			}
			t.logger.Warn("snapshot flush failed, retrying once",
				"bucket_start", s.BucketStart, "error", err)
			err = t.store.AddSnapshotDelta(ctx, *s)
		}
		if err != nil {
			// Put the delta back so the next flush carries it forward.
			t.mu.Lock()
			if held, ok := t.pending[key]; ok {
				held.Merge(*s)
			} else {
				t.pending[key] = s
			}
			t.mu.Unlock()
			if firstErr == nil {
				firstErr = fmt.Errorf("metrics: flush bucket %s: %w",
					s.BucketStart.Format(time.RFC3339), errors.Join(storage.ErrPersistence, err))
			}
		}
	}
	return firstErr
}

// Run flushes on the given interval until the context is cancelled, then
// performs a final flush.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := t.Flush(flushCtx); err != nil {
				t.logger.Error("final metrics flush", "error", err)
			}
			cancel()
			return
		case <-ticker.C:
			if err := t.Flush(ctx); err != nil {
				t.logger.Error("metrics flush", "error", err)
			}
		}
	}
}

// Summary folds every bucket in the range into one aggregate and derives
// count, mean, variance, and histogram percentiles from it.
func (t *Tracker) Summary(ctx context.Context, r model.MetricsRange) (model.MetricsSummary, error) {
	snaps, err := t.snapshotsInRange(ctx, r, t.width)
	if err != nil {
		return model.MetricsSummary{}, err
	}

	total := model.NewMetricsSnapshot(time.Time{}, t.width)
	for _, s := range snaps {
		total.Merge(s)
	}

	sum := model.MetricsSummary{
		Start:    r.Start,
		End:      r.End,
		Count:    total.Count,
		Mean:     total.Mean(),
		Variance: total.Variance(),
	}
	if total.Count > 0 {
		sum.Percentiles = make(map[string]float64, len(summaryPercentiles))
		for name, q := range summaryPercentiles {
			sum.Percentiles[name] = histogramQuantile(total, q)
		}
	}
	return sum, nil
}

// Timeseries returns the folded snapshots in the range at the requested
// width, ordered by bucket start. A coarser width than the tracker's fold
// width is served by merging buckets, which associativity makes exact.
func (t *Tracker) Timeseries(ctx context.Context, r model.MetricsRange, width model.BucketWidth) ([]model.MetricsSnapshot, error) {
	if width.Duration() < t.width.Duration() {
		return nil, fmt.Errorf("%w: bucket width %s is finer than the tracked width %s",
			model.ErrInvalidFilter, width, t.width)
	}

	snaps, err := t.snapshotsInRange(ctx, r, t.width)
	if err != nil {
		return nil, err
	}

	merged := make(map[int64]*model.MetricsSnapshot)
	for _, s := range snaps {
		bucket := width.Truncate(s.BucketStart)
		key := bucket.Unix()
		m, ok := merged[key]
		if !ok {
			snap := model.NewMetricsSnapshot(bucket, width)
			m = &snap
			merged[key] = m
		}
		m.Merge(s)
	}

	out := make([]model.MetricsSnapshot, 0, len(merged))
	for _, m := range merged {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].BucketStart.Before(out[j].BucketStart)
	})
	return out, nil
}

// snapshotsInRange validates the range and reads folded state: the store's
// snapshots when configured (after flushing pending deltas so reads see the
// latest folds), otherwise the in-memory pending buckets.
func (t *Tracker) snapshotsInRange(ctx context.Context, r model.MetricsRange, width model.BucketWidth) ([]model.MetricsSnapshot, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	if t.store != nil {
		if err := t.Flush(ctx); err != nil {
			return nil, err
		}
		snaps, err := t.store.ListSnapshots(ctx, r, width)
		if err != nil {
			return nil, fmt.Errorf("metrics: list snapshots: %w", err)
		}
		return snaps, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	var snaps []model.MetricsSnapshot
	for _, s := range t.pending {
		if inRange(s.BucketStart, r) {
			snaps = append(snaps, *s)
		}
	}
	return snaps, nil
}

func inRange(t time.Time, r model.MetricsRange) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && t.After(r.End) {
		return false
	}
	return true
}

// histogramQuantile returns the upper bound of the first histogram cell at
// which the cumulative count reaches q of the total.
func histogramQuantile(s model.MetricsSnapshot, q float64) float64 {
	target := q * float64(s.Count)
	var cum float64
	for i, c := range s.Histogram {
		cum += float64(c)
		if cum >= target {
			return model.HistogramUpperBound(i)
		}
	}
	return 1
}
