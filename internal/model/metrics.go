package model

import (
	"fmt"
	"time"
)

// BucketWidth is the time resolution of metrics aggregation.
type BucketWidth string

const (
	BucketHour BucketWidth = "hour"
	BucketDay  BucketWidth = "day"
)

// ParseBucketWidth validates a bucket-width string.
func ParseBucketWidth(s string) (BucketWidth, error) {
	switch BucketWidth(s) {
	case BucketHour, BucketDay:
		return BucketWidth(s), nil
	default:
		return "", fmt.Errorf("%w: bucket width must be %q or %q, got %q",
			ErrInvalidFilter, BucketHour, BucketDay, s)
	}
}

// Duration returns the bucket span.
func (w BucketWidth) Duration() time.Duration {
	if w == BucketDay {
		return 24 * time.Hour
	}
	return time.Hour
}

// Truncate maps a timestamp to the start of its bucket (UTC).
func (w BucketWidth) Truncate(t time.Time) time.Time {
	return t.UTC().Truncate(w.Duration())
}

// HistogramBuckets is the number of uniform score histogram cells over [-1,1].
// Cell i covers [-1 + i*0.1, -1 + (i+1)*0.1), with the last cell closed at 1.
const HistogramBuckets = 20

// HistogramIndex maps a composite score to its histogram cell.
func HistogramIndex(score float64) int {
	idx := int((score + 1) / 2 * HistogramBuckets)
	if idx < 0 {
		return 0
	}
	if idx >= HistogramBuckets {
		return HistogramBuckets - 1
	}
	return idx
}

// HistogramUpperBound is the inclusive upper edge of a histogram cell,
// used when reading percentiles back out of the folded distribution.
func HistogramUpperBound(idx int) float64 {
	return -1 + float64(idx+1)*2/HistogramBuckets
}

// MetricsSnapshot is one time bucket of folded reward statistics.
// It is mutated only by commutative, associative folds, never recomputed
// from raw records.
type MetricsSnapshot struct {
	BucketStart time.Time   `json:"bucket_start"`
	BucketWidth BucketWidth `json:"bucket_width"`

	Count      int64   `json:"count"`
	Sum        float64 `json:"sum"`
	SumSquares float64 `json:"sum_squares"`

	// Histogram has HistogramBuckets cells of score counts.
	Histogram []int64 `json:"histogram"`
}

// NewMetricsSnapshot returns an empty snapshot for a bucket.
func NewMetricsSnapshot(start time.Time, width BucketWidth) MetricsSnapshot {
	return MetricsSnapshot{
		BucketStart: start,
		BucketWidth: width,
		Histogram:   make([]int64, HistogramBuckets),
	}
}

// Fold adds one score to the snapshot.
func (s *MetricsSnapshot) Fold(score float64) {
	if s.Histogram == nil {
		s.Histogram = make([]int64, HistogramBuckets)
	}
	s.Count++
	s.Sum += score
	s.SumSquares += score * score
	s.Histogram[HistogramIndex(score)]++
}

// Merge folds another snapshot into this one. Merge is commutative and
// associative, which is what makes concurrent ingestion and re-bucketing safe.
func (s *MetricsSnapshot) Merge(o MetricsSnapshot) {
	if s.Histogram == nil {
		s.Histogram = make([]int64, HistogramBuckets)
	}
	s.Count += o.Count
	s.Sum += o.Sum
	s.SumSquares += o.SumSquares
	for i := range o.Histogram {
		if i < len(s.Histogram) {
			s.Histogram[i] += o.Histogram[i]
		}
	}
}

// Mean returns the bucket mean, or 0 for an empty bucket.
func (s MetricsSnapshot) Mean() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.Sum / float64(s.Count)
}

// Variance returns the population variance derived from the folded sums.
// Floating-point cancellation can push the raw value slightly negative;
// it is clamped to zero.
func (s MetricsSnapshot) Variance() float64 {
	if s.Count == 0 {
		return 0
	}
	n := float64(s.Count)
	v := s.SumSquares/n - (s.Sum/n)*(s.Sum/n)
	if v < 0 {
		return 0
	}
	return v
}

// MetricsRange is an inclusive time range for summary and timeseries reads.
type MetricsRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Validate rejects malformed ranges.
func (r MetricsRange) Validate() error {
	if !r.Start.IsZero() && !r.End.IsZero() && r.Start.After(r.End) {
		return fmt.Errorf("%w: start %s is after end %s", ErrInvalidFilter,
			r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
	}
	return nil
}

// MetricsSummary is the derived view over folded aggregates for a range.
type MetricsSummary struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	Count    int64   `json:"count"`
	Mean     float64 `json:"mean"`
	Variance float64 `json:"variance"`

	// Percentiles maps "p25"/"p50"/"p75"/"p95" to histogram-derived score
	// upper bounds.
	Percentiles map[string]float64 `json:"percentiles,omitempty"`
}
