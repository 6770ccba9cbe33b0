package model

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestParseBucketWidth(t *testing.T) {
	if _, err := ParseBucketWidth("hour"); err != nil {
		t.Fatalf("ParseBucketWidth(hour) = %v", err)
	}
	if _, err := ParseBucketWidth("day"); err != nil {
		t.Fatalf("ParseBucketWidth(day) = %v", err)
	}
	if _, err := ParseBucketWidth("minute"); !errors.Is(err, ErrInvalidFilter) {
		t.Fatalf("ParseBucketWidth(minute) = %v, want ErrInvalidFilter", err)
	}
}

func TestBucketTruncate(t *testing.T) {
	ts := time.Date(2026, 8, 25, 14, 37, 12, 0, time.UTC)
	if got := BucketHour.Truncate(ts); !got.Equal(time.Date(2026, 8, 25, 14, 0, 0, 0, time.UTC)) {
		t.Fatalf("hour Truncate = %s", got)
	}
	if got := BucketDay.Truncate(ts); !got.Equal(time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("day Truncate = %s", got)
	}
}

func TestHistogramIndex(t *testing.T) {
	tests := []struct {
		score float64
		want  int
	}{
		{-1, 0},
		{-0.95, 0},
		{-0.9, 1},
		{0, 10},
		{0.95, 19},
		{1, 19},
		{-2, 0},
		{2, 19},
	}
	for _, tt := range tests {
		if got := HistogramIndex(tt.score); got != tt.want {
			t.Fatalf("HistogramIndex(%g) = %d, want %d", tt.score, got, tt.want)
		}
	}
}

func TestFoldStatistics(t *testing.T) {
	s := NewMetricsSnapshot(time.Now(), BucketHour)
	for _, score := range []float64{0.2, -0.4, 0.6} {
		s.Fold(score)
	}

	if s.Count != 3 {
		t.Fatalf("Count = %d, want 3", s.Count)
	}
	wantMean := (0.2 - 0.4 + 0.6) / 3
	if math.Abs(s.Mean()-wantMean) > 1e-12 {
		t.Fatalf("Mean() = %g, want %g", s.Mean(), wantMean)
	}
	if s.Variance() < 0 {
		t.Fatalf("Variance() = %g, want non-negative", s.Variance())
	}
}

func TestMergeOrderIndependent(t *testing.T) {
	scores := []float64{0.1, -0.7, 0.9, 0.3, -0.2, 0.5}

	forward := NewMetricsSnapshot(time.Time{}, BucketHour)
	for _, sc := range scores {
		forward.Fold(sc)
	}

	// Same scores split across two snapshots merged in reverse order.
	a := NewMetricsSnapshot(time.Time{}, BucketHour)
	b := NewMetricsSnapshot(time.Time{}, BucketHour)
	for i, sc := range scores {
		if i%2 == 0 {
			a.Fold(sc)
		} else {
			b.Fold(sc)
		}
	}
	merged := NewMetricsSnapshot(time.Time{}, BucketHour)
	merged.Merge(b)
	merged.Merge(a)

	if merged.Count != forward.Count || merged.Sum != forward.Sum || merged.SumSquares != forward.SumSquares {
		t.Fatalf("merged stats %+v differ from sequential %+v", merged, forward)
	}
	for i := range forward.Histogram {
		if merged.Histogram[i] != forward.Histogram[i] {
			t.Fatalf("histogram cell %d: merged %d, sequential %d", i, merged.Histogram[i], forward.Histogram[i])
		}
	}
}

func TestVarianceClampedAtZero(t *testing.T) {
	s := NewMetricsSnapshot(time.Time{}, BucketHour)
	s.Fold(0.5)
	if got := s.Variance(); got != 0 {
		t.Fatalf("Variance() of single sample = %g, want 0", got)
	}
}

func TestMetricsRangeValidate(t *testing.T) {
	now := time.Now()
	if err := (MetricsRange{Start: now, End: now.Add(-time.Hour)}).Validate(); !errors.Is(err, ErrInvalidFilter) {
		t.Fatalf("Validate() = %v, want ErrInvalidFilter", err)
	}
	if err := (MetricsRange{}).Validate(); err != nil {
		t.Fatalf("Validate() on zero range = %v", err)
	}
}
