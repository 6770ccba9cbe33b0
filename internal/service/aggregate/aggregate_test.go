package aggregate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hoshu-ai/hoshu/internal/model"
	"github.com/hoshu-ai/hoshu/internal/testutil"
)

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

type stubSource struct {
	events []model.FeedbackEvent
	err    error
}

func (s *stubSource) ListFeedbackEvents(_ context.Context, _ model.FeedbackFilter) ([]model.FeedbackEvent, error) {
	return s.events, s.err
}

func (s *stubSource) ListFeedbackByConversation(_ context.Context, _ uuid.UUID) ([]model.FeedbackEvent, error) {
	return s.events, s.err
}

func TestGroupPartialRatings(t *testing.T) {
	msg := uuid.New()
	conv := uuid.New()
	now := time.Now()

	// Two events rate accuracy, one rates clarity. Accuracy averages over
	// the two raters only; clarity over its single rater.
	events := []model.FeedbackEvent{
		{MessageID: msg, ConversationID: conv, Ratings: model.Ratings{Accuracy: intPtr(5)}, CreatedAt: now, ResponseGeneratedAt: now},
		{MessageID: msg, ConversationID: conv, Ratings: model.Ratings{Accuracy: intPtr(3)}, CreatedAt: now, ResponseGeneratedAt: now},
		{MessageID: msg, ConversationID: conv, Ratings: model.Ratings{Clarity: intPtr(2)}, CreatedAt: now, ResponseGeneratedAt: now},
	}

	aggs := Group(events)
	if len(aggs) != 1 {
		t.Fatalf("got %d aggregates, want 1", len(aggs))
	}
	a := aggs[0]
	if a.FeedbackCount != 3 {
		t.Fatalf("FeedbackCount = %d, want 3", a.FeedbackCount)
	}
	if a.AvgAccuracy == nil || *a.AvgAccuracy != 4 {
		t.Fatalf("AvgAccuracy = %v, want 4", a.AvgAccuracy)
	}
	if a.AvgClarity == nil || *a.AvgClarity != 2 {
		t.Fatalf("AvgClarity = %v, want 2", a.AvgClarity)
	}
	if a.AvgRelevance != nil {
		t.Fatal("AvgRelevance should be nil with no relevance ratings")
	}
}

func TestGroupBinaryRatio(t *testing.T) {
	msg := uuid.New()
	now := time.Now()
	mk := func(sig int) model.FeedbackEvent {
		return model.FeedbackEvent{MessageID: msg, BinarySignal: intPtr(sig), CreatedAt: now, ResponseGeneratedAt: now}
	}
	aggs := Group([]model.FeedbackEvent{mk(1), mk(1), mk(1), mk(-1)})
	if len(aggs) != 1 {
		t.Fatalf("got %d aggregates, want 1", len(aggs))
	}
	// (3 up - 1 down) / 4 = 0.5
	if aggs[0].BinaryRatio == nil || *aggs[0].BinaryRatio != 0.5 {
		t.Fatalf("BinaryRatio = %v, want 0.5", aggs[0].BinaryRatio)
	}
	if aggs[0].PositiveCount != 3 || aggs[0].NegativeCount != 1 {
		t.Fatalf("sentiment counts = %d/%d, want 3/1", aggs[0].PositiveCount, aggs[0].NegativeCount)
	}
}

func TestGroupMinLatency(t *testing.T) {
	msg := uuid.New()
	gen := time.Now()
	events := []model.FeedbackEvent{
		{MessageID: msg, CreatedAt: gen.Add(3 * time.Hour), ResponseGeneratedAt: gen},
		{MessageID: msg, CreatedAt: gen.Add(10 * time.Minute), ResponseGeneratedAt: gen},
		{MessageID: msg, CreatedAt: gen.Add(time.Hour), ResponseGeneratedAt: gen},
	}
	aggs := Group(events)
	if aggs[0].MinLatency != 10*time.Minute {
		t.Fatalf("MinLatency = %s, want 10m", aggs[0].MinLatency)
	}
}

func TestGroupCitationAverage(t *testing.T) {
	msg := uuid.New()
	events := []model.FeedbackEvent{
		{MessageID: msg, CitationScore: floatPtr(0.8)},
		{MessageID: msg, CitationScore: floatPtr(0.4)},
		{MessageID: msg},
	}
	aggs := Group(events)
	if aggs[0].CitationScore == nil || *aggs[0].CitationScore != 0.6 {
		t.Fatalf("CitationScore = %v, want 0.6", aggs[0].CitationScore)
	}
}

func TestGroupOrderedByMessageID(t *testing.T) {
	var events []model.FeedbackEvent
	for i := 0; i < 20; i++ {
		events = append(events, model.FeedbackEvent{MessageID: uuid.New()})
	}
	aggs := Group(events)
	for i := 1; i < len(aggs); i++ {
		if aggs[i-1].MessageID.String() >= aggs[i].MessageID.String() {
			t.Fatal("aggregates not ordered by message ID")
		}
	}
}

func TestAggregateMinFeedbackCount(t *testing.T) {
	m1, m2 := uuid.New(), uuid.New()
	src := &stubSource{events: []model.FeedbackEvent{
		{MessageID: m1},
		{MessageID: m2},
		{MessageID: m2},
		{MessageID: m2},
	}}
	a := New(src, testutil.TestLogger())

	aggs, err := a.Aggregate(context.Background(), model.FeedbackFilter{MinFeedbackCount: 2})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(aggs) != 1 || aggs[0].MessageID != m2 {
		t.Fatalf("got %d aggregates, want only the 3-event message", len(aggs))
	}
}

func TestAggregateEmptyResult(t *testing.T) {
	a := New(&stubSource{}, testutil.TestLogger())
	aggs, err := a.Aggregate(context.Background(), model.FeedbackFilter{})
	if err != nil {
		t.Fatalf("Aggregate on empty store: %v", err)
	}
	if len(aggs) != 0 {
		t.Fatalf("got %d aggregates, want 0", len(aggs))
	}
}

func TestAggregateInvalidFilter(t *testing.T) {
	a := New(&stubSource{}, testutil.TestLogger())
	now := time.Now()
	_, err := a.Aggregate(context.Background(), model.FeedbackFilter{Start: now, End: now.Add(-time.Minute)})
	if !errors.Is(err, model.ErrInvalidFilter) {
		t.Fatalf("Aggregate = %v, want ErrInvalidFilter", err)
	}
}

func TestByConversationNewestFirst(t *testing.T) {
	now := time.Now()
	src := &stubSource{events: []model.FeedbackEvent{
		{ID: uuid.New(), CreatedAt: now.Add(-2 * time.Hour)},
		{ID: uuid.New(), CreatedAt: now},
		{ID: uuid.New(), CreatedAt: now.Add(-time.Hour)},
	}}
	a := New(src, testutil.TestLogger())

	events, err := a.ByConversation(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("ByConversation: %v", err)
	}
	for i := 1; i < len(events); i++ {
		if events[i-1].CreatedAt.Before(events[i].CreatedAt) {
			t.Fatal("events not ordered newest first")
		}
	}
}
