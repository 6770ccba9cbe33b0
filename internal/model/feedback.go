// Package model defines the data model for the feedback-to-reward pipeline:
// feedback events, per-message aggregates, weight configurations, reward
// records, training datasets, and metrics snapshots.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Rating bounds for the four per-category ratings (accuracy, relevance,
// completeness, clarity).
const (
	MinRating = 1
	MaxRating = 5
)

// Sentiment classifies a single feedback event.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// Ratings holds the optional 1-5 rating components of a feedback event.
// A nil field means the user did not rate that category.
type Ratings struct {
	Accuracy     *int `json:"accuracy,omitempty"`
	Relevance    *int `json:"relevance,omitempty"`
	Completeness *int `json:"completeness,omitempty"`
	Clarity      *int `json:"clarity,omitempty"`
}

// Present reports whether at least one rating component was supplied.
func (r Ratings) Present() bool {
	return r.Accuracy != nil || r.Relevance != nil || r.Completeness != nil || r.Clarity != nil
}

// Mean returns the mean of the supplied rating components, or nil if none.
func (r Ratings) Mean() *float64 {
	var sum, n float64
	for _, v := range []*int{r.Accuracy, r.Relevance, r.Completeness, r.Clarity} {
		if v != nil {
			sum += float64(*v)
			n++
		}
	}
	if n == 0 {
		return nil
	}
	m := sum / n
	return &m
}

// FeedbackEvent is one user reaction to one AI response. Immutable once recorded.
type FeedbackEvent struct {
	ID             uuid.UUID `json:"id"`
	MessageID      uuid.UUID `json:"message_id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         *string   `json:"user_id,omitempty"`

	Ratings Ratings `json:"ratings"`

	// BinarySignal is +1 (thumbs up) or -1 (thumbs down); nil when absent.
	BinarySignal *int `json:"binary_signal,omitempty"`

	// CitationScore is a citation-quality score in [0,1]; nil when absent.
	CitationScore *float64 `json:"citation_score,omitempty"`

	CreatedAt           time.Time `json:"created_at"`
	ResponseGeneratedAt time.Time `json:"response_generated_at"`
}

// Latency is the delay between response generation and this feedback.
// Clock skew can make it negative in raw data; it is clamped to zero.
func (e FeedbackEvent) Latency() time.Duration {
	d := e.CreatedAt.Sub(e.ResponseGeneratedAt)
	if d < 0 {
		return 0
	}
	return d
}

// Sentiment classifies the event. The explicit binary signal wins; otherwise
// a mean rating of 4+ counts as positive and 2 or below as negative.
func (e FeedbackEvent) Sentiment() Sentiment {
	if e.BinarySignal != nil {
		if *e.BinarySignal > 0 {
			return SentimentPositive
		}
		return SentimentNegative
	}
	if m := e.Ratings.Mean(); m != nil {
		if *m >= 4.0 {
			return SentimentPositive
		}
		if *m <= 2.0 {
			return SentimentNegative
		}
	}
	return SentimentNeutral
}

// Validate checks field ranges on an incoming feedback event.
func (e FeedbackEvent) Validate() error {
	for name, v := range map[string]*int{
		"accuracy":     e.Ratings.Accuracy,
		"relevance":    e.Ratings.Relevance,
		"completeness": e.Ratings.Completeness,
		"clarity":      e.Ratings.Clarity,
	} {
		if v != nil && (*v < MinRating || *v > MaxRating) {
			return fmt.Errorf("rating %s must be in [%d,%d], got %d", name, MinRating, MaxRating, *v)
		}
	}
	if e.BinarySignal != nil && *e.BinarySignal != 1 && *e.BinarySignal != -1 {
		return fmt.Errorf("binary_signal must be +1 or -1, got %d", *e.BinarySignal)
	}
	if e.CitationScore != nil && (*e.CitationScore < 0 || *e.CitationScore > 1) {
		return fmt.Errorf("citation_score must be in [0,1], got %g", *e.CitationScore)
	}
	return nil
}

// FeedbackFilter selects feedback events for aggregation.
// Zero Start/End mean unbounded on that side; both set with Start after End
// is rejected.
type FeedbackFilter struct {
	Start            time.Time   `json:"start,omitempty"`
	End              time.Time   `json:"end,omitempty"`
	ConversationIDs  []uuid.UUID `json:"conversation_ids,omitempty"`
	UserIDs          []string    `json:"user_ids,omitempty"`
	MinFeedbackCount int         `json:"min_feedback_count,omitempty"`
}

// Validate rejects malformed filters before any computation.
func (f FeedbackFilter) Validate() error {
	if !f.Start.IsZero() && !f.End.IsZero() && f.Start.After(f.End) {
		return fmt.Errorf("%w: start %s is after end %s", ErrInvalidFilter,
			f.Start.Format(time.RFC3339), f.End.Format(time.RFC3339))
	}
	if f.MinFeedbackCount < 0 {
		return fmt.Errorf("%w: min_feedback_count must be non-negative", ErrInvalidFilter)
	}
	return nil
}

// AggregatedFeedback is the per-message roll-up produced by the aggregator.
// Rating averages are nil when no event in the group supplied that component.
type AggregatedFeedback struct {
	MessageID      uuid.UUID `json:"message_id"`
	ConversationID uuid.UUID `json:"conversation_id"`

	AvgAccuracy     *float64 `json:"avg_accuracy,omitempty"`
	AvgRelevance    *float64 `json:"avg_relevance,omitempty"`
	AvgCompleteness *float64 `json:"avg_completeness,omitempty"`
	AvgClarity      *float64 `json:"avg_clarity,omitempty"`

	// BinaryRatio is (up - down) / total over events with a binary signal,
	// already in [-1,1]; nil when no event carried one.
	BinaryRatio *float64 `json:"binary_ratio,omitempty"`

	// CitationScore is the mean citation-quality score in [0,1]; nil when absent.
	CitationScore *float64 `json:"citation_score,omitempty"`

	FeedbackCount int `json:"feedback_count"`

	// MinLatency is the smallest observed feedback latency in the group.
	MinLatency time.Duration `json:"min_latency_ns"`

	PositiveCount int `json:"positive_count"`
	NegativeCount int `json:"negative_count"`
	NeutralCount  int `json:"neutral_count"`
}

// RatingsMean returns the mean of the present rating averages, or nil if the
// message received no rating feedback at all.
func (a AggregatedFeedback) RatingsMean() *float64 {
	var sum, n float64
	for _, v := range []*float64{a.AvgAccuracy, a.AvgRelevance, a.AvgCompleteness, a.AvgClarity} {
		if v != nil {
			sum += *v
			n++
		}
	}
	if n == 0 {
		return nil
	}
	m := sum / n
	return &m
}

// PositiveRate is the share of positive events in the group.
func (a AggregatedFeedback) PositiveRate() float64 {
	if a.FeedbackCount == 0 {
		return 0
	}
	return float64(a.PositiveCount) / float64(a.FeedbackCount)
}

// NegativeRate is the share of negative events in the group.
func (a AggregatedFeedback) NegativeRate() float64 {
	if a.FeedbackCount == 0 {
		return 0
	}
	return float64(a.NegativeCount) / float64(a.FeedbackCount)
}
