// Package aggregate groups raw feedback events into per-message summaries.
//
// The aggregator is read-only: it scans the feedback store through the
// EventSource boundary and derives AggregatedFeedback values, which are
// consumed by reward scoring and never persisted on their own.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/hoshu-ai/hoshu/internal/model"
)

// EventSource reads feedback events. The feedback store is external input to
// this core and is never written through this interface.
type EventSource interface {
	ListFeedbackEvents(ctx context.Context, filter model.FeedbackFilter) ([]model.FeedbackEvent, error)
	ListFeedbackByConversation(ctx context.Context, conversationID uuid.UUID) ([]model.FeedbackEvent, error)
}

// Aggregator produces per-message feedback summaries.
type Aggregator struct {
	events EventSource
	logger *slog.Logger
}

// New creates an Aggregator.
func New(events EventSource, logger *slog.Logger) *Aggregator {
	return &Aggregator{events: events, logger: logger}
}

// Aggregate returns one AggregatedFeedback per message with at least
// filter.MinFeedbackCount matching events, ordered by message ID. An empty
// result is a valid outcome, not an error; only a malformed filter fails.
func (a *Aggregator) Aggregate(ctx context.Context, filter model.FeedbackFilter) ([]model.AggregatedFeedback, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	events, err := a.events.ListFeedbackEvents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("aggregate: list feedback: %w", err)
	}

	out := Group(events)
	if filter.MinFeedbackCount > 1 {
		filtered := out[:0]
		for _, agg := range out {
			if agg.FeedbackCount >= filter.MinFeedbackCount {
				filtered = append(filtered, agg)
			}
		}
		out = filtered
	}

	a.logger.Debug("aggregated feedback",
		"events", len(events),
		"messages", len(out),
	)
	return out, nil
}

// ByConversation returns all feedback events recorded for one conversation,
// newest first.
func (a *Aggregator) ByConversation(ctx context.Context, conversationID uuid.UUID) ([]model.FeedbackEvent, error) {
	events, err := a.events.ListFeedbackByConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("aggregate: list by conversation: %w", err)
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].CreatedAt.After(events[j].CreatedAt)
	})
	return events, nil
}

// Group rolls events up by message ID. Each rating component is averaged
// over only the events that supplied it, so a missing rating never drags an
// average toward zero. Pure function, exported for direct testing.
func Group(events []model.FeedbackEvent) []model.AggregatedFeedback {
	type acc struct {
		agg model.AggregatedFeedback

		ratingSums   [4]float64
		ratingCounts [4]int

		binaryUp, binaryDown, binaryTotal int

		citationSum   float64
		citationCount int
	}

	byMessage := make(map[uuid.UUID]*acc)
	for _, e := range events {
		g, ok := byMessage[e.MessageID]
		if !ok {
			g = &acc{agg: model.AggregatedFeedback{
				MessageID:      e.MessageID,
				ConversationID: e.ConversationID,
			}}
			byMessage[e.MessageID] = g
		}

		g.agg.FeedbackCount++
		switch e.Sentiment() {
		case model.SentimentPositive:
			g.agg.PositiveCount++
		case model.SentimentNegative:
			g.agg.NegativeCount++
		default:
			g.agg.NeutralCount++
		}

		for i, v := range []*int{e.Ratings.Accuracy, e.Ratings.Relevance, e.Ratings.Completeness, e.Ratings.Clarity} {
			if v != nil {
				g.ratingSums[i] += float64(*v)
				g.ratingCounts[i]++
			}
		}

		if e.BinarySignal != nil {
			g.binaryTotal++
			if *e.BinarySignal > 0 {
				g.binaryUp++
			} else {
				g.binaryDown++
			}
		}

		if e.CitationScore != nil {
			g.citationSum += *e.CitationScore
			g.citationCount++
		}

		lat := e.Latency()
		if g.agg.FeedbackCount == 1 || lat < g.agg.MinLatency {
			g.agg.MinLatency = lat
		}
	}

	out := make([]model.AggregatedFeedback, 0, len(byMessage))
	for _, g := range byMessage {
		avgs := [4]**float64{&g.agg.AvgAccuracy, &g.agg.AvgRelevance, &g.agg.AvgCompleteness, &g.agg.AvgClarity}
		for i := range avgs {
			if g.ratingCounts[i] > 0 {
				v := g.ratingSums[i] / float64(g.ratingCounts[i])
				*avgs[i] = &v
			}
		}
		if g.binaryTotal > 0 {
			r := float64(g.binaryUp-g.binaryDown) / float64(g.binaryTotal)
			g.agg.BinaryRatio = &r
		}
		if g.citationCount > 0 {
			c := g.citationSum / float64(g.citationCount)
			g.agg.CitationScore = &c
		}
		out = append(out, g.agg)
	}

	// Map iteration order is random; callers rely on a stable ordering.
	sort.Slice(out, func(i, j int) bool {
		return out[i].MessageID.String() < out[j].MessageID.String()
	})
	return out
}
