// Package reward computes bounded composite reward scores from aggregated
// feedback under an immutable weight configuration.
//
// Score is a pure function: the same (aggregate, config) input always yields
// a bit-identical record apart from the ComputedAt stamp, which callers
// supply. ComputeRewards fans scoring out across messages and appends the
// results to the reward store.
package reward

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/hoshu-ai/hoshu/internal/model"
	"github.com/hoshu-ai/hoshu/internal/prom"
	"github.com/hoshu-ai/hoshu/internal/service/aggregate"
	"github.com/hoshu-ai/hoshu/internal/telemetry"
)

// Score computes the composite reward for one message at the given time.
//
// The three directional sub-scores (ratings, binary, citation) are each
// normalized to [-1,1]; absent categories have their configured weight
// redistributed proportionally across the present ones. The latency
// confidence 0.5^(latency/halfLife) multiplies the weighted sum, so slow
// feedback shrinks score magnitude without flipping its sign. With no
// directional category present the composite is exactly 0 (neutral).
func Score(agg model.AggregatedFeedback, cfg model.WeightConfig, now time.Time) model.RewardRecord {
	rec := model.RewardRecord{
		MessageID:           agg.MessageID,
		ConversationID:      agg.ConversationID,
		WeightConfigVersion: cfg.Version,
		FeedbackCount:       agg.FeedbackCount,
		ComputedAt:          now.UTC(),
	}

	if m := agg.RatingsMean(); m != nil {
		v := (*m - 3) / 2
		rec.RatingsComponent = &v
	}
	if agg.BinaryRatio != nil {
		v := *agg.BinaryRatio
		rec.BinaryComponent = &v
	}
	if agg.CitationScore != nil {
		v := 2**agg.CitationScore - 1
		rec.CitationComponent = &v
	}

	rec.Confidence = confidence(agg.MinLatency, cfg.HalfLife)

	weights := []float64{cfg.RatingsWeight, cfg.BinaryWeight, cfg.CitationWeight}
	present := []bool{rec.RatingsComponent != nil, rec.BinaryComponent != nil, rec.CitationComponent != nil}
	effective := Renormalize(weights, present)

	var weighted float64
	for i, c := range []*float64{rec.RatingsComponent, rec.BinaryComponent, rec.CitationComponent} {
		if c != nil {
			weighted += effective[i] * *c
		}
	}
	rec.CompositeScore = Clamp(rec.Confidence*weighted, -1, 1)

	rec.Explanation = explain(rec, effective)
	return rec
}

// confidence is the latency decay multiplier in (0,1]: 1 at zero latency,
// halving every halfLife of delay.
func confidence(latency, halfLife time.Duration) float64 {
	if latency <= 0 {
		return 1
	}
	return math.Pow(0.5, float64(latency)/float64(halfLife))
}

// explain renders a compact human-readable breakdown of the composite score.
func explain(rec model.RewardRecord, effective []float64) string {
	var b strings.Builder
	names := []string{"ratings", "binary", "citation"}
	for i, c := range []*float64{rec.RatingsComponent, rec.BinaryComponent, rec.CitationComponent} {
		if c == nil {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s %.3f (w %.3f)", names[i], *c, effective[i])
	}
	if b.Len() == 0 {
		return "no directional feedback; neutral score"
	}
	fmt.Fprintf(&b, "; confidence %.3f", rec.Confidence)
	return b.String()
}

// ConfigSource reads weight configurations.
type ConfigSource interface {
	GetWeightConfig(ctx context.Context, version string) (model.WeightConfig, error)
	LatestWeightConfig(ctx context.Context) (model.WeightConfig, error)
}

// RecordSink appends reward records. Re-inserting an existing
// (message, weight version) pair is a no-op, never an overwrite.
type RecordSink interface {
	InsertRewardRecords(ctx context.Context, records []model.RewardRecord) (int64, error)
}

// Store combines the storage surfaces the service needs.
type Store interface {
	ConfigSource
	RecordSink
}

// Service wires aggregation and scoring together.
type Service struct {
	agg     *aggregate.Aggregator
	db      Store
	stats   *prom.Stats
	logger  *slog.Logger
	workers int

	scoreDuration metric.Float64Histogram
}

// NewService creates the reward service. workers bounds the scoring fan-out;
// values below 1 fall back to 1.
func NewService(agg *aggregate.Aggregator, db Store, stats *prom.Stats, workers int, logger *slog.Logger) *Service {
	if workers < 1 {
		workers = 1
	}
	meter := telemetry.Meter("hoshu/reward")
	scoreDur, _ := meter.Float64Histogram("hoshu.reward.compute.duration",
		metric.WithDescription("Time to compute rewards for a filter (ms)"),
		metric.WithUnit("ms"),
	)
	return &Service{
		agg:           agg,
		db:            db,
		stats:         stats,
		logger:        logger,
		workers:       workers,
		scoreDuration: scoreDur,
	}
}

// ComputeRewards aggregates feedback matching the filter and scores every
// message under the requested weight-config version (empty selects the
// latest). Scoring is parallel across messages; each message depends only on
// its own aggregate and the immutable config, so workers share no mutable
// state. Records are appended to the store and returned in message-ID order.
func (s *Service) ComputeRewards(ctx context.Context, filter model.FeedbackFilter, weightVersion string) ([]model.RewardRecord, error) {
	start := time.Now()
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("hoshu.weight_version", weightVersion))

	var cfg model.WeightConfig
	var err error
	if weightVersion == "" {
		cfg, err = s.db.LatestWeightConfig(ctx)
	} else {
		cfg, err = s.db.GetWeightConfig(ctx, weightVersion)
	}
	if err != nil {
		return nil, fmt.Errorf("reward: load weight config: %w", err)
	}

	aggs, err := s.agg.Aggregate(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(aggs) == 0 {
		return []model.RewardRecord{}, nil
	}

	// One ComputedAt for the whole batch keeps the batch reproducible.
	now := time.Now().UTC()
	records := make([]model.RewardRecord, len(aggs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, agg := range aggs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			records[i] = Score(agg, cfg, now)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("reward: score messages: %w", err)
	}

	inserted, err := s.db.InsertRewardRecords(ctx, records)
	if err != nil {
		return nil, fmt.Errorf("reward: store records: %w", err)
	}

	s.stats.RewardsComputed.Add(float64(len(records)))
	s.scoreDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	s.logger.Info("computed rewards",
		"messages", len(records),
		"inserted", inserted,
		"weight_version", cfg.Version,
	)
	return records, nil
}
