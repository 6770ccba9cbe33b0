package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WeightSumTolerance is the allowed deviation of the four category weights
// from an exact sum of 1.0.
const WeightSumTolerance = 1e-6

// WeightConfig is an immutable, versioned set of composite-score weights and
// decay parameters. Tuning changes require a new version; existing reward
// records keep referencing the version they were computed with.
type WeightConfig struct {
	Version string `json:"version"`

	// Directional category weights.
	RatingsWeight  float64 `json:"ratings_weight"`
	BinaryWeight   float64 `json:"binary_weight"`
	CitationWeight float64 `json:"citation_weight"`

	// LatencyWeight is the configured share of the latency-confidence
	// category. It participates in the sum-to-1 constraint; the confidence
	// itself enters the composite as a multiplicative factor.
	LatencyWeight float64 `json:"latency_weight"`

	// HalfLife is the feedback-latency decay half-life: confidence halves
	// for every HalfLife of delay between response and feedback.
	HalfLife time.Duration `json:"half_life_ns"`

	CreatedAt time.Time `json:"created_at"`
}

// NewWeightConfig validates and constructs an immutable weight configuration.
// The four weights must be non-negative and sum to 1 within WeightSumTolerance.
func NewWeightConfig(version string, ratings, binary, citation, latency float64, halfLife time.Duration) (WeightConfig, error) {
	cfg := WeightConfig{
		Version:        version,
		RatingsWeight:  ratings,
		BinaryWeight:   binary,
		CitationWeight: citation,
		LatencyWeight:  latency,
		HalfLife:       halfLife,
		CreatedAt:      time.Now().UTC(),
	}
	if err := cfg.Validate(); err != nil {
		return WeightConfig{}, err
	}
	return cfg, nil
}

// Validate checks the weight-sum invariant and parameter ranges.
func (w WeightConfig) Validate() error {
	if w.Version == "" {
		return fmt.Errorf("%w: version is required", ErrWeightConfig)
	}
	for name, v := range map[string]float64{
		"ratings":  w.RatingsWeight,
		"binary":   w.BinaryWeight,
		"citation": w.CitationWeight,
		"latency":  w.LatencyWeight,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: %s weight must be in [0,1], got %g", ErrWeightConfig, name, v)
		}
	}
	sum := w.RatingsWeight + w.BinaryWeight + w.CitationWeight + w.LatencyWeight
	if diff := sum - 1.0; diff > WeightSumTolerance || diff < -WeightSumTolerance {
		return fmt.Errorf("%w: weights sum to %g, want 1.0 within %g", ErrWeightConfig, sum, WeightSumTolerance)
	}
	if w.HalfLife <= 0 {
		return fmt.Errorf("%w: half-life must be positive, got %s", ErrWeightConfig, w.HalfLife)
	}
	return nil
}

// RewardRecord is one computed composite reward for one message under one
// weight-config version. Append-only: recomputation with a different version
// produces a new record and never overwrites an existing one.
type RewardRecord struct {
	MessageID           uuid.UUID `json:"message_id"`
	ConversationID      uuid.UUID `json:"conversation_id"`
	WeightConfigVersion string    `json:"weight_config_version"`

	// CompositeScore is the normalized reward scalar, always in [-1,1].
	CompositeScore float64 `json:"composite_score"`

	// Per-category sub-scores, each in [-1,1]; nil when the category was
	// absent for this message.
	RatingsComponent  *float64 `json:"ratings_component,omitempty"`
	BinaryComponent   *float64 `json:"binary_component,omitempty"`
	CitationComponent *float64 `json:"citation_component,omitempty"`

	// Confidence is the latency-decay multiplier in (0,1].
	Confidence float64 `json:"confidence"`

	FeedbackCount int       `json:"feedback_count"`
	ComputedAt    time.Time `json:"computed_at"`

	// Explanation is a human-readable breakdown of the score.
	Explanation string `json:"explanation,omitempty"`
}
