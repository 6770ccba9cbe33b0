package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Split is a training dataset partition.
type Split string

const (
	SplitTrain Split = "train"
	SplitVal   Split = "val"
	SplitTest  Split = "test"
)

// DatasetStatus is the lifecycle state of a training dataset.
// Transitions are draft -> built -> archived; built content never changes.
type DatasetStatus string

const (
	DatasetDraft    DatasetStatus = "draft"
	DatasetBuilt    DatasetStatus = "built"
	DatasetArchived DatasetStatus = "archived"
)

// DatasetCriteria selects reward records for a dataset build.
// The criteria, together with the newest contributing record timestamp,
// fully determine the dataset version.
type DatasetCriteria struct {
	Start            time.Time   `json:"start,omitempty"`
	End              time.Time   `json:"end,omitempty"`
	ConversationIDs  []uuid.UUID `json:"conversation_ids,omitempty"`
	UserIDs          []string    `json:"user_ids,omitempty"`
	MinFeedbackCount int         `json:"min_feedback_count,omitempty"`

	// MinReward drops records whose composite score is below the threshold;
	// nil keeps everything.
	MinReward *float64 `json:"min_reward,omitempty"`
}

// Validate rejects malformed criteria before any selection runs.
func (c DatasetCriteria) Validate() error {
	if !c.Start.IsZero() && !c.End.IsZero() && c.Start.After(c.End) {
		return fmt.Errorf("%w: start %s is after end %s", ErrInvalidFilter,
			c.Start.Format(time.RFC3339), c.End.Format(time.RFC3339))
	}
	if c.MinFeedbackCount < 0 {
		return fmt.Errorf("%w: min_feedback_count must be non-negative", ErrInvalidFilter)
	}
	if c.MinReward != nil && (*c.MinReward < -1 || *c.MinReward > 1) {
		return fmt.Errorf("%w: min_reward must be in [-1,1], got %g", ErrInvalidFilter, *c.MinReward)
	}
	return nil
}

// DatasetEntry is one selected message in a training dataset.
type DatasetEntry struct {
	MessageID      uuid.UUID `json:"message_id"`
	CompositeScore float64   `json:"composite_score"`
	Split          Split     `json:"split"`
}

// TrainingDataset is an immutable, versioned snapshot of selected reward
// records. VersionID is a deterministic hash of the criteria and the newest
// contributing record timestamp, so identical builds collapse to one dataset.
type TrainingDataset struct {
	VersionID string          `json:"version_id"`
	Criteria  DatasetCriteria `json:"criteria"`

	// Entries are ordered by message ID for reproducible content.
	Entries []DatasetEntry `json:"entries,omitempty"`

	TrainCount int `json:"train_count"`
	ValCount   int `json:"val_count"`
	TestCount  int `json:"test_count"`

	// Positive/negative example counts by score sign (zero counts as positive).
	PositiveCount int `json:"positive_count"`
	NegativeCount int `json:"negative_count"`

	Status    DatasetStatus `json:"status"`
	Checksum  string        `json:"checksum"`
	CreatedAt time.Time     `json:"created_at"`
}
