// Package dataset builds immutable, versioned training datasets from scored
// reward records.
//
// A build is deterministic and idempotent: the version ID derives from the
// selection criteria plus the newest contributing record timestamp, split
// assignment hashes each message ID, and an existing built version
// short-circuits instead of recomputing. Concurrent builds of the same
// version collapse to one writer in-process via singleflight and across
// processes via a draft-claim row in storage.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hoshu-ai/hoshu/internal/integrity"
	"github.com/hoshu-ai/hoshu/internal/model"
	"github.com/hoshu-ai/hoshu/internal/prom"
	"github.com/hoshu-ai/hoshu/internal/storage"
)

// ErrBuildConflict reports that another build owns the version's draft claim
// and did not publish a built snapshot within the wait budget. Callers retry;
// it is not surfaced as a user-facing failure.
var ErrBuildConflict = errors.New("dataset build already in progress")

// Store is the storage surface the builder needs.
type Store interface {
	// ListRewardRecords returns every record matching the criteria,
	// including superseded weight-config versions; the builder dedupes.
	ListRewardRecords(ctx context.Context, c model.DatasetCriteria) ([]model.RewardRecord, error)

	GetDataset(ctx context.Context, versionID string, includeEntries bool) (model.TrainingDataset, error)

	// ClaimDatasetVersion inserts a draft row for the version; it returns
	// false without error when the version already exists in any status.
	ClaimDatasetVersion(ctx context.Context, ds model.TrainingDataset) (bool, error)

	// CompleteDataset publishes entries and flips draft -> built.
	CompleteDataset(ctx context.Context, ds model.TrainingDataset) error

	// ReleaseDatasetClaim removes a draft row after a failed build so a
	// retry can claim it again.
	ReleaseDatasetClaim(ctx context.Context, versionID string) error

	ListDatasets(ctx context.Context, includeArchived bool) ([]model.TrainingDataset, error)
	ArchiveDataset(ctx context.Context, versionID string) error
}

// Builder builds and serves training datasets.
type Builder struct {
	db     Store
	stats  *prom.Stats
	logger *slog.Logger

	group singleflight.Group

	// waitTimeout bounds how long a losing builder waits for the winner's
	// snapshot before reporting a conflict.
	waitTimeout  time.Duration
	pollInterval time.Duration
}

// NewBuilder creates a Builder.
func NewBuilder(db Store, stats *prom.Stats, waitTimeout time.Duration, logger *slog.Logger) *Builder {
	if waitTimeout <= 0 {
		waitTimeout = 10 * time.Second
	}
	return &Builder{
		db:           db,
		stats:        stats,
		logger:       logger,
		waitTimeout:  waitTimeout,
		pollInterval: 100 * time.Millisecond,
	}
}

// Build selects, scores-snapshots, and commits a dataset for the criteria.
// minReward, when non-nil, overrides the threshold embedded in the criteria.
// Calling Build twice against an unchanged record set returns the identical
// version ID and content.
func (b *Builder) Build(ctx context.Context, criteria model.DatasetCriteria, minReward *float64) (model.TrainingDataset, error) {
	if minReward != nil {
		criteria.MinReward = minReward
	}
	if err := criteria.Validate(); err != nil {
		return model.TrainingDataset{}, err
	}
	start := time.Now()

	records, err := b.db.ListRewardRecords(ctx, criteria)
	if err != nil {
		return model.TrainingDataset{}, fmt.Errorf("dataset: list reward records: %w", err)
	}

	entries, snapshot := Select(records, criteria.MinReward)
	versionID := integrity.DatasetVersionID(criteria, snapshot)

	v, err, _ := b.group.Do(versionID, func() (any, error) {
		return b.commit(ctx, criteria, versionID, entries)
	})
	if err != nil {
		return model.TrainingDataset{}, err
	}

	ds := v.(model.TrainingDataset)
	b.stats.DatasetBuildDur.Observe(time.Since(start).Seconds())
	return ds, nil
}

// commit publishes the dataset, or returns the existing snapshot when the
// version was already built (by this process, another process, or a past run).
func (b *Builder) commit(ctx context.Context, criteria model.DatasetCriteria, versionID string, entries []model.DatasetEntry) (model.TrainingDataset, error) {
	if existing, err := b.db.GetDataset(ctx, versionID, true); err == nil {
		if existing.Status != model.DatasetDraft {
			return existing, nil
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return model.TrainingDataset{}, fmt.Errorf("dataset: check existing: %w", err)
	}

	ds := assemble(criteria, versionID, entries)

	claimed, err := b.db.ClaimDatasetVersion(ctx, ds)
	if err != nil {
		return model.TrainingDataset{}, fmt.Errorf("dataset: claim version: %w", err)
	}
	if !claimed {
		// Lost the race: wait for the winner's snapshot instead of rebuilding.
		return b.waitForBuilt(ctx, versionID)
	}

	// Store writes are retried once with the same computed content; the
	// build is idempotent so a duplicate write cannot corrupt the snapshot.
	if err := b.db.CompleteDataset(ctx, ds); err != nil {
		b.stats.PersistenceRetry.Inc()
		b.logger.Warn("dataset publish failed, retrying once", "version_id", versionID, "error", err)
		if err2 := b.db.CompleteDataset(ctx, ds); err2 != nil {
			// Give the claim back so a later call can rebuild.
			if relErr := b.db.ReleaseDatasetClaim(ctx, versionID); relErr != nil {
				b.logger.Error("release dataset claim", "version_id", versionID, "error", relErr)
			}
			return model.TrainingDataset{}, fmt.Errorf("dataset: publish %s: %w", versionID, errors.Join(storage.ErrPersistence, err2))
		}
	}

	b.stats.DatasetsBuilt.Inc()
	b.logger.Info("dataset built",
		"version_id", versionID,
		"entries", len(ds.Entries),
		"train", ds.TrainCount, "val", ds.ValCount, "test", ds.TestCount,
	)
	ds.Status = model.DatasetBuilt
	return ds, nil
}

// waitForBuilt polls until the winning builder publishes the snapshot.
func (b *Builder) waitForBuilt(ctx context.Context, versionID string) (model.TrainingDataset, error) {
	deadline := time.Now().Add(b.waitTimeout)
	for {
		ds, err := b.db.GetDataset(ctx, versionID, true)
		if err == nil && ds.Status != model.DatasetDraft {
			return ds, nil
		}
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return model.TrainingDataset{}, fmt.Errorf("dataset: poll version %s: %w", versionID, err)
		}
		if time.Now().After(deadline) {
			return model.TrainingDataset{}, fmt.Errorf("dataset: version %s: %w", versionID, ErrBuildConflict)
		}
		select {
		case <-ctx.Done():
			return model.TrainingDataset{}, ctx.Err()
		case <-time.After(b.pollInterval):
		}
	}
}

// Get returns a dataset with its entries.
func (b *Builder) Get(ctx context.Context, versionID string) (model.TrainingDataset, error) {
	return b.db.GetDataset(ctx, versionID, true)
}

// List returns dataset metadata, excluding archived versions by default.
func (b *Builder) List(ctx context.Context, includeArchived bool) ([]model.TrainingDataset, error) {
	return b.db.ListDatasets(ctx, includeArchived)
}

// Archive hides a built dataset from default listings. Content is retained.
func (b *Builder) Archive(ctx context.Context, versionID string) error {
	return b.db.ArchiveDataset(ctx, versionID)
}

// Select dedupes records by message ID (keeping the most recently computed
// weight-config score), applies the reward threshold, and returns entries in
// message-ID order plus the newest contributing ComputedAt. Pure function.
func Select(records []model.RewardRecord, minReward *float64) ([]model.DatasetEntry, time.Time) {
	latest := make(map[string]model.RewardRecord)
	for _, r := range records {
		key := r.MessageID.String()
		prev, ok := latest[key]
		if !ok || r.ComputedAt.After(prev.ComputedAt) {
			latest[key] = r
		}
	}

	var snapshot time.Time
	entries := make([]model.DatasetEntry, 0, len(latest))
	for _, r := range latest {
		// The snapshot time covers every selected record, threshold or not:
		// a record dropping below threshold still changes the selection input.
		if r.ComputedAt.After(snapshot) {
			snapshot = r.ComputedAt
		}
		if minReward != nil && r.CompositeScore < *minReward {
			continue
		}
		entries = append(entries, model.DatasetEntry{
			MessageID:      r.MessageID,
			CompositeScore: r.CompositeScore,
			Split:          integrity.SplitFor(r.MessageID),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].MessageID.String() < entries[j].MessageID.String()
	})
	return entries, snapshot
}

// assemble fills in the derived dataset fields for a fresh build.
func assemble(criteria model.DatasetCriteria, versionID string, entries []model.DatasetEntry) model.TrainingDataset {
	ds := model.TrainingDataset{
		VersionID: versionID,
		Criteria:  criteria,
		Entries:   entries,
		Status:    model.DatasetDraft,
		Checksum:  integrity.DatasetChecksum(entries),
		CreatedAt: time.Now().UTC(),
	}
	for _, e := range entries {
		switch e.Split {
		case model.SplitTrain:
			ds.TrainCount++
		case model.SplitVal:
			ds.ValCount++
		default:
			ds.TestCount++
		}
		if e.CompositeScore >= 0 {
			ds.PositiveCount++
		} else {
			ds.NegativeCount++
		}
	}
	return ds
}
