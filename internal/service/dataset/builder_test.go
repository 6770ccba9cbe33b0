package dataset

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoshu-ai/hoshu/internal/integrity"
	"github.com/hoshu-ai/hoshu/internal/model"
	"github.com/hoshu-ai/hoshu/internal/prom"
	"github.com/hoshu-ai/hoshu/internal/storage"
	"github.com/hoshu-ai/hoshu/internal/testutil"
)

// memStore is an in-memory Store with the same claim semantics as the
// Postgres implementation.
type memStore struct {
	mu       sync.Mutex
	records  []model.RewardRecord
	datasets map[string]model.TrainingDataset

	completeErrs int // fail the next N CompleteDataset calls
	listCalls    int
}

func newMemStore() *memStore {
	return &memStore{datasets: make(map[string]model.TrainingDataset)}
}

func (m *memStore) ListRewardRecords(_ context.Context, _ model.DatasetCriteria) ([]model.RewardRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	return append([]model.RewardRecord(nil), m.records...), nil
}

func (m *memStore) GetDataset(_ context.Context, versionID string, _ bool) (model.TrainingDataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ds, ok := m.datasets[versionID]
	if !ok {
		return model.TrainingDataset{}, storage.ErrNotFound
	}
	return ds, nil
}

func (m *memStore) ClaimDatasetVersion(_ context.Context, ds model.TrainingDataset) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.datasets[ds.VersionID]; ok {
		return false, nil
	}
	draft := ds
	draft.Status = model.DatasetDraft
	m.datasets[ds.VersionID] = draft
	return true, nil
}

func (m *memStore) CompleteDataset(_ context.Context, ds model.TrainingDataset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.completeErrs > 0 {
		m.completeErrs--
		return errors.New("write failed")
	}
	ds.Status = model.DatasetBuilt
	m.datasets[ds.VersionID] = ds
	return nil
}

func (m *memStore) ReleaseDatasetClaim(_ context.Context, versionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ds, ok := m.datasets[versionID]; ok && ds.Status == model.DatasetDraft {
		delete(m.datasets, versionID)
	}
	return nil
}

func (m *memStore) ListDatasets(_ context.Context, includeArchived bool) ([]model.TrainingDataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.TrainingDataset
	for _, ds := range m.datasets {
		if ds.Status == model.DatasetBuilt || (includeArchived && ds.Status == model.DatasetArchived) {
			out = append(out, ds)
		}
	}
	return out, nil
}

func (m *memStore) ArchiveDataset(_ context.Context, versionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ds, ok := m.datasets[versionID]
	if !ok || ds.Status != model.DatasetBuilt {
		return storage.ErrNotFound
	}
	ds.Status = model.DatasetArchived
	m.datasets[versionID] = ds
	return nil
}

func record(messageID uuid.UUID, score float64, at time.Time) model.RewardRecord {
	return model.RewardRecord{
		MessageID:           messageID,
		ConversationID:      uuid.New(),
		WeightConfigVersion: "v1",
		CompositeScore:      score,
		Confidence:          1,
		FeedbackCount:       1,
		ComputedAt:          at,
	}
}

func newTestBuilder(store Store) *Builder {
	return NewBuilder(store, prom.New(), time.Second, testutil.TestLogger())
}

func TestBuildIdempotent(t *testing.T) {
	store := newMemStore()
	now := time.Now().UTC()
	store.records = []model.RewardRecord{
		record(uuid.New(), 0.8, now),
		record(uuid.New(), -0.3, now),
		record(uuid.New(), 0.1, now),
	}
	b := newTestBuilder(store)

	first, err := b.Build(context.Background(), model.DatasetCriteria{}, nil)
	require.NoError(t, err)
	assert.Equal(t, model.DatasetBuilt, first.Status)
	assert.Len(t, first.Entries, 3)
	assert.NotEmpty(t, first.Checksum)

	second, err := b.Build(context.Background(), model.DatasetCriteria{}, nil)
	require.NoError(t, err)
	assert.Equal(t, first.VersionID, second.VersionID)
	assert.Equal(t, first.Checksum, second.Checksum)
}

func TestBuildNewVersionAfterNewRecords(t *testing.T) {
	store := newMemStore()
	now := time.Now().UTC()
	store.records = []model.RewardRecord{record(uuid.New(), 0.5, now)}
	b := newTestBuilder(store)

	first, err := b.Build(context.Background(), model.DatasetCriteria{}, nil)
	require.NoError(t, err)

	store.mu.Lock()
	store.records = append(store.records, record(uuid.New(), 0.7, now.Add(time.Minute)))
	store.mu.Unlock()

	second, err := b.Build(context.Background(), model.DatasetCriteria{}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.VersionID, second.VersionID)
	assert.Len(t, second.Entries, 2)
}

func TestBuildMinRewardThreshold(t *testing.T) {
	store := newMemStore()
	now := time.Now().UTC()
	keep := uuid.New()
	store.records = []model.RewardRecord{
		record(keep, 0.9, now),
		record(uuid.New(), -0.5, now),
	}
	b := newTestBuilder(store)

	threshold := 0.0
	ds, err := b.Build(context.Background(), model.DatasetCriteria{}, &threshold)
	require.NoError(t, err)
	require.Len(t, ds.Entries, 1)
	assert.Equal(t, keep, ds.Entries[0].MessageID)
	assert.Equal(t, 1, ds.PositiveCount)
	assert.Zero(t, ds.NegativeCount)
}

func TestBuildEmptySelection(t *testing.T) {
	b := newTestBuilder(newMemStore())
	ds, err := b.Build(context.Background(), model.DatasetCriteria{}, nil)
	require.NoError(t, err)
	assert.Empty(t, ds.Entries)
	assert.Equal(t, model.DatasetBuilt, ds.Status)
}

func TestBuildInvalidCriteria(t *testing.T) {
	b := newTestBuilder(newMemStore())
	bad := 2.0
	_, err := b.Build(context.Background(), model.DatasetCriteria{}, &bad)
	assert.ErrorIs(t, err, model.ErrInvalidFilter)
}

func TestBuildRetriesPersistenceOnce(t *testing.T) {
	store := newMemStore()
	store.records = []model.RewardRecord{record(uuid.New(), 0.4, time.Now().UTC())}
	store.completeErrs = 1
	b := newTestBuilder(store)

	ds, err := b.Build(context.Background(), model.DatasetCriteria{}, nil)
	require.NoError(t, err)
	assert.Equal(t, model.DatasetBuilt, ds.Status)
}

func TestBuildSurfacesPersistenceFailure(t *testing.T) {
	store := newMemStore()
	store.records = []model.RewardRecord{record(uuid.New(), 0.4, time.Now().UTC())}
	store.completeErrs = 2
	b := newTestBuilder(store)

	_, err := b.Build(context.Background(), model.DatasetCriteria{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrPersistence)

	// The claim was released, so a later build succeeds.
	ds, err := b.Build(context.Background(), model.DatasetCriteria{}, nil)
	require.NoError(t, err)
	assert.Equal(t, model.DatasetBuilt, ds.Status)
}

func TestBuildConcurrentCollapses(t *testing.T) {
	store := newMemStore()
	now := time.Now().UTC()
	for i := 0; i < 10; i++ {
		store.records = append(store.records, record(uuid.New(), 0.5, now))
	}
	b := newTestBuilder(store)

	const n = 8
	results := make([]model.TrainingDataset, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ds, err := b.Build(context.Background(), model.DatasetCriteria{}, nil)
			assert.NoError(t, err)
			results[i] = ds
		}(i)
	}
	wg.Wait()

	for _, ds := range results[1:] {
		assert.Equal(t, results[0].VersionID, ds.VersionID)
		assert.Equal(t, results[0].Checksum, ds.Checksum)
	}
}

func TestSelectDedupesByLatestComputedAt(t *testing.T) {
	msg := uuid.New()
	old := record(msg, 0.2, time.Now().Add(-time.Hour))
	newer := record(msg, 0.8, time.Now())
	newer.WeightConfigVersion = "v2"

	entries, snapshot := Select([]model.RewardRecord{old, newer}, nil)
	require.Len(t, entries, 1)
	assert.Equal(t, 0.8, entries[0].CompositeScore)
	assert.Equal(t, newer.ComputedAt, snapshot)
}

func TestSelectSnapshotCoversFilteredRecords(t *testing.T) {
	// A record dropped by the threshold still advances the snapshot time:
	// it changed the selection input.
	now := time.Now().UTC()
	below := record(uuid.New(), -0.9, now.Add(time.Minute))
	above := record(uuid.New(), 0.9, now)

	threshold := 0.0
	entries, snapshot := Select([]model.RewardRecord{above, below}, &threshold)
	require.Len(t, entries, 1)
	assert.Equal(t, below.ComputedAt, snapshot)
}

func TestSelectSplitMatchesHash(t *testing.T) {
	now := time.Now().UTC()
	var records []model.RewardRecord
	for i := 0; i < 50; i++ {
		records = append(records, record(uuid.New(), 0.5, now))
	}
	entries, _ := Select(records, nil)
	for _, e := range entries {
		assert.Equal(t, integrity.SplitFor(e.MessageID), e.Split)
	}
}
