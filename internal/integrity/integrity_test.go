package integrity

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hoshu-ai/hoshu/internal/model"
)

func TestDatasetVersionIDDeterministic(t *testing.T) {
	snapshot := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	c := model.DatasetCriteria{
		Start:            snapshot.Add(-24 * time.Hour),
		End:              snapshot,
		MinFeedbackCount: 2,
	}

	a := DatasetVersionID(c, snapshot)
	b := DatasetVersionID(c, snapshot)
	if a != b {
		t.Fatalf("same inputs produced different version IDs: %s vs %s", a, b)
	}
	if !strings.HasPrefix(a, "v1:") {
		t.Fatalf("version ID %s missing format prefix", a)
	}
}

func TestDatasetVersionIDSensitivity(t *testing.T) {
	snapshot := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	base := model.DatasetCriteria{MinFeedbackCount: 1}
	baseID := DatasetVersionID(base, snapshot)

	threshold := 0.5
	changed := []struct {
		name     string
		criteria model.DatasetCriteria
		snapshot time.Time
	}{
		{"min count", model.DatasetCriteria{MinFeedbackCount: 2}, snapshot},
		{"min reward", model.DatasetCriteria{MinFeedbackCount: 1, MinReward: &threshold}, snapshot},
		{"start", model.DatasetCriteria{MinFeedbackCount: 1, Start: snapshot.Add(-time.Hour)}, snapshot},
		{"users", model.DatasetCriteria{MinFeedbackCount: 1, UserIDs: []string{"u1"}}, snapshot},
		{"snapshot time", base, snapshot.Add(time.Second)},
	}
	for _, tt := range changed {
		t.Run(tt.name, func(t *testing.T) {
			if got := DatasetVersionID(tt.criteria, tt.snapshot); got == baseID {
				t.Fatalf("changed %s but version ID did not change", tt.name)
			}
		})
	}
}

func TestDatasetVersionIDIgnoresIDOrder(t *testing.T) {
	snapshot := time.Now().UTC()
	c1, c2 := uuid.New(), uuid.New()

	a := DatasetVersionID(model.DatasetCriteria{ConversationIDs: []uuid.UUID{c1, c2}}, snapshot)
	b := DatasetVersionID(model.DatasetCriteria{ConversationIDs: []uuid.UUID{c2, c1}}, snapshot)
	if a != b {
		t.Fatal("conversation ID order changed the version ID")
	}
}

func TestSplitForStable(t *testing.T) {
	id := uuid.New()
	first := SplitFor(id)
	for i := 0; i < 10; i++ {
		if got := SplitFor(id); got != first {
			t.Fatalf("SplitFor unstable: %s then %s", first, got)
		}
	}
}

func TestSplitForDistribution(t *testing.T) {
	counts := map[model.Split]int{}
	const n = 20000
	for i := 0; i < n; i++ {
		counts[SplitFor(uuid.New())]++
	}

	trainFrac := float64(counts[model.SplitTrain]) / n
	valFrac := float64(counts[model.SplitVal]) / n
	testFrac := float64(counts[model.SplitTest]) / n

	if trainFrac < 0.77 || trainFrac > 0.83 {
		t.Fatalf("train fraction %.3f outside [0.77, 0.83]", trainFrac)
	}
	if valFrac < 0.08 || valFrac > 0.12 {
		t.Fatalf("val fraction %.3f outside [0.08, 0.12]", valFrac)
	}
	if testFrac < 0.08 || testFrac > 0.12 {
		t.Fatalf("test fraction %.3f outside [0.08, 0.12]", testFrac)
	}
}

func TestDatasetChecksum(t *testing.T) {
	entries := []model.DatasetEntry{
		{MessageID: uuid.New(), CompositeScore: 0.5, Split: model.SplitTrain},
		{MessageID: uuid.New(), CompositeScore: -0.2, Split: model.SplitVal},
		{MessageID: uuid.New(), CompositeScore: 0.9, Split: model.SplitTrain},
	}

	sum := DatasetChecksum(entries)
	if sum == "" {
		t.Fatal("checksum empty for non-empty entries")
	}
	if DatasetChecksum(entries) != sum {
		t.Fatal("checksum not deterministic")
	}

	// Content change flips the checksum.
	entries[1].CompositeScore = -0.3
	if DatasetChecksum(entries) == sum {
		t.Fatal("checksum unchanged after score change")
	}
}

func TestDatasetChecksumEdgeCases(t *testing.T) {
	if got := DatasetChecksum(nil); got != "" {
		t.Fatalf("checksum of empty dataset = %q, want empty", got)
	}

	one := []model.DatasetEntry{{MessageID: uuid.New(), CompositeScore: 0.1, Split: model.SplitTest}}
	if got := DatasetChecksum(one); got != EntryHash(one[0].MessageID, 0.1, model.SplitTest) {
		t.Fatal("single-entry checksum should equal its leaf hash")
	}
}

func TestMerkleRootOddLevels(t *testing.T) {
	leaves := []string{"a", "b", "c"}
	root3 := merkleRoot(leaves)
	if root3 == "" {
		t.Fatal("empty root for three leaves")
	}
	if root4 := merkleRoot([]string{"a", "b", "c", "d"}); root4 == root3 {
		t.Fatal("three-leaf and four-leaf trees collided")
	}
}
