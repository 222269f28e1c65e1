package queue

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"taskhound/internal/types"
)

func rankItem(id string, priority int, age time.Duration) types.WorkItem {
	return types.WorkItem{
		ID:        id,
		Type:      types.TypeBugFix,
		Priority:  priority,
		Source:    "issues",
		SourceRef: id,
		CreatedAt: time.Now().Add(-age),
	}
}

func ids(items []types.WorkItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestRankClaimedNilScoreIsPriorityThenAge(t *testing.T) {
	items := []types.WorkItem{
		rankItem("b", 3, time.Minute),
		rankItem("a", 5, 0),
		rankItem("c", 3, time.Hour),
	}
	rankClaimed(items, nil)

	if diff := cmp.Diff([]string{"a", "c", "b"}, ids(items)); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestRankClaimedScoreBreaksTiesOnly(t *testing.T) {
	items := []types.WorkItem{
		rankItem("old-low-score", 3, time.Hour),
		rankItem("new-high-score", 3, time.Minute),
		rankItem("lower-priority", 2, 10*time.Hour),
	}
	items[1].Source = "favored"

	score := func(source string, _ types.ItemType, _ int) float64 {
		if source == "favored" {
			return 2.0
		}
		return 0.5
	}
	rankClaimed(items, score)

	assert.Equal(t, []string{"new-high-score", "old-low-score", "lower-priority"}, ids(items),
		"score reorders within a band but never across priorities")
}

func TestRankClaimedNeverReordersUrgent(t *testing.T) {
	items := []types.WorkItem{
		rankItem("urgent-b", 5, time.Minute),
		rankItem("urgent-a", 5, time.Hour),
	}
	// A hostile score trying to flip the urgent band is ignored there.
	score := func(string, types.ItemType, int) float64 {
		if items[0].ID == "urgent-b" {
			return 100
		}
		return 0
	}
	rankClaimed(items, score)

	assert.Equal(t, []string{"urgent-a", "urgent-b"}, ids(items),
		"urgent items order by age alone")
}
