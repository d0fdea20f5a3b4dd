package calllog

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestTimeAgo(t *testing.T) {
	now := time.Date(2024, 6, 12, 15, 0, 0, 0, time.UTC)
	tests := []struct {
		in   time.Time
		want string
	}{
		{now.Add(-10 * time.Second), "just now"},
		{now.Add(-5 * time.Minute), "5 min ago"},
		{now.Add(-59 * time.Minute), "59 min ago"},
		{now.Add(-3 * time.Hour), "3 h ago"},
		{now.Add(-26 * time.Hour), "13:00"},
		{now.Add(2 * time.Minute), "15:02"},
	}
	for _, tt := range tests {
		if got := TimeAgo(now, tt.in); got != tt.want {
			t.Errorf("TimeAgo(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestElapsed(t *testing.T) {
	tests := map[int64]string{
		-1:   "0s",
		0:    "0s",
		45:   "45s",
		125:  "2m 05s",
		3720: "1h 02m",
	}
	for in, want := range tests {
		if got := Elapsed(in); got != want {
			t.Errorf("Elapsed(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestRows(t *testing.T) {
	now := time.Date(2024, 6, 12, 15, 0, 0, 0, time.UTC)
	head := now.Add(-5 * time.Minute)
	entries := []Entry{
		{
			Timestamp: head,
			Number:    "+15550100",
			Type:      TypeIncoming,
			Duration:  125,
			Name:      "Alice",
			DayLabel:  LabelToday,
			Members:   []Record{{ID: "a1"}, {ID: "a2"}},
		},
		{
			Timestamp: head,
			Number:    "+15550101",
			Type:      TypeRejected,
			Name:      "+15550101",
			DayLabel:  LabelToday,
			Members:   []Record{{ID: "b1"}},
		},
	}

	want := []Row{
		{
			Key:          "a1_" + itoa(head.Unix()) + "_0",
			Name:         "Alice",
			Number:       "+15550100",
			NameOrNumber: "Alice",
			Count:        2,
			CountLabel:   "(2)",
			Type:         "incoming",
			Time:         "5 min ago",
			DayLabel:     LabelToday,
			Duration:     "2m 05s",
		},
		{
			Key:          "b1_" + itoa(head.Unix()) + "_1",
			Name:         "+15550101",
			Number:       "+15550101",
			NameOrNumber: "+15550101",
			Count:        1,
			Type:         "missed",
			Time:         "5 min ago",
			DayLabel:     LabelToday,
			Duration:     "0s",
		},
	}
	if diff := cmp.Diff(want, Rows(entries, now)); diff != "" {
		t.Fatalf("Rows() mismatch (-want +got):\n%s", diff)
	}
}
