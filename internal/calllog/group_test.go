package calllog

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func fixedDays(labels map[time.Time]string) DayLabeler {
	return DayLabelFunc(func(t time.Time) string { return labels[t] })
}

func at(hour int) time.Time {
	return time.Date(2024, 6, 10, hour, 0, 0, 0, time.UTC)
}

func TestGroupAdjacency(t *testing.T) {
	records := []Record{
		{ID: "1", Number: "A", Timestamp: at(10), Type: TypeIncoming, Duration: 30},
		{ID: "2", Number: "A", Timestamp: at(9), Type: TypeMissed},
		{ID: "3", Number: "B", Timestamp: at(8), Type: TypeOutgoing, Duration: 12},
		{ID: "4", Number: "A", Timestamp: at(7), Type: TypeIncoming, Duration: 5},
	}
	days := DayLabelFunc(func(time.Time) string { return LabelToday })

	got := Group(records, days)

	want := []Entry{
		{Timestamp: at(10), Number: "A", Type: TypeIncoming, Duration: 30, Name: "A", DayLabel: LabelToday, Members: records[0:2]},
		{Timestamp: at(8), Number: "B", Type: TypeOutgoing, Duration: 12, Name: "B", DayLabel: LabelToday, Members: records[2:3]},
		{Timestamp: at(7), Number: "A", Type: TypeIncoming, Duration: 5, Name: "A", DayLabel: LabelToday, Members: records[3:4]},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Group() mismatch (-want +got):\n%s", diff)
	}
	if got[0].Count() != 2 || got[0].CountLabel() != "(2)" {
		t.Fatalf("expected count 2, got %d %q", got[0].Count(), got[0].CountLabel())
	}
	if got[1].CountLabel() != "" {
		t.Fatalf("single member entries have no count label, got %q", got[1].CountLabel())
	}
}

func TestGroupSplitsOnDayChange(t *testing.T) {
	records := []Record{
		{ID: "1", Number: "A", Timestamp: at(10)},
		{ID: "2", Number: "A", Timestamp: at(9)},
		{ID: "3", Number: "A", Timestamp: at(8)},
	}
	days := fixedDays(map[time.Time]string{
		at(10): LabelToday,
		at(9):  LabelYesterday,
		at(8):  LabelYesterday,
	})

	got := Group(records, days)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].DayLabel != LabelToday || got[0].Count() != 1 {
		t.Fatalf("unexpected first entry %+v", got[0])
	}
	if got[1].DayLabel != LabelYesterday || got[1].Count() != 2 || got[1].Members[0].ID != "2" {
		t.Fatalf("unexpected second entry %+v", got[1])
	}
}

func TestGroupMembersShareNumberAndDay(t *testing.T) {
	records := []Record{
		{ID: "1", Number: "A", Timestamp: at(12)},
		{ID: "2", Number: "B", Timestamp: at(11)},
		{ID: "3", Number: "B", Timestamp: at(10)},
		{ID: "4", Number: "B", Timestamp: at(9)},
		{ID: "5", Number: "A", Timestamp: at(8)},
		{ID: "6", Number: "A", Timestamp: at(7)},
	}
	days := DayLabelFunc(func(t time.Time) string {
		if t.Hour() >= 10 {
			return "late"
		}
		return "early"
	})

	total := 0
	for _, e := range Group(records, days) {
		for _, m := range e.Members {
			if m.Number != e.Number || days.Label(m.Timestamp) != e.DayLabel {
				t.Fatalf("member %+v does not belong to entry %s/%s", m, e.Number, e.DayLabel)
			}
		}
		total += e.Count()
	}
	if total != len(records) {
		t.Fatalf("expected every record to be grouped once, got %d", total)
	}
}

func TestGroupEmptyAndSingle(t *testing.T) {
	days := DayLabelFunc(func(time.Time) string { return LabelToday })

	empty := Group(nil, days)
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", empty)
	}

	single := Group([]Record{{ID: "1", Number: "A", Timestamp: at(9)}}, days)
	if len(single) != 1 || single[0].Count() != 1 {
		t.Fatalf("expected one entry of size 1, got %+v", single)
	}
}

func TestDisplayNameFallback(t *testing.T) {
	days := DayLabelFunc(func(time.Time) string { return LabelToday })
	got := Group([]Record{
		{ID: "1", Number: "+15550100", Timestamp: at(9)},
		{ID: "2", Number: "+15550101", CachedName: "Bob", Timestamp: at(8)},
	}, days)

	if got[0].Name != "+15550100" {
		t.Fatalf("expected number as name, got %q", got[0].Name)
	}
	if got[1].Name != "Bob" {
		t.Fatalf("expected cached name, got %q", got[1].Name)
	}
}

func TestTypeNormalize(t *testing.T) {
	tests := map[Type]string{
		TypeIncoming: "incoming",
		TypeBlocked:  "blocked",
		Type(0):      "unknown",
		Type(99):     "unknown",
	}
	for in, want := range tests {
		if got := in.String(); got != want {
			t.Errorf("Type(%d).String() = %q, want %q", in, got, want)
		}
	}
	if ParseType("missed") != TypeMissed || ParseType("5") != TypeRejected || ParseType("nope") != TypeUnknown {
		t.Fatal("unexpected ParseType result")
	}
}

func TestRecordTypeDecoding(t *testing.T) {
	tests := []struct {
		payload string
		want    Type
	}{
		{`{"type":3}`, TypeMissed},
		{`{"type":"voicemail"}`, TypeVoicemail},
		{`{"type":"6"}`, TypeBlocked},
		{`{"type":42}`, TypeUnknown},
	}
	for _, tt := range tests {
		var rec Record
		if err := json.Unmarshal([]byte(tt.payload), &rec); err != nil {
			t.Fatalf("%s: %v", tt.payload, err)
		}
		if rec.Type != tt.want {
			t.Errorf("%s: got %v, want %v", tt.payload, rec.Type, tt.want)
		}
	}
}
