package calllog

import "time"

// DayLabeler assigns the relative-day label records are grouped by.
type DayLabeler interface {
	Label(t time.Time) string
}

// DayLabelFunc adapts a function to DayLabeler.
type DayLabelFunc func(t time.Time) string

func (f DayLabelFunc) Label(t time.Time) string { return f(t) }

// Group folds consecutive records with the same number and day label into
// one entry. Input is expected newest first; it is not re-sorted, so the
// same number separated by another caller starts a new group.
func Group(records []Record, days DayLabeler) []Entry {
	entries := make([]Entry, 0, len(records))
	if len(records) == 0 {
		return entries
	}

	start := 0
	label := days.Label(records[0].Timestamp)
	for i := 1; i < len(records); i++ {
		next := days.Label(records[i].Timestamp)
		if records[i].Number != records[start].Number || next != label {
			entries = append(entries, newEntry(records[start:i], label))
			start = i
		}
		label = next
	}
	return append(entries, newEntry(records[start:], label))
}

func newEntry(members []Record, label string) Entry {
	head := members[0]
	return Entry{
		Timestamp: head.Timestamp,
		Number:    head.Number,
		Type:      head.Type,
		Duration:  head.Duration,
		Name:      DisplayName(head),
		DayLabel:  label,
		Members:   append([]Record(nil), members...),
	}
}
