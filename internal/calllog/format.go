package calllog

import (
	"fmt"
	"time"
)

// TimeAgo renders a short age for t: "just now", "5 min ago", "3 h ago",
// and the clock time once it is a day old or in the future.
func TimeAgo(now, t time.Time) string {
	age := now.Sub(t)
	switch {
	case age < 0 || age >= 24*time.Hour:
		return t.Format("15:04")
	case age < time.Minute:
		return "just now"
	case age < time.Hour:
		return fmt.Sprintf("%d min ago", int(age/time.Minute))
	default:
		return fmt.Sprintf("%d h ago", int(age/time.Hour))
	}
}

// Elapsed renders a call duration given in seconds.
func Elapsed(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %02dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// Row is the display model of one grouped entry.
type Row struct {
	Key          string `json:"key"`
	Name         string `json:"name"`
	Number       string `json:"number"`
	NameOrNumber string `json:"name_or_number"`
	Count        int    `json:"count"`
	CountLabel   string `json:"count_label,omitempty"`
	Type         string `json:"type"`
	Time         string `json:"time"`
	DayLabel     string `json:"day_label"`
	Duration     string `json:"duration"`
}

// Rows converts entries into display rows. Types other than incoming and
// outgoing are shown as missed.
func Rows(entries []Entry, now time.Time) []Row {
	rows := make([]Row, 0, len(entries))
	for i, e := range entries {
		nameOrNumber := e.Name
		if nameOrNumber == "" {
			nameOrNumber = e.Number
		}
		var headID string
		if len(e.Members) > 0 {
			headID = e.Members[0].ID
		}
		rows = append(rows, Row{
			Key:          fmt.Sprintf("%s_%d_%d", headID, e.Timestamp.Unix(), i),
			Name:         e.Name,
			Number:       e.Number,
			NameOrNumber: nameOrNumber,
			Count:        e.Count(),
			CountLabel:   e.CountLabel(),
			Type:         displayType(e.Type),
			Time:         TimeAgo(now, e.Timestamp),
			DayLabel:     e.DayLabel,
			Duration:     Elapsed(e.Duration),
		})
	}
	return rows
}

func displayType(t Type) string {
	switch t {
	case TypeIncoming, TypeOutgoing:
		return t.String()
	default:
		return TypeMissed.String()
	}
}
