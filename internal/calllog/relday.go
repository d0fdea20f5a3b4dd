package calllog

import "time"

const (
	LabelToday     = "Today"
	LabelYesterday = "Yesterday"
)

// RelativeDays labels timestamps relative to the current calendar day in
// Location: "Today", "Yesterday", the weekday name within the last week,
// then "Jan 2" for the current year and "Jan 2, 2006" before that.
type RelativeDays struct {
	Location *time.Location
	Now      func() time.Time
}

// NewRelativeDays returns a labeler using the wall clock.
func NewRelativeDays(loc *time.Location) RelativeDays {
	return RelativeDays{Location: loc, Now: time.Now}
}

// At returns a copy pinned to now, so one grouping pass cannot straddle
// midnight.
func (d RelativeDays) At(now time.Time) RelativeDays {
	d.Now = func() time.Time { return now }
	return d
}

func (d RelativeDays) Label(t time.Time) string {
	loc := d.Location
	if loc == nil {
		loc = time.Local
	}
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	today := now().In(loc)
	t = t.In(loc)

	switch days := daysBetween(t, today); {
	case days == 0:
		return LabelToday
	case days == 1:
		return LabelYesterday
	case days > 1 && days < 7:
		return t.Weekday().String()
	case t.Year() == today.Year():
		return t.Format("Jan 2")
	default:
		return t.Format("Jan 2, 2006")
	}
}

// daysBetween counts calendar days from a to b, ignoring clock time and DST.
func daysBetween(a, b time.Time) int {
	ad := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bd := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(bd.Sub(ad).Hours() / 24)
}
