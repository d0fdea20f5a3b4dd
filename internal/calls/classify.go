package calls

import (
	"fmt"
	"time"
)

// SelectPrimary picks the call to present: the first ringing call, else the
// first active call, else the first call. It returns nil for an empty set.
func SelectPrimary(calls []Call) *Call {
	if len(calls) == 0 {
		return nil
	}
	for i := range calls {
		if calls[i].State == StateRinging {
			c := calls[i]
			return &c
		}
	}
	for i := range calls {
		if calls[i].State == StateActive {
			c := calls[i]
			return &c
		}
	}
	c := calls[0]
	return &c
}

// Classify maps the primary call (or the first call when primary is nil)
// onto a Classification. An empty call set is always NoCall.
func Classify(calls []Call, primary *Call) Classification {
	if len(calls) == 0 {
		return NoCall
	}
	subject := primary
	if subject == nil {
		subject = &calls[0]
	}
	return classifyState(subject.State)
}

func classifyState(s CallState) Classification {
	switch s {
	case StateRinging:
		return Incoming
	case StateDialing, StateConnecting:
		return Outgoing
	case StateActive:
		return Active
	case StateHolding:
		return Holding
	default:
		return NoCall
	}
}

// FormatDuration renders elapsed call time as MM:SS, or HH:MM:SS once the
// call has lasted an hour.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	hours := total / 3600
	minutes := (total / 60) % 60
	seconds := total % 60
	if hours > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// derive builds the next State from a call snapshot. prev supplies the call
// start so it survives recomputation while the call stays active.
func derive(prev State, snapshot []Call, audio AudioState, now time.Time) State {
	primary := SelectPrimary(snapshot)
	class := Classify(snapshot, primary)

	next := State{
		Primary:        primary,
		Classification: class,
		Route:          audio.Route,
		Duration:       ZeroDuration,
	}
	if primary != nil {
		next.Muted = primary.Muted
		next.OnHold = primary.OnHold
	}

	if class == Active {
		next.startedAt = prev.startedAt
		if prev.Classification != Active || next.startedAt.IsZero() {
			next.startedAt = now
		}
		next.Duration = FormatDuration(now.Sub(next.startedAt))
	}
	return next
}
