package calls

import "context"

// Telephony is the collaborator that owns the live call set. Watch channels
// carry full snapshots and are closed once ctx is done.
type Telephony interface {
	CurrentCalls() []Call
	CurrentAudioState() (AudioState, bool)
	WatchCalls(ctx context.Context) <-chan []Call
	WatchAudio(ctx context.Context) <-chan AudioState

	Answer(id string) error
	Reject(id string) error
	Disconnect(id string) error
	SetMuted(muted bool) error
	SetAudioRoute(route AudioRoute) error
	Hold(id string) error
	Unhold(id string) error
}

// RejectReasonSupporter is implemented by collaborators that can decline a
// ringing call with an explicit reason rather than a plain disconnect.
type RejectReasonSupporter interface {
	SupportsRejectReason() bool
}

// Dialer is implemented by collaborators that can place outgoing calls.
type Dialer interface {
	Dial(number string, simSlot int) error
}

func supportsRejectReason(v any) bool {
	s, ok := v.(RejectReasonSupporter)
	return ok && s.SupportsRejectReason()
}
