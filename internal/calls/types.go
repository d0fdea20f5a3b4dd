package calls

import (
	"strings"
	"time"
)

// CallState is the raw telephony state reported for a single live call.
type CallState int

const (
	StateDisconnected CallState = iota
	StateConnecting
	StateDialing
	StateRinging
	StateActive
	StateHolding
)

var callStateNames = map[CallState]string{
	StateDisconnected: "disconnected",
	StateConnecting:   "connecting",
	StateDialing:      "dialing",
	StateRinging:      "ringing",
	StateActive:       "active",
	StateHolding:      "holding",
}

func (s CallState) String() string {
	if name, ok := callStateNames[s]; ok {
		return name
	}
	return "disconnected"
}

// ParseCallState maps a wire name to a CallState. Unknown names are treated
// as disconnected.
func ParseCallState(v string) CallState {
	v = strings.ToLower(strings.TrimSpace(v))
	for state, name := range callStateNames {
		if name == v {
			return state
		}
	}
	return StateDisconnected
}

func (s CallState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *CallState) UnmarshalText(b []byte) error {
	*s = ParseCallState(string(b))
	return nil
}

// Classification is the coarse call state presented to clients.
type Classification int

const (
	NoCall Classification = iota
	Incoming
	Outgoing
	Active
	Holding
)

func (c Classification) String() string {
	switch c {
	case Incoming:
		return "incoming"
	case Outgoing:
		return "outgoing"
	case Active:
		return "active"
	case Holding:
		return "holding"
	default:
		return "no_call"
	}
}

func (c Classification) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// AudioRoute identifies where call audio is played.
type AudioRoute int

const (
	RouteEarpiece AudioRoute = iota
	RouteSpeaker
	RouteBluetooth
	RouteWiredHeadset
)

var routeNames = map[AudioRoute]string{
	RouteEarpiece:     "earpiece",
	RouteSpeaker:      "speaker",
	RouteBluetooth:    "bluetooth",
	RouteWiredHeadset: "wired_headset",
}

func (r AudioRoute) String() string {
	if name, ok := routeNames[r]; ok {
		return name
	}
	return "earpiece"
}

// ParseAudioRoute maps a wire name to an AudioRoute, defaulting to the earpiece.
func ParseAudioRoute(v string) AudioRoute {
	route, _ := LookupAudioRoute(v)
	return route
}

// LookupAudioRoute is ParseAudioRoute that also reports whether v named a
// known route.
func LookupAudioRoute(v string) (AudioRoute, bool) {
	v = strings.ToLower(strings.TrimSpace(v))
	for route, name := range routeNames {
		if name == v {
			return route, true
		}
	}
	return RouteEarpiece, false
}

func (r AudioRoute) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *AudioRoute) UnmarshalText(b []byte) error {
	*r = ParseAudioRoute(string(b))
	return nil
}

// PrivateNumberLabel is shown for calls without a caller number.
const PrivateNumberLabel = "Private Number"

// Call is one live call as reported by the telephony collaborator.
type Call struct {
	ID          string     `json:"id"`
	Number      string     `json:"number,omitempty"`
	DisplayName string     `json:"display_name,omitempty"`
	State       CallState  `json:"state"`
	Muted       bool       `json:"muted"`
	OnHold      bool       `json:"on_hold"`
	Route       AudioRoute `json:"route"`
	SIMSlot     int        `json:"sim_slot"`
}

// Private reports whether the caller withheld their number.
func (c Call) Private() bool {
	return strings.TrimSpace(c.Number) == ""
}

// Label returns the text shown for the caller.
func (c Call) Label() string {
	if name := strings.TrimSpace(c.DisplayName); name != "" {
		return name
	}
	if !c.Private() {
		return c.Number
	}
	return PrivateNumberLabel
}

// AudioState mirrors the platform's call audio state.
type AudioState struct {
	Route AudioRoute `json:"route"`
	Muted bool       `json:"muted"`
}

// State is the aggregated, presentation-ready view of the live call set.
// Values are immutable once published.
type State struct {
	Primary        *Call
	Classification Classification
	Muted          bool
	OnHold         bool
	Route          AudioRoute
	Duration       string

	startedAt time.Time
}

// ZeroDuration is the duration shown when no call is active.
const ZeroDuration = "00:00"

func idleState() State {
	return State{Classification: NoCall, Route: RouteEarpiece, Duration: ZeroDuration}
}

// CallStart returns the instant the current call became active. The second
// result is false unless the classification is Active.
func (s State) CallStart() (time.Time, bool) {
	if s.startedAt.IsZero() {
		return time.Time{}, false
	}
	return s.startedAt, true
}

// HasCall reports whether a primary call is present.
func (s State) HasCall() bool {
	return s.Primary != nil
}
