package calls

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"gitea.jw6.us/james/dialer/internal/metrics"
)

// Action names a command sent to the handset.
type Action string

const (
	ActionAnswer     Action = "answer"
	ActionReject     Action = "reject"
	ActionDisconnect Action = "disconnect"
	ActionSetMuted   Action = "set_muted"
	ActionSetRoute   Action = "set_audio_route"
	ActionHold       Action = "hold"
	ActionUnhold     Action = "unhold"
	ActionDial       Action = "place_call"
)

// Command is an instruction for the handset's telephony stack.
type Command struct {
	Action Action     `json:"action"`
	CallID string     `json:"call_id,omitempty"`
	Muted  bool       `json:"muted"`
	Route  AudioRoute `json:"route"`

	// Number and SIMSlot are set for place_call; slot 0 lets the handset choose.
	Number  string `json:"number,omitempty"`
	SIMSlot int    `json:"sim_slot,omitempty"`
}

// Device delivers commands to the handset.
type Device interface {
	Send(cmd Command) error
}

// Screener decides whether an incoming number must be turned away.
type Screener interface {
	IsBlocked(ctx context.Context, number string) (bool, error)
}

var (
	// ErrNoDevice is returned by actions when no handset is attached.
	ErrNoDevice = errors.New("no device attached")
	// ErrLineBusy is returned by Dial while another call holds the line.
	ErrLineBusy = errors.New("line busy")
)

// Admission outcomes reported by Add.
const (
	Admitted        = "admitted"
	RejectedBusy    = "rejected_busy"
	RejectedBlocked = "rejected_blocked"
)

// SwitchboardOption configures a Switchboard.
type SwitchboardOption func(*Switchboard)

// WithDevice sets the command sink.
func WithDevice(d Device) SwitchboardOption {
	return func(s *Switchboard) { s.device = d }
}

// WithScreener enables blocked-number screening of incoming calls.
func WithScreener(sc Screener) SwitchboardOption {
	return func(s *Switchboard) { s.screener = sc }
}

// WithRejectReason records whether the handset can decline with a reason.
func WithRejectReason(supported bool) SwitchboardOption {
	return func(s *Switchboard) { s.rejectReason = supported }
}

// WithSwitchboardLogger sets the logger.
func WithSwitchboardLogger(l *zap.Logger) SwitchboardOption {
	return func(s *Switchboard) {
		if l != nil {
			s.logger = l
		}
	}
}

// Switchboard holds the live call set reported by the handset and enforces
// the single-call admission policy. It implements Telephony.
type Switchboard struct {
	mu       sync.RWMutex
	calls    []Call
	audio    AudioState
	hasAudio bool

	callWatchers  map[int]chan []Call
	audioWatchers map[int]chan AudioState
	nextID        int

	device       Device
	screener     Screener
	rejectReason bool
	logger       *zap.Logger
}

var (
	_ Telephony = (*Switchboard)(nil)
	_ Dialer    = (*Switchboard)(nil)
)

// NewSwitchboard returns an empty switchboard.
func NewSwitchboard(opts ...SwitchboardOption) *Switchboard {
	s := &Switchboard{
		callWatchers:  make(map[int]chan []Call),
		audioWatchers: make(map[int]chan AudioState),
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SupportsRejectReason implements RejectReasonSupporter.
func (s *Switchboard) SupportsRejectReason() bool {
	return s.rejectReason
}

// Add admits a newly reported call. While another call is connecting,
// dialing, ringing or active the new call is turned away and never joins
// the live set. A call that is already live is updated in place.
func (s *Switchboard) Add(ctx context.Context, call Call) string {
	if s.Update(call) {
		return Admitted
	}

	if s.screener != nil && call.State == StateRinging && !call.Private() {
		blocked, err := s.screener.IsBlocked(ctx, call.Number)
		if err != nil {
			s.logger.Warn("blocked number check failed", zap.String("call_id", call.ID), zap.Error(err))
		}
		if blocked {
			s.turnAway(call)
			metrics.ObserveAdmission(RejectedBlocked)
			return RejectedBlocked
		}
	}

	s.mu.Lock()
	// The call may have been admitted while the screener ran.
	if s.replaceLocked(call) {
		s.mu.Unlock()
		return Admitted
	}
	if hasBusyCall(s.calls) {
		s.mu.Unlock()
		s.turnAway(call)
		metrics.ObserveAdmission(RejectedBusy)
		return RejectedBusy
	}
	s.calls = append(s.calls, call)
	s.publishCallsLocked()
	s.mu.Unlock()

	metrics.ObserveAdmission(Admitted)
	return Admitted
}

func (s *Switchboard) turnAway(call Call) {
	action := ActionDisconnect
	if call.State == StateRinging && s.rejectReason {
		action = ActionReject
	}
	s.logger.Info("turning away call",
		zap.String("call_id", call.ID),
		zap.String("action", string(action)),
	)
	_ = s.send(Command{Action: action, CallID: call.ID})
}

func hasBusyCall(live []Call) bool {
	for _, c := range live {
		switch c.State {
		case StateActive, StateRinging, StateDialing, StateConnecting:
			return true
		}
	}
	return false
}

// Update replaces the details of a live call. Updates for calls that were
// never admitted are ignored.
func (s *Switchboard) Update(call Call) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replaceLocked(call)
}

func (s *Switchboard) replaceLocked(call Call) bool {
	for i := range s.calls {
		if s.calls[i].ID == call.ID {
			s.calls[i] = call
			s.publishCallsLocked()
			return true
		}
	}
	return false
}

// Remove drops a call from the live set.
func (s *Switchboard) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.calls {
		if s.calls[i].ID == id {
			s.calls = append(s.calls[:i:i], s.calls[i+1:]...)
			s.publishCallsLocked()
			return true
		}
	}
	return false
}

// SetAudioState records the handset's audio state.
func (s *Switchboard) SetAudioState(audio AudioState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = audio
	s.hasAudio = true
	for _, ch := range s.audioWatchers {
		offerLatest(ch, audio)
	}
}

// Reset clears the live set, e.g. after the handset reconnects.
func (s *Switchboard) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
	s.publishCallsLocked()
}

func (s *Switchboard) CurrentCalls() []Call {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneCalls(s.calls)
}

func (s *Switchboard) CurrentAudioState() (AudioState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.audio, s.hasAudio
}

func (s *Switchboard) WatchCalls(ctx context.Context) <-chan []Call {
	ch := make(chan []Call, 1)
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.callWatchers[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.callWatchers, id)
		close(ch)
		s.mu.Unlock()
	}()
	return ch
}

func (s *Switchboard) WatchAudio(ctx context.Context) <-chan AudioState {
	ch := make(chan AudioState, 1)
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.audioWatchers[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.audioWatchers, id)
		close(ch)
		s.mu.Unlock()
	}()
	return ch
}

func (s *Switchboard) publishCallsLocked() {
	metrics.SetLiveCalls(len(s.calls))
	for _, ch := range s.callWatchers {
		offerLatest(ch, cloneCalls(s.calls))
	}
}

func (s *Switchboard) Answer(id string) error {
	return s.sendFor(id, ActionAnswer)
}

func (s *Switchboard) Reject(id string) error {
	return s.sendFor(id, ActionReject)
}

func (s *Switchboard) Disconnect(id string) error {
	return s.sendFor(id, ActionDisconnect)
}

func (s *Switchboard) Hold(id string) error {
	return s.sendFor(id, ActionHold)
}

func (s *Switchboard) Unhold(id string) error {
	return s.sendFor(id, ActionUnhold)
}

func (s *Switchboard) SetMuted(muted bool) error {
	return s.send(Command{Action: ActionSetMuted, Muted: muted})
}

func (s *Switchboard) SetAudioRoute(route AudioRoute) error {
	return s.send(Command{Action: ActionSetRoute, Route: route})
}

// Dial asks the handset to place an outgoing call. The call joins the live
// set once the handset reports it.
func (s *Switchboard) Dial(number string, simSlot int) error {
	s.mu.RLock()
	busy := hasBusyCall(s.calls)
	s.mu.RUnlock()
	if busy {
		return ErrLineBusy
	}
	return s.send(Command{Action: ActionDial, Number: number, SIMSlot: simSlot})
}

func (s *Switchboard) sendFor(id string, action Action) error {
	if !s.isLive(id) {
		return nil
	}
	return s.send(Command{Action: action, CallID: id})
}

func (s *Switchboard) isLive(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.calls {
		if c.ID == id {
			return true
		}
	}
	return false
}

// SetDevice attaches the command sink after construction.
func (s *Switchboard) SetDevice(d Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.device = d
}

func (s *Switchboard) send(cmd Command) error {
	s.mu.RLock()
	device := s.device
	s.mu.RUnlock()
	if device == nil {
		metrics.ObserveCommand(string(cmd.Action), ErrNoDevice)
		return ErrNoDevice
	}
	err := device.Send(cmd)
	metrics.ObserveCommand(string(cmd.Action), err)
	return err
}

func cloneCalls(in []Call) []Call {
	out := make([]Call, len(in))
	copy(out, in)
	return out
}

func offerLatest[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}
