package calls

import "go.uber.org/zap"

// Dispatch operations are best-effort. Without a bound collaborator, or when
// the target call no longer exists, they do nothing; the next snapshot
// reports whatever actually happened.

// Answer accepts the first ringing call.
func (a *Aggregator) Answer() {
	tel := a.telephony()
	if tel == nil {
		return
	}
	if c, ok := firstInState(tel.CurrentCalls(), StateRinging); ok {
		a.report("answer", c.ID, tel.Answer(c.ID))
	}
}

// Hangup ends the call with the given id. A ringing call is declined.
func (a *Aggregator) Hangup(id string) {
	tel := a.telephony()
	if tel == nil {
		return
	}
	for _, c := range tel.CurrentCalls() {
		if c.ID != id {
			continue
		}
		if c.State == StateRinging && supportsRejectReason(tel) {
			a.report("reject", c.ID, tel.Reject(c.ID))
			return
		}
		a.report("disconnect", c.ID, tel.Disconnect(c.ID))
		return
	}
}

// ToggleMute inverts the collaborator's microphone mute.
func (a *Aggregator) ToggleMute() {
	tel := a.telephony()
	if tel == nil {
		return
	}
	audio, _ := tel.CurrentAudioState()
	a.report("mute", "", tel.SetMuted(!audio.Muted))
}

// ToggleSpeaker switches between speaker and earpiece.
func (a *Aggregator) ToggleSpeaker() {
	tel := a.telephony()
	if tel == nil {
		return
	}
	route := a.State().Route
	if audio, ok := tel.CurrentAudioState(); ok {
		route = audio.Route
	}
	next := RouteSpeaker
	if route == RouteSpeaker {
		next = RouteEarpiece
	}
	a.report("route", "", tel.SetAudioRoute(next))
}

// SetAudioRoute moves call audio to the given route.
func (a *Aggregator) SetAudioRoute(route AudioRoute) {
	tel := a.telephony()
	if tel == nil {
		return
	}
	a.report("route", "", tel.SetAudioRoute(route))
}

// Dial places an outgoing call when the collaborator can dial.
func (a *Aggregator) Dial(number string, simSlot int) {
	tel := a.telephony()
	if tel == nil {
		return
	}
	d, ok := tel.(Dialer)
	if !ok {
		a.logger.Debug("telephony cannot place calls")
		return
	}
	a.report("dial", "", d.Dial(number, simSlot))
}

// ToggleHold holds the active call, or resumes a held one.
func (a *Aggregator) ToggleHold() {
	tel := a.telephony()
	if tel == nil {
		return
	}
	live := tel.CurrentCalls()
	if c, ok := firstInState(live, StateActive); ok {
		a.report("hold", c.ID, tel.Hold(c.ID))
		return
	}
	if c, ok := firstInState(live, StateHolding); ok {
		a.report("unhold", c.ID, tel.Unhold(c.ID))
	}
}

func (a *Aggregator) report(action, callID string, err error) {
	if err == nil {
		return
	}
	a.logger.Warn("call action failed",
		zap.String("action", action),
		zap.String("call_id", callID),
		zap.Error(err),
	)
}

func firstInState(live []Call, state CallState) (Call, bool) {
	for _, c := range live {
		if c.State == state {
			return c, true
		}
	}
	return Call{}, false
}
