package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"gitea.jw6.us/james/dialer/internal/calls"
	"gitea.jw6.us/james/dialer/internal/contacts"
	httperrors "gitea.jw6.us/james/dialer/internal/http/errors"
)

const lookupTimeout = 500 * time.Millisecond

type callView struct {
	Classification string     `json:"classification"`
	CallID         string     `json:"call_id,omitempty"`
	Number         string     `json:"number,omitempty"`
	Name           string     `json:"name,omitempty"`
	Muted          bool       `json:"muted"`
	OnHold         bool       `json:"on_hold"`
	Route          string     `json:"route"`
	Duration       string     `json:"duration"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
}

func (a *api) view(ctx context.Context, s calls.State) callView {
	v := callView{
		Classification: s.Classification.String(),
		Muted:          s.Muted,
		OnHold:         s.OnHold,
		Route:          s.Route.String(),
		Duration:       s.Duration,
	}
	if start, ok := s.CallStart(); ok {
		v.StartedAt = &start
	}
	if s.Primary == nil {
		return v
	}
	v.CallID = s.Primary.ID
	v.Number = s.Primary.Number
	v.Name = a.callerName(ctx, *s.Primary)
	return v
}

// callerNames remembers the resolved name of the most recent caller so event
// streams do not hit the directory on every duration tick.
type callerNames struct {
	mu     sync.Mutex
	callID string
	number string
	name   string
}

func (n *callerNames) get(c calls.Call) (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.callID == "" || n.callID != c.ID || n.number != c.Number {
		return "", false
	}
	return n.name, true
}

func (n *callerNames) put(c calls.Call, name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.callID, n.number, n.name = c.ID, c.Number, name
}

func (a *api) callerName(ctx context.Context, c calls.Call) string {
	if c.DisplayName != "" || c.Private() || a.Directory == nil {
		return c.Label()
	}
	if name, ok := a.names.get(c); ok {
		return name
	}
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()
	m, err := a.Directory.Lookup(ctx, c.Number)
	if err != nil {
		a.Logger.Debug("caller lookup failed", zap.String("call_id", c.ID), zap.Error(err))
		return c.Label()
	}
	name := m.Label()
	a.names.put(c, name)
	return name
}

func (a *api) getCall(w http.ResponseWriter, r *http.Request) {
	httperrors.WriteJSON(w, http.StatusOK, a.view(r.Context(), a.Calls.State()))
}

// callEvents streams every state change as a server-sent event.
func (a *api) callEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	// Streams outlive the server's write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flush := func() {
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}

	states, unsubscribe := a.Calls.Subscribe()
	defer unsubscribe()

	heartbeat := time.NewTicker(a.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flush()
		case s, ok := <-states:
			if !ok {
				return
			}
			payload, err := json.Marshal(a.view(ctx, s))
			if err != nil {
				httperrors.LogError(r, "encode call state", err)
				return
			}
			if _, err := fmt.Fprintf(w, "event: state\ndata: %s\n\n", payload); err != nil {
				return
			}
			flush()
		}
	}
}

func (a *api) dial(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Number  string `json:"number"`
		SIMSlot int    `json:"sim_slot"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httperrors.BadRequestError(w, r, err, "invalid JSON body")
		return
	}
	number := contacts.NormalizeNumber(body.Number)
	if number == "" {
		httperrors.BadRequestError(w, r, contacts.ErrInvalidNumber, "invalid phone number")
		return
	}
	if body.SIMSlot < 0 {
		httperrors.BadRequestError(w, r, nil, "sim_slot must not be negative")
		return
	}
	a.Calls.Dial(number, body.SIMSlot)
	httperrors.WriteJSON(w, http.StatusAccepted, map[string]string{"number": number})
}

func (a *api) setRoute(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Route string `json:"route"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httperrors.BadRequestError(w, r, err, "invalid JSON body")
		return
	}
	route, ok := calls.LookupAudioRoute(body.Route)
	if !ok {
		httperrors.BadRequestError(w, r, nil, "route must be earpiece, speaker, bluetooth or wired_headset")
		return
	}
	a.Calls.SetAudioRoute(route)
	w.WriteHeader(http.StatusAccepted)
}

// action runs a best-effort call action. The outcome shows up in the next
// state, so the request is always accepted.
func (a *api) action(do func(c CallController, r *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		do(a.Calls, r)
		w.WriteHeader(http.StatusAccepted)
	}
}
