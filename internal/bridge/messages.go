package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitea.jw6.us/james/dialer/internal/calllog"
	"gitea.jw6.us/james/dialer/internal/calls"
	"gitea.jw6.us/james/dialer/internal/metrics"
)

// Call event kinds reported on the calls topic.
const (
	EventAdded   = "added"
	EventUpdated = "updated"
	EventRemoved = "removed"
	EventReset   = "reset"
)

type callEvent struct {
	Event string     `json:"event"`
	Call  calls.Call `json:"call"`
}

type commandMessage struct {
	ID string `json:"id"`
	calls.Command
	Timestamp int64 `json:"timestamp"`
}

func encodeCommand(cmd calls.Command, now time.Time) ([]byte, error) {
	return json.Marshal(commandMessage{
		ID:        uuid.NewString(),
		Command:   cmd,
		Timestamp: now.UnixMilli(),
	})
}

// HandleCallEvent applies one calls-topic message to the switchboard.
func (b *Bridge) HandleCallEvent(ctx context.Context, payload []byte) error {
	var ev callEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decode call event: %w", err)
	}
	if ev.Event != EventReset && ev.Call.ID == "" {
		return fmt.Errorf("%s event without call id", ev.Event)
	}

	switch ev.Event {
	case EventAdded:
		b.resolveName(ctx, &ev.Call)
		result := b.sb.Add(ctx, ev.Call)
		b.logger.Info("call reported",
			zap.String("call_id", ev.Call.ID),
			zap.Stringer("state", ev.Call.State),
			zap.String("admission", result),
		)
	case EventUpdated:
		if !b.sb.Update(ev.Call) {
			b.logger.Debug("update for unknown call", zap.String("call_id", ev.Call.ID))
		}
	case EventRemoved:
		b.sb.Remove(ev.Call.ID)
	case EventReset:
		b.sb.Reset()
	default:
		return fmt.Errorf("unknown call event %q", ev.Event)
	}
	return nil
}

func (b *Bridge) resolveName(ctx context.Context, call *calls.Call) {
	if b.lookup == nil || call.DisplayName != "" || call.Private() {
		return
	}
	ctx, cancel := context.WithTimeout(metrics.WithRoute(ctx, "mqtt:calls"), lookupTimeout)
	defer cancel()
	m, err := b.lookup.Lookup(ctx, call.Number)
	if err != nil {
		b.logger.Warn("caller lookup failed", zap.String("call_id", call.ID), zap.Error(err))
		return
	}
	if m.Found {
		call.DisplayName = m.Name
	}
}

// HandleAudio records the handset's audio state.
func (b *Bridge) HandleAudio(_ context.Context, payload []byte) error {
	var audio calls.AudioState
	if err := json.Unmarshal(payload, &audio); err != nil {
		return fmt.Errorf("decode audio state: %w", err)
	}
	b.sb.SetAudioState(audio)
	return nil
}

// HandleCallLog stores a finished call.
func (b *Bridge) HandleCallLog(ctx context.Context, payload []byte) error {
	if b.recorder == nil {
		return nil
	}
	var rec calllog.Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return fmt.Errorf("decode call record: %w", err)
	}
	return b.recorder.Record(metrics.WithRoute(ctx, "mqtt:calllog"), rec)
}
