package monitor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"kiwoom-core/internal/events"
)

var watched = []events.Event{events.EventSyncFailed, events.EventDailyLossGuard, events.EventStreamState}

// Monitor watches bus events and emits alerts.
type Monitor struct {
	Bus  *events.Bus
	Sink AlertSink
	Log  zerolog.Logger
	// Now stamps alerts; time.Now when nil.
	Now func() time.Time
}

// Start subscribes and delivers alerts until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil || m.Sink == nil {
		m.Log.Warn().Msg("monitor not fully configured; skipping")
		return
	}
	for _, ev := range watched {
		stream, unsub := m.Bus.Subscribe(ev, 50)
		go m.watch(ctx, ev, stream, unsub)
	}
}

func (m *Monitor) watch(ctx context.Context, ev events.Event, stream <-chan any, unsub func()) {
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-stream:
			if !ok {
				return
			}
			msg, alert := alertFor(ev, payload)
			if !alert {
				continue
			}
			if err := m.Sink.Send(m.format(msg)); err != nil {
				m.Log.Warn().Err(err).Str("event", string(ev)).Msg("alert delivery failed")
			}
		}
	}
}

func (m *Monitor) format(msg string) string {
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	return "[" + now().Format(time.RFC3339) + "] " + msg
}
