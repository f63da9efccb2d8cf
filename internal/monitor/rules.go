package monitor

import (
	"fmt"
	"strings"

	"kiwoom-core/internal/events"
	"kiwoom-core/internal/risk"
	"kiwoom-core/pkg/exchanges/common"
)

// alertFor turns a bus event into an operator alert. ok is false for
// events that need no alert.
func alertFor(ev events.Event, payload any) (msg string, ok bool) {
	switch ev {
	case events.EventSyncFailed:
		codes, _ := payload.([]string)
		return fmt.Sprintf("position sync failed for %s; manual reset required", strings.Join(codes, ",")), true
	case events.EventDailyLossGuard:
		if d, isDaily := payload.(risk.Daily); isDaily {
			return fmt.Sprintf("daily loss limit reached on %s: realized %.0f", d.Date, d.Realized), true
		}
		return "daily loss limit reached", true
	case events.EventStreamState:
		if st, _ := payload.(common.StreamState); st == common.StreamReconnecting {
			return "realtime stream reconnecting", true
		}
	}
	return "", false
}
