package events

// Event enumerates high-level topics inside the trading core.
type Event string

const (
	EventPriceTick       Event = "price_tick"
	EventOrderUpdate     Event = "order_update"
	EventOrderResult     Event = "order.result"
	EventTradeRecorded   Event = "trade.recorded"
	EventSymbolChanged   Event = "symbol.changed"
	EventDiagnostics     Event = "diagnostics"
	EventSessionState    Event = "session.state"
	EventSyncFailed      Event = "sync.failed"
	EventStreamState     Event = "stream.state"
	EventDailyLossGuard  Event = "risk.daily_loss"
	EventExternalRefresh Event = "external.refresh"
)
