package reconciliation

import (
	"github.com/rs/zerolog"

	"kiwoom-core/internal/state"
)

// Notifier is told about synthesized fills and latched codes. A desktop
// shell would play sounds or send messages here.
type Notifier interface {
	Buy(t state.Trade)
	Sell(t state.Trade)
	SyncFailed(codes []string, err error)
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier creates a notifier on log.
func NewLogNotifier(log zerolog.Logger) LogNotifier {
	return LogNotifier{log: log.With().Str("component", "notify").Logger()}
}

func (n LogNotifier) Buy(t state.Trade) {
	n.log.Info().Str("code", t.Code).Str("name", t.Name).Int64("qty", t.Quantity).Float64("price", t.Price).Msg("매수 체결")
}

func (n LogNotifier) Sell(t state.Trade) {
	ev := n.log.Info()
	if t.Profit < 0 {
		ev = n.log.Warn()
	}
	ev.Str("code", t.Code).Str("name", t.Name).Int64("qty", t.Quantity).Float64("price", t.Price).Float64("profit", t.Profit).Msg("매도 체결")
}

func (n LogNotifier) SyncFailed(codes []string, err error) {
	n.log.Error().Err(err).Strs("codes", codes).Msg("잔고 동기화 실패")
}
