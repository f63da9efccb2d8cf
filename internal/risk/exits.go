// Package risk holds the holding-side exit rules and the daily loss guard.
package risk

import (
	"fmt"
	"math"
	"time"

	"kiwoom-core/internal/strategy"
	"kiwoom-core/internal/universe"
)

// Exit reasons recorded on sell orders and trades.
const (
	ReasonATRStop       = "ATR_STOP"
	ReasonStopLoss      = "STOP_LOSS"
	ReasonPartialProfit = "PARTIAL_PROFIT"
	ReasonTrailingStop  = "TRAILING_STOP"
	ReasonTimeStop      = "TIME_STOP"
)

// Exit is a sell the holding branch wants to issue. Level is the 1-based
// partial-profit ladder level, 0 for full exits.
type Exit struct {
	Reason string
	Qty    int64
	Level  int
	Detail string
}

// ExitRules evaluates the pack's exit overlays against a holding.
type ExitRules struct {
	pack *strategy.Pack
}

// NewExitRules binds the exit overlays of pack.
func NewExitRules(pack *strategy.Pack) *ExitRules {
	return &ExitRules{pack: pack}
}

// Evaluate updates the high-water profit and the trailing status of sym and
// returns the first exit that fires, in priority order: ATR stop, stop loss,
// partial ladder, trailing stop, time stop.
func (r *ExitRules) Evaluate(sym *universe.Symbol, now time.Time) (Exit, bool) {
	if sym.Held <= 0 || sym.BuyPrice <= 0 {
		return Exit{}, false
	}
	p := &r.pack.Params
	rate := sym.ProfitRate()
	if rate > sym.MaxProfitRate {
		sym.MaxProfitRate = rate
	}

	if r.pack.ExitEnabled(strategy.ExitATRStop) && p.ATRStopMult > 0 {
		if atr := sym.ATR(); atr > 0 {
			stop := sym.BuyPrice - p.ATRStopMult*atr
			if sym.Current <= stop {
				return r.all(sym, ReasonATRStop, fmt.Sprintf("price %.0f <= stop %.0f", sym.Current, stop)), true
			}
		}
	}

	if r.pack.ExitEnabled(strategy.ExitStopLoss) && p.LossCut > 0 && rate <= -p.LossCut {
		return r.all(sym, ReasonStopLoss, fmt.Sprintf("profit %.2f%% <= -%.2f%%", rate, p.LossCut)), true
	}

	if r.pack.ExitEnabled(strategy.ExitPartialProfit) {
		for i, lvl := range p.PartialLevels {
			level := i + 1
			if sym.PartialProfitLevels[level] || rate < lvl.Pct {
				continue
			}
			qty := int64(math.Floor(float64(sym.Held) * lvl.Ratio))
			if qty < 1 {
				qty = 1
			}
			if qty > sym.Held {
				qty = sym.Held
			}
			return Exit{
				Reason: ReasonPartialProfit,
				Qty:    qty,
				Level:  level,
				Detail: fmt.Sprintf("level %d at %.2f%%", level, rate),
			}, true
		}
	}

	if r.pack.ExitEnabled(strategy.ExitTrailingStop) && p.TSStart > 0 && sym.MaxProfitRate >= p.TSStart {
		if sym.Status == universe.StatusHolding {
			sym.Status = universe.StatusTrailing
		}
		if sym.MaxProfitRate-rate >= p.TSStop {
			return r.all(sym, ReasonTrailingStop, fmt.Sprintf("max %.2f%% now %.2f%%", sym.MaxProfitRate, rate)), true
		}
	}

	if r.pack.ExitEnabled(strategy.ExitTimeStop) && p.MaxHoldMinutes > 0 && !sym.BuyTime.IsZero() {
		held := now.Sub(sym.BuyTime)
		if held >= time.Duration(p.MaxHoldMinutes)*time.Minute {
			return r.all(sym, ReasonTimeStop, fmt.Sprintf("held %s", held.Truncate(time.Second))), true
		}
	}
	return Exit{}, false
}

func (r *ExitRules) all(sym *universe.Symbol, reason, detail string) Exit {
	return Exit{Reason: reason, Qty: sym.Held, Detail: detail}
}
