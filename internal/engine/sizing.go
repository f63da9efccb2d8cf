package engine

import (
	"math"

	"kiwoom-core/internal/strategy"
	"kiwoom-core/internal/universe"
)

// size returns the entry quantity for the pack's sizing mode.
//
//	default: deposit·betting_ratio / price
//	dynamic: default scaled by 0.5 + signal strength
//	atr:     deposit·risk_per_trade% / (atr_stop_mult·ATR), capped by default
func (e *Engine) size(sym *universe.Symbol, d strategy.Decision) int64 {
	price := sym.Current
	if price <= 0 {
		return 0
	}
	p := e.pack.Params
	deposit := float64(e.st.Ledger.Deposit())
	base := deposit * p.BettingRatio / price

	var qty float64
	switch e.pack.Sizing {
	case strategy.SizingDynamic:
		qty = base * (0.5 + clamp(d.Strength, 0, 1))
	case strategy.SizingATR:
		atr := sym.ATR()
		mult := p.ATRStopMult
		if mult <= 0 {
			mult = 2
		}
		if atr <= 0 || p.RiskPerTrade <= 0 {
			qty = base
			break
		}
		qty = math.Min(deposit*p.RiskPerTrade/100/(mult*atr), base)
	default:
		qty = base
	}
	return int64(math.Floor(qty))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
