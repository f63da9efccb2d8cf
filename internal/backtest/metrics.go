package backtest

import "github.com/shopspring/decimal"

// ComputeMetrics derives return, max drawdown and win rate. Drawdown is
// reported as a positive percentage from the running peak.
func ComputeMetrics(initial float64, eq []Point, trades []Trade) Metrics {
	m := Metrics{Trades: len(trades)}
	if initial > 0 && len(eq) > 0 {
		start := decimal.NewFromFloat(initial)
		final := decimal.NewFromFloat(eq[len(eq)-1].Equity)
		m.ReturnPct = final.Sub(start).Div(start).Mul(decimal.NewFromInt(100)).Round(6).InexactFloat64()
	}

	peak := initial
	var dd float64
	for _, p := range eq {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			if d := (peak - p.Equity) / peak * 100; d > dd {
				dd = d
			}
		}
	}
	m.MaxDrawdownPct = dd

	if len(trades) > 0 {
		wins := 0
		for _, t := range trades {
			if t.PnL > 0 {
				wins++
			}
		}
		m.WinRate = float64(wins) / float64(len(trades)) * 100
	}
	return m
}
