package backtest

import (
	"github.com/rs/zerolog"

	"kiwoom-core/internal/risk"
	"kiwoom-core/internal/strategy"
	"kiwoom-core/internal/universe"
)

const historyCap = 200

// PackSignal runs a strategy pack over bars: entries come from the pack's
// primary, filters and overlays; exits from its exit overlays, or from an
// opposite decision. Each bar is treated as one session of the symbol.
// The returned function keeps per-symbol history, so build a new one per run.
func PackSignal(pack *strategy.Pack, log zerolog.Logger) SignalFunc {
	eng := strategy.NewEngine(pack, strategy.Options{Logger: log})
	exits := risk.NewExitRules(pack)
	symbols := make(map[string]*universe.Symbol)

	return func(b Bar, positions map[string]Position) map[string]Action {
		sym, ok := symbols[b.Symbol]
		if !ok {
			sym = universe.NewSymbol(b.Symbol, historyCap, 1)
			symbols[b.Symbol] = sym
		}
		sym.TodayOpen = b.Open
		sym.Current = b.Close
		sym.CurrentVolume = b.Volume
		sym.Timestamp = b.Time
		sym.PriceHistory.Push(b.Close)
		sym.MinutePrices.Push(b.Close)
		sym.Target = strategy.TargetFor(sym, &pack.Params, b.Time)
		defer closeSession(sym, b)

		action := Hold
		if pos, held := positions[b.Symbol]; held {
			action = exitAction(eng, exits, sym, pos, b, positions)
		} else {
			d := eng.Evaluate(sym, portfolio(positions), b.Time)
			if d.Passed {
				switch d.Direction {
				case strategy.Long:
					action = Buy
				case strategy.Short:
					action = Short
				}
			}
		}
		if action == Hold {
			return nil
		}
		return map[string]Action{b.Symbol: action}
	}
}

func exitAction(eng *strategy.Engine, exits *risk.ExitRules, sym *universe.Symbol, pos Position, b Bar, positions map[string]Position) Action {
	if pos.Side == SideShort {
		d := eng.Evaluate(sym, portfolio(positions), b.Time)
		loss := eng.Pack().Params.LossCut
		if (d.Passed && d.Direction == strategy.Long) || (loss > 0 && (b.Close-pos.Entry)/pos.Entry*100 >= loss) {
			return Cover
		}
		return Hold
	}

	sym.Held = pos.Qty
	sym.BuyPrice = pos.Entry
	sym.BuyTime = pos.Opened
	if sym.Status != universe.StatusTrailing {
		sym.Status = universe.StatusHolding
	}
	if _, ok := exits.Evaluate(sym, b.Time); ok {
		sym.ClearHolding()
		sym.Status = universe.StatusWatch
		return Sell
	}
	d := eng.Evaluate(sym, portfolio(positions), b.Time)
	if d.Passed && d.Direction == strategy.Short {
		sym.ClearHolding()
		sym.Status = universe.StatusWatch
		return Sell
	}
	return Hold
}

// closeSession rolls the bar into the daily histories once it is done.
func closeSession(sym *universe.Symbol, b Bar) {
	sym.HighHistory.Push(b.High)
	sym.LowHistory.Push(b.Low)
	sym.DailyCloses.Push(b.Close)
	sym.VolumeHistory.Push(float64(b.Volume))
	sym.PrevHigh, sym.PrevLow, sym.PrevClose = b.High, b.Low, b.Close

	vols := sym.VolumeHistory.Values()
	closes := sym.DailyCloses.Values()
	sym.AvgVolume5 = tailMean(vols, 5)
	sym.AvgVolume20 = tailMean(vols, 20)
	n := min(20, len(vols))
	var value float64
	for i := len(vols) - n; i < len(vols); i++ {
		value += vols[i] * closes[i]
	}
	if n > 0 {
		sym.AvgValue20 = value / float64(n)
	}
}

func tailMean(vs []float64, n int) float64 {
	n = min(n, len(vs))
	if n == 0 {
		return 0
	}
	var sum float64
	for _, v := range vs[len(vs)-n:] {
		sum += v
	}
	return sum / float64(n)
}

func portfolio(positions map[string]Position) strategy.Portfolio {
	return strategy.Portfolio{HoldingOrPending: len(positions)}
}
