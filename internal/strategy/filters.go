package strategy

type filterFunc func(in Input) Check

var filters = map[string]filterFunc{
	"rsi":       rsiFilter,
	"volume":    volumeFilter,
	"macd":      macdFilter,
	"bollinger": bollingerFilter,
	"stoch_rsi": stochRSIFilter,
	"liquidity": liquidityFilter,
	"spread":    spreadFilter,
	"mtf":       mtfFilter,
	"gap":       gapFilter,
}

func rsiFilter(in Input) Check {
	v := in.Ind.RSI(in.Params.RSIPeriod)
	return Check{Name: "rsi", Passed: v < in.Params.RSIUpper, Metric: v}
}

// volumeFilter compares today's cumulative volume with the 5-day average.
func volumeFilter(in Input) Check {
	if in.Sym.AvgVolume5 <= 0 {
		return Check{Name: "volume"}
	}
	ratio := float64(in.Sym.CurrentVolume) / in.Sym.AvgVolume5
	return Check{Name: "volume", Passed: ratio >= in.Params.VolumeMultiplier, Metric: ratio}
}

func macdFilter(in Input) Check {
	m, s := in.Ind.MACD(in.Params.MACDFast, in.Params.MACDSlow, in.Params.MACDSignal)
	return Check{Name: "macd", Passed: m > s, Metric: m - s}
}

func bollingerFilter(in Input) Check {
	_, _, lower := in.Ind.Bollinger(in.Params.BBPeriod, in.Params.BBMult)
	return Check{Name: "bollinger", Passed: lower > 0 && in.Sym.Current <= lower, Metric: lower}
}

func stochRSIFilter(in Input) Check {
	v := in.Ind.StochRSI(in.Params.RSIPeriod, in.Params.StochRSIPeriod)
	return Check{Name: "stoch_rsi", Passed: v <= in.Params.StochRSIMax, Metric: v}
}

func liquidityFilter(in Input) Check {
	v := in.Sym.AvgValue20
	return Check{Name: "liquidity", Passed: v >= in.Params.LiquidityFloor, Metric: v}
}

// spreadFilter passes when no book is known yet.
func spreadFilter(in Input) Check {
	v := in.Sym.SpreadPct()
	return Check{Name: "spread", Passed: v <= in.Params.SpreadMaxPct, Metric: v}
}

// mtfFilter requires the daily and minute trends to both point up.
func mtfFilter(in Input) Check {
	ds, dl := in.Ind.DailySMA(in.Params.MAShort), in.Ind.DailySMA(in.Params.MALong)
	ms, ml := in.Ind.MinuteSMA(in.Params.MAShort), in.Ind.MinuteSMA(in.Params.MALong)
	daily := ds > 0 && dl > 0 && ds > dl
	minute := ms > 0 && ml > 0 && ms > ml
	metric := 0.0
	if daily {
		metric++
	}
	if minute {
		metric++
	}
	return Check{Name: "mtf", Passed: daily && minute, Metric: metric}
}

func gapFilter(in Input) Check {
	if in.Sym.PrevClose <= 0 || in.Sym.TodayOpen <= 0 {
		return Check{Name: "gap"}
	}
	gap := (in.Sym.TodayOpen - in.Sym.PrevClose) / in.Sym.PrevClose * 100
	return Check{Name: "gap", Passed: gap >= in.Params.GapMinPct && gap <= in.Params.GapMaxPct, Metric: gap}
}
