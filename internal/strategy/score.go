package strategy

// defaultWeights apply when the pack enables the score without weights.
var defaultWeights = map[string]int{
	"rsi":       20,
	"macd":      20,
	"volume":    20,
	"bollinger": 15,
	"trend":     15,
	"flow":      10,
}

// entryScore returns the percentage of total weight whose indicator hit.
func entryScore(in Input, weights map[string]int) int {
	if len(weights) == 0 {
		weights = defaultWeights
	}
	total, hit := 0, 0
	for name, w := range weights {
		if w <= 0 {
			continue
		}
		total += w
		if scoreHit(name, in) {
			hit += w
		}
	}
	if total == 0 {
		return 0
	}
	return hit * 100 / total
}

func scoreHit(name string, in Input) bool {
	p := in.Params
	switch name {
	case "rsi":
		v := in.Ind.RSI(p.RSIPeriod)
		return v > 0 && v < p.RSIUpper
	case "macd":
		m, s := in.Ind.MACD(p.MACDFast, p.MACDSlow, p.MACDSignal)
		return m > s
	case "volume":
		return in.Sym.AvgVolume5 > 0 && float64(in.Sym.CurrentVolume)/in.Sym.AvgVolume5 >= p.VolumeMultiplier
	case "bollinger":
		mid, _, _ := in.Ind.Bollinger(p.BBPeriod, p.BBMult)
		return mid > 0 && in.Sym.Current <= mid
	case "trend":
		s, l := in.Ind.SMA(p.MAShort), in.Ind.SMA(p.MALong)
		return l > 0 && s > l
	case "flow":
		return in.Sym.InvestorNet > 0 && in.Sym.ProgramNet > 0
	}
	return false
}
