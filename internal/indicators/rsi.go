package indicators

// RSI computes a basic Relative Strength Index over the last period changes.
func RSI(values []float64, period int) float64 {
	if period <= 0 || len(values) < period+1 {
		return 0
	}

	gain := 0.0
	loss := 0.0
	for i := len(values) - period; i < len(values); i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			gain += change
		} else {
			loss -= change
		}
	}

	if loss == 0 {
		return 100
	}
	rs := gain / loss
	return 100 - (100 / (1 + rs))
}

// RSISeries returns RSI(period) for every window ending at each index from
// period onward.
func RSISeries(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period+1 {
		return nil
	}
	out := make([]float64, 0, len(values)-period)
	for end := period + 1; end <= len(values); end++ {
		out = append(out, RSI(values[:end], period))
	}
	return out
}

// StochRSI returns the stochastic oscillator of RSI in [0,100]. It is 50
// when the RSI range over the window is flat.
func StochRSI(values []float64, rsiPeriod, stochPeriod int) float64 {
	series := RSISeries(values, rsiPeriod)
	if stochPeriod <= 0 || len(series) < stochPeriod {
		return 0
	}
	window := series[len(series)-stochPeriod:]
	lo, hi := window[0], window[0]
	for _, v := range window {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi == lo {
		return 50
	}
	return (window[len(window)-1] - lo) / (hi - lo) * 100
}
