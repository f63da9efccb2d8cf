package indicators

import "math"

func trueRange(high, low, prevClose float64) float64 {
	return math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
}

// ATR is Wilder's average true range over period bars. highs, lows and
// closes must be aligned.
func ATR(highs, lows, closes []float64, period int) float64 {
	n := len(closes)
	if period <= 0 || n < period+1 || len(highs) != n || len(lows) != n {
		return 0
	}
	var atr float64
	for i := 1; i <= period; i++ {
		atr += trueRange(highs[i], lows[i], closes[i-1])
	}
	atr /= float64(period)
	for i := period + 1; i < n; i++ {
		atr = (atr*float64(period-1) + trueRange(highs[i], lows[i], closes[i-1])) / float64(period)
	}
	return atr
}

// DMI returns +DI, -DI and ADX with Wilder smoothing. ADX needs 2*period
// bars of history; before that it is 0.
func DMI(highs, lows, closes []float64, period int) (plusDI, minusDI, adx float64) {
	n := len(closes)
	if period <= 0 || n < period+1 || len(highs) != n || len(lows) != n {
		return 0, 0, 0
	}

	var trS, pS, mS float64
	var dxs []float64
	for i := 1; i < n; i++ {
		up := highs[i] - highs[i-1]
		down := lows[i-1] - lows[i]
		var pdm, mdm float64
		if up > down && up > 0 {
			pdm = up
		}
		if down > up && down > 0 {
			mdm = down
		}
		tr := trueRange(highs[i], lows[i], closes[i-1])

		if i <= period {
			trS += tr
			pS += pdm
			mS += mdm
			if i < period {
				continue
			}
		} else {
			trS = trS - trS/float64(period) + tr
			pS = pS - pS/float64(period) + pdm
			mS = mS - mS/float64(period) + mdm
		}
		if trS == 0 {
			dxs = append(dxs, 0)
			continue
		}
		plusDI = 100 * pS / trS
		minusDI = 100 * mS / trS
		if sum := plusDI + minusDI; sum > 0 {
			dxs = append(dxs, 100*math.Abs(plusDI-minusDI)/sum)
		} else {
			dxs = append(dxs, 0)
		}
	}

	if len(dxs) < period {
		return plusDI, minusDI, 0
	}
	adx = SMA(dxs[:period], period)
	for _, dx := range dxs[period:] {
		adx = (adx*float64(period-1) + dx) / float64(period)
	}
	return plusDI, minusDI, adx
}
