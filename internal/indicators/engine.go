package indicators

import "fmt"

// Series is the price data one evaluation reads.
type Series struct {
	Closes  []float64 // daily closes plus intraday ticks, oldest first
	Minutes []float64 // minute closes
	Highs   []float64 // daily highs aligned with Lows/DailyCloses
	Lows    []float64
	Daily   []float64 // daily closes only
}

// Set memoizes indicator values for one Series so filters and the entry
// score that ask for the same indicator share one computation. Computed
// counts actual computations.
type Set struct {
	s        Series
	cache    map[string]float64
	Computed int
}

// NewSet wraps a series.
func NewSet(s Series) *Set {
	return &Set{s: s, cache: make(map[string]float64)}
}

// Series returns the wrapped data.
func (x *Set) Series() Series { return x.s }

func (x *Set) memo(key string, fn func() float64) float64 {
	if v, ok := x.cache[key]; ok {
		return v
	}
	v := fn()
	x.cache[key] = v
	x.Computed++
	return v
}

func (x *Set) SMA(period int) float64 {
	return x.memo(fmt.Sprintf("sma:%d", period), func() float64 { return SMA(x.s.Closes, period) })
}

func (x *Set) RSI(period int) float64 {
	return x.memo(fmt.Sprintf("rsi:%d", period), func() float64 { return RSI(x.s.Closes, period) })
}

func (x *Set) StochRSI(rsiPeriod, stochPeriod int) float64 {
	return x.memo(fmt.Sprintf("stochrsi:%d:%d", rsiPeriod, stochPeriod), func() float64 {
		return StochRSI(x.s.Closes, rsiPeriod, stochPeriod)
	})
}

// MACD returns the MACD line and its signal line.
func (x *Set) MACD(fast, slow, signal int) (float64, float64) {
	key := fmt.Sprintf("macd:%d:%d:%d", fast, slow, signal)
	m := x.memo(key, func() float64 {
		m, s, _ := MACD(x.s.Closes, fast, slow, signal)
		x.cache[key+":signal"] = s
		return m
	})
	return m, x.cache[key+":signal"]
}

// Bollinger returns mid, upper and lower bands.
func (x *Set) Bollinger(period int, mult float64) (float64, float64, float64) {
	key := fmt.Sprintf("bb:%d:%g", period, mult)
	mid := x.memo(key, func() float64 {
		m, u, l := Bollinger(x.s.Closes, period, mult)
		x.cache[key+":u"] = u
		x.cache[key+":l"] = l
		return m
	})
	return mid, x.cache[key+":u"], x.cache[key+":l"]
}

func (x *Set) ATR(period int) float64 {
	return x.memo(fmt.Sprintf("atr:%d", period), func() float64 {
		return ATR(x.s.Highs, x.s.Lows, x.s.Daily, period)
	})
}

// DMI returns +DI, -DI and ADX over daily bars.
func (x *Set) DMI(period int) (float64, float64, float64) {
	key := fmt.Sprintf("dmi:%d", period)
	p := x.memo(key, func() float64 {
		p, m, a := DMI(x.s.Highs, x.s.Lows, x.s.Daily, period)
		x.cache[key+":m"] = m
		x.cache[key+":a"] = a
		return p
	})
	return p, x.cache[key+":m"], x.cache[key+":a"]
}

// Donchian is the highest close of the period bars before the latest one.
func (x *Set) Donchian(period int) float64 {
	return x.memo(fmt.Sprintf("donchian:%d", period), func() float64 { return Highest(x.s.Closes, period, 1) })
}

// MinuteSMA averages minute closes.
func (x *Set) MinuteSMA(period int) float64 {
	return x.memo(fmt.Sprintf("msma:%d", period), func() float64 { return SMA(x.s.Minutes, period) })
}

// DailySMA averages daily closes only.
func (x *Set) DailySMA(period int) float64 {
	return x.memo(fmt.Sprintf("dsma:%d", period), func() float64 { return SMA(x.s.Daily, period) })
}
