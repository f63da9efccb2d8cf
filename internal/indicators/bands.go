package indicators

import "math"

// Bollinger returns the middle, upper and lower band using a population
// standard deviation.
func Bollinger(values []float64, period int, mult float64) (mid, upper, lower float64) {
	mid = SMA(values, period)
	if mid == 0 {
		return 0, 0, 0
	}
	var sq float64
	for _, v := range values[len(values)-period:] {
		d := v - mid
		sq += d * d
	}
	sd := math.Sqrt(sq / float64(period))
	return mid, mid + mult*sd, mid - mult*sd
}

// Highest returns the max of values[len-period-skip : len-skip]. With
// skip=1 it is the Donchian upper channel excluding the current bar.
func Highest(values []float64, period, skip int) float64 {
	end := len(values) - skip
	start := end - period
	if period <= 0 || start < 0 {
		return 0
	}
	hi := values[start]
	for _, v := range values[start:end] {
		if v > hi {
			hi = v
		}
	}
	return hi
}

// Lowest mirrors Highest.
func Lowest(values []float64, period, skip int) float64 {
	end := len(values) - skip
	start := end - period
	if period <= 0 || start < 0 {
		return 0
	}
	lo := values[start]
	for _, v := range values[start:end] {
		if v < lo {
			lo = v
		}
	}
	return lo
}
