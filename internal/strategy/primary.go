package strategy

import (
	"math"
	"time"

	"kiwoom-core/internal/indicators"
	"kiwoom-core/internal/universe"
)

// Input is what one evaluation reads.
type Input struct {
	Sym    *universe.Symbol
	Ind    *indicators.Set
	Params *Params
	Now    time.Time
}

type primaryFunc func(in Input) Signal

var primaries = map[string]primaryFunc{
	"volatility_breakout":      volatilityBreakout,
	"ma_channel_trend":         maChannelTrend,
	"orb_donchian_breakout":    donchianBreakout,
	"rsi_bollinger_reversion":  rsiBollingerReversion,
	"dmi_trend_strength":       dmiTrendStrength,
	"investor_program_flow":    investorProgramFlow,
	"momentum":                 momentum,
	"cross_sectional_momentum": crossSectionalMomentum,
	"pairs_trading":            pairsTrading,
	"stat_arb":                 statArb,
	"factor_score":             factorScore,
}

// Primaries lists the registered primary strategy names.
func Primaries() []string {
	names := make([]string, 0, len(primaries))
	for n := range primaries {
		names = append(names, n)
	}
	return names
}

func long(strength float64) Signal {
	return Signal{Passed: true, Direction: Long, Strength: clamp01(strength)}
}

func flat(reason string) Signal {
	return Signal{Direction: Flat, Reason: reason}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// TargetFor computes open + K·(prevHigh − prevLow) with the time-of-day K.
func TargetFor(sym *universe.Symbol, p *Params, now time.Time) float64 {
	if sym.TodayOpen <= 0 || sym.PrevHigh <= 0 {
		return 0
	}
	return sym.TodayOpen + p.EffectiveK(now)*(sym.PrevHigh-sym.PrevLow)
}

func volatilityBreakout(in Input) Signal {
	target := in.Sym.Target
	if target <= 0 {
		target = TargetFor(in.Sym, in.Params, in.Now)
	}
	if target <= 0 || in.Sym.Current < target {
		return flat("below_target")
	}
	return long((in.Sym.Current - target) / target * 50)
}

func maChannelTrend(in Input) Signal {
	short := in.Ind.SMA(in.Params.MAShort)
	lng := in.Ind.SMA(in.Params.MALong)
	if in.Sym.Current > short && short > lng && lng > 0 {
		return long((short - lng) / lng * 20)
	}
	return flat("no_trend")
}

func donchianBreakout(in Input) Signal {
	hi := in.Ind.Donchian(in.Params.DonchianPeriod)
	if hi > 0 && in.Sym.Current > hi {
		return long((in.Sym.Current - hi) / hi * 50)
	}
	return flat("inside_channel")
}

func rsiBollingerReversion(in Input) Signal {
	mid, _, lower := in.Ind.Bollinger(in.Params.BBPeriod, in.Params.BBMult)
	rsi := in.Ind.RSI(in.Params.RSIPeriod)
	if mid > 0 && in.Sym.Current <= mid && rsi > 0 && rsi <= in.Params.RSIReversionMax {
		depth := 0.5
		if mid > lower {
			depth = (mid - in.Sym.Current) / (mid - lower)
		}
		return long(depth)
	}
	return flat("no_reversion")
}

func dmiTrendStrength(in Input) Signal {
	plus, minus, adx := in.Ind.DMI(in.Params.DMIPeriod)
	if plus > minus && adx >= in.Params.ADXThreshold {
		return long(adx / 100)
	}
	return flat("weak_trend")
}

// investorProgramFlow assumes freshness was checked by the engine.
func investorProgramFlow(in Input) Signal {
	if in.Sym.InvestorNet > 0 && in.Sym.ProgramNet > 0 {
		return long(0.5)
	}
	return flat("flow_negative")
}

// momentumScore prefers the pre-populated score and otherwise uses the
// lookback return in percent.
func momentumScore(in Input) float64 {
	if in.Sym.MomentumScore != 0 {
		return in.Sym.MomentumScore
	}
	closes := in.Sym.PriceHistory.Values()
	n := in.Params.MomentumLookback
	if n <= 0 || len(closes) <= n {
		return 0
	}
	base := closes[len(closes)-1-n]
	if base <= 0 {
		return 0
	}
	return (in.Sym.Current/base - 1) * 100
}

func directional(score, threshold float64) Signal {
	switch {
	case threshold > 0 && score >= threshold:
		return long(score / (threshold * 2))
	case threshold > 0 && score <= -threshold:
		return Signal{Passed: true, Direction: Short, Strength: clamp01(-score / (threshold * 2))}
	}
	return flat("below_threshold")
}

func momentum(in Input) Signal {
	return directional(momentumScore(in), in.Params.MomentumMin)
}

// crossSectionalMomentum reads a rank score in [-1,1] assigned across the
// universe by an external scorer.
func crossSectionalMomentum(in Input) Signal {
	return directional(in.Sym.MomentumScore, in.Params.FactorMin)
}

// pairsTrading trades the pre-computed spread z-score: long when the
// spread is cheap, short when rich.
func pairsTrading(in Input) Signal {
	return directional(-in.Sym.PairSpreadZ, in.Params.ZEntry)
}

// statArb fades deviations of price from its rolling mean.
func statArb(in Input) Signal {
	mid, upper, _ := in.Ind.Bollinger(in.Params.StatArbPeriod, 1)
	sd := upper - mid
	if mid <= 0 || sd <= 0 {
		return flat("no_dispersion")
	}
	z := (in.Sym.Current - mid) / sd
	return directional(-z, in.Params.ZEntry)
}

func factorScore(in Input) Signal {
	if in.Params.FactorMin > 0 && in.Sym.FactorScore >= in.Params.FactorMin {
		return long(in.Sym.FactorScore)
	}
	return flat("factor_low")
}
