package strategy

import "time"

// Phase is the time-of-day regime of the volatility breakout K.
type Phase string

const (
	PhaseAggressive   Phase = "aggressive"
	PhaseNormal       Phase = "normal"
	PhaseConservative Phase = "conservative"
)

// PhaseAt classifies the wall-clock time of t: aggressive through
// 09:30:00, normal through 14:30:00, conservative after.
func PhaseAt(t time.Time) Phase {
	sec := t.Hour()*3600 + t.Minute()*60 + t.Second()
	switch {
	case sec <= 9*3600+30*60:
		return PhaseAggressive
	case sec <= 14*3600+30*60:
		return PhaseNormal
	default:
		return PhaseConservative
	}
}

// KMultiplier scales K for the phase.
func (p Phase) KMultiplier() float64 {
	switch p {
	case PhaseAggressive:
		return 1.4
	case PhaseConservative:
		return 0.6
	}
	return 1.0
}

// EffectiveK returns K for time t, adjusted when the time strategy is on.
func (p Params) EffectiveK(t time.Time) float64 {
	if !p.UseTimeStrategy {
		return p.K
	}
	return p.K * PhaseAt(t).KMultiplier()
}
