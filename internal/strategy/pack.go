package strategy

import (
	"fmt"

	"kiwoom-core/pkg/config"
)

// Exit overlay names consumed by the execution engine.
const (
	ExitATRStop       = "atr_stop"
	ExitStopLoss      = "stop_loss"
	ExitPartialProfit = "partial_profit"
	ExitTrailingStop  = "trailing_stop"
	ExitTimeStop      = "time_stop"
)

// Sizing modes.
const (
	SizingDefault = "default"
	SizingDynamic = "dynamic"
	SizingATR     = "atr"
)

// Execution policies.
const (
	PolicyMarket = "market"
	PolicyLimit  = "limit"
)

// PartialLevel sells Ratio of the position once profit reaches Pct.
type PartialLevel struct {
	Pct   float64 `yaml:"pct" json:"pct"`
	Ratio float64 `yaml:"ratio" json:"ratio"`
}

// EntryScore configures the weighted entry score.
type EntryScore struct {
	Enabled   bool           `yaml:"enabled"`
	Threshold int            `yaml:"threshold"`
	Weights   map[string]int `yaml:"weights"`
}

// Params are the tunables shared by primaries, filters, overlays and exits.
type Params struct {
	K                float64 `yaml:"k"`
	UseTimeStrategy  bool    `yaml:"use_time_strategy"`
	BreakoutGate     bool    `yaml:"breakout_gate"`
	BreakoutConfirm  int     `yaml:"breakout_confirm"`
	MAShort          int     `yaml:"ma_short"`
	MALong           int     `yaml:"ma_long"`
	DonchianPeriod   int     `yaml:"donchian_period"`
	RSIPeriod        int     `yaml:"rsi_period"`
	RSIUpper         float64 `yaml:"rsi_upper"`
	RSIReversionMax  float64 `yaml:"rsi_reversion_max"`
	BBPeriod         int     `yaml:"bb_period"`
	BBMult           float64 `yaml:"bb_mult"`
	DMIPeriod        int     `yaml:"dmi_period"`
	ADXThreshold     float64 `yaml:"adx_threshold"`
	VolumeMultiplier float64 `yaml:"volume_multiplier"`
	MACDFast         int     `yaml:"macd_fast"`
	MACDSlow         int     `yaml:"macd_slow"`
	MACDSignal       int     `yaml:"macd_signal"`
	StochRSIPeriod   int     `yaml:"stoch_rsi_period"`
	StochRSIMax      float64 `yaml:"stoch_rsi_max"`
	LiquidityFloor   float64 `yaml:"liquidity_floor"`
	SpreadMaxPct     float64 `yaml:"spread_max_pct"`
	GapMinPct        float64 `yaml:"gap_min_pct"`
	GapMaxPct        float64 `yaml:"gap_max_pct"`
	MomentumLookback int     `yaml:"momentum_lookback"`
	MomentumMin      float64 `yaml:"momentum_min"`
	FactorMin        float64 `yaml:"factor_min"`
	ZEntry           float64 `yaml:"z_entry"`
	StatArbPeriod    int     `yaml:"stat_arb_period"`

	MaxHoldings    int     `yaml:"max_holdings"`
	MarketLimitPct float64 `yaml:"market_limit_pct"`
	SectorLimitPct float64 `yaml:"sector_limit_pct"`
	MaxDailyLoss   float64 `yaml:"max_daily_loss"`
	DailyLossBasis string  `yaml:"daily_loss_basis"` // "equity" or "deposit"

	LossCut         float64        `yaml:"loss_cut"`
	TSStart         float64        `yaml:"ts_start"`
	TSStop          float64        `yaml:"ts_stop"`
	MaxHoldMinutes  int            `yaml:"max_hold_minutes"`
	ATRStopMult     float64        `yaml:"atr_stop_mult"`
	PartialLevels   []PartialLevel `yaml:"partial_levels"`
	ReentryCooldown int            `yaml:"reentry_cooldown_minutes"` // 0 disables

	BettingRatio   float64 `yaml:"betting_ratio"`
	RiskPerTrade   float64 `yaml:"risk_per_trade"` // percent of deposit risked per ATR stop
	LimitOffsetBps float64 `yaml:"limit_offset_bps"`
}

// Capability is one row of the live capability table.
type Capability struct {
	LiveSupported bool `yaml:"live_supported" json:"live_supported"`
	NeedsExternal bool `yaml:"needs_external" json:"needs_external"`
}

// Pack is a primary strategy with its filters and overlays.
type Pack struct {
	Primary         string                `yaml:"primary"`
	EntryFilters    []string              `yaml:"entry_filters"`
	RiskOverlays    []string              `yaml:"risk_overlays"`
	ExitOverlays    []string              `yaml:"exit_overlays"`
	ShortEnabled    bool                  `yaml:"short_enabled"`
	Sizing          string                `yaml:"sizing"`
	ExecutionPolicy string                `yaml:"execution_policy"`
	EntryScore      EntryScore            `yaml:"entry_score"`
	Params          Params                `yaml:"params"`
	Capabilities    map[string]Capability `yaml:"capabilities"`
}

// DefaultCapabilities is the built-in STRATEGY_CAPABILITIES table.
func DefaultCapabilities() map[string]Capability {
	return map[string]Capability{
		"volatility_breakout":      {LiveSupported: true},
		"ma_channel_trend":         {LiveSupported: true},
		"orb_donchian_breakout":    {LiveSupported: true},
		"rsi_bollinger_reversion":  {LiveSupported: true},
		"dmi_trend_strength":       {LiveSupported: true},
		"investor_program_flow":    {LiveSupported: true, NeedsExternal: true},
		"momentum":                 {LiveSupported: true},
		"cross_sectional_momentum": {LiveSupported: false},
		"pairs_trading":            {LiveSupported: false},
		"stat_arb":                 {LiveSupported: false},
		"factor_score":             {LiveSupported: false},
	}
}

// DefaultParams fills Params from the DEFAULT_* config knobs.
func DefaultParams(d config.StrategyDefaults) Params {
	return Params{
		K:                d.K,
		BreakoutGate:     true,
		MAShort:          5,
		MALong:           20,
		DonchianPeriod:   20,
		RSIPeriod:        14,
		RSIUpper:         70,
		RSIReversionMax:  40,
		BBPeriod:         20,
		BBMult:           2,
		DMIPeriod:        14,
		ADXThreshold:     25,
		VolumeMultiplier: 1.5,
		MACDFast:         12,
		MACDSlow:         26,
		MACDSignal:       9,
		StochRSIPeriod:   14,
		StochRSIMax:      80,
		SpreadMaxPct:     0.5,
		GapMinPct:        -3,
		GapMaxPct:        5,
		MomentumLookback: 20,
		MomentumMin:      5,
		FactorMin:        0.5,
		ZEntry:           2,
		StatArbPeriod:    20,

		MaxHoldings:    d.MaxHoldings,
		MarketLimitPct: 100,
		SectorLimitPct: 100,
		MaxDailyLoss:   d.MaxDailyLoss,
		DailyLossBasis: "equity",

		LossCut:        d.LossCut,
		TSStart:        d.TSStart,
		TSStop:         d.TSStop,
		MaxHoldMinutes: d.MaxHoldMinutes,
		ATRStopMult:    2,
		PartialLevels: []PartialLevel{
			{Pct: 3, Ratio: 0.3},
			{Pct: 5, Ratio: 0.3},
			{Pct: 8, Ratio: 0.2},
		},

		BettingRatio: d.BettingRatio,
		RiskPerTrade: 1,
	}
}

// DefaultPack is the volatility breakout pack built from config defaults.
func DefaultPack(d config.StrategyDefaults) *Pack {
	return &Pack{
		Primary:         "volatility_breakout",
		RiskOverlays:    []string{"max_holdings", "daily_loss_limit"},
		ExitOverlays:    []string{ExitStopLoss, ExitTrailingStop},
		Sizing:          SizingDefault,
		ExecutionPolicy: PolicyMarket,
		EntryScore:      EntryScore{Threshold: 60},
		Params:          DefaultParams(d),
		Capabilities:    DefaultCapabilities(),
	}
}

// ExitEnabled reports whether the named exit overlay is on.
func (p *Pack) ExitEnabled(name string) bool {
	for _, e := range p.ExitOverlays {
		if e == name {
			return true
		}
	}
	return false
}

// Capability returns the table entry for the primary.
func (p *Pack) Capability() (Capability, bool) {
	c, ok := p.Capabilities[p.Primary]
	return c, ok
}

// ScoreThreshold clamps the configured threshold to [40,100].
func (p *Pack) ScoreThreshold() int {
	t := p.EntryScore.Threshold
	if t < 40 {
		return 40
	}
	if t > 100 {
		return 100
	}
	return t
}

// Validate checks that every named component exists.
func (p *Pack) Validate() error {
	if _, ok := primaries[p.Primary]; !ok {
		return fmt.Errorf("unknown primary strategy %q", p.Primary)
	}
	for _, f := range p.EntryFilters {
		if _, ok := filters[f]; !ok {
			return fmt.Errorf("unknown entry filter %q", f)
		}
	}
	for _, o := range p.RiskOverlays {
		if _, ok := overlays[o]; !ok {
			return fmt.Errorf("unknown risk overlay %q", o)
		}
	}
	for _, e := range p.ExitOverlays {
		switch e {
		case ExitATRStop, ExitStopLoss, ExitPartialProfit, ExitTrailingStop, ExitTimeStop:
		default:
			return fmt.Errorf("unknown exit overlay %q", e)
		}
	}
	switch p.Sizing {
	case SizingDefault, SizingDynamic, SizingATR:
	default:
		return fmt.Errorf("unknown sizing mode %q", p.Sizing)
	}
	switch p.ExecutionPolicy {
	case PolicyMarket, PolicyLimit:
	default:
		return fmt.Errorf("unknown execution policy %q", p.ExecutionPolicy)
	}
	return nil
}

// CheckLive applies the live capability guard at session start.
func (p *Pack) CheckLive(live bool) error {
	if !live {
		return nil
	}
	c, ok := p.Capability()
	if !ok || !c.LiveSupported {
		return fmt.Errorf("%s: %w", p.Primary, errNotLive)
	}
	return nil
}
