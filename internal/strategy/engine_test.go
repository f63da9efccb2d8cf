package strategy

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiwoom-core/internal/universe"
	"kiwoom-core/pkg/config"
	"kiwoom-core/pkg/exchanges/common"
)

var kst = time.FixedZone("KST", 9*3600)

func testPack(primary string) *Pack {
	p := DefaultPack(config.Default().Defaults)
	p.Primary = primary
	p.RiskOverlays = nil
	return p
}

// trendingSymbol has 40 rising closes so trend primaries pass.
func trendingSymbol(code string) *universe.Symbol {
	sym := universe.NewSymbol(code, 200, 5)
	for i := 0; i < 40; i++ {
		c := 100 + float64(i)
		sym.PriceHistory.Push(c)
		sym.DailyCloses.Push(c)
		sym.HighHistory.Push(c + 1)
		sym.LowHistory.Push(c - 1)
	}
	sym.Current = 140
	sym.Market = common.MarketKOSPI
	return sym
}

func TestPhaseBoundaries(t *testing.T) {
	day := func(h, m, s int) time.Time { return time.Date(2024, 3, 4, h, m, s, 0, kst) }
	tests := []struct {
		at   time.Time
		want Phase
	}{
		{day(9, 0, 0), PhaseAggressive},
		{day(9, 30, 0), PhaseAggressive},
		{day(9, 30, 1), PhaseNormal},
		{day(14, 30, 0), PhaseNormal},
		{day(14, 30, 1), PhaseConservative},
	}
	for _, tt := range tests {
		t.Run(tt.at.Format("15:04:05"), func(t *testing.T) {
			assert.Equal(t, tt.want, PhaseAt(tt.at))
		})
	}

	p := Params{K: 0.5, UseTimeStrategy: true}
	assert.InDelta(t, 0.7, p.EffectiveK(day(9, 10, 0)), 1e-9)
	assert.InDelta(t, 0.3, p.EffectiveK(day(15, 0, 0)), 1e-9)
	p.UseTimeStrategy = false
	assert.InDelta(t, 0.5, p.EffectiveK(day(9, 10, 0)), 1e-9)
}

func TestVolatilityBreakout(t *testing.T) {
	e := NewEngine(testPack("volatility_breakout"), Options{Logger: zerolog.Nop()})
	sym := universe.NewSymbol("005930", 50, 5)
	sym.TodayOpen, sym.PrevHigh, sym.PrevLow = 10000, 10400, 10000
	sym.ComputeTarget(0.5)
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, kst)

	sym.Current = 10199
	d := e.Evaluate(sym, Portfolio{}, now)
	assert.False(t, d.Passed)

	sym.Current = 10200
	d = e.Evaluate(sym, Portfolio{}, now)
	assert.True(t, d.Passed, d.Reason)
	assert.Equal(t, Long, d.Direction)
}

func TestDecisionCacheWithinTTL(t *testing.T) {
	pack := testPack("ma_channel_trend")
	pack.EntryFilters = []string{"rsi", "macd"}
	e := NewEngine(pack, Options{CacheTTL: 100 * time.Millisecond, Logger: zerolog.Nop()})
	sym := trendingSymbol("005930")
	now := time.Unix(1000, 0)

	first := e.Evaluate(sym, Portfolio{}, now)
	computed := e.IndicatorComputations()
	second := e.Evaluate(sym, Portfolio{}, now.Add(50*time.Millisecond))

	assert.Equal(t, 1, e.Evaluations())
	assert.Equal(t, computed, e.IndicatorComputations(), "cached evaluation computes nothing")
	assert.True(t, second.Cached)
	assert.Equal(t, first.Passed, second.Passed)

	e.Evaluate(sym, Portfolio{}, now.Add(150*time.Millisecond))
	assert.Equal(t, 2, e.Evaluations())
}

func TestStaleExternalFlowFailsClosed(t *testing.T) {
	var refreshed []string
	e := NewEngine(testPack("investor_program_flow"), Options{
		Stale:   30 * time.Second,
		OnStale: func(code string) { refreshed = append(refreshed, code) },
		Logger:  zerolog.Nop(),
	})
	now := time.Unix(5000, 0)
	sym := universe.NewSymbol("005930", 10, 1)
	sym.InvestorNet, sym.ProgramNet = 100, 50
	sym.ExternalStatus = universe.ExternalFresh
	sym.ExternalUpdatedAt = now.Add(-120 * time.Second)

	d := e.Evaluate(sym, Portfolio{}, now)
	assert.False(t, d.Passed)
	assert.Equal(t, ReasonExternalStale, d.Reason)
	assert.Equal(t, []string{"005930"}, refreshed)

	sym.ExternalUpdatedAt = now.Add(-5 * time.Second)
	d = e.Evaluate(sym, Portfolio{}, now)
	assert.True(t, d.Passed, d.Reason)

	sym.ExternalStatus = universe.ExternalError
	d = e.Evaluate(sym, Portfolio{}, now)
	assert.Equal(t, ReasonExternalStale, d.Reason)
}

func TestLiveCapabilityGuard(t *testing.T) {
	pack := testPack("stat_arb")
	err := pack.CheckLive(true)
	require.Error(t, err)
	assert.True(t, IsNotLive(err))
	assert.NoError(t, pack.CheckLive(false))
	assert.NoError(t, testPack("volatility_breakout").CheckLive(true))

	e := NewEngine(pack, Options{Live: true, Logger: zerolog.Nop()})
	d := e.Evaluate(trendingSymbol("005930"), Portfolio{}, time.Unix(0, 0))
	assert.Equal(t, ReasonNotLive, d.Reason)
}

func TestShortDirections(t *testing.T) {
	sym := trendingSymbol("005930")
	sym.MomentumScore = -12

	pack := testPack("momentum")
	d := NewEngine(pack, Options{Logger: zerolog.Nop()}).Evaluate(sym, Portfolio{}, time.Unix(0, 0))
	assert.Equal(t, ReasonShortNotAllowed, d.Reason)

	pack.ShortEnabled = true
	d = NewEngine(pack, Options{Logger: zerolog.Nop()}).Evaluate(sym, Portfolio{}, time.Unix(0, 0))
	assert.True(t, d.Passed)
	assert.Equal(t, Short, d.Direction)

	d = NewEngine(pack, Options{Live: true, Logger: zerolog.Nop()}).Evaluate(sym, Portfolio{}, time.Unix(0, 0))
	assert.False(t, d.Passed, "live sessions never short")
}

func TestRiskOverlays(t *testing.T) {
	pack := testPack("ma_channel_trend")
	pack.RiskOverlays = []string{"max_holdings", "daily_loss_limit", "market_limit"}
	pack.Params.MaxHoldings = 2
	pack.Params.MaxDailyLoss = 3
	pack.Params.MarketLimitPct = 50
	e := NewEngine(pack, Options{Logger: zerolog.Nop()})
	sym := trendingSymbol("005930")
	now := time.Unix(0, 0)

	tests := []struct {
		name   string
		pf     Portfolio
		passed bool
		reason string
	}{
		{"ok", Portfolio{HoldingOrPending: 1, Equity: 1000, DailyBaseline: 1000}, true, ReasonPassed},
		{"full", Portfolio{HoldingOrPending: 2}, false, ReasonOverlay + ":max_holdings"},
		{"loss", Portfolio{DailyRealized: -31, DailyBaseline: 1000}, false, ReasonOverlay + ":daily_loss_limit"},
		{"market", Portfolio{Equity: 1000, MarketInvest: map[common.Market]float64{common.MarketKOSPI: 600}}, false, ReasonOverlay + ":market_limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.Evaluate(sym, tt.pf, now)
			assert.Equal(t, tt.passed, d.Passed)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestEntryScore(t *testing.T) {
	pack := testPack("ma_channel_trend")
	pack.EntryScore = EntryScore{Enabled: true, Threshold: 10, Weights: map[string]int{"trend": 50, "volume": 50}}
	assert.Equal(t, 40, pack.ScoreThreshold())
	pack.EntryScore.Threshold = 120
	assert.Equal(t, 100, pack.ScoreThreshold())
	pack.EntryScore.Threshold = 60

	sym := trendingSymbol("005930")
	d := NewEngine(pack, Options{Logger: zerolog.Nop()}).Evaluate(sym, Portfolio{}, time.Unix(0, 0))
	assert.Equal(t, 50, d.Score)
	assert.Equal(t, ReasonScore, d.Reason)

	sym.AvgVolume5, sym.CurrentVolume = 100, 200
	d = NewEngine(pack, Options{Logger: zerolog.Nop()}).Evaluate(sym, Portfolio{}, time.Unix(0, 0))
	assert.Equal(t, 100, d.Score)
	assert.True(t, d.Passed)
}

func TestFilters(t *testing.T) {
	p := DefaultParams(config.Default().Defaults)
	sym := universe.NewSymbol("005930", 10, 1)
	in := Input{Sym: sym, Params: &p}

	sym.PrevClose, sym.TodayOpen = 100, 104
	assert.True(t, gapFilter(in).Passed)
	sym.TodayOpen = 110
	assert.False(t, gapFilter(in).Passed)

	assert.True(t, spreadFilter(in).Passed, "no book yet")
	sym.Ask, sym.Bid = 101, 99
	assert.False(t, spreadFilter(in).Passed)

	assert.False(t, volumeFilter(in).Passed, "no volume average")
	sym.AvgVolume5, sym.CurrentVolume = 1000, 1500
	assert.True(t, volumeFilter(in).Passed)
}

func TestParsePack(t *testing.T) {
	d := config.Default().Defaults
	raw := []byte(`
pack:
  primary: orb_donchian_breakout
  entry_filters: [rsi, volume]
  exit_overlays: [atr_stop, stop_loss]
  sizing: atr
  params:
    donchian_period: 10
  capabilities:
    orb_donchian_breakout: {live_supported: false}
`)
	pack, err := ParsePack(raw, d)
	require.NoError(t, err)
	assert.Equal(t, "orb_donchian_breakout", pack.Primary)
	assert.Equal(t, 10, pack.Params.DonchianPeriod)
	assert.Equal(t, d.K, pack.Params.K, "unspecified params keep defaults")
	assert.Len(t, pack.Params.PartialLevels, 3)
	assert.True(t, pack.ExitEnabled(ExitATRStop))
	assert.False(t, pack.ExitEnabled(ExitTimeStop))
	assert.Error(t, pack.CheckLive(true))
	assert.True(t, pack.Capabilities["volatility_breakout"].LiveSupported)

	_, err = ParsePack([]byte("pack:\n  primary: nope\n"), d)
	assert.Error(t, err)
	_, err = ParsePack([]byte("pack:\n  primary: momentum\n  entry_filters: [astrology]\n"), d)
	assert.Error(t, err)
}
