package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiwoom-core/internal/strategy"
	"kiwoom-core/internal/universe"
	"kiwoom-core/pkg/config"
)

var now = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func testPack(exits ...string) *strategy.Pack {
	p := strategy.DefaultPack(config.Default().Defaults)
	p.ExitOverlays = exits
	p.Params.LossCut = 2
	p.Params.TSStart = 3
	p.Params.TSStop = 1.5
	p.Params.MaxHoldMinutes = 60
	return p
}

func holding(buy, cur float64, qty int64) *universe.Symbol {
	s := universe.NewSymbol("005930", 200, 5)
	s.Held = qty
	s.BuyPrice = buy
	s.Current = cur
	s.Status = universe.StatusHolding
	s.BuyTime = now.Add(-10 * time.Minute)
	for i := 0; i < 20; i++ {
		s.HighHistory.Push(10100)
		s.LowHistory.Push(9900)
		s.DailyCloses.Push(10000)
	}
	return s
}

func TestExitPriority(t *testing.T) {
	all := []string{strategy.ExitATRStop, strategy.ExitStopLoss, strategy.ExitPartialProfit, strategy.ExitTrailingStop, strategy.ExitTimeStop}
	tests := []struct {
		name   string
		exits  []string
		cur    float64
		maxPR  float64
		reason string
		qty    int64
	}{
		{"atr stop beats stop loss", all, 9500, 0, ReasonATRStop, 10},
		{"stop loss without atr", []string{strategy.ExitStopLoss}, 9800, 0, ReasonStopLoss, 10},
		{"first ladder level", all, 10300, 3, ReasonPartialProfit, 3},
		{"trailing after giveback", []string{strategy.ExitTrailingStop}, 10200, 4, ReasonTrailingStop, 10},
		{"no exit inside bands", all, 10100, 1, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sym := holding(10000, tt.cur, 10)
			sym.MaxProfitRate = tt.maxPR
			ex, ok := NewExitRules(testPack(tt.exits...)).Evaluate(sym, now)
			if tt.reason == "" {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.reason, ex.Reason)
			assert.Equal(t, tt.qty, ex.Qty)
		})
	}
}

func TestPartialLadderSkipsExecutedLevels(t *testing.T) {
	rules := NewExitRules(testPack(strategy.ExitPartialProfit))
	sym := holding(10000, 10600, 10)
	sym.PartialProfitLevels[1] = true

	ex, ok := rules.Evaluate(sym, now)
	require.True(t, ok)
	assert.Equal(t, 2, ex.Level)
	assert.Equal(t, int64(3), ex.Qty)

	sym.PartialProfitLevels[2] = true
	_, ok = rules.Evaluate(sym, now)
	assert.False(t, ok, "level 3 needs +8%")
}

func TestPartialLadderSellsAtLeastOneShare(t *testing.T) {
	sym := holding(10000, 10300, 1)
	ex, ok := NewExitRules(testPack(strategy.ExitPartialProfit)).Evaluate(sym, now)
	require.True(t, ok)
	assert.Equal(t, int64(1), ex.Qty)
}

func TestTrailingEntersTrailingStatus(t *testing.T) {
	rules := NewExitRules(testPack(strategy.ExitTrailingStop))
	sym := holding(10000, 10350, 10)

	_, ok := rules.Evaluate(sym, now)
	assert.False(t, ok)
	assert.Equal(t, universe.StatusTrailing, sym.Status)
	assert.InDelta(t, 3.5, sym.MaxProfitRate, 1e-9)

	sym.Current = 10190
	ex, ok := rules.Evaluate(sym, now)
	require.True(t, ok)
	assert.Equal(t, ReasonTrailingStop, ex.Reason)
}

func TestTimeStop(t *testing.T) {
	rules := NewExitRules(testPack(strategy.ExitTimeStop))
	sym := holding(10000, 10000, 5)
	_, ok := rules.Evaluate(sym, now)
	assert.False(t, ok)

	ex, ok := rules.Evaluate(sym, now.Add(50*time.Minute))
	require.True(t, ok)
	assert.Equal(t, ReasonTimeStop, ex.Reason)
	assert.Equal(t, int64(5), ex.Qty)
}

func TestFlatSymbolHasNoExit(t *testing.T) {
	sym := universe.NewSymbol("000660", 10, 1)
	_, ok := NewExitRules(testPack(strategy.ExitStopLoss)).Evaluate(sym, now)
	assert.False(t, ok)
}

func TestDailyGuardAndRollover(t *testing.T) {
	var d Daily
	assert.False(t, d.Rollover(now), "first stamp is not a reset")

	d.Record(-20_000)
	d.Record(5_000)
	assert.Equal(t, 2, d.Trades)
	assert.Equal(t, 50.0, d.WinRate())
	assert.False(t, d.Check(3, 1_000_000))

	d.Record(-20_000)
	assert.True(t, d.Check(3, 1_000_000))
	assert.False(t, d.Check(3, 1_000_000), "latched")
	assert.True(t, d.Triggered)

	assert.False(t, d.Rollover(now.Add(time.Hour)))
	assert.True(t, d.Rollover(now.Add(24*time.Hour)))
	assert.Zero(t, d.Realized)
	assert.False(t, d.Triggered)
}
