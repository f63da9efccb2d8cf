package backtest

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiwoom-core/internal/strategy"
	"kiwoom-core/pkg/config"
)

func breakoutBars() []Bar {
	bars := dailyBars("005930", 100, 100, 100, 100, 100)
	next := func(open, high, low, close float64) Bar {
		last := bars[len(bars)-1]
		return Bar{Symbol: last.Symbol, Time: last.Time.AddDate(0, 0, 1), Open: open, High: high, Low: low, Close: close, Volume: 1000}
	}
	// Target is 100 + 0.5·(101−99) = 101.
	bars = append(bars, next(100, 106, 100, 105))
	// 102 is −2.86% from the 105 entry, past the 2% loss cut.
	bars = append(bars, next(104, 104, 101, 102))
	return bars
}

func TestPackSignalBreakoutAndStopLoss(t *testing.T) {
	pack := strategy.DefaultPack(config.Default().Defaults)
	cfg := Config{InitialCash: 1_000_000, Allocation: 0.1}

	res, err := Run(breakoutBars(), PackSignal(pack, zerolog.Nop()), cfg)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, 105.0, tr.EntryPrice)
	assert.Equal(t, 102.0, tr.ExitPrice)
	assert.Equal(t, int64(952), tr.Qty)
	assert.Less(t, tr.PnL, 0.0)
	assert.Empty(t, res.Open)
}

func TestPackSignalRunsAreRepeatable(t *testing.T) {
	pack := strategy.DefaultPack(config.Default().Defaults)
	cfg := Config{InitialCash: 1_000_000, Allocation: 0.1}

	a, err := Run(breakoutBars(), PackSignal(pack, zerolog.Nop()), cfg)
	require.NoError(t, err)
	b, err := Run(breakoutBars(), PackSignal(pack, zerolog.Nop()), cfg)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestPackSignalWithoutFlowDataNeverEnters(t *testing.T) {
	pack := strategy.DefaultPack(config.Default().Defaults)
	pack.Primary = "investor_program_flow"

	res, err := Run(breakoutBars(), PackSignal(pack, zerolog.Nop()), Config{InitialCash: 1_000_000, Allocation: 0.1})
	require.NoError(t, err)
	assert.Empty(t, res.Trades)
	assert.Empty(t, res.Open)
}
