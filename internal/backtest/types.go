// Package backtest is a deterministic bar-by-bar simulator that shares the
// strategy pack contract with the live engine.
package backtest

import (
	"errors"
	"time"
)

// Action is what a signal asks the simulator to do for one symbol.
type Action string

const (
	Hold  Action = "hold"
	Buy   Action = "buy"
	Sell  Action = "sell"
	Short Action = "short"
	Cover Action = "cover"
)

// Side of an open position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

var (
	ErrNoBars    = errors.New("backtest: no bars")
	ErrUnordered = errors.New("backtest: bars are not in chronological order")
)

// Bar is one OHLCV candle.
type Bar struct {
	Symbol string
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// Position is the read-only view of an open position handed to signals.
type Position struct {
	Symbol string
	Side   Side
	Qty    int64
	Entry  float64
	Opened time.Time
}

// SignalFunc maps the current bar and open positions to actions per symbol.
// Symbols missing from the result hold.
type SignalFunc func(bar Bar, positions map[string]Position) map[string]Action

// Trade is a closed round trip.
type Trade struct {
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Qty        int64     `json:"qty"`
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	PnL        float64   `json:"pnl"`
	PnLPct     float64   `json:"pnl_pct"`
}

// Point is one equity curve sample.
type Point struct {
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
}

// Metrics summarize a run.
type Metrics struct {
	ReturnPct      float64 `json:"return_pct"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	Trades         int     `json:"trades"`
	WinRate        float64 `json:"win_rate"`
}

// Result is the output of a run.
type Result struct {
	Equity  []Point             `json:"equity"`
	Trades  []Trade             `json:"trades"`
	Open    map[string]Position `json:"open"`
	Final   float64             `json:"final"`
	Metrics Metrics             `json:"metrics"`
}
