package backtest

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"kiwoom-core/pkg/config"
)

// Config controls sizing, costs and the intraday window.
type Config struct {
	InitialCash  float64
	Allocation   float64 // fraction of cash committed per entry
	FeeRate      float64
	SlippageRate float64
	AllowShort   bool
	Timeframe    string // "1d", "5m", ...
	SessionStart string // HH:MM, intraday only
	SessionEnd   string
}

// DefaultConfig derives costs from the paper trading settings.
func DefaultConfig(cfg *config.Config) Config {
	return Config{
		InitialCash:  cfg.PaperInitialDeposit,
		Allocation:   cfg.Defaults.BettingRatio,
		FeeRate:      cfg.PaperFeeRate,
		SlippageRate: cfg.PaperSlippageBps / 10000,
		Timeframe:    "1d",
		SessionStart: "09:00",
		SessionEnd:   "15:30",
	}
}

func (c Config) validate() error {
	if c.InitialCash <= 0 {
		return fmt.Errorf("backtest: initial cash must be positive, got %v", c.InitialCash)
	}
	if c.Allocation <= 0 || c.Allocation > 1 {
		return fmt.Errorf("backtest: allocation must be in (0,1], got %v", c.Allocation)
	}
	if c.FeeRate < 0 || c.SlippageRate < 0 {
		return fmt.Errorf("backtest: negative costs")
	}
	return nil
}

func (c Config) intraday() bool {
	return strings.HasSuffix(strings.ToLower(c.Timeframe), "m")
}

type position struct {
	side   Side
	qty    decimal.Decimal
	entry  decimal.Decimal
	opened Bar
}

// Engine runs simulations. It holds no state between runs.
type Engine struct {
	cfg Config
	log zerolog.Logger
}

// New creates an engine.
func New(cfg Config, log zerolog.Logger) *Engine {
	return &Engine{cfg: cfg, log: log.With().Str("component", "backtest").Logger()}
}

// Run simulates with a discarded logger.
func Run(bars []Bar, signal SignalFunc, cfg Config) (*Result, error) {
	return New(cfg, zerolog.Nop()).Run(bars, signal)
}

type run struct {
	cfg       Config
	cost      decimal.Decimal
	alloc     decimal.Decimal
	cash      decimal.Decimal
	positions map[string]*position
	last      map[string]decimal.Decimal
	res       *Result
	log       zerolog.Logger
}

// Run replays bars in order. Output depends only on the inputs.
func (e *Engine) Run(bars []Bar, signal SignalFunc) (*Result, error) {
	if err := e.cfg.validate(); err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, ErrNoBars
	}
	for i := 1; i < len(bars); i++ {
		if bars[i].Time.Before(bars[i-1].Time) {
			return nil, fmt.Errorf("%w: %s at index %d", ErrUnordered, bars[i].Time, i)
		}
	}
	start, end := -1, -1
	if e.cfg.intraday() {
		var ok bool
		if start, ok = parseHHMM(e.cfg.SessionStart); !ok {
			return nil, fmt.Errorf("backtest: bad session start %q", e.cfg.SessionStart)
		}
		if end, ok = parseHHMM(e.cfg.SessionEnd); !ok {
			return nil, fmt.Errorf("backtest: bad session end %q", e.cfg.SessionEnd)
		}
	}

	r := &run{
		cfg:       e.cfg,
		cost:      decimal.NewFromFloat(e.cfg.FeeRate).Add(decimal.NewFromFloat(e.cfg.SlippageRate)),
		alloc:     decimal.NewFromFloat(e.cfg.Allocation),
		cash:      decimal.NewFromFloat(e.cfg.InitialCash),
		positions: make(map[string]*position),
		last:      make(map[string]decimal.Decimal),
		res:       &Result{},
		log:       e.log,
	}
	skipped := 0
	for _, b := range bars {
		if start >= 0 {
			m := b.Time.Hour()*60 + b.Time.Minute()
			if m < start || m > end {
				skipped++
				continue
			}
		}
		r.last[b.Symbol] = decimal.NewFromFloat(b.Close)
		actions := signal(b, r.view())
		for _, sym := range sortedKeys(actions) {
			r.apply(sym, actions[sym], b)
		}
		r.res.Equity = append(r.res.Equity, Point{Time: b.Time, Equity: r.equity().InexactFloat64()})
	}

	r.res.Open = r.view()
	r.res.Final = r.equity().InexactFloat64()
	r.res.Metrics = ComputeMetrics(e.cfg.InitialCash, r.res.Equity, r.res.Trades)
	e.log.Info().
		Int("bars", len(bars)).
		Int("skipped", skipped).
		Int("trades", r.res.Metrics.Trades).
		Float64("return_pct", r.res.Metrics.ReturnPct).
		Float64("max_drawdown_pct", r.res.Metrics.MaxDrawdownPct).
		Msg("backtest finished")
	return r.res, nil
}

func (r *run) view() map[string]Position {
	out := make(map[string]Position, len(r.positions))
	for sym, p := range r.positions {
		out[sym] = Position{
			Symbol: sym,
			Side:   p.side,
			Qty:    p.qty.IntPart(),
			Entry:  p.entry.InexactFloat64(),
			Opened: p.opened.Time,
		}
	}
	return out
}

// fill applies fee and slippage against the trader.
func (r *run) fill(price decimal.Decimal, buying bool) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if buying {
		return price.Mul(one.Add(r.cost))
	}
	return price.Mul(one.Sub(r.cost))
}

func (r *run) apply(sym string, a Action, b Bar) {
	price, ok := r.last[sym]
	if !ok {
		return
	}
	pos := r.positions[sym]
	switch a {
	case Buy:
		if pos == nil {
			r.open(sym, SideLong, r.fill(price, true), b)
		}
	case Short:
		if pos == nil && r.cfg.AllowShort {
			r.open(sym, SideShort, r.fill(price, false), b)
		}
	case Sell:
		if pos != nil && pos.side == SideLong {
			r.close(sym, pos, r.fill(price, false), b)
		}
	case Cover:
		if pos != nil && pos.side == SideShort {
			r.close(sym, pos, r.fill(price, true), b)
		}
	}
}

// open sizes the entry as allocation·cash in whole shares.
func (r *run) open(sym string, side Side, px decimal.Decimal, b Bar) {
	if !px.IsPositive() {
		return
	}
	qty := r.cash.Mul(r.alloc).Div(px).Floor()
	if !qty.IsPositive() {
		r.log.Debug().Str("code", sym).Msg("entry skipped, allocation below one share")
		return
	}
	notional := qty.Mul(px)
	if side == SideLong {
		r.cash = r.cash.Sub(notional)
	} else {
		r.cash = r.cash.Add(notional)
	}
	r.positions[sym] = &position{side: side, qty: qty, entry: px, opened: b}
}

func (r *run) close(sym string, p *position, px decimal.Decimal, b Bar) {
	notional := p.qty.Mul(px)
	var pnl decimal.Decimal
	if p.side == SideLong {
		r.cash = r.cash.Add(notional)
		pnl = px.Sub(p.entry).Mul(p.qty)
	} else {
		r.cash = r.cash.Sub(notional)
		pnl = p.entry.Sub(px).Mul(p.qty)
	}
	basis := p.entry.Mul(p.qty)
	pct := decimal.Zero
	if basis.IsPositive() {
		pct = pnl.Div(basis).Mul(decimal.NewFromInt(100))
	}
	r.res.Trades = append(r.res.Trades, Trade{
		Symbol:     sym,
		Side:       p.side,
		Qty:        p.qty.IntPart(),
		EntryTime:  p.opened.Time,
		ExitTime:   b.Time,
		EntryPrice: p.entry.InexactFloat64(),
		ExitPrice:  px.InexactFloat64(),
		PnL:        pnl.InexactFloat64(),
		PnLPct:     pct.InexactFloat64(),
	})
	delete(r.positions, sym)
}

// equity is cash plus open positions marked at the last close.
func (r *run) equity() decimal.Decimal {
	eq := r.cash
	for sym, p := range r.positions {
		mark := p.qty.Mul(r.last[sym])
		if p.side == SideLong {
			eq = eq.Add(mark)
		} else {
			eq = eq.Sub(mark)
		}
	}
	return eq
}

func sortedKeys(m map[string]Action) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// parseHHMM returns minutes since midnight.
func parseHHMM(v string) (int, bool) {
	h, m, ok := strings.Cut(strings.TrimSpace(v), ":")
	if !ok {
		return 0, false
	}
	hh, err1 := strconv.Atoi(h)
	mm, err2 := strconv.Atoi(m)
	if err1 != nil || err2 != nil || hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, false
	}
	return hh*60 + mm, true
}
