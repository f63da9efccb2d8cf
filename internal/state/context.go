// Package state owns the mutable trading context shared by the execution
// engine, the reconciler and the session controller. Everything here is
// touched only on the main scheduler.
package state

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"kiwoom-core/internal/balance"
	"kiwoom-core/internal/events"
	"kiwoom-core/internal/order"
	"kiwoom-core/internal/risk"
	"kiwoom-core/internal/strategy"
	"kiwoom-core/internal/universe"
	"kiwoom-core/pkg/config"
	"kiwoom-core/pkg/exchanges/common"
)

// Trade is one synthesized fill.
type Trade struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Side      string    `json:"side"` // 매수 or 매도
	Price     float64   `json:"price"`
	Quantity  int64     `json:"quantity"`
	Amount    float64   `json:"amount"`
	Profit    float64   `json:"profit"`
	Reason    string    `json:"reason"`
}

// TradeSink persists trades outside the process.
type TradeSink interface {
	Append(Trade)
}

// Context is the owned trading state.
type Context struct {
	Cfg      *config.Config
	Sched    events.Scheduler
	Bus      *events.Bus
	Log      zerolog.Logger
	Universe *universe.Store
	Ledger   *balance.Ledger
	Pending  *order.PendingBook
	Daily    risk.Daily

	Account string
	Live    bool
	Running bool

	// Generation increments on every start and stop; worker results
	// tagged with an older generation are dropped.
	Generation uint64

	// HoldingOrPending counts codes holding stock plus codes with an
	// unreconciled buy. counted tracks which codes contributed.
	HoldingOrPending int
	counted          map[string]bool

	MarketInvest map[common.Market]float64
	SectorInvest map[string]float64

	// LastExec is the latest order event per code, used to price fills.
	LastExec map[string]common.OrderEvent

	trades []Trade
	sink   TradeSink
}

// New builds an empty context.
func New(cfg *config.Config, sched events.Scheduler, bus *events.Bus, log zerolog.Logger) *Context {
	return &Context{
		Cfg:          cfg,
		Sched:        sched,
		Bus:          bus,
		Log:          log,
		Universe:     universe.NewStore(cfg.MaxPriceHistory, cfg.TableBatchLimit),
		Ledger:       balance.NewLedger(log),
		Pending:      order.NewPendingBook(),
		Live:         cfg.IsLive(),
		counted:      make(map[string]bool),
		MarketInvest: make(map[common.Market]float64),
		SectorInvest: make(map[string]float64),
		LastExec:     make(map[string]common.OrderEvent),
	}
}

// Now is the scheduler clock.
func (c *Context) Now() time.Time {
	return c.Sched.Now()
}

// SetSink installs the trade journal.
func (c *Context) SetSink(s TradeSink) {
	c.sink = s
}

// NextGeneration starts a new session generation.
func (c *Context) NextGeneration() uint64 {
	c.Generation++
	return c.Generation
}

// MarkDirty flags code for the diagnostics projection.
func (c *Context) MarkDirty(code string) {
	c.Universe.MarkDirty(code)
}

// RecordTrade stamps, stores, journals and publishes t. Sells feed the
// daily realized P&L.
func (c *Context) RecordTrade(t Trade) Trade {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = c.Now()
	}
	if t.Amount == 0 {
		t.Amount = t.Price * float64(t.Quantity)
	}
	if t.Side == common.LabelSell {
		c.Daily.Record(t.Profit)
	}
	c.trades = append(c.trades, t)
	if c.sink != nil {
		c.sink.Append(t)
	}
	c.Bus.Publish(events.EventTradeRecorded, t)
	c.Log.Info().
		Str("code", t.Code).
		Str("side", t.Side).
		Float64("price", t.Price).
		Int64("qty", t.Quantity).
		Float64("profit", t.Profit).
		Str("reason", t.Reason).
		Msg("trade recorded")
	return t
}

// Trades returns every trade recorded this process.
func (c *Context) Trades() []Trade {
	out := make([]Trade, len(c.trades))
	copy(out, c.trades)
	return out
}

// TradesOn projects the trades of one trading day (YYYY-MM-DD).
func (c *Context) TradesOn(day string) []Trade {
	var out []Trade
	for _, t := range c.trades {
		if risk.DayKey(t.Timestamp) == day {
			out = append(out, t)
		}
	}
	return out
}

// CountPending adds code to the holding-or-pending counter once.
func (c *Context) CountPending(code string) {
	if c.counted[code] {
		return
	}
	c.counted[code] = true
	c.HoldingOrPending++
}

// UncountPending reverses CountPending.
func (c *Context) UncountPending(code string) {
	if !c.counted[code] {
		return
	}
	delete(c.counted, code)
	c.HoldingOrPending--
}

// RecountHoldings recomputes the counter as codes holding stock plus codes
// with a buy in flight or an active pending buy and nothing held.
func (c *Context) RecountHoldings() int {
	c.counted = make(map[string]bool)
	now := c.Now()
	c.Universe.Each(func(s *universe.Symbol) {
		if s.Held > 0 || s.Status == universe.StatusBuying {
			c.counted[s.Code] = true
			return
		}
		if p, ok := c.Pending.Get(s.Code); ok && p.Side == common.SideBuy && p.Active(now) {
			c.counted[s.Code] = true
		}
	})
	c.HoldingOrPending = len(c.counted)
	return c.HoldingOrPending
}

// AddInvest moves amount into the market and sector trackers of sym.
// Negative amounts remove exposure; trackers never go below zero.
func (c *Context) AddInvest(sym *universe.Symbol, amount float64) {
	if sym.Market != "" {
		c.MarketInvest[sym.Market] = max(0, c.MarketInvest[sym.Market]+amount)
	}
	if sym.Sector != "" {
		c.SectorInvest[sym.Sector] = max(0, c.SectorInvest[sym.Sector]+amount)
	}
}

// Portfolio is the view the strategy engine evaluates overlays against.
func (c *Context) Portfolio() strategy.Portfolio {
	equity := float64(c.Ledger.TotalEquity())
	if equity <= 0 {
		equity = float64(c.Ledger.Deposit())
	}
	return strategy.Portfolio{
		HoldingOrPending: c.HoldingOrPending,
		MarketInvest:     c.MarketInvest,
		SectorInvest:     c.SectorInvest,
		Equity:           equity,
		DailyRealized:    c.Daily.Realized,
		DailyBaseline:    float64(c.Ledger.DailyInitial()),
		Live:             c.Live,
	}
}

// Reset clears per-session maps on stop. Trades are kept.
func (c *Context) Reset() {
	c.Pending.Reset()
	c.LastExec = make(map[string]common.OrderEvent)
	c.counted = make(map[string]bool)
	c.HoldingOrPending = 0
	c.MarketInvest = make(map[common.Market]float64)
	c.SectorInvest = make(map[string]float64)
}

// HeldCodes returns codes holding stock, sorted.
func (c *Context) HeldCodes() []string {
	var out []string
	c.Universe.Each(func(s *universe.Symbol) {
		if s.Held > 0 {
			out = append(out, s.Code)
		}
	})
	sort.Strings(out)
	return out
}
