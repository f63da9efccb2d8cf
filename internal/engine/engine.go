// Package engine is the execution engine: it turns ticks into exits and
// entries and owns order submission and result handling.
package engine

import (
	"time"

	"github.com/rs/zerolog"

	"kiwoom-core/internal/events"
	"kiwoom-core/internal/order"
	"kiwoom-core/internal/risk"
	"kiwoom-core/internal/state"
	"kiwoom-core/internal/strategy"
	"kiwoom-core/internal/universe"
	"kiwoom-core/pkg/exchanges/common"
)

// Order outcomes reported to metrics and the event bus.
const (
	OutcomeSubmitted        = "submitted"
	OutcomeRejected         = "rejected"
	OutcomeError            = "error"
	OutcomeInsufficientCash = "insufficient_cash"
)

// Reasons logged on buy failures.
const (
	ReasonInsufficientCash = "INSUFFICIENT_CASH"
	ReasonBuyError         = "BUY_ERROR"
	ReasonSellError        = "SELL_ERROR"
)

// Reconciler is notified after every accepted order.
type Reconciler interface {
	Trigger(code string)
}

// Metrics receives execution counters.
type Metrics interface {
	ObserveTick(d time.Duration)
	CountOrder(side common.Side, outcome string)
}

type nopMetrics struct{}

func (nopMetrics) ObserveTick(time.Duration)      {}
func (nopMetrics) CountOrder(common.Side, string) {}

// OrderOutcome is published on events.EventOrderResult.
type OrderOutcome struct {
	Code    string      `json:"code"`
	Side    common.Side `json:"side"`
	Qty     int64       `json:"qty"`
	Outcome string      `json:"outcome"`
	Reason  string      `json:"reason"`
	OrderNo string      `json:"order_no,omitempty"`
}

// Options wires the engine's collaborators.
type Options struct {
	Broker   common.Broker
	Runner   order.Runner
	Strategy *strategy.Engine
	Metrics  Metrics
}

// Engine is the execution engine. All methods run on the main scheduler.
type Engine struct {
	st       *state.Context
	broker   common.Broker
	runner   order.Runner
	strat    *strategy.Engine
	pack     *strategy.Pack
	exits    *risk.ExitRules
	rec      Reconciler
	metrics  Metrics
	log      zerolog.Logger
	lastTick time.Time
}

// New creates an engine over st.
func New(st *state.Context, opts Options) *Engine {
	m := opts.Metrics
	if m == nil {
		m = nopMetrics{}
	}
	pack := opts.Strategy.Pack()
	return &Engine{
		st:      st,
		broker:  opts.Broker,
		runner:  opts.Runner,
		strat:   opts.Strategy,
		pack:    pack,
		exits:   risk.NewExitRules(pack),
		metrics: m,
		log:     st.Log.With().Str("component", "engine").Logger(),
	}
}

// SetReconciler installs the reconciliation trigger.
func (e *Engine) SetReconciler(r Reconciler) {
	e.rec = r
}

// Strategy returns the pack engine.
func (e *Engine) Strategy() *strategy.Engine { return e.strat }

// OnTick applies a tick and runs the exit or entry branch for its code.
func (e *Engine) OnTick(t common.Tick) {
	start := time.Now()
	defer func() { e.metrics.ObserveTick(time.Since(start)) }()

	now := e.st.Now()
	sym := e.st.Universe.ApplyTick(t, now)
	if sym == nil {
		return
	}
	e.lastTick = now
	e.st.Bus.Publish(events.EventPriceTick, t)
	if !e.st.Running {
		return
	}
	e.Step(sym, now)
}

// LastTick is the scheduler time of the last applied tick.
func (e *Engine) LastTick() time.Time { return e.lastTick }

// Step runs the holding or watch branch for sym at now.
func (e *Engine) Step(sym *universe.Symbol, now time.Time) {
	if sym.Status.Outstanding() || e.st.Pending.Active(sym.Code, now) {
		return
	}
	if sym.Held > 0 {
		e.holding(sym, now)
		return
	}
	e.watch(sym, now)
}

func (e *Engine) holding(sym *universe.Symbol, now time.Time) {
	if sym.Status != universe.StatusTrailing {
		sym.Status = universe.StatusHolding
	}
	prev := sym.Status
	ex, ok := e.exits.Evaluate(sym, now)
	if sym.Status != prev {
		e.st.MarkDirty(sym.Code)
	}
	if !ok {
		return
	}
	e.log.Info().
		Str("code", sym.Code).
		Str("reason", ex.Reason).
		Int64("qty", ex.Qty).
		Str("detail", ex.Detail).
		Msg("exit triggered")
	e.ExecuteSell(sym.Code, ex.Qty, ex.Reason, ex.Level)
}

func (e *Engine) watch(sym *universe.Symbol, now time.Time) {
	if sym.Target <= 0 || now.Hour() >= e.st.Cfg.NoEntryHour {
		return
	}
	if e.st.Daily.Triggered {
		return
	}
	if limit := e.pack.Params.MaxHoldings; limit > 0 && e.st.HoldingOrPending >= limit {
		return
	}
	if sym.InCooldown(now) {
		return
	}
	if sym.Status == universe.StatusCooldown {
		sym.Status = universe.StatusWatch
		e.st.MarkDirty(sym.Code)
	}

	if sym.Current >= sym.Target {
		if n := e.pack.Params.BreakoutConfirm; n > 0 {
			sym.BreakoutHits++
			if sym.BreakoutHits < n {
				return
			}
		}
	} else {
		sym.BreakoutHits = 0
	}

	d := e.strat.Evaluate(sym, e.st.Portfolio(), now)
	if !d.Passed || d.Direction != strategy.Long {
		return
	}
	qty := e.size(sym, d)
	if qty <= 0 {
		e.log.Debug().Str("code", sym.Code).Msg("entry passed but size is zero")
		return
	}
	e.ExecuteBuy(sym.Code, qty, sym.Current, e.pack.Primary)
}

// LiquidateAll sells every holding that has no order outstanding and
// returns how many sells were issued.
func (e *Engine) LiquidateAll(reason string) int {
	n := 0
	for _, code := range e.st.HeldCodes() {
		sym, _ := e.st.Universe.Get(code)
		if sym.Status.Outstanding() {
			continue
		}
		if e.ExecuteSell(code, sym.Held, reason, 0) {
			n++
		}
	}
	if n > 0 {
		e.log.Warn().Str("reason", reason).Int("orders", n).Msg("liquidating holdings")
	}
	return n
}

func (e *Engine) publish(o OrderOutcome) {
	e.metrics.CountOrder(o.Side, o.Outcome)
	e.st.Bus.Publish(events.EventOrderResult, o)
}
