package engine

import (
	"context"
	"math"

	"kiwoom-core/internal/order"
	"kiwoom-core/internal/strategy"
	"kiwoom-core/internal/universe"
	"kiwoom-core/pkg/exchanges/common"
)

// ExecuteSell dispatches a sell of up to qty shares. level marks a partial
// ladder level as executed; a failed sell unmarks it.
func (e *Engine) ExecuteSell(code string, qty int64, reason string, level int) bool {
	sym, ok := e.st.Universe.Get(code)
	if !ok || sym.Held <= 0 || sym.Status.Outstanding() {
		return false
	}
	qty = min(qty, sym.Held)
	if qty <= 0 {
		return false
	}

	prev := sym.Status
	sym.Status = universe.StatusSelling
	if level > 0 {
		sym.PartialProfitLevels[level] = true
	}
	e.st.MarkDirty(code)

	gen := e.st.Generation
	limit := e.pack.ExecutionPolicy == strategy.PolicyLimit
	limitPrice := math.Round(sym.Current * (1 - e.pack.Params.LimitOffsetBps/10000))
	account := e.st.Account
	broker := e.broker

	e.log.Info().
		Str("code", code).
		Int64("qty", qty).
		Int64("held", sym.Held).
		Str("reason", reason).
		Bool("limit", limit).
		Msg("sell dispatched")

	job := func(ctx context.Context) func() {
		var ack common.OrderAck
		var err error
		if limit {
			ack, err = broker.SellLimit(ctx, account, code, qty, limitPrice)
		} else {
			ack, err = broker.SellMarket(ctx, account, code, qty)
		}
		res := order.Classify(ack, err)
		return func() { e.onSellResult(gen, code, qty, reason, level, prev, res) }
	}
	if !e.runner.Submit("sell:"+code, job) {
		e.onSellResult(gen, code, qty, reason, level, prev, order.TransportError{Err: errPoolClosed})
	}
	return true
}

func (e *Engine) onSellResult(gen uint64, code string, qty int64, reason string, level int, prev universe.Status, res order.Result) {
	if gen != e.st.Generation {
		e.log.Debug().Str("code", code).Uint64("gen", gen).Msg("stale sell result dropped")
		return
	}
	sym, ok := e.st.Universe.Get(code)
	if !ok {
		return
	}
	now := e.st.Now()
	switch r := res.(type) {
	case order.Ok:
		sym.Status = universe.StatusSellSubmitted
		e.st.Pending.Set(code, order.Pending{Side: common.SideSell, Reason: reason, Until: now.Add(e.st.Cfg.PendingOrderTTL), Level: level})
		e.st.MarkDirty(code)
		e.publish(OrderOutcome{Code: code, Side: common.SideSell, Qty: qty, Outcome: OutcomeSubmitted, Reason: reason, OrderNo: r.OrderNo})
		if e.rec != nil {
			e.rec.Trigger(code)
		}
	case order.Rejected:
		e.failSell(sym, qty, level, prev, OutcomeRejected, r.Reason)
	case order.TransportError:
		e.failSell(sym, qty, level, prev, OutcomeError, ReasonSellError+": "+r.Err.Error())
	}
}

func (e *Engine) failSell(sym *universe.Symbol, qty int64, level int, prev universe.Status, outcome, reason string) {
	if level > 0 {
		delete(sym.PartialProfitLevels, level)
	}
	if prev != universe.StatusTrailing {
		prev = universe.StatusHolding
	}
	sym.Status = prev
	e.st.Pending.Clear(sym.Code)
	e.st.MarkDirty(sym.Code)
	e.log.Warn().Str("code", sym.Code).Str("reason", reason).Msg("sell failed")
	e.publish(OrderOutcome{Code: sym.Code, Side: common.SideSell, Qty: qty, Outcome: outcome, Reason: reason})
}
