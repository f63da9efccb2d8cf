package engine

import (
	"context"
	"errors"
	"math"
	"time"

	"kiwoom-core/internal/balance"
	"kiwoom-core/internal/order"
	"kiwoom-core/internal/strategy"
	"kiwoom-core/internal/universe"
	"kiwoom-core/pkg/exchanges/common"
)

var errPoolClosed = errors.New("worker pool closed")

// ExecuteBuy reserves cash and dispatches a buy of qty at about price.
// Under the limit policy the reservation covers the offset limit price.
// It returns false when the buy was refused before dispatch.
func (e *Engine) ExecuteBuy(code string, qty int64, price float64, reason string) bool {
	sym, ok := e.st.Universe.Get(code)
	if !ok || qty <= 0 || price <= 0 {
		return false
	}
	if sym.Status.Outstanding() {
		return false
	}
	now := e.st.Now()
	limit := e.pack.ExecutionPolicy == strategy.PolicyLimit
	sent := price
	if limit {
		sent = math.Round(price * (1 + e.pack.Params.LimitOffsetBps/10000))
	}
	required := balance.Won(sent * float64(qty))
	if required > e.st.Ledger.Virtual() {
		e.refuse(sym, now, required)
		return false
	}
	if err := e.st.Ledger.Reserve(code, required); err != nil {
		e.refuse(sym, now, required)
		return false
	}

	sym.Status = universe.StatusBuying
	e.st.CountPending(code)
	e.st.MarkDirty(code)

	gen := e.st.Generation
	account := e.st.Account
	broker := e.broker

	e.log.Info().
		Str("code", code).
		Int64("qty", qty).
		Float64("price", price).
		Int64("reserved", required).
		Str("reason", reason).
		Bool("limit", limit).
		Msg("buy dispatched")

	job := func(ctx context.Context) func() {
		var ack common.OrderAck
		var err error
		if limit {
			ack, err = broker.BuyLimit(ctx, account, code, qty, sent)
		} else {
			ack, err = broker.BuyMarket(ctx, account, code, qty)
		}
		res := order.Classify(ack, err)
		return func() { e.onBuyResult(gen, code, qty, reason, res) }
	}
	if !e.runner.Submit("buy:"+code, job) {
		e.onBuyResult(gen, code, qty, reason, order.TransportError{Err: errPoolClosed})
	}
	return true
}

// refuse applies the pre-flight INSUFFICIENT_CASH cooldown.
func (e *Engine) refuse(sym *universe.Symbol, now time.Time, required int64) {
	sym.CooldownUntil = now.Add(e.st.Cfg.OrderRejectCooldown)
	sym.Status = universe.StatusCooldown
	e.st.MarkDirty(sym.Code)
	e.log.Warn().
		Str("code", sym.Code).
		Int64("required", required).
		Int64("virtual", e.st.Ledger.Virtual()).
		Str("reason", ReasonInsufficientCash).
		Msg("buy refused")
	e.publish(OrderOutcome{Code: sym.Code, Side: common.SideBuy, Outcome: OutcomeInsufficientCash, Reason: ReasonInsufficientCash})
}

func (e *Engine) onBuyResult(gen uint64, code string, qty int64, reason string, res order.Result) {
	if gen != e.st.Generation {
		e.log.Debug().Str("code", code).Uint64("gen", gen).Msg("stale buy result dropped")
		return
	}
	sym, ok := e.st.Universe.Get(code)
	if !ok {
		return
	}
	now := e.st.Now()
	switch r := res.(type) {
	case order.Ok:
		sym.Status = universe.StatusBuySubmitted
		sym.CooldownUntil = time.Time{}
		sym.BreakoutHits = 0
		e.st.Pending.Set(code, order.Pending{Side: common.SideBuy, Reason: reason, Until: now.Add(e.st.Cfg.PendingOrderTTL)})
		e.st.MarkDirty(code)
		e.publish(OrderOutcome{Code: code, Side: common.SideBuy, Qty: qty, Outcome: OutcomeSubmitted, Reason: reason, OrderNo: r.OrderNo})
		if e.rec != nil {
			e.rec.Trigger(code)
		}
	case order.Rejected:
		e.failBuy(sym, now, qty, OutcomeRejected, r.Reason)
	case order.TransportError:
		e.failBuy(sym, now, qty, OutcomeError, ReasonBuyError+": "+r.Err.Error())
	}
}

func (e *Engine) failBuy(sym *universe.Symbol, now time.Time, qty int64, outcome, reason string) {
	refunded := e.st.Ledger.Release(sym.Code, reason, true)
	sym.CooldownUntil = now.Add(e.st.Cfg.OrderRejectCooldown)
	sym.Status = universe.StatusCooldown
	e.st.Pending.Clear(sym.Code)
	e.st.UncountPending(sym.Code)
	e.st.MarkDirty(sym.Code)
	e.log.Warn().
		Str("code", sym.Code).
		Int64("refunded", refunded).
		Str("reason", reason).
		Msg("buy failed")
	e.publish(OrderOutcome{Code: sym.Code, Side: common.SideBuy, Qty: qty, Outcome: outcome, Reason: reason})
}
