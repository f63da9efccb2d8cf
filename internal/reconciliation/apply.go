package reconciliation

import (
	"context"
	"fmt"

	"kiwoom-core/internal/state"
	"kiwoom-core/internal/universe"
	"kiwoom-core/pkg/exchanges/common"
)

func byCode(positions []common.Position) map[string]common.Position {
	m := make(map[string]common.Position, len(positions))
	for _, p := range positions {
		m[p.Code] = p
	}
	return m
}

// fillPrice prefers the last order event of the same side, then the
// broker's average price, then the last tick.
func (s *Service) fillPrice(sym *universe.Symbol, side common.Side, avg float64) float64 {
	if ev, ok := s.st.LastExec[sym.Code]; ok && ev.Side == side && ev.Price > 0 {
		return ev.Price
	}
	if avg > 0 {
		return avg
	}
	return sym.Current
}

func (s *Service) apply(codes []string, positions []common.Position) {
	now := s.st.Now()
	held := byCode(positions)
	rep := Report{Timestamp: now, Codes: codes}

	for _, code := range codes {
		sym, ok := s.st.Universe.Get(code)
		if !ok {
			continue
		}
		pos := held[code]
		prevHeld, prevBuy := sym.Held, sym.BuyPrice
		delta := pos.Qty - prevHeld
		pending, hasPending := s.st.Pending.Get(code)
		reason := ReasonSync
		if hasPending && pending.Reason != "" {
			reason = pending.Reason
		}
		if delta != 0 {
			rep.Diffs = append(rep.Diffs, PositionDiff{Code: code, LocalQty: prevHeld, BrokerQty: pos.Qty, Difference: delta})
		}

		closed := false
		switch {
		case delta > 0:
			price := s.fillPrice(sym, common.SideBuy, pos.AvgPrice)
			t := s.st.RecordTrade(state.Trade{
				Timestamp: now, Code: code, Name: sym.Name, Side: common.LabelBuy,
				Price: price, Quantity: delta, Reason: reason,
			})
			s.st.Ledger.Release(code, ReasonFilled, false)
			s.st.AddInvest(sym, price*float64(delta))
			s.notifier.Buy(t)
			rep.Trades++
		case delta < 0:
			qty := -delta
			newAvg := 0.0
			if pos.Qty > 0 {
				newAvg = pos.AvgPrice
			}
			price := s.fillPrice(sym, common.SideSell, newAvg)
			t := s.st.RecordTrade(state.Trade{
				Timestamp: now, Code: code, Name: sym.Name, Side: common.LabelSell,
				Price: price, Quantity: qty, Profit: (price - prevBuy) * float64(qty), Reason: reason,
			})
			s.st.AddInvest(sym, -prevBuy*float64(qty))
			s.notifier.Sell(t)
			rep.Trades++
			closed = pos.Qty == 0 && prevHeld > 0
		}

		if pos.Qty > 0 {
			if prevHeld == 0 {
				sym.BuyTime = now
				sym.MaxProfitRate = 0
				sym.PartialProfitLevels = make(map[int]bool)
			}
			sym.Held = pos.Qty
			if pos.AvgPrice > 0 {
				sym.BuyPrice = pos.AvgPrice
			}
			sym.InvestAmount = sym.BuyPrice * float64(sym.Held)
			if sym.Current <= 0 {
				sym.Current = pos.Current
			}
		} else {
			sym.ClearHolding()
		}
		if closed && s.cooldown > 0 {
			sym.CooldownUntil = now.Add(s.cooldown)
		}

		s.resolve(sym, delta, hasPending)
		delete(s.failed, code)
		s.st.MarkDirty(code)
	}

	s.st.RecountHoldings()
	s.report = rep
	if len(rep.Diffs) > 0 {
		s.log.Info().Int("diffs", len(rep.Diffs)).Int("trades", rep.Trades).Msg("positions reconciled")
	}
}

// resolve clears or keeps the pending flag and derives the status.
// A code in buying or selling still has its order worker out; with no
// delta its status is left alone until the result arrives.
func (s *Service) resolve(sym *universe.Symbol, delta int64, hasPending bool) {
	now := s.st.Now()
	if !hasPending && delta == 0 && inFlight(sym.Status) {
		return
	}
	if hasPending {
		p, _ := s.st.Pending.Get(sym.Code)
		switch {
		case delta != 0:
			s.st.Pending.Clear(sym.Code)
		case p.Active(now):
			if p.Side == common.SideBuy {
				sym.Status = universe.StatusBuySubmitted
			} else {
				sym.Status = universe.StatusSellSubmitted
			}
			return
		default:
			s.st.Pending.Clear(sym.Code)
			if p.Side == common.SideBuy && sym.Held == 0 {
				s.st.Ledger.Release(sym.Code, ReasonPendingExpired, true)
				s.log.Info().Str("code", sym.Code).Str("reason", p.Reason).Msg("pending buy expired without fill")
			}
			if p.Side == common.SideSell && p.Level > 0 {
				delete(sym.PartialProfitLevels, p.Level)
			}
		}
	}

	switch {
	case sym.Held > 0:
		if sym.Status != universe.StatusTrailing {
			sym.Status = universe.StatusHolding
		}
	case sym.InCooldown(now):
		sym.Status = universe.StatusCooldown
	default:
		sym.Status = universe.StatusWatch
	}
}

func inFlight(st universe.Status) bool {
	return st == universe.StatusBuying || st == universe.StatusSelling
}

// ApplySnapshot loads broker positions at session start without
// synthesizing trades.
func (s *Service) ApplySnapshot(positions []common.Position) {
	now := s.st.Now()
	held := byCode(positions)
	s.st.Universe.Each(func(sym *universe.Symbol) {
		pos, ok := held[sym.Code]
		if !ok || pos.Qty <= 0 {
			sym.ClearHolding()
			return
		}
		sym.Held = pos.Qty
		sym.BuyPrice = pos.AvgPrice
		sym.InvestAmount = pos.AvgPrice * float64(pos.Qty)
		sym.BuyTime = now
		sym.Status = universe.StatusHolding
		if sym.Current <= 0 {
			sym.Current = pos.Current
		}
		s.st.AddInvest(sym, sym.InvestAmount)
		s.st.MarkDirty(sym.Code)
	})
	for code := range held {
		if _, ok := s.st.Universe.Get(code); !ok {
			s.log.Debug().Str("code", code).Msg("holding outside the watchlist ignored")
		}
	}
	s.st.RecountHoldings()
	s.log.Info().Int("holdings", len(s.st.HeldCodes())).Msg("position snapshot applied")
}

// Snapshot fetches positions on the caller's goroutine and applies them on
// the main scheduler.
func (s *Service) Snapshot(ctx context.Context) error {
	positions, err := s.broker.GetPositions(ctx, s.st.Account)
	if err != nil {
		return fmt.Errorf("snapshot positions: %w", err)
	}
	s.st.Sched.Call(func() { s.ApplySnapshot(positions) })
	return nil
}
