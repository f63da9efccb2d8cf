package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiwoom-core/internal/events"
	"kiwoom-core/internal/order"
	"kiwoom-core/internal/reconciliation"
	"kiwoom-core/internal/universe"
	"kiwoom-core/pkg/exchanges/common"
)

// heldRunner keeps order jobs until release, standing in for a REST call
// that has not returned yet.
type heldRunner struct {
	sched events.Scheduler
	jobs  []order.Job
}

func (r *heldRunner) Submit(_ string, job order.Job) bool {
	r.jobs = append(r.jobs, job)
	return true
}

func (r *heldRunner) release() {
	jobs := r.jobs
	r.jobs = nil
	for _, j := range jobs {
		if cont := j(context.Background()); cont != nil {
			r.sched.Post(cont)
		}
	}
}

type positionsBroker struct {
	common.Broker
	pos []common.Position
}

func (b *positionsBroker) GetPositions(context.Context, string) ([]common.Position, error) {
	return b.pos, nil
}

// withHeldOrders swaps in a held order runner and a real reconciler that
// reports pos.
func withHeldOrders(h *harness, pos []common.Position) (*heldRunner, *reconciliation.Service) {
	runner := &heldRunner{sched: h.loop}
	h.eng.runner = runner
	rec := reconciliation.NewService(h.st, reconciliation.Options{
		Broker: &positionsBroker{pos: pos},
		Runner: order.Inline{Sched: h.loop},
	})
	h.eng.SetReconciler(rec)
	return runner, rec
}

func TestPeriodicSyncKeepsBuyInFlight(t *testing.T) {
	h := newHarness(t, nil)
	runner, rec := withHeldOrders(h, nil)
	sym := h.sym(t)

	require.True(t, h.eng.ExecuteBuy("005930", 1, 10_000, "volatility_breakout"))
	require.Len(t, runner.jobs, 1)

	rec.TriggerAll()
	h.loop.Advance(h.st.Cfg.PositionSyncDebounce)

	assert.Equal(t, universe.StatusBuying, sym.Status)
	assert.True(t, sym.Status.Outstanding())
	assert.Equal(t, 1, h.st.HoldingOrPending)
	assert.Equal(t, int64(10_000), h.st.Ledger.ReservedFor("005930"))

	assert.False(t, h.eng.ExecuteBuy("005930", 1, 10_000, "again"))
	h.eng.Step(sym, h.loop.Now())
	assert.Len(t, runner.jobs, 1, "no second order dispatched")
	assert.Equal(t, int64(40_000), h.st.Ledger.Virtual())

	runner.release()
	h.loop.Drain()
	assert.Equal(t, universe.StatusBuySubmitted, sym.Status)
	assert.True(t, h.st.Pending.Active("005930", h.loop.Now()))
}

func TestPeriodicSyncKeepsSellInFlight(t *testing.T) {
	h := newHarness(t, nil)
	runner, rec := withHeldOrders(h, []common.Position{{Code: "005930", Qty: 5, AvgPrice: 10_000, Current: 9_000}})
	sym := h.sym(t)
	sym.Held, sym.BuyPrice, sym.Current = 5, 10_000, 9_000
	sym.Status = universe.StatusHolding

	require.True(t, h.eng.ExecuteSell("005930", 5, "STOP_LOSS", 0))
	require.Len(t, runner.jobs, 1)

	rec.TriggerAll()
	h.loop.Advance(h.st.Cfg.PositionSyncDebounce)

	assert.Equal(t, universe.StatusSelling, sym.Status)
	assert.Equal(t, int64(5), sym.Held)
	assert.Empty(t, rec.LastReport().Diffs)

	assert.False(t, h.eng.ExecuteSell("005930", 5, "STOP_LOSS", 0))
	h.eng.Step(sym, h.loop.Now())
	assert.Len(t, runner.jobs, 1, "no duplicate sell dispatched")

	runner.release()
	h.loop.Drain()
	assert.Equal(t, universe.StatusSellSubmitted, sym.Status)
}
