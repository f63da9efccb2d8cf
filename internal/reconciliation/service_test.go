package reconciliation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiwoom-core/internal/events"
	"kiwoom-core/internal/order"
	"kiwoom-core/internal/state"
	"kiwoom-core/internal/universe"
	"kiwoom-core/pkg/config"
	"kiwoom-core/pkg/exchanges/common"
)

type positionsBroker struct {
	common.Broker
	loop  *events.StepLoop
	calls []time.Time
	err   error
	pos   []common.Position
}

func (b *positionsBroker) GetPositions(context.Context, string) ([]common.Position, error) {
	b.calls = append(b.calls, b.loop.Now())
	return b.pos, b.err
}

// heldRunner keeps jobs until release is called.
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

var t0 = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func setup(t *testing.T, mut func(*config.Config)) (*Service, *state.Context, *events.StepLoop, *positionsBroker) {
	t.Helper()
	cfg := config.Default()
	if mut != nil {
		mut(cfg)
	}
	loop := events.NewStepLoop(t0)
	st := state.New(cfg, loop, events.NewBus(), zerolog.Nop())
	st.Ledger.Refresh(50_000, 50_000)
	st.Running = true
	b := &positionsBroker{loop: loop}
	svc := NewService(st, Options{Broker: b, Runner: order.Inline{Sched: loop}, ReentryCooldown: 10 * time.Minute})
	st.Universe.Add("005930")
	return svc, st, loop, b
}

func pendingBuy(t *testing.T, st *state.Context, amount int64) *universe.Symbol {
	t.Helper()
	sym, _ := st.Universe.Get("005930")
	require.NoError(t, st.Ledger.Reserve("005930", amount))
	st.Pending.Set("005930", order.Pending{Side: common.SideBuy, Reason: "volatility_breakout", Until: st.Now().Add(5 * time.Second)})
	st.CountPending("005930")
	sym.Status = universe.StatusBuySubmitted
	return sym
}

func TestRetriesExhaustedLatchesSyncFailed(t *testing.T) {
	svc, st, loop, b := setup(t, func(c *config.Config) { c.PositionSyncMaxRetries = 1 })
	b.err = errors.New("connection reset")
	sym := pendingBuy(t, st, 1_000)
	assert.Equal(t, int64(49_000), st.Ledger.Virtual())

	svc.Trigger("005930")
	loop.Advance(st.Cfg.PositionSyncDebounce)
	require.Len(t, b.calls, 1)
	assert.Equal(t, universe.StatusBuySubmitted, sym.Status, "first failure is retried")
	assert.Equal(t, 1, svc.Retries())

	loop.Advance(svc.Delay(1))
	require.Len(t, b.calls, 2)

	assert.Equal(t, universe.StatusSyncFailed, sym.Status)
	assert.Zero(t, st.Ledger.ReservedFor("005930"))
	assert.Equal(t, st.Ledger.Deposit(), st.Ledger.Virtual())
	_, ok := st.Pending.Get("005930")
	assert.False(t, ok)
	assert.Zero(t, st.HoldingOrPending)

	loop.Advance(time.Minute)
	assert.Len(t, b.calls, 2, "dropped batch is not retried")
}

func TestBackoffDelaysAreCapped(t *testing.T) {
	svc, st, loop, b := setup(t, nil)
	b.err = errors.New("timeout")

	want := []time.Duration{200, 400, 800, 1600, 3200}
	for i, ms := range want {
		assert.Equal(t, ms*time.Millisecond, svc.Delay(i+1))
	}
	assert.Equal(t, 5*time.Second, svc.Delay(6))
	assert.Equal(t, 5*time.Second, svc.Delay(10))

	svc.Trigger("005930")
	loop.Advance(time.Minute)
	require.Len(t, b.calls, st.Cfg.PositionSyncMaxRetries+1)
	for i := 1; i < len(b.calls); i++ {
		assert.Equal(t, svc.Delay(i), b.calls[i].Sub(b.calls[i-1]), "gap before attempt %d", i+1)
	}
	sym, _ := st.Universe.Get("005930")
	assert.Equal(t, universe.StatusSyncFailed, sym.Status)
}

func TestTriggersCoalesceAndSingleFlight(t *testing.T) {
	cfg := config.Default()
	loop := events.NewStepLoop(t0)
	st := state.New(cfg, loop, events.NewBus(), zerolog.Nop())
	b := &positionsBroker{loop: loop}
	runner := &heldRunner{sched: loop}
	svc := NewService(st, Options{Broker: b, Runner: runner})
	for _, c := range []string{"005930", "000660", "035720"} {
		st.Universe.Add(c)
	}

	svc.Trigger("005930")
	svc.Trigger("000660")
	loop.Advance(cfg.PositionSyncDebounce)
	require.Len(t, runner.jobs, 1)
	assert.True(t, svc.InFlight())

	svc.Trigger("035720")
	loop.Advance(time.Second)
	assert.Len(t, runner.jobs, 1, "no second request while one is in flight")

	runner.release()
	loop.Drain()
	assert.False(t, svc.InFlight())
	assert.Equal(t, []string{"000660", "005930"}, svc.LastReport().Codes)

	loop.Advance(cfg.PositionSyncDebounce)
	require.Len(t, runner.jobs, 1)
	runner.release()
	loop.Drain()
	assert.Equal(t, []string{"035720"}, svc.LastReport().Codes)
	assert.Len(t, b.calls, 2)
}

func TestBuyFillSynthesizesTrade(t *testing.T) {
	svc, st, loop, b := setup(t, nil)
	sym := pendingBuy(t, st, 30_000)
	sym.Name = "삼성전자"
	sym.Market = common.MarketKOSPI
	st.LastExec["005930"] = common.OrderEvent{Code: "005930", Side: common.SideBuy, Price: 9_990, Qty: 3, Status: common.StatusFilled}
	b.pos = []common.Position{{Code: "005930", Qty: 3, AvgPrice: 10_000, Current: 10_050}}

	svc.Trigger("005930")
	loop.Advance(time.Second)

	trades := st.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, common.LabelBuy, trades[0].Side)
	assert.Equal(t, 9_990.0, trades[0].Price)
	assert.Equal(t, int64(3), trades[0].Quantity)
	assert.Equal(t, "volatility_breakout", trades[0].Reason)
	assert.Zero(t, trades[0].Profit)

	assert.Zero(t, st.Ledger.ReservedFor("005930"))
	assert.Equal(t, int64(20_000), st.Ledger.Virtual(), "released without refund")
	assert.Equal(t, int64(3), sym.Held)
	assert.Equal(t, 10_000.0, sym.BuyPrice)
	assert.Equal(t, universe.StatusHolding, sym.Status)
	assert.Equal(t, t0.Add(st.Cfg.PositionSyncDebounce), sym.BuyTime)
	_, ok := st.Pending.Get("005930")
	assert.False(t, ok)
	assert.Equal(t, 1, st.HoldingOrPending)
	assert.Equal(t, 29_970.0, st.MarketInvest[common.MarketKOSPI])
}

func TestSellFillRealizesProfitAndCooldown(t *testing.T) {
	svc, st, loop, _ := setup(t, nil)
	sym, _ := st.Universe.Get("005930")
	sym.Held, sym.BuyPrice, sym.Status = 5, 10_000, universe.StatusSellSubmitted
	st.Pending.Set("005930", order.Pending{Side: common.SideSell, Reason: "TRAILING_STOP", Until: loop.Now().Add(5 * time.Second)})
	st.LastExec["005930"] = common.OrderEvent{Code: "005930", Side: common.SideSell, Price: 10_500}

	svc.Trigger("005930")
	loop.Advance(time.Second)

	trades := st.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, common.LabelSell, trades[0].Side)
	assert.Equal(t, 2_500.0, trades[0].Profit)
	assert.Equal(t, 2_500.0, st.Daily.Realized)
	assert.Zero(t, sym.Held)
	assert.Zero(t, sym.BuyPrice)
	assert.Equal(t, universe.StatusCooldown, sym.Status)
	assert.True(t, sym.InCooldown(loop.Now().Add(9*time.Minute)))
}

func TestPartialSellKeepsHolding(t *testing.T) {
	svc, st, loop, b := setup(t, nil)
	sym, _ := st.Universe.Get("005930")
	sym.Held, sym.BuyPrice, sym.Current, sym.Status = 10, 10_000, 10_300, universe.StatusSellSubmitted
	sym.PartialProfitLevels[1] = true
	st.Pending.Set("005930", order.Pending{Side: common.SideSell, Reason: "PARTIAL_PROFIT", Until: loop.Now().Add(5 * time.Second), Level: 1})
	b.pos = []common.Position{{Code: "005930", Qty: 7, AvgPrice: 10_000}}

	svc.Trigger("005930")
	loop.Advance(time.Second)

	require.Len(t, st.Trades(), 1)
	assert.Equal(t, int64(3), st.Trades()[0].Quantity)
	assert.Equal(t, 10_000.0, st.Trades()[0].Price, "new average price when no order event")
	assert.Equal(t, int64(7), sym.Held)
	assert.True(t, sym.PartialProfitLevels[1])
	assert.Equal(t, universe.StatusHolding, sym.Status)
}

func TestExpiredPendingBuyRefunds(t *testing.T) {
	svc, st, loop, _ := setup(t, nil)
	sym := pendingBuy(t, st, 10_000)
	loop.Advance(6 * time.Second)

	svc.Trigger("005930")
	loop.Advance(time.Second)

	assert.Empty(t, st.Trades())
	assert.Equal(t, int64(50_000), st.Ledger.Virtual())
	assert.Equal(t, universe.StatusWatch, sym.Status)
	assert.Zero(t, st.HoldingOrPending)
}

func TestActivePendingWithoutDeltaKeepsSubmitted(t *testing.T) {
	svc, st, loop, _ := setup(t, nil)
	sym := pendingBuy(t, st, 10_000)
	sym.Status = universe.StatusBuying

	svc.Trigger("005930")
	loop.Advance(st.Cfg.PositionSyncDebounce)

	assert.Equal(t, universe.StatusBuySubmitted, sym.Status)
	assert.Equal(t, int64(10_000), st.Ledger.ReservedFor("005930"))
	assert.Equal(t, 1, st.HoldingOrPending)
}

func TestOrderWorkerOutKeepsStatus(t *testing.T) {
	cases := []struct {
		name   string
		status universe.Status
		held   int64
	}{
		{"buy", universe.StatusBuying, 0},
		{"sell", universe.StatusSelling, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, st, loop, b := setup(t, nil)
			sym, _ := st.Universe.Get("005930")
			sym.Held, sym.BuyPrice, sym.Status = tc.held, 10_000, tc.status
			if tc.held > 0 {
				b.pos = []common.Position{{Code: "005930", Qty: tc.held, AvgPrice: 10_000}}
			} else {
				require.NoError(t, st.Ledger.Reserve("005930", 10_000))
				st.CountPending("005930")
			}

			svc.TriggerAll()
			loop.Advance(st.Cfg.PositionSyncDebounce)

			assert.Equal(t, tc.status, sym.Status)
			assert.Empty(t, st.Trades())
			assert.Equal(t, 1, st.HoldingOrPending)
		})
	}
}

func TestSnapshotDoesNotSynthesizeTrades(t *testing.T) {
	svc, st, _, b := setup(t, nil)
	st.Universe.Add("000660")
	b.pos = []common.Position{
		{Code: "005930", Qty: 2, AvgPrice: 70_000, Current: 71_000},
		{Code: "999999", Qty: 1, AvgPrice: 1_000},
	}

	require.NoError(t, svc.Snapshot(context.Background()))

	assert.Empty(t, st.Trades())
	sym, _ := st.Universe.Get("005930")
	assert.Equal(t, int64(2), sym.Held)
	assert.Equal(t, universe.StatusHolding, sym.Status)
	assert.Equal(t, 71_000.0, sym.Current)
	assert.Equal(t, 1, st.HoldingOrPending)
}

func TestResetClearsLatch(t *testing.T) {
	svc, st, loop, b := setup(t, func(c *config.Config) { c.PositionSyncMaxRetries = 0 })
	b.err = errors.New("boom")
	svc.Trigger("005930")
	loop.Advance(time.Second)
	sym, _ := st.Universe.Get("005930")
	require.Equal(t, universe.StatusSyncFailed, sym.Status)
	_, msg := svc.SyncInfo("005930")
	assert.Equal(t, "boom", msg)

	assert.False(t, svc.Reset("000660"))
	b.err = nil
	require.True(t, svc.Reset("005930"))
	loop.Advance(time.Second)
	assert.Equal(t, universe.StatusWatch, sym.Status)
	n, msg := svc.SyncInfo("005930")
	assert.Zero(t, n)
	assert.Empty(t, msg)
}

func TestOrderEventTriggersOnFill(t *testing.T) {
	svc, st, loop, b := setup(t, nil)
	svc.OnOrderEvent(common.OrderEvent{Code: "005930", Status: common.StatusAccepted})
	loop.Advance(time.Second)
	assert.Empty(t, b.calls)

	svc.OnOrderEvent(common.OrderEvent{Code: "005930", Status: common.StatusFilled, Qty: 1, Price: 70_000, Side: common.SideBuy})
	loop.Advance(time.Second)
	assert.Len(t, b.calls, 1)
	assert.Equal(t, 70_000.0, st.LastExec["005930"].Price)
}

func TestStopDropsInflightResult(t *testing.T) {
	cfg := config.Default()
	loop := events.NewStepLoop(t0)
	st := state.New(cfg, loop, events.NewBus(), zerolog.Nop())
	b := &positionsBroker{loop: loop, pos: []common.Position{{Code: "005930", Qty: 1, AvgPrice: 100}}}
	runner := &heldRunner{sched: loop}
	svc := NewService(st, Options{Broker: b, Runner: runner})
	st.Universe.Add("005930")

	svc.Trigger("005930")
	loop.Advance(time.Second)
	svc.Stop()
	st.NextGeneration()
	runner.release()
	loop.Drain()

	sym, _ := st.Universe.Get("005930")
	assert.Zero(t, sym.Held)
	assert.Empty(t, st.Trades())
}
