package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiwoom-core/internal/diagnostics"
	"kiwoom-core/internal/engine"
	"kiwoom-core/internal/events"
	"kiwoom-core/internal/order"
	"kiwoom-core/internal/reconciliation"
	"kiwoom-core/internal/state"
	"kiwoom-core/internal/strategy"
	"kiwoom-core/internal/universe"
	"kiwoom-core/pkg/config"
	"kiwoom-core/pkg/exchanges/common"
)

type fakeStream struct {
	mu           sync.Mutex
	connectErr   error
	connected    bool
	closed       bool
	subscribed   []string
	unsubscribed []string
	orders       bool
}

func (f *fakeStream) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeStream) Subscribe(codes []string) error {
	f.subscribed = append(f.subscribed, codes...)
	return nil
}

func (f *fakeStream) Unsubscribe(codes []string) error {
	f.unsubscribed = append(f.unsubscribed, codes...)
	return nil
}

func (f *fakeStream) SubscribeOrderEvents() error {
	f.orders = true
	return nil
}

func (f *fakeStream) OnTick(func(common.Tick))             {}
func (f *fakeStream) OnOrderEvent(func(common.OrderEvent)) {}
func (f *fakeStream) OnState(func(common.StreamState))     {}

func (f *fakeStream) Close() error {
	f.closed = true
	return nil
}

// flowBroker counts flow requests and can fail them.
type flowBroker struct {
	*order.PaperBroker
	flowCalls int
	flowErr   error
}

func (b *flowBroker) GetInvestorFlow(ctx context.Context, code string) (common.InvestorFlow, error) {
	b.flowCalls++
	if b.flowErr != nil {
		return common.InvestorFlow{}, b.flowErr
	}
	return common.InvestorFlow{Code: code, Individual: -10, Foreign: 40, Institution: 20}, nil
}

func (b *flowBroker) GetProgramFlow(context.Context, string) (common.ProgramFlow, error) {
	return common.ProgramFlow{Net: 15}, nil
}

type phraseConfirmer string

func (p phraseConfirmer) Confirm(context.Context, string) (string, error) {
	return string(p), nil
}

type harness struct {
	loop   *events.StepLoop
	st     *state.Context
	broker *flowBroker
	stream *fakeStream
	eng    *engine.Engine
	rec    *reconciliation.Service
	sess   *Session
}

func at(h, m, s int) time.Time {
	return time.Date(2024, 3, 4, h, m, s, 0, common.KST)
}

func newHarness(t *testing.T, start time.Time, mut func(*config.Config, *strategy.Pack)) *harness {
	t.Helper()
	cfg := config.Default()
	pack := strategy.DefaultPack(cfg.Defaults)
	if mut != nil {
		mut(cfg, pack)
	}
	loop := events.NewStepLoop(start)
	st := state.New(cfg, loop, events.NewBus(), zerolog.Nop())
	h := &harness{
		loop:   loop,
		st:     st,
		broker: &flowBroker{PaperBroker: order.NewPaperBroker(order.PaperConfig{InitialDeposit: 10_000_000, Seed: 7, Now: loop.Now})},
		stream: &fakeStream{},
	}
	runner := order.Inline{Sched: loop}
	strat := strategy.NewEngine(pack, strategy.Options{
		CacheTTL: cfg.DecisionCacheTTL,
		Stale:    cfg.ExternalFlowStale,
		Live:     st.Live,
		OnStale: func(code string) {
			if h.sess != nil {
				h.sess.RequestFlow(code)
			}
		},
		Logger: zerolog.Nop(),
	})
	h.eng = engine.New(st, engine.Options{Broker: h.broker, Runner: runner, Strategy: strat})
	h.rec = reconciliation.NewService(st, reconciliation.Options{Broker: h.broker, Runner: runner})
	h.eng.SetReconciler(h.rec)
	h.sess = New(st, Options{
		Broker:     h.broker,
		Stream:     h.stream,
		Runner:     runner,
		Engine:     h.eng,
		Reconciler: h.rec,
		Projector:  diagnostics.NewProjector(st, h.rec),
		Confirmer:  phraseConfirmer("실전매매 시작"),
	})
	return h
}

func (h *harness) start(t *testing.T, codes ...string) {
	t.Helper()
	require.NoError(t, h.sess.Start(context.Background(), codes))
	h.loop.Drain()
}

func (h *harness) sym(code string) *universe.Symbol {
	sym, _ := h.st.Universe.Get(code)
	return sym
}

func TestStaleExternalFlowBlocksEntry(t *testing.T) {
	h := newHarness(t, at(10, 0, 0), func(_ *config.Config, p *strategy.Pack) {
		p.Primary = "investor_program_flow"
	})
	h.start(t, "005930")
	sym := h.sym("005930")
	require.Equal(t, 1, h.broker.flowCalls, "initial refresh")
	require.Equal(t, universe.ExternalFresh, sym.ExternalStatus)
	require.Greater(t, sym.Target, 0.0)

	h.broker.flowErr = errors.New("timeout")
	h.loop.Advance(31 * time.Second)
	require.Equal(t, 1, h.broker.flowCalls, "periodic refresh not due yet")

	tick := common.Tick{Code: "005930", Price: sym.Target + 100}
	h.eng.OnTick(tick)
	d := h.eng.Strategy().Evaluate(sym, h.st.Portfolio(), h.loop.Now())
	assert.Equal(t, strategy.ReasonExternalStale, d.Reason)
	assert.False(t, d.Passed)
	h.loop.Drain()

	assert.Equal(t, 2, h.broker.flowCalls, "one on-demand refresh")
	assert.Equal(t, universe.ExternalError, sym.ExternalStatus)
	assert.Equal(t, "timeout", sym.ExternalError)
	assert.Equal(t, universe.StatusWatch, sym.Status)
	assert.Zero(t, h.st.Ledger.Reserved())
	assert.Zero(t, h.st.HoldingOrPending)

	h.loop.Advance(2 * time.Second)
	h.eng.OnTick(tick)
	h.loop.Drain()
	assert.Equal(t, 2, h.broker.flowCalls, "debounced")

	h.loop.Advance(10 * time.Second)
	h.eng.OnTick(tick)
	h.loop.Drain()
	assert.Equal(t, 3, h.broker.flowCalls)
	assert.Zero(t, h.st.Ledger.Reserved(), "still blocked while refresh fails")

	positions, err := h.broker.GetPositions(context.Background(), order.PaperAccount)
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestFreshFlowAllowsEntry(t *testing.T) {
	h := newHarness(t, at(10, 0, 0), func(_ *config.Config, p *strategy.Pack) {
		p.Primary = "investor_program_flow"
	})
	h.start(t, "005930")
	sym := h.sym("005930")
	require.Equal(t, universe.ExternalFresh, sym.ExternalStatus)
	assert.Equal(t, int64(50), sym.InvestorNet)
	assert.Equal(t, int64(15), sym.ProgramNet)

	h.loop.Advance(time.Second)
	h.eng.OnTick(common.Tick{Code: "005930", Price: sym.Target + 100})
	h.loop.Drain()
	assert.Equal(t, universe.StatusBuySubmitted, sym.Status)
	assert.Equal(t, 1, h.st.HoldingOrPending)
}

func TestPhaseTransitionRecomputesOnce(t *testing.T) {
	h := newHarness(t, at(9, 29, 58), func(_ *config.Config, p *strategy.Pack) {
		p.Params.UseTimeStrategy = true
	})
	h.start(t, "005930")
	sym := h.sym("005930")
	rng := sym.PrevHigh - sym.PrevLow
	require.Greater(t, rng, 0.0)
	assert.Equal(t, strategy.PhaseAggressive, h.sess.Phase())
	assert.InDelta(t, sym.TodayOpen+0.5*1.4*rng, sym.Target, 1e-6)

	h.loop.Advance(2 * time.Second) // 09:30:00 is still aggressive
	assert.Zero(t, h.sess.Recomputes())

	h.loop.Advance(time.Second)
	assert.Equal(t, strategy.PhaseNormal, h.sess.Phase())
	assert.Equal(t, 1, h.sess.Recomputes())
	assert.InDelta(t, sym.TodayOpen+0.5*rng, sym.Target, 1e-6)

	h.loop.Advance(10 * time.Second)
	assert.Equal(t, 1, h.sess.Recomputes(), "no recompute within a phase")

	h.loop.Set(at(14, 29, 59))
	h.loop.Advance(time.Second)
	assert.Equal(t, 1, h.sess.Recomputes())
	h.loop.Advance(time.Second)
	assert.Equal(t, strategy.PhaseConservative, h.sess.Phase())
	assert.Equal(t, 2, h.sess.Recomputes())
	assert.InDelta(t, sym.TodayOpen+0.5*0.6*rng, sym.Target, 1e-6)
}

func TestStartValidation(t *testing.T) {
	cases := []struct {
		name  string
		codes []string
		mut   func(*config.Config, *strategy.Pack)
		want  error
	}{
		{
			name:  "no valid codes",
			codes: []string{"abc", "12345", "1234567"},
			want:  common.ErrEmptyWatchlist,
		},
		{
			name:  "strategy not live",
			codes: []string{"005930"},
			mut: func(c *config.Config, p *strategy.Pack) {
				c.Mode = config.ModeLive
				p.Primary = "pairs_trading"
			},
			want: common.ErrStrategyNotLive,
		},
		{
			name:  "wrong live phrase",
			codes: []string{"005930"},
			mut: func(c *config.Config, _ *strategy.Pack) {
				c.Mode = config.ModeLive
				c.LiveGuardPhrase = "different"
			},
			want: common.ErrLiveGuardRejected,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, at(10, 0, 0), tc.mut)
			err := h.sess.Start(context.Background(), tc.codes)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			var se *StartError
			require.ErrorAs(t, err, &se)
			assert.NotEmpty(t, se.Msg)
			assert.False(t, h.sess.Running())
			assert.False(t, h.stream.connected)
		})
	}
}

func TestLiveGuardAccepted(t *testing.T) {
	h := newHarness(t, at(10, 0, 0), func(c *config.Config, _ *strategy.Pack) {
		c.Mode = config.ModeLive
	})
	h.start(t, "005930")
	assert.True(t, h.sess.Running())
	assert.True(t, h.st.Live)
}

func TestReaderConfirmer(t *testing.T) {
	var out strings.Builder
	c := ReaderConfirmer{In: strings.NewReader("  실전매매 시작 \n"), Out: &out}
	got, err := c.Confirm(context.Background(), "type it")
	require.NoError(t, err)
	assert.Equal(t, "실전매매 시작", got)
	assert.Equal(t, "type it\n", out.String())
}

func TestNormalizeWatchlist(t *testing.T) {
	got := NormalizeWatchlist([]string{" 005930", "A000660", "005930", "12345", "abcdef", "035420 "})
	assert.Equal(t, []string{"005930", "000660", "035420"}, got)

	assert.Empty(t, NormalizeWatchlist([]string{"００", "٠١٢٣٤٥"}), "non-ASCII digits are rejected")
}

func TestStartInitializesUniverse(t *testing.T) {
	h := newHarness(t, at(10, 0, 0), nil)
	h.start(t, "005930", "000660", "005930")

	assert.True(t, h.sess.Running())
	assert.True(t, h.st.Running)
	assert.Equal(t, []string{"005930", "000660"}, h.st.Universe.Codes())
	assert.Equal(t, []string{"005930", "000660"}, h.stream.subscribed)
	assert.True(t, h.stream.orders)
	assert.Equal(t, order.PaperAccount, h.st.Account)
	assert.Equal(t, int64(10_000_000), h.st.Ledger.Deposit())
	assert.Equal(t, int64(10_000_000), h.st.Ledger.DailyInitial())
	for _, code := range h.st.Universe.Codes() {
		sym := h.sym(code)
		assert.Greater(t, sym.Target, 0.0, code)
		assert.Greater(t, sym.PriceHistory.Len(), 20, code)
		assert.Equal(t, universe.ExternalIdle, sym.ExternalStatus, "flow not needed by the pack")
	}
	assert.Zero(t, h.broker.flowCalls)

	err := h.sess.Start(context.Background(), nil)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestStartSnapshotsPositions(t *testing.T) {
	h := newHarness(t, at(10, 0, 0), nil)
	_, err := h.broker.BuyMarket(context.Background(), order.PaperAccount, "005930", 10)
	require.NoError(t, err)

	h.start(t, "005930")
	sym := h.sym("005930")
	assert.Equal(t, int64(10), sym.Held)
	assert.Equal(t, universe.StatusHolding, sym.Status)
	assert.Equal(t, 1, h.st.HoldingOrPending)
	assert.Empty(t, h.st.Trades(), "snapshot does not synthesize trades")
}

func TestStreamFailureRollsBack(t *testing.T) {
	h := newHarness(t, at(10, 0, 0), nil)
	h.stream.connectErr = errors.New("dial refused")

	err := h.sess.Start(context.Background(), []string{"005930"})
	require.Error(t, err)
	var se *StartError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Msg, "dial refused")
	assert.False(t, h.sess.Running())
	assert.False(t, h.st.Running)
	assert.True(t, h.stream.closed)
	assert.Zero(t, h.loop.Pending(), "no timers left armed")
}

func TestStopReleasesEverything(t *testing.T) {
	h := newHarness(t, at(10, 0, 0), nil)
	h.start(t, "005930")
	require.NoError(t, h.st.Ledger.Reserve("005930", 100_000))
	h.st.Pending.Set("005930", order.Pending{Side: common.SideBuy, Until: h.loop.Now().Add(5 * time.Second)})
	gen := h.st.Generation

	require.NoError(t, h.sess.Stop())
	assert.False(t, h.sess.Running())
	assert.False(t, h.st.Running)
	assert.Zero(t, h.st.Ledger.Reserved())
	assert.Equal(t, h.st.Ledger.Deposit(), h.st.Ledger.Virtual())
	assert.Zero(t, h.st.Pending.Len())
	assert.Greater(t, h.st.Generation, gen)
	assert.True(t, h.stream.closed)
	assert.Equal(t, []string{"005930"}, h.stream.unsubscribed)
	assert.Zero(t, h.loop.Pending())

	assert.ErrorIs(t, h.sess.Stop(), ErrNotRunning)
}

func TestMarketCloseLiquidatesOnce(t *testing.T) {
	h := newHarness(t, at(15, 28, 58), nil)
	_, err := h.broker.BuyMarket(context.Background(), order.PaperAccount, "005930", 10)
	require.NoError(t, err)
	h.start(t, "005930")
	require.Equal(t, int64(10), h.sym("005930").Held)

	h.loop.Advance(time.Second)
	assert.Equal(t, universe.StatusHolding, h.sym("005930").Status)

	h.loop.Advance(time.Second) // 15:29:00
	assert.Equal(t, universe.StatusSellSubmitted, h.sym("005930").Status)
	positions, _ := h.broker.GetPositions(context.Background(), order.PaperAccount)
	assert.Empty(t, positions)

	h.loop.Advance(time.Second)
	require.Len(t, h.st.Trades(), 1)
	assert.Equal(t, common.LabelSell, h.st.Trades()[0].Side)
	assert.Equal(t, ReasonMarketClose, h.st.Trades()[0].Reason)
}

func TestScheduleWindowPausesAndLiquidates(t *testing.T) {
	h := newHarness(t, at(9, 59, 58), func(c *config.Config, _ *strategy.Pack) {
		c.ScheduleEnabled = true
		c.ScheduleStart = "09:00"
		c.ScheduleEnd = "10:00"
		c.ScheduleLiquidate = true
	})
	_, err := h.broker.BuyMarket(context.Background(), order.PaperAccount, "005930", 3)
	require.NoError(t, err)
	h.start(t, "005930")
	assert.False(t, h.sess.Paused())
	assert.True(t, h.st.Running)

	h.loop.Advance(2 * time.Second)
	assert.True(t, h.sess.Paused())
	assert.False(t, h.st.Running)
	assert.Equal(t, universe.StatusSellSubmitted, h.sym("005930").Status)
}

func TestDailyLossGuardLatches(t *testing.T) {
	h := newHarness(t, at(10, 0, 0), nil)
	ch, unsub := h.st.Bus.Subscribe(events.EventDailyLossGuard, 1)
	defer unsub()
	h.start(t, "005930")

	h.st.Daily.Record(-200_000) // 2% of 10M
	h.loop.Advance(time.Second)
	assert.False(t, h.st.Daily.Triggered)

	h.st.Daily.Record(-100_000)
	h.loop.Advance(time.Second)
	assert.True(t, h.st.Daily.Triggered)
	select {
	case <-ch:
	default:
		t.Fatal("daily loss event not published")
	}
}

func TestRolloverResetsDaily(t *testing.T) {
	h := newHarness(t, time.Date(2024, 3, 4, 23, 59, 58, 0, common.KST), nil)
	h.start(t, "005930")
	h.st.Daily.Record(-1_000)
	h.st.Daily.Triggered = true

	h.loop.Advance(3 * time.Second)
	assert.Equal(t, "2024-03-05", h.st.Daily.Date)
	assert.Zero(t, h.st.Daily.Realized)
	assert.False(t, h.st.Daily.Triggered)
	assert.Equal(t, int64(10_000_000), h.st.Ledger.DailyInitial(), "baseline re-established")
}

func TestExpiredPendingIsReconciled(t *testing.T) {
	h := newHarness(t, at(10, 0, 0), nil)
	h.start(t, "005930")
	require.NoError(t, h.st.Ledger.Reserve("005930", 70_000))
	h.st.Pending.Set("005930", order.Pending{Side: common.SideBuy, Reason: "volatility_breakout", Until: h.loop.Now().Add(5 * time.Second)})
	h.sym("005930").Status = universe.StatusBuySubmitted

	h.loop.Advance(7 * time.Second)
	assert.Zero(t, h.st.Pending.Len())
	assert.Zero(t, h.st.Ledger.Reserved())
	assert.Equal(t, h.st.Ledger.Deposit(), h.st.Ledger.Virtual())
	assert.Equal(t, universe.StatusWatch, h.sym("005930").Status)
}

func TestFlowErrorLogDedup(t *testing.T) {
	h := newHarness(t, at(10, 0, 0), nil)
	now := h.loop.Now()
	assert.True(t, h.sess.shouldLog("005930", now))
	assert.False(t, h.sess.shouldLog("005930", now.Add(29*time.Second)))
	assert.True(t, h.sess.shouldLog("000660", now))
	assert.True(t, h.sess.shouldLog("005930", now.Add(30*time.Second)))
}

func TestParseClock(t *testing.T) {
	cases := map[string]int{"09:00": 32400, "15:20": 55200, "14:30:01": 52201}
	for in, want := range cases {
		got, ok := parseClock(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "9", "25:00", "10:60", "a:b"} {
		_, ok := parseClock(bad)
		assert.False(t, ok, bad)
	}
}
