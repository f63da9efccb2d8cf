// Package session is the trading session controller: it starts and stops
// trading, drives the 1 Hz housekeeping clock and keeps investor/program
// flow data fresh.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"kiwoom-core/internal/balance"
	"kiwoom-core/internal/diagnostics"
	"kiwoom-core/internal/engine"
	"kiwoom-core/internal/events"
	"kiwoom-core/internal/order"
	"kiwoom-core/internal/reconciliation"
	"kiwoom-core/internal/risk"
	"kiwoom-core/internal/state"
	"kiwoom-core/internal/strategy"
	"kiwoom-core/pkg/exchanges/common"
	"kiwoom-core/pkg/i18n"
)

// Liquidation and release reasons.
const (
	ReasonStop        = "STOP"
	ReasonMarketClose = "MARKET_CLOSE"
	ReasonScheduleEnd = "SCHEDULE_END"
)

var (
	ErrAlreadyRunning = errors.New("session already running")
	ErrNotRunning     = errors.New("session not running")
)

// StartError carries a user-facing message for a failed start.
type StartError struct {
	Msg string
	Err error
}

func (e *StartError) Error() string { return e.Msg }
func (e *StartError) Unwrap() error { return e.Err }

// Options wires the session's collaborators.
type Options struct {
	Broker     common.Broker
	Stream     common.Stream
	Runner     order.Runner
	Engine     *engine.Engine
	Reconciler *reconciliation.Service
	Projector  *diagnostics.Projector
	Confirmer  Confirmer
}

// Session owns the trading lifecycle. Start and Stop may be called from any
// goroutine; everything else runs on the main scheduler.
type Session struct {
	st        *state.Context
	broker    common.Broker
	stream    common.Stream
	runner    order.Runner
	eng       *engine.Engine
	rec       *reconciliation.Service
	proj      *diagnostics.Projector
	confirmer Confirmer
	log       zerolog.Logger

	busy atomic.Bool

	active     bool
	paused     bool
	codes      []string
	stops      []func()
	phase      strategy.Phase
	recomputes int
	closeDay   string

	lastDeposit time.Time
	lastSync    time.Time
	depositBusy bool

	flowBusy map[string]bool
	onDemand map[string]time.Time
	logged   map[string]time.Time
}

// New creates a stopped session and routes stream callbacks onto the main
// scheduler.
func New(st *state.Context, opts Options) *Session {
	s := &Session{
		st:        st,
		broker:    opts.Broker,
		stream:    opts.Stream,
		runner:    opts.Runner,
		eng:       opts.Engine,
		rec:       opts.Reconciler,
		proj:      opts.Projector,
		confirmer: opts.Confirmer,
		log:       st.Log.With().Str("component", "session").Logger(),
		flowBusy:  make(map[string]bool),
		onDemand:  make(map[string]time.Time),
		logged:    make(map[string]time.Time),
	}
	if s.stream != nil {
		sched := st.Sched
		s.stream.OnTick(func(t common.Tick) {
			sched.Post(func() { s.eng.OnTick(t) })
		})
		s.stream.OnOrderEvent(func(ev common.OrderEvent) {
			sched.Post(func() { s.rec.OnOrderEvent(ev) })
		})
		s.stream.OnState(func(ss common.StreamState) {
			sched.Post(func() {
				s.log.Info().Str("state", string(ss)).Msg("stream state")
				st.Bus.Publish(events.EventStreamState, ss)
			})
		})
	}
	return s
}

func (s *Session) msg() *i18n.Messages { return i18n.M() }

func (s *Session) startErr(msg string, err error) error {
	s.log.Error().Err(err).Msg(msg)
	return &StartError{Msg: msg, Err: err}
}

type seed struct {
	code   string
	quote  common.Quote
	daily  []common.Bar
	minute []common.Bar
}

// Start validates the watchlist and guards, loads the universe, snapshots
// broker positions and subscribes to the realtime stream. An empty codes
// uses the configured watchlist. Any failure leaves the session stopped.
func (s *Session) Start(ctx context.Context, codes []string) error {
	if !s.busy.CompareAndSwap(false, true) {
		return &StartError{Msg: s.msg().AlreadyRunning, Err: ErrAlreadyRunning}
	}
	defer s.busy.Store(false)

	var running bool
	s.st.Sched.Call(func() { running = s.active })
	if running {
		return &StartError{Msg: s.msg().AlreadyRunning, Err: ErrAlreadyRunning}
	}

	if len(codes) == 0 {
		codes = s.st.Cfg.Watchlist
	}
	codes = NormalizeWatchlist(codes)
	if len(codes) == 0 {
		return s.startErr(s.msg().EmptyWatchlist, common.ErrEmptyWatchlist)
	}
	pack := s.eng.Strategy().Pack()
	if err := pack.CheckLive(s.st.Live); err != nil {
		return s.startErr(fmt.Sprintf(s.msg().StrategyNotLive, pack.Primary), err)
	}
	if err := s.confirmLive(ctx); err != nil {
		return s.startErr(s.msg().LiveGuardRejected, err)
	}
	if err := s.broker.TestCredentials(ctx); err != nil {
		return s.startErr(fmt.Sprintf(s.msg().CredentialsFailed, err), err)
	}
	account, err := s.resolveAccount(ctx)
	if err != nil {
		return s.startErr(s.msg().NoAccount, err)
	}
	info, err := s.broker.GetAccountInfo(ctx, account)
	if err != nil {
		return s.startErr(fmt.Sprintf(s.msg().DepositFailed, err), err)
	}
	seeds, err := s.loadUniverse(ctx, codes)
	if err != nil {
		return s.startErr(fmt.Sprintf(s.msg().UniverseInitFailed, codes[0], err), err)
	}

	s.st.Sched.Call(func() { s.install(account, info, seeds) })

	if err := s.rec.Snapshot(ctx); err != nil {
		s.rollback()
		return s.startErr(fmt.Sprintf(s.msg().SnapshotFailed, err), err)
	}
	if err := s.connect(ctx); err != nil {
		s.rollback()
		return s.startErr(fmt.Sprintf(s.msg().StreamFailed, err), err)
	}
	s.st.Sched.Call(s.activate)
	return nil
}

func (s *Session) resolveAccount(ctx context.Context) (string, error) {
	if s.st.Cfg.Account != "" {
		return s.st.Cfg.Account, nil
	}
	accounts, err := s.broker.ListAccounts(ctx)
	if err != nil {
		return "", fmt.Errorf("list accounts: %w", err)
	}
	if len(accounts) == 0 {
		return "", common.ErrNoAccount
	}
	return accounts[0], nil
}

// loadUniverse fetches quote, daily and minute bars per code. Codes that
// fail are skipped; it errors only when none loads.
func (s *Session) loadUniverse(ctx context.Context, codes []string) ([]seed, error) {
	n := common.ClampBars(s.st.Cfg.MaxPriceHistory)
	var (
		out     []seed
		lastErr error
	)
	for _, code := range codes {
		q, err := s.broker.GetQuote(ctx, code)
		if err != nil {
			lastErr = err
			s.log.Warn().Err(err).Str("code", code).Msg("quote failed, code skipped")
			continue
		}
		daily, err := s.broker.GetDailyBars(ctx, code, n)
		if err != nil {
			lastErr = err
			s.log.Warn().Err(err).Str("code", code).Msg("daily bars failed, code skipped")
			continue
		}
		minute, err := s.broker.GetMinuteBars(ctx, code, 1, n)
		if err != nil {
			s.log.Warn().Err(err).Str("code", code).Msg("minute bars failed")
		}
		out = append(out, seed{code: code, quote: q, daily: daily, minute: minute})
	}
	if len(out) == 0 {
		if lastErr == nil {
			lastErr = common.ErrEmptyWatchlist
		}
		return nil, lastErr
	}
	return out, nil
}

// install rebuilds the universe and ledger for a new generation.
func (s *Session) install(account string, info common.AccountInfo, seeds []seed) {
	st := s.st
	now := st.Now()
	pack := s.eng.Strategy().Pack()

	st.NextGeneration()
	st.Account = account
	st.Universe.Clear()
	st.Reset()
	st.Ledger.ReleaseAll(ReasonStop)
	st.Ledger.Refresh(balance.Won(info.Deposit), balance.Won(info.TotalEquity))
	if st.Daily.Rollover(now) {
		st.Ledger.ResetDaily()
	}
	st.Ledger.CaptureDailyBaseline(pack.Params.DailyLossBasis)

	s.codes = s.codes[:0]
	for _, sd := range seeds {
		sym := st.Universe.Add(sd.code)
		sym.SeedDaily(sd.daily, now)
		if len(sd.minute) > 0 {
			sym.SeedMinutes(sd.minute)
		}
		sym.ApplyQuote(sd.quote)
		sym.Target = strategy.TargetFor(sym, &pack.Params, now)
		s.codes = append(s.codes, sd.code)
	}
	st.Universe.MarkAllDirty()
	s.eng.Strategy().Invalidate("")

	s.phase = strategy.PhaseAt(now)
	s.recomputes = 0
	s.closeDay = ""
	s.flowBusy = make(map[string]bool)
	s.onDemand = make(map[string]time.Time)
	s.logged = make(map[string]time.Time)
	s.log.Info().
		Str("account", account).
		Float64("deposit", info.Deposit).
		Int("symbols", len(s.codes)).
		Str("phase", string(s.phase)).
		Msg("universe initialized")
}

func (s *Session) connect(ctx context.Context) error {
	if s.stream == nil {
		return nil
	}
	if err := s.stream.Connect(ctx); err != nil {
		return fmt.Errorf("connect stream: %w", err)
	}
	if err := s.stream.Subscribe(s.codes); err != nil {
		return fmt.Errorf("subscribe ticks: %w", err)
	}
	if err := s.stream.SubscribeOrderEvents(); err != nil {
		return fmt.Errorf("subscribe order events: %w", err)
	}
	return nil
}

func (s *Session) activate() {
	cfg := s.st.Cfg
	now := s.st.Now()
	s.active = true
	s.paused = cfg.ScheduleEnabled && !s.inWindow(now)
	s.st.Running = !s.paused
	s.lastDeposit, s.lastSync = now, now

	s.stops = append(s.stops, events.Every(s.st.Sched, time.Second, s.tick))
	if s.eng.Strategy().NeedsExternal() && cfg.ExternalFlowRefresh > 0 {
		s.stops = append(s.stops, events.Every(s.st.Sched, cfg.ExternalFlowRefresh, s.refreshFlows))
		s.refreshFlows()
	}
	s.st.Bus.Publish(events.EventSessionState, "running")
	s.log.Info().Bool("live", s.st.Live).Bool("paused", s.paused).Msgf(s.msg().SessionStarted, len(s.codes), s.eng.Strategy().Pack().Primary)
}

// Stop releases every reservation, clears per-session maps, cancels timers
// and closes the stream. Stream errors are only logged.
func (s *Session) Stop() error {
	var was bool
	s.st.Sched.Call(func() {
		was = s.active
		if was {
			s.teardown()
		}
	})
	if !was {
		return ErrNotRunning
	}
	s.closeStream()
	s.log.Info().Msg(s.msg().SessionStopped)
	return nil
}

func (s *Session) rollback() {
	s.st.Sched.Call(s.teardown)
	s.closeStream()
}

func (s *Session) teardown() {
	for _, stop := range s.stops {
		stop()
	}
	s.stops = nil
	s.active = false
	s.paused = false
	s.depositBusy = false
	s.st.Running = false
	s.st.NextGeneration()
	s.rec.Stop()
	s.st.Ledger.ReleaseAll(ReasonStop)
	s.st.Reset()
	s.flowBusy = make(map[string]bool)
	s.onDemand = make(map[string]time.Time)
	s.st.Bus.Publish(events.EventSessionState, "stopped")
}

func (s *Session) closeStream() {
	if s.stream == nil {
		return
	}
	if len(s.codes) > 0 {
		if err := s.stream.Unsubscribe(s.codes); err != nil {
			s.log.Warn().Err(err).Msg("unsubscribe failed")
		}
	}
	if err := s.stream.Close(); err != nil {
		s.log.Warn().Err(err).Msg("stream close failed")
	}
}

// Running reports whether a session is active. Main scheduler only.
func (s *Session) Running() bool { return s.active }

// Paused reports whether trading is held outside the schedule window.
func (s *Session) Paused() bool { return s.paused }

// Phase is the current time-strategy phase.
func (s *Session) Phase() strategy.Phase { return s.phase }

// Recomputes counts target recomputations caused by phase transitions.
func (s *Session) Recomputes() int { return s.recomputes }

// Status is a point-in-time summary for the operator surface.
type Status struct {
	Running          bool       `json:"running"`
	Paused           bool       `json:"paused"`
	Live             bool       `json:"live"`
	Account          string     `json:"account"`
	Primary          string     `json:"primary"`
	Phase            string     `json:"phase"`
	Symbols          int        `json:"symbols"`
	HoldingOrPending int        `json:"holding_or_pending"`
	Deposit          int64      `json:"deposit"`
	Virtual          int64      `json:"virtual"`
	Reserved         int64      `json:"reserved"`
	TotalEquity      int64      `json:"total_equity"`
	DailyBaseline    int64      `json:"daily_baseline"`
	Daily            risk.Daily `json:"daily"`
	WinRate          float64    `json:"win_rate"`
}

// Status reads the summary through the main scheduler.
func (s *Session) Status() Status {
	var out Status
	s.st.Sched.Call(func() {
		st := s.st
		out = Status{
			Running:          s.active,
			Paused:           s.paused,
			Live:             st.Live,
			Account:          st.Account,
			Primary:          s.eng.Strategy().Pack().Primary,
			Phase:            string(s.phase),
			Symbols:          st.Universe.Len(),
			HoldingOrPending: st.HoldingOrPending,
			Deposit:          st.Ledger.Deposit(),
			Virtual:          st.Ledger.Virtual(),
			Reserved:         st.Ledger.Reserved(),
			TotalEquity:      st.Ledger.TotalEquity(),
			DailyBaseline:    st.Ledger.DailyInitial(),
			Daily:            st.Daily,
			WinRate:          st.Daily.WinRate(),
		}
	})
	return out
}
