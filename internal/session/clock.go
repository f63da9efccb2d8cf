package session

import (
	"context"
	"strconv"
	"strings"
	"time"

	"kiwoom-core/internal/balance"
	"kiwoom-core/internal/events"
	"kiwoom-core/internal/risk"
	"kiwoom-core/internal/strategy"
	"kiwoom-core/internal/universe"
	"kiwoom-core/pkg/exchanges/common"
)

// tick is the 1 Hz housekeeping step.
func (s *Session) tick() {
	if !s.active {
		return
	}
	now := s.st.Now()
	s.rollover(now)
	s.applySchedule(now)
	s.closeLiquidation(now)
	s.dailyGuard()
	s.recomputePhase(now)
	s.expirePending(now)
	s.refreshDeposit(now)
	s.periodicSync(now)
	if s.proj != nil {
		s.proj.Flush()
	}
}

func secondOfDay(t time.Time) int {
	return t.Hour()*3600 + t.Minute()*60 + t.Second()
}

// parseClock reads "HH:MM" or "HH:MM:SS" as seconds since midnight.
func parseClock(v string) (int, bool) {
	parts := strings.Split(strings.TrimSpace(v), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	limits := []int{24, 60, 60}
	mult := []int{3600, 60, 1}
	sec := 0
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n >= limits[i] {
			return 0, false
		}
		sec += n * mult[i]
	}
	return sec, true
}

// inWindow reports whether now is inside [SCHEDULE_START, SCHEDULE_END).
// A malformed bound leaves that side open.
func (s *Session) inWindow(now time.Time) bool {
	cfg := s.st.Cfg
	sec := secondOfDay(now)
	if start, ok := parseClock(cfg.ScheduleStart); ok && sec < start {
		return false
	}
	if end, ok := parseClock(cfg.ScheduleEnd); ok && sec >= end {
		return false
	}
	return true
}

func (s *Session) rollover(now time.Time) {
	if s.st.Daily.Rollover(now) {
		s.st.Ledger.ResetDaily()
		s.closeDay = ""
		s.log.Info().Str("date", s.st.Daily.Date).Msg("trading day rolled over")
	}
	s.st.Ledger.CaptureDailyBaseline(s.eng.Strategy().Pack().Params.DailyLossBasis)
}

func (s *Session) applySchedule(now time.Time) {
	cfg := s.st.Cfg
	if !cfg.ScheduleEnabled {
		return
	}
	in := s.inWindow(now)
	switch {
	case in && s.paused:
		s.paused = false
		s.st.Running = true
		s.log.Info().Msg("schedule window opened, trading resumed")
	case !in && !s.paused:
		s.paused = true
		s.st.Running = false
		s.log.Info().Msgf(s.msg().ScheduleOutside, cfg.ScheduleStart, cfg.ScheduleEnd)
		end, ok := parseClock(cfg.ScheduleEnd)
		if cfg.ScheduleLiquidate && ok && secondOfDay(now) >= end {
			s.log.Warn().Msg(s.msg().ScheduleLiquidation)
			s.eng.LiquidateAll(ReasonScheduleEnd)
		}
	}
}

// closeLiquidation sells everything once per day during the last minute
// before the market close.
func (s *Session) closeLiquidation(now time.Time) {
	cfg := s.st.Cfg
	closeAt := cfg.MarketCloseHour*3600 + cfg.MarketCloseMinute*60
	sec := secondOfDay(now)
	day := risk.DayKey(now)
	if sec < closeAt-60 || sec >= closeAt || s.closeDay == day {
		return
	}
	s.closeDay = day
	s.log.Warn().Msg(s.msg().MarketCloseLiquidate)
	s.eng.LiquidateAll(ReasonMarketClose)
}

func (s *Session) dailyGuard() {
	p := s.eng.Strategy().Pack().Params
	if s.st.Daily.Check(p.MaxDailyLoss, float64(s.st.Ledger.DailyInitial())) {
		s.log.Warn().Float64("realized", s.st.Daily.Realized).Msgf(s.msg().DailyLossLimit, p.MaxDailyLoss)
		s.st.Bus.Publish(events.EventDailyLossGuard, s.st.Daily)
	}
}

// recomputePhase recomputes every target exactly once when the
// time-of-day phase changes.
func (s *Session) recomputePhase(now time.Time) {
	p := strategy.PhaseAt(now)
	if p == s.phase {
		return
	}
	s.phase = p
	s.recomputes++
	params := &s.eng.Strategy().Pack().Params
	s.st.Universe.Each(func(sym *universe.Symbol) {
		sym.Target = strategy.TargetFor(sym, params, now)
		s.st.MarkDirty(sym.Code)
	})
	s.eng.Strategy().Invalidate("")
	s.log.Info().Float64("k", params.EffectiveK(now)).Msgf(s.msg().PhaseChanged, p)
}

// expirePending hands expired pending flags to the reconciler, which
// resolves them against broker positions.
func (s *Session) expirePending(now time.Time) {
	for _, code := range s.st.Pending.Expired(now) {
		s.rec.Trigger(code)
	}
}

func (s *Session) refreshDeposit(now time.Time) {
	every := s.st.Cfg.DepositRefresh
	if every <= 0 || s.depositBusy || now.Sub(s.lastDeposit) < every {
		return
	}
	s.lastDeposit = now
	s.depositBusy = true
	gen := s.st.Generation
	account := s.st.Account
	broker := s.broker
	job := func(ctx context.Context) func() {
		info, err := broker.GetAccountInfo(ctx, account)
		return func() { s.onDeposit(gen, info, err) }
	}
	if !s.runner.Submit("deposit", job) {
		s.depositBusy = false
	}
}

func (s *Session) onDeposit(gen uint64, info common.AccountInfo, err error) {
	if gen != s.st.Generation {
		return
	}
	s.depositBusy = false
	if err != nil {
		s.log.Warn().Err(err).Msg("deposit refresh failed")
		return
	}
	s.st.Ledger.Refresh(balance.Won(info.Deposit), balance.Won(info.TotalEquity))
	s.st.Ledger.CaptureDailyBaseline(s.eng.Strategy().Pack().Params.DailyLossBasis)
}

func (s *Session) periodicSync(now time.Time) {
	every := s.st.Cfg.PositionSyncInterval
	if every <= 0 || now.Sub(s.lastSync) < every {
		return
	}
	s.lastSync = now
	s.rec.TriggerAll()
}
