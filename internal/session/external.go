package session

import (
	"context"
	"time"

	"kiwoom-core/internal/events"
	"kiwoom-core/internal/universe"
	"kiwoom-core/pkg/exchanges/common"
)

// refreshFlows fetches investor and program flow for every code.
func (s *Session) refreshFlows() {
	if !s.active {
		return
	}
	for _, code := range s.st.Universe.Codes() {
		s.fetchFlow(code)
	}
}

// RequestFlow refreshes one code on demand, e.g. when an evaluation found
// its flow data stale. Requests within EXTERNAL_FLOW_ON_DEMAND_DEBOUNCE_SEC
// of the previous one are ignored.
func (s *Session) RequestFlow(code string) {
	if !s.active {
		return
	}
	now := s.st.Now()
	if last, ok := s.onDemand[code]; ok && now.Sub(last) < s.st.Cfg.ExternalFlowOnDemandDebounce {
		return
	}
	s.onDemand[code] = now
	s.log.Debug().Str("code", code).Msg("on-demand flow refresh")
	s.fetchFlow(code)
}

func (s *Session) fetchFlow(code string) {
	sym, ok := s.st.Universe.Get(code)
	if !ok || s.flowBusy[code] {
		return
	}
	s.flowBusy[code] = true
	if sym.ExternalStatus != universe.ExternalFresh {
		sym.ExternalStatus = universe.ExternalRefreshing
		s.st.MarkDirty(code)
	}

	gen := s.st.Generation
	broker := s.broker
	job := func(ctx context.Context) func() {
		inv, err := broker.GetInvestorFlow(ctx, code)
		var prog common.ProgramFlow
		if err == nil {
			prog, err = broker.GetProgramFlow(ctx, code)
		}
		return func() { s.onFlow(gen, code, inv, prog, err) }
	}
	if !s.runner.Submit("flow:"+code, job) {
		delete(s.flowBusy, code)
	}
}

func (s *Session) onFlow(gen uint64, code string, inv common.InvestorFlow, prog common.ProgramFlow, err error) {
	if gen != s.st.Generation {
		return
	}
	delete(s.flowBusy, code)
	sym, ok := s.st.Universe.Get(code)
	if !ok {
		return
	}
	now := s.st.Now()
	if err != nil {
		sym.ExternalStatus = universe.ExternalError
		sym.ExternalError = err.Error()
		if s.shouldLog(code, now) {
			s.log.Warn().Err(err).Str("code", code).Msgf(s.msg().ExternalError, code, err)
		}
	} else {
		sym.InvestorNet = inv.Net()
		sym.ProgramNet = prog.Net
		sym.ExternalUpdatedAt = now
		sym.ExternalStatus = universe.ExternalFresh
		sym.ExternalError = ""
	}
	s.st.MarkDirty(code)
	s.eng.Strategy().Invalidate(code)
	s.st.Bus.Publish(events.EventExternalRefresh, code)
}

// shouldLog rate-limits repeated flow errors per code to one per
// LOG_DEDUP_SEC.
func (s *Session) shouldLog(code string, now time.Time) bool {
	if last, ok := s.logged[code]; ok && now.Sub(last) < s.st.Cfg.LogDedup {
		return false
	}
	s.logged[code] = now
	return true
}
