// Package reconciliation keeps believed holdings in line with the broker.
// Triggers are debounced into batches; one GetPositions call per batch
// covers the whole account and its deltas become trade records.
package reconciliation

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"kiwoom-core/internal/events"
	"kiwoom-core/internal/order"
	"kiwoom-core/internal/state"
	"kiwoom-core/internal/universe"
	"kiwoom-core/pkg/exchanges/common"
	"kiwoom-core/pkg/retry"
)

// Reconcile outcomes reported to metrics.
const (
	OutcomeOK         = "ok"
	OutcomeError      = "error"
	OutcomeSyncFailed = "sync_failed"
)

// Reasons recorded when the reconciler moves money.
const (
	ReasonFilled         = "FILLED"
	ReasonSync           = "SYNC"
	ReasonPendingExpired = "PENDING_EXPIRED"
	ReasonSyncFailed     = "SYNC_FAILED"
)

// Metrics receives reconciliation counters.
type Metrics interface {
	CountReconcile(outcome string)
}

type nopMetrics struct{}

func (nopMetrics) CountReconcile(string) {}

// PositionDiff is the local versus broker quantity of one code.
type PositionDiff struct {
	Code       string `json:"code"`
	LocalQty   int64  `json:"local_qty"`
	BrokerQty  int64  `json:"broker_qty"`
	Difference int64  `json:"difference"`
}

// Report summarizes the last completed reconciliation.
type Report struct {
	Timestamp time.Time      `json:"timestamp"`
	Codes     []string       `json:"codes"`
	Diffs     []PositionDiff `json:"diffs"`
	Trades    int            `json:"trades"`
}

// Options configures a Service.
type Options struct {
	Broker   common.Broker
	Runner   order.Runner
	Notifier Notifier
	Metrics  Metrics
	// ReentryCooldown blocks re-entry after a position is closed; 0 disables.
	ReentryCooldown time.Duration
}

// Service is the order sync reconciler. All methods run on the main
// scheduler.
type Service struct {
	st       *state.Context
	broker   common.Broker
	runner   order.Runner
	notifier Notifier
	metrics  Metrics
	cooldown time.Duration
	log      zerolog.Logger

	batch    map[string]bool
	inflight []string
	timer    events.Timer
	retries  int
	lastErr  string
	failed   map[string]string
	report   Report
}

// NewService creates a reconciler over st.
func NewService(st *state.Context, opts Options) *Service {
	n := opts.Notifier
	if n == nil {
		n = NewLogNotifier(st.Log)
	}
	m := opts.Metrics
	if m == nil {
		m = nopMetrics{}
	}
	return &Service{
		st:       st,
		broker:   opts.Broker,
		runner:   opts.Runner,
		notifier: n,
		metrics:  m,
		cooldown: opts.ReentryCooldown,
		log:      st.Log.With().Str("component", "reconciler").Logger(),
		batch:    make(map[string]bool),
		failed:   make(map[string]string),
	}
}

// Delay is the backoff before retry number n (n ≥ 1).
func (s *Service) Delay(n int) time.Duration {
	cfg := s.st.Cfg
	return retry.Backoff(n, cfg.PositionSyncDebounce, cfg.PositionSyncBackoffMax, 2)
}

// Trigger adds code to the next batch and arms the debounce timer.
func (s *Service) Trigger(code string) {
	s.batch[code] = true
	s.arm(s.st.Cfg.PositionSyncDebounce)
}

// TriggerAll queues every universe code, used by the periodic sync.
func (s *Service) TriggerAll() {
	for _, code := range s.st.Universe.Codes() {
		s.batch[code] = true
	}
	s.arm(s.st.Cfg.PositionSyncDebounce)
}

func (s *Service) arm(d time.Duration) {
	if s.timer != nil || s.inflight != nil || len(s.batch) == 0 {
		return
	}
	s.timer = s.st.Sched.After(d, s.fire)
}

// InFlight reports whether a GetPositions call is outstanding.
func (s *Service) InFlight() bool { return s.inflight != nil }

// Retries is the consecutive failure count of the current batch.
func (s *Service) Retries() int { return s.retries }

// LastReport returns the last successful reconciliation.
func (s *Service) LastReport() Report { return s.report }

func (s *Service) fire() {
	s.timer = nil
	if s.inflight != nil || len(s.batch) == 0 {
		return
	}
	codes := make([]string, 0, len(s.batch))
	for c := range s.batch {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	s.batch = make(map[string]bool)
	s.inflight = codes

	gen := s.st.Generation
	account := s.st.Account
	broker := s.broker
	job := func(ctx context.Context) func() {
		positions, err := broker.GetPositions(ctx, account)
		return func() { s.onResult(gen, codes, positions, err) }
	}
	if !s.runner.Submit("positions", job) {
		s.inflight = nil
	}
}

func (s *Service) onResult(gen uint64, codes []string, positions []common.Position, err error) {
	if gen != s.st.Generation {
		s.log.Debug().Uint64("gen", gen).Msg("stale positions result dropped")
		return
	}
	s.inflight = nil
	if err != nil {
		s.fail(codes, err)
		return
	}
	s.retries = 0
	s.lastErr = ""
	s.metrics.CountReconcile(OutcomeOK)
	s.apply(codes, positions)
	s.arm(s.st.Cfg.PositionSyncDebounce)
}

func (s *Service) fail(codes []string, err error) {
	s.retries++
	s.lastErr = err.Error()
	for _, c := range codes {
		s.failed[c] = s.lastErr
		s.st.MarkDirty(c)
	}
	if s.retries > s.st.Cfg.PositionSyncMaxRetries {
		s.latch(codes, err)
		s.retries = 0
		s.arm(s.st.Cfg.PositionSyncDebounce)
		return
	}
	s.metrics.CountReconcile(OutcomeError)
	for _, c := range codes {
		s.batch[c] = true
	}
	delay := s.Delay(s.retries)
	s.log.Warn().Err(err).Int("retry", s.retries).Dur("delay", delay).Int("codes", len(codes)).Msg("position sync failed, retrying")
	s.timer = s.st.Sched.After(delay, s.fire)
}

// latch drops the batch and marks its codes sync_failed. Their
// reservations are refunded since the funds never became stock.
func (s *Service) latch(codes []string, err error) {
	s.metrics.CountReconcile(OutcomeSyncFailed)
	for _, c := range codes {
		sym, ok := s.st.Universe.Get(c)
		if !ok {
			continue
		}
		sym.Status = universe.StatusSyncFailed
		s.st.Ledger.Release(c, ReasonSyncFailed, true)
		s.st.Pending.Clear(c)
		s.st.MarkDirty(c)
	}
	s.st.RecountHoldings()
	s.log.Warn().Err(err).Strs("codes", codes).Msg("position sync retries exhausted, codes latched")
	s.st.Bus.Publish(events.EventSyncFailed, codes)
	s.notifier.SyncFailed(codes, err)
}

// SyncInfo returns the retry count and last error shown for code.
func (s *Service) SyncInfo(code string) (int, string) {
	msg, ok := s.failed[code]
	if !ok {
		return 0, ""
	}
	if s.batch[code] || contains(s.inflight, code) {
		return s.retries, msg
	}
	return 0, msg
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// Reset clears a sync_failed latch and queues the code for a fresh sync.
// It returns false when code is not latched.
func (s *Service) Reset(code string) bool {
	sym, ok := s.st.Universe.Get(code)
	if !ok || sym.Status != universe.StatusSyncFailed {
		return false
	}
	if sym.Held > 0 {
		sym.Status = universe.StatusHolding
	} else {
		sym.Status = universe.StatusWatch
	}
	delete(s.failed, code)
	s.st.MarkDirty(code)
	s.log.Info().Str("code", code).Msg("sync_failed latch reset")
	s.Trigger(code)
	return true
}

// OnOrderEvent remembers the event for fill pricing and triggers a sync
// when it reports executed quantity.
func (s *Service) OnOrderEvent(ev common.OrderEvent) {
	if ev.Code == "" {
		return
	}
	s.st.LastExec[ev.Code] = ev
	switch {
	case ev.IsFill():
		s.Trigger(ev.Code)
	case ev.Status == common.StatusRejected || ev.Status == common.StatusFailed:
		s.log.Warn().Str("code", ev.Code).Str("order", ev.OrderNo).Str("status", string(ev.Status)).Msg("order event reported failure")
		s.Trigger(ev.Code)
	}
}

// Stop cancels the timer and forgets queued work. Results of a request in
// flight are dropped by generation.
func (s *Service) Stop() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.batch = make(map[string]bool)
	s.inflight = nil
	s.retries = 0
	s.lastErr = ""
}
