// Package balance tracks real and virtual cash with per-code reservations.
package balance

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"kiwoom-core/pkg/exchanges/common"
)

// Baselines for the daily loss guard.
const (
	BasisEquity  = "equity"
	BasisDeposit = "deposit"
)

// Ledger is the reservation-based cash ledger. Amounts are whole won.
// It is owned by the main scheduler and not safe for concurrent use.
//
// Invariant: Virtual() + Reserved() <= Deposit() whenever the broker
// deposit has not yet absorbed a fill that is still reserved.
type Ledger struct {
	deposit      int64
	virtual      int64
	totalEquity  int64
	reserved     map[string]int64
	dailyInitial int64
	log          zerolog.Logger
}

// NewLedger creates an empty ledger.
func NewLedger(log zerolog.Logger) *Ledger {
	return &Ledger{
		reserved: make(map[string]int64),
		log:      log.With().Str("component", "ledger").Logger(),
	}
}

// Won rounds a float amount to whole won.
func Won(v float64) int64 {
	return int64(math.Round(v))
}

func (l *Ledger) Deposit() int64      { return l.deposit }
func (l *Ledger) Virtual() int64      { return l.virtual }
func (l *Ledger) TotalEquity() int64  { return l.totalEquity }
func (l *Ledger) DailyInitial() int64 { return l.dailyInitial }

// Reserved returns the sum of all reservations.
func (l *Ledger) Reserved() int64 {
	var sum int64
	for _, v := range l.reserved {
		sum += v
	}
	return sum
}

// ReservedFor returns the reservation held for code.
func (l *Ledger) ReservedFor(code string) int64 {
	return l.reserved[code]
}

// Reservations returns a copy of the reservation map.
func (l *Ledger) Reservations() map[string]int64 {
	out := make(map[string]int64, len(l.reserved))
	for k, v := range l.reserved {
		out[k] = v
	}
	return out
}

// Refresh applies a broker-reported deposit and equity; virtual is
// recomputed from the live reservation map.
func (l *Ledger) Refresh(deposit, totalEquity int64) {
	l.deposit = deposit
	l.totalEquity = totalEquity
	l.virtual = max(0, deposit-l.Reserved())
	l.log.Debug().Int64("deposit", deposit).Int64("virtual", l.virtual).Int64("equity", totalEquity).Msg("ledger refreshed")
}

// Reserve earmarks amount for a buy of code. It fails without side effects
// when amount exceeds virtual cash.
func (l *Ledger) Reserve(code string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("reserve %s: amount must be positive, got %d", code, amount)
	}
	if amount > l.virtual {
		return fmt.Errorf("reserve %s %d with %d available: %w", code, amount, l.virtual, common.ErrInsufficientCash)
	}
	l.reserved[code] += amount
	l.virtual = max(0, l.virtual-amount)
	l.log.Info().Str("code", code).Int64("amount", amount).Int64("virtual", l.virtual).Msg("cash reserved")
	return nil
}

// Release drops the reservation of code. With refund the amount returns to
// virtual cash (the order never became stock); without it the cash is
// assumed spent and the next Refresh reflects it. It returns the amount
// released.
func (l *Ledger) Release(code, reason string, refund bool) int64 {
	amount, ok := l.reserved[code]
	if !ok {
		return 0
	}
	delete(l.reserved, code)
	if refund {
		l.virtual = min(l.virtual+amount, max(0, l.deposit-l.Reserved()))
	}
	l.log.Info().Str("code", code).Str("reason", reason).Bool("refund", refund).Int64("amount", amount).Int64("virtual", l.virtual).Msg("reservation released")
	return amount
}

// ReleaseAll clears every reservation; virtual equals real again.
func (l *Ledger) ReleaseAll(reason string) {
	if len(l.reserved) > 0 {
		codes := make([]string, 0, len(l.reserved))
		for c := range l.reserved {
			codes = append(codes, c)
		}
		sort.Strings(codes)
		l.log.Info().Strs("codes", codes).Str("reason", reason).Msg("all reservations released")
	}
	l.reserved = make(map[string]int64)
	l.virtual = l.deposit
}

// CaptureDailyBaseline records the day's starting capital once per day.
// It reports whether a baseline was captured.
func (l *Ledger) CaptureDailyBaseline(basis string) bool {
	if l.dailyInitial > 0 {
		return false
	}
	v := l.totalEquity
	if basis == BasisDeposit || v <= 0 {
		v = l.deposit
	}
	if v <= 0 {
		return false
	}
	l.dailyInitial = v
	l.log.Info().Int64("baseline", v).Str("basis", basis).Msg("daily baseline captured")
	return true
}

// ResetDaily forgets the daily baseline at date change.
func (l *Ledger) ResetDaily() {
	l.dailyInitial = 0
}
