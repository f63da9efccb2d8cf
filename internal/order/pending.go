package order

import (
	"sort"
	"time"

	"kiwoom-core/pkg/exchanges/common"
)

// Pending marks an order dispatched but not yet confirmed by
// reconciliation. Level is the partial-profit ladder level a partial sell
// was issued for, 0 otherwise.
type Pending struct {
	Side   common.Side `json:"side"`
	Reason string      `json:"reason"`
	Until  time.Time   `json:"until"`
	Level  int         `json:"level,omitempty"`
}

// Active reports whether the flag has not yet expired at now.
func (p Pending) Active(now time.Time) bool {
	return now.Before(p.Until)
}

// PendingBook holds at most one pending side per code. Main scheduler only.
type PendingBook struct {
	m map[string]Pending
}

// NewPendingBook creates an empty book.
func NewPendingBook() *PendingBook {
	return &PendingBook{m: make(map[string]Pending)}
}

// Set replaces any pending flag for code.
func (b *PendingBook) Set(code string, p Pending) {
	b.m[code] = p
}

// Get returns the flag for code, expired or not.
func (b *PendingBook) Get(code string) (Pending, bool) {
	p, ok := b.m[code]
	return p, ok
}

// Active reports whether code has an unexpired flag at now.
func (b *PendingBook) Active(code string, now time.Time) bool {
	p, ok := b.m[code]
	return ok && p.Active(now)
}

// Clear removes the flag for code.
func (b *PendingBook) Clear(code string) {
	delete(b.m, code)
}

// Reset removes every flag.
func (b *PendingBook) Reset() {
	b.m = make(map[string]Pending)
}

// Len returns the number of flags.
func (b *PendingBook) Len() int { return len(b.m) }

// Expired returns codes whose flag is past its deadline, sorted.
func (b *PendingBook) Expired(now time.Time) []string {
	var out []string
	for code, p := range b.m {
		if !p.Active(now) {
			out = append(out, code)
		}
	}
	sort.Strings(out)
	return out
}

// Codes returns every code with a flag of the given side, sorted.
func (b *PendingBook) Codes(side common.Side) []string {
	var out []string
	for code, p := range b.m {
		if p.Side == side {
			out = append(out, code)
		}
	}
	sort.Strings(out)
	return out
}
