// Package universe holds the per-symbol records of a trading session.
// It is not safe for concurrent use; only the main scheduler touches it.
package universe

import (
	"sort"
	"time"

	"kiwoom-core/pkg/exchanges/common"
)

// Store maps code to Symbol and tracks which records changed since the
// last projection.
type Store struct {
	symbols  map[string]*Symbol
	order    []string
	dirty    map[string]struct{}
	cursor   int // index into order where the next pull starts
	capacity int
	slack    int
	batch    int
}

// NewStore sizes histories from MAX_PRICE_HISTORY and the projection batch
// from TABLE_BATCH_LIMIT. Slack is a tenth of the batch limit, at least 1.
func NewStore(maxHistory, batchLimit int) *Store {
	if batchLimit <= 0 {
		batchLimit = 50
	}
	slack := batchLimit / 10
	if slack < 1 {
		slack = 1
	}
	return &Store{
		symbols:  make(map[string]*Symbol),
		dirty:    make(map[string]struct{}),
		capacity: maxHistory,
		slack:    slack,
		batch:    batchLimit,
	}
}

// Add creates the record for code, or returns the existing one.
func (s *Store) Add(code string) *Symbol {
	if sym, ok := s.symbols[code]; ok {
		return sym
	}
	sym := NewSymbol(code, s.capacity, s.slack)
	s.symbols[code] = sym
	s.order = append(s.order, code)
	s.dirty[code] = struct{}{}
	return sym
}

// Get returns the record for code.
func (s *Store) Get(code string) (*Symbol, bool) {
	sym, ok := s.symbols[code]
	return sym, ok
}

// Codes returns codes in insertion order.
func (s *Store) Codes() []string {
	return append([]string(nil), s.order...)
}

// Each visits every record in insertion order.
func (s *Store) Each(fn func(*Symbol)) {
	for _, c := range s.order {
		fn(s.symbols[c])
	}
}

func (s *Store) Len() int { return len(s.order) }

// Clear drops every record.
func (s *Store) Clear() {
	s.symbols = make(map[string]*Symbol)
	s.order = nil
	s.dirty = make(map[string]struct{})
	s.cursor = 0
}

// MarkDirty flags code for the next projection.
func (s *Store) MarkDirty(code string) {
	if _, ok := s.symbols[code]; ok {
		s.dirty[code] = struct{}{}
	}
}

// MarkAllDirty flags every record.
func (s *Store) MarkAllDirty() {
	for _, c := range s.order {
		s.dirty[c] = struct{}{}
	}
}

// DirtyCount returns how many records await projection.
func (s *Store) DirtyCount() int { return len(s.dirty) }

// PullDirty returns at most limit dirty codes, sorted, and clears them.
// The scan resumes after the last code pulled so that codes late in the
// universe are not starved when more than limit stay dirty.
// limit <= 0 uses TABLE_BATCH_LIMIT.
func (s *Store) PullDirty(limit int) []string {
	if limit <= 0 || limit > s.batch {
		limit = s.batch
	}
	n := len(s.order)
	if n == 0 || len(s.dirty) == 0 {
		return []string{}
	}
	if s.cursor >= n {
		s.cursor = 0
	}
	codes := make([]string, 0, min(limit, len(s.dirty)))
	next := s.cursor
	for i := 0; i < n && len(codes) < limit; i++ {
		idx := (s.cursor + i) % n
		c := s.order[idx]
		if _, ok := s.dirty[c]; !ok {
			continue
		}
		delete(s.dirty, c)
		codes = append(codes, c)
		next = (idx + 1) % n
	}
	s.cursor = next
	sort.Strings(codes)
	return codes
}

// ApplyTick updates the last tick and histories of the tick's code and
// marks it dirty. It returns nil for codes outside the universe.
func (s *Store) ApplyTick(t common.Tick, now time.Time) *Symbol {
	sym, ok := s.symbols[t.Code]
	if !ok || t.Price <= 0 {
		return nil
	}
	ts := t.Time
	if ts.IsZero() {
		ts = now
	}

	sym.Current = t.Price
	if t.Ask > 0 {
		sym.Ask = t.Ask
	}
	if t.Bid > 0 {
		sym.Bid = t.Bid
	}
	if t.Volume > 0 {
		sym.CurrentVolume = t.Volume
	}
	sym.Timestamp = ts
	if sym.TodayOpen == 0 {
		sym.TodayOpen = t.Price
	}

	sym.PriceHistory.Push(t.Price)
	minute := ts.Truncate(time.Minute)
	if minute.After(sym.lastMinute) || sym.MinutePrices.Len() == 0 {
		sym.MinutePrices.Push(t.Price)
		sym.lastMinute = minute
	} else {
		sym.MinutePrices.SetLast(t.Price)
	}

	s.dirty[t.Code] = struct{}{}
	return sym
}
