// Package diagnostics projects per-symbol execution state into flat rows
// for the operator surface.
package diagnostics

import (
	"time"

	"kiwoom-core/internal/events"
	"kiwoom-core/internal/state"
	"kiwoom-core/internal/universe"
)

// Row is one code's diagnostic view.
type Row struct {
	Code            string    `json:"code"`
	Name            string    `json:"name"`
	Status          string    `json:"status"`
	Held            int64     `json:"held"`
	Current         float64   `json:"current"`
	Target          float64   `json:"target"`
	PendingSide     string    `json:"pending_side"`
	PendingReason   string    `json:"pending_reason"`
	PendingUntil    time.Time `json:"pending_until,omitempty"`
	SyncRetryCount  int       `json:"sync_retry_count"`
	LastSyncError   string    `json:"last_sync_error"`
	ExternalStatus  string    `json:"external_status"`
	ExternalUpdated string    `json:"external_updated"`
	ExternalAgeSec  int       `json:"external_age_sec"`
	ExternalError   string    `json:"external_error,omitempty"`
}

// SyncSource reports reconciliation state per code.
type SyncSource interface {
	SyncInfo(code string) (retries int, lastErr string)
}

// Projector builds rows on the main scheduler.
type Projector struct {
	st   *state.Context
	sync SyncSource
}

// NewProjector creates a projector. sync may be nil.
func NewProjector(st *state.Context, sync SyncSource) *Projector {
	return &Projector{st: st, sync: sync}
}

func (p *Projector) row(sym *universe.Symbol, now time.Time) Row {
	r := Row{
		Code:           sym.Code,
		Name:           sym.Name,
		Status:         string(sym.Status),
		Held:           sym.Held,
		Current:        sym.Current,
		Target:         sym.Target,
		ExternalStatus: string(sym.ExternalStatus),
		ExternalError:  sym.ExternalError,
	}
	if pend, ok := p.st.Pending.Get(sym.Code); ok {
		r.PendingSide = string(pend.Side)
		r.PendingReason = pend.Reason
		r.PendingUntil = pend.Until
	}
	if p.sync != nil {
		r.SyncRetryCount, r.LastSyncError = p.sync.SyncInfo(sym.Code)
	}
	if age, ok := sym.ExternalAge(now); ok {
		r.ExternalUpdated = sym.ExternalUpdatedAt.Format("15:04:05")
		r.ExternalAgeSec = int(age / time.Second)
	}
	return r
}

// Flush projects at most TABLE_BATCH_LIMIT dirty codes and publishes them
// on the bus. It returns the rows.
func (p *Projector) Flush() []Row {
	codes := p.st.Universe.PullDirty(p.st.Cfg.TableBatchLimit)
	if len(codes) == 0 {
		return nil
	}
	now := p.st.Now()
	rows := make([]Row, 0, len(codes))
	for _, c := range codes {
		if sym, ok := p.st.Universe.Get(c); ok {
			rows = append(rows, p.row(sym, now))
		}
	}
	if len(rows) > 0 {
		p.st.Bus.Publish(events.EventDiagnostics, rows)
	}
	return rows
}

// Snapshot projects every code without touching the dirty set.
func (p *Projector) Snapshot() []Row {
	now := p.st.Now()
	rows := make([]Row, 0, p.st.Universe.Len())
	p.st.Universe.Each(func(sym *universe.Symbol) {
		rows = append(rows, p.row(sym, now))
	})
	return rows
}
