package persistence

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"kiwoom-core/internal/risk"
	"kiwoom-core/internal/state"
	"kiwoom-core/pkg/db"
	"kiwoom-core/pkg/exchanges/common"
)

// Journal appends trades to the database through a BatchWriter and keeps
// the daily_summary row of every touched day current.
type Journal struct {
	q    *db.Queries
	bw   *BatchWriter
	mode string
}

// NewJournal starts a journal over database. mode tags every row.
func NewJournal(database *db.Database, log zerolog.Logger, mode string, batch int, interval time.Duration) *Journal {
	return &Journal{
		q:    database.Queries(),
		bw:   NewBatchWriter(database.DB, log, batch, interval),
		mode: mode,
	}
}

// Append queues t. It never blocks on I/O.
func (j *Journal) Append(t state.Trade) {
	day := risk.DayKey(t.Timestamp)
	query, args := db.InsertTradeStmt(db.Trade{
		ID:     t.ID,
		TS:     t.Timestamp,
		Day:    day,
		Code:   t.Code,
		Name:   t.Name,
		Side:   t.Side,
		Price:  t.Price,
		Qty:    t.Quantity,
		Amount: t.Amount,
		Profit: t.Profit,
		Reason: t.Reason,
		Mode:   j.mode,
	})
	j.bw.WriteQuery(query, args...)
	if t.Side == common.LabelSell {
		query, args = db.RefreshSummaryStmt(day, common.LabelSell)
		j.bw.WriteQuery(query, args...)
	}
}

// TradesOn reads one day's journaled trades back as state trades.
func (j *Journal) TradesOn(ctx context.Context, day string) ([]state.Trade, error) {
	if err := j.bw.Flush(); err != nil {
		return nil, err
	}
	rows, err := j.q.ListTradesByDay(ctx, day)
	if err != nil {
		return nil, err
	}
	out := make([]state.Trade, 0, len(rows))
	for _, r := range rows {
		out = append(out, state.Trade{
			ID:        r.ID,
			Timestamp: r.TS.In(common.KST),
			Code:      r.Code,
			Name:      r.Name,
			Side:      r.Side,
			Price:     r.Price,
			Quantity:  r.Qty,
			Amount:    r.Amount,
			Profit:    r.Profit,
			Reason:    r.Reason,
		})
	}
	return out, nil
}

// Summary returns the journaled summary for day.
func (j *Journal) Summary(ctx context.Context, day string) (db.DailySummary, error) {
	if err := j.bw.Flush(); err != nil {
		return db.DailySummary{}, err
	}
	return j.q.GetDailySummary(ctx, day)
}

// Metrics exposes the writer counters.
func (j *Journal) Metrics() BatchWriterMetrics {
	return j.bw.GetMetrics()
}

// Close flushes and stops the writer.
func (j *Journal) Close() error {
	return j.bw.Close()
}
