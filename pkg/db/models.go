package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrDayRequired is returned when a day-scoped query has no day.
var ErrDayRequired = errors.New("day is required")

// Trade is one journaled fill.
type Trade struct {
	ID     string
	TS     time.Time
	Day    string // YYYY-MM-DD, KST
	Code   string
	Name   string
	Side   string // 매수 or 매도
	Price  float64
	Qty    int64
	Amount float64
	Profit float64
	Reason string
	Mode   string // paper or live
}

// DailySummary aggregates the sells of one trading day.
type DailySummary struct {
	Day       string
	Realized  float64
	Trades    int
	Wins      int
	Losses    int
	UpdatedAt time.Time
}

// Queries wraps database access helpers.
type Queries struct {
	db *sql.DB
}

// Queries returns a query helper bound to the database.
func (d *Database) Queries() *Queries {
	return &Queries{db: d.DB}
}

const insertTradeSQL = `INSERT INTO trades (id, ts, day, code, name, side, price, qty, amount, profit, reason, mode)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING`

// upsertSummarySQL recomputes one day's summary from its sells.
const upsertSummarySQL = `INSERT INTO daily_summary (day, realized, trades, wins, losses, updated_at)
SELECT ?, COALESCE(SUM(profit), 0), COUNT(*),
       COALESCE(SUM(CASE WHEN profit > 0 THEN 1 ELSE 0 END), 0),
       COALESCE(SUM(CASE WHEN profit < 0 THEN 1 ELSE 0 END), 0),
       CURRENT_TIMESTAMP
FROM trades WHERE day = ? AND side = ?
ON CONFLICT(day) DO UPDATE SET
    realized = excluded.realized,
    trades = excluded.trades,
    wins = excluded.wins,
    losses = excluded.losses,
    updated_at = excluded.updated_at`

// InsertTradeStmt returns the SQL and args that journal t; the batch writer
// uses it to queue the insert without a round trip.
func InsertTradeStmt(t Trade) (string, []any) {
	return insertTradeSQL, []any{
		t.ID, t.TS.UTC(), t.Day, t.Code, t.Name, t.Side,
		t.Price, t.Qty, t.Amount, t.Profit, t.Reason, t.Mode,
	}
}

// RefreshSummaryStmt returns the SQL and args that rebuild day's summary.
func RefreshSummaryStmt(day, sellLabel string) (string, []any) {
	return upsertSummarySQL, []any{day, day, sellLabel}
}

// InsertTrade journals one trade. Re-inserting the same id is a no-op.
func (q *Queries) InsertTrade(ctx context.Context, t Trade) error {
	query, args := InsertTradeStmt(t)
	if _, err := q.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert trade %s: %w", t.ID, err)
	}
	return nil
}

// RefreshDailySummary rebuilds day's summary from the journal.
func (q *Queries) RefreshDailySummary(ctx context.Context, day, sellLabel string) error {
	if day == "" {
		return ErrDayRequired
	}
	query, args := RefreshSummaryStmt(day, sellLabel)
	if _, err := q.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("refresh summary %s: %w", day, err)
	}
	return nil
}

// ListTradesByDay returns one day's trades, oldest first.
func (q *Queries) ListTradesByDay(ctx context.Context, day string) ([]Trade, error) {
	if day == "" {
		return nil, ErrDayRequired
	}
	rows, err := q.db.QueryContext(ctx, `
SELECT id, ts, day, code, name, side, price, qty, amount, profit, reason, mode
FROM trades WHERE day = ? ORDER BY ts, rowid`, day)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

// ListRecentTrades returns up to limit trades, newest first.
func (q *Queries) ListRecentTrades(ctx context.Context, limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.QueryContext(ctx, `
SELECT id, ts, day, code, name, side, price, qty, amount, profit, reason, mode
FROM trades ORDER BY ts DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent trades: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

// GetDailySummary returns the summary for day; sql.ErrNoRows when absent.
func (q *Queries) GetDailySummary(ctx context.Context, day string) (DailySummary, error) {
	var s DailySummary
	if day == "" {
		return s, ErrDayRequired
	}
	err := q.db.QueryRowContext(ctx, `
SELECT day, realized, trades, wins, losses, updated_at
FROM daily_summary WHERE day = ?`, day).
		Scan(&s.Day, &s.Realized, &s.Trades, &s.Wins, &s.Losses, &s.UpdatedAt)
	return s, err
}

func scanTrades(rows *sql.Rows) ([]Trade, error) {
	var out []Trade
	for rows.Next() {
		var t Trade
		if err := rows.Scan(&t.ID, &t.TS, &t.Day, &t.Code, &t.Name, &t.Side,
			&t.Price, &t.Qty, &t.Amount, &t.Profit, &t.Reason, &t.Mode); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
