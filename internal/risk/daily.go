package risk

import (
	"time"

	"kiwoom-core/internal/strategy"
)

// Daily tracks realized results for the current trading day and latches the
// daily loss guard.
type Daily struct {
	Date      string  `json:"date"`
	Realized  float64 `json:"realized"`
	Trades    int     `json:"trades"`
	Wins      int     `json:"wins"`
	Losses    int     `json:"losses"`
	Triggered bool    `json:"triggered"`
}

// DayKey formats t as the trading-day key.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// Record books the profit of a sell. Buys never touch realized P&L.
func (d *Daily) Record(profit float64) {
	d.Realized += profit
	d.Trades++
	switch {
	case profit > 0:
		d.Wins++
	case profit < 0:
		d.Losses++
	}
}

// Rollover resets the counters when now falls on a new day. It returns true
// when a reset happened; the first call only stamps the date.
func (d *Daily) Rollover(now time.Time) bool {
	key := DayKey(now)
	if d.Date == key {
		return false
	}
	first := d.Date == ""
	*d = Daily{Date: key}
	return !first
}

// Check latches Triggered once realized loss reaches maxLossPct of baseline.
// It returns true only on the transition.
func (d *Daily) Check(maxLossPct, baseline float64) bool {
	if d.Triggered || maxLossPct <= 0 || baseline <= 0 {
		return false
	}
	if strategy.DailyLossPct(d.Realized, baseline) <= -maxLossPct {
		d.Triggered = true
		return true
	}
	return false
}

// WinRate is wins over closed trades in percent.
func (d *Daily) WinRate() float64 {
	if d.Trades == 0 {
		return 0
	}
	return float64(d.Wins) / float64(d.Trades) * 100
}
