// Package data loads historical bars for backtests.
package data

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"kiwoom-core/internal/backtest"
	"kiwoom-core/pkg/exchanges/common"
)

// CSVHeader is the expected column order.
var CSVHeader = []string{"symbol", "ts", "open", "high", "low", "close", "volume"}

var tsLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"20060102150405",
	"20060102",
}

// HistoricalService fetches daily bars through the broker gateway.
type HistoricalService struct {
	broker common.Broker
}

// NewHistoricalService creates a new service instance.
func NewHistoricalService(broker common.Broker) *HistoricalService {
	return &HistoricalService{broker: broker}
}

// DailyBars returns the last n daily bars of every code merged into one
// chronological sequence.
func (s *HistoricalService) DailyBars(ctx context.Context, codes []string, n int) ([]backtest.Bar, error) {
	var out []backtest.Bar
	for _, code := range codes {
		bars, err := s.broker.GetDailyBars(ctx, code, common.ClampBars(n))
		if err != nil {
			return nil, fmt.Errorf("daily bars %s: %w", code, err)
		}
		for _, b := range bars {
			out = append(out, backtest.Bar{
				Symbol: code,
				Time:   b.Time,
				Open:   b.Open,
				High:   b.High,
				Low:    b.Low,
				Close:  b.Close,
				Volume: b.Volume,
			})
		}
	}
	Sort(out)
	return out, nil
}

// Sort orders bars by time, then symbol.
func Sort(bars []backtest.Bar) {
	sort.SliceStable(bars, func(i, j int) bool {
		if bars[i].Time.Equal(bars[j].Time) {
			return bars[i].Symbol < bars[j].Symbol
		}
		return bars[i].Time.Before(bars[j].Time)
	})
}

// LoadCSVFile reads a bar file from disk.
func LoadCSVFile(path string) ([]backtest.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bars: %w", err)
	}
	defer f.Close()
	return LoadCSV(f)
}

// LoadCSV parses symbol,ts,open,high,low,close,volume rows. A header row is
// optional. Timestamps without a zone are read as KST.
func LoadCSV(r io.Reader) ([]backtest.Bar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(CSVHeader)
	cr.TrimLeadingSpace = true

	var out []backtest.Bar
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read bars: %w", err)
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), CSVHeader[0]) {
			continue
		}
		b, err := parseRow(rec)
		if err != nil {
			return nil, fmt.Errorf("bars line %d: %w", line, err)
		}
		out = append(out, b)
	}
	Sort(out)
	return out, nil
}

func parseRow(rec []string) (backtest.Bar, error) {
	ts, err := parseTime(strings.TrimSpace(rec[1]))
	if err != nil {
		return backtest.Bar{}, err
	}
	var px [4]float64
	for i := range px {
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[2+i]), 64)
		if err != nil {
			return backtest.Bar{}, fmt.Errorf("column %s: %w", CSVHeader[2+i], err)
		}
		px[i] = v
	}
	vol, err := strconv.ParseFloat(strings.TrimSpace(rec[6]), 64)
	if err != nil {
		return backtest.Bar{}, fmt.Errorf("column volume: %w", err)
	}
	return backtest.Bar{
		Symbol: strings.TrimSpace(rec[0]),
		Time:   ts,
		Open:   px[0],
		High:   px[1],
		Low:    px[2],
		Close:  px[3],
		Volume: int64(vol),
	}, nil
}

func parseTime(v string) (time.Time, error) {
	if n, err := strconv.ParseInt(v, 10, 64); err == nil && len(v) >= 10 && len(v) != 14 {
		if len(v) >= 13 {
			return time.UnixMilli(n).In(common.KST), nil
		}
		return time.Unix(n, 0).In(common.KST), nil
	}
	for _, layout := range tsLayouts {
		if t, err := time.ParseInLocation(layout, v, common.KST); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", v)
}
