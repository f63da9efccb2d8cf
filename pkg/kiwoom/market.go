package kiwoom

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"kiwoom-core/pkg/exchanges/common"
)

type quoteOutput struct {
	Code      string `json:"stk_cd"`
	Name      string `json:"stk_nm"`
	Market    string `json:"mrkt_nm"`
	Sector    string `json:"upjong_nm"`
	Current   string `json:"cur_prc"`
	Open      string `json:"open_pric"`
	High      string `json:"high_pric"`
	Low       string `json:"low_pric"`
	PrevClose string `json:"base_pric"`
	Volume    string `json:"trde_qty"`
	Ask       string `json:"sel_fpr_bid"`
	Bid       string `json:"buy_fpr_bid"`
}

// GetQuote fetches the basic quote (ka10001).
func (c *Client) GetQuote(ctx context.Context, code string) (common.Quote, error) {
	var out quoteOutput
	if err := c.call(ctx, pathStkInfo, "ka10001", map[string]string{"stk_cd": code}, &out); err != nil {
		return common.Quote{}, fmt.Errorf("quote %s: %w", code, err)
	}
	q := common.Quote{
		Code:      code,
		Name:      strings.TrimSpace(out.Name),
		Market:    marketOf(out.Market),
		Sector:    strings.TrimSpace(out.Sector),
		Current:   price(out.Current),
		Open:      price(out.Open),
		High:      price(out.High),
		Low:       price(out.Low),
		PrevClose: price(out.PrevClose),
		Volume:    qty(out.Volume),
		Ask:       price(out.Ask),
		Bid:       price(out.Bid),
	}
	if q.Current <= 0 {
		return q, fmt.Errorf("quote %s: %w", code, common.ErrEmptyPayload)
	}
	return q, nil
}

func marketOf(s string) common.Market {
	if strings.Contains(strings.ToUpper(s), "KOSDAQ") || strings.Contains(s, "코스닥") {
		return common.MarketKOSDAQ
	}
	return common.MarketKOSPI
}

type barRow struct {
	Date   string `json:"date"`
	Time   string `json:"cntr_tm"`
	Open   string `json:"open_pric"`
	High   string `json:"high_pric"`
	Low    string `json:"low_pric"`
	Close  string `json:"close_pric"`
	Volume string `json:"trde_qty"`
}

// GetDailyBars fetches up to n daily bars, oldest first (ka10005).
func (c *Client) GetDailyBars(ctx context.Context, code string, n int) ([]common.Bar, error) {
	var rows []barRow
	if err := c.call(ctx, pathMrkCond, "ka10005", map[string]string{"stk_cd": code}, &rows); err != nil {
		return nil, fmt.Errorf("daily bars %s: %w", code, err)
	}
	return toBars(rows, common.ClampBars(n), false), nil
}

// GetMinuteBars fetches up to n minute bars of the given interval, oldest
// first (ka10006).
func (c *Client) GetMinuteBars(ctx context.Context, code string, interval, n int) ([]common.Bar, error) {
	if interval <= 0 {
		interval = 1
	}
	body := map[string]string{"stk_cd": code, "tic_scope": strconv.Itoa(interval)}
	var rows []barRow
	if err := c.call(ctx, pathMrkCond, "ka10006", body, &rows); err != nil {
		return nil, fmt.Errorf("minute bars %s: %w", code, err)
	}
	return toBars(rows, common.ClampBars(n), true), nil
}

// toBars converts newest-first rows into at most n oldest-first bars.
func toBars(rows []barRow, n int, intraday bool) []common.Bar {
	if len(rows) > n {
		rows = rows[:n]
	}
	bars := make([]common.Bar, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		b := common.Bar{
			Open:   price(r.Open),
			High:   price(r.High),
			Low:    price(r.Low),
			Close:  price(r.Close),
			Volume: qty(r.Volume),
		}
		if intraday {
			b.Time = parseStamp(r.Time)
		} else {
			b.Time = parseDay(r.Date)
		}
		if b.Close <= 0 {
			continue
		}
		bars = append(bars, b)
	}
	return bars
}

type bookLevelRow struct {
	Price string `json:"pric"`
	Qty   string `json:"req"`
}

// GetOrderBook fetches the order book (ka10004).
func (c *Client) GetOrderBook(ctx context.Context, code string) (common.OrderBook, error) {
	var out struct {
		Asks []bookLevelRow `json:"sel_bids"`
		Bids []bookLevelRow `json:"buy_bids"`
	}
	if err := c.call(ctx, pathMrkCond, "ka10004", map[string]string{"stk_cd": code}, &out); err != nil {
		return common.OrderBook{}, fmt.Errorf("order book %s: %w", code, err)
	}
	book := common.OrderBook{Code: code}
	for _, l := range out.Asks {
		book.Asks = append(book.Asks, common.BookLevel{Price: price(l.Price), Qty: qty(l.Qty)})
	}
	for _, l := range out.Bids {
		book.Bids = append(book.Bids, common.BookLevel{Price: price(l.Price), Qty: qty(l.Qty)})
	}
	return book, nil
}

// GetInvestorFlow fetches today's net buy quantity by investor (ka10059).
func (c *Client) GetInvestorFlow(ctx context.Context, code string) (common.InvestorFlow, error) {
	var out struct {
		Individual  string `json:"ind_invsr"`
		Foreign     string `json:"frgnr_invsr"`
		Institution string `json:"orgn"`
	}
	body := map[string]string{"stk_cd": code, "amt_qty_tp": "2", "trde_tp": "0"}
	if err := c.call(ctx, pathStkInfo, "ka10059", body, &out); err != nil {
		return common.InvestorFlow{}, fmt.Errorf("investor flow %s: %w", code, err)
	}
	if out.Individual == "" && out.Foreign == "" && out.Institution == "" {
		return common.InvestorFlow{}, fmt.Errorf("investor flow %s: %w", code, common.ErrEmptyPayload)
	}
	return common.InvestorFlow{
		Code:        code,
		Individual:  signed(out.Individual),
		Foreign:     signed(out.Foreign),
		Institution: signed(out.Institution),
	}, nil
}

// GetProgramFlow fetches today's program net buy quantity (ka90013).
func (c *Client) GetProgramFlow(ctx context.Context, code string) (common.ProgramFlow, error) {
	var out struct {
		Net string `json:"prm_netprps_qty"`
	}
	if err := c.call(ctx, pathMrkCond, "ka90013", map[string]string{"stk_cd": code}, &out); err != nil {
		return common.ProgramFlow{}, fmt.Errorf("program flow %s: %w", code, err)
	}
	if out.Net == "" {
		return common.ProgramFlow{}, fmt.Errorf("program flow %s: %w", code, common.ErrEmptyPayload)
	}
	return common.ProgramFlow{Code: code, Net: signed(out.Net)}, nil
}
