package kiwoom

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"kiwoom-core/pkg/exchanges/common"
)

// TestCredentials issues (or reuses) a token to prove the keys work.
func (c *Client) TestCredentials(ctx context.Context) error {
	if c.appKey == "" || c.secretKey == "" {
		return fmt.Errorf("app key and secret key are required: %w", common.ErrUnauthorized)
	}
	if _, err := c.tokens.Get(ctx); err != nil {
		return err
	}
	return nil
}

// ListAccounts returns the account numbers bound to the app key (ka00001).
func (c *Client) ListAccounts(ctx context.Context) ([]string, error) {
	var out struct {
		AcctNo string `json:"acctNo"`
	}
	if err := c.call(ctx, pathAccount, "ka00001", map[string]string{}, &out); err != nil {
		if errors.Is(err, common.ErrEmptyPayload) {
			return nil, common.ErrNoAccount
		}
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	var accounts []string
	for _, a := range strings.FieldsFunc(out.AcctNo, func(r rune) bool { return r == ';' || r == ',' }) {
		if a = strings.TrimSpace(a); a != "" {
			accounts = append(accounts, a)
		}
	}
	if len(accounts) == 0 {
		return nil, common.ErrNoAccount
	}
	return accounts, nil
}

type holdingRow struct {
	Code     string `json:"stk_cd"`
	Name     string `json:"stk_nm"`
	Qty      string `json:"rmnd_qty"`
	AvgPrice string `json:"pur_pric"`
	Current  string `json:"cur_prc"`
}

type balanceOutput struct {
	Orderable   string       `json:"ord_alow_amt"`
	TotalEquity string       `json:"tot_est_amt"`
	Holdings    []holdingRow `json:"acnt_evlt_remn_indv_tot"`
}

func (c *Client) balance(ctx context.Context, account string) (balanceOutput, error) {
	var out balanceOutput
	body := map[string]string{"acnt_no": account, "qry_tp": "1", "dmst_stex_tp": "KRX"}
	err := c.call(ctx, pathAccount, "ka30001", body, &out)
	return out, err
}

// GetAccountInfo returns orderable cash and total equity (ka30001).
func (c *Client) GetAccountInfo(ctx context.Context, account string) (common.AccountInfo, error) {
	out, err := c.balance(ctx, account)
	if err != nil {
		return common.AccountInfo{}, fmt.Errorf("account info: %w", err)
	}
	return common.AccountInfo{
		Account:     account,
		Deposit:     price(out.Orderable),
		TotalEquity: price(out.TotalEquity),
	}, nil
}

// GetPositions returns current holdings for the whole account (ka30001).
func (c *Client) GetPositions(ctx context.Context, account string) ([]common.Position, error) {
	out, err := c.balance(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("positions: %w", err)
	}
	positions := make([]common.Position, 0, len(out.Holdings))
	for _, h := range out.Holdings {
		q := qty(h.Qty)
		if q <= 0 {
			continue
		}
		positions = append(positions, common.Position{
			Code:     normalizeCode(h.Code),
			Name:     strings.TrimSpace(h.Name),
			Qty:      q,
			AvgPrice: price(h.AvgPrice),
			Current:  price(h.Current),
		})
	}
	return positions, nil
}

// Kiwoom trade types: "3" market, "0" limit.
const (
	tradeTypeLimit  = "0"
	tradeTypeMarket = "3"
)

func (c *Client) order(ctx context.Context, apiID, account, code string, q int64, p float64, tradeType string) (common.OrderAck, error) {
	body := map[string]string{
		"dmst_stex_tp": "KRX",
		"acnt_no":      account,
		"stk_cd":       code,
		"ord_qty":      strconv.FormatInt(q, 10),
		"ord_uv":       "",
		"trde_tp":      tradeType,
	}
	if tradeType == tradeTypeLimit {
		body["ord_uv"] = strconv.FormatFloat(p, 'f', 0, 64)
	}
	var out struct {
		OrderNo string `json:"ord_no"`
	}
	if err := c.call(ctx, pathOrder, apiID, body, &out); err != nil {
		return common.OrderAck{}, err
	}
	return common.OrderAck{OrderNo: out.OrderNo}, nil
}

// BuyMarket sends a market buy (ka40001).
func (c *Client) BuyMarket(ctx context.Context, account, code string, q int64) (common.OrderAck, error) {
	return c.order(ctx, "ka40001", account, code, q, 0, tradeTypeMarket)
}

// BuyLimit sends a limit buy (ka40001).
func (c *Client) BuyLimit(ctx context.Context, account, code string, q int64, p float64) (common.OrderAck, error) {
	return c.order(ctx, "ka40001", account, code, q, p, tradeTypeLimit)
}

// SellMarket sends a market sell (ka40002).
func (c *Client) SellMarket(ctx context.Context, account, code string, q int64) (common.OrderAck, error) {
	return c.order(ctx, "ka40002", account, code, q, 0, tradeTypeMarket)
}

// SellLimit sends a limit sell (ka40002).
func (c *Client) SellLimit(ctx context.Context, account, code string, q int64, p float64) (common.OrderAck, error) {
	return c.order(ctx, "ka40002", account, code, q, p, tradeTypeLimit)
}

// CancelOrder cancels qty of an open order (ka40003).
func (c *Client) CancelOrder(ctx context.Context, account, code, orderNo string, q int64) (common.OrderAck, error) {
	body := map[string]string{
		"dmst_stex_tp": "KRX",
		"acnt_no":      account,
		"orig_ord_no":  orderNo,
		"stk_cd":       code,
		"cncl_qty":     strconv.FormatInt(q, 10),
	}
	var out struct {
		OrderNo string `json:"ord_no"`
	}
	if err := c.call(ctx, pathOrder, "ka40003", body, &out); err != nil {
		return common.OrderAck{}, err
	}
	return common.OrderAck{OrderNo: out.OrderNo}, nil
}
