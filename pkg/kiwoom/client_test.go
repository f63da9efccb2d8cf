package kiwoom

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiwoom-core/pkg/exchanges/common"
	"kiwoom-core/pkg/retry"
)

type fakeKiwoom struct {
	tokenCalls atomic.Int32
	calls      map[string]*atomic.Int32
	handlers   map[string]func(w http.ResponseWriter, body map[string]string)
	expires    time.Time
}

func newFakeKiwoom() *fakeKiwoom {
	return &fakeKiwoom{
		calls:    map[string]*atomic.Int32{},
		handlers: map[string]func(http.ResponseWriter, map[string]string){},
		expires:  time.Now().Add(24 * time.Hour),
	}
}

func (f *fakeKiwoom) on(apiID string, h func(w http.ResponseWriter, body map[string]string)) {
	f.calls[apiID] = &atomic.Int32{}
	f.handlers[apiID] = h
}

func (f *fakeKiwoom) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body)

	if r.URL.Path == pathToken {
		f.tokenCalls.Add(1)
		writeJSON(w, map[string]any{
			"token":       "tok-1",
			"token_type":  "bearer",
			"expires_dt":  f.expires.In(kst).Format("20060102150405"),
			"return_code": 0,
		})
		return
	}
	if r.Header.Get("authorization") != "Bearer tok-1" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	apiID := r.Header.Get("api-id")
	h, ok := f.handlers[apiID]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	f.calls[apiID].Add(1)
	h(w, body)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func ok(output any) map[string]any {
	return map[string]any{"return_code": 0, "return_msg": "정상처리", "output": output}
}

func newTestClient(t *testing.T, srv *httptest.Server, dir string) *Client {
	t.Helper()
	return NewClient(Options{
		BaseURL:   srv.URL,
		AppKey:    "app-key",
		SecretKey: "secret",
		TokenDir:  dir,
		Gate:      common.NewRateGate(time.Millisecond),
		Retry:     retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, Factor: 2},
		Logger:    zerolog.Nop(),
	})
}

func TestTokenIsCachedOnDisk(t *testing.T) {
	fake := newFakeKiwoom()
	fake.on("ka10001", func(w http.ResponseWriter, _ map[string]string) {
		writeJSON(w, ok(map[string]string{"stk_nm": "삼성전자", "cur_prc": "-70100"}))
	})
	srv := httptest.NewServer(fake)
	defer srv.Close()
	dir := t.TempDir()

	c := newTestClient(t, srv, dir)
	_, err := c.GetQuote(context.Background(), "005930")
	require.NoError(t, err)
	_, err = c.GetQuote(context.Background(), "005930")
	require.NoError(t, err)
	assert.Equal(t, int32(1), fake.tokenCalls.Load())

	_, err = os.Stat(TokenCachePath(dir, "app-key"))
	require.NoError(t, err)

	// A second process with the same app key reuses the file.
	c2 := newTestClient(t, srv, dir)
	_, err = c2.GetQuote(context.Background(), "005930")
	require.NoError(t, err)
	assert.Equal(t, int32(1), fake.tokenCalls.Load())
}

func TestTokenRefreshedNearExpiry(t *testing.T) {
	fake := newFakeKiwoom()
	fake.expires = time.Now().Add(4 * time.Minute)
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := newTestClient(t, srv, t.TempDir())
	_, err := c.Token(context.Background())
	require.NoError(t, err)
	_, err = c.Token(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(2), fake.tokenCalls.Load(), "a token inside the 5 minute margin is not reused")
}

func TestTokenCachePathDependsOnAppKey(t *testing.T) {
	a := TokenCachePath("/tmp", "key-a")
	b := TokenCachePath("/tmp", "key-b")
	assert.NotEqual(t, a, b)
	assert.NotContains(t, a, "key-a")
}

func TestRetriesServerErrors(t *testing.T) {
	fake := newFakeKiwoom()
	var attempts atomic.Int32
	fake.on("ka10001", func(w http.ResponseWriter, _ map[string]string) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, ok(map[string]string{"cur_prc": "+1500"}))
	})
	srv := httptest.NewServer(fake)
	defer srv.Close()

	q, err := newTestClient(t, srv, "").GetQuote(context.Background(), "035720")
	require.NoError(t, err)
	assert.Equal(t, 1500.0, q.Current)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestBusinessRejectionIsNotRetried(t *testing.T) {
	fake := newFakeKiwoom()
	fake.on("ka40001", func(w http.ResponseWriter, _ map[string]string) {
		writeJSON(w, map[string]any{"return_code": 20, "return_msg": "주문가능금액을 초과합니다"})
	})
	srv := httptest.NewServer(fake)
	defer srv.Close()

	_, err := newTestClient(t, srv, "").BuyMarket(context.Background(), "1234", "005930", 10)
	require.Error(t, err)
	assert.True(t, common.IsBusiness(err))
	assert.True(t, errors.Is(err, common.ErrOrderRejected))
	assert.Equal(t, int32(1), fake.calls["ka40001"].Load())
}

func TestOrderServerErrorIsNotRetried(t *testing.T) {
	fake := newFakeKiwoom()
	fake.on("ka40001", func(w http.ResponseWriter, _ map[string]string) {
		w.WriteHeader(http.StatusBadGateway)
	})
	srv := httptest.NewServer(fake)
	defer srv.Close()

	_, err := newTestClient(t, srv, "").BuyMarket(context.Background(), "1234", "005930", 1)
	require.Error(t, err)
	assert.Equal(t, int32(1), fake.calls["ka40001"].Load(), "order may already be live at the broker")
}

func TestOrderThrottleIsRetried(t *testing.T) {
	fake := newFakeKiwoom()
	var attempts atomic.Int32
	fake.on("ka40002", func(w http.ResponseWriter, _ map[string]string) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeJSON(w, ok(map[string]string{"ord_no": "0000077"}))
	})
	srv := httptest.NewServer(fake)
	defer srv.Close()

	ack, err := newTestClient(t, srv, "").SellMarket(context.Background(), "1234", "005930", 1)
	require.NoError(t, err)
	assert.Equal(t, "0000077", ack.OrderNo)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestRetryableOrder(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"throttled", &common.APIError{Status: http.StatusTooManyRequests}, true},
		{"server error", &common.APIError{Status: http.StatusServiceUnavailable}, false},
		{"dial refused", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, true},
		{"read timeout", &net.OpError{Op: "read", Err: errors.New("i/o timeout")}, false},
		{"unexpected eof", io.ErrUnexpectedEOF, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, retryableOrder(tc.err))
		})
	}
}

func TestOrderBodies(t *testing.T) {
	fake := newFakeKiwoom()
	var got map[string]string
	fake.on("ka40002", func(w http.ResponseWriter, body map[string]string) {
		got = body
		writeJSON(w, ok(map[string]string{"ord_no": "0001234"}))
	})
	srv := httptest.NewServer(fake)
	defer srv.Close()

	ack, err := newTestClient(t, srv, "").SellLimit(context.Background(), "1234", "005930", 3, 70500)
	require.NoError(t, err)
	assert.Equal(t, "0001234", ack.OrderNo)
	assert.Equal(t, "3", got["ord_qty"])
	assert.Equal(t, "70500", got["ord_uv"])
	assert.Equal(t, tradeTypeLimit, got["trde_tp"])
}

func TestPositionsAndAccountInfo(t *testing.T) {
	fake := newFakeKiwoom()
	fake.on("ka30001", func(w http.ResponseWriter, _ map[string]string) {
		writeJSON(w, ok(map[string]any{
			"ord_alow_amt": "000000050000",
			"tot_est_amt":  "000000120000",
			"acnt_evlt_remn_indv_tot": []map[string]string{
				{"stk_cd": "A005930", "stk_nm": "삼성전자", "rmnd_qty": "000000000001", "pur_pric": "70000", "cur_prc": "-70100"},
				{"stk_cd": "A000660", "rmnd_qty": "0"},
			},
		}))
	})
	srv := httptest.NewServer(fake)
	defer srv.Close()
	c := newTestClient(t, srv, "")

	info, err := c.GetAccountInfo(context.Background(), "1234")
	require.NoError(t, err)
	assert.Equal(t, 50000.0, info.Deposit)
	assert.Equal(t, 120000.0, info.TotalEquity)

	pos, err := c.GetPositions(context.Background(), "1234")
	require.NoError(t, err)
	require.Len(t, pos, 1)
	assert.Equal(t, "005930", pos[0].Code)
	assert.Equal(t, int64(1), pos[0].Qty)
	assert.Equal(t, 70100.0, pos[0].Current)
}

func TestDailyBarsOldestFirst(t *testing.T) {
	fake := newFakeKiwoom()
	fake.on("ka10005", func(w http.ResponseWriter, _ map[string]string) {
		writeJSON(w, ok([]map[string]string{
			{"date": "20240103", "open_pric": "102", "high_pric": "110", "low_pric": "100", "close_pric": "-105", "trde_qty": "10"},
			{"date": "20240102", "open_pric": "100", "high_pric": "104", "low_pric": "98", "close_pric": "+101", "trde_qty": "12"},
			{"date": "20240101", "open_pric": "99", "high_pric": "101", "low_pric": "97", "close_pric": "100", "trde_qty": "9"},
		}))
	})
	srv := httptest.NewServer(fake)
	defer srv.Close()

	bars, err := newTestClient(t, srv, "").GetDailyBars(context.Background(), "005930", 2)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 101.0, bars[0].Close)
	assert.Equal(t, 105.0, bars[1].Close)
	assert.True(t, bars[0].Time.Before(bars[1].Time))
}

func TestEmptyFlowPayload(t *testing.T) {
	fake := newFakeKiwoom()
	fake.on("ka90013", func(w http.ResponseWriter, _ map[string]string) {
		writeJSON(w, ok(map[string]string{}))
	})
	srv := httptest.NewServer(fake)
	defer srv.Close()

	_, err := newTestClient(t, srv, "").GetProgramFlow(context.Background(), "005930")
	assert.ErrorIs(t, err, common.ErrEmptyPayload)
}

func TestNumberParsing(t *testing.T) {
	assert.Equal(t, 70100.0, price("-70100"))
	assert.Equal(t, 70100.0, price("+70,100"))
	assert.Equal(t, int64(-512), signed("-0000512"))
	assert.Equal(t, "005930", normalizeCode("A005930"))
	assert.Equal(t, "005930", normalizeCode("005930_AL"))
}
