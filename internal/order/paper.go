package order

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"kiwoom-core/pkg/exchanges/common"
)

// PaperAccount is the account number reported in paper mode.
const PaperAccount = "PAPER-0001"

// Paper rejection return codes, mirroring the broker's business errors.
const (
	paperCodeNoCash   = 40
	paperCodeNoShares = 41
	paperCodeNoOrder  = 42
)

// PaperConfig tunes the simulated fills.
type PaperConfig struct {
	InitialDeposit float64
	FeeRate        float64 // decimal, 0.00015 = 1.5 bps
	SlippageBps    float64 // applied against the taker on market fills
	Seed           int64
	Now            func() time.Time
}

type paperPosition struct {
	name string
	qty  int64
	avg  float64
}

type paperOrder struct {
	no    string
	code  string
	side  common.Side
	qty   int64
	price float64
}

// PaperBroker simulates the broker in memory. Market orders fill at the
// last price plus slippage; limit orders rest until a mark crosses them.
// It implements common.Broker and is safe for concurrent use.
type PaperBroker struct {
	mu        sync.Mutex
	cfg       PaperConfig
	cash      float64
	positions map[string]*paperPosition
	prices    map[string]float64
	open      map[string]*paperOrder
	rng       *rand.Rand
	onEvent   func(common.OrderEvent)
}

var _ common.Broker = (*PaperBroker)(nil)

// NewPaperBroker creates a simulator funded with cfg.InitialDeposit.
func NewPaperBroker(cfg PaperConfig) *PaperBroker {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &PaperBroker{
		cfg:       cfg,
		cash:      cfg.InitialDeposit,
		positions: make(map[string]*paperPosition),
		prices:    make(map[string]float64),
		open:      make(map[string]*paperOrder),
		rng:       rand.New(rand.NewSource(cfg.Seed)),
	}
}

// OnOrderEvent registers the sink for simulated order events.
func (b *PaperBroker) OnOrderEvent(fn func(common.OrderEvent)) {
	b.mu.Lock()
	b.onEvent = fn
	b.mu.Unlock()
}

func codeSeed(code string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(code))
	return int64(h.Sum64() & math.MaxInt64)
}

// basePrice is a stable synthetic price between 5,000 and 100,000 won.
func basePrice(code string) float64 {
	return float64(5000 + codeSeed(code)%95000)
}

func (b *PaperBroker) priceLocked(code string) float64 {
	if p, ok := b.prices[code]; ok {
		return p
	}
	p := basePrice(code)
	b.prices[code] = p
	return p
}

// Price returns the simulator's last price for code.
func (b *PaperBroker) Price(code string) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.priceLocked(code)
}

func (b *PaperBroker) TestCredentials(context.Context) error { return nil }

func (b *PaperBroker) ListAccounts(context.Context) ([]string, error) {
	return []string{PaperAccount}, nil
}

func (b *PaperBroker) GetQuote(_ context.Context, code string) (common.Quote, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.priceLocked(code)
	market := common.MarketKOSPI
	if codeSeed(code)%2 == 1 {
		market = common.MarketKOSDAQ
	}
	tick := tickSize(p)
	return common.Quote{
		Code:      code,
		Name:      "PAPER " + code,
		Market:    market,
		Current:   p,
		Open:      basePrice(code),
		High:      math.Max(p, basePrice(code)),
		Low:       math.Min(p, basePrice(code)),
		PrevClose: basePrice(code),
		Ask:       p + tick,
		Bid:       p,
	}, nil
}

// syntheticBars is a seeded random walk ending at the code's base price.
func syntheticBars(code string, n int, step time.Duration, end time.Time) []common.Bar {
	rng := rand.New(rand.NewSource(codeSeed(code)))
	closes := make([]float64, n)
	closes[n-1] = basePrice(code)
	for i := n - 2; i >= 0; i-- {
		closes[i] = math.Max(100, math.Round(closes[i+1]*(1+(rng.Float64()-0.5)*0.04)))
	}
	bars := make([]common.Bar, n)
	for i, c := range closes {
		open := c
		if i > 0 {
			open = closes[i-1]
		}
		spread := c * (0.005 + rng.Float64()*0.02)
		bars[i] = common.Bar{
			Time:   end.Add(-time.Duration(n-1-i) * step),
			Open:   open,
			High:   math.Round(math.Max(open, c) + spread/2),
			Low:    math.Round(math.Min(open, c) - spread/2),
			Close:  c,
			Volume: 100_000 + rng.Int63n(900_000),
		}
	}
	return bars
}

func (b *PaperBroker) GetDailyBars(_ context.Context, code string, n int) ([]common.Bar, error) {
	day := b.cfg.Now().Truncate(24 * time.Hour).Add(-24 * time.Hour)
	return syntheticBars(code, common.ClampBars(n), 24*time.Hour, day), nil
}

func (b *PaperBroker) GetMinuteBars(_ context.Context, code string, interval, n int) ([]common.Bar, error) {
	if interval <= 0 {
		interval = 1
	}
	end := b.cfg.Now().Truncate(time.Minute)
	return syntheticBars(code, common.ClampBars(n), time.Duration(interval)*time.Minute, end), nil
}

func (b *PaperBroker) GetOrderBook(_ context.Context, code string) (common.OrderBook, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.priceLocked(code)
	t := tickSize(p)
	book := common.OrderBook{Code: code}
	for i := 0; i < 5; i++ {
		book.Asks = append(book.Asks, common.BookLevel{Price: p + t*float64(i+1), Qty: int64(100 * (i + 1))})
		book.Bids = append(book.Bids, common.BookLevel{Price: p - t*float64(i), Qty: int64(100 * (i + 1))})
	}
	return book, nil
}

func (b *PaperBroker) GetAccountInfo(_ context.Context, account string) (common.AccountInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	equity := b.cash
	for code, pos := range b.positions {
		equity += float64(pos.qty) * b.priceLocked(code)
	}
	return common.AccountInfo{Account: account, Deposit: math.Floor(b.cash), TotalEquity: math.Floor(equity)}, nil
}

func (b *PaperBroker) GetPositions(context.Context, string) ([]common.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	codes := make([]string, 0, len(b.positions))
	for c := range b.positions {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	out := make([]common.Position, 0, len(codes))
	for _, c := range codes {
		pos := b.positions[c]
		out = append(out, common.Position{Code: c, Name: pos.name, Qty: pos.qty, AvgPrice: pos.avg, Current: b.priceLocked(c)})
	}
	return out, nil
}

func reject(code int, endpoint, msg string) error {
	return &common.APIError{ReturnCode: code, Message: msg, Endpoint: endpoint}
}

func (b *PaperBroker) slipped(side common.Side, p float64) float64 {
	frac := b.cfg.SlippageBps / 10000
	if side == common.SideBuy {
		return math.Round(p * (1 + frac))
	}
	return math.Round(p * (1 - frac))
}

// fillLocked books a fill and returns the event to emit.
func (b *PaperBroker) fillLocked(no, code string, side common.Side, qty int64, price float64) (common.OrderEvent, error) {
	gross := price * float64(qty)
	fee := gross * b.cfg.FeeRate
	pos := b.positions[code]
	switch side {
	case common.SideBuy:
		if gross+fee > b.cash {
			return common.OrderEvent{}, reject(paperCodeNoCash, "paper-buy", "주문가능금액을 초과합니다")
		}
		b.cash -= gross + fee
		if pos == nil {
			pos = &paperPosition{name: "PAPER " + code}
			b.positions[code] = pos
		}
		pos.avg = (pos.avg*float64(pos.qty) + gross) / float64(pos.qty+qty)
		pos.qty += qty
	case common.SideSell:
		if pos == nil || pos.qty < qty {
			return common.OrderEvent{}, reject(paperCodeNoShares, "paper-sell", "매도가능수량이 부족합니다")
		}
		b.cash += gross - fee
		pos.qty -= qty
		if pos.qty == 0 {
			delete(b.positions, code)
		}
	}
	return common.OrderEvent{
		Code: code, OrderNo: no, Side: side, Status: common.StatusFilled,
		Qty: qty, Price: price, Time: b.cfg.Now(),
	}, nil
}

func (b *PaperBroker) emit(evs ...common.OrderEvent) {
	b.mu.Lock()
	fn := b.onEvent
	b.mu.Unlock()
	if fn == nil {
		return
	}
	for _, ev := range evs {
		fn(ev)
	}
}

func (b *PaperBroker) market(code string, side common.Side, qty int64) (common.OrderAck, error) {
	if qty <= 0 {
		return common.OrderAck{}, reject(paperCodeNoShares, "paper-order", "주문수량 오류")
	}
	b.mu.Lock()
	no := uuid.NewString()
	price := b.slipped(side, b.priceLocked(code))
	ev, err := b.fillLocked(no, code, side, qty, price)
	b.mu.Unlock()
	if err != nil {
		return common.OrderAck{}, err
	}
	b.emit(ev)
	return common.OrderAck{OrderNo: no}, nil
}

func (b *PaperBroker) limit(code string, side common.Side, qty int64, price float64) (common.OrderAck, error) {
	if qty <= 0 || price <= 0 {
		return common.OrderAck{}, reject(paperCodeNoShares, "paper-order", "주문수량 또는 가격 오류")
	}
	b.mu.Lock()
	no := uuid.NewString()
	last := b.priceLocked(code)
	marketable := (side == common.SideBuy && price >= last) || (side == common.SideSell && price <= last)
	if !marketable {
		if side == common.SideBuy && price*float64(qty) > b.cash {
			b.mu.Unlock()
			return common.OrderAck{}, reject(paperCodeNoCash, "paper-buy", "주문가능금액을 초과합니다")
		}
		b.open[no] = &paperOrder{no: no, code: code, side: side, qty: qty, price: price}
		b.mu.Unlock()
		b.emit(common.OrderEvent{Code: code, OrderNo: no, Side: side, Status: common.StatusAccepted, Qty: 0, Price: price, Time: b.cfg.Now()})
		return common.OrderAck{OrderNo: no}, nil
	}
	ev, err := b.fillLocked(no, code, side, qty, last)
	b.mu.Unlock()
	if err != nil {
		return common.OrderAck{}, err
	}
	b.emit(ev)
	return common.OrderAck{OrderNo: no}, nil
}

func (b *PaperBroker) BuyMarket(_ context.Context, _, code string, qty int64) (common.OrderAck, error) {
	return b.market(code, common.SideBuy, qty)
}

func (b *PaperBroker) SellMarket(_ context.Context, _, code string, qty int64) (common.OrderAck, error) {
	return b.market(code, common.SideSell, qty)
}

func (b *PaperBroker) BuyLimit(_ context.Context, _, code string, qty int64, price float64) (common.OrderAck, error) {
	return b.limit(code, common.SideBuy, qty, price)
}

func (b *PaperBroker) SellLimit(_ context.Context, _, code string, qty int64, price float64) (common.OrderAck, error) {
	return b.limit(code, common.SideSell, qty, price)
}

func (b *PaperBroker) CancelOrder(_ context.Context, _, code, orderNo string, _ int64) (common.OrderAck, error) {
	b.mu.Lock()
	o, ok := b.open[orderNo]
	if ok {
		delete(b.open, orderNo)
	}
	b.mu.Unlock()
	if !ok {
		return common.OrderAck{}, reject(paperCodeNoOrder, "paper-cancel", fmt.Sprintf("원주문 %s 없음", orderNo))
	}
	b.emit(common.OrderEvent{Code: code, OrderNo: orderNo, Side: o.side, Status: common.StatusCanceled, Qty: o.qty, Price: o.price, Time: b.cfg.Now()})
	return common.OrderAck{OrderNo: orderNo}, nil
}

// GetInvestorFlow returns seeded pseudo-random nets.
func (b *PaperBroker) GetInvestorFlow(_ context.Context, code string) (common.InvestorFlow, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := func() int64 { return b.rng.Int63n(200_000) - 100_000 }
	return common.InvestorFlow{Code: code, Individual: n(), Foreign: n(), Institution: n()}, nil
}

func (b *PaperBroker) GetProgramFlow(_ context.Context, code string) (common.ProgramFlow, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return common.ProgramFlow{Code: code, Net: b.rng.Int63n(200_000) - 100_000}, nil
}

// Mark moves the last price of code and fills resting limit orders it
// crosses.
func (b *PaperBroker) Mark(code string, price float64) {
	if price <= 0 {
		return
	}
	b.mu.Lock()
	b.prices[code] = price
	nos := make([]string, 0, len(b.open))
	for no := range b.open {
		nos = append(nos, no)
	}
	sort.Strings(nos)
	var evs []common.OrderEvent
	for _, no := range nos {
		o := b.open[no]
		if o.code != code {
			continue
		}
		crossed := (o.side == common.SideBuy && price <= o.price) || (o.side == common.SideSell && price >= o.price)
		if !crossed {
			continue
		}
		delete(b.open, no)
		ev, err := b.fillLocked(no, code, o.side, o.qty, o.price)
		if err != nil {
			evs = append(evs, common.OrderEvent{Code: code, OrderNo: no, Side: o.side, Status: common.StatusRejected, Time: b.cfg.Now()})
			continue
		}
		evs = append(evs, ev)
	}
	b.mu.Unlock()
	b.emit(evs...)
}

// Cash returns the simulated orderable cash.
func (b *PaperBroker) Cash() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cash
}

// tickSize is the KRX price unit for a price level.
func tickSize(p float64) float64 {
	switch {
	case p < 2000:
		return 1
	case p < 5000:
		return 5
	case p < 20000:
		return 10
	case p < 50000:
		return 50
	case p < 200000:
		return 100
	case p < 500000:
		return 500
	}
	return 1000
}
