package common

import "time"

// KST is the exchange timezone. A fixed zone avoids depending on tzdata.
var KST = time.FixedZone("KST", 9*60*60)

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Korean trade-record labels used in journals and notifications.
const (
	LabelBuy  = "매수"
	LabelSell = "매도"
)

// Label returns the Korean trade label for the side.
func (s Side) Label() string {
	if s == SideSell {
		return LabelSell
	}
	return LabelBuy
}

// OrderType denotes the order types the core sends.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus is the status carried by realtime order events.
type OrderStatus string

const (
	StatusAccepted OrderStatus = "접수"
	StatusFilled   OrderStatus = "체결"
	StatusCanceled OrderStatus = "취소"
	StatusRejected OrderStatus = "거부"
	StatusFailed   OrderStatus = "실패"
)

// Market is the listing market of a stock.
type Market string

const (
	MarketKOSPI  Market = "KOSPI"
	MarketKOSDAQ Market = "KOSDAQ"
)

// Quote is a point-in-time snapshot of a stock.
type Quote struct {
	Code      string
	Name      string
	Market    Market
	Sector    string
	Current   float64
	Open      float64
	High      float64
	Low       float64
	PrevClose float64
	Volume    int64
	Ask       float64
	Bid       float64
}

// Bar is one OHLCV candle. Bars are returned oldest first.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// OrderBook holds the best levels of the book.
type OrderBook struct {
	Code string
	Asks []BookLevel // best first
	Bids []BookLevel // best first
}

// BookLevel is a price level.
type BookLevel struct {
	Price float64
	Qty   int64
}

// AccountInfo is the cash side of an account.
type AccountInfo struct {
	Account     string
	Deposit     float64 // orderable cash
	TotalEquity float64 // cash + evaluated holdings
}

// Position is a holding reported by the broker.
type Position struct {
	Code     string
	Name     string
	Qty      int64
	AvgPrice float64
	Current  float64
}

// OrderAck is the broker acknowledgement of an order.
type OrderAck struct {
	OrderNo string
}

// InvestorFlow holds net buy quantities by investor type for the day.
type InvestorFlow struct {
	Code        string
	Individual  int64
	Foreign     int64
	Institution int64
}

// Net is the combined individual+foreign+institution net.
func (f InvestorFlow) Net() int64 {
	return f.Individual + f.Foreign + f.Institution
}

// ProgramFlow holds program trading net buy quantity.
type ProgramFlow struct {
	Code string
	Net  int64
}

// Tick is a realtime trade print.
type Tick struct {
	Code   string
	Price  float64
	Volume int64 // cumulative day volume; 0 when absent
	Ask    float64
	Bid    float64
	Time   time.Time
}

// OrderEvent is a realtime order status update.
type OrderEvent struct {
	Code    string
	OrderNo string
	Side    Side
	Status  OrderStatus
	Qty     int64
	Price   float64
	Time    time.Time
}

// IsFill reports whether the event signals executed quantity.
func (e OrderEvent) IsFill() bool {
	return e.Status == StatusFilled || (e.Qty > 0 && e.Status != StatusAccepted)
}

// StreamState describes the realtime connection.
type StreamState string

const (
	StreamConnecting   StreamState = "connecting"
	StreamConnected    StreamState = "connected"
	StreamReconnecting StreamState = "reconnecting"
	StreamFailed       StreamState = "failed"
	StreamClosed       StreamState = "closed"
)
