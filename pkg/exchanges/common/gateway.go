package common

import "context"

// Broker is the REST surface of the brokerage consumed by the core.
// Implementations must be safe for concurrent use; calls are serialized
// through a RateGate.
type Broker interface {
	TestCredentials(ctx context.Context) error
	ListAccounts(ctx context.Context) ([]string, error)

	GetQuote(ctx context.Context, code string) (Quote, error)
	GetDailyBars(ctx context.Context, code string, n int) ([]Bar, error)
	GetMinuteBars(ctx context.Context, code string, interval, n int) ([]Bar, error)
	GetOrderBook(ctx context.Context, code string) (OrderBook, error)

	GetAccountInfo(ctx context.Context, account string) (AccountInfo, error)
	GetPositions(ctx context.Context, account string) ([]Position, error)

	BuyMarket(ctx context.Context, account, code string, qty int64) (OrderAck, error)
	SellMarket(ctx context.Context, account, code string, qty int64) (OrderAck, error)
	BuyLimit(ctx context.Context, account, code string, qty int64, price float64) (OrderAck, error)
	SellLimit(ctx context.Context, account, code string, qty int64, price float64) (OrderAck, error)
	CancelOrder(ctx context.Context, account, code, orderNo string, qty int64) (OrderAck, error)

	GetInvestorFlow(ctx context.Context, code string) (InvestorFlow, error)
	GetProgramFlow(ctx context.Context, code string) (ProgramFlow, error)
}

// Stream is the realtime tick and order-event channel. Handlers are invoked
// on the stream's own goroutine; callers marshal them onto their scheduler.
type Stream interface {
	Connect(ctx context.Context) error
	Subscribe(codes []string) error
	Unsubscribe(codes []string) error
	SubscribeOrderEvents() error
	OnTick(func(Tick))
	OnOrderEvent(func(OrderEvent))
	OnState(func(StreamState))
	Close() error
}

// MaxBars is the largest bar count a single request may ask for.
const MaxBars = 100

// ClampBars bounds n to [1, MaxBars].
func ClampBars(n int) int {
	if n <= 0 {
		return 1
	}
	if n > MaxBars {
		return MaxBars
	}
	return n
}
