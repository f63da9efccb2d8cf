package universe

import (
	"time"

	"kiwoom-core/internal/indicators"
	"kiwoom-core/pkg/exchanges/common"
)

// Status is the per-symbol execution state.
type Status string

const (
	StatusWatch         Status = "watch"
	StatusBuying        Status = "buying"
	StatusBuySubmitted  Status = "buy_submitted"
	StatusHolding       Status = "holding"
	StatusTrailing      Status = "trailing"
	StatusSelling       Status = "selling"
	StatusSellSubmitted Status = "sell_submitted"
	StatusCooldown      Status = "cooldown"
	StatusSyncFailed    Status = "sync_failed"
)

// Outstanding reports whether an order is in flight or the code is latched;
// no new order may be issued in these states.
func (s Status) Outstanding() bool {
	switch s {
	case StatusBuying, StatusBuySubmitted, StatusSelling, StatusSellSubmitted, StatusSyncFailed:
		return true
	}
	return false
}

// ExternalStatus is the freshness state of investor/program flow.
type ExternalStatus string

const (
	ExternalIdle       ExternalStatus = "idle"
	ExternalRefreshing ExternalStatus = "refreshing"
	ExternalFresh      ExternalStatus = "fresh"
	ExternalError      ExternalStatus = "error"
	ExternalDisabled   ExternalStatus = "disabled"
)

// ATRPeriod is the lookback used for ATR stops and sizing.
const ATRPeriod = 14

// Symbol is everything the core knows about one code.
type Symbol struct {
	Code   string
	Name   string
	Market common.Market
	Sector string

	Current       float64
	Ask           float64
	Bid           float64
	CurrentVolume int64
	Timestamp     time.Time

	PriceHistory  *Ring // daily closes, then one value per tick
	MinutePrices  *Ring // minute closes, rolled on minute change
	HighHistory   *Ring // daily highs
	LowHistory    *Ring // daily lows
	VolumeHistory *Ring // daily volumes
	DailyCloses   *Ring // daily closes aligned with High/LowHistory

	TodayOpen   float64
	PrevClose   float64
	PrevHigh    float64
	PrevLow     float64
	AvgVolume5  float64
	AvgVolume20 float64
	AvgValue20  float64
	Target      float64

	Held                int64
	BuyPrice            float64
	InvestAmount        float64
	MaxProfitRate       float64
	PartialProfitLevels map[int]bool
	BuyTime             time.Time

	Status        Status
	CooldownUntil time.Time
	BreakoutHits  int

	InvestorNet       int64
	ProgramNet        int64
	ExternalUpdatedAt time.Time
	ExternalStatus    ExternalStatus
	ExternalError     string

	// Pre-populated by an external scorer; read by factor primaries.
	MomentumScore float64
	FactorScore   float64
	PairSpreadZ   float64

	lastMinute time.Time
}

// NewSymbol creates an empty watch-state record.
func NewSymbol(code string, capacity, slack int) *Symbol {
	return &Symbol{
		Code:                code,
		PriceHistory:        NewRing(capacity, slack),
		MinutePrices:        NewRing(capacity, slack),
		HighHistory:         NewRing(capacity, slack),
		LowHistory:          NewRing(capacity, slack),
		VolumeHistory:       NewRing(capacity, slack),
		DailyCloses:         NewRing(capacity, slack),
		PartialProfitLevels: make(map[int]bool),
		Status:              StatusWatch,
		ExternalStatus:      ExternalIdle,
	}
}

// SeedDaily loads daily bars (oldest first) and derives the daily fields.
// The last bar is treated as today when its date equals today.
func (s *Symbol) SeedDaily(bars []common.Bar, today time.Time) {
	closes := make([]float64, 0, len(bars))
	highs := make([]float64, 0, len(bars))
	lows := make([]float64, 0, len(bars))
	vols := make([]float64, 0, len(bars))
	for _, b := range bars {
		closes = append(closes, b.Close)
		highs = append(highs, b.High)
		lows = append(lows, b.Low)
		vols = append(vols, float64(b.Volume))
	}
	s.PriceHistory.Seed(closes)
	s.DailyCloses.Seed(closes)
	s.HighHistory.Seed(highs)
	s.LowHistory.Seed(lows)
	s.VolumeHistory.Seed(vols)

	prev := bars
	if n := len(bars); n > 0 && sameDay(bars[n-1].Time, today) {
		if s.TodayOpen == 0 {
			s.TodayOpen = bars[n-1].Open
		}
		prev = bars[:n-1]
	}
	if n := len(prev); n > 0 {
		p := prev[n-1]
		s.PrevHigh, s.PrevLow, s.PrevClose = p.High, p.Low, p.Close
	}
	s.AvgVolume5 = avgVolume(prev, 5)
	s.AvgVolume20 = avgVolume(prev, 20)
	s.AvgValue20 = avgValue(prev, 20)
}

// SeedMinutes loads minute closes (oldest first).
func (s *Symbol) SeedMinutes(bars []common.Bar) {
	closes := make([]float64, 0, len(bars))
	for _, b := range bars {
		closes = append(closes, b.Close)
	}
	s.MinutePrices.Seed(closes)
	if n := len(bars); n > 0 {
		s.lastMinute = bars[n-1].Time.Truncate(time.Minute)
	}
}

// ApplyQuote sets identity and the opening snapshot.
func (s *Symbol) ApplyQuote(q common.Quote) {
	if q.Name != "" {
		s.Name = q.Name
	}
	s.Market = q.Market
	s.Sector = q.Sector
	s.Current = q.Current
	s.Ask, s.Bid = q.Ask, q.Bid
	s.CurrentVolume = q.Volume
	if q.Open > 0 {
		s.TodayOpen = q.Open
	}
	if q.PrevClose > 0 && s.PrevClose == 0 {
		s.PrevClose = q.PrevClose
	}
}

// ComputeTarget sets Target = TodayOpen + k·(PrevHigh − PrevLow).
func (s *Symbol) ComputeTarget(k float64) float64 {
	if s.TodayOpen <= 0 || s.PrevHigh <= 0 {
		s.Target = 0
		return 0
	}
	s.Target = s.TodayOpen + k*(s.PrevHigh-s.PrevLow)
	return s.Target
}

// ATR is Wilder's ATR over the daily bars.
func (s *Symbol) ATR() float64 {
	return indicators.ATR(s.HighHistory.Values(), s.LowHistory.Values(), s.DailyCloses.Values(), ATRPeriod)
}

// Series exposes the histories to the indicator layer.
func (s *Symbol) Series() indicators.Series {
	return indicators.Series{
		Closes:  s.PriceHistory.Values(),
		Minutes: s.MinutePrices.Values(),
		Highs:   s.HighHistory.Values(),
		Lows:    s.LowHistory.Values(),
		Daily:   s.DailyCloses.Values(),
	}
}

// ProfitRate is the unrealized return in percent, 0 when flat.
func (s *Symbol) ProfitRate() float64 {
	if s.Held <= 0 || s.BuyPrice <= 0 || s.Current <= 0 {
		return 0
	}
	return (s.Current - s.BuyPrice) / s.BuyPrice * 100
}

// SpreadPct is (ask − bid)/mid in percent, 0 when the book is absent.
func (s *Symbol) SpreadPct() float64 {
	if s.Ask <= 0 || s.Bid <= 0 {
		return 0
	}
	mid := (s.Ask + s.Bid) / 2
	return (s.Ask - s.Bid) / mid * 100
}

// ClearHolding resets the holding fields after a full exit.
func (s *Symbol) ClearHolding() {
	s.Held = 0
	s.BuyPrice = 0
	s.InvestAmount = 0
	s.MaxProfitRate = 0
	s.PartialProfitLevels = make(map[int]bool)
	s.BuyTime = time.Time{}
}

// InCooldown reports whether re-entry is still blocked at now.
func (s *Symbol) InCooldown(now time.Time) bool {
	return !s.CooldownUntil.IsZero() && now.Before(s.CooldownUntil)
}

// ExternalAge returns how old the flow data is; ok is false when never fetched.
func (s *Symbol) ExternalAge(now time.Time) (time.Duration, bool) {
	if s.ExternalUpdatedAt.IsZero() {
		return 0, false
	}
	return now.Sub(s.ExternalUpdatedAt), true
}

func sameDay(a, b time.Time) bool {
	if a.IsZero() || b.IsZero() {
		return false
	}
	ay, am, ad := a.Date()
	by, bm, bd := b.In(a.Location()).Date()
	return ay == by && am == bm && ad == bd
}

func avgVolume(bars []common.Bar, n int) float64 {
	if len(bars) < n {
		n = len(bars)
	}
	if n == 0 {
		return 0
	}
	var sum float64
	for _, b := range bars[len(bars)-n:] {
		sum += float64(b.Volume)
	}
	return sum / float64(n)
}

func avgValue(bars []common.Bar, n int) float64 {
	if len(bars) < n {
		n = len(bars)
	}
	if n == 0 {
		return 0
	}
	var sum float64
	for _, b := range bars[len(bars)-n:] {
		sum += float64(b.Volume) * b.Close
	}
	return sum / float64(n)
}
