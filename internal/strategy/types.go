package strategy

import (
	"time"

	"kiwoom-core/pkg/exchanges/common"
)

// Direction is the side a primary strategy wants to take.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
	Flat  Direction = "flat"
)

// Signal is what a primary strategy returns.
type Signal struct {
	Passed    bool
	Direction Direction
	Strength  float64 // [0,1]
	Reason    string
}

// Check is the outcome of one entry filter or risk overlay.
type Check struct {
	Name   string  `json:"name"`
	Passed bool    `json:"passed"`
	Metric float64 `json:"metric"`
}

// Portfolio is the account-level view the risk overlays read.
type Portfolio struct {
	HoldingOrPending int
	MarketInvest     map[common.Market]float64
	SectorInvest     map[string]float64
	Equity           float64
	DailyRealized    float64
	DailyBaseline    float64
	Live             bool
}

// Decision is the verdict of a pack evaluation.
type Decision struct {
	Code      string    `json:"code"`
	Passed    bool      `json:"passed"`
	Direction Direction `json:"direction"`
	Strength  float64   `json:"strength"`
	Reason    string    `json:"reason"`
	Score     int       `json:"score"`
	Filters   []Check   `json:"filters,omitempty"`
	Overlays  []Check   `json:"overlays,omitempty"`
	At        time.Time `json:"at"`
	Cached    bool      `json:"cached"`
}

// Rejection reasons.
const (
	ReasonPassed          = "passed"
	ReasonPrimary         = "primary_not_passed"
	ReasonFilter          = "filter_failed"
	ReasonOverlay         = "risk_overlay_failed"
	ReasonScore           = "entry_score_low"
	ReasonExternalStale   = "external_data_stale"
	ReasonShortNotAllowed = "short_not_allowed"
	ReasonNotLive         = "strategy_not_live"
	ReasonUnknownPrimary  = "unknown_primary"
)
