package strategy

type overlayFunc func(in Input, pf Portfolio) Check

var overlays = map[string]overlayFunc{
	"max_holdings":     maxHoldings,
	"market_limit":     marketLimit,
	"sector_limit":     sectorLimit,
	"daily_loss_limit": dailyLossLimit,
}

func maxHoldings(in Input, pf Portfolio) Check {
	n := float64(pf.HoldingOrPending)
	return Check{Name: "max_holdings", Passed: in.Params.MaxHoldings <= 0 || pf.HoldingOrPending < in.Params.MaxHoldings, Metric: n}
}

func exposure(invested, equity float64) float64 {
	if equity <= 0 {
		return 0
	}
	return invested / equity * 100
}

func marketLimit(in Input, pf Portfolio) Check {
	pct := exposure(pf.MarketInvest[in.Sym.Market], pf.Equity)
	return Check{Name: "market_limit", Passed: pct < in.Params.MarketLimitPct, Metric: pct}
}

func sectorLimit(in Input, pf Portfolio) Check {
	if in.Sym.Sector == "" {
		return Check{Name: "sector_limit", Passed: true}
	}
	pct := exposure(pf.SectorInvest[in.Sym.Sector], pf.Equity)
	return Check{Name: "sector_limit", Passed: pct < in.Params.SectorLimitPct, Metric: pct}
}

// DailyLossPct is realized P&L over the day's baseline in percent.
func DailyLossPct(realized, baseline float64) float64 {
	if baseline <= 0 {
		return 0
	}
	return realized / baseline * 100
}

func dailyLossLimit(in Input, pf Portfolio) Check {
	pct := DailyLossPct(pf.DailyRealized, pf.DailyBaseline)
	return Check{Name: "daily_loss_limit", Passed: in.Params.MaxDailyLoss <= 0 || pct > -in.Params.MaxDailyLoss, Metric: pct}
}
