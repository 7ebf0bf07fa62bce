// Package metrics tracks per-market and portfolio-wide PnL, fill rate, and
// uptime statistics, grounded on original_source/metrics.rs. Persistence is
// handled by internal/store; this package owns only the data model and the
// bookkeeping methods engines call as they tick.
package metrics

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketMetrics tracks PnL, fill rate, and uptime for a single market.
type MarketMetrics struct {
	ConditionID  string           `json:"condition_id"`
	Question     string           `json:"question"`
	SpreadPnL    decimal.Decimal  `json:"spread_pnl"`
	RewardPnL    decimal.Decimal  `json:"reward_pnl"`
	RebatePnL    decimal.Decimal  `json:"rebate_pnl"`
	TotalFills   uint64           `json:"total_fills"`
	TotalOrders  uint64           `json:"total_orders"`
	UptimeTicks  uint64           `json:"uptime_ticks"`
	TotalTicks   uint64           `json:"total_ticks"`
	InventoryYes decimal.Decimal  `json:"inventory_yes"`
	InventoryNo  decimal.Decimal  `json:"inventory_no"`
	LastMidpoint *decimal.Decimal `json:"last_midpoint,omitempty"`
	StartTime    time.Time        `json:"start_time"`
	LastUpdate   time.Time        `json:"last_update"`
}

// NewMarketMetrics creates a fresh metrics record for a market.
func NewMarketMetrics(conditionID, question string) *MarketMetrics {
	now := time.Now()
	return &MarketMetrics{
		ConditionID: conditionID,
		Question:    question,
		StartTime:   now,
		LastUpdate:  now,
	}
}

// FillRate returns total_fills / total_orders, or zero if no orders yet.
func (m *MarketMetrics) FillRate() decimal.Decimal {
	if m.TotalOrders == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(m.TotalFills)).Div(decimal.NewFromInt(int64(m.TotalOrders)))
}

// UptimePct returns the percentage of ticks where the market had live orders.
func (m *MarketMetrics) UptimePct() decimal.Decimal {
	if m.TotalTicks == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(m.UptimeTicks)).
		Div(decimal.NewFromInt(int64(m.TotalTicks))).
		Mul(decimal.NewFromInt(100))
}

// TotalPnL sums spread, reward, and rebate PnL.
func (m *MarketMetrics) TotalPnL() decimal.Decimal {
	return m.SpreadPnL.Add(m.RewardPnL).Add(m.RebatePnL)
}

// RecordTick accounts for one control-loop tick, marking it as an uptime
// tick when the market had live orders resting.
func (m *MarketMetrics) RecordTick(hadOrders bool) {
	m.TotalTicks++
	if hadOrders {
		m.UptimeTicks++
	}
	m.LastUpdate = time.Now()
}

// RecordFill accounts for one realized fill, capturing spreadCapture (the
// signed spread PnL from that single fill) into SpreadPnL.
func (m *MarketMetrics) RecordFill(spreadCapture decimal.Decimal) {
	m.TotalFills++
	m.SpreadPnL = m.SpreadPnL.Add(spreadCapture)
}

// RecordOrders accounts for count newly-placed orders.
func (m *MarketMetrics) RecordOrders(count uint64) {
	m.TotalOrders += count
}

// RecordReward accrues a liquidity-reward payout estimate.
func (m *MarketMetrics) RecordReward(amount decimal.Decimal) {
	m.RewardPnL = m.RewardPnL.Add(amount)
}

// RecordRebate accrues a maker-rebate payout estimate.
func (m *MarketMetrics) RecordRebate(amount decimal.Decimal) {
	m.RebatePnL = m.RebatePnL.Add(amount)
}

// DailyReward is one day's recorded liquidity-reward payout, actual vs.
// expected (from the holding-reward model).
type DailyReward struct {
	Date     string          `json:"date"`
	Amount   decimal.Decimal `json:"amount"`
	Expected decimal.Decimal `json:"expected"`
}

// PortfolioMetrics aggregates MarketMetrics across all currently and
// previously tracked markets, persisted as a single JSON file by
// internal/store.
type PortfolioMetrics struct {
	Markets      map[string]*MarketMetrics `json:"markets"`
	DailyRewards []DailyReward             `json:"daily_rewards"`
	SessionStart time.Time                 `json:"session_start"`
}

// NewPortfolioMetrics creates an empty portfolio-wide metrics record.
func NewPortfolioMetrics() *PortfolioMetrics {
	return &PortfolioMetrics{
		Markets:      make(map[string]*MarketMetrics),
		SessionStart: time.Now(),
	}
}

// MarketFor returns the MarketMetrics for conditionID, creating one (and
// registering it) on first access.
func (p *PortfolioMetrics) MarketFor(conditionID, question string) *MarketMetrics {
	if p.Markets == nil {
		p.Markets = make(map[string]*MarketMetrics)
	}
	m, ok := p.Markets[conditionID]
	if !ok {
		m = NewMarketMetrics(conditionID, question)
		p.Markets[conditionID] = m
	}
	return m
}

// TotalPnL sums TotalPnL across every tracked market.
func (p *PortfolioMetrics) TotalPnL() decimal.Decimal {
	total := decimal.Zero
	for _, m := range p.Markets {
		total = total.Add(m.TotalPnL())
	}
	return total
}

// TotalSpreadPnL sums SpreadPnL across every tracked market.
func (p *PortfolioMetrics) TotalSpreadPnL() decimal.Decimal {
	total := decimal.Zero
	for _, m := range p.Markets {
		total = total.Add(m.SpreadPnL)
	}
	return total
}

// TotalRewardPnL sums RewardPnL across every tracked market.
func (p *PortfolioMetrics) TotalRewardPnL() decimal.Decimal {
	total := decimal.Zero
	for _, m := range p.Markets {
		total = total.Add(m.RewardPnL)
	}
	return total
}

// TotalFills sums TotalFills across every tracked market.
func (p *PortfolioMetrics) TotalFills() uint64 {
	var total uint64
	for _, m := range p.Markets {
		total += m.TotalFills
	}
	return total
}

// AvgFillRate averages FillRate over markets that have placed at least one
// order, or zero if none have.
func (p *PortfolioMetrics) AvgFillRate() decimal.Decimal {
	sum := decimal.Zero
	n := 0
	for _, m := range p.Markets {
		if m.TotalOrders == 0 {
			continue
		}
		sum = sum.Add(m.FillRate())
		n++
	}
	if n == 0 {
		return decimal.Zero
	}
	return sum.Div(decimal.NewFromInt(int64(n)))
}

// AvgUptime averages UptimePct over markets that have ticked at least once,
// or zero if none have.
func (p *PortfolioMetrics) AvgUptime() decimal.Decimal {
	sum := decimal.Zero
	n := 0
	for _, m := range p.Markets {
		if m.TotalTicks == 0 {
			continue
		}
		sum = sum.Add(m.UptimePct())
		n++
	}
	if n == 0 {
		return decimal.Zero
	}
	return sum.Div(decimal.NewFromInt(int64(n)))
}
