package metrics

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestMarketMetricsFillRate(t *testing.T) {
	m := NewMarketMetrics("test", "Test?")
	m.TotalOrders = 100
	m.TotalFills = 25
	if !m.FillRate().Equal(decimal.NewFromFloat(0.25)) {
		t.Errorf("expected fill rate 0.25, got %s", m.FillRate())
	}
}

func TestMarketMetricsUptime(t *testing.T) {
	m := NewMarketMetrics("test", "Test?")
	for i := 0; i < 80; i++ {
		m.RecordTick(true)
	}
	for i := 0; i < 20; i++ {
		m.RecordTick(false)
	}
	if !m.UptimePct().Equal(decimal.NewFromInt(80)) {
		t.Errorf("expected uptime 80%%, got %s", m.UptimePct())
	}
}

func TestMarketMetricsFillRateNoOrders(t *testing.T) {
	m := NewMarketMetrics("test", "Test?")
	if !m.FillRate().IsZero() {
		t.Errorf("expected zero fill rate with no orders, got %s", m.FillRate())
	}
}

func TestPortfolioTotalPnL(t *testing.T) {
	p := NewPortfolioMetrics()
	m1 := p.MarketFor("a", "Q1")
	m1.SpreadPnL = decimal.NewFromInt(10)
	m1.RewardPnL = decimal.NewFromInt(5)
	m2 := p.MarketFor("b", "Q2")
	m2.SpreadPnL = decimal.NewFromInt(3)
	m2.RewardPnL = decimal.NewFromInt(2)
	m2.RebatePnL = decimal.NewFromInt(1)

	if !p.TotalPnL().Equal(decimal.NewFromInt(21)) {
		t.Errorf("expected total pnl 21, got %s", p.TotalPnL())
	}
}

func TestPortfolioAvgFillRateIgnoresZeroOrderMarkets(t *testing.T) {
	p := NewPortfolioMetrics()
	m1 := p.MarketFor("a", "Q1")
	m1.TotalOrders = 10
	m1.TotalFills = 5
	p.MarketFor("b", "Q2") // never placed an order

	if !p.AvgFillRate().Equal(decimal.NewFromFloat(0.5)) {
		t.Errorf("expected avg fill rate 0.5 (market b excluded), got %s", p.AvgFillRate())
	}
}

func TestMarketForIsIdempotent(t *testing.T) {
	p := NewPortfolioMetrics()
	m1 := p.MarketFor("a", "Q1")
	m1.TotalFills = 7
	m2 := p.MarketFor("a", "Q1")
	if m2.TotalFills != 7 {
		t.Errorf("expected second MarketFor to return the same record, got fills=%d", m2.TotalFills)
	}
}
