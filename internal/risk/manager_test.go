package risk

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/internal/config"
)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxTotalCapital: 2000,
		MaxPerMarket:    500,
		KillSwitchLoss:  100,
	}
}

func newTestManager() *Manager {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewManager(testRiskConfig(), logger)
}

func TestProcessReportUnderLimits(t *testing.T) {
	t.Parallel()
	rm := newTestManager()

	rm.processReport(PositionReport{
		MarketID:  "m1",
		Inventory: MarketInventory{YesTokens: d("10")},
		Midpoint:  d("0.50"),
		Timestamp: time.Now(),
	})

	if rm.killSwitchActive {
		t.Error("kill switch should not fire for a small position")
	}

	select {
	case sig := <-rm.killCh:
		t.Errorf("unexpected kill signal: %+v", sig)
	default:
	}
}

// S5 — Kill switch. one market with yes=1000, bought@0.60, midpoint=0.40,
// threshold=100 -> PnL = -200; kill switch triggers.
func TestProcessReportKillSwitchS5(t *testing.T) {
	t.Parallel()
	rm := newTestManager()

	rm.processReport(PositionReport{
		MarketID: "m1",
		Inventory: MarketInventory{
			YesTokens:        d("1000"),
			TotalBoughtValue: d("600"), // 1000 * 0.60
		},
		Midpoint:  d("0.40"),
		Timestamp: time.Now(),
	})

	if !rm.killSwitchActive {
		t.Fatal("kill switch should fire: PnL -200 breaches -100 threshold")
	}

	select {
	case sig := <-rm.killCh:
		if sig.MarketID != "" {
			t.Errorf("kill signal should be global (empty MarketID), got %q", sig.MarketID)
		}
	default:
		t.Error("expected kill signal on channel")
	}
}

func TestKillSwitchMonotonicity(t *testing.T) {
	t.Parallel()
	rm := newTestManager()

	rm.processReport(PositionReport{
		MarketID:  "m1",
		Inventory: MarketInventory{YesTokens: d("10")},
		Midpoint:  d("0.50"),
		Timestamp: time.Now(),
	})
	if rm.IsKillSwitchActive() {
		t.Fatal("should not be active yet")
	}

	// Adding a losing market must never move it back to false.
	rm.processReport(PositionReport{
		MarketID: "m2",
		Inventory: MarketInventory{
			YesTokens:        d("1000"),
			TotalBoughtValue: d("600"),
		},
		Midpoint:  d("0.40"),
		Timestamp: time.Now(),
	})
	if !rm.IsKillSwitchActive() {
		t.Fatal("kill switch should now be active")
	}

	rm.processReport(PositionReport{
		MarketID:  "m1",
		Inventory: MarketInventory{YesTokens: d("10")},
		Midpoint:  d("0.50"),
		Timestamp: time.Now(),
	})
	if !rm.IsKillSwitchActive() {
		t.Fatal("kill switch must not clear itself on a later, unrelated, non-losing report")
	}
}

func TestRemoveMarketRecomputes(t *testing.T) {
	t.Parallel()
	rm := newTestManager()

	rm.processReport(PositionReport{
		MarketID: "m1",
		Inventory: MarketInventory{
			YesTokens:        d("1000"),
			TotalBoughtValue: d("600"),
		},
		Midpoint:  d("0.40"),
		Timestamp: time.Now(),
	})
	if !rm.IsKillSwitchActive() {
		t.Fatal("expected kill switch active")
	}

	rm.RemoveMarket("m1")

	invs, _ := rm.Snapshot()
	if len(invs) != 0 {
		t.Fatalf("expected empty inventory snapshot after remove, got %d entries", len(invs))
	}
	if rm.IsKillSwitchActive() {
		t.Error("kill switch should clear once the losing market is removed")
	}
}

func TestReset(t *testing.T) {
	t.Parallel()
	rm := newTestManager()
	rm.killSwitchActive = true
	rm.Reset()
	if rm.IsKillSwitchActive() {
		t.Error("Reset should clear the kill switch")
	}
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}
