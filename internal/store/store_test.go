package store

import (
	"testing"

	"github.com/shopspring/decimal"

	"polymarket-mm/internal/metrics"
)

func TestSaveAndLoadMetrics(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	pm := metrics.NewPortfolioMetrics()
	m := pm.MarketFor("0xabc", "Will X happen?")
	m.SpreadPnL = decimal.NewFromFloat(1.23)
	m.TotalFills = 4

	if err := s.SaveMetrics(pm); err != nil {
		t.Fatalf("SaveMetrics: %v", err)
	}

	loaded, err := s.LoadMetrics()
	if err != nil {
		t.Fatalf("LoadMetrics: %v", err)
	}
	got, ok := loaded.Markets["0xabc"]
	if !ok {
		t.Fatal("expected market 0xabc in loaded metrics")
	}
	if !got.SpreadPnL.Equal(decimal.NewFromFloat(1.23)) {
		t.Errorf("SpreadPnL = %s, want 1.23", got.SpreadPnL)
	}
	if got.TotalFills != 4 {
		t.Errorf("TotalFills = %d, want 4", got.TotalFills)
	}
}

func TestLoadMetricsMissingReturnsFresh(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	loaded, err := s.LoadMetrics()
	if err != nil {
		t.Fatalf("LoadMetrics: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected a fresh PortfolioMetrics, got nil")
	}
	if len(loaded.Markets) != 0 {
		t.Errorf("expected no markets in a fresh load, got %d", len(loaded.Markets))
	}
}

func TestSaveMetricsOverwrites(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	pm1 := metrics.NewPortfolioMetrics()
	pm1.MarketFor("a", "Q1").TotalFills = 1
	_ = s.SaveMetrics(pm1)

	pm2 := metrics.NewPortfolioMetrics()
	pm2.MarketFor("a", "Q1").TotalFills = 2
	_ = s.SaveMetrics(pm2)

	loaded, err := s.LoadMetrics()
	if err != nil {
		t.Fatalf("LoadMetrics: %v", err)
	}
	if loaded.Markets["a"].TotalFills != 2 {
		t.Errorf("TotalFills = %d, want 2 (latest save)", loaded.Markets["a"].TotalFills)
	}
}
