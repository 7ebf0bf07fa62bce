package market

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/pkg/types"
)

func baseMarket() GammaMarket {
	endDate := time.Now().Add(30 * 24 * time.Hour).Format(time.RFC3339)
	return GammaMarket{
		ID:                    "m1",
		Question:              "Will X happen?",
		ConditionID:           "cond1",
		Slug:                  "test-market",
		Active:                true,
		Closed:                false,
		AcceptingOrders:       true,
		EndDate:               endDate,
		Liquidity:             "5000",
		Volume24hr:            "1000",
		Spread:                "0.05",
		BestBid:               "0.45",
		BestAsk:               "0.50",
		ClobTokenIds:          `["yes-token","no-token"]`,
		OrderPriceMinTickSize: "0.01",
		OrderMinSize:          "5",
		Competitive:           "10",
	}
}

func TestConvertToMarketInfoPassesValid(t *testing.T) {
	t.Parallel()
	info, ok := convertToMarketInfo(baseMarket())
	if !ok {
		t.Fatal("expected valid market to convert")
	}
	if info.YesTokenID != "yes-token" || info.NoTokenID != "no-token" {
		t.Errorf("token IDs not mapped: yes=%s no=%s", info.YesTokenID, info.NoTokenID)
	}
	if !info.Liquidity.Equal(decimal.NewFromInt(5000)) {
		t.Errorf("liquidity = %s, want 5000", info.Liquidity)
	}
	if info.TickSize != types.Tick001 {
		t.Errorf("tick size = %s, want 0.01", info.TickSize)
	}
}

func TestConvertToMarketInfoRejectsInactive(t *testing.T) {
	t.Parallel()
	m := baseMarket()
	m.Active = false
	if _, ok := convertToMarketInfo(m); ok {
		t.Error("expected inactive market to be rejected")
	}
}

func TestConvertToMarketInfoRejectsClosed(t *testing.T) {
	t.Parallel()
	m := baseMarket()
	m.Closed = true
	if _, ok := convertToMarketInfo(m); ok {
		t.Error("expected closed market to be rejected")
	}
}

func TestConvertToMarketInfoRejectsNotAcceptingOrders(t *testing.T) {
	t.Parallel()
	m := baseMarket()
	m.AcceptingOrders = false
	if _, ok := convertToMarketInfo(m); ok {
		t.Error("expected non-accepting market to be rejected")
	}
}

func TestConvertToMarketInfoRejectsMissingTokenIDs(t *testing.T) {
	t.Parallel()
	m := baseMarket()
	m.ClobTokenIds = ""
	if _, ok := convertToMarketInfo(m); ok {
		t.Error("expected market with no token IDs to be rejected")
	}
}

func TestConvertToMarketInfoRejectsSingleTokenID(t *testing.T) {
	t.Parallel()
	m := baseMarket()
	ids, _ := json.Marshal([]string{"only-one"})
	m.ClobTokenIds = string(ids)
	if _, ok := convertToMarketInfo(m); ok {
		t.Error("expected market with one token ID to be rejected")
	}
}

func TestConvertToMarketInfoDefaultsTickSize(t *testing.T) {
	t.Parallel()
	m := baseMarket()
	m.OrderPriceMinTickSize = ""
	info, ok := convertToMarketInfo(m)
	if !ok {
		t.Fatal("expected valid market to convert")
	}
	if info.TickSize != types.Tick001 {
		t.Errorf("default tick size = %s, want 0.01", info.TickSize)
	}
}

func makeTestMarket(question string, reward, liquidity decimal.Decimal) types.MarketInfo {
	return types.MarketInfo{
		ConditionID: "cond_" + question,
		Question:    question,
		YesTokenID:  "token_yes",
		NoTokenID:   "token_no",
		Active:      true,
		Liquidity:   liquidity,
		Volume24h:   decimal.NewFromInt(10000),
		RewardDaily: reward,
		TickSize:    types.Tick001,
	}
}

func TestRankMarketsFiltersByReward(t *testing.T) {
	t.Parallel()
	markets := []types.MarketInfo{
		makeTestMarket("A", decimal.NewFromInt(10), decimal.NewFromInt(1000)),
		makeTestMarket("B", decimal.NewFromInt(2), decimal.NewFromInt(500)),
		makeTestMarket("C", decimal.NewFromInt(20), decimal.NewFromInt(1000)),
	}
	sortByScoreDesc(markets)

	ranked := RankMarkets(markets, decimal.NewFromInt(5), 10)
	if len(ranked) != 2 {
		t.Fatalf("expected 2 ranked markets (A, C pass; B fails), got %d", len(ranked))
	}
	if ranked[0].Question != "C" {
		t.Errorf("expected C (score 200) to rank above A (score 100), got %s first", ranked[0].Question)
	}
}

func TestRankMarketsRespectsMaxCount(t *testing.T) {
	t.Parallel()
	markets := []types.MarketInfo{
		makeTestMarket("A", decimal.NewFromInt(100), decimal.NewFromInt(1000)),
		makeTestMarket("B", decimal.NewFromInt(50), decimal.NewFromInt(1000)),
		makeTestMarket("C", decimal.NewFromInt(30), decimal.NewFromInt(1000)),
	}
	sortByScoreDesc(markets)

	ranked := RankMarkets(markets, decimal.Zero, 2)
	if len(ranked) != 2 {
		t.Fatalf("expected 2 ranked markets, got %d", len(ranked))
	}
}

func sortByScoreDesc(markets []types.MarketInfo) {
	for i := 1; i < len(markets); i++ {
		for j := i; j > 0 && markets[j].OpportunityScore().GreaterThan(markets[j-1].OpportunityScore()); j-- {
			markets[j], markets[j-1] = markets[j-1], markets[j]
		}
	}
}
