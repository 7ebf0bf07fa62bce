// Package market discovers tradeable binary markets via the Gamma API and
// ranks them by liquidity-reward opportunity, grounded on
// original_source/scanner.rs's scan_markets/rank_markets.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"polymarket-mm/internal/config"
	"polymarket-mm/pkg/types"
)

// GammaMarket is the JSON shape returned by the Gamma API's /markets
// endpoint. Money and size fields arrive as strings so they round-trip
// through decimal.Decimal without a binary-float layover.
type GammaMarket struct {
	ID                    string `json:"id"`
	Question              string `json:"question"`
	ConditionID           string `json:"conditionId"`
	Slug                  string `json:"slug"`
	Active                bool   `json:"active"`
	Closed                bool   `json:"closed"`
	AcceptingOrders       bool   `json:"acceptingOrders"`
	EndDate               string `json:"endDate"`
	Liquidity             string `json:"liquidity"`
	Volume24hr            string `json:"volume24hr"`
	ClobTokenIds          string `json:"clobTokenIds"` // JSON-encoded array of two token IDs
	NegRisk               bool   `json:"negRisk"`
	Spread                string `json:"spread"`
	BestBid               string `json:"bestBid"`
	BestAsk               string `json:"bestAsk"`
	LastTradePrice        string `json:"lastTradePrice"`
	OrderPriceMinTickSize string `json:"orderPriceMinTickSize"`
	OrderMinSize          string `json:"orderMinSize"`
	RewardsMinSize        string `json:"rewardsMinSize"`
	RewardsMaxSpread      string `json:"rewardsMaxSpread"`
	// Competitive is used as a proxy for daily liquidity-reward attractiveness,
	// the same stand-in original_source/scanner.rs uses in the absence of a
	// direct rewards-per-day field on the Gamma payload.
	Competitive  string `json:"competitive"`
	TakerBaseFee *int   `json:"takerBaseFeeBps"`
}

// Scanner polls the Gamma API to discover eligible markets and ranks them by
// opportunity score (see types.MarketInfo.OpportunityScore).
type Scanner struct {
	httpClient *resty.Client
	cfg        config.MarketsConfig
	logger     *slog.Logger
}

// NewScanner builds a Scanner against the configured Gamma API base URL.
func NewScanner(apiCfg config.APIConfig, marketsCfg config.MarketsConfig, logger *slog.Logger) *Scanner {
	client := resty.New().
		SetBaseURL(apiCfg.GammaBaseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)

	return &Scanner{
		httpClient: client,
		cfg:        marketsCfg,
		logger:     logger,
	}
}

// Scan fetches all open, active markets from the Gamma API, converts the
// eligible ones into types.MarketInfo, and returns them sorted by
// OpportunityScore descending. It does not apply the minimum-reward or
// max-markets filters — use RankMarkets for that.
func (s *Scanner) Scan(ctx context.Context) ([]types.MarketInfo, error) {
	raw, err := s.fetchMarkets(ctx)
	if err != nil {
		return nil, err
	}

	markets := make([]types.MarketInfo, 0, len(raw))
	for _, gm := range raw {
		info, ok := convertToMarketInfo(gm)
		if !ok {
			continue
		}
		markets = append(markets, info)
	}

	sort.SliceStable(markets, func(i, j int) bool {
		return markets[i].OpportunityScore().GreaterThan(markets[j].OpportunityScore())
	})

	s.logger.Info("scan complete", "fetched", len(raw), "eligible", len(markets))
	return markets, nil
}

func (s *Scanner) fetchMarkets(ctx context.Context) ([]GammaMarket, error) {
	var allMarkets []GammaMarket
	offset := 0
	const limit = 100

	for {
		var page []GammaMarket
		resp, err := s.httpClient.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"limit":  strconv.Itoa(limit),
				"offset": strconv.Itoa(offset),
				"closed": "false",
			}).
			SetResult(&page).
			Get("/markets")
		if err != nil {
			return nil, fmt.Errorf("fetch markets page at offset %d: %w", offset, err)
		}
		if resp.StatusCode() != 200 {
			return nil, fmt.Errorf("fetch markets: status %d", resp.StatusCode())
		}

		allMarkets = append(allMarkets, page...)

		if len(page) < limit {
			break
		}
		offset += limit
	}

	return allMarkets, nil
}

// convertToMarketInfo applies the hard eligibility filters (active, not
// closed, accepting orders, at least two CLOB token IDs) and maps a
// GammaMarket onto the internal types.MarketInfo. The second return value
// is false when the market should be dropped.
func convertToMarketInfo(gm GammaMarket) (types.MarketInfo, bool) {
	if !gm.Active || gm.Closed || !gm.AcceptingOrders {
		return types.MarketInfo{}, false
	}

	var tokenIDs []string
	if err := json.Unmarshal([]byte(gm.ClobTokenIds), &tokenIDs); err != nil || len(tokenIDs) < 2 {
		return types.MarketInfo{}, false
	}

	tick := types.Tick001
	if gm.OrderPriceMinTickSize != "" {
		tick = types.TickSize(gm.OrderPriceMinTickSize)
	}

	endDate, _ := time.Parse(time.RFC3339, gm.EndDate)

	feeRateBps := 0
	if gm.TakerBaseFee != nil {
		feeRateBps = *gm.TakerBaseFee
	}

	return types.MarketInfo{
		ID:          gm.ID,
		ConditionID: gm.ConditionID,
		Slug:        gm.Slug,
		Question:    gm.Question,

		YesTokenID: tokenIDs[0],
		NoTokenID:  tokenIDs[1],

		TickSize:     tick,
		MinOrderSize: decString(gm.OrderMinSize),
		NegRisk:      gm.NegRisk,

		Active:          gm.Active,
		Closed:          gm.Closed,
		AcceptingOrders: gm.AcceptingOrders,
		EndDate:         endDate,
		Liquidity:       decString(gm.Liquidity),
		Volume24h:       decString(gm.Volume24hr),
		RewardDaily:     decString(gm.Competitive),

		BestBid:        decString(gm.BestBid),
		BestAsk:        decString(gm.BestAsk),
		Spread:         decString(gm.Spread),
		LastTradePrice: decString(gm.LastTradePrice),

		FeeRateBps:       feeRateBps,
		RewardsMinSize:   decString(gm.RewardsMinSize),
		RewardsMaxSpread: decString(gm.RewardsMaxSpread),
	}, true
}

func decString(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// RankMarkets filters pre-scored, pre-sorted markets down to those meeting
// minDailyReward, capped at maxCount. markets must already be sorted by
// OpportunityScore descending (as returned by Scan).
func RankMarkets(markets []types.MarketInfo, minDailyReward decimal.Decimal, maxCount int) []types.MarketInfo {
	ranked := make([]types.MarketInfo, 0, maxCount)
	for _, m := range markets {
		if m.RewardDaily.LessThan(minDailyReward) {
			continue
		}
		ranked = append(ranked, m)
		if len(ranked) >= maxCount {
			break
		}
	}
	return ranked
}
