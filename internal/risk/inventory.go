package risk

import "github.com/shopspring/decimal"

// MarketInventory tracks holdings for one market as monotonic value
// accumulators rather than an average-entry-price model: yes_tokens and
// no_tokens move in both directions as fills arrive, but total_bought_value
// and total_sold_value only ever increase.
type MarketInventory struct {
	YesTokens        decimal.Decimal `json:"yes_tokens"`
	NoTokens         decimal.Decimal `json:"no_tokens"`
	TotalBoughtValue decimal.Decimal `json:"total_bought_value"`
	TotalSoldValue   decimal.Decimal `json:"total_sold_value"`
}

// NetPosition returns yes_tokens - no_tokens.
func (inv MarketInventory) NetPosition() decimal.Decimal {
	return inv.YesTokens.Sub(inv.NoTokens)
}

// UnrealizedPnL at midpoint m: yes*m + no*(1-m) + sold - bought.
func (inv MarketInventory) UnrealizedPnL(midpoint decimal.Decimal) decimal.Decimal {
	yesValue := inv.YesTokens.Mul(midpoint)
	noValue := inv.NoTokens.Mul(decimal.NewFromInt(1).Sub(midpoint))
	return yesValue.Add(noValue).Add(inv.TotalSoldValue).Sub(inv.TotalBoughtValue)
}

// ApplyFill credits a filled quantity at a price to the appropriate side.
// isYes distinguishes the YES vs NO token; isBuy distinguishes accumulating
// tokens (buy) from realizing sold value (sell).
func (inv *MarketInventory) ApplyFill(isYes, isBuy bool, filled, price decimal.Decimal) {
	value := filled.Mul(price)
	if isBuy {
		inv.TotalBoughtValue = inv.TotalBoughtValue.Add(value)
		if isYes {
			inv.YesTokens = inv.YesTokens.Add(filled)
		} else {
			inv.NoTokens = inv.NoTokens.Add(filled)
		}
	} else {
		inv.TotalSoldValue = inv.TotalSoldValue.Add(value)
		if isYes {
			inv.YesTokens = inv.YesTokens.Sub(filled)
		} else {
			inv.NoTokens = inv.NoTokens.Sub(filled)
		}
	}
}
