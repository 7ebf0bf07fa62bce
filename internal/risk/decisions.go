package risk

import "github.com/shopspring/decimal"

// QuoteSideKind enumerates what inventory_check permits for one side of a
// market's quotes this tick.
type QuoteSideKind int

const (
	Normal QuoteSideKind = iota
	Adjusted
	Paused
)

// QuoteSideDecision is the per-side outcome of InventoryCheck. Multiplier is
// only meaningful when Kind == Adjusted; it scales that side's order size.
type QuoteSideDecision struct {
	Kind       QuoteSideKind
	Multiplier decimal.Decimal
}

func normal() QuoteSideDecision {
	return QuoteSideDecision{Kind: Normal}
}

func paused() QuoteSideDecision {
	return QuoteSideDecision{Kind: Paused}
}

func adjusted(mult decimal.Decimal) QuoteSideDecision {
	return QuoteSideDecision{Kind: Adjusted, Multiplier: mult}
}

var (
	half = decimal.NewFromFloat(0.5)
	one  = decimal.NewFromInt(1)
)

// InventoryCheck decides, per side, whether quoting should proceed normally,
// at an adjusted size, or be paused, based on net position relative to the
// configured inventory cap.
//
//	ratio = net / cap  (cap == 0 returns Normal/Normal)
//	ratio >= 1:             bid Paused,            ask Adjusted x0.5
//	ratio <= -1:            bid Adjusted x0.5,      ask Paused
//	0.5 < ratio < 1:        bid Adjusted x(1+ratio), ask Adjusted x(1/(1+ratio))
//	-1 < ratio < -0.5:      bid Adjusted x(1/(1+|ratio|)), ask Adjusted x(1+|ratio|)
//	else:                   Normal/Normal
func InventoryCheck(inv MarketInventory, inventoryCap decimal.Decimal) (bid, ask QuoteSideDecision) {
	if inventoryCap.IsZero() {
		return normal(), normal()
	}

	ratio := inv.NetPosition().Div(inventoryCap)

	switch {
	case ratio.GreaterThanOrEqual(one):
		return paused(), adjusted(half)
	case ratio.LessThanOrEqual(one.Neg()):
		return adjusted(half), paused()
	case ratio.GreaterThan(half) && ratio.LessThan(one):
		return adjusted(one.Add(ratio)), adjusted(one.Div(one.Add(ratio)))
	case ratio.LessThan(half.Neg()) && ratio.GreaterThan(one.Neg()):
		absRatio := ratio.Abs()
		return adjusted(one.Div(one.Add(absRatio))), adjusted(one.Add(absRatio))
	default:
		return normal(), normal()
	}
}

// ShouldKillSwitch is true iff the sum of unrealized PnL across all markets
// (at each market's current midpoint) is below -killSwitchLoss.
func ShouldKillSwitch(inventories map[string]MarketInventory, midpoints map[string]decimal.Decimal, killSwitchLoss decimal.Decimal) bool {
	total := decimal.Zero
	for id, inv := range inventories {
		mid, ok := midpoints[id]
		if !ok {
			mid = half
		}
		total = total.Add(inv.UnrealizedPnL(mid))
	}
	return total.LessThan(killSwitchLoss.Neg())
}

// AllocateCapital distributes total capital across markets proportionally
// to score, each capped at maxEach. If every score is zero, capital is split
// equally (also capped). Residual left over after capping is NOT
// redistributed — this is documented, intentional behavior.
func AllocateCapital(scores map[string]decimal.Decimal, total, maxEach decimal.Decimal) map[string]decimal.Decimal {
	result := make(map[string]decimal.Decimal, len(scores))
	if len(scores) == 0 {
		return result
	}

	sum := decimal.Zero
	for _, s := range scores {
		sum = sum.Add(s)
	}

	if sum.IsZero() {
		equal := decimal.Min(total.Div(decimal.NewFromInt(int64(len(scores)))), maxEach)
		for id := range scores {
			result[id] = equal
		}
		return result
	}

	for id, s := range scores {
		share := total.Mul(s).Div(sum)
		result[id] = decimal.Min(share, maxEach)
	}
	return result
}

// HoldingRewardFactor estimates the APY-style reward factor for holding a
// near-certain position until resolution. Confidence is m when m > 0.85,
// 1-m when m < 0.15, else 0 (markets near 50/50 earn nothing this way).
// Returns confidence * 0.04/365 * days.
func HoldingRewardFactor(midpoint decimal.Decimal, days decimal.Decimal) decimal.Decimal {
	highThreshold := decimal.NewFromFloat(0.85)
	lowThreshold := decimal.NewFromFloat(0.15)

	var confidence decimal.Decimal
	switch {
	case midpoint.GreaterThan(highThreshold):
		confidence = midpoint
	case midpoint.LessThan(lowThreshold):
		confidence = one.Sub(midpoint)
	default:
		return decimal.Zero
	}

	annualRate := decimal.NewFromFloat(0.04).Div(decimal.NewFromInt(365))
	return confidence.Mul(annualRate).Mul(days)
}
