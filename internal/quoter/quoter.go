// Package quoter implements the fee-aware, tick-aligned quoting math for
// binary prediction markets. Every function here is pure: no I/O, no
// locks, no goroutines. Callers (internal/engine) own all mutable state
// and concurrency.
package quoter

import (
	"github.com/shopspring/decimal"
)

var (
	one     = decimal.NewFromInt(1)
	two     = decimal.NewFromInt(2)
	three   = decimal.NewFromInt(3)
	zero    = decimal.Zero
	tenK    = decimal.NewFromInt(10000)
	halfD   = decimal.NewFromFloat(0.5)
	tenth   = decimal.NewFromFloat(0.1)
	defaultMaxSpread = decimal.NewFromFloat(0.05)
)

// OffsetParams bundles the inputs to ComputeOffset.
type OffsetParams struct {
	BaseOffset decimal.Decimal // base_offset_cents / 100
	MinOffset  decimal.Decimal // min_offset_cents / 100
	Midpoint   decimal.Decimal
	FeeRateBps int  // taker fee rate in basis points; 0 means "not given"
	HasFee     bool // true if the market reports a fee rate at all
}

// ComputeOffset returns the baseline one-sided distance from midpoint in
// price units.
//
//	base = base_offset_cents / 100
//	if fee rate f (bps) is given: fee_at_mid = (f/10000) * m * (1-m)
//	                              return max(min_offset, fee_at_mid/2 + base)
//	else: return max(min_offset, base)
func ComputeOffset(p OffsetParams) decimal.Decimal {
	if !p.HasFee || p.FeeRateBps == 0 {
		return decimal.Max(p.MinOffset, p.BaseOffset)
	}

	feeRate := decimal.NewFromInt(int64(p.FeeRateBps)).Div(tenK)
	feeAtMid := feeRate.Mul(p.Midpoint).Mul(one.Sub(p.Midpoint))
	return decimal.Max(p.MinOffset, feeAtMid.Div(two).Add(p.BaseOffset))
}

// AlignToTick rounds p to the nearest multiple of tick, using round-half-to-
// even (banker's rounding), per spec: a plain away-from-zero round would
// violate the |align(p) - p| <= tick/2 property at exact half-tick boundaries
// under repeated application. If tick is zero, p is returned unchanged.
func AlignToTick(p, tick decimal.Decimal) decimal.Decimal {
	if tick.IsZero() {
		return p
	}

	units := p.Div(tick)
	rounded := units.RoundBank(0)
	return rounded.Mul(tick)
}

// GenerateParams bundles the inputs to GenerateQuotes.
type GenerateParams struct {
	Midpoint  decimal.Decimal
	BaseOffset decimal.Decimal // output of ComputeOffset
	Tick      decimal.Decimal
	NumLevels int
	Skew      decimal.Decimal // in [-0.5, 0.5]; positive widens bid, tightens ask
	Size      decimal.Decimal // per-level size, same on both sides
}

// GenerateQuotes produces up to NumLevels quote levels, each 10% wider than
// the last, skew-adjusted, dropping any level that would be invalid.
//
//	level_offset = base * (1 + L/10)
//	bid_offset = level_offset * (1 + skew), ask_offset = level_offset * (1 - skew)
//	bid = align(m - bid_offset, tick), ask = align(m + ask_offset, tick)
//	drop if bid <= 0, ask >= 1, or bid >= ask
func GenerateQuotes(p GenerateParams) []Quote {
	quotes := make([]Quote, 0, p.NumLevels)

	for level := 0; level < p.NumLevels; level++ {
		levelMultiplier := one.Add(tenth.Mul(decimal.NewFromInt(int64(level))))
		levelOffset := p.BaseOffset.Mul(levelMultiplier)

		bidOffset := levelOffset.Mul(one.Add(p.Skew))
		askOffset := levelOffset.Mul(one.Sub(p.Skew))

		bid := AlignToTick(p.Midpoint.Sub(bidOffset), p.Tick)
		ask := AlignToTick(p.Midpoint.Add(askOffset), p.Tick)

		if bid.LessThanOrEqual(zero) || ask.GreaterThanOrEqual(one) || bid.GreaterThanOrEqual(ask) {
			continue
		}

		quotes = append(quotes, Quote{
			Level: level,
			Bid:   bid,
			Ask:   ask,
			Size:  p.Size,
		})
	}

	return quotes
}

// Quote is one level of a two-sided market.
type Quote struct {
	Level int
	Bid   decimal.Decimal
	Ask   decimal.Decimal
	Size  decimal.Decimal
}

// EstimateScore computes the quadratic incentive-reward model used by the
// exchange's rewards system: dist = |m - p|; zero if size < min_size or
// dist > max_spread; else S = ((v - dist)/v)^2 * size, with v = max_spread
// (default 0.05 when unset/zero).
func EstimateScore(midpoint, price, size, maxSpread, minSize decimal.Decimal) decimal.Decimal {
	if maxSpread.IsZero() {
		maxSpread = defaultMaxSpread
	}

	dist := midpoint.Sub(price).Abs()

	if size.LessThan(minSize) || dist.GreaterThan(maxSpread) {
		return zero
	}

	ratio := maxSpread.Sub(dist).Div(maxSpread)
	return ratio.Mul(ratio).Mul(size)
}

// TwoSidedScore rewards balanced quoting: min(a, b) + |a - b| / 3. A
// single-sided surplus is only worth one third of its value.
func TwoSidedScore(scoreBid, scoreAsk decimal.Decimal) decimal.Decimal {
	min := decimal.Min(scoreBid, scoreAsk)
	diff := scoreBid.Sub(scoreAsk).Abs()
	return min.Add(diff.Div(three))
}

// ClampSkew clamps a raw inventory ratio into the engine's skew range
// [-0.5, 0.5].
func ClampSkew(ratio decimal.Decimal) decimal.Decimal {
	if ratio.GreaterThan(halfD) {
		return halfD
	}
	negHalf := halfD.Neg()
	if ratio.LessThan(negHalf) {
		return negHalf
	}
	return ratio
}
