package quoter

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestComputeOffsetNoFee(t *testing.T) {
	t.Parallel()
	got := ComputeOffset(OffsetParams{
		BaseOffset: d("0.01"),
		MinOffset:  d("0.005"),
		Midpoint:   d("0.50"),
	})
	want := d("0.01")
	if !got.Equal(want) {
		t.Errorf("got %s, want %s", got, want)
	}
}

// S2 — Fee-aware offset. midpoint=0.50, base=1.0c, min=0.5c, fee_bps=200 -> 0.0125.
func TestComputeOffsetWithFee(t *testing.T) {
	t.Parallel()
	got := ComputeOffset(OffsetParams{
		BaseOffset: d("0.01"),
		MinOffset:  d("0.005"),
		Midpoint:   d("0.50"),
		FeeRateBps: 200,
		HasFee:     true,
	})
	want := d("0.0125")
	if !got.Equal(want) {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestComputeOffsetMonotonicInFee(t *testing.T) {
	t.Parallel()
	base := OffsetParams{BaseOffset: d("0.01"), MinOffset: d("0.005"), Midpoint: d("0.5"), HasFee: true}

	prev := ComputeOffset(base)
	for _, bps := range []int{10, 50, 100, 500, 1000} {
		p := base
		p.FeeRateBps = bps
		got := ComputeOffset(p)
		if got.LessThan(prev) {
			t.Fatalf("offset decreased as fee increased: bps=%d got=%s prev=%s", bps, got, prev)
		}
		prev = got
	}
}

func TestAlignToTickProperty(t *testing.T) {
	t.Parallel()
	tick := d("0.01")
	cases := []string{"0.001", "0.004999", "0.005", "0.0050001", "0.499", "0.501", "0.995", "0.999"}

	for _, c := range cases {
		p := d(c)
		aligned := AlignToTick(p, tick)

		diff := aligned.Sub(p).Abs()
		halfTick := tick.Div(decimal.NewFromInt(2))
		if diff.GreaterThan(halfTick) {
			t.Errorf("align(%s) = %s, diff %s exceeds tick/2 %s", c, aligned, diff, halfTick)
		}

		rem := aligned.Div(tick).Mod(decimal.NewFromInt(1))
		if !rem.IsZero() {
			t.Errorf("align(%s) = %s is not an integer multiple of tick %s", c, aligned, tick)
		}
	}
}

func TestAlignToTickZeroTick(t *testing.T) {
	t.Parallel()
	p := d("0.4321")
	if got := AlignToTick(p, decimal.Zero); !got.Equal(p) {
		t.Errorf("expected passthrough for zero tick, got %s", got)
	}
}

// S1 — Quote generation. midpoint=0.50, base=1.0c, min=0.5c, tick=0.01, size=500,
// levels=2, no fee, skew=0 -> [{L0, bid=0.49, ask=0.51, size=500}, {L1, bid=0.49, ask=0.51, size=500}]
func TestGenerateQuotesS1(t *testing.T) {
	t.Parallel()
	base := ComputeOffset(OffsetParams{BaseOffset: d("0.01"), MinOffset: d("0.005"), Midpoint: d("0.50")})

	quotes := GenerateQuotes(GenerateParams{
		Midpoint:   d("0.50"),
		BaseOffset: base,
		Tick:       d("0.01"),
		NumLevels:  2,
		Skew:       decimal.Zero,
		Size:       d("500"),
	})

	if len(quotes) != 2 {
		t.Fatalf("expected 2 quote levels, got %d", len(quotes))
	}
	for i, q := range quotes {
		if !q.Bid.Equal(d("0.49")) {
			t.Errorf("level %d: bid = %s, want 0.49", i, q.Bid)
		}
		if !q.Ask.Equal(d("0.51")) {
			t.Errorf("level %d: ask = %s, want 0.51", i, q.Ask)
		}
		if !q.Size.Equal(d("500")) {
			t.Errorf("level %d: size = %s, want 500", i, q.Size)
		}
	}
}

func TestGenerateQuotesValidity(t *testing.T) {
	t.Parallel()
	for _, skewF := range []string{"-0.5", "-0.2", "0", "0.2", "0.5"} {
		quotes := GenerateQuotes(GenerateParams{
			Midpoint:   d("0.5"),
			BaseOffset: d("0.02"),
			Tick:       d("0.01"),
			NumLevels:  3,
			Skew:       d(skewF),
			Size:       d("100"),
		})
		for _, q := range quotes {
			if !(q.Bid.GreaterThan(decimal.Zero) && q.Bid.LessThan(q.Ask) && q.Ask.LessThan(decimal.NewFromInt(1))) {
				t.Errorf("skew=%s: invalid quote bid=%s ask=%s", skewF, q.Bid, q.Ask)
			}
		}
	}
}

func TestGenerateQuotesSkewSymmetry(t *testing.T) {
	t.Parallel()
	params := func(skew decimal.Decimal) GenerateParams {
		return GenerateParams{
			Midpoint:   d("0.5"),
			BaseOffset: d("0.02"),
			Tick:       d("0.0001"),
			NumLevels:  2,
			Skew:       skew,
			Size:       d("100"),
		}
	}

	pos := GenerateQuotes(params(d("0.3")))
	neg := GenerateQuotes(params(d("-0.3")))

	if len(pos) != len(neg) {
		t.Fatalf("level count differs: %d vs %d", len(pos), len(neg))
	}

	for i := range pos {
		bidOffsetPos := d("0.5").Sub(pos[i].Bid)
		askOffsetPos := pos[i].Ask.Sub(d("0.5"))
		bidOffsetNeg := d("0.5").Sub(neg[i].Bid)
		askOffsetNeg := neg[i].Ask.Sub(d("0.5"))

		if !bidOffsetPos.Equal(askOffsetNeg) || !askOffsetPos.Equal(bidOffsetNeg) {
			t.Errorf("level %d: skew +s/-s offsets are not swaps: bidPos=%s askPos=%s bidNeg=%s askNeg=%s",
				i, bidOffsetPos, askOffsetPos, bidOffsetNeg, askOffsetNeg)
		}
	}
}

// S3 — Incentive score. midpoint=0.50, p=0.49, size=1000, max_spread=0.05 -> score=640.
func TestEstimateScoreS3(t *testing.T) {
	t.Parallel()
	got := EstimateScore(d("0.50"), d("0.49"), d("1000"), d("0.05"), decimal.Zero)
	want := d("640")
	if !got.Equal(want) {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestEstimateScoreBounds(t *testing.T) {
	t.Parallel()
	size := d("1000")

	atMid := EstimateScore(d("0.5"), d("0.5"), size, d("0.05"), decimal.Zero)
	if !atMid.Equal(size) {
		t.Errorf("score at midpoint = %s, want %s", atMid, size)
	}

	tooFar := EstimateScore(d("0.5"), d("0.3"), size, d("0.05"), decimal.Zero)
	if !tooFar.IsZero() {
		t.Errorf("score beyond max_spread = %s, want 0", tooFar)
	}

	tooSmall := EstimateScore(d("0.5"), d("0.5"), d("1"), d("0.05"), d("10"))
	if !tooSmall.IsZero() {
		t.Errorf("score below min_size = %s, want 0", tooSmall)
	}
}

func TestTwoSidedScore(t *testing.T) {
	t.Parallel()
	a, b := d("100"), d("130")

	ab := TwoSidedScore(a, b)
	ba := TwoSidedScore(b, a)
	if !ab.Equal(ba) {
		t.Errorf("two_sided_score not symmetric: %s vs %s", ab, ba)
	}
	if ab.LessThan(a) || ab.GreaterThan(b) {
		t.Errorf("two_sided_score %s outside [min,max] = [%s,%s]", ab, a, b)
	}

	equalBoth := TwoSidedScore(a, a)
	if !equalBoth.Equal(a) {
		t.Errorf("two_sided_score(a,a) = %s, want %s", equalBoth, a)
	}
}

func TestClampSkew(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in, want string
	}{
		{"2", "0.5"},
		{"-2", "-0.5"},
		{"0.3", "0.3"},
		{"-0.3", "-0.3"},
	}
	for _, c := range cases {
		got := ClampSkew(d(c.in))
		if !got.Equal(d(c.want)) {
			t.Errorf("ClampSkew(%s) = %s, want %s", c.in, got, c.want)
		}
	}
}
