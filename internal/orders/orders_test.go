package orders

import (
	"testing"

	"github.com/shopspring/decimal"

	"polymarket-mm/internal/quoter"
	"polymarket-mm/pkg/types"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestQuoteOrdersFourSided(t *testing.T) {
	q := quoter.Quote{Level: 0, Bid: d("0.40"), Ask: d("0.60"), Size: d("100")}
	got := quoteOrders("yes", "no", types.Tick001, 0, q)

	if len(got) != 4 {
		t.Fatalf("expected 4 orders, got %d", len(got))
	}
	if got[0].TokenID != "yes" || got[0].Side != types.BUY || !got[0].Price.Equal(d("0.40")) {
		t.Errorf("unexpected yes bid: %+v", got[0])
	}
	if got[1].TokenID != "yes" || got[1].Side != types.SELL || !got[1].Price.Equal(d("0.60")) {
		t.Errorf("unexpected yes ask: %+v", got[1])
	}
	if got[2].TokenID != "no" || got[2].Side != types.BUY || !got[2].Price.Equal(d("0.40")) {
		t.Errorf("unexpected no bid (1-ask): %+v", got[2])
	}
	if got[3].TokenID != "no" || got[3].Side != types.SELL || !got[3].Price.Equal(d("0.60")) {
		t.Errorf("unexpected no ask (1-bid): %+v", got[3])
	}
}

func TestQuoteOrdersSkipsCrossingNoSide(t *testing.T) {
	// ask = 1.0 would make noBid = 0, which must be skipped (not positive).
	q := quoter.Quote{Level: 0, Bid: d("0.01"), Ask: d("0.99"), Size: d("10")}
	got := quoteOrders("yes", "no", types.Tick001, 0, q)
	if len(got) != 4 {
		t.Fatalf("expected 4 orders at the boundary, got %d", len(got))
	}

	q2 := quoter.Quote{Level: 0, Bid: d("0.00"), Ask: d("1.00"), Size: d("10")}
	got2 := quoteOrders("yes", "no", types.Tick001, 0, q2)
	for _, o := range got2 {
		if o.TokenID == "no" {
			t.Errorf("expected no NO-side orders when bid=0/ask=1, got %+v", o)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	o := &TrackedOrder{Status: StatusOpen}
	if o.IsTerminal() {
		t.Error("open order should not be terminal")
	}
	o.Status = StatusFilled
	if !o.IsTerminal() {
		t.Error("filled order should be terminal")
	}
	o.Status = StatusCancelled
	if !o.IsTerminal() {
		t.Error("cancelled order should be terminal")
	}
}

func TestPlaceQuotesEmpty(t *testing.T) {
	got := PlaceQuotes(nil, nil, "yes", "no", types.Tick001, 0, nil, discardLogger())
	if got != nil {
		t.Errorf("expected nil for empty quote list, got %+v", got)
	}
}
