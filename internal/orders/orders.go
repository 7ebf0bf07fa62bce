// Package orders manages the lifecycle of resting limit orders for a single
// market: building the YES/NO order set from a quote ladder, placing it in
// batches the exchange accepts, and reconciling fills by tracking each
// order's previously-seen filled quantity so a fill is only ever counted
// once.
package orders

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"polymarket-mm/internal/exchange"
	"polymarket-mm/internal/quoter"
	"polymarket-mm/pkg/types"
)

// Status is a TrackedOrder's last known lifecycle state.
type Status int

const (
	StatusOpen Status = iota
	StatusPartiallyFilled
	StatusFilled
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusPartiallyFilled:
		return "partially_filled"
	case StatusFilled:
		return "filled"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// TrackedOrder is the engine's local view of one resting order. Filled holds
// the cumulative matched quantity as of the last reconciliation — ReconcileOrders
// diffs against it to compute only the newly-filled delta.
type TrackedOrder struct {
	OrderID      string
	TokenID      string
	Side         types.Side
	Price        decimal.Decimal
	OriginalSize decimal.Decimal
	Filled       decimal.Decimal
	Status       Status
}

// IsTerminal reports whether the order needs no further reconciliation or
// cancellation.
func (o *TrackedOrder) IsTerminal() bool {
	return o.Status == StatusFilled || o.Status == StatusCancelled
}

const (
	maxPlaceBatch  = 15
	maxCancelBatch = 20
	maxLevelOrders = 4
)

var one = decimal.NewFromInt(1)

func userOrder(tokenID string, side types.Side, price, size decimal.Decimal, tick types.TickSize, feeRateBps int) types.UserOrder {
	return types.UserOrder{
		TokenID:    tokenID,
		Price:      price,
		Size:       size,
		Side:       side,
		OrderType:  types.OrderTypeGTC,
		TickSize:   tick,
		Expiration: 0,
		FeeRateBps: feeRateBps,
	}
}

// quoteOrders expands one quoter.Quote level into up to four YES/NO limit
// orders: YES bid, YES ask, and their NO-token mirrors (noBid = 1-ask,
// noAsk = 1-bid), skipping any side that would cross 0 or 1.
func quoteOrders(yesTokenID, noTokenID string, tick types.TickSize, feeRateBps int, q quoter.Quote) []types.UserOrder {
	out := make([]types.UserOrder, 0, maxLevelOrders)
	out = append(out, userOrder(yesTokenID, types.BUY, q.Bid, q.Size, tick, feeRateBps))
	out = append(out, userOrder(yesTokenID, types.SELL, q.Ask, q.Size, tick, feeRateBps))

	noBid := one.Sub(q.Ask)
	if noBid.IsPositive() {
		out = append(out, userOrder(noTokenID, types.BUY, noBid, q.Size, tick, feeRateBps))
	}
	noAsk := one.Sub(q.Bid)
	if noAsk.LessThan(one) {
		out = append(out, userOrder(noTokenID, types.SELL, noAsk, q.Size, tick, feeRateBps))
	}
	return out
}

// PlaceQuotes builds the full order set for a quote ladder and submits it to
// the exchange in batches of at most 15. Rejected orders are logged and
// skipped; only successfully accepted orders are returned for tracking.
func PlaceQuotes(ctx context.Context, client *exchange.Client, yesTokenID, noTokenID string, tick types.TickSize, feeRateBps int, quotes []quoter.Quote, logger *slog.Logger) []*TrackedOrder {
	var pending []types.UserOrder
	for _, q := range quotes {
		pending = append(pending, quoteOrders(yesTokenID, noTokenID, tick, feeRateBps, q)...)
	}
	if len(pending) == 0 {
		return nil
	}

	var tracked []*TrackedOrder
	for start := 0; start < len(pending); start += maxPlaceBatch {
		end := start + maxPlaceBatch
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		results, err := client.PostOrders(ctx, batch, false)
		if err != nil {
			logger.Warn("order batch rejected", "error", err, "batch_size", len(batch))
			continue
		}
		for i, r := range results {
			meta := batch[i]
			if !r.Success {
				logger.Warn("order rejected",
					"error", r.ErrorMsg, "token_id", meta.TokenID, "side", meta.Side, "price", meta.Price)
				continue
			}
			tracked = append(tracked, &TrackedOrder{
				OrderID:      r.OrderID,
				TokenID:      meta.TokenID,
				Side:         meta.Side,
				Price:        meta.Price,
				OriginalSize: meta.Size,
				Status:       StatusOpen,
			})
		}
	}
	return tracked
}

// Fill is a newly-observed filled delta discovered during reconciliation.
type Fill struct {
	TokenID string
	Side    types.Side
	Price   decimal.Decimal
	Delta   decimal.Decimal
}

// ReconcileOrders polls each non-terminal tracked order's status and returns
// the set of newly-filled deltas since the last call. Each TrackedOrder's
// Filled/Status fields are updated in place.
func ReconcileOrders(ctx context.Context, client *exchange.Client, tracked []*TrackedOrder, logger *slog.Logger) []Fill {
	var fills []Fill

	for _, o := range tracked {
		if o.IsTerminal() {
			continue
		}

		detail, err := client.GetOrder(ctx, o.OrderID)
		if err != nil {
			logger.Debug("reconcile: fetch order failed", "order_id", o.OrderID, "error", err)
			continue
		}

		matched, err := decimal.NewFromString(detail.SizeMatched)
		if err != nil {
			logger.Debug("reconcile: bad size_matched", "order_id", o.OrderID, "value", detail.SizeMatched)
			continue
		}
		original, err := decimal.NewFromString(detail.OriginalSize)
		if err != nil {
			original = o.OriginalSize
		}

		if delta := matched.Sub(o.Filled); delta.IsPositive() {
			fills = append(fills, Fill{TokenID: o.TokenID, Side: o.Side, Price: o.Price, Delta: delta})
		}

		o.Filled = matched
		switch {
		case detail.Status == "cancelled" || detail.Status == "canceled":
			o.Status = StatusCancelled
		case original.IsPositive() && matched.GreaterThanOrEqual(original):
			o.Status = StatusFilled
		case matched.IsPositive():
			o.Status = StatusPartiallyFilled
		}
	}

	return fills
}

// CancelOrders cancels a set of order IDs in batches of at most 20. IDs the
// exchange reports as "not canceled" (already terminal) are treated as
// already-settled, not errors.
func CancelOrders(ctx context.Context, client *exchange.Client, orderIDs []string, logger *slog.Logger) {
	for start := 0; start < len(orderIDs); start += maxCancelBatch {
		end := start + maxCancelBatch
		if end > len(orderIDs) {
			end = len(orderIDs)
		}
		batch := orderIDs[start:end]

		resp, err := client.CancelOrders(ctx, batch)
		if err != nil {
			logger.Warn("cancel batch failed", "error", err, "batch_size", len(batch))
			continue
		}
		if len(resp.NotCanceled) > 0 {
			logger.Debug("some orders already terminal", "not_canceled", resp.NotCanceled)
		}
	}
}

// CancelAll cancels every open order across all markets via the exchange's
// bulk endpoint, used by the kill switch and on shutdown.
func CancelAll(ctx context.Context, client *exchange.Client, logger *slog.Logger) error {
	_, err := client.CancelAll(ctx)
	if err != nil {
		logger.Error("bulk cancel-all failed", "error", err)
	}
	return err
}
