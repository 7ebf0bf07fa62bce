package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/internal/config"
	"polymarket-mm/internal/exchange"
	"polymarket-mm/internal/metrics"
	"polymarket-mm/internal/orders"
	"polymarket-mm/internal/quoter"
	"polymarket-mm/internal/risk"
	"polymarket-mm/internal/strategy"
	"polymarket-mm/pkg/types"
)

// State is a QuoteEngine's position in its per-market lifecycle.
type State int

const (
	StateIdle State = iota
	StateQuoting
	StateStale
	StateCancelling
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateQuoting:
		return "quoting"
	case StateStale:
		return "stale"
	case StateCancelling:
		return "cancelling"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// QuoteEngine drives the quoting loop for a single market: fetch midpoint,
// decide whether to requote, cancel the resting ladder, and place a fresh
// one at the capital-scaled order size, skewed by current inventory. Both
// sides of every level carry the same size; no side is paused for
// inventory. Grounded on
// original_source/engine.rs's QuoteEngine.
type QuoteEngine struct {
	market types.MarketInfo
	cfg    config.StrategyConfig
	orderSize decimal.Decimal // may differ from cfg.OrderSize once capital-scaled
	logger *slog.Logger

	// mu guards every field below, since Tick runs on the controller's tick
	// loop while the WS dispatch goroutines call HandleWSMidpoint/ApplyWSFill/
	// SetWSConnected concurrently with it.
	mu sync.Mutex

	state State

	lastMidpoint  *decimal.Decimal
	lastRequote   time.Time
	tracked       []*orders.TrackedOrder
	inventory     risk.MarketInventory
	metrics       *metrics.MarketMetrics
	flow          *strategy.FlowTracker

	wsConnected bool
	wsMidpoint  *decimal.Decimal
	seenTrades  map[string]bool
}

// NewQuoteEngine creates a quoting engine for one market. orderSize is the
// per-level order size in tokens after any capital-allocation scaling.
func NewQuoteEngine(market types.MarketInfo, cfg config.StrategyConfig, orderSize decimal.Decimal, m *metrics.MarketMetrics, logger *slog.Logger) *QuoteEngine {
	return &QuoteEngine{
		market:     market,
		cfg:        cfg,
		orderSize:  orderSize,
		logger:     logger.With("market", market.Slug),
		state:      StateIdle,
		metrics:    m,
		flow:       strategy.NewFlowTracker(cfg.FlowWindow, cfg.FlowToxicityThreshold, cfg.FlowCooldownPeriod, cfg.FlowMaxSpreadMultiplier),
		seenTrades: make(map[string]bool),
	}
}

// Market returns the market this engine quotes.
func (e *QuoteEngine) Market() types.MarketInfo { return e.market }

// State returns the engine's current lifecycle state.
func (e *QuoteEngine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Inventory returns a copy of the engine's current net position.
func (e *QuoteEngine) Inventory() risk.MarketInventory {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inventory
}

// LastMidpoint returns the most recently observed midpoint, or zero if none yet.
func (e *QuoteEngine) LastMidpoint() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastMidpointLocked()
}

func (e *QuoteEngine) lastMidpointLocked() decimal.Decimal {
	if e.lastMidpoint == nil {
		return decimal.Zero
	}
	return *e.lastMidpoint
}

// SetWSConnected flips the engine's ws_connected flag, set on the market
// feed's Disconnected/Reconnected transitions. While connected, Tick prefers
// the latest WS-observed midpoint over a REST call; once disconnected, the
// stale WS midpoint is discarded so Tick falls back to REST immediately
// rather than quoting off a feed that stopped updating.
func (e *QuoteEngine) SetWSConnected(connected bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.wsConnected = connected
	if !connected {
		e.wsMidpoint = nil
	}
}

// HandleWSMidpoint records the latest midpoint observed on the market feed
// for tokenID, if it is this market's YES token. Tick consumes it via
// obtainMidpointLocked instead of hitting REST while ws_connected is true.
func (e *QuoteEngine) HandleWSMidpoint(tokenID string, mid decimal.Decimal) {
	if tokenID != e.market.YesTokenID {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.wsMidpoint = &mid
}

// ApplyWSFill applies a fill observed on the authenticated user feed directly
// to inventory, ahead of the next REST reconciliation. Trades are deduped by
// trade ID: ReconcileOrders will see the same fill again as part of the
// order's cumulative matched size and, because it diffs against the order's
// already-updated Filled amount, won't double-count it — this dedup only
// guards against the user feed itself redelivering the same trade ID.
func (e *QuoteEngine) ApplyWSFill(trade types.WSTradeEvent) {
	if trade.AssetID != e.market.YesTokenID && trade.AssetID != e.market.NoTokenID {
		return
	}

	price, err := decimal.NewFromString(trade.Price)
	if err != nil {
		e.logger.Debug("ws fill: bad price", "trade_id", trade.ID, "value", trade.Price)
		return
	}
	size, err := decimal.NewFromString(trade.Size)
	if err != nil {
		e.logger.Debug("ws fill: bad size", "trade_id", trade.ID, "value", trade.Size)
		return
	}
	side := types.Side(trade.Side)

	e.mu.Lock()
	defer e.mu.Unlock()

	if trade.ID != "" {
		if e.seenTrades[trade.ID] {
			return
		}
		e.seenTrades[trade.ID] = true
	}

	for _, o := range e.tracked {
		if o.TokenID == trade.AssetID && o.Side == side && !o.IsTerminal() {
			o.Filled = o.Filled.Add(size)
			if o.OriginalSize.IsPositive() && o.Filled.GreaterThanOrEqual(o.OriginalSize) {
				o.Status = orders.StatusFilled
			} else {
				o.Status = orders.StatusPartiallyFilled
			}
			break
		}
	}

	isYes := trade.AssetID == e.market.YesTokenID
	isBuy := side == types.BUY
	e.inventory.ApplyFill(isYes, isBuy, size, price)

	priceF, _ := price.Float64()
	sizeF, _ := size.Float64()
	e.flow.AddFill(strategy.Fill{
		Timestamp: time.Now(),
		Side:      side,
		TokenID:   trade.AssetID,
		Price:     priceF,
		Size:      sizeF,
	})
	if e.metrics != nil {
		spread := e.estimateSpreadCaptureLocked(price, isBuy)
		e.metrics.RecordFill(spread)
	}
}

// ShouldRequote reports whether newMidpoint has moved far enough from the
// last quoted midpoint, or enough time has elapsed, to justify cancelling
// and replacing the resting ladder. The first observed midpoint always
// triggers a requote.
func (e *QuoteEngine) ShouldRequote(newMidpoint decimal.Decimal) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shouldRequoteLocked(newMidpoint)
}

func (e *QuoteEngine) shouldRequoteLocked(newMidpoint decimal.Decimal) bool {
	if e.lastMidpoint == nil {
		return true
	}

	thresholdCents := decimal.NewFromFloat(e.cfg.RequoteThresholdCents)
	threshold := thresholdCents.Div(decimal.NewFromInt(100))
	shift := newMidpoint.Sub(*e.lastMidpoint).Abs()
	if shift.GreaterThan(threshold) {
		e.logger.Debug("midpoint shift exceeds threshold", "old_mid", e.lastMidpoint, "new_mid", newMidpoint, "threshold", threshold)
		return true
	}

	if !e.lastRequote.IsZero() && time.Since(e.lastRequote) > e.cfg.RequoteInterval() {
		e.logger.Debug("requote timer expired")
		return true
	}

	return false
}

// obtainMidpointLocked returns the latest WS-observed midpoint while the
// market feed is connected, falling back to a REST call the moment it isn't
// — either because the feed never connected or a Disconnected event just
// cleared the cached WS midpoint. Callers must hold e.mu; the REST call
// itself runs with the lock held, same as the rest of Tick.
func (e *QuoteEngine) obtainMidpointLocked(ctx context.Context, client *exchange.Client) (decimal.Decimal, error) {
	if e.wsConnected && e.wsMidpoint != nil {
		return *e.wsMidpoint, nil
	}
	return client.GetMidpoint(ctx, e.market.YesTokenID)
}

// computeQuotes builds the quote ladder for midpoint, skewed by current net
// inventory relative to the configured inventory cap.
func (e *QuoteEngine) computeQuotes(midpoint decimal.Decimal) []quoter.Quote {
	tick := e.market.TickSize.Decimal()

	invCap := decimal.NewFromFloat(e.cfg.InventoryCap)
	skew := decimal.Zero
	if invCap.IsPositive() {
		net := e.inventory.NetPosition()
		skew = quoter.ClampSkew(net.Div(invCap))
	}

	spreadMultiplier := decimal.NewFromFloat(e.flow.GetSpreadMultiplier())
	scaledBaseOffsetCents := decimal.NewFromFloat(e.cfg.BaseOffsetCents).Mul(spreadMultiplier)

	baseOffset := quoter.ComputeOffset(quoter.OffsetParams{
		BaseOffset: scaledBaseOffsetCents.Div(decimal.NewFromInt(100)),
		MinOffset:  decimal.NewFromFloat(e.cfg.MinOffsetCents).Div(decimal.NewFromInt(100)),
		Midpoint:   midpoint,
		FeeRateBps: e.market.FeeRateBps,
		HasFee:     e.market.FeeRateBps > 0,
	})

	params := quoter.GenerateParams{
		Midpoint:   midpoint,
		BaseOffset: baseOffset,
		Tick:       tick,
		NumLevels:  e.cfg.NumLevels,
		Skew:       skew,
		Size:       e.orderSize,
	}

	return quoter.GenerateQuotes(params)
}

// Tick runs one control-loop step: reconcile fills against the resting
// ladder, obtain the current midpoint (WS if connected, REST otherwise), and
// — if ShouldRequote fires — cancel the ladder and place a fresh one. It
// returns the inventory report the portfolio controller should forward to
// the risk manager, and whether any orders are currently resting (for uptime
// accounting).
//
// Tick holds e.mu for its whole duration: it mutates the same tracked-order
// and inventory state that ApplyWSFill updates from the user-feed dispatch
// goroutine, so the two must never run concurrently. A WS fill arriving
// mid-tick simply waits for the tick to finish before it's applied.
func (e *QuoteEngine) Tick(ctx context.Context, client *exchange.Client) (risk.MarketInventory, decimal.Decimal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if fills := orders.ReconcileOrders(ctx, client, e.tracked, e.logger); len(fills) > 0 {
		for _, f := range fills {
			isYes := f.TokenID == e.market.YesTokenID
			isBuy := f.Side == types.BUY
			e.inventory.ApplyFill(isYes, isBuy, f.Delta, f.Price)
			priceF, _ := f.Price.Float64()
			sizeF, _ := f.Delta.Float64()
			e.flow.AddFill(strategy.Fill{
				Timestamp: time.Now(),
				Side:      f.Side,
				TokenID:   f.TokenID,
				Price:     priceF,
				Size:      sizeF,
			})
			if e.metrics != nil {
				spread := e.estimateSpreadCaptureLocked(f.Price, isBuy)
				e.metrics.RecordFill(spread)
			}
		}
	}
	e.pruneTerminalLocked()

	midpoint, err := e.obtainMidpointLocked(ctx, client)
	if err != nil {
		e.logger.Warn("fetch midpoint failed", "error", err)
		return e.inventory, e.lastMidpointLocked(), len(e.tracked) > 0
	}

	if !e.shouldRequoteLocked(midpoint) {
		return e.inventory, midpoint, len(e.tracked) > 0
	}

	e.state = StateCancelling
	ids := make([]string, 0, len(e.tracked))
	for _, o := range e.tracked {
		if !o.IsTerminal() {
			ids = append(ids, o.OrderID)
		}
	}
	if len(ids) > 0 {
		orders.CancelOrders(ctx, client, ids, e.logger)
	}

	quotes := e.computeQuotes(midpoint)
	e.tracked = orders.PlaceQuotes(ctx, client, e.market.YesTokenID, e.market.NoTokenID, e.market.TickSize, e.market.FeeRateBps, quotes, e.logger)
	if e.metrics != nil {
		e.metrics.RecordOrders(uint64(len(e.tracked)))
	}

	e.lastMidpoint = &midpoint
	e.lastRequote = time.Now()
	e.state = StateQuoting

	return e.inventory, midpoint, len(e.tracked) > 0
}

// estimateSpreadCaptureLocked approximates realized spread PnL from a single
// fill: a buy captures (midpoint - price), a sell captures (price - midpoint).
// Callers must hold e.mu.
func (e *QuoteEngine) estimateSpreadCaptureLocked(price decimal.Decimal, isBuy bool) decimal.Decimal {
	mid := e.lastMidpointLocked()
	if isBuy {
		return mid.Sub(price)
	}
	return price.Sub(mid)
}

// pruneTerminalLocked drops terminal orders from the tracked set. Callers
// must hold e.mu.
func (e *QuoteEngine) pruneTerminalLocked() {
	live := e.tracked[:0]
	for _, o := range e.tracked {
		if !o.IsTerminal() {
			live = append(live, o)
		}
	}
	e.tracked = live
}

// CancelResting cancels every non-terminal resting order for this market,
// used when a market is dropped from the active set or the kill switch fires.
func (e *QuoteEngine) CancelResting(ctx context.Context, client *exchange.Client) {
	e.mu.Lock()
	ids := make([]string, 0, len(e.tracked))
	for _, o := range e.tracked {
		if !o.IsTerminal() {
			ids = append(ids, o.OrderID)
		}
	}
	e.tracked = nil
	e.state = StateStopped
	e.mu.Unlock()

	if len(ids) > 0 {
		orders.CancelOrders(ctx, client, ids, e.logger)
	}
}

// MarkStale flags the engine as having a stale book (no recent update) by
// moving a Quoting engine to StateStale. Tick does not consult the state:
// it keeps requoting on its usual triggers, and the next requote sets the
// engine back to StateQuoting.
func (e *QuoteEngine) MarkStale() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateQuoting {
		e.state = StateStale
	}
}
