// Package engine is the central orchestrator of the market-making bot.
//
// It wires together all subsystems:
//
//  1. Scanner discovers and ranks tradeable markets via the Gamma API.
//  2. Controller starts/stops a QuoteEngine per selected market
//     (reconcile), scaling each market's order size by its allocated
//     capital share.
//  3. Two WebSocket feeds (market data + user fills) drive requotes and fill
//     accounting in real time when connected: WS midpoints feed each
//     QuoteEngine directly and WS fills update inventory as they happen.
//     REST remains the path of record — order placement goes over REST
//     (gated by the advisory rate limiter) and periodic reconciliation
//     re-derives fills from order status, so a dropped WS connection
//     degrades to REST polling rather than losing data.
//  4. The risk manager aggregates inventory across markets and can trigger
//     a portfolio-wide kill switch; the controller reacts by cancelling
//     every resting order.
//
// Lifecycle: New() → Start() → [runs until ctx is cancelled] → Stop().
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/internal/config"
	"polymarket-mm/internal/exchange"
	"polymarket-mm/internal/market"
	"polymarket-mm/internal/metrics"
	"polymarket-mm/internal/notify"
	"polymarket-mm/internal/orders"
	"polymarket-mm/internal/ratelimit"
	"polymarket-mm/internal/risk"
	"polymarket-mm/internal/store"
	"polymarket-mm/pkg/types"
)

// tickInterval is how often the controller steps every running QuoteEngine.
// Each engine's own requote timer/threshold decides whether that step
// actually replaces its resting orders.
const tickInterval = 5 * time.Second

// saveInterval is how often persisted metrics are flushed to disk.
const saveInterval = 30 * time.Second

// Controller orchestrates scanning, capital allocation, per-market quoting,
// risk management, and shutdown for the whole bot.
type Controller struct {
	cfg     config.Config
	client  *exchange.Client
	auth    *exchange.Auth
	mktFeed *exchange.WSFeed
	usrFeed *exchange.WSFeed
	scanner *market.Scanner
	riskMgr *risk.Manager
	limiter *ratelimit.Limiter
	notifier *notify.Notifier
	store   *store.Store
	metrics *metrics.PortfolioMetrics
	logger  *slog.Logger
	noWS    bool

	mu          sync.RWMutex
	engines     map[string]*QuoteEngine
	lastBookSeen map[string]time.Time // tokenID -> last WS update, staleness detection

	tokenMap   map[string]string // tokenID -> conditionID
	tokenMapMu sync.RWMutex

	lastRescan time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires up every subsystem. If L2 API credentials aren't configured, it
// derives them via L1 (EIP-712) auth against the exchange before returning.
func New(cfg config.Config, logger *slog.Logger) (*Controller, error) {
	auth, client, err := buildExchangeHandle(cfg, logger)
	if err != nil {
		return nil, err
	}

	mktFeed := exchange.NewMarketFeed(cfg.API.WSMarketURL, logger)
	usrFeed := exchange.NewUserFeed(cfg.API.WSUserURL, auth, logger)
	scanner := market.NewScanner(cfg.API, cfg.Markets, logger)
	riskMgr := risk.NewManager(cfg.Risk, logger)
	notifier := notify.NewNotifier(cfg.Monitoring.TelegramBotToken, cfg.Monitoring.TelegramChatID)

	st, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		return nil, err
	}
	pm, err := st.LoadMetrics()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Controller{
		cfg:          cfg,
		client:       client,
		auth:         auth,
		mktFeed:      mktFeed,
		usrFeed:      usrFeed,
		scanner:      scanner,
		riskMgr:      riskMgr,
		limiter:      ratelimit.New(),
		notifier:     notifier,
		store:        st,
		metrics:      pm,
		logger:       logger.With("component", "controller"),
		// No signer means no authenticated user feed can ever be subscribed
		// to, so WebSocket feeds (both market and user) stay off and the
		// engine runs on REST polling only.
		noWS:         auth == nil,
		engines:      make(map[string]*QuoteEngine),
		lastBookSeen: make(map[string]time.Time),
		tokenMap:     make(map[string]string),
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// buildExchangeHandle constructs the REST client used for quoting and order
// management. `run --live` requires a configured wallet signer and derives
// L2 API credentials from it if not already set. Dry-run without a signer
// falls back to NewDryRunClient (auth is nil in that case) — matching the
// unauthenticated handle's documented purpose in client.go.
func buildExchangeHandle(cfg config.Config, logger *slog.Logger) (*exchange.Auth, *exchange.Client, error) {
	auth, err := exchange.NewAuth(cfg)
	if err != nil {
		if !cfg.DryRun {
			return nil, nil, fmt.Errorf("live trading requires a signer: %w", err)
		}
		logger.Warn("no signer configured, running dry-run on a read-only client with WebSocket feeds disabled", "error", err)
		return nil, exchange.NewDryRunClient(cfg, logger), nil
	}

	client := exchange.NewAuthenticatedClient(cfg, auth, logger)
	if !auth.HasL2Credentials() {
		logger.Info("no L2 credentials configured, deriving API key via L1 signature")
		creds, err := client.DeriveAPIKey(context.Background())
		if err != nil {
			return nil, nil, err
		}
		auth.SetCredentials(*creds)
	}
	return auth, client, nil
}

// DisableWebSocket suppresses both WS feed goroutines and per-market
// subscribe/unsubscribe calls. Book staleness detection is then never
// triggered (Tick's REST polling path still drives quoting), matching the
// `run --no-ws` CLI flag's degrade-to-REST-only mode.
func (c *Controller) DisableWebSocket() {
	c.noWS = true
}

// Start launches all background goroutines and performs the first scan
// synchronously so the caller knows at least one reconcile has happened
// before returning.
func (c *Controller) Start() error {
	if !c.noWS {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := c.mktFeed.Run(c.ctx); err != nil && c.ctx.Err() == nil {
				c.logger.Error("market feed error", "error", err)
			}
		}()

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := c.usrFeed.Run(c.ctx); err != nil && c.ctx.Err() == nil {
				c.logger.Error("user feed error", "error", err)
			}
		}()

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.dispatchMarketEvents()
		}()

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.dispatchUserEvents()
		}()
	} else {
		c.logger.Info("websocket feeds disabled, running REST-polling only")
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.riskMgr.Run(c.ctx)
	}()

	if err := c.rescan(); err != nil {
		return err
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run()
	}()

	if err := c.notifier.NotifyStartup(c.ctx, len(c.engines), c.cfg.DryRun); err != nil {
		c.logger.Warn("startup notification failed", "error", err)
	}

	return nil
}

// Stop gracefully shuts down: cancels all contexts, sends a cancel-all to
// the exchange as a safety net, persists metrics, and waits for goroutines.
func (c *Controller) Stop() {
	c.logger.Info("shutting down...")

	c.cancel()

	cancelCtx, cancelCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := orders.CancelAll(cancelCtx, c.client, c.logger); err != nil {
		c.logger.Error("failed to cancel all orders on shutdown", "error", err)
	}
	cancelCancel()

	if err := c.store.SaveMetrics(c.metrics); err != nil {
		c.logger.Error("failed to save metrics on shutdown", "error", err)
	}

	c.wg.Wait()

	c.mktFeed.Close()
	c.usrFeed.Close()
	c.store.Close()

	c.logger.Info("shutdown complete")
}

// run is the controller's main loop: ticks every engine on tickInterval,
// rescans on the configured cadence, reacts to kill signals, and flushes
// metrics periodically.
func (c *Controller) run() {
	tickTicker := time.NewTicker(tickInterval)
	defer tickTicker.Stop()
	rescanTicker := time.NewTicker(c.cfg.Markets.RescanInterval)
	defer rescanTicker.Stop()
	saveTicker := time.NewTicker(saveInterval)
	defer saveTicker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-tickTicker.C:
			c.checkStaleness()
			c.tickAll()
		case <-rescanTicker.C:
			if err := c.rescan(); err != nil {
				c.logger.Error("rescan failed", "error", err)
			}
		case <-saveTicker.C:
			if err := c.store.SaveMetrics(c.metrics); err != nil {
				c.logger.Error("periodic metrics save failed", "error", err)
			}
		case kill := <-c.riskMgr.KillCh():
			c.handleKillSignal(kill)
		}
	}
}

// rescan fetches the current market set, ranks it, and reconciles the
// running engines against it.
func (c *Controller) rescan() error {
	all, err := c.scanner.Scan(c.ctx)
	if err != nil {
		return err
	}
	ranked := market.RankMarkets(all, decimal.NewFromFloat(c.cfg.Markets.MinRewardDaily), c.cfg.Markets.MaxMarkets)

	stillActive := make(map[string]bool, len(all))
	for _, m := range all {
		stillActive[m.ConditionID] = true
	}

	c.reconcile(ranked, stillActive)
	c.lastRescan = time.Now()
	return nil
}

// reconcile diffs the desired market set against currently running engines:
// stops engines no longer desired, starts newly discovered ones, with
// capital allocated proportionally to opportunity score. stillActive is the
// full (unranked) set of markets the scanner still considers open —
// Scan already excludes closed/inactive markets, so an engine whose
// condition ID is absent from it has resolved rather than merely been
// outranked.
func (c *Controller) reconcile(desired []types.MarketInfo, stillActive map[string]bool) {
	desiredByID := make(map[string]types.MarketInfo, len(desired))
	scores := make(map[string]decimal.Decimal, len(desired))
	for _, m := range desired {
		desiredByID[m.ConditionID] = m
		scores[m.ConditionID] = m.OpportunityScore()
	}

	allocations := risk.AllocateCapital(scores,
		decimal.NewFromFloat(c.cfg.Risk.MaxTotalCapital),
		decimal.NewFromFloat(c.cfg.Risk.MaxPerMarket))

	c.mu.Lock()
	defer c.mu.Unlock()

	for id := range c.engines {
		if _, ok := desiredByID[id]; ok {
			continue
		}
		if !stillActive[id] {
			c.logResolutionLocked(id)
			c.stopEngineLocked(id, "market resolved or deactivated")
		} else {
			c.stopEngineLocked(id, "fell out of rescan ranking")
		}
	}

	for id, m := range desiredByID {
		if _, ok := c.engines[id]; ok {
			continue
		}
		c.startEngineLocked(m, allocations[id])
	}

	c.logger.Info("reconcile complete", "total_markets", len(c.engines))
}

func (c *Controller) startEngineLocked(m types.MarketInfo, allocation decimal.Decimal) {
	if m.YesTokenID == "" || m.NoTokenID == "" {
		c.logger.Warn("skipping market with missing token IDs", "slug", m.Slug)
		return
	}

	orderSize := decimal.NewFromFloat(c.cfg.Strategy.OrderSize)
	maxPerMarket := decimal.NewFromFloat(c.cfg.Risk.MaxPerMarket)
	if allocation.IsPositive() && maxPerMarket.IsPositive() {
		scale := allocation.Div(maxPerMarket)
		scaled := orderSize.Mul(scale).Round(0)
		if scaled.GreaterThan(decimal.Zero) {
			orderSize = scaled
		}
	}

	mm := c.metrics.MarketFor(m.ConditionID, m.Question)
	eng := NewQuoteEngine(m, c.cfg.Strategy, orderSize, mm, c.logger)

	c.engines[m.ConditionID] = eng

	c.tokenMapMu.Lock()
	c.tokenMap[m.YesTokenID] = m.ConditionID
	c.tokenMap[m.NoTokenID] = m.ConditionID
	c.tokenMapMu.Unlock()

	if !c.noWS {
		if err := c.mktFeed.Subscribe(c.ctx, []string{m.YesTokenID, m.NoTokenID}); err != nil {
			c.logger.Warn("market feed subscribe failed", "market", m.Slug, "error", err)
		}
		if err := c.usrFeed.Subscribe(c.ctx, []string{m.ConditionID}); err != nil {
			c.logger.Warn("user feed subscribe failed", "market", m.Slug, "error", err)
		}
	}

	c.logger.Info("market started", "slug", m.Slug, "condition_id", m.ConditionID, "order_size", orderSize, "allocation", allocation)
}

// logResolutionLocked records a closing summary for a market that dropped
// out of the scanner's active set entirely (as opposed to one that merely
// fell in the rankings) — its net position's value at the last known
// midpoint, before the engine and its inventory are discarded.
func (c *Controller) logResolutionLocked(conditionID string) {
	eng, ok := c.engines[conditionID]
	if !ok {
		return
	}

	inv := eng.Inventory()
	net := inv.NetPosition()
	if net.IsZero() {
		return
	}

	mid := eng.LastMidpoint()
	if mid.IsZero() {
		mid = decimal.NewFromFloat(0.5)
	}

	c.logger.Info("market resolved with open position",
		"slug", eng.market.Slug,
		"condition_id", conditionID,
		"net_position", net,
		"value_at_resolution", inv.UnrealizedPnL(mid),
	)
}

func (c *Controller) stopEngineLocked(conditionID, reason string) {
	eng, ok := c.engines[conditionID]
	if !ok {
		return
	}

	eng.CancelResting(c.ctx, c.client)
	c.riskMgr.RemoveMarket(conditionID)

	c.tokenMapMu.Lock()
	delete(c.tokenMap, eng.market.YesTokenID)
	delete(c.tokenMap, eng.market.NoTokenID)
	c.tokenMapMu.Unlock()

	if !c.noWS {
		if err := c.mktFeed.Unsubscribe(c.ctx, []string{eng.market.YesTokenID, eng.market.NoTokenID}); err != nil {
			c.logger.Debug("market feed unsubscribe failed", "market", eng.market.Slug, "error", err)
		}
		if err := c.usrFeed.Unsubscribe(c.ctx, []string{conditionID}); err != nil {
			c.logger.Debug("user feed unsubscribe failed", "market", eng.market.Slug, "error", err)
		}
	}

	delete(c.engines, conditionID)

	if err := c.notifier.NotifyMarketDropped(c.ctx, conditionID, reason); err != nil {
		c.logger.Warn("market-dropped notification failed", "error", err)
	}

	c.logger.Info("market stopped", "slug", eng.market.Slug, "reason", reason)
}

// tickAll steps every running engine once, respecting the advisory rate
// limiter and feeding each engine's resulting inventory report to the risk
// manager.
func (c *Controller) tickAll() {
	if c.riskMgr.IsKillSwitchActive() {
		return
	}

	c.mu.RLock()
	ids := make([]string, 0, len(c.engines))
	for id := range c.engines {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	for _, id := range ids {
		c.mu.RLock()
		eng, ok := c.engines[id]
		c.mu.RUnlock()
		if !ok {
			continue
		}

		estimatedOrders := eng.cfg.NumLevels * 4
		if !c.limiter.CanPlace(estimatedOrders) {
			c.logger.Warn("skipping tick due to rate limit", "market", eng.market.Slug)
			continue
		}

		inv, mid, hadOrders := eng.Tick(c.ctx, c.client)
		c.limiter.Record(estimatedOrders)

		eng.metrics.RecordTick(hadOrders)

		c.riskMgr.Report(risk.PositionReport{
			MarketID:  id,
			Inventory: inv,
			Midpoint:  mid,
			Timestamp: time.Now(),
		})
	}
}

// handleKillSignal cancels every resting order across every market and
// notifies the configured Telegram chat.
func (c *Controller) handleKillSignal(kill risk.KillSignal) {
	c.logger.Error("KILL SIGNAL received", "reason", kill.Reason)

	c.mu.Lock()
	for _, eng := range c.engines {
		eng.CancelResting(c.ctx, c.client)
	}
	c.mu.Unlock()

	cancelCtx, cancelCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := orders.CancelAll(cancelCtx, c.client, c.logger); err != nil {
		c.logger.Error("failed to cancel all orders", "error", err)
	}
	cancelCancel()

	invs, mids := c.riskMgr.Snapshot()
	total := decimal.Zero
	for id, inv := range invs {
		mid, ok := mids[id]
		if !ok {
			mid = decimal.NewFromFloat(0.5)
		}
		total = total.Add(inv.UnrealizedPnL(mid))
	}

	if err := c.notifier.NotifyKillSwitch(c.ctx, total); err != nil {
		c.logger.Warn("kill switch notification failed", "error", err)
	}
}

// dispatchMarketEvents consumes the market feed's unified event stream: book
// and midpoint updates mark a token "seen" for staleness detection and route
// the midpoint straight to its QuoteEngine, while Disconnected/Reconnected
// transitions flip every engine's ws_connected flag so Tick knows whether it
// can trust the last WS midpoint or must fall back to REST.
func (c *Controller) dispatchMarketEvents() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case evt, ok := <-c.mktFeed.Events():
			if !ok {
				return
			}
			c.handleMarketFeedEvent(evt)
		}
	}
}

func (c *Controller) handleMarketFeedEvent(evt types.FeedEvent) {
	switch evt.Kind {
	case types.FeedBookUpdate:
		c.markBookSeen(evt.AssetID)
	case types.FeedMidpointUpdate:
		c.markBookSeen(evt.AssetID)
		c.routeMidpoint(evt.AssetID, evt.Midpoint)
	case types.FeedDisconnected:
		c.setAllWSConnected(false)
	case types.FeedReconnected:
		c.setAllWSConnected(true)
	}
}

// dispatchUserEvents consumes the authenticated user feed's unified event
// stream and routes order-fill events straight into the owning QuoteEngine's
// inventory, ahead of the next REST reconciliation pass.
func (c *Controller) dispatchUserEvents() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case evt, ok := <-c.usrFeed.Events():
			if !ok {
				return
			}
			if evt.Kind == types.FeedOrderFill && evt.Trade != nil {
				c.routeFill(*evt.Trade)
			}
		}
	}
}

func (c *Controller) routeMidpoint(tokenID string, mid decimal.Decimal) {
	eng, ok := c.engineForToken(tokenID)
	if !ok {
		return
	}
	eng.HandleWSMidpoint(tokenID, mid)
}

func (c *Controller) routeFill(trade types.WSTradeEvent) {
	eng, ok := c.engineForToken(trade.AssetID)
	if !ok {
		c.logger.Debug("ws fill for unknown token, dropping", "asset_id", trade.AssetID)
		return
	}
	eng.ApplyWSFill(trade)
}

func (c *Controller) engineForToken(tokenID string) (*QuoteEngine, bool) {
	c.tokenMapMu.RLock()
	conditionID, ok := c.tokenMap[tokenID]
	c.tokenMapMu.RUnlock()
	if !ok {
		return nil, false
	}

	c.mu.RLock()
	eng, ok := c.engines[conditionID]
	c.mu.RUnlock()
	return eng, ok
}

func (c *Controller) setAllWSConnected(connected bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, eng := range c.engines {
		eng.SetWSConnected(connected)
	}
}

func (c *Controller) markBookSeen(tokenID string) {
	c.tokenMapMu.RLock()
	_, ok := c.tokenMap[tokenID]
	c.tokenMapMu.RUnlock()
	if !ok {
		return
	}

	c.mu.Lock()
	c.lastBookSeen[tokenID] = time.Now()
	c.mu.Unlock()
}

// checkStaleness sweeps every running engine's book-update timestamps and
// marks an engine stale once neither of its tokens has been seen on the
// market feed within StaleBookTimeout. A fresh requote in Tick clears the
// stale state by setting it back to StateQuoting.
func (c *Controller) checkStaleness() {
	timeout := c.cfg.Strategy.StaleBookTimeout
	if timeout <= 0 {
		return
	}

	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, eng := range c.engines {
		m := eng.Market()
		yesSeen, hasYes := c.lastBookSeen[m.YesTokenID]
		noSeen, hasNo := c.lastBookSeen[m.NoTokenID]

		if !hasYes && !hasNo {
			continue
		}

		lastSeen := yesSeen
		if hasNo && (!hasYes || noSeen.After(yesSeen)) {
			lastSeen = noSeen
		}

		if now.Sub(lastSeen) > timeout {
			eng.MarkStale()
		}
	}
}

// Snapshot returns a point-in-time view of every running engine. The
// `status` CLI subcommand does not use it; it reads the persisted metrics
// file instead.
func (c *Controller) Snapshot() []EngineSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]EngineSnapshot, 0, len(c.engines))
	for _, eng := range c.engines {
		result = append(result, EngineSnapshot{
			Market:    eng.Market(),
			State:     eng.State(),
			Midpoint:  eng.LastMidpoint(),
			Inventory: eng.Inventory(),
		})
	}
	return result
}

// EngineSnapshot is a read-only view of one market's quoting engine state.
type EngineSnapshot struct {
	Market    types.MarketInfo
	State     State
	Midpoint  decimal.Decimal
	Inventory risk.MarketInventory
}
