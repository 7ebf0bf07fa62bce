package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/internal/config"
	"polymarket-mm/internal/exchange"
	"polymarket-mm/internal/metrics"
	"polymarket-mm/internal/notify"
	"polymarket-mm/internal/ratelimit"
	"polymarket-mm/internal/risk"
	"polymarket-mm/pkg/types"
)

func testController(t *testing.T) *Controller {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := config.Config{
		Strategy: testStrategyConfig(),
		Risk: config.RiskConfig{
			MaxTotalCapital: 2000,
			MaxPerMarket:    500,
			KillSwitchLoss:  100,
		},
		Markets: config.MarketsConfig{MaxMarkets: 10, MinRewardDaily: 0},
	}

	return &Controller{
		cfg:          cfg,
		mktFeed:      exchange.NewMarketFeed("", discardLogger()),
		usrFeed:      exchange.NewUserFeed("", nil, discardLogger()),
		riskMgr:      risk.NewManager(cfg.Risk, discardLogger()),
		limiter:      ratelimit.New(),
		notifier:     notify.NewNotifier("", ""),
		metrics:      metrics.NewPortfolioMetrics(),
		logger:       discardLogger(),
		engines:      make(map[string]*QuoteEngine),
		lastBookSeen: make(map[string]time.Time),
		tokenMap:     make(map[string]string),
		ctx:          ctx,
		cancel:       cancel,
	}
}

func marketInfo(id string, score decimal.Decimal) types.MarketInfo {
	return types.MarketInfo{
		ConditionID: id,
		Slug:        id,
		YesTokenID:  id + "-yes",
		NoTokenID:   id + "-no",
		TickSize:    types.Tick001,
		RewardDaily: score,
		Liquidity:   decimal.NewFromInt(1000),
	}
}

func activeSet(ids ...string) map[string]bool {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

func TestReconcileStartsNewMarkets(t *testing.T) {
	t.Parallel()
	c := testController(t)

	c.reconcile([]types.MarketInfo{marketInfo("m1", decimal.NewFromInt(10))}, activeSet("m1"))

	if len(c.engines) != 1 {
		t.Fatalf("expected 1 engine, got %d", len(c.engines))
	}
	if _, ok := c.engines["m1"]; !ok {
		t.Error("expected engine for m1")
	}
}

func TestReconcileStopsStaleMarkets(t *testing.T) {
	t.Parallel()
	c := testController(t)

	c.reconcile([]types.MarketInfo{marketInfo("m1", decimal.NewFromInt(10))}, activeSet("m1"))
	c.reconcile([]types.MarketInfo{marketInfo("m2", decimal.NewFromInt(10))}, activeSet("m1", "m2"))

	if len(c.engines) != 1 {
		t.Fatalf("expected 1 engine after reconcile, got %d", len(c.engines))
	}
	if _, ok := c.engines["m2"]; !ok {
		t.Error("expected m2 to remain after m1 dropped")
	}
	if _, ok := c.engines["m1"]; ok {
		t.Error("expected m1 to be stopped")
	}
}

func TestReconcileStopsResolvedMarketWithOpenPosition(t *testing.T) {
	t.Parallel()
	c := testController(t)

	c.reconcile([]types.MarketInfo{marketInfo("m1", decimal.NewFromInt(10))}, activeSet("m1"))
	c.engines["m1"].inventory.YesTokens = decimal.NewFromInt(50)

	// m1 absent from both the ranked set and the still-active set: it has
	// resolved or been deactivated, not merely outranked.
	c.reconcile(nil, activeSet())

	if len(c.engines) != 0 {
		t.Fatalf("expected m1 removed after resolution, got %d engines", len(c.engines))
	}
}

func TestReconcileIsIdempotentForUnchangedMarkets(t *testing.T) {
	t.Parallel()
	c := testController(t)

	c.reconcile([]types.MarketInfo{marketInfo("m1", decimal.NewFromInt(10))}, activeSet("m1"))
	eng := c.engines["m1"]

	c.reconcile([]types.MarketInfo{marketInfo("m1", decimal.NewFromInt(10))}, activeSet("m1"))
	if c.engines["m1"] != eng {
		t.Error("expected unchanged market to keep its existing engine instance")
	}
}

func TestStartEngineLockedScalesOrderSizeByAllocation(t *testing.T) {
	t.Parallel()
	c := testController(t)
	c.cfg.Strategy.OrderSize = 100

	c.mu.Lock()
	c.startEngineLocked(marketInfo("m1", decimal.NewFromInt(10)), decimal.NewFromInt(250))
	c.mu.Unlock()

	eng := c.engines["m1"]
	if eng == nil {
		t.Fatal("expected engine to be created")
	}
	// allocation 250 / maxPerMarket 500 = 0.5 scale -> order size 50.
	if !eng.orderSize.Equal(decimal.NewFromInt(50)) {
		t.Errorf("expected scaled order size 50, got %s", eng.orderSize)
	}
}

func TestStartEngineLockedSkipsMissingTokenIDs(t *testing.T) {
	t.Parallel()
	c := testController(t)

	m := marketInfo("m1", decimal.NewFromInt(10))
	m.YesTokenID = ""

	c.mu.Lock()
	c.startEngineLocked(m, decimal.Zero)
	c.mu.Unlock()

	if len(c.engines) != 0 {
		t.Error("expected market with missing token IDs to be skipped")
	}
}

func TestTickAllNoOpWithNoEngines(t *testing.T) {
	t.Parallel()
	c := testController(t)
	// No engines registered and kill switch inactive: tickAll must return
	// without touching the (nil) exchange client.
	c.tickAll()
}

func TestEngineForTokenResolvesViaTokenMap(t *testing.T) {
	t.Parallel()
	c := testController(t)
	c.reconcile([]types.MarketInfo{marketInfo("m1", decimal.NewFromInt(10))}, activeSet("m1"))

	eng, ok := c.engineForToken("m1-yes")
	if !ok || eng != c.engines["m1"] {
		t.Error("expected yes token to resolve to m1's engine")
	}
	eng, ok = c.engineForToken("m1-no")
	if !ok || eng != c.engines["m1"] {
		t.Error("expected no token to resolve to m1's engine")
	}
	if _, ok := c.engineForToken("unknown-token"); ok {
		t.Error("expected unknown token to not resolve")
	}
}

func TestRouteMidpointUpdatesOwningEngine(t *testing.T) {
	t.Parallel()
	c := testController(t)
	c.reconcile([]types.MarketInfo{marketInfo("m1", decimal.NewFromInt(10))}, activeSet("m1"))

	c.routeMidpoint("m1-yes", decimal.NewFromFloat(0.62))

	eng := c.engines["m1"]
	if eng.wsMidpoint == nil || !eng.wsMidpoint.Equal(decimal.NewFromFloat(0.62)) {
		t.Errorf("expected engine's ws midpoint 0.62, got %v", eng.wsMidpoint)
	}
}

func TestRouteFillAppliesToOwningEngine(t *testing.T) {
	t.Parallel()
	c := testController(t)
	c.reconcile([]types.MarketInfo{marketInfo("m1", decimal.NewFromInt(10))}, activeSet("m1"))

	c.routeFill(types.WSTradeEvent{ID: "t1", AssetID: "m1-yes", Side: "BUY", Size: "10", Price: "0.5"})

	eng := c.engines["m1"]
	if !eng.inventory.YesTokens.Equal(decimal.NewFromInt(10)) {
		t.Errorf("expected routed fill to update m1's inventory, got %s", eng.inventory.YesTokens)
	}
}

func TestSetAllWSConnectedBroadcastsToEveryEngine(t *testing.T) {
	t.Parallel()
	c := testController(t)
	c.reconcile([]types.MarketInfo{
		marketInfo("m1", decimal.NewFromInt(10)),
		marketInfo("m2", decimal.NewFromInt(5)),
	}, activeSet("m1", "m2"))

	c.setAllWSConnected(true)
	for id, eng := range c.engines {
		if !eng.wsConnected {
			t.Errorf("expected engine %s to be marked ws connected", id)
		}
	}

	c.setAllWSConnected(false)
	for id, eng := range c.engines {
		if eng.wsConnected {
			t.Errorf("expected engine %s to be marked ws disconnected", id)
		}
	}
}

func TestHandleMarketFeedEventRoutesByKind(t *testing.T) {
	t.Parallel()
	c := testController(t)
	c.reconcile([]types.MarketInfo{marketInfo("m1", decimal.NewFromInt(10))}, activeSet("m1"))

	c.handleMarketFeedEvent(types.FeedEvent{Kind: types.FeedDisconnected})
	if c.engines["m1"].wsConnected {
		t.Error("expected Disconnected to clear ws_connected")
	}

	c.handleMarketFeedEvent(types.FeedEvent{Kind: types.FeedReconnected})
	if !c.engines["m1"].wsConnected {
		t.Error("expected Reconnected to set ws_connected")
	}

	c.handleMarketFeedEvent(types.FeedEvent{Kind: types.FeedMidpointUpdate, AssetID: "m1-yes", Midpoint: decimal.NewFromFloat(0.55)})
	if c.engines["m1"].wsMidpoint == nil || !c.engines["m1"].wsMidpoint.Equal(decimal.NewFromFloat(0.55)) {
		t.Error("expected MidpointUpdate to route to m1's engine")
	}

	if _, seen := c.lastBookSeen["m1-yes"]; !seen {
		t.Error("expected MidpointUpdate to also mark book seen")
	}
}

func TestBuildExchangeHandleDryRunWithoutSignerFallsBackToReadOnly(t *testing.T) {
	t.Parallel()
	cfg := config.Config{
		DryRun: true,
		Wallet: config.WalletConfig{PrivateKeyEnv: "POLYMARKET_MM_TEST_UNSET_KEY"},
		API:    config.APIConfig{CLOBBaseURL: "https://clob.example.com"},
	}

	auth, client, err := buildExchangeHandle(cfg, discardLogger())
	if err != nil {
		t.Fatalf("expected dry-run without a signer to succeed, got %v", err)
	}
	if auth != nil {
		t.Error("expected nil auth for a dry-run client without a signer")
	}
	if client == nil {
		t.Fatal("expected a non-nil dry-run client")
	}
}

func TestBuildExchangeHandleLiveWithoutSignerFails(t *testing.T) {
	t.Parallel()
	cfg := config.Config{
		DryRun: false,
		Wallet: config.WalletConfig{PrivateKeyEnv: "POLYMARKET_MM_TEST_UNSET_KEY"},
		API:    config.APIConfig{CLOBBaseURL: "https://clob.example.com"},
	}

	_, _, err := buildExchangeHandle(cfg, discardLogger())
	if err == nil {
		t.Fatal("expected live trading without a signer to fail")
	}
}

func TestHandleKillSignalClearsRestingOrders(t *testing.T) {
	t.Parallel()
	c := testController(t)
	c.reconcile([]types.MarketInfo{marketInfo("m1", decimal.NewFromInt(10))}, activeSet("m1"))
	eng := c.engines["m1"]
	eng.tracked = nil // no resting orders, so CancelResting needs no client
	eng.state = StateQuoting

	// handleKillSignal also calls orders.CancelAll, which needs a live
	// client; this replays only its per-engine CancelResting loop.
	c.mu.Lock()
	for _, e := range c.engines {
		e.CancelResting(c.ctx, nil)
	}
	c.mu.Unlock()

	if eng.state != StateStopped {
		t.Errorf("expected engine stopped after kill signal, got %s", eng.state)
	}
}
