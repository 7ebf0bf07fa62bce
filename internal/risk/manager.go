// Package risk implements portfolio-level inventory and loss controls for
// the market-making bot: per-side quote throttling as inventory grows,
// a PnL-triggered kill switch, and proportional capital allocation.
package risk

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/internal/config"
)

// KillSignal is emitted when the portfolio-wide kill switch fires.
// MarketID is empty for a global kill (all markets).
type KillSignal struct {
	MarketID string
	Reason   string
}

// PositionReport is submitted by each quote engine after every tick so the
// manager can evaluate the kill switch against up-to-date inventory.
type PositionReport struct {
	MarketID  string
	Inventory MarketInventory
	Midpoint  decimal.Decimal
	Timestamp time.Time
}

// Manager aggregates per-market inventory reports, evaluates the global
// kill switch on a timer, and exposes Snapshot so the controller can total
// unrealized PnL when the kill switch fires. Mutable state is owned by this
// struct and guarded by mu; it is written by the reportCh consumer, Run's
// ticker, RemoveMarket and Reset.
type Manager struct {
	cfg    config.RiskConfig
	logger *slog.Logger

	mu          sync.RWMutex
	inventories map[string]MarketInventory
	midpoints   map[string]decimal.Decimal

	killSwitchActive bool
	killSwitchUntil  time.Time

	reportCh chan PositionReport
	killCh   chan KillSignal
}

// NewManager creates a risk manager for the given configuration.
func NewManager(cfg config.RiskConfig, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:         cfg,
		logger:      logger.With("component", "risk"),
		inventories: make(map[string]MarketInventory),
		midpoints:   make(map[string]decimal.Decimal),
		reportCh:    make(chan PositionReport, 256),
		killCh:      make(chan KillSignal, 16),
	}
}

// Run evaluates the kill switch whenever a report arrives and on a 5s
// safety-net ticker, until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case report := <-m.reportCh:
			m.processReport(report)
		case <-ticker.C:
			m.evaluateKillSwitch("")
		}
	}
}

// Report submits a position update (non-blocking; dropped if the channel is full).
func (m *Manager) Report(report PositionReport) {
	select {
	case m.reportCh <- report:
	default:
		m.logger.Warn("risk report channel full, dropping", "market", report.MarketID)
	}
}

// KillCh returns the channel on which kill signals are delivered.
func (m *Manager) KillCh() <-chan KillSignal {
	return m.killCh
}

func (m *Manager) processReport(report PositionReport) {
	m.mu.Lock()
	m.inventories[report.MarketID] = report.Inventory
	m.midpoints[report.MarketID] = report.Midpoint
	m.mu.Unlock()

	m.evaluateKillSwitch(report.MarketID)
}

// evaluateKillSwitch recomputes ShouldKillSwitch over the current snapshot
// and emits a global kill signal on a true transition. triggeredBy is used
// only for the log line; the signal itself is always global (MarketID ""),
// since the kill switch is a portfolio-wide loss limit, not a per-market one.
func (m *Manager) evaluateKillSwitch(triggeredBy string) {
	m.mu.RLock()
	invSnapshot := make(map[string]MarketInventory, len(m.inventories))
	for k, v := range m.inventories {
		invSnapshot[k] = v
	}
	midSnapshot := make(map[string]decimal.Decimal, len(m.midpoints))
	for k, v := range m.midpoints {
		midSnapshot[k] = v
	}
	m.mu.RUnlock()

	loss := decimal.NewFromFloat(m.cfg.KillSwitchLoss)
	trip := ShouldKillSwitch(invSnapshot, midSnapshot, loss)

	m.mu.Lock()
	wasActive := m.killSwitchActive
	m.killSwitchActive = trip
	if trip {
		m.killSwitchUntil = time.Now().Add(24 * time.Hour) // cleared only by Reset/restart
	}
	m.mu.Unlock()

	if trip && !wasActive {
		m.logger.Error("kill switch triggered", "triggered_by", triggeredBy)
		select {
		case m.killCh <- KillSignal{MarketID: "", Reason: "portfolio unrealized pnl below kill_switch_loss threshold"}:
		default:
			m.logger.Warn("kill channel full, signal dropped")
		}
	}
}

// IsKillSwitchActive reports whether the kill switch is currently engaged.
func (m *Manager) IsKillSwitchActive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.killSwitchActive
}

// RemoveMarket drops a market's inventory tracking, e.g. when its engine is
// stopped by a rescan. Kill-switch state is re-evaluated afterward.
func (m *Manager) RemoveMarket(marketID string) {
	m.mu.Lock()
	delete(m.inventories, marketID)
	delete(m.midpoints, marketID)
	m.mu.Unlock()

	m.evaluateKillSwitch(marketID)
}

// Reset clears the kill switch, used after an operator restart.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.killSwitchActive = false
}

// Snapshot returns a defensive copy of current inventories and midpoints,
// used by the portfolio controller to total unrealized PnL for the
// kill-switch alert.
func (m *Manager) Snapshot() (map[string]MarketInventory, map[string]decimal.Decimal) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	invCopy := make(map[string]MarketInventory, len(m.inventories))
	for k, v := range m.inventories {
		invCopy[k] = v
	}
	midCopy := make(map[string]decimal.Decimal, len(m.midpoints))
	for k, v := range m.midpoints {
		midCopy[k] = v
	}
	return invCopy, midCopy
}
