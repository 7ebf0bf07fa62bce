// Polymarket Market Maker — an automated liquidity-providing bot for
// Polymarket binary prediction markets.
//
// Architecture:
//
//	main.go                    — entry point: subcommand dispatch, config load, signal handling
//	engine/engine.go           — Controller: orchestrator, wires scanner → quoting engines → exchange
//	engine/quote_engine.go     — QuoteEngine: per-market state machine, inventory-skewed quote ladder
//	quoter/quoter.go           — pure quote math: fee-aware offsets, tick alignment, skew clamping
//	market/scanner.go          — polls the Gamma API, ranks markets by opportunity score
//	exchange/client.go         — REST client for the Polymarket CLOB API
//	exchange/auth.go           — L1 (EIP-712) and L2 (HMAC) authentication
//	exchange/ws.go             — WebSocket feeds (market data + user fills/orders)
//	risk/manager.go            — portfolio-wide inventory tracking and kill switch
//	orders/orders.go           — batched order placement, cancellation, and fill reconciliation
//	store/store.go             — JSON file persistence for metrics (survives restarts)
//
// How it makes money:
//
//	The bot posts a bid below the market midpoint and an ask above it on
//	each selected binary market. When both sides fill it earns the spread;
//	it also collects the exchange's daily liquidity-provision rewards on
//	markets that qualify. Net inventory skews future quotes to encourage
//	offsetting fills rather than accumulating one-sided risk.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"

	"polymarket-mm/internal/config"
	"polymarket-mm/internal/engine"
	"polymarket-mm/internal/market"
	"polymarket-mm/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "scan":
		runScan(os.Args[2:])
	case "run":
		runBot(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `polymarket-mm — automated market making for Polymarket binary markets

Usage:
  polymarket-mm scan   [--config path] [--min-reward N] [--limit N]
  polymarket-mm run    [--config path] [--live] [--market PREFIX] [--no-ws]
  polymarket-mm status [--config path]`)
}

func loadConfig(path string) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config %s: %v\n", path, err)
		os.Exit(1)
	}
	return cfg
}

func newLogger(cfg config.MonitoringConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// runScan discovers eligible markets via the Gamma API, ranks them by
// opportunity score, and prints the top candidates as a table — no
// authentication required, safe to run against a bare config.
func runScan(args []string) {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	cfgPath := fs.String("config", "config.toml", "path to config file")
	minReward := fs.Float64("min-reward", 0, "minimum daily reward to list")
	limit := fs.Int("limit", 20, "maximum rows to print")
	fs.Parse(args)

	cfg := loadConfig(*cfgPath)
	logger := newLogger(cfg.Monitoring)

	scanner := market.NewScanner(cfg.API, cfg.Markets, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	all, err := scanner.Scan(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scan failed: %v\n", err)
		os.Exit(1)
	}

	ranked := market.RankMarkets(all, decimal.NewFromFloat(*minReward), *limit)
	if len(ranked) == 0 {
		fmt.Println("no eligible markets found")
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("#", "Question", "Daily Reward", "Liquidity", "Score", "Tick", "Condition ID")
	for i, m := range ranked {
		question := m.Question
		if len(question) > 50 {
			question = question[:47] + "..."
		}
		conditionID := m.ConditionID
		if len(conditionID) > 12 {
			conditionID = conditionID[:12]
		}
		table.Append(
			fmt.Sprintf("%d", i+1),
			question,
			m.RewardDaily.StringFixed(2),
			m.Liquidity.StringFixed(2),
			m.OpportunityScore().StringFixed(1),
			string(m.TickSize),
			conditionID,
		)
	}
	table.Render()
}

// runBot loads full config, wires the controller, and runs until an OS
// signal requests shutdown. Without --live the config's dry_run flag
// governs; --live forces live trading regardless of the file's setting.
func runBot(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "config.toml", "path to config file")
	live := fs.Bool("live", false, "force live trading, overriding config dry_run")
	marketPrefix := fs.String("market", "", "restrict to a single market by slug/condition-ID prefix")
	noWS := fs.Bool("no-ws", false, "disable WebSocket feeds and run on REST polling only")
	fs.Parse(args)

	cfg := loadConfig(*cfgPath)
	if *live {
		cfg.DryRun = false
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}
	if *live {
		if err := cfg.RequireSigner(); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
	}

	logger := newLogger(cfg.Monitoring)

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	if *marketPrefix != "" {
		// Manual single-market targeting isn't wired into the scanner's
		// selection logic yet (see DESIGN.md); the controller still scans
		// and ranks the full eligible set.
		logger.Warn("--market is not yet implemented, falling back to auto-scan", "prefix", *marketPrefix)
	}

	ctrl, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create controller", "error", err)
		os.Exit(1)
	}

	if *noWS {
		ctrl.DisableWebSocket()
	}

	if err := ctrl.Start(); err != nil {
		logger.Error("failed to start controller", "error", err)
		os.Exit(1)
	}

	logger.Info("polymarket market maker started",
		"max_markets", cfg.Markets.MaxMarkets,
		"order_size", cfg.Strategy.OrderSize,
		"max_capital", cfg.Risk.MaxTotalCapital,
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	ctrl.Stop()
}

// runStatus prints the last persisted portfolio metrics snapshot. It does
// not start the controller or touch the network — it only reads whatever
// the most recent run saved to disk.
func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	cfgPath := fs.String("config", "config.toml", "path to config file")
	fs.Parse(args)

	cfg := loadConfig(*cfgPath)

	st, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	pm, err := st.LoadMetrics()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load metrics: %v\n", err)
		os.Exit(1)
	}

	if len(pm.Markets) == 0 {
		fmt.Println("no recorded market activity")
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Market", "Spread PnL", "Reward PnL", "Rebate PnL", "Total PnL", "Fills", "Uptime %")
	for _, m := range pm.Markets {
		question := m.Question
		if len(question) > 40 {
			question = question[:37] + "..."
		}
		table.Append(
			question,
			m.SpreadPnL.StringFixed(2),
			m.RewardPnL.StringFixed(2),
			m.RebatePnL.StringFixed(2),
			m.TotalPnL().StringFixed(2),
			fmt.Sprintf("%d", m.TotalFills),
			m.UptimePct().StringFixed(1),
		)
	}
	table.Render()

	fmt.Printf("\nsession since %s — total PnL %s across %d markets, avg uptime %s%%\n",
		pm.SessionStart.Format(time.RFC3339),
		pm.TotalPnL().StringFixed(2),
		len(pm.Markets),
		pm.AvgUptime().StringFixed(1),
	)
}
