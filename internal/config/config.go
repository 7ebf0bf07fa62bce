// Package config defines all configuration for the market-making bot.
// Config is loaded from a TOML file (default: config.toml) with sensitive
// fields overridable via POLY_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the TOML file structure.
type Config struct {
	DryRun     bool             `mapstructure:"dry_run"`
	Wallet     WalletConfig     `mapstructure:"wallet"`
	API        APIConfig        `mapstructure:"api"`
	Strategy   StrategyConfig   `mapstructure:"strategy"`
	Markets    MarketsConfig    `mapstructure:"markets"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Store      StoreConfig      `mapstructure:"store"`
}

// WalletConfig holds the Ethereum wallet used for signing orders.
// PrivateKeyEnv names the environment variable holding the private key hex
// (default POLYMARKET_PRIVATE_KEY); the key itself never lives in the file.
type WalletConfig struct {
	PrivateKeyEnv string `mapstructure:"private_key_env"`
	SignatureType string `mapstructure:"signature_type"` // eoa, proxy, gnosis_safe
	FunderAddress string `mapstructure:"funder_address"`
	ChainID       int    `mapstructure:"chain_id"`
}

// SignatureTypeCode maps the config's textual signature_type to the numeric
// CTF exchange signing scheme.
func (w WalletConfig) SignatureTypeCode() (int, error) {
	switch strings.ToLower(w.SignatureType) {
	case "", "eoa":
		return 0, nil
	case "proxy":
		return 1, nil
	case "gnosis_safe":
		return 2, nil
	default:
		return 0, fmt.Errorf("wallet.signature_type must be one of: eoa, proxy, gnosis_safe (got %q)", w.SignatureType)
	}
}

// PrivateKey reads the private key hex from the environment variable named
// by PrivateKeyEnv (default POLYMARKET_PRIVATE_KEY).
func (w WalletConfig) PrivateKey() (string, error) {
	name := w.PrivateKeyEnv
	if name == "" {
		name = "POLYMARKET_PRIVATE_KEY"
	}
	key := os.Getenv(name)
	if key == "" {
		return "", fmt.Errorf("environment variable %s is not set", name)
	}
	return key, nil
}

// APIConfig holds Polymarket API endpoints and optional pre-derived L2 credentials.
// If ApiKey/Secret/Passphrase are empty, the bot derives them via L1 auth on startup.
type APIConfig struct {
	CLOBBaseURL  string `mapstructure:"clob_base_url"`
	GammaBaseURL string `mapstructure:"gamma_base_url"`
	WSMarketURL  string `mapstructure:"ws_market_url"`
	WSUserURL    string `mapstructure:"ws_user_url"`
	ApiKey       string `mapstructure:"api_key"`
	Secret       string `mapstructure:"secret"`
	Passphrase   string `mapstructure:"passphrase"`
}

// StrategyConfig tunes the fee-aware quoting engine.
//
//   - BaseOffsetCents: baseline one-sided distance from midpoint, in cents.
//   - MinOffsetCents: floor on that distance, in cents.
//   - RequoteIntervalSecs: force a requote if this long has elapsed.
//   - RequoteThresholdCents: force a requote if midpoint moved this much.
//   - OrderSize: size in tokens for every quote level, before capital scaling.
//   - NumLevels: number of quote levels per side, each 10% wider than the last.
//   - InventoryCap: net position (yes - no) that scales the inventory skew;
//     the skew reaches its ±0.5 clamp at half the cap. Neither side is
//     paused or resized when the cap is reached.
type StrategyConfig struct {
	BaseOffsetCents       float64       `mapstructure:"base_offset_cents"`
	MinOffsetCents        float64       `mapstructure:"min_offset_cents"`
	RequoteIntervalSecs   int           `mapstructure:"requote_interval_secs"`
	RequoteThresholdCents float64       `mapstructure:"requote_threshold_cents"`
	OrderSize             float64       `mapstructure:"order_size"`
	NumLevels             int           `mapstructure:"num_levels"`
	InventoryCap          float64       `mapstructure:"inventory_cap"`
	StaleBookTimeout      time.Duration `mapstructure:"stale_book_timeout"`

	// Toxic flow detection (ambient enrichment, see DESIGN.md).
	FlowWindow              time.Duration `mapstructure:"flow_window"`
	FlowToxicityThreshold   float64       `mapstructure:"flow_toxicity_threshold"`
	FlowCooldownPeriod      time.Duration `mapstructure:"flow_cooldown_period"`
	FlowMaxSpreadMultiplier float64       `mapstructure:"flow_max_spread_multiplier"`
}

// RequoteInterval returns RequoteIntervalSecs as a time.Duration.
func (s StrategyConfig) RequoteInterval() time.Duration {
	return time.Duration(s.RequoteIntervalSecs) * time.Second
}

// MarketsConfig controls how the bot discovers and selects tradeable markets.
type MarketsConfig struct {
	Mode             string   `mapstructure:"mode"` // "auto" or "manual"
	MaxMarkets       int      `mapstructure:"max_markets"`
	MinRewardDaily   float64  `mapstructure:"min_reward_daily"`
	PreferFeeEnabled bool     `mapstructure:"prefer_fee_enabled"`
	ManualMarkets    []string `mapstructure:"manual_markets"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	RescanInterval   time.Duration `mapstructure:"rescan_interval"`
}

// RiskConfig sets hard limits that trigger order cancellation (kill switch).
type RiskConfig struct {
	MaxTotalCapital float64 `mapstructure:"max_total_capital"`
	MaxPerMarket    float64 `mapstructure:"max_per_market"`
	KillSwitchLoss  float64 `mapstructure:"kill_switch_loss"`
}

// MonitoringConfig controls logging and alerting.
type MonitoringConfig struct {
	LogLevel         string `mapstructure:"log_level"`
	LogFormat        string `mapstructure:"log_format"`
	TelegramBotToken string `mapstructure:"telegram_bot_token"`
	TelegramChatID   string `mapstructure:"telegram_chat_id"`
}

// StoreConfig sets where metrics data is persisted (JSON files).
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// setDefaults mirrors the defaults original_source/config.rs's serde
// annotations fall back to when a field is absent from the TOML file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("wallet.private_key_env", "POLYMARKET_PRIVATE_KEY")
	v.SetDefault("wallet.signature_type", "eoa")
	v.SetDefault("wallet.chain_id", 137)

	v.SetDefault("api.clob_base_url", "https://clob.polymarket.com")
	v.SetDefault("api.gamma_base_url", "https://gamma-api.polymarket.com")
	v.SetDefault("api.ws_market_url", "wss://ws-subscriptions-clob.polymarket.com/ws/market")
	v.SetDefault("api.ws_user_url", "wss://ws-subscriptions-clob.polymarket.com/ws/user")

	v.SetDefault("strategy.base_offset_cents", 1.0)
	v.SetDefault("strategy.min_offset_cents", 0.5)
	v.SetDefault("strategy.requote_interval_secs", 30)
	v.SetDefault("strategy.requote_threshold_cents", 0.5)
	v.SetDefault("strategy.order_size", 500.0)
	v.SetDefault("strategy.num_levels", 2)
	v.SetDefault("strategy.inventory_cap", 5000.0)
	v.SetDefault("strategy.stale_book_timeout", "60s")

	v.SetDefault("markets.mode", "auto")
	v.SetDefault("markets.max_markets", 20)
	v.SetDefault("markets.min_reward_daily", 5.0)
	v.SetDefault("markets.poll_interval", "60s")
	v.SetDefault("markets.rescan_interval", "1h")

	v.SetDefault("risk.max_total_capital", 2000.0)
	v.SetDefault("risk.max_per_market", 500.0)
	v.SetDefault("risk.kill_switch_loss", 100.0)

	v.SetDefault("monitoring.log_level", "info")
	v.SetDefault("monitoring.log_format", "text")

	v.SetDefault("store.data_dir", "data")
}

// Load reads config from a TOML file with env var overrides.
// The wallet private key is never read from the file; it is read from the
// environment variable named by wallet.private_key_env.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetEnvPrefix("POLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("POLY_API_KEY"); key != "" {
		cfg.API.ApiKey = key
	}
	if secret := os.Getenv("POLY_API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if pass := os.Getenv("POLY_PASSPHRASE"); pass != "" {
		cfg.API.Passphrase = pass
	}
	if os.Getenv("POLY_DRY_RUN") == "true" || os.Getenv("POLY_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges. It does not require
// the private key env var to be set (read-only `scan` never needs a signer).
func (c *Config) Validate() error {
	if c.Wallet.ChainID == 0 {
		return fmt.Errorf("wallet.chain_id is required (137 for mainnet)")
	}
	if _, err := c.Wallet.SignatureTypeCode(); err != nil {
		return err
	}
	if c.API.CLOBBaseURL == "" {
		return fmt.Errorf("api.clob_base_url is required")
	}
	if c.Strategy.OrderSize <= 0 {
		return fmt.Errorf("strategy.order_size must be > 0")
	}
	if c.Strategy.NumLevels <= 0 {
		return fmt.Errorf("strategy.num_levels must be > 0")
	}
	if c.Risk.MaxTotalCapital <= 0 {
		return fmt.Errorf("risk.max_total_capital must be > 0")
	}
	if c.Risk.MaxPerMarket <= 0 {
		return fmt.Errorf("risk.max_per_market must be > 0")
	}
	if c.Markets.MaxMarkets <= 0 {
		return fmt.Errorf("markets.max_markets must be > 0")
	}
	if c.Markets.Mode == "manual" {
		// Declared but not implemented upstream (see DESIGN.md Open
		// Questions): fall back to auto mode rather than erroring.
		c.Markets.Mode = "auto"
	}
	return nil
}

// RequireSigner validates that a private key is available, for use before
// any authenticated operation (run --live).
func (c *Config) RequireSigner() error {
	if _, err := c.Wallet.PrivateKey(); err != nil {
		return fmt.Errorf("live trading requires a signer: %w", err)
	}
	return nil
}
