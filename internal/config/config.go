// Package config provides configuration management for the trading application.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Trading       TradingConfig      `mapstructure:"trading"`
	Strategy      StrategyConfig     `mapstructure:"strategy"`
	Filters       FilterConfig       `mapstructure:"filters"`
	Risk          RiskConfig         `mapstructure:"risk"`
	Execution     ExecutionConfig    `mapstructure:"execution"`
	TrailingStop  TrailingStopConfig `mapstructure:"trailing_stop"`
	Loop          LoopConfig         `mapstructure:"loop"`
	Store         StoreConfig        `mapstructure:"store"`
	Logging       LoggingConfig      `mapstructure:"logging"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Credentials   Credentials        `mapstructure:"-"` // Loaded separately
}

// TradingConfig holds market and mode configuration.
type TradingConfig struct {
	Mode           string  `mapstructure:"mode"` // "live", "paper"
	Symbol         string  `mapstructure:"symbol"`
	Interval       string  `mapstructure:"interval"`
	Leverage       int     `mapstructure:"leverage"`
	InitialCapital float64 `mapstructure:"initial_capital"`
}

// StrategyConfig holds the ADX strategy parameters.
type StrategyConfig struct {
	ADXPeriod        int     `mapstructure:"adx_period"`
	ADXThreshold     float64 `mapstructure:"adx_threshold"`
	ADXWeakThreshold float64 `mapstructure:"adx_weak_threshold"`
	SlopeMin         float64 `mapstructure:"slope_min"`
	DISpreadMin      float64 `mapstructure:"di_spread_min"`
	MinConfidence    float64 `mapstructure:"min_confidence"`
	SLATRMultiplier  float64 `mapstructure:"sl_atr_multiplier"`
	TPATRMultiplier  float64 `mapstructure:"tp_atr_multiplier"`
	TimeoutCandles   int     `mapstructure:"timeout_candles"`
}

// FilterConfig holds the signal filter pipeline parameters.
type FilterConfig struct {
	CooldownMinutes     int     `mapstructure:"cooldown_minutes"`
	EnableShortBias     bool    `mapstructure:"enable_short_bias"`
	ShortBiasMultiplier float64 `mapstructure:"short_bias_multiplier"`
	TradingHoursEnabled bool    `mapstructure:"trading_hours_enabled"`
	TradingHourStart    int     `mapstructure:"trading_hour_start"`
	TradingHourEnd      int     `mapstructure:"trading_hour_end"`
	VolumeFilterEnabled bool    `mapstructure:"volume_filter_enabled"`
	VolumePercentile    float64 `mapstructure:"volume_percentile"`
	VolumeLookback      int     `mapstructure:"volume_lookback"`
	MinATRPercent       float64 `mapstructure:"min_atr_percent"`
	DedupWindowMinutes  int     `mapstructure:"dedup_window_minutes"`
	DedupPriceTolerance float64 `mapstructure:"dedup_price_tolerance"`
}

// RiskConfig holds risk management configuration.
type RiskConfig struct {
	RiskPerTradePercent    float64 `mapstructure:"risk_per_trade_percent"`
	MaxRiskPerTradePercent float64 `mapstructure:"max_risk_per_trade_percent"`
	MaxPositionPercent     float64 `mapstructure:"max_position_percent"`
	MinPositionUSD         float64 `mapstructure:"min_position_usd"`
	MaxMarginUsage         float64 `mapstructure:"max_margin_usage"`
	DailyLossLimitPercent  float64 `mapstructure:"daily_loss_limit_percent"`
	MaxDrawdownPercent     float64 `mapstructure:"max_drawdown_percent"`
	MaxConcurrentPositions int     `mapstructure:"max_concurrent_positions"`
	ConsecutiveLossLimit   int     `mapstructure:"consecutive_loss_limit"`
	UseKellySizing         bool    `mapstructure:"use_kelly_sizing"`
}

// ExecutionConfig holds fill simulation and order handling parameters.
type ExecutionConfig struct {
	TakerFeePercent     float64 `mapstructure:"taker_fee_percent"`
	SlippagePercent     float64 `mapstructure:"slippage_percent"`
	OrderTimeoutSeconds int     `mapstructure:"order_timeout_seconds"`
	RetryAttempts       int     `mapstructure:"retry_attempts"`
}

// TrailingStopConfig holds trailing stop and breakeven parameters.
type TrailingStopConfig struct {
	Enabled            bool    `mapstructure:"enabled"`
	ActivationPercent  float64 `mapstructure:"activation_percent"`
	DistancePercent    float64 `mapstructure:"distance_percent"`
	BreakevenEnabled   bool    `mapstructure:"breakeven_enabled"`
	BreakevenThreshold float64 `mapstructure:"breakeven_threshold"`
}

// LoopConfig holds control loop cadence configuration.
type LoopConfig struct {
	TickIntervalSeconds     int `mapstructure:"tick_interval_seconds"`
	SignalCheckSeconds      int `mapstructure:"signal_check_seconds"`
	StatusIntervalSeconds   int `mapstructure:"status_interval_seconds"`
	SnapshotIntervalSeconds int `mapstructure:"snapshot_interval_seconds"`
	CandleLimit             int `mapstructure:"candle_limit"`
	ScanLookback            int `mapstructure:"scan_lookback"`
}

// StoreConfig holds trade persistence configuration.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Console  bool   `mapstructure:"console"`
	File     bool   `mapstructure:"file"`
	FilePath string `mapstructure:"file_path"`
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Level    string         `mapstructure:"level"` // info, warning, critical
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// Credentials holds API credentials.
type Credentials struct {
	Binance BinanceCredentials `mapstructure:"binance"`
}

// BinanceCredentials holds Binance futures API credentials.
type BinanceCredentials struct {
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
	Testnet   bool   `mapstructure:"testnet"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/adx-trader"
	}
	return filepath.Join(home, ".config", "adx-trader")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{}

	// Load main config
	if err := loadConfigFile(configDir, "config", cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	// Load credentials
	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Fill path defaults relative to the config directory
	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(configDir, "trades.db")
	}
	if cfg.Logging.FilePath == "" {
		cfg.Logging.FilePath = filepath.Join(configDir, "logs", "trader.log")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadConfigFile(configDir, name string, target interface{}) error {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found, create template
			return createTemplateConfig(configDir, name)
		}
		return err
	}

	return v.Unmarshal(target)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createTemplateCredentials(configDir)
		}
		return err
	}

	return v.Unmarshal(creds)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("trading.mode", "paper")
	v.SetDefault("trading.symbol", "BTCUSDT")
	v.SetDefault("trading.interval", "5m")
	v.SetDefault("trading.leverage", 5)
	v.SetDefault("trading.initial_capital", 100.0)

	v.SetDefault("strategy.adx_period", 14)
	v.SetDefault("strategy.adx_threshold", 25.0)
	v.SetDefault("strategy.adx_weak_threshold", 20.0)
	v.SetDefault("strategy.slope_min", 0.5)
	v.SetDefault("strategy.di_spread_min", 5.0)
	v.SetDefault("strategy.min_confidence", 0.6)
	v.SetDefault("strategy.sl_atr_multiplier", 2.0)
	v.SetDefault("strategy.tp_atr_multiplier", 4.0)
	v.SetDefault("strategy.timeout_candles", 12)

	v.SetDefault("filters.cooldown_minutes", 15)
	v.SetDefault("filters.enable_short_bias", true)
	v.SetDefault("filters.short_bias_multiplier", 1.5)
	v.SetDefault("filters.trading_hours_enabled", false)
	v.SetDefault("filters.trading_hour_start", 0)
	v.SetDefault("filters.trading_hour_end", 24)
	v.SetDefault("filters.volume_filter_enabled", false)
	v.SetDefault("filters.volume_percentile", 20.0)
	v.SetDefault("filters.volume_lookback", 50)
	v.SetDefault("filters.min_atr_percent", 0.1)
	v.SetDefault("filters.dedup_window_minutes", 5)
	v.SetDefault("filters.dedup_price_tolerance", 0.1)

	v.SetDefault("risk.risk_per_trade_percent", 2.0)
	v.SetDefault("risk.max_risk_per_trade_percent", 3.0)
	v.SetDefault("risk.max_position_percent", 20.0)
	v.SetDefault("risk.min_position_usd", 10.0)
	v.SetDefault("risk.max_margin_usage", 0.8)
	v.SetDefault("risk.daily_loss_limit_percent", 5.0)
	v.SetDefault("risk.max_drawdown_percent", 15.0)
	v.SetDefault("risk.max_concurrent_positions", 2)
	v.SetDefault("risk.consecutive_loss_limit", 3)
	v.SetDefault("risk.use_kelly_sizing", false)

	v.SetDefault("execution.taker_fee_percent", 0.05)
	v.SetDefault("execution.slippage_percent", 0.02)
	v.SetDefault("execution.order_timeout_seconds", 30)
	v.SetDefault("execution.retry_attempts", 3)

	v.SetDefault("trailing_stop.enabled", true)
	v.SetDefault("trailing_stop.activation_percent", 0.5)
	v.SetDefault("trailing_stop.distance_percent", 0.3)
	v.SetDefault("trailing_stop.breakeven_enabled", false)
	v.SetDefault("trailing_stop.breakeven_threshold", 0.5)

	v.SetDefault("loop.tick_interval_seconds", 5)
	v.SetDefault("loop.signal_check_seconds", 300)
	v.SetDefault("loop.status_interval_seconds", 60)
	v.SetDefault("loop.snapshot_interval_seconds", 300)
	v.SetDefault("loop.candle_limit", 200)
	v.SetDefault("loop.scan_lookback", 10)

	v.SetDefault("store.enabled", true)
	v.SetDefault("store.path", filepath.Join(DefaultConfigDir(), "trades.db"))

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.file_path", filepath.Join(DefaultConfigDir(), "logs", "trader.log"))

	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.level", "info")
}

func applyEnvOverrides(cfg *Config) {
	// Binance credentials
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		cfg.Credentials.Binance.APIKey = v
	}
	if v := os.Getenv("BINANCE_API_SECRET"); v != "" {
		cfg.Credentials.Binance.APISecret = v
	}

	// Trading mode
	if v := os.Getenv("TRADING_MODE"); v != "" {
		cfg.Trading.Mode = v
	}
}

var supportedIntervals = map[string]bool{
	"1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "2h": true, "4h": true, "6h": true, "8h": true,
	"12h": true, "1d": true, "3d": true, "1w": true, "1M": true,
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	// Validate trading mode
	if c.Trading.Mode != "live" && c.Trading.Mode != "paper" {
		return fmt.Errorf("invalid trading mode: %s (must be 'live' or 'paper')", c.Trading.Mode)
	}
	if c.Trading.Symbol == "" {
		return fmt.Errorf("trading symbol must be set")
	}
	if !supportedIntervals[c.Trading.Interval] {
		return fmt.Errorf("unsupported interval: %s", c.Trading.Interval)
	}
	if c.Trading.Leverage < 1 || c.Trading.Leverage > 125 {
		return fmt.Errorf("leverage must be between 1 and 125")
	}
	if c.Trading.InitialCapital <= 0 {
		return fmt.Errorf("initial_capital must be positive")
	}

	// Validate strategy parameters
	if c.Strategy.ADXPeriod < 2 {
		return fmt.Errorf("adx_period must be at least 2")
	}
	if c.Strategy.ADXWeakThreshold >= c.Strategy.ADXThreshold {
		return fmt.Errorf("adx_weak_threshold must be below adx_threshold")
	}
	if c.Strategy.MinConfidence < 0 || c.Strategy.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be between 0 and 1")
	}
	if c.Strategy.SLATRMultiplier <= 0 || c.Strategy.TPATRMultiplier <= 0 {
		return fmt.Errorf("ATR multipliers must be positive")
	}

	// Validate risk parameters
	if c.Risk.RiskPerTradePercent <= 0 || c.Risk.RiskPerTradePercent > 100 {
		return fmt.Errorf("risk_per_trade_percent must be between 0 and 100")
	}
	if c.Risk.MaxPositionPercent <= 0 || c.Risk.MaxPositionPercent > 100 {
		return fmt.Errorf("max_position_percent must be between 0 and 100")
	}
	if c.Risk.MaxMarginUsage <= 0 || c.Risk.MaxMarginUsage > 1 {
		return fmt.Errorf("max_margin_usage must be between 0 and 1")
	}
	if c.Risk.MaxConcurrentPositions < 1 {
		return fmt.Errorf("max_concurrent_positions must be at least 1")
	}
	if c.Risk.ConsecutiveLossLimit < 1 {
		return fmt.Errorf("consecutive_loss_limit must be at least 1")
	}

	// Validate filter parameters
	if c.Filters.CooldownMinutes < 0 {
		return fmt.Errorf("cooldown_minutes must be non-negative")
	}
	if c.Filters.ShortBiasMultiplier < 1 {
		return fmt.Errorf("short_bias_multiplier must be at least 1")
	}
	if c.Filters.TradingHourStart < 0 || c.Filters.TradingHourStart > 23 {
		return fmt.Errorf("trading_hour_start must be between 0 and 23")
	}
	if c.Filters.TradingHourEnd < 0 || c.Filters.TradingHourEnd > 24 {
		return fmt.Errorf("trading_hour_end must be between 0 and 24")
	}

	// Validate execution parameters
	if c.Execution.TakerFeePercent < 0 || c.Execution.SlippagePercent < 0 {
		return fmt.Errorf("fee and slippage percentages must be non-negative")
	}

	return nil
}

// IsPaperMode returns true if paper trading mode is enabled.
func (c *Config) IsPaperMode() bool {
	return c.Trading.Mode == "paper"
}
