package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# ADX Trader Configuration

[trading]
# Trading mode: "live" or "paper"
mode = "paper"
# Perpetual futures symbol
symbol = "BTCUSDT"
# Candle interval: 1m, 3m, 5m, 15m, 30m, 1h, 4h, 1d, ...
interval = "5m"
# Futures leverage
leverage = 5
# Starting capital in USDT (paper mode)
initial_capital = 100.0

[strategy]
# ADX/DI smoothing period
adx_period = 14
# Minimum ADX for signal generation
adx_threshold = 25.0
# ADX below this exits on trend weakness
adx_weak_threshold = 20.0
# Minimum ADX slope for signal generation
slope_min = 0.5
# Minimum absolute DI spread
di_spread_min = 5.0
# Minimum signal confidence
min_confidence = 0.6
# Stop loss distance in ATR multiples
sl_atr_multiplier = 2.0
# Take profit distance in ATR multiples
tp_atr_multiplier = 4.0
# Backtest exit after this many candles without stop or target
timeout_candles = 12

[filters]
# Minutes between signals of the same side
cooldown_minutes = 15
# Boost short signal confidence
enable_short_bias = true
short_bias_multiplier = 1.5
# Restrict signals to a UTC hour window (wraps past midnight)
trading_hours_enabled = false
trading_hour_start = 0
trading_hour_end = 24
# Reject signals on thin volume
volume_filter_enabled = false
volume_percentile = 20.0
volume_lookback = 50
# Reject signals when ATR is below this percent of entry price
min_atr_percent = 0.1
# Duplicate suppression window and price tolerance
dedup_window_minutes = 5
dedup_price_tolerance = 0.1

[risk]
# Percent of balance risked per trade
risk_per_trade_percent = 2.0
# Hard cap on actual risk per trade
max_risk_per_trade_percent = 3.0
# Position notional ceiling as percent of leveraged balance
max_position_percent = 20.0
# Minimum position notional in USDT
min_position_usd = 10.0
# Maximum fraction of balance usable as margin
max_margin_usage = 0.8
# Stop trading after losing this percent in a day
daily_loss_limit_percent = 5.0
# Stop trading at this drawdown from peak
max_drawdown_percent = 15.0
# Maximum simultaneous open positions
max_concurrent_positions = 2
# Stop trading after this many consecutive losses
consecutive_loss_limit = 3

[execution]
# Taker fee percent per fill
taker_fee_percent = 0.05
# Maximum simulated slippage percent
slippage_percent = 0.02
# Seconds to wait for order fill confirmation (live mode)
order_timeout_seconds = 30
# Retry attempts for failed exchange calls
retry_attempts = 3

[trailing_stop]
enabled = true
# Profit percent that arms the trailing stop
activation_percent = 0.5
# Trail distance percent from current price
distance_percent = 0.3
# Move stop to entry once in profit
breakeven_enabled = false
breakeven_threshold = 0.5

[loop]
# Seconds between price checks
tick_interval_seconds = 5
# Seconds between signal scans
signal_check_seconds = 300
# Seconds between status displays
status_interval_seconds = 60
# Seconds between performance snapshots
snapshot_interval_seconds = 300
# Candles fetched per signal scan
candle_limit = 200
# Recent rows scanned for signals
scan_lookback = 10

[store]
enabled = true
# SQLite database path (defaults under the config directory)
# path = ""

[logging]
# Log level: debug, info, warn, error
level = "info"
console = true
file = true
# Log file path (defaults under the config directory)
# file_path = ""

[notifications]
# Enable notifications
enabled = false
# Minimum level forwarded: info, warning, critical
level = "info"

[notifications.webhook]
enabled = false
url = ""

[notifications.telegram]
enabled = false
bot_token = ""
chat_id = ""
`

const credentialsTemplate = `# ADX Trader Credentials
# WARNING: Keep this file secure! Do not commit to version control.

[binance]
api_key = ""
api_secret = ""
# Use the Binance futures testnet
testnet = false
`

func createTemplateConfig(configDir, name string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name+".toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return fmt.Errorf("config file not found, created template at %s", path)
}

func createTemplateCredentials(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "credentials.toml")
	// Use restricted permissions for credentials file
	if err := os.WriteFile(path, []byte(credentialsTemplate), 0600); err != nil {
		return fmt.Errorf("writing credentials template: %w", err)
	}

	return fmt.Errorf("credentials file not found, created template at %s", path)
}
