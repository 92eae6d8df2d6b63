// Package cli provides the command-line interface for the trading application.
package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"adx-trader/internal/config"
	"adx-trader/internal/logging"
	"adx-trader/internal/store"
)

// Version information
const (
	Version   = "0.3.0"
	BuildDate = "2025-08-01"
)

// App holds the dependencies shared by all commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// openStore opens the trade store when persistence is enabled. A nil
// store with a nil error means persistence is turned off.
func (a *App) openStore() (store.TradeStore, error) {
	if !a.Config.Store.Enabled {
		return nil, nil
	}
	return store.NewSQLiteStore(a.Config.Store.Path)
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	rootCmd := &cobra.Command{
		Use:   "adx-trader",
		Short: "ADX trend-following bot for Binance USDT-M futures",
		Long: `ADX Trader is a trend-following trading bot for Binance USDT-M
perpetual futures. It scores trend strength with the ADX/DI indicator
family, generates filtered entry signals, sizes positions from account
risk and runs them through paper or live execution with protective
stops.

Use 'adx-trader run' to start a trading session and
'adx-trader backtest' to replay the strategy over historical candles.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	// Global flags. The config directory flag is consumed in main
	// before the config is loaded; it is declared here so it shows in
	// help output.
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/adx-trader)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newBacktestCmd(app))
	rootCmd.AddCommand(newStatusCmd(app))
	rootCmd.AddCommand(newHistoryCmd(app))
	rootCmd.AddCommand(newResetCmd(app))
	rootCmd.AddCommand(newEmergencyStopCmd(app))

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
				return
			}
			output.Printf("ADX Trader v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": config.DefaultConfigDir()})
				return
			}
			output.Println(config.DefaultConfigDir())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
				return nil
			}
			output.Success("Configuration is valid")
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Trading")
	output.Printf("  Mode:             %s\n", cfg.Trading.Mode)
	output.Printf("  Symbol:           %s\n", cfg.Trading.Symbol)
	output.Printf("  Interval:         %s\n", cfg.Trading.Interval)
	output.Printf("  Leverage:         %dx\n", cfg.Trading.Leverage)
	output.Printf("  Initial Capital:  %s USDT\n", FormatUSD(cfg.Trading.InitialCapital))
	output.Println()

	output.Bold("Strategy")
	output.Printf("  ADX Period:       %d\n", cfg.Strategy.ADXPeriod)
	output.Printf("  ADX Threshold:    %.1f (weak exit %.1f)\n", cfg.Strategy.ADXThreshold, cfg.Strategy.ADXWeakThreshold)
	output.Printf("  Min Slope:        %.2f\n", cfg.Strategy.SlopeMin)
	output.Printf("  Min DI Spread:    %.1f\n", cfg.Strategy.DISpreadMin)
	output.Printf("  Min Confidence:   %s\n", FormatConfidence(cfg.Strategy.MinConfidence*100))
	output.Printf("  Stop/Target ATR:  %.1fx / %.1fx (%s)\n", cfg.Strategy.SLATRMultiplier, cfg.Strategy.TPATRMultiplier,
		FormatRiskReward(cfg.Strategy.TPATRMultiplier/cfg.Strategy.SLATRMultiplier))
	output.Println()

	output.Bold("Risk")
	output.Printf("  Risk Per Trade:   %.1f%% (max %.1f%%)\n", cfg.Risk.RiskPerTradePercent, cfg.Risk.MaxRiskPerTradePercent)
	output.Printf("  Max Position:     %.1f%% of balance\n", cfg.Risk.MaxPositionPercent)
	output.Printf("  Daily Loss Limit: %.1f%%\n", cfg.Risk.DailyLossLimitPercent)
	output.Printf("  Max Drawdown:     %.1f%%\n", cfg.Risk.MaxDrawdownPercent)
	output.Printf("  Max Positions:    %d\n", cfg.Risk.MaxConcurrentPositions)
	output.Printf("  Loss Streak Halt: %d\n", cfg.Risk.ConsecutiveLossLimit)
	output.Printf("  Kelly Sizing:     %v\n", cfg.Risk.UseKellySizing)
	output.Println()

	output.Bold("Store")
	output.Printf("  Enabled:          %v\n", cfg.Store.Enabled)
	output.Printf("  Path:             %s\n", cfg.Store.Path)
	output.Println()

	output.Bold("Notifications")
	output.Printf("  Enabled:          %v\n", cfg.Notifications.Enabled)
	output.Printf("  Level:            %s\n", cfg.Notifications.Level)
	output.Printf("  Webhook:          %v\n", cfg.Notifications.Webhook.Enabled)
	output.Printf("  Telegram:         %v\n", cfg.Notifications.Telegram.Enabled)
}
