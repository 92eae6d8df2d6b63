package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"adx-trader/internal/exchange"
	"adx-trader/internal/notify"
	"adx-trader/internal/risk"
	"adx-trader/internal/trading"
)

func newRunCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a trading session",
		Long: `Runs the trading loop against live market data until interrupted.

Paper mode simulates fills locally with slippage and fees. Live mode
places real orders on Binance USDT-M futures and requires API
credentials in credentials.toml. On SIGINT or SIGTERM the session
closes every open position before exiting.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, app)
		},
	}
	cmd.Flags().Bool("paper", false, "force paper mode regardless of configuration")
	return cmd
}

func runSession(cmd *cobra.Command, app *App) error {
	output := NewOutput(cmd)
	cfg := app.Config
	logger := app.Logger

	if forcePaper, _ := cmd.Flags().GetBool("paper"); forcePaper {
		cfg.Trading.Mode = "paper"
	}

	st, err := app.openStore()
	if err != nil {
		return fmt.Errorf("opening trade store: %w", err)
	}
	if st != nil {
		defer st.Close()
	}

	var notifier notify.Notifier = notify.NewNoOpNotifier()
	if cfg.Notifications.Enabled {
		notifier = notify.NewMultiNotifier(cfg.Notifications, logger)
	}

	client := exchange.NewBinance(cfg.Credentials.Binance, logger)
	positions := trading.NewManager(cfg.Trading.Symbol, cfg.TrailingStop, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		cancel()
	}()

	var executor trading.Executor
	if cfg.IsPaperMode() {
		balance := cfg.Trading.InitialCapital
		if st != nil {
			if stats, serr := st.PerformanceStats(ctx, cfg.Trading.Symbol); serr == nil && stats.TotalTrades > 0 {
				balance += stats.TotalPnL
				logger.Info().
					Float64("balance", balance).
					Int("stored_trades", stats.TotalTrades).
					Msg("paper balance restored from store")
			}
		}
		if balance <= 0 {
			return fmt.Errorf("stored paper balance %.2f is not tradable, run 'adx-trader reset' to start over", balance)
		}

		riskMgr := risk.NewManager(cfg.Risk, balance, logger)
		riskMgr.SetNotifier(notifier)
		executor = trading.NewSimulatedExecutor(cfg.Trading.Symbol, balance, cfg.Execution, riskMgr, positions, st, notifier, logger)
		output.Info("Paper session: %s %s, balance %s USDT, leverage %dx",
			cfg.Trading.Symbol, cfg.Trading.Interval, FormatUSD(balance), cfg.Trading.Leverage)
	} else {
		if cfg.Credentials.Binance.APIKey == "" {
			return errors.New("live mode requires Binance API credentials in credentials.toml")
		}

		riskMgr := risk.NewManager(cfg.Risk, cfg.Trading.InitialCapital, logger)
		riskMgr.SetNotifier(notifier)
		live := trading.NewExchangeExecutor(cfg.Trading.Symbol, cfg.Execution, client, riskMgr, positions, st, notifier, logger)
		if err := live.Startup(ctx, cfg.Trading.Leverage); err != nil {
			return fmt.Errorf("live startup: %w", err)
		}
		balance := live.AccountStatus().Balance
		riskMgr.UpdateCapital(balance)
		executor = live
		output.Warning("LIVE session: %s %s, balance %s USDT, leverage %dx",
			cfg.Trading.Symbol, cfg.Trading.Interval, FormatUSD(balance), cfg.Trading.Leverage)
	}

	output.Dim("Press Ctrl+C to stop; open positions are closed on shutdown.")

	loop := trading.NewLoop(cfg, client, executor, positions, st, logger)
	if err := loop.Run(ctx); err != nil {
		return fmt.Errorf("trading session: %w", err)
	}
	output.Success("Session closed cleanly.")
	return nil
}
