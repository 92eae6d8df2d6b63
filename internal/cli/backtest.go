package cli

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"adx-trader/internal/exchange"
	"adx-trader/internal/models"
	"adx-trader/internal/trading"
)

func newBacktestCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay the strategy over historical candles",
		Long: `Fetches historical candles for the configured symbol and interval,
runs the full signal pipeline over them with simulated fills and
prints the resulting equity curve and trade statistics. Fills are
deterministic: full adverse slippage plus taker fees on every order.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBacktest(cmd, app)
		},
	}
	cmd.Flags().Int("candles", 1000, "historical candles to fetch (50-1500)")
	cmd.Flags().Float64("capital", 0, "override starting capital")
	return cmd
}

func runBacktest(cmd *cobra.Command, app *App) error {
	output := NewOutput(cmd)
	cfg := app.Config

	limit, _ := cmd.Flags().GetInt("candles")
	if limit < 50 || limit > 1500 {
		return fmt.Errorf("candles must be between 50 and 1500, got %d", limit)
	}
	if capital, _ := cmd.Flags().GetFloat64("capital"); capital > 0 {
		cfg.Trading.InitialCapital = capital
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	client := exchange.NewBinance(cfg.Credentials.Binance, app.Logger)
	if !output.IsJSON() {
		output.Info("Fetching %d %s candles for %s...", limit, cfg.Trading.Interval, cfg.Trading.Symbol)
	}
	candles, err := client.Candles(ctx, cfg.Trading.Symbol, cfg.Trading.Interval, limit)
	if err != nil {
		return fmt.Errorf("fetching candles: %w", err)
	}

	engine := trading.NewBacktestEngine(cfg, app.Logger)
	result, err := engine.Run(ctx, candles)
	if err != nil {
		return fmt.Errorf("backtest: %w", err)
	}

	if output.IsJSON() {
		return output.JSON(result)
	}
	renderBacktestResult(output, result)
	return nil
}

func renderBacktestResult(output *Output, r *trading.BacktestResult) {
	output.Println()
	output.Bold("Backtest %s: %s to %s",
		r.Symbol,
		r.StartTime.UTC().Format("2006-01-02"),
		r.EndTime.UTC().Format("2006-01-02"))
	output.Println()
	output.Println(trading.RenderEquityCurve(r.EquityCurve, 60, 12))

	output.Printf("  %-22s %s USDT\n", "Initial capital", FormatUSD(r.InitialCapital))
	output.Printf("  %-22s %s USDT\n", "Final equity", FormatUSD(r.FinalEquity))
	output.Printf("  %-22s %s\n", "Total return", output.FormatPercent(r.TotalReturn))
	output.Printf("  %-22s %s\n", "Annualized return", output.FormatPercent(r.AnnualizedReturn))
	output.Printf("  %-22s %.2f%%\n", "Max drawdown", r.MaxDrawdown)
	output.Printf("  %-22s %.2f\n", "Sharpe ratio", r.SharpeRatio)
	output.Println()

	output.Printf("  %-22s %d (%dW / %dL)\n", "Trades", r.TotalTrades, r.WinningTrades, r.LosingTrades)
	output.Printf("  %-22s %.1f%%\n", "Win rate", r.WinRate)
	output.Printf("  %-22s %.2f\n", "Profit factor", r.ProfitFactor)
	output.Printf("  %-22s %s USDT\n", "Expectancy", FormatPnL(r.Expectancy))
	output.Printf("  %-22s +%s / -%s USDT\n", "Avg win / loss", FormatUSD(r.AvgWin), FormatUSD(r.AvgLoss))
	output.Printf("  %-22s %s USDT\n", "Fees paid", FormatUSD(r.TotalFees))
	output.Printf("  %-22s %d generated, %d filtered\n", "Signals", r.SignalsGenerated, r.SignalsFiltered)

	if len(r.ExitReasons) > 0 {
		output.Println()
		output.Bold("  Exits")
		reasons := make([]models.ExitReason, 0, len(r.ExitReasons))
		for reason := range r.ExitReasons {
			reasons = append(reasons, reason)
		}
		sort.Slice(reasons, func(i, j int) bool { return reasons[i] < reasons[j] })
		for _, reason := range reasons {
			output.Printf("    %-20s %d\n", reason, r.ExitReasons[reason])
		}
	}
	output.Println()
}
