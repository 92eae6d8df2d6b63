package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"adx-trader/internal/performance"
	"adx-trader/internal/store"
)

func newStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show stored session performance",
		Long: `Aggregates the stored trade history into a performance report:
win rate, streaks, drawdown, expectancy and the rest. Reads the trade
store only; it does not contact the exchange.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus(cmd, app)
		},
	}
}

func showStatus(cmd *cobra.Command, app *App) error {
	output := NewOutput(cmd)
	cfg := app.Config

	st, err := app.openStore()
	if err != nil {
		return fmt.Errorf("opening trade store: %w", err)
	}
	if st == nil {
		output.Warning("Trade store is disabled; nothing to report.")
		return nil
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	trades, err := st.Trades(ctx, store.TradeFilter{Symbol: cfg.Trading.Symbol})
	if err != nil {
		return fmt.Errorf("loading trades: %w", err)
	}

	tracker := performance.NewTracker(cfg.Trading.InitialCapital)
	tracker.Load(trades)
	report := tracker.Report()

	if output.IsJSON() {
		return output.JSON(report)
	}

	output.Printf("Mode: %s  Symbol: %s  Interval: %s\n",
		cfg.Trading.Mode, cfg.Trading.Symbol, cfg.Trading.Interval)
	output.Println()

	if report.TotalTrades == 0 {
		output.Println("No closed trades recorded yet.")
		return nil
	}
	output.Println(report.String())

	if snaps, serr := st.Snapshots(ctx, 1); serr == nil && len(snaps) > 0 {
		snap := snaps[0]
		output.Dim("Last snapshot %s: balance %s, equity %s, %d open-session trades",
			FormatTimestamp(snap.Timestamp),
			FormatUSD(snap.Balance),
			FormatUSD(snap.Equity),
			snap.TotalTrades)
	}
	return nil
}
