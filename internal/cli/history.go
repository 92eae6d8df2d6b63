package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"adx-trader/internal/models"
	"adx-trader/internal/store"
)

func newHistoryCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show closed trades",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showHistory(cmd, app)
		},
	}
	cmd.Flags().Int("limit", 20, "maximum trades to show")
	cmd.Flags().String("side", "", "filter by side (LONG or SHORT)")
	cmd.Flags().String("reason", "", "filter by exit reason (STOP_LOSS, TAKE_PROFIT, ...)")
	cmd.Flags().String("mode", "", "filter by trading mode (paper, live, backtest)")
	cmd.Flags().Int("days", 0, "only trades closed in the last N days")
	return cmd
}

func showHistory(cmd *cobra.Command, app *App) error {
	output := NewOutput(cmd)
	cfg := app.Config

	st, err := app.openStore()
	if err != nil {
		return fmt.Errorf("opening trade store: %w", err)
	}
	if st == nil {
		output.Warning("Trade store is disabled; no history available.")
		return nil
	}
	defer st.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	side, _ := cmd.Flags().GetString("side")
	reason, _ := cmd.Flags().GetString("reason")
	mode, _ := cmd.Flags().GetString("mode")
	days, _ := cmd.Flags().GetInt("days")

	filter := store.TradeFilter{
		Symbol:     cfg.Trading.Symbol,
		Side:       models.Side(strings.ToUpper(side)),
		ExitReason: models.ExitReason(strings.ToUpper(reason)),
		Mode:       models.TradingMode(strings.ToLower(mode)),
		Limit:      limit,
	}
	if days > 0 {
		filter.StartDate = time.Now().AddDate(0, 0, -days)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	trades, err := st.Trades(ctx, filter)
	if err != nil {
		return fmt.Errorf("loading trades: %w", err)
	}

	if output.IsJSON() {
		return output.JSON(trades)
	}
	if len(trades) == 0 {
		output.Println("No trades match the filter.")
		return nil
	}

	table := NewTable(output, "CLOSED", "SIDE", "ENTRY", "EXIT", "QTY", "PNL", "PNL%", "REASON", "HOLD").
		AlignRightColumns("ENTRY", "EXIT", "QTY", "PNL", "PNL%")
	var totalPnL float64
	for _, trade := range trades {
		totalPnL += trade.PnL
		table.AddRow(
			FormatTimestamp(trade.ClosedAt),
			output.SideText(string(trade.Side)),
			FormatPrice(trade.EntryPrice),
			FormatPrice(trade.ExitPrice),
			FormatQuantity(trade.Quantity),
			output.FormatPnL(trade.PnL),
			output.FormatPercent(trade.PnLPercent),
			string(trade.ExitReason),
			FormatDuration(trade.HoldDuration),
		)
	}
	table.Render()
	output.Println()
	output.Printf("%d trade(s), net %s USDT\n", len(trades), output.FormatPnL(totalPnL))
	return nil
}
