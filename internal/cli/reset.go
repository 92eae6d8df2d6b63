package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newResetCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear stored paper trading state",
		Long: `Deletes all stored trades and performance snapshots so the next
paper session starts fresh from the configured initial capital.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			yes, _ := cmd.Flags().GetBool("yes")
			if !yes {
				output.Warning("This deletes every stored trade and snapshot.")
				output.Println("Re-run with --yes to confirm.")
				return nil
			}

			st, err := app.openStore()
			if err != nil {
				return fmt.Errorf("opening trade store: %w", err)
			}
			if st == nil {
				output.Warning("Trade store is disabled; nothing to reset.")
				return nil
			}
			defer st.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := st.Reset(ctx); err != nil {
				return fmt.Errorf("resetting trade store: %w", err)
			}
			output.Success("Trade store cleared; paper balance restored to %s USDT",
				FormatUSD(app.Config.Trading.InitialCapital))
			return nil
		},
	}
	cmd.Flags().Bool("yes", false, "skip the confirmation prompt")
	return cmd
}
