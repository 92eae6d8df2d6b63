package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"adx-trader/internal/exchange"
	"adx-trader/internal/trading"
)

// emergencyConfirmPhrase must be typed verbatim before positions are
// flattened.
const emergencyConfirmPhrase = "CLOSE ALL"

func newEmergencyStopCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "emergency-stop",
		Short: "Flatten every exchange position immediately",
		Long: `Closes every open position on the configured symbol at market and
cancels all open orders. This acts directly on the exchange account,
independent of any running session, and keeps going past individual
failures.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEmergencyStop(cmd, app)
		},
	}
	cmd.Flags().Bool("force", false, "skip the confirmation prompt")
	return cmd
}

func runEmergencyStop(cmd *cobra.Command, app *App) error {
	output := NewOutput(cmd)
	cfg := app.Config

	if cfg.Credentials.Binance.APIKey == "" {
		return errors.New("emergency stop requires Binance API credentials in credentials.toml")
	}

	force, _ := cmd.Flags().GetBool("force")
	if !force {
		output.Warning("This will close ALL %s positions at market and cancel all open orders.", cfg.Trading.Symbol)
		output.Printf("Type %q to confirm: ", emergencyConfirmPhrase)

		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading confirmation: %w", err)
		}
		if strings.TrimSpace(line) != emergencyConfirmPhrase {
			output.Println("Aborted.")
			return nil
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client := exchange.NewBinance(cfg.Credentials.Binance, app.Logger)
	closed, err := trading.EmergencyCloseAll(ctx, client, cfg.Trading.Symbol, app.Logger)
	if err != nil {
		output.Error("Emergency stop finished with errors: %v", err)
		output.Printf("Positions closed: %d\n", closed)
		return err
	}

	output.Success("Emergency stop complete: %d position(s) closed, open orders cancelled", closed)
	return nil
}
