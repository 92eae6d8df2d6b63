package trading

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"adx-trader/internal/config"
	errs "adx-trader/internal/errors"
	"adx-trader/internal/exchange"
	"adx-trader/internal/models"
	"adx-trader/internal/notify"
	"adx-trader/internal/risk"
	"adx-trader/internal/store"
	"adx-trader/pkg/utils"
)

// fillSettleDelay is how long to wait after a market order before
// reading the fill back from the exchange.
var fillSettleDelay = time.Second

// ExchangeExecutor executes signals against the exchange. Stops and
// targets are monitored locally; reduce-only trigger orders placed at
// entry act as a backstop if the bot loses connectivity.
type ExchangeExecutor struct {
	symbol    string
	execCfg   config.ExecutionConfig
	retryCfg  utils.RetryConfig
	client    exchange.Client
	riskMgr   *risk.Manager
	positions *Manager
	store     store.TradeStore // nil disables persistence
	notifier  notify.Notifier
	logger    zerolog.Logger

	mu          sync.Mutex
	balance     float64
	startEquity float64
	peakEquity  float64
	maxDrawdown float64
}

var _ Executor = (*ExchangeExecutor)(nil)

// NewExchangeExecutor creates a live executor. Call Startup before the
// first signal.
func NewExchangeExecutor(symbol string, execCfg config.ExecutionConfig, client exchange.Client, riskMgr *risk.Manager, positions *Manager, st store.TradeStore, notifier notify.Notifier, logger zerolog.Logger) *ExchangeExecutor {
	retryCfg := utils.DefaultRetryConfig()
	if execCfg.RetryAttempts > 0 {
		retryCfg.MaxAttempts = execCfg.RetryAttempts
	}

	return &ExchangeExecutor{
		symbol:    symbol,
		execCfg:   execCfg,
		retryCfg:  retryCfg,
		client:    client,
		riskMgr:   riskMgr,
		positions: positions,
		store:     st,
		notifier:  notifier,
		logger:    logger.With().Str("component", "executor").Str("mode", "live").Logger(),
	}
}

// Startup fetches the account balance, applies the configured leverage
// and reports any exchange positions this session does not track. An
// unreachable balance aborts: live trading cannot run blind.
func (e *ExchangeExecutor) Startup(ctx context.Context, leverage int) error {
	balance, err := e.client.Balance(ctx)
	if err != nil {
		return fmt.Errorf("live trading requires a reachable account balance: %w", err)
	}

	e.mu.Lock()
	e.balance = balance
	e.mu.Unlock()
	e.observeEquity(balance)
	e.riskMgr.UpdateCapital(balance)

	if err := e.client.SetLeverage(ctx, e.symbol, leverage); err != nil {
		e.logger.Warn().Err(err).Int("leverage", leverage).
			Msg("failed to set leverage; continuing with account setting")
	}

	infos, err := e.client.OpenPositions(ctx, e.symbol)
	if err != nil {
		e.logger.Warn().Err(err).Msg("could not reconcile exchange positions")
	} else {
		for _, info := range infos {
			e.logger.Warn().
				Str("side", string(info.Side)).
				Float64("quantity", info.Quantity).
				Float64("entry_price", info.EntryPrice).
				Msg("untracked exchange position; not managed by this session")
		}
	}

	e.logger.Info().Float64("balance", balance).Msg("live session ready")
	return nil
}

// ExecuteSignal places a market order, reads the fill back from the
// exchange and attaches protective trigger orders. Trigger placement
// failures are tolerated: the local monitor still enforces the levels.
func (e *ExchangeExecutor) ExecuteSignal(ctx context.Context, sig *models.Signal, price float64, proposal models.SizeProposal) (*models.Position, error) {
	if ok := gateSignal(e.riskMgr, sig, proposal, e.logger); !ok {
		return nil, nil
	}

	orderID, err := utils.RetryWithResult(ctx, e.retryCfg, func() (string, error) {
		return e.client.PlaceMarketOrder(ctx, e.symbol, models.OrderSideFor(sig.Side), proposal.Quantity)
	})
	if err != nil {
		if nerr := e.notifier.SendError(ctx, err, "entry order"); nerr != nil {
			e.logger.Warn().Err(nerr).Msg("error notification failed")
		}
		return nil, errs.NewExecutionError("entry", e.symbol, "market order failed", err)
	}

	entry := e.verifiedEntryPrice(ctx, sig.Side, price)
	margin := proposal.Quantity * entry / float64(proposal.Leverage)
	entryFee := proposal.Quantity * entry * e.execCfg.TakerFeePercent / 100

	pos := e.positions.Open(sig.Side, entry, proposal.Quantity, sig.StopLoss, sig.TakeProfit, proposal.Leverage, margin)
	pos.SignalID = sig.ID
	pos.Fees = entryFee

	e.riskMgr.AddOpenPosition(pos.ID)
	e.placeProtectiveOrders(ctx, sig, proposal.Quantity)

	if err := e.refreshBalance(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("balance refresh failed after entry")
	}

	e.logger.Info().
		Str("position_id", pos.ID).
		Str("order_id", orderID).
		Str("side", string(sig.Side)).
		Float64("signal_price", price).
		Float64("entry_price", entry).
		Float64("quantity", proposal.Quantity).
		Msg("live entry filled")

	if err := e.notifier.SendPositionOpened(ctx, pos); err != nil {
		e.logger.Warn().Err(err).Msg("open notification failed")
	}
	return pos, nil
}

// verifiedEntryPrice reads the actual fill price back from the
// exchange, falling back to the signal-time price when the position is
// not visible yet.
func (e *ExchangeExecutor) verifiedEntryPrice(ctx context.Context, side models.Side, fallback float64) float64 {
	select {
	case <-ctx.Done():
		return fallback
	case <-time.After(fillSettleDelay):
	}

	infos, err := e.client.OpenPositions(ctx, e.symbol)
	if err != nil {
		e.logger.Warn().Err(err).Msg("fill verification failed; using signal price")
		return fallback
	}
	for _, info := range infos {
		if info.Side == side && info.EntryPrice > 0 {
			return info.EntryPrice
		}
	}
	return fallback
}

func (e *ExchangeExecutor) placeProtectiveOrders(ctx context.Context, sig *models.Signal, quantity float64) {
	if _, err := e.client.PlaceStopOrder(ctx, e.symbol, sig.Side, quantity, sig.StopLoss); err != nil {
		e.logger.Error().Err(err).Float64("stop_loss", sig.StopLoss).
			Msg("stop order placement failed; local stop remains active")
		if nerr := e.notifier.SendError(ctx, err, "stop order"); nerr != nil {
			e.logger.Warn().Err(nerr).Msg("error notification failed")
		}
	}
	if _, err := e.client.PlaceTakeProfitOrder(ctx, e.symbol, sig.Side, quantity, sig.TakeProfit); err != nil {
		e.logger.Error().Err(err).Float64("take_profit", sig.TakeProfit).
			Msg("take profit order placement failed; local target remains active")
		if nerr := e.notifier.SendError(ctx, err, "take profit order"); nerr != nil {
			e.logger.Warn().Err(nerr).Msg("error notification failed")
		}
	}
}

// ClosePosition flattens the position on the exchange, cancels its
// protective orders and settles the local books at the observed price.
func (e *ExchangeExecutor) ClosePosition(ctx context.Context, id string, price float64, reason models.ExitReason) (*models.TradeRecord, error) {
	pos, ok := e.positions.Get(id)
	if !ok {
		return nil, fmt.Errorf("close %s: %w", id, errs.ErrPositionNotFound)
	}

	if _, err := utils.RetryWithResult(ctx, e.retryCfg, func() (string, error) {
		return e.client.ClosePosition(ctx, e.symbol, pos.Side, pos.Quantity)
	}); err != nil {
		if nerr := e.notifier.SendError(ctx, err, "close order"); nerr != nil {
			e.logger.Warn().Err(nerr).Msg("error notification failed")
		}
		return nil, errs.NewExecutionError("exit", e.symbol, "close order failed", err)
	}

	if err := e.client.CancelOpenOrders(ctx, e.symbol); err != nil {
		e.logger.Warn().Err(err).Msg("failed to cancel protective orders")
	}

	closed, err := e.positions.Close(id, price, reason)
	if err != nil {
		return nil, err
	}

	exitFee := closed.Quantity * price * e.execCfg.TakerFeePercent / 100
	closed.Fees += exitFee

	e.riskMgr.RemoveOpenPosition(id)
	e.riskMgr.RecordTradeResult(closed.RealizedPnL)
	if err := e.refreshBalance(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("balance refresh failed after close")
	}

	record := tradeRecordFrom(closed, models.ModeLive)
	if e.store != nil {
		if err := e.store.SaveTrade(ctx, record); err != nil {
			e.logger.Error().Err(err).Str("trade_id", record.ID).Msg("failed to persist trade")
		}
	}

	if err := e.notifier.SendPositionClosed(ctx, closed); err != nil {
		e.logger.Warn().Err(err).Msg("close notification failed")
	}
	return record, nil
}

// MonitorPositions marks open positions to the given price and closes
// any whose stop or target the price has breached.
func (e *ExchangeExecutor) MonitorPositions(ctx context.Context, price float64) error {
	return monitorPositions(ctx, e.positions, e.ClosePosition, price)
}

// AccountStatus reports the account from the last balance refresh.
func (e *ExchangeExecutor) AccountStatus() models.AccountStatus {
	e.mu.Lock()
	balance := e.balance
	e.mu.Unlock()

	marginUsed := e.positions.MarginUsed()
	unrealized := e.positions.UnrealizedPnL()
	return models.AccountStatus{
		Balance:         balance,
		Equity:          balance + marginUsed + unrealized,
		MarginUsed:      marginUsed,
		MarginAvailable: balance,
		OpenPositions:   e.positions.OpenCount(),
		UnrealizedPnL:   unrealized,
	}
}

// Snapshot captures the account and trade statistics for persistence.
func (e *ExchangeExecutor) Snapshot() models.PerformanceSnapshot {
	status := e.AccountStatus()
	e.observeEquity(status.Equity)
	stats := e.positions.Stats()

	e.mu.Lock()
	start := e.startEquity
	peak := e.peakEquity
	maxDD := e.maxDrawdown
	e.mu.Unlock()

	snap := models.PerformanceSnapshot{
		Timestamp:   time.Now().UTC(),
		Balance:     status.Balance,
		Equity:      status.Equity,
		TotalPnL:    status.Equity - start,
		PeakBalance: peak,
		MaxDrawdown: maxDD,
		TotalTrades: stats.TotalTrades,
		WinRate:     stats.WinRate,
	}
	if start > 0 {
		snap.TotalReturnPercent = (status.Equity - start) / start * 100
	}
	return snap
}

func (e *ExchangeExecutor) refreshBalance(ctx context.Context) error {
	balance, err := e.client.Balance(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.balance = balance
	e.mu.Unlock()
	e.riskMgr.UpdateCapital(balance)

	status := e.AccountStatus()
	e.observeEquity(status.Equity)
	return nil
}

// observeEquity folds an equity reading into the session peak and
// drawdown. The first reading seeds the session baseline.
func (e *ExchangeExecutor) observeEquity(equity float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.startEquity == 0 {
		e.startEquity = equity
	}
	if equity > e.peakEquity {
		e.peakEquity = equity
	}
	if e.peakEquity > 0 {
		dd := (e.peakEquity - equity) / e.peakEquity * 100
		if dd > e.maxDrawdown {
			e.maxDrawdown = dd
		}
	}
}

// EmergencyCloseAll flattens every exchange position on the symbol and
// cancels all open orders. A failure on one position does not stop the
// others. Returns the number of positions closed.
func EmergencyCloseAll(ctx context.Context, client exchange.Client, symbol string, logger zerolog.Logger) (int, error) {
	infos, err := client.OpenPositions(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("list positions: %w", err)
	}

	var failures []error
	closed := 0
	for _, info := range infos {
		if _, cerr := client.ClosePosition(ctx, symbol, info.Side, info.Quantity); cerr != nil {
			failures = append(failures, fmt.Errorf("close %s %.8f: %w", info.Side, info.Quantity, cerr))
			logger.Error().Err(cerr).
				Str("side", string(info.Side)).
				Float64("quantity", info.Quantity).
				Msg("emergency close failed")
			continue
		}
		closed++
		logger.Info().
			Str("side", string(info.Side)).
			Float64("quantity", info.Quantity).
			Msg("position flattened")
	}

	if cerr := client.CancelOpenOrders(ctx, symbol); cerr != nil {
		failures = append(failures, fmt.Errorf("cancel orders: %w", cerr))
	}

	return closed, errors.Join(failures...)
}

// monitorPositions is the shared mark-to-market and exit sweep used by
// both executors.
func monitorPositions(ctx context.Context, positions *Manager, closeFn func(context.Context, string, float64, models.ExitReason) (*models.TradeRecord, error), price float64) error {
	positions.UpdatePrice(price)

	var failures []error
	for _, pos := range positions.OpenPositions() {
		positions.MoveToBreakeven(pos.ID)
		reason, hit := positions.CheckExit(pos.ID, price)
		if !hit {
			continue
		}
		if _, err := closeFn(ctx, pos.ID, price, reason); err != nil {
			failures = append(failures, err)
		}
	}
	return errors.Join(failures...)
}
