package trading

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"adx-trader/internal/config"
	errs "adx-trader/internal/errors"
	"adx-trader/internal/models"
	"adx-trader/internal/notify"
	"adx-trader/internal/risk"
	"adx-trader/internal/store"
)

// Executor turns approved signals into positions and closed positions
// into trade records. Implementations differ only in where fills come
// from; the risk gates and bookkeeping are shared.
//
// ExecuteSignal returns (nil, nil) when the signal is rejected by
// policy: risk gates, an invalid size proposal or insufficient
// balance. Errors are reserved for failures that need intervention.
type Executor interface {
	ExecuteSignal(ctx context.Context, sig *models.Signal, price float64, proposal models.SizeProposal) (*models.Position, error)
	ClosePosition(ctx context.Context, id string, price float64, reason models.ExitReason) (*models.TradeRecord, error)
	MonitorPositions(ctx context.Context, price float64) error
	AccountStatus() models.AccountStatus
	Snapshot() models.PerformanceSnapshot
}

// SimulatedExecutor fills orders against the live price feed without
// touching the exchange. Balance, margin, fees and slippage are
// simulated; everything downstream of the fill runs the same code as
// live trading.
type SimulatedExecutor struct {
	symbol    string
	execCfg   config.ExecutionConfig
	riskMgr   *risk.Manager
	positions *Manager
	store     store.TradeStore // nil disables persistence
	notifier  notify.Notifier
	logger    zerolog.Logger

	mu             sync.Mutex
	rng            *rand.Rand
	initialBalance float64
	balance        float64
	peakBalance    float64
	maxDrawdown    float64
	totalFees      float64
}

var _ Executor = (*SimulatedExecutor)(nil)

// NewSimulatedExecutor creates a paper trading executor starting from
// initialBalance. The store may be nil when persistence is disabled.
func NewSimulatedExecutor(symbol string, initialBalance float64, execCfg config.ExecutionConfig, riskMgr *risk.Manager, positions *Manager, st store.TradeStore, notifier notify.Notifier, logger zerolog.Logger) *SimulatedExecutor {
	return &SimulatedExecutor{
		symbol:         symbol,
		execCfg:        execCfg,
		riskMgr:        riskMgr,
		positions:      positions,
		store:          st,
		notifier:       notifier,
		logger:         logger.With().Str("component", "executor").Str("mode", "paper").Logger(),
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
		initialBalance: initialBalance,
		balance:        initialBalance,
		peakBalance:    initialBalance,
	}
}

// RestoreBalance replays persisted trade pnl on top of the configured
// initial balance so a restarted paper session continues where it
// stopped. No-op without a store or prior trades.
func (e *SimulatedExecutor) RestoreBalance(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	stats, err := e.store.PerformanceStats(ctx, e.symbol)
	if err != nil {
		return fmt.Errorf("restore balance: %w", err)
	}
	if stats.TotalTrades == 0 {
		return nil
	}

	e.mu.Lock()
	e.balance = e.initialBalance + stats.TotalPnL
	if e.balance > e.peakBalance {
		e.peakBalance = e.balance
	}
	balance := e.balance
	e.mu.Unlock()

	e.riskMgr.UpdateCapital(balance)
	e.logger.Info().
		Float64("balance", balance).
		Int("trades", stats.TotalTrades).
		Msg("balance restored from trade history")
	return nil
}

// ExecuteSignal simulates a market entry with adverse slippage and a
// taker fee, then opens the position.
func (e *SimulatedExecutor) ExecuteSignal(ctx context.Context, sig *models.Signal, price float64, proposal models.SizeProposal) (*models.Position, error) {
	if ok := gateSignal(e.riskMgr, sig, proposal, e.logger); !ok {
		return nil, nil
	}

	fill := e.fillPrice(sig.Side, price, true)
	notional := proposal.Quantity * fill
	margin := notional / float64(proposal.Leverage)
	entryFee := notional * e.execCfg.TakerFeePercent / 100

	e.mu.Lock()
	if margin+entryFee > e.balance {
		balance := e.balance
		e.mu.Unlock()
		e.logger.Warn().
			Str("signal_id", sig.ID).
			Float64("required", margin+entryFee).
			Float64("balance", balance).
			Msg("signal rejected: insufficient balance")
		return nil, nil
	}
	e.balance -= margin + entryFee
	e.totalFees += entryFee
	e.mu.Unlock()

	pos := e.positions.Open(sig.Side, fill, proposal.Quantity, sig.StopLoss, sig.TakeProfit, proposal.Leverage, margin)
	pos.SignalID = sig.ID
	pos.Fees = entryFee

	e.riskMgr.AddOpenPosition(pos.ID)

	e.logger.Info().
		Str("position_id", pos.ID).
		Str("side", string(sig.Side)).
		Float64("signal_price", price).
		Float64("fill_price", fill).
		Float64("quantity", proposal.Quantity).
		Float64("entry_fee", entryFee).
		Msg("paper entry filled")

	if err := e.notifier.SendPositionOpened(ctx, pos); err != nil {
		e.logger.Warn().Err(err).Msg("open notification failed")
	}
	return pos, nil
}

// ClosePosition simulates a market exit, settles margin and fees back
// into the balance and persists the trade. A store failure is logged
// but never rolls back the close.
func (e *SimulatedExecutor) ClosePosition(ctx context.Context, id string, price float64, reason models.ExitReason) (*models.TradeRecord, error) {
	pos, ok := e.positions.Get(id)
	if !ok {
		return nil, fmt.Errorf("close %s: %w", id, errs.ErrPositionNotFound)
	}

	fill := e.fillPrice(pos.Side, price, false)
	closed, err := e.positions.Close(id, fill, reason)
	if err != nil {
		return nil, err
	}

	exitFee := closed.Quantity * fill * e.execCfg.TakerFeePercent / 100
	closed.Fees += exitFee

	e.mu.Lock()
	e.balance += closed.Margin + closed.RealizedPnL - exitFee
	e.totalFees += exitFee
	if e.balance > e.peakBalance {
		e.peakBalance = e.balance
	}
	if e.peakBalance > 0 {
		dd := (e.peakBalance - e.balance) / e.peakBalance * 100
		if dd > e.maxDrawdown {
			e.maxDrawdown = dd
		}
	}
	balance := e.balance
	e.mu.Unlock()

	e.riskMgr.RemoveOpenPosition(id)
	e.riskMgr.RecordTradeResult(closed.RealizedPnL)
	e.riskMgr.UpdateCapital(balance)

	record := tradeRecordFrom(closed, models.ModePaper)
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
func (e *SimulatedExecutor) MonitorPositions(ctx context.Context, price float64) error {
	return monitorPositions(ctx, e.positions, e.ClosePosition, price)
}

// AccountStatus reports the simulated account. Equity marks open
// positions to the last observed price.
func (e *SimulatedExecutor) AccountStatus() models.AccountStatus {
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
func (e *SimulatedExecutor) Snapshot() models.PerformanceSnapshot {
	status := e.AccountStatus()
	stats := e.positions.Stats()

	e.mu.Lock()
	initial := e.initialBalance
	peak := e.peakBalance
	maxDD := e.maxDrawdown
	e.mu.Unlock()

	snap := models.PerformanceSnapshot{
		Timestamp:   time.Now().UTC(),
		Balance:     status.Balance,
		Equity:      status.Equity,
		TotalPnL:    status.Equity - initial,
		PeakBalance: peak,
		MaxDrawdown: maxDD,
		TotalTrades: stats.TotalTrades,
		WinRate:     stats.WinRate,
	}
	if initial > 0 {
		snap.TotalReturnPercent = (status.Equity - initial) / initial * 100
	}
	return snap
}

// Reset closes any open positions at their entry price, restores the
// initial balance, clears the risk state and wipes persisted history.
func (e *SimulatedExecutor) Reset(ctx context.Context) error {
	for _, pos := range e.positions.OpenPositions() {
		if _, err := e.positions.Close(pos.ID, pos.EntryPrice, models.ExitReset); err != nil {
			e.logger.Warn().Err(err).Str("position_id", pos.ID).Msg("reset close failed")
			continue
		}
		e.riskMgr.RemoveOpenPosition(pos.ID)
	}

	e.mu.Lock()
	e.balance = e.initialBalance
	e.peakBalance = e.initialBalance
	e.maxDrawdown = 0
	e.totalFees = 0
	e.mu.Unlock()

	e.riskMgr.ResetCircuitBreaker()
	e.riskMgr.ResetDaily()
	e.riskMgr.UpdateCapital(e.initialBalance)

	if e.store != nil {
		if err := e.store.Reset(ctx); err != nil {
			return fmt.Errorf("reset store: %w", err)
		}
	}

	e.logger.Info().Float64("balance", e.initialBalance).Msg("paper account reset")
	return nil
}

// TotalFees returns the cumulative simulated fees paid.
func (e *SimulatedExecutor) TotalFees() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalFees
}

// fillPrice applies simulated slippage to a market fill. Slippage is
// always adverse: entries fill away from the trader, exits fill back
// toward the market.
func (e *SimulatedExecutor) fillPrice(side models.Side, price float64, entry bool) float64 {
	if e.execCfg.SlippagePercent <= 0 {
		return price
	}

	e.mu.Lock()
	slip := e.rng.Float64() * e.execCfg.SlippagePercent / 100
	e.mu.Unlock()

	adverse := side == models.SideLong
	if !entry {
		adverse = !adverse
	}
	if adverse {
		return price * (1 + slip)
	}
	return price * (1 - slip)
}

// gateSignal runs the shared pre-trade checks. Rejections are logged
// at warn level and reported as false; they are policy outcomes, not
// errors.
func gateSignal(riskMgr *risk.Manager, sig *models.Signal, proposal models.SizeProposal, logger zerolog.Logger) bool {
	if ok, reason := riskMgr.CanOpenPosition(); !ok {
		logger.Warn().
			Str("signal_id", sig.ID).
			Str("reason", reason).
			Msg("signal rejected: risk gate")
		return false
	}
	if !proposal.Valid {
		logger.Warn().
			Str("signal_id", sig.ID).
			Str("reason", proposal.Reason).
			Msg("signal rejected: invalid size proposal")
		return false
	}
	if ok, warnings := riskMgr.ValidateTradeRisk(proposal); !ok {
		logger.Warn().
			Str("signal_id", sig.ID).
			Str("reason", strings.Join(warnings, "; ")).
			Msg("signal rejected: trade risk")
		return false
	}
	return true
}

// tradeRecordFrom converts a closed position into its persisted form.
// PnL is net of fees so replaying records reconstructs the balance.
func tradeRecordFrom(pos *models.Position, mode models.TradingMode) *models.TradeRecord {
	return &models.TradeRecord{
		ID:           pos.ID,
		Timestamp:    pos.OpenedAt,
		Symbol:       pos.Symbol,
		Side:         pos.Side,
		EntryPrice:   pos.EntryPrice,
		ExitPrice:    pos.ExitPrice,
		Quantity:     pos.Quantity,
		Leverage:     pos.Leverage,
		PnL:          pos.RealizedPnL - pos.Fees,
		PnLPercent:   pos.PnLPercent,
		Fees:         pos.Fees,
		ExitReason:   pos.ExitReason,
		HoldDuration: pos.HoldDuration(),
		StopLoss:     pos.StopLoss,
		TakeProfit:   pos.TakeProfit,
		Mode:         mode,
		ClosedAt:     pos.ClosedAt,
	}
}
