// Package trading contains the position manager, order executors and
// the control loop that drives them. The position manager owns every
// open position; executors and the loop mutate positions only through
// its methods.
package trading

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"adx-trader/internal/config"
	errs "adx-trader/internal/errors"
	"adx-trader/internal/logging"
	"adx-trader/internal/models"
)

// Manager tracks open positions for a single symbol, marks them to
// market, applies trailing and breakeven stop adjustments and keeps an
// in-memory history of closed positions with aggregate statistics.
type Manager struct {
	symbol   string
	trailing config.TrailingStopConfig
	logger   zerolog.Logger

	mu       sync.RWMutex
	open     map[string]*models.Position
	closed   []*models.Position
	wins     int
	losses   int
	totalPnL float64
}

// NewManager creates a position manager for the given symbol.
func NewManager(symbol string, trailing config.TrailingStopConfig, logger zerolog.Logger) *Manager {
	return &Manager{
		symbol:   symbol,
		trailing: trailing,
		logger:   logger.With().Str("component", "positions").Logger(),
		open:     make(map[string]*models.Position),
	}
}

// Open registers a new position and returns it. The entry price seeds
// both price extremes so trailing stops have a baseline.
func (m *Manager) Open(side models.Side, entry, quantity, stopLoss, takeProfit float64, leverage int, margin float64) *models.Position {
	pos := &models.Position{
		ID:           uuid.NewString(),
		Symbol:       m.symbol,
		Side:         side,
		Status:       models.PositionOpen,
		EntryPrice:   entry,
		Quantity:     quantity,
		Leverage:     leverage,
		Margin:       margin,
		StopLoss:     stopLoss,
		TakeProfit:   takeProfit,
		CurrentPrice: entry,
		HighestPrice: entry,
		LowestPrice:  entry,
		OpenedAt:     time.Now().UTC(),
	}

	m.mu.Lock()
	m.open[pos.ID] = pos
	m.mu.Unlock()

	logging.LogPositionOpened(m.logger, pos)
	return pos
}

// UpdatePrice marks every open position to the given price, refreshes
// price extremes and ratchets trailing stops.
func (m *Manager) UpdatePrice(price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, pos := range m.open {
		m.markLocked(pos, price)
	}
}

func (m *Manager) markLocked(pos *models.Position, price float64) {
	pos.CurrentPrice = price
	if price > pos.HighestPrice {
		pos.HighestPrice = price
	}
	if price < pos.LowestPrice {
		pos.LowestPrice = price
	}

	change := priceChange(pos.Side, pos.EntryPrice, price)
	pos.UnrealizedPnL = change * pos.Quantity * float64(pos.Leverage)
	if pos.EntryPrice > 0 {
		pos.PnLPercent = change / pos.EntryPrice * 100 * float64(pos.Leverage)
	}

	m.trailLocked(pos)
}

// trailLocked latches the trailing stop once the position's pnl percent
// reaches the activation threshold, then ratchets the stop behind the
// favorable price extreme. The stop only ever tightens.
func (m *Manager) trailLocked(pos *models.Position) {
	if !m.trailing.Enabled {
		return
	}
	if !pos.TrailingActive {
		if pos.PnLPercent < m.trailing.ActivationPercent {
			return
		}
		pos.TrailingActive = true
		m.logger.Info().
			Str("position_id", pos.ID).
			Float64("pnl_percent", pos.PnLPercent).
			Msg("trailing stop activated")
	}

	distance := m.trailing.DistancePercent / 100
	switch pos.Side {
	case models.SideLong:
		candidate := pos.HighestPrice * (1 - distance)
		if candidate > pos.StopLoss {
			pos.StopLoss = candidate
		}
	case models.SideShort:
		candidate := pos.LowestPrice * (1 + distance)
		if candidate < pos.StopLoss {
			pos.StopLoss = candidate
		}
	}
}

// MoveToBreakeven moves the stop to the entry price once the position
// has gained at least the breakeven threshold. Returns true when the
// stop actually moved. A stop already at or beyond entry is left alone.
func (m *Manager) MoveToBreakeven(id string) bool {
	if !m.trailing.BreakevenEnabled {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.open[id]
	if !ok || pos.PnLPercent < m.trailing.BreakevenThreshold {
		return false
	}
	switch pos.Side {
	case models.SideLong:
		if pos.StopLoss >= pos.EntryPrice {
			return false
		}
	case models.SideShort:
		if pos.StopLoss <= pos.EntryPrice {
			return false
		}
	}

	pos.StopLoss = pos.EntryPrice
	m.logger.Info().
		Str("position_id", pos.ID).
		Float64("stop_loss", pos.StopLoss).
		Msg("stop moved to breakeven")
	return true
}

// AdjustStopLoss manually replaces a position's stop.
func (m *Manager) AdjustStopLoss(id string, stopLoss float64) error {
	if stopLoss <= 0 {
		return errs.NewValidationError("stop_loss", stopLoss, "must be positive")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.open[id]
	if !ok {
		return fmt.Errorf("adjust stop %s: %w", id, errs.ErrPositionNotFound)
	}
	pos.StopLoss = stopLoss
	return nil
}

// CheckExit reports whether the given price breaches the position's
// stop loss or take profit. The stop is checked first, so a price that
// somehow satisfies both resolves as a stop.
func (m *Manager) CheckExit(id string, price float64) (models.ExitReason, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pos, ok := m.open[id]
	if !ok {
		return "", false
	}
	switch pos.Side {
	case models.SideLong:
		if price <= pos.StopLoss {
			return models.ExitStopLoss, true
		}
		if price >= pos.TakeProfit {
			return models.ExitTakeProfit, true
		}
	case models.SideShort:
		if price >= pos.StopLoss {
			return models.ExitStopLoss, true
		}
		if price <= pos.TakeProfit {
			return models.ExitTakeProfit, true
		}
	}
	return "", false
}

// Close finalizes a position at the exit price, moves it to the closed
// history and updates aggregate statistics. RealizedPnL is gross of
// fees; the executor accounts for fees separately.
func (m *Manager) Close(id string, exitPrice float64, reason models.ExitReason) (*models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.open[id]
	if !ok {
		return nil, fmt.Errorf("close position %s: %w", id, errs.ErrPositionNotFound)
	}

	change := priceChange(pos.Side, pos.EntryPrice, exitPrice)
	pos.Status = models.PositionClosed
	pos.ExitPrice = exitPrice
	pos.ExitReason = reason
	pos.CurrentPrice = exitPrice
	pos.ClosedAt = time.Now().UTC()
	pos.RealizedPnL = change * pos.Quantity * float64(pos.Leverage)
	pos.UnrealizedPnL = 0
	if pos.EntryPrice > 0 {
		pos.PnLPercent = change / pos.EntryPrice * 100 * float64(pos.Leverage)
	}

	delete(m.open, id)
	m.closed = append(m.closed, pos)
	switch {
	case pos.RealizedPnL > 0:
		m.wins++
	case pos.RealizedPnL < 0:
		m.losses++
	}
	m.totalPnL += pos.RealizedPnL

	logging.LogPositionClosed(m.logger, pos)
	return pos, nil
}

// CloseAll closes every open position at the given price and returns
// the closed positions.
func (m *Manager) CloseAll(exitPrice float64, reason models.ExitReason) []*models.Position {
	m.mu.RLock()
	ids := make([]string, 0, len(m.open))
	for id := range m.open {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	closed := make([]*models.Position, 0, len(ids))
	for _, id := range ids {
		pos, err := m.Close(id, exitPrice, reason)
		if err != nil {
			continue
		}
		closed = append(closed, pos)
	}
	return closed
}

// Get returns the open position with the given id.
func (m *Manager) Get(id string) (*models.Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.open[id]
	return pos, ok
}

// OpenPositions returns the open positions ordered oldest first.
func (m *Manager) OpenPositions() []*models.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Position, 0, len(m.open))
	for _, pos := range m.open {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

// OpenCount returns the number of open positions.
func (m *Manager) OpenCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.open)
}

// ClosedPositions returns up to n closed positions, newest first.
// n <= 0 returns the full history.
func (m *Manager) ClosedPositions(n int) []*models.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if n <= 0 || n > len(m.closed) {
		n = len(m.closed)
	}
	out := make([]*models.Position, 0, n)
	for i := len(m.closed) - 1; i >= len(m.closed)-n; i-- {
		out = append(out, m.closed[i])
	}
	return out
}

// MarginUsed returns the margin locked by open positions.
func (m *Manager) MarginUsed() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total float64
	for _, pos := range m.open {
		total += pos.Margin
	}
	return total
}

// UnrealizedPnL returns the aggregate unrealized pnl of open positions.
func (m *Manager) UnrealizedPnL() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total float64
	for _, pos := range m.open {
		total += pos.UnrealizedPnL
	}
	return total
}

// Stats aggregates the closed-position history. Zero-pnl trades count
// as neither wins nor losses.
func (m *Manager) Stats() models.PerformanceStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := models.PerformanceStats{
		TotalTrades: len(m.closed),
		Wins:        m.wins,
		Losses:      m.losses,
		TotalPnL:    m.totalPnL,
	}
	if stats.TotalTrades == 0 {
		return stats
	}

	var winSum, lossSum float64
	best := math.Inf(-1)
	worst := math.Inf(1)
	for _, pos := range m.closed {
		pnl := pos.RealizedPnL
		if pnl > 0 {
			winSum += pnl
		} else if pnl < 0 {
			lossSum += -pnl
		}
		if pnl > best {
			best = pnl
		}
		if pnl < worst {
			worst = pnl
		}
	}

	stats.WinRate = float64(m.wins) / float64(stats.TotalTrades) * 100
	stats.AvgPnL = m.totalPnL / float64(stats.TotalTrades)
	if m.wins > 0 {
		stats.AvgWin = winSum / float64(m.wins)
	}
	if m.losses > 0 {
		stats.AvgLoss = lossSum / float64(m.losses)
	}
	if stats.AvgLoss > 0 {
		stats.ProfitFactor = stats.AvgWin / stats.AvgLoss
	}
	stats.BestTrade = best
	stats.WorstTrade = worst
	return stats
}

// priceChange returns the favorable price movement for the side. A
// positive value means the position gained.
func priceChange(side models.Side, entry, price float64) float64 {
	if side == models.SideShort {
		return entry - price
	}
	return price - entry
}
