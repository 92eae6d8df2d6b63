// Package risk provides position sizing and account-level risk
// enforcement for the trading engine.
package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"adx-trader/internal/config"
	"adx-trader/internal/logging"
	"adx-trader/internal/models"
	"adx-trader/internal/notify"
)

// Manager tracks account risk state and gates every position open. It
// is a two-state machine: trading is allowed until a limit breach
// flips the circuit breaker, and only an explicit reset flips it back.
// Limit checks that find a breach activate the breaker eagerly, so a
// rejected CanOpenPosition call can itself change state.
//
// One Manager instance guards one trading context (symbol + account);
// instances are never shared.
type Manager struct {
	cfg      config.RiskConfig
	logger   zerolog.Logger
	notifier notify.Notifier

	mu                sync.Mutex
	initialCapital    float64
	currentCapital    float64
	peakCapital       float64
	dailyPnL          float64
	dailyStartCapital float64
	lastResetDate     time.Time
	openPositions     map[string]time.Time
	consecutiveLosses int
	totalTrades       int
	winningTrades     int
	losingTrades      int
	breakerActive     bool
	breakerReason     string
}

// NewManager creates a risk manager with the given starting capital.
func NewManager(cfg config.RiskConfig, initialCapital float64, logger zerolog.Logger) *Manager {
	now := time.Now()
	return &Manager{
		cfg:               cfg,
		logger:            logger.With().Str("component", "risk").Logger(),
		notifier:          notify.NewNoOpNotifier(),
		initialCapital:    initialCapital,
		currentCapital:    initialCapital,
		peakCapital:       initialCapital,
		dailyStartCapital: initialCapital,
		lastResetDate:     dateOf(now),
		openPositions:     make(map[string]time.Time),
	}
}

// SetNotifier routes breaker trips and loss warnings through the given
// notifier. Call before trading starts; a nil notifier is ignored.
func (m *Manager) SetNotifier(n notify.Notifier) {
	if n == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifier = n
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// checkDailyReset rolls daily tracking on the first call after a
// local date change. Callers must hold the mutex.
func (m *Manager) checkDailyReset() {
	today := dateOf(time.Now())
	if today.After(m.lastResetDate) {
		m.resetDailyLocked(today)
	}
}

func (m *Manager) resetDailyLocked(today time.Time) {
	m.dailyPnL = 0
	m.dailyStartCapital = m.currentCapital
	m.lastResetDate = today
	m.logger.Info().
		Float64("start_capital", m.currentCapital).
		Msg("daily risk tracking reset")
}

// ResetDaily resets daily P&L tracking immediately.
func (m *Manager) ResetDaily() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetDailyLocked(dateOf(time.Now()))
}

// CanOpenPosition reports whether a new position may be opened. The
// checks run in a fixed order: circuit breaker, concurrent position
// cap, daily loss, drawdown, consecutive losses. Breaches found by
// the loss checks activate the circuit breaker before rejecting, and
// a fresh trip is pushed through the notifier.
func (m *Manager) CanOpenPosition() (bool, string) {
	m.mu.Lock()
	ok, reason, tripped := m.canOpenLocked()
	n := m.notifier
	m.mu.Unlock()

	if tripped {
		m.sendBreakerAlert(n, reason)
	}
	return ok, reason
}

func (m *Manager) canOpenLocked() (ok bool, reason string, tripped bool) {
	m.checkDailyReset()

	if m.breakerActive {
		return false, fmt.Sprintf("circuit breaker active: %s", m.breakerReason), false
	}

	if len(m.openPositions) >= m.cfg.MaxConcurrentPositions {
		return false, fmt.Sprintf("max concurrent positions reached (%d)", m.cfg.MaxConcurrentPositions), false
	}

	if m.dailyStartCapital > 0 {
		dailyLossPct := m.dailyPnL / m.dailyStartCapital * 100
		if dailyLossPct <= -m.cfg.DailyLossLimitPercent {
			reason := fmt.Sprintf("daily loss limit hit: %.2f%% / -%.2f%%", dailyLossPct, m.cfg.DailyLossLimitPercent)
			return false, reason, m.activateBreakerLocked(reason)
		}
	}

	if m.peakCapital > 0 {
		drawdownPct := (m.peakCapital - m.currentCapital) / m.peakCapital * 100
		if drawdownPct >= m.cfg.MaxDrawdownPercent {
			reason := fmt.Sprintf("max drawdown exceeded: %.2f%% / %.2f%%", drawdownPct, m.cfg.MaxDrawdownPercent)
			return false, reason, m.activateBreakerLocked(reason)
		}
	}

	if m.consecutiveLosses >= m.cfg.ConsecutiveLossLimit {
		reason := fmt.Sprintf("consecutive loss limit: %d / %d", m.consecutiveLosses, m.cfg.ConsecutiveLossLimit)
		return false, reason, m.activateBreakerLocked(reason)
	}

	return true, "", false
}

// ValidateTradeRisk checks a sizing proposal against the hard
// per-trade limits. Returns all violations, not just the first.
func (m *Manager) ValidateTradeRisk(p models.SizeProposal) (bool, []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var warnings []string

	if p.ActualRiskPercent > m.cfg.MaxRiskPerTradePercent {
		warnings = append(warnings, fmt.Sprintf(
			"risk %.2f%% exceeds max %.2f%%", p.ActualRiskPercent, m.cfg.MaxRiskPerTradePercent))
	}

	availableMargin := m.currentCapital * m.cfg.MaxMarginUsage
	if p.Margin > availableMargin {
		warnings = append(warnings, fmt.Sprintf(
			"margin %.2f exceeds available %.2f", p.Margin, availableMargin))
	}

	if !p.Valid {
		reason := p.Reason
		if reason == "" {
			reason = "position size invalid"
		}
		warnings = append(warnings, reason)
	}

	return len(warnings) == 0, warnings
}

// RecordTradeResult folds a closed trade into the risk state. A
// positive pnl counts as a win and resets the loss streak; a negative
// pnl extends it. Zero-pnl closes count toward totals only.
//
// Recording also re-checks the daily loss and loss streak limits: a
// breach trips the circuit breaker right away, and a result one step
// short of a limit sends a warning. Notifications go out after the
// lock is released.
func (m *Manager) RecordTradeResult(pnl float64) {
	m.mu.Lock()

	m.checkDailyReset()

	m.dailyPnL += pnl
	m.totalTrades++

	switch {
	case pnl > 0:
		m.winningTrades++
		m.consecutiveLosses = 0
	case pnl < 0:
		m.losingTrades++
		m.consecutiveLosses++
	}

	m.logger.Info().
		Float64("pnl", pnl).
		Float64("daily_pnl", m.dailyPnL).
		Int("consecutive_losses", m.consecutiveLosses).
		Msg("trade result recorded")

	var (
		tripReason string
		dailyWarn  bool
		streakWarn bool
		dailyPct   float64
	)

	if m.cfg.DailyLossLimitPercent > 0 && m.dailyStartCapital > 0 {
		dailyPct = m.dailyPnL / m.dailyStartCapital * 100
		switch {
		case dailyPct <= -m.cfg.DailyLossLimitPercent:
			reason := fmt.Sprintf("daily loss limit hit: %.2f%% / -%.2f%%", dailyPct, m.cfg.DailyLossLimitPercent)
			if m.activateBreakerLocked(reason) {
				tripReason = reason
			}
		case dailyPct <= -0.8*m.cfg.DailyLossLimitPercent:
			dailyWarn = true
		}
	}

	if m.cfg.ConsecutiveLossLimit > 0 {
		switch {
		case m.consecutiveLosses >= m.cfg.ConsecutiveLossLimit:
			reason := fmt.Sprintf("consecutive loss limit: %d / %d", m.consecutiveLosses, m.cfg.ConsecutiveLossLimit)
			if m.activateBreakerLocked(reason) && tripReason == "" {
				tripReason = reason
			}
		case m.consecutiveLosses == m.cfg.ConsecutiveLossLimit-1:
			streakWarn = true
		}
	}

	losses := m.consecutiveLosses
	n := m.notifier
	m.mu.Unlock()

	if tripReason != "" {
		m.sendBreakerAlert(n, tripReason)
		return
	}

	ctx := context.Background()
	if dailyWarn {
		if err := n.SendDailyLossWarning(ctx, dailyPct, m.cfg.DailyLossLimitPercent); err != nil {
			m.logger.Warn().Err(err).Msg("daily loss warning notification failed")
		}
	}
	if streakWarn {
		if err := n.SendConsecutiveLossWarning(ctx, losses, m.cfg.ConsecutiveLossLimit); err != nil {
			m.logger.Warn().Err(err).Msg("loss streak warning notification failed")
		}
	}
}

// UpdateCapital sets the current capital and raises the peak when a
// new high is reached.
func (m *Manager) UpdateCapital(newCapital float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.currentCapital = newCapital
	if newCapital > m.peakCapital {
		m.peakCapital = newCapital
	}
}

// AddOpenPosition registers an open position with the concurrency cap.
func (m *Manager) AddOpenPosition(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openPositions[id] = time.Now()
}

// RemoveOpenPosition releases a position slot.
func (m *Manager) RemoveOpenPosition(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.openPositions, id)
}

// ActivateCircuitBreaker trips the breaker manually. Used by the
// emergency stop path.
func (m *Manager) ActivateCircuitBreaker(reason string) {
	m.mu.Lock()
	tripped := m.activateBreakerLocked(reason)
	n := m.notifier
	m.mu.Unlock()

	if tripped {
		m.sendBreakerAlert(n, reason)
	}
}

// activateBreakerLocked reports whether the call flipped the breaker;
// an already-active breaker keeps its original reason.
func (m *Manager) activateBreakerLocked(reason string) bool {
	if m.breakerActive {
		return false
	}
	m.breakerActive = true
	m.breakerReason = reason
	logging.LogCircuitBreaker(m.logger, true, reason)
	return true
}

func (m *Manager) sendBreakerAlert(n notify.Notifier, reason string) {
	if err := n.SendCircuitBreaker(context.Background(), reason); err != nil {
		m.logger.Warn().Err(err).Msg("circuit breaker notification failed")
	}
}

// ResetCircuitBreaker deactivates the breaker and clears the loss
// streak. This is the only way back to the trading-allowed state.
func (m *Manager) ResetCircuitBreaker() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.breakerActive = false
	m.breakerReason = ""
	m.consecutiveLosses = 0
	logging.LogCircuitBreaker(m.logger, false, "manual reset")
}

// Status returns a point-in-time snapshot of the risk state.
func (m *Manager) Status() models.RiskStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.checkDailyReset()

	dailyPct := 0.0
	if m.dailyStartCapital > 0 {
		dailyPct = m.dailyPnL / m.dailyStartCapital * 100
	}

	drawdownPct := 0.0
	if m.peakCapital > 0 {
		drawdownPct = (m.peakCapital - m.currentCapital) / m.peakCapital * 100
	}

	return models.RiskStatus{
		CanTrade:             !m.breakerActive && len(m.openPositions) < m.cfg.MaxConcurrentPositions,
		CircuitBreakerActive: m.breakerActive,
		CircuitBreakerReason: m.breakerReason,
		CurrentCapital:       m.currentCapital,
		PeakCapital:          m.peakCapital,
		DailyPnL:             m.dailyPnL,
		DailyPnLPercent:      dailyPct,
		DrawdownPercent:      drawdownPct,
		ConsecutiveLosses:    m.consecutiveLosses,
		OpenPositions:        len(m.openPositions),
		TotalTrades:          m.totalTrades,
		WinningTrades:        m.winningTrades,
	}
}
