package models

import "time"

// PositionStatus represents the lifecycle state of a position.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// ExitReason records why a position was closed.
type ExitReason string

const (
	ExitStopLoss       ExitReason = "STOP_LOSS"
	ExitTakeProfit     ExitReason = "TAKE_PROFIT"
	ExitTrendWeak      ExitReason = "TREND_WEAK"
	ExitDIReversal     ExitReason = "DI_REVERSAL"
	ExitTimeout        ExitReason = "TIMEOUT"
	ExitManual         ExitReason = "MANUAL"
	ExitShutdown       ExitReason = "SHUTDOWN"
	ExitEmergencyStop  ExitReason = "EMERGENCY_STOP"
	ExitSignalReversal ExitReason = "SIGNAL_REVERSAL"
	ExitBacktestEnd    ExitReason = "BACKTEST_END"
	ExitReset          ExitReason = "RESET"
)

// Position represents a perpetual futures position. Owned by the
// position manager while open; immutable history once closed.
type Position struct {
	ID             string
	Symbol         string
	Side           Side
	Status         PositionStatus
	EntryPrice     float64
	Quantity       float64
	Leverage       int
	Margin         float64
	StopLoss       float64
	TakeProfit     float64
	CurrentPrice   float64
	UnrealizedPnL  float64
	PnLPercent     float64
	HighestPrice   float64
	LowestPrice    float64
	TrailingActive bool
	ExitPrice      float64
	ExitReason     ExitReason
	RealizedPnL    float64
	Fees           float64
	SignalID       string
	OpenedAt       time.Time
	ClosedAt       time.Time
}

// HoldDuration returns how long the position has been or was held.
func (p *Position) HoldDuration() time.Duration {
	if p.Status == PositionClosed {
		return p.ClosedAt.Sub(p.OpenedAt)
	}
	return time.Since(p.OpenedAt)
}

// AccountStatus summarizes account state for display and checks.
type AccountStatus struct {
	Balance         float64
	Equity          float64
	MarginUsed      float64
	MarginAvailable float64
	OpenPositions   int
	UnrealizedPnL   float64
}
