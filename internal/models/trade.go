package models

import "time"

// TradeRecord is the persisted form of a closed position.
type TradeRecord struct {
	ID           string
	Timestamp    time.Time
	Symbol       string
	Side         Side
	EntryPrice   float64
	ExitPrice    float64
	Quantity     float64
	Leverage     int
	PnL          float64
	PnLPercent   float64
	Fees         float64
	ExitReason   ExitReason
	HoldDuration time.Duration
	StopLoss     float64
	TakeProfit   float64
	Mode         TradingMode
	ClosedAt     time.Time
}

// PerformanceStats aggregates closed-trade outcomes.
type PerformanceStats struct {
	TotalTrades  int
	Wins         int
	Losses       int
	WinRate      float64
	TotalPnL     float64
	AvgPnL       float64
	AvgWin       float64
	AvgLoss      float64
	ProfitFactor float64
	BestTrade    float64
	WorstTrade   float64
}

// PerformanceSnapshot is a periodic capture of account state.
type PerformanceSnapshot struct {
	Timestamp          time.Time
	Balance            float64
	Equity             float64
	TotalPnL           float64
	TotalReturnPercent float64
	PeakBalance        float64
	MaxDrawdown        float64
	TotalTrades        int
	WinRate            float64
}

// RiskStatus is a point-in-time snapshot of the risk manager.
type RiskStatus struct {
	CanTrade             bool
	CircuitBreakerActive bool
	CircuitBreakerReason string
	CurrentCapital       float64
	PeakCapital          float64
	DailyPnL             float64
	DailyPnLPercent      float64
	DrawdownPercent      float64
	ConsecutiveLosses    int
	OpenPositions        int
	TotalTrades          int
	WinningTrades        int
}
