package models

import "time"

// Signal represents a trade entry produced by the signal generator.
// Price fields are immutable after generation; the filter pipeline
// only annotates Filtered/FilterReason and may adjust Confidence.
type Signal struct {
	ID           string
	Symbol       string
	Side         Side
	EntryPrice   float64
	StopLoss     float64
	TakeProfit   float64
	RiskReward   float64
	Confidence   float64
	ADX          float64
	PlusDI       float64
	MinusDI      float64
	Slope        float64
	Spread       float64
	ATR          float64
	Strength     TrendStrength
	Timestamp    time.Time
	Filtered     bool
	FilterReason string
}

// SizeProposal is the output of the position sizer: a deterministic
// function of entry, stop and balance. Consumed immediately by the
// executor, never persisted.
type SizeProposal struct {
	Quantity            float64
	Notional            float64
	Margin              float64
	RiskAmount          float64
	ActualRiskAmount    float64
	RiskPercent         float64
	ActualRiskPercent   float64
	StopDistance        float64
	StopDistancePercent float64
	Leverage            int
	Balance             float64
	Valid               bool
	Reason              string
}
