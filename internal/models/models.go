// Package models provides domain models for the trading application.
package models

import (
	"time"
)

// Side represents the direction of a signal or position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Opposite returns the reverse side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// OrderSide represents the side of an exchange order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderSideFor maps a position side to the exchange order side
// that opens it.
func OrderSideFor(s Side) OrderSide {
	if s == SideLong {
		return OrderSideBuy
	}
	return OrderSideSell
}

// TradingMode selects the execution variant.
type TradingMode string

const (
	ModePaper    TradingMode = "paper"
	ModeLive     TradingMode = "live"
	ModeBacktest TradingMode = "backtest"
)

// TrendStrength buckets an ADX reading.
type TrendStrength string

const (
	TrendNone       TrendStrength = "NONE"
	TrendWeak       TrendStrength = "WEAK"
	TrendStrong     TrendStrength = "STRONG"
	TrendVeryStrong TrendStrength = "VERY_STRONG"
	TrendExtreme    TrendStrength = "EXTREME"
)

// Crossover represents a DI line crossover on the current candle.
type Crossover string

const (
	CrossoverNone    Crossover = "NONE"
	CrossoverBullish Crossover = "BULLISH"
	CrossoverBearish Crossover = "BEARISH"
)

// Candle represents OHLCV data for a time period.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// IndicatorRow holds the per-candle output of the trend engine.
// Rows before the warmup window carry NaN values; consumers must
// tolerate them.
type IndicatorRow struct {
	Timestamp  time.Time
	ADX        float64
	PlusDI     float64
	MinusDI    float64
	Slope      float64
	Spread     float64
	ATR        float64
	Strength   TrendStrength
	Confidence float64
	Crossover  Crossover
}
