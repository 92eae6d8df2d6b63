// Package signal implements entry signal generation, the quality
// filter pipeline and deduplication for the ADX trend strategy.
package signal

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"adx-trader/internal/config"
	"adx-trader/internal/logging"
	"adx-trader/internal/models"
)

// Generator produces entry signals from indicator rows and evaluates
// exit conditions for trades that are already open.
type Generator struct {
	symbol string
	cfg    config.StrategyConfig
	logger zerolog.Logger
}

// NewGenerator creates a signal generator for a symbol.
func NewGenerator(symbol string, cfg config.StrategyConfig, logger zerolog.Logger) *Generator {
	return &Generator{
		symbol: symbol,
		cfg:    cfg,
		logger: logger.With().Str("component", "signal").Str("symbol", symbol).Logger(),
	}
}

// Generate evaluates the entry rules against a single indicator row.
// It returns nil when no rule fires; that is the common case, not an
// error. The caller supplies the close of the candle the row was
// computed from, which becomes the entry price.
func (g *Generator) Generate(row models.IndicatorRow, close float64) *models.Signal {
	if math.IsNaN(row.ADX) || math.IsNaN(row.PlusDI) || math.IsNaN(row.MinusDI) || math.IsNaN(row.ATR) {
		return nil
	}

	var side models.Side
	switch {
	case g.longEntry(row):
		side = models.SideLong
	case g.shortEntry(row):
		side = models.SideShort
	default:
		return nil
	}

	sig := &models.Signal{
		ID:         uuid.NewString(),
		Symbol:     g.symbol,
		Side:       side,
		EntryPrice: close,
		RiskReward: g.cfg.TPATRMultiplier / g.cfg.SLATRMultiplier,
		Confidence: row.Confidence,
		ADX:        row.ADX,
		PlusDI:     row.PlusDI,
		MinusDI:    row.MinusDI,
		Slope:      row.Slope,
		Spread:     row.Spread,
		ATR:        row.ATR,
		Strength:   row.Strength,
		Timestamp:  row.Timestamp,
	}

	if side == models.SideLong {
		sig.StopLoss = close - row.ATR*g.cfg.SLATRMultiplier
		sig.TakeProfit = close + row.ATR*g.cfg.TPATRMultiplier
	} else {
		sig.StopLoss = close + row.ATR*g.cfg.SLATRMultiplier
		sig.TakeProfit = close - row.ATR*g.cfg.TPATRMultiplier
	}

	logging.LogSignal(g.logger, sig)

	return sig
}

func (g *Generator) longEntry(row models.IndicatorRow) bool {
	return row.ADX > g.cfg.ADXThreshold &&
		row.Slope > g.cfg.SlopeMin &&
		row.PlusDI > row.MinusDI &&
		math.Abs(row.Spread) >= g.cfg.DISpreadMin &&
		row.Confidence >= g.cfg.MinConfidence
}

func (g *Generator) shortEntry(row models.IndicatorRow) bool {
	return row.ADX > g.cfg.ADXThreshold &&
		row.Slope > g.cfg.SlopeMin &&
		row.MinusDI > row.PlusDI &&
		math.Abs(row.Spread) >= g.cfg.DISpreadMin &&
		row.Confidence >= g.cfg.MinConfidence
}

// CheckExit evaluates exit conditions for an open trade against the
// latest candle and its indicator row. Stop and target are checked
// against the intrabar range; when both are touched in the same candle
// the stop loss takes precedence. Trend exhaustion and DI reversal are
// checked afterwards.
func (g *Generator) CheckExit(side models.Side, stopLoss, takeProfit float64, row models.IndicatorRow, candle models.Candle) (models.ExitReason, bool) {
	if side == models.SideLong {
		if candle.Low <= stopLoss {
			return models.ExitStopLoss, true
		}
		if candle.High >= takeProfit {
			return models.ExitTakeProfit, true
		}
	} else {
		if candle.High >= stopLoss {
			return models.ExitStopLoss, true
		}
		if candle.Low <= takeProfit {
			return models.ExitTakeProfit, true
		}
	}

	if !math.IsNaN(row.ADX) && row.ADX < g.cfg.ADXWeakThreshold {
		return models.ExitTrendWeak, true
	}

	if !math.IsNaN(row.PlusDI) && !math.IsNaN(row.MinusDI) {
		if side == models.SideLong && row.MinusDI > row.PlusDI {
			return models.ExitDIReversal, true
		}
		if side == models.SideShort && row.PlusDI > row.MinusDI {
			return models.ExitDIReversal, true
		}
	}

	return "", false
}

// Outcome is the terminal result of walking a signal forward through
// historical candles.
type Outcome struct {
	Reason     models.ExitReason
	ExitPrice  float64
	ExitTime   time.Time
	BarsHeld   int
	PnLPercent float64
	Win        bool
}

// EvaluateOutcome walks up to TimeoutCandles candles after entryIdx
// applying CheckExit to each. Stop exits fill at the stop level and
// target exits at the target level; indicator exits fill at the
// candle close. When no exit triggers before the window expires the
// trade times out at the close of the last examined candle.
// rows and candles are the full parallel series the signal was
// generated from.
func (g *Generator) EvaluateOutcome(sig *models.Signal, rows []models.IndicatorRow, candles []models.Candle, entryIdx int) Outcome {
	timeout := g.cfg.TimeoutCandles
	if timeout <= 0 {
		timeout = 12
	}

	maxIdx := entryIdx + timeout
	if maxIdx > len(candles)-1 {
		maxIdx = len(candles) - 1
	}

	out := Outcome{Reason: models.ExitTimeout}

	for i := entryIdx + 1; i <= maxIdx; i++ {
		reason, triggered := g.CheckExit(sig.Side, sig.StopLoss, sig.TakeProfit, rows[i], candles[i])
		if !triggered {
			continue
		}

		out.Reason = reason
		out.BarsHeld = i - entryIdx
		out.ExitTime = candles[i].Timestamp

		switch reason {
		case models.ExitStopLoss:
			out.ExitPrice = sig.StopLoss
		case models.ExitTakeProfit:
			out.ExitPrice = sig.TakeProfit
		default:
			out.ExitPrice = candles[i].Close
		}

		out.PnLPercent = pnlPercent(sig.Side, sig.EntryPrice, out.ExitPrice)
		out.Win = out.PnLPercent > 0
		return out
	}

	// Timed out holding; exit at the close of the last candle in the
	// window.
	out.BarsHeld = maxIdx - entryIdx
	out.ExitPrice = candles[maxIdx].Close
	out.ExitTime = candles[maxIdx].Timestamp
	out.PnLPercent = pnlPercent(sig.Side, sig.EntryPrice, out.ExitPrice)
	out.Win = out.PnLPercent > 0
	return out
}

func pnlPercent(side models.Side, entry, exit float64) float64 {
	if entry == 0 {
		return 0
	}
	if side == models.SideLong {
		return (exit - entry) / entry * 100
	}
	return (entry - exit) / entry * 100
}
