package trading

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"adx-trader/internal/config"
	"adx-trader/internal/indicators"
	"adx-trader/internal/models"
	"adx-trader/internal/risk"
	"adx-trader/internal/signal"
)

// annualRiskFreeRate feeds the Sharpe ratio calculation. Divided down
// to the candle interval before use.
const annualRiskFreeRate = 0.05

// BacktestEngine replays the strategy over historical candles. Every
// fill is deterministic: slippage is applied in full and always
// adverse, so two runs over the same candles produce identical
// results. The simulation holds at most one position at a time and
// uses the same generator and filter pipeline as the control loop;
// account-level gates (circuit breaker, daily loss limit) are runtime
// protections and are not simulated here.
type BacktestEngine struct {
	symbol          string
	initialCapital  float64
	leverage        int
	slippagePercent float64
	feePercent      float64
	strategy        config.StrategyConfig

	trend     *indicators.TrendEngine
	generator *signal.Generator
	pipeline  *signal.Pipeline
	sizer     *risk.Sizer
	logger    zerolog.Logger
}

// NewBacktestEngine builds an engine from the application config. The
// strategy, filter, risk and execution sections are honored the same
// way the live paths honor them.
func NewBacktestEngine(cfg *config.Config, logger zerolog.Logger) *BacktestEngine {
	log := logger.With().Str("component", "backtest").Logger()
	leverage := cfg.Trading.Leverage
	if leverage < 1 {
		leverage = 1
	}
	return &BacktestEngine{
		symbol:          cfg.Trading.Symbol,
		initialCapital:  cfg.Trading.InitialCapital,
		leverage:        leverage,
		slippagePercent: cfg.Execution.SlippagePercent,
		feePercent:      cfg.Execution.TakerFeePercent,
		strategy:        cfg.Strategy,
		trend:           indicators.NewTrendEngine(cfg.Strategy.ADXPeriod),
		generator:       signal.NewGenerator(cfg.Trading.Symbol, cfg.Strategy, log),
		pipeline:        signal.NewPipeline(cfg.Filters, cfg.Strategy, log),
		sizer:           risk.NewSizer(cfg.Risk, cfg.Trading.Leverage, log),
		logger:          log,
	}
}

// BacktestResult holds the outcome of a backtest run.
type BacktestResult struct {
	Symbol         string
	StartTime      time.Time
	EndTime        time.Time
	InitialCapital float64
	FinalEquity    float64

	TotalReturn      float64 // percent
	AnnualizedReturn float64 // percent
	WinRate          float64 // percent
	MaxDrawdown      float64 // percent of peak equity
	SharpeRatio      float64
	ProfitFactor     float64 // gross wins / gross losses
	Expectancy       float64 // mean net pnl per trade

	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	AvgWin        float64
	AvgLoss       float64 // positive magnitude
	TotalFees     float64

	SignalsGenerated int
	SignalsFiltered  int

	ExitReasons map[models.ExitReason]int
	EquityCurve []EquityPoint
	Trades      []models.TradeRecord
}

// EquityPoint is one mark-to-market sample of account equity.
type EquityPoint struct {
	Timestamp time.Time
	Equity    float64
}

// backtestState tracks the account and the open trade during a run.
type backtestState struct {
	balance     float64
	peakEquity  float64
	maxDrawdown float64 // fraction of peak
	open        *backtestTrade
}

// backtestTrade is the in-flight position of the simulation.
type backtestTrade struct {
	signalID   string
	side       models.Side
	entryIdx   int
	entryTime  time.Time
	entryPrice float64
	quantity   float64
	margin     float64
	stopLoss   float64
	takeProfit float64
	entryFee   float64
}

// Run simulates the strategy over the candle series. Candles must be
// in ascending time order; rows before the indicator warmup produce no
// signals. The context is checked between bars so long runs can be
// cancelled.
func (e *BacktestEngine) Run(ctx context.Context, candles []models.Candle) (*BacktestResult, error) {
	if e.initialCapital <= 0 {
		return nil, fmt.Errorf("initial capital must be positive, got %v", e.initialCapital)
	}
	minCandles := 2*e.strategy.ADXPeriod + 1
	if len(candles) < minCandles {
		return nil, fmt.Errorf("insufficient data: need at least %d candles, got %d", minCandles, len(candles))
	}

	rows, err := e.trend.Analyze(candles)
	if err != nil {
		return nil, fmt.Errorf("analyzing candles: %w", err)
	}

	e.pipeline.Reset()

	result := &BacktestResult{
		Symbol:         e.symbol,
		StartTime:      candles[0].Timestamp,
		EndTime:        candles[len(candles)-1].Timestamp,
		InitialCapital: e.initialCapital,
		ExitReasons:    make(map[models.ExitReason]int),
		EquityCurve:    make([]EquityPoint, 0, len(candles)),
	}

	state := &backtestState{
		balance:    e.initialCapital,
		peakEquity: e.initialCapital,
	}

	for i := range candles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		candle, row := candles[i], rows[i]

		if state.open != nil {
			e.checkOpenTrade(state, result, row, candle, i)
		}

		if state.open == nil {
			if sig := e.generator.Generate(row, candle.Close); sig != nil {
				result.SignalsGenerated++
				if e.pipeline.Apply(sig, candles[:i+1]) {
					e.enterTrade(state, sig, i, candle)
				} else {
					result.SignalsFiltered++
				}
			}
		}

		equity := state.balance
		if state.open != nil {
			equity += state.open.margin + e.unrealized(state.open, candle.Close)
		}
		if equity > state.peakEquity {
			state.peakEquity = equity
		}
		if state.peakEquity > 0 {
			dd := (state.peakEquity - equity) / state.peakEquity
			if dd > state.maxDrawdown {
				state.maxDrawdown = dd
			}
		}
		result.EquityCurve = append(result.EquityCurve, EquityPoint{
			Timestamp: candle.Timestamp,
			Equity:    equity,
		})
	}

	// Force-close whatever is still open when the data runs out so
	// metrics cover every entry.
	if state.open != nil {
		last := candles[len(candles)-1]
		e.closeTrade(state, result, last.Close, last.Timestamp, models.ExitBacktestEnd)
		result.EquityCurve[len(result.EquityCurve)-1].Equity = state.balance
	}

	e.computeMetrics(result, state)

	e.logger.Info().
		Int("trades", result.TotalTrades).
		Float64("total_return_pct", result.TotalReturn).
		Float64("max_drawdown_pct", result.MaxDrawdown).
		Float64("win_rate", result.WinRate).
		Msg("backtest complete")

	return result, nil
}

// checkOpenTrade applies the exit rules to the open trade. Stops and
// targets are checked against the intrabar range; when the holding
// window expires with no trigger the trade times out at the close.
func (e *BacktestEngine) checkOpenTrade(state *backtestState, result *BacktestResult, row models.IndicatorRow, candle models.Candle, i int) {
	tr := state.open

	reason, triggered := e.generator.CheckExit(tr.side, tr.stopLoss, tr.takeProfit, row, candle)

	var exitPrice float64
	switch {
	case triggered && reason == models.ExitStopLoss:
		exitPrice = tr.stopLoss
	case triggered && reason == models.ExitTakeProfit:
		exitPrice = tr.takeProfit
	case triggered:
		exitPrice = candle.Close
	case i-tr.entryIdx >= e.timeoutCandles():
		reason = models.ExitTimeout
		exitPrice = candle.Close
	default:
		return
	}

	e.closeTrade(state, result, exitPrice, candle.Timestamp, reason)
}

// enterTrade sizes and opens a position from a passed signal. Sizing
// rejections and insufficient balance skip the entry without failing
// the run.
func (e *BacktestEngine) enterTrade(state *backtestState, sig *models.Signal, i int, candle models.Candle) {
	proposal := e.sizer.Size(sig.EntryPrice, sig.StopLoss, state.balance)
	if !proposal.Valid {
		e.logger.Debug().
			Str("signal_id", sig.ID).
			Str("reason", proposal.Reason).
			Msg("backtest entry skipped: invalid size")
		return
	}

	fill := e.fillPrice(sig.Side, sig.EntryPrice, true)
	notional := proposal.Quantity * fill
	margin := notional / float64(proposal.Leverage)
	entryFee := notional * e.feePercent / 100

	if margin+entryFee > state.balance {
		e.logger.Debug().
			Str("signal_id", sig.ID).
			Float64("required", margin+entryFee).
			Float64("balance", state.balance).
			Msg("backtest entry skipped: insufficient balance")
		return
	}

	state.balance -= margin + entryFee
	state.open = &backtestTrade{
		signalID:   sig.ID,
		side:       sig.Side,
		entryIdx:   i,
		entryTime:  candle.Timestamp,
		entryPrice: fill,
		quantity:   proposal.Quantity,
		margin:     margin,
		stopLoss:   sig.StopLoss,
		takeProfit: sig.TakeProfit,
		entryFee:   entryFee,
	}
}

// closeTrade settles the open trade at price, records it and clears
// the position. P&L carries the leverage multiplier, matching how the
// position manager settles paper and live closes.
func (e *BacktestEngine) closeTrade(state *backtestState, result *BacktestResult, price float64, at time.Time, reason models.ExitReason) {
	tr := state.open
	fill := e.fillPrice(tr.side, price, false)

	gross := (fill - tr.entryPrice) * tr.quantity * float64(e.leverage)
	if tr.side == models.SideShort {
		gross = -gross
	}
	exitFee := tr.quantity * fill * e.feePercent / 100
	net := gross - tr.entryFee - exitFee

	state.balance += tr.margin + gross - exitFee
	state.open = nil

	pnlPct := (fill - tr.entryPrice) / tr.entryPrice * 100
	if tr.side == models.SideShort {
		pnlPct = -pnlPct
	}

	record := models.TradeRecord{
		ID:           tr.signalID,
		Timestamp:    tr.entryTime,
		Symbol:       e.symbol,
		Side:         tr.side,
		EntryPrice:   tr.entryPrice,
		ExitPrice:    fill,
		Quantity:     tr.quantity,
		Leverage:     e.leverage,
		PnL:          net,
		PnLPercent:   pnlPct * float64(e.leverage),
		Fees:         tr.entryFee + exitFee,
		ExitReason:   reason,
		HoldDuration: at.Sub(tr.entryTime),
		StopLoss:     tr.stopLoss,
		TakeProfit:   tr.takeProfit,
		Mode:         models.ModeBacktest,
		ClosedAt:     at,
	}

	result.Trades = append(result.Trades, record)
	result.ExitReasons[reason]++
	result.TotalFees += record.Fees
}

// unrealized marks the open trade to the given price, leverage
// included, so the equity curve moves the way the live account would.
func (e *BacktestEngine) unrealized(tr *backtestTrade, price float64) float64 {
	pnl := (price - tr.entryPrice) * tr.quantity * float64(e.leverage)
	if tr.side == models.SideShort {
		pnl = -pnl
	}
	return pnl
}

// fillPrice applies the full configured slippage to a fill. Always
// adverse: entries fill away from the trader, exits fill back toward
// the market.
func (e *BacktestEngine) fillPrice(side models.Side, price float64, entry bool) float64 {
	if e.slippagePercent <= 0 {
		return price
	}
	slip := e.slippagePercent / 100
	adverse := side == models.SideLong
	if !entry {
		adverse = !adverse
	}
	if adverse {
		return price * (1 + slip)
	}
	return price * (1 - slip)
}

func (e *BacktestEngine) timeoutCandles() int {
	if e.strategy.TimeoutCandles > 0 {
		return e.strategy.TimeoutCandles
	}
	return 12
}

// computeMetrics fills the aggregate fields of the result from its
// trades and equity curve.
func (e *BacktestEngine) computeMetrics(result *BacktestResult, state *backtestState) {
	result.FinalEquity = state.balance
	result.MaxDrawdown = state.maxDrawdown * 100
	result.TotalReturn = (result.FinalEquity - result.InitialCapital) / result.InitialCapital * 100
	result.SharpeRatio = e.sharpeRatio(result.EquityCurve)

	days := result.EndTime.Sub(result.StartTime).Hours() / 24
	if days > 0 && result.FinalEquity > 0 {
		years := days / 365
		result.AnnualizedReturn = (math.Pow(result.FinalEquity/result.InitialCapital, 1/years) - 1) * 100
	}

	result.TotalTrades = len(result.Trades)
	if result.TotalTrades == 0 {
		return
	}

	var totalPnL, grossWins, grossLosses float64
	for _, trade := range result.Trades {
		totalPnL += trade.PnL
		if trade.PnL > 0 {
			result.WinningTrades++
			grossWins += trade.PnL
		} else {
			result.LosingTrades++
			grossLosses += -trade.PnL
		}
	}

	result.WinRate = float64(result.WinningTrades) / float64(result.TotalTrades) * 100
	result.Expectancy = totalPnL / float64(result.TotalTrades)

	if result.WinningTrades > 0 {
		result.AvgWin = grossWins / float64(result.WinningTrades)
	}
	if result.LosingTrades > 0 {
		result.AvgLoss = grossLosses / float64(result.LosingTrades)
	}
	if grossLosses > 0 {
		result.ProfitFactor = grossWins / grossLosses
	}
}

// sharpeRatio computes the annualized Sharpe ratio from per-candle
// equity returns. The annualization factor is derived from the candle
// spacing; crypto trades around the clock so a year is 365 days.
func (e *BacktestEngine) sharpeRatio(curve []EquityPoint) float64 {
	if len(curve) < 3 {
		return 0
	}

	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		if curve[i-1].Equity <= 0 {
			return 0
		}
		returns = append(returns, (curve[i].Equity-curve[i-1].Equity)/curve[i-1].Equity)
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))
	stdDev := math.Sqrt(variance)
	if stdDev == 0 {
		return 0
	}

	spacing := curve[len(curve)-1].Timestamp.Sub(curve[0].Timestamp) / time.Duration(len(curve)-1)
	if spacing <= 0 {
		return 0
	}
	periodsPerYear := float64(365*24*time.Hour) / float64(spacing)

	riskFree := annualRiskFreeRate / periodsPerYear
	return (mean - riskFree) / stdDev * math.Sqrt(periodsPerYear)
}

// RenderEquityCurve draws the equity curve as an ASCII chart sized
// width x height. Non-positive dimensions fall back to 60x12.
func RenderEquityCurve(curve []EquityPoint, width, height int) string {
	if len(curve) == 0 {
		return "no equity data"
	}
	if width <= 0 {
		width = 60
	}
	if height <= 0 {
		height = 12
	}

	minEquity := curve[0].Equity
	maxEquity := curve[0].Equity
	for _, point := range curve {
		if point.Equity < minEquity {
			minEquity = point.Equity
		}
		if point.Equity > maxEquity {
			maxEquity = point.Equity
		}
	}

	equityRange := maxEquity - minEquity
	if equityRange == 0 {
		equityRange = 1
	}
	minEquity -= equityRange * 0.05
	maxEquity += equityRange * 0.05
	equityRange = maxEquity - minEquity

	grid := make([][]rune, height)
	for i := range grid {
		grid[i] = make([]rune, width)
		for j := range grid[i] {
			grid[i][j] = ' '
		}
	}

	step := len(curve) / width
	if step == 0 {
		step = 1
	}

	for x := 0; x < width && x*step < len(curve); x++ {
		point := curve[x*step]
		y := int((point.Equity - minEquity) / equityRange * float64(height-1))
		if y >= 0 && y < height {
			grid[height-1-y][x] = '█'
		}
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Equity %.2f - %.2f\n", minEquity, maxEquity))
	sb.WriteString(strings.Repeat("─", width+2) + "\n")
	for _, row := range grid {
		sb.WriteRune('│')
		sb.WriteString(string(row))
		sb.WriteRune('│')
		sb.WriteRune('\n')
	}
	sb.WriteString(strings.Repeat("─", width+2) + "\n")

	return sb.String()
}
