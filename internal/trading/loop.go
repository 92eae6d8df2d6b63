package trading

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"adx-trader/internal/config"
	"adx-trader/internal/exchange"
	"adx-trader/internal/indicators"
	"adx-trader/internal/models"
	"adx-trader/internal/risk"
	"adx-trader/internal/signal"
	"adx-trader/internal/store"
)

// kellyMinTrades is the trade history required before Kelly sizing is
// trusted over the fixed-fraction sizer.
const kellyMinTrades = 20

// shutdownTimeout bounds the cleanup work once the run context is
// cancelled.
const shutdownTimeout = 30 * time.Second

// Loop drives a trading session: a fast tick marks open positions to
// the latest price, a slower scan regenerates signals from a fresh
// candle window, and periodic timers log status and persist
// performance snapshots. Individual iteration failures are logged and
// absorbed; only context cancellation stops the loop.
//
// Re-running the scan over an overlapping window regenerates signals
// from candles already seen. The deduplicator collapses copies within
// a batch and the cooldown gate rejects repeats across batches, so a
// signal executes at most once.
type Loop struct {
	cfg      config.LoopConfig
	symbol   string
	interval string
	useKelly bool

	client    exchange.Client
	trend     *indicators.TrendEngine
	generator *signal.Generator
	pipeline  *signal.Pipeline
	dedup     *signal.Deduplicator
	sizer     *risk.Sizer
	executor  Executor
	positions *Manager
	st        store.TradeStore // nil disables snapshots and Kelly sizing
	logger    zerolog.Logger
}

// NewLoop assembles the control loop from the application config. The
// executor and position manager are shared with the caller so the CLI
// can inspect session state.
func NewLoop(cfg *config.Config, client exchange.Client, executor Executor, positions *Manager, st store.TradeStore, logger zerolog.Logger) *Loop {
	log := logger.With().Str("component", "loop").Logger()
	return &Loop{
		cfg:       cfg.Loop,
		symbol:    cfg.Trading.Symbol,
		interval:  cfg.Trading.Interval,
		useKelly:  cfg.Risk.UseKellySizing,
		client:    client,
		trend:     indicators.NewTrendEngine(cfg.Strategy.ADXPeriod),
		generator: signal.NewGenerator(cfg.Trading.Symbol, cfg.Strategy, log),
		pipeline:  signal.NewPipeline(cfg.Filters, cfg.Strategy, log),
		dedup:     signal.NewDeduplicator(cfg.Filters.DedupWindowMinutes, cfg.Filters.DedupPriceTolerance),
		sizer:     risk.NewSizer(cfg.Risk, cfg.Trading.Leverage, log),
		executor:  executor,
		positions: positions,
		st:        st,
		logger:    log,
	}
}

// Run blocks until ctx is cancelled, then closes any open positions
// and returns. Errors inside an iteration never end the run.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info().
		Str("symbol", l.symbol).
		Str("interval", l.interval).
		Dur("tick", l.tickInterval()).
		Dur("signal_scan", l.scanInterval()).
		Msg("control loop started")

	tick := time.NewTicker(l.tickInterval())
	defer tick.Stop()
	scan := time.NewTicker(l.scanInterval())
	defer scan.Stop()
	status := time.NewTicker(l.statusInterval())
	defer status.Stop()
	snapshot := time.NewTicker(l.snapshotInterval())
	defer snapshot.Stop()

	// Scan immediately so a restart does not sit idle for a full
	// interval.
	l.scanForSignals(ctx)

	for {
		select {
		case <-ctx.Done():
			return l.shutdown()
		case <-tick.C:
			l.monitorTick(ctx)
		case <-scan.C:
			l.scanForSignals(ctx)
		case <-status.C:
			l.logStatus()
		case <-snapshot.C:
			l.saveSnapshot(ctx)
		}
	}
}

// monitorTick fetches the latest price and runs the exit checks on
// open positions.
func (l *Loop) monitorTick(ctx context.Context) {
	tctx, cancel := context.WithTimeout(ctx, l.tickInterval())
	defer cancel()

	price, err := l.client.CurrentPrice(tctx, l.symbol)
	if err != nil {
		l.logger.Warn().Err(err).Msg("price fetch failed")
		return
	}
	if err := l.executor.MonitorPositions(tctx, price); err != nil {
		l.logger.Error().Err(err).Msg("position monitoring failed")
	}
}

// scanForSignals pulls a fresh candle window, regenerates signals over
// the most recent rows and executes the newest one that passes the
// filters.
func (l *Loop) scanForSignals(ctx context.Context) {
	sctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	candles, err := l.client.Candles(sctx, l.symbol, l.interval, l.candleLimit())
	if err != nil {
		l.logger.Warn().Err(err).Msg("candle fetch failed")
		return
	}

	rows, err := l.trend.Analyze(candles)
	if err != nil {
		l.logger.Warn().Err(err).Int("candles", len(candles)).Msg("indicator analysis failed")
		return
	}

	start := len(rows) - l.scanLookback()
	if start < 0 {
		start = 0
	}

	var signals []*models.Signal
	for i := start; i < len(rows); i++ {
		if sig := l.generator.Generate(rows[i], candles[i].Close); sig != nil {
			signals = append(signals, sig)
		}
	}
	if len(signals) == 0 {
		l.logger.Debug().Msg("scan produced no signals")
		return
	}

	var passed []*models.Signal
	for _, sig := range l.dedup.Deduplicate(signals) {
		if l.pipeline.Apply(sig, candles) {
			passed = append(passed, sig)
		}
	}
	if len(passed) == 0 {
		return
	}

	// Deduplicate keeps timestamp order; execute the most recent.
	sig := passed[len(passed)-1]

	price, err := l.client.CurrentPrice(sctx, l.symbol)
	if err != nil {
		l.logger.Warn().Err(err).Str("signal_id", sig.ID).Msg("price fetch failed, signal dropped")
		return
	}

	proposal := l.sizeSignal(sctx, sig)
	pos, err := l.executor.ExecuteSignal(sctx, sig, price, proposal)
	if err != nil {
		l.logger.Error().Err(err).Str("signal_id", sig.ID).Msg("signal execution failed")
		return
	}
	if pos == nil {
		return
	}

	l.logger.Info().
		Str("position_id", pos.ID).
		Str("side", string(pos.Side)).
		Float64("entry", pos.EntryPrice).
		Float64("quantity", pos.Quantity).
		Msg("signal executed")
}

// sizeSignal produces the size proposal for a signal. When Kelly
// sizing is enabled and enough history exists, the fixed fraction is
// scaled by the historical edge.
func (l *Loop) sizeSignal(ctx context.Context, sig *models.Signal) models.SizeProposal {
	balance := l.executor.AccountStatus().Balance

	if l.useKelly && l.st != nil {
		stats, err := l.st.PerformanceStats(ctx, l.symbol)
		if err != nil {
			l.logger.Warn().Err(err).Msg("kelly stats unavailable, using fixed sizing")
		} else if stats.TotalTrades >= kellyMinTrades && stats.AvgLoss > 0 {
			return l.sizer.SizeWithKelly(sig.EntryPrice, sig.StopLoss, balance,
				stats.WinRate/100, stats.AvgWin, stats.AvgLoss)
		}
	}

	return l.sizer.Size(sig.EntryPrice, sig.StopLoss, balance)
}

func (l *Loop) logStatus() {
	status := l.executor.AccountStatus()
	l.logger.Info().
		Float64("balance", status.Balance).
		Float64("equity", status.Equity).
		Float64("margin_used", status.MarginUsed).
		Float64("unrealized_pnl", status.UnrealizedPnL).
		Int("open_positions", status.OpenPositions).
		Msg("session status")
}

func (l *Loop) saveSnapshot(ctx context.Context) {
	if l.st == nil {
		return
	}
	snap := l.executor.Snapshot()

	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := l.st.SaveSnapshot(sctx, &snap); err != nil {
		l.logger.Error().Err(err).Msg("snapshot persistence failed")
	}
}

// shutdown closes every open position at the latest price. Runs on a
// fresh context because the loop context is already cancelled.
func (l *Loop) shutdown() error {
	open := l.positions.OpenPositions()
	l.logger.Info().Int("open_positions", len(open)).Msg("control loop stopping")
	if len(open) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	price, err := l.client.CurrentPrice(ctx, l.symbol)
	if err != nil {
		return fmt.Errorf("shutdown price fetch: %w", err)
	}

	var firstErr error
	closed := 0
	for _, pos := range open {
		if _, err := l.executor.ClosePosition(ctx, pos.ID, price, models.ExitShutdown); err != nil {
			l.logger.Error().Err(err).Str("position_id", pos.ID).Msg("shutdown close failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		closed++
	}

	l.logger.Info().Int("closed", closed).Msg("shutdown complete")
	return firstErr
}

func (l *Loop) tickInterval() time.Duration {
	return secondsOr(l.cfg.TickIntervalSeconds, 5)
}

func (l *Loop) scanInterval() time.Duration {
	return secondsOr(l.cfg.SignalCheckSeconds, 300)
}

func (l *Loop) statusInterval() time.Duration {
	return secondsOr(l.cfg.StatusIntervalSeconds, 60)
}

func (l *Loop) snapshotInterval() time.Duration {
	return secondsOr(l.cfg.SnapshotIntervalSeconds, 300)
}

func (l *Loop) candleLimit() int {
	if l.cfg.CandleLimit > 0 {
		return l.cfg.CandleLimit
	}
	return 200
}

func (l *Loop) scanLookback() int {
	if l.cfg.ScanLookback > 0 {
		return l.cfg.ScanLookback
	}
	return 10
}

func secondsOr(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Second
}
