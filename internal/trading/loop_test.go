package trading

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"adx-trader/internal/config"
	"adx-trader/internal/models"
	"adx-trader/internal/store"
)

func loopConfig() *config.Config {
	cfg := backtestConfig()
	cfg.Loop = config.LoopConfig{
		TickIntervalSeconds:     1,
		SignalCheckSeconds:      1,
		StatusIntervalSeconds:   60,
		SnapshotIntervalSeconds: 60,
		CandleLimit:             200,
		ScanLookback:            10,
	}
	return cfg
}

// scanCandles ends mid-uptrend so the last rows of the window carry
// long entry signals.
func scanCandles() []models.Candle {
	return backtestSeries(100, append(chopSteps(40), repeatSteps(2, 15)...))
}

func lastClose(candles []models.Candle) float64 {
	return candles[len(candles)-1].Close
}

func newTestLoop(cfg *config.Config, fake *fakeExchange, st store.TradeStore) (*Loop, *SimulatedExecutor, *Manager) {
	exec, positions, _ := newPaperExecutor(cfg.Trading.InitialCapital, cfg.Execution, st)
	loop := NewLoop(cfg, fake, exec, positions, st, zerolog.Nop())
	return loop, exec, positions
}

func TestLoopScanExecutesSignal(t *testing.T) {
	candles := scanCandles()
	fake := &fakeExchange{candles: candles, price: lastClose(candles)}
	loop, _, positions := newTestLoop(loopConfig(), fake, nil)

	loop.scanForSignals(context.Background())

	if got := positions.OpenCount(); got != 1 {
		t.Fatalf("open positions after scan = %d, want 1", got)
	}
	pos := positions.OpenPositions()[0]
	if pos.Side != models.SideLong {
		t.Errorf("position side = %s, want %s", pos.Side, models.SideLong)
	}
	if pos.StopLoss >= pos.EntryPrice {
		t.Errorf("long stop %.2f not below entry %.2f", pos.StopLoss, pos.EntryPrice)
	}
	if pos.TakeProfit <= pos.EntryPrice {
		t.Errorf("long target %.2f not above entry %.2f", pos.TakeProfit, pos.EntryPrice)
	}
}

func TestLoopScanCooldownBlocksRescan(t *testing.T) {
	cfg := loopConfig()
	cfg.Filters.CooldownMinutes = 240

	candles := scanCandles()
	fake := &fakeExchange{candles: candles, price: lastClose(candles)}
	loop, _, positions := newTestLoop(cfg, fake, nil)
	ctx := context.Background()

	loop.scanForSignals(ctx)
	if got := positions.OpenCount(); got != 1 {
		t.Fatalf("open positions after first scan = %d, want 1", got)
	}

	// The same window regenerates the same signals; the cooldown gate
	// must reject every one of them on the rescan.
	loop.scanForSignals(ctx)
	if got := positions.OpenCount(); got != 1 {
		t.Errorf("open positions after rescan = %d, want 1", got)
	}
}

func TestLoopScanSurvivesCandleError(t *testing.T) {
	fake := &fakeExchange{candlesErr: errors.New("exchange down")}
	loop, _, positions := newTestLoop(loopConfig(), fake, nil)

	loop.scanForSignals(context.Background())

	if got := positions.OpenCount(); got != 0 {
		t.Errorf("open positions = %d, want 0", got)
	}
}

func TestLoopScanSurvivesShortHistory(t *testing.T) {
	// Too few candles for the indicator warmup.
	fake := &fakeExchange{candles: backtestSeries(100, repeatSteps(1, 5)), price: 105}
	loop, _, positions := newTestLoop(loopConfig(), fake, nil)

	loop.scanForSignals(context.Background())

	if got := positions.OpenCount(); got != 0 {
		t.Errorf("open positions = %d, want 0", got)
	}
}

func TestLoopScanDropsSignalOnPriceError(t *testing.T) {
	fake := &fakeExchange{candles: scanCandles(), priceErr: errors.New("ticker stale")}
	loop, _, positions := newTestLoop(loopConfig(), fake, nil)

	loop.scanForSignals(context.Background())

	if got := positions.OpenCount(); got != 0 {
		t.Errorf("open positions = %d, want 0", got)
	}
}

func TestLoopMonitorTickClosesOnTarget(t *testing.T) {
	fake := &fakeExchange{price: 100}
	loop, exec, positions := newTestLoop(loopConfig(), fake, nil)
	ctx := context.Background()

	sig := testSignal(models.SideLong, 100, 95, 110)
	if _, err := exec.ExecuteSignal(ctx, sig, 100, testProposal(1, 2, 100)); err != nil {
		t.Fatalf("ExecuteSignal error: %v", err)
	}

	fake.mu.Lock()
	fake.price = 111
	fake.mu.Unlock()

	loop.monitorTick(ctx)

	if got := positions.OpenCount(); got != 0 {
		t.Fatalf("open positions after tick = %d, want 0", got)
	}
	closed := positions.ClosedPositions(1)
	if len(closed) != 1 {
		t.Fatalf("closed positions = %d, want 1", len(closed))
	}
	if closed[0].ExitReason != models.ExitTakeProfit {
		t.Errorf("exit reason = %s, want %s", closed[0].ExitReason, models.ExitTakeProfit)
	}
}

func TestLoopMonitorTickSurvivesPriceError(t *testing.T) {
	fake := &fakeExchange{price: 100}
	loop, exec, positions := newTestLoop(loopConfig(), fake, nil)
	ctx := context.Background()

	sig := testSignal(models.SideLong, 100, 95, 110)
	if _, err := exec.ExecuteSignal(ctx, sig, 100, testProposal(1, 2, 100)); err != nil {
		t.Fatalf("ExecuteSignal error: %v", err)
	}

	fake.mu.Lock()
	fake.priceErr = errors.New("feed down")
	fake.mu.Unlock()

	loop.monitorTick(ctx)

	if got := positions.OpenCount(); got != 1 {
		t.Errorf("open positions after failed tick = %d, want 1", got)
	}
}

func TestLoopShutdownClosesPositions(t *testing.T) {
	fake := &fakeExchange{price: 100}
	loop, exec, positions := newTestLoop(loopConfig(), fake, nil)
	ctx := context.Background()

	sig := testSignal(models.SideLong, 100, 95, 110)
	if _, err := exec.ExecuteSignal(ctx, sig, 100, testProposal(1, 2, 100)); err != nil {
		t.Fatalf("ExecuteSignal error: %v", err)
	}

	fake.mu.Lock()
	fake.price = 102
	fake.mu.Unlock()

	if err := loop.shutdown(); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}

	if got := positions.OpenCount(); got != 0 {
		t.Fatalf("open positions after shutdown = %d, want 0", got)
	}
	closed := positions.ClosedPositions(1)
	if len(closed) != 1 {
		t.Fatalf("closed positions = %d, want 1", len(closed))
	}
	if closed[0].ExitReason != models.ExitShutdown {
		t.Errorf("exit reason = %s, want %s", closed[0].ExitReason, models.ExitShutdown)
	}
}

func TestLoopShutdownNoPositions(t *testing.T) {
	fake := &fakeExchange{priceErr: errors.New("unreachable")}
	loop, _, _ := newTestLoop(loopConfig(), fake, nil)

	// Nothing open, so the price fetch must not even be attempted.
	if err := loop.shutdown(); err != nil {
		t.Errorf("shutdown error: %v", err)
	}
}

func TestLoopShutdownPriceErrorPropagates(t *testing.T) {
	fake := &fakeExchange{price: 100}
	loop, exec, positions := newTestLoop(loopConfig(), fake, nil)
	ctx := context.Background()

	sig := testSignal(models.SideLong, 100, 95, 110)
	if _, err := exec.ExecuteSignal(ctx, sig, 100, testProposal(1, 2, 100)); err != nil {
		t.Fatalf("ExecuteSignal error: %v", err)
	}

	fake.mu.Lock()
	fake.priceErr = errors.New("ticker offline")
	fake.mu.Unlock()

	if err := loop.shutdown(); err == nil {
		t.Error("expected error when shutdown cannot price the close")
	}
	if got := positions.OpenCount(); got != 1 {
		t.Errorf("open positions = %d, want 1", got)
	}
}

func TestLoopRunStopsOnCancel(t *testing.T) {
	candles := scanCandles()
	fake := &fakeExchange{candles: candles, price: lastClose(candles)}
	loop, _, positions := newTestLoop(loopConfig(), fake, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	time.Sleep(150 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}

	// The initial scan opened a position; shutdown must have closed it.
	if got := positions.OpenCount(); got != 0 {
		t.Fatalf("open positions after Run = %d, want 0", got)
	}
	closed := positions.ClosedPositions(5)
	if len(closed) == 0 {
		t.Fatal("no closed positions after Run")
	}
	if closed[0].ExitReason != models.ExitShutdown {
		t.Errorf("exit reason = %s, want %s", closed[0].ExitReason, models.ExitShutdown)
	}
}

func TestLoopSizeSignalKelly(t *testing.T) {
	cfg := loopConfig()
	cfg.Risk.UseKellySizing = true

	st := &memStore{stats: models.PerformanceStats{
		TotalTrades: 30,
		WinRate:     60,
		AvgWin:      100,
		AvgLoss:     50,
	}}
	fake := &fakeExchange{price: 100}
	loop, exec, _ := newTestLoop(cfg, fake, st)

	sig := testSignal(models.SideLong, 100, 95, 110)
	got := loop.sizeSignal(context.Background(), sig)
	want := loop.sizer.SizeWithKelly(100, 95, exec.AccountStatus().Balance, 0.6, 100, 50)

	if !got.Valid {
		t.Fatal("kelly proposal invalid")
	}
	if !almostEqual(got.Quantity, want.Quantity, 1e-9) {
		t.Errorf("kelly quantity = %v, want %v", got.Quantity, want.Quantity)
	}
}

func TestLoopSizeSignalKellyNeedsHistory(t *testing.T) {
	cfg := loopConfig()
	cfg.Risk.UseKellySizing = true

	// Below the trade-count floor the loop must fall back to fixed
	// fractional sizing.
	st := &memStore{stats: models.PerformanceStats{
		TotalTrades: kellyMinTrades - 1,
		WinRate:     60,
		AvgWin:      100,
		AvgLoss:     50,
	}}
	fake := &fakeExchange{price: 100}
	loop, exec, _ := newTestLoop(cfg, fake, st)

	sig := testSignal(models.SideLong, 100, 95, 110)
	got := loop.sizeSignal(context.Background(), sig)
	want := loop.sizer.Size(100, 95, exec.AccountStatus().Balance)

	if !almostEqual(got.Quantity, want.Quantity, 1e-9) {
		t.Errorf("quantity = %v, want fixed-fraction %v", got.Quantity, want.Quantity)
	}
}

func TestLoopSaveSnapshot(t *testing.T) {
	st := &memStore{}
	fake := &fakeExchange{price: 100}
	loop, _, _ := newTestLoop(loopConfig(), fake, st)

	loop.saveSnapshot(context.Background())

	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.snapshots) != 1 {
		t.Fatalf("snapshots = %d, want 1", len(st.snapshots))
	}
	if st.snapshots[0].Balance != 10000 {
		t.Errorf("snapshot balance = %v, want 10000", st.snapshots[0].Balance)
	}
}
