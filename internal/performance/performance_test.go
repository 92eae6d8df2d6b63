package performance

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"adx-trader/internal/models"
)

var tradeSeq int

func closedTrade(pnl float64, hold time.Duration, reason models.ExitReason) models.TradeRecord {
	tradeSeq++
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	closed := base.Add(time.Duration(tradeSeq) * time.Hour)
	return models.TradeRecord{
		ID:           "trade-" + string(rune('a'+tradeSeq%26)),
		Timestamp:    closed.Add(-hold),
		Symbol:       "BTCUSDT",
		Side:         models.SideLong,
		PnL:          pnl,
		Fees:         1.5,
		ExitReason:   reason,
		HoldDuration: hold,
		Mode:         models.ModePaper,
		ClosedAt:     closed,
	}
}

func trackerWith(initial float64, pnls ...float64) *Tracker {
	t := NewTracker(initial)
	for _, pnl := range pnls {
		t.Record(closedTrade(pnl, 30*time.Minute, models.ExitTakeProfit))
	}
	return t
}

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestReportBasicStats(t *testing.T) {
	tr := trackerWith(10000, 100, -50, 200, -50, 25)
	r := tr.Report()

	if r.TotalTrades != 5 {
		t.Fatalf("TotalTrades = %d, want 5", r.TotalTrades)
	}
	if r.Wins != 3 || r.Losses != 2 {
		t.Errorf("wins/losses = %d/%d, want 3/2", r.Wins, r.Losses)
	}
	if !almostEqual(r.WinRate, 60, 1e-9) {
		t.Errorf("WinRate = %v, want 60", r.WinRate)
	}
	if !almostEqual(r.TotalPnL, 225, 1e-9) {
		t.Errorf("TotalPnL = %v, want 225", r.TotalPnL)
	}
	if !almostEqual(r.Expectancy, 45, 1e-9) {
		t.Errorf("Expectancy = %v, want 45", r.Expectancy)
	}
	if !almostEqual(r.ProfitFactor, 3.25, 1e-9) {
		t.Errorf("ProfitFactor = %v, want 3.25", r.ProfitFactor)
	}
	if !almostEqual(r.AvgWin, 325.0/3, 1e-9) {
		t.Errorf("AvgWin = %v, want %v", r.AvgWin, 325.0/3)
	}
	if !almostEqual(r.AvgLoss, 50, 1e-9) {
		t.Errorf("AvgLoss = %v, want 50", r.AvgLoss)
	}
	if r.BestTrade != 200 || r.WorstTrade != -50 {
		t.Errorf("best/worst = %v/%v, want 200/-50", r.BestTrade, r.WorstTrade)
	}
	if !almostEqual(r.TotalFees, 7.5, 1e-9) {
		t.Errorf("TotalFees = %v, want 7.5", r.TotalFees)
	}
	if !almostEqual(r.EndEquity, 10225, 1e-9) {
		t.Errorf("EndEquity = %v, want 10225", r.EndEquity)
	}
}

func TestReportStreaks(t *testing.T) {
	tr := trackerWith(10000, 10, 10, -5, 10, 10, 10, -5, -5)
	r := tr.Report()

	if r.MaxWinStreak != 3 {
		t.Errorf("MaxWinStreak = %d, want 3", r.MaxWinStreak)
	}
	if r.MaxLossStreak != 2 {
		t.Errorf("MaxLossStreak = %d, want 2", r.MaxLossStreak)
	}
	if r.CurrentStreak != -2 {
		t.Errorf("CurrentStreak = %d, want -2", r.CurrentStreak)
	}
}

func TestReportFlatTradeBreaksStreaks(t *testing.T) {
	tr := trackerWith(10000, 10, 10, 0, 10)
	r := tr.Report()

	if r.MaxWinStreak != 2 {
		t.Errorf("MaxWinStreak = %d, want 2", r.MaxWinStreak)
	}
	if r.Wins != 3 || r.Losses != 0 {
		t.Errorf("wins/losses = %d/%d, want 3/0", r.Wins, r.Losses)
	}
	if r.CurrentStreak != 1 {
		t.Errorf("CurrentStreak = %d, want 1", r.CurrentStreak)
	}
}

func TestReportDrawdown(t *testing.T) {
	// Peak 1100 after the first win, trough 900: 200/1100.
	tr := trackerWith(1000, 100, -200, 50)
	r := tr.Report()

	want := 200.0 / 1100 * 100
	if !almostEqual(r.MaxDrawdown, want, 1e-9) {
		t.Errorf("MaxDrawdown = %v, want %v", r.MaxDrawdown, want)
	}
}

func TestReportHoldTime(t *testing.T) {
	tr := NewTracker(1000)
	tr.Record(closedTrade(10, 10*time.Minute, models.ExitTakeProfit))
	tr.Record(closedTrade(-5, 20*time.Minute, models.ExitStopLoss))
	r := tr.Report()

	if r.AvgHoldTime != 15*time.Minute {
		t.Errorf("AvgHoldTime = %s, want 15m", r.AvgHoldTime)
	}
	if r.ExitReasons[models.ExitTakeProfit] != 1 || r.ExitReasons[models.ExitStopLoss] != 1 {
		t.Errorf("ExitReasons = %v", r.ExitReasons)
	}
}

func TestReportEmpty(t *testing.T) {
	r := NewTracker(5000).Report()

	if r.TotalTrades != 0 || r.WinRate != 0 || r.ProfitFactor != 0 {
		t.Errorf("empty report not zeroed: %+v", r)
	}
	if r.StartEquity != 5000 || r.EndEquity != 5000 {
		t.Errorf("equity = %v/%v, want 5000/5000", r.StartEquity, r.EndEquity)
	}
	if math.IsNaN(r.Expectancy) || math.IsNaN(r.SharpeRatio) || math.IsNaN(r.MaxDrawdown) {
		t.Error("empty report produced NaN")
	}
	if s := r.String(); !strings.Contains(s, "PERFORMANCE REPORT") {
		t.Errorf("report header missing:\n%s", s)
	}
}

func TestReportSharpeSign(t *testing.T) {
	winning := trackerWith(10000, 50, 60, 40, 55, 45).Report()
	if winning.SharpeRatio <= 0 {
		t.Errorf("winning Sharpe = %v, want > 0", winning.SharpeRatio)
	}

	losing := trackerWith(10000, -50, -60, -40, -55, -45).Report()
	if losing.SharpeRatio >= 0 {
		t.Errorf("losing Sharpe = %v, want < 0", losing.SharpeRatio)
	}

	// Identical returns have zero deviation.
	if flat := trackerWith(10000, 0, 0, 0).Report(); flat.SharpeRatio != 0 {
		t.Errorf("flat Sharpe = %v, want 0", flat.SharpeRatio)
	}
}

func TestLoadOrdersByCloseTime(t *testing.T) {
	early := closedTrade(-10, time.Minute, models.ExitStopLoss)
	late := closedTrade(20, time.Minute, models.ExitTakeProfit)

	tr := NewTracker(1000)
	tr.Load([]models.TradeRecord{late, early})
	r := tr.Report()

	// Loss first, then win: the tail streak is a single win.
	if r.CurrentStreak != 1 {
		t.Errorf("CurrentStreak = %d, want 1", r.CurrentStreak)
	}
	if r.TotalTrades != 2 {
		t.Errorf("TotalTrades = %d, want 2", r.TotalTrades)
	}
}

func TestTrackerSnapshot(t *testing.T) {
	tr := trackerWith(1000, 100, -50)
	snap := tr.Snapshot(1050, 1070)

	if snap.Balance != 1050 || snap.Equity != 1070 {
		t.Errorf("balance/equity = %v/%v", snap.Balance, snap.Equity)
	}
	if snap.TotalTrades != 2 {
		t.Errorf("TotalTrades = %d, want 2", snap.TotalTrades)
	}
	if !almostEqual(snap.TotalPnL, 50, 1e-9) {
		t.Errorf("TotalPnL = %v, want 50", snap.TotalPnL)
	}
	if !almostEqual(snap.TotalReturnPercent, 7, 1e-9) {
		t.Errorf("TotalReturnPercent = %v, want 7", snap.TotalReturnPercent)
	}
	if snap.PeakBalance != 1100 {
		t.Errorf("PeakBalance = %v, want 1100", snap.PeakBalance)
	}
}

func TestReportString(t *testing.T) {
	tr := trackerWith(10000, 100, -50, 75)
	s := tr.Report().String()

	for _, want := range []string{"Trades", "Win rate", "Max drawdown", "TAKE_PROFIT", "3 (2W / 1L)"} {
		if !strings.Contains(s, want) {
			t.Errorf("report missing %q:\n%s", want, s)
		}
	}
}

// Properties:
// - Equity conservation: EndEquity = StartEquity + sum of PnL.
// - Counts partition: Wins + Losses <= TotalTrades, WinRate in [0,100].
// - Drawdown is a percentage of peak, never negative, never above 100
//   while equity stays positive.
// - Streaks never exceed their outcome counts.

func TestProperty_ReportInvariants(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("aggregates stay consistent", prop.ForAll(
		func(pnls []float64) bool {
			tr := trackerWith(10000, pnls...)
			r := tr.Report()

			var sum float64
			for _, pnl := range pnls {
				sum += pnl
			}
			if !almostEqual(r.EndEquity, 10000+sum, 1e-6) {
				return false
			}
			if r.Wins+r.Losses > r.TotalTrades {
				return false
			}
			if r.WinRate < 0 || r.WinRate > 100 {
				return false
			}
			if r.MaxDrawdown < 0 || r.MaxDrawdown > 100 {
				return false
			}
			if r.MaxWinStreak > r.Wins || r.MaxLossStreak > r.Losses {
				return false
			}
			if r.AvgWin < 0 || r.AvgLoss < 0 {
				return false
			}
			return true
		},
		gen.SliceOf(gen.Float64Range(-100, 100)),
	))

	properties.TestingRun(t)
}
