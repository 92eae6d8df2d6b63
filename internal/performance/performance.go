// Package performance aggregates closed trades into session statistics
// and renders them as a text report.
package performance

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"adx-trader/internal/models"
)

// Tracker accumulates closed trades and derives summary statistics
// over them. It can be fed incrementally during a session or loaded
// from stored history. Safe for concurrent use.
type Tracker struct {
	mu             sync.Mutex
	initialCapital float64
	trades         []models.TradeRecord
}

// NewTracker returns a tracker whose equity walk starts at
// initialCapital.
func NewTracker(initialCapital float64) *Tracker {
	return &Tracker{initialCapital: initialCapital}
}

// Record appends one closed trade.
func (t *Tracker) Record(trade models.TradeRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.trades = append(t.trades, trade)
}

// Load replaces the tracked history. Trades are ordered by close time
// so streaks and the equity walk follow the actual sequence.
func (t *Tracker) Load(trades []models.TradeRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.trades = make([]models.TradeRecord, len(trades))
	copy(t.trades, trades)
	sort.SliceStable(t.trades, func(i, j int) bool {
		return t.trades[i].ClosedAt.Before(t.trades[j].ClosedAt)
	})
}

// TradeCount reports how many trades the tracker holds.
func (t *Tracker) TradeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.trades)
}

// Report holds the derived statistics for a trade sequence. Wins are
// trades with positive net PnL, losses negative; flat trades count
// toward the total only.
type Report struct {
	TotalTrades int
	Wins        int
	Losses      int
	WinRate     float64

	TotalPnL   float64
	TotalFees  float64
	Expectancy float64

	ProfitFactor float64
	AvgWin       float64
	AvgLoss      float64
	BestTrade    float64
	WorstTrade   float64

	MaxWinStreak  int
	MaxLossStreak int
	// CurrentStreak is positive for consecutive wins at the tail,
	// negative for consecutive losses.
	CurrentStreak int

	AvgHoldTime time.Duration
	MaxDrawdown float64
	SharpeRatio float64

	StartEquity float64
	PeakEquity  float64
	EndEquity   float64

	ExitReasons map[models.ExitReason]int
}

// Report computes statistics over the recorded trades.
func (t *Tracker) Report() Report {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := Report{
		StartEquity: t.initialCapital,
		PeakEquity:  t.initialCapital,
		EndEquity:   t.initialCapital,
		ExitReasons: make(map[models.ExitReason]int, 4),
		TotalTrades: len(t.trades),
	}
	if len(t.trades) == 0 {
		return r
	}

	var (
		grossWins, grossLosses float64
		best, worst            = math.Inf(-1), math.Inf(1)
		winStreak, lossStreak  int
		totalHold              time.Duration
		equity                 = t.initialCapital
		peak                   = t.initialCapital
		returns                = make([]float64, 0, len(t.trades))
	)

	for _, trade := range t.trades {
		r.TotalPnL += trade.PnL
		r.TotalFees += trade.Fees
		totalHold += trade.HoldDuration
		r.ExitReasons[trade.ExitReason]++
		best = math.Max(best, trade.PnL)
		worst = math.Min(worst, trade.PnL)

		switch {
		case trade.PnL > 0:
			r.Wins++
			grossWins += trade.PnL
			winStreak++
			lossStreak = 0
		case trade.PnL < 0:
			r.Losses++
			grossLosses += -trade.PnL
			lossStreak++
			winStreak = 0
		default:
			// Flat trades break both streaks.
			winStreak, lossStreak = 0, 0
		}
		if winStreak > r.MaxWinStreak {
			r.MaxWinStreak = winStreak
		}
		if lossStreak > r.MaxLossStreak {
			r.MaxLossStreak = lossStreak
		}

		if equity > 0 {
			returns = append(returns, trade.PnL/equity)
		}
		equity += trade.PnL
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			if dd := (peak - equity) / peak; dd > r.MaxDrawdown {
				r.MaxDrawdown = dd
			}
		}
	}

	r.EndEquity = equity
	r.PeakEquity = peak
	r.MaxDrawdown *= 100
	r.BestTrade = best
	r.WorstTrade = worst
	r.WinRate = float64(r.Wins) / float64(r.TotalTrades) * 100
	r.Expectancy = r.TotalPnL / float64(r.TotalTrades)
	r.AvgHoldTime = totalHold / time.Duration(r.TotalTrades)
	if r.Wins > 0 {
		r.AvgWin = grossWins / float64(r.Wins)
	}
	if r.Losses > 0 {
		r.AvgLoss = grossLosses / float64(r.Losses)
	}
	if grossLosses > 0 {
		r.ProfitFactor = grossWins / grossLosses
	}
	r.SharpeRatio = tradeSharpe(returns)

	switch {
	case winStreak > 0:
		r.CurrentStreak = winStreak
	case lossStreak > 0:
		r.CurrentStreak = -lossStreak
	}

	return r
}

// Snapshot captures the current account state together with the
// tracked aggregates, in the shape the store persists.
func (t *Tracker) Snapshot(balance, equity float64) models.PerformanceSnapshot {
	r := t.Report()
	var ret float64
	if r.StartEquity > 0 {
		ret = (equity - r.StartEquity) / r.StartEquity * 100
	}
	return models.PerformanceSnapshot{
		Timestamp:          time.Now(),
		Balance:            balance,
		Equity:             equity,
		TotalPnL:           r.TotalPnL,
		TotalReturnPercent: ret,
		PeakBalance:        r.PeakEquity,
		MaxDrawdown:        r.MaxDrawdown,
		TotalTrades:        r.TotalTrades,
		WinRate:            r.WinRate,
	}
}

// tradeSharpe is the mean of per-trade returns over their standard
// deviation. It is not annualized: trades have no fixed time base.
func tradeSharpe(returns []float64) float64 {
	if len(returns) < 3 {
		return 0
	}
	var sum float64
	for _, ret := range returns {
		sum += ret
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, ret := range returns {
		variance += (ret - mean) * (ret - mean)
	}
	variance /= float64(len(returns))
	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return mean / std
}

// String renders the report as an aligned text block.
func (r Report) String() string {
	var b strings.Builder
	sep := strings.Repeat("─", 46)

	b.WriteString(sep + "\n")
	b.WriteString(" PERFORMANCE REPORT\n")
	b.WriteString(sep + "\n")
	fmt.Fprintf(&b, " %-22s %d (%dW / %dL)\n", "Trades", r.TotalTrades, r.Wins, r.Losses)
	fmt.Fprintf(&b, " %-22s %.1f%%\n", "Win rate", r.WinRate)
	fmt.Fprintf(&b, " %-22s %+.2f USDT\n", "Net PnL", r.TotalPnL)
	fmt.Fprintf(&b, " %-22s %.2f USDT\n", "Fees paid", r.TotalFees)
	fmt.Fprintf(&b, " %-22s %+.2f USDT\n", "Expectancy", r.Expectancy)
	fmt.Fprintf(&b, " %-22s %.2f\n", "Profit factor", r.ProfitFactor)
	fmt.Fprintf(&b, " %-22s +%.2f / -%.2f USDT\n", "Avg win / loss", r.AvgWin, r.AvgLoss)
	fmt.Fprintf(&b, " %-22s %+.2f / %+.2f USDT\n", "Best / worst", r.BestTrade, r.WorstTrade)
	fmt.Fprintf(&b, " %-22s %dW / %dL\n", "Longest streaks", r.MaxWinStreak, r.MaxLossStreak)
	fmt.Fprintf(&b, " %-22s %s\n", "Avg hold time", r.AvgHoldTime.Round(time.Second))
	fmt.Fprintf(&b, " %-22s %.2f%%\n", "Max drawdown", r.MaxDrawdown)
	fmt.Fprintf(&b, " %-22s %.2f\n", "Sharpe (per trade)", r.SharpeRatio)
	fmt.Fprintf(&b, " %-22s %.2f USDT (from %.2f)\n", "Equity", r.EndEquity, r.StartEquity)

	if len(r.ExitReasons) > 0 {
		b.WriteString(sep + "\n")
		b.WriteString(" Exits\n")
		for _, reason := range sortedReasons(r.ExitReasons) {
			fmt.Fprintf(&b, "   %-20s %d\n", reason, r.ExitReasons[reason])
		}
	}
	b.WriteString(sep + "\n")
	return b.String()
}

// sortedReasons orders exit reasons by count, descending, with name as
// the tiebreak so reports are deterministic.
func sortedReasons(counts map[models.ExitReason]int) []models.ExitReason {
	reasons := make([]models.ExitReason, 0, len(counts))
	for reason := range counts {
		reasons = append(reasons, reason)
	}
	sort.Slice(reasons, func(i, j int) bool {
		if counts[reasons[i]] != counts[reasons[j]] {
			return counts[reasons[i]] > counts[reasons[j]]
		}
		return reasons[i] < reasons[j]
	})
	return reasons
}
