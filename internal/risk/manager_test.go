package risk

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"adx-trader/internal/models"
	"adx-trader/internal/notify"
)

func testManager(capital float64) *Manager {
	return NewManager(testRiskConfig(), capital, zerolog.Nop())
}

// recordingNotifier captures the risk alerts the manager pushes out.
type recordingNotifier struct {
	*notify.NoOpNotifier
	breakerReasons []string
	dailyWarnings  []float64
	streakWarnings []int
}

func (r *recordingNotifier) SendCircuitBreaker(ctx context.Context, reason string) error {
	r.breakerReasons = append(r.breakerReasons, reason)
	return nil
}

func (r *recordingNotifier) SendDailyLossWarning(ctx context.Context, dailyPnLPercent, limitPercent float64) error {
	r.dailyWarnings = append(r.dailyWarnings, dailyPnLPercent)
	return nil
}

func (r *recordingNotifier) SendConsecutiveLossWarning(ctx context.Context, losses, limit int) error {
	r.streakWarnings = append(r.streakWarnings, losses)
	return nil
}

func notifyingManager(capital float64) (*Manager, *recordingNotifier) {
	m := testManager(capital)
	rec := &recordingNotifier{NoOpNotifier: notify.NewNoOpNotifier()}
	m.SetNotifier(rec)
	return m, rec
}

func TestCanOpenPositionClean(t *testing.T) {
	m := testManager(100)

	ok, reason := m.CanOpenPosition()
	if !ok {
		t.Errorf("fresh manager rejected open: %s", reason)
	}
}

func TestConcurrentPositionCap(t *testing.T) {
	m := testManager(100)

	m.AddOpenPosition("pos-1")
	m.AddOpenPosition("pos-2")

	ok, reason := m.CanOpenPosition()
	if ok {
		t.Fatal("third concurrent position allowed with cap 2")
	}
	if !strings.Contains(reason, "concurrent") {
		t.Errorf("reason = %q, want concurrent position mention", reason)
	}

	// The cap is not a breaker: freeing a slot restores trading.
	m.RemoveOpenPosition("pos-1")
	if ok, reason := m.CanOpenPosition(); !ok {
		t.Errorf("open rejected after slot freed: %s", reason)
	}
}

// Three -2 USDT losses from 100 starting capital must leave the
// breaker active: the 6% daily loss breaches the 5% limit.
func TestThreeLossesTripBreaker(t *testing.T) {
	m := testManager(100)

	capital := 100.0
	for i := 0; i < 3; i++ {
		m.RecordTradeResult(-2.0)
		capital -= 2.0
		m.UpdateCapital(capital)
	}

	ok, _ := m.CanOpenPosition()
	if ok {
		t.Fatal("open allowed after three losses from 100 capital")
	}
	st := m.Status()
	if !st.CircuitBreakerActive {
		t.Error("circuit breaker not active")
	}
	if st.ConsecutiveLosses != 3 {
		t.Errorf("ConsecutiveLosses = %d, want 3", st.ConsecutiveLosses)
	}
}

// With a large account the per-trade losses stay under the daily and
// drawdown limits, isolating the consecutive-loss rule.
func TestConsecutiveLossBreakerReason(t *testing.T) {
	m := testManager(10000)

	for i := 0; i < 2; i++ {
		m.RecordTradeResult(-2.0)
	}
	if ok, reason := m.CanOpenPosition(); !ok {
		t.Fatalf("rejected at 2 of 3 losses: %s", reason)
	}

	m.RecordTradeResult(-2.0)
	ok, reason := m.CanOpenPosition()
	if ok {
		t.Fatal("open allowed at consecutive loss limit")
	}
	if !strings.Contains(reason, "consecutive loss") {
		t.Errorf("reason = %q, want consecutive loss mention", reason)
	}

	st := m.Status()
	if !st.CircuitBreakerActive {
		t.Error("breaker not active after limit hit")
	}
}

func TestWinResetsLossStreak(t *testing.T) {
	m := testManager(10000)

	m.RecordTradeResult(-2.0)
	m.RecordTradeResult(-2.0)
	m.RecordTradeResult(3.0)
	m.RecordTradeResult(-2.0)
	m.RecordTradeResult(-2.0)

	if ok, reason := m.CanOpenPosition(); !ok {
		t.Errorf("rejected with streak below limit: %s", reason)
	}
	if st := m.Status(); st.ConsecutiveLosses != 2 {
		t.Errorf("ConsecutiveLosses = %d, want 2", st.ConsecutiveLosses)
	}
}

func TestZeroPnLDoesNotExtendStreak(t *testing.T) {
	m := testManager(10000)

	m.RecordTradeResult(-2.0)
	m.RecordTradeResult(0)
	m.RecordTradeResult(-2.0)

	st := m.Status()
	if st.ConsecutiveLosses != 2 {
		t.Errorf("ConsecutiveLosses = %d, want 2 (flat close is neutral)", st.ConsecutiveLosses)
	}
	if st.TotalTrades != 3 {
		t.Errorf("TotalTrades = %d, want 3", st.TotalTrades)
	}
}

func TestDailyLossBreaker(t *testing.T) {
	m := testManager(100)

	m.RecordTradeResult(-5.0)
	m.UpdateCapital(95)

	ok, reason := m.CanOpenPosition()
	if ok {
		t.Fatal("open allowed at daily loss limit")
	}
	if !strings.Contains(reason, "daily loss") {
		t.Errorf("reason = %q, want daily loss mention", reason)
	}
}

func TestDrawdownBreaker(t *testing.T) {
	m := testManager(100)

	m.UpdateCapital(120)
	m.UpdateCapital(100)

	// Drawdown from the 120 peak is 16.7%, over the 15% limit.
	ok, reason := m.CanOpenPosition()
	if ok {
		t.Fatal("open allowed past max drawdown")
	}
	if !strings.Contains(reason, "drawdown") {
		t.Errorf("reason = %q, want drawdown mention", reason)
	}
}

func TestBreakerPersistsUntilReset(t *testing.T) {
	m := testManager(10000)

	for i := 0; i < 3; i++ {
		m.RecordTradeResult(-2.0)
	}
	if ok, _ := m.CanOpenPosition(); ok {
		t.Fatal("breaker did not trip")
	}

	// A winning result does not clear an active breaker.
	m.RecordTradeResult(50.0)
	ok, reason := m.CanOpenPosition()
	if ok {
		t.Fatal("breaker cleared by trade result")
	}
	if !strings.Contains(reason, "circuit breaker active") {
		t.Errorf("reason = %q, want circuit breaker mention", reason)
	}

	m.ResetCircuitBreaker()
	if ok, reason := m.CanOpenPosition(); !ok {
		t.Errorf("open rejected after manual reset: %s", reason)
	}
	if st := m.Status(); st.ConsecutiveLosses != 0 {
		t.Errorf("ConsecutiveLosses = %d, want 0 after reset", st.ConsecutiveLosses)
	}
}

func TestCanOpenPositionRepeatable(t *testing.T) {
	m := testManager(10000)

	for i := 0; i < 3; i++ {
		m.RecordTradeResult(-2.0)
	}

	first, _ := m.CanOpenPosition()
	second, _ := m.CanOpenPosition()
	third, _ := m.CanOpenPosition()

	if first || second || third {
		t.Errorf("rejections not stable: %v %v %v", first, second, third)
	}
}

func TestManualBreakerActivation(t *testing.T) {
	m := testManager(100)

	m.ActivateCircuitBreaker("emergency stop requested")

	ok, reason := m.CanOpenPosition()
	if ok {
		t.Fatal("open allowed with manually tripped breaker")
	}
	if !strings.Contains(reason, "emergency stop requested") {
		t.Errorf("reason = %q, want manual reason carried", reason)
	}
}

// The second loss warns about the building streak; the third trips
// the breaker and sends the critical alert, exactly once.
func TestLossStreakNotifications(t *testing.T) {
	m, rec := notifyingManager(10000)

	m.RecordTradeResult(-2.0)
	if len(rec.streakWarnings) != 0 {
		t.Fatalf("streak warning after one loss: %v", rec.streakWarnings)
	}

	m.RecordTradeResult(-2.0)
	if len(rec.streakWarnings) != 1 || rec.streakWarnings[0] != 2 {
		t.Fatalf("streakWarnings = %v, want [2] after second loss", rec.streakWarnings)
	}
	if len(rec.breakerReasons) != 0 {
		t.Fatalf("breaker alert before the limit: %v", rec.breakerReasons)
	}

	m.RecordTradeResult(-2.0)
	if len(rec.breakerReasons) != 1 {
		t.Fatalf("breakerReasons = %v, want one alert on the third loss", rec.breakerReasons)
	}
	if !strings.Contains(rec.breakerReasons[0], "consecutive loss") {
		t.Errorf("breaker reason = %q, want consecutive loss mention", rec.breakerReasons[0])
	}

	// Rejections against an already-active breaker stay silent.
	m.CanOpenPosition()
	m.RecordTradeResult(-2.0)
	if len(rec.breakerReasons) != 1 {
		t.Errorf("breaker alert repeated: %v", rec.breakerReasons)
	}
}

func TestDailyLossNotifications(t *testing.T) {
	m, rec := notifyingManager(100)

	// -4% is at 80% of the 5% limit: warning territory.
	m.RecordTradeResult(-4.0)
	if len(rec.dailyWarnings) != 1 || !almostEqual(rec.dailyWarnings[0], -4.0, 1e-9) {
		t.Fatalf("dailyWarnings = %v, want [-4]", rec.dailyWarnings)
	}
	if len(rec.breakerReasons) != 0 {
		t.Fatalf("breaker alert inside warning band: %v", rec.breakerReasons)
	}

	m.RecordTradeResult(-2.0)
	if len(rec.breakerReasons) != 1 {
		t.Fatalf("breakerReasons = %v, want one alert at the limit", rec.breakerReasons)
	}
	if !strings.Contains(rec.breakerReasons[0], "daily loss") {
		t.Errorf("breaker reason = %q, want daily loss mention", rec.breakerReasons[0])
	}
}

func TestManualBreakerNotifiesOnce(t *testing.T) {
	m, rec := notifyingManager(100)

	m.ActivateCircuitBreaker("emergency stop requested")
	m.ActivateCircuitBreaker("emergency stop requested")

	if len(rec.breakerReasons) != 1 {
		t.Fatalf("breakerReasons = %v, want a single alert", rec.breakerReasons)
	}
	if rec.breakerReasons[0] != "emergency stop requested" {
		t.Errorf("reason = %q, want the manual reason", rec.breakerReasons[0])
	}
}

func TestDrawdownTripNotifies(t *testing.T) {
	m, rec := notifyingManager(100)

	m.UpdateCapital(120)
	m.UpdateCapital(100)

	if ok, _ := m.CanOpenPosition(); ok {
		t.Fatal("open allowed past max drawdown")
	}
	if len(rec.breakerReasons) != 1 || !strings.Contains(rec.breakerReasons[0], "drawdown") {
		t.Errorf("breakerReasons = %v, want one drawdown alert", rec.breakerReasons)
	}

	// The repeat rejection reports the active breaker without re-alerting.
	m.CanOpenPosition()
	if len(rec.breakerReasons) != 1 {
		t.Errorf("breaker alert repeated: %v", rec.breakerReasons)
	}
}

func TestValidateTradeRisk(t *testing.T) {
	m := testManager(100)

	tests := []struct {
		name     string
		proposal models.SizeProposal
		want     bool
	}{
		{
			name: "within limits",
			proposal: models.SizeProposal{
				Valid: true, ActualRiskPercent: 2.0, Margin: 20.0,
			},
			want: true,
		},
		{
			name: "risk above hard cap",
			proposal: models.SizeProposal{
				Valid: true, ActualRiskPercent: 3.5, Margin: 20.0,
			},
			want: false,
		},
		{
			name: "risk at hard cap",
			proposal: models.SizeProposal{
				Valid: true, ActualRiskPercent: 3.0, Margin: 20.0,
			},
			want: true,
		},
		{
			name: "margin above 80 percent of capital",
			proposal: models.SizeProposal{
				Valid: true, ActualRiskPercent: 2.0, Margin: 85.0,
			},
			want: false,
		},
		{
			name: "invalid sizing rejected",
			proposal: models.SizeProposal{
				Valid: false, Reason: "position below minimum size",
				ActualRiskPercent: 2.0, Margin: 20.0,
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, warnings := m.ValidateTradeRisk(tt.proposal)
			if ok != tt.want {
				t.Errorf("ok = %v, want %v (warnings: %v)", ok, tt.want, warnings)
			}
			if !ok && len(warnings) == 0 {
				t.Error("rejection carries no warnings")
			}
		})
	}
}

func TestValidateTradeRiskCollectsAllWarnings(t *testing.T) {
	m := testManager(100)

	p := models.SizeProposal{
		Valid:             false,
		Reason:            "position below minimum size",
		ActualRiskPercent: 4.0,
		Margin:            90.0,
	}

	ok, warnings := m.ValidateTradeRisk(p)
	if ok {
		t.Fatal("proposal with three violations accepted")
	}
	if len(warnings) != 3 {
		t.Errorf("warnings = %d, want 3: %v", len(warnings), warnings)
	}
}

func TestDailyRollover(t *testing.T) {
	m := testManager(100)

	m.RecordTradeResult(-4.0)
	m.UpdateCapital(96)

	if st := m.Status(); st.DailyPnL != -4.0 {
		t.Fatalf("DailyPnL = %.2f, want -4.0", st.DailyPnL)
	}

	// Age the last reset so the next check sees a new local date.
	m.mu.Lock()
	m.lastResetDate = m.lastResetDate.AddDate(0, 0, -1)
	m.mu.Unlock()

	st := m.Status()
	if st.DailyPnL != 0 {
		t.Errorf("DailyPnL = %.2f, want 0 after rollover", st.DailyPnL)
	}
	if st.TotalTrades != 1 {
		t.Errorf("TotalTrades = %d, want lifetime totals preserved", st.TotalTrades)
	}
}

func TestDailyRolloverDoesNotClearBreaker(t *testing.T) {
	m := testManager(100)

	m.RecordTradeResult(-6.0)
	m.UpdateCapital(94)
	if ok, _ := m.CanOpenPosition(); ok {
		t.Fatal("daily loss breach did not reject")
	}

	m.mu.Lock()
	m.lastResetDate = m.lastResetDate.AddDate(0, 0, -1)
	m.mu.Unlock()

	ok, reason := m.CanOpenPosition()
	if ok {
		t.Error("breaker survived rollover check failed: open allowed")
	}
	if !strings.Contains(reason, "circuit breaker active") {
		t.Errorf("reason = %q, want active breaker", reason)
	}
}

func TestStatusSnapshot(t *testing.T) {
	m := testManager(100)

	m.UpdateCapital(110)
	m.UpdateCapital(105)
	m.RecordTradeResult(10.0)
	m.RecordTradeResult(-5.0)
	m.AddOpenPosition("pos-1")

	st := m.Status()
	if st.CurrentCapital != 105 {
		t.Errorf("CurrentCapital = %.2f, want 105", st.CurrentCapital)
	}
	if st.PeakCapital != 110 {
		t.Errorf("PeakCapital = %.2f, want 110", st.PeakCapital)
	}
	if st.DailyPnL != 5.0 {
		t.Errorf("DailyPnL = %.2f, want 5.0", st.DailyPnL)
	}
	if st.OpenPositions != 1 {
		t.Errorf("OpenPositions = %d, want 1", st.OpenPositions)
	}
	if st.TotalTrades != 2 || st.WinningTrades != 1 {
		t.Errorf("trades = %d/%d, want 2 total 1 winning", st.TotalTrades, st.WinningTrades)
	}
	if !st.CanTrade {
		t.Error("CanTrade = false with one open slot left")
	}
	if !almostEqual(st.DrawdownPercent, 4.5454, 0.001) {
		t.Errorf("DrawdownPercent = %.4f, want ~4.55", st.DrawdownPercent)
	}
}
