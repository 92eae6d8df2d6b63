package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"adx-trader/internal/config"
	"adx-trader/internal/models"
	"adx-trader/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		Trading: config.TradingConfig{
			Mode:           "paper",
			Symbol:         "BTCUSDT",
			Interval:       "5m",
			Leverage:       5,
			InitialCapital: 10000,
		},
		Strategy: config.StrategyConfig{
			ADXPeriod:        14,
			ADXThreshold:     25,
			ADXWeakThreshold: 20,
			SlopeMin:         0.5,
			DISpreadMin:      5,
			MinConfidence:    0.6,
			SLATRMultiplier:  2,
			TPATRMultiplier:  4,
			TimeoutCandles:   12,
		},
		Filters: config.FilterConfig{
			ShortBiasMultiplier: 1.5,
		},
		Risk: config.RiskConfig{
			RiskPerTradePercent:    2,
			MaxRiskPerTradePercent: 3,
			MaxPositionPercent:     20,
			MinPositionUSD:         10,
			MaxMarginUsage:         0.8,
			DailyLossLimitPercent:  5,
			MaxDrawdownPercent:     15,
			MaxConcurrentPositions: 2,
			ConsecutiveLossLimit:   3,
		},
		Execution: config.ExecutionConfig{
			TakerFeePercent: 0.05,
			SlippagePercent: 0.02,
		},
	}
}

func execCommand(t *testing.T, cfg *config.Config, input string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd(cfg, zerolog.Nop())
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	if input != "" {
		root.SetIn(strings.NewReader(input))
	}
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func cliTrade(id string, pnl float64) models.TradeRecord {
	closed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return models.TradeRecord{
		ID:           id,
		Timestamp:    closed.Add(-30 * time.Minute),
		Symbol:       "BTCUSDT",
		Side:         models.SideLong,
		EntryPrice:   100,
		ExitPrice:    100 + pnl,
		Quantity:     1,
		Leverage:     5,
		PnL:          pnl,
		PnLPercent:   pnl,
		Fees:         0.1,
		ExitReason:   models.ExitTakeProfit,
		HoldDuration: 30 * time.Minute,
		StopLoss:     95,
		TakeProfit:   110,
		Mode:         models.ModePaper,
		ClosedAt:     closed,
	}
}

// seedStore creates a temp SQLite store, saves the given trades and
// points cfg at it.
func seedStore(t *testing.T, cfg *config.Config, trades ...models.TradeRecord) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trades.db")
	st, err := store.NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	for i := range trades {
		if err := st.SaveTrade(ctx, &trades[i]); err != nil {
			t.Fatalf("SaveTrade: %v", err)
		}
	}

	cfg.Store.Enabled = true
	cfg.Store.Path = path
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := execCommand(t, testConfig(), "", "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "ADX Trader v"+Version) {
		t.Errorf("version output missing banner:\n%s", out)
	}
}

func TestVersionCommandJSON(t *testing.T) {
	out, err := execCommand(t, testConfig(), "", "version", "--json")
	if err != nil {
		t.Fatalf("version --json: %v", err)
	}
	var payload map[string]string
	if jerr := json.Unmarshal([]byte(out), &payload); jerr != nil {
		t.Fatalf("invalid JSON output: %v\n%s", jerr, out)
	}
	if payload["version"] != Version {
		t.Errorf("version = %q, want %q", payload["version"], Version)
	}
}

func TestConfigValidateCommand(t *testing.T) {
	out, err := execCommand(t, testConfig(), "", "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	if !strings.Contains(out, "Configuration is valid") {
		t.Errorf("unexpected output:\n%s", out)
	}

	bad := testConfig()
	bad.Trading.Mode = "yolo"
	if _, err := execCommand(t, bad, "", "config", "validate"); err == nil {
		t.Error("expected validation error for bad mode")
	}
}

func TestConfigShowCommand(t *testing.T) {
	out, err := execCommand(t, testConfig(), "", "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	for _, want := range []string{"BTCUSDT", "paper", "Risk Per Trade"} {
		if !strings.Contains(out, want) {
			t.Errorf("config show missing %q:\n%s", want, out)
		}
	}
}

func TestResetRequiresConfirmation(t *testing.T) {
	cfg := testConfig()
	path := seedStore(t, cfg, cliTrade("t1", 50))

	out, err := execCommand(t, cfg, "", "reset")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !strings.Contains(out, "--yes") {
		t.Errorf("expected confirmation hint:\n%s", out)
	}

	// The store must be untouched.
	st, err := store.NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopening store: %v", err)
	}
	defer st.Close()
	trades, err := st.Trades(context.Background(), store.TradeFilter{})
	if err != nil {
		t.Fatalf("Trades: %v", err)
	}
	if len(trades) != 1 {
		t.Errorf("trades after declined reset = %d, want 1", len(trades))
	}
}

func TestResetClearsStore(t *testing.T) {
	cfg := testConfig()
	path := seedStore(t, cfg, cliTrade("t1", 50), cliTrade("t2", -25))

	out, err := execCommand(t, cfg, "", "reset", "--yes")
	if err != nil {
		t.Fatalf("reset --yes: %v", err)
	}
	if !strings.Contains(out, "Trade store cleared") {
		t.Errorf("unexpected output:\n%s", out)
	}

	st, err := store.NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopening store: %v", err)
	}
	defer st.Close()
	trades, err := st.Trades(context.Background(), store.TradeFilter{})
	if err != nil {
		t.Fatalf("Trades: %v", err)
	}
	if len(trades) != 0 {
		t.Errorf("trades after reset = %d, want 0", len(trades))
	}
}

func TestStatusWithoutStore(t *testing.T) {
	out, err := execCommand(t, testConfig(), "", "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "Trade store is disabled") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestStatusReportsStoredTrades(t *testing.T) {
	cfg := testConfig()
	seedStore(t, cfg, cliTrade("t1", 100), cliTrade("t2", -40))

	out, err := execCommand(t, cfg, "", "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"PERFORMANCE REPORT", "2 (1W / 1L)", "Win rate"} {
		if !strings.Contains(out, want) {
			t.Errorf("status missing %q:\n%s", want, out)
		}
	}
}

func TestStatusEmptyStore(t *testing.T) {
	cfg := testConfig()
	seedStore(t, cfg)

	out, err := execCommand(t, cfg, "", "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "No closed trades") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestHistoryTable(t *testing.T) {
	cfg := testConfig()
	seedStore(t, cfg, cliTrade("t1", 50), cliTrade("t2", -20))

	out, err := execCommand(t, cfg, "", "history")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	for _, want := range []string{"CLOSED", "REASON", "TAKE_PROFIT", "LONG", "2 trade(s)"} {
		if !strings.Contains(out, want) {
			t.Errorf("history missing %q:\n%s", want, out)
		}
	}
}

func TestHistorySideFilter(t *testing.T) {
	cfg := testConfig()
	short := cliTrade("t2", -20)
	short.Side = models.SideShort
	seedStore(t, cfg, cliTrade("t1", 50), short)

	out, err := execCommand(t, cfg, "", "history", "--side", "short")
	if err != nil {
		t.Fatalf("history --side short: %v", err)
	}
	if !strings.Contains(out, "1 trade(s)") {
		t.Errorf("expected a single short trade:\n%s", out)
	}
}

func TestHistoryNoMatches(t *testing.T) {
	cfg := testConfig()
	seedStore(t, cfg)

	out, err := execCommand(t, cfg, "", "history")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "No trades match") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestEmergencyStopNeedsCredentials(t *testing.T) {
	if _, err := execCommand(t, testConfig(), "", "emergency-stop"); err == nil {
		t.Error("expected credentials error")
	}
}

func TestEmergencyStopAbortsWithoutPhrase(t *testing.T) {
	cfg := testConfig()
	cfg.Credentials.Binance.APIKey = "key"
	cfg.Credentials.Binance.APISecret = "secret"

	out, err := execCommand(t, cfg, "nope\n", "emergency-stop")
	if err != nil {
		t.Fatalf("emergency-stop: %v", err)
	}
	if !strings.Contains(out, "Aborted") {
		t.Errorf("expected abort message:\n%s", out)
	}
}
