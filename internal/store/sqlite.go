package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"adx-trader/internal/models"
)

// SQLiteStore implements TradeStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based trade store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Trades table for closed positions
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		timestamp DATETIME NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		quantity REAL NOT NULL,
		leverage INTEGER NOT NULL,
		pnl REAL NOT NULL,
		pnl_percent REAL NOT NULL,
		fees REAL NOT NULL,
		exit_reason TEXT NOT NULL,
		hold_duration INTEGER NOT NULL,
		stop_loss REAL,
		take_profit REAL,
		mode TEXT NOT NULL,
		closed_at DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Periodic account state captures
	CREATE TABLE IF NOT EXISTS performance_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		balance REAL NOT NULL,
		equity REAL NOT NULL,
		total_pnl REAL NOT NULL,
		total_return_percent REAL NOT NULL,
		peak_balance REAL NOT NULL,
		max_drawdown REAL NOT NULL,
		total_trades INTEGER NOT NULL,
		win_rate REAL NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Create indexes for performance
	CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
	CREATE INDEX IF NOT EXISTS idx_trades_timestamp ON trades(timestamp);
	CREATE INDEX IF NOT EXISTS idx_trades_exit_reason ON trades(exit_reason);
	CREATE INDEX IF NOT EXISTS idx_snapshots_timestamp ON performance_snapshots(timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Reset deletes all persisted trades and snapshots.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM trades"); err != nil {
		return fmt.Errorf("failed to reset trades: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM performance_snapshots"); err != nil {
		return fmt.Errorf("failed to reset snapshots: %w", err)
	}
	return nil
}

// SaveTrade persists a closed trade.
func (s *SQLiteStore) SaveTrade(ctx context.Context, trade *models.TradeRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (id, timestamp, symbol, side, entry_price, exit_price, quantity, leverage, pnl, pnl_percent, fees, exit_reason, hold_duration, stop_loss, take_profit, mode, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, trade.ID, trade.Timestamp, trade.Symbol, string(trade.Side), trade.EntryPrice, trade.ExitPrice,
		trade.Quantity, trade.Leverage, trade.PnL, trade.PnLPercent, trade.Fees, string(trade.ExitReason),
		trade.HoldDuration.Nanoseconds(), trade.StopLoss, trade.TakeProfit, string(trade.Mode), trade.ClosedAt)
	if err != nil {
		return fmt.Errorf("failed to save trade: %w", err)
	}
	return nil
}

// Trades retrieves trades matching the filter, newest first.
func (s *SQLiteStore) Trades(ctx context.Context, filter TradeFilter) ([]models.TradeRecord, error) {
	query := "SELECT id, timestamp, symbol, side, entry_price, exit_price, quantity, leverage, pnl, pnl_percent, fees, exit_reason, hold_duration, stop_loss, take_profit, mode, closed_at FROM trades WHERE 1=1"
	args := []interface{}{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.Side != "" {
		query += " AND side = ?"
		args = append(args, string(filter.Side))
	}
	if filter.ExitReason != "" {
		query += " AND exit_reason = ?"
		args = append(args, string(filter.ExitReason))
	}
	if filter.Mode != "" {
		query += " AND mode = ?"
		args = append(args, string(filter.Mode))
	}
	if !filter.StartDate.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.StartDate)
	}
	if !filter.EndDate.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filter.EndDate)
	}

	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []models.TradeRecord
	for rows.Next() {
		var t models.TradeRecord
		var side, exitReason, mode string
		var holdDurationNs int64

		if err := rows.Scan(&t.ID, &t.Timestamp, &t.Symbol, &side, &t.EntryPrice, &t.ExitPrice,
			&t.Quantity, &t.Leverage, &t.PnL, &t.PnLPercent, &t.Fees, &exitReason,
			&holdDurationNs, &t.StopLoss, &t.TakeProfit, &mode, &t.ClosedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}

		t.Side = models.Side(side)
		t.ExitReason = models.ExitReason(exitReason)
		t.Mode = models.TradingMode(mode)
		t.HoldDuration = time.Duration(holdDurationNs)
		trades = append(trades, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}

	return trades, nil
}

// SaveSnapshot persists a performance snapshot.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *models.PerformanceSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO performance_snapshots (timestamp, balance, equity, total_pnl, total_return_percent, peak_balance, max_drawdown, total_trades, win_rate)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, snap.Timestamp, snap.Balance, snap.Equity, snap.TotalPnL, snap.TotalReturnPercent,
		snap.PeakBalance, snap.MaxDrawdown, snap.TotalTrades, snap.WinRate)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Snapshots retrieves the most recent performance snapshots, newest first.
func (s *SQLiteStore) Snapshots(ctx context.Context, limit int) ([]models.PerformanceSnapshot, error) {
	query := `
		SELECT timestamp, balance, equity, total_pnl, total_return_percent, peak_balance, max_drawdown, total_trades, win_rate
		FROM performance_snapshots
		ORDER BY timestamp DESC
	`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []models.PerformanceSnapshot
	for rows.Next() {
		var sn models.PerformanceSnapshot
		if err := rows.Scan(&sn.Timestamp, &sn.Balance, &sn.Equity, &sn.TotalPnL, &sn.TotalReturnPercent,
			&sn.PeakBalance, &sn.MaxDrawdown, &sn.TotalTrades, &sn.WinRate); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snaps = append(snaps, sn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}

	return snaps, nil
}

// PerformanceStats aggregates closed trades into summary figures.
// ProfitFactor is the ratio of average win to average loss, matching
// the live position statistics.
func (s *SQLiteStore) PerformanceStats(ctx context.Context, symbol string) (*models.PerformanceStats, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN pnl > 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN pnl < 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(pnl), 0),
			COALESCE(AVG(pnl), 0),
			COALESCE(AVG(CASE WHEN pnl > 0 THEN pnl END), 0),
			COALESCE(AVG(CASE WHEN pnl < 0 THEN -pnl END), 0),
			COALESCE(MAX(pnl), 0),
			COALESCE(MIN(pnl), 0)
		FROM trades
	`
	args := []interface{}{}
	if symbol != "" {
		query += " WHERE symbol = ?"
		args = append(args, symbol)
	}

	stats := &models.PerformanceStats{}
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.TotalTrades, &stats.Wins, &stats.Losses, &stats.TotalPnL,
		&stats.AvgPnL, &stats.AvgWin, &stats.AvgLoss, &stats.BestTrade, &stats.WorstTrade)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate stats: %w", err)
	}

	if stats.TotalTrades > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.TotalTrades) * 100
	}
	if stats.AvgLoss > 0 {
		stats.ProfitFactor = stats.AvgWin / stats.AvgLoss
	}

	return stats, nil
}

var _ TradeStore = (*SQLiteStore)(nil)
