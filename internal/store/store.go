// Package store provides trade persistence backed by SQLite.
package store

import (
	"context"
	"time"

	"adx-trader/internal/models"
)

// TradeStore persists closed trades and periodic performance
// snapshots. Implementations must be safe for concurrent use.
type TradeStore interface {
	// SaveTrade persists a closed trade.
	SaveTrade(ctx context.Context, trade *models.TradeRecord) error

	// Trades returns closed trades matching the filter, newest first.
	Trades(ctx context.Context, filter TradeFilter) ([]models.TradeRecord, error)

	// SaveSnapshot persists a periodic performance snapshot.
	SaveSnapshot(ctx context.Context, snap *models.PerformanceSnapshot) error

	// Snapshots returns the most recent performance snapshots,
	// newest first.
	Snapshots(ctx context.Context, limit int) ([]models.PerformanceSnapshot, error)

	// PerformanceStats aggregates closed trades into summary figures.
	// A symbol narrows the aggregation; empty means all symbols.
	// Returns zeroed stats, not an error, when no history exists.
	PerformanceStats(ctx context.Context, symbol string) (*models.PerformanceStats, error)

	// Reset deletes all persisted trades and snapshots.
	Reset(ctx context.Context) error

	// Lifecycle
	Close() error
}

// TradeFilter represents filters for querying trades. Zero-valued
// fields are ignored.
type TradeFilter struct {
	Symbol     string
	Side       models.Side
	ExitReason models.ExitReason
	Mode       models.TradingMode
	StartDate  time.Time
	EndDate    time.Time
	Limit      int
}
