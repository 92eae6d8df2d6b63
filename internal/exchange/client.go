// Package exchange provides market data and order access to Binance
// USDT-M perpetual futures behind a normalized client interface.
package exchange

import (
	"context"

	"adx-trader/internal/models"
)

// Client is the exchange surface the trading engine depends on. The
// live executor and control loop talk to this interface; tests
// substitute in-memory fakes.
type Client interface {
	// Candles returns up to limit closed klines for the symbol, oldest
	// first. The still-forming kline is never included.
	Candles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error)

	// CurrentPrice returns the latest traded price for the symbol.
	CurrentPrice(ctx context.Context, symbol string) (float64, error)

	// PlaceMarketOrder submits a market order sized in base units and
	// returns the exchange order ID.
	PlaceMarketOrder(ctx context.Context, symbol string, side models.OrderSide, quantity float64) (string, error)

	// ClosePosition submits a reduce-only market order that flattens
	// quantity of the given position side.
	ClosePosition(ctx context.Context, symbol string, side models.Side, quantity float64) (string, error)

	// PlaceStopOrder places a reduce-only stop-market order protecting
	// the given position side.
	PlaceStopOrder(ctx context.Context, symbol string, side models.Side, quantity, stopPrice float64) (string, error)

	// PlaceTakeProfitOrder places a reduce-only take-profit-market
	// order for the given position side.
	PlaceTakeProfitOrder(ctx context.Context, symbol string, side models.Side, quantity, targetPrice float64) (string, error)

	// CancelOpenOrders cancels all open orders on the symbol.
	CancelOpenOrders(ctx context.Context, symbol string) error

	// OpenPositions returns the non-flat positions held for the symbol.
	OpenPositions(ctx context.Context, symbol string) ([]PositionInfo, error)

	// Balance returns the available USDT margin balance.
	Balance(ctx context.Context) (float64, error)

	// SetLeverage sets the leverage applied to new positions on the
	// symbol.
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}

// PositionInfo is a normalized exchange-reported position. Quantity is
// always positive; direction lives in Side.
type PositionInfo struct {
	Symbol        string
	Side          models.Side
	Quantity      float64
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnL float64
	Leverage      int
}
