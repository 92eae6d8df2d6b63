package exchange

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"adx-trader/internal/config"
	"adx-trader/internal/errors"
	"adx-trader/internal/logging"
	"adx-trader/internal/models"
)

// Binance futures REST limits are weight-based; a shared bucket sized
// well under the strictest tier keeps the client clear of bans.
const (
	requestsPerSecond = 8
	requestBurst      = 16
	maxKlineLimit     = 1500
	quoteAsset        = "USDT"
)

// defaultStepSize and defaultTickSize cover symbols whose exchange
// info carries no LOT_SIZE or PRICE_FILTER.
var (
	defaultStepSize = decimal.New(1, -3)
	defaultTickSize = decimal.New(1, -2)
)

// Binance implements Client against USDT-M perpetual futures.
type Binance struct {
	client  *futures.Client
	limiter *RateLimiter
	logger  zerolog.Logger

	mu    sync.Mutex
	steps map[string]decimal.Decimal
	ticks map[string]decimal.Decimal
}

// NewBinance creates a futures client from API credentials. Testnet
// credentials route to the Binance futures testnet; go-binance keys
// the base URL off the package-level flag, which must be set before
// the client is constructed.
func NewBinance(creds config.BinanceCredentials, logger zerolog.Logger) *Binance {
	futures.UseTestnet = creds.Testnet
	client := futures.NewClient(creds.APIKey, creds.APISecret)

	return &Binance{
		client:  client,
		limiter: NewRateLimiter(requestsPerSecond, requestBurst),
		logger:  logger.With().Str("component", "exchange").Logger(),
		steps:   make(map[string]decimal.Decimal),
		ticks:   make(map[string]decimal.Decimal),
	}
}

// Candles fetches up to limit klines, oldest first. Binance returns
// the still-forming kline as the last entry; it is dropped so
// indicators only ever see final values.
func (b *Binance) Candles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	if limit <= 0 || limit > maxKlineLimit {
		limit = maxKlineLimit
	}

	// Request one extra so dropping the forming kline still yields limit.
	reqLimit := limit + 1
	if reqLimit > maxKlineLimit {
		reqLimit = maxKlineLimit
	}

	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	klines, err := b.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(reqLimit).
		Do(ctx)
	logging.LogAPICall(b.logger, "GET", "/fapi/v1/klines", time.Since(start), err)
	if err != nil {
		return nil, wrapErr("klines", err)
	}

	candles, err := convertKlines(klines, time.Now())
	if err != nil {
		return nil, wrapErr("klines", err)
	}
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

// CurrentPrice returns the latest traded price for the symbol.
func (b *Binance) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	start := time.Now()
	prices, err := b.client.NewListPricesService().Symbol(symbol).Do(ctx)
	logging.LogAPICall(b.logger, "GET", "/fapi/v1/ticker/price", time.Since(start), err)
	if err != nil {
		return 0, wrapErr("ticker_price", err)
	}
	if len(prices) == 0 {
		return 0, errors.NewExchangeError("ticker_price", "", "no price returned for "+symbol, errors.ErrDataNotFound)
	}

	return parseFloat("price", prices[0].Price)
}

// PlaceMarketOrder submits a market order with the quantity floored to
// the symbol's lot step. Returns the exchange order ID.
func (b *Binance) PlaceMarketOrder(ctx context.Context, symbol string, side models.OrderSide, quantity float64) (string, error) {
	step, _, err := b.symbolFilters(ctx, symbol)
	if err != nil {
		return "", err
	}
	qty := roundToStep(quantity, step)
	if !qty.IsPositive() {
		return "", errors.NewExchangeError("create_order", "",
			fmt.Sprintf("quantity %.8f rounds to zero at step %s", quantity, step), errors.ErrOrderRejected)
	}

	if err := b.limiter.Wait(ctx); err != nil {
		return "", err
	}

	start := time.Now()
	resp, err := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(orderSide(side)).
		Type(futures.OrderTypeMarket).
		Quantity(qty.String()).
		Do(ctx)
	logging.LogAPICall(b.logger, "POST", "/fapi/v1/order", time.Since(start), err)
	if err != nil {
		return "", wrapErr("create_order", err)
	}

	b.logger.Info().
		Str("symbol", symbol).
		Str("side", string(side)).
		Str("quantity", qty.String()).
		Int64("order_id", resp.OrderID).
		Msg("Market order placed")

	return strconv.FormatInt(resp.OrderID, 10), nil
}

// ClosePosition flattens quantity of the given position side with a
// reduce-only market order, so a stale quantity can never flip the
// position the other way.
func (b *Binance) ClosePosition(ctx context.Context, symbol string, side models.Side, quantity float64) (string, error) {
	step, _, err := b.symbolFilters(ctx, symbol)
	if err != nil {
		return "", err
	}
	qty := roundToStep(quantity, step)
	if !qty.IsPositive() {
		return "", errors.NewExchangeError("close_position", "",
			fmt.Sprintf("quantity %.8f rounds to zero at step %s", quantity, step), errors.ErrOrderRejected)
	}

	if err := b.limiter.Wait(ctx); err != nil {
		return "", err
	}

	closeSide := models.OrderSideFor(side.Opposite())

	start := time.Now()
	resp, err := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(orderSide(closeSide)).
		Type(futures.OrderTypeMarket).
		Quantity(qty.String()).
		ReduceOnly(true).
		Do(ctx)
	logging.LogAPICall(b.logger, "POST", "/fapi/v1/order", time.Since(start), err)
	if err != nil {
		return "", wrapErr("close_position", err)
	}

	b.logger.Info().
		Str("symbol", symbol).
		Str("position_side", string(side)).
		Str("quantity", qty.String()).
		Int64("order_id", resp.OrderID).
		Msg("Position close order placed")

	return strconv.FormatInt(resp.OrderID, 10), nil
}

// OpenPositions returns the non-flat positions held for the symbol.
func (b *Binance) OpenPositions(ctx context.Context, symbol string) ([]PositionInfo, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	risks, err := b.client.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	logging.LogAPICall(b.logger, "GET", "/fapi/v2/positionRisk", time.Since(start), err)
	if err != nil {
		return nil, wrapErr("position_risk", err)
	}

	positions, err := normalizePositions(risks)
	if err != nil {
		return nil, wrapErr("position_risk", err)
	}
	return positions, nil
}

// Balance returns the available USDT margin balance.
func (b *Binance) Balance(ctx context.Context) (float64, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	start := time.Now()
	balances, err := b.client.NewGetBalanceService().Do(ctx)
	logging.LogAPICall(b.logger, "GET", "/fapi/v2/balance", time.Since(start), err)
	if err != nil {
		return 0, wrapErr("balance", err)
	}

	for _, bal := range balances {
		if bal.Asset != quoteAsset {
			continue
		}
		return parseFloat("availableBalance", bal.AvailableBalance)
	}

	return 0, errors.NewExchangeError("balance", "", "no "+quoteAsset+" balance in account", errors.ErrDataNotFound)
}

// SetLeverage sets the leverage applied to new positions on the symbol.
func (b *Binance) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}

	start := time.Now()
	_, err := b.client.NewChangeLeverageService().
		Symbol(symbol).
		Leverage(leverage).
		Do(ctx)
	logging.LogAPICall(b.logger, "POST", "/fapi/v1/leverage", time.Since(start), err)
	if err != nil {
		return wrapErr("change_leverage", err)
	}

	b.logger.Info().Str("symbol", symbol).Int("leverage", leverage).Msg("Leverage set")
	return nil
}

// PlaceStopOrder places a reduce-only stop-market order that flattens
// the position when the stop price trades.
func (b *Binance) PlaceStopOrder(ctx context.Context, symbol string, side models.Side, quantity, stopPrice float64) (string, error) {
	return b.placeTriggerOrder(ctx, "stop_order", futures.OrderTypeStopMarket, symbol, side, quantity, stopPrice)
}

// PlaceTakeProfitOrder places a reduce-only take-profit-market order
// that flattens the position when the target price trades.
func (b *Binance) PlaceTakeProfitOrder(ctx context.Context, symbol string, side models.Side, quantity, targetPrice float64) (string, error) {
	return b.placeTriggerOrder(ctx, "take_profit_order", futures.OrderTypeTakeProfitMarket, symbol, side, quantity, targetPrice)
}

func (b *Binance) placeTriggerOrder(ctx context.Context, op string, orderType futures.OrderType, symbol string, side models.Side, quantity, triggerPrice float64) (string, error) {
	step, tick, err := b.symbolFilters(ctx, symbol)
	if err != nil {
		return "", err
	}
	qty := roundToStep(quantity, step)
	if !qty.IsPositive() {
		return "", errors.NewExchangeError(op, "",
			fmt.Sprintf("quantity %.8f rounds to zero at step %s", quantity, step), errors.ErrOrderRejected)
	}
	trigger := roundToStep(triggerPrice, tick)
	if !trigger.IsPositive() {
		return "", errors.NewExchangeError(op, "",
			fmt.Sprintf("trigger price %.8f rounds to zero at tick %s", triggerPrice, tick), errors.ErrOrderRejected)
	}

	if err := b.limiter.Wait(ctx); err != nil {
		return "", err
	}

	closeSide := models.OrderSideFor(side.Opposite())

	start := time.Now()
	resp, err := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(orderSide(closeSide)).
		Type(orderType).
		StopPrice(trigger.String()).
		Quantity(qty.String()).
		ReduceOnly(true).
		Do(ctx)
	logging.LogAPICall(b.logger, "POST", "/fapi/v1/order", time.Since(start), err)
	if err != nil {
		return "", wrapErr(op, err)
	}

	b.logger.Info().
		Str("symbol", symbol).
		Str("position_side", string(side)).
		Str("type", string(orderType)).
		Str("trigger_price", trigger.String()).
		Str("quantity", qty.String()).
		Int64("order_id", resp.OrderID).
		Msg("Trigger order placed")

	return strconv.FormatInt(resp.OrderID, 10), nil
}

// CancelOpenOrders cancels every open order on the symbol. Used to
// clear protective orders once a position is flattened.
func (b *Binance) CancelOpenOrders(ctx context.Context, symbol string) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}

	start := time.Now()
	err := b.client.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx)
	logging.LogAPICall(b.logger, "DELETE", "/fapi/v1/allOpenOrders", time.Since(start), err)
	if err != nil {
		return wrapErr("cancel_open_orders", err)
	}

	b.logger.Info().Str("symbol", symbol).Msg("Open orders cancelled")
	return nil
}

// symbolFilters returns the LOT_SIZE step and PRICE_FILTER tick for the
// symbol, fetching exchange info once and caching both.
func (b *Binance) symbolFilters(ctx context.Context, symbol string) (decimal.Decimal, decimal.Decimal, error) {
	b.mu.Lock()
	step, okStep := b.steps[symbol]
	tick, okTick := b.ticks[symbol]
	b.mu.Unlock()
	if okStep && okTick {
		return step, tick, nil
	}

	if err := b.limiter.Wait(ctx); err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}

	start := time.Now()
	info, err := b.client.NewExchangeInfoService().Do(ctx)
	logging.LogAPICall(b.logger, "GET", "/fapi/v1/exchangeInfo", time.Since(start), err)
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, wrapErr("exchange_info", err)
	}

	step = defaultStepSize
	tick = defaultTickSize
	for i := range info.Symbols {
		s := &info.Symbols[i]
		if s.Symbol != symbol {
			continue
		}
		if f := s.LotSizeFilter(); f != nil {
			if parsed, perr := decimal.NewFromString(f.StepSize); perr == nil && parsed.IsPositive() {
				step = parsed
			}
		}
		if f := s.PriceFilter(); f != nil {
			if parsed, perr := decimal.NewFromString(f.TickSize); perr == nil && parsed.IsPositive() {
				tick = parsed
			}
		}
		break
	}

	b.mu.Lock()
	b.steps[symbol] = step
	b.ticks[symbol] = tick
	b.mu.Unlock()

	return step, tick, nil
}

// roundToStep floors qty to an exact multiple of step. Off-step
// quantities are rejected by the exchange, and float arithmetic drifts
// on small steps, so the math runs in decimal.
func roundToStep(qty float64, step decimal.Decimal) decimal.Decimal {
	if qty <= 0 || math.IsNaN(qty) || math.IsInf(qty, 0) {
		return decimal.Zero
	}
	q := decimal.NewFromFloat(qty)
	if !step.IsPositive() {
		return q
	}
	return q.Div(step).Floor().Mul(step)
}

// convertKlines turns raw klines into candles, skipping any kline that
// has not closed yet relative to now.
func convertKlines(klines []*futures.Kline, now time.Time) ([]models.Candle, error) {
	candles := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		if time.UnixMilli(k.CloseTime).After(now) {
			continue
		}
		c, err := convertKline(k)
		if err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func convertKline(k *futures.Kline) (models.Candle, error) {
	var (
		c   models.Candle
		err error
	)

	c.Timestamp = time.UnixMilli(k.OpenTime)
	if c.Open, err = parseFloat("open", k.Open); err != nil {
		return models.Candle{}, err
	}
	if c.High, err = parseFloat("high", k.High); err != nil {
		return models.Candle{}, err
	}
	if c.Low, err = parseFloat("low", k.Low); err != nil {
		return models.Candle{}, err
	}
	if c.Close, err = parseFloat("close", k.Close); err != nil {
		return models.Candle{}, err
	}
	if c.Volume, err = parseFloat("volume", k.Volume); err != nil {
		return models.Candle{}, err
	}

	return c, nil
}

// normalizePositions converts position risk rows into PositionInfo,
// dropping flat entries. Binance reports short size as a negative
// position amount.
func normalizePositions(risks []*futures.PositionRisk) ([]PositionInfo, error) {
	positions := make([]PositionInfo, 0, len(risks))
	for _, p := range risks {
		amt, err := parseFloat("positionAmt", p.PositionAmt)
		if err != nil {
			return nil, err
		}
		if amt == 0 {
			continue
		}

		side := models.SideLong
		if amt < 0 {
			side = models.SideShort
		}

		entry, err := parseFloat("entryPrice", p.EntryPrice)
		if err != nil {
			return nil, err
		}
		mark, err := parseFloat("markPrice", p.MarkPrice)
		if err != nil {
			return nil, err
		}
		pnl, err := parseFloat("unRealizedProfit", p.UnRealizedProfit)
		if err != nil {
			return nil, err
		}
		leverage, err := strconv.Atoi(p.Leverage)
		if err != nil {
			leverage = 1
		}

		positions = append(positions, PositionInfo{
			Symbol:        p.Symbol,
			Side:          side,
			Quantity:      math.Abs(amt),
			EntryPrice:    entry,
			MarkPrice:     mark,
			UnrealizedPnL: pnl,
			Leverage:      leverage,
		})
	}
	return positions, nil
}

func orderSide(side models.OrderSide) futures.SideType {
	if side == models.OrderSideBuy {
		return futures.SideTypeBuy
	}
	return futures.SideTypeSell
}

func parseFloat(field, value string) (float64, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing %s %q", field, value)
	}
	return f, nil
}

// wrapErr normalizes client failures into ExchangeError, surfacing the
// Binance error code when one is present.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return errors.NewExchangeError(op, strconv.FormatInt(apiErr.Code, 10), apiErr.Message, err)
	}
	return errors.NewExchangeError(op, "", err.Error(), err)
}

var _ Client = (*Binance)(nil)
