package indicators

import (
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"adx-trader/internal/models"
)

// Properties: for any valid candle data the trend engine stays within
// its mathematical bounds:
// - ADX, +DI, -DI: [0, 100] once past warmup
// - ATR: non-negative
// - Confidence: [0, 1] on every row
// - Strength: always one of the five defined buckets

// candleGen generates valid candle data with realistic OHLCV values
func candleGen() gopter.Gen {
	return gen.Struct(reflect.TypeOf(models.Candle{}), map[string]gopter.Gen{
		"Timestamp": gen.TimeRange(time.Now().Add(-365*24*time.Hour), time.Hour),
		"Open":      gen.Float64Range(100.0, 1000.0),
		"High":      gen.Float64Range(100.0, 1000.0),
		"Low":       gen.Float64Range(100.0, 1000.0),
		"Close":     gen.Float64Range(100.0, 1000.0),
		"Volume":    gen.Float64Range(1.0, 100000.0),
	}).Map(func(c models.Candle) models.Candle {
		// Ensure all prices are positive (avoid zero/negative values)
		if c.Open <= 0 {
			c.Open = 100.0
		}
		if c.High <= 0 {
			c.High = 100.0
		}
		if c.Low <= 0 {
			c.Low = 100.0
		}
		if c.Close <= 0 {
			c.Close = 100.0
		}
		// Ensure OHLC constraints: High >= max(Open, Close) and Low <= min(Open, Close)
		c.High = math.Max(c.High, math.Max(c.Open, c.Close))
		c.Low = math.Min(c.Low, math.Min(c.Open, c.Close))
		if c.Low > c.High {
			c.Low, c.High = c.High, c.Low
		}
		// Ensure there's some price range (avoid flat candles where High == Low)
		if c.High <= c.Low {
			c.High = c.Low + 1.0
		}
		return c
	})
}

// candleSliceGen generates a slice of valid candles
func candleSliceGen(minLen, maxLen int) gopter.Gen {
	return gen.SliceOfN(maxLen, candleGen()).Map(func(candles []models.Candle) []models.Candle {
		if len(candles) < minLen {
			for len(candles) < minLen {
				candles = append(candles, candles[len(candles)-1])
			}
		}
		// Sort by timestamp and re-validate each candle after shrinking
		for i := range candles {
			candles[i].Timestamp = time.Now().Add(time.Duration(i) * time.Hour)
			if candles[i].Open <= 0 {
				candles[i].Open = 100.0
			}
			if candles[i].High <= 0 {
				candles[i].High = 100.0
			}
			if candles[i].Low <= 0 {
				candles[i].Low = 100.0
			}
			if candles[i].Close <= 0 {
				candles[i].Close = 100.0
			}
			candles[i].High = math.Max(candles[i].High, math.Max(candles[i].Open, candles[i].Close))
			candles[i].Low = math.Min(candles[i].Low, math.Min(candles[i].Open, candles[i].Close))
			if candles[i].Low > candles[i].High {
				candles[i].Low, candles[i].High = candles[i].High, candles[i].Low
			}
			if candles[i].High <= candles[i].Low {
				candles[i].High = candles[i].Low + 1.0
			}
			if candles[i].Volume <= 0 {
				candles[i].Volume = 1.0
			}
		}
		return candles
	})
}

func TestProperty_ADXWithinBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("ADX, +DI, -DI values are within [0, 100]", prop.ForAll(
		func(candles []models.Candle) bool {
			adx := NewADX(14)
			values, err := adx.Calculate(candles)
			if err != nil {
				// Insufficient data is acceptable
				return true
			}

			for _, series := range [][]float64{values["adx"], values["plus_di"], values["minus_di"]} {
				for _, v := range series {
					if math.IsNaN(v) {
						continue
					}
					if v < 0 || v > 100 {
						return false
					}
				}
			}
			return true
		},
		candleSliceGen(35, 100),
	))

	properties.TestingRun(t)
}

func TestProperty_ATRIsNonNegative(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("ATR values are non-negative", prop.ForAll(
		func(candles []models.Candle) bool {
			atr := NewATR(14)
			values, err := atr.Calculate(candles)
			if err != nil {
				return true
			}

			for _, v := range values {
				if math.IsNaN(v) {
					continue
				}
				if v < 0 {
					return false
				}
			}
			return true
		},
		candleSliceGen(20, 100),
	))

	properties.TestingRun(t)
}

func TestProperty_ConfidenceWithinUnitInterval(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("confidence is within [0, 1] on every row", prop.ForAll(
		func(candles []models.Candle) bool {
			engine := NewTrendEngine(14)
			rows, err := engine.Analyze(candles)
			if err != nil {
				return true
			}

			for _, row := range rows {
				if math.IsNaN(row.Confidence) {
					return false
				}
				if row.Confidence < 0 || row.Confidence > 1 {
					return false
				}
			}
			return true
		},
		candleSliceGen(35, 100),
	))

	properties.TestingRun(t)
}

func TestProperty_AnalyzeRowsAlignWithCandles(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	valid := map[models.TrendStrength]bool{
		models.TrendNone:       true,
		models.TrendWeak:       true,
		models.TrendStrong:     true,
		models.TrendVeryStrong: true,
		models.TrendExtreme:    true,
	}

	properties.Property("one classified row per candle, spread tracks DI lines", prop.ForAll(
		func(candles []models.Candle) bool {
			engine := NewTrendEngine(14)
			rows, err := engine.Analyze(candles)
			if err != nil {
				return true
			}

			if len(rows) != len(candles) {
				return false
			}
			for _, row := range rows {
				if !valid[row.Strength] {
					return false
				}
				spread := row.PlusDI - row.MinusDI
				if math.IsNaN(spread) != math.IsNaN(row.Spread) {
					return false
				}
				if !math.IsNaN(spread) && math.Abs(spread-row.Spread) > 1e-9 {
					return false
				}
				if row.Strength == models.TrendNone && !math.IsNaN(row.ADX) && row.ADX >= 20 {
					return false
				}
			}
			return true
		},
		candleSliceGen(35, 100),
	))

	properties.TestingRun(t)
}
