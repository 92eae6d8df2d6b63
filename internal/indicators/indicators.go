// Package indicators provides the trend and volatility calculations
// that drive signal generation.
package indicators

import (
	"errors"

	"adx-trader/internal/models"
)

var (
	// ErrInsufficientData is returned when there's not enough data for calculation.
	ErrInsufficientData = errors.New("insufficient data for calculation")
	// ErrInvalidPeriod is returned when the period is invalid.
	ErrInvalidPeriod = errors.New("invalid period")
	// ErrInvalidInput is returned when candle data is malformed.
	ErrInvalidInput = errors.New("invalid candle data")
)

// Indicator calculates a single-series indicator over candles.
type Indicator interface {
	Name() string
	Calculate(candles []models.Candle) ([]float64, error)
	Period() int
}

// MultiValueIndicator calculates indicators that return several series.
type MultiValueIndicator interface {
	Name() string
	Calculate(candles []models.Candle) (map[string][]float64, error)
	Period() int
}

var (
	_ Indicator           = (*ATR)(nil)
	_ MultiValueIndicator = (*ADX)(nil)
)

// ValidateCandles rejects malformed input before any calculation runs.
// Insufficient length is not checked here; each indicator reports that
// against its own period.
func ValidateCandles(candles []models.Candle) error {
	for i, c := range candles {
		if c.Open != c.Open || c.High != c.High || c.Low != c.Low || c.Close != c.Close {
			return ErrInvalidInput
		}
		if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
			return ErrInvalidInput
		}
		if c.High < c.Low {
			return ErrInvalidInput
		}
		if i > 0 && !c.Timestamp.After(candles[i-1].Timestamp) {
			return ErrInvalidInput
		}
	}
	return nil
}
