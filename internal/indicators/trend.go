package indicators

import (
	"fmt"
	"math"

	"adx-trader/internal/models"
)

// ADX calculates Average Directional Index with +DI and -DI.
type ADX struct {
	period int
}

// NewADX creates a new ADX indicator.
func NewADX(period int) *ADX {
	return &ADX{period: period}
}

func (a *ADX) Name() string {
	return fmt.Sprintf("ADX_%d", a.period)
}

// Period returns the candles consumed before the first ADX value.
// DI lines become available after a single smoothing window.
func (a *ADX) Period() int {
	return a.period * 2
}

// Calculate returns "adx", "plus_di" and "minus_di" series aligned to
// the input candles. Values before each series' warmup are NaN. At
// least period+1 candles are required for the DI lines; the ADX series
// itself stays NaN until a second smoothing window has passed.
func (a *ADX) Calculate(candles []models.Candle) (map[string][]float64, error) {
	if a.period <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(candles) < a.period+1 {
		return nil, ErrInsufficientData
	}

	n := len(candles)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	tr := make([]float64, n)

	// Calculate +DM, -DM, and TR
	for i := 1; i < n; i++ {
		upMove := candles[i].High - candles[i-1].High
		downMove := candles[i-1].Low - candles[i].Low

		if upMove > downMove && upMove > 0 {
			plusDM[i] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i] = downMove
		}
		tr[i] = trueRange(candles[i], candles[i-1])
	}

	// Smooth using Wilder's method
	smoothPlusDM := wilderSmooth(plusDM, a.period)
	smoothMinusDM := wilderSmooth(minusDM, a.period)
	smoothTR := wilderSmooth(tr, a.period)

	// Calculate +DI and -DI
	plusDI := nanSlice(n)
	minusDI := nanSlice(n)
	dx := make([]float64, n)

	for i := a.period; i < n; i++ {
		if smoothTR[i] != 0 {
			plusDI[i] = 100 * smoothPlusDM[i] / smoothTR[i]
			minusDI[i] = 100 * smoothMinusDM[i] / smoothTR[i]
		} else {
			plusDI[i] = 0
			minusDI[i] = 0
		}
		diSum := plusDI[i] + minusDI[i]
		if diSum != 0 {
			dx[i] = 100 * abs(plusDI[i]-minusDI[i]) / diSum
		}
	}

	// Calculate ADX (smoothed DX)
	adxResult := nanSlice(n)
	if smoothed := wilderSmooth(dx[a.period:], a.period); smoothed != nil {
		for i := a.period - 1; i < len(smoothed); i++ {
			adxResult[a.period+i] = smoothed[i]
		}
	}

	return map[string][]float64{
		"adx":      adxResult,
		"plus_di":  plusDI,
		"minus_di": minusDI,
	}, nil
}

// Slope computes the per-candle rate of change of a series over
// lookback candles: (v[i] - v[i-lookback]) / lookback. Rows without a
// full lookback window, or spanning NaN values, are NaN.
func Slope(values []float64, lookback int) []float64 {
	result := nanSlice(len(values))
	if lookback <= 0 {
		return result
	}
	for i := lookback; i < len(values); i++ {
		if math.IsNaN(values[i]) || math.IsNaN(values[i-lookback]) {
			continue
		}
		result[i] = (values[i] - values[i-lookback]) / float64(lookback)
	}
	return result
}

// ClassifyTrend buckets an ADX reading into a trend strength.
// NaN classifies as no trend.
func ClassifyTrend(adx float64) models.TrendStrength {
	switch {
	case math.IsNaN(adx) || adx < 20:
		return models.TrendNone
	case adx < 25:
		return models.TrendWeak
	case adx < 35:
		return models.TrendStrong
	case adx < 50:
		return models.TrendVeryStrong
	default:
		return models.TrendExtreme
	}
}

// DetectCrossover reports a DI crossover completed on the current
// candle: bullish when +DI moved above -DI, bearish when -DI moved
// above +DI.
func DetectCrossover(plusDI, minusDI, prevPlusDI, prevMinusDI float64) models.Crossover {
	if math.IsNaN(plusDI) || math.IsNaN(minusDI) || math.IsNaN(prevPlusDI) || math.IsNaN(prevMinusDI) {
		return models.CrossoverNone
	}
	if plusDI > minusDI && prevPlusDI <= prevMinusDI {
		return models.CrossoverBullish
	}
	if minusDI > plusDI && prevMinusDI <= prevPlusDI {
		return models.CrossoverBearish
	}
	return models.CrossoverNone
}

// Confidence scores trend quality in [0, 1] from ADX level, DI
// separation and ADX slope. A heuristic blend, not a calibrated
// probability. Warmup rows score 0.
func Confidence(adx, plusDI, minusDI, slope float64) float64 {
	if math.IsNaN(adx) || math.IsNaN(plusDI) || math.IsNaN(minusDI) {
		return 0
	}
	if math.IsNaN(slope) {
		slope = 0
	}
	adxScore := clamp(adx/50, 0, 1)
	spreadScore := clamp(abs(plusDI-minusDI)/30, 0, 1)
	slopeScore := clamp((slope+2)/4, 0, 1)
	return clamp(0.5*adxScore+0.3*spreadScore+0.2*slopeScore, 0, 1)
}

// TrendEngine computes the full per-candle trend state consumed by the
// signal generator.
type TrendEngine struct {
	adx           *ADX
	atr           *ATR
	slopeLookback int
}

// NewTrendEngine creates a trend engine with ADX and ATR sharing the
// given period.
func NewTrendEngine(period int) *TrendEngine {
	return &TrendEngine{
		adx:           NewADX(period),
		atr:           NewATR(period),
		slopeLookback: 3,
	}
}

// Analyze validates the candles and produces one IndicatorRow per
// candle. Rows inside the warmup window carry NaN values and classify
// as no trend.
func (e *TrendEngine) Analyze(candles []models.Candle) ([]models.IndicatorRow, error) {
	if err := ValidateCandles(candles); err != nil {
		return nil, err
	}

	directional, err := e.adx.Calculate(candles)
	if err != nil {
		return nil, err
	}
	atrValues, err := e.atr.Calculate(candles)
	if err != nil {
		return nil, err
	}

	adx := directional["adx"]
	plusDI := directional["plus_di"]
	minusDI := directional["minus_di"]
	slope := Slope(adx, e.slopeLookback)

	rows := make([]models.IndicatorRow, len(candles))
	for i := range candles {
		row := models.IndicatorRow{
			Timestamp:  candles[i].Timestamp,
			ADX:        adx[i],
			PlusDI:     plusDI[i],
			MinusDI:    minusDI[i],
			Slope:      slope[i],
			Spread:     plusDI[i] - minusDI[i],
			ATR:        atrValues[i],
			Strength:   ClassifyTrend(adx[i]),
			Confidence: Confidence(adx[i], plusDI[i], minusDI[i], slope[i]),
			Crossover:  models.CrossoverNone,
		}
		if i > 0 {
			row.Crossover = DetectCrossover(plusDI[i], minusDI[i], plusDI[i-1], minusDI[i-1])
		}
		rows[i] = row
	}
	return rows, nil
}
