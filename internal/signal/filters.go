package signal

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"adx-trader/internal/config"
	"adx-trader/internal/logging"
	"adx-trader/internal/models"
)

// Filter reasons recorded on rejected signals.
const (
	ReasonConfidence  = "confidence"
	ReasonADXStrength = "adx_strength"
	ReasonDISpread    = "di_spread"
	ReasonCooldown    = "cooldown"
	ReasonTimeOfDay   = "time_of_day"
	ReasonVolume      = "volume"
	ReasonVolatility  = "volatility"
)

// Pipeline applies quality gates to generated signals in a fixed
// order, short-circuiting on the first failure. Rejected signals are
// annotated with Filtered and FilterReason rather than discarded so
// callers can record why a signal was dropped.
//
// The cooldown state is keyed by signal side and is updated whenever a
// signal passes the cooldown gate, even if a later gate rejects it.
// This mirrors the strategy's historical behavior: a burst of signals
// on the same side is throttled as a group regardless of how far each
// one made it through the pipeline.
type Pipeline struct {
	filters  config.FilterConfig
	strategy config.StrategyConfig
	logger   zerolog.Logger

	mu       sync.Mutex
	lastSeen map[models.Side]time.Time
}

// NewPipeline creates a filter pipeline. Threshold gates reuse the
// strategy's entry thresholds so post-adjustment confidence is held to
// the same floor the generator applied.
func NewPipeline(filters config.FilterConfig, strategy config.StrategyConfig, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		filters:  filters,
		strategy: strategy,
		logger:   logger.With().Str("component", "filters").Logger(),
		lastSeen: make(map[models.Side]time.Time),
	}
}

// Apply runs the signal through every gate. It returns true when the
// signal passed; on failure the signal carries the rejecting gate's
// name. candles supply the recent window for the volume and
// volatility gates and may be nil to skip them.
func (p *Pipeline) Apply(sig *models.Signal, candles []models.Candle) bool {
	if sig == nil {
		return false
	}

	p.adjustShortBias(sig)

	if sig.Confidence < p.strategy.MinConfidence {
		return p.reject(sig, ReasonConfidence)
	}
	if sig.ADX < p.strategy.ADXThreshold {
		return p.reject(sig, ReasonADXStrength)
	}
	if math.Abs(sig.Spread) < p.strategy.DISpreadMin {
		return p.reject(sig, ReasonDISpread)
	}
	if !p.passCooldown(sig) {
		return p.reject(sig, ReasonCooldown)
	}
	if !p.passTradingHours(sig) {
		return p.reject(sig, ReasonTimeOfDay)
	}

	if len(candles) > 0 {
		if !p.passVolume(candles) {
			return p.reject(sig, ReasonVolume)
		}
		if !p.passVolatility(sig) {
			return p.reject(sig, ReasonVolatility)
		}
	}

	sig.Filtered = false
	sig.FilterReason = ""
	return true
}

// ApplyAll filters a batch, returning passed and rejected signals.
func (p *Pipeline) ApplyAll(signals []*models.Signal, candles []models.Candle) (passed, rejected []*models.Signal) {
	for _, sig := range signals {
		if p.Apply(sig, candles) {
			passed = append(passed, sig)
		} else {
			rejected = append(rejected, sig)
		}
	}
	return passed, rejected
}

// Reset clears the cooldown state. Used between backtest runs.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastSeen = make(map[models.Side]time.Time)
}

func (p *Pipeline) reject(sig *models.Signal, reason string) bool {
	sig.Filtered = true
	sig.FilterReason = reason
	logging.LogSignalFiltered(p.logger, sig)
	return false
}

// adjustShortBias boosts SHORT confidence before the threshold gates.
// Not a gate: it never rejects.
func (p *Pipeline) adjustShortBias(sig *models.Signal) {
	if !p.filters.EnableShortBias || sig.Side != models.SideShort {
		return
	}
	boosted := sig.Confidence * p.filters.ShortBiasMultiplier
	if boosted > 1.0 {
		boosted = 1.0
	}
	sig.Confidence = boosted
}

func (p *Pipeline) passCooldown(sig *models.Signal) bool {
	if p.filters.CooldownMinutes <= 0 {
		return true
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	cooldown := time.Duration(p.filters.CooldownMinutes) * time.Minute
	if last, ok := p.lastSeen[sig.Side]; ok {
		if sig.Timestamp.Sub(last) < cooldown {
			return false
		}
	}

	p.lastSeen[sig.Side] = sig.Timestamp
	return true
}

func (p *Pipeline) passTradingHours(sig *models.Signal) bool {
	if !p.filters.TradingHoursEnabled {
		return true
	}

	hour := sig.Timestamp.Hour()
	start, end := p.filters.TradingHourStart, p.filters.TradingHourEnd

	if start <= end {
		return hour >= start && hour < end
	}
	// Window wraps midnight, e.g. 22:00-06:00.
	return hour >= start || hour < end
}

// passVolume requires the signal candle's volume to reach the
// configured percentile of the recent window.
func (p *Pipeline) passVolume(candles []models.Candle) bool {
	if !p.filters.VolumeFilterEnabled {
		return true
	}

	window := candles
	if lb := p.filters.VolumeLookback; lb > 0 && len(candles) > lb {
		window = candles[len(candles)-lb:]
	}

	volumes := make([]float64, len(window))
	for i, c := range window {
		volumes[i] = c.Volume
	}

	current := candles[len(candles)-1].Volume
	return current >= percentile(volumes, p.filters.VolumePercentile)
}

// passVolatility requires ATR to be at least MinATRPercent of the
// entry price. Very quiet markets cannot cover fees and slippage. A
// NaN ATR or a missing entry price means the indicator is still
// warming up, so the gate stays open; a zero ATR is a real reading
// and fails the threshold like any other quiet market.
func (p *Pipeline) passVolatility(sig *models.Signal) bool {
	if math.IsNaN(sig.ATR) || sig.EntryPrice <= 0 {
		return true
	}
	minATR := sig.EntryPrice * p.filters.MinATRPercent / 100
	return sig.ATR >= minATR
}

// percentile returns the q-th percentile (0-100) of values using
// linear interpolation between closest ranks.
func percentile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if q <= 0 {
		return sorted[0]
	}
	if q >= 100 {
		return sorted[len(sorted)-1]
	}

	rank := q / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	frac := rank - float64(lower)
	if lower+1 >= len(sorted) {
		return sorted[lower]
	}
	return sorted[lower] + frac*(sorted[lower+1]-sorted[lower])
}
