package risk

import (
	"math"

	"github.com/rs/zerolog"

	"adx-trader/internal/config"
	"adx-trader/internal/models"
)

// Sizer computes risk-based position sizes. Quantity is chosen so
// that a stop-loss hit costs the configured fraction of the balance,
// then capped by the leveraged position limit.
type Sizer struct {
	cfg      config.RiskConfig
	leverage int
	logger   zerolog.Logger
}

// NewSizer creates a position sizer. leverage is the account leverage
// used for margin and cap calculations.
func NewSizer(cfg config.RiskConfig, leverage int, logger zerolog.Logger) *Sizer {
	if leverage < 1 {
		leverage = 1
	}
	return &Sizer{
		cfg:      cfg,
		leverage: leverage,
		logger:   logger.With().Str("component", "sizer").Logger(),
	}
}

// Size computes the position size for a trade entered at entry with a
// stop at stop, funded by balance. The notional is risk-driven first:
// lose exactly riskAmount if the stop hits. The leveraged cap
// (balance·leverage·MaxPositionPercent) is applied afterwards as a
// hard ceiling, shrinking the actual risk below target when it binds.
func (s *Sizer) Size(entry, stop, balance float64) models.SizeProposal {
	p := models.SizeProposal{
		RiskPercent: s.cfg.RiskPerTradePercent,
		Leverage:    s.leverage,
		Balance:     balance,
	}

	if entry <= 0 {
		p.Reason = "entry price must be positive"
		return p
	}
	if balance <= 0 {
		p.Reason = "balance must be positive"
		return p
	}

	stopDistance := math.Abs(entry - stop)
	if stopDistance == 0 {
		p.Reason = "stop distance is zero"
		return p
	}

	stopDistancePct := stopDistance / entry
	riskAmount := balance * s.cfg.RiskPerTradePercent / 100

	notional := riskAmount / stopDistancePct

	maxNotional := balance * float64(s.leverage) * s.cfg.MaxPositionPercent / 100
	if notional > maxNotional {
		notional = maxNotional
	}

	p.Notional = notional
	p.Quantity = notional / entry
	p.Margin = notional / float64(s.leverage)
	p.RiskAmount = riskAmount
	p.ActualRiskAmount = stopDistancePct * notional
	p.ActualRiskPercent = p.ActualRiskAmount / balance * 100
	p.StopDistance = stopDistance
	p.StopDistancePercent = stopDistancePct * 100

	if notional < s.cfg.MinPositionUSD {
		p.Reason = "position below minimum size"
		s.logger.Warn().
			Float64("notional", notional).
			Float64("min", s.cfg.MinPositionUSD).
			Msg("position size below minimum")
		return p
	}

	p.Valid = true
	return p
}

// SizeWithKelly scales the base proposal by a fractional Kelly factor
// derived from historical performance. winRate is a fraction in
// [0, 1]; avgLoss is a positive magnitude. Callers should only use
// this path once enough trade history exists to make the inputs
// meaningful.
func (s *Sizer) SizeWithKelly(entry, stop, balance, winRate, avgWin, avgLoss float64) models.SizeProposal {
	p := s.Size(entry, stop, balance)
	if !p.Valid {
		return p
	}

	k := KellyFraction(winRate, avgWin, avgLoss)

	p.Notional *= k
	p.Quantity *= k
	p.Margin *= k
	p.ActualRiskAmount *= k
	p.ActualRiskPercent *= k

	if p.Notional < s.cfg.MinPositionUSD {
		p.Valid = false
		p.Reason = "kelly-adjusted position below minimum size"
	}

	return p
}

// KellyFraction computes the fractional Kelly criterion from
// historical win rate and average win/loss magnitudes. The full Kelly
// value is quartered and clamped to [0, 0.5].
func KellyFraction(winRate, avgWin, avgLoss float64) float64 {
	if avgLoss == 0 || winRate == 0 {
		return 0
	}

	lossRate := 1 - winRate
	ratio := avgWin / avgLoss

	kelly := (winRate*ratio - lossRate) / ratio

	frac := kelly * 0.25
	if frac < 0 {
		return 0
	}
	if frac > 0.5 {
		return 0.5
	}
	return frac
}

// ProfitTarget returns the take-profit price implied by the stop
// distance and a risk/reward ratio.
func ProfitTarget(entry, stop, riskReward float64, side models.Side) float64 {
	targetDistance := math.Abs(entry-stop) * riskReward
	if side == models.SideLong {
		return entry + targetDistance
	}
	return entry - targetDistance
}
