package signal

import (
	"sort"
	"time"

	"adx-trader/internal/models"
)

// Deduplicator collapses near-identical signals produced by scanning
// overlapping candle windows. Two signals are duplicates when they
// share a side, fall within the time window and their entry prices
// differ by no more than the tolerance. The higher-confidence signal
// survives.
type Deduplicator struct {
	window    time.Duration
	tolerance float64 // fraction of entry price
}

// NewDeduplicator creates a deduplicator. windowMinutes defaults to 5
// and tolerancePercent to 0.1 when non-positive.
func NewDeduplicator(windowMinutes int, tolerancePercent float64) *Deduplicator {
	if windowMinutes <= 0 {
		windowMinutes = 5
	}
	if tolerancePercent <= 0 {
		tolerancePercent = 0.1
	}
	return &Deduplicator{
		window:    time.Duration(windowMinutes) * time.Minute,
		tolerance: tolerancePercent / 100,
	}
}

// Deduplicate returns the unique signals in timestamp order. When two
// signals collide the one with strictly higher confidence replaces the
// earlier one.
func (d *Deduplicator) Deduplicate(signals []*models.Signal) []*models.Signal {
	if len(signals) <= 1 {
		return signals
	}

	ordered := make([]*models.Signal, len(signals))
	copy(ordered, signals)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	unique := make([]*models.Signal, 0, len(ordered))
	for _, sig := range ordered {
		matched := false
		for i, existing := range unique {
			if !d.similar(sig, existing) {
				continue
			}
			if sig.Confidence > existing.Confidence {
				unique[i] = sig
			}
			matched = true
			break
		}
		if !matched {
			unique = append(unique, sig)
		}
	}

	return unique
}

func (d *Deduplicator) similar(a, b *models.Signal) bool {
	if a.Side != b.Side {
		return false
	}

	diff := a.Timestamp.Sub(b.Timestamp)
	if diff < 0 {
		diff = -diff
	}
	if diff > d.window {
		return false
	}

	if a.EntryPrice > 0 && b.EntryPrice > 0 {
		priceDiff := a.EntryPrice - b.EntryPrice
		if priceDiff < 0 {
			priceDiff = -priceDiff
		}
		if priceDiff/a.EntryPrice > d.tolerance {
			return false
		}
	}

	return true
}
