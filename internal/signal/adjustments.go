package signal

import (
	"fmt"
	"math"

	"paper-trading-engine/internal/market"
)

// Book imbalance and confidence adjustment thresholds
const (
	// DefaultBookImbalanceThreshold is the order book imbalance beyond
	// which an opposing entry is vetoed outright.
	DefaultBookImbalanceThreshold = 0.2

	// FundingReversalDelta is the minimum funding change to treat as a
	// reversal; the boundary value itself does not trigger.
	FundingReversalDelta = 0.0003

	rsiOverbought = 75
	rsiOversold   = 25
)

// BookImbalanceVeto rejects an entry when the order book leans hard
// against it: a long is rejected when imbalance < -threshold, a short
// when imbalance > +threshold. The threshold value itself never rejects,
// and an unknown imbalance (nil) never rejects.
func BookImbalanceVeto(direction Direction, imbalance *float64, threshold float64) (bool, string) {
	if imbalance == nil || direction == DirectionNeutral {
		return false, ""
	}
	if threshold <= 0 {
		threshold = DefaultBookImbalanceThreshold
	}
	switch direction {
	case DirectionLong:
		if *imbalance < -threshold {
			return true, fmt.Sprintf("Order book favors sellers (imbalance %.2f)", *imbalance)
		}
	case DirectionShort:
		if *imbalance > threshold {
			return true, fmt.Sprintf("Order book favors buyers (imbalance %.2f)", *imbalance)
		}
	}
	return false, ""
}

// AdjustConfidence applies the additive market-context adjustments to an
// aggregate's confidence and returns the adjusted value together with
// the applied reasons. The result is clamped to [0, 100].
func AdjustConfidence(agg *Aggregated, snap *market.Snapshot) (float64, []string) {
	if agg == nil {
		return 0, nil
	}
	confidence := agg.Confidence
	if snap == nil {
		return clamp(confidence, 0, 100), nil
	}

	var reasons []string
	apply := func(delta float64, reason string) {
		confidence += delta
		reasons = append(reasons, fmt.Sprintf("%s (%+.0f)", reason, delta))
	}

	// SMA20 trend alignment
	if agg.Direction == DirectionLong && snap.PriceVsSMA20Pct > 0 {
		apply(5, "price above SMA20")
	} else if agg.Direction == DirectionShort && snap.PriceVsSMA20Pct < 0 {
		apply(5, "price below SMA20")
	}

	// Funding reversal: a sharp funding move against the prevailing rate
	if math.Abs(snap.FundingDelta) > FundingReversalDelta &&
		snap.FundingRate != 0 && snap.FundingDelta != 0 &&
		(snap.FundingDelta > 0) != (snap.FundingRate > 0) {
		apply(5, "funding reversal")
	}

	// Volume ratio
	switch {
	case snap.VolumeRatio >= 2.0:
		apply(5, "volume surge")
	case snap.VolumeRatio >= 1.5:
		apply(3, "elevated volume")
	case snap.VolumeRatio > 0 && snap.VolumeRatio < 0.5:
		apply(-5, "very thin volume")
	case snap.VolumeRatio > 0 && snap.VolumeRatio < 0.8:
		apply(-3, "below average volume")
	}

	// Open interest: rising OI confirms the move, falling OI fades it
	if snap.OIChange24hPct > 5 {
		apply(5, "open interest building")
	} else if snap.OIChange24hPct < -5 {
		apply(-5, "open interest unwinding")
	}

	// Position relative to the daily open
	if agg.Direction == DirectionLong {
		if snap.PriceVsDailyOpenPct > 0 {
			apply(3, "above daily open")
		} else if snap.PriceVsDailyOpenPct < 0 {
			apply(-3, "below daily open")
		}
	} else if agg.Direction == DirectionShort {
		if snap.PriceVsDailyOpenPct < 0 {
			apply(3, "below daily open")
		} else if snap.PriceVsDailyOpenPct > 0 {
			apply(-3, "above daily open")
		}
	}

	// RSI exhaustion: penalize chasing, reward contrarian entries
	rsi := snap.RSI()
	if rsi > rsiOverbought {
		if agg.Direction == DirectionLong {
			apply(-5, "overbought")
		} else if agg.Direction == DirectionShort {
			apply(3, "overbought contrarian")
		}
	} else if rsi < rsiOversold {
		if agg.Direction == DirectionShort {
			apply(-5, "oversold")
		} else if agg.Direction == DirectionLong {
			apply(3, "oversold contrarian")
		}
	}

	return clamp(confidence, 0, 100), reasons
}
