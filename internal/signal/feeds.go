package signal

import (
	"context"
	"fmt"
	"math"
	"time"

	"paper-trading-engine/internal/market"
)

// SnapshotFeeds builds the built-in signal providers that derive
// directional readings from market snapshots. External feeds can be
// appended alongside these.
func SnapshotFeeds(provider market.Provider) []Provider {
	return []Provider{
		ProviderFunc{Source: SourceFundingExtreme, Fn: fundingExtremeFeed(provider)},
		ProviderFunc{Source: SourceOpenInterest, Fn: openInterestFeed(provider)},
		ProviderFunc{Source: SourceTakerFlow, Fn: takerFlowFeed(provider)},
		ProviderFunc{Source: SourceNewsSentiment, Fn: newsSentimentFeed(provider)},
		ProviderFunc{Source: SourceMarketRegime, Fn: marketRegimeFeed(provider)},
		ProviderFunc{Source: SourceCrowding, Fn: crowdingFeed(provider)},
	}
}

// fundingExtremeFeed reads extreme funding as a contrarian signal:
// heavily positive funding means crowded longs paying shorts.
func fundingExtremeFeed(p market.Provider) func(ctx context.Context, asset string) ([]Signal, error) {
	return func(ctx context.Context, asset string) ([]Signal, error) {
		snap, err := p.Snapshot(ctx, asset)
		if err != nil {
			return nil, err
		}

		const extreme = 0.0005 // 0.05% per interval
		abs := math.Abs(snap.FundingRate)
		if abs < extreme {
			return nil, nil
		}

		direction := DirectionShort
		if snap.FundingRate < 0 {
			direction = DirectionLong
		}
		confidence := math.Min(90, 50+abs/extreme*15)

		return []Signal{{
			Source:     SourceFundingExtreme,
			Asset:      asset,
			Direction:  direction,
			Confidence: confidence,
			Reason:     fmt.Sprintf("funding %.4f%% crowded, fading", snap.FundingRate*100),
			Timestamp:  time.Now(),
		}}, nil
	}
}

// openInterestFeed treats rising OI with price as trend confirmation
// and falling OI against price as positioning unwind.
func openInterestFeed(p market.Provider) func(ctx context.Context, asset string) ([]Signal, error) {
	return func(ctx context.Context, asset string) ([]Signal, error) {
		snap, err := p.Snapshot(ctx, asset)
		if err != nil {
			return nil, err
		}

		if math.Abs(snap.OIChange24hPct) < 5 {
			return nil, nil
		}

		var direction Direction
		switch {
		case snap.OIChange24hPct > 0 && snap.Change24hPct > 0:
			direction = DirectionLong
		case snap.OIChange24hPct > 0 && snap.Change24hPct < 0:
			direction = DirectionShort
		default:
			// OI unwinding, no fresh positioning to follow
			return nil, nil
		}

		confidence := math.Min(85, 45+math.Abs(snap.OIChange24hPct))
		return []Signal{{
			Source:     SourceOpenInterest,
			Asset:      asset,
			Direction:  direction,
			Confidence: confidence,
			Reason:     fmt.Sprintf("OI %+.1f%% with price %+.1f%%", snap.OIChange24hPct, snap.Change24hPct),
			Timestamp:  time.Now(),
		}}, nil
	}
}

// takerFlowFeed follows aggressive volume in the direction of the move.
func takerFlowFeed(p market.Provider) func(ctx context.Context, asset string) ([]Signal, error) {
	return func(ctx context.Context, asset string) ([]Signal, error) {
		snap, err := p.Snapshot(ctx, asset)
		if err != nil {
			return nil, err
		}

		if snap.VolumeRatio < 1.5 || math.Abs(snap.Change24hPct) < 1 {
			return nil, nil
		}

		direction := DirectionLong
		if snap.Change24hPct < 0 {
			direction = DirectionShort
		}
		confidence := math.Min(85, 40+snap.VolumeRatio*15)

		return []Signal{{
			Source:     SourceTakerFlow,
			Asset:      asset,
			Direction:  direction,
			Confidence: confidence,
			Reason:     fmt.Sprintf("%.1fx volume behind %+.1f%% move", snap.VolumeRatio, snap.Change24hPct),
			Timestamp:  time.Now(),
		}}, nil
	}
}

// newsSentimentFeed converts the snapshot sentiment score to a signal.
func newsSentimentFeed(p market.Provider) func(ctx context.Context, asset string) ([]Signal, error) {
	return func(ctx context.Context, asset string) ([]Signal, error) {
		snap, err := p.Snapshot(ctx, asset)
		if err != nil {
			return nil, err
		}

		if math.Abs(snap.SentimentScore) < 0.3 {
			return nil, nil
		}

		direction := DirectionLong
		if snap.SentimentScore < 0 {
			direction = DirectionShort
		}
		confidence := math.Min(80, 40+math.Abs(snap.SentimentScore)*50)

		return []Signal{{
			Source:     SourceNewsSentiment,
			Asset:      asset,
			Direction:  direction,
			Confidence: confidence,
			Reason:     fmt.Sprintf("sentiment score %+.2f", snap.SentimentScore),
			Timestamp:  time.Now(),
		}}, nil
	}
}

// marketRegimeFeed reads trend alignment between price and its SMA20.
func marketRegimeFeed(p market.Provider) func(ctx context.Context, asset string) ([]Signal, error) {
	return func(ctx context.Context, asset string) ([]Signal, error) {
		snap, err := p.Snapshot(ctx, asset)
		if err != nil {
			return nil, err
		}

		if math.Abs(snap.PriceVsSMA20Pct) < 1.5 {
			return nil, nil
		}

		direction := DirectionLong
		if snap.PriceVsSMA20Pct < 0 {
			direction = DirectionShort
		}
		confidence := math.Min(75, 40+math.Abs(snap.PriceVsSMA20Pct)*5)

		return []Signal{{
			Source:     SourceMarketRegime,
			Asset:      asset,
			Direction:  direction,
			Confidence: confidence,
			Reason:     fmt.Sprintf("price %+.1f%% vs SMA20", snap.PriceVsSMA20Pct),
			Timestamp:  time.Now(),
		}}, nil
	}
}

// crowdingFeed fades stretched one-sided positioning: RSI exhaustion
// plus a heavy order book on the same side.
func crowdingFeed(p market.Provider) func(ctx context.Context, asset string) ([]Signal, error) {
	return func(ctx context.Context, asset string) ([]Signal, error) {
		snap, err := p.Snapshot(ctx, asset)
		if err != nil {
			return nil, err
		}

		rsi := snap.RSI()
		var direction Direction
		switch {
		case rsi > 75:
			direction = DirectionShort
		case rsi < 25:
			direction = DirectionLong
		default:
			return nil, nil
		}

		confidence := 45 + math.Min(25, math.Abs(rsi-50)-25)
		if snap.BookImbalance != nil {
			// Book leaning the crowded way strengthens the fade
			if (direction == DirectionShort && *snap.BookImbalance > 0.1) ||
				(direction == DirectionLong && *snap.BookImbalance < -0.1) {
				confidence += 10
			}
		}

		return []Signal{{
			Source:     SourceCrowding,
			Asset:      asset,
			Direction:  direction,
			Confidence: math.Min(85, confidence),
			Reason:     fmt.Sprintf("RSI %.0f exhaustion fade", rsi),
			Timestamp:  time.Now(),
		}}, nil
	}
}
