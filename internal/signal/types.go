// Package signal aggregates directional signals from independent market
// structure sources into a single per-asset trade decision input.
package signal

import (
	"context"
	"time"
)

// Direction represents the directional bias of a signal
type Direction string

const (
	DirectionLong    Direction = "long"
	DirectionShort   Direction = "short"
	DirectionNeutral Direction = "neutral"
)

// Opposite returns the opposing direction; neutral maps to itself.
func (d Direction) Opposite() Direction {
	switch d {
	case DirectionLong:
		return DirectionShort
	case DirectionShort:
		return DirectionLong
	}
	return DirectionNeutral
}

// Source represents the origin of a trading signal
type Source string

const (
	SourceLiquidationCascade  Source = "liquidation_cascade"
	SourceLiquidationPressure Source = "liquidation_pressure"
	SourceFundingExtreme      Source = "funding_extreme"
	SourcePutCallRatio        Source = "put_call_ratio"
	SourceCrowding            Source = "crowding"
	SourceTopTraders          Source = "top_traders"
	SourceExchangeFlows       Source = "exchange_flows"
	SourceCrossVenueFunding   Source = "cross_venue_funding"
	SourceOpenInterest        Source = "open_interest"
	SourceTakerFlow           Source = "taker_flow"
	SourceIVSkew              Source = "iv_skew"
	SourceVenueBias           Source = "venue_bias"
	SourceMarketRegime        Source = "market_regime"
	SourceNewsSentiment       Source = "news_sentiment"
)

// AllSources lists every known signal source.
var AllSources = []Source{
	SourceLiquidationCascade,
	SourceLiquidationPressure,
	SourceFundingExtreme,
	SourcePutCallRatio,
	SourceCrowding,
	SourceTopTraders,
	SourceExchangeFlows,
	SourceCrossVenueFunding,
	SourceOpenInterest,
	SourceTakerFlow,
	SourceIVSkew,
	SourceVenueBias,
	SourceMarketRegime,
	SourceNewsSentiment,
}

// IsCascade reports whether the source reacts to liquidation cascades.
// Cascade signals go stale within seconds and decay exponentially.
func (s Source) IsCascade() bool {
	return s == SourceLiquidationCascade || s == SourceLiquidationPressure
}

// defaultBaseWeights are the baseline vote weights per source. The
// effective weight is base x journal multiplier x bandit multiplier.
var defaultBaseWeights = map[Source]float64{
	SourceLiquidationCascade:  1.3,
	SourceLiquidationPressure: 1.0,
	SourceFundingExtreme:      1.2,
	SourcePutCallRatio:        0.8,
	SourceCrowding:            1.0,
	SourceTopTraders:          1.1,
	SourceExchangeFlows:       0.9,
	SourceCrossVenueFunding:   1.1,
	SourceOpenInterest:        1.0,
	SourceTakerFlow:           1.0,
	SourceIVSkew:              0.8,
	SourceVenueBias:           0.9,
	SourceMarketRegime:        1.0,
	SourceNewsSentiment:       0.7,
}

// Signal represents a directional reading from one source with metadata
type Signal struct {
	Source     Source                 `json:"source"`
	Asset      string                 `json:"asset"`
	Direction  Direction              `json:"direction"`
	Confidence float64                `json:"confidence"` // 0-100
	Reason     string                 `json:"reason"`
	Timestamp  time.Time              `json:"timestamp"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Aggregated is the fused decision input for one asset
type Aggregated struct {
	Asset               string    `json:"asset"`
	Direction           Direction `json:"direction"`
	Strength            float64   `json:"strength"`   // 0-100
	Confidence          float64   `json:"confidence"` // 0-100
	ConfirmingCount     int       `json:"confirming_count"`
	ContributingSources []Source  `json:"contributing_sources"`
	Reasons             []string  `json:"reasons"`
	GeneratedAt         time.Time `json:"generated_at"`
}

// Provider produces signals for an asset. Implementations wrap one data
// source each and must respect the context deadline.
type Provider interface {
	Name() Source
	Fetch(ctx context.Context, asset string) ([]Signal, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc struct {
	Source Source
	Fn     func(ctx context.Context, asset string) ([]Signal, error)
}

func (p ProviderFunc) Name() Source { return p.Source }

func (p ProviderFunc) Fetch(ctx context.Context, asset string) ([]Signal, error) {
	return p.Fn(ctx, asset)
}
