// Package market defines the per-asset market context consumed by the
// signal aggregator, risk manager and position manager.
package market

import (
	"context"
)

// Snapshot captures the market context for one asset at evaluation time.
// Pointer fields are nil when the upstream venue did not report the value.
type Snapshot struct {
	Asset               string   `json:"asset"`
	Price               float64  `json:"price"`
	PriceVsSMA20Pct     float64  `json:"price_vs_sma20_pct"`     // % above (+) or below (-) the 20-period SMA
	FundingRate         float64  `json:"funding_rate"`           // Current funding rate
	FundingDelta        float64  `json:"funding_delta"`          // Change in funding since previous interval
	VolumeRatio         float64  `json:"volume_ratio"`           // Current volume vs trailing average (1.0 = average)
	OIChange24hPct      float64  `json:"oi_change_24h_pct"`      // Open interest 24h change %
	PriceVsDailyOpenPct float64  `json:"price_vs_daily_open_pct"`
	Change24hPct        float64  `json:"change_24h_pct"`
	SentimentScore      float64  `json:"sentiment_score"` // -1 (bearish) .. +1 (bullish)
	BookImbalance       *float64 `json:"book_imbalance,omitempty"` // -1 (ask heavy) .. +1 (bid heavy)
	ATRPct              float64  `json:"atr_pct"`                  // ATR as % of price; 0 when unavailable
	DVOL                *float64 `json:"dvol,omitempty"`           // Implied volatility index
	FearGreed           *float64 `json:"fear_greed,omitempty"`     // 0-100
}

// Provider supplies market snapshots and mark prices.
type Provider interface {
	Snapshot(ctx context.Context, asset string) (*Snapshot, error)
	MarkPrice(ctx context.Context, asset string) (float64, error)
}

// BlendedRSI approximates an exhaustion oscillator from 24h price change
// and sentiment. This is deliberately not a Wilder RSI: the engine runs
// on snapshot data without a candle history, and the downstream
// thresholds (75/25) were tuned against this blend.
func BlendedRSI(change24hPct, sentiment float64) float64 {
	rsi := 50 + change24hPct*2.5 + sentiment*15
	if rsi < 0 {
		return 0
	}
	if rsi > 100 {
		return 100
	}
	return rsi
}

// RSI returns the blended RSI for the snapshot.
func (s *Snapshot) RSI() float64 {
	return BlendedRSI(s.Change24hPct, s.SentimentScore)
}
