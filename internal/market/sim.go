package market

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SimProvider is a random-walk market simulator. The engine places no
// real orders, so paper runs without an external data feed use this
// provider: each asset follows a bounded geometric random walk with
// mean-reverting funding, volume and sentiment.
type SimProvider struct {
	mu     sync.Mutex
	rng    *rand.Rand
	assets map[string]*simAsset
	logger zerolog.Logger
}

type simAsset struct {
	price       float64
	dailyOpen   float64
	sma20       float64
	funding     float64
	prevFunding float64
	volumeRatio float64
	oiChangePct float64
	sentiment   float64
	imbalance   float64
	atrPct      float64
	dvol        float64
	fearGreed   float64
	lastTick    time.Time
}

var simStartPrices = map[string]float64{
	"BTC":  65000,
	"ETH":  3200,
	"SOL":  150,
	"HYPE": 25,
}

// NewSimProvider seeds a simulator for the given assets. Seed 0 uses
// the clock.
func NewSimProvider(assets []string, seed int64, logger zerolog.Logger) *SimProvider {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	p := &SimProvider{
		rng:    rng,
		assets: make(map[string]*simAsset, len(assets)),
		logger: logger.With().Str("component", "SimMarket").Logger(),
	}

	for _, asset := range assets {
		start, ok := simStartPrices[asset]
		if !ok {
			start = 100
		}
		p.assets[asset] = &simAsset{
			price:       start,
			dailyOpen:   start,
			sma20:       start,
			volumeRatio: 1.0,
			atrPct:      1.5,
			dvol:        55,
			fearGreed:   50,
			lastTick:    time.Now(),
		}
	}
	return p
}

// Snapshot advances the walk for the asset and returns its context.
func (p *SimProvider) Snapshot(ctx context.Context, asset string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.assets[asset]
	if !ok {
		return nil, fmt.Errorf("unknown asset %s", asset)
	}
	p.advance(a)

	imbalance := a.imbalance
	dvol := a.dvol
	fearGreed := a.fearGreed

	return &Snapshot{
		Asset:               asset,
		Price:               a.price,
		PriceVsSMA20Pct:     (a.price/a.sma20 - 1) * 100,
		FundingRate:         a.funding,
		FundingDelta:        a.funding - a.prevFunding,
		VolumeRatio:         a.volumeRatio,
		OIChange24hPct:      a.oiChangePct,
		PriceVsDailyOpenPct: (a.price/a.dailyOpen - 1) * 100,
		Change24hPct:        (a.price/a.dailyOpen - 1) * 100,
		SentimentScore:      a.sentiment,
		BookImbalance:       &imbalance,
		ATRPct:              a.atrPct,
		DVOL:                &dvol,
		FearGreed:           &fearGreed,
	}, nil
}

// MarkPrice returns the current simulated price without a full snapshot.
func (p *SimProvider) MarkPrice(ctx context.Context, asset string) (float64, error) {
	snap, err := p.Snapshot(ctx, asset)
	if err != nil {
		return 0, err
	}
	return snap.Price, nil
}

// advance moves the asset one step. Step size scales with elapsed time
// so slow and fast tick rates see comparable volatility.
func (p *SimProvider) advance(a *simAsset) {
	now := time.Now()
	prev := a.lastTick
	a.lastTick = now
	elapsed := now.Sub(prev).Seconds()
	if elapsed < 1 {
		elapsed = 1
	}
	if elapsed > 300 {
		elapsed = 300
	}

	// Roughly 1.5% daily vol scaled to the elapsed window
	stepVol := 0.015 * math.Sqrt(elapsed/86400)
	a.price *= 1 + p.rng.NormFloat64()*stepVol
	a.sma20 += (a.price - a.sma20) * 0.05

	// UTC day roll resets the daily open
	if now.UTC().Day() != prev.UTC().Day() || a.dailyOpen == 0 {
		a.dailyOpen = a.price
	}

	meanRevert := func(v, target, speed, noise float64) float64 {
		return v + (target-v)*speed + p.rng.NormFloat64()*noise
	}

	a.prevFunding = a.funding
	a.funding = meanRevert(a.funding, 0.0001, 0.05, 0.0001)
	a.volumeRatio = math.Max(0.2, meanRevert(a.volumeRatio, 1.0, 0.1, 0.15))
	a.oiChangePct = meanRevert(a.oiChangePct, 0, 0.05, 1.2)
	a.sentiment = clampF(meanRevert(a.sentiment, 0, 0.05, 0.08), -1, 1)
	a.imbalance = clampF(meanRevert(a.imbalance, 0, 0.1, 0.06), -1, 1)
	a.atrPct = math.Max(0.5, meanRevert(a.atrPct, 1.5, 0.05, 0.1))
	a.dvol = clampF(meanRevert(a.dvol, 55, 0.02, 1.5), 20, 120)
	a.fearGreed = clampF(meanRevert(a.fearGreed, 50, 0.02, 2), 0, 100)
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
