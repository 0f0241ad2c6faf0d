package signal

import (
	"math"
	"time"

	"github.com/rs/zerolog"

	"paper-trading-engine/config"
	"paper-trading-engine/internal/market"
)

// BanditSampler supplies Thompson-sampled weight multipliers per source.
type BanditSampler interface {
	SampledMultiplier(source string) float64
}

// PerformanceTracker supplies win-rate based weight multipliers per source.
type PerformanceTracker interface {
	SourceWeightMultiplier(source string) float64
}

// Aggregator fuses per-source signals into one decision input per asset.
type Aggregator struct {
	cfg             config.SignalConfig
	bandit          BanditSampler
	history         PerformanceTracker
	secondaryAssets map[string]bool
	baseWeights     map[Source]float64
	logger          zerolog.Logger
}

// NewAggregator creates a signal aggregator. bandit and history may be
// nil; missing multipliers default to 1.0.
func NewAggregator(cfg config.SignalConfig, bandit BanditSampler, history PerformanceTracker, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		cfg:     cfg,
		bandit:  bandit,
		history: history,
		// Secondary assets trade on fewer venues, so fewer sources can
		// possibly confirm them.
		secondaryAssets: map[string]bool{"HYPE": true},
		baseWeights:     defaultBaseWeights,
		logger:          logger.With().Str("component", "SignalAggregator").Logger(),
	}
}

// SetSecondaryAssets replaces the set of assets that use the lower
// confirming-count minimum.
func (a *Aggregator) SetSecondaryAssets(assets []string) {
	m := make(map[string]bool, len(assets))
	for _, asset := range assets {
		m[asset] = true
	}
	a.secondaryAssets = m
}

// MinConfirmingFor returns the confirming-signal minimum that applies to
// the given asset and aggregate quality.
func (a *Aggregator) MinConfirmingFor(asset string, strength, confidence float64, confirming int) int {
	if a.secondaryAssets[asset] {
		return a.cfg.MinConfirmingSecondary
	}
	strong := strength >= a.cfg.StrongStrength && confidence >= a.cfg.HighConfidence
	if strong && confirming >= a.cfg.MinConfirmingWhenStrong {
		return a.cfg.MinConfirmingWhenStrong
	}
	return a.cfg.MinConfirming
}

// recencyDecay returns the vote weight decay for a signal of the given
// age. Cascade sources decay exponentially with a 10s half-life because
// a liquidation cascade is over within a minute; everything else uses a
// step decay.
func recencyDecay(source Source, age time.Duration) float64 {
	if age < 0 {
		age = 0
	}
	if source.IsCascade() {
		return math.Pow(0.5, age.Seconds()/10)
	}
	switch {
	case age < 30*time.Second:
		return 1.0
	case age < time.Minute:
		return 0.8
	case age < 2*time.Minute:
		return 0.5
	default:
		return 0.3
	}
}

func (a *Aggregator) isStale(s Signal, now time.Time) bool {
	age := now.Sub(s.Timestamp)
	if s.Source.IsCascade() {
		return age > time.Duration(a.cfg.CascadeStaleAfterSecs)*time.Second
	}
	return age > time.Duration(a.cfg.StaleAfterSecs)*time.Second
}

func (a *Aggregator) effectiveWeight(source Source) float64 {
	w, ok := a.baseWeights[source]
	if !ok {
		w = 1.0
	}
	if a.history != nil {
		w *= a.history.SourceWeightMultiplier(string(source))
	}
	if a.bandit != nil {
		w *= a.bandit.SampledMultiplier(string(source))
	}
	return w
}

// Aggregate fuses the signals for one asset. Returns nil when no clear
// direction emerges or the confirming-count gate is not met.
func (a *Aggregator) Aggregate(asset string, signals []Signal, snap *market.Snapshot, now time.Time) *Aggregated {
	var (
		voteLong, voteShort float64
		totalWeight         float64
		counted             int
		fresh               []Signal
		weights             []float64
	)

	for _, s := range signals {
		if s.Direction == DirectionNeutral {
			continue
		}
		if a.isStale(s, now) {
			a.logger.Debug().
				Str("asset", asset).
				Str("source", string(s.Source)).
				Dur("age", now.Sub(s.Timestamp)).
				Msg("Dropping stale signal")
			continue
		}

		w := a.effectiveWeight(s.Source) * recencyDecay(s.Source, now.Sub(s.Timestamp))
		if w <= 0 {
			continue
		}

		switch s.Direction {
		case DirectionLong:
			voteLong += w * s.Confidence
		case DirectionShort:
			voteShort += w * s.Confidence
		}
		totalWeight += w
		counted++
		fresh = append(fresh, s)
		weights = append(weights, w)
	}

	if counted == 0 || totalWeight <= 0 {
		return nil
	}

	// A direction needs a vote margin beyond noise; ties resolve neutral.
	diff := voteLong - voteShort
	threshold := 20 * (totalWeight / float64(counted))
	var direction Direction
	switch {
	case diff > threshold:
		direction = DirectionLong
	case diff < -threshold:
		direction = DirectionShort
	default:
		a.logger.Debug().
			Str("asset", asset).
			Float64("vote_long", voteLong).
			Float64("vote_short", voteShort).
			Msg("No clear direction, vote margin below threshold")
		return nil
	}

	var (
		confirming   int
		agreeWeight  float64
		agreeConf    float64
		sources      []Source
		reasons      []string
		agreeSources = make(map[Source]bool)
	)
	for i, s := range fresh {
		if s.Direction != direction {
			continue
		}
		confirming++
		agreeWeight += weights[i]
		agreeConf += weights[i] * s.Confidence
		sources = append(sources, s.Source)
		agreeSources[s.Source] = true
		if s.Reason != "" {
			reasons = append(reasons, s.Reason)
		}
	}
	if agreeWeight <= 0 {
		return nil
	}

	avgWeight := totalWeight / float64(counted)
	voteTotal := voteLong + voteShort
	strength := math.Abs(diff) / voteTotal * 100
	strength += math.Min(15, float64(confirming)*3*avgWeight)
	strength = math.Min(100, strength)

	confidence := agreeConf / agreeWeight
	confidence += a.comboBoost(agreeSources, snap)

	// Session and weekend multipliers apply exactly once, here. Risk
	// validation consumes the adjusted confidence as-is.
	session := market.ClassifySession(now)
	confidence *= session.ConfidenceMultiplier * market.WeekendConfidenceMultiplier(now)
	confidence = clamp(confidence, 0, 100)

	minConfirming := a.MinConfirmingFor(asset, strength, confidence, confirming)
	if confirming < minConfirming {
		a.logger.Debug().
			Str("asset", asset).
			Int("confirming", confirming).
			Int("required", minConfirming).
			Msg("Confirming-count gate not met")
		return nil
	}

	return &Aggregated{
		Asset:               asset,
		Direction:           direction,
		Strength:            strength,
		Confidence:          confidence,
		ConfirmingCount:     confirming,
		ContributingSources: sources,
		Reasons:             reasons,
		GeneratedAt:         now,
	}
}

// comboBoost rewards source combinations that historically compound:
// positioning plus flow, funding plus open interest, a cascade confirmed
// by volume, and cross-venue funding agreement. Total capped at +40.
func (a *Aggregator) comboBoost(agreeing map[Source]bool, snap *market.Snapshot) float64 {
	var boost float64
	if agreeing[SourceTopTraders] && (agreeing[SourceTakerFlow] || agreeing[SourceExchangeFlows]) {
		boost += 10
	}
	if agreeing[SourceFundingExtreme] && agreeing[SourceOpenInterest] {
		boost += 15
	}
	if (agreeing[SourceLiquidationCascade] || agreeing[SourceLiquidationPressure]) &&
		snap != nil && snap.VolumeRatio >= 2.0 {
		boost += 25
	}
	if agreeing[SourceCrossVenueFunding] && agreeing[SourceFundingExtreme] {
		boost += 15
	}
	return math.Min(40, boost)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
