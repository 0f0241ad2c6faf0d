// Package bandit implements Thompson-sampling weight optimization for
// signal sources. Each source is an arm with a Beta(alpha, beta)
// posterior over its win probability; sampled draws translate into vote
// weight multipliers, so better-performing sources gradually earn more
// influence while weaker ones keep a floor of exploration.
package bandit

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// Mild optimism prior (~55% win rate)
	defaultPriorAlpha = 5.0
	defaultPriorBeta  = 4.0

	// MinMultiplier and MaxMultiplier bound the sampled weight
	// multiplier; the Beta draw maps linearly onto this range.
	MinMultiplier = 0.3
	MaxMultiplier = 2.0

	// decayFactor slowly forgets old observations so the posterior can
	// track regime changes.
	decayFactor = 0.995

	// minresolvedTrades is how many resolved trades a source needs
	// before its multiplier departs from neutral.
	minResolvedTrades = 5

	sampleCacheTTL = 5 * time.Second

	stateVersion = "1.0.0"
)

// Arm holds the Beta posterior for one signal source.
type Arm struct {
	Alpha       float64   `json:"alpha"`
	Beta        float64   `json:"beta"`
	Count       int       `json:"count"` // Resolved trades observed
	LastUpdated time.Time `json:"last_updated"`
}

// ArmStats extends Arm with derived values for reporting.
type ArmStats struct {
	Arm
	WinRate    float64 `json:"win_rate"`   // Posterior mean
	Multiplier float64 `json:"multiplier"` // Deterministic multiplier from the mean
}

// State is the persistable bandit state.
type State struct {
	Version         string         `json:"version"`
	LastUpdated     time.Time      `json:"last_updated"`
	Arms            map[string]Arm `json:"arms"`
	TotalTrades     int            `json:"total_trades"`
	ExplorationRate float64        `json:"exploration_rate"`
}

// Bandit learns per-source weight multipliers online from trade outcomes.
type Bandit struct {
	mu              sync.Mutex
	arms            map[string]*Arm
	totalTrades     int
	explorationRate float64
	cached          map[string]float64
	lastSample      time.Time
	rng             *rand.Rand
	logger          zerolog.Logger
}

// New creates a bandit with fresh priors for the given sources.
func New(sources []string, logger zerolog.Logger) *Bandit {
	b := &Bandit{
		arms:            make(map[string]*Arm, len(sources)),
		explorationRate: 1.0,
		cached:          make(map[string]float64),
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:          logger.With().Str("component", "WeightBandit").Logger(),
	}
	for _, s := range sources {
		b.arms[s] = newArm()
	}
	return b
}

func newArm() *Arm {
	return &Arm{
		Alpha:       defaultPriorAlpha,
		Beta:        defaultPriorBeta,
		LastUpdated: time.Now(),
	}
}

// SampledMultiplier returns the Thompson-sampled multiplier for a
// source. Sources with fewer than five resolved trades stay at the
// neutral 1.0. Samples are cached briefly so one evaluation cycle sees
// consistent weights.
func (b *Bandit) SampledMultiplier(source string) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if now.Sub(b.lastSample) >= sampleCacheTTL {
		b.cached = make(map[string]float64, len(b.arms))
		b.lastSample = now
	}
	if m, ok := b.cached[source]; ok {
		return m
	}

	arm, ok := b.arms[source]
	if !ok {
		arm = newArm()
		b.arms[source] = arm
	}

	m := 1.0
	if arm.Count >= minResolvedTrades {
		sample := b.betaSample(arm.Alpha, arm.Beta)
		m = MinMultiplier + sample*(MaxMultiplier-MinMultiplier)
	}
	b.cached[source] = m
	return m
}

// RecordOutcome updates the posteriors after a trade resolves. The
// update magnitude scales with |pnlPct| up to 5%, so marginal trades
// move the posterior less than decisive ones. All arms decay slightly
// per outcome to favor recent evidence.
func (b *Bandit) RecordOutcome(sources []string, profitable bool, pnlPct float64) {
	if len(sources) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, arm := range b.arms {
		arm.Alpha *= decayFactor
		arm.Beta *= decayFactor
	}

	magnitude := math.Min(1, math.Abs(pnlPct)/5)
	for _, source := range sources {
		arm, ok := b.arms[source]
		if !ok {
			arm = newArm()
			b.arms[source] = arm
		}
		if profitable {
			arm.Alpha += 1 + magnitude
		} else {
			arm.Beta += 1 + magnitude
		}
		arm.Count++
		arm.LastUpdated = time.Now()
	}

	b.totalTrades++
	b.explorationRate = math.Max(0.1, 1/math.Sqrt(1+float64(b.totalTrades)/50))
	b.cached = make(map[string]float64)

	b.logger.Debug().
		Int("sources", len(sources)).
		Bool("profitable", profitable).
		Float64("pnl_pct", pnlPct).
		Msg("Bandit arms updated")
}

// RecordComboOutcome grants a bonus update when a source combination
// produced the trade. Combos get a reduced penalty on losses so one bad
// trade does not dissolve a working pairing.
func (b *Bandit) RecordComboOutcome(sources []string, profitable bool, comboName string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, source := range sources {
		arm, ok := b.arms[source]
		if !ok {
			continue
		}
		if profitable {
			arm.Alpha += 1.5
		} else {
			arm.Beta += 0.75
		}
		arm.LastUpdated = time.Now()
	}

	b.logger.Debug().
		Str("combo", comboName).
		Bool("profitable", profitable).
		Int("sources", len(sources)).
		Msg("Combo outcome recorded")
}

// ArmStats returns a snapshot of all arms with derived statistics.
func (b *Bandit) ArmStats() map[string]ArmStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := make(map[string]ArmStats, len(b.arms))
	for source, arm := range b.arms {
		mean := arm.Alpha / (arm.Alpha + arm.Beta)
		stats[source] = ArmStats{
			Arm:        *arm,
			WinRate:    mean,
			Multiplier: MinMultiplier + mean*(MaxMultiplier-MinMultiplier),
		}
	}
	return stats
}

// TopSources returns the best-performing sources with at least the
// minimum observation count, sorted by posterior win rate.
func (b *Bandit) TopSources(count int) []SourceRanking {
	return b.rankedSources(count, false)
}

// UnderperformingSources returns sources with 10+ observations whose
// posterior win rate sits below 40%.
func (b *Bandit) UnderperformingSources() []SourceRanking {
	stats := b.ArmStats()
	var out []SourceRanking
	for source, s := range stats {
		if s.Count >= 10 && s.WinRate < 0.4 {
			out = append(out, SourceRanking{Source: source, WinRate: s.WinRate, Observations: s.Count})
		}
	}
	return out
}

// SourceRanking is one row of a bandit performance report.
type SourceRanking struct {
	Source       string  `json:"source"`
	WinRate      float64 `json:"win_rate"`
	Observations int     `json:"observations"`
}

func (b *Bandit) rankedSources(count int, ascending bool) []SourceRanking {
	stats := b.ArmStats()
	var out []SourceRanking
	for source, s := range stats {
		if s.Count < minResolvedTrades {
			continue
		}
		out = append(out, SourceRanking{Source: source, WinRate: s.WinRate, Observations: s.Count})
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			better := out[j].WinRate > out[i].WinRate
			if ascending {
				better = !better
			}
			if better {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if count > 0 && len(out) > count {
		out = out[:count]
	}
	return out
}

// TotalTrades returns the number of resolved trades processed.
func (b *Bandit) TotalTrades() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalTrades
}

// ExplorationRate returns the current exploration rate (1.0 at start,
// decaying toward 0.1 as evidence accumulates).
func (b *Bandit) ExplorationRate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.explorationRate
}

// StateForPersistence returns a copy of the bandit state for snapshots.
func (b *Bandit) StateForPersistence() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	arms := make(map[string]Arm, len(b.arms))
	for source, arm := range b.arms {
		arms[source] = *arm
	}
	return State{
		Version:         stateVersion,
		LastUpdated:     time.Now(),
		Arms:            arms,
		TotalTrades:     b.totalTrades,
		ExplorationRate: b.explorationRate,
	}
}

// RestoreState loads previously persisted arms and counters.
func (b *Bandit) RestoreState(state State) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalTrades = state.TotalTrades
	if state.ExplorationRate > 0 {
		b.explorationRate = state.ExplorationRate
	}
	for source, arm := range state.Arms {
		a := arm
		b.arms[source] = &a
	}
	b.cached = make(map[string]float64)

	b.logger.Info().
		Int("arms", len(state.Arms)).
		Int("total_trades", state.TotalTrades).
		Msg("Bandit state restored")
}

// Reset restores all arms to their priors.
func (b *Bandit) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for source := range b.arms {
		b.arms[source] = newArm()
	}
	b.totalTrades = 0
	b.explorationRate = 1.0
	b.cached = make(map[string]float64)
	b.logger.Warn().Msg("Bandit reset to initial priors")
}

// betaSample draws from Beta(alpha, beta) via the gamma ratio.
func (b *Bandit) betaSample(alpha, beta float64) float64 {
	ga := b.gammaSample(alpha)
	gb := b.gammaSample(beta)
	if ga+gb == 0 {
		return 0.5
	}
	return ga / (ga + gb)
}

// gammaSample draws from Gamma(shape, 1) using Marsaglia and Tsang's
// method.
func (b *Bandit) gammaSample(shape float64) float64 {
	if shape < 1 {
		return b.gammaSample(1+shape) * math.Pow(b.rng.Float64(), 1/shape)
	}

	d := shape - 1.0/3.0
	c := 1 / math.Sqrt(9*d)

	for {
		var x, v float64
		for {
			x = b.rng.NormFloat64()
			v = 1 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := b.rng.Float64()

		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}
