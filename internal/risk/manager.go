// Package risk enforces trading limits and circuit breakers for the
// paper engine: signal quality gates, margin-based position and
// exposure caps, daily-loss and drawdown breakers, and the post-loss
// cooldown.
package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"paper-trading-engine/config"
	"paper-trading-engine/internal/market"
	"paper-trading-engine/internal/signal"
)

// Limits are the configured risk boundaries.
type Limits struct {
	MaxPositionSizePct  float64 `json:"max_position_size_pct"`
	MaxTotalExposurePct float64 `json:"max_total_exposure_pct"`
	MaxLeverage         float64 `json:"max_leverage"`
	MaxDailyLossPct     float64 `json:"max_daily_loss_pct"`
	MaxDrawdownPct      float64 `json:"max_drawdown_pct"`
	MinSignalStrength   float64 `json:"min_signal_strength"`
	MinSignalConfidence float64 `json:"min_signal_confidence"`
	MinConfirming       int     `json:"min_confirming"`
	Cooldown            time.Duration `json:"cooldown"`
}

// State is the live risk state. It persists across restarts; cooldowns
// self-expire by timestamp so a stale snapshot cannot pin the engine.
type State struct {
	IsPaused             bool       `json:"is_paused"`
	PauseReason          string     `json:"pause_reason,omitempty"`
	DailyPnl             float64    `json:"daily_pnl"`
	DailyPnlPct          float64    `json:"daily_pnl_pct"`
	CurrentDrawdown      float64    `json:"current_drawdown"`
	CurrentDrawdownPct   float64    `json:"current_drawdown_pct"`
	PeakPortfolioValue   float64    `json:"peak_portfolio_value"`
	CircuitBreakerActive bool       `json:"circuit_breaker_active"`
	CooldownExpiresAt    *time.Time `json:"cooldown_expires_at,omitempty"`
	LastTradeAt          *time.Time `json:"last_trade_at,omitempty"`
	TodayTradeCount      int        `json:"today_trade_count"`
	LastUpdate           time.Time  `json:"last_update"`
}

// ValidationResult is the outcome of a signal or trade check.
type ValidationResult struct {
	Valid        bool    `json:"valid"`
	Reason       string  `json:"reason"`
	AdjustedSize float64 `json:"adjusted_size,omitempty"` // Non-zero when size was reduced to fit limits
}

// SignalThresholds carries the aggregator thresholds the manager shares
// with the signal layer (strong-signal override, secondary assets).
type SignalThresholds struct {
	StrongStrength          float64
	HighConfidence          float64
	MinConfirmingWhenStrong int
	MinConfirmingSecondary  int
	SecondaryAssets         map[string]bool
}

// Manager enforces limits and tracks breaker state.
type Manager struct {
	mu         sync.RWMutex
	limits     Limits
	thresholds SignalThresholds
	state      State
	logger     zerolog.Logger
}

// NewManager builds a risk manager from config.
func NewManager(riskCfg config.RiskConfig, sigCfg config.SignalConfig, logger zerolog.Logger) *Manager {
	return &Manager{
		limits: Limits{
			MaxPositionSizePct:  riskCfg.MaxPositionSizePct,
			MaxTotalExposurePct: riskCfg.MaxTotalExposurePct,
			MaxLeverage:         riskCfg.MaxLeverage,
			MaxDailyLossPct:     riskCfg.MaxDailyLossPct,
			MaxDrawdownPct:      riskCfg.MaxDrawdownPct,
			MinSignalStrength:   sigCfg.MinStrength,
			MinSignalConfidence: sigCfg.MinConfidence,
			MinConfirming:       sigCfg.MinConfirming,
			Cooldown:            time.Duration(riskCfg.CooldownMinutes) * time.Minute,
		},
		thresholds: SignalThresholds{
			StrongStrength:          sigCfg.StrongStrength,
			HighConfidence:          sigCfg.HighConfidence,
			MinConfirmingWhenStrong: sigCfg.MinConfirmingWhenStrong,
			MinConfirmingSecondary:  sigCfg.MinConfirmingSecondary,
			SecondaryAssets:         map[string]bool{"HYPE": true},
		},
		state: State{LastUpdate: time.Now()},
		logger: logger.With().Str("component", "RiskManager").Logger(),
	}
}

// GetState returns a copy of the current risk state.
func (m *Manager) GetState() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// GetLimits returns a copy of the current limits.
func (m *Manager) GetLimits() Limits {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.limits
}

// UpdateLimits merges non-zero fields into the current limits.
func (m *Manager) UpdateLimits(l Limits) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l.MaxPositionSizePct > 0 {
		m.limits.MaxPositionSizePct = l.MaxPositionSizePct
	}
	if l.MaxTotalExposurePct > 0 {
		m.limits.MaxTotalExposurePct = l.MaxTotalExposurePct
	}
	if l.MaxLeverage > 0 {
		m.limits.MaxLeverage = l.MaxLeverage
	}
	if l.MaxDailyLossPct > 0 {
		m.limits.MaxDailyLossPct = l.MaxDailyLossPct
	}
	if l.MaxDrawdownPct > 0 {
		m.limits.MaxDrawdownPct = l.MaxDrawdownPct
	}
	if l.MinSignalStrength > 0 {
		m.limits.MinSignalStrength = l.MinSignalStrength
	}
	if l.MinSignalConfidence > 0 {
		m.limits.MinSignalConfidence = l.MinSignalConfidence
	}
	if l.MinConfirming > 0 {
		m.limits.MinConfirming = l.MinConfirming
	}
	if l.Cooldown > 0 {
		m.limits.Cooldown = l.Cooldown
	}
	m.logger.Info().Msg("Risk limits updated")
}

// Pause suspends trading with a reason.
func (m *Manager) Pause(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.IsPaused = true
	m.state.PauseReason = reason
	m.state.LastUpdate = time.Now()
	m.logger.Info().Str("reason", reason).Msg("Trading paused")
}

// Resume clears any pause and circuit breaker.
func (m *Manager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.IsPaused = false
	m.state.PauseReason = ""
	m.state.CircuitBreakerActive = false
	m.state.LastUpdate = time.Now()
	m.logger.Info().Msg("Trading resumed")
}

// IsPaused reports whether trading is currently suspended.
func (m *Manager) IsPaused() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.IsPaused
}

// ValidateSignal applies the quality gates to an aggregated signal.
// Session and weekend adjustments are already baked into the signal's
// confidence by the aggregator and are not re-applied here.
func (m *Manager) ValidateSignal(agg *signal.Aggregated, now time.Time) ValidationResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if agg == nil {
		return ValidationResult{Valid: false, Reason: "no aggregated signal"}
	}

	if m.state.IsPaused {
		reason := m.state.PauseReason
		if reason == "" {
			reason = "manual pause"
		}
		return ValidationResult{Valid: false, Reason: fmt.Sprintf("Trading paused: %s", reason)}
	}

	if m.state.CircuitBreakerActive {
		return ValidationResult{Valid: false, Reason: "Circuit breaker active"}
	}

	if m.state.CooldownExpiresAt != nil {
		if now.Before(*m.state.CooldownExpiresAt) {
			remaining := int(math.Ceil(m.state.CooldownExpiresAt.Sub(now).Minutes()))
			return ValidationResult{Valid: false, Reason: fmt.Sprintf("Cooldown active: %dm remaining", remaining)}
		}
		m.state.CooldownExpiresAt = nil
	}

	if agg.Direction == signal.DirectionNeutral {
		return ValidationResult{Valid: false, Reason: "No clear direction signal"}
	}

	if agg.Strength < m.limits.MinSignalStrength {
		return ValidationResult{Valid: false, Reason: fmt.Sprintf(
			"Signal strength %.0f%% below minimum %.0f%%", agg.Strength, m.limits.MinSignalStrength)}
	}

	if agg.Confidence < m.limits.MinSignalConfidence {
		return ValidationResult{Valid: false, Reason: fmt.Sprintf(
			"Signal confidence %.0f%% below minimum %.0f%%", agg.Confidence, m.limits.MinSignalConfidence)}
	}

	minConfirming := m.minConfirmingFor(agg)
	if agg.ConfirmingCount < minConfirming {
		return ValidationResult{Valid: false, Reason: fmt.Sprintf(
			"Only %d confirming signals, need %d", agg.ConfirmingCount, minConfirming)}
	}

	return ValidationResult{Valid: true, Reason: "Signal meets all criteria"}
}

// minConfirmingFor mirrors the aggregator's asset and strong-signal
// overrides so a signal that passed the gate there does not bounce here.
func (m *Manager) minConfirmingFor(agg *signal.Aggregated) int {
	if m.thresholds.SecondaryAssets[agg.Asset] {
		return m.thresholds.MinConfirmingSecondary
	}
	strong := agg.Strength >= m.thresholds.StrongStrength &&
		agg.Confidence >= m.thresholds.HighConfidence
	if strong && agg.ConfirmingCount >= m.thresholds.MinConfirmingWhenStrong {
		return m.thresholds.MinConfirmingWhenStrong
	}
	return m.limits.MinConfirming
}

// TradeParams describe the trade to validate.
type TradeParams struct {
	SizeUSD         float64
	Leverage        float64
	PortfolioValue  float64
	CurrentExposure float64 // Sum of open position margins
}

// ValidateTrade checks a proposed trade against margin-based limits.
// When a cap binds, the trade stays valid with AdjustedSize reduced to
// fit instead of being rejected outright.
func (m *Manager) ValidateTrade(p TradeParams) ValidationResult {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.state.IsPaused {
		reason := m.state.PauseReason
		if reason == "" {
			reason = "manual pause"
		}
		return ValidationResult{Valid: false, Reason: fmt.Sprintf("Trading paused: %s", reason)}
	}
	if m.state.CircuitBreakerActive {
		return ValidationResult{Valid: false, Reason: "Circuit breaker active"}
	}

	if p.Leverage > m.limits.MaxLeverage {
		return ValidationResult{Valid: false, Reason: fmt.Sprintf(
			"Leverage %.1fx exceeds maximum %.1fx", p.Leverage, m.limits.MaxLeverage)}
	}
	if p.Leverage <= 0 {
		return ValidationResult{Valid: false, Reason: "Leverage must be positive"}
	}

	positionMargin := p.SizeUSD / p.Leverage

	maxPositionMargin := p.PortfolioValue * m.limits.MaxPositionSizePct / 100
	if positionMargin > maxPositionMargin {
		if maxPositionMargin <= 0 {
			return ValidationResult{Valid: false, Reason: "Insufficient margin allowance for new position"}
		}
		return ValidationResult{
			Valid:        true,
			Reason:       fmt.Sprintf("Position margin reduced to %.0f%% of portfolio", m.limits.MaxPositionSizePct),
			AdjustedSize: maxPositionMargin * p.Leverage,
		}
	}

	maxExposure := p.PortfolioValue * m.limits.MaxTotalExposurePct / 100
	if p.CurrentExposure+positionMargin > maxExposure {
		availableMargin := maxExposure - p.CurrentExposure
		if availableMargin <= 0 {
			return ValidationResult{Valid: false, Reason: "Maximum total exposure reached"}
		}
		return ValidationResult{
			Valid:        true,
			Reason:       "Position margin reduced to fit exposure limits",
			AdjustedSize: availableMargin * p.Leverage,
		}
	}

	return ValidationResult{Valid: true, Reason: "Trade meets all risk criteria"}
}

// UpdateDailyPnl accumulates realized P&L and trips the circuit breaker
// past the daily loss limit.
func (m *Manager) UpdateDailyPnl(pnl, portfolioValue float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.DailyPnl += pnl
	if portfolioValue > 0 {
		m.state.DailyPnlPct = m.state.DailyPnl / portfolioValue * 100
	}
	m.state.LastUpdate = time.Now()

	if m.state.DailyPnlPct < -m.limits.MaxDailyLossPct {
		m.tripBreakerLocked(fmt.Sprintf("Daily loss limit hit: %.2f%%", m.state.DailyPnlPct))
	}
}

// UpdateDrawdown tracks the portfolio peak and trips the breaker past
// the drawdown limit.
func (m *Manager) UpdateDrawdown(currentValue float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if currentValue > m.state.PeakPortfolioValue {
		m.state.PeakPortfolioValue = currentValue
	}
	if m.state.PeakPortfolioValue > 0 {
		m.state.CurrentDrawdown = m.state.PeakPortfolioValue - currentValue
		m.state.CurrentDrawdownPct = m.state.CurrentDrawdown / m.state.PeakPortfolioValue * 100
	}

	if m.state.CurrentDrawdownPct > m.limits.MaxDrawdownPct {
		m.tripBreakerLocked(fmt.Sprintf("Drawdown limit hit: %.2f%%", m.state.CurrentDrawdownPct))
	}
}

func (m *Manager) tripBreakerLocked(reason string) {
	if m.state.CircuitBreakerActive {
		return
	}
	m.state.CircuitBreakerActive = true
	m.state.IsPaused = true
	m.state.PauseReason = reason
	m.logger.Warn().Str("reason", reason).Msg("Circuit breaker triggered")
}

// CurrentDrawdownPct returns the drawdown from the portfolio peak.
func (m *Manager) CurrentDrawdownPct() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.CurrentDrawdownPct
}

// TriggerCooldown starts the post-loss cooldown.
func (m *Manager) TriggerCooldown(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	expires := time.Now().Add(m.limits.Cooldown)
	m.state.CooldownExpiresAt = &expires
	m.logger.Info().
		Str("reason", reason).
		Dur("cooldown", m.limits.Cooldown).
		Msg("Cooldown triggered")
}

// InCooldown reports whether the post-loss cooldown is in effect,
// clearing it when expired.
func (m *Manager) InCooldown(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.CooldownExpiresAt == nil {
		return false
	}
	if !now.Before(*m.state.CooldownExpiresAt) {
		m.state.CooldownExpiresAt = nil
		return false
	}
	return true
}

// RecordTrade bumps the daily trade counters.
func (m *Manager) RecordTrade() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.state.LastTradeAt = &now
	m.state.TodayTradeCount++
	m.state.LastUpdate = now
}

// RecordLoss books a losing trade and starts a cooldown.
func (m *Manager) RecordLoss(lossAmount, portfolioValue float64) {
	m.UpdateDailyPnl(-math.Abs(lossAmount), portfolioValue)
	m.TriggerCooldown("trade loss")
}

// RecordWin books a winning trade.
func (m *Manager) RecordWin(profitAmount, portfolioValue float64) {
	m.UpdateDailyPnl(profitAmount, portfolioValue)
}

// ResetDaily clears daily counters at the UTC day boundary. A breaker
// tripped by the daily-loss limit clears with it; a drawdown breaker
// stays until manually resumed.
func (m *Manager) ResetDaily() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.DailyPnl = 0
	m.state.DailyPnlPct = 0
	m.state.TodayTradeCount = 0
	m.state.LastUpdate = time.Now()

	if m.state.CircuitBreakerActive && containsDailyLoss(m.state.PauseReason) {
		m.state.CircuitBreakerActive = false
		m.state.IsPaused = false
		m.state.PauseReason = ""
	}

	m.logger.Info().Msg("Daily risk stats reset")
}

func containsDailyLoss(reason string) bool {
	return len(reason) >= len("Daily loss") && reason[:len("Daily loss")] == "Daily loss"
}

// SessionModifiers returns the session- and weekend-derived multipliers
// for the given time.
func (m *Manager) SessionModifiers(now time.Time) (market.Session, float64) {
	session := market.ClassifySession(now)
	return session, market.WeekendConfidenceMultiplier(now)
}

// StateForPersistence returns a copy of the state for snapshots.
func (m *Manager) StateForPersistence() State {
	return m.GetState()
}

// RestoreState loads persisted risk state. Unknown or partial state
// fails conservative: a restored pause stays paused until resumed.
func (m *Manager) RestoreState(state State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state.LastUpdate = time.Now()
	m.state = state
	m.logger.Info().
		Bool("paused", state.IsPaused).
		Bool("breaker", state.CircuitBreakerActive).
		Msg("Risk state restored")
}
