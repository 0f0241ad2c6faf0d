package risk

import (
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"paper-trading-engine/config"
	"paper-trading-engine/internal/signal"
)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxPositionSizePct:  10,
		MaxTotalExposurePct: 30,
		MaxLeverage:         5,
		MaxDailyLossPct:     5,
		MaxDrawdownPct:      15,
		CooldownMinutes:     30,
	}
}

func testSignalConfig() config.SignalConfig {
	return config.SignalConfig{
		MinStrength:             40,
		MinConfidence:           35,
		MinConfirming:           3,
		MinConfirmingSecondary:  2,
		StrongStrength:          60,
		HighConfidence:          55,
		MinConfirmingWhenStrong: 2,
	}
}

func newTestManager() *Manager {
	return NewManager(testRiskConfig(), testSignalConfig(), zerolog.Nop())
}

func validSignal() *signal.Aggregated {
	return &signal.Aggregated{
		Asset:           "BTC",
		Direction:       signal.DirectionLong,
		Strength:        55,
		Confidence:      60,
		ConfirmingCount: 3,
	}
}

func TestValidateSignalAccepts(t *testing.T) {
	m := newTestManager()
	res := m.ValidateSignal(validSignal(), time.Now())
	if !res.Valid {
		t.Fatalf("expected valid, got %q", res.Reason)
	}
}

func TestValidateSignalRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*signal.Aggregated)
		want   string
	}{
		{"neutral direction", func(a *signal.Aggregated) { a.Direction = signal.DirectionNeutral }, "direction"},
		{"weak strength", func(a *signal.Aggregated) { a.Strength = 39 }, "strength"},
		{"low confidence", func(a *signal.Aggregated) { a.Confidence = 34 }, "confidence"},
		{"too few confirming", func(a *signal.Aggregated) { a.ConfirmingCount = 2 }, "confirming"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager()
			agg := validSignal()
			tt.mutate(agg)
			res := m.ValidateSignal(agg, time.Now())
			if res.Valid {
				t.Fatal("expected rejection")
			}
			if !strings.Contains(strings.ToLower(res.Reason), tt.want) {
				t.Errorf("reason %q does not mention %q", res.Reason, tt.want)
			}
		})
	}
}

func TestValidateSignalNil(t *testing.T) {
	m := newTestManager()
	if res := m.ValidateSignal(nil, time.Now()); res.Valid {
		t.Fatal("nil signal accepted")
	}
}

func TestValidateSignalStrongOverride(t *testing.T) {
	m := newTestManager()
	agg := validSignal()
	agg.Strength = 70
	agg.Confidence = 60
	agg.ConfirmingCount = 2

	if res := m.ValidateSignal(agg, time.Now()); !res.Valid {
		t.Errorf("strong signal with 2 confirming rejected: %q", res.Reason)
	}

	// Below the override quality it falls back to the regular floor.
	agg.Strength = 50
	if res := m.ValidateSignal(agg, time.Now()); res.Valid {
		t.Error("ordinary signal with 2 confirming accepted")
	}
}

func TestValidateSignalSecondaryAsset(t *testing.T) {
	m := newTestManager()
	agg := validSignal()
	agg.Asset = "HYPE"
	agg.ConfirmingCount = 2

	if res := m.ValidateSignal(agg, time.Now()); !res.Valid {
		t.Errorf("secondary asset with 2 confirming rejected: %q", res.Reason)
	}
}

func TestValidateSignalPausedWinsOverQuality(t *testing.T) {
	m := newTestManager()
	m.Pause("maintenance")

	res := m.ValidateSignal(validSignal(), time.Now())
	if res.Valid {
		t.Fatal("paused manager accepted signal")
	}
	if !strings.Contains(res.Reason, "maintenance") {
		t.Errorf("reason %q does not carry the pause reason", res.Reason)
	}
}

func TestCooldownBlocksAndSelfExpires(t *testing.T) {
	m := newTestManager()
	m.TriggerCooldown("trade loss")

	now := time.Now()
	res := m.ValidateSignal(validSignal(), now)
	if res.Valid {
		t.Fatal("signal accepted during cooldown")
	}
	if !strings.Contains(res.Reason, "Cooldown") {
		t.Errorf("reason = %q, want cooldown mention", res.Reason)
	}

	later := now.Add(31 * time.Minute)
	if m.InCooldown(later) {
		t.Error("cooldown did not self-expire")
	}
	if res := m.ValidateSignal(validSignal(), later); !res.Valid {
		t.Errorf("signal rejected after cooldown expiry: %q", res.Reason)
	}
}

func TestDailyLossTripsBreaker(t *testing.T) {
	m := newTestManager()
	m.UpdateDailyPnl(-600, 10000) // -6% against a 5% limit

	state := m.GetState()
	if !state.CircuitBreakerActive {
		t.Fatal("breaker not tripped on daily loss")
	}
	if res := m.ValidateSignal(validSignal(), time.Now()); res.Valid {
		t.Error("signal accepted with breaker active")
	}
}

func TestDrawdownTripsBreaker(t *testing.T) {
	m := newTestManager()
	m.UpdateDrawdown(10000) // establish peak
	m.UpdateDrawdown(8000)  // -20% against a 15% limit

	state := m.GetState()
	if !state.CircuitBreakerActive {
		t.Fatal("breaker not tripped on drawdown")
	}
	if state.CurrentDrawdownPct != 20 {
		t.Errorf("drawdown = %.1f%%, want 20%%", state.CurrentDrawdownPct)
	}
}

func TestResetDailyClearsOnlyDailyLossBreaker(t *testing.T) {
	m := newTestManager()
	m.UpdateDailyPnl(-600, 10000)
	m.ResetDaily()

	state := m.GetState()
	if state.CircuitBreakerActive {
		t.Error("daily-loss breaker survived the daily reset")
	}
	if state.DailyPnl != 0 || state.TodayTradeCount != 0 {
		t.Errorf("daily counters not cleared: %+v", state)
	}

	// A drawdown breaker needs a manual resume.
	m2 := newTestManager()
	m2.UpdateDrawdown(10000)
	m2.UpdateDrawdown(8000)
	m2.ResetDaily()
	if !m2.GetState().CircuitBreakerActive {
		t.Error("drawdown breaker cleared by daily reset")
	}
	m2.Resume()
	if m2.GetState().CircuitBreakerActive {
		t.Error("resume did not clear the breaker")
	}
}

func TestValidateTradeLeverage(t *testing.T) {
	m := newTestManager()
	res := m.ValidateTrade(TradeParams{SizeUSD: 500, Leverage: 6, PortfolioValue: 10000})
	if res.Valid {
		t.Error("6x leverage accepted against 5x limit")
	}
	res = m.ValidateTrade(TradeParams{SizeUSD: 500, Leverage: 0, PortfolioValue: 10000})
	if res.Valid {
		t.Error("zero leverage accepted")
	}
}

func TestValidateTradePositionCapAdjustsSize(t *testing.T) {
	m := newTestManager()
	// Margin 5000/2 = 2500 against a cap of 10% of 10000 = 1000.
	res := m.ValidateTrade(TradeParams{SizeUSD: 5000, Leverage: 2, PortfolioValue: 10000})
	if !res.Valid {
		t.Fatalf("expected valid with adjusted size, got %q", res.Reason)
	}
	if res.AdjustedSize != 2000 {
		t.Errorf("adjusted size = %.0f, want 2000 (1000 margin x 2)", res.AdjustedSize)
	}
}

func TestValidateTradeExposureCap(t *testing.T) {
	m := newTestManager()
	// Cap 30% of 10000 = 3000 margin. 2500 committed leaves 500.
	res := m.ValidateTrade(TradeParams{SizeUSD: 2000, Leverage: 2, PortfolioValue: 10000, CurrentExposure: 2500})
	if !res.Valid {
		t.Fatalf("expected valid with adjusted size, got %q", res.Reason)
	}
	if res.AdjustedSize != 1000 {
		t.Errorf("adjusted size = %.0f, want 1000 (500 margin x 2)", res.AdjustedSize)
	}

	// No room left at all.
	res = m.ValidateTrade(TradeParams{SizeUSD: 2000, Leverage: 2, PortfolioValue: 10000, CurrentExposure: 3000})
	if res.Valid {
		t.Error("trade accepted at full exposure")
	}
}

func TestValidateTradeWithinLimits(t *testing.T) {
	m := newTestManager()
	res := m.ValidateTrade(TradeParams{SizeUSD: 1500, Leverage: 3, PortfolioValue: 10000, CurrentExposure: 1000})
	if !res.Valid {
		t.Fatalf("expected valid, got %q", res.Reason)
	}
	if res.AdjustedSize != 0 {
		t.Errorf("adjusted size = %.0f, want 0 (no adjustment)", res.AdjustedSize)
	}
}

func TestRecordLossStartsCooldown(t *testing.T) {
	m := newTestManager()
	m.RecordLoss(50, 10000)
	if !m.InCooldown(time.Now()) {
		t.Error("no cooldown after a loss")
	}

	m2 := newTestManager()
	m2.RecordWin(50, 10000)
	if m2.InCooldown(time.Now()) {
		t.Error("cooldown after a win")
	}
	if m2.GetState().DailyPnl != 50 {
		t.Errorf("daily pnl = %.1f, want 50", m2.GetState().DailyPnl)
	}
}

func TestUpdateLimitsMergesNonZero(t *testing.T) {
	m := newTestManager()
	m.UpdateLimits(Limits{MaxLeverage: 10})

	limits := m.GetLimits()
	if limits.MaxLeverage != 10 {
		t.Errorf("max leverage = %.1f, want 10", limits.MaxLeverage)
	}
	if limits.MaxDailyLossPct != 5 {
		t.Errorf("untouched limit changed: %.1f", limits.MaxDailyLossPct)
	}
}

func TestRestoreStateKeepsPause(t *testing.T) {
	m := newTestManager()
	m.Pause("pre-restart pause")
	state := m.StateForPersistence()

	restored := newTestManager()
	restored.RestoreState(state)
	if !restored.IsPaused() {
		t.Error("restored manager not paused")
	}
}
