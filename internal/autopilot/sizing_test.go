package autopilot

import (
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"paper-trading-engine/config"
	"paper-trading-engine/internal/bandit"
	"paper-trading-engine/internal/goal"
	"paper-trading-engine/internal/journal"
	"paper-trading-engine/internal/market"
	"paper-trading-engine/internal/positions"
	"paper-trading-engine/internal/risk"
	"paper-trading-engine/internal/signal"
)

// neutralTime is a weekday mid-European session: no session-open,
// size-multiplier or weekend effects.
var neutralTime = time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)

func testConfig() config.Config {
	return config.Config{
		EngineConfig: config.EngineConfig{
			Assets:           []string{"BTC", "ETH"},
			InitialBalance:   10000,
			MaxStateAgeHours: 24,
		},
		SignalConfig: config.SignalConfig{
			MinStrength:             40,
			MinConfidence:           35,
			MinConfirming:           3,
			MinConfirmingSecondary:  2,
			StrongStrength:          60,
			HighConfidence:          55,
			MinConfirmingWhenStrong: 2,
			StaleAfterSecs:          300,
			CascadeStaleAfterSecs:   120,
			BookImbalanceThreshold:  0.2,
		},
		RiskConfig: config.RiskConfig{
			MaxPositionSizePct:  10,
			MaxTotalExposurePct: 30,
			MaxLeverage:         5,
			MaxDailyLossPct:     5,
			MaxDrawdownPct:      15,
			CooldownMinutes:     30,
			DefaultStopLossPct:  2,
			DefaultLeverage:     3,
			TakeProfitLadder:    []float64{2, 3},
		},
		GoalConfig: config.GoalConfig{
			DailyTargetUSD:       500,
			MonthlyTargetUSD:     10000,
			ExpectedTradesPerDay: 10,
			RiskPerTradePct:      2,
			TargetRiskReward:     2,
		},
	}
}

func newTestEngine(cfg config.Config) *Engine {
	nop := zerolog.Nop()
	tradeJournal := journal.New(nil, nop)
	return NewEngine(cfg, Deps{
		Risk:      risk.NewManager(cfg.RiskConfig, cfg.SignalConfig, nop),
		Goals:     goal.NewTracker(cfg.GoalConfig, cfg.RiskConfig, tradeJournal, nop),
		Positions: positions.NewManager(cfg.EngineConfig, cfg.FeesConfig, cfg.RiskConfig.Aggressive, nop),
		Journal:   tradeJournal,
		Bandit:    bandit.New([]string{"funding_extreme", "open_interest"}, nop),
	}, nop)
}

func neutralSnapshot() *market.Snapshot {
	return &market.Snapshot{Asset: "BTC", Price: 65000, VolumeRatio: 1.0}
}

func longSignal() *signal.Aggregated {
	return &signal.Aggregated{
		Asset:           "BTC",
		Direction:       signal.DirectionLong,
		Strength:        75,
		Confidence:      60,
		ConfirmingCount: 3,
	}
}

func TestCalculateSizeBase(t *testing.T) {
	e := newTestEngine(testConfig())
	size, leverage, factors := e.calculateSize(longSignal(), neutralSnapshot(), 10000, neutralTime)

	if size != 500 {
		t.Errorf("size = %.2f, want base 500 (5%% of 10000)", size)
	}
	if leverage <= 0 || leverage > 5 {
		t.Errorf("leverage = %.2f, out of bounds", leverage)
	}
	if len(factors) == 0 || !strings.Contains(factors[0], "base") {
		t.Errorf("factors = %v, want base factor first", factors)
	}
}

func TestCalculateSizeVolatilityAndVolume(t *testing.T) {
	e := newTestEngine(testConfig())

	snap := neutralSnapshot()
	dvol := 90.0
	snap.DVOL = &dvol
	size, _, _ := e.calculateSize(longSignal(), snap, 10000, neutralTime)
	if size != 250 {
		t.Errorf("extreme DVOL size = %.2f, want 250 (halved)", size)
	}

	// Altcoins have no DVOL reduction even when the index is extreme.
	altSignal := longSignal()
	altSignal.Asset = "SOL"
	size, _, _ = e.calculateSize(altSignal, snap, 10000, neutralTime)
	if size != 500 {
		t.Errorf("altcoin size = %.2f, want 500 (DVOL ignored)", size)
	}

	snap = neutralSnapshot()
	snap.VolumeRatio = 2.2
	size, _, _ = e.calculateSize(longSignal(), snap, 10000, neutralTime)
	if size != 600 {
		t.Errorf("volume surge size = %.2f, want 600", size)
	}

	snap.VolumeRatio = 0.4
	size, _, _ = e.calculateSize(longSignal(), snap, 10000, neutralTime)
	if size != 250 {
		t.Errorf("dead volume size = %.2f, want 250", size)
	}
}

func TestCalculateSizeContrarianSentiment(t *testing.T) {
	e := newTestEngine(testConfig())
	snap := neutralSnapshot()
	fg := 10.0
	snap.FearGreed = &fg

	size, _, _ := e.calculateSize(longSignal(), snap, 10000, neutralTime)
	if size != 650 {
		t.Errorf("extreme fear long size = %.2f, want 650 (1.3x)", size)
	}

	short := longSignal()
	short.Direction = signal.DirectionShort
	size, _, _ = e.calculateSize(short, snap, 10000, neutralTime)
	if size != 350 {
		t.Errorf("extreme fear short size = %.2f, want 350 (0.7x)", size)
	}
}

func TestCalculateSizeSessionOpenChop(t *testing.T) {
	e := newTestEngine(testConfig())
	usOpen := time.Date(2026, 8, 26, 13, 10, 0, 0, time.UTC)

	size, _, factors := e.calculateSize(longSignal(), neutralSnapshot(), 10000, usOpen)
	if size != 400 {
		t.Errorf("session open size = %.2f, want 400 (0.8x)", size)
	}
	found := false
	for _, f := range factors {
		if strings.Contains(f, "session open") {
			found = true
		}
	}
	if !found {
		t.Errorf("factors = %v, missing session open reduction", factors)
	}
}

func TestCalculateSizeGoalCap(t *testing.T) {
	e := newTestEngine(testConfig())
	// At $1M the 5% base would be $50k; the goal tracker's sizing math
	// allows far less for a $500/day target.
	size, _, factors := e.calculateSize(longSignal(), neutralSnapshot(), 1000000, neutralTime)
	if size >= 50000 {
		t.Errorf("size = %.2f, goal cap not applied", size)
	}
	found := false
	for _, f := range factors {
		if strings.Contains(f, "goal") {
			found = true
		}
	}
	if !found {
		t.Errorf("factors = %v, missing goal cap", factors)
	}
}

func TestCalculateSizeStreak(t *testing.T) {
	e := newTestEngine(testConfig())
	for i := 0; i < 3; i++ {
		e.streak.record(true)
	}
	size, _, _ := e.calculateSize(longSignal(), neutralSnapshot(), 10000, neutralTime)
	if size != 600 {
		t.Errorf("win streak size = %.2f, want 600 (1.2x)", size)
	}

	e2 := newTestEngine(testConfig())
	for i := 0; i < 3; i++ {
		e2.streak.record(false)
	}
	size, _, _ = e2.calculateSize(longSignal(), neutralSnapshot(), 10000, neutralTime)
	if size != 350 {
		t.Errorf("loss streak size = %.2f, want 350 (0.7x)", size)
	}
}

func TestStreakTrackerMultiplier(t *testing.T) {
	tests := []struct {
		name     string
		outcomes []bool
		want     float64
	}{
		{"empty", nil, 1.0},
		{"two wins", []bool{true, true}, 1.0},
		{"three wins", []bool{true, true, true}, winStreakMultiplier},
		{"three losses", []bool{false, false, false}, lossStreakMultiplier},
		{"loss run after win", []bool{true, false, false, false}, lossStreakMultiplier},
		{"streak broken", []bool{false, false, true}, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s streakTracker
			for _, win := range tt.outcomes {
				s.record(win)
			}
			if got := s.multiplier(); got != tt.want {
				t.Errorf("multiplier = %.1f, want %.1f", got, tt.want)
			}
		})
	}
}

func TestStreakTrackerWindow(t *testing.T) {
	var s streakTracker
	for i := 0; i < 4; i++ {
		s.record(false)
	}
	for i := 0; i < 5; i++ {
		s.record(true)
	}
	snap := s.snapshot()
	if len(snap) != streakWindow {
		t.Fatalf("window = %d outcomes, want %d", len(snap), streakWindow)
	}
	if s.multiplier() != winStreakMultiplier {
		t.Errorf("multiplier = %.1f, old losses leaked into window", s.multiplier())
	}

	var restored streakTracker
	restored.restore(snap)
	if restored.multiplier() != winStreakMultiplier {
		t.Error("restore dropped the streak")
	}
}

func TestFearGreedMultiplier(t *testing.T) {
	tests := []struct {
		fg        float64
		direction signal.Direction
		want      float64
	}{
		{10, signal.DirectionLong, 1.3},
		{10, signal.DirectionShort, 0.7},
		{30, signal.DirectionLong, 1.15},
		{30, signal.DirectionShort, 1.0},
		{50, signal.DirectionLong, 1.0},
		{85, signal.DirectionLong, 0.7},
		{85, signal.DirectionShort, 1.2},
	}
	for _, tt := range tests {
		got, _ := fearGreedMultiplier(tt.fg, tt.direction)
		if got != tt.want {
			t.Errorf("fearGreedMultiplier(%.0f, %s) = %.2f, want %.2f", tt.fg, tt.direction, got, tt.want)
		}
	}
}

func TestIsSessionOpen(t *testing.T) {
	tests := []struct {
		hour, minute int
		want         bool
	}{
		{0, 0, true},
		{0, 29, true},
		{0, 30, false},
		{7, 15, true},
		{13, 29, true},
		{12, 10, false},
		{14, 0, false},
	}
	for _, tt := range tests {
		ts := time.Date(2026, 8, 26, tt.hour, tt.minute, 0, 0, time.UTC)
		if got := isSessionOpen(ts); got != tt.want {
			t.Errorf("isSessionOpen(%02d:%02d) = %v, want %v", tt.hour, tt.minute, got, tt.want)
		}
	}
}
