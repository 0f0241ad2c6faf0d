package autopilot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"paper-trading-engine/config"
	"paper-trading-engine/internal/bandit"
	"paper-trading-engine/internal/goal"
	"paper-trading-engine/internal/journal"
	"paper-trading-engine/internal/positions"
	"paper-trading-engine/internal/risk"
)

type memStore struct {
	saved   *EngineState
	loadErr error
}

func (m *memStore) SaveEngineState(ctx context.Context, state EngineState) error {
	m.saved = &state
	return nil
}

func (m *memStore) LoadEngineState(ctx context.Context) (*EngineState, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.saved, nil
}

func newStoreEngine(cfg config.Config, store StateStore) *Engine {
	nop := zerolog.Nop()
	tradeJournal := journal.New(nil, nop)
	return NewEngine(cfg, Deps{
		Risk:      risk.NewManager(cfg.RiskConfig, cfg.SignalConfig, nop),
		Goals:     goal.NewTracker(cfg.GoalConfig, cfg.RiskConfig, tradeJournal, nop),
		Positions: positions.NewManager(cfg.EngineConfig, cfg.FeesConfig, cfg.RiskConfig.Aggressive, nop),
		Journal:   tradeJournal,
		Bandit:    bandit.New([]string{"funding_extreme", "open_interest"}, nop),
		Store:     store,
	}, nop)
}

func TestStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	cfg := testConfig()

	e1 := newStoreEngine(cfg, store)
	e1.risk.Pause("manual halt")
	e1.goals.RecordTrade(150)
	e1.goals.RecordTrade(-40)
	for i := 0; i < 3; i++ {
		e1.streak.record(true)
	}
	e1.journal.RecordEntry(ctx, journal.Entry{
		PositionID: "pos-1",
		Asset:      "BTC",
		Direction:  "long",
		Timestamp:  time.Now(),
	})
	e1.persistState(ctx)

	if store.saved == nil {
		t.Fatal("persistState wrote nothing")
	}
	if store.saved.SavedAt.IsZero() {
		t.Error("SavedAt not stamped")
	}

	e2 := newStoreEngine(cfg, store)
	if err := e2.restoreState(ctx); err != nil {
		t.Fatalf("restoreState: %v", err)
	}

	if !e2.risk.IsPaused() {
		t.Error("pause state lost across restart")
	}
	progress := e2.goals.GetProgress(0, neutralTime)
	if progress.Daily.Current != 110 {
		t.Errorf("restored daily pnl = %.0f, want 110", progress.Daily.Current)
	}
	if e2.streak.multiplier() != winStreakMultiplier {
		t.Error("streak lost across restart")
	}
	if len(e2.journal.EntriesForPersistence()) != 1 {
		t.Errorf("restored journal has %d entries, want 1", len(e2.journal.EntriesForPersistence()))
	}
}

func TestRestoreDiscardsStaleState(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	cfg := testConfig()

	e1 := newStoreEngine(cfg, store)
	e1.risk.Pause("manual halt")
	e1.persistState(ctx)
	store.saved.SavedAt = time.Now().Add(-25 * time.Hour)

	e2 := newStoreEngine(cfg, store)
	if err := e2.restoreState(ctx); err != nil {
		t.Fatalf("restoreState: %v", err)
	}
	if e2.risk.IsPaused() {
		t.Error("stale snapshot was restored")
	}
}

func TestRestoreMissingAndNilStore(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()

	e := newStoreEngine(cfg, &memStore{})
	if err := e.restoreState(ctx); err != nil {
		t.Errorf("empty store should restore clean, got %v", err)
	}

	noStore := newStoreEngine(cfg, nil)
	if err := noStore.restoreState(ctx); err != nil {
		t.Errorf("nil store restore: %v", err)
	}
	noStore.persistState(ctx) // must not panic
}

func TestRestorePropagatesLoadError(t *testing.T) {
	ctx := context.Background()
	loadErr := errors.New("redis down")
	e := newStoreEngine(testConfig(), &memStore{loadErr: loadErr})
	if err := e.restoreState(ctx); !errors.Is(err, loadErr) {
		t.Errorf("restoreState err = %v, want %v", err, loadErr)
	}
}
