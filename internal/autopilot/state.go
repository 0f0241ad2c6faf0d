package autopilot

import (
	"context"
	"time"

	"paper-trading-engine/internal/bandit"
	"paper-trading-engine/internal/goal"
	"paper-trading-engine/internal/journal"
	"paper-trading-engine/internal/positions"
	"paper-trading-engine/internal/risk"
)

// StateStore persists engine snapshots across restarts.
type StateStore interface {
	SaveEngineState(ctx context.Context, state EngineState) error
	LoadEngineState(ctx context.Context) (*EngineState, error)
}

// EngineState is the full snapshot the engine writes on the persist
// tick and on shutdown.
type EngineState struct {
	Risk        risk.State                     `json:"risk"`
	Goal        goal.State                     `json:"goal"`
	Positions   positions.State                `json:"positions"`
	Journal     []journal.Entry                `json:"journal"`
	SourceStats map[string]journal.SourceStats `json:"source_stats"`
	Bandit      bandit.State                   `json:"bandit"`
	Streak      []bool                         `json:"streak"`
	SavedAt     time.Time                      `json:"saved_at"`
}

func (e *Engine) persistState(ctx context.Context) {
	if e.store == nil {
		return
	}

	state := EngineState{
		Risk:        e.risk.StateForPersistence(),
		Goal:        e.goals.StateForPersistence(),
		Positions:   e.positions.StateForPersistence(),
		Journal:     e.journal.EntriesForPersistence(),
		SourceStats: e.journal.SourceStatsForPersistence(),
		Bandit:      e.bandit.StateForPersistence(),
		Streak:      e.streak.snapshot(),
		SavedAt:     time.Now(),
	}

	if err := e.store.SaveEngineState(ctx, state); err != nil {
		e.logger.Warn().Err(err).Msg("State persistence failed")
		return
	}
	e.logger.Debug().
		Int("open_positions", len(state.Positions.Positions)).
		Int("journal_entries", len(state.Journal)).
		Msg("Engine state persisted")
}

// restoreState loads the last snapshot. Snapshots older than the
// configured maximum are discarded because stale open positions would
// be repriced against a market that has long moved on.
func (e *Engine) restoreState(ctx context.Context) error {
	if e.store == nil {
		return nil
	}

	state, err := e.store.LoadEngineState(ctx)
	if err != nil {
		return err
	}
	if state == nil {
		e.logger.Info().Msg("No persisted state found, starting fresh")
		return nil
	}

	maxAge := time.Duration(e.cfg.EngineConfig.MaxStateAgeHours) * time.Hour
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	age := time.Since(state.SavedAt)
	if age > maxAge {
		e.logger.Warn().
			Dur("age", age).
			Dur("max_age", maxAge).
			Msg("Persisted state too old, discarding")
		return nil
	}

	e.risk.RestoreState(state.Risk)
	e.goals.RestoreState(state.Goal)
	e.positions.RestoreState(state.Positions)
	e.journal.RestoreEntries(state.Journal)
	e.journal.RestoreSourceStats(state.SourceStats)
	e.bandit.RestoreState(state.Bandit)
	e.streak.restore(state.Streak)

	e.logger.Info().
		Dur("age", age).
		Int("open_positions", len(state.Positions.Positions)).
		Int("journal_entries", len(state.Journal)).
		Msg("Engine state restored")
	return nil
}
