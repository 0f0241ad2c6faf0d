// Package autopilot is the control loop of the paper trading engine.
// On each tick it fans out to the signal feeds, asks the aggregator for
// a decision, the risk manager and goal tracker for permission and
// sizing, instructs the position manager, and writes every outcome back
// to the journal and the weight bandit.
package autopilot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"paper-trading-engine/config"
	"paper-trading-engine/internal/bandit"
	"paper-trading-engine/internal/events"
	"paper-trading-engine/internal/goal"
	"paper-trading-engine/internal/journal"
	"paper-trading-engine/internal/market"
	"paper-trading-engine/internal/positions"
	"paper-trading-engine/internal/risk"
	"paper-trading-engine/internal/signal"
)

// Engine wires the decision pipeline together and runs the tick loops.
type Engine struct {
	cfg       config.Config
	provider  market.Provider
	feeds     []signal.Provider
	agg       *signal.Aggregator
	risk      *risk.Manager
	goals     *goal.Tracker
	positions *positions.Manager
	journal   *journal.Journal
	bandit    *bandit.Bandit
	events    *events.EventBus
	store     StateStore
	logger    zerolog.Logger

	// tickMu serializes evaluation ticks so a slow provider fetch can
	// never overlap the next tick.
	tickMu  sync.Mutex
	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    sync.WaitGroup

	lastResetDay string
	streak       streakTracker
}

// Deps are the collaborators the engine orchestrates.
type Deps struct {
	Provider   market.Provider
	Feeds      []signal.Provider
	Aggregator *signal.Aggregator
	Risk       *risk.Manager
	Goals      *goal.Tracker
	Positions  *positions.Manager
	Journal    *journal.Journal
	Bandit     *bandit.Bandit
	Events     *events.EventBus
	Store      StateStore // Optional; nil disables persistence
}

// NewEngine builds the orchestrator.
func NewEngine(cfg config.Config, deps Deps, logger zerolog.Logger) *Engine {
	return &Engine{
		cfg:          cfg,
		provider:     deps.Provider,
		feeds:        deps.Feeds,
		agg:          deps.Aggregator,
		risk:         deps.Risk,
		goals:        deps.Goals,
		positions:    deps.Positions,
		journal:      deps.Journal,
		bandit:       deps.Bandit,
		events:       deps.Events,
		store:        deps.Store,
		logger:       logger.With().Str("component", "Engine").Logger(),
		lastResetDay: time.Now().UTC().Format("2006-01-02"),
	}
}

// Start restores persisted state and launches the mark, signal and
// persistence loops. It returns immediately; Stop shuts the loops down.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine already running")
	}
	e.running = true
	e.stop = make(chan struct{})
	e.mu.Unlock()

	if err := e.restoreState(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("Could not restore state, starting fresh")
	}

	e.done.Add(3)
	go e.markLoop(ctx)
	go e.signalLoop(ctx)
	go e.persistLoop(ctx)

	e.logger.Info().
		Strs("assets", e.cfg.EngineConfig.Assets).
		Int("feeds", len(e.feeds)).
		Bool("aggressive", e.cfg.RiskConfig.Aggressive).
		Msg("Paper trading engine started")
	return nil
}

// Stop halts the loops and persists a final snapshot.
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stop)
	e.mu.Unlock()

	e.done.Wait()
	e.persistState(ctx)
	e.logger.Info().Msg("Paper trading engine stopped")
}

func (e *Engine) markLoop(ctx context.Context) {
	defer e.done.Done()
	interval := time.Duration(e.cfg.EngineConfig.MarkIntervalSecs) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.updateMarks(ctx)
			e.handleTriggers(ctx)
			e.resetDailyIfNeeded(ctx, time.Now())
		case <-e.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) signalLoop(ctx context.Context) {
	defer e.done.Done()
	interval := time.Duration(e.cfg.EngineConfig.SignalIntervalSecs) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.EvaluateAndTrade(ctx)
		case <-e.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) persistLoop(ctx context.Context) {
	defer e.done.Done()
	interval := time.Duration(e.cfg.EngineConfig.PersistIntervalSecs) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.persistState(ctx)
		case <-e.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// updateMarks reprices every open position and republishes the ledger.
func (e *Engine) updateMarks(ctx context.Context) {
	open := e.positions.OpenPositions()
	seen := make(map[string]bool, len(open))

	for _, pos := range open {
		if seen[pos.Asset] {
			continue
		}
		seen[pos.Asset] = true

		fetchCtx, cancel := e.providerContext(ctx)
		snap, err := e.provider.Snapshot(fetchCtx, pos.Asset)
		cancel()
		if err != nil {
			e.logger.Debug().Err(err).Str("asset", pos.Asset).Msg("Mark price fetch failed")
			continue
		}
		if snap.Price <= 0 {
			continue
		}

		var volumeRatio *float64
		if snap.VolumeRatio > 0 {
			vr := snap.VolumeRatio
			volumeRatio = &vr
		}
		e.positions.UpdateMark(pos.Asset, snap.Price, volumeRatio)
	}

	portfolio := e.positions.GetPortfolio()
	e.risk.UpdateDrawdown(portfolio.TotalValue)
	e.events.PublishPortfolioUpdate(
		portfolio.Balance, portfolio.TotalValue, e.positions.CurrentExposure(),
		portfolio.RealizedPnl, portfolio.UnrealizedPnl)
}

// handleTriggers closes or partially closes every position whose exit
// rule fired on the latest mark.
func (e *Engine) handleTriggers(ctx context.Context) {
	for _, hit := range e.positions.CheckTriggers(time.Now()) {
		pos := hit.Position
		e.logger.Info().
			Str("asset", pos.Asset).
			Str("trigger", string(hit.Trigger)).
			Msg("Exit trigger hit")

		if hit.Trigger == positions.TriggerPartialTP {
			result, err := e.positions.ExecutePartialTakeProfit(pos.ID, pos.MarkPrice)
			if err != nil {
				e.logger.Warn().Err(err).Str("asset", pos.Asset).Msg("Partial take-profit failed")
				continue
			}
			e.goals.RecordTrade(result.PartialPnl)
			e.events.PublishPartialTakeProfit(pos.ID, pos.Asset, result.Step, result.ClosedSize, result.PartialPnl)
			continue
		}

		e.closeTrade(ctx, pos.ID, closeReasonFor(hit.Trigger))
	}
}

func closeReasonFor(trigger positions.Trigger) positions.CloseReason {
	switch trigger {
	case positions.TriggerLiquidation:
		return positions.CloseLiquidation
	case positions.TriggerTrailingStop:
		return positions.CloseTrailingStop
	case positions.TriggerStopLoss:
		return positions.CloseStopLoss
	case positions.TriggerMaxAge:
		return positions.CloseMaxAge
	default:
		return positions.CloseTakeProfit
	}
}

// EvaluateAndTrade runs one full decision tick over all configured
// assets. Safe for concurrent callers; ticks never overlap.
func (e *Engine) EvaluateAndTrade(ctx context.Context) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	for _, asset := range e.cfg.EngineConfig.Assets {
		if err := e.evaluateAsset(ctx, asset); err != nil {
			e.logger.Error().Err(err).Str("asset", asset).Msg("Asset evaluation failed")
			e.events.PublishError("engine", "asset evaluation failed", err)
		}
	}
}

func (e *Engine) evaluateAsset(ctx context.Context, asset string) error {
	if e.positions.HasOpenPosition(asset) {
		return nil
	}
	if e.risk.IsPaused() {
		return nil
	}

	signals := e.collectSignals(ctx, asset)
	if len(signals) == 0 {
		return nil
	}

	fetchCtx, cancel := e.providerContext(ctx)
	snap, err := e.provider.Snapshot(fetchCtx, asset)
	cancel()
	if err != nil {
		return fmt.Errorf("snapshot for %s: %w", asset, err)
	}

	now := time.Now()
	agg := e.agg.Aggregate(asset, signals, snap, now)
	if agg == nil {
		return nil
	}

	e.events.PublishSignalEvaluated(asset, string(agg.Direction), agg.Strength, agg.Confidence, agg.ConfirmingCount)

	// Hard order-book veto before any sizing (skipped under the
	// aggressive preset to collect more trades)
	if !e.cfg.RiskConfig.Aggressive {
		if reject, reason := signal.BookImbalanceVeto(agg.Direction, snap.BookImbalance, e.cfg.SignalConfig.BookImbalanceThreshold); reject {
			e.rejectSignal(asset, agg, reason)
			return nil
		}
	}

	adjusted, adjustReasons := signal.AdjustConfidence(agg, snap)
	if adjusted != agg.Confidence {
		e.logger.Debug().
			Str("asset", asset).
			Float64("before", agg.Confidence).
			Float64("after", adjusted).
			Msg("Confidence adjusted from market context")
		agg.Confidence = adjusted
		agg.Reasons = append(agg.Reasons, adjustReasons...)
	}

	validation := e.risk.ValidateSignal(agg, now)
	if !validation.Valid {
		if agg.Strength > 30 {
			e.rejectSignal(asset, agg, validation.Reason)
		}
		return nil
	}

	portfolio := e.positions.GetPortfolio()
	sizeUSD, leverage, sizeFactors := e.calculateSize(agg, snap, portfolio.TotalValue, now)

	tradeValidation := e.risk.ValidateTrade(risk.TradeParams{
		SizeUSD:         sizeUSD,
		Leverage:        leverage,
		PortfolioValue:  portfolio.TotalValue,
		CurrentExposure: e.positions.CurrentExposure(),
	})
	if !tradeValidation.Valid {
		e.logger.Info().
			Str("asset", asset).
			Str("reason", tradeValidation.Reason).
			Msg("Trade rejected by risk limits")
		return nil
	}
	if tradeValidation.AdjustedSize > 0 {
		sizeUSD = tradeValidation.AdjustedSize
		sizeFactors = append(sizeFactors, tradeValidation.Reason)
	}

	return e.openTrade(ctx, agg, snap, sizeUSD, leverage, sizeFactors, now)
}

func (e *Engine) rejectSignal(asset string, agg *signal.Aggregated, reason string) {
	e.logger.Info().
		Str("asset", asset).
		Str("direction", string(agg.Direction)).
		Float64("strength", agg.Strength).
		Float64("confidence", agg.Confidence).
		Str("reason", reason).
		Msg("Signal rejected")
	e.events.PublishSignalRejected(asset, reason)
}

// collectSignals fans out to every feed concurrently with a per-feed
// timeout. A slow or failing feed cannot stall the tick.
func (e *Engine) collectSignals(ctx context.Context, asset string) []signal.Signal {
	type result struct {
		source  signal.Source
		signals []signal.Signal
		err     error
	}

	results := make(chan result, len(e.feeds))
	for _, feed := range e.feeds {
		go func(f signal.Provider) {
			fetchCtx, cancel := e.providerContext(ctx)
			defer cancel()
			sigs, err := f.Fetch(fetchCtx, asset)
			results <- result{source: f.Name(), signals: sigs, err: err}
		}(feed)
	}

	var collected []signal.Signal
	for range e.feeds {
		r := <-results
		if r.err != nil {
			e.logger.Debug().Err(r.err).Str("source", string(r.source)).Str("asset", asset).Msg("Signal feed failed")
			continue
		}
		collected = append(collected, r.signals...)
	}
	return collected
}

func (e *Engine) providerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := time.Duration(e.cfg.EngineConfig.ProviderTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// openTrade places the position with ATR-derived stops and the ladder
// of take-profits, then journals the entry.
func (e *Engine) openTrade(ctx context.Context, agg *signal.Aggregated, snap *market.Snapshot, sizeUSD, leverage float64, sizeFactors []string, now time.Time) error {
	if snap.Price <= 0 {
		return fmt.Errorf("no mark price for %s", agg.Asset)
	}

	stopPct := positions.ComputeStopLossPct(snap.ATRPct, e.cfg.RiskConfig.DefaultStopLossPct)
	stopLoss := positions.ComputeStopLossPrice(agg.Direction, snap.Price, stopPct)
	takeProfits := positions.ComputeTakeProfits(agg.Direction, snap.Price, stopLoss, e.cfg.RiskConfig.TakeProfitLadder)

	triggerSignals := make([]string, 0, len(agg.ContributingSources))
	for _, src := range agg.ContributingSources {
		triggerSignals = append(triggerSignals, string(src))
	}

	pos, err := e.positions.Open(positions.OpenParams{
		Asset:          agg.Asset,
		Direction:      agg.Direction,
		EntryPrice:     snap.Price,
		SizeUSD:        sizeUSD,
		Leverage:       leverage,
		StopLossPrice:  stopLoss,
		TakeProfits:    takeProfits,
		EntryATRPct:    snap.ATRPct,
		StrategyName:   "signal_aggregator",
		TriggerSignals: triggerSignals,
	})
	if err != nil {
		return fmt.Errorf("open %s: %w", agg.Asset, err)
	}

	e.risk.RecordTrade()

	details := make([]journal.SignalDetail, 0, len(agg.ContributingSources))
	for _, src := range agg.ContributingSources {
		details = append(details, journal.SignalDetail{
			Source:     string(src),
			Direction:  string(agg.Direction),
			Confidence: agg.Confidence,
		})
	}
	e.journal.RecordEntry(ctx, journal.Entry{
		PositionID:    pos.ID,
		Type:          journal.TypeEntry,
		Asset:         pos.Asset,
		Direction:     string(pos.Direction),
		Price:         pos.EntryPrice,
		SizeUSD:       pos.SizeUSD,
		Leverage:      pos.Leverage,
		StrategyName:  pos.StrategyName,
		SignalDetails: details,
		MarketContext: marketContextOf(snap, now),
		StopLoss:      pos.StopLossPrice,
		TakeProfits:   pos.TakeProfitPrices,
		Timestamp:     now,
	})

	e.events.PublishPositionOpened(pos.ID, pos.Asset, string(pos.Direction), pos.EntryPrice, pos.SizeUSD, pos.Leverage)

	e.logger.Info().
		Str("asset", pos.Asset).
		Str("direction", string(pos.Direction)).
		Float64("entry", pos.EntryPrice).
		Float64("size_usd", pos.SizeUSD).
		Float64("leverage", pos.Leverage).
		Strs("factors", sizeFactors).
		Msg("Paper trade opened")
	return nil
}

// closeTrade settles a position and feeds the outcome back into risk,
// goals, streak, journal and the bandit.
func (e *Engine) closeTrade(ctx context.Context, positionID string, reason positions.CloseReason) {
	pos, ok := e.positions.GetPosition(positionID)
	if !ok {
		return
	}

	closed, err := e.positions.Close(positionID, pos.MarkPrice, reason)
	if err != nil {
		e.logger.Warn().Err(err).Str("position_id", positionID).Msg("Close failed")
		return
	}

	portfolio := e.positions.GetPortfolio()
	isWin := closed.RealizedPnl > 0
	if isWin {
		e.risk.RecordWin(closed.RealizedPnl, portfolio.TotalValue)
	} else {
		e.risk.RecordLoss(closed.RealizedPnl, portfolio.TotalValue)
	}
	e.goals.RecordTrade(closed.RealizedPnl)
	e.streak.record(isWin)

	now := time.Now()
	pnl := closed.RealizedPnl
	e.journal.RecordExit(ctx, journal.Entry{
		PositionID:  closed.ID,
		Type:        journal.TypeExit,
		Asset:       closed.Asset,
		Direction:   string(closed.Direction),
		Price:       closed.MarkPrice,
		SizeUSD:     closed.SizeUSD,
		Leverage:    closed.Leverage,
		RealizedPnl: &pnl,
		CloseReason: string(reason),
		Duration:    now.Sub(closed.OpenedAt),
		Timestamp:   now,
	})

	sources := closed.TriggerSignals
	if len(sources) == 0 {
		sources = []string{"signal_aggregator"}
	}
	e.bandit.RecordOutcome(sources, isWin, closed.RealizedPnlPct)

	e.events.PublishPositionClosed(closed.ID, closed.Asset, string(reason), closed.MarkPrice, closed.RealizedPnl, closed.RealizedPnlPct)

	e.logger.Info().
		Str("asset", closed.Asset).
		Str("reason", string(reason)).
		Bool("win", isWin).
		Float64("realized_pnl", closed.RealizedPnl).
		Float64("fees_usd", closed.FeesUSD).
		Msg("Paper trade closed")
}

// ClosePosition closes one position at its latest mark, for manual and
// API-driven exits.
func (e *Engine) ClosePosition(ctx context.Context, positionID string) error {
	if _, ok := e.positions.GetPosition(positionID); !ok {
		return positions.ErrPositionNotFound
	}
	e.closeTrade(ctx, positionID, positions.CloseManual)
	return nil
}

// resetDailyIfNeeded rolls daily stats at the UTC day boundary.
func (e *Engine) resetDailyIfNeeded(ctx context.Context, now time.Time) {
	day := now.UTC().Format("2006-01-02")
	e.mu.Lock()
	if day == e.lastResetDay {
		e.mu.Unlock()
		return
	}
	e.lastResetDay = day
	e.mu.Unlock()

	e.risk.ResetDaily()
	e.goals.ResetDaily(now)
	e.events.Publish(events.Event{
		Type:      events.EventDailyReset,
		Timestamp: now,
	})
	e.logger.Info().Str("day", day).Msg("Daily reset completed")
	e.persistState(ctx)
}

// Pause suspends new trading; open positions keep being managed.
func (e *Engine) Pause(reason string) {
	e.risk.Pause(reason)
	e.events.Publish(events.Event{
		Type:      events.EventEnginePaused,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"reason": reason},
	})
}

// Resume lifts a pause and any circuit breaker.
func (e *Engine) Resume() {
	e.risk.Resume()
	e.events.Publish(events.Event{
		Type:      events.EventEngineResumed,
		Timestamp: time.Now(),
	})
}

// Status summarizes the engine for the API layer.
type Status struct {
	Running        bool    `json:"running"`
	IsPaused       bool    `json:"is_paused"`
	PauseReason    string  `json:"pause_reason,omitempty"`
	OpenPositions  int     `json:"open_positions"`
	PortfolioValue float64 `json:"portfolio_value"`
	ReturnPct      float64 `json:"return_pct"`
	TodayTrades    int     `json:"today_trades"`
}

// GetStatus reports the current engine state.
func (e *Engine) GetStatus() Status {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()

	portfolio := e.positions.GetPortfolio()
	riskState := e.risk.GetState()

	return Status{
		Running:        running,
		IsPaused:       riskState.IsPaused,
		PauseReason:    riskState.PauseReason,
		OpenPositions:  len(e.positions.OpenPositions()),
		PortfolioValue: portfolio.TotalValue,
		ReturnPct:      portfolio.ReturnPct,
		TodayTrades:    riskState.TodayTradeCount,
	}
}

func marketContextOf(snap *market.Snapshot, now time.Time) journal.MarketContext {
	return journal.MarketContext{
		Price:          snap.Price,
		FundingRate:    snap.FundingRate,
		VolumeRatio:    snap.VolumeRatio,
		OIChange24hPct: snap.OIChange24hPct,
		RSI:            snap.RSI(),
		BookImbalance:  snap.BookImbalance,
		Session:        string(market.ClassifySession(now).Name),
	}
}
