package positions

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"paper-trading-engine/config"
	"paper-trading-engine/internal/signal"
)

const (
	maxPositionAge     = 48 * time.Hour
	maxPositionAgeFast = 12 * time.Hour
	stalePositionAge   = 24 * time.Hour

	trailingActivationR = 1.5
	trailingDistanceATR = 1.5

	// Unrealized-P&L dollar take-profit under the aggressive preset
	// (half the daily target).
	aggressiveTakeProfitUSD = 210.0
)

// ErrPositionNotFound is returned when a position id has no open position.
var ErrPositionNotFound = fmt.Errorf("position not found")

// TriggeredPosition pairs a position with the exit rule that fired.
type TriggeredPosition struct {
	Position *Position
	Trigger  Trigger
}

// PartialTakeProfitResult reports one executed ladder step.
type PartialTakeProfitResult struct {
	PartialPnl       float64
	ClosedSize       float64
	RemainingSize    float64
	Step             int // 1-based ladder step just taken
	MovedToBreakeven bool
}

// OpenParams describe a position to open. EntryPrice is the raw mark;
// slippage is applied inside Open.
type OpenParams struct {
	Asset          string
	Direction      signal.Direction
	EntryPrice     float64
	SizeUSD        float64
	Leverage       float64
	StopLossPrice  float64
	TakeProfits    []float64
	EntryATRPct    float64
	StrategyName   string
	TriggerSignals []string
}

// Manager owns the position set and portfolio ledger. All mutating
// access goes through the mutex; returned positions are copies.
type Manager struct {
	mu        sync.RWMutex
	positions map[string]*Position
	portfolio Portfolio
	fees      config.FeesConfig
	fastMode  bool
	dollarTP  float64 // 0 disables the dollar take-profit
	logger    zerolog.Logger
}

// NewManager builds a position manager with a fresh portfolio.
func NewManager(engineCfg config.EngineConfig, feesCfg config.FeesConfig, aggressive bool, logger zerolog.Logger) *Manager {
	dollarTP := 0.0
	if aggressive {
		dollarTP = aggressiveTakeProfitUSD
	}
	return &Manager{
		positions: make(map[string]*Position),
		portfolio: newPortfolio(engineCfg.InitialBalance),
		fees:      feesCfg,
		fastMode:  engineCfg.FastMode,
		dollarTP:  dollarTP,
		logger:    logger.With().Str("component", "PositionManager").Logger(),
	}
}

func newPortfolio(initialBalance float64) Portfolio {
	return Portfolio{
		Balance:        initialBalance,
		InitialBalance: initialBalance,
		TotalValue:     initialBalance,
		PeakValue:      initialBalance,
		LastUpdate:     time.Now(),
	}
}

// Slippage returns the entry/exit slippage in basis points for a given
// notional: base plus size impact per $10k, capped.
func (m *Manager) Slippage(sizeUSD float64) float64 {
	bps := m.fees.SlippageBaseBps
	bps += math.Floor(sizeUSD/10_000) * m.fees.SlippageBpsPer10k
	return math.Min(bps, m.fees.SlippageMaxBps)
}

// roundTripFee is both sides of the taker fee on notional.
func (m *Manager) roundTripFee(sizeUSD float64) float64 {
	return sizeUSD * m.fees.TakerFeeBps * 2 / 10_000
}

// Open creates a position. Entry fills at the mark adjusted by
// slippage; the liquidation price is fixed here and never recomputed.
func (m *Manager) Open(p OpenParams) (*Position, error) {
	if p.EntryPrice <= 0 {
		return nil, fmt.Errorf("invalid entry price %f for %s", p.EntryPrice, p.Asset)
	}
	if p.Leverage <= 0 {
		return nil, fmt.Errorf("invalid leverage %f for %s", p.Leverage, p.Asset)
	}
	if p.Direction != signal.DirectionLong && p.Direction != signal.DirectionShort {
		return nil, fmt.Errorf("invalid direction %q for %s", p.Direction, p.Asset)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	slippageBps := m.Slippage(p.SizeUSD)
	entryPrice := p.EntryPrice
	if p.Direction == signal.DirectionLong {
		entryPrice *= 1 + slippageBps/10_000
	} else {
		entryPrice *= 1 - slippageBps/10_000
	}

	margin := p.SizeUSD / p.Leverage
	if margin > m.portfolio.Balance {
		return nil, fmt.Errorf("insufficient balance: margin %.2f exceeds %.2f", margin, m.portfolio.Balance)
	}

	// Liquidation at 90% of the margin distance from entry
	liqDistance := entryPrice * (100 / p.Leverage / 100) * 0.9
	liquidationPrice := entryPrice - liqDistance
	if p.Direction == signal.DirectionShort {
		liquidationPrice = entryPrice + liqDistance
	}

	stopLoss := p.StopLossPrice
	if stopLoss <= 0 {
		stopLoss = ComputeStopLossPrice(p.Direction, entryPrice, 2.0)
	}

	pos := &Position{
		ID:                  uuid.New().String(),
		Asset:               p.Asset,
		Direction:           p.Direction,
		Status:              StatusOpen,
		EntryPrice:          entryPrice,
		SizeUSD:             p.SizeUSD,
		OriginalSizeUSD:     p.SizeUSD,
		MarginUSD:           margin,
		Leverage:            p.Leverage,
		StopLossPrice:       stopLoss,
		InitialStopDistance: math.Abs(entryPrice - stopLoss),
		TakeProfitPrices:    p.TakeProfits,
		LiquidationPrice:    liquidationPrice,
		MarkPrice:           entryPrice,
		EntryATRPct:         p.EntryATRPct,
		EntrySlippage:       slippageBps,
		StrategyName:        p.StrategyName,
		TriggerSignals:      p.TriggerSignals,
		OpenedAt:            time.Now(),
	}

	m.positions[pos.ID] = pos
	m.portfolio.Balance -= margin
	m.portfolio.TradeCount++
	m.updateMetricsLocked()

	m.logger.Info().
		Str("asset", p.Asset).
		Str("direction", string(p.Direction)).
		Float64("entry", entryPrice).
		Float64("size_usd", p.SizeUSD).
		Float64("leverage", p.Leverage).
		Float64("stop_loss", stopLoss).
		Float64("liquidation", liquidationPrice).
		Float64("slippage_bps", slippageBps).
		Msg("Position opened")

	cp := *pos
	return &cp, nil
}

// Close exits the full remaining position at the given price (slippage
// applied) and settles margin and net P&L back to the balance.
func (m *Manager) Close(positionID string, exitPrice float64, reason CloseReason) (*Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[positionID]
	if !ok {
		return nil, ErrPositionNotFound
	}

	slippageBps := m.Slippage(pos.SizeUSD)
	if pos.Direction == signal.DirectionLong {
		exitPrice *= 1 - slippageBps/10_000
	} else {
		exitPrice *= 1 + slippageBps/10_000
	}

	pnlPct := pos.priceMove(exitPrice) / pos.EntryPrice * 100
	grossPnl := pos.SizeUSD * pnlPct / 100
	fees := m.roundTripFee(pos.SizeUSD)
	realized := grossPnl - fees

	margin := pos.MarginUSD
	now := time.Now()

	pos.Status = StatusClosed
	pos.MarkPrice = exitPrice
	pos.RealizedPnl = realized
	pos.FeesUSD = fees
	if margin > 0 {
		pos.RealizedPnlPct = realized / margin * 100
	}
	pos.CloseReason = reason
	pos.ClosedAt = &now
	pos.UnrealizedPnl = 0
	pos.UnrealizedPnlPct = 0

	m.portfolio.Balance += margin + realized
	m.portfolio.RealizedPnl += realized
	if realized > 0 {
		m.portfolio.WinCount++
	} else {
		m.portfolio.LossCount++
	}

	delete(m.positions, positionID)
	m.updateMetricsLocked()

	m.logger.Info().
		Str("asset", pos.Asset).
		Str("reason", string(reason)).
		Float64("exit", exitPrice).
		Float64("realized_pnl", realized).
		Float64("fees_usd", fees).
		Msg("Position closed")

	cp := *pos
	return &cp, nil
}

// UpdateMark reprices all open positions of an asset and advances their
// trailing stops. volumeRatio widens or tightens the trail; pass nil
// when unknown.
func (m *Manager) UpdateMark(asset string, markPrice float64, volumeRatio *float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, pos := range m.positions {
		if pos.Asset != asset || pos.Status != StatusOpen {
			continue
		}
		pos.MarkPrice = markPrice

		pnlPct := pos.priceMove(markPrice) / pos.EntryPrice * 100
		pos.UnrealizedPnl = pos.SizeUSD * pnlPct / 100
		pos.UnrealizedPnlPct = pnlPct * pos.Leverage

		if pos.UnrealizedPnl > pos.MaxUnrealizedProfit {
			pos.MaxUnrealizedProfit = pos.UnrealizedPnl
		}
		if pos.UnrealizedPnl < pos.MaxUnrealizedLoss {
			pos.MaxUnrealizedLoss = pos.UnrealizedPnl
		}

		m.updateTrailingStopLocked(pos, markPrice, volumeRatio)
	}
	m.updateMetricsLocked()
}

// updateTrailingStopLocked activates the trail at 1.5R profit and then
// ratchets it one-way in the position's favor.
func (m *Manager) updateTrailingStopLocked(pos *Position, markPrice float64, volumeRatio *float64) {
	if pos.InitialStopDistance <= 0 {
		return
	}
	profitR := pos.priceMove(markPrice) / pos.InitialStopDistance

	if !pos.TrailingStopActivated && profitR >= trailingActivationR {
		pos.TrailingStopActivated = true

		// Initial trail sits at breakeven + 0.5R
		halfR := pos.InitialStopDistance * 0.5
		if pos.Direction == signal.DirectionLong {
			pos.TrailingStopPrice = pos.EntryPrice + halfR
		} else {
			pos.TrailingStopPrice = pos.EntryPrice - halfR
		}

		m.logger.Info().
			Str("asset", pos.Asset).
			Float64("profit_r", profitR).
			Float64("trail", pos.TrailingStopPrice).
			Msg("Trailing stop activated")
	}

	if !pos.TrailingStopActivated || pos.TrailingStopPrice == 0 {
		return
	}

	distancePct := pos.InitialStopDistance / pos.EntryPrice * 100 * trailingDistanceATR
	if pos.EntryATRPct > 0 {
		distancePct = pos.EntryATRPct * trailingDistanceATR
	}
	if volumeRatio != nil && *volumeRatio > 0 {
		if *volumeRatio >= 2.0 {
			distancePct *= 1.2 // Momentum accelerating, give room
		} else if *volumeRatio < 0.5 {
			distancePct *= 0.7 // Momentum fading, lock profits
		}
	}
	distance := markPrice * distancePct / 100

	if pos.Direction == signal.DirectionLong {
		if newTrail := markPrice - distance; newTrail > pos.TrailingStopPrice {
			pos.TrailingStopPrice = newTrail
		}
	} else {
		if newTrail := markPrice + distance; newTrail < pos.TrailingStopPrice {
			pos.TrailingStopPrice = newTrail
		}
	}
}

// CheckTriggers scans open positions and returns every exit rule that
// fired, in priority order per position: dollar take-profit, max age,
// liquidation, trailing stop, fixed stop (only while the trail is
// inactive), then the partial ladder. Stale losing positions get their
// stop tightened 25% as a side effect.
func (m *Manager) CheckTriggers(now time.Time) []TriggeredPosition {
	m.mu.Lock()
	defer m.mu.Unlock()

	var triggered []TriggeredPosition

	maxAge := maxPositionAge
	if m.fastMode {
		maxAge = maxPositionAgeFast
	}

	for _, pos := range m.positions {
		if pos.Status != StatusOpen {
			continue
		}
		age := pos.Age(now)

		if m.dollarTP > 0 && pos.UnrealizedPnl >= m.dollarTP {
			triggered = append(triggered, TriggeredPosition{Position: copyOf(pos), Trigger: TriggerTakeProfit})
			continue
		}

		if age > maxAge {
			m.logger.Info().
				Str("asset", pos.Asset).
				Float64("age_hours", age.Hours()).
				Msg("Position exceeded max age")
			triggered = append(triggered, TriggeredPosition{Position: copyOf(pos), Trigger: TriggerMaxAge})
			continue
		}

		if age > stalePositionAge && pos.UnrealizedPnl < 0 && !pos.TrailingStopActivated {
			m.tightenStaleStopLocked(pos)
		}

		long := pos.Direction == signal.DirectionLong

		if (long && pos.MarkPrice <= pos.LiquidationPrice) || (!long && pos.MarkPrice >= pos.LiquidationPrice) {
			triggered = append(triggered, TriggeredPosition{Position: copyOf(pos), Trigger: TriggerLiquidation})
			continue
		}

		if pos.TrailingStopActivated && pos.TrailingStopPrice > 0 {
			if (long && pos.MarkPrice <= pos.TrailingStopPrice) || (!long && pos.MarkPrice >= pos.TrailingStopPrice) {
				triggered = append(triggered, TriggeredPosition{Position: copyOf(pos), Trigger: TriggerTrailingStop})
				continue
			}
		}

		if !pos.TrailingStopActivated {
			if (long && pos.MarkPrice <= pos.StopLossPrice) || (!long && pos.MarkPrice >= pos.StopLossPrice) {
				triggered = append(triggered, TriggeredPosition{Position: copyOf(pos), Trigger: TriggerStopLoss})
				continue
			}
		}

		if len(pos.TakeProfitPrices) > 0 && pos.PartialProfitsTaken < 1 {
			tp1 := pos.TakeProfitPrices[0]
			if (long && pos.MarkPrice >= tp1) || (!long && pos.MarkPrice <= tp1) {
				triggered = append(triggered, TriggeredPosition{Position: copyOf(pos), Trigger: TriggerPartialTP})
				continue
			}
		}
		if len(pos.TakeProfitPrices) > 1 && pos.PartialProfitsTaken == 1 {
			tp2 := pos.TakeProfitPrices[1]
			if (long && pos.MarkPrice >= tp2) || (!long && pos.MarkPrice <= tp2) {
				triggered = append(triggered, TriggeredPosition{Position: copyOf(pos), Trigger: TriggerPartialTP})
			}
		}
	}

	return triggered
}

func (m *Manager) tightenStaleStopLocked(pos *Position) {
	tightened := math.Abs(pos.EntryPrice-pos.StopLossPrice) * 0.75
	if pos.Direction == signal.DirectionLong {
		if newSL := pos.EntryPrice - tightened; newSL > pos.StopLossPrice {
			m.logger.Info().
				Str("asset", pos.Asset).
				Float64("old_sl", pos.StopLossPrice).
				Float64("new_sl", newSL).
				Msg("Tightening stale position stop")
			pos.StopLossPrice = newSL
		}
	} else {
		if newSL := pos.EntryPrice + tightened; newSL < pos.StopLossPrice {
			m.logger.Info().
				Str("asset", pos.Asset).
				Float64("old_sl", pos.StopLossPrice).
				Float64("new_sl", newSL).
				Msg("Tightening stale position stop")
			pos.StopLossPrice = newSL
		}
	}
}

// ExecutePartialTakeProfit closes one ladder step: 50% of notional at
// TP1 (stop moves to breakeven), then 33% of the remainder at TP2.
func (m *Manager) ExecutePartialTakeProfit(positionID string, exitPrice float64) (*PartialTakeProfitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[positionID]
	if !ok {
		return nil, ErrPositionNotFound
	}

	var closePct float64
	switch pos.PartialProfitsTaken {
	case 0:
		closePct = 50
	case 1:
		closePct = 33
	default:
		return nil, fmt.Errorf("all partial profits already taken for %s", pos.Asset)
	}

	closeSize := pos.SizeUSD * closePct / 100
	remaining := pos.SizeUSD - closeSize

	pnlPct := pos.priceMove(exitPrice) / pos.EntryPrice * 100
	partialPnl := closeSize * pnlPct / 100

	closedMargin := closeSize / pos.Leverage
	pos.SizeUSD = remaining
	pos.MarginUSD = remaining / pos.Leverage
	pos.PartialProfitsTaken++

	movedToBreakeven := false
	if pos.PartialProfitsTaken == 1 {
		pos.StopLossPrice = pos.EntryPrice
		movedToBreakeven = true
	}

	m.portfolio.Balance += closedMargin + partialPnl
	m.portfolio.RealizedPnl += partialPnl
	m.updateMetricsLocked()

	m.logger.Info().
		Str("asset", pos.Asset).
		Int("step", pos.PartialProfitsTaken).
		Float64("partial_pnl", partialPnl).
		Float64("remaining_size", remaining).
		Bool("moved_to_breakeven", movedToBreakeven).
		Msg("Partial take-profit executed")

	return &PartialTakeProfitResult{
		PartialPnl:       partialPnl,
		ClosedSize:       closeSize,
		RemainingSize:    remaining,
		Step:             pos.PartialProfitsTaken,
		MovedToBreakeven: movedToBreakeven,
	}, nil
}

// GetPortfolio recomputes and returns the ledger.
func (m *Manager) GetPortfolio() Portfolio {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateMetricsLocked()
	return m.portfolio
}

func (m *Manager) updateMetricsLocked() {
	var unrealized float64
	for _, pos := range m.positions {
		unrealized += pos.UnrealizedPnl
	}

	m.portfolio.UnrealizedPnl = unrealized
	m.portfolio.TotalValue = m.portfolio.Balance + unrealized
	if m.portfolio.InitialBalance > 0 {
		m.portfolio.ReturnPct = (m.portfolio.TotalValue - m.portfolio.InitialBalance) / m.portfolio.InitialBalance * 100
	}
	if m.portfolio.TradeCount > 0 {
		m.portfolio.WinRate = float64(m.portfolio.WinCount) / float64(m.portfolio.TradeCount) * 100
	}

	if m.portfolio.TotalValue > m.portfolio.PeakValue {
		m.portfolio.PeakValue = m.portfolio.TotalValue
	}
	drawdown := m.portfolio.PeakValue - m.portfolio.TotalValue
	if drawdown > m.portfolio.MaxDrawdown {
		m.portfolio.MaxDrawdown = drawdown
		if m.portfolio.PeakValue > 0 {
			m.portfolio.MaxDrawdownPct = drawdown / m.portfolio.PeakValue * 100
		}
	}
	m.portfolio.LastUpdate = time.Now()
}

// CurrentExposure sums the margin committed to open positions.
func (m *Manager) CurrentExposure() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total float64
	for _, pos := range m.positions {
		total += pos.MarginUSD
	}
	return total
}

// OpenPositions returns copies of all open positions.
func (m *Manager) OpenPositions() []*Position {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Position, 0, len(m.positions))
	for _, pos := range m.positions {
		out = append(out, copyOf(pos))
	}
	return out
}

// GetPosition returns a copy of one open position.
func (m *Manager) GetPosition(positionID string) (*Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pos, ok := m.positions[positionID]
	if !ok {
		return nil, false
	}
	return copyOf(pos), true
}

// PositionForAsset returns the open position for an asset, if any.
func (m *Manager) PositionForAsset(asset string) (*Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, pos := range m.positions {
		if pos.Asset == asset && pos.Status == StatusOpen {
			return copyOf(pos), true
		}
	}
	return nil, false
}

// HasOpenPosition reports whether an asset has an open position.
func (m *Manager) HasOpenPosition(asset string) bool {
	_, ok := m.PositionForAsset(asset)
	return ok
}

// State is the persisted portfolio and position snapshot.
type State struct {
	Portfolio Portfolio  `json:"portfolio"`
	Positions []Position `json:"positions"`
}

// StateForPersistence snapshots the ledger and open positions.
func (m *Manager) StateForPersistence() State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	positions := make([]Position, 0, len(m.positions))
	for _, pos := range m.positions {
		positions = append(positions, *pos)
	}
	return State{Portfolio: m.portfolio, Positions: positions}
}

// RestoreState loads a persisted snapshot, keeping only open positions.
func (m *Manager) RestoreState(state State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.portfolio = state.Portfolio
	m.portfolio.LastUpdate = time.Now()
	m.positions = make(map[string]*Position, len(state.Positions))
	for i := range state.Positions {
		pos := state.Positions[i]
		if pos.Status != StatusOpen {
			continue
		}
		if pos.MarginUSD == 0 && pos.Leverage > 0 {
			pos.MarginUSD = pos.SizeUSD / pos.Leverage
		}
		if pos.InitialStopDistance == 0 {
			pos.InitialStopDistance = math.Abs(pos.EntryPrice - pos.StopLossPrice)
		}
		m.positions[pos.ID] = &pos
	}
	m.logger.Info().Int("positions", len(m.positions)).Msg("Position state restored")
}

// Reset clears all positions and restores the initial portfolio.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.positions = make(map[string]*Position)
	m.portfolio = newPortfolio(m.portfolio.InitialBalance)
	m.logger.Info().Msg("Portfolio reset to initial state")
}

func copyOf(pos *Position) *Position {
	cp := *pos
	return &cp
}
