// Package positions owns the open-position set and the portfolio
// ledger: entry with slippage, mark-to-market, trailing stops, the
// partial take-profit ladder, liquidation and forced exits.
package positions

import (
	"math"
	"time"

	"paper-trading-engine/internal/signal"
)

// Status of a position.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// CloseReason explains why a position was closed.
type CloseReason string

const (
	CloseStopLoss     CloseReason = "stop_loss"
	CloseTakeProfit   CloseReason = "take_profit"
	CloseLiquidation  CloseReason = "liquidation"
	CloseTrailingStop CloseReason = "trailing_stop"
	CloseMaxAge       CloseReason = "max_age"
	CloseManual       CloseReason = "manual"
	CloseSignalFlip   CloseReason = "signal_flip"
)

// Trigger identifies which exit rule fired on a tick.
type Trigger string

const (
	TriggerStopLoss     Trigger = "stop_loss"
	TriggerTakeProfit   Trigger = "take_profit"
	TriggerLiquidation  Trigger = "liquidation"
	TriggerTrailingStop Trigger = "trailing_stop"
	TriggerPartialTP    Trigger = "partial_tp"
	TriggerMaxAge       Trigger = "max_age"
)

// Position is one simulated leveraged position.
type Position struct {
	ID        string           `json:"id"`
	Asset     string           `json:"asset"`
	Direction signal.Direction `json:"direction"`
	Status    Status           `json:"status"`

	EntryPrice      float64 `json:"entry_price"`
	SizeUSD         float64 `json:"size_usd"`
	OriginalSizeUSD float64 `json:"original_size_usd"`
	MarginUSD       float64 `json:"margin_usd"`
	Leverage        float64 `json:"leverage"`

	StopLossPrice float64 `json:"stop_loss_price"`
	// Entry-to-stop distance fixed at open; the R unit for trailing
	// activation and profit targets even after the stop moves.
	InitialStopDistance float64   `json:"initial_stop_distance"`
	TakeProfitPrices    []float64 `json:"take_profit_prices"`
	LiquidationPrice    float64   `json:"liquidation_price"` // Fixed at open

	MarkPrice           float64 `json:"mark_price"`
	UnrealizedPnl       float64 `json:"unrealized_pnl"`
	UnrealizedPnlPct    float64 `json:"unrealized_pnl_pct"` // On margin (leveraged)
	MaxUnrealizedProfit float64 `json:"max_unrealized_profit"`
	MaxUnrealizedLoss   float64 `json:"max_unrealized_loss"`

	TrailingStopActivated bool    `json:"trailing_stop_activated"`
	TrailingStopPrice     float64 `json:"trailing_stop_price,omitempty"`
	PartialProfitsTaken   int     `json:"partial_profits_taken"`

	EntryATRPct    float64 `json:"entry_atr_pct,omitempty"`
	EntrySlippage  float64 `json:"entry_slippage_bps,omitempty"`
	StrategyName   string  `json:"strategy_name"`
	TriggerSignals []string `json:"trigger_signals"`

	RealizedPnl    float64     `json:"realized_pnl,omitempty"`
	RealizedPnlPct float64     `json:"realized_pnl_pct,omitempty"`
	FeesUSD        float64     `json:"fees_usd,omitempty"`
	CloseReason    CloseReason `json:"close_reason,omitempty"`

	OpenedAt time.Time  `json:"opened_at"`
	ClosedAt *time.Time `json:"closed_at,omitempty"`
}

// Age returns how long the position has been open.
func (p *Position) Age(now time.Time) time.Duration {
	return now.Sub(p.OpenedAt)
}

// priceMove returns the favorable price difference for the direction.
func (p *Position) priceMove(price float64) float64 {
	if p.Direction == signal.DirectionLong {
		return price - p.EntryPrice
	}
	return p.EntryPrice - price
}

// Portfolio is the aggregate paper-trading ledger.
type Portfolio struct {
	Balance        float64   `json:"balance"` // Cash not committed as margin
	InitialBalance float64   `json:"initial_balance"`
	RealizedPnl    float64   `json:"realized_pnl"`
	UnrealizedPnl  float64   `json:"unrealized_pnl"`
	TotalValue     float64   `json:"total_value"`
	ReturnPct      float64   `json:"return_pct"`
	TradeCount     int       `json:"trade_count"`
	WinCount       int       `json:"win_count"`
	LossCount      int       `json:"loss_count"`
	WinRate        float64   `json:"win_rate"`
	PeakValue      float64   `json:"peak_value"`
	MaxDrawdown    float64   `json:"max_drawdown"`
	MaxDrawdownPct float64   `json:"max_drawdown_pct"`
	LastUpdate     time.Time `json:"last_update"`
}

// ComputeStopLossPct derives the stop distance from ATR: 1.5x ATR%
// clamped to [1, 4]. Falls back to the default when ATR is unknown.
func ComputeStopLossPct(atrPct, defaultPct float64) float64 {
	if atrPct <= 0 {
		return defaultPct
	}
	return math.Max(1.0, math.Min(4.0, atrPct*1.5))
}

// ComputeStopLossPrice places the stop below/above entry by stopPct.
func ComputeStopLossPrice(direction signal.Direction, entryPrice, stopPct float64) float64 {
	dist := entryPrice * stopPct / 100
	if direction == signal.DirectionLong {
		return entryPrice - dist
	}
	return entryPrice + dist
}

// ComputeTakeProfits lays the ladder at the given multiples of the stop
// distance past entry.
func ComputeTakeProfits(direction signal.Direction, entryPrice, stopLossPrice float64, ladder []float64) []float64 {
	dist := math.Abs(entryPrice - stopLossPrice)
	out := make([]float64, 0, len(ladder))
	for _, mult := range ladder {
		if direction == signal.DirectionLong {
			out = append(out, entryPrice+dist*mult)
		} else {
			out = append(out, entryPrice-dist*mult)
		}
	}
	return out
}
