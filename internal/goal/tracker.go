// Package goal tracks P&L progress against daily and monthly targets
// and converts journal statistics into Kelly-derived leverage and
// position-size recommendations.
package goal

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"paper-trading-engine/config"
	"paper-trading-engine/internal/journal"
	"paper-trading-engine/internal/market"
	"paper-trading-engine/internal/signal"
)

// Kelly sizing parameters.
const (
	kellyFraction       = 0.5 // Half-Kelly
	minTradesForKelly   = 10
	fallbackWinRate     = 50.0
	fallbackWinLossRate = 1.2
	maxKellyLeverage    = 5.0
	minLeverage         = 1.0
)

// Leverage adjustment multipliers.
const (
	drawdown5PctMult  = 0.75
	drawdown10PctMult = 0.50
	drawdown15PctMult = 0.25

	highVolMult     = 0.70 // DVOL > 80
	elevatedVolMult = 0.85 // DVOL > 60

	offHoursMaxLeverage = 2.0
	overlapBoostMult    = 1.2
	weekendMult         = 0.8

	aheadTargetMult    = 0.8
	aheadThresholdPct  = 150.0
	behindTargetBoost  = 1.1
	minPositionSizeUSD = 1000.0
)

// Goal is the KPI target configuration.
type Goal struct {
	DailyTargetUSD       float64 `json:"daily_target_usd"`
	MonthlyTargetUSD     float64 `json:"monthly_target_usd"`
	ExpectedTradesPerDay int     `json:"expected_trades_per_day"`
	RiskPerTradePct      float64 `json:"risk_per_trade_pct"`
	TargetRiskReward     float64 `json:"target_risk_reward"`
}

// LeverageAdjustment records one applied multiplier with its reason.
type LeverageAdjustment struct {
	Factor     string  `json:"factor"`
	Multiplier float64 `json:"multiplier"`
	Reason     string  `json:"reason"`
}

// LeverageRecommendation is the Kelly-derived leverage with all
// adjustments applied.
type LeverageRecommendation struct {
	KellyOptimal float64              `json:"kelly_optimal"`
	KellySafe    float64              `json:"kelly_safe"`
	Recommended  float64              `json:"recommended"`
	Maximum      float64              `json:"maximum"`
	Adjustments  []LeverageAdjustment `json:"adjustments"`
	Reason       string               `json:"reason"`
}

// SizingRecommendation is a goal-aware position size.
type SizingRecommendation struct {
	SizeUSD              float64  `json:"size_usd"`
	SizePct              float64  `json:"size_pct"`
	Leverage             float64  `json:"leverage"`
	RiskUSD              float64  `json:"risk_usd"`
	RiskPct              float64  `json:"risk_pct"`
	ExpectedWinUSD       float64  `json:"expected_win_usd"`
	ExpectedLossUSD      float64  `json:"expected_loss_usd"`
	Factors              []string `json:"factors"`
	HelpsHitTarget       bool     `json:"helps_hit_target"`
	ExpectedContribution float64  `json:"expected_contribution"`
}

// CapitalRequirements reports how current capital compares with what the
// daily target needs at different leverage levels.
type CapitalRequirements struct {
	MinimumCapital      float64 `json:"minimum_capital"`
	ConservativeCapital float64 `json:"conservative_capital"`
	OptimalCapital      float64 `json:"optimal_capital"`
	CurrentCapital      float64 `json:"current_capital"`
	CapitalGap          float64 `json:"capital_gap"`
	UtilizationPct      float64 `json:"utilization_pct"`
	Status              string  `json:"status"` // under-capitalized, optimal, over-capitalized
	Recommendation      string  `json:"recommendation"`
}

// DailyRecord is one day's realized result.
type DailyRecord struct {
	Date      string  `json:"date"` // YYYY-MM-DD (UTC)
	Pnl       float64 `json:"pnl"`
	Trades    int     `json:"trades"`
	HitTarget bool    `json:"hit_target"`
}

// Progress is the KPI progress snapshot.
type Progress struct {
	Daily struct {
		Target     float64 `json:"target"`
		Current    float64 `json:"current"`
		Pct        float64 `json:"pct"`
		Remaining  float64 `json:"remaining"`
		Trades     int     `json:"trades"`
		WinRate    float64 `json:"win_rate"`
		Pace       string  `json:"pace"` // ahead, on-track, behind
		PaceAmount float64 `json:"pace_amount"`
	} `json:"daily"`
	Monthly struct {
		Target               float64 `json:"target"`
		Current              float64 `json:"current"`
		Pct                  float64 `json:"pct"`
		Remaining            float64 `json:"remaining"`
		TradingDays          int     `json:"trading_days"`
		TradingDaysRemaining int     `json:"trading_days_remaining"`
		DailyTargetToHitGoal float64 `json:"daily_target_to_hit_goal"`
		Status               string  `json:"status"`
	} `json:"monthly"`
	AllTime struct {
		TotalPnl     float64 `json:"total_pnl"`
		TotalTrades  int     `json:"total_trades"`
		WinRate      float64 `json:"win_rate"`
		AvgWin       float64 `json:"avg_win"`
		AvgLoss      float64 `json:"avg_loss"`
		ProfitFactor float64 `json:"profit_factor"`
		SharpeRatio  float64 `json:"sharpe_ratio"`
	} `json:"all_time"`
}

// State is the persisted tracker state.
type State struct {
	Goal         Goal          `json:"goal"`
	DailyHistory []DailyRecord `json:"daily_history"`
	TodayPnl     float64       `json:"today_pnl"`
	TodayTrades  int           `json:"today_trades"`
	CurrentMonth string        `json:"current_month"`
	LastUpdate   time.Time     `json:"last_update"`
}

// StatsProvider supplies realized trade statistics, normally the journal.
type StatsProvider interface {
	GetStats() journal.Stats
}

// Tracker converts goals and realized statistics into sizing decisions.
type Tracker struct {
	mu           sync.RWMutex
	goal         Goal
	stats        StatsProvider
	stopLossPct  float64
	maxLeverage  float64
	maxPosPct    float64
	maxExpoPct   float64
	dailyHistory []DailyRecord
	todayPnl     float64
	todayTrades  int
	currentMonth string
	logger       zerolog.Logger
}

// NewTracker builds a goal tracker from config. stats may be nil until
// the journal is wired; fallback statistics apply until then.
func NewTracker(goalCfg config.GoalConfig, riskCfg config.RiskConfig, stats StatsProvider, logger zerolog.Logger) *Tracker {
	return &Tracker{
		goal: Goal{
			DailyTargetUSD:       goalCfg.DailyTargetUSD,
			MonthlyTargetUSD:     goalCfg.MonthlyTargetUSD,
			ExpectedTradesPerDay: goalCfg.ExpectedTradesPerDay,
			RiskPerTradePct:      goalCfg.RiskPerTradePct,
			TargetRiskReward:     goalCfg.TargetRiskReward,
		},
		stats:        stats,
		stopLossPct:  riskCfg.DefaultStopLossPct,
		maxLeverage:  riskCfg.MaxLeverage,
		maxPosPct:    riskCfg.MaxPositionSizePct,
		maxExpoPct:   riskCfg.MaxTotalExposurePct,
		currentMonth: monthString(time.Now()),
		logger:       logger.With().Str("component", "GoalTracker").Logger(),
	}
}

// GetGoal returns a copy of the current goal.
func (t *Tracker) GetGoal() Goal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.goal
}

// UpdateGoal merges non-zero target fields, logging before/after.
func (t *Tracker) UpdateGoal(g Goal) {
	t.mu.Lock()
	defer t.mu.Unlock()

	old := t.goal
	if g.DailyTargetUSD > 0 {
		t.goal.DailyTargetUSD = g.DailyTargetUSD
	}
	if g.MonthlyTargetUSD > 0 {
		t.goal.MonthlyTargetUSD = g.MonthlyTargetUSD
	}
	if g.ExpectedTradesPerDay > 0 {
		t.goal.ExpectedTradesPerDay = g.ExpectedTradesPerDay
	}
	if g.RiskPerTradePct > 0 {
		t.goal.RiskPerTradePct = g.RiskPerTradePct
	}
	if g.TargetRiskReward > 0 {
		t.goal.TargetRiskReward = g.TargetRiskReward
	}
	t.logger.Info().
		Float64("old_daily", old.DailyTargetUSD).
		Float64("new_daily", t.goal.DailyTargetUSD).
		Float64("old_monthly", old.MonthlyTargetUSD).
		Float64("new_monthly", t.goal.MonthlyTargetUSD).
		Msg("Goal updated")
}

func (t *Tracker) tradeStats() journal.Stats {
	if t.stats == nil {
		return journal.Stats{WinRate: fallbackWinRate, ProfitFactor: 1}
	}
	s := t.stats.GetStats()
	if s.TotalTrades < minTradesForKelly {
		s.WinRate = fallbackWinRate
		s.AvgWin = 0
		s.AvgLoss = 0
	}
	return s
}

// kellyLeverage computes the Kelly-optimal leverage from win rate and
// win/loss magnitudes: f* = (p*b - q)/b, scaled by risk per trade.
func (t *Tracker) kellyLeverage(winRatePct, avgWin, avgLoss float64) float64 {
	p := winRatePct / 100
	q := 1 - p

	b := fallbackWinLossRate
	if avgLoss > 0 {
		b = avgWin / avgLoss
	}

	kellyFrac := (p*b - q) / b

	riskPerTrade := t.goal.RiskPerTradePct / 100
	lev := kellyFrac / riskPerTrade

	lev = math.Max(minLeverage, math.Min(maxKellyLeverage, lev))
	if math.IsNaN(lev) || math.IsInf(lev, 0) || lev <= 0 {
		lev = 2
	}
	return lev
}

// CalculateOptimalLeverage returns the Kelly-derived leverage after
// drawdown, volatility, session, weekend and daily-progress adjustments.
// dvol may be nil when no volatility index is available.
func (t *Tracker) CalculateOptimalLeverage(drawdownPct float64, dvol *float64, now time.Time) LeverageRecommendation {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := t.tradeStats()
	var adjustments []LeverageAdjustment

	kellyOptimal := t.kellyLeverage(stats.WinRate, stats.AvgWin, stats.AvgLoss)
	kellySafe := kellyOptimal * kellyFraction
	recommended := kellySafe

	switch {
	case drawdownPct >= 15:
		recommended *= drawdown15PctMult
		adjustments = append(adjustments, LeverageAdjustment{
			Factor: "drawdown", Multiplier: drawdown15PctMult,
			Reason: fmt.Sprintf("Drawdown %.1f%% >= 15%% (critical)", drawdownPct),
		})
	case drawdownPct >= 10:
		recommended *= drawdown10PctMult
		adjustments = append(adjustments, LeverageAdjustment{
			Factor: "drawdown", Multiplier: drawdown10PctMult,
			Reason: fmt.Sprintf("Drawdown %.1f%% >= 10%% (high)", drawdownPct),
		})
	case drawdownPct >= 5:
		recommended *= drawdown5PctMult
		adjustments = append(adjustments, LeverageAdjustment{
			Factor: "drawdown", Multiplier: drawdown5PctMult,
			Reason: fmt.Sprintf("Drawdown %.1f%% >= 5%% (elevated)", drawdownPct),
		})
	}

	if dvol != nil {
		if *dvol > 80 {
			recommended *= highVolMult
			adjustments = append(adjustments, LeverageAdjustment{
				Factor: "volatility", Multiplier: highVolMult,
				Reason: fmt.Sprintf("DVOL %.0f > 80 (extreme volatility)", *dvol),
			})
		} else if *dvol > 60 {
			recommended *= elevatedVolMult
			adjustments = append(adjustments, LeverageAdjustment{
				Factor: "volatility", Multiplier: elevatedVolMult,
				Reason: fmt.Sprintf("DVOL %.0f > 60 (elevated volatility)", *dvol),
			})
		}
	}

	session := market.ClassifySession(now)
	if session.Name == market.SessionOffHours {
		if recommended > offHoursMaxLeverage {
			adjustments = append(adjustments, LeverageAdjustment{
				Factor: "session", Multiplier: offHoursMaxLeverage / recommended,
				Reason: fmt.Sprintf("Off-hours session (capped at %.0fx)", offHoursMaxLeverage),
			})
			recommended = offHoursMaxLeverage
		}
	} else if session.IsOverlap && session.OverlapType == "eu_us" {
		recommended *= overlapBoostMult
		adjustments = append(adjustments, LeverageAdjustment{
			Factor: "session", Multiplier: overlapBoostMult,
			Reason: "EU/US overlap (peak liquidity)",
		})
	}

	if market.IsWeekend(now) {
		recommended *= weekendMult
		adjustments = append(adjustments, LeverageAdjustment{
			Factor: "weekend", Multiplier: weekendMult,
			Reason: "Weekend (reduced liquidity)",
		})
	}

	if t.goal.DailyTargetUSD > 0 {
		dailyProgress := t.todayPnl / t.goal.DailyTargetUSD * 100
		if dailyProgress >= aheadThresholdPct {
			recommended *= aheadTargetMult
			adjustments = append(adjustments, LeverageAdjustment{
				Factor: "progress", Multiplier: aheadTargetMult,
				Reason: fmt.Sprintf("Ahead of target (%.0f%%) - preserving gains", dailyProgress),
			})
		} else if dailyProgress < 50 && hoursIntoDay(now) > 12 {
			recommended *= behindTargetBoost
			adjustments = append(adjustments, LeverageAdjustment{
				Factor: "progress", Multiplier: behindTargetBoost,
				Reason: fmt.Sprintf("Behind target (%.0f%%) - slight boost", dailyProgress),
			})
		}
	}

	recommended = math.Max(minLeverage, math.Min(t.maxLeverage, recommended))

	var reason string
	if len(adjustments) == 0 {
		reason = fmt.Sprintf("Half-Kelly optimal (%.1fx) based on %.0f%% win rate", kellySafe, stats.WinRate)
	} else {
		total := 1.0
		factors := make([]string, 0, len(adjustments))
		for _, a := range adjustments {
			total *= a.Multiplier
			factors = append(factors, a.Factor)
		}
		reason = fmt.Sprintf("Adjusted %.0f%% from Kelly due to: %s",
			total*100-100, strings.Join(factors, ", "))
	}

	return LeverageRecommendation{
		KellyOptimal: round1(kellyOptimal),
		KellySafe:    round1(kellySafe),
		Recommended:  round1(recommended),
		Maximum:      t.maxLeverage,
		Adjustments:  adjustments,
		Reason:       reason,
	}
}

// CalculatePositionSize derives a goal-aware notional: remaining target
// split over remaining trades, clamped by position-size, risk-per-trade
// and exposure ceilings, then nudged by signal strength.
func (t *Tracker) CalculatePositionSize(agg *signal.Aggregated, capital, currentExposure, drawdownPct float64, dvol *float64, now time.Time) SizingRecommendation {
	rec := t.CalculateOptimalLeverage(drawdownPct, dvol, now)
	leverage := rec.Recommended

	t.mu.RLock()
	defer t.mu.RUnlock()

	var factors []string

	tradesRemaining := float64(t.goal.ExpectedTradesPerDay - t.todayTrades)
	if tradesRemaining < 1 {
		tradesRemaining = 1
	}
	remainingTarget := math.Max(0, t.goal.DailyTargetUSD-t.todayPnl)
	targetPerTrade := remainingTarget / tradesRemaining

	stopLossFrac := t.stopLossPct / 100
	expectedWinFrac := stopLossFrac * t.goal.TargetRiskReward

	targetSize := targetPerTrade / (expectedWinFrac * leverage)
	targetMargin := targetSize / leverage

	maxPositionMargin := capital * t.maxPosPct / 100
	maxRiskUSD := capital * t.goal.RiskPerTradePct / 100
	riskBasedMaxMargin := maxRiskUSD / stopLossFrac / leverage
	availableMargin := math.Max(0, capital*t.maxExpoPct/100-currentExposure)

	marginToUse := math.Min(math.Min(targetMargin, maxPositionMargin), math.Min(riskBasedMaxMargin, availableMargin))
	marginToUse = math.Max(0, marginToUse)
	sizeUSD := marginToUse * leverage

	switch marginToUse {
	case targetMargin:
		factors = append(factors, "Goal-based sizing")
	case maxPositionMargin:
		factors = append(factors, fmt.Sprintf("Capped at %.0f%% max position", t.maxPosPct))
	case riskBasedMaxMargin:
		factors = append(factors, fmt.Sprintf("Risk-limited to %.1f%% of capital", t.goal.RiskPerTradePct))
	case availableMargin:
		factors = append(factors, "Exposure limit reached")
	}

	if agg != nil {
		if agg.Strength >= 80 {
			sizeUSD *= 1.15
			factors = append(factors, "Strong signal (+15%)")
		} else if agg.Strength < 70 {
			sizeUSD *= 0.85
			factors = append(factors, "Weak signal (-15%)")
		}
	}

	// Floor then re-clamp against remaining exposure headroom
	sizeUSD = math.Max(minPositionSizeUSD, sizeUSD)
	if sizeUSD/leverage > availableMargin && availableMargin > 0 {
		sizeUSD = availableMargin * leverage
	}

	riskUSD := sizeUSD * stopLossFrac
	expectedWinUSD := sizeUSD * expectedWinFrac

	stats := t.tradeStats()
	winProb := stats.WinRate / 100
	expectedContribution := winProb*expectedWinUSD - (1-winProb)*riskUSD

	riskPct := 0.0
	sizePct := 0.0
	if capital > 0 {
		riskPct = riskUSD / capital * 100
		sizePct = sizeUSD / capital * 100
	}

	return SizingRecommendation{
		SizeUSD:              math.Round(sizeUSD),
		SizePct:              round1(sizePct),
		Leverage:             round1(leverage),
		RiskUSD:              math.Round(riskUSD),
		RiskPct:              round1(riskPct),
		ExpectedWinUSD:       math.Round(expectedWinUSD),
		ExpectedLossUSD:      math.Round(riskUSD),
		Factors:              factors,
		HelpsHitTarget:       expectedContribution > 0,
		ExpectedContribution: math.Round(expectedContribution),
	}
}

// CalculateCapitalRequirements compares capital against what the daily
// target needs at max, Kelly and half-Kelly leverage.
func (t *Tracker) CalculateCapitalRequirements(currentCapital float64) CapitalRequirements {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := t.tradeStats()
	winRate := stats.WinRate / 100
	lossRate := 1 - winRate

	avgWinPct := 2.0
	if stats.AvgWin > 0 && currentCapital > 0 {
		avgWinPct = stats.AvgWin / currentCapital * 100
	}
	avgLossPct := 1.0
	if stats.AvgLoss > 0 && currentCapital > 0 {
		avgLossPct = stats.AvgLoss / currentCapital * 100
	}

	expectedPerTrade := winRate*avgWinPct - lossRate*avgLossPct
	expectedDaily := expectedPerTrade * float64(t.goal.ExpectedTradesPerDay)

	kellyLev := t.kellyLeverage(stats.WinRate, stats.AvgWin, stats.AvgLoss)
	safeLev := kellyLev * kellyFraction

	minimum, optimal, conservative := 50000.0, 50000.0, 75000.0
	if expectedDaily > 0 {
		minimum = t.goal.DailyTargetUSD / (expectedDaily / 100) / t.maxLeverage
		optimal = t.goal.DailyTargetUSD / (expectedDaily / 100) / math.Max(1, kellyLev)
		conservative = t.goal.DailyTargetUSD / (expectedDaily / 100) / math.Max(1, safeLev)
	}

	gap := optimal - currentCapital
	utilization := 100.0
	if optimal > 0 {
		utilization = currentCapital / optimal * 100
	}

	var status, recommendation string
	switch {
	case currentCapital < minimum*0.9:
		status = "under-capitalized"
		recommendation = fmt.Sprintf("Need $%.0f more capital to safely hit $%.0f/day target at max leverage",
			math.Ceil(minimum-currentCapital), t.goal.DailyTargetUSD)
	case currentCapital > conservative*1.5:
		status = "over-capitalized"
		recommendation = fmt.Sprintf("Capital buffer of $%.0f above optimal. Can reduce risk or increase targets.",
			math.Ceil(currentCapital-optimal))
	default:
		status = "optimal"
		recommendation = fmt.Sprintf("Capital is well-positioned for $%.0f/day target with safe leverage.", t.goal.DailyTargetUSD)
	}

	return CapitalRequirements{
		MinimumCapital:      math.Round(minimum),
		ConservativeCapital: math.Round(conservative),
		OptimalCapital:      math.Round(optimal),
		CurrentCapital:      math.Round(currentCapital),
		CapitalGap:          math.Round(gap),
		UtilizationPct:      math.Round(utilization),
		Status:              status,
		Recommendation:      recommendation,
	}
}

// GetProgress returns the KPI progress snapshot.
func (t *Tracker) GetProgress(realizedPnl float64, now time.Time) Progress {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := t.tradeStats()
	var p Progress

	hours := hoursIntoDay(now)
	expectedAtHour := hours / 24 * t.goal.DailyTargetUSD
	paceAmount := t.todayPnl - expectedAtHour

	p.Daily.Target = t.goal.DailyTargetUSD
	p.Daily.Current = math.Round(t.todayPnl)
	if t.goal.DailyTargetUSD > 0 {
		p.Daily.Pct = math.Round(t.todayPnl / t.goal.DailyTargetUSD * 100)
	}
	p.Daily.Remaining = math.Round(t.goal.DailyTargetUSD - t.todayPnl)
	p.Daily.Trades = t.todayTrades
	p.Daily.WinRate = stats.WinRate
	p.Daily.PaceAmount = math.Round(paceAmount)
	switch {
	case paceAmount > t.goal.DailyTargetUSD*0.1:
		p.Daily.Pace = "ahead"
	case paceAmount < -t.goal.DailyTargetUSD*0.1:
		p.Daily.Pace = "behind"
	default:
		p.Daily.Pace = "on-track"
	}

	monthlyPnl := t.monthlyPnlLocked(now)
	tradingDays := tradingDaysElapsed(now)
	remainingDays := tradingDaysInMonth - tradingDays
	monthlyGap := monthlyPnl - float64(tradingDays)*t.goal.DailyTargetUSD

	p.Monthly.Target = t.goal.MonthlyTargetUSD
	p.Monthly.Current = math.Round(monthlyPnl)
	if t.goal.MonthlyTargetUSD > 0 {
		p.Monthly.Pct = math.Round(monthlyPnl / t.goal.MonthlyTargetUSD * 100)
	}
	p.Monthly.Remaining = math.Round(t.goal.MonthlyTargetUSD - monthlyPnl)
	p.Monthly.TradingDays = tradingDays
	p.Monthly.TradingDaysRemaining = remainingDays
	remainingTarget := t.goal.MonthlyTargetUSD - monthlyPnl
	if remainingDays > 0 {
		p.Monthly.DailyTargetToHitGoal = math.Round(remainingTarget / float64(remainingDays))
	} else {
		p.Monthly.DailyTargetToHitGoal = math.Round(remainingTarget)
	}
	switch {
	case monthlyGap > t.goal.MonthlyTargetUSD*0.1:
		p.Monthly.Status = "ahead"
	case monthlyGap < -t.goal.MonthlyTargetUSD*0.1:
		p.Monthly.Status = "behind"
	default:
		p.Monthly.Status = "on-track"
	}

	p.AllTime.TotalPnl = math.Round(realizedPnl)
	p.AllTime.TotalTrades = stats.TotalTrades
	p.AllTime.WinRate = stats.WinRate
	p.AllTime.AvgWin = math.Round(stats.AvgWin)
	p.AllTime.AvgLoss = math.Round(stats.AvgLoss)
	p.AllTime.ProfitFactor = math.Round(stats.ProfitFactor*100) / 100
	p.AllTime.SharpeRatio = math.Round(t.sharpeRatioLocked()*100) / 100

	return p
}

// sharpeRatioLocked annualizes daily history returns. Simplified; no
// risk-free rate.
func (t *Tracker) sharpeRatioLocked() float64 {
	n := len(t.dailyHistory)
	if n == 0 {
		return 0
	}
	var sum float64
	for _, d := range t.dailyHistory {
		sum += d.Pnl
	}
	avg := sum / float64(n)
	if n < 2 {
		return 0
	}
	var variance float64
	for _, d := range t.dailyHistory {
		variance += (d.Pnl - avg) * (d.Pnl - avg)
	}
	variance /= float64(n - 1)
	stdDev := math.Sqrt(variance)
	if stdDev == 0 {
		return 0
	}
	return avg / stdDev * math.Sqrt(252)
}

// RecordTrade books a closed trade's realized P&L against today.
func (t *Tracker) RecordTrade(pnl float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.todayPnl += pnl
	t.todayTrades++
}

// TodayPnl returns today's realized P&L.
func (t *Tracker) TodayPnl() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.todayPnl
}

// ResetDaily rolls today's result into history (keeping 30 days) and
// zeroes the daily counters.
func (t *Tracker) ResetDaily(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.todayTrades > 0 {
		date := now.UTC().Format("2006-01-02")
		n := len(t.dailyHistory)
		if n == 0 || t.dailyHistory[n-1].Date != date {
			t.dailyHistory = append(t.dailyHistory, DailyRecord{
				Date:      date,
				Pnl:       t.todayPnl,
				Trades:    t.todayTrades,
				HitTarget: t.todayPnl >= t.goal.DailyTargetUSD,
			})
			if len(t.dailyHistory) > 30 {
				t.dailyHistory = t.dailyHistory[len(t.dailyHistory)-30:]
			}
		}
	}

	if month := monthString(now); month != t.currentMonth {
		t.currentMonth = month
	}

	t.todayPnl = 0
	t.todayTrades = 0
	t.logger.Info().Msg("Daily goal stats reset")
}

// DailyHistory returns a copy of the retained daily records.
func (t *Tracker) DailyHistory() []DailyRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]DailyRecord, len(t.dailyHistory))
	copy(out, t.dailyHistory)
	return out
}

func (t *Tracker) monthlyPnlLocked(now time.Time) float64 {
	month := monthString(now)
	total := t.todayPnl
	for _, d := range t.dailyHistory {
		if strings.HasPrefix(d.Date, month) {
			total += d.Pnl
		}
	}
	return total
}

// StateForPersistence returns a snapshot for state persistence.
func (t *Tracker) StateForPersistence() State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	history := make([]DailyRecord, len(t.dailyHistory))
	copy(history, t.dailyHistory)
	return State{
		Goal:         t.goal,
		DailyHistory: history,
		TodayPnl:     t.todayPnl,
		TodayTrades:  t.todayTrades,
		CurrentMonth: t.currentMonth,
		LastUpdate:   time.Now(),
	}
}

// RestoreState loads persisted tracker state.
func (t *Tracker) RestoreState(state State) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if state.Goal.DailyTargetUSD > 0 {
		t.goal = state.Goal
	}
	t.dailyHistory = state.DailyHistory
	t.todayPnl = state.TodayPnl
	t.todayTrades = state.TodayTrades
	if state.CurrentMonth != "" {
		t.currentMonth = state.CurrentMonth
	}
	t.logger.Info().
		Float64("daily_target", t.goal.DailyTargetUSD).
		Int("history_days", len(t.dailyHistory)).
		Msg("Goal tracker state restored")
}

const tradingDaysInMonth = 22

func tradingDaysElapsed(now time.Time) int {
	return int(float64(now.UTC().Day()) * 0.7)
}

func hoursIntoDay(now time.Time) float64 {
	utc := now.UTC()
	return float64(utc.Hour()) + float64(utc.Minute())/60
}

func monthString(now time.Time) string {
	return now.UTC().Format("2006-01")
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
