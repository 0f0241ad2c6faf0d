package autopilot

import (
	"fmt"
	"sync"
	"time"

	"paper-trading-engine/internal/market"
	"paper-trading-engine/internal/signal"
)

const (
	basePositionSizePct = 0.05

	streakWindow         = 5
	streakRunThreshold   = 3
	winStreakMultiplier  = 1.2
	lossStreakMultiplier = 0.7
)

// calculateSize derives the position size and leverage for a validated
// signal. Size starts at a fixed fraction of portfolio value and is
// scaled by volatility, volume, sentiment, session and the recent
// win/loss streak; leverage comes from the goal tracker's Kelly
// recommendation. The goal tracker's own sizing caps the result so a
// single trade never risks more than the daily-target math allows.
func (e *Engine) calculateSize(agg *signal.Aggregated, snap *market.Snapshot, totalValue float64, now time.Time) (float64, float64, []string) {
	size := totalValue * basePositionSizePct
	factors := []string{fmt.Sprintf("base 5%% of $%.0f", totalValue)}

	// Implied volatility only exists for the majors
	if snap.DVOL != nil && (agg.Asset == "BTC" || agg.Asset == "ETH") {
		switch {
		case *snap.DVOL > 85:
			size *= 0.5
			factors = append(factors, fmt.Sprintf("extreme DVOL %.0f: halved", *snap.DVOL))
		case *snap.DVOL > 70:
			size *= 0.7
			factors = append(factors, fmt.Sprintf("high DVOL %.0f: reduced 30%%", *snap.DVOL))
		}
	}

	if snap.VolumeRatio > 0 {
		switch {
		case snap.VolumeRatio >= 2.0:
			size *= 1.2
			factors = append(factors, fmt.Sprintf("volume surge %.1fx", snap.VolumeRatio))
		case snap.VolumeRatio >= 1.5:
			size *= 1.1
			factors = append(factors, fmt.Sprintf("elevated volume %.1fx", snap.VolumeRatio))
		case snap.VolumeRatio < 0.5:
			size *= 0.5
			factors = append(factors, fmt.Sprintf("dead volume %.1fx: halved", snap.VolumeRatio))
		case snap.VolumeRatio < 0.8:
			size *= 0.8
			factors = append(factors, fmt.Sprintf("thin volume %.1fx", snap.VolumeRatio))
		}
	}

	if snap.FearGreed != nil {
		if mult, reason := fearGreedMultiplier(*snap.FearGreed, agg.Direction); mult != 1.0 {
			size *= mult
			factors = append(factors, reason)
		}
	}

	// The first half hour of a major session open is choppy
	if isSessionOpen(now) {
		size *= 0.8
		factors = append(factors, "session open: reduced 20%")
	}

	session := market.ClassifySession(now)
	if session.SizeMultiplier != 1.0 {
		size *= session.SizeMultiplier
		factors = append(factors, fmt.Sprintf("%s session: %.2fx", session.Name, session.SizeMultiplier))
	}

	if mult := e.streak.multiplier(); mult != 1.0 {
		size *= mult
		if mult > 1.0 {
			factors = append(factors, fmt.Sprintf("win streak: %.1fx", mult))
		} else {
			factors = append(factors, fmt.Sprintf("loss streak: %.1fx", mult))
		}
	}

	drawdown := e.risk.CurrentDrawdownPct()
	rec := e.goals.CalculatePositionSize(agg, totalValue, e.positions.CurrentExposure(), drawdown, snap.DVOL, now)
	leverage := rec.Leverage
	if rec.SizeUSD > 0 && size > rec.SizeUSD {
		size = rec.SizeUSD
		factors = append(factors, "capped at goal-based size")
	}

	return size, leverage, factors
}

// fearGreedMultiplier sizes contrarian to crowd sentiment: extremes in
// fear favor longs, extremes in greed favor shorts.
func fearGreedMultiplier(fg float64, direction signal.Direction) (float64, string) {
	long := direction == signal.DirectionLong
	switch {
	case fg < 20 && long:
		return 1.3, fmt.Sprintf("extreme fear %.0f: contrarian long boost", fg)
	case fg < 20 && !long:
		return 0.7, fmt.Sprintf("extreme fear %.0f: short reduced", fg)
	case fg < 35 && long:
		return 1.15, fmt.Sprintf("fear %.0f: long boost", fg)
	case fg > 80 && long:
		return 0.7, fmt.Sprintf("extreme greed %.0f: long reduced", fg)
	case fg > 80 && !long:
		return 1.2, fmt.Sprintf("extreme greed %.0f: contrarian short boost", fg)
	}
	return 1.0, ""
}

// isSessionOpen reports whether t falls in the first 30 minutes of the
// Asian, European or US session open (UTC hours 0, 7 and 13).
func isSessionOpen(t time.Time) bool {
	utc := t.UTC()
	h, m := utc.Hour(), utc.Minute()
	return (h == 0 || h == 7 || h == 13) && m < 30
}

// streakTracker remembers the last few trade outcomes and scales size
// up on a hot streak, down on a cold one.
type streakTracker struct {
	mu       sync.Mutex
	outcomes []bool
}

func (s *streakTracker) record(win bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, win)
	if len(s.outcomes) > streakWindow {
		s.outcomes = s.outcomes[len(s.outcomes)-streakWindow:]
	}
}

func (s *streakTracker) multiplier() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.outcomes) < streakRunThreshold {
		return 1.0
	}
	run := 1
	last := s.outcomes[len(s.outcomes)-1]
	for i := len(s.outcomes) - 2; i >= 0 && s.outcomes[i] == last; i-- {
		run++
	}
	if run < streakRunThreshold {
		return 1.0
	}
	if last {
		return winStreakMultiplier
	}
	return lossStreakMultiplier
}

func (s *streakTracker) snapshot() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]bool, len(s.outcomes))
	copy(out, s.outcomes)
	return out
}

func (s *streakTracker) restore(outcomes []bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(outcomes) > streakWindow {
		outcomes = outcomes[len(outcomes)-streakWindow:]
	}
	s.outcomes = append([]bool(nil), outcomes...)
}
