package market

import "time"

// SessionName identifies a trading session by UTC hour.
type SessionName string

const (
	SessionAsian    SessionName = "asian"
	SessionEuropean SessionName = "european"
	SessionUS       SessionName = "us"
	SessionOffHours SessionName = "off-hours"
)

// Session describes the liquidity regime at a point in time.
//
// Asian:    00:00 - 08:00 UTC (Tokyo/Singapore/Hong Kong)
// European: 07:00 - 16:00 UTC (London/Frankfurt)
// US:       13:00 - 22:00 UTC (New York)
//
// Overlap periods carry the most liquidity; EU/US (13:00-16:00) is the best.
type Session struct {
	Name                 SessionName `json:"name"`
	IsOverlap            bool        `json:"is_overlap"`
	OverlapType          string      `json:"overlap_type,omitempty"` // "asia_eu" or "eu_us"
	ConfidenceMultiplier float64     `json:"confidence_multiplier"`
	SizeMultiplier       float64     `json:"size_multiplier"`
	Description          string      `json:"description"`
}

// ClassifySession returns the trading session for the given time.
func ClassifySession(t time.Time) Session {
	utcHour := t.UTC().Hour()

	// EU/US overlap - best trading conditions
	if utcHour >= 13 && utcHour < 16 {
		return Session{
			Name:                 SessionUS,
			IsOverlap:            true,
			OverlapType:          "eu_us",
			ConfidenceMultiplier: 1.1,
			SizeMultiplier:       1.0,
			Description:          "EU/US overlap (highest liquidity)",
		}
	}

	// Asia/EU overlap
	if utcHour >= 7 && utcHour < 8 {
		return Session{
			Name:                 SessionEuropean,
			IsOverlap:            true,
			OverlapType:          "asia_eu",
			ConfidenceMultiplier: 1.0,
			SizeMultiplier:       1.0,
			Description:          "Asia/EU overlap",
		}
	}

	if utcHour >= 13 && utcHour < 22 {
		return Session{
			Name:                 SessionUS,
			ConfidenceMultiplier: 1.0,
			SizeMultiplier:       1.0,
			Description:          "US session",
		}
	}

	if utcHour >= 7 && utcHour < 16 {
		return Session{
			Name:                 SessionEuropean,
			ConfidenceMultiplier: 1.0,
			SizeMultiplier:       1.0,
			Description:          "European session",
		}
	}

	// Asian session - lower liquidity, more wicks
	if utcHour >= 0 && utcHour < 8 {
		return Session{
			Name:                 SessionAsian,
			ConfidenceMultiplier: 0.9,
			SizeMultiplier:       0.85,
			Description:          "Asian session (lower liquidity)",
		}
	}

	// After US close, before Asia open. Very thin liquidity.
	return Session{
		Name:                 SessionOffHours,
		ConfidenceMultiplier: 0.8,
		SizeMultiplier:       0.7,
		Description:          "Off-hours (thin liquidity)",
	}
}

// WeekendConfidenceMultiplier returns 0.8 on Saturday/Sunday, 1.0 otherwise.
func WeekendConfidenceMultiplier(t time.Time) float64 {
	switch t.UTC().Weekday() {
	case time.Saturday, time.Sunday:
		return 0.8
	}
	return 1.0
}

// IsWeekend reports whether the given time falls on a weekend (UTC).
func IsWeekend(t time.Time) bool {
	return WeekendConfidenceMultiplier(t) < 1.0
}
