// Package journal records trade entries and exits with full context and
// feeds per-source performance back into signal weighting.
package journal

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// maxEntries caps the in-memory journal; older entries roll off.
const maxEntries = 1000

// minTradesForWeight is the sample size needed before a source's win
// rate moves its weight multiplier off 1.0.
const minTradesForWeight = 5

// EntryType distinguishes trade entries from exits.
type EntryType string

const (
	TypeEntry EntryType = "entry"
	TypeExit  EntryType = "exit"
)

// SignalDetail captures one contributing signal at trade time.
type SignalDetail struct {
	Source     string  `json:"source"`
	Direction  string  `json:"direction"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

// MarketContext captures the market snapshot at trade time.
type MarketContext struct {
	Price          float64  `json:"price"`
	FundingRate    float64  `json:"funding_rate,omitempty"`
	VolumeRatio    float64  `json:"volume_ratio,omitempty"`
	OIChange24hPct float64  `json:"oi_change_24h_pct,omitempty"`
	RSI            float64  `json:"rsi,omitempty"`
	BookImbalance  *float64 `json:"book_imbalance,omitempty"`
	Session        string   `json:"session,omitempty"`
}

// Entry is one journal record.
type Entry struct {
	PositionID    string         `json:"position_id"`
	Type          EntryType      `json:"type"`
	Asset         string         `json:"asset"`
	Direction     string         `json:"direction"`
	Price         float64        `json:"price"`
	SizeUSD       float64        `json:"size_usd"`
	Leverage      float64        `json:"leverage"`
	StrategyName  string         `json:"strategy_name,omitempty"`
	SignalDetails []SignalDetail `json:"signal_details,omitempty"`
	MarketContext MarketContext  `json:"market_context"`
	StopLoss      float64        `json:"stop_loss,omitempty"`
	TakeProfits   []float64      `json:"take_profits,omitempty"`
	RealizedPnl   *float64       `json:"realized_pnl,omitempty"`
	CloseReason   string         `json:"close_reason,omitempty"`
	Duration      time.Duration  `json:"duration,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// SourceStats tracks outcomes attributed to one signal source.
type SourceStats struct {
	Wins           int     `json:"wins"`
	Losses         int     `json:"losses"`
	TotalPnl       float64 `json:"total_pnl"`
	AvgPnlPerTrade float64 `json:"avg_pnl_per_trade"`
}

// Stats summarizes closed trades.
type Stats struct {
	TotalTrades    int           `json:"total_trades"`
	WinCount       int           `json:"win_count"`
	LossCount      int           `json:"loss_count"`
	WinRate        float64       `json:"win_rate"` // Percent
	TotalPnl       float64       `json:"total_pnl"`
	AvgPnlPerTrade float64       `json:"avg_pnl_per_trade"`
	AvgWin         float64       `json:"avg_win"`
	AvgLoss        float64       `json:"avg_loss"` // Positive magnitude
	AvgDuration    time.Duration `json:"avg_duration"`
	ProfitFactor   float64       `json:"profit_factor"`
}

// Repository persists journal entries. Implementations must be safe for
// fire-and-forget use; a nil repository keeps the journal memory-only.
type Repository interface {
	InsertEntry(ctx context.Context, entry *Entry) error
	LoadRecent(ctx context.Context, limit int) ([]Entry, error)
}

// Journal is the append-only trade record with source attribution.
type Journal struct {
	mu          sync.RWMutex
	entries     []Entry
	sourceStats map[string]*SourceStats
	repo        Repository
	logger      zerolog.Logger
}

// New creates a journal. repo may be nil for memory-only operation.
func New(repo Repository, logger zerolog.Logger) *Journal {
	return &Journal{
		sourceStats: make(map[string]*SourceStats),
		repo:        repo,
		logger:      logger.With().Str("component", "TradeJournal").Logger(),
	}
}

// LoadFromRepository seeds the in-memory journal with the most recent
// persisted entries. A later engine state restore replaces this seed,
// so the repository load only covers the missing-snapshot case.
func (j *Journal) LoadFromRepository(ctx context.Context) error {
	if j.repo == nil {
		return nil
	}
	entries, err := j.repo.LoadRecent(ctx, maxEntries)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	j.RestoreEntries(entries)
	return nil
}

// RecordEntry appends an entry record for a newly opened position.
func (j *Journal) RecordEntry(ctx context.Context, entry Entry) {
	entry.Type = TypeEntry
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	j.append(ctx, entry)

	j.logger.Debug().
		Str("asset", entry.Asset).
		Str("direction", entry.Direction).
		Float64("price", entry.Price).
		Msg("Entry recorded")
}

// RecordExit appends an exit record and updates per-source performance.
func (j *Journal) RecordExit(ctx context.Context, exit Entry) {
	exit.Type = TypeExit
	if exit.Timestamp.IsZero() {
		exit.Timestamp = time.Now()
	}
	j.append(ctx, exit)

	if exit.RealizedPnl != nil {
		j.updateSourcePerformance(exit.PositionID, *exit.RealizedPnl)
	}

	j.logger.Info().
		Str("asset", exit.Asset).
		Str("close_reason", exit.CloseReason).
		Float64("price", exit.Price).
		Msg("Exit recorded")
}

func (j *Journal) append(ctx context.Context, entry Entry) {
	j.mu.Lock()
	j.entries = append(j.entries, entry)
	if len(j.entries) > maxEntries {
		j.entries = j.entries[len(j.entries)-maxEntries:]
	}
	j.mu.Unlock()

	if j.repo != nil {
		// Persistence stays off the decision path.
		e := entry
		go func() {
			if err := j.repo.InsertEntry(context.WithoutCancel(ctx), &e); err != nil {
				j.logger.Error().Err(err).Str("position_id", e.PositionID).Msg("Failed to persist journal entry")
			}
		}()
	}
}

// updateSourcePerformance attributes a resolved trade to the sources
// that contributed to its entry.
func (j *Journal) updateSourcePerformance(positionID string, realizedPnl float64) {
	entry := j.EntryFor(positionID)
	if entry == nil {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	isWin := realizedPnl > 0
	seen := make(map[string]bool)
	for _, detail := range entry.SignalDetails {
		if detail.Source == "" || seen[detail.Source] {
			continue
		}
		seen[detail.Source] = true

		stats, ok := j.sourceStats[detail.Source]
		if !ok {
			stats = &SourceStats{}
			j.sourceStats[detail.Source] = stats
		}
		if isWin {
			stats.Wins++
		} else {
			stats.Losses++
		}
		stats.TotalPnl += realizedPnl
		total := stats.Wins + stats.Losses
		stats.AvgPnlPerTrade = stats.TotalPnl / float64(total)
	}
}

// EntryFor finds the entry record for a position.
func (j *Journal) EntryFor(positionID string) *Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()
	for i := range j.entries {
		if j.entries[i].PositionID == positionID && j.entries[i].Type == TypeEntry {
			return &j.entries[i]
		}
	}
	return nil
}

// ExitFor finds the exit record for a position.
func (j *Journal) ExitFor(positionID string) *Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()
	for i := range j.entries {
		if j.entries[i].PositionID == positionID && j.entries[i].Type == TypeExit {
			return &j.entries[i]
		}
	}
	return nil
}

// RecentEntries returns the most recent count records.
func (j *Journal) RecentEntries(count int) []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if count <= 0 || count > len(j.entries) {
		count = len(j.entries)
	}
	out := make([]Entry, count)
	copy(out, j.entries[len(j.entries)-count:])
	return out
}

// AllEntries returns a copy of every retained record.
func (j *Journal) AllEntries() []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]Entry, len(j.entries))
	copy(out, j.entries)
	return out
}

// GetStats summarizes all closed trades.
func (j *Journal) GetStats() Stats {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return statsOf(j.entries, "")
}

// StatsByAsset summarizes closed trades for one asset.
func (j *Journal) StatsByAsset(asset string) Stats {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return statsOf(j.entries, asset)
}

func statsOf(entries []Entry, asset string) Stats {
	var (
		exits       []Entry
		totalPnl    float64
		totalWins   float64
		totalLosses float64
		wins        int
		duration    time.Duration
	)
	for _, e := range entries {
		if e.Type != TypeExit || e.RealizedPnl == nil {
			continue
		}
		if asset != "" && e.Asset != asset {
			continue
		}
		exits = append(exits, e)
		pnl := *e.RealizedPnl
		totalPnl += pnl
		duration += e.Duration
		if pnl > 0 {
			wins++
			totalWins += pnl
		} else {
			totalLosses += -pnl
		}
	}

	if len(exits) == 0 {
		return Stats{}
	}

	losses := len(exits) - wins
	s := Stats{
		TotalTrades:    len(exits),
		WinCount:       wins,
		LossCount:      losses,
		WinRate:        float64(wins) / float64(len(exits)) * 100,
		TotalPnl:       totalPnl,
		AvgPnlPerTrade: totalPnl / float64(len(exits)),
		AvgDuration:    duration / time.Duration(len(exits)),
	}
	if wins > 0 {
		s.AvgWin = totalWins / float64(wins)
	}
	if losses > 0 {
		s.AvgLoss = totalLosses / float64(losses)
	}
	if totalLosses > 0 {
		s.ProfitFactor = totalWins / totalLosses
	} else if totalWins > 0 {
		s.ProfitFactor = totalWins // No losses yet; treat as raw wins
	}
	return s
}

// SourceWeightMultiplier returns a weight multiplier for a signal source
// based on its historical win rate:
//
//	>= 60% win rate and 5+ trades: 1.2
//	>= 50%: 1.1
//	<  30%: 0.8
//	<  40%: 0.9
//	otherwise (or insufficient data): 1.0
func (j *Journal) SourceWeightMultiplier(source string) float64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	stats, ok := j.sourceStats[source]
	if !ok {
		return 1.0
	}
	total := stats.Wins + stats.Losses
	if total < minTradesForWeight {
		return 1.0
	}

	winRate := float64(stats.Wins) / float64(total) * 100
	switch {
	case winRate >= 60:
		return 1.2
	case winRate >= 50:
		return 1.1
	case winRate < 30:
		return 0.8
	case winRate < 40:
		return 0.9
	}
	return 1.0
}

// SourcePerformance returns a copy of the per-source stats.
func (j *Journal) SourcePerformance() map[string]SourceStats {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make(map[string]SourceStats, len(j.sourceStats))
	for source, stats := range j.sourceStats {
		out[source] = *stats
	}
	return out
}

// HasReliableData reports whether a source has enough resolved trades
// for its win rate to be meaningful.
func (j *Journal) HasReliableData(source string) bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	stats, ok := j.sourceStats[source]
	return ok && stats.Wins+stats.Losses >= minTradesForWeight
}

// EntriesForPersistence returns the retained entries for snapshots.
func (j *Journal) EntriesForPersistence() []Entry {
	return j.AllEntries()
}

// SourceStatsForPersistence returns the per-source stats for snapshots.
func (j *Journal) SourceStatsForPersistence() map[string]SourceStats {
	return j.SourcePerformance()
}

// RestoreEntries replaces the in-memory entries from a snapshot.
func (j *Journal) RestoreEntries(entries []Entry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = entries
	if len(j.entries) > maxEntries {
		j.entries = j.entries[len(j.entries)-maxEntries:]
	}
	j.logger.Info().Int("count", len(entries)).Msg("Journal entries restored")
}

// RestoreSourceStats replaces the per-source stats from a snapshot.
func (j *Journal) RestoreSourceStats(stats map[string]SourceStats) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.sourceStats = make(map[string]*SourceStats, len(stats))
	for source, s := range stats {
		copied := s
		j.sourceStats[source] = &copied
	}
	j.logger.Info().Int("sources", len(stats)).Msg("Source performance restored")
}

// Clear drops all journal state.
func (j *Journal) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = nil
	j.sourceStats = make(map[string]*SourceStats)
}
