package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"paper-trading-engine/internal/journal"
)

// JournalRepository persists trade journal entries to Postgres. It
// implements journal.Repository.
type JournalRepository struct {
	db *DB
}

// NewJournalRepository creates a JournalRepository on the given pool.
func NewJournalRepository(db *DB) *JournalRepository {
	return &JournalRepository{db: db}
}

// InsertEntry appends one journal entry.
func (r *JournalRepository) InsertEntry(ctx context.Context, entry *journal.Entry) error {
	details, err := json.Marshal(entry.SignalDetails)
	if err != nil {
		return fmt.Errorf("marshal signal details: %w", err)
	}
	mktCtx, err := json.Marshal(entry.MarketContext)
	if err != nil {
		return fmt.Errorf("marshal market context: %w", err)
	}
	takeProfits, err := json.Marshal(entry.TakeProfits)
	if err != nil {
		return fmt.Errorf("marshal take profits: %w", err)
	}

	query := `
		INSERT INTO journal_entries (
			position_id, entry_type, asset, direction, price, size_usd,
			leverage, strategy_name, signal_details, market_context,
			stop_loss, take_profits, realized_pnl, close_reason,
			duration_seconds, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err = r.db.Pool.Exec(ctx, query,
		entry.PositionID, string(entry.Type), entry.Asset, entry.Direction,
		entry.Price, entry.SizeUSD, entry.Leverage, entry.StrategyName,
		details, mktCtx, entry.StopLoss, takeProfits, entry.RealizedPnl,
		entry.CloseReason, int64(entry.Duration.Seconds()), entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// LoadRecent returns the most recent entries in chronological order.
func (r *JournalRepository) LoadRecent(ctx context.Context, limit int) ([]journal.Entry, error) {
	query := `
		SELECT position_id, entry_type, asset, direction, price, size_usd,
		       leverage, strategy_name, signal_details, market_context,
		       stop_loss, take_profits, realized_pnl, close_reason,
		       duration_seconds, timestamp
		FROM journal_entries
		ORDER BY timestamp DESC
		LIMIT $1`

	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("load journal entries: %w", err)
	}
	defer rows.Close()

	var entries []journal.Entry
	for rows.Next() {
		var (
			e               journal.Entry
			entryType       string
			details, mktCtx []byte
			takeProfits     []byte
			durationSecs    int64
		)
		if err := rows.Scan(
			&e.PositionID, &entryType, &e.Asset, &e.Direction, &e.Price,
			&e.SizeUSD, &e.Leverage, &e.StrategyName, &details, &mktCtx,
			&e.StopLoss, &takeProfits, &e.RealizedPnl, &e.CloseReason,
			&durationSecs, &e.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		e.Type = journal.EntryType(entryType)
		e.Duration = time.Duration(durationSecs) * time.Second
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.SignalDetails); err != nil {
				return nil, fmt.Errorf("unmarshal signal details: %w", err)
			}
		}
		if len(mktCtx) > 0 {
			if err := json.Unmarshal(mktCtx, &e.MarketContext); err != nil {
				return nil, fmt.Errorf("unmarshal market context: %w", err)
			}
		}
		if len(takeProfits) > 0 {
			if err := json.Unmarshal(takeProfits, &e.TakeProfits); err != nil {
				return nil, fmt.Errorf("unmarshal take profits: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// DESC query, oldest first for the caller
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}
