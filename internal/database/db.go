// Package database provides the Postgres-backed trade journal store and
// the Redis-backed engine state snapshots, both optional at runtime.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewDB creates a new database connection from a postgres:// URL
func NewDB(url string, logger zerolog.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log := logger.With().Str("component", "Database").Logger()
	log.Info().Msg("Connected to PostgreSQL")

	return &DB{Pool: pool, logger: log}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info().Msg("Database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info().Msg("Running database migrations")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS journal_entries (
			id BIGSERIAL PRIMARY KEY,
			position_id VARCHAR(40) NOT NULL,
			entry_type VARCHAR(10) NOT NULL,
			asset VARCHAR(20) NOT NULL,
			direction VARCHAR(10) NOT NULL,
			price DECIMAL(20, 8) NOT NULL,
			size_usd DECIMAL(20, 8) NOT NULL,
			leverage DECIMAL(10, 4) NOT NULL,
			strategy_name VARCHAR(100),
			signal_details JSONB,
			market_context JSONB,
			stop_loss DECIMAL(20, 8),
			take_profits JSONB,
			realized_pnl DECIMAL(20, 8),
			close_reason VARCHAR(30),
			duration_seconds BIGINT,
			timestamp TIMESTAMP NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_journal_entries_position ON journal_entries(position_id)`,
		`CREATE INDEX IF NOT EXISTS idx_journal_entries_asset ON journal_entries(asset)`,
		`CREATE INDEX IF NOT EXISTS idx_journal_entries_timestamp ON journal_entries(timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_journal_entries_type ON journal_entries(entry_type)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.logger.Info().Msg("Database migrations completed")
	return nil
}

// HealthCheck performs a database health check
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
