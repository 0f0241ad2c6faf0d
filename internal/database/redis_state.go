package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"paper-trading-engine/internal/autopilot"
)

const (
	// engineStateKey holds the single serialized engine snapshot
	engineStateKey = "paper-engine:state"

	// engineStateTTL bounds how long a stale snapshot survives; the
	// engine separately rejects snapshots older than its configured max
	engineStateTTL = 7 * 24 * time.Hour

	redisOpTimeout = 3 * time.Second
)

// RedisStateStore implements autopilot.StateStore on Redis. When Redis
// is unavailable it falls back to an in-memory copy so the engine keeps
// running and persistence resumes once Redis comes back.
type RedisStateStore struct {
	client         *redis.Client
	logger         zerolog.Logger
	redisAvailable atomic.Bool

	mu       sync.RWMutex
	fallback []byte
}

// NewRedisStateStore creates the store. A nil client means memory-only
// mode: snapshots survive within the process but not across restarts.
func NewRedisStateStore(client *redis.Client, logger zerolog.Logger) *RedisStateStore {
	s := &RedisStateStore{
		client: client,
		logger: logger.With().Str("component", "RedisStateStore").Logger(),
	}

	if client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			s.logger.Warn().Err(err).Msg("Redis unavailable at startup, using in-memory fallback")
		} else {
			s.logger.Info().Msg("Redis connected")
			s.redisAvailable.Store(true)
		}
	} else {
		s.logger.Info().Msg("No Redis client configured, snapshots are in-memory only")
	}
	return s
}

// SaveEngineState serializes and stores the snapshot. The in-memory
// copy is always updated first so a Redis outage never loses the
// latest state for the lifetime of the process.
func (s *RedisStateStore) SaveEngineState(ctx context.Context, state autopilot.EngineState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal engine state: %w", err)
	}

	s.mu.Lock()
	s.fallback = data
	s.mu.Unlock()

	if s.client == nil {
		return nil
	}

	opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	if err := s.client.Set(opCtx, engineStateKey, data, engineStateTTL).Err(); err != nil {
		if s.redisAvailable.Swap(false) {
			s.logger.Warn().Err(err).Msg("Redis write failed, falling back to in-memory snapshots")
		}
		return nil
	}
	if !s.redisAvailable.Swap(true) {
		s.logger.Info().Msg("Redis recovered, snapshots persisted again")
	}
	return nil
}

// LoadEngineState returns the last snapshot, or nil when none exists.
func (s *RedisStateStore) LoadEngineState(ctx context.Context) (*autopilot.EngineState, error) {
	var data []byte

	if s.client != nil {
		opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
		defer cancel()
		raw, err := s.client.Get(opCtx, engineStateKey).Bytes()
		switch {
		case err == nil:
			data = raw
			s.redisAvailable.Store(true)
		case errors.Is(err, redis.Nil):
			// No snapshot yet
		default:
			s.logger.Warn().Err(err).Msg("Redis read failed, trying in-memory fallback")
			s.redisAvailable.Store(false)
		}
	}

	if data == nil {
		s.mu.RLock()
		data = s.fallback
		s.mu.RUnlock()
	}
	if data == nil {
		return nil, nil
	}

	var state autopilot.EngineState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal engine state: %w", err)
	}
	return &state, nil
}

// NewRedisClient builds a go-redis client from address and credentials.
func NewRedisClient(address, password string, db, poolSize int) *redis.Client {
	opts := &redis.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	}
	if poolSize > 0 {
		opts.PoolSize = poolSize
	}
	return redis.NewClient(opts)
}
