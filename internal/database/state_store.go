package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"sniper-trading-bot/internal/confirmation"
	"sniper-trading-bot/internal/positions"
)

// Redis keys for hot pipeline state
const (
	SetupsKey    = "sniper:setups"
	PositionsKey = "sniper:positions"
	StateTTL     = 24 * time.Hour
)

// StateStore snapshots armed setups and open positions to Redis so a restart
// resumes mid-session. When Redis is unavailable it falls back to an in-memory
// cache so trading continues.
type StateStore struct {
	client         *redis.Client
	redisAvailable atomic.Bool
	logger         zerolog.Logger

	mu            sync.RWMutex
	setups        []confirmation.ArmedSetup
	openPositions map[string]positions.Position
}

// NewStateStore creates a state store. A nil client means memory-only mode.
func NewStateStore(ctx context.Context, client *redis.Client, logger zerolog.Logger) *StateStore {
	s := &StateStore{
		client:        client,
		logger:        logger.With().Str("component", "state_store").Logger(),
		openPositions: make(map[string]positions.Position),
	}
	if client == nil {
		s.logger.Info().Msg("No Redis client provided, using in-memory state only")
		return s
	}
	if err := s.CheckConnection(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Redis unavailable at startup, using in-memory state")
	}
	return s
}

func (s *StateStore) useRedis() bool {
	return s.client != nil && s.redisAvailable.Load()
}

func (s *StateStore) markDown(err error, op string) {
	if s.redisAvailable.Swap(false) {
		s.logger.Warn().Err(err).Str("op", op).Msg("Redis error, falling back to in-memory state")
	}
}

// SaveSetups replaces the armed setup snapshot
func (s *StateStore) SaveSetups(ctx context.Context, setups []confirmation.ArmedSetup) error {
	data, err := json.Marshal(setups)
	if err != nil {
		return fmt.Errorf("marshal setups: %w", err)
	}

	s.mu.Lock()
	s.setups = append([]confirmation.ArmedSetup(nil), setups...)
	s.mu.Unlock()

	if s.useRedis() {
		if err := s.client.Set(ctx, SetupsKey, data, StateTTL).Err(); err != nil {
			s.markDown(err, "save_setups")
		}
	}
	return nil
}

// LoadSetups returns the last armed setup snapshot
func (s *StateStore) LoadSetups(ctx context.Context) ([]confirmation.ArmedSetup, error) {
	if s.useRedis() {
		data, err := s.client.Get(ctx, SetupsKey).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			return nil, nil
		case err != nil:
			s.markDown(err, "load_setups")
		default:
			var setups []confirmation.ArmedSetup
			if err := json.Unmarshal(data, &setups); err != nil {
				return nil, fmt.Errorf("unmarshal setups: %w", err)
			}
			return setups, nil
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]confirmation.ArmedSetup(nil), s.setups...), nil
}

// SavePosition stores an open position and forgets a closed one
func (s *StateStore) SavePosition(ctx context.Context, p positions.Position) error {
	closed := p.Status == positions.StatusClosed

	s.mu.Lock()
	if closed {
		delete(s.openPositions, p.ID)
	} else {
		s.openPositions[p.ID] = p
	}
	s.mu.Unlock()

	if !s.useRedis() {
		return nil
	}

	if closed {
		if err := s.client.HDel(ctx, PositionsKey, p.ID).Err(); err != nil {
			s.markDown(err, "delete_position")
		}
		return nil
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal position %s: %w", p.ID, err)
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, PositionsKey, p.ID, data)
	pipe.Expire(ctx, PositionsKey, StateTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		s.markDown(err, "save_position")
	}
	return nil
}

// LoadOpenPositions returns every stored open position ordered by open time
func (s *StateStore) LoadOpenPositions(ctx context.Context) ([]positions.Position, error) {
	var out []positions.Position

	if s.useRedis() {
		raw, err := s.client.HGetAll(ctx, PositionsKey).Result()
		if err == nil {
			for id, data := range raw {
				var p positions.Position
				if err := json.Unmarshal([]byte(data), &p); err != nil {
					s.logger.Warn().Err(err).Str("position_id", id).Msg("Skipping unreadable position snapshot")
					continue
				}
				out = append(out, p)
			}
			sortByOpen(out)
			return out, nil
		}
		s.markDown(err, "load_positions")
	}

	s.mu.RLock()
	for _, p := range s.openPositions {
		out = append(out, p)
	}
	s.mu.RUnlock()
	sortByOpen(out)
	return out, nil
}

func sortByOpen(ps []positions.Position) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].OpenedAt.Before(ps[j].OpenedAt) })
}

// CheckConnection pings Redis and updates availability
func (s *StateStore) CheckConnection(ctx context.Context) error {
	if s.client == nil {
		return fmt.Errorf("no Redis client configured")
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.redisAvailable.Store(false)
		return fmt.Errorf("redis ping failed: %w", err)
	}
	if !s.redisAvailable.Swap(true) {
		s.logger.Info().Msg("Redis connection available")
	}
	return nil
}

// IsRedisAvailable reports whether writes currently reach Redis
func (s *StateStore) IsRedisAvailable() bool {
	return s.redisAvailable.Load()
}
