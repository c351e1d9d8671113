// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resume

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	xglog "github.com/ManuGH/xg2g-player/internal/log"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultRedisTTL bounds how long an untouched position survives.
const DefaultRedisTTL = 90 * 24 * time.Hour

// RedisOptions holds Redis connection configuration.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// RedisStore implements Store on a shared Redis so several players of one
// principal see the same positions.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedisStore connects and pings Redis.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("resume store: redis backend needs an address")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     4,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger := xglog.WithComponent("resume")
	logger.Info().Str("addr", opts.Addr).Int("db", opts.DB).Msg("connected to Redis resume store")
	return newRedisStore(client, opts.TTL, logger), nil
}

func newRedisStore(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &RedisStore{client: client, ttl: ttl, logger: logger}
}

func redisKey(principalID, recordingID string) string {
	return redisKeyspace + principalID + ":" + recordingID
}

func (s *RedisStore) Put(ctx context.Context, principalID, recordingID string, state *State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("resume store: marshal: %w", err)
	}
	return s.client.Set(ctx, redisKey(principalID, recordingID), data, s.ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, principalID, recordingID string) (*State, error) {
	data, err := s.client.Get(ctx, redisKey(principalID, recordingID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		s.logger.Warn().Err(err).Str(xglog.FieldRecordingID, recordingID).Msg("discarding undecodable resume state")
		return nil, nil
	}
	return &state, nil
}

func (s *RedisStore) Delete(ctx context.Context, principalID, recordingID string) error {
	return s.client.Del(ctx, redisKey(principalID, recordingID)).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
