// Vigil - Real-Time Authentication and Traffic Risk Engine
// Copyright 2026 J. McRae (jmcrae)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmcrae/vigil

package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/jmcrae/vigil/internal/identity"
)

// RedisStore keeps state in Redis so multiple vigild instances share one
// view of each identity. Events live in per-identity sorted sets scored by
// timestamp; retention is enforced by trimming on write plus key expiry.
type RedisStore struct {
	client   *redis.Client
	eventTTL time.Duration
}

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	EventTTL time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}
	return &RedisStore{client: client, eventTTL: opts.EventTTL}, nil
}

func redisEventsKey(id identity.Identity) string {
	return "vigil:events:" + string(id)
}

func redisDevicesKey(id identity.Identity) string {
	return "vigil:devices:" + string(id)
}

func redisFlagKey(key string) string {
	return "vigil:flag:" + key
}

// AppendEvent adds the event to the identity's sorted set, trims entries
// older than the retention window, and refreshes the key TTL.
func (s *RedisStore) AppendEvent(ctx context.Context, ev StoredEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	key := redisEventsKey(ev.Identity)
	cutoff := time.Now().Add(-s.eventTTL).UnixNano()

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(ev.Timestamp.UnixNano()), Member: data})
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
	pipe.Expire(ctx, key, s.eventTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// QueryEvents returns the identity's events at or after since, oldest first.
func (s *RedisStore) QueryEvents(ctx context.Context, id identity.Identity, since time.Time) ([]StoredEvent, error) {
	members, err := s.client.ZRangeByScore(ctx, redisEventsKey(id), &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixNano(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}

	out := make([]StoredEvent, 0, len(members))
	for _, m := range members {
		var ev StoredEvent
		if err := json.Unmarshal([]byte(m), &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// RegisterDevice adds the fingerprint to the identity's device set. SADD
// reports how many members were new, which answers known-or-not atomically.
func (s *RedisStore) RegisterDevice(ctx context.Context, id identity.Identity, fingerprint string) (bool, error) {
	added, err := s.client.SAdd(ctx, redisDevicesKey(id), fingerprint).Result()
	if err != nil {
		return false, fmt.Errorf("register device: %w", err)
	}
	return added == 0, nil
}

// SetFlag writes the flag with expiry.
func (s *RedisStore) SetFlag(ctx context.Context, key, reason string, ttl time.Duration) error {
	if err := s.client.Set(ctx, redisFlagKey(key), reason, ttl).Err(); err != nil {
		return fmt.Errorf("set flag: %w", err)
	}
	return nil
}

// GetFlag reads the flag if present.
func (s *RedisStore) GetFlag(ctx context.Context, key string) (string, bool, error) {
	reason, err := s.client.Get(ctx, redisFlagKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get flag: %w", err)
	}
	return reason, true, nil
}

// Close releases the client connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
