package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opine-ai/opine/internal/artifact"
)

const (
	redisKeyPrefix = "opine:sess:"
	// busyTTL bounds how long a crashed instance can wedge a session.
	busyTTL = 10 * time.Minute
)

// RedisStore keeps session state in Redis so several instances can serve
// the same session population. The busy flag doubles as a distributed
// single-writer lock.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func turnsKey(id string) string     { return redisKeyPrefix + id + ":turns" }
func artifactsKey(id string) string { return redisKeyPrefix + id + ":artifacts" }
func busyKey(id string) string      { return redisKeyPrefix + id + ":busy" }
func lastKey(id string) string      { return redisKeyPrefix + id + ":last" }

func (s *RedisStore) touch(ctx context.Context, sessionID string) {
	_ = s.rdb.Set(ctx, lastKey(sessionID), strconv.FormatInt(time.Now().Unix(), 10), 0).Err()
}

func (s *RedisStore) Begin(ctx context.Context, sessionID string) (func(), error) {
	ok, err := s.rdb.SetNX(ctx, busyKey(sessionID), "1", busyTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("session: acquiring writer lock: %w", err)
	}
	if !ok {
		return nil, ErrSessionBusy
	}
	s.touch(ctx, sessionID)
	release := func() {
		// Release must survive a cancelled request context.
		_ = s.rdb.Del(context.Background(), busyKey(sessionID)).Err()
	}
	return release, nil
}

func (s *RedisStore) Append(ctx context.Context, sessionID string, turn Turn) error {
	payload, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("session: marshalling turn: %w", err)
	}
	if err := s.rdb.RPush(ctx, turnsKey(sessionID), payload).Err(); err != nil {
		return fmt.Errorf("session: appending turn: %w", err)
	}
	s.touch(ctx, sessionID)
	return nil
}

func (s *RedisStore) History(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raw, err := s.rdb.LRange(ctx, turnsKey(sessionID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("session: reading history: %w", err)
	}
	out := make([]Turn, 0, len(raw))
	for _, item := range raw {
		var turn Turn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			return nil, fmt.Errorf("session: decoding turn: %w", err)
		}
		out = append(out, turn)
	}
	return out, nil
}

func (s *RedisStore) RecordArtifact(ctx context.Context, sessionID string, rec artifact.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("session: marshalling artifact: %w", err)
	}
	if err := s.rdb.RPush(ctx, artifactsKey(sessionID), payload).Err(); err != nil {
		return fmt.Errorf("session: recording artifact: %w", err)
	}
	s.touch(ctx, sessionID)
	return nil
}

func (s *RedisStore) Artifacts(ctx context.Context, sessionID string) ([]artifact.Record, error) {
	raw, err := s.rdb.LRange(ctx, artifactsKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("session: reading artifacts: %w", err)
	}
	out := make([]artifact.Record, 0, len(raw))
	for _, item := range raw {
		var rec artifact.Record
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("session: decoding artifact: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *RedisStore) PruneIdle(ctx context.Context, cutoff time.Time) (int, error) {
	removed := 0
	iter := s.rdb.Scan(ctx, 0, redisKeyPrefix+"*:last", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		val, err := s.rdb.Get(ctx, key).Result()
		if err != nil {
			continue
		}
		ts, err := strconv.ParseInt(val, 10, 64)
		if err != nil || !time.Unix(ts, 0).Before(cutoff) {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(key, redisKeyPrefix), ":last")
		if busy, _ := s.rdb.Exists(ctx, busyKey(id)).Result(); busy > 0 {
			continue
		}
		if err := s.rdb.Del(ctx, turnsKey(id), artifactsKey(id), lastKey(id)).Err(); err != nil {
			return removed, fmt.Errorf("session: pruning %s: %w", id, err)
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("session: scanning for idle sessions: %w", err)
	}
	return removed, nil
}
