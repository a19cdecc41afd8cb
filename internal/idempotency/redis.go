package idempotency

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

//go:embed lua/reserve.lua
var luaReserve string

// RedisStore keeps records as JSON strings with a PX expiry, so expired keys
// disappear without a cleanup job.
type RedisStore struct {
	rdb        redis.UniversalClient
	scrReserve *redis.Script
}

func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	s := &RedisStore{
		rdb:        rdb,
		scrReserve: redis.NewScript(luaReserve),
	}

	// Preload the script SHA. Run falls back to EVAL if this fails.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.scrReserve.Load(ctx, rdb).Err()
	}()

	return s
}

func keyRecord(scope, key string) string {
	return fmt.Sprintf("idem:{%s}:%s", scope, key)
}

func ttlMillis(expiresAt time.Time) int64 {
	ms := time.Until(expiresAt).Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return ms
}

func (s *RedisStore) Reserve(ctx context.Context, scope, key string, expiresAt time.Time) (*Record, bool, error) {
	placeholder, err := json.Marshal(Record{Scope: scope, Key: key, State: StateInProgress, ExpiresAt: expiresAt})
	if err != nil {
		return nil, false, err
	}

	raw, err := s.scrReserve.Run(ctx, s.rdb, []string{keyRecord(scope, key)}, string(placeholder), ttlMillis(expiresAt)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	arr, ok := raw.([]interface{})
	if !ok || len(arr) != 2 {
		return nil, false, fmt.Errorf("reserve idempotency key: unexpected reply %v", raw)
	}
	if code, _ := arr[0].(int64); code == 1 {
		return nil, true, nil
	}

	existing, _ := arr[1].(string)
	var rec Record
	if err := json.Unmarshal([]byte(existing), &rec); err != nil {
		return nil, false, fmt.Errorf("decode idempotency record: %w", err)
	}
	return &rec, false, nil
}

func (s *RedisStore) Complete(ctx context.Context, scope, key string, resp Response, expiresAt time.Time) error {
	payload, err := json.Marshal(Record{
		Scope:       scope,
		Key:         key,
		State:       StateCompleted,
		StatusCode:  resp.StatusCode,
		ContentType: resp.ContentType,
		Body:        resp.Body,
		ExpiresAt:   expiresAt,
	})
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, keyRecord(scope, key), payload, time.Duration(ttlMillis(expiresAt))*time.Millisecond).Err()
}

func (s *RedisStore) Release(ctx context.Context, scope, key string) error {
	return s.rdb.Del(ctx, keyRecord(scope, key)).Err()
}
