package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"attesta/pkg/platform/sentinel"
)

const recordKeyPrefix = "idem:key:"

// RedisStore is the shared-state ledger for multi-instance deployments. The
// atomic claim rides on SET NX, and expiry rides on the key TTL so no sweeper
// is needed server-side.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Create(ctx context.Context, record Record) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal idempotency record: %w", err)
	}
	ttl := time.Until(record.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("idempotency record already expired")
	}
	ok, err := s.client.SetNX(ctx, recordKeyPrefix+record.Key, payload, ttl).Result()
	if err != nil {
		return fmt.Errorf("claim idempotency key: %w", err)
	}
	if !ok {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	payload, err := s.client.Get(ctx, recordKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	var record Record
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("unmarshal idempotency record: %w", err)
	}
	return &record, nil
}

func (s *RedisStore) Update(ctx context.Context, record Record) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal idempotency record: %w", err)
	}
	// KeepTTL preserves the expiry set at claim time.
	if err := s.client.Set(ctx, recordKeyPrefix+record.Key, payload, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("update idempotency record: %w", err)
	}
	return nil
}

// DeleteExpired is a no-op for redis: the server expires keys itself.
func (s *RedisStore) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}
