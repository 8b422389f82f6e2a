package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const defaultHandoffKey = "wallet_layer:handoff"

// RedisHandoffStore persists the pending handoff in Redis so it survives
// process restarts. The record carries its own TTL and Redis expires the
// key on the same schedule, so a crashed purge job cannot leave stale
// records behind.
type RedisHandoffStore struct {
	client redis.UniversalClient
	key    string
}

// NewRedisHandoffStore wraps an existing Redis client. An empty key
// selects the default.
func NewRedisHandoffStore(client redis.UniversalClient, key string) *RedisHandoffStore {
	if key == "" {
		key = defaultHandoffKey
	}
	return &RedisHandoffStore{client: client, key: key}
}

func (s *RedisHandoffStore) Save(ctx context.Context, h Handoff) error {
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("marshal handoff: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, h.TTL).Err(); err != nil {
		return fmt.Errorf("save handoff: %w", err)
	}
	return nil
}

func (s *RedisHandoffStore) Load(ctx context.Context) (Handoff, bool, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Handoff{}, false, nil
	}
	if err != nil {
		return Handoff{}, false, fmt.Errorf("load handoff: %w", err)
	}

	var h Handoff
	if err := json.Unmarshal(data, &h); err != nil {
		return Handoff{}, false, fmt.Errorf("decode handoff: %w", err)
	}
	return h, true, nil
}

func (s *RedisHandoffStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("clear handoff: %w", err)
	}
	return nil
}
