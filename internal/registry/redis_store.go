package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed attachment store.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		client: client,
		prefix: "presence:conn:",
		ttl:    ttl,
	}
}

func (r *RedisStore) key(connID string) string {
	return r.prefix + connID
}

func (r *RedisStore) Put(ctx context.Context, att Attachment) error {
	if att.ConnID == "" || att.UserID == "" {
		return fmt.Errorf("registry: missing conn_id or user_id")
	}

	data, err := json.Marshal(att)
	if err != nil {
		return fmt.Errorf("registry: failed to marshal: %w", err)
	}

	return r.client.Set(ctx, r.key(att.ConnID), data, r.ttl).Err()
}

func (r *RedisStore) Get(ctx context.Context, connID string) (*Attachment, error) {
	val, err := r.client.Get(ctx, r.key(connID)).Result()
	if err == redis.Nil {
		return nil, nil // not found
	}
	if err != nil {
		return nil, err
	}

	var att Attachment
	if err := json.Unmarshal([]byte(val), &att); err != nil {
		return nil, fmt.Errorf("registry: failed to unmarshal: %w", err)
	}

	return &att, nil
}

func (r *RedisStore) SetActive(ctx context.Context, connID string, active bool) error {
	att, err := r.Get(ctx, connID)
	if err != nil || att == nil {
		return err
	}
	att.IsActive = active
	return r.Put(ctx, *att)
}

// Touch extends the record's TTL; called on every heartbeat so records for
// live connections never expire underneath them.
func (r *RedisStore) Touch(ctx context.Context, connID string) error {
	return r.client.Expire(ctx, r.key(connID), r.ttl).Err()
}

func (r *RedisStore) Delete(ctx context.Context, connID string) error {
	return r.client.Del(ctx, r.key(connID)).Err()
}
