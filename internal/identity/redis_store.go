package identity

import (
	"context"
	"fmt"
	"time"

	redisclient "github.com/angelmondragon/packfinderz-storefront/pkg/redis"
)

type redisKV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdentityKey(profile, name string) string
}

// RedisStore keeps a named profile in Redis so several processes rendering for
// the same shopper share one identity.
type RedisStore struct {
	client  redisKV
	profile string
}

func NewRedisStore(client redisKV, profile string) *RedisStore {
	return &RedisStore{client: client, profile: profile}
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.client.IdentityKey(r.profile, key))
	if err != nil {
		if redisclient.IsNil(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.client.IdentityKey(r.profile, key), value, 0); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.client.IdentityKey(r.profile, key)); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) SetIfAbsent(ctx context.Context, key, value string) (string, error) {
	fullKey := r.client.IdentityKey(r.profile, key)
	ok, err := r.client.SetNX(ctx, fullKey, value, 0)
	if err != nil {
		return "", fmt.Errorf("redis setnx %s: %w", key, err)
	}
	if ok {
		return value, nil
	}
	existing, err := r.client.Get(ctx, fullKey)
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return existing, nil
}
