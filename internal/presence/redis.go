package presence

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keeps the roster in a Redis set so several servers can share one room.
type Redis struct {
	client *redis.Client
	key    string
}

// NewRedis connects to redisURL and stores names in the set at key.
func NewRedis(redisURL, key string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisWithClient(client, key), nil
}

// NewRedisWithClient creates a registry from an existing client.
func NewRedisWithClient(client *redis.Client, key string) *Redis {
	return &Redis{client: client, key: key}
}

// Claim implements Registry. SADD reports whether the member was new, which makes
// the check-and-set atomic on the Redis side.
func (r *Redis) Claim(ctx context.Context, name string) error {
	added, err := r.client.SAdd(ctx, r.key, name).Result()
	if err != nil {
		return fmt.Errorf("claim %q: %w", name, err)
	}
	if added == 0 {
		return ErrNameTaken
	}
	return nil
}

// Release implements Registry.
func (r *Redis) Release(ctx context.Context, name string) error {
	if err := r.client.SRem(ctx, r.key, name).Err(); err != nil {
		return fmt.Errorf("release %q: %w", name, err)
	}
	return nil
}

// Names implements Registry. The result is sorted.
func (r *Redis) Names(ctx context.Context) ([]string, error) {
	names, err := r.client.SMembers(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("list names: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Reset drops every claimed name. Servers call it at startup to clear names left
// behind by a crash.
func (r *Redis) Reset(ctx context.Context) error {
	return r.client.Del(ctx, r.key).Err()
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
