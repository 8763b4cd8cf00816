// Package inbox caches per-user unread notification counts in Redis.
//
// Postgres stays the source of truth. A missing key means "unknown": readers
// recount from the database and seed the key, and writers never create it.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrIfPresent bumps a counter only when it is already cached.
var incrIfPresent = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return redis.call('INCRBY', KEYS[1], ARGV[1])
end
return -1
`)

type RedisCounter struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisCounter(redisURL string, ttl time.Duration) (*RedisCounter, error) {
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
	return NewRedisCounterWithClient(client, ttl), nil
}

func NewRedisCounterWithClient(client *redis.Client, ttl time.Duration) *RedisCounter {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisCounter{client: client, prefix: "unread:", ttl: ttl}
}

func (c *RedisCounter) key(userID string) string {
	return c.prefix + userID
}

// Incr adds n to a cached count. Uncached users are left alone.
func (c *RedisCounter) Incr(ctx context.Context, userID string, n int64) error {
	if err := incrIfPresent.Run(ctx, c.client, []string{c.key(userID)}, n).Err(); err != nil {
		return fmt.Errorf("incr unread: %w", err)
	}
	return nil
}

// Get returns the cached count; ok is false when nothing is cached.
func (c *RedisCounter) Get(ctx context.Context, userID string) (count int, ok bool, err error) {
	raw, err := c.client.Get(ctx, c.key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get unread: %w", err)
	}
	count, err = strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("parse unread %q: %w", raw, err)
	}
	return count, true, nil
}

func (c *RedisCounter) Set(ctx context.Context, userID string, count int) error {
	if err := c.client.Set(ctx, c.key(userID), count, c.ttl).Err(); err != nil {
		return fmt.Errorf("set unread: %w", err)
	}
	return nil
}

func (c *RedisCounter) Reset(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, c.key(userID)).Err(); err != nil {
		return fmt.Errorf("reset unread: %w", err)
	}
	return nil
}

func (c *RedisCounter) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCounter) Close() error {
	return c.client.Close()
}
