package cache

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type RedisDescriptionCache struct {
	client *redis.Client
}

func NewRedisDescriptionCache(addr string, password string, db int) *RedisDescriptionCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisDescriptionCache{client: client}
}

func (c *RedisDescriptionCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisDescriptionCache) Close() error {
	return c.client.Close()
}

func (c *RedisDescriptionCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (c *RedisDescriptionCache) Set(ctx context.Context, key string, description string, ttl time.Duration) error {
	if description == "" {
		return nil
	}
	return c.client.Set(ctx, key, description, ttl).Err()
}
