package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/example/fulfillment-saga/internal/domain/message"
)

// RedisCache stores replicas in Redis under replica:{sellerID}-{productID}.
// No TTL: the product actor is the source of truth and overwrites on every
// update.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// NewRedisClient builds a client for the given address.
func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

func (c *RedisCache) Get(ctx context.Context, key string) (message.ProductReplica, bool, error) {
	data, err := c.client.Get(ctx, replicaKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return message.ProductReplica{}, false, nil
	}
	if err != nil {
		return message.ProductReplica{}, false, fmt.Errorf("redis get failed: %w", err)
	}

	var replica message.ProductReplica
	if err := json.Unmarshal(data, &replica); err != nil {
		return message.ProductReplica{}, false, fmt.Errorf("unmarshal replica failed: %w", err)
	}
	return replica, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, replica message.ProductReplica) error {
	data, err := json.Marshal(replica)
	if err != nil {
		return fmt.Errorf("marshal replica failed: %w", err)
	}
	if err := c.client.Set(ctx, replicaKey(key), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (c *RedisCache) Cleanup(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, replicaKey("*"), 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("redis delete failed: %w", err)
		}
	}
	return iter.Err()
}

func replicaKey(key string) string {
	return fmt.Sprintf("replica:%s", key)
}
